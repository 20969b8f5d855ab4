package solana

import (
	"github.com/gagliardetto/solana-go"
)

// BlockhashContext is a recent blockhash plus the last block height at which
// a transaction built against it is still accepted by the network.
type BlockhashContext struct {
	Blockhash            solana.Hash
	LastValidBlockHeight uint64
}

// TokenAmount is a token-account balance in base units plus the mint's decimals.
type TokenAmount struct {
	Amount   uint64
	Decimals uint8
}

// Confirmation is the outcome of waiting for a transaction to land.
// If the transaction executed but the program rejected it, OnChainErr carries
// the raw error payload exactly as the RPC node reported it.
type Confirmation struct {
	Signature  solana.Signature
	Slot       uint64
	OnChainErr string
}
