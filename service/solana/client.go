package solana

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/brojonat/vaultflow/service/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// ErrAccountNotFound is returned by AccountData when the address has no
// account allocated on-chain.
var ErrAccountNotFound = errors.New("account not found")

// ErrConfirmationTimeout is returned by ConfirmTransaction when the bounded
// wait expires before the transaction reaches the requested commitment.
// The transaction may still land afterwards; callers must re-probe chain
// state before assuming failure.
var ErrConfirmationTimeout = errors.New("confirmation timed out")

// RPCClient is an interface for the Solana RPC operations we need.
// This allows us to mock the RPC layer in tests without hitting real Solana nodes.
type RPCClient interface {
	GetLatestBlockhash(
		ctx context.Context,
		commitment rpc.CommitmentType,
	) (*rpc.GetLatestBlockhashResult, error)

	GetMultipleAccountsWithOpts(
		ctx context.Context,
		accounts []solana.PublicKey,
		opts *rpc.GetMultipleAccountsOpts,
	) (*rpc.GetMultipleAccountsResult, error)

	GetAccountInfoWithOpts(
		ctx context.Context,
		account solana.PublicKey,
		opts *rpc.GetAccountInfoOpts,
	) (*rpc.GetAccountInfoResult, error)

	GetTokenAccountBalance(
		ctx context.Context,
		account solana.PublicKey,
		commitment rpc.CommitmentType,
	) (*rpc.GetTokenAccountBalanceResult, error)

	SendTransactionWithOpts(
		ctx context.Context,
		tx *solana.Transaction,
		opts rpc.TransactionOpts,
	) (solana.Signature, error)

	GetSignatureStatuses(
		ctx context.Context,
		searchTransactionHistory bool,
		sigs ...solana.Signature,
	) (*rpc.GetSignatureStatusesResult, error)
}

// Client provides the narrow chain-access surface the rest of the service
// consumes: account-existence probes, blockhash context, token balances,
// broadcast, and confirmation. It wraps the RPC client with logging and
// metrics.
type Client struct {
	rpc        RPCClient
	commitment rpc.CommitmentType
	logger     *slog.Logger
	metrics    *metrics.Metrics
	endpoint   string // RPC endpoint identifier for metrics (e.g., "mainnet", rpc host)
}

// NewClient creates a new chain client. The endpoint parameter is used for
// metrics labeling. If m is nil, no metrics will be recorded.
func NewClient(rpcClient RPCClient, commitment rpc.CommitmentType, endpoint string, m *metrics.Metrics, logger *slog.Logger) *Client {
	return &Client{
		rpc:        rpcClient,
		commitment: commitment,
		logger:     logger,
		metrics:    m,
		endpoint:   endpoint,
	}
}

// Commitment returns the commitment level this client confirms at.
func (c *Client) Commitment() rpc.CommitmentType {
	return c.commitment
}

// LatestBlockhash fetches a fresh blockhash context for building a transaction.
func (c *Client) LatestBlockhash(ctx context.Context) (BlockhashContext, error) {
	start := time.Now()
	out, err := c.rpc.GetLatestBlockhash(ctx, c.commitment)
	c.record("GetLatestBlockhash", start, err)
	if err != nil {
		return BlockhashContext{}, fmt.Errorf("get latest blockhash: %w", err)
	}
	return BlockhashContext{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

// AccountsExist probes a batch of addresses in a single RPC call and reports,
// per address, whether an account is currently allocated there. The snapshot
// is best-effort; final correctness is enforced by the on-chain program.
func (c *Client) AccountsExist(ctx context.Context, addrs ...solana.PublicKey) (map[solana.PublicKey]bool, error) {
	exists := make(map[solana.PublicKey]bool, len(addrs))
	if len(addrs) == 0 {
		return exists, nil
	}

	start := time.Now()
	out, err := c.rpc.GetMultipleAccountsWithOpts(ctx, addrs, &rpc.GetMultipleAccountsOpts{
		Commitment: c.commitment,
	})
	c.record("GetMultipleAccounts", start, err)
	if err != nil {
		return nil, fmt.Errorf("get multiple accounts: %w", err)
	}

	for i, addr := range addrs {
		exists[addr] = i < len(out.Value) && out.Value[i] != nil
	}

	c.logger.DebugContext(ctx, "probed account existence",
		"count", len(addrs),
	)
	return exists, nil
}

// AccountExists probes a single address.
func (c *Client) AccountExists(ctx context.Context, addr solana.PublicKey) (bool, error) {
	exists, err := c.AccountsExist(ctx, addr)
	if err != nil {
		return false, err
	}
	return exists[addr], nil
}

// AccountData fetches the raw data of an account, or ErrAccountNotFound if
// no account is allocated at the address.
func (c *Client) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	start := time.Now()
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, addr, &rpc.GetAccountInfoOpts{
		Commitment: c.commitment,
	})
	c.record("GetAccountInfo", start, err)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account info %s: %w", addr, err)
	}
	if out == nil || out.Value == nil {
		return nil, ErrAccountNotFound
	}
	return out.Value.Data.GetBinary(), nil
}

// TokenBalance fetches the balance of a token account in base units.
func (c *Client) TokenBalance(ctx context.Context, addr solana.PublicKey) (TokenAmount, error) {
	start := time.Now()
	out, err := c.rpc.GetTokenAccountBalance(ctx, addr, c.commitment)
	c.record("GetTokenAccountBalance", start, err)
	if err != nil {
		return TokenAmount{}, fmt.Errorf("get token account balance %s: %w", addr, err)
	}

	var amount uint64
	if _, err := fmt.Sscanf(out.Value.Amount, "%d", &amount); err != nil {
		return TokenAmount{}, fmt.Errorf("parse token amount %q: %w", out.Value.Amount, err)
	}
	return TokenAmount{Amount: amount, Decimals: out.Value.Decimals}, nil
}

// SendTransaction broadcasts a signed transaction and returns its signature.
// Preflight is kept on so obviously-invalid transactions are rejected before
// they consume a signature slot.
func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	start := time.Now()
	sig, err := c.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.commitment,
	})
	c.record("SendTransaction", start, err)
	if err != nil {
		return solana.Signature{}, err
	}

	c.logger.DebugContext(ctx, "broadcast transaction", "signature", sig.String())
	return sig, nil
}

// ConfirmTransaction polls signature status until the transaction reaches the
// client's commitment level, carries an on-chain error, or the context
// deadline expires. Callers bound the wait through ctx; on expiry the result
// is ErrConfirmationTimeout, which is ambiguous rather than a guarantee of
// failure.
func (c *Client) ConfirmTransaction(ctx context.Context, sig solana.Signature) (Confirmation, error) {
	ticker := time.NewTicker(700 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Confirmation{Signature: sig}, ErrConfirmationTimeout
			}
			return Confirmation{Signature: sig}, ctx.Err()
		case <-ticker.C:
			start := time.Now()
			result, err := c.rpc.GetSignatureStatuses(ctx, true, sig)
			c.record("GetSignatureStatuses", start, err)
			if err != nil {
				// Transient poll failures are retried until the deadline.
				c.logger.WarnContext(ctx, "signature status poll failed",
					"signature", sig.String(),
					"error", err,
				)
				continue
			}
			if len(result.Value) == 0 || result.Value[0] == nil {
				continue
			}

			status := result.Value[0]
			if status.Err != nil {
				// Surface the raw program error payload verbatim; it is the
				// most actionable diagnostic available to support.
				return Confirmation{
					Signature:  sig,
					Slot:       status.Slot,
					OnChainErr: fmt.Sprintf("%v", status.Err),
				}, nil
			}
			if confirmed(status.ConfirmationStatus, c.commitment) {
				return Confirmation{Signature: sig, Slot: status.Slot}, nil
			}
		}
	}
}

// confirmed reports whether the observed confirmation status satisfies the
// requested commitment.
func confirmed(observed rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	switch want {
	case rpc.CommitmentFinalized:
		return observed == rpc.ConfirmationStatusFinalized
	default:
		return observed == rpc.ConfirmationStatusConfirmed ||
			observed == rpc.ConfirmationStatusFinalized
	}
}

// IsBlockhashNotFound reports whether a send error indicates the transaction
// was built against a blockhash the cluster no longer accepts. This is the
// one broadcast failure the execution driver retries with a fresh context.
func IsBlockhashNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Blockhash not found")
}

// record emits RPC call metrics in the nil-safe pattern used everywhere else.
func (c *Client) record(method string, start time.Time, err error) {
	if c.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordRPCCall(method, status, c.endpoint, time.Since(start).Seconds())
}
