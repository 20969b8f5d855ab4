package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	chainsol "github.com/brojonat/vaultflow/service/solana"
	"github.com/brojonat/vaultflow/service/vault"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChain scripts the broadcast surface. Send errors and confirmation
// results are consumed in order; exhausted scripts mean success.
type mockChain struct {
	blockhashCalls int
	blockhashErrs  []error
	sendCalls      int
	sendErrs       []error
	confirms       []confirmResult
	confirmCalls   int
}

type confirmResult struct {
	conf chainsol.Confirmation
	err  error
}

func (m *mockChain) LatestBlockhash(ctx context.Context) (chainsol.BlockhashContext, error) {
	m.blockhashCalls++
	if len(m.blockhashErrs) > 0 {
		err := m.blockhashErrs[0]
		m.blockhashErrs = m.blockhashErrs[1:]
		if err != nil {
			return chainsol.BlockhashContext{}, err
		}
	}
	var hash solana.Hash
	hash[0] = byte(m.blockhashCalls)
	return chainsol.BlockhashContext{Blockhash: hash, LastValidBlockHeight: 100}, nil
}

func (m *mockChain) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	m.sendCalls++
	if len(m.sendErrs) > 0 {
		err := m.sendErrs[0]
		m.sendErrs = m.sendErrs[1:]
		if err != nil {
			return solana.Signature{}, err
		}
	}
	var sig solana.Signature
	sig[0] = byte(m.sendCalls)
	return sig, nil
}

func (m *mockChain) ConfirmTransaction(ctx context.Context, sig solana.Signature) (chainsol.Confirmation, error) {
	m.confirmCalls++
	if len(m.confirms) > 0 {
		res := m.confirms[0]
		m.confirms = m.confirms[1:]
		res.conf.Signature = sig
		return res.conf, res.err
	}
	return chainsol.Confirmation{Signature: sig, Slot: 42}, nil
}

// rejectingSigner simulates a user declining the wallet prompt.
type rejectingSigner struct {
	key solana.PrivateKey
}

func (s *rejectingSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *rejectingSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return errors.New("user rejected the request")
}

func testPlan(owner solana.PublicKey, labels ...string) *vault.Plan {
	program := solana.MustPublicKeyFromBase58("KvauGMspG5k6rtzrqqn7WNn3vZUKRLmvLsNPK3orSpv")
	steps := make([]vault.Step, len(labels))
	for i, label := range labels {
		steps[i] = vault.Step{
			Label: label,
			Instructions: []solana.Instruction{
				solana.NewInstruction(program, solana.AccountMetaSlice{
					solana.NewAccountMeta(owner, true, true),
				}, []byte{byte(i)}),
			},
		}
	}
	return &vault.Plan{Operation: vault.OpWithdraw, Owner: owner, Steps: steps}
}

func newTestDriver(chain ChainClient, signer Signer) *Driver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewDriver(chain, signer, NewTracker(nil), 5*time.Second, nil, logger)
}

func TestExecute_EmptyPlan(t *testing.T) {
	wallet := solana.NewWallet()
	chain := &mockChain{}
	driver := newTestDriver(chain, NewKeypairSigner(wallet.PrivateKey))

	plan := &vault.Plan{Operation: vault.OpClaimFarmRewards, Owner: wallet.PublicKey()}
	sigs, err := driver.Execute(context.Background(), plan)
	require.NoError(t, err)
	assert.Empty(t, sigs)
	assert.Zero(t, chain.sendCalls, "empty plan must not submit anything")
	assert.Equal(t, PhaseSuccess, driver.Tracker().Snapshot().Phase)
}

func TestExecute_SingleStep(t *testing.T) {
	wallet := solana.NewWallet()
	chain := &mockChain{}
	driver := newTestDriver(chain, NewKeypairSigner(wallet.PrivateKey))

	sigs, err := driver.Execute(context.Background(), testPlan(wallet.PublicKey(), "withdraw"))
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, 1, chain.sendCalls)
	assert.Equal(t, 1, chain.blockhashCalls)
	assert.Equal(t, PhaseSuccess, driver.Tracker().Snapshot().Phase)
}

func TestExecute_SequentialSteps(t *testing.T) {
	wallet := solana.NewWallet()
	chain := &mockChain{}
	driver := newTestDriver(chain, NewKeypairSigner(wallet.PrivateKey))

	var stepOrder []string
	driver.OnStep = func(index int, label string, sig solana.Signature) {
		stepOrder = append(stepOrder, label)
		// Each step must confirm before the next is broadcast.
		assert.Equal(t, index+1, chain.confirmCalls)
	}

	sigs, err := driver.Execute(context.Background(), testPlan(wallet.PublicKey(), "unstake", "withdraw"))
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.NotEqual(t, sigs[0], sigs[1])
	assert.Equal(t, []string{"unstake", "withdraw"}, stepOrder)
	assert.Equal(t, 2, chain.blockhashCalls, "each step gets a fresh blockhash")
}

func TestExecute_SigningRejectedAbortsPlan(t *testing.T) {
	wallet := solana.NewWallet()
	chain := &mockChain{}
	driver := newTestDriver(chain, &rejectingSigner{key: wallet.PrivateKey})

	sigs, err := driver.Execute(context.Background(), testPlan(wallet.PublicKey(), "unstake", "withdraw"))
	require.Error(t, err)
	assert.Empty(t, sigs)
	assert.Zero(t, chain.sendCalls, "a rejected signature must never reach the cluster")

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindSigningRejected, execErr.Kind)
	assert.Equal(t, 0, execErr.Step)

	snap := driver.Tracker().Snapshot()
	assert.Equal(t, PhaseError, snap.Phase)
	assert.Contains(t, snap.ErrorMessage, "user rejected")
}

func TestExecute_BlockhashFetchFailureIsBuildError(t *testing.T) {
	wallet := solana.NewWallet()
	chain := &mockChain{blockhashErrs: []error{errors.New("rpc: connection refused")}}
	driver := newTestDriver(chain, NewKeypairSigner(wallet.PrivateKey))

	sigs, err := driver.Execute(context.Background(), testPlan(wallet.PublicKey(), "withdraw"))
	require.Error(t, err)
	assert.Empty(t, sigs)
	assert.Zero(t, chain.sendCalls)

	// An RPC outage is not a signing rejection: it never reached the signer.
	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindBuild, execErr.Kind)
	assert.Contains(t, execErr.Error(), "step 1 of 1 (withdraw)")

	snap := driver.Tracker().Snapshot()
	assert.Equal(t, PhaseError, snap.Phase)
	assert.Contains(t, snap.ErrorMessage, "connection refused")
}

func TestExecute_StaleBlockhashRetriedOnce(t *testing.T) {
	wallet := solana.NewWallet()
	chain := &mockChain{
		sendErrs: []error{errors.New(`rpc error: {"message":"Blockhash not found"}`), nil},
	}
	driver := newTestDriver(chain, NewKeypairSigner(wallet.PrivateKey))

	sigs, err := driver.Execute(context.Background(), testPlan(wallet.PublicKey(), "withdraw"))
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, 2, chain.sendCalls)
	assert.Equal(t, 2, chain.blockhashCalls, "retry rebuilds against a fresh blockhash")
}

func TestExecute_StaleBlockhashNotRetriedTwice(t *testing.T) {
	wallet := solana.NewWallet()
	stale := errors.New(`rpc error: {"message":"Blockhash not found"}`)
	chain := &mockChain{sendErrs: []error{stale, stale}}
	driver := newTestDriver(chain, NewKeypairSigner(wallet.PrivateKey))

	_, err := driver.Execute(context.Background(), testPlan(wallet.PublicKey(), "withdraw"))
	require.Error(t, err)
	assert.Equal(t, 2, chain.sendCalls, "exactly one retry")

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindBroadcast, execErr.Kind)
}

func TestExecute_BroadcastErrorNotRetried(t *testing.T) {
	wallet := solana.NewWallet()
	chain := &mockChain{sendErrs: []error{errors.New("insufficient funds for fee")}}
	driver := newTestDriver(chain, NewKeypairSigner(wallet.PrivateKey))

	_, err := driver.Execute(context.Background(), testPlan(wallet.PublicKey(), "withdraw"))
	require.Error(t, err)
	assert.Equal(t, 1, chain.sendCalls, "only stale blockhashes are retried")
}

func TestExecute_ConfirmationTimeoutStopsPlan(t *testing.T) {
	wallet := solana.NewWallet()
	chain := &mockChain{
		confirms: []confirmResult{{err: chainsol.ErrConfirmationTimeout}},
	}
	driver := newTestDriver(chain, NewKeypairSigner(wallet.PrivateKey))

	sigs, err := driver.Execute(context.Background(), testPlan(wallet.PublicKey(), "unstake", "withdraw"))
	require.Error(t, err)
	assert.Empty(t, sigs)
	assert.Equal(t, 1, chain.sendCalls, "the second step must not run on an unconfirmed first step")

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindConfirmationTimeout, execErr.Kind)
	assert.False(t, execErr.Signature.IsZero(), "the pending signature is preserved for later inspection")
}

func TestExecute_OnChainErrorPreservesPayload(t *testing.T) {
	wallet := solana.NewWallet()
	chain := &mockChain{
		confirms: []confirmResult{{
			conf: chainsol.Confirmation{Slot: 42, OnChainErr: `{"InstructionError":[1,{"Custom":6001}]}`},
		}},
	}
	driver := newTestDriver(chain, NewKeypairSigner(wallet.PrivateKey))

	sigs, err := driver.Execute(context.Background(), testPlan(wallet.PublicKey(), "withdraw"))
	require.Error(t, err)
	assert.Empty(t, sigs)

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, KindOnChainProgram, execErr.Kind)
	assert.Contains(t, execErr.Payload, "6001", "raw program error payload survives verbatim")

	snap := driver.Tracker().Snapshot()
	assert.Equal(t, PhaseError, snap.Phase)
	assert.Contains(t, snap.ErrorMessage, "6001")
}

func TestExecute_PartialFailureKeepsConfirmedSignatures(t *testing.T) {
	wallet := solana.NewWallet()
	chain := &mockChain{
		confirms: []confirmResult{
			{conf: chainsol.Confirmation{Slot: 41}},
			{err: chainsol.ErrConfirmationTimeout},
		},
	}
	driver := newTestDriver(chain, NewKeypairSigner(wallet.PrivateKey))

	sigs, err := driver.Execute(context.Background(), testPlan(wallet.PublicKey(), "unstake", "withdraw"))
	require.Error(t, err)
	require.Len(t, sigs, 1, "the confirmed first step's signature is returned with the error")

	var execErr *ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 1, execErr.Step)
	assert.Equal(t, "withdraw", execErr.Label)
	assert.Contains(t, execErr.Error(), "step 2 of 2 (withdraw)",
		"the message numbers steps the way status consumers do")
}
