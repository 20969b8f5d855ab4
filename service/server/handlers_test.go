package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/brojonat/vaultflow/service/engine"
	chainsol "github.com/brojonat/vaultflow/service/solana"
	"github.com/brojonat/vaultflow/service/vault"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeChain backs both plan building and execution in handler tests.
type fakeChain struct {
	data   map[solana.PublicKey][]byte
	exists map[solana.PublicKey]bool
	sends  int
}

func (f *fakeChain) AccountsExist(ctx context.Context, addrs ...solana.PublicKey) (map[solana.PublicKey]bool, error) {
	out := make(map[solana.PublicKey]bool, len(addrs))
	for _, addr := range addrs {
		out[addr] = f.exists[addr]
	}
	return out, nil
}

func (f *fakeChain) AccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	data, ok := f.data[addr]
	if !ok {
		return nil, chainsol.ErrAccountNotFound
	}
	return data, nil
}

func (f *fakeChain) LatestBlockhash(ctx context.Context) (chainsol.BlockhashContext, error) {
	return chainsol.BlockhashContext{Blockhash: solana.Hash{1}, LastValidBlockHeight: 100}, nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.sends++
	var sig solana.Signature
	sig[0] = byte(f.sends)
	return sig, nil
}

func (f *fakeChain) ConfirmTransaction(ctx context.Context, sig solana.Signature) (chainsol.Confirmation, error) {
	return chainsol.Confirmation{Signature: sig, Slot: 42}, nil
}

type handlerFixture struct {
	operator   *Operator
	chain      *fakeChain
	vaultState solana.PublicKey
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	wallet := solana.NewWallet()
	vaultState := solana.NewWallet().PublicKey()
	state := &vault.VaultState{
		TokenMint:   solana.NewWallet().PublicKey(),
		TokenVault:  solana.NewWallet().PublicKey(),
		SharesMint:  solana.NewWallet().PublicKey(),
		TotalTokens: 1000,
		TotalShares: 1000,
	}

	body, err := bin.MarshalBorsh(state)
	require.NoError(t, err)
	// Account discriminator for vault state, as published.
	encoded := append([]byte{228, 196, 82, 165, 98, 210, 235, 152}, body...)

	deriver := vault.Deriver{
		VaultProgram: solana.MustPublicKeyFromBase58("KvauGMspG5k6rtzrqqn7WNn3vZUKRLmvLsNPK3orSpv"),
		FarmsProgram: solana.MustPublicKeyFromBase58("FarmsPZpWu9i7Kky8tPN37rs2TpmMrAZrC7S7vJa91Hr"),
	}

	vaultAccs, err := deriver.VaultAccounts(vaultState, state, wallet.PublicKey())
	require.NoError(t, err)

	chain := &fakeChain{
		data: map[solana.PublicKey][]byte{vaultState: encoded},
		exists: map[solana.PublicKey]bool{
			vaultAccs.UserTokenAccount:  true,
			vaultAccs.UserSharesAccount: true,
		},
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	builder := vault.NewBuilder(chain, deriver, 1_400_000, nil, logger)
	driver := engine.NewDriver(chain, engine.NewKeypairSigner(wallet.PrivateKey), engine.NewTracker(nil), 5*time.Second, nil, logger)

	return &handlerFixture{
		operator:   NewOperator(builder, driver, nil, wallet.PublicKey(), logger),
		chain:      chain,
		vaultState: vaultState,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHandleGetStatus(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	w := httptest.NewRecorder()
	handleGetStatus(f.operator).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var snap engine.Snapshot
	require.NoError(t, json.NewDecoder(w.Body).Decode(&snap))
	assert.Equal(t, engine.PhaseIdle, snap.Phase)
}

func TestHandleStartOperation_Validation(t *testing.T) {
	f := newHandlerFixture(t)
	handler := handleStartOperation(f.operator, testLogger())

	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{`, http.StatusBadRequest},
		{"unknown operation", `{"operation":"liquidate","vault_state":"` + f.vaultState.String() + `","amount":1}`, http.StatusBadRequest},
		{"bad vault address", `{"operation":"deposit","vault_state":"not-base58!","amount":1}`, http.StatusBadRequest},
		{"zero amount deposit", `{"operation":"deposit","vault_state":"` + f.vaultState.String() + `","amount":0}`, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/api/v1/operations", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestHandleStartOperation_Accepted(t *testing.T) {
	f := newHandlerFixture(t)
	handler := handleStartOperation(f.operator, testLogger())

	body := `{"operation":"deposit","vault_state":"` + f.vaultState.String() + `","amount":100}`
	req := httptest.NewRequest("POST", "/api/v1/operations", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "deposit_and_stake", resp["operation"])

	// Execution runs in the background; wait for the tracker to finish.
	require.Eventually(t, func() bool {
		return f.operator.Tracker().Snapshot().Phase == engine.PhaseSuccess
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, f.chain.sends)
}

func TestHandleStartOperation_Conflict(t *testing.T) {
	f := newHandlerFixture(t)
	handler := handleStartOperation(f.operator, testLogger())

	// Simulate an in-flight operation.
	require.NoError(t, f.operator.Tracker().Begin("withdraw"))
	require.NoError(t, f.operator.Tracker().BeginStep(0, 1))

	body := `{"operation":"deposit","vault_state":"` + f.vaultState.String() + `","amount":100}`
	req := httptest.NewRequest("POST", "/api/v1/operations", strings.NewReader(body))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestHandlePlanOperation(t *testing.T) {
	f := newHandlerFixture(t)
	handler := handlePlanOperation(f.operator, testLogger())

	req := httptest.NewRequest("GET", "/api/v1/plan?operation=withdraw&vault_state="+f.vaultState.String()+"&amount=100", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var summary vault.PlanSummary
	require.NoError(t, json.NewDecoder(w.Body).Decode(&summary))
	assert.Equal(t, "withdraw", summary.Operation)
	require.Len(t, summary.Steps, 1, "no farm record means a single withdraw step")
	assert.Zero(t, f.chain.sends, "planning must not broadcast")
}

func TestHandlePlanOperation_UnknownVault(t *testing.T) {
	f := newHandlerFixture(t)
	handler := handlePlanOperation(f.operator, testLogger())

	unknown := solana.NewWallet().PublicKey()
	req := httptest.NewRequest("GET", "/api/v1/plan?operation=deposit&vault_state="+unknown.String()+"&amount=100", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleResetStatus(t *testing.T) {
	f := newHandlerFixture(t)
	handler := handleResetStatus(f.operator, testLogger())

	// Active operations cannot be reset out from under the driver.
	require.NoError(t, f.operator.Tracker().Begin("withdraw"))
	req := httptest.NewRequest("POST", "/api/v1/status/reset", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusConflict, w.Code)

	f.operator.Tracker().Fail("gave up")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/status/reset", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, engine.PhaseIdle, f.operator.Tracker().Snapshot().Phase)
}

func TestParseOperation(t *testing.T) {
	tests := []struct {
		in      string
		want    vault.OperationKind
		wantErr bool
	}{
		{"deposit", vault.OpDepositAndStake, false},
		{"deposit_and_stake", vault.OpDepositAndStake, false},
		{"withdraw", vault.OpWithdraw, false},
		{"claim", vault.OpClaimFarmRewards, false},
		{"claim_farm_rewards", vault.OpClaimFarmRewards, false},
		{"unstake", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseOperation(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestValidateAddress(t *testing.T) {
	assert.NoError(t, validateAddress(solana.NewWallet().PublicKey().String()))
	assert.Error(t, validateAddress(""))
	assert.Error(t, validateAddress("contains!invalid@chars"))
	assert.Error(t, validateAddress(strings.Repeat("A", maxAddressLength+1)))
}
