package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/brojonat/vaultflow/service/db"
	"github.com/brojonat/vaultflow/service/engine"
	"github.com/brojonat/vaultflow/service/registry"
	"github.com/brojonat/vaultflow/service/vault"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB - plenty for operation requests
	maxAddressLength   = 100     // Solana addresses are 44 chars, give buffer
	defaultListLimit   = 50
	maxListLimit       = 500
)

var (
	// Valid Solana address characters: base58 (no 0, O, I, l)
	validAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]+$`)
)

// operationRequest is the POST body for starting an operation.
type operationRequest struct {
	VaultState string `json:"vault_state"`
	Operation  string `json:"operation"`
	Amount     uint64 `json:"amount"`
}

// handleStartOperation returns a handler that starts an operation for the
// service wallet. Execution is asynchronous: the response is 202 and the
// caller follows progress through /api/v1/status or the SSE stream.
// POST /api/v1/operations
func handleStartOperation(operator *Operator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req operationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, "invalid request body", http.StatusBadRequest)
			return
		}

		kind, err := parseOperation(req.Operation)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		vaultState, err := parsePubkey(req.VaultState)
		if err != nil {
			logger.Debug("invalid vault state", "vault_state", req.VaultState, "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if kind != vault.OpClaimFarmRewards && req.Amount == 0 {
			writeError(w, "amount must be positive", http.StatusBadRequest)
			return
		}

		snap := operator.Tracker().Snapshot()
		if snap.Phase != engine.PhaseIdle && snap.Phase != engine.PhaseSuccess && snap.Phase != engine.PhaseError {
			writeError(w, fmt.Sprintf("operation %s is already in flight", snap.Operation), http.StatusConflict)
			return
		}

		go func() {
			// Detached from the request: the operation outlives the
			// HTTP exchange.
			if _, err := operator.Run(context.Background(), kind, vaultState, req.Amount); err != nil {
				logger.Error("operation failed",
					"operation", kind.String(),
					"vault_state", vaultState.String(),
					"error", err,
				)
			}
		}()

		logger.Info("operation accepted",
			"operation", kind.String(),
			"vault_state", vaultState.String(),
			"amount", req.Amount,
		)

		writeJSON(w, map[string]interface{}{
			"operation":      kind.String(),
			"wallet_address": operator.Wallet().String(),
			"vault_state":    vaultState.String(),
		}, http.StatusAccepted)
	})
}

// handlePlanOperation returns a handler that builds a plan without executing
// it, for inspection.
// GET /api/v1/plan?vault_state={address}&operation={op}&amount={n}
func handlePlanOperation(operator *Operator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind, err := parseOperation(r.URL.Query().Get("operation"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		vaultState, err := parsePubkey(r.URL.Query().Get("vault_state"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		var amount uint64
		if raw := r.URL.Query().Get("amount"); raw != "" {
			amount, err = strconv.ParseUint(raw, 10, 64)
			if err != nil {
				writeError(w, "invalid amount", http.StatusBadRequest)
				return
			}
		}

		plan, err := operator.Plan(r.Context(), kind, vaultState, amount)
		if err != nil {
			var probeErr *vault.ProbeError
			if errors.As(err, &probeErr) {
				logger.Error("plan build probe failed", "error", err)
				writeError(w, "chain state temporarily unavailable", http.StatusServiceUnavailable)
				return
			}
			logger.Debug("plan build rejected", "error", err)
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		writeJSON(w, plan.Summary(), http.StatusOK)
	})
}

// handleGetStatus returns the tracker snapshot for the in-flight (or most
// recently finished) operation.
// GET /api/v1/status
func handleGetStatus(operator *Operator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, operator.Tracker().Snapshot(), http.StatusOK)
	})
}

// handleResetStatus acknowledges a finished operation and returns the
// tracker to idle.
// POST /api/v1/status/reset
func handleResetStatus(operator *Operator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := operator.Tracker().Reset(); err != nil {
			writeError(w, err.Error(), http.StatusConflict)
			return
		}
		logger.Debug("status tracker reset")
		w.WriteHeader(http.StatusNoContent)
	})
}

// handleGetOperation retrieves one operation record with its step signatures.
// GET /api/v1/operations/{id}
func handleGetOperation(store *db.Store, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, "invalid operation id", http.StatusBadRequest)
			return
		}

		op, err := store.GetOperation(r.Context(), id)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				writeError(w, "operation not found", http.StatusNotFound)
				return
			}
			logger.Error("failed to get operation", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		sigs, err := store.ListOperationSignatures(r.Context(), id)
		if err != nil {
			logger.Error("failed to list operation signatures", "id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, operationToResponse(op, sigs), http.StatusOK)
	})
}

// handleListOperations lists a wallet's operation history, most recent first.
// GET /api/v1/operations?wallet={address}&limit={n}&offset={n}
func handleListOperations(store *db.Store, operator *Operator, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wallet := r.URL.Query().Get("wallet")
		if wallet == "" {
			wallet = operator.Wallet().String()
		}
		if err := validateAddress(wallet); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		limit := int32(defaultListLimit)
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 32)
			if err != nil || n <= 0 || n > maxListLimit {
				writeError(w, fmt.Sprintf("limit must be between 1 and %d", maxListLimit), http.StatusBadRequest)
				return
			}
			limit = int32(n)
		}
		var offset int32
		if raw := r.URL.Query().Get("offset"); raw != "" {
			n, err := strconv.ParseInt(raw, 10, 32)
			if err != nil || n < 0 {
				writeError(w, "invalid offset", http.StatusBadRequest)
				return
			}
			offset = int32(n)
		}

		ops, err := store.ListOperationsByWallet(r.Context(), db.ListOperationsByWalletParams{
			WalletAddress: wallet,
			Limit:         limit,
			Offset:        offset,
		})
		if err != nil {
			logger.Error("failed to list operations", "wallet", wallet, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		count, err := store.CountOperationsByWallet(r.Context(), wallet)
		if err != nil {
			logger.Error("failed to count operations", "wallet", wallet, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		resp := make([]operationResponse, len(ops))
		for i, op := range ops {
			resp[i] = operationToResponse(op, nil)
		}

		writeJSON(w, map[string]interface{}{
			"wallet":     wallet,
			"total":      count,
			"operations": resp,
		}, http.StatusOK)
	})
}

// handleGetVault returns the decoded state of a vault, served through the
// registry cache.
// GET /api/v1/vaults/{address}
func handleGetVault(reg *registry.Registry, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := parsePubkey(r.PathValue("address"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		state, err := reg.VaultState(r.Context(), addr)
		if err != nil {
			logger.Debug("vault lookup failed", "vault", addr.String(), "error", err)
			writeError(w, "vault not found", http.StatusNotFound)
			return
		}

		resp := map[string]interface{}{
			"address":      addr.String(),
			"token_mint":   state.TokenMint.String(),
			"token_vault":  state.TokenVault.String(),
			"shares_mint":  state.SharesMint.String(),
			"total_tokens": state.TotalTokens,
			"total_shares": state.TotalShares,
		}
		if state.HasFarm() {
			resp["farm_state"] = state.FarmState.String()
		}
		writeJSON(w, resp, http.StatusOK)
	})
}

// operationResponse is the API response format for an operation record.
type operationResponse struct {
	ID            int64               `json:"id"`
	WalletAddress string              `json:"wallet_address"`
	VaultState    string              `json:"vault_state"`
	Operation     string              `json:"operation"`
	Status        string              `json:"status"`
	ErrorMessage  *string             `json:"error_message,omitempty"`
	TotalSteps    int32               `json:"total_steps"`
	StartedAt     time.Time           `json:"started_at"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
	Signatures    []signatureResponse `json:"signatures,omitempty"`
}

type signatureResponse struct {
	StepIndex   int32     `json:"step_index"`
	Label       string    `json:"label"`
	Signature   string    `json:"signature"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

func operationToResponse(op *db.Operation, sigs []*db.OperationSignature) operationResponse {
	resp := operationResponse{
		ID:            op.ID,
		WalletAddress: op.WalletAddress,
		VaultState:    op.VaultState,
		Operation:     op.Operation,
		Status:        op.Status,
		ErrorMessage:  op.ErrorMessage,
		TotalSteps:    op.TotalSteps,
		StartedAt:     op.StartedAt,
		CompletedAt:   op.CompletedAt,
	}
	for _, sig := range sigs {
		resp.Signatures = append(resp.Signatures, signatureResponse{
			StepIndex:   sig.StepIndex,
			Label:       sig.Label,
			Signature:   sig.Signature,
			ConfirmedAt: sig.ConfirmedAt,
		})
	}
	return resp
}

// parseOperation maps the API operation name to its kind. Short aliases are
// accepted alongside the canonical names.
func parseOperation(s string) (vault.OperationKind, error) {
	switch s {
	case "deposit", "deposit_and_stake":
		return vault.OpDepositAndStake, nil
	case "withdraw":
		return vault.OpWithdraw, nil
	case "claim", "claim_farm_rewards":
		return vault.OpClaimFarmRewards, nil
	default:
		return 0, fmt.Errorf("unknown operation %q: expected deposit, withdraw, or claim", s)
	}
}

func parsePubkey(s string) (solanago.PublicKey, error) {
	if err := validateAddress(s); err != nil {
		return solanago.PublicKey{}, err
	}
	pk, err := solanago.PublicKeyFromBase58(s)
	if err != nil {
		return solanago.PublicKey{}, fmt.Errorf("invalid address %q", s)
	}
	return pk, nil
}

// validateAddress validates a wallet address for format and length.
func validateAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address is required")
	}
	if len(address) > maxAddressLength {
		return fmt.Errorf("address too long: maximum length is %d characters", maxAddressLength)
	}
	if !validAddressRegex.MatchString(address) {
		return fmt.Errorf("invalid address format: must be base58")
	}
	return nil
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}
