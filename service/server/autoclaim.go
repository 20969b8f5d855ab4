package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/vaultflow/service/config"
	"github.com/brojonat/vaultflow/service/temporal"
)

// autoClaimRequest is the PUT body for enabling auto-claim on a vault.
// ClaimInterval is a Go duration string; when omitted the configured
// default interval is used.
type autoClaimRequest struct {
	ClaimInterval string `json:"claim_interval,omitempty"`
}

// handleEnableAutoClaim returns a handler that creates or updates the
// auto-claim schedule for a vault. The schedule periodically triggers a
// claim-rewards run under the service wallet.
// PUT /api/v1/vaults/{address}/auto-claim
func handleEnableAutoClaim(scheduler temporal.Scheduler, cfg *config.Config, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vaultState, err := parsePubkey(r.PathValue("address"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		interval := cfg.DefaultClaimInterval
		if r.ContentLength > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
			var req autoClaimRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, "invalid request body", http.StatusBadRequest)
				return
			}
			if req.ClaimInterval != "" {
				interval, err = time.ParseDuration(req.ClaimInterval)
				if err != nil {
					writeError(w, "invalid claim_interval: must be a duration like 30m or 4h", http.StatusBadRequest)
					return
				}
			}
		}
		if interval < cfg.MinClaimInterval {
			writeError(w, "claim_interval below minimum of "+cfg.MinClaimInterval.String(), http.StatusBadRequest)
			return
		}

		if err := scheduler.UpsertClaimSchedule(r.Context(), vaultState.String(), interval); err != nil {
			logger.Error("failed to upsert auto-claim schedule",
				"vault_state", vaultState.String(),
				"interval", interval,
				"error", err,
			)
			writeError(w, "failed to create auto-claim schedule", http.StatusInternalServerError)
			return
		}

		logger.Info("auto-claim enabled",
			"vault_state", vaultState.String(),
			"interval", interval,
		)

		writeJSON(w, map[string]interface{}{
			"vault_state":    vaultState.String(),
			"claim_interval": interval.String(),
		}, http.StatusOK)
	})
}

// handleDisableAutoClaim returns a handler that deletes a vault's auto-claim
// schedule. Deleting a schedule that does not exist is an error from
// Temporal and is surfaced as such.
// DELETE /api/v1/vaults/{address}/auto-claim
func handleDisableAutoClaim(scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vaultState, err := parsePubkey(r.PathValue("address"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := scheduler.DeleteClaimSchedule(r.Context(), vaultState.String()); err != nil {
			logger.Error("failed to delete auto-claim schedule",
				"vault_state", vaultState.String(),
				"error", err,
			)
			writeError(w, "failed to delete auto-claim schedule", http.StatusInternalServerError)
			return
		}

		logger.Info("auto-claim disabled", "vault_state", vaultState.String())
		w.WriteHeader(http.StatusNoContent)
	})
}
