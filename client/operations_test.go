package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOperation_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/operations", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]interface{}
		err := json.NewDecoder(r.Body).Decode(&body)
		require.NoError(t, err)

		assert.Equal(t, "deposit", body["operation"])
		assert.Equal(t, "vault123", body["vault_state"])
		assert.Equal(t, float64(1_000_000), body["amount"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{
			"operation":      "deposit",
			"wallet_address": "wallet123",
			"vault_state":    "vault123",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	accepted, err := client.StartOperation(context.Background(), "deposit", "vault123", 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, "deposit", accepted.Operation)
	assert.Equal(t, "wallet123", accepted.WalletAddress)
}

func TestStartOperation_Conflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "operation deposit is already in flight",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.StartOperation(context.Background(), "withdraw", "vault123", 500)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in flight")
}

func TestPlanOperation_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/v1/plan", r.URL.Path)
		assert.Equal(t, "withdraw", r.URL.Query().Get("operation"))
		assert.Equal(t, "vault123", r.URL.Query().Get("vault_state"))
		assert.Equal(t, "500", r.URL.Query().Get("amount"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"operation": "withdraw",
			"owner":     "wallet123",
			"steps": []map[string]interface{}{
				{"label": "start-unstake", "instructions": 3, "programs": []string{"p1", "p2", "p2"}},
				{"label": "withdraw", "instructions": 2, "programs": []string{"p1", "p2"}},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	plan, err := client.PlanOperation(context.Background(), "withdraw", "vault123", 500)
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, "start-unstake", plan.Steps[0].Label)
	assert.Equal(t, 3, plan.Steps[0].Instructions)
}

func TestStatus_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"operation":   "deposit",
			"phase":       "confirming",
			"step_index":  0,
			"total_steps": 1,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	status, err := client.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "deposit", status.Operation)
	assert.Equal(t, "confirming", status.Phase)
	assert.Equal(t, 1, status.TotalSteps)
}

func TestResetStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/status/reset", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.ResetStatus(context.Background()))
}

func TestResetStatus_Conflict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "operation still in flight",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	err := client.ResetStatus(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "still in flight")
}

func TestGetOperation_Success(t *testing.T) {
	started := time.Now().Add(-time.Minute).UTC().Truncate(time.Second)
	completed := time.Now().UTC().Truncate(time.Second)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/operations/42", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":             42,
			"wallet_address": "wallet123",
			"vault_state":    "vault123",
			"operation":      "withdraw",
			"status":         "success",
			"total_steps":    2,
			"started_at":     started,
			"completed_at":   completed,
			"signatures": []map[string]interface{}{
				{"step_index": 0, "label": "start-unstake", "signature": "sig1", "confirmed_at": completed},
				{"step_index": 1, "label": "withdraw", "signature": "sig2", "confirmed_at": completed},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	op, err := client.GetOperation(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), op.ID)
	assert.Equal(t, "success", op.Status)
	require.Len(t, op.Signatures, 2)
	assert.Equal(t, "sig2", op.Signatures[1].Signature)
}

func TestGetOperation_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "operation not found"})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	_, err := client.GetOperation(context.Background(), 999)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestListOperations_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/operations", r.URL.Path)
		assert.Equal(t, "wallet123", r.URL.Query().Get("wallet"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"wallet": "wallet123",
			"total":  2,
			"operations": []map[string]interface{}{
				{"id": 2, "operation": "withdraw", "status": "success", "total_steps": 2},
				{"id": 1, "operation": "deposit", "status": "success", "total_steps": 1},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	list, err := client.ListOperations(context.Background(), "wallet123", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), list.Total)
	require.Len(t, list.Operations, 2)
	assert.Equal(t, int64(2), list.Operations[0].ID)
}

func TestGetVault_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/vaults/vault123", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"address":      "vault123",
			"token_mint":   "mint123",
			"token_vault":  "tv123",
			"shares_mint":  "sm123",
			"total_tokens": 1000,
			"total_shares": 900,
			"farm_state":   "farm123",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	vault, err := client.GetVault(context.Background(), "vault123")
	require.NoError(t, err)
	assert.Equal(t, "mint123", vault.TokenMint)
	assert.Equal(t, uint64(1000), vault.TotalTokens)
	assert.Equal(t, "farm123", vault.FarmState)
}

func TestEnableAutoClaim_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PUT", r.Method)
		assert.Equal(t, "/api/v1/vaults/vault123/auto-claim", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "30m0s", body["claim_interval"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"vault_state":    "vault123",
			"claim_interval": "30m0s",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.EnableAutoClaim(context.Background(), "vault123", 30*time.Minute))
}

func TestEnableAutoClaim_DefaultInterval(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Zero interval sends no body, leaving the choice to the server.
		assert.Equal(t, int64(0), r.ContentLength)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"vault_state":    "vault123",
			"claim_interval": "4h0m0s",
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.EnableAutoClaim(context.Background(), "vault123", 0))
}

func TestDisableAutoClaim(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "DELETE", r.Method)
		assert.Equal(t, "/api/v1/vaults/vault123/auto-claim", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.URL, nil, nil)
	assert.NoError(t, client.DisableAutoClaim(context.Background(), "vault123"))
}
