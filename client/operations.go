package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Operation is a recorded vault operation and its confirmed step signatures.
type Operation struct {
	ID            int64           `json:"id"`
	WalletAddress string          `json:"wallet_address"`
	VaultState    string          `json:"vault_state"`
	Operation     string          `json:"operation"`
	Status        string          `json:"status"` // running, success, error
	ErrorMessage  *string         `json:"error_message,omitempty"`
	TotalSteps    int32           `json:"total_steps"`
	StartedAt     time.Time       `json:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	Signatures    []StepSignature `json:"signatures,omitempty"`
}

// StepSignature is one confirmed transaction of an operation.
type StepSignature struct {
	StepIndex   int32     `json:"step_index"`
	Label       string    `json:"label"`
	Signature   string    `json:"signature"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// OperationList is a page of a wallet's operation history.
type OperationList struct {
	Wallet     string      `json:"wallet"`
	Total      int64       `json:"total"`
	Operations []Operation `json:"operations"`
}

// OperationAccepted is the server's acknowledgement of a started operation.
type OperationAccepted struct {
	Operation     string `json:"operation"`
	WalletAddress string `json:"wallet_address"`
	VaultState    string `json:"vault_state"`
}

// Status is the lifecycle snapshot of the server's current (or most recently
// finished) operation.
type Status struct {
	Operation     string `json:"operation"`
	Phase         string `json:"phase"`
	StepIndex     int    `json:"step_index"`
	TotalSteps    int    `json:"total_steps"`
	LastSignature string `json:"last_signature,omitempty"`
	ErrorMessage  string `json:"error_message,omitempty"`
}

// PlanStep describes one transaction of an inspected plan.
type PlanStep struct {
	Label        string   `json:"label"`
	Instructions int      `json:"instructions"`
	Programs     []string `json:"programs"`
}

// Plan is the dry-run description of what an operation would execute.
type Plan struct {
	Operation string     `json:"operation"`
	Owner     string     `json:"owner"`
	Steps     []PlanStep `json:"steps"`
}

// Vault is the decoded on-chain state of a vault.
type Vault struct {
	Address     string `json:"address"`
	TokenMint   string `json:"token_mint"`
	TokenVault  string `json:"token_vault"`
	SharesMint  string `json:"shares_mint"`
	TotalTokens uint64 `json:"total_tokens"`
	TotalShares uint64 `json:"total_shares"`
	FarmState   string `json:"farm_state,omitempty"`
}

// Client is the HTTP client for the vaultflow service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new vaultflow service client.
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// StartOperation asks the server to execute an operation against a vault.
// The server runs it asynchronously; follow progress with Status or Stream.
func (c *Client) StartOperation(ctx context.Context, operation, vaultState string, amount uint64) (*OperationAccepted, error) {
	reqBody := map[string]interface{}{
		"operation":   operation,
		"vault_state": vaultState,
		"amount":      amount,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/operations", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return nil, c.parseErrorResponse(resp)
	}

	var accepted OperationAccepted
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	c.logger.Debug("operation accepted", "operation", operation, "vault_state", vaultState)
	return &accepted, nil
}

// PlanOperation asks the server to build an operation's plan without
// executing it.
func (c *Client) PlanOperation(ctx context.Context, operation, vaultState string, amount uint64) (*Plan, error) {
	q := url.Values{}
	q.Set("operation", operation)
	q.Set("vault_state", vaultState)
	if amount > 0 {
		q.Set("amount", strconv.FormatUint(amount, 10))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/plan?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var plan Plan
	if err := json.NewDecoder(resp.Body).Decode(&plan); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &plan, nil
}

// Status retrieves the server's current operation status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &status, nil
}

// ResetStatus acknowledges a finished operation so the server accepts a new one.
func (c *Client) ResetStatus(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/status/reset", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// GetOperation retrieves one operation record with its step signatures.
func (c *Client) GetOperation(ctx context.Context, id int64) (*Operation, error) {
	u := fmt.Sprintf("%s/api/v1/operations/%d", c.baseURL, id)
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var op Operation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &op, nil
}

// ListOperations retrieves a page of a wallet's operation history, most
// recent first. An empty wallet lists the server's own wallet.
func (c *Client) ListOperations(ctx context.Context, wallet string, limit, offset int) (*OperationList, error) {
	q := url.Values{}
	if wallet != "" {
		q.Set("wallet", wallet)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}

	u := c.baseURL + "/api/v1/operations"
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var list OperationList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &list, nil
}

// GetVault retrieves the decoded state of a vault.
func (c *Client) GetVault(ctx context.Context, address string) (*Vault, error) {
	u := fmt.Sprintf("%s/api/v1/vaults/%s", c.baseURL, url.PathEscape(address))
	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseErrorResponse(resp)
	}

	var vault Vault
	if err := json.NewDecoder(resp.Body).Decode(&vault); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &vault, nil
}

// EnableAutoClaim creates or updates the periodic reward-claim schedule for
// a vault. A zero interval uses the server's configured default.
func (c *Client) EnableAutoClaim(ctx context.Context, vaultState string, interval time.Duration) error {
	var body io.Reader
	if interval > 0 {
		payload, err := json.Marshal(map[string]string{"claim_interval": interval.String()})
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	u := fmt.Sprintf("%s/api/v1/vaults/%s/auto-claim", c.baseURL, url.PathEscape(vaultState))
	req, err := http.NewRequestWithContext(ctx, "PUT", u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// DisableAutoClaim deletes a vault's reward-claim schedule.
func (c *Client) DisableAutoClaim(ctx context.Context, vaultState string) error {
	u := fmt.Sprintf("%s/api/v1/vaults/%s/auto-claim", c.baseURL, url.PathEscape(vaultState))
	req, err := http.NewRequestWithContext(ctx, "DELETE", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return c.parseErrorResponse(resp)
	}
	return nil
}

// parseErrorResponse attempts to parse an error response from the server.
func (c *Client) parseErrorResponse(resp *http.Response) error {
	var errResp struct {
		Error string `json:"error"`
	}

	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &errResp); err != nil || errResp.Error == "" {
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return fmt.Errorf("request failed: %s", errResp.Error)
}
