package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// StatusEvent is one operation status update from the server's event stream.
type StatusEvent struct {
	WalletAddress string    `json:"wallet_address"`
	Operation     string    `json:"operation"`
	Phase         string    `json:"phase"`
	StepIndex     int       `json:"step_index"`
	TotalSteps    int       `json:"total_steps"`
	Signature     string    `json:"signature,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
}

// Terminal reports whether the event marks the end of an operation.
func (e *StatusEvent) Terminal() bool {
	return e.Phase == "success" || e.Phase == "error"
}

// Stream subscribes to the server's SSE endpoint and invokes handler for each
// status event. An empty wallet streams events for all wallets. Stream blocks
// until ctx is cancelled, the connection drops, or handler returns an error.
func (c *Client) Stream(ctx context.Context, wallet string, handler func(*StatusEvent) error) error {
	u := c.baseURL + "/api/v1/stream/operations"
	if wallet != "" {
		u += "/" + wallet
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	// The streaming connection must not be bounded by the default client
	// timeout.
	httpClient := &http.Client{
		Transport: c.httpClient.Transport,
		Timeout:   0,
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.parseErrorResponse(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	var currentEvent, currentData string

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line terminates an event
		if line == "" {
			if currentEvent != "" && currentData != "" {
				if err := c.handleStreamEvent(currentEvent, currentData, handler); err != nil {
					if err == errStopStream {
						return nil
					}
					return err
				}
			}
			currentEvent = ""
			currentData = ""
			continue
		}

		if strings.HasPrefix(line, "event:") {
			currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			currentData = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("error reading stream: %w", err)
	}
	return nil
}

// errStopStream signals a deliberate early exit from Stream.
var errStopStream = fmt.Errorf("stop stream")

// Await streams status events for a wallet until one matches, then returns
// it. Bound the wait through ctx.
func (c *Client) Await(ctx context.Context, wallet string, matcher func(*StatusEvent) bool) (*StatusEvent, error) {
	var matched *StatusEvent
	err := c.Stream(ctx, wallet, func(event *StatusEvent) error {
		if matcher(event) {
			matched = event
			return errStopStream
		}
		return nil
	})
	if matched != nil {
		return matched, nil
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("stream ended before a matching event arrived")
}

func (c *Client) handleStreamEvent(eventType, data string, handler func(*StatusEvent) error) error {
	switch eventType {
	case "connected":
		c.logger.Debug("stream connected", "info", data)
		return nil

	case "status":
		var event StatusEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			return fmt.Errorf("failed to decode status event: %w", err)
		}
		return handler(&event)

	case "error":
		var errInfo struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &errInfo); err != nil {
			return fmt.Errorf("server error: %s", data)
		}
		return fmt.Errorf("server error: %s", errInfo.Error)

	default:
		// Unknown event type, ignore
		return nil
	}
}
