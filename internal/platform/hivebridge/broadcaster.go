// Package hivebridge is the client for the ledger signing bridge, a separate
// hardened process that holds the escrow account's ledger key. This process
// builds transfer operations and hands them over HMAC-authenticated HTTP; it
// never touches the key itself.
package hivebridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hivepredict/hivepredict/internal/crypto"
	"github.com/hivepredict/hivepredict/internal/domain"
)

const broadcastPath = "/v1/broadcast"

// Broadcaster submits transfer operations to the signing bridge. It
// implements domain.Broadcaster.
type Broadcaster struct {
	baseURL    string
	auth       *crypto.BridgeAuth
	maxRetries int
	retryDelay time.Duration
	httpClient *http.Client
	logger     *slog.Logger
}

// NewBroadcaster creates a Broadcaster for the bridge at baseURL.
func NewBroadcaster(baseURL string, auth *crypto.BridgeAuth, timeout time.Duration, maxRetries int, logger *slog.Logger) *Broadcaster {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Broadcaster{
		baseURL:    strings.TrimRight(baseURL, "/"),
		auth:       auth,
		maxRetries: maxRetries,
		retryDelay: 2 * time.Second,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "bridge_broadcaster")),
	}
}

// broadcastRequest is the bridge request envelope.
type broadcastRequest struct {
	Operations []domain.TransferOp `json:"operations"`
}

// broadcastResponse is the bridge response envelope.
type broadcastResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Broadcast submits the operations as one batch. Transport failures and
// 5xx responses are retried up to the configured bound; a bridge-level
// rejection (success=false) is final since the bridge already validated and
// refused the batch.
func (b *Broadcaster) Broadcast(ctx context.Context, ops []domain.TransferOp) error {
	if len(ops) == 0 {
		return nil
	}

	body, err := json.Marshal(broadcastRequest{Operations: ops})
	if err != nil {
		return fmt.Errorf("hivebridge: marshal operations: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= b.maxRetries; attempt++ {
		err := b.post(ctx, body)
		if err == nil {
			return nil
		}
		if _, final := err.(*RejectedError); final {
			return err
		}
		lastErr = err

		if attempt == b.maxRetries {
			break
		}

		b.logger.WarnContext(ctx, "broadcast attempt failed, retrying",
			slog.Int("attempt", attempt),
			slog.Int("ops", len(ops)),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(b.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("hivebridge: broadcast failed after %d attempts: %w", b.maxRetries, lastErr)
}

// RejectedError is a bridge-level refusal. It is final: the bridge received
// and understood the batch and declined to sign it.
type RejectedError struct {
	Message string
}

func (e *RejectedError) Error() string {
	return "hivebridge: bridge rejected batch: " + e.Message
}

func (b *Broadcaster) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+broadcastPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range b.auth.Headers(http.MethodPost, broadcastPath, string(body)) {
		req.Header.Set(k, v)
	}

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	if resp.StatusCode != http.StatusOK {
		// 4xx means the bridge refused the request; retrying the same
		// payload cannot succeed.
		return &RejectedError{Message: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, string(respBody))}
	}

	var parsed broadcastResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if !parsed.Success {
		return &RejectedError{Message: parsed.Error}
	}
	return nil
}
