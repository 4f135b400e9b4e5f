package loreline

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPDoer abstracts the HTTP client for testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RemoteClient submits queued operations to the remote persistence
// service. The remote must be idempotent on operation id: repeated
// submission of an already-applied id is a no-op success. That contract
// is what lets the queue offer at-least-once durability without
// duplicate remote side effects.
type RemoteClient interface {
	// Submit replays one operation. A nil return means confirmed.
	// Non-nil errors must classify via ClassifyError into transient,
	// permanent, or conflict.
	Submit(ctx context.Context, op Operation) error
}

// remoteEnvelope is the wire form of a submitted operation.
type remoteEnvelope struct {
	OperationID string          `json:"operation_id"`
	EntityKind  EntityKind      `json:"entity_kind"`
	Verb        Verb            `json:"verb"`
	TargetID    string          `json:"target_id"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// remoteFailure is the wire form of a rejection response.
type remoteFailure struct {
	Reason          string    `json:"reason,omitempty"`
	RemoteUpdatedAt time.Time `json:"remote_updated_at,omitempty"`
}

// HTTPRemoteClientConfig configures the HTTP remote client.
type HTTPRemoteClientConfig struct {
	// Endpoint is the base URL of the remote persistence service.
	Endpoint string

	// RequestTimeout bounds each submission attempt. Default: 10s.
	RequestTimeout time.Duration

	// EnableCompression gzips request bodies.
	EnableCompression bool

	// HTTPClient overrides the default client.
	HTTPClient HTTPDoer
}

// HTTPRemoteClient implements RemoteClient over a REST-like interface:
// POST {endpoint}/operations with a JSON envelope.
type HTTPRemoteClient struct {
	config HTTPRemoteClientConfig
	client HTTPDoer
}

// NewHTTPRemoteClient creates a client for the remote service.
func NewHTTPRemoteClient(config HTTPRemoteClientConfig) (*HTTPRemoteClient, error) {
	if config.Endpoint == "" {
		return nil, errors.New("remote endpoint required")
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 10 * time.Second
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.RequestTimeout}
	}
	return &HTTPRemoteClient{config: config, client: client}, nil
}

// Submit sends one operation and classifies the outcome.
func (c *HTTPRemoteClient) Submit(ctx context.Context, op Operation) error {
	body, err := json.Marshal(remoteEnvelope{
		OperationID: op.ID,
		EntityKind:  op.Kind,
		Verb:        op.Verb,
		TargetID:    op.EntityID,
		Payload:     op.Payload,
		UpdatedAt:   op.UpdatedAt,
	})
	if err != nil {
		return newSyncError(FailurePermanent, op.ID, "encode envelope", err)
	}

	var reader io.Reader = bytes.NewReader(body)
	if c.config.EnableCompression {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(body); err != nil {
			return newSyncError(FailurePermanent, op.ID, "compress envelope", err)
		}
		if err := zw.Close(); err != nil {
			return newSyncError(FailurePermanent, op.ID, "compress envelope", err)
		}
		reader = &buf
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint+"/operations", reader)
	if err != nil {
		return newSyncError(FailurePermanent, op.ID, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", op.ID)
	if c.config.EnableCompression {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return newSyncError(FailureTransient, op.ID, "submission timed out", ErrOperationTimeout)
		}
		return newSyncError(FailureTransient, op.ID, "submission failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return c.classifyResponse(op.ID, resp)
}

func (c *HTTPRemoteClient) classifyResponse(opID string, resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil

	case resp.StatusCode == http.StatusConflict:
		var failure remoteFailure
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		se := newSyncError(FailureConflict, opID, "remote refused stale operation", ErrConflict)
		se.RemoteUpdatedAt = failure.RemoteUpdatedAt
		return se

	case resp.StatusCode == http.StatusTooManyRequests:
		return newSyncError(FailureTransient, opID, "remote throttled submission", nil)

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var failure remoteFailure
		_ = json.NewDecoder(resp.Body).Decode(&failure)
		reason := failure.Reason
		if reason == "" {
			reason = fmt.Sprintf("remote rejected with status %d", resp.StatusCode)
		}
		return newSyncError(FailurePermanent, opID, reason, nil)

	default:
		return newSyncError(FailureTransient, opID,
			fmt.Sprintf("remote returned status %d", resp.StatusCode), nil)
	}
}
