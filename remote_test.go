package loreline

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testOp(id, entityID string) Operation {
	return Operation{
		ID:        id,
		Kind:      KindElement,
		EntityID:  entityID,
		Verb:      VerbUpdate,
		Payload:   json.RawMessage(`{"name":"Mara"}`),
		UpdatedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
}

func TestHTTPRemoteClientSubmit(t *testing.T) {
	var gotEnvelope remoteEnvelope
	var gotIdempotencyKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdempotencyKey = r.Header.Get("Idempotency-Key")
		body := io.Reader(r.Body)
		if r.Header.Get("Content-Encoding") == "gzip" {
			zr, err := gzip.NewReader(r.Body)
			if err != nil {
				t.Errorf("gzip reader: %v", err)
			}
			body = zr
		}
		if err := json.NewDecoder(body).Decode(&gotEnvelope); err != nil {
			t.Errorf("decode envelope: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	client, err := NewHTTPRemoteClient(HTTPRemoteClientConfig{
		Endpoint:          srv.URL,
		EnableCompression: true,
	})
	if err != nil {
		t.Fatalf("NewHTTPRemoteClient: %v", err)
	}

	op := testOp("op-1", "hero")
	if err := client.Submit(context.Background(), op); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if gotIdempotencyKey != "op-1" {
		t.Errorf("Idempotency-Key = %q", gotIdempotencyKey)
	}
	if gotEnvelope.OperationID != "op-1" || gotEnvelope.TargetID != "hero" || gotEnvelope.Verb != VerbUpdate {
		t.Errorf("envelope = %+v", gotEnvelope)
	}
}

func TestHTTPRemoteClientClassifiesResponses(t *testing.T) {
	remoteTime := time.Date(2026, 8, 29, 9, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		status int
		body   any
		want   FailureClass
	}{
		{"created", http.StatusCreated, nil, FailureUnknown}, // nil error
		{"conflict", http.StatusConflict, remoteFailure{RemoteUpdatedAt: remoteTime}, FailureConflict},
		{"throttled", http.StatusTooManyRequests, nil, FailureTransient},
		{"bad request", http.StatusBadRequest, remoteFailure{Reason: "unknown category"}, FailurePermanent},
		{"server error", http.StatusInternalServerError, nil, FailureTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				if tc.body != nil {
					_ = json.NewEncoder(w).Encode(tc.body)
				}
			}))
			defer srv.Close()

			client, err := NewHTTPRemoteClient(HTTPRemoteClientConfig{Endpoint: srv.URL})
			if err != nil {
				t.Fatalf("NewHTTPRemoteClient: %v", err)
			}

			err = client.Submit(context.Background(), testOp("op-1", "hero"))
			if tc.want == FailureUnknown {
				if err != nil {
					t.Fatalf("Submit = %v, want success", err)
				}
				return
			}
			if got := ClassifyError(err); got != tc.want {
				t.Errorf("class = %s, want %s (err: %v)", got, tc.want, err)
			}
			if tc.want == FailureConflict {
				var se *SyncError
				if !errors.As(err, &se) || !se.RemoteUpdatedAt.Equal(remoteTime) {
					t.Errorf("RemoteUpdatedAt not propagated: %v", err)
				}
			}
		})
	}
}

func TestHTTPRemoteClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drain the body so the server detects the client disconnect and
		// cancels the request context; otherwise Close hangs on this conn.
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer srv.Close()

	client, err := NewHTTPRemoteClient(HTTPRemoteClientConfig{
		Endpoint:       srv.URL,
		RequestTimeout: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewHTTPRemoteClient: %v", err)
	}

	err = client.Submit(context.Background(), testOp("op-1", "hero"))
	if err == nil {
		t.Fatal("Submit succeeded despite hung server")
	}
	if got := ClassifyError(err); got != FailureTransient {
		t.Errorf("timeout class = %s, want transient", got)
	}
}

func TestHTTPRemoteClientRequiresEndpoint(t *testing.T) {
	if _, err := NewHTTPRemoteClient(HTTPRemoteClientConfig{}); err == nil {
		t.Error("empty endpoint accepted")
	}
}
