package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/farmseedhq/farmseed/internal/model"
)

// stubHub mimics just enough of the hub's HTTP surface to exercise the
// client: token issuance, bearer checks and a couple of data routes.
type stubHub struct {
	mux          *http.ServeMux
	issuedTokens atomic.Int64
	validToken   string
}

func newStubHub(t *testing.T) (*stubHub, *httptest.Server) {
	t.Helper()
	stub := &stubHub{mux: http.NewServeMux(), validToken: "token-1"}

	stub.mux.HandleFunc("POST /auth/device", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			DeviceID string `json:"device_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DeviceID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		stub.issuedTokens.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": stub.validToken,
			"expires_in":   3600,
			"token_type":   "Bearer",
		})
	})

	server := httptest.NewServer(stub.mux)
	t.Cleanup(server.Close)
	return stub, server
}

func (s *stubHub) authorized(r *http.Request) bool {
	return r.Header.Get("Authorization") == "Bearer "+s.validToken
}

func mustNewClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{BaseURL: baseURL, DeviceID: "dev-1"})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return client
}

func TestClientAuthenticatesLazilyAndReusesToken(t *testing.T) {
	stub, server := newStubHub(t)
	var dataCalls atomic.Int64
	stub.mux.HandleFunc("GET /farms/farm-1/data", func(w http.ResponseWriter, r *http.Request) {
		if !stub.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		dataCalls.Add(1)
		json.NewEncoder(w).Encode(rowsPayload{})
	})

	client := mustNewClient(t, server.URL)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := client.SelectAll(ctx, "farm-1"); err != nil {
			t.Fatalf("select failed: %v", err)
		}
	}

	if issued := stub.issuedTokens.Load(); issued != 1 {
		t.Fatalf("expected one token for three calls, got %d", issued)
	}
	if calls := dataCalls.Load(); calls != 3 {
		t.Fatalf("expected three data calls, got %d", calls)
	}
}

func TestClientReauthenticatesOnceOnExpiredToken(t *testing.T) {
	stub, server := newStubHub(t)
	stub.mux.HandleFunc("GET /farms/farm-1/data", func(w http.ResponseWriter, r *http.Request) {
		if !stub.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(rowsPayload{Rows: []model.Row{{ID: "e-1", FarmID: "farm-1"}}})
	})

	client := mustNewClient(t, server.URL)
	ctx := context.Background()
	if _, err := client.SelectAll(ctx, "farm-1"); err != nil {
		t.Fatalf("initial select failed: %v", err)
	}

	// The hub rotates its accepted token, invalidating the cached one.
	stub.validToken = "token-2"
	rows, err := client.SelectAll(ctx, "farm-1")
	if err != nil {
		t.Fatalf("expected transparent re-auth, got %v", err)
	}
	if len(rows) != 1 || rows[0].ID != "e-1" {
		t.Fatalf("unexpected rows after re-auth: %+v", rows)
	}
	if issued := stub.issuedTokens.Load(); issued != 2 {
		t.Fatalf("expected exactly one extra auth round trip, got %d", issued)
	}
}

func TestClientMapsNotFoundAndConflictStatuses(t *testing.T) {
	stub, server := newStubHub(t)
	stub.mux.HandleFunc("GET /farms/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	stub.mux.HandleFunc("POST /farms", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	client := mustNewClient(t, server.URL)
	ctx := context.Background()

	if _, err := client.GetFarm(ctx, "missing"); !errors.Is(err, ErrFarmNotFound) {
		t.Fatalf("expected ErrFarmNotFound, got %v", err)
	}
	if err := client.CreateFarm(ctx, Farm{ID: "farm-1"}); !errors.Is(err, ErrFarmExists) {
		t.Fatalf("expected ErrFarmExists, got %v", err)
	}
}

func TestClientUpsertSendsRowsPayload(t *testing.T) {
	stub, server := newStubHub(t)
	received := make(chan rowsPayload, 1)
	stub.mux.HandleFunc("POST /farms/farm-1/data", func(w http.ResponseWriter, r *http.Request) {
		var payload rowsPayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- payload
		w.WriteHeader(http.StatusOK)
	})

	client := mustNewClient(t, server.URL)
	rows := []model.Row{{
		ID:        "e-1",
		FarmID:    "farm-1",
		DataType:  model.DataTypeEntry,
		Data:      json.RawMessage(`{"notes":"hello"}`),
		UpdatedAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}}
	if err := client.Upsert(context.Background(), rows); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	payload := <-received
	if len(payload.Rows) != 1 || payload.Rows[0].ID != "e-1" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestClientUpsertEmptyBatchSkipsNetwork(t *testing.T) {
	client := mustNewClient(t, "http://hub.invalid")
	if err := client.Upsert(context.Background(), nil); err != nil {
		t.Fatalf("expected empty upsert to be a local no-op, got %v", err)
	}
}

func TestNewClientValidatesConfiguration(t *testing.T) {
	if _, err := NewClient(ClientConfig{DeviceID: "dev-1"}); err == nil {
		t.Fatalf("expected missing base url to be rejected")
	}
	if _, err := NewClient(ClientConfig{BaseURL: "http://hub"}); err == nil {
		t.Fatalf("expected missing device id to be rejected")
	}
}
