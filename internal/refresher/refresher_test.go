package refresher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/uniplex/gate/internal/cachestore"
	"github.com/uniplex/gate/internal/shared/retry"
)

func newStore(t *testing.T) *cachestore.Store {
	t.Helper()
	store, err := cachestore.New(cachestore.DefaultTTLConfig(), cachestore.FailClosed, nil)
	if err != nil {
		t.Fatalf("cachestore.New: %v", err)
	}
	return store
}

func TestRefreshAllPopulatesStoreFromUpstream(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/gates/gate-1/catalog", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"version":                1,
			"min_compatible_version": 1,
			"permissions":            []interface{}{},
			"published_at":           time.Now(),
		})
	})
	mux.HandleFunc("/gates/gate-1/revocations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"passport_ids": []string{"cred-1"}})
	})
	mux.HandleFunc("/issuers/keys", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"keys": map[string]string{}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	store := newStore(t)
	r := New(Config{GateID: "gate-1", BaseURL: srv.URL}, store, srv.Client(), nil)
	r.refreshAll(context.Background())

	cat, fresh := store.Catalog()
	if cat == nil || !fresh {
		t.Fatalf("expected fresh catalog, got %v fresh=%v", cat, fresh)
	}
	revoked, fresh := store.IsRevoked("cred-1")
	if !revoked || !fresh {
		t.Fatalf("expected cred-1 revoked and fresh, got revoked=%v fresh=%v", revoked, fresh)
	}
}

func TestRefreshCatalogReturnsTransportErrorAndStoresNothing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newStore(t)
	r := New(Config{GateID: "gate-1", BaseURL: srv.URL, Retry: retry.Config{MaxAttempts: 1}}, store, srv.Client(), nil)

	err := r.refreshCatalog(context.Background())
	if err == nil {
		t.Fatal("expected an error from refreshCatalog")
	}
	if _, fresh := store.Catalog(); fresh {
		t.Fatal("expected no fresh catalog after a failed refresh")
	}
}

func TestIssueSafeDefaultPostsSessionID(t *testing.T) {
	var gotSessionID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SessionID string `json:"session_id"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotSessionID = body.SessionID
		json.NewEncoder(w).Encode(map[string]interface{}{
			"passport": map[string]interface{}{
				"credential_id": "cred-safe",
				"issuer_id":     "gate-1",
			},
		})
	}))
	defer srv.Close()

	store := newStore(t)
	r := New(Config{GateID: "gate-1", BaseURL: srv.URL}, store, srv.Client(), nil)
	cred, err := r.IssueSafeDefault(context.Background(), "sess-42")
	if err != nil {
		t.Fatalf("IssueSafeDefault: %v", err)
	}
	if cred.CredentialID != "cred-safe" || gotSessionID != "sess-42" {
		t.Fatalf("got cred=%+v sessionID=%q", cred, gotSessionID)
	}
}
