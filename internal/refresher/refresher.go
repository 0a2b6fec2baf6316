// Package refresher periodically pulls catalog, revocation, and issuer-key
// snapshots from the upstream authority API into a cachestore.Store: the
// cache refreshes in the background, and a prior snapshot stays
// authoritative until a refresh succeeds. Transport and decode errors are
// logged and swallowed so a flaky upstream never disturbs already-cached
// traffic; retry/backoff reuses internal/shared/retry.
package refresher

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/uniplex/gate/internal/cachestore"
	"github.com/uniplex/gate/internal/gatetypes"
	"github.com/uniplex/gate/internal/shared/circuitbreaker"
	"github.com/uniplex/gate/internal/shared/retry"
)

// Config controls polling cadence and upstream addressing.
type Config struct {
	GateID         string
	BaseURL        string
	GateSecret     string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Retry          retry.Config
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 5 * time.Second
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry = retry.DefaultConfig()
	}
	return c
}

// Refresher drives cachestore.Store from the upstream authority.
type Refresher struct {
	cfg     Config
	store   *cachestore.Store
	client  *http.Client
	logger  *slog.Logger
	breaker *circuitbreaker.CircuitBreaker
}

// New constructs a Refresher. client may be nil to use http.DefaultClient.
// A circuit breaker sits outside the per-call retry/backoff: once the
// upstream authority API fails enough consecutive poll cycles, the breaker
// opens and subsequent cycles fail fast for ResetTimeout instead of each
// burning through a full retry budget against a host that is known to be
// down.
func New(cfg Config, store *cachestore.Store, client *http.Client, logger *slog.Logger) *Refresher {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	resolved := cfg.withDefaults()
	return &Refresher{
		cfg:    resolved,
		store:  store,
		client: client,
		logger: logger,
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:         "upstream_authority:" + cfg.GateID,
			MaxFailures:  3,
			Timeout:      resolved.RequestTimeout * time.Duration(resolved.Retry.MaxAttempts+1),
			ResetTimeout: resolved.PollInterval * 3,
			OnStateChange: func(name string, from, to circuitbreaker.State) {
				logger.Warn("circuit breaker state change", "breaker", name, "from", breakerStateName(from), "to", breakerStateName(to))
			},
		}),
	}
}

// Run polls on cfg.PollInterval until ctx is cancelled. It refreshes once
// immediately so a freshly started gate does not serve on an empty cache
// for a full interval.
func (r *Refresher) Run(ctx context.Context) {
	r.refreshAll(ctx)

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func breakerStateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.StateOpen:
		return "open"
	case circuitbreaker.StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

func (r *Refresher) refreshAll(ctx context.Context) {
	if err := r.refreshCatalog(ctx); err != nil {
		r.logger.Warn("catalog refresh failed, keeping prior snapshot", "error", err)
	}
	if err := r.refreshRevocations(ctx); err != nil {
		r.logger.Warn("revocation refresh failed, keeping prior snapshot", "error", err)
	}
	if err := r.refreshIssuerKeys(ctx); err != nil {
		r.logger.Warn("issuer key refresh failed, keeping prior snapshot", "error", err)
	}
}

// catalogResponse is the upstream wire shape for GET .../catalog: a flat,
// single-version document with no gate-id wrapper. The gate-id and
// per-version index are gatetypes.Catalog's own bookkeeping, not part of
// what the authority publishes.
type catalogResponse struct {
	Version              int                    `json:"version"`
	MinCompatibleVersion int                    `json:"min_compatible_version"`
	Permissions          []gatetypes.Permission `json:"permissions"`
	PublishedAt          time.Time              `json:"published_at"`
}

func (r *Refresher) refreshCatalog(ctx context.Context) error {
	var resp catalogResponse
	url := fmt.Sprintf("%s/gates/%s/catalog", strings.TrimRight(r.cfg.BaseURL, "/"), r.cfg.GateID)
	if err := r.fetchJSON(ctx, url, &resp); err != nil {
		return err
	}
	cat := &gatetypes.Catalog{
		GateID:               r.cfg.GateID,
		MinCompatibleVersion: resp.MinCompatibleVersion,
		Current: gatetypes.CatalogVersionData{
			Version:     resp.Version,
			Permissions: resp.Permissions,
			PublishedAt: resp.PublishedAt,
		},
	}
	r.store.SetCatalog(cat)
	return nil
}

type revocationResponse struct {
	PassportIDs []string `json:"passport_ids"`
}

func (r *Refresher) refreshRevocations(ctx context.Context) error {
	var resp revocationResponse
	url := fmt.Sprintf("%s/gates/%s/revocations", strings.TrimRight(r.cfg.BaseURL, "/"), r.cfg.GateID)
	if err := r.fetchJSON(ctx, url, &resp); err != nil {
		return err
	}
	ids := make(map[string]struct{}, len(resp.PassportIDs))
	for _, id := range resp.PassportIDs {
		ids[id] = struct{}{}
	}
	r.store.SetRevocations(ids)
	return nil
}

type issuerKeysResponse struct {
	Keys map[string]string `json:"keys"` // issuer_id -> hex-encoded ed25519 public key
}

func (r *Refresher) refreshIssuerKeys(ctx context.Context) error {
	var resp issuerKeysResponse
	url := fmt.Sprintf("%s/issuers/keys", strings.TrimRight(r.cfg.BaseURL, "/"))
	if err := r.fetchJSON(ctx, url, &resp); err != nil {
		return err
	}
	keys := make(map[string]ed25519.PublicKey, len(resp.Keys))
	for issuerID, hexKey := range resp.Keys {
		raw, err := hex.DecodeString(strings.TrimPrefix(hexKey, "0x"))
		if err != nil {
			r.logger.Warn("skipping malformed issuer key", "issuer_id", issuerID, "error", err)
			continue
		}
		keys[issuerID] = ed25519.PublicKey(raw)
	}
	r.store.SetIssuerKeys(keys)
	return nil
}

// IssueSafeDefault implements session.Bootstrapper by calling the upstream
// safe-default passport endpoint.
func (r *Refresher) IssueSafeDefault(ctx context.Context, sessionID string) (*gatetypes.Credential, error) {
	url := fmt.Sprintf("%s/gates/%s/passports/safe-default", strings.TrimRight(r.cfg.BaseURL, "/"), r.cfg.GateID)
	body, err := json.Marshal(map[string]string{"session_id": sessionID})
	if err != nil {
		return nil, err
	}
	var envelope struct {
		Passport gatetypes.Credential `json:"passport"`
	}
	err = retry.WithExponentialBackoffContext(ctx, r.cfg.Retry, func(ctx context.Context) error {
		reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, strings.NewReader(string(body)))
		if err != nil {
			return retry.NonRetryable(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+r.cfg.GateSecret)
		resp, err := r.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("safe-default passport request returned %d", resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(&envelope)
	})
	if err != nil {
		return nil, err
	}
	return &envelope.Passport, nil
}

func (r *Refresher) fetchJSON(ctx context.Context, url string, dst interface{}) error {
	return r.breaker.Call(ctx, func(ctx context.Context) error {
		return retry.WithExponentialBackoffContext(ctx, r.cfg.Retry, func(ctx context.Context) error {
			reqCtx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
			defer cancel()
			req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
			if err != nil {
				return retry.NonRetryable(err)
			}
			req.Header.Set("Authorization", "Bearer "+r.cfg.GateSecret)
			resp, err := r.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, string(data))
			}
			if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
				return retry.NonRetryable(fmt.Errorf("decode response from %s: %w", url, err))
			}
			return nil
		})
	})
}
