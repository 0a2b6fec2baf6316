// Command gate runs the Local Permission Gate: it loads configuration from
// the environment, starts the background catalog/revocation/issuer-key
// refresher, and serves the gate's HTTP surface (tool invocation, health,
// and metrics endpoints).
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/uniplex/gate/internal/audit"
	"github.com/uniplex/gate/internal/billing"
	"github.com/uniplex/gate/internal/cachestore"
	"github.com/uniplex/gate/internal/constraint"
	"github.com/uniplex/gate/internal/gateconfig"
	"github.com/uniplex/gate/internal/gatetypes"
	"github.com/uniplex/gate/internal/metrics"
	"github.com/uniplex/gate/internal/pipeline"
	"github.com/uniplex/gate/internal/ratelimit"
	"github.com/uniplex/gate/internal/receipt"
	"github.com/uniplex/gate/internal/refresher"
	"github.com/uniplex/gate/internal/session"
	"github.com/uniplex/gate/internal/shared/health"
	"github.com/uniplex/gate/internal/shared/httpx"
	"github.com/uniplex/gate/internal/shared/observability"
	"github.com/uniplex/gate/internal/shared/tlsconfig"
	"github.com/uniplex/gate/internal/toolwrapper"
)

func main() {
	logger := observability.NewLogger("gate")

	cfg, err := gateconfig.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger = logger.With("gate_id", cfg.GateID)

	shutdownTracing, err := observability.SetupTracing(context.Background(), "gate", os.Getenv("UNIPLEX_OTLP_ENDPOINT"))
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	store, err := cachestore.New(cachestore.TTLConfig{
		Catalog:    cfg.Cache.CatalogMaxAge,
		Revocation: cfg.Cache.RevocationMaxAge,
		Keys:       cfg.Cache.CatalogMaxAge,
	}, cfg.Cache.FailMode, cfg.Cache.FailModeOverrides)
	if err != nil {
		logger.Error("failed to construct cache store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	reg := metrics.New()

	limiter := newLimiter(cfg, logger)
	if addr := os.Getenv("UNIPLEX_REDIS_ADDR"); addr != "" {
		store.EnableDistributedLayer(redis.NewClient(&redis.Options{Addr: addr}),
			func() { reg.ObserveCacheLayer("hit") },
			func() { reg.ObserveCacheLayer("miss") },
		)
	}

	refresh := refresher.New(refresher.Config{
		GateID:     cfg.GateID,
		BaseURL:    cfg.UniplexAPIURL,
		GateSecret: cfg.GateSecret,
	}, store, nil, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go refresh.Run(ctx)

	var anonPolicy *pipeline.AnonymousPolicy
	if cfg.Anonymous.Enabled {
		allowed := make(map[string]bool, len(cfg.Anonymous.AllowedActions))
		for _, a := range cfg.Anonymous.AllowedActions {
			allowed[a] = true
		}
		anonPolicy = &pipeline.AnonymousPolicy{
			Enabled:        true,
			AllowedActions: allowed,
			RateLimit:      cfg.Anonymous.RateLimitPerMinute,
			UpgradeMessage: cfg.Anonymous.UpgradeMessage,
		}
	}

	pl := pipeline.New(store, limiter)
	sessions := session.New(session.Config{})
	wrapper := toolwrapper.New(pl, logger)
	wrapper.AnonymousPolicy = anonPolicy

	trail := buildAuditTrail(cfg, logger)
	wrapper.AuditEnabled = cfg.Audit.Enabled
	wrapper.CommerceEnabled = cfg.Commerce.Enabled
	wrapper.OnAudit = func(ctx context.Context, toolName string, cred *gatetypes.Credential, duration time.Duration, result gatetypes.VerifyResult) {
		reg.ObserveDecision(toolName, result.Decision, duration.Seconds())
		if result.Decision != "permit" && result.Denial != nil {
			reg.ObserveDenial(toolName, result.Denial.Code)
		}
		sessionID := ""
		if cred != nil {
			sessionID = cred.SubjectID
		}
		ev := audit.FromVerifyResult(cfg.GateID, sessionID, toolName, result, nil, nil, cfg.Audit.LogInputs, cfg.Audit.LogOutputs)
		trail.Record(ctx, ev)
	}

	var billingMu sync.Mutex
	var receiptLedger []gatetypes.ConsumptionReceipt
	signingKey := ed25519KeyFromEnv(cfg.Commerce.SigningKeyID, logger)
	wrapper.OnReceipt = func(ctx context.Context, toolName string, cred *gatetypes.Credential, _ constraint.RequestContext, effective gatetypes.ConstraintMap) {
		if cred == nil || signingKey == nil {
			return
		}
		r, err := receipt.Issue(receipt.IssueInput{
			GateID:               cfg.GateID,
			SubjectID:            cred.SubjectID,
			CredentialID:         cred.CredentialID,
			PermissionKey:        toolName,
			EffectiveConstraints: effective,
			RequestNonce:         uuid.NewString(),
			KeyID:                cfg.Commerce.SigningKeyID,
			Sign:                 receipt.Ed25519Signer(signingKey),
			ReceiptID:            uuid.NewString(),
			Now:                  time.Now(),
		})
		if err != nil {
			logger.Warn("failed to issue receipt", "tool", toolName, "error", err)
			return
		}
		reg.ObserveReceiptIssued(toolName)
		billingMu.Lock()
		receiptLedger = append(receiptLedger, r)
		billingMu.Unlock()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())

	mux.HandleFunc("/v1/billing/summary", func(w http.ResponseWriter, r *http.Request) {
		billingMu.Lock()
		pending := groupReceipts(receiptLedger)
		receiptLedger = receiptLedger[:0]
		billingMu.Unlock()

		if len(pending) == 0 {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		now := time.Now()
		summaries := make([]billing.Summary, 0, len(pending))
		for _, group := range pending {
			summary, err := billing.Aggregate(group, now.Add(-time.Hour), now)
			if err != nil {
				httpx.WriteJSON(w, http.StatusUnprocessableEntity, httpx.ErrorResponse{Error: err.Error()})
				return
			}
			summaries = append(summaries, summary)
		}
		httpx.WriteJSON(w, http.StatusOK, summaries)
	})

	hc := health.New()
	hc.Register(health.NewSnapshotChecker("catalog_cache", func(ctx context.Context) error {
		if _, fresh := store.Catalog(); !fresh {
			return errStaleCatalog
		}
		return nil
	}))
	hc.Register(health.NewSnapshotChecker("issuer_keys_cache", func(ctx context.Context) error {
		if !store.IssuerKeysFresh() {
			return errStaleIssuerKeys
		}
		return nil
	}))
	hc.Register(health.NewSnapshotChecker("revocation_cache", func(ctx context.Context) error {
		if s := store.RevocationStaleness(); s > cfg.Cache.RevocationMaxAge {
			return fmt.Errorf("revocation snapshot is %s old, max age %s", s, cfg.Cache.RevocationMaxAge)
		}
		return nil
	}))
	mux.Handle("/healthz", hc.Handler())
	mux.Handle("/readyz", health.ReadinessHandler(hc))
	mux.Handle("/livez", health.LivenessHandler())

	tokens := sessionTokenIssuerFromEnv(logger)
	mux.HandleFunc("/v1/tools/invoke", func(w http.ResponseWriter, r *http.Request) {
		handleInvoke(w, r, wrapper, sessions, refresh, tokens)
	})

	handler := observability.HTTPMiddleware("gate")(mux)
	srv := &http.Server{Addr: ":8080", Handler: handler}
	tlsCfg, err := loadOptionalTLSConfig()
	if err != nil {
		logger.Error("failed to load TLS configuration", "error", err)
		os.Exit(1)
	}
	go func() {
		if tlsCfg != nil {
			srv.TLSConfig = tlsCfg
			logger.Info("gate listening (tls)", "addr", srv.Addr)
			if err := srv.ListenAndServeTLS("", ""); err != nil && err != http.ErrServerClosed {
				logger.Error("server failed", "error", err)
			}
			return
		}
		logger.Info("gate listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

var (
	errStaleCatalog    = &staleCatalogError{}
	errStaleIssuerKeys = &staleIssuerKeysError{}
)

type staleCatalogError struct{}

func (e *staleCatalogError) Error() string { return "catalog cache is stale" }

type staleIssuerKeysError struct{}

func (e *staleIssuerKeysError) Error() string { return "issuer key cache is stale" }

func newLimiter(cfg *gateconfig.Config, logger *slog.Logger) ratelimit.Limiter {
	addr := os.Getenv("UNIPLEX_REDIS_ADDR")
	if addr == "" {
		return ratelimit.NewInMemory()
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	logger.Info("using redis-backed rate limiter", "addr", addr)
	return ratelimit.NewRedisLimiter(client, "gate:"+cfg.GateID)
}

// loadOptionalTLSConfig returns nil (plain HTTP) unless both
// UNIPLEX_TLS_CERT_FILE and UNIPLEX_TLS_KEY_FILE are set, in which case it
// builds a TLS config with secure defaults (TLS 1.3 floor,
// optional mTLS via UNIPLEX_TLS_CLIENT_CA_FILE).
func loadOptionalTLSConfig() (*tls.Config, error) {
	certFile := os.Getenv("UNIPLEX_TLS_CERT_FILE")
	keyFile := os.Getenv("UNIPLEX_TLS_KEY_FILE")
	if certFile == "" || keyFile == "" {
		return nil, nil
	}
	return tlsconfig.LoadServerTLSConfig(tlsconfig.Config{
		CertFile:          certFile,
		KeyFile:           keyFile,
		ClientCAFile:      os.Getenv("UNIPLEX_TLS_CLIENT_CA_FILE"),
		RequireClientCert: os.Getenv("UNIPLEX_TLS_REQUIRE_CLIENT_CERT") == "true",
	})
}

func buildAuditTrail(cfg *gateconfig.Config, logger *slog.Logger) *audit.Trail {
	if !cfg.Audit.Enabled {
		return audit.New(audit.Mode(cfg.Audit.Mode), 1, logger)
	}
	sinks := []audit.Sink{audit.SlogSink{Logger: logger}}
	if cfg.Audit.WebhookURL != "" {
		sinks = append(sinks, audit.WebhookSink{URL: cfg.Audit.WebhookURL})
	}
	return audit.New(audit.Mode(cfg.Audit.Mode), 10, logger, sinks...)
}

// groupReceipts buckets receipts by (gate_id, subject_id), since
// billing.Aggregate requires a homogeneous list.
func groupReceipts(receipts []gatetypes.ConsumptionReceipt) [][]gatetypes.ConsumptionReceipt {
	groups := make(map[string][]gatetypes.ConsumptionReceipt)
	var order []string
	for _, r := range receipts {
		key := r.GateID + "\x00" + r.SubjectID
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], r)
	}
	out := make([][]gatetypes.ConsumptionReceipt, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	return out
}

func ed25519KeyFromEnv(keyID string, logger *slog.Logger) ed25519.PrivateKey {
	if keyID == "" {
		return nil
	}
	raw := os.Getenv("UNIPLEX_SIGNING_KEY_" + strings.ToUpper(keyID))
	if raw == "" {
		return nil
	}
	key, err := hex.DecodeString(strings.TrimPrefix(raw, "0x"))
	if err != nil || len(key) != ed25519.PrivateKeySize {
		logger.Warn("ignoring malformed signing key", "key_id", keyID)
		return nil
	}
	return ed25519.PrivateKey(key)
}

// sessionTokenIssuerFromEnv returns nil unless UNIPLEX_SESSION_TOKEN_SECRET
// is set, in which case clients may present a session_token instead of a
// raw session_id on later requests (see session.TokenIssuer).
func sessionTokenIssuerFromEnv(logger *slog.Logger) *session.TokenIssuer {
	secret := os.Getenv("UNIPLEX_SESSION_TOKEN_SECRET")
	if secret == "" {
		return nil
	}
	ttl := time.Hour
	if raw := os.Getenv("UNIPLEX_SESSION_TOKEN_TTL_MINUTES"); raw != "" {
		if minutes, err := time.ParseDuration(raw + "m"); err == nil {
			ttl = minutes
		} else {
			logger.Warn("ignoring malformed UNIPLEX_SESSION_TOKEN_TTL_MINUTES", "value", raw)
		}
	}
	return session.NewTokenIssuer([]byte(secret), ttl)
}

type invokeRequest struct {
	SessionID    string          `json:"session_id"`
	SessionToken string          `json:"session_token"`
	Tool         string          `json:"tool"`
	Input        json.RawMessage `json:"input"`
}

type invokeResponse struct {
	Result       interface{} `json:"result"`
	SessionToken string      `json:"session_token,omitempty"`
}

// handleInvoke resolves the caller's session, either from a plaintext
// session_id (first contact) or a previously issued session_token (proof of
// an existing session with no server-side lookup required when tokens is
// non-nil), then runs the tool invocation and, if tokens is configured,
// returns a freshly signed token binding the resolved session id.
func handleInvoke(w http.ResponseWriter, r *http.Request, wrapper *toolwrapper.Wrapper, sessions *session.Store, boot session.Bootstrapper, tokens *session.TokenIssuer) {
	var req invokeRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, httpx.ErrorResponse{Error: "invalid request body"})
		return
	}

	sessionID := req.SessionID
	if tokens != nil && req.SessionToken != "" {
		sub, err := tokens.Verify(req.SessionToken)
		if err != nil {
			httpx.WriteJSON(w, http.StatusUnauthorized, httpx.ErrorResponse{Error: "invalid session token"})
			return
		}
		sessionID = sub
	}

	sess, err := sessions.GetOrCreate(r.Context(), sessionID, boot)
	if err != nil {
		httpx.WriteJSON(w, http.StatusBadGateway, httpx.ErrorResponse{Error: "failed to resolve session"})
		return
	}
	sessions.Touch(sessionID)

	result, err := wrapper.Invoke(r.Context(), req.Tool, sess.Credential, sessionID, req.Input)
	if err != nil {
		if toolErr, ok := err.(*toolwrapper.ToolError); ok {
			httpx.WriteJSON(w, http.StatusForbidden, toolErr)
			return
		}
		httpx.WriteJSON(w, http.StatusInternalServerError, httpx.ErrorResponse{Error: err.Error()})
		return
	}

	resp := invokeResponse{Result: result}
	if tokens != nil {
		signed, err := tokens.Issue(sessionID)
		if err == nil {
			resp.SessionToken = signed
		}
	}
	httpx.WriteJSON(w, http.StatusOK, resp)
}
