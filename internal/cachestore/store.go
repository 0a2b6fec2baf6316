// Package cachestore holds the gate's three independently-refreshed
// authorization snapshots (catalog, revocation set, issuer public keys)
// behind a read-mostly lock discipline. Reads never block on refresh;
// writes are whole-entry atomic replacements, so a hot-path read observes
// either the old snapshot in full or the new one in full, never a mix.
//
// Built on internal/shared/cache's multi-layer cache (Ristretto L1 + Redis
// L2): the L1 layer holds the parsed, ready-to-use snapshot for the hot
// path, while an optional L2 (Redis) layer lets a fleet of gate processes
// share one upstream refresh (see EnableDistributedLayer).
package cachestore

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/uniplex/gate/internal/gatetypes"
	"github.com/uniplex/gate/internal/shared/cache"
)

// FailMode decides what a stale cache entry means for a call.
type FailMode string

const (
	FailOpen   FailMode = "fail_open"
	FailClosed FailMode = "fail_closed"
)

// FailModeOverride is a per-action override of the default fail mode.
type FailModeOverride struct {
	FailMode         FailMode
	RevocationMaxAge time.Duration
}

// TTLConfig holds the independent freshness windows for each cache entry.
type TTLConfig struct {
	Catalog    time.Duration
	Revocation time.Duration
	Keys       time.Duration
}

// DefaultTTLConfig returns the standard freshness windows.
func DefaultTTLConfig() TTLConfig {
	return TTLConfig{
		Catalog:    5 * time.Minute,
		Revocation: 1 * time.Minute,
		Keys:       5 * time.Minute,
	}
}

type catalogEntry struct {
	catalog  *gatetypes.Catalog
	cachedAt time.Time
}

type revocationEntry struct {
	ids      map[string]struct{}
	cachedAt time.Time
}

type issuerKeyEntry struct {
	keys     map[string]ed25519.PublicKey
	cachedAt time.Time
}

// Store is the gate's in-memory authorization cache. The zero value is not
// usable; construct with New.
type Store struct {
	ttl TTLConfig

	catalog     atomic.Pointer[catalogEntry]
	revocations atomic.Pointer[revocationEntry]
	issuerKeys  atomic.Pointer[issuerKeyEntry]

	failModeDefault   FailMode
	failModeOverrides map[string]FailModeOverride

	// l1 mirrors the current catalog snapshot (key "catalog:<gate_id>") into
	// a Ristretto cache; revocation and issuer-key snapshots are held only
	// in the typed atomic pointers above. The typed accessors below never
	// read from l1.
	l1 *cache.RistrettoCache

	// l2, when enabled via EnableDistributedLayer, writes the catalog
	// snapshot through to Redis on every SetCatalog; revocation and
	// issuer-key writes are not mirrored. This is a write-through only:
	// MultiLayerCache.Get round-trips values sourced
	// from Redis as generic interface{} (its json.Unmarshal target is
	// `interface{}`), which cannot be type-asserted back to
	// *gatetypes.Catalog, so a replica without its own L1 snapshot still
	// waits on its own refresher rather than reading a peer's snapshot.
	l2 *cache.MultiLayerCache
}

// New constructs an empty Store. Populate it via SetCatalog/SetRevocations/
// SetIssuerKeys before serving traffic; the background refresher (package
// refresher) is the intended caller of those setters.
func New(ttl TTLConfig, failModeDefault FailMode, overrides map[string]FailModeOverride) (*Store, error) {
	l1, err := cache.NewRistrettoCache(1<<20, 1<<20*10)
	if err != nil {
		return nil, err
	}
	s := &Store{
		ttl:               ttl,
		failModeDefault:   failModeDefault,
		failModeOverrides: overrides,
		l1:                l1,
	}
	return s, nil
}

// EnableDistributedLayer turns on Redis write-through for SetCatalog;
// SetRevocations and SetIssuerKeys stay local to this process, and the Store
// never reads a snapshot back from Redis. onHit/onMiss, if
// non-nil, are invoked on every L2 lookup so the caller can feed a
// cache_layer_total metric without this package depending on the metrics
// package.
func (s *Store) EnableDistributedLayer(client *goredis.Client, onHit, onMiss func()) {
	s.l2 = cache.NewMultiLayerCache(s.l1, cache.NewRedisCache(client), onHit, onMiss)
}

// SetCatalog atomically replaces the current catalog snapshot. Before
// storing, it computes catalog_content_hash over the current version's
// canonical JSON rendering, so every receipt issued against this snapshot
// can pin the exact catalog content its constraints were resolved from.
func (s *Store) SetCatalog(cat *gatetypes.Catalog) {
	cat.EnsureIndex()
	if hash, err := catalogContentHash(cat.Current); err == nil {
		cat.ContentHash = hash
	}
	s.catalog.Store(&catalogEntry{catalog: cat, cachedAt: time.Now()})
	s.l1.Set("catalog:"+cat.GateID, cat, 1, s.ttl.Catalog)
	if s.l2 != nil {
		_ = s.l2.Set(context.Background(), "catalog:"+cat.GateID, cat, 1, s.ttl.Catalog)
	}
}

// Catalog returns the current catalog snapshot and whether it is fresh.
func (s *Store) Catalog() (*gatetypes.Catalog, bool) {
	e := s.catalog.Load()
	if e == nil {
		return nil, false
	}
	return e.catalog, s.isFresh(e.cachedAt, s.ttl.Catalog)
}

// SetRevocations atomically replaces the current revocation set.
func (s *Store) SetRevocations(ids map[string]struct{}) {
	s.revocations.Store(&revocationEntry{ids: ids, cachedAt: time.Now()})
}

// IsRevoked reports whether credentialID is in the cached revocation set,
// and whether that set is currently fresh.
func (s *Store) IsRevoked(credentialID string) (revoked bool, fresh bool) {
	e := s.revocations.Load()
	if e == nil {
		return false, false
	}
	_, revoked = e.ids[credentialID]
	return revoked, s.isFresh(e.cachedAt, s.ttl.Revocation)
}

// SetIssuerKeys atomically replaces the current issuer public-key map.
func (s *Store) SetIssuerKeys(keys map[string]ed25519.PublicKey) {
	s.issuerKeys.Store(&issuerKeyEntry{keys: keys, cachedAt: time.Now()})
}

// IssuerPublicKey implements credential.IssuerKeyLookup.
func (s *Store) IssuerPublicKey(issuerID string) (ed25519.PublicKey, bool) {
	e := s.issuerKeys.Load()
	if e == nil {
		return nil, false
	}
	pub, ok := e.keys[issuerID]
	return pub, ok
}

// IssuerKeysFresh reports whether the issuer key map is within its TTL.
func (s *Store) IssuerKeysFresh() bool {
	e := s.issuerKeys.Load()
	if e == nil {
		return false
	}
	return s.isFresh(e.cachedAt, s.ttl.Keys)
}

func (s *Store) isFresh(cachedAt time.Time, ttl time.Duration) bool {
	return time.Since(cachedAt) <= ttl
}

// catalogContentHash hex-encodes the sha256 digest of v's canonical JSON
// rendering, the value published as catalog_content_hash.
func catalogContentHash(v gatetypes.CatalogVersionData) (string, error) {
	canon, err := gatetypes.CatalogCanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canon))
	return hex.EncodeToString(sum[:]), nil
}

// FailModeFor resolves the effective fail mode for an action, honoring the
// per-action override table.
func (s *Store) FailModeFor(action string) FailModeOverride {
	if o, ok := s.failModeOverrides[action]; ok {
		return o
	}
	return FailModeOverride{FailMode: s.failModeDefault, RevocationMaxAge: s.ttl.Revocation}
}

// RevocationStaleness returns how old the revocation set is, for callers
// recording the pipeline's `confident` flag.
func (s *Store) RevocationStaleness() time.Duration {
	e := s.revocations.Load()
	if e == nil {
		return time.Duration(1<<63 - 1)
	}
	return time.Since(e.cachedAt)
}

// Close releases the L1 cache's background resources.
func (s *Store) Close() {
	s.l1.Close()
}
