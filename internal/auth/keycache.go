package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/febrile-severity-server/internal/domain"
	"github.com/febrile-severity-server/internal/metrics"
)

const maxKeySetBytes = 1 << 20

// Store is an optional shared tier behind the in-process cache. It holds the
// raw key-set document per issuer URL. Get returns nil data on a miss.
type Store interface {
	Get(ctx context.Context, url string) ([]byte, error)
	Set(ctx context.Context, url string, data []byte) error
	Delete(ctx context.Context, url string) error
}

// KeyCacheConfig configures key-set fetching.
type KeyCacheConfig struct {
	Size            int
	Timeout         time.Duration
	RefreshInterval time.Duration
	APIKey          string
}

// KeyCacheOption customizes a KeyCache.
type KeyCacheOption func(*KeyCache)

// WithHTTPClient replaces the client used to fetch key sets.
func WithHTTPClient(client *http.Client) KeyCacheOption {
	return func(c *KeyCache) { c.client = client }
}

// WithStore adds a shared cache tier.
func WithStore(store Store) KeyCacheOption {
	return func(c *KeyCache) { c.store = store }
}

type keySet struct {
	set       jwk.Set
	fetchedAt time.Time
}

// lookup finds the key for kid. A token without kid matches a set holding a
// single key.
func (ks *keySet) lookup(kid string) (jwk.Key, bool) {
	if kid == "" {
		if ks.set.Len() == 1 {
			return ks.set.Key(0)
		}
		return nil, false
	}
	return ks.set.LookupKeyID(kid)
}

// KeyCache resolves signing keys from issuer key sets. Sets are cached in
// process for its lifetime or until Invalidate; fetch-and-populate is
// serialized per issuer and an unknown kid triggers at most one re-fetch.
type KeyCache struct {
	cfg      KeyCacheConfig
	client   *http.Client
	sets     *lru.Cache[string, *keySet]
	store    Store
	breaker  *gobreaker.CircuitBreaker
	throttle *rate.Limiter
	logger   *logrus.Logger
	metrics  *metrics.Collector

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyCache creates a key cache.
func NewKeyCache(cfg KeyCacheConfig, logger *logrus.Logger, m *metrics.Collector, opts ...KeyCacheOption) (*KeyCache, error) {
	if cfg.Size <= 0 {
		cfg.Size = 16
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}

	sets, err := lru.New[string, *keySet](cfg.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to create key set cache: %w", err)
	}

	c := &KeyCache{
		cfg:     cfg,
		client:  &http.Client{},
		sets:    sets,
		logger:  logger,
		metrics: m,
		locks:   make(map[string]*sync.Mutex),
	}
	if cfg.RefreshInterval > 0 {
		c.throttle = rate.NewLimiter(rate.Every(cfg.RefreshInterval), 1)
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "jwks",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *KeyCache) lockFor(url string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[url]
	if !ok {
		l = &sync.Mutex{}
		c.locks[url] = l
	}
	return l
}

// Key resolves kid from the key set published at url and returns the raw
// public key. Failures are AuthErrors of kind key_resolution_failed.
func (c *KeyCache) Key(ctx context.Context, url, kid string) (any, error) {
	seen, ok := c.sets.Get(url)
	if ok {
		if k, found := seen.lookup(kid); found {
			return exportKey(k)
		}
	}

	lock := c.lockFor(url)
	lock.Lock()
	defer lock.Unlock()

	current, ok := c.sets.Get(url)
	fetched := false
	if !ok {
		ks, fromNetwork, err := c.load(ctx, url, true)
		if err != nil {
			return nil, resolutionError(err)
		}
		current, fetched = ks, fromNetwork
	}
	if k, found := current.lookup(kid); found {
		return exportKey(k)
	}
	if fetched || (seen != nil && current != seen) {
		// the set is already as fresh as a refresh would make it
		return nil, resolutionError(fmt.Errorf("unknown key id %q", kid))
	}

	if c.throttle != nil && !c.throttle.Allow() {
		return nil, resolutionError(fmt.Errorf("unknown key id %q and refresh throttled", kid))
	}
	c.logger.WithFields(logrus.Fields{"jwks_url": url, "kid": kid}).Info("Unknown key id, refreshing key set")

	ks, _, err := c.load(ctx, url, false)
	if err != nil {
		return nil, resolutionError(err)
	}
	if k, found := ks.lookup(kid); found {
		return exportKey(k)
	}
	return nil, resolutionError(fmt.Errorf("unknown key id %q after refresh", kid))
}

// KeyIDs lists the key ids currently published at url, fetching if needed.
func (c *KeyCache) KeyIDs(ctx context.Context, url string) ([]string, error) {
	lock := c.lockFor(url)
	lock.Lock()
	defer lock.Unlock()

	ks, ok := c.sets.Get(url)
	if !ok {
		var err error
		if ks, _, err = c.load(ctx, url, true); err != nil {
			return nil, err
		}
	}

	ids := make([]string, 0, ks.set.Len())
	for i := 0; i < ks.set.Len(); i++ {
		k, ok := ks.set.Key(i)
		if !ok {
			continue
		}
		kid, _ := k.KeyID()
		ids = append(ids, kid)
	}
	sort.Strings(ids)
	return ids, nil
}

// Invalidate drops the cached key set for url from every tier.
func (c *KeyCache) Invalidate(ctx context.Context, url string) error {
	c.sets.Remove(url)
	if c.store != nil {
		if err := c.store.Delete(ctx, url); err != nil {
			return fmt.Errorf("failed to invalidate shared key set: %w", err)
		}
	}
	return nil
}

// load populates the cache for url. When useStore is set, the shared tier is
// consulted before the network. fromNetwork reports where the set came from.
func (c *KeyCache) load(ctx context.Context, url string, useStore bool) (ks *keySet, fromNetwork bool, err error) {
	if useStore && c.store != nil {
		data, err := c.store.Get(ctx, url)
		switch {
		case err != nil:
			c.logger.WithError(err).WithField("jwks_url", url).Warn("Shared key set lookup failed")
		case data != nil:
			if set, err := jwk.Parse(data); err == nil {
				c.metrics.ObserveKeySetFetch("store", "hit")
				ks = &keySet{set: set, fetchedAt: time.Now()}
				c.sets.Add(url, ks)
				return ks, false, nil
			}
			c.logger.WithField("jwks_url", url).Warn("Discarding unparsable shared key set")
		}
	}

	data, err := c.fetch(ctx, url)
	if err != nil {
		return nil, false, err
	}
	set, err := jwk.Parse(data)
	if err != nil {
		c.metrics.ObserveKeySetFetch("http", "invalid")
		return nil, false, fmt.Errorf("parsing key set: %w", err)
	}
	c.metrics.ObserveKeySetFetch("http", "ok")

	ks = &keySet{set: set, fetchedAt: time.Now()}
	c.sets.Add(url, ks)
	if c.store != nil {
		if err := c.store.Set(ctx, url, data); err != nil {
			c.logger.WithError(err).WithField("jwks_url", url).Warn("Failed to share key set")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"jwks_url": url,
		"keys":     set.Len(),
	}).Info("Key set loaded")
	return ks, true, nil
}

func (c *KeyCache) fetch(ctx context.Context, url string) ([]byte, error) {
	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.get(ctx, url)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.metrics.ObserveKeySetFetch("http", "breaker_open")
		} else {
			c.metrics.ObserveKeySetFetch("http", "error")
		}
		return nil, fmt.Errorf("fetching key set: %w", err)
	}
	return result.([]byte), nil
}

func (c *KeyCache) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("apikey", c.cfg.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("key set endpoint returned %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
}

func exportKey(k jwk.Key) (any, error) {
	var raw any
	if err := jwk.Export(k, &raw); err != nil {
		return nil, resolutionError(fmt.Errorf("exporting key: %w", err))
	}
	return raw, nil
}

func resolutionError(err error) error {
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		return err
	}
	return domain.NewAuthError(domain.AuthKeyResolutionFailed, err)
}
