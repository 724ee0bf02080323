// Package secrets resolves credentials such as the gateway API key, the
// webhook signing secret and the JWT key from a secret backend.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrNotFound is returned when a secret path does not exist
var ErrNotFound = errors.New("secret not found")

// Secret is a resolved secret value
type Secret struct {
	Metadata  map[string]string
	Value     string
	Version   string
	CreatedAt string
}

// Store reads secrets by path
type Store interface {
	GetSecret(ctx context.Context, path string) (*Secret, error)
}

// Backend names
const (
	BackendLocal = "local"
	BackendVault = "vault"
	BackendAWS   = "aws"
)

// Config selects and configures the secret backend
type Config struct {
	Backend string
	// LocalPath is the directory read by the local backend
	LocalPath string
	Vault     VaultConfig
	AWS       AWSConfig
	// CacheTTL caches resolved secrets; zero disables caching
	CacheTTL time.Duration
}

// New builds the configured backend, wrapped in a TTL cache
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Store, error) {
	var (
		store Store
		err   error
	)
	switch strings.ToLower(cfg.Backend) {
	case "", BackendLocal:
		store = NewLocalStore(cfg.LocalPath, logger)
	case BackendVault:
		store, err = NewVaultStore(ctx, cfg.Vault, logger)
	case BackendAWS:
		store, err = NewAWSStore(ctx, cfg.AWS, logger)
	default:
		return nil, fmt.Errorf("unsupported secret backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}
	if cfg.CacheTTL <= 0 {
		return store, nil
	}
	return NewCachedStore(store, cfg.CacheTTL), nil
}

// Resolve returns the secret at path, or fallback when path is empty.
// Local development passes values directly and leaves the path unset.
func Resolve(ctx context.Context, store Store, path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	s, err := store.GetSecret(ctx, path)
	if err != nil {
		return "", fmt.Errorf("resolve secret %s: %w", path, err)
	}
	return s.Value, nil
}

// CachedStore caches another store's secrets for a fixed TTL
type CachedStore struct {
	next Store
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	secret    *Secret
	expiresAt time.Time
}

// NewCachedStore wraps next with a TTL cache
func NewCachedStore(next Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// GetSecret returns a cached secret or reads through to the backend
func (c *CachedStore) GetSecret(ctx context.Context, path string) (*Secret, error) {
	c.mu.Lock()
	entry, ok := c.entries[path]
	if ok && c.now().Before(entry.expiresAt) {
		c.mu.Unlock()
		return entry.secret, nil
	}
	delete(c.entries, path)
	c.mu.Unlock()

	secret, err := c.next.GetSecret(ctx, path)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.entries[path] = cacheEntry{secret: secret, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return secret, nil
}

// Invalidate drops a cached path so the next read hits the backend
func (c *CachedStore) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, path)
}
