package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

// ErrSecretNotConfigured means the tenant has no active webhook secret for the provider.
var ErrSecretNotConfigured = errors.New("webhooks: no webhook secret configured")

// SecretResolver returns the shared webhook secret of a tenant/provider pair.
type SecretResolver interface {
	Resolve(ctx context.Context, tenantID, provider string) (string, error)
}

type rowQueryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProviderConfigStore reads secrets from provider_configs.
type ProviderConfigStore struct {
	db rowQueryer
}

func NewProviderConfigStore(pool *pgxpool.Pool) *ProviderConfigStore {
	if pool == nil {
		panic("webhooks: pgx pool required")
	}
	return &ProviderConfigStore{db: pool}
}

func newProviderConfigStoreWithDB(db rowQueryer) *ProviderConfigStore {
	return &ProviderConfigStore{db: db}
}

func (s *ProviderConfigStore) Resolve(ctx context.Context, tenantID, provider string) (string, error) {
	var secret string
	err := s.db.QueryRow(ctx, `
		SELECT webhook_secret FROM provider_configs
		WHERE tenant_id = $1 AND provider = $2 AND is_active`, tenantID, provider).Scan(&secret)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrSecretNotConfigured
		}
		return "", fmt.Errorf("webhooks: load provider config: %w", err)
	}
	if secret == "" {
		return "", ErrSecretNotConfigured
	}
	return secret, nil
}

// CachedSecretResolver fronts another resolver with a Redis read-through cache.
// Redis failures fall through to the underlying resolver.
type CachedSecretResolver struct {
	next   SecretResolver
	redis  redis.Cmdable
	ttl    time.Duration
	logger *logging.Logger
}

func NewCachedSecretResolver(next SecretResolver, client redis.Cmdable, ttl time.Duration, logger *logging.Logger) *CachedSecretResolver {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSecretResolver{next: next, redis: client, ttl: ttl, logger: logger}
}

func secretCacheKey(tenantID, provider string) string {
	return fmt.Sprintf("webhooks:secret:%s:%s", tenantID, provider)
}

func (c *CachedSecretResolver) Resolve(ctx context.Context, tenantID, provider string) (string, error) {
	key := secretCacheKey(tenantID, provider)
	if c.redis != nil {
		secret, err := c.redis.Get(ctx, key).Result()
		switch {
		case err == nil && secret != "":
			return secret, nil
		case err != nil && !errors.Is(err, redis.Nil):
			c.logger.Warn("webhook secret cache read failed", "error", err, "tenant_id", tenantID, "provider", provider)
		}
	}

	secret, err := c.next.Resolve(ctx, tenantID, provider)
	if err != nil {
		return "", err
	}
	if c.redis != nil {
		if err := c.redis.Set(ctx, key, secret, c.ttl).Err(); err != nil {
			c.logger.Warn("webhook secret cache write failed", "error", err, "tenant_id", tenantID, "provider", provider)
		}
	}
	return secret, nil
}

// Invalidate drops the cached secret, e.g. after rotation.
func (c *CachedSecretResolver) Invalidate(ctx context.Context, tenantID, provider string) error {
	if c.redis == nil {
		return nil
	}
	return c.redis.Del(ctx, secretCacheKey(tenantID, provider)).Err()
}
