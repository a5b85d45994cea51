package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("WEBHOOK_RESPONSE_BUDGET", "")
	t.Setenv("WEBHOOK_REPLAY_MAX_ATTEMPTS", "")
	cfg := Load()
	if cfg.Port != "8080" {
		t.Fatalf("expected default port, got %s", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Fatalf("expected default env, got %s", cfg.Env)
	}
	if cfg.WebhookSignatureHeader != "X-Webhook-Signature" {
		t.Fatalf("expected default signature header, got %s", cfg.WebhookSignatureHeader)
	}
	if cfg.WebhookResponseBudget != 8*time.Second {
		t.Fatalf("expected default response budget, got %s", cfg.WebhookResponseBudget)
	}
	if cfg.WebhookReplayMaxAttempts != 5 {
		t.Fatalf("expected default replay attempts, got %d", cfg.WebhookReplayMaxAttempts)
	}
	if cfg.WebhookMaxBodyBytes != 1<<20 {
		t.Fatalf("expected 1MiB body limit, got %d", cfg.WebhookMaxBodyBytes)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://user@host/db")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("WEBHOOK_SECRET_CACHE_TTL", "30s")
	t.Setenv("WEBHOOK_REPLAY_BATCH", "10")
	t.Setenv("NOTIFICATION_QUEUE_URL", "  https://sqs.local/queue  ")
	cfg := Load()
	if cfg.Port != "9090" {
		t.Fatalf("expected override port, got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Fatalf("expected env override, got %s", cfg.Env)
	}
	if cfg.DatabaseURL != "postgres://user@host/db" {
		t.Fatalf("expected db override, got %s", cfg.DatabaseURL)
	}
	if !cfg.RedisTLS {
		t.Fatalf("expected redis tls enabled")
	}
	if cfg.WebhookSecretCacheTTL != 30*time.Second {
		t.Fatalf("expected cache ttl override, got %s", cfg.WebhookSecretCacheTTL)
	}
	if cfg.WebhookReplayBatch != 10 {
		t.Fatalf("expected replay batch override, got %d", cfg.WebhookReplayBatch)
	}
	if cfg.NotificationQueueURL != "https://sqs.local/queue" {
		t.Fatalf("expected trimmed queue url, got %q", cfg.NotificationQueueURL)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("WEBHOOK_REPLAY_BATCH", "lots")
	t.Setenv("WEBHOOK_HANDLER_TIMEOUT", "soon")
	cfg := Load()
	if cfg.WebhookReplayBatch != 25 {
		t.Fatalf("expected default batch, got %d", cfg.WebhookReplayBatch)
	}
	if cfg.WebhookHandlerTimeout != 60*time.Second {
		t.Fatalf("expected default timeout, got %s", cfg.WebhookHandlerTimeout)
	}
}
