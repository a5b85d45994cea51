package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
	"github.com/wolfman30/clinic-webhooks/internal/events"
	"github.com/wolfman30/clinic-webhooks/internal/observability/metrics"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

var tracer = otel.Tracer("clinic/webhooks")

// Response statuses returned to the provider.
const (
	StatusProcessed   = "processed"
	StatusDuplicate   = "duplicate"
	StatusProvisional = "provisional"
	StatusFailed      = "failed"
)

type eventStore interface {
	HasProcessed(ctx context.Context, provider, eventID string) (bool, error)
	Record(ctx context.Context, evt *events.WebhookEvent) (uuid.UUID, bool, error)
	MarkProcessed(ctx context.Context, ref uuid.UUID) error
	MarkFailed(ctx context.Context, ref uuid.UUID, errMsg string, failedHandlers []string) error
}

type dispatcher interface {
	Dispatch(ctx context.Context, evt dispatch.Event) dispatch.DispatchResult
	DispatchOnly(ctx context.Context, evt dispatch.Event, names []string) dispatch.DispatchResult
}

type payloadArchiver interface {
	Archive(ctx context.Context, tenantID, provider, eventID string, body []byte) error
}

// GatewayConfig tunes the ingestion endpoint.
type GatewayConfig struct {
	SignatureHeader string
	// ResponseBudget is how long the request waits for handlers before answering provisionally.
	ResponseBudget time.Duration
	// HandlerTimeout bounds a dispatch that outlives the request.
	HandlerTimeout time.Duration
	MaxBodyBytes   int64
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.SignatureHeader == "" {
		c.SignatureHeader = "X-Webhook-Signature"
	}
	if c.ResponseBudget <= 0 {
		c.ResponseBudget = 8 * time.Second
	}
	if c.HandlerTimeout <= 0 {
		c.HandlerTimeout = 60 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	return c
}

// Gateway is the HTTP entry point for provider and internal webhook deliveries.
type Gateway struct {
	cfg      GatewayConfig
	secrets  SecretResolver
	store    eventStore
	router   dispatcher
	archiver payloadArchiver
	metrics  *metrics.WebhookMetrics
	logger   *logging.Logger

	inflight sync.WaitGroup
}

func NewGateway(cfg GatewayConfig, secrets SecretResolver, store eventStore, router dispatcher, archiver payloadArchiver, m *metrics.WebhookMetrics, logger *logging.Logger) *Gateway {
	if secrets == nil || store == nil || router == nil {
		panic("webhooks: secrets, store and router required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Gateway{
		cfg:      cfg.withDefaults(),
		secrets:  secrets,
		store:    store,
		router:   router,
		archiver: archiver,
		metrics:  m,
		logger:   logger,
	}
}

type receiveResponse struct {
	Status  string `json:"status"`
	EventID string `json:"event_id,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

// Handle serves POST /webhooks/{provider}/{tenantID}.
func (g *Gateway) Handle(w http.ResponseWriter, r *http.Request) {
	provider := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "provider")))
	tenantID := strings.TrimSpace(chi.URLParam(r, "tenantID"))
	if provider == "" || tenantID == "" {
		http.Error(w, "missing provider or tenant", http.StatusBadRequest)
		return
	}

	ctx, span := tracer.Start(r.Context(), "webhooks.receive")
	defer span.End()
	span.SetAttributes(attribute.String("webhook.provider", provider), attribute.String("tenant.id", tenantID))
	logger := g.logger.With("provider", provider, "tenant_id", tenantID)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.cfg.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	secret, err := g.secrets.Resolve(ctx, tenantID, provider)
	if err != nil {
		logger.Warn("webhook secret lookup failed", "error", err)
	}
	if err != nil || !Verify(body, r.Header.Get(g.cfg.SignatureHeader), secret) {
		g.metrics.ObserveReceived(provider, "", "invalid_signature")
		span.SetStatus(codes.Error, ErrInvalidSignature.Error())
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	env, err := parseEnvelope(body)
	if err != nil {
		logger.Warn("malformed webhook payload", "error", err)
		g.metrics.ObserveReceived(provider, "", "malformed")
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("webhook.event_type", env.Event), attribute.String("webhook.event_id", env.EventID))
	logger = logger.With("event_type", env.Event, "event_id", env.EventID)

	if processed, err := g.store.HasProcessed(ctx, provider, env.EventID); err != nil {
		logger.Error("processed lookup failed", "error", err)
		span.RecordError(err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if processed {
		g.respondDuplicate(w, provider, env, logger)
		return
	}

	record := &events.WebhookEvent{
		Provider:  provider,
		EventType: env.Event,
		EventID:   env.EventID,
		TenantID:  tenantID,
		Payload:   json.RawMessage(body),
	}
	ref, created, err := g.store.Record(ctx, record)
	if err != nil {
		logger.Error("failed to record webhook event", "error", err)
		span.RecordError(err)
		g.metrics.ObserveReceived(provider, env.Event, "storage_error")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}
	if !created {
		g.respondDuplicate(w, provider, env, logger)
		return
	}

	if g.archiver != nil {
		if err := g.archiver.Archive(ctx, tenantID, provider, env.EventID, body); err != nil {
			logger.Warn("failed to archive webhook payload", "error", err)
		}
	}

	evt := dispatch.Event{
		Ref:        ref,
		Provider:   provider,
		Type:       env.Event,
		ID:         env.EventID,
		TenantID:   tenantID,
		Data:       env.Data,
		ReceivedAt: time.Now().UTC(),
	}
	status := g.dispatchWithin(ctx, evt, logger)
	g.metrics.ObserveReceived(provider, env.Event, status)
	writeJSON(w, http.StatusOK, receiveResponse{Status: status, EventID: env.EventID, Ref: ref.String()})
}

func (g *Gateway) respondDuplicate(w http.ResponseWriter, provider string, env envelope, logger *logging.Logger) {
	logger.Info("duplicate webhook delivery acknowledged")
	g.metrics.ObserveReceived(provider, env.Event, StatusDuplicate)
	writeJSON(w, http.StatusOK, receiveResponse{Status: StatusDuplicate, EventID: env.EventID})
}

// dispatchWithin runs the handlers detached from the request so that a slow dispatch
// keeps going after the provider has been answered. The event is already durable.
func (g *Gateway) dispatchWithin(ctx context.Context, evt dispatch.Event, logger *logging.Logger) string {
	done := make(chan string, 1)
	g.inflight.Add(1)
	go func() {
		defer g.inflight.Done()
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.cfg.HandlerTimeout)
		defer cancel()
		result := g.router.Dispatch(dctx, evt)
		done <- recordOutcome(dctx, g.store, evt, result, logger)
	}()

	timer := time.NewTimer(g.cfg.ResponseBudget)
	defer timer.Stop()
	select {
	case status := <-done:
		return status
	case <-timer.C:
		logger.Warn("dispatch exceeded response budget; acknowledging provisionally", "budget", g.cfg.ResponseBudget)
		return StatusProvisional
	case <-ctx.Done():
		return StatusProvisional
	}
}

// Wait blocks until in-flight dispatches finish or ctx expires.
func (g *Gateway) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		g.inflight.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// outcomeWriteTimeout bounds the outcome write, which runs after the dispatch context may have expired.
const outcomeWriteTimeout = 5 * time.Second

// recordOutcome persists a dispatch result on the event row. The write uses its own
// deadline; a handler timeout must still leave failed_handlers and attempts behind.
func recordOutcome(ctx context.Context, store eventStore, evt dispatch.Event, result dispatch.DispatchResult, logger *logging.Logger) string {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeWriteTimeout)
	defer cancel()

	if result.OK() {
		if result.Unhandled {
			logger.Info("unhandled event type acknowledged")
		}
		if err := store.MarkProcessed(ctx, evt.Ref); err != nil {
			logger.Error("failed to mark webhook processed", "error", err)
		}
		return StatusProcessed
	}

	failed := result.Failed()
	errMsg := result.Err().Error()
	logger.Error("webhook handlers failed", "failed_handlers", failed, "error", errMsg)
	if err := store.MarkFailed(ctx, evt.Ref, errMsg, failed); err != nil {
		logger.Error("failed to mark webhook failed", "error", err)
	}
	return StatusFailed
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
