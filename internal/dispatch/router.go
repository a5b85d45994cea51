package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wolfman30/clinic-webhooks/internal/observability/metrics"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

var tracer = otel.Tracer("clinic/dispatch")

// Handler executes business logic for one event type.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, evt Event) error

func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

type registration struct {
	name    string
	handler Handler
}

// Router maps event types to independently registered handlers and fans out to them.
// Build one per process and register everything before serving traffic.
type Router struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	logger   *logging.Logger
	metrics  *metrics.WebhookMetrics
}

func NewRouter(logger *logging.Logger, m *metrics.WebhookMetrics) *Router {
	if logger == nil {
		logger = logging.Default()
	}
	return &Router{
		handlers: make(map[string][]registration),
		logger:   logger,
		metrics:  m,
	}
}

// On registers handler under name for eventType. Names must be unique per event type
// because replay targets handlers by name.
func (r *Router) On(eventType, name string, handler Handler) {
	if eventType == "" || name == "" || handler == nil {
		panic("dispatch: event type, name and handler required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reg := range r.handlers[eventType] {
		if reg.name == name {
			panic(fmt.Sprintf("dispatch: handler %q already registered for %s", name, eventType))
		}
	}
	r.handlers[eventType] = append(r.handlers[eventType], registration{name: name, handler: handler})
	r.logger.Debug("registered webhook handler", "event_type", eventType, "handler", name)
}

// Handlers lists the handler names registered for eventType in registration order.
func (r *Router) Handlers(eventType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers[eventType]))
	for _, reg := range r.handlers[eventType] {
		names = append(names, reg.name)
	}
	return names
}

// Dispatch runs every handler registered for evt.Type concurrently and waits for all of them.
func (r *Router) Dispatch(ctx context.Context, evt Event) DispatchResult {
	return r.dispatch(ctx, evt, r.lookup(evt.Type, nil))
}

// DispatchOnly runs the named subset of handlers; used to replay handlers that failed earlier.
func (r *Router) DispatchOnly(ctx context.Context, evt Event, names []string) DispatchResult {
	if len(names) == 0 {
		return r.Dispatch(ctx, evt)
	}
	return r.dispatch(ctx, evt, r.lookup(evt.Type, names))
}

func (r *Router) lookup(eventType string, names []string) []registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	regs := r.handlers[eventType]
	if names == nil {
		return slices.Clone(regs)
	}
	selected := make([]registration, 0, len(names))
	for _, reg := range regs {
		if slices.Contains(names, reg.name) {
			selected = append(selected, reg)
		}
	}
	return selected
}

func (r *Router) dispatch(ctx context.Context, evt Event, regs []registration) DispatchResult {
	result := DispatchResult{EventType: evt.Type}
	logger := r.logger.With("event_type", evt.Type, "event_id", evt.ID, "tenant_id", evt.TenantID, "provider", evt.Provider)
	if len(regs) == 0 {
		result.Unhandled = true
		logger.Info("unhandled event type, acknowledging")
		return result
	}

	result.Results = make([]HandlerResult, len(regs))
	var g errgroup.Group
	for i, reg := range regs {
		g.Go(func() error {
			result.Results[i] = r.run(ctx, evt, reg, logger)
			return nil
		})
	}
	_ = g.Wait()
	return result
}

func (r *Router) run(ctx context.Context, evt Event, reg registration, logger *logging.Logger) (res HandlerResult) {
	res.Name = reg.name
	start := time.Now()
	ctx, span := tracer.Start(ctx, "webhook.handler", trace.WithAttributes(
		attribute.String("webhook.event_type", evt.Type),
		attribute.String("webhook.event_id", evt.ID),
		attribute.String("webhook.handler", reg.name),
	))
	defer func() {
		if v := recover(); v != nil {
			res.Err = &HandlerFault{Handler: reg.name, Value: v}
		}
		res.Duration = time.Since(start)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
			logger.Error("webhook handler failed", "handler", reg.name, "error", res.Err, "duration_ms", res.Duration.Milliseconds())
		} else {
			logger.Debug("webhook handler completed", "handler", reg.name, "duration_ms", res.Duration.Milliseconds())
		}
		r.metrics.ObserveHandler(evt.Type, reg.name, res.Err, res.Duration)
		span.End()
	}()
	res.Err = reg.handler.Handle(ctx, evt)
	return res
}

// HandlerResult is the outcome of one handler for one dispatch.
type HandlerResult struct {
	Name     string
	Err      error
	Duration time.Duration
}

// DispatchResult collects per-handler outcomes so failures can be replayed individually.
type DispatchResult struct {
	EventType string
	Unhandled bool
	Results   []HandlerResult
}

// OK reports whether every handler completed without error.
func (d DispatchResult) OK() bool {
	for _, res := range d.Results {
		if res.Err != nil {
			return false
		}
	}
	return true
}

// Failed returns the names of handlers that returned an error or panicked.
func (d DispatchResult) Failed() []string {
	var names []string
	for _, res := range d.Results {
		if res.Err != nil {
			names = append(names, res.Name)
		}
	}
	return names
}

// Err joins the handler failures, prefixed by handler name. Nil when OK.
func (d DispatchResult) Err() error {
	var errs []error
	for _, res := range d.Results {
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, res.Err))
		}
	}
	return errors.Join(errs...)
}
