package webhooks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
	"github.com/wolfman30/clinic-webhooks/internal/events"
	"github.com/wolfman30/clinic-webhooks/internal/observability/metrics"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

var (
	// ErrAlreadyProcessed is returned when a replay targets an event that already succeeded.
	ErrAlreadyProcessed = errors.New("webhooks: event already processed")
	// ErrReplayInProgress is returned when another worker holds the event's replay lease.
	ErrReplayInProgress = errors.New("webhooks: event replay in progress")
)

type replayStore interface {
	eventStore
	Claim(ctx context.Context, ref uuid.UUID, seenAttempts int, lease time.Duration) (bool, error)
	Get(ctx context.Context, ref uuid.UUID) (*events.WebhookEvent, error)
	ListReplayable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int32) ([]events.WebhookEvent, error)
}

// Replayer re-dispatches failed or abandoned webhook events. Only the handlers recorded
// as failed run again, so handlers that already succeeded are not repeated.
type Replayer struct {
	store       replayStore
	router      dispatcher
	metrics     *metrics.WebhookMetrics
	logger      *logging.Logger
	interval    time.Duration
	batchSize   int32
	maxAttempts int
	staleAfter  time.Duration
	timeout     time.Duration
	now         func() time.Time
}

func NewReplayer(store replayStore, router dispatcher, m *metrics.WebhookMetrics, logger *logging.Logger) *Replayer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Replayer{
		store:       store,
		router:      router,
		metrics:     m,
		logger:      logger,
		interval:    5 * time.Minute,
		batchSize:   25,
		maxAttempts: 5,
		staleAfter:  2 * time.Minute,
		timeout:     60 * time.Second,
		now:         time.Now,
	}
}

func (r *Replayer) WithInterval(interval time.Duration) *Replayer {
	if interval > 0 {
		r.interval = interval
	}
	return r
}

func (r *Replayer) WithBatchSize(size int32) *Replayer {
	if size > 0 {
		r.batchSize = size
	}
	return r
}

func (r *Replayer) WithMaxAttempts(n int) *Replayer {
	if n > 0 {
		r.maxAttempts = n
	}
	return r
}

// WithStaleAfter sets how old an unprocessed event without an error must be before it is
// treated as abandoned by a crashed dispatch.
func (r *Replayer) WithStaleAfter(d time.Duration) *Replayer {
	if d > 0 {
		r.staleAfter = d
	}
	return r
}

func (r *Replayer) WithHandlerTimeout(d time.Duration) *Replayer {
	if d > 0 {
		r.timeout = d
	}
	return r
}

func (r *Replayer) Start(ctx context.Context) {
	if r.store == nil || r.router == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("webhook replay pass failed", "error", err)
			}
		}
	}
}

// RunOnce replays one batch and returns how many events now succeed.
func (r *Replayer) RunOnce(ctx context.Context) (int, error) {
	pending, err := r.store.ListReplayable(ctx, r.maxAttempts, r.now().Add(-r.abandonedAfter()), r.batchSize)
	if err != nil {
		return 0, err
	}
	recovered := 0
	for i := range pending {
		if ctx.Err() != nil {
			return recovered, ctx.Err()
		}
		row := &pending[i]
		claimed, err := r.store.Claim(ctx, row.Ref, row.Attempts, r.lease())
		if err != nil {
			r.logger.Error("failed to claim webhook event for replay", "error", err, "event_ref", row.Ref)
			continue
		}
		if !claimed {
			r.logger.Debug("webhook event claimed elsewhere; skipping", "event_ref", row.Ref)
			continue
		}
		if r.replay(ctx, row) == StatusProcessed {
			recovered++
		}
	}
	if len(pending) > 0 {
		r.logger.Info("webhook replay pass complete", "candidates", len(pending), "recovered", recovered)
	}
	return recovered, nil
}

// Replay re-dispatches one event on demand.
func (r *Replayer) Replay(ctx context.Context, ref uuid.UUID) (string, error) {
	row, err := r.store.Get(ctx, ref)
	if err != nil {
		return "", err
	}
	if row.Processed {
		return "", ErrAlreadyProcessed
	}
	claimed, err := r.store.Claim(ctx, ref, row.Attempts, r.lease())
	if err != nil {
		return "", err
	}
	if !claimed {
		return "", ErrReplayInProgress
	}
	return r.replay(ctx, row), nil
}

// lease outlasts one dispatch plus its outcome write.
func (r *Replayer) lease() time.Duration {
	return r.timeout + outcomeWriteTimeout
}

// abandonedAfter never undercuts a gateway dispatch that may still be running.
func (r *Replayer) abandonedAfter() time.Duration {
	if floor := r.timeout + outcomeWriteTimeout; r.staleAfter < floor {
		return floor
	}
	return r.staleAfter
}

func (r *Replayer) replay(ctx context.Context, row *events.WebhookEvent) string {
	logger := r.logger.With("event_ref", row.Ref, "provider", row.Provider, "event_type", row.EventType,
		"event_id", row.EventID, "tenant_id", row.TenantID, "attempt", row.Attempts+1)

	env, err := parseEnvelope(row.Payload)
	if err != nil {
		// Stored payloads were validated on receipt; this only happens on manual edits.
		logger.Error("stored webhook payload unreadable", "error", err)
		if err := r.store.MarkFailed(ctx, row.Ref, fmt.Sprintf("replay: %v", err), row.FailedHandlers); err != nil {
			logger.Error("failed to mark webhook failed", "error", err)
		}
		r.metrics.ObserveReplay(StatusFailed)
		return StatusFailed
	}

	evt := dispatch.Event{
		Ref:        row.Ref,
		Provider:   row.Provider,
		Type:       row.EventType,
		ID:         row.EventID,
		TenantID:   row.TenantID,
		Data:       env.Data,
		ReceivedAt: row.ReceivedAt,
	}

	dctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	var result dispatch.DispatchResult
	if len(row.FailedHandlers) > 0 {
		result = r.router.DispatchOnly(dctx, evt, row.FailedHandlers)
	} else {
		result = r.router.Dispatch(dctx, evt)
	}
	status := recordOutcome(ctx, r.store, evt, result, logger)
	r.metrics.ObserveReplay(status)
	return status
}
