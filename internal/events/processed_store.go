package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrEventNotFound is returned by Get when no webhook_events row matches.
var ErrEventNotFound = errors.New("events: webhook event not found")

// WebhookEvent is the audit row for one inbound delivery keyed by (provider, event_id).
// Rows are never deleted; only the outcome columns change.
type WebhookEvent struct {
	Ref            uuid.UUID
	Provider       string
	EventType      string
	EventID        string
	TenantID       string
	Payload        json.RawMessage
	Processed      bool
	ProcessedAt    *time.Time
	Error          string
	FailedHandlers []string
	Attempts       int
	ReceivedAt     time.Time
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore records webhook events and their processing outcome.
// The unique (provider, event_id) constraint is what makes delivery idempotent.
type ProcessedStore struct {
	pool rowQuerier
}

func NewProcessedStore(pool *pgxpool.Pool) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func newProcessedStoreWithExec(exec rowQuerier) *ProcessedStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &ProcessedStore{pool: exec}
}

// HasProcessed checks if we've already recorded this provider event id.
func (s *ProcessedStore) HasProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	query := `SELECT 1 FROM webhook_events WHERE provider = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, provider, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// Record inserts the event. It returns created=false when another delivery of the same
// (provider, event_id) already owns the row, including a concurrent one that won the insert.
func (s *ProcessedStore) Record(ctx context.Context, evt *WebhookEvent) (uuid.UUID, bool, error) {
	if evt.Ref == uuid.Nil {
		evt.Ref = uuid.New()
	}
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO webhook_events (id, provider, event_type, event_id, tenant_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (provider, event_id) DO NOTHING
		RETURNING id
	`
	var id uuid.UUID
	err := s.pool.QueryRow(ctx, query, evt.Ref, evt.Provider, evt.EventType, evt.EventID, evt.TenantID, []byte(evt.Payload), evt.ReceivedAt).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, fmt.Errorf("events: record event: %w", err)
	}
	evt.Ref = id
	return id, true, nil
}

// MarkProcessed flags the event as fully handled and clears any earlier failure.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, ref uuid.UUID) error {
	query := `
		UPDATE webhook_events
		SET processed = true, processed_at = now(), error = NULL, failed_handlers = '{}', attempts = attempts + 1, claimed_until = NULL
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, ref); err != nil {
		return fmt.Errorf("events: mark processed: %w", err)
	}
	return nil
}

// Claim takes a replay lease on an event. It succeeds only when the row still shows
// seenAttempts and nobody else holds an unexpired lease, so concurrent replicas that
// listed the same row cannot both run its handlers. MarkProcessed and MarkFailed release it.
func (s *ProcessedStore) Claim(ctx context.Context, ref uuid.UUID, seenAttempts int, lease time.Duration) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE webhook_events
		SET claimed_until = now() + make_interval(secs => $3)
		WHERE id = $1
		  AND attempts = $2
		  AND NOT processed
		  AND (claimed_until IS NULL OR claimed_until <= now())`, ref, seenAttempts, lease.Seconds())
	if err != nil {
		return false, fmt.Errorf("events: claim event: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkFailed stores the joined handler error and which handlers need a replay.
func (s *ProcessedStore) MarkFailed(ctx context.Context, ref uuid.UUID, errMsg string, failedHandlers []string) error {
	if failedHandlers == nil {
		failedHandlers = []string{}
	}
	query := `
		UPDATE webhook_events
		SET processed = false, error = $2, failed_handlers = $3, attempts = attempts + 1, claimed_until = NULL
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, ref, errMsg, failedHandlers); err != nil {
		return fmt.Errorf("events: mark failed: %w", err)
	}
	return nil
}

const selectEventColumns = `
	SELECT id, provider, event_type, event_id, tenant_id, payload, processed, processed_at,
	       COALESCE(error, ''), failed_handlers, attempts, received_at
	FROM webhook_events
`

// Get loads a single event by its row id.
func (s *ProcessedStore) Get(ctx context.Context, ref uuid.UUID) (*WebhookEvent, error) {
	row := s.pool.QueryRow(ctx, selectEventColumns+` WHERE id = $1`, ref)
	evt, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("events: get event: %w", err)
	}
	return evt, nil
}

// ListReplayable returns unprocessed events that either failed or were never finished
// (received before staleBefore with no outcome), oldest first.
func (s *ProcessedStore) ListReplayable(ctx context.Context, maxAttempts int, staleBefore time.Time, limit int32) ([]WebhookEvent, error) {
	rows, err := s.pool.Query(ctx, selectEventColumns+`
		WHERE processed = false
		  AND attempts < $1
		  AND (error IS NOT NULL OR received_at < $2)
		  AND (claimed_until IS NULL OR claimed_until <= now())
		ORDER BY received_at
		LIMIT $3`, maxAttempts, staleBefore, limit)
	if err != nil {
		return nil, fmt.Errorf("events: list replayable: %w", err)
	}
	defer rows.Close()

	var out []WebhookEvent
	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("events: scan event: %w", err)
		}
		out = append(out, *evt)
	}
	return out, rows.Err()
}

func scanEvent(row pgx.Row) (*WebhookEvent, error) {
	var evt WebhookEvent
	var payload []byte
	if err := row.Scan(
		&evt.Ref, &evt.Provider, &evt.EventType, &evt.EventID, &evt.TenantID, &payload,
		&evt.Processed, &evt.ProcessedAt, &evt.Error, &evt.FailedHandlers, &evt.Attempts, &evt.ReceivedAt,
	); err != nil {
		return nil, err
	}
	evt.Payload = append(json.RawMessage(nil), payload...)
	return &evt, nil
}
