package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

// OutboxEntry is a notification request waiting to be handed to the queue.
type OutboxEntry struct {
	ID        uuid.UUID
	TenantID  string
	Type      string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// DeliveryHandler forwards an entry to a downstream transport.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// OutboxStore records notification requests so they survive a crash between
// the business write and the queue publish.
type OutboxStore struct {
	pool rowQuerier
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{pool: pool}
}

func newOutboxStoreWithExec(exec rowQuerier) *OutboxStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &OutboxStore{pool: exec}
}

// Insert queues payload (marshalled as JSON) for the tenant.
func (s *OutboxStore) Insert(ctx context.Context, tenantID string, eventType string, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal outbox payload: %w", err)
	}
	id := uuid.New()
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO outbox (id, tenant_id, type, payload)
		VALUES ($1, $2, $3, $4)`, id, tenantID, eventType, data); err != nil {
		return uuid.Nil, fmt.Errorf("events: insert outbox: %w", err)
	}
	return id, nil
}

// FetchPending lists undelivered entries that still have attempts left, oldest first.
func (s *OutboxStore) FetchPending(ctx context.Context, maxAttempts int, limit int32) ([]OutboxEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, type, payload, attempts, created_at
		FROM outbox
		WHERE delivered_at IS NULL AND attempts < $1
		ORDER BY created_at
		LIMIT $2`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.TenantID, &entry.Type, &payload, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// MarkDelivered reports false when another deliverer got there first.
func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET delivered_at = now(), last_error = NULL
		WHERE id = $1 AND delivered_at IS NULL`, id)
	if err != nil {
		return false, fmt.Errorf("events: mark outbox delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *OutboxStore) RecordFailure(ctx context.Context, id uuid.UUID, errMsg string) error {
	if _, err := s.pool.Exec(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, last_error = $2
		WHERE id = $1 AND delivered_at IS NULL`, id, errMsg); err != nil {
		return fmt.Errorf("events: record outbox failure: %w", err)
	}
	return nil
}

type outboxSource interface {
	FetchPending(ctx context.Context, maxAttempts int, limit int32) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	RecordFailure(ctx context.Context, id uuid.UUID, errMsg string) error
}

// Deliverer polls the outbox and hands entries to the handler.
type Deliverer struct {
	store       outboxSource
	handler     DeliveryHandler
	logger      *logging.Logger
	batchSize   int32
	maxAttempts int
	interval    time.Duration
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	d := &Deliverer{
		handler:     handler,
		logger:      logger,
		batchSize:   25,
		maxAttempts: 10,
		interval:    2 * time.Second,
	}
	if store != nil {
		d.store = store
	}
	return d
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithMaxAttempts stops retrying an entry after n failed publishes.
func (d *Deliverer) WithMaxAttempts(n int) *Deliverer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.deliverBatch(ctx)
		}
	}
}

func (d *Deliverer) deliverBatch(ctx context.Context) int {
	entries, err := d.store.FetchPending(ctx, d.maxAttempts, d.batchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return 0
	}
	delivered := 0
	for _, entry := range entries {
		logger := d.logger.With("outbox_id", entry.ID, "type", entry.Type, "tenant_id", entry.TenantID)
		if err := d.handler.Handle(ctx, entry); err != nil {
			if entry.Attempts+1 >= d.maxAttempts {
				logger.Error("outbox entry exhausted retries", "error", err, "attempts", entry.Attempts+1)
			} else {
				logger.Warn("outbox delivery failed", "error", err, "attempts", entry.Attempts+1)
			}
			if rerr := d.store.RecordFailure(ctx, entry.ID, err.Error()); rerr != nil {
				logger.Error("failed to record outbox failure", "error", rerr)
			}
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			logger.Error("failed to mark outbox delivered", "error", err)
			continue
		}
		if ok {
			delivered++
			logger.Debug("outbox delivered")
		}
	}
	return delivered
}
