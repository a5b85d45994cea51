package webhooks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-webhooks/internal/events"
)

type staticSecrets map[string]string

func (s staticSecrets) Resolve(_ context.Context, tenantID, provider string) (string, error) {
	secret, ok := s[tenantID+"/"+provider]
	if !ok {
		return "", ErrSecretNotConfigured
	}
	return secret, nil
}

// memoryStore mimics webhook_events with its unique (provider, event_id) constraint.
type memoryStore struct {
	mu        sync.Mutex
	rows      map[uuid.UUID]*events.WebhookEvent
	keys      map[string]uuid.UUID
	leases    map[uuid.UUID]time.Time
	recordErr error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		rows:   map[uuid.UUID]*events.WebhookEvent{},
		keys:   map[string]uuid.UUID{},
		leases: map[uuid.UUID]time.Time{},
	}
}

func (s *memoryStore) Claim(_ context.Context, ref uuid.UUID, seenAttempts int, lease time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[ref]
	if !ok || row.Processed || row.Attempts != seenAttempts {
		return false, nil
	}
	if until, held := s.leases[ref]; held && time.Now().Before(until) {
		return false, nil
	}
	s.leases[ref] = time.Now().Add(lease)
	return true, nil
}

func (s *memoryStore) HasProcessed(_ context.Context, provider, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[provider+"/"+eventID]
	return ok, nil
}

func (s *memoryStore) Record(_ context.Context, evt *events.WebhookEvent) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recordErr != nil {
		return uuid.Nil, false, s.recordErr
	}
	key := evt.Provider + "/" + evt.EventID
	if ref, ok := s.keys[key]; ok {
		return ref, false, nil
	}
	row := *evt
	row.Ref = uuid.New()
	row.ReceivedAt = time.Now()
	s.rows[row.Ref] = &row
	s.keys[key] = row.Ref
	return row.Ref, true, nil
}

func (s *memoryStore) MarkProcessed(_ context.Context, ref uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[ref]
	if !ok {
		return events.ErrEventNotFound
	}
	now := time.Now()
	row.Processed = true
	row.ProcessedAt = &now
	row.Error = ""
	row.FailedHandlers = nil
	row.Attempts++
	delete(s.leases, ref)
	return nil
}

func (s *memoryStore) MarkFailed(_ context.Context, ref uuid.UUID, errMsg string, failed []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[ref]
	if !ok {
		return events.ErrEventNotFound
	}
	row.Error = errMsg
	row.FailedHandlers = append([]string(nil), failed...)
	row.Attempts++
	delete(s.leases, ref)
	return nil
}

func (s *memoryStore) Get(_ context.Context, ref uuid.UUID) (*events.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[ref]
	if !ok {
		return nil, events.ErrEventNotFound
	}
	cp := *row
	return &cp, nil
}

func (s *memoryStore) ListReplayable(_ context.Context, maxAttempts int, staleBefore time.Time, limit int32) ([]events.WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.WebhookEvent
	for _, row := range s.rows {
		if row.Processed || row.Attempts >= maxAttempts {
			continue
		}
		if row.Error == "" && !row.ReceivedAt.Before(staleBefore) {
			continue
		}
		if until, held := s.leases[row.Ref]; held && time.Now().Before(until) {
			continue
		}
		out = append(out, *row)
		if int32(len(out)) == limit {
			break
		}
	}
	return out, nil
}

func (s *memoryStore) only() *events.WebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		cp := *row
		return &cp
	}
	return nil
}

func (s *memoryStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// deadlineStore refuses outcome writes on a finished context, as pgx does.
type deadlineStore struct {
	*memoryStore
}

func (s deadlineStore) MarkProcessed(ctx context.Context, ref uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memoryStore.MarkProcessed(ctx, ref)
}

func (s deadlineStore) MarkFailed(ctx context.Context, ref uuid.UUID, errMsg string, failed []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.memoryStore.MarkFailed(ctx, ref, errMsg, failed)
}

var errBoom = errors.New("boom")
