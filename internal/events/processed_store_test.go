package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestProcessedStoreHasProcessed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)

	mock.ExpectQuery("SELECT 1 FROM webhook_events").WithArgs("pay", "evt").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	processed, err := store.HasProcessed(context.Background(), "pay", "evt")
	if err != nil || !processed {
		t.Fatalf("expected existing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectQuery("SELECT 1 FROM webhook_events").WithArgs("pay", "evt-miss").WillReturnError(pgx.ErrNoRows)
	processed, err = store.HasProcessed(context.Background(), "pay", "evt-miss")
	if err != nil || processed {
		t.Fatalf("expected missing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectQuery("SELECT 1 FROM webhook_events").WithArgs("pay", "evt-err").WillReturnError(errors.New("conn reset"))
	if _, err := store.HasProcessed(context.Background(), "pay", "evt-err"); err == nil {
		t.Fatal("expected storage error to surface")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessedStoreRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)
	ref := uuid.New()

	mock.ExpectQuery("INSERT INTO webhook_events").
		WithArgs(ref, "pay", "payment.completed", "evt-1", "tenant-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(ref))
	got, created, err := store.Record(context.Background(), &WebhookEvent{
		Ref: ref, Provider: "pay", EventType: "payment.completed", EventID: "evt-1", TenantID: "tenant-1", Payload: []byte(`{}`),
	})
	if err != nil || !created || got != ref {
		t.Fatalf("expected new record, got ref=%s created=%v err=%v", got, created, err)
	}

	// Conflict: the row already exists, RETURNING yields nothing.
	mock.ExpectQuery("INSERT INTO webhook_events").
		WithArgs(pgxmock.AnyArg(), "pay", "payment.completed", "evt-1", "tenant-1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)
	_, created, err = store.Record(context.Background(), &WebhookEvent{
		Provider: "pay", EventType: "payment.completed", EventID: "evt-1", TenantID: "tenant-1",
	})
	if err != nil || created {
		t.Fatalf("expected duplicate to be reported as not created, got created=%v err=%v", created, err)
	}

	mock.ExpectQuery("INSERT INTO webhook_events").WillReturnError(errors.New("disk full"))
	if _, _, err := store.Record(context.Background(), &WebhookEvent{Provider: "pay", EventID: "evt-2"}); err == nil {
		t.Fatal("expected storage failure")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessedStoreMarkOutcome(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)
	ref := uuid.New()

	mock.ExpectExec("UPDATE webhook_events").WithArgs(ref).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.MarkProcessed(context.Background(), ref); err != nil {
		t.Fatalf("mark processed: %v", err)
	}

	mock.ExpectExec("UPDATE webhook_events").WithArgs(ref, "loyalty: boom", []string{"loyalty"}).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	if err := store.MarkFailed(context.Background(), ref, "loyalty: boom", []string{"loyalty"}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessedStoreGetAndList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)
	ref := uuid.New()
	received := time.Now().UTC().Add(-time.Hour)
	columns := []string{"id", "provider", "event_type", "event_id", "tenant_id", "payload", "processed", "processed_at", "error", "failed_handlers", "attempts", "received_at"}
	var noTime *time.Time

	mock.ExpectQuery("SELECT id, provider").WithArgs(ref).WillReturnRows(
		pgxmock.NewRows(columns).AddRow(ref, "pay", "payment.completed", "evt-1", "tenant-1", []byte(`{"a":1}`), false, noTime, "loyalty: boom", []string{"loyalty"}, 1, received),
	)
	evt, err := store.Get(context.Background(), ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if evt.EventID != "evt-1" || len(evt.FailedHandlers) != 1 || evt.FailedHandlers[0] != "loyalty" {
		t.Fatalf("unexpected event: %+v", evt)
	}

	mock.ExpectQuery("SELECT id, provider").WithArgs(ref).WillReturnError(pgx.ErrNoRows)
	if _, err := store.Get(context.Background(), ref); !errors.Is(err, ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}

	stale := time.Now().UTC().Add(-10 * time.Minute)
	mock.ExpectQuery("SELECT id, provider").WithArgs(5, stale, int32(10)).WillReturnRows(
		pgxmock.NewRows(columns).
			AddRow(ref, "pay", "payment.completed", "evt-1", "tenant-1", []byte(`{}`), false, noTime, "x", []string{"loyalty"}, 1, received).
			AddRow(uuid.New(), "pay", "appointment.completed", "evt-2", "tenant-1", []byte(`{}`), false, noTime, "", []string{}, 0, received),
	)
	list, err := store.ListReplayable(context.Background(), 5, stale, 10)
	if err != nil {
		t.Fatalf("list replayable: %v", err)
	}
	if len(list) != 2 || list[1].EventID != "evt-2" {
		t.Fatalf("unexpected list: %+v", list)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestProcessedStoreClaim(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)
	ref := uuid.New()

	mock.ExpectExec("UPDATE webhook_events\\s+SET claimed_until").WithArgs(ref, 1, float64(90)).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	ok, err := store.Claim(context.Background(), ref, 1, 90*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected claim to succeed, got ok=%v err=%v", ok, err)
	}

	// Another replica already claimed or finished the row.
	mock.ExpectExec("UPDATE webhook_events\\s+SET claimed_until").WithArgs(ref, 1, float64(90)).WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	ok, err = store.Claim(context.Background(), ref, 1, 90*time.Second)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ok {
		t.Fatal("expected claim to be refused when no row matches")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
