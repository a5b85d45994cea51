package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-webhooks/internal/observability/metrics"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

func newTestRouter() *Router {
	return NewRouter(logging.Discard(), metrics.NewWebhookMetrics(prometheus.NewRegistry()))
}

func testEvent(eventType string) Event {
	return Event{Provider: "pay", Type: eventType, ID: "evt-1", TenantID: "tenant-1", Data: []byte(`{"id":"x"}`)}
}

func TestDispatchUnhandledIsSuccess(t *testing.T) {
	r := newTestRouter()
	res := r.Dispatch(context.Background(), testEvent("invoice.created"))
	assert.True(t, res.Unhandled)
	assert.True(t, res.OK())
	assert.NoError(t, res.Err())
	assert.Empty(t, res.Failed())
}

func TestDispatchRunsHandlersConcurrently(t *testing.T) {
	r := newTestRouter()
	var wg sync.WaitGroup
	wg.Add(2)
	released := make(chan struct{})
	go func() {
		wg.Wait()
		close(released)
	}()
	barrier := HandlerFunc(func(ctx context.Context, evt Event) error {
		wg.Done()
		select {
		case <-released:
			return nil
		case <-time.After(2 * time.Second):
			return errors.New("sibling never started")
		}
	})
	r.On(EventAppointmentCompleted, "a", barrier)
	r.On(EventAppointmentCompleted, "b", barrier)

	res := r.Dispatch(context.Background(), testEvent(EventAppointmentCompleted))
	require.Len(t, res.Results, 2)
	assert.True(t, res.OK(), "handlers should overlap: %v", res.Err())
}

func TestDispatchIsolatesFailures(t *testing.T) {
	r := newTestRouter()
	var succeeded atomic.Bool
	r.On(EventPaymentCompleted, "ledger", HandlerFunc(func(context.Context, Event) error {
		succeeded.Store(true)
		return nil
	}))
	r.On(EventPaymentCompleted, "loyalty", HandlerFunc(func(context.Context, Event) error {
		panic("nil card")
	}))
	r.On(EventPaymentCompleted, "stock", HandlerFunc(func(context.Context, Event) error {
		return ErrReferencedEntityNotFound
	}))

	res := r.Dispatch(context.Background(), testEvent(EventPaymentCompleted))

	assert.True(t, succeeded.Load())
	assert.False(t, res.OK())
	assert.ElementsMatch(t, []string{"loyalty", "stock"}, res.Failed())

	var fault *HandlerFault
	require.ErrorAs(t, res.Err(), &fault)
	assert.Equal(t, "loyalty", fault.Handler)
	assert.ErrorIs(t, res.Err(), ErrReferencedEntityNotFound)
}

func TestDispatchOnlyRunsNamedHandlers(t *testing.T) {
	r := newTestRouter()
	var calls sync.Map
	for _, name := range []string{"finance", "loyalty", "stock"} {
		r.On(EventAppointmentCompleted, name, HandlerFunc(func(context.Context, Event) error {
			calls.Store(name, true)
			return nil
		}))
	}

	res := r.DispatchOnly(context.Background(), testEvent(EventAppointmentCompleted), []string{"stock"})
	require.Len(t, res.Results, 1)
	assert.Equal(t, "stock", res.Results[0].Name)
	_, ranFinance := calls.Load("finance")
	assert.False(t, ranFinance)
}

func TestOnRejectsDuplicateNames(t *testing.T) {
	r := newTestRouter()
	noop := HandlerFunc(func(context.Context, Event) error { return nil })
	r.On(EventSubscriptionCreated, "status", noop)
	assert.Panics(t, func() { r.On(EventSubscriptionCreated, "status", noop) })
	r.On(EventSubscriptionUpdated, "status", noop)
	assert.Equal(t, []string{"status"}, r.Handlers(EventSubscriptionUpdated))
}

func TestEventDecode(t *testing.T) {
	var body struct {
		ID string `json:"id"`
	}
	require.NoError(t, testEvent("x").Decode(&body))
	assert.Equal(t, "x", body.ID)

	err := Event{ID: "evt", Type: "x"}.Decode(&body)
	assert.Error(t, err)
}
