package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

func noop() dispatch.Handler {
	return dispatch.HandlerFunc(func(context.Context, dispatch.Event) error { return nil })
}

func TestNewRouterRegistrations(t *testing.T) {
	p := Pipeline{Income: noop(), Visit: noop(), Purchase: noop(), Stock: noop(), Invoices: noop(), Subscriptions: noop()}
	r := NewRouter(p, nil, logging.Discard())

	assert.Equal(t, []string{HandlerFinanceIncome, HandlerLoyaltyVisit, HandlerStockConsumption}, r.Handlers(dispatch.EventAppointmentCompleted))
	assert.Equal(t, []string{HandlerLoyaltyPurchase}, r.Handlers(dispatch.EventPaymentCompleted))
	assert.Equal(t, []string{HandlerInvoiceStatus}, r.Handlers(dispatch.EventChargeStatusUpdated))
	for _, evt := range []string{dispatch.EventSubscriptionCreated, dispatch.EventSubscriptionUpdated, dispatch.EventSubscriptionCanceled} {
		assert.Equal(t, []string{HandlerSubscriptionStatus}, r.Handlers(evt))
	}
	assert.Empty(t, r.Handlers("customer.created"))
}

func TestConnectPostgresPoolEmptyURLReturnsNil(t *testing.T) {
	if pool := ConnectPostgresPool(context.Background(), "", logging.Discard()); pool != nil {
		t.Fatalf("expected nil pool for empty URL")
	}
}

func TestBuildRedisClientDisabled(t *testing.T) {
	if client := BuildRedisClient(context.Background(), nil, logging.Discard(), true); client != nil {
		t.Fatalf("expected nil client without config")
	}
}
