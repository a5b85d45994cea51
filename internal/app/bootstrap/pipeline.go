package bootstrap

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/clinic-webhooks/internal/appointments"
	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
	"github.com/wolfman30/clinic-webhooks/internal/events"
	"github.com/wolfman30/clinic-webhooks/internal/finance"
	"github.com/wolfman30/clinic-webhooks/internal/inventory"
	"github.com/wolfman30/clinic-webhooks/internal/loyalty"
	"github.com/wolfman30/clinic-webhooks/internal/observability/metrics"
	"github.com/wolfman30/clinic-webhooks/internal/payments"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

// Handler names; replay targets handlers by these.
const (
	HandlerFinanceIncome      = "finance.appointment_income"
	HandlerLoyaltyVisit       = "loyalty.visit_accrual"
	HandlerLoyaltyPurchase    = "loyalty.purchase_accrual"
	HandlerStockConsumption   = "inventory.stock_consumption"
	HandlerInvoiceStatus      = "payments.invoice_status"
	HandlerSubscriptionStatus = "payments.subscription_status"
)

// Pipeline holds the business-rule handlers registered on the router.
type Pipeline struct {
	Income        dispatch.Handler
	Visit         dispatch.Handler
	Purchase      dispatch.Handler
	Stock         dispatch.Handler
	Invoices      dispatch.Handler
	Subscriptions dispatch.Handler
}

// BuildPipeline constructs every handler on top of one pool.
func BuildPipeline(pool *pgxpool.Pool, outbox *events.OutboxStore, logger *logging.Logger) Pipeline {
	directory := appointments.NewDirectory(pool)
	stock := inventory.NewStockConsumer(pool, directory, logger)
	loyaltyHandlers := loyalty.NewHandlers(loyalty.NewEngine(pool, logger), directory, outbox, logger)
	paymentsRepo := payments.NewRepository(pool)

	return Pipeline{
		Income:        finance.NewAppointmentIncomeHandler(pool, directory, logger),
		Visit:         dispatch.HandlerFunc(loyaltyHandlers.AppointmentCompleted),
		Purchase:      dispatch.HandlerFunc(loyaltyHandlers.PaymentCompleted),
		Stock:         stock,
		Invoices:      payments.NewChargeStatusHandler(paymentsRepo, stock, outbox, logger),
		Subscriptions: payments.NewSubscriptionStatusHandler(paymentsRepo, logger),
	}
}

// NewRouter registers the pipeline on a fresh router.
func NewRouter(p Pipeline, m *metrics.WebhookMetrics, logger *logging.Logger) *dispatch.Router {
	r := dispatch.NewRouter(logger, m)

	r.On(dispatch.EventAppointmentCompleted, HandlerFinanceIncome, p.Income)
	r.On(dispatch.EventAppointmentCompleted, HandlerLoyaltyVisit, p.Visit)
	r.On(dispatch.EventAppointmentCompleted, HandlerStockConsumption, p.Stock)

	r.On(dispatch.EventPaymentCompleted, HandlerLoyaltyPurchase, p.Purchase)

	// Stock for paid invoices runs inside the invoice handler's transaction, not as a separate registration.
	r.On(dispatch.EventChargeStatusUpdated, HandlerInvoiceStatus, p.Invoices)

	for _, evt := range []string{dispatch.EventSubscriptionCreated, dispatch.EventSubscriptionUpdated, dispatch.EventSubscriptionCanceled} {
		r.On(evt, HandlerSubscriptionStatus, p.Subscriptions)
	}
	return r
}
