package payments

import (
	"context"
	"time"

	"github.com/wolfman30/clinic-webhooks/internal/dispatch"
	"github.com/wolfman30/clinic-webhooks/pkg/logging"
)

type subscriptionData struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// SubscriptionStatusHandler applies subscription.created/updated/canceled events.
type SubscriptionStatusHandler struct {
	repo   *Repository
	logger *logging.Logger
	now    func() time.Time
}

func NewSubscriptionStatusHandler(repo *Repository, logger *logging.Logger) *SubscriptionStatusHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SubscriptionStatusHandler{repo: repo, logger: logger, now: time.Now}
}

func (h *SubscriptionStatusHandler) Handle(ctx context.Context, evt dispatch.Event) error {
	var data subscriptionData
	if err := evt.Decode(&data); err != nil {
		return err
	}
	if data.ID == "" {
		return errMissingProviderID
	}
	providerStatus := data.Status
	if providerStatus == "" && evt.Type == dispatch.EventSubscriptionCanceled {
		providerStatus = "canceled"
	}
	target := MapSubscriptionStatus(providerStatus)
	logger := h.logger.With("event_id", evt.ID, "event_type", evt.Type, "tenant_id", evt.TenantID, "provider_subscription_id", data.ID)

	return h.repo.InTx(ctx, func(q *Queries) error {
		sub, err := q.LockSubscriptionByProviderID(ctx, evt.TenantID, data.ID)
		if err != nil {
			return err
		}
		if sub.Status == target {
			return nil
		}
		if !SubscriptionTransitionAllowed(sub.Status, target) {
			logger.Warn("ignoring out-of-order subscription transition", "from", sub.Status, "to", target)
			return nil
		}
		if err := q.SetSubscriptionStatus(ctx, sub.ID, target, h.now().UTC()); err != nil {
			return err
		}
		logger.Info("subscription status updated", "subscription_id", sub.ID, "from", sub.Status, "to", target)
		return nil
	})
}
