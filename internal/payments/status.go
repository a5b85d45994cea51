package payments

import "strings"

// InvoiceStatus is the internal invoice lifecycle.
type InvoiceStatus string

const (
	InvoiceDraft         InvoiceStatus = "draft"
	InvoiceOpen          InvoiceStatus = "open"
	InvoicePaid          InvoiceStatus = "paid"
	InvoiceUncollectible InvoiceStatus = "uncollectible"
	InvoiceVoid          InvoiceStatus = "void"
)

// SubscriptionStatus is the internal subscription lifecycle.
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionPending  SubscriptionStatus = "pending"
	SubscriptionTrialing SubscriptionStatus = "trialing"
	SubscriptionUnpaid   SubscriptionStatus = "unpaid"
)

// MapInvoiceStatus translates a provider charge status. Unknown values map to open.
func MapInvoiceStatus(providerStatus string) InvoiceStatus {
	switch normalizeStatus(providerStatus) {
	case "paid":
		return InvoicePaid
	case "canceled":
		return InvoiceVoid
	case "expired":
		return InvoiceUncollectible
	case "waiting":
		return InvoiceOpen
	default:
		return InvoiceOpen
	}
}

// MapSubscriptionStatus translates a provider subscription status. Unknown values map to active.
func MapSubscriptionStatus(providerStatus string) SubscriptionStatus {
	switch normalizeStatus(providerStatus) {
	case "active":
		return SubscriptionActive
	case "canceled", "expired":
		return SubscriptionCanceled
	default:
		return SubscriptionActive
	}
}

// InvoiceTransitionAllowed reports whether an invoice in from may move to to.
// Paid and void are terminal; a late payment may still settle an uncollectible invoice.
// Same-status transitions are allowed and treated as no-ops by callers.
func InvoiceTransitionAllowed(from, to InvoiceStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case InvoicePaid, InvoiceVoid:
		return false
	case InvoiceUncollectible:
		return to == InvoicePaid
	default:
		return true
	}
}

// SubscriptionTransitionAllowed reports whether a subscription in from may move to to.
// Canceled is terminal so a late subscription.updated cannot revive it.
func SubscriptionTransitionAllowed(from, to SubscriptionStatus) bool {
	if from == to {
		return true
	}
	return from != SubscriptionCanceled
}

func normalizeStatus(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "cancelled" {
		return "canceled"
	}
	return s
}
