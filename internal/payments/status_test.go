package payments

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapInvoiceStatus(t *testing.T) {
	tests := []struct {
		in   string
		want InvoiceStatus
	}{
		{"paid", InvoicePaid},
		{"PAID", InvoicePaid},
		{"canceled", InvoiceVoid},
		{"cancelled", InvoiceVoid},
		{"expired", InvoiceUncollectible},
		{"waiting", InvoiceOpen},
		{"refunded", InvoiceOpen},
		{"", InvoiceOpen},
		{"  paid  ", InvoicePaid},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, MapInvoiceStatus(tt.in))
		})
	}
}

func TestMapSubscriptionStatus(t *testing.T) {
	tests := []struct {
		in   string
		want SubscriptionStatus
	}{
		{"active", SubscriptionActive},
		{"canceled", SubscriptionCanceled},
		{"Cancelled", SubscriptionCanceled},
		{"expired", SubscriptionCanceled},
		{"trialing", SubscriptionActive},
		{"gibberish", SubscriptionActive},
		{"", SubscriptionActive},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, MapSubscriptionStatus(tt.in))
		})
	}
}

func TestMappingIsTotal(t *testing.T) {
	validInvoice := map[InvoiceStatus]bool{InvoiceDraft: true, InvoiceOpen: true, InvoicePaid: true, InvoiceUncollectible: true, InvoiceVoid: true}
	validSub := map[SubscriptionStatus]bool{SubscriptionActive: true, SubscriptionCanceled: true, SubscriptionPastDue: true, SubscriptionPending: true, SubscriptionTrialing: true, SubscriptionUnpaid: true}
	inputs := []string{"", "paid", "\x00", "ünïcödé", "PAST_DUE", "waiting ", "expired\n", "42"}
	for _, in := range inputs {
		assert.True(t, validInvoice[MapInvoiceStatus(in)], "invoice mapping for %q", in)
		assert.True(t, validSub[MapSubscriptionStatus(in)], "subscription mapping for %q", in)
	}
}

func TestInvoiceTransitionAllowed(t *testing.T) {
	assert.True(t, InvoiceTransitionAllowed(InvoicePaid, InvoicePaid))
	assert.True(t, InvoiceTransitionAllowed(InvoiceOpen, InvoicePaid))
	assert.True(t, InvoiceTransitionAllowed(InvoiceDraft, InvoiceVoid))
	assert.True(t, InvoiceTransitionAllowed(InvoiceUncollectible, InvoicePaid))
	assert.False(t, InvoiceTransitionAllowed(InvoicePaid, InvoiceOpen))
	assert.False(t, InvoiceTransitionAllowed(InvoiceVoid, InvoicePaid))
	assert.False(t, InvoiceTransitionAllowed(InvoiceUncollectible, InvoiceOpen))
}

func TestSubscriptionTransitionAllowed(t *testing.T) {
	assert.True(t, SubscriptionTransitionAllowed(SubscriptionActive, SubscriptionCanceled))
	assert.True(t, SubscriptionTransitionAllowed(SubscriptionCanceled, SubscriptionCanceled))
	assert.False(t, SubscriptionTransitionAllowed(SubscriptionCanceled, SubscriptionActive))
}
