package webhook

import (
	"context"
	"time"

	"github.com/eventop/subsync/pkg/types"
)

// Typed notification builders for the four billing events. Keeping the
// payload shapes here means every enqueuer emits the same wire format.

type Customer struct {
	Email         string  `json:"email"`
	CustomerID    *string `json:"customerId,omitempty"`
	WalletAddress string  `json:"walletAddress"`
}

type SubscriptionCreatedNote struct {
	MerchantWallet string
	SessionID      string
	SubscriptionID string
	Customer       Customer
	PlanID         string
	PlanName       string
	Amount         string
	Interval       string
}

func (s *Service) NotifySubscriptionCreated(ctx context.Context, n SubscriptionCreatedNote) error {
	return s.SendEvent(ctx, n.MerchantWallet, types.WebhookEventSubscriptionCreated, map[string]any{
		"sessionId":      n.SessionID,
		"subscriptionId": n.SubscriptionID,
		"customer":       n.Customer,
		"plan": map[string]any{
			"planId":   n.PlanID,
			"planName": n.PlanName,
			"amount":   n.Amount,
			"interval": n.Interval,
		},
	})
}

type PaymentExecutedNote struct {
	MerchantWallet  string
	SubscriptionPda string
	Customer        Customer
	UserWallet      string
	Amount          string
	PaymentNumber   uint32
	NextPaymentDate time.Time
}

func (s *Service) NotifyPaymentExecuted(ctx context.Context, n PaymentExecutedNote) error {
	return s.SendEvent(ctx, n.MerchantWallet, types.WebhookEventPaymentSucceeded, map[string]any{
		"subscription_id": n.SubscriptionPda,
		"customer":        n.Customer,
		"userWallet":      n.UserWallet,
		"amount":          n.Amount,
		"paymentNumber":   n.PaymentNumber,
		"nextPaymentDate": n.NextPaymentDate.UTC(),
	})
}

type PaymentFailedNote struct {
	MerchantWallet  string
	SubscriptionPda string
	Customer        Customer
	UserWallet      string
	AmountRequired  string
	FailureCount    int
}

func (s *Service) NotifyPaymentFailed(ctx context.Context, n PaymentFailedNote) error {
	return s.SendEvent(ctx, n.MerchantWallet, types.WebhookEventPaymentFailed, map[string]any{
		"subscription_id": n.SubscriptionPda,
		"customer":        n.Customer,
		"user_wallet":     n.UserWallet,
		"amount_required": n.AmountRequired,
		"failure_count":   n.FailureCount,
	})
}

type SubscriptionCancelledNote struct {
	MerchantWallet  string
	SubscriptionPda string
	Customer        Customer
	PaymentsMade    uint32
}

func (s *Service) NotifySubscriptionCancelled(ctx context.Context, n SubscriptionCancelledNote) error {
	return s.SendEvent(ctx, n.MerchantWallet, types.WebhookEventSubscriptionCancelled, map[string]any{
		"id":           n.SubscriptionPda,
		"customer":     n.Customer,
		"paymentsMade": n.PaymentsMade,
		"cancelledAt":  s.now().UTC().Format(time.RFC3339),
	})
}
