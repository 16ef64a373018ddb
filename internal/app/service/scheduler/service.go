package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eventop/subsync/internal/app/service/webhook"
	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/internal/platform/chain"
	"github.com/eventop/subsync/pkg/config"
	"github.com/eventop/subsync/pkg/metrics"
	"github.com/eventop/subsync/pkg/tool"
	"github.com/eventop/subsync/pkg/types"
)

// Notifier delivers payment outcome webhooks. Satisfied by *webhook.Service.
type Notifier interface {
	NotifyPaymentExecuted(ctx context.Context, n webhook.PaymentExecutedNote) error
	NotifyPaymentFailed(ctx context.Context, n webhook.PaymentFailedNote) error
}

// Service owns scheduled payment rows and drives recurring debits. A single
// instance runs the tick loop; ticks never overlap.
type Service struct {
	cfg      *config.Config
	log      *zap.SugaredLogger
	store    Store
	chain    chain.Client
	notifier Notifier

	ticking atomic.Bool
	now     func() time.Time
}

func NewService(cfg *config.Config, log *zap.SugaredLogger, store Store, client chain.Client, notifier Notifier) *Service {
	return &Service{
		cfg:      cfg,
		log:      log,
		store:    store,
		chain:    client,
		notifier: notifier,
		now:      time.Now,
	}
}

// ScheduleNextPayment inserts a pending payment for the subscription's next
// due time, derived from its last payment timestamp plus the interval. At
// most one pending row exists per subscription; a second call is a no-op.
func (s *Service) ScheduleNextPayment(ctx context.Context, sub *models.Subscription) error {
	if !sub.IsActive {
		return nil
	}
	exists, err := s.store.PendingPaymentExists(ctx, sub.SubscriptionPda)
	if err != nil {
		return err
	}
	if exists {
		s.log.Debugw("pending payment already scheduled", "subscription", sub.SubscriptionPda)
		return nil
	}
	dueAt, err := tool.NextDue(sub.LastPaymentTimestamp, sub.PaymentInterval)
	if err != nil {
		return fmt.Errorf("subscription %s: %w", sub.SubscriptionPda, err)
	}
	return s.schedule(ctx, sub, dueAt)
}

func (s *Service) schedule(ctx context.Context, sub *models.Subscription, dueAt time.Time) error {
	payment := &models.ScheduledPayment{
		ID:              tool.GenerateUUIDV7(),
		SubscriptionPda: sub.SubscriptionPda,
		MerchantWallet:  sub.MerchantWallet,
		Amount:          sub.FeeAmount,
		ScheduledFor:    dueAt,
		Status:          types.ScheduledPaymentStatusPending,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return err
	}
	s.log.Infow("payment scheduled",
		"subscription", sub.SubscriptionPda, "amount", sub.FeeAmount, "due_at", dueAt.UTC())
	return nil
}

// CancelScheduledPayments voids all pending payments for a cancelled
// subscription.
func (s *Service) CancelScheduledPayments(ctx context.Context, subscriptionPda string) error {
	n, err := s.store.CancelPending(ctx, subscriptionPda)
	if err != nil {
		return err
	}
	if n > 0 {
		s.log.Infow("pending payments cancelled", "subscription", subscriptionPda, "count", n)
	}
	return nil
}

// Tick processes one batch of due payments. Overlapping invocations are
// coalesced: if a tick is still running the new one returns immediately.
func (s *Service) Tick(ctx context.Context) {
	if !s.ticking.CompareAndSwap(false, true) {
		s.log.Debugw("payment tick still running, skipping")
		return
	}
	defer s.ticking.Store(false)

	due, err := s.store.DuePayments(ctx, s.now(), s.cfg.Scheduler.BatchSize)
	if err != nil {
		s.log.Errorw("failed to load due payments", "err", err)
		return
	}
	if len(due) == 0 {
		return
	}
	s.log.Infow("processing due payments", "count", len(due))
	for i, payment := range due {
		if i > 0 {
			// Throttle RPC load between submissions.
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
		if ctx.Err() != nil {
			return
		}
		s.executePayment(ctx, payment)
	}
}

// executePayment runs one due payment through validation, on-chain
// execution and bookkeeping. Transient failures retry with a delay up to the
// configured cap; validation failures are terminal.
func (s *Service) executePayment(ctx context.Context, payment *models.ScheduledPayment) {
	payment.Status = types.ScheduledPaymentStatusProcessing
	if err := s.store.SavePayment(ctx, payment); err != nil {
		s.log.Errorw("failed to mark payment processing", "payment", payment.ID, "err", err)
		return
	}

	sub, err := s.store.SubscriptionByPda(ctx, payment.SubscriptionPda)
	if err != nil {
		s.retryOrFail(ctx, payment, nil, err)
		return
	}
	switch {
	case sub == nil:
		s.failTerminal(ctx, payment, nil, "subscription not found")
		return
	case !sub.IsActive:
		s.failTerminal(ctx, payment, sub, "subscription no longer active")
		return
	case sub.MerchantWallet != payment.MerchantWallet:
		s.failTerminal(ctx, payment, sub, "merchant wallet mismatch")
		return
	}

	state, err := s.chain.SubscriptionState(ctx, payment.SubscriptionPda)
	if err != nil {
		if err == chain.ErrAccountNotFound {
			s.failTerminal(ctx, payment, sub, "subscription account closed on chain")
			return
		}
		s.retryOrFail(ctx, payment, sub, err)
		return
	}
	if !state.IsActive {
		s.failTerminal(ctx, payment, sub, "subscription inactive on chain")
		return
	}
	if dueAt := time.Unix(int64(state.LastPaymentTimestamp+state.PaymentInterval), 0); s.now().Before(dueAt) {
		// Projection was ahead of the chain. Drop this row and requeue at
		// the chain-derived due time.
		s.failTerminal(ctx, payment, nil, "payment not yet due on chain")
		if err := s.schedule(ctx, sub, dueAt); err != nil {
			s.log.Errorw("failed to reschedule early payment", "subscription", sub.SubscriptionPda, "err", err)
		}
		return
	}

	signature, err := s.chain.ExecutePayment(ctx, payment.SubscriptionPda, sub.SubscriptionWalletPda, sub.MerchantWallet)
	if err != nil {
		s.retryOrFail(ctx, payment, sub, err)
		return
	}

	metrics.PaymentsProcessed.WithLabelValues(string(types.ScheduledPaymentStatusCompleted)).Inc()
	executedAt := s.now()
	payment.Status = types.ScheduledPaymentStatusCompleted
	payment.Signature = &signature
	payment.ExecutedAt = &executedAt
	payment.ErrorMessage = nil
	if err := s.store.SavePayment(ctx, payment); err != nil {
		s.log.Errorw("failed to mark payment completed", "payment", payment.ID, "err", err)
	}

	sub.TotalPaid = tool.AddAmounts(sub.TotalPaid, payment.Amount)
	sub.PaymentCount++
	sub.LastPaymentTimestamp = strconv.FormatInt(executedAt.Unix(), 10)
	if err := s.store.SaveSubscription(ctx, sub); err != nil {
		s.log.Errorw("failed to update subscription after payment", "subscription", sub.SubscriptionPda, "err", err)
	}

	s.log.Infow("payment executed",
		"subscription", sub.SubscriptionPda, "amount", payment.Amount,
		"payment_number", sub.PaymentCount, "signature", signature)

	if err := s.ScheduleNextPayment(ctx, sub); err != nil {
		s.log.Errorw("failed to schedule next payment", "subscription", sub.SubscriptionPda, "err", err)
	}

	nextDue, _ := tool.NextDue(sub.LastPaymentTimestamp, sub.PaymentInterval)
	if err := s.notifier.NotifyPaymentExecuted(ctx, webhook.PaymentExecutedNote{
		MerchantWallet:  sub.MerchantWallet,
		SubscriptionPda: sub.SubscriptionPda,
		Customer:        customerOf(sub),
		UserWallet:      sub.UserWallet,
		Amount:          payment.Amount,
		PaymentNumber:   sub.PaymentCount,
		NextPaymentDate: nextDue,
	}); err != nil {
		s.log.Errorw("payment webhook failed", "subscription", sub.SubscriptionPda, "err", err)
	}
}

// retryOrFail requeues the payment with a delay, or fails it terminally once
// the retry budget is exhausted. RetryCount counts consecutive failures, so
// the payment terminates on the MaxRetries-th failure.
func (s *Service) retryOrFail(ctx context.Context, payment *models.ScheduledPayment, sub *models.Subscription, cause error) {
	msg := truncate(cause.Error(), 500)
	payment.ErrorMessage = &msg

	payment.RetryCount++
	if payment.RetryCount < s.cfg.Scheduler.MaxRetries {
		payment.Status = types.ScheduledPaymentStatusPending
		payment.ScheduledFor = s.now().Add(s.cfg.Scheduler.RetryDelay)
		if err := s.store.SavePayment(ctx, payment); err != nil {
			s.log.Errorw("failed to requeue payment", "payment", payment.ID, "err", err)
			return
		}
		s.log.Warnw("payment failed, retry scheduled",
			"payment", payment.ID, "subscription", payment.SubscriptionPda,
			"attempt", payment.RetryCount, "retry_at", payment.ScheduledFor.UTC(), "err", cause)
		return
	}

	payment.Status = types.ScheduledPaymentStatusFailed
	if err := s.store.SavePayment(ctx, payment); err != nil {
		s.log.Errorw("failed to mark payment failed", "payment", payment.ID, "err", err)
		return
	}
	metrics.PaymentsProcessed.WithLabelValues(string(types.ScheduledPaymentStatusFailed)).Inc()
	s.log.Errorw("payment failed permanently",
		"payment", payment.ID, "subscription", payment.SubscriptionPda, "err", cause)
	s.notifyFailure(ctx, payment, sub, payment.RetryCount)
}

// failTerminal fails the payment immediately without consuming retries; used
// when retrying cannot change the outcome.
func (s *Service) failTerminal(ctx context.Context, payment *models.ScheduledPayment, sub *models.Subscription, reason string) {
	payment.Status = types.ScheduledPaymentStatusFailed
	payment.ErrorMessage = &reason
	if err := s.store.SavePayment(ctx, payment); err != nil {
		s.log.Errorw("failed to mark payment failed", "payment", payment.ID, "err", err)
		return
	}
	metrics.PaymentsProcessed.WithLabelValues(string(types.ScheduledPaymentStatusFailed)).Inc()
	s.log.Warnw("payment dropped",
		"payment", payment.ID, "subscription", payment.SubscriptionPda, "reason", reason)
	if sub != nil {
		s.notifyFailure(ctx, payment, sub, payment.RetryCount+1)
	}
}

func (s *Service) notifyFailure(ctx context.Context, payment *models.ScheduledPayment, sub *models.Subscription, failures int) {
	if sub == nil {
		return
	}
	if err := s.notifier.NotifyPaymentFailed(ctx, webhook.PaymentFailedNote{
		MerchantWallet:  sub.MerchantWallet,
		SubscriptionPda: sub.SubscriptionPda,
		Customer:        customerOf(sub),
		UserWallet:      sub.UserWallet,
		AmountRequired:  payment.Amount,
		FailureCount:    failures,
	}); err != nil {
		s.log.Errorw("payment failure webhook failed", "subscription", sub.SubscriptionPda, "err", err)
	}
}

// Cleanup deletes completed payments older than the configured retention.
func (s *Service) Cleanup(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.Scheduler.CleanupAge)
	n, err := s.store.DeleteCompletedBefore(ctx, cutoff)
	if err != nil {
		s.log.Errorw("payment cleanup failed", "err", err)
		return
	}
	if n > 0 {
		s.log.Infow("old completed payments removed", "count", n, "cutoff", cutoff.UTC())
	}
}

// Stats reports scheduled payment counts grouped by status.
func (s *Service) Stats(ctx context.Context) (map[types.ScheduledPaymentStatus]int64, error) {
	return s.store.CountByStatus(ctx)
}

func customerOf(sub *models.Subscription) webhook.Customer {
	c := webhook.Customer{WalletAddress: sub.UserWallet, CustomerID: sub.CustomerID}
	if sub.CustomerEmail != nil {
		c.Email = *sub.CustomerEmail
	}
	return c
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
