package indexer

import (
	"context"
	"strconv"
	"time"

	"github.com/eventop/subsync/internal/app/service/checkout"
	"github.com/eventop/subsync/internal/app/service/webhook"
	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/internal/platform/chain"
	"github.com/eventop/subsync/pkg/metrics"
	"github.com/eventop/subsync/pkg/tool"
	"github.com/eventop/subsync/pkg/types"
)

// applyTransaction routes every event of a confirmed transaction through its
// handler. Handlers are idempotent: replays of the same signature are
// absorbed by the ledger's unique index and the one-shot state flips, so a
// crash between events reprocesses safely.
func (s *Service) applyTransaction(ctx context.Context, signature string, slot uint64, blockTime *time.Time, events []chain.Event) {
	when := s.now()
	if blockTime != nil {
		when = *blockTime
	}
	for _, ev := range events {
		metrics.EventsIndexed.WithLabelValues(ev.EventName()).Inc()
		switch ev := ev.(type) {
		case chain.SubscriptionWalletCreated:
			s.onWalletCreated(ctx, ev)
		case chain.SubscriptionCreated:
			s.onSubscriptionCreated(ctx, ev, signature, slot, when)
		case chain.PaymentExecuted:
			s.onPaymentExecuted(ctx, ev, signature, slot, when)
		case chain.SubscriptionCancelled:
			s.onSubscriptionCancelled(ctx, ev, signature, slot, when)
		case chain.WalletDeposit:
			s.recordTransfer(ctx, signature, slot, when, "", types.TransactionTypeDeposit, ev.Amount, ev.User, ev.WalletPda)
		case chain.WalletWithdrawal:
			s.recordTransfer(ctx, signature, slot, when, "", types.TransactionTypeWithdrawal, ev.Amount, ev.WalletPda, ev.User)
		case chain.YieldEnabled:
			strategy := ev.Strategy.String()
			if err := s.store.SetWalletYield(ctx, ev.WalletPda, true, &strategy, &ev.Vault); err != nil {
				s.log.Errorw("failed to enable wallet yield", "wallet", ev.WalletPda, "err", err)
			}
		case chain.YieldDisabled:
			if err := s.store.SetWalletYield(ctx, ev.WalletPda, false, nil, nil); err != nil {
				s.log.Errorw("failed to disable wallet yield", "wallet", ev.WalletPda, "err", err)
			}
		case chain.YieldDeposit:
			s.recordTransfer(ctx, signature, slot, when, "", types.TransactionTypeYieldDeposit, ev.UsdcAmount, ev.WalletPda, "")
			s.addYieldShares(ctx, ev.WalletPda, int64(ev.SharesIssued))
		case chain.YieldWithdrawal:
			s.recordTransfer(ctx, signature, slot, when, "", types.TransactionTypeYieldWithdrawal, ev.UsdcReceived, "", ev.WalletPda)
			s.addYieldShares(ctx, ev.WalletPda, -int64(ev.SharesRedeemed))
		case chain.YieldClaimed:
			s.log.Infow("yield claimed", "wallet", ev.WalletPda, "user", ev.User, "amount", ev.Amount)
		case chain.MerchantPlanRegistered:
			// The event carries only the PDA; refresh the whole plan set.
			if err := s.syncMerchantPlans(ctx); err != nil {
				s.log.Errorw("failed to sync plans after registration", "plan", ev.PlanPda, "err", err)
			}
		}
	}
}

func (s *Service) onWalletCreated(ctx context.Context, ev chain.SubscriptionWalletCreated) {
	inserted, err := s.store.CreateWallet(ctx, &models.SubscriptionWallet{
		WalletPda:   ev.WalletPda,
		OwnerWallet: ev.Owner,
		Mint:        ev.Mint,
		YieldShares: "0",
		TotalSpent:  "0",
	})
	if err != nil {
		s.log.Errorw("failed to create wallet projection", "wallet", ev.WalletPda, "err", err)
		return
	}
	if inserted {
		s.log.Infow("subscription wallet indexed", "wallet", ev.WalletPda, "owner", ev.Owner)
	}
}

// onSubscriptionCreated builds the projection row for a new subscription,
// links it to its checkout session when one exists, and fires the creation
// side effects exactly once, keyed on the projection insert.
func (s *Service) onSubscriptionCreated(ctx context.Context, ev chain.SubscriptionCreated, signature string, slot uint64, when time.Time) {
	plan, err := s.planFor(ctx, ev.Merchant, ev.PlanID)
	if err != nil {
		s.log.Errorw("failed to resolve plan", "merchant", ev.Merchant, "plan_id", ev.PlanID, "err", err)
		return
	}
	if plan == nil {
		s.log.Errorw("subscription references unknown plan, skipping",
			"subscription", ev.SubscriptionPda, "merchant", ev.Merchant, "plan_id", ev.PlanID)
		return
	}

	// A projection row must never exist without a validated session behind
	// it: the session is reconciled and completed before anything is
	// written. An unattributable event is an integrity anomaly and dropped.
	if ev.SessionToken == "" {
		s.log.Errorw("subscription created without linking token, dropping",
			"subscription", ev.SubscriptionPda, "user", ev.User, "merchant", ev.Merchant)
		return
	}
	link, err := s.reconciler.ReconcileSubscription(ctx, checkout.ReconcileRequest{
		SessionToken:    ev.SessionToken,
		SubscriptionPda: ev.SubscriptionPda,
		UserWallet:      ev.User,
		MerchantWallet:  ev.Merchant,
		PlanPda:         plan.PlanPda,
		Signature:       signature,
	})
	if err != nil {
		s.log.Errorw("checkout reconciliation rejected event, dropping",
			"subscription", ev.SubscriptionPda, "session", ev.SessionToken, "err", err)
		return
	}

	sub := &models.Subscription{
		SubscriptionPda:       ev.SubscriptionPda,
		UserWallet:            ev.User,
		SubscriptionWalletPda: ev.Wallet,
		MerchantWallet:        ev.Merchant,
		MerchantPlanPda:       plan.PlanPda,
		Mint:                  plan.Mint,
		FeeAmount:             plan.FeeAmount,
		PaymentInterval:       plan.PaymentInterval,
		LastPaymentTimestamp:  strconv.FormatInt(when.Unix(), 10),
		TotalPaid:             "0",
		IsActive:              true,
		SessionToken:          &ev.SessionToken,
		CustomerEmail:         link.CustomerEmail,
		CustomerID:            link.CustomerID,
	}

	inserted, err := s.store.CreateSubscription(ctx, sub)
	if err != nil {
		s.log.Errorw("failed to create subscription projection", "subscription", ev.SubscriptionPda, "err", err)
		return
	}
	if !inserted {
		s.log.Debugw("subscription already indexed", "subscription", ev.SubscriptionPda)
		return
	}

	if err := s.store.IncPlanSubscribers(ctx, plan.PlanPda, 1); err != nil {
		s.log.Errorw("failed to bump plan subscribers", "plan", plan.PlanPda, "err", err)
	}
	if err := s.store.IncWalletSubscriptions(ctx, ev.Wallet, 1); err != nil {
		s.log.Errorw("failed to bump wallet subscriptions", "wallet", ev.Wallet, "err", err)
	}
	s.recordTransfer(ctx, signature, slot, when, ev.SubscriptionPda, types.TransactionTypeSubscriptionCreated, 0, ev.User, ev.Merchant)

	s.log.Infow("subscription indexed",
		"subscription", ev.SubscriptionPda, "user", ev.User, "merchant", ev.Merchant, "plan", plan.PlanID)

	note := webhook.SubscriptionCreatedNote{
		MerchantWallet: ev.Merchant,
		SessionID:      link.SessionID,
		SubscriptionID: ev.SubscriptionPda,
		Customer:       customerOf(sub),
		PlanID:         plan.PlanID,
		PlanName:       plan.PlanName,
		Amount:         plan.FeeAmount,
		Interval:       plan.PaymentInterval,
	}
	if err := s.notifier.NotifySubscriptionCreated(ctx, note); err != nil {
		s.log.Errorw("subscription created webhook failed", "subscription", ev.SubscriptionPda, "err", err)
	}

	if err := s.scheduler.ScheduleNextPayment(ctx, sub); err != nil {
		s.log.Errorw("failed to schedule first payment", "subscription", ev.SubscriptionPda, "err", err)
	}
}

// onPaymentExecuted appends the ledger row and, only when this observation
// is the first, rolls the amount into the plan, wallet and subscription
// aggregates. Debits executed by the local scheduler already sent their
// webhook; externally executed ones are notified here.
func (s *Service) onPaymentExecuted(ctx context.Context, ev chain.PaymentExecuted, signature string, slot uint64, when time.Time) {
	inserted := s.recordTransfer(ctx, signature, slot, when, ev.SubscriptionPda, types.TransactionTypePayment, ev.Amount, ev.WalletPda, ev.Merchant)
	if !inserted {
		return
	}

	amount := strconv.FormatUint(ev.Amount, 10)
	sub, err := s.store.SubscriptionByPda(ctx, ev.SubscriptionPda)
	if err != nil {
		s.log.Errorw("failed to load subscription for payment", "subscription", ev.SubscriptionPda, "err", err)
		return
	}
	if sub == nil {
		s.log.Warnw("payment for unknown subscription", "subscription", ev.SubscriptionPda, "signature", signature)
		return
	}

	if err := s.store.AddPlanRevenue(ctx, sub.MerchantPlanPda, amount); err != nil {
		s.log.Errorw("failed to add plan revenue", "plan", sub.MerchantPlanPda, "err", err)
	}
	if err := s.store.AddWalletSpent(ctx, ev.WalletPda, amount); err != nil {
		s.log.Errorw("failed to add wallet spend", "wallet", ev.WalletPda, "err", err)
	}

	local, err := s.store.ScheduledPaymentExecuted(ctx, signature)
	if err != nil {
		s.log.Errorw("failed to check payment origin", "signature", signature, "err", err)
		return
	}
	if local {
		// The scheduler already updated the subscription and notified.
		return
	}

	sub.TotalPaid = tool.AddAmounts(sub.TotalPaid, amount)
	sub.PaymentCount = ev.PaymentNumber
	sub.LastPaymentTimestamp = strconv.FormatInt(when.Unix(), 10)
	if err := s.store.UpsertSubscription(ctx, sub); err != nil {
		s.log.Errorw("failed to update subscription after payment", "subscription", sub.SubscriptionPda, "err", err)
	}
	if err := s.scheduler.ScheduleNextPayment(ctx, sub); err != nil {
		s.log.Errorw("failed to schedule next payment", "subscription", sub.SubscriptionPda, "err", err)
	}

	next, err := tool.NextDue(sub.LastPaymentTimestamp, sub.PaymentInterval)
	if err != nil {
		next = when
	}
	if err := s.notifier.NotifyPaymentExecuted(ctx, webhook.PaymentExecutedNote{
		MerchantWallet:  ev.Merchant,
		SubscriptionPda: ev.SubscriptionPda,
		Customer:        customerOf(sub),
		UserWallet:      ev.User,
		Amount:          amount,
		PaymentNumber:   ev.PaymentNumber,
		NextPaymentDate: next,
	}); err != nil {
		s.log.Errorw("payment webhook failed", "subscription", ev.SubscriptionPda, "err", err)
	}
}

func (s *Service) onSubscriptionCancelled(ctx context.Context, ev chain.SubscriptionCancelled, signature string, slot uint64, when time.Time) {
	changed, err := s.store.MarkSubscriptionCancelled(ctx, ev.SubscriptionPda, when)
	if err != nil {
		s.log.Errorw("failed to mark subscription cancelled", "subscription", ev.SubscriptionPda, "err", err)
		return
	}
	s.recordTransfer(ctx, signature, slot, when, ev.SubscriptionPda, types.TransactionTypeCancel, 0, ev.User, ev.Merchant)
	if !changed {
		s.log.Debugw("cancellation already indexed", "subscription", ev.SubscriptionPda)
		return
	}

	sub, err := s.store.SubscriptionByPda(ctx, ev.SubscriptionPda)
	if err != nil || sub == nil {
		s.log.Errorw("cancelled subscription missing from projection", "subscription", ev.SubscriptionPda, "err", err)
		return
	}
	if err := s.store.IncPlanSubscribers(ctx, sub.MerchantPlanPda, -1); err != nil {
		s.log.Errorw("failed to drop plan subscribers", "plan", sub.MerchantPlanPda, "err", err)
	}
	if err := s.store.IncWalletSubscriptions(ctx, ev.WalletPda, -1); err != nil {
		s.log.Errorw("failed to drop wallet subscriptions", "wallet", ev.WalletPda, "err", err)
	}
	if err := s.scheduler.CancelScheduledPayments(ctx, ev.SubscriptionPda); err != nil {
		s.log.Errorw("failed to cancel scheduled payments", "subscription", ev.SubscriptionPda, "err", err)
	}

	s.log.Infow("subscription cancelled",
		"subscription", ev.SubscriptionPda, "user", ev.User, "payments_made", ev.PaymentsMade)

	if err := s.notifier.NotifySubscriptionCancelled(ctx, webhook.SubscriptionCancelledNote{
		MerchantWallet:  ev.Merchant,
		SubscriptionPda: ev.SubscriptionPda,
		Customer:        customerOf(sub),
		PaymentsMade:    ev.PaymentsMade,
	}); err != nil {
		s.log.Errorw("subscription cancelled webhook failed", "subscription", ev.SubscriptionPda, "err", err)
	}
}

// planFor resolves a plan, refreshing the plan set once when the merchant's
// plan was registered after the last resync.
func (s *Service) planFor(ctx context.Context, merchantWallet, planID string) (*models.MerchantPlan, error) {
	plan, err := s.store.PlanByMerchantAndID(ctx, merchantWallet, planID)
	if err != nil || plan != nil {
		return plan, err
	}
	s.log.Infow("plan not in projection, refreshing", "merchant", merchantWallet, "plan_id", planID)
	if err := s.syncMerchantPlans(ctx); err != nil {
		return nil, err
	}
	return s.store.PlanByMerchantAndID(ctx, merchantWallet, planID)
}

// recordTransfer appends a ledger row and reports whether it was first
// observed now. Amounts are u64 token units rendered as decimal strings.
func (s *Service) recordTransfer(ctx context.Context, signature string, slot uint64, when time.Time, subscriptionPda string, txType types.TransactionType, amount uint64, from, to string) bool {
	inserted, err := s.store.InsertTransactionRecord(ctx, &models.TransactionRecord{
		ID:              tool.GenerateUUIDV7(),
		Signature:       signature,
		SubscriptionPda: subscriptionPda,
		Type:            txType,
		Amount:          strconv.FormatUint(amount, 10),
		FromWallet:      from,
		ToWallet:        to,
		Slot:            slot,
		BlockTime:       &when,
	})
	if err != nil {
		s.log.Errorw("failed to append transaction record", "signature", signature, "type", txType, "err", err)
		return false
	}
	return inserted
}

func (s *Service) addYieldShares(ctx context.Context, walletPda string, delta int64) {
	if err := s.store.AddWalletYieldShares(ctx, walletPda, strconv.FormatInt(delta, 10)); err != nil {
		s.log.Errorw("failed to adjust yield shares", "wallet", walletPda, "err", err)
	}
}

func customerOf(sub *models.Subscription) webhook.Customer {
	c := webhook.Customer{WalletAddress: sub.UserWallet, CustomerID: sub.CustomerID}
	if sub.CustomerEmail != nil {
		c.Email = *sub.CustomerEmail
	}
	return c
}
