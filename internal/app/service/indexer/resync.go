package indexer

import (
	"context"
	"strconv"

	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/internal/platform/chain"
)

// Resync reconciles the projection against a full program-account scan. It
// repairs drift from missed events; per-event counters are left alone
// wherever the chain does not carry them. Overlapping runs are coalesced.
func (s *Service) Resync(ctx context.Context) {
	if !s.resyncing.CompareAndSwap(false, true) {
		s.log.Debugw("resync still running, skipping")
		return
	}
	defer s.resyncing.Store(false)

	if err := s.syncMerchantPlans(ctx); err != nil {
		s.log.Errorw("plan resync failed", "err", err)
	}
	if err := s.syncWallets(ctx); err != nil {
		s.log.Errorw("wallet resync failed", "err", err)
	}
	if err := s.syncSubscriptions(ctx); err != nil {
		s.log.Errorw("subscription resync failed", "err", err)
	}
}

func (s *Service) syncMerchantPlans(ctx context.Context) error {
	accounts, err := s.chain.ProgramAccounts(ctx, chain.MerchantPlanDiscriminator)
	if err != nil {
		return err
	}
	synced := 0
	for _, acct := range accounts {
		plan, err := chain.DecodeMerchantPlan(acct.Data)
		if err != nil {
			s.log.Warnw("undecodable plan account, skipping", "address", acct.Address, "err", err)
			continue
		}
		if err := s.store.EnsureMerchant(ctx, plan.Merchant); err != nil {
			s.log.Errorw("failed to ensure merchant", "merchant", plan.Merchant, "err", err)
		}
		err = s.store.UpsertPlan(ctx, &models.MerchantPlan{
			PlanPda:          acct.Address,
			MerchantWallet:   plan.Merchant,
			PlanID:           plan.PlanID,
			PlanName:         plan.PlanName,
			Mint:             plan.Mint,
			FeeAmount:        strconv.FormatUint(plan.FeeAmount, 10),
			PaymentInterval:  strconv.FormatUint(plan.PaymentInterval, 10),
			IsActive:         plan.IsActive,
			TotalSubscribers: plan.TotalSubscribers,
			TotalRevenue:     "0",
		})
		if err != nil {
			s.log.Errorw("failed to upsert plan", "plan", acct.Address, "err", err)
			continue
		}
		synced++
	}
	s.log.Infow("merchant plans synced", "count", synced)
	return nil
}

func (s *Service) syncWallets(ctx context.Context) error {
	accounts, err := s.chain.ProgramAccounts(ctx, chain.SubscriptionWalletDiscriminator)
	if err != nil {
		return err
	}
	synced := 0
	for _, acct := range accounts {
		w, err := chain.DecodeSubscriptionWallet(acct.Data)
		if err != nil {
			s.log.Warnw("undecodable wallet account, skipping", "address", acct.Address, "err", err)
			continue
		}
		row := &models.SubscriptionWallet{
			WalletPda:          acct.Address,
			OwnerWallet:        w.Owner,
			Mint:               w.Mint,
			IsYieldEnabled:     w.IsYieldEnabled,
			TotalSubscriptions: w.TotalSubscriptions,
			TotalSpent:         strconv.FormatUint(w.TotalSpent, 10),
			YieldShares:        "0",
		}
		if w.IsYieldEnabled {
			strategy := w.YieldStrategy.String()
			row.YieldStrategy = &strategy
			row.YieldVault = &w.YieldVault
		}
		if err := s.store.UpsertWallet(ctx, row); err != nil {
			s.log.Errorw("failed to upsert wallet", "wallet", acct.Address, "err", err)
			continue
		}
		synced++
	}
	s.log.Infow("subscription wallets synced", "count", synced)
	return nil
}

// syncSubscriptions refreshes known subscriptions from chain state. Unknown
// actives are skipped: the on-chain account carries no session token, so a
// projection row created here could never be linked back to its checkout
// session or customer.
func (s *Service) syncSubscriptions(ctx context.Context) error {
	accounts, err := s.chain.ProgramAccounts(ctx, chain.SubscriptionStateDiscriminator)
	if err != nil {
		return err
	}
	synced, skipped := 0, 0
	for _, acct := range accounts {
		state, err := chain.DecodeSubscriptionState(acct.Data)
		if err != nil {
			s.log.Warnw("undecodable subscription account, skipping", "address", acct.Address, "err", err)
			continue
		}
		existing, err := s.store.SubscriptionByPda(ctx, acct.Address)
		if err != nil {
			s.log.Errorw("failed to load subscription", "subscription", acct.Address, "err", err)
			continue
		}
		if existing == nil {
			skipped++
			s.log.Warnw("on-chain subscription unknown to projection, skipping",
				"subscription", acct.Address, "user", state.User, "merchant", state.Merchant)
			continue
		}
		existing.UserWallet = state.User
		existing.SubscriptionWalletPda = state.SubscriptionWallet
		existing.MerchantWallet = state.Merchant
		existing.MerchantPlanPda = state.MerchantPlan
		existing.Mint = state.Mint
		existing.FeeAmount = strconv.FormatUint(state.FeeAmount, 10)
		existing.PaymentInterval = strconv.FormatUint(state.PaymentInterval, 10)
		existing.LastPaymentTimestamp = strconv.FormatUint(state.LastPaymentTimestamp, 10)
		existing.TotalPaid = strconv.FormatUint(state.TotalPaid, 10)
		existing.PaymentCount = state.PaymentCount
		existing.IsActive = state.IsActive
		if err := s.store.UpsertSubscription(ctx, existing); err != nil {
			s.log.Errorw("failed to refresh subscription", "subscription", acct.Address, "err", err)
			continue
		}
		synced++
	}
	s.log.Infow("subscriptions synced", "count", synced, "skipped_unknown", skipped)
	return nil
}
