package indexer

import (
	"context"
	"math/big"
	"time"

	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/internal/platform/chain"
	"github.com/eventop/subsync/pkg/tool"
)

// SnapshotYieldEarnings records one end-of-day row per yield-enabled wallet,
// pricing the wallet's projected shares against the vault's current rate.
// Daily earnings compare against the previous day's snapshot; on the first
// snapshot for a wallet they are zero. Overlapping runs are coalesced.
func (s *Service) SnapshotYieldEarnings(ctx context.Context) {
	if !s.snapshotting.CompareAndSwap(false, true) {
		s.log.Debugw("yield snapshot still running, skipping")
		return
	}
	defer s.snapshotting.Store(false)

	wallets, err := s.store.YieldEnabledWallets(ctx)
	if err != nil {
		s.log.Errorw("failed to load yield-enabled wallets", "err", err)
		return
	}
	if len(wallets) == 0 {
		s.log.Debugw("no yield-enabled wallets to snapshot")
		return
	}

	vaults, err := s.loadYieldVaults(ctx)
	if err != nil {
		s.log.Errorw("failed to load yield vaults", "err", err)
		return
	}

	day := s.now().UTC().Truncate(24 * time.Hour)
	written := 0
	for _, w := range wallets {
		if w.YieldVault == nil {
			s.log.Warnw("yield-enabled wallet has no vault, skipping", "wallet", w.WalletPda)
			continue
		}
		vault, ok := vaults[*w.YieldVault]
		if !ok {
			s.log.Warnw("vault unknown on chain, skipping wallet", "wallet", w.WalletPda, "vault", *w.YieldVault)
			continue
		}

		value := shareValue(w.YieldShares, vault)
		earnings := "0"
		prev, err := s.store.YieldSnapshotOn(ctx, w.WalletPda, day.AddDate(0, 0, -1))
		if err != nil {
			s.log.Errorw("failed to load previous snapshot", "wallet", w.WalletPda, "err", err)
			continue
		}
		if prev != nil {
			earnings = tool.SubAmounts(value, prev.ValueUsdc)
		}

		err = s.store.UpsertYieldSnapshot(ctx, &models.YieldSnapshot{
			ID:            tool.GenerateUUIDV7(),
			WalletPda:     w.WalletPda,
			UserWallet:    w.OwnerWallet,
			SnapshotDate:  day,
			SharesHeld:    w.YieldShares,
			ValueUsdc:     value,
			DailyEarnings: earnings,
		})
		if err != nil {
			s.log.Errorw("failed to save yield snapshot", "wallet", w.WalletPda, "err", err)
			continue
		}
		written++
	}
	s.log.Infow("yield snapshot complete", "wallets", len(wallets), "written", written)
}

// loadYieldVaults scans every vault account once so per-wallet pricing does
// not fetch from the RPC in a loop.
func (s *Service) loadYieldVaults(ctx context.Context) (map[string]*chain.YieldVaultAccount, error) {
	accounts, err := s.chain.ProgramAccounts(ctx, chain.YieldVaultDiscriminator)
	if err != nil {
		return nil, err
	}
	vaults := make(map[string]*chain.YieldVaultAccount, len(accounts))
	for _, acct := range accounts {
		v, err := chain.DecodeYieldVault(acct.Data)
		if err != nil {
			s.log.Warnw("undecodable vault account, skipping", "address", acct.Address, "err", err)
			continue
		}
		vaults[acct.Address] = v
	}
	return vaults, nil
}

// shareValue prices shares in base units: shares * deposited / issued,
// floored. An empty vault or unparsable share count prices to zero.
func shareValue(shares string, vault *chain.YieldVaultAccount) string {
	held, ok := new(big.Int).SetString(shares, 10)
	if !ok || held.Sign() <= 0 || vault.TotalSharesIssued == 0 {
		return "0"
	}
	value := new(big.Int).Mul(held, new(big.Int).SetUint64(vault.TotalUsdcDeposited))
	return value.Quo(value, new(big.Int).SetUint64(vault.TotalSharesIssued)).String()
}
