package indexer

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eventop/subsync/internal/models"
)

// Store is the projection-store slice the indexer needs. Insert methods
// report whether a row was actually written so callers can key side effects
// (counters, webhooks) on first observation instead of replay.
type Store interface {
	Checkpoint(ctx context.Context, key string) (*models.IndexerCheckpoint, error)
	SaveCheckpoint(ctx context.Context, key string, slot uint64, at time.Time) error

	InsertTransactionRecord(ctx context.Context, rec *models.TransactionRecord) (bool, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) (bool, error)
	CreateWallet(ctx context.Context, w *models.SubscriptionWallet) (bool, error)
	MarkSubscriptionCancelled(ctx context.Context, pda string, at time.Time) (bool, error)

	SubscriptionByPda(ctx context.Context, pda string) (*models.Subscription, error)
	WalletByPda(ctx context.Context, pda string) (*models.SubscriptionWallet, error)
	PlanByMerchantAndID(ctx context.Context, merchantWallet, planID string) (*models.MerchantPlan, error)
	PlanByPda(ctx context.Context, pda string) (*models.MerchantPlan, error)
	SaveWallet(ctx context.Context, w *models.SubscriptionWallet) error

	AddPlanRevenue(ctx context.Context, planPda, amount string) error
	IncPlanSubscribers(ctx context.Context, planPda string, delta int) error
	IncWalletSubscriptions(ctx context.Context, walletPda string, delta int) error
	AddWalletSpent(ctx context.Context, walletPda, amount string) error
	AddWalletYieldShares(ctx context.Context, walletPda, delta string) error
	SetWalletYield(ctx context.Context, walletPda string, enabled bool, strategy, vault *string) error

	// ScheduledPaymentExecuted reports whether a scheduled payment row
	// carries the signature, i.e. the debit originated from this service.
	ScheduledPaymentExecuted(ctx context.Context, signature string) (bool, error)

	YieldEnabledWallets(ctx context.Context) ([]*models.SubscriptionWallet, error)
	YieldSnapshotOn(ctx context.Context, walletPda string, day time.Time) (*models.YieldSnapshot, error)
	UpsertYieldSnapshot(ctx context.Context, snap *models.YieldSnapshot) error

	UpsertPlan(ctx context.Context, plan *models.MerchantPlan) error
	UpsertWallet(ctx context.Context, w *models.SubscriptionWallet) error
	UpsertSubscription(ctx context.Context, sub *models.Subscription) error
	EnsureMerchant(ctx context.Context, walletAddress string) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store { return &gormStore{db: db} }

func (s *gormStore) Checkpoint(ctx context.Context, key string) (*models.IndexerCheckpoint, error) {
	var row models.IndexerCheckpoint
	err := s.db.WithContext(ctx).First(&row, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// SaveCheckpoint advances the checkpoint, never rewinds it. Out-of-order
// saves from a racing backfill are absorbed by the slot guard.
func (s *gormStore) SaveCheckpoint(ctx context.Context, key string, slot uint64, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.IndexerCheckpoint{}).
		Where("key = ? AND last_processed_slot <= ?", key, slot).
		Updates(map[string]any{"last_processed_slot": slot, "last_sync_time": at})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.IndexerCheckpoint{Key: key, LastProcessedSlot: slot, LastSyncTime: at}).Error
}

func (s *gormStore) InsertTransactionRecord(ctx context.Context, rec *models.TransactionRecord) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "signature"}}, DoNothing: true}).
		Create(rec)
	return res.RowsAffected > 0, res.Error
}

func (s *gormStore) CreateSubscription(ctx context.Context, sub *models.Subscription) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "subscription_pda"}}, DoNothing: true}).
		Create(sub)
	return res.RowsAffected > 0, res.Error
}

func (s *gormStore) CreateWallet(ctx context.Context, w *models.SubscriptionWallet) (bool, error) {
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "wallet_pda"}}, DoNothing: true}).
		Create(w)
	return res.RowsAffected > 0, res.Error
}

// MarkSubscriptionCancelled flips is_active exactly once; replays report
// false and must skip their side effects.
func (s *gormStore) MarkSubscriptionCancelled(ctx context.Context, pda string, at time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("subscription_pda = ? AND is_active = ?", pda, true).
		Updates(map[string]any{"is_active": false, "cancelled_at": at})
	return res.RowsAffected > 0, res.Error
}

func (s *gormStore) SubscriptionByPda(ctx context.Context, pda string) (*models.Subscription, error) {
	var row models.Subscription
	err := s.db.WithContext(ctx).First(&row, "subscription_pda = ?", pda).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *gormStore) WalletByPda(ctx context.Context, pda string) (*models.SubscriptionWallet, error) {
	var row models.SubscriptionWallet
	err := s.db.WithContext(ctx).First(&row, "wallet_pda = ?", pda).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *gormStore) PlanByMerchantAndID(ctx context.Context, merchantWallet, planID string) (*models.MerchantPlan, error) {
	var row models.MerchantPlan
	err := s.db.WithContext(ctx).
		First(&row, "merchant_wallet = ? AND plan_id = ?", merchantWallet, planID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *gormStore) PlanByPda(ctx context.Context, pda string) (*models.MerchantPlan, error) {
	var row models.MerchantPlan
	err := s.db.WithContext(ctx).First(&row, "plan_pda = ?", pda).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *gormStore) SaveWallet(ctx context.Context, w *models.SubscriptionWallet) error {
	return s.db.WithContext(ctx).Save(w).Error
}

// Monetary columns are decimal strings so u64 token amounts survive intact;
// increments cast through numeric inside postgres.

func (s *gormStore) AddPlanRevenue(ctx context.Context, planPda, amount string) error {
	return s.db.WithContext(ctx).Model(&models.MerchantPlan{}).
		Where("plan_pda = ?", planPda).
		Update("total_revenue", gorm.Expr("(total_revenue::numeric + ?::numeric)::varchar", amount)).Error
}

func (s *gormStore) IncPlanSubscribers(ctx context.Context, planPda string, delta int) error {
	return s.db.WithContext(ctx).Model(&models.MerchantPlan{}).
		Where("plan_pda = ?", planPda).
		Update("total_subscribers", gorm.Expr("greatest(0, total_subscribers + ?)", delta)).Error
}

func (s *gormStore) IncWalletSubscriptions(ctx context.Context, walletPda string, delta int) error {
	return s.db.WithContext(ctx).Model(&models.SubscriptionWallet{}).
		Where("wallet_pda = ?", walletPda).
		Update("total_subscriptions", gorm.Expr("greatest(0, total_subscriptions + ?)", delta)).Error
}

func (s *gormStore) AddWalletSpent(ctx context.Context, walletPda, amount string) error {
	return s.db.WithContext(ctx).Model(&models.SubscriptionWallet{}).
		Where("wallet_pda = ?", walletPda).
		Update("total_spent", gorm.Expr("(total_spent::numeric + ?::numeric)::varchar", amount)).Error
}

// AddWalletYieldShares applies a signed share delta, clamped at zero.
func (s *gormStore) AddWalletYieldShares(ctx context.Context, walletPda, delta string) error {
	return s.db.WithContext(ctx).Model(&models.SubscriptionWallet{}).
		Where("wallet_pda = ?", walletPda).
		Update("yield_shares", gorm.Expr("greatest(0, yield_shares::numeric + ?::numeric)::varchar", delta)).Error
}

func (s *gormStore) SetWalletYield(ctx context.Context, walletPda string, enabled bool, strategy, vault *string) error {
	updates := map[string]any{
		"is_yield_enabled": enabled,
		"yield_strategy":   strategy,
		"yield_vault":      vault,
	}
	if !enabled {
		updates["yield_shares"] = "0"
	}
	return s.db.WithContext(ctx).Model(&models.SubscriptionWallet{}).
		Where("wallet_pda = ?", walletPda).
		Updates(updates).Error
}

func (s *gormStore) ScheduledPaymentExecuted(ctx context.Context, signature string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ScheduledPayment{}).
		Where("signature = ?", signature).
		Count(&count).Error
	return count > 0, err
}

func (s *gormStore) YieldEnabledWallets(ctx context.Context) ([]*models.SubscriptionWallet, error) {
	var rows []*models.SubscriptionWallet
	err := s.db.WithContext(ctx).
		Where("is_yield_enabled = ?", true).
		Find(&rows).Error
	return rows, err
}

func (s *gormStore) YieldSnapshotOn(ctx context.Context, walletPda string, day time.Time) (*models.YieldSnapshot, error) {
	var row models.YieldSnapshot
	err := s.db.WithContext(ctx).
		First(&row, "wallet_pda = ? AND snapshot_date = ?", walletPda, day).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// UpsertYieldSnapshot refreshes the wallet's row for the snapshot day.
func (s *gormStore) UpsertYieldSnapshot(ctx context.Context, snap *models.YieldSnapshot) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet_pda"}, {Name: "snapshot_date"}},
			DoUpdates: clause.AssignmentColumns([]string{"shares_held", "value_usdc", "daily_earnings"}),
		}).
		Create(snap).Error
}

// UpsertPlan refreshes chain-derived plan columns. total_revenue is local
// bookkeeping and deliberately left out of the update set.
func (s *gormStore) UpsertPlan(ctx context.Context, plan *models.MerchantPlan) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "plan_pda"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"merchant_wallet", "plan_id", "plan_name", "mint",
				"fee_amount", "payment_interval", "is_active", "total_subscribers",
			}),
		}).
		Create(plan).Error
}

func (s *gormStore) UpsertWallet(ctx context.Context, w *models.SubscriptionWallet) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "wallet_pda"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"owner_wallet", "mint", "is_yield_enabled", "yield_strategy",
				"yield_vault", "total_subscriptions", "total_spent",
			}),
		}).
		Create(w).Error
}

// UpsertSubscription refreshes chain-derived subscription columns. Checkout
// linkage (session_token, customer fields) is off-chain state and preserved.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "subscription_pda"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"user_wallet", "subscription_wallet_pda", "merchant_wallet",
				"merchant_plan_pda", "mint", "fee_amount", "payment_interval",
				"last_payment_timestamp", "total_paid", "payment_count", "is_active",
			}),
		}).
		Create(sub).Error
}

func (s *gormStore) EnsureMerchant(ctx context.Context, walletAddress string) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "wallet_address"}}, DoNothing: true}).
		Create(&models.Merchant{WalletAddress: walletAddress}).Error
}
