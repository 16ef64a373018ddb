package models

import "time"

// SubscriptionWallet mirrors a per-user prepaid wallet account.
// TotalSubscriptions tracks open subscriptions funded by this wallet.
type SubscriptionWallet struct {
	WalletPda          string    `gorm:"column:wallet_pda;type:varchar(64);primary_key" json:"wallet_pda"`
	OwnerWallet        string    `gorm:"column:owner_wallet;type:varchar(64);not null;index" json:"owner_wallet"`
	Mint               string    `gorm:"column:mint;type:varchar(64);not null" json:"mint"`
	IsYieldEnabled     bool      `gorm:"column:is_yield_enabled;not null;default:false" json:"is_yield_enabled"`
	YieldStrategy      *string   `gorm:"column:yield_strategy;type:varchar(32)" json:"yield_strategy"`
	YieldVault         *string   `gorm:"column:yield_vault;type:varchar(64)" json:"yield_vault"`
	YieldShares        string    `gorm:"column:yield_shares;type:varchar(40);not null;default:'0'" json:"yield_shares"`
	TotalSubscriptions uint32    `gorm:"column:total_subscriptions;not null;default:0" json:"total_subscriptions"`
	TotalSpent         string    `gorm:"column:total_spent;type:varchar(40);not null;default:'0'" json:"total_spent"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

func (SubscriptionWallet) TableName() string { return "subscription_wallet" }
