package models

import "time"

// YieldSnapshot is one wallet's end-of-day yield position, priced against
// the vault's share rate. One row per wallet per UTC day; re-running the
// snapshot within the same day refreshes the row.
type YieldSnapshot struct {
	ID            string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	WalletPda     string    `gorm:"column:wallet_pda;type:varchar(64);not null;uniqueIndex:idx_yield_snapshot_day" json:"wallet_pda"`
	UserWallet    string    `gorm:"column:user_wallet;type:varchar(64);not null;index" json:"user_wallet"`
	SnapshotDate  time.Time `gorm:"column:snapshot_date;type:date;not null;uniqueIndex:idx_yield_snapshot_day" json:"snapshot_date"`
	SharesHeld    string    `gorm:"column:shares_held;type:varchar(40);not null" json:"shares_held"`
	ValueUsdc     string    `gorm:"column:value_usdc;type:varchar(40);not null" json:"value_usdc"`
	DailyEarnings string    `gorm:"column:daily_earnings;type:varchar(40);not null" json:"daily_earnings"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (YieldSnapshot) TableName() string { return "yield_snapshot" }
