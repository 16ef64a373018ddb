package models

import "time"

// MerchantPlan mirrors an on-chain merchant plan account. Monetary and
// interval fields are decimal strings because they round-trip on-chain u64s.
// TotalSubscribers and TotalRevenue are mutated only by the indexer.
type MerchantPlan struct {
	PlanPda          string    `gorm:"column:plan_pda;type:varchar(64);primary_key" json:"plan_pda"`
	MerchantWallet   string    `gorm:"column:merchant_wallet;type:varchar(64);not null;index" json:"merchant_wallet"`
	PlanID           string    `gorm:"column:plan_id;type:varchar(64);not null;index" json:"plan_id"`
	PlanName         string    `gorm:"column:plan_name;type:varchar(128);not null" json:"plan_name"`
	Mint             string    `gorm:"column:mint;type:varchar(64);not null" json:"mint"`
	FeeAmount        string    `gorm:"column:fee_amount;type:varchar(40);not null" json:"fee_amount"`
	PaymentInterval  string    `gorm:"column:payment_interval;type:varchar(40);not null" json:"payment_interval"`
	IsActive         bool      `gorm:"column:is_active;not null;default:true" json:"is_active"`
	TotalSubscribers uint32    `gorm:"column:total_subscribers;not null;default:0" json:"total_subscribers"`
	TotalRevenue     string    `gorm:"column:total_revenue;type:varchar(40);not null;default:'0'" json:"total_revenue"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (MerchantPlan) TableName() string { return "merchant_plan" }
