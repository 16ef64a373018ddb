package models

import "time"

// Subscription mirrors an on-chain subscription state account. The PDA is
// immutable once created; IsActive flips true -> false exactly once on
// cancellation and only the indexer flips it.
type Subscription struct {
	SubscriptionPda       string     `gorm:"column:subscription_pda;type:varchar(64);primary_key" json:"subscription_pda"`
	UserWallet            string     `gorm:"column:user_wallet;type:varchar(64);not null;index" json:"user_wallet"`
	SubscriptionWalletPda string     `gorm:"column:subscription_wallet_pda;type:varchar(64);not null;index" json:"subscription_wallet_pda"`
	MerchantWallet        string     `gorm:"column:merchant_wallet;type:varchar(64);not null;index" json:"merchant_wallet"`
	MerchantPlanPda       string     `gorm:"column:merchant_plan_pda;type:varchar(64);not null;index" json:"merchant_plan_pda"`
	Mint                  string     `gorm:"column:mint;type:varchar(64);not null" json:"mint"`
	FeeAmount             string     `gorm:"column:fee_amount;type:varchar(40);not null" json:"fee_amount"`
	PaymentInterval       string     `gorm:"column:payment_interval;type:varchar(40);not null" json:"payment_interval"`
	LastPaymentTimestamp  string     `gorm:"column:last_payment_timestamp;type:varchar(40);not null" json:"last_payment_timestamp"`
	TotalPaid             string     `gorm:"column:total_paid;type:varchar(40);not null;default:'0'" json:"total_paid"`
	PaymentCount          uint32     `gorm:"column:payment_count;not null;default:0" json:"payment_count"`
	IsActive              bool       `gorm:"column:is_active;not null;default:true" json:"is_active"`
	SessionToken          *string    `gorm:"column:session_token;type:varchar(128);index" json:"session_token"`
	CustomerEmail         *string    `gorm:"column:customer_email;type:varchar(256)" json:"customer_email"`
	CustomerID            *string    `gorm:"column:customer_id;type:varchar(128)" json:"customer_id"`
	CancelledAt           *time.Time `gorm:"column:cancelled_at" json:"cancelled_at"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func (Subscription) TableName() string { return "subscription" }
