package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/eventop/subsync/pkg/types"
)

// CheckoutSession is an off-chain purchase intent. SessionID doubles as the
// linking token embedded in the on-chain create-subscription instruction.
// Status is terminal once completed, cancelled or failed; at most one
// completed session may reference a given subscription PDA or transaction
// signature.
type CheckoutSession struct {
	SessionID       string                      `gorm:"column:session_id;type:varchar(128);primary_key" json:"session_id"`
	MerchantWallet  string                      `gorm:"column:merchant_wallet;type:varchar(64);not null;index" json:"merchant_wallet"`
	PlanPda         string                      `gorm:"column:plan_pda;type:varchar(64);not null" json:"plan_pda"`
	PlanID          string                      `gorm:"column:plan_id;type:varchar(64);not null" json:"plan_id"`
	CustomerEmail   string                      `gorm:"column:customer_email;type:varchar(256);not null" json:"customer_email"`
	CustomerID      *string                     `gorm:"column:customer_id;type:varchar(128)" json:"customer_id"`
	SuccessURL      string                      `gorm:"column:success_url;type:varchar(512)" json:"success_url"`
	CancelURL       *string                     `gorm:"column:cancel_url;type:varchar(512)" json:"cancel_url"`
	Metadata        datatypes.JSONMap           `gorm:"column:metadata;type:jsonb;default:'{}'" json:"metadata"`
	Status          types.CheckoutSessionStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	FailureReason   *string                     `gorm:"column:failure_reason;type:varchar(256)" json:"failure_reason"`
	SubscriptionPda *string                     `gorm:"column:subscription_pda;type:varchar(64);index" json:"subscription_pda"`
	UserWallet      *string                     `gorm:"column:user_wallet;type:varchar(64)" json:"user_wallet"`
	Signature       *string                     `gorm:"column:signature;type:varchar(128);index" json:"signature"`
	ExpiresAt       time.Time                   `gorm:"column:expires_at;not null" json:"expires_at"`
	CompletedAt     *time.Time                  `gorm:"column:completed_at" json:"completed_at"`
	CreatedAt       time.Time                   `json:"created_at"`
	UpdatedAt       time.Time                   `json:"updated_at"`
}

func (CheckoutSession) TableName() string { return "checkout_session" }
