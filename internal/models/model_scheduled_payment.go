package models

import (
	"time"

	"github.com/eventop/subsync/pkg/types"
)

// ScheduledPayment is a future debit obligation owned by the scheduler.
// At most one pending row may exist per subscription at a time; the
// scheduler checks before inserting.
type ScheduledPayment struct {
	ID              string                       `gorm:"column:id;type:uuid;primary_key" json:"id"`
	SubscriptionPda string                       `gorm:"column:subscription_pda;type:varchar(64);not null;index" json:"subscription_pda"`
	MerchantWallet  string                       `gorm:"column:merchant_wallet;type:varchar(64);not null" json:"merchant_wallet"`
	Amount          string                       `gorm:"column:amount;type:varchar(40);not null" json:"amount"`
	ScheduledFor    time.Time                    `gorm:"column:scheduled_for;not null;index" json:"scheduled_for"`
	Status          types.ScheduledPaymentStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	RetryCount      int                          `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	Signature       *string                      `gorm:"column:signature;type:varchar(128)" json:"signature"`
	ErrorMessage    *string                      `gorm:"column:error_message;type:varchar(512)" json:"error_message"`
	ExecutedAt      *time.Time                   `gorm:"column:executed_at" json:"executed_at"`
	CreatedAt       time.Time                    `json:"created_at"`
	UpdatedAt       time.Time                    `json:"updated_at"`
}

func (ScheduledPayment) TableName() string { return "scheduled_payment" }
