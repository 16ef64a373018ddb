package models

import (
	"time"

	"github.com/eventop/subsync/pkg/types"
)

// TransactionRecord is the append-only ledger of observed and executed
// transfers. The unique index on signature is the idempotency boundary:
// replayed events insert at most one row.
type TransactionRecord struct {
	ID              string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Signature       string                `gorm:"column:signature;type:varchar(128);not null;uniqueIndex" json:"signature"`
	SubscriptionPda string                `gorm:"column:subscription_pda;type:varchar(64);index" json:"subscription_pda"`
	Type            types.TransactionType `gorm:"column:type;type:varchar(32);not null;index" json:"type"`
	Amount          string                `gorm:"column:amount;type:varchar(40);not null" json:"amount"`
	FromWallet      string                `gorm:"column:from_wallet;type:varchar(64);not null" json:"from_wallet"`
	ToWallet        string                `gorm:"column:to_wallet;type:varchar(64);not null" json:"to_wallet"`
	Slot            uint64                `gorm:"column:slot;type:bigint;not null" json:"slot"`
	BlockTime       *time.Time            `gorm:"column:block_time" json:"block_time"`
	CreatedAt       time.Time             `json:"created_at"`
}

func (TransactionRecord) TableName() string { return "transaction_record" }
