package types

type ScheduledPaymentStatus string

const (
	ScheduledPaymentStatusPending    ScheduledPaymentStatus = "pending"
	ScheduledPaymentStatusProcessing ScheduledPaymentStatus = "processing"
	ScheduledPaymentStatusCompleted  ScheduledPaymentStatus = "completed"
	ScheduledPaymentStatusFailed     ScheduledPaymentStatus = "failed"
	ScheduledPaymentStatusCancelled  ScheduledPaymentStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ScheduledPaymentStatus) Terminal() bool {
	switch s {
	case ScheduledPaymentStatusCompleted, ScheduledPaymentStatusFailed, ScheduledPaymentStatusCancelled:
		return true
	}
	return false
}

type TransactionType string

const (
	TransactionTypePayment             TransactionType = "payment"
	TransactionTypeDeposit             TransactionType = "deposit"
	TransactionTypeWithdrawal          TransactionType = "withdrawal"
	TransactionTypeCancel              TransactionType = "cancel"
	TransactionTypeSubscriptionCreated TransactionType = "subscription_created"
	TransactionTypeYieldDeposit        TransactionType = "yield_deposit"
	TransactionTypeYieldWithdrawal     TransactionType = "yield_withdrawal"
)
