package types

type CheckoutSessionStatus string

const (
	CheckoutSessionStatusPending             CheckoutSessionStatus = "pending"
	CheckoutSessionStatusPendingVerification CheckoutSessionStatus = "pending_verification"
	CheckoutSessionStatusCompleted           CheckoutSessionStatus = "completed"
	CheckoutSessionStatusFailed              CheckoutSessionStatus = "failed"
	CheckoutSessionStatusCancelled           CheckoutSessionStatus = "cancelled"
	CheckoutSessionStatusExpired             CheckoutSessionStatus = "expired"
)

// Terminal reports whether the session can no longer change state.
func (s CheckoutSessionStatus) Terminal() bool {
	switch s {
	case CheckoutSessionStatusCompleted, CheckoutSessionStatusFailed, CheckoutSessionStatusCancelled:
		return true
	}
	return false
}
