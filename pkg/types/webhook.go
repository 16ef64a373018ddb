package types

type WebhookEvent string

const (
	WebhookEventSubscriptionCreated   WebhookEvent = "subscription.created"
	WebhookEventPaymentSucceeded      WebhookEvent = "subscription.payment_succeeded"
	WebhookEventPaymentFailed         WebhookEvent = "subscription.payment_failed"
	WebhookEventSubscriptionCancelled WebhookEvent = "subscription.cancelled"
)

// AllWebhookEvents lists every event name an endpoint may subscribe to.
var AllWebhookEvents = []WebhookEvent{
	WebhookEventSubscriptionCreated,
	WebhookEventPaymentSucceeded,
	WebhookEventPaymentFailed,
	WebhookEventSubscriptionCancelled,
}

type WebhookDeliveryStatus string

const (
	WebhookDeliveryStatusPending WebhookDeliveryStatus = "pending"
	WebhookDeliveryStatusSuccess WebhookDeliveryStatus = "success"
	WebhookDeliveryStatusFailed  WebhookDeliveryStatus = "failed"
)
