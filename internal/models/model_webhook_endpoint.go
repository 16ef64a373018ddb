package models

import (
	"time"

	"gorm.io/datatypes"
)

// WebhookEndpoint is a merchant notification target. Secret is returned to
// the caller only on creation and explicit regeneration.
type WebhookEndpoint struct {
	ID             string                       `gorm:"column:id;type:uuid;primary_key" json:"id"`
	MerchantWallet string                       `gorm:"column:merchant_wallet;type:varchar(64);not null;index" json:"merchant_wallet"`
	URL            string                       `gorm:"column:url;type:varchar(512);not null" json:"url"`
	Secret         string                       `gorm:"column:secret;type:varchar(128);not null" json:"-"`
	Events         datatypes.JSONSlice[string]  `gorm:"column:events;type:jsonb;default:'[]'" json:"events"`
	IsActive       bool                         `gorm:"column:is_active;not null;default:true" json:"is_active"`
	TotalSuccess   int64                        `gorm:"column:total_success;not null;default:0" json:"total_success"`
	TotalFailure   int64                        `gorm:"column:total_failure;not null;default:0" json:"total_failure"`
	LastSuccess    *time.Time                   `gorm:"column:last_success" json:"last_success"`
	LastFailure    *time.Time                   `gorm:"column:last_failure" json:"last_failure"`
	CreatedAt      time.Time                    `json:"created_at"`
	UpdatedAt      time.Time                    `json:"updated_at"`
}

func (WebhookEndpoint) TableName() string { return "webhook_endpoint" }

// SubscribedTo reports whether the endpoint wants the named event.
func (e *WebhookEndpoint) SubscribedTo(event string) bool {
	for _, ev := range e.Events {
		if ev == event {
			return true
		}
	}
	return false
}
