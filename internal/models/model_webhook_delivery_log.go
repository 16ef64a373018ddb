package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/eventop/subsync/pkg/types"
)

// WebhookDeliveryLog records one logical webhook delivery. The row is
// written with status pending before the network call so a crash
// mid-delivery stays visible; retries update the same row.
type WebhookDeliveryLog struct {
	ID             string                      `gorm:"column:id;type:uuid;primary_key" json:"id"`
	EndpointID     string                      `gorm:"column:endpoint_id;type:uuid;not null;index" json:"endpoint_id"`
	MerchantWallet string                      `gorm:"column:merchant_wallet;type:varchar(64);not null;index" json:"merchant_wallet"`
	Event          string                      `gorm:"column:event;type:varchar(64);not null" json:"event"`
	Payload        datatypes.JSON              `gorm:"column:payload;type:jsonb" json:"payload"`
	WebhookURL     string                      `gorm:"column:webhook_url;type:varchar(512);not null" json:"webhook_url"`
	Status         types.WebhookDeliveryStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	ResponseStatus *int                        `gorm:"column:response_status" json:"response_status"`
	ResponseBody   *string                     `gorm:"column:response_body;type:varchar(1024)" json:"response_body"`
	ErrorMessage   *string                     `gorm:"column:error_message;type:varchar(512)" json:"error_message"`
	RetryCount     int                         `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	DeliveryTimeMs *int64                      `gorm:"column:delivery_time_ms" json:"delivery_time_ms"`
	DeliveredAt    *time.Time                  `gorm:"column:delivered_at" json:"delivered_at"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`
}

func (WebhookDeliveryLog) TableName() string { return "webhook_delivery_log" }
