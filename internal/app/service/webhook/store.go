package webhook

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/eventop/subsync/internal/models"
)

// Store is the slice of the projection store the dispatcher needs.
type Store interface {
	ActiveEndpoints(ctx context.Context, merchantWallet string) ([]*models.WebhookEndpoint, error)
	EndpointByID(ctx context.Context, id string) (*models.WebhookEndpoint, error)
	CreateEndpoint(ctx context.Context, e *models.WebhookEndpoint) error
	ListEndpoints(ctx context.Context, merchantWallet string) ([]*models.WebhookEndpoint, error)
	SaveEndpoint(ctx context.Context, e *models.WebhookEndpoint) error
	DeleteEndpoint(ctx context.Context, merchantWallet, id string) error
	RecordEndpointResult(ctx context.Context, id string, success bool, at time.Time) error

	CreateDeliveryLog(ctx context.Context, l *models.WebhookDeliveryLog) error
	SaveDeliveryLog(ctx context.Context, l *models.WebhookDeliveryLog) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store { return &gormStore{db: db} }

func (s *gormStore) ActiveEndpoints(ctx context.Context, merchantWallet string) ([]*models.WebhookEndpoint, error) {
	var rows []*models.WebhookEndpoint
	err := s.db.WithContext(ctx).
		Where("merchant_wallet = ? AND is_active = ?", merchantWallet, true).
		Find(&rows).Error
	return rows, err
}

func (s *gormStore) EndpointByID(ctx context.Context, id string) (*models.WebhookEndpoint, error) {
	var row models.WebhookEndpoint
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *gormStore) CreateEndpoint(ctx context.Context, e *models.WebhookEndpoint) error {
	return s.db.WithContext(ctx).Create(e).Error
}

func (s *gormStore) ListEndpoints(ctx context.Context, merchantWallet string) ([]*models.WebhookEndpoint, error) {
	var rows []*models.WebhookEndpoint
	err := s.db.WithContext(ctx).Where("merchant_wallet = ?", merchantWallet).Find(&rows).Error
	return rows, err
}

func (s *gormStore) SaveEndpoint(ctx context.Context, e *models.WebhookEndpoint) error {
	return s.db.WithContext(ctx).Save(e).Error
}

func (s *gormStore) DeleteEndpoint(ctx context.Context, merchantWallet, id string) error {
	return s.db.WithContext(ctx).
		Where("merchant_wallet = ? AND id = ?", merchantWallet, id).
		Delete(&models.WebhookEndpoint{}).Error
}

func (s *gormStore) RecordEndpointResult(ctx context.Context, id string, success bool, at time.Time) error {
	updates := map[string]any{}
	if success {
		updates["total_success"] = gorm.Expr("total_success + 1")
		updates["last_success"] = at
	} else {
		updates["total_failure"] = gorm.Expr("total_failure + 1")
		updates["last_failure"] = at
	}
	return s.db.WithContext(ctx).Model(&models.WebhookEndpoint{}).Where("id = ?", id).Updates(updates).Error
}

func (s *gormStore) CreateDeliveryLog(ctx context.Context, l *models.WebhookDeliveryLog) error {
	return s.db.WithContext(ctx).Create(l).Error
}

func (s *gormStore) SaveDeliveryLog(ctx context.Context, l *models.WebhookDeliveryLog) error {
	return s.db.WithContext(ctx).Save(l).Error
}
