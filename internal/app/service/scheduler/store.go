package scheduler

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/pkg/types"
)

// Store is the slice of the projection store the scheduler needs.
type Store interface {
	DuePayments(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPayment, error)
	PendingPaymentExists(ctx context.Context, subscriptionPda string) (bool, error)
	CreatePayment(ctx context.Context, p *models.ScheduledPayment) error
	SavePayment(ctx context.Context, p *models.ScheduledPayment) error
	CancelPending(ctx context.Context, subscriptionPda string) (int64, error)
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[types.ScheduledPaymentStatus]int64, error)

	SubscriptionByPda(ctx context.Context, pda string) (*models.Subscription, error)
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store { return &gormStore{db: db} }

func (s *gormStore) DuePayments(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledPayment, error) {
	var rows []*models.ScheduledPayment
	err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_for <= ?", types.ScheduledPaymentStatusPending, now).
		Order("scheduled_for asc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (s *gormStore) PendingPaymentExists(ctx context.Context, subscriptionPda string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ScheduledPayment{}).
		Where("subscription_pda = ? AND status = ?", subscriptionPda, types.ScheduledPaymentStatusPending).
		Count(&count).Error
	return count > 0, err
}

func (s *gormStore) CreatePayment(ctx context.Context, p *models.ScheduledPayment) error {
	return s.db.WithContext(ctx).Create(p).Error
}

func (s *gormStore) SavePayment(ctx context.Context, p *models.ScheduledPayment) error {
	return s.db.WithContext(ctx).Save(p).Error
}

func (s *gormStore) CancelPending(ctx context.Context, subscriptionPda string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.ScheduledPayment{}).
		Where("subscription_pda = ? AND status = ?", subscriptionPda, types.ScheduledPaymentStatusPending).
		Update("status", types.ScheduledPaymentStatusCancelled)
	return res.RowsAffected, res.Error
}

func (s *gormStore) DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("status = ? AND executed_at < ?", types.ScheduledPaymentStatusCompleted, cutoff).
		Delete(&models.ScheduledPayment{})
	return res.RowsAffected, res.Error
}

func (s *gormStore) CountByStatus(ctx context.Context) (map[types.ScheduledPaymentStatus]int64, error) {
	var rows []struct {
		Status types.ScheduledPaymentStatus
		Count  int64
	}
	err := s.db.WithContext(ctx).Model(&models.ScheduledPayment{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[types.ScheduledPaymentStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}
	return counts, nil
}

func (s *gormStore) SubscriptionByPda(ctx context.Context, pda string) (*models.Subscription, error) {
	var row models.Subscription
	err := s.db.WithContext(ctx).First(&row, "subscription_pda = ?", pda).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *gormStore) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return s.db.WithContext(ctx).Save(sub).Error
}
