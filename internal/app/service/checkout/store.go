package checkout

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/pkg/types"
)

// Store is the slice of the projection store the checkout service needs.
type Store interface {
	CreateSession(ctx context.Context, s *models.CheckoutSession) error
	SessionByID(ctx context.Context, id string) (*models.CheckoutSession, error)
	SaveSession(ctx context.Context, s *models.CheckoutSession) error

	// OtherCompletedSessionExists reports whether a completed session other
	// than the given one already references the subscription PDA or the
	// transaction signature.
	OtherCompletedSessionExists(ctx context.Context, sessionID, subscriptionPda, signature string) (bool, error)

	PlanByPda(ctx context.Context, pda string) (*models.MerchantPlan, error)
}

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store { return &gormStore{db: db} }

func (s *gormStore) CreateSession(ctx context.Context, row *models.CheckoutSession) error {
	return s.db.WithContext(ctx).Create(row).Error
}

func (s *gormStore) SessionByID(ctx context.Context, id string) (*models.CheckoutSession, error) {
	var row models.CheckoutSession
	err := s.db.WithContext(ctx).First(&row, "session_id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *gormStore) SaveSession(ctx context.Context, row *models.CheckoutSession) error {
	return s.db.WithContext(ctx).Save(row).Error
}

func (s *gormStore) OtherCompletedSessionExists(ctx context.Context, sessionID, subscriptionPda, signature string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.CheckoutSession{}).
		Where("session_id <> ? AND status = ? AND (subscription_pda = ? OR signature = ?)",
			sessionID, types.CheckoutSessionStatusCompleted, subscriptionPda, signature).
		Count(&count).Error
	return count > 0, err
}

func (s *gormStore) PlanByPda(ctx context.Context, pda string) (*models.MerchantPlan, error) {
	var row models.MerchantPlan
	err := s.db.WithContext(ctx).First(&row, "plan_pda = ?", pda).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
