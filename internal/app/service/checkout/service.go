package checkout

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/internal/platform/chain"
	"github.com/eventop/subsync/pkg/config"
	"github.com/eventop/subsync/pkg/types"
)

var (
	ErrSessionNotFound  = errors.New("checkout session not found")
	ErrSessionExpired   = errors.New("checkout session expired")
	ErrSessionTerminal  = errors.New("checkout session already finished")
	ErrSessionMismatch  = errors.New("checkout session does not match subscription")
	ErrSessionCompleted = errors.New("checkout session already completed by another subscription")
	ErrPlanNotFound     = errors.New("merchant plan not found")
	ErrPlanInactive     = errors.New("merchant plan is not active")
)

// Service owns checkout sessions: the purchase intents that tie an on-chain
// subscription back to a customer identity. The session id doubles as the
// linking token carried in the create-subscription instruction.
type Service struct {
	cfg   *config.Config
	log   *zap.SugaredLogger
	store Store
	chain chain.Client

	now func() time.Time
}

func NewService(cfg *config.Config, log *zap.SugaredLogger, store Store, client chain.Client) *Service {
	return &Service{
		cfg:   cfg,
		log:   log,
		store: store,
		chain: client,
		now:   time.Now,
	}
}

// CreateSessionInput is the merchant-facing session request.
type CreateSessionInput struct {
	MerchantWallet string
	PlanPda        string
	CustomerEmail  string
	CustomerID     *string
	SuccessURL     string
	CancelURL      *string
	Metadata       map[string]any
}

// CreateSession validates the plan and opens a pending session with the
// configured TTL. Returns the session and the hosted checkout URL.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput) (*models.CheckoutSession, string, error) {
	plan, err := s.store.PlanByPda(ctx, in.PlanPda)
	if err != nil {
		return nil, "", err
	}
	if plan == nil || plan.MerchantWallet != in.MerchantWallet {
		return nil, "", ErrPlanNotFound
	}
	if !plan.IsActive {
		return nil, "", ErrPlanInactive
	}

	session := &models.CheckoutSession{
		SessionID:      newSessionID(),
		MerchantWallet: in.MerchantWallet,
		PlanPda:        plan.PlanPda,
		PlanID:         plan.PlanID,
		CustomerEmail:  in.CustomerEmail,
		CustomerID:     in.CustomerID,
		SuccessURL:     in.SuccessURL,
		CancelURL:      in.CancelURL,
		Metadata:       datatypes.JSONMap(in.Metadata),
		Status:         types.CheckoutSessionStatusPending,
		ExpiresAt:      s.now().Add(s.cfg.Checkout.SessionTTL),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, "", err
	}
	s.log.Infow("checkout session created",
		"session", session.SessionID, "merchant", in.MerchantWallet, "plan", plan.PlanID)
	return session, s.checkoutURL(session.SessionID), nil
}

// GetSession returns the session, lazily expiring a pending one whose TTL
// has passed.
func (s *Service) GetSession(ctx context.Context, id string) (*models.CheckoutSession, error) {
	session, err := s.store.SessionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status == types.CheckoutSessionStatusPending && s.now().After(session.ExpiresAt) {
		session.Status = types.CheckoutSessionStatusExpired
		if err := s.store.SaveSession(ctx, session); err != nil {
			return nil, err
		}
		s.log.Infow("checkout session expired", "session", id)
	}
	return session, nil
}

// CancelSession voids a pending session.
func (s *Service) CancelSession(ctx context.Context, id string) (*models.CheckoutSession, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status != types.CheckoutSessionStatusPending {
		return nil, ErrSessionTerminal
	}
	session.Status = types.CheckoutSessionStatusCancelled
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	s.log.Infow("checkout session cancelled", "session", id)
	return session, nil
}

// ReconcileRequest carries the on-chain creation event fields the session
// must be checked against.
type ReconcileRequest struct {
	SessionToken    string
	SubscriptionPda string
	UserWallet      string
	MerchantWallet  string
	PlanPda         string
	Signature       string
}

// ReconcileResult is the customer identity recovered from a completed
// session.
type ReconcileResult struct {
	SessionID     string
	CustomerEmail *string
	CustomerID    *string
}

// ReconcileSubscription validates and completes the session for a chain
// subscription-creation event. The caller must not create any projection
// state when an error is returned: a rejected session means the event
// cannot be attributed to a customer and has to be dropped.
func (s *Service) ReconcileSubscription(ctx context.Context, req ReconcileRequest) (*ReconcileResult, error) {
	session, err := s.store.SessionByID(ctx, req.SessionToken)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: token %s", ErrSessionNotFound, req.SessionToken)
	}

	if session.MerchantWallet != req.MerchantWallet || session.PlanPda != req.PlanPda {
		reason := fmt.Sprintf("on-chain merchant/plan %s/%s does not match session %s/%s",
			req.MerchantWallet, req.PlanPda, session.MerchantWallet, session.PlanPda)
		s.markFailed(ctx, session, reason)
		return nil, fmt.Errorf("%w: %s", ErrSessionMismatch, reason)
	}

	if session.Status == types.CheckoutSessionStatusCompleted {
		if session.SubscriptionPda != nil && *session.SubscriptionPda == req.SubscriptionPda {
			// Replay of the same event; idempotent.
			return s.resultOf(session), nil
		}
		return nil, ErrSessionCompleted
	}
	if session.Status.Terminal() {
		return nil, fmt.Errorf("%w: status %s", ErrSessionTerminal, session.Status)
	}

	completedAt := s.now()
	session.Status = types.CheckoutSessionStatusCompleted
	session.SubscriptionPda = &req.SubscriptionPda
	session.UserWallet = &req.UserWallet
	session.Signature = &req.Signature
	session.CompletedAt = &completedAt
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	s.log.Infow("checkout session completed",
		"session", session.SessionID, "subscription", req.SubscriptionPda, "user", req.UserWallet)
	return s.resultOf(session), nil
}

func (s *Service) resultOf(session *models.CheckoutSession) *ReconcileResult {
	res := &ReconcileResult{SessionID: session.SessionID, CustomerID: session.CustomerID}
	if session.CustomerEmail != "" {
		email := session.CustomerEmail
		res.CustomerEmail = &email
	}
	return res
}

func (s *Service) markFailed(ctx context.Context, session *models.CheckoutSession, reason string) {
	session.Status = types.CheckoutSessionStatusFailed
	session.FailureReason = &reason
	if err := s.store.SaveSession(ctx, session); err != nil {
		s.log.Errorw("failed to mark session failed", "session", session.SessionID, "err", err)
	}
}

func (s *Service) checkoutURL(sessionID string) string {
	return fmt.Sprintf("%s/checkout/%s", s.cfg.Checkout.BaseURL, sessionID)
}

func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return "session_" + hex.EncodeToString(buf)
}
