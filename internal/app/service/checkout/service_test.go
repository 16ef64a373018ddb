package checkout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/internal/platform/chain"
	"github.com/eventop/subsync/pkg/config"
	"github.com/eventop/subsync/pkg/types"
)

type fakeStore struct {
	sessions map[string]*models.CheckoutSession
	plans    map[string]*models.MerchantPlan
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[string]*models.CheckoutSession{},
		plans:    map[string]*models.MerchantPlan{},
	}
}

func (f *fakeStore) CreateSession(_ context.Context, session *models.CheckoutSession) error {
	f.sessions[session.SessionID] = session
	return nil
}

func (f *fakeStore) SessionByID(_ context.Context, id string) (*models.CheckoutSession, error) {
	return f.sessions[id], nil
}

func (f *fakeStore) SaveSession(_ context.Context, session *models.CheckoutSession) error {
	f.sessions[session.SessionID] = session
	return nil
}

func (f *fakeStore) OtherCompletedSessionExists(_ context.Context, sessionID, subscriptionPda, signature string) (bool, error) {
	for _, s := range f.sessions {
		if s.SessionID == sessionID || s.Status != types.CheckoutSessionStatusCompleted {
			continue
		}
		if (s.SubscriptionPda != nil && *s.SubscriptionPda == subscriptionPda) ||
			(s.Signature != nil && *s.Signature == signature) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) PlanByPda(_ context.Context, pda string) (*models.MerchantPlan, error) {
	return f.plans[pda], nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testCheckout(store Store, client chain.Client) *Service {
	cfg := &config.Config{}
	cfg.Checkout.BaseURL = "https://pay.example.com"
	cfg.Checkout.SessionTTL = 30 * time.Minute
	s := NewService(cfg, zap.NewNop().Sugar(), store, client)
	s.now = func() time.Time { return testNow }
	return s
}

func seedPlan(store *fakeStore) *models.MerchantPlan {
	plan := &models.MerchantPlan{
		PlanPda:         "Plan111",
		MerchantWallet:  "Merchant111",
		PlanID:          "basic",
		PlanName:        "Basic",
		Mint:            "Mint111",
		FeeAmount:       "5000000",
		PaymentInterval: "2592000",
		IsActive:        true,
	}
	store.plans[plan.PlanPda] = plan
	return plan
}

func sessionInput() CreateSessionInput {
	return CreateSessionInput{
		MerchantWallet: "Merchant111",
		PlanPda:        "Plan111",
		CustomerEmail:  "user@example.com",
		SuccessURL:     "https://merchant.example.com/thanks",
	}
}

func TestCreateSession(t *testing.T) {
	store := newFakeStore()
	seedPlan(store)
	s := testCheckout(store, &fakeChain{})

	session, url, err := s.CreateSession(context.Background(), sessionInput())
	require.NoError(t, err)
	require.Equal(t, types.CheckoutSessionStatusPending, session.Status)
	require.Equal(t, testNow.Add(30*time.Minute), session.ExpiresAt)
	require.Contains(t, session.SessionID, "session_")
	require.Equal(t, "https://pay.example.com/checkout/"+session.SessionID, url)
}

func TestCreateSessionRejectsForeignPlan(t *testing.T) {
	store := newFakeStore()
	seedPlan(store)
	s := testCheckout(store, &fakeChain{})

	in := sessionInput()
	in.MerchantWallet = "OtherMerchant"
	_, _, err := s.CreateSession(context.Background(), in)
	require.ErrorIs(t, err, ErrPlanNotFound)
}

func TestCreateSessionRejectsInactivePlan(t *testing.T) {
	store := newFakeStore()
	seedPlan(store).IsActive = false
	s := testCheckout(store, &fakeChain{})

	_, _, err := s.CreateSession(context.Background(), sessionInput())
	require.ErrorIs(t, err, ErrPlanInactive)
}

func TestGetSessionLazilyExpires(t *testing.T) {
	store := newFakeStore()
	seedPlan(store)
	s := testCheckout(store, &fakeChain{})

	session, _, err := s.CreateSession(context.Background(), sessionInput())
	require.NoError(t, err)

	s.now = func() time.Time { return testNow.Add(31 * time.Minute) }
	got, err := s.GetSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	require.Equal(t, types.CheckoutSessionStatusExpired, got.Status)
}

func TestCancelSessionOnlyPending(t *testing.T) {
	store := newFakeStore()
	seedPlan(store)
	s := testCheckout(store, &fakeChain{})

	session, _, err := s.CreateSession(context.Background(), sessionInput())
	require.NoError(t, err)

	cancelled, err := s.CancelSession(context.Background(), session.SessionID)
	require.NoError(t, err)
	require.Equal(t, types.CheckoutSessionStatusCancelled, cancelled.Status)

	_, err = s.CancelSession(context.Background(), session.SessionID)
	require.ErrorIs(t, err, ErrSessionTerminal)
}

func reconcileRequest(sessionID string) ReconcileRequest {
	return ReconcileRequest{
		SessionToken:    sessionID,
		SubscriptionPda: "Sub111",
		UserWallet:      "User111",
		MerchantWallet:  "Merchant111",
		PlanPda:         "Plan111",
		Signature:       "sig-create",
	}
}

func TestReconcileCompletesSession(t *testing.T) {
	store := newFakeStore()
	seedPlan(store)
	s := testCheckout(store, &fakeChain{})

	session, _, err := s.CreateSession(context.Background(), sessionInput())
	require.NoError(t, err)

	res, err := s.ReconcileSubscription(context.Background(), reconcileRequest(session.SessionID))
	require.NoError(t, err)
	require.Equal(t, session.SessionID, res.SessionID)
	require.NotNil(t, res.CustomerEmail)
	require.Equal(t, "user@example.com", *res.CustomerEmail)

	require.Equal(t, types.CheckoutSessionStatusCompleted, session.Status)
	require.NotNil(t, session.SubscriptionPda)
	require.Equal(t, "Sub111", *session.SubscriptionPda)
	require.NotNil(t, session.Signature)
	require.Equal(t, "sig-create", *session.Signature)
}

func TestReconcileReplayIsIdempotent(t *testing.T) {
	store := newFakeStore()
	seedPlan(store)
	s := testCheckout(store, &fakeChain{})

	session, _, err := s.CreateSession(context.Background(), sessionInput())
	require.NoError(t, err)

	req := reconcileRequest(session.SessionID)
	_, err = s.ReconcileSubscription(context.Background(), req)
	require.NoError(t, err)

	res, err := s.ReconcileSubscription(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, session.SessionID, res.SessionID)
}

func TestReconcileRejectsSecondSubscription(t *testing.T) {
	store := newFakeStore()
	seedPlan(store)
	s := testCheckout(store, &fakeChain{})

	session, _, err := s.CreateSession(context.Background(), sessionInput())
	require.NoError(t, err)

	_, err = s.ReconcileSubscription(context.Background(), reconcileRequest(session.SessionID))
	require.NoError(t, err)

	other := reconcileRequest(session.SessionID)
	other.SubscriptionPda = "Sub222"
	_, err = s.ReconcileSubscription(context.Background(), other)
	require.ErrorIs(t, err, ErrSessionCompleted)
}

func TestReconcileMismatchMarksFailed(t *testing.T) {
	store := newFakeStore()
	seedPlan(store)
	s := testCheckout(store, &fakeChain{})

	session, _, err := s.CreateSession(context.Background(), sessionInput())
	require.NoError(t, err)

	req := reconcileRequest(session.SessionID)
	req.PlanPda = "PlanEvil"
	_, err = s.ReconcileSubscription(context.Background(), req)
	require.ErrorIs(t, err, ErrSessionMismatch)

	require.Equal(t, types.CheckoutSessionStatusFailed, session.Status)
	require.NotNil(t, session.FailureReason)
}

func TestReconcileUnknownToken(t *testing.T) {
	s := testCheckout(newFakeStore(), &fakeChain{})

	_, err := s.ReconcileSubscription(context.Background(), reconcileRequest("session_missing"))
	require.ErrorIs(t, err, ErrSessionNotFound)
}
