package checkout

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/stretchr/testify/require"

	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/internal/platform/chain"
	"github.com/eventop/subsync/pkg/types"
)

type fakeChain struct {
	tx    *chain.TransactionInfo
	txErr error
	state *chain.SubscriptionState
}

func (f *fakeChain) CurrentSlot(context.Context) (uint64, error) { return 0, nil }

func (f *fakeChain) SignaturesForProgram(context.Context, int) ([]chain.SignatureInfo, error) {
	return nil, nil
}

func (f *fakeChain) Transaction(context.Context, string) (*chain.TransactionInfo, error) {
	return f.tx, f.txErr
}

func (f *fakeChain) ProgramAccounts(context.Context, [8]byte) ([]chain.ProgramAccount, error) {
	return nil, nil
}

func (f *fakeChain) SubscribeLogs(context.Context) (<-chan chain.LogBatch, error) {
	return nil, nil
}

func (f *fakeChain) SubscriptionState(context.Context, string) (*chain.SubscriptionState, error) {
	if f.state == nil {
		return nil, chain.ErrAccountNotFound
	}
	return f.state, nil
}

func (f *fakeChain) ExecutePayment(context.Context, string, string, string) (string, error) {
	return "", nil
}

// completeFixture wires a pending session, a purchaser keypair and a chain
// whose transaction and subscription agree with the request.
type completeFixture struct {
	store   *fakeStore
	client  *fakeChain
	svc     *Service
	session *models.CheckoutSession
	priv    ed25519.PrivateKey
	wallet  string
}

func newCompleteFixture(t *testing.T) *completeFixture {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	wallet := base58.Encode(pub)

	store := newFakeStore()
	seedPlan(store)
	blockTime := testNow.Add(-time.Minute)
	client := &fakeChain{
		tx: &chain.TransactionInfo{
			Signature:   "sig-create",
			Slot:        1100,
			BlockTime:   &blockTime,
			AccountKeys: []string{wallet, "Program111"},
			Success:     true,
		},
		state: &chain.SubscriptionState{
			User:         wallet,
			Merchant:     "Merchant111",
			MerchantPlan: "Plan111",
			IsActive:     true,
		},
	}
	svc := testCheckout(store, client)
	session, _, err := svc.CreateSession(context.Background(), sessionInput())
	require.NoError(t, err)

	return &completeFixture{store: store, client: client, svc: svc, session: session, priv: priv, wallet: wallet}
}

func (f *completeFixture) request(t *testing.T) CompleteRequest {
	t.Helper()
	message := fmt.Sprintf("complete:%s:%s", f.session.SessionID,
		strconv.FormatInt(testNow.Add(-time.Second).UnixMilli(), 10))
	return CompleteRequest{
		SubscriptionPda: "Sub111",
		UserWallet:      f.wallet,
		Signature:       "sig-create",
		Message:         message,
		WalletSignature: base58.Encode(ed25519.Sign(f.priv, []byte(message))),
	}
}

func TestCompleteSession(t *testing.T) {
	f := newCompleteFixture(t)

	session, err := f.svc.CompleteSession(context.Background(), f.session.SessionID, f.request(t))
	require.NoError(t, err)
	require.Equal(t, types.CheckoutSessionStatusCompleted, session.Status)
	require.NotNil(t, session.SubscriptionPda)
	require.Equal(t, "Sub111", *session.SubscriptionPda)
	require.NotNil(t, session.UserWallet)
	require.Equal(t, f.wallet, *session.UserWallet)
	require.NotNil(t, session.CompletedAt)
}

func TestCompleteSessionRejectsForgedSignature(t *testing.T) {
	f := newCompleteFixture(t)
	req := f.request(t)

	_, otherPriv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	req.WalletSignature = base58.Encode(ed25519.Sign(otherPriv, []byte(req.Message)))

	_, err = f.svc.CompleteSession(context.Background(), f.session.SessionID, req)
	require.ErrorIs(t, err, ErrBadWalletProof)
	require.Equal(t, types.CheckoutSessionStatusPending, f.session.Status)
}

func TestCompleteSessionRejectsStaleProof(t *testing.T) {
	f := newCompleteFixture(t)
	req := f.request(t)

	message := fmt.Sprintf("complete:%s:%s", f.session.SessionID,
		strconv.FormatInt(testNow.Add(-6*time.Minute).UnixMilli(), 10))
	req.Message = message
	req.WalletSignature = base58.Encode(ed25519.Sign(f.priv, []byte(message)))

	_, err := f.svc.CompleteSession(context.Background(), f.session.SessionID, req)
	require.ErrorIs(t, err, ErrBadWalletProof)
}

func TestCompleteSessionRejectsMessageForOtherSession(t *testing.T) {
	f := newCompleteFixture(t)
	req := f.request(t)

	message := fmt.Sprintf("complete:%s:%s", "session_other",
		strconv.FormatInt(testNow.UnixMilli(), 10))
	req.Message = message
	req.WalletSignature = base58.Encode(ed25519.Sign(f.priv, []byte(message)))

	_, err := f.svc.CompleteSession(context.Background(), f.session.SessionID, req)
	require.ErrorIs(t, err, ErrBadWalletProof)
}

func TestCompleteSessionRejectsMissingTransaction(t *testing.T) {
	f := newCompleteFixture(t)
	f.client.tx = nil
	f.client.txErr = chain.ErrTransactionNotFound

	_, err := f.svc.CompleteSession(context.Background(), f.session.SessionID, f.request(t))
	require.ErrorIs(t, err, ErrBadTransaction)
}

func TestCompleteSessionRejectsFailedTransaction(t *testing.T) {
	f := newCompleteFixture(t)
	f.client.tx.Success = false

	_, err := f.svc.CompleteSession(context.Background(), f.session.SessionID, f.request(t))
	require.ErrorIs(t, err, ErrBadTransaction)
}

func TestCompleteSessionRejectsOldTransaction(t *testing.T) {
	f := newCompleteFixture(t)
	old := testNow.Add(-11 * time.Minute)
	f.client.tx.BlockTime = &old

	_, err := f.svc.CompleteSession(context.Background(), f.session.SessionID, f.request(t))
	require.ErrorIs(t, err, ErrBadTransaction)
}

func TestCompleteSessionRejectsUninvolvedWallet(t *testing.T) {
	f := newCompleteFixture(t)
	f.client.tx.AccountKeys = []string{"SomeoneElse", "Program111"}

	_, err := f.svc.CompleteSession(context.Background(), f.session.SessionID, f.request(t))
	require.ErrorIs(t, err, ErrBadTransaction)
}

func TestCompleteSessionRejectsSubscriptionDrift(t *testing.T) {
	f := newCompleteFixture(t)
	f.client.state.Merchant = "OtherMerchant"

	_, err := f.svc.CompleteSession(context.Background(), f.session.SessionID, f.request(t))
	require.ErrorIs(t, err, ErrSubscriptionDrift)
}

func TestCompleteSessionRejectsClosedAccount(t *testing.T) {
	f := newCompleteFixture(t)
	f.client.state = nil

	_, err := f.svc.CompleteSession(context.Background(), f.session.SessionID, f.request(t))
	require.ErrorIs(t, err, ErrSubscriptionDrift)
}

func TestCompleteSessionRejectsDoubleLink(t *testing.T) {
	f := newCompleteFixture(t)

	// Another completed session already claimed this subscription.
	pda := "Sub111"
	f.store.sessions["session_other"] = &models.CheckoutSession{
		SessionID:       "session_other",
		MerchantWallet:  "Merchant111",
		PlanPda:         "Plan111",
		Status:          types.CheckoutSessionStatusCompleted,
		SubscriptionPda: &pda,
	}

	_, err := f.svc.CompleteSession(context.Background(), f.session.SessionID, f.request(t))
	require.ErrorIs(t, err, ErrAlreadyLinked)
	require.Equal(t, types.CheckoutSessionStatusPending, f.session.Status)
}

func TestCompleteSessionRejectsExpired(t *testing.T) {
	f := newCompleteFixture(t)
	f.svc.now = func() time.Time { return testNow.Add(31 * time.Minute) }

	_, err := f.svc.CompleteSession(context.Background(), f.session.SessionID, f.request(t))
	require.ErrorIs(t, err, ErrSessionExpired)
}
