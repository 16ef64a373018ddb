package scheduler

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eventop/subsync/internal/app/service/webhook"
	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/internal/platform/chain"
	"github.com/eventop/subsync/pkg/config"
	"github.com/eventop/subsync/pkg/types"
)

type fakeStore struct {
	payments map[string]*models.ScheduledPayment
	subs     map[string]*models.Subscription
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		payments: map[string]*models.ScheduledPayment{},
		subs:     map[string]*models.Subscription{},
	}
}

func (f *fakeStore) DuePayments(_ context.Context, now time.Time, limit int) ([]*models.ScheduledPayment, error) {
	var due []*models.ScheduledPayment
	for _, p := range f.payments {
		if p.Status == types.ScheduledPaymentStatusPending && !p.ScheduledFor.After(now) {
			due = append(due, p)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (f *fakeStore) PendingPaymentExists(_ context.Context, subscriptionPda string) (bool, error) {
	for _, p := range f.payments {
		if p.SubscriptionPda == subscriptionPda && p.Status == types.ScheduledPaymentStatusPending {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreatePayment(_ context.Context, p *models.ScheduledPayment) error {
	f.payments[p.ID] = p
	return nil
}

func (f *fakeStore) SavePayment(_ context.Context, p *models.ScheduledPayment) error {
	f.payments[p.ID] = p
	return nil
}

func (f *fakeStore) CancelPending(_ context.Context, subscriptionPda string) (int64, error) {
	var n int64
	for _, p := range f.payments {
		if p.SubscriptionPda == subscriptionPda && p.Status == types.ScheduledPaymentStatusPending {
			p.Status = types.ScheduledPaymentStatusCancelled
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) DeleteCompletedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for id, p := range f.payments {
		if p.Status == types.ScheduledPaymentStatusCompleted && p.ExecutedAt != nil && p.ExecutedAt.Before(cutoff) {
			delete(f.payments, id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountByStatus(_ context.Context) (map[types.ScheduledPaymentStatus]int64, error) {
	counts := map[types.ScheduledPaymentStatus]int64{}
	for _, p := range f.payments {
		counts[p.Status]++
	}
	return counts, nil
}

func (f *fakeStore) SubscriptionByPda(_ context.Context, pda string) (*models.Subscription, error) {
	return f.subs[pda], nil
}

func (f *fakeStore) SaveSubscription(_ context.Context, sub *models.Subscription) error {
	f.subs[sub.SubscriptionPda] = sub
	return nil
}

func (f *fakeStore) byStatus(status types.ScheduledPaymentStatus) []*models.ScheduledPayment {
	var out []*models.ScheduledPayment
	for _, p := range f.payments {
		if p.Status == status {
			out = append(out, p)
		}
	}
	return out
}

type fakeChain struct {
	state      *chain.SubscriptionState
	stateErr   error
	signature  string
	execErr    error
	executions int
}

func (f *fakeChain) CurrentSlot(context.Context) (uint64, error) { return 0, nil }

func (f *fakeChain) SignaturesForProgram(context.Context, int) ([]chain.SignatureInfo, error) {
	return nil, nil
}

func (f *fakeChain) Transaction(context.Context, string) (*chain.TransactionInfo, error) {
	return nil, chain.ErrTransactionNotFound
}

func (f *fakeChain) ProgramAccounts(context.Context, [8]byte) ([]chain.ProgramAccount, error) {
	return nil, nil
}

func (f *fakeChain) SubscribeLogs(context.Context) (<-chan chain.LogBatch, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeChain) SubscriptionState(context.Context, string) (*chain.SubscriptionState, error) {
	if f.stateErr != nil {
		return nil, f.stateErr
	}
	return f.state, nil
}

func (f *fakeChain) ExecutePayment(context.Context, string, string, string) (string, error) {
	f.executions++
	if f.execErr != nil {
		return "", f.execErr
	}
	return f.signature, nil
}

type fakeNotifier struct {
	executed []webhook.PaymentExecutedNote
	failed   []webhook.PaymentFailedNote
}

func (f *fakeNotifier) NotifyPaymentExecuted(_ context.Context, n webhook.PaymentExecutedNote) error {
	f.executed = append(f.executed, n)
	return nil
}

func (f *fakeNotifier) NotifyPaymentFailed(_ context.Context, n webhook.PaymentFailedNote) error {
	f.failed = append(f.failed, n)
	return nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testSubscription() *models.Subscription {
	email := "user@example.com"
	return &models.Subscription{
		SubscriptionPda:       "Sub111",
		UserWallet:            "User111",
		SubscriptionWalletPda: "Wallet111",
		MerchantWallet:        "Merchant111",
		MerchantPlanPda:       "Plan111",
		FeeAmount:             "5000000",
		PaymentInterval:       "2592000",
		LastPaymentTimestamp:  strconv.FormatInt(testNow.Add(-31*24*time.Hour).Unix(), 10),
		TotalPaid:             "10000000",
		PaymentCount:          2,
		IsActive:              true,
		CustomerEmail:         &email,
	}
}

func chainState(sub *models.Subscription) *chain.SubscriptionState {
	last, _ := strconv.ParseUint(sub.LastPaymentTimestamp, 10, 64)
	return &chain.SubscriptionState{
		User:                 sub.UserWallet,
		SubscriptionWallet:   sub.SubscriptionWalletPda,
		Merchant:             sub.MerchantWallet,
		MerchantPlan:         sub.MerchantPlanPda,
		FeeAmount:            5_000_000,
		PaymentInterval:      2_592_000,
		LastPaymentTimestamp: last,
		PaymentCount:         sub.PaymentCount,
		IsActive:             true,
	}
}

func testScheduler(store Store, client chain.Client, notifier Notifier) *Service {
	cfg := &config.Config{}
	cfg.Scheduler.BatchSize = 10
	cfg.Scheduler.MaxRetries = 3
	cfg.Scheduler.RetryDelay = 5 * time.Minute
	cfg.Scheduler.CleanupAge = 30 * 24 * time.Hour
	s := NewService(cfg, zap.NewNop().Sugar(), store, client, notifier)
	s.now = func() time.Time { return testNow }
	return s
}

func TestScheduleNextPaymentSingleflight(t *testing.T) {
	store := newFakeStore()
	s := testScheduler(store, &fakeChain{}, &fakeNotifier{})
	sub := testSubscription()

	require.NoError(t, s.ScheduleNextPayment(context.Background(), sub))
	require.NoError(t, s.ScheduleNextPayment(context.Background(), sub))

	pending := store.byStatus(types.ScheduledPaymentStatusPending)
	require.Len(t, pending, 1)
	require.Equal(t, sub.FeeAmount, pending[0].Amount)

	last, _ := strconv.ParseInt(sub.LastPaymentTimestamp, 10, 64)
	require.Equal(t, time.Unix(last+2_592_000, 0), pending[0].ScheduledFor)
}

func TestScheduleNextPaymentSkipsInactive(t *testing.T) {
	store := newFakeStore()
	s := testScheduler(store, &fakeChain{}, &fakeNotifier{})
	sub := testSubscription()
	sub.IsActive = false

	require.NoError(t, s.ScheduleNextPayment(context.Background(), sub))
	require.Empty(t, store.payments)
}

func TestTickExecutesDuePayment(t *testing.T) {
	store := newFakeStore()
	sub := testSubscription()
	store.subs[sub.SubscriptionPda] = sub
	client := &fakeChain{state: chainState(sub), signature: "sig0001"}
	notifier := &fakeNotifier{}
	s := testScheduler(store, client, notifier)

	require.NoError(t, s.ScheduleNextPayment(context.Background(), sub))
	s.Tick(context.Background())

	require.Equal(t, 1, client.executions)
	completed := store.byStatus(types.ScheduledPaymentStatusCompleted)
	require.Len(t, completed, 1)
	require.NotNil(t, completed[0].Signature)
	require.Equal(t, "sig0001", *completed[0].Signature)

	require.Equal(t, "15000000", sub.TotalPaid)
	require.Equal(t, uint32(3), sub.PaymentCount)
	require.Equal(t, strconv.FormatInt(testNow.Unix(), 10), sub.LastPaymentTimestamp)

	// The follow-up payment is queued against the new timestamp.
	pending := store.byStatus(types.ScheduledPaymentStatusPending)
	require.Len(t, pending, 1)
	require.Equal(t, testNow.Add(2_592_000*time.Second).Unix(), pending[0].ScheduledFor.Unix())

	require.Len(t, notifier.executed, 1)
	require.Equal(t, "5000000", notifier.executed[0].Amount)
	require.Equal(t, uint32(3), notifier.executed[0].PaymentNumber)
	require.Equal(t, "user@example.com", notifier.executed[0].Customer.Email)
	require.Empty(t, notifier.failed)
}

func TestTickRetriesTransientFailure(t *testing.T) {
	store := newFakeStore()
	sub := testSubscription()
	store.subs[sub.SubscriptionPda] = sub
	client := &fakeChain{
		state:   chainState(sub),
		execErr: &chain.TransientError{Err: errors.New("rpc timeout")},
	}
	notifier := &fakeNotifier{}
	s := testScheduler(store, client, notifier)

	require.NoError(t, s.ScheduleNextPayment(context.Background(), sub))
	s.Tick(context.Background())

	pending := store.byStatus(types.ScheduledPaymentStatusPending)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].RetryCount)
	require.Equal(t, testNow.Add(5*time.Minute), pending[0].ScheduledFor)
	require.Empty(t, notifier.failed)
}

func TestTickFailsPermanentlyAfterRetryBudget(t *testing.T) {
	store := newFakeStore()
	sub := testSubscription()
	store.subs[sub.SubscriptionPda] = sub
	client := &fakeChain{
		state:   chainState(sub),
		execErr: &chain.TransientError{Err: errors.New("rpc timeout")},
	}
	notifier := &fakeNotifier{}
	s := testScheduler(store, client, notifier)

	require.NoError(t, s.ScheduleNextPayment(context.Background(), sub))
	// Each tick advances the clock past the retry delay. The first two
	// failures requeue the payment; the third is terminal.
	for i := 0; i < 3; i++ {
		tick := testNow.Add(time.Duration(i) * 6 * time.Minute)
		s.now = func() time.Time { return tick }
		s.Tick(context.Background())
		if i < 2 {
			pending := store.byStatus(types.ScheduledPaymentStatusPending)
			require.Len(t, pending, 1)
			require.Equal(t, i+1, pending[0].RetryCount)
		}
	}

	failed := store.byStatus(types.ScheduledPaymentStatusFailed)
	require.Len(t, failed, 1)
	require.Equal(t, 3, failed[0].RetryCount)
	require.Empty(t, store.byStatus(types.ScheduledPaymentStatusPending))

	require.Len(t, notifier.failed, 1)
	require.Equal(t, "5000000", notifier.failed[0].AmountRequired)
	require.Equal(t, 3, notifier.failed[0].FailureCount)
}

func TestTickDropsInactiveSubscriptionWithoutRetry(t *testing.T) {
	store := newFakeStore()
	sub := testSubscription()
	sub.IsActive = false
	store.subs[sub.SubscriptionPda] = sub
	client := &fakeChain{state: chainState(sub)}
	notifier := &fakeNotifier{}
	s := testScheduler(store, client, notifier)

	payment := &models.ScheduledPayment{
		ID:              "payment-1",
		SubscriptionPda: sub.SubscriptionPda,
		MerchantWallet:  sub.MerchantWallet,
		Amount:          sub.FeeAmount,
		ScheduledFor:    testNow.Add(-time.Minute),
		Status:          types.ScheduledPaymentStatusPending,
	}
	require.NoError(t, store.CreatePayment(context.Background(), payment))

	s.Tick(context.Background())

	require.Equal(t, 0, client.executions)
	require.Equal(t, types.ScheduledPaymentStatusFailed, payment.Status)
	require.Equal(t, 0, payment.RetryCount)
	require.Len(t, notifier.failed, 1)
}

func TestTickRequeuesNotYetDuePayment(t *testing.T) {
	store := newFakeStore()
	sub := testSubscription()
	store.subs[sub.SubscriptionPda] = sub

	// Chain says the last payment just happened: the local row is early.
	state := chainState(sub)
	state.LastPaymentTimestamp = uint64(testNow.Add(-time.Hour).Unix())
	client := &fakeChain{state: state}
	notifier := &fakeNotifier{}
	s := testScheduler(store, client, notifier)

	payment := &models.ScheduledPayment{
		ID:              "payment-1",
		SubscriptionPda: sub.SubscriptionPda,
		MerchantWallet:  sub.MerchantWallet,
		Amount:          sub.FeeAmount,
		ScheduledFor:    testNow.Add(-time.Minute),
		Status:          types.ScheduledPaymentStatusPending,
	}
	require.NoError(t, store.CreatePayment(context.Background(), payment))

	s.Tick(context.Background())

	require.Equal(t, 0, client.executions)
	require.Equal(t, types.ScheduledPaymentStatusFailed, payment.Status)
	// No failure webhook: nothing is wrong with the subscription.
	require.Empty(t, notifier.failed)

	pending := store.byStatus(types.ScheduledPaymentStatusPending)
	require.Len(t, pending, 1)
	wantDue := time.Unix(int64(state.LastPaymentTimestamp+state.PaymentInterval), 0)
	require.Equal(t, wantDue.Unix(), pending[0].ScheduledFor.Unix())
}

func TestTickDropsClosedChainAccount(t *testing.T) {
	store := newFakeStore()
	sub := testSubscription()
	store.subs[sub.SubscriptionPda] = sub
	client := &fakeChain{stateErr: chain.ErrAccountNotFound}
	notifier := &fakeNotifier{}
	s := testScheduler(store, client, notifier)

	require.NoError(t, s.ScheduleNextPayment(context.Background(), sub))
	s.Tick(context.Background())

	require.Equal(t, 0, client.executions)
	require.Len(t, store.byStatus(types.ScheduledPaymentStatusFailed), 1)
	require.Len(t, notifier.failed, 1)
}

func TestCancelScheduledPayments(t *testing.T) {
	store := newFakeStore()
	s := testScheduler(store, &fakeChain{}, &fakeNotifier{})
	sub := testSubscription()

	require.NoError(t, s.ScheduleNextPayment(context.Background(), sub))
	require.NoError(t, s.CancelScheduledPayments(context.Background(), sub.SubscriptionPda))

	require.Empty(t, store.byStatus(types.ScheduledPaymentStatusPending))
	require.Len(t, store.byStatus(types.ScheduledPaymentStatusCancelled), 1)
}

func TestCleanupDeletesOldCompletedOnly(t *testing.T) {
	store := newFakeStore()
	s := testScheduler(store, &fakeChain{}, &fakeNotifier{})

	old := testNow.Add(-60 * 24 * time.Hour)
	recent := testNow.Add(-time.Hour)
	store.payments["old"] = &models.ScheduledPayment{
		ID: "old", Status: types.ScheduledPaymentStatusCompleted, ExecutedAt: &old,
	}
	store.payments["recent"] = &models.ScheduledPayment{
		ID: "recent", Status: types.ScheduledPaymentStatusCompleted, ExecutedAt: &recent,
	}
	store.payments["failed"] = &models.ScheduledPayment{
		ID: "failed", Status: types.ScheduledPaymentStatusFailed,
	}

	s.Cleanup(context.Background())

	require.Len(t, store.payments, 2)
	require.NotContains(t, store.payments, "old")
}
