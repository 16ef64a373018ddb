package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/pkg/config"
	"github.com/eventop/subsync/pkg/tool"
	"github.com/eventop/subsync/pkg/types"
)

type fakeStore struct {
	endpoints []*models.WebhookEndpoint
	logs      map[string]*models.WebhookDeliveryLog
	results   []bool
}

func newFakeStore(endpoints ...*models.WebhookEndpoint) *fakeStore {
	return &fakeStore{endpoints: endpoints, logs: map[string]*models.WebhookDeliveryLog{}}
}

func (f *fakeStore) ActiveEndpoints(_ context.Context, merchantWallet string) ([]*models.WebhookEndpoint, error) {
	var out []*models.WebhookEndpoint
	for _, e := range f.endpoints {
		if e.MerchantWallet == merchantWallet && e.IsActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) EndpointByID(_ context.Context, id string) (*models.WebhookEndpoint, error) {
	for _, e := range f.endpoints {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeStore) CreateEndpoint(_ context.Context, e *models.WebhookEndpoint) error {
	f.endpoints = append(f.endpoints, e)
	return nil
}

func (f *fakeStore) ListEndpoints(_ context.Context, merchantWallet string) ([]*models.WebhookEndpoint, error) {
	var out []*models.WebhookEndpoint
	for _, e := range f.endpoints {
		if e.MerchantWallet == merchantWallet {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) SaveEndpoint(_ context.Context, _ *models.WebhookEndpoint) error { return nil }

func (f *fakeStore) DeleteEndpoint(_ context.Context, _, _ string) error { return nil }

func (f *fakeStore) RecordEndpointResult(_ context.Context, _ string, success bool, _ time.Time) error {
	f.results = append(f.results, success)
	return nil
}

func (f *fakeStore) CreateDeliveryLog(_ context.Context, l *models.WebhookDeliveryLog) error {
	f.logs[l.ID] = l
	return nil
}

func (f *fakeStore) SaveDeliveryLog(_ context.Context, l *models.WebhookDeliveryLog) error {
	f.logs[l.ID] = l
	return nil
}

func (f *fakeStore) singleLog(t *testing.T) *models.WebhookDeliveryLog {
	t.Helper()
	require.Len(t, f.logs, 1)
	for _, l := range f.logs {
		return l
	}
	return nil
}

func testEndpoint(url string, events ...string) *models.WebhookEndpoint {
	if len(events) == 0 {
		for _, ev := range types.AllWebhookEvents {
			events = append(events, string(ev))
		}
	}
	return &models.WebhookEndpoint{
		ID:             tool.GenerateUUIDV7(),
		MerchantWallet: "Merchant111",
		URL:            url,
		Secret:         NewSecret(),
		Events:         datatypes.NewJSONSlice(events),
		IsActive:       true,
	}
}

func testService(store Store) *Service {
	cfg := &config.Config{}
	cfg.Webhook.Timeout = 5 * time.Second
	cfg.Webhook.MaxRetries = 3
	return NewService(cfg, zap.NewNop().Sugar(), store)
}

func TestSendEventDeliversSignedPayload(t *testing.T) {
	var gotBody []byte
	var gotSig, gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Webhook-Signature")
		gotID = r.Header.Get("X-Webhook-Id")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	endpoint := testEndpoint(srv.URL)
	store := newFakeStore(endpoint)
	s := testService(store)

	err := s.SendEvent(context.Background(), "Merchant111", types.WebhookEventPaymentSucceeded, map[string]any{
		"subscription_pda": "Sub111",
		"amount":           "5000000",
	})
	require.NoError(t, err)

	require.True(t, Verify(gotBody, gotSig, endpoint.Secret))

	entry := store.singleLog(t)
	require.Equal(t, entry.ID, gotID)
	require.Equal(t, types.WebhookDeliveryStatusSuccess, entry.Status)
	require.Equal(t, string(types.WebhookEventPaymentSucceeded), entry.Event)
	require.NotNil(t, entry.ResponseStatus)
	require.Equal(t, http.StatusOK, *entry.ResponseStatus)
	require.Equal(t, 0, entry.RetryCount)
	require.Equal(t, []bool{true}, store.results)
}

func TestSendEventSkipsUnsubscribedEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("endpoint should not be called")
	}))
	defer srv.Close()

	store := newFakeStore(testEndpoint(srv.URL, string(types.WebhookEventSubscriptionCancelled)))
	s := testService(store)

	err := s.SendEvent(context.Background(), "Merchant111", types.WebhookEventPaymentSucceeded, map[string]any{})
	require.NoError(t, err)
	require.Empty(t, store.logs)
}

func TestDeliverRetriesWithBackoffTiers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := newFakeStore(testEndpoint(srv.URL))
	s := testService(store)

	var delays []time.Duration
	var retries []func()
	s.schedule = func(d time.Duration, f func()) {
		delays = append(delays, d)
		retries = append(retries, f)
	}

	err := s.SendEvent(context.Background(), "Merchant111", types.WebhookEventPaymentFailed, map[string]any{})
	require.NoError(t, err)

	// Run every scheduled retry synchronously until the budget is spent.
	for len(retries) > 0 {
		next := retries[0]
		retries = retries[1:]
		next()
	}
	require.Equal(t, []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}, delays)

	entry := store.singleLog(t)
	require.Equal(t, types.WebhookDeliveryStatusFailed, entry.Status)
	require.Equal(t, 3, entry.RetryCount)
	require.Equal(t, []bool{false, false, false, false}, store.results)
}

func TestDeliverRecoversOnRetry(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	store := newFakeStore(testEndpoint(srv.URL))
	s := testService(store)

	var retries []func()
	s.schedule = func(_ time.Duration, f func()) { retries = append(retries, f) }

	err := s.SendEvent(context.Background(), "Merchant111", types.WebhookEventSubscriptionCreated, map[string]any{})
	require.NoError(t, err)
	require.Len(t, retries, 1)
	retries[0]()

	entry := store.singleLog(t)
	require.Equal(t, types.WebhookDeliveryStatusSuccess, entry.Status)
	require.Equal(t, 2, attempts)
	require.Equal(t, []bool{false, true}, store.results)
}
