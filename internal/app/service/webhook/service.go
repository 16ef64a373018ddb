package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/pkg/config"
	"github.com/eventop/subsync/pkg/metrics"
	"github.com/eventop/subsync/pkg/tool"
	"github.com/eventop/subsync/pkg/types"
)

// Retry tiers applied per logical delivery: first retry after a minute,
// then five, then thirty.
var retryDelays = []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}

const maxResponseBodyLen = 1000

// Payload is the wire format delivered to merchant endpoints.
type Payload struct {
	Event     string         `json:"event"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Service fans billing events out to merchant webhook endpoints with signed,
// logged, retried delivery. Delivery is at-least-once; receivers dedupe on
// X-Webhook-Id.
type Service struct {
	cfg    *config.Config
	log    *zap.SugaredLogger
	store  Store
	client *http.Client

	// schedule defers a retry; overridable in tests.
	schedule func(d time.Duration, f func())
	wg       sync.WaitGroup
	now      func() time.Time
}

func NewService(cfg *config.Config, log *zap.SugaredLogger, store Store) *Service {
	s := &Service{
		cfg:    cfg,
		log:    log,
		store:  store,
		client: &http.Client{Timeout: cfg.Webhook.Timeout},
		now:    time.Now,
	}
	s.schedule = func(d time.Duration, f func()) {
		s.wg.Add(1)
		time.AfterFunc(d, func() {
			defer s.wg.Done()
			f()
		})
	}
	return s
}

// Drain waits for in-flight deliveries and scheduled retries; called on
// shutdown. Pending retries that have not fired yet are lost, which is
// acceptable under at-least-once: the delivery log keeps them visible.
func (s *Service) Drain() { s.wg.Wait() }

// SendEvent delivers the event to every active endpoint of the merchant
// subscribed to it. Each endpoint gets its own logical delivery with its own
// retry budget.
func (s *Service) SendEvent(ctx context.Context, merchantWallet string, event types.WebhookEvent, data map[string]any) error {
	endpoints, err := s.store.ActiveEndpoints(ctx, merchantWallet)
	if err != nil {
		return err
	}
	subscribed := lo.Filter(endpoints, func(e *models.WebhookEndpoint, _ int) bool {
		return e.SubscribedTo(string(event))
	})
	if len(subscribed) == 0 {
		s.log.Warnw("no active webhook endpoints for event", "merchant", merchantWallet, "event", event)
		return nil
	}

	payload := &Payload{
		Event:     string(event),
		Timestamp: s.now().UnixMilli(),
		Data:      data,
	}
	for _, endpoint := range subscribed {
		s.deliver(ctx, endpoint, payload, nil)
	}
	return nil
}

// deliver performs one attempt of a logical delivery. When entry is nil a
// fresh log row is written with status pending before the network call, so
// a crash mid-delivery leaves a visible pending row instead of nothing.
func (s *Service) deliver(ctx context.Context, endpoint *models.WebhookEndpoint, payload *Payload, entry *models.WebhookDeliveryLog) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.log.Errorw("webhook payload not serializable", "event", payload.Event, "err", err)
		return
	}

	if entry == nil {
		entry = &models.WebhookDeliveryLog{
			ID:             tool.GenerateUUIDV7(),
			EndpointID:     endpoint.ID,
			MerchantWallet: endpoint.MerchantWallet,
			Event:          payload.Event,
			Payload:        datatypes.JSON(body),
			WebhookURL:     endpoint.URL,
			Status:         types.WebhookDeliveryStatusPending,
		}
		if err := s.store.CreateDeliveryLog(ctx, entry); err != nil {
			s.log.Errorw("failed to create delivery log", "endpoint", endpoint.ID, "err", err)
			return
		}
	}

	start := s.now()
	success, responseStatus, responseBody, attemptErr := s.post(ctx, endpoint, body, entry.ID, payload.Timestamp)
	elapsed := s.now().Sub(start).Milliseconds()
	deliveredAt := s.now()

	entry.DeliveryTimeMs = &elapsed
	entry.DeliveredAt = &deliveredAt
	entry.ResponseStatus = responseStatus
	entry.ResponseBody = responseBody
	if success {
		entry.Status = types.WebhookDeliveryStatusSuccess
		entry.ErrorMessage = nil
	} else {
		entry.Status = types.WebhookDeliveryStatusFailed
		if attemptErr != nil {
			msg := truncate(attemptErr.Error(), 500)
			entry.ErrorMessage = &msg
		}
	}
	if err := s.store.SaveDeliveryLog(ctx, entry); err != nil {
		s.log.Errorw("failed to update delivery log", "delivery", entry.ID, "err", err)
	}
	if err := s.store.RecordEndpointResult(ctx, endpoint.ID, success, deliveredAt); err != nil {
		s.log.Errorw("failed to update endpoint counters", "endpoint", endpoint.ID, "err", err)
	}

	if success {
		metrics.WebhookDeliveries.WithLabelValues("success").Inc()
		s.log.Infow("webhook delivered", "merchant", endpoint.MerchantWallet, "event", payload.Event, "elapsed_ms", elapsed)
		return
	}

	metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	s.log.Warnw("webhook delivery failed",
		"merchant", endpoint.MerchantWallet, "event", payload.Event,
		"status", responseStatus, "err", attemptErr, "retry_count", entry.RetryCount)

	if entry.RetryCount >= s.maxRetries() {
		s.log.Errorw("webhook retries exhausted", "delivery", entry.ID, "url", endpoint.URL)
		return
	}
	delay := retryDelays[min(entry.RetryCount, len(retryDelays)-1)]
	entry.RetryCount++
	s.schedule(delay, func() {
		// Retries run detached from the caller's request context.
		s.deliver(context.Background(), endpoint, payload, entry)
	})
	s.log.Infow("webhook retry scheduled", "delivery", entry.ID, "attempt", entry.RetryCount, "delay", delay)
}

func (s *Service) post(ctx context.Context, endpoint *models.WebhookEndpoint, body []byte, deliveryID string, timestamp int64) (bool, *int, *string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return false, nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", Sign(body, endpoint.Secret))
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(timestamp, 10))
	req.Header.Set("X-Webhook-Id", deliveryID)

	resp, err := s.client.Do(req)
	if err != nil {
		return false, nil, nil, err
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	var respBody bytes.Buffer
	_, _ = respBody.ReadFrom(http.MaxBytesReader(nil, resp.Body, maxResponseBodyLen))
	bodyStr := truncate(respBody.String(), maxResponseBodyLen)

	return status >= 200 && status < 300, &status, &bodyStr, nil
}

func (s *Service) maxRetries() int {
	if s.cfg.Webhook.MaxRetries > 0 {
		return s.cfg.Webhook.MaxRetries
	}
	return len(retryDelays)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
