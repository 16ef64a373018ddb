package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/samber/lo"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/pkg/tool"
	"github.com/eventop/subsync/pkg/types"
)

var (
	ErrEndpointNotFound = errors.New("webhook endpoint not found")
	ErrInvalidEvent     = errors.New("unknown webhook event")
)

// RegisterEndpoint creates a new endpoint for the merchant and returns it
// together with the freshly generated signing secret. This is the only time
// the secret leaves the service apart from an explicit rotation.
func (s *Service) RegisterEndpoint(ctx context.Context, merchantWallet, rawURL string, events []string) (*models.WebhookEndpoint, string, error) {
	if err := validateEndpointURL(rawURL); err != nil {
		return nil, "", err
	}
	if len(events) == 0 {
		events = lo.Map(types.AllWebhookEvents, func(e types.WebhookEvent, _ int) string { return string(e) })
	} else if err := validateEvents(events); err != nil {
		return nil, "", err
	}

	secret := NewSecret()
	endpoint := &models.WebhookEndpoint{
		ID:             tool.GenerateUUIDV7(),
		MerchantWallet: merchantWallet,
		URL:            rawURL,
		Secret:         secret,
		Events:         datatypes.NewJSONSlice(events),
		IsActive:       true,
	}
	if err := s.store.CreateEndpoint(ctx, endpoint); err != nil {
		return nil, "", err
	}
	s.log.Infow("webhook endpoint registered", "merchant", merchantWallet, "endpoint", endpoint.ID, "url", rawURL)
	return endpoint, secret, nil
}

func (s *Service) ListEndpoints(ctx context.Context, merchantWallet string) ([]*models.WebhookEndpoint, error) {
	return s.store.ListEndpoints(ctx, merchantWallet)
}

// EndpointUpdate carries the mutable endpoint fields; nil means unchanged.
type EndpointUpdate struct {
	URL      *string
	Events   []string
	IsActive *bool
}

func (s *Service) UpdateEndpoint(ctx context.Context, merchantWallet, id string, update EndpointUpdate) (*models.WebhookEndpoint, error) {
	endpoint, err := s.merchantEndpoint(ctx, merchantWallet, id)
	if err != nil {
		return nil, err
	}
	if update.URL != nil {
		if err := validateEndpointURL(*update.URL); err != nil {
			return nil, err
		}
		endpoint.URL = *update.URL
	}
	if update.Events != nil {
		if err := validateEvents(update.Events); err != nil {
			return nil, err
		}
		endpoint.Events = datatypes.NewJSONSlice(update.Events)
	}
	if update.IsActive != nil {
		endpoint.IsActive = *update.IsActive
	}
	if err := s.store.SaveEndpoint(ctx, endpoint); err != nil {
		return nil, err
	}
	return endpoint, nil
}

func (s *Service) DeleteEndpoint(ctx context.Context, merchantWallet, id string) error {
	if _, err := s.merchantEndpoint(ctx, merchantWallet, id); err != nil {
		return err
	}
	return s.store.DeleteEndpoint(ctx, merchantWallet, id)
}

// RotateSecret replaces the endpoint's signing secret and returns the new
// value. Deliveries in flight keep the old signature; receivers should
// accept both during rollover.
func (s *Service) RotateSecret(ctx context.Context, merchantWallet, id string) (string, error) {
	endpoint, err := s.merchantEndpoint(ctx, merchantWallet, id)
	if err != nil {
		return "", err
	}
	secret := NewSecret()
	endpoint.Secret = secret
	if err := s.store.SaveEndpoint(ctx, endpoint); err != nil {
		return "", err
	}
	s.log.Infow("webhook secret rotated", "merchant", merchantWallet, "endpoint", id)
	return secret, nil
}

// SendTest fires a synthetic delivery at a single endpoint so merchants can
// verify their receiver before going live. It goes through the normal
// signed, logged path but never retries.
func (s *Service) SendTest(ctx context.Context, merchantWallet, id string) error {
	endpoint, err := s.merchantEndpoint(ctx, merchantWallet, id)
	if err != nil {
		return err
	}
	payload := &Payload{
		Event:     "test",
		Timestamp: s.now().UnixMilli(),
		Data:      map[string]any{"message": "webhook endpoint test delivery"},
	}
	entry := &models.WebhookDeliveryLog{
		ID:             tool.GenerateUUIDV7(),
		EndpointID:     endpoint.ID,
		MerchantWallet: endpoint.MerchantWallet,
		Event:          payload.Event,
		WebhookURL:     endpoint.URL,
		Status:         types.WebhookDeliveryStatusPending,
		RetryCount:     s.maxRetries(), // exhausted up front: no retries for tests
	}
	if err := s.store.CreateDeliveryLog(ctx, entry); err != nil {
		return err
	}
	s.deliver(ctx, endpoint, payload, entry)
	return nil
}

func (s *Service) merchantEndpoint(ctx context.Context, merchantWallet, id string) (*models.WebhookEndpoint, error) {
	endpoint, err := s.store.EndpointByID(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrEndpointNotFound
	}
	if err != nil {
		return nil, err
	}
	if endpoint.MerchantWallet != merchantWallet {
		return nil, ErrEndpointNotFound
	}
	return endpoint, nil
}

func validateEndpointURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid webhook url %q", raw)
	}
	return nil
}

func validateEvents(events []string) error {
	for _, ev := range events {
		if !lo.Contains(types.AllWebhookEvents, types.WebhookEvent(ev)) {
			return fmt.Errorf("%w: %s", ErrInvalidEvent, ev)
		}
	}
	return nil
}
