package webhook

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/eventop/subsync/pkg/types"
)

func TestRegisterEndpointDefaultsToAllEvents(t *testing.T) {
	store := newFakeStore()
	s := testService(store)

	endpoint, secret, err := s.RegisterEndpoint(context.Background(), "Merchant111", "https://example.com/hooks", nil)
	require.NoError(t, err)
	require.Len(t, endpoint.Events, len(types.AllWebhookEvents))
	require.True(t, endpoint.IsActive)
	require.Equal(t, endpoint.Secret, secret)
	require.Len(t, store.endpoints, 1)
}

func TestRegisterEndpointRejectsBadURL(t *testing.T) {
	s := testService(newFakeStore())

	for _, raw := range []string{"", "ftp://example.com", "not a url", "https://"} {
		_, _, err := s.RegisterEndpoint(context.Background(), "Merchant111", raw, nil)
		require.Error(t, err, raw)
	}
}

func TestRegisterEndpointRejectsUnknownEvent(t *testing.T) {
	s := testService(newFakeStore())

	_, _, err := s.RegisterEndpoint(context.Background(), "Merchant111", "https://example.com/hooks", []string{"subscription.exploded"})
	require.ErrorIs(t, err, ErrInvalidEvent)
}

func TestUpdateEndpointScopedToMerchant(t *testing.T) {
	endpoint := testEndpoint("https://example.com/hooks")
	s := testService(newFakeStore(endpoint))

	inactive := false
	_, err := s.UpdateEndpoint(context.Background(), "OtherMerchant", endpoint.ID, EndpointUpdate{IsActive: &inactive})
	require.ErrorIs(t, err, ErrEndpointNotFound)

	updated, err := s.UpdateEndpoint(context.Background(), endpoint.MerchantWallet, endpoint.ID, EndpointUpdate{IsActive: &inactive})
	require.NoError(t, err)
	require.False(t, updated.IsActive)
}

func TestRotateSecretReplacesSecret(t *testing.T) {
	endpoint := testEndpoint("https://example.com/hooks")
	old := endpoint.Secret
	s := testService(newFakeStore(endpoint))

	secret, err := s.RotateSecret(context.Background(), endpoint.MerchantWallet, endpoint.ID)
	require.NoError(t, err)
	require.NotEqual(t, old, secret)
	require.Equal(t, secret, endpoint.Secret)
}

func TestDeleteEndpointMissing(t *testing.T) {
	s := testService(newFakeStore())
	err := s.DeleteEndpoint(context.Background(), "Merchant111", "missing-id")
	require.ErrorIs(t, err, ErrEndpointNotFound)
}
