package webhook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	payload := []byte(`{"event":"payment_executed","data":{"amount":"5000000"}}`)
	secret := "whsec_test"

	sig := Sign(payload, secret)
	require.Len(t, sig, 64)
	require.True(t, Verify(payload, sig, secret))
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	payload := []byte(`{"amount":"5000000"}`)
	sig := Sign(payload, "whsec_test")

	tampered := []byte(`{"amount":"5000001"}`)
	require.False(t, Verify(tampered, sig, "whsec_test"))
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	payload := []byte(`{"amount":"5000000"}`)
	sig := Sign(payload, "whsec_a")
	require.False(t, Verify(payload, sig, "whsec_b"))
}

func TestVerifyRejectsFlippedSignatureBit(t *testing.T) {
	payload := []byte("hello")
	sig := Sign(payload, "whsec_test")

	flipped := []byte(sig)
	if flipped[0] == 'a' {
		flipped[0] = 'b'
	} else {
		flipped[0] = 'a'
	}
	require.False(t, Verify(payload, string(flipped), "whsec_test"))
}

func TestNewSecretFormat(t *testing.T) {
	a := NewSecret()
	b := NewSecret()
	require.True(t, strings.HasPrefix(a, "whsec_"))
	require.Len(t, a, len("whsec_")+64)
	require.NotEqual(t, a, b)
}
