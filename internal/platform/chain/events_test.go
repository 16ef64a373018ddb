package chain

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func programDataLine(payload []byte) string {
	return "Program data: " + base64.StdEncoding.EncodeToString(payload)
}

func testDecoder() *Decoder {
	return NewDecoder(zap.NewNop().Sugar())
}

func TestParseLogsSubscriptionCreated(t *testing.T) {
	w := &fixtureWriter{}
	w.disc(eventDiscriminator("SubscriptionCreated"))
	_, sub := w.pubkey(1)
	_, user := w.pubkey(2)
	_, wallet := w.pubkey(3)
	_, merchant := w.pubkey(4)
	w.str("basic").str("session_abc123")

	events := testDecoder().ParseLogs([]string{
		"Program GPVtSfXPiy8y4SkJrMC3VFyKUmGVhMrRbAp2NhiW1Ds2 invoke [1]",
		programDataLine(w.buf),
		"Program GPVtSfXPiy8y4SkJrMC3VFyKUmGVhMrRbAp2NhiW1Ds2 success",
	})
	require.Len(t, events, 1)

	ev, ok := events[0].(SubscriptionCreated)
	require.True(t, ok)
	require.Equal(t, sub, ev.SubscriptionPda)
	require.Equal(t, user, ev.User)
	require.Equal(t, wallet, ev.Wallet)
	require.Equal(t, merchant, ev.Merchant)
	require.Equal(t, "basic", ev.PlanID)
	require.Equal(t, "session_abc123", ev.SessionToken)
}

func TestParseLogsPaymentExecuted(t *testing.T) {
	w := &fixtureWriter{}
	w.disc(eventDiscriminator("PaymentExecuted"))
	_, sub := w.pubkey(1)
	w.pubkey(2)
	w.pubkey(3)
	w.pubkey(4)
	w.u64(5_000_000).u32(7)

	events := testDecoder().ParseLogs([]string{programDataLine(w.buf)})
	require.Len(t, events, 1)

	ev, ok := events[0].(PaymentExecuted)
	require.True(t, ok)
	require.Equal(t, sub, ev.SubscriptionPda)
	require.Equal(t, uint64(5_000_000), ev.Amount)
	require.Equal(t, uint32(7), ev.PaymentNumber)
}

func TestParseLogsMultipleEventsKeepOrder(t *testing.T) {
	created := &fixtureWriter{}
	created.disc(eventDiscriminator("SubscriptionWalletCreated"))
	created.pubkey(1)
	created.pubkey(2)
	created.pubkey(3)

	deposit := &fixtureWriter{}
	deposit.disc(eventDiscriminator("WalletDeposit"))
	deposit.pubkey(1)
	deposit.pubkey(2)
	deposit.u64(10_000_000).boolean(true)

	events := testDecoder().ParseLogs([]string{
		programDataLine(created.buf),
		programDataLine(deposit.buf),
	})
	require.Len(t, events, 2)
	require.IsType(t, SubscriptionWalletCreated{}, events[0])

	dep, ok := events[1].(WalletDeposit)
	require.True(t, ok)
	require.Equal(t, uint64(10_000_000), dep.Amount)
	require.True(t, dep.DepositedToYield)
}

func TestParseLogsSkipsUnknownDiscriminator(t *testing.T) {
	w := &fixtureWriter{}
	w.disc(eventDiscriminator("SomeFutureEvent"))
	w.pubkey(1)

	events := testDecoder().ParseLogs([]string{programDataLine(w.buf)})
	require.Empty(t, events)
}

func TestParseLogsSkipsTruncatedPayload(t *testing.T) {
	w := &fixtureWriter{}
	w.disc(eventDiscriminator("PaymentExecuted"))
	w.pubkey(1) // decoder expects four pubkeys plus amount fields

	events := testDecoder().ParseLogs([]string{programDataLine(w.buf)})
	require.Empty(t, events)
}

func TestParseLogsSkipsNonDataLines(t *testing.T) {
	events := testDecoder().ParseLogs([]string{
		"Program log: Instruction: ExecutePayment",
		"Program data: %%%not-base64%%%",
		"Program consumption: 2000 units",
	})
	require.Empty(t, events)
}
