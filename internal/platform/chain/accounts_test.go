package chain

import (
	"encoding/binary"
	"testing"

	"github.com/btcsuite/btcutil/base58"
	"github.com/stretchr/testify/require"
)

// fixtureWriter builds raw account/event payloads in the on-chain layout.
type fixtureWriter struct {
	buf []byte
}

func (w *fixtureWriter) disc(d [8]byte) *fixtureWriter {
	w.buf = append(w.buf, d[:]...)
	return w
}

func (w *fixtureWriter) pubkey(seed byte) (*fixtureWriter, string) {
	b := make([]byte, 32)
	for i := range b {
		b[i] = seed
	}
	w.buf = append(w.buf, b...)
	return w, base58.Encode(b)
}

func (w *fixtureWriter) u64(v uint64) *fixtureWriter {
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
	return w
}

func (w *fixtureWriter) u32(v uint32) *fixtureWriter {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
	return w
}

func (w *fixtureWriter) u8(v uint8) *fixtureWriter {
	w.buf = append(w.buf, v)
	return w
}

func (w *fixtureWriter) boolean(v bool) *fixtureWriter {
	if v {
		return w.u8(1)
	}
	return w.u8(0)
}

func (w *fixtureWriter) str(s string) *fixtureWriter {
	w.u32(uint32(len(s)))
	w.buf = append(w.buf, s...)
	return w
}

func TestDecodeSubscriptionState(t *testing.T) {
	w := &fixtureWriter{}
	w.disc(SubscriptionStateDiscriminator)
	_, user := w.pubkey(1)
	_, wallet := w.pubkey(2)
	_, merchant := w.pubkey(3)
	_, mint := w.pubkey(4)
	_, plan := w.pubkey(5)
	w.u64(5_000_000).u64(2_592_000).u64(1_700_000_000).u64(15_000_000).u32(3).boolean(true).u8(254)

	s, err := DecodeSubscriptionState(w.buf)
	require.NoError(t, err)
	require.Equal(t, user, s.User)
	require.Equal(t, wallet, s.SubscriptionWallet)
	require.Equal(t, merchant, s.Merchant)
	require.Equal(t, mint, s.Mint)
	require.Equal(t, plan, s.MerchantPlan)
	require.Equal(t, uint64(5_000_000), s.FeeAmount)
	require.Equal(t, uint64(2_592_000), s.PaymentInterval)
	require.Equal(t, uint64(1_700_000_000), s.LastPaymentTimestamp)
	require.Equal(t, uint64(15_000_000), s.TotalPaid)
	require.Equal(t, uint32(3), s.PaymentCount)
	require.True(t, s.IsActive)
	require.Equal(t, uint8(254), s.Bump)
}

func TestDecodeSubscriptionStateWrongDiscriminator(t *testing.T) {
	w := &fixtureWriter{}
	w.disc(MerchantPlanDiscriminator)
	w.pubkey(1)

	_, err := DecodeSubscriptionState(w.buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "discriminator mismatch")
}

func TestDecodeSubscriptionStateTruncated(t *testing.T) {
	w := &fixtureWriter{}
	w.disc(SubscriptionStateDiscriminator)
	w.pubkey(1)
	w.pubkey(2)

	_, err := DecodeSubscriptionState(w.buf)
	require.Error(t, err)
}

func TestDecodeMerchantPlan(t *testing.T) {
	w := &fixtureWriter{}
	w.disc(MerchantPlanDiscriminator)
	_, merchant := w.pubkey(7)
	_, mint := w.pubkey(8)
	w.str("pro-monthly").str("Pro Monthly").u64(9_990_000).u64(2_592_000).boolean(true).u32(42).u8(255)

	p, err := DecodeMerchantPlan(w.buf)
	require.NoError(t, err)
	require.Equal(t, merchant, p.Merchant)
	require.Equal(t, mint, p.Mint)
	require.Equal(t, "pro-monthly", p.PlanID)
	require.Equal(t, "Pro Monthly", p.PlanName)
	require.Equal(t, uint64(9_990_000), p.FeeAmount)
	require.Equal(t, uint64(2_592_000), p.PaymentInterval)
	require.True(t, p.IsActive)
	require.Equal(t, uint32(42), p.TotalSubscribers)
}

func TestDecodeMerchantPlanOverlongString(t *testing.T) {
	w := &fixtureWriter{}
	w.disc(MerchantPlanDiscriminator)
	w.pubkey(7)
	w.pubkey(8)
	// length prefix points past the end of the buffer
	w.u32(1 << 20)

	_, err := DecodeMerchantPlan(w.buf)
	require.Error(t, err)
	require.Contains(t, err.Error(), "exceeds remaining")
}

func TestDecodeSubscriptionWallet(t *testing.T) {
	w := &fixtureWriter{}
	w.disc(SubscriptionWalletDiscriminator)
	_, owner := w.pubkey(9)
	_, tokenAcct := w.pubkey(10)
	_, mint := w.pubkey(11)
	_, vault := w.pubkey(12)
	w.u8(uint8(YieldStrategyKaminoLend)).boolean(true).u32(2).u64(30_000_000).u8(251)

	acct, err := DecodeSubscriptionWallet(w.buf)
	require.NoError(t, err)
	require.Equal(t, owner, acct.Owner)
	require.Equal(t, tokenAcct, acct.MainTokenAccount)
	require.Equal(t, mint, acct.Mint)
	require.Equal(t, vault, acct.YieldVault)
	require.Equal(t, YieldStrategyKaminoLend, acct.YieldStrategy)
	require.True(t, acct.IsYieldEnabled)
	require.Equal(t, uint32(2), acct.TotalSubscriptions)
	require.Equal(t, uint64(30_000_000), acct.TotalSpent)
}

func TestDecodeYieldVault(t *testing.T) {
	w := &fixtureWriter{}
	w.disc(YieldVaultDiscriminator)
	_, mint := w.pubkey(15)
	_, buffer := w.pubkey(16)
	w.u64(1_000_000).u64(2_000_000_000).u8(252)

	v, err := DecodeYieldVault(w.buf)
	require.NoError(t, err)
	require.Equal(t, mint, v.Mint)
	require.Equal(t, buffer, v.UsdcBuffer)
	require.Equal(t, uint64(1_000_000), v.TotalSharesIssued)
	require.Equal(t, uint64(2_000_000_000), v.TotalUsdcDeposited)
	require.Equal(t, uint8(252), v.Bump)
}

func TestDecodeProtocolConfig(t *testing.T) {
	w := &fixtureWriter{}
	w.disc(ProtocolConfigDiscriminator)
	_, authority := w.pubkey(13)
	_, treasury := w.pubkey(14)
	w.u8(253)

	cfg, err := DecodeProtocolConfig(w.buf)
	require.NoError(t, err)
	require.Equal(t, authority, cfg.Authority)
	require.Equal(t, treasury, cfg.Treasury)
	require.Equal(t, uint8(253), cfg.Bump)
}
