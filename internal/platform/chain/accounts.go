package chain

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// Account data begins with an 8-byte type discriminator derived from the
// account name, followed by fixed-width little-endian fields. Offsets are
// walked explicitly; every layout is pinned by fixture tests because an
// off-by-one silently corrupts every later field.

func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

var (
	SubscriptionStateDiscriminator  = accountDiscriminator("SubscriptionState")
	MerchantPlanDiscriminator       = accountDiscriminator("MerchantPlan")
	SubscriptionWalletDiscriminator = accountDiscriminator("SubscriptionWallet")
	YieldVaultDiscriminator         = accountDiscriminator("YieldVault")
	ProtocolConfigDiscriminator     = accountDiscriminator("ProtocolConfig")
)

// SubscriptionState mirrors the on-chain subscription account.
type SubscriptionState struct {
	User                 string
	SubscriptionWallet   string
	Merchant             string
	Mint                 string
	MerchantPlan         string
	FeeAmount            uint64
	PaymentInterval      uint64
	LastPaymentTimestamp uint64
	TotalPaid            uint64
	PaymentCount         uint32
	IsActive             bool
	Bump                 uint8
}

// MerchantPlanAccount mirrors the on-chain plan account.
type MerchantPlanAccount struct {
	Merchant         string
	Mint             string
	PlanID           string
	PlanName         string
	FeeAmount        uint64
	PaymentInterval  uint64
	IsActive         bool
	TotalSubscribers uint32
	Bump             uint8
}

// SubscriptionWalletAccount mirrors the on-chain prepaid wallet account.
type SubscriptionWalletAccount struct {
	Owner              string
	MainTokenAccount   string
	Mint               string
	YieldVault         string
	YieldStrategy      YieldStrategy
	IsYieldEnabled     bool
	TotalSubscriptions uint32
	TotalSpent         uint64
	Bump               uint8
}

// YieldVaultAccount mirrors the on-chain pooled yield vault. Share value is
// TotalUsdcDeposited / TotalSharesIssued.
type YieldVaultAccount struct {
	Mint               string
	UsdcBuffer         string
	TotalSharesIssued  uint64
	TotalUsdcDeposited uint64
	Bump               uint8
}

// ProtocolConfig carries the protocol-level treasury used by the payment
// instruction.
type ProtocolConfig struct {
	Authority string
	Treasury  string
	Bump      uint8
}

type YieldStrategy uint8

const (
	YieldStrategyNone YieldStrategy = iota
	YieldStrategyMarginfiLend
	YieldStrategyKaminoLend
	YieldStrategySolendPool
	YieldStrategyDriftDeposit
)

func (s YieldStrategy) String() string {
	switch s {
	case YieldStrategyMarginfiLend:
		return "marginfi_lend"
	case YieldStrategyKaminoLend:
		return "kamino_lend"
	case YieldStrategySolendPool:
		return "solend_pool"
	case YieldStrategyDriftDeposit:
		return "drift_deposit"
	default:
		return "none"
	}
}

// byteReader walks a fixed binary layout. The first decode error sticks and
// every later read returns zero values, so decoders check err once at the end.
type byteReader struct {
	data []byte
	off  int
	err  error
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("chain: truncated account data at offset %d (need %d bytes, have %d)", r.off, n, len(r.data)-r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *byteReader) pubkey() string {
	b := r.take(32)
	if b == nil {
		return ""
	}
	return base58.Encode(b)
}

func (r *byteReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return uint64(b[0]) | uint64(b[1])<<8 | uint64(b[2])<<16 | uint64(b[3])<<24 |
		uint64(b[4])<<32 | uint64(b[5])<<40 | uint64(b[6])<<48 | uint64(b[7])<<56
}

func (r *byteReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func (r *byteReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return uint16(b[0]) | uint16(b[1])<<8
}

func (r *byteReader) u8() uint8 {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *byteReader) boolean() bool { return r.u8() == 1 }

// str reads a 4-byte little-endian length prefix followed by UTF-8 bytes.
func (r *byteReader) str() string {
	n := r.u32()
	if r.err != nil {
		return ""
	}
	if n > uint32(len(r.data)-r.off) {
		r.err = fmt.Errorf("chain: string length %d exceeds remaining %d bytes at offset %d", n, len(r.data)-r.off, r.off)
		return ""
	}
	return string(r.take(int(n)))
}

func (r *byteReader) discriminator(want [8]byte, name string) {
	b := r.take(8)
	if b == nil {
		return
	}
	for i := range want {
		if b[i] != want[i] {
			r.err = fmt.Errorf("chain: data is not a %s account (discriminator mismatch)", name)
			return
		}
	}
}

// DecodeSubscriptionState decodes a raw subscription account.
func DecodeSubscriptionState(data []byte) (*SubscriptionState, error) {
	r := newByteReader(data)
	r.discriminator(SubscriptionStateDiscriminator, "SubscriptionState")
	s := &SubscriptionState{
		User:                 r.pubkey(),
		SubscriptionWallet:   r.pubkey(),
		Merchant:             r.pubkey(),
		Mint:                 r.pubkey(),
		MerchantPlan:         r.pubkey(),
		FeeAmount:            r.u64(),
		PaymentInterval:      r.u64(),
		LastPaymentTimestamp: r.u64(),
		TotalPaid:            r.u64(),
		PaymentCount:         r.u32(),
		IsActive:             r.boolean(),
		Bump:                 r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

// DecodeMerchantPlan decodes a raw merchant plan account. PlanID and
// PlanName are variable-length, so every field after them depends on the
// length prefixes being read exactly.
func DecodeMerchantPlan(data []byte) (*MerchantPlanAccount, error) {
	r := newByteReader(data)
	r.discriminator(MerchantPlanDiscriminator, "MerchantPlan")
	p := &MerchantPlanAccount{
		Merchant:         r.pubkey(),
		Mint:             r.pubkey(),
		PlanID:           r.str(),
		PlanName:         r.str(),
		FeeAmount:        r.u64(),
		PaymentInterval:  r.u64(),
		IsActive:         r.boolean(),
		TotalSubscribers: r.u32(),
		Bump:             r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return p, nil
}

// DecodeSubscriptionWallet decodes a raw prepaid wallet account.
func DecodeSubscriptionWallet(data []byte) (*SubscriptionWalletAccount, error) {
	r := newByteReader(data)
	r.discriminator(SubscriptionWalletDiscriminator, "SubscriptionWallet")
	w := &SubscriptionWalletAccount{
		Owner:              r.pubkey(),
		MainTokenAccount:   r.pubkey(),
		Mint:               r.pubkey(),
		YieldVault:         r.pubkey(),
		YieldStrategy:      YieldStrategy(r.u8()),
		IsYieldEnabled:     r.boolean(),
		TotalSubscriptions: r.u32(),
		TotalSpent:         r.u64(),
		Bump:               r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return w, nil
}

// DecodeYieldVault decodes a raw pooled yield vault account.
func DecodeYieldVault(data []byte) (*YieldVaultAccount, error) {
	r := newByteReader(data)
	r.discriminator(YieldVaultDiscriminator, "YieldVault")
	v := &YieldVaultAccount{
		Mint:               r.pubkey(),
		UsdcBuffer:         r.pubkey(),
		TotalSharesIssued:  r.u64(),
		TotalUsdcDeposited: r.u64(),
		Bump:               r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return v, nil
}

// DecodeProtocolConfig decodes the protocol config account.
func DecodeProtocolConfig(data []byte) (*ProtocolConfig, error) {
	r := newByteReader(data)
	r.discriminator(ProtocolConfigDiscriminator, "ProtocolConfig")
	c := &ProtocolConfig{
		Authority: r.pubkey(),
		Treasury:  r.pubkey(),
		Bump:      r.u8(),
	}
	if r.err != nil {
		return nil, r.err
	}
	return c, nil
}
