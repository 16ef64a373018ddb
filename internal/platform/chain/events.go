package chain

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"go.uber.org/zap"
)

// Program events arrive as "Program data: <base64>" log lines. The payload
// is an 8-byte event discriminator followed by the event fields in the same
// fixed little-endian layout the account decoders use.

const programDataPrefix = "Program data: "

func eventDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("event:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// Event is the closed set of program events. The unexported marker keeps the
// set sealed so the indexer's type switch stays exhaustive.
type Event interface {
	isEvent()
	// EventName returns the on-chain event name.
	EventName() string
}

type SubscriptionWalletCreated struct {
	WalletPda string
	Owner     string
	Mint      string
}

type SubscriptionCreated struct {
	SubscriptionPda string
	User            string
	Wallet          string
	Merchant        string
	PlanID          string
	SessionToken    string
}

type PaymentExecuted struct {
	SubscriptionPda string
	WalletPda       string
	User            string
	Merchant        string
	Amount          uint64
	PaymentNumber   uint32
}

type SubscriptionCancelled struct {
	SubscriptionPda string
	WalletPda       string
	User            string
	Merchant        string
	PaymentsMade    uint32
}

type WalletDeposit struct {
	WalletPda        string
	User             string
	Amount           uint64
	DepositedToYield bool
}

type WalletWithdrawal struct {
	WalletPda string
	User      string
	Amount    uint64
}

type YieldEnabled struct {
	WalletPda string
	Strategy  YieldStrategy
	Vault     string
}

type YieldDisabled struct {
	WalletPda      string
	SharesRedeemed uint64
	UsdcReceived   uint64
}

type YieldDeposit struct {
	WalletPda    string
	SharesIssued uint64
	UsdcAmount   uint64
}

type YieldWithdrawal struct {
	WalletPda      string
	SharesRedeemed uint64
	UsdcReceived   uint64
}

type YieldClaimed struct {
	WalletPda string
	User      string
	Amount    uint64
}

type MerchantPlanRegistered struct {
	PlanPda string
}

func (SubscriptionWalletCreated) isEvent() {}
func (SubscriptionCreated) isEvent()       {}
func (PaymentExecuted) isEvent()           {}
func (SubscriptionCancelled) isEvent()     {}
func (WalletDeposit) isEvent()             {}
func (WalletWithdrawal) isEvent()          {}
func (YieldEnabled) isEvent()              {}
func (YieldDisabled) isEvent()             {}
func (YieldDeposit) isEvent()              {}
func (YieldWithdrawal) isEvent()           {}
func (YieldClaimed) isEvent()              {}
func (MerchantPlanRegistered) isEvent()    {}

func (SubscriptionWalletCreated) EventName() string { return "SubscriptionWalletCreated" }
func (SubscriptionCreated) EventName() string       { return "SubscriptionCreated" }
func (PaymentExecuted) EventName() string           { return "PaymentExecuted" }
func (SubscriptionCancelled) EventName() string     { return "SubscriptionCancelled" }
func (WalletDeposit) EventName() string             { return "WalletDeposit" }
func (WalletWithdrawal) EventName() string          { return "WalletWithdrawal" }
func (YieldEnabled) EventName() string              { return "YieldEnabled" }
func (YieldDisabled) EventName() string             { return "YieldDisabled" }
func (YieldDeposit) EventName() string              { return "YieldDeposit" }
func (YieldWithdrawal) EventName() string           { return "YieldWithdrawal" }
func (YieldClaimed) EventName() string              { return "YieldClaimed" }
func (MerchantPlanRegistered) EventName() string    { return "MerchantPlanRegistered" }

var eventDecoders = map[[8]byte]func(r *byteReader) Event{
	eventDiscriminator("SubscriptionWalletCreated"): func(r *byteReader) Event {
		return SubscriptionWalletCreated{WalletPda: r.pubkey(), Owner: r.pubkey(), Mint: r.pubkey()}
	},
	eventDiscriminator("SubscriptionCreated"): func(r *byteReader) Event {
		return SubscriptionCreated{
			SubscriptionPda: r.pubkey(),
			User:            r.pubkey(),
			Wallet:          r.pubkey(),
			Merchant:        r.pubkey(),
			PlanID:          r.str(),
			SessionToken:    r.str(),
		}
	},
	eventDiscriminator("PaymentExecuted"): func(r *byteReader) Event {
		return PaymentExecuted{
			SubscriptionPda: r.pubkey(),
			WalletPda:       r.pubkey(),
			User:            r.pubkey(),
			Merchant:        r.pubkey(),
			Amount:          r.u64(),
			PaymentNumber:   r.u32(),
		}
	},
	eventDiscriminator("SubscriptionCancelled"): func(r *byteReader) Event {
		return SubscriptionCancelled{
			SubscriptionPda: r.pubkey(),
			WalletPda:       r.pubkey(),
			User:            r.pubkey(),
			Merchant:        r.pubkey(),
			PaymentsMade:    r.u32(),
		}
	},
	eventDiscriminator("WalletDeposit"): func(r *byteReader) Event {
		return WalletDeposit{WalletPda: r.pubkey(), User: r.pubkey(), Amount: r.u64(), DepositedToYield: r.boolean()}
	},
	eventDiscriminator("WalletWithdrawal"): func(r *byteReader) Event {
		return WalletWithdrawal{WalletPda: r.pubkey(), User: r.pubkey(), Amount: r.u64()}
	},
	eventDiscriminator("YieldEnabled"): func(r *byteReader) Event {
		return YieldEnabled{WalletPda: r.pubkey(), Strategy: YieldStrategy(r.u8()), Vault: r.pubkey()}
	},
	eventDiscriminator("YieldDisabled"): func(r *byteReader) Event {
		return YieldDisabled{WalletPda: r.pubkey(), SharesRedeemed: r.u64(), UsdcReceived: r.u64()}
	},
	eventDiscriminator("YieldDeposit"): func(r *byteReader) Event {
		return YieldDeposit{WalletPda: r.pubkey(), SharesIssued: r.u64(), UsdcAmount: r.u64()}
	},
	eventDiscriminator("YieldWithdrawal"): func(r *byteReader) Event {
		return YieldWithdrawal{WalletPda: r.pubkey(), SharesRedeemed: r.u64(), UsdcReceived: r.u64()}
	},
	eventDiscriminator("YieldClaimed"): func(r *byteReader) Event {
		return YieldClaimed{WalletPda: r.pubkey(), User: r.pubkey(), Amount: r.u64()}
	},
	eventDiscriminator("MerchantPlanRegistered"): func(r *byteReader) Event {
		return MerchantPlanRegistered{PlanPda: r.pubkey()}
	},
}

// Decoder turns raw transaction log lines into typed events.
type Decoder struct {
	log *zap.SugaredLogger
}

func NewDecoder(log *zap.SugaredLogger) *Decoder {
	return &Decoder{log: log}
}

// ParseLogs extracts every decodable program event from a transaction's log
// lines. Unknown event discriminators and malformed payloads are logged and
// skipped, never fatal: the program can emit events this service predates.
func (d *Decoder) ParseLogs(logs []string) []Event {
	var events []Event
	for _, line := range logs {
		idx := strings.Index(line, programDataPrefix)
		if idx < 0 {
			continue
		}
		raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(line[idx+len(programDataPrefix):]))
		if err != nil {
			d.log.Warnw("undecodable program data line", "err", err)
			continue
		}
		if len(raw) < 8 {
			continue
		}
		var disc [8]byte
		copy(disc[:], raw[:8])
		decode, ok := eventDecoders[disc]
		if !ok {
			d.log.Warnw("unknown event discriminator, dropping", "discriminator", base64.StdEncoding.EncodeToString(disc[:]))
			continue
		}
		r := newByteReader(raw)
		r.take(8)
		ev := decode(r)
		if r.err != nil {
			d.log.Warnw("malformed event payload, dropping", "event", ev.EventName(), "err", r.err)
			continue
		}
		events = append(events, ev)
	}
	return events
}
