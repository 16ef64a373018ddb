package chain

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"time"

	"filippo.io/edwards25519"
	"github.com/btcsuite/btcutil/base58"
)

const (
	tokenProgramID           = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	associatedTokenProgramID = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	pdaMarker                = "ProgramDerivedAddress"

	submitAttempts = 3
	confirmTimeout = 60 * time.Second
)

func instructionDiscriminator(name string) []byte {
	sum := sha256.Sum256([]byte("global:" + name))
	return sum[:8]
}

func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}

// createProgramAddress hashes seeds into a candidate address; candidates
// that land on the ed25519 curve are invalid PDAs.
func createProgramAddress(seeds [][]byte, programID string) (string, error) {
	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(base58.Decode(programID))
	h.Write([]byte(pdaMarker))
	addr := h.Sum(nil)
	if isOnCurve(addr) {
		return "", fmt.Errorf("chain: derived address is on curve")
	}
	return base58.Encode(addr), nil
}

// findProgramAddress searches bump seeds 255..0 for the first off-curve
// derived address.
func findProgramAddress(seeds [][]byte, programID string) (string, error) {
	for bump := 255; bump >= 0; bump-- {
		addr, err := createProgramAddress(append(seeds, []byte{byte(bump)}), programID)
		if err == nil {
			return addr, nil
		}
	}
	return "", fmt.Errorf("chain: no valid program address for seeds")
}

// associatedTokenAddress derives the canonical token account for an owner
// and mint. Owners that are themselves PDAs are allowed.
func associatedTokenAddress(owner, mint string) (string, error) {
	return findProgramAddress(
		[][]byte{base58.Decode(owner), base58.Decode(tokenProgramID), base58.Decode(mint)},
		associatedTokenProgramID,
	)
}

type accountMeta struct {
	pubkey   string
	signer   bool
	writable bool
}

type instruction struct {
	programID string
	accounts  []accountMeta
	data      []byte
}

// shortvec is Solana's compact-u16 length encoding.
func shortvec(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

// compileTransaction assembles and signs a legacy-format transaction with a
// single fee payer.
func compileTransaction(ins instruction, payer ed25519.PrivateKey, blockhash string) ([]byte, error) {
	payerKey := base58.Encode(payer.Public().(ed25519.PublicKey))

	// Account ordering: writable signers, readonly signers, writable
	// non-signers, readonly non-signers. The payer is always index 0.
	keys := []string{payerKey}
	writable := map[string]bool{payerKey: true}
	seen := map[string]bool{payerKey: true}
	add := func(m accountMeta) {
		if m.writable {
			writable[m.pubkey] = true
		}
		if !seen[m.pubkey] {
			seen[m.pubkey] = true
			keys = append(keys, m.pubkey)
		}
	}
	for _, m := range ins.accounts {
		add(m)
	}
	add(accountMeta{pubkey: ins.programID})

	// Stable partition of non-signer keys: writable before readonly.
	ordered := []string{payerKey}
	for _, k := range keys[1:] {
		if writable[k] {
			ordered = append(ordered, k)
		}
	}
	numReadonlyUnsigned := 0
	for _, k := range keys[1:] {
		if !writable[k] {
			ordered = append(ordered, k)
			numReadonlyUnsigned++
		}
	}
	index := make(map[string]byte, len(ordered))
	for i, k := range ordered {
		index[k] = byte(i)
	}

	msg := []byte{1, 0, byte(numReadonlyUnsigned)}
	msg = append(msg, shortvec(len(ordered))...)
	for _, k := range ordered {
		raw := base58.Decode(k)
		if len(raw) != 32 {
			return nil, fmt.Errorf("chain: invalid account key %q", k)
		}
		msg = append(msg, raw...)
	}
	hash := base58.Decode(blockhash)
	if len(hash) != 32 {
		return nil, fmt.Errorf("chain: invalid blockhash %q", blockhash)
	}
	msg = append(msg, hash...)

	msg = append(msg, shortvec(1)...)
	msg = append(msg, index[ins.programID])
	msg = append(msg, shortvec(len(ins.accounts))...)
	for _, m := range ins.accounts {
		msg = append(msg, index[m.pubkey])
	}
	msg = append(msg, shortvec(len(ins.data))...)
	msg = append(msg, ins.data...)

	sig := ed25519.Sign(payer, msg)
	wire := shortvec(1)
	wire = append(wire, sig...)
	wire = append(wire, msg...)
	return wire, nil
}

// ExecutePayment builds, signs and submits the recurring debit instruction
// for a subscription, retrying raw submission with a fresh blockhash between
// attempts, then waits for confirmation.
func (c *RPCClient) ExecutePayment(ctx context.Context, subscriptionPda, walletPda, merchantWallet string) (string, error) {
	if c.payer == nil {
		return "", fmt.Errorf("chain: payer key not configured")
	}

	sub, err := c.SubscriptionState(ctx, subscriptionPda)
	if err != nil {
		return "", fmt.Errorf("fetch subscription state: %w", err)
	}
	if sub.Merchant != merchantWallet {
		return "", fmt.Errorf("chain: subscription merchant %s does not match %s", sub.Merchant, merchantWallet)
	}
	if sub.SubscriptionWallet != walletPda {
		return "", fmt.Errorf("chain: subscription wallet %s does not match %s", sub.SubscriptionWallet, walletPda)
	}

	protocolConfigPda, err := findProgramAddress([][]byte{[]byte("protocol_config")}, c.programID)
	if err != nil {
		return "", err
	}
	configData, err := c.accountData(ctx, protocolConfigPda)
	if err != nil {
		return "", fmt.Errorf("fetch protocol config: %w", err)
	}
	protocolConfig, err := DecodeProtocolConfig(configData)
	if err != nil {
		return "", err
	}

	walletTokenAccount, err := associatedTokenAddress(walletPda, c.usdcMint)
	if err != nil {
		return "", err
	}
	merchantTokenAccount, err := associatedTokenAddress(merchantWallet, c.usdcMint)
	if err != nil {
		return "", err
	}
	treasuryTokenAccount, err := associatedTokenAddress(protocolConfig.Treasury, c.usdcMint)
	if err != nil {
		return "", err
	}

	ins := instruction{
		programID: c.programID,
		accounts: []accountMeta{
			{pubkey: c.payerPub, signer: true, writable: true},
			{pubkey: subscriptionPda, writable: true},
			{pubkey: walletPda, writable: true},
			{pubkey: sub.MerchantPlan, writable: true},
			{pubkey: protocolConfigPda},
			{pubkey: walletTokenAccount, writable: true},
			{pubkey: merchantTokenAccount, writable: true},
			{pubkey: treasuryTokenAccount, writable: true},
			{pubkey: tokenProgramID},
		},
		data: instructionDiscriminator("execute_payment_from_wallet"),
	}

	var lastErr error
	for attempt := 1; attempt <= submitAttempts; attempt++ {
		blockhash, err := c.latestBlockhash(ctx)
		if err != nil {
			lastErr = err
		} else {
			wire, err := compileTransaction(ins, c.payer, blockhash)
			if err != nil {
				return "", err
			}
			sig, err := c.sendTransaction(ctx, wire)
			if err == nil {
				if err := c.confirmSignature(ctx, sig, confirmTimeout); err != nil {
					return "", err
				}
				return sig, nil
			}
			lastErr = err
		}
		c.log.Warnw("payment submission attempt failed", "attempt", attempt, "max", submitAttempts, "err", lastErr)
		if attempt < submitAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
	}
	return "", fmt.Errorf("chain: transaction failed after %d attempts: %w", submitAttempts, lastErr)
}
