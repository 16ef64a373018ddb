package checkout

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/samber/lo"

	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/internal/platform/chain"
	"github.com/eventop/subsync/pkg/types"
)

var (
	ErrBadWalletProof    = errors.New("wallet ownership proof rejected")
	ErrBadTransaction    = errors.New("transaction verification failed")
	ErrSubscriptionDrift = errors.New("on-chain subscription does not match session")
	ErrAlreadyLinked     = errors.New("subscription or signature already linked to another session")
)

const (
	proofMaxAge = 5 * time.Minute
	txMaxAge    = 10 * time.Minute
)

// CompleteRequest is the purchaser-supplied proof bundle for the explicit
// completion path. Message must be exactly "complete:<sessionId>:<epoch-ms>"
// and WalletSignature its ed25519 signature, both produced by the wallet
// that created the subscription.
type CompleteRequest struct {
	SubscriptionPda string
	UserWallet      string
	Signature       string
	Message         string
	WalletSignature string
}

// CompleteSession is the strict client-driven completion path. Every check
// must pass before any state changes; a rejection leaves the session
// untouched.
func (s *Service) CompleteSession(ctx context.Context, sessionID string, req CompleteRequest) (*models.CheckoutSession, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status != types.CheckoutSessionStatusPending {
		if session.Status == types.CheckoutSessionStatusExpired {
			return nil, ErrSessionExpired
		}
		return nil, ErrSessionTerminal
	}

	if err := s.verifyWalletProof(sessionID, req); err != nil {
		return nil, err
	}
	if err := s.verifyTransaction(ctx, req); err != nil {
		return nil, err
	}
	if err := s.verifySubscription(ctx, session.MerchantWallet, session.PlanPda, req); err != nil {
		return nil, err
	}
	linked, err := s.store.OtherCompletedSessionExists(ctx, sessionID, req.SubscriptionPda, req.Signature)
	if err != nil {
		return nil, err
	}
	if linked {
		return nil, ErrAlreadyLinked
	}

	completedAt := s.now()
	session.Status = types.CheckoutSessionStatusCompleted
	session.SubscriptionPda = &req.SubscriptionPda
	session.UserWallet = &req.UserWallet
	session.Signature = &req.Signature
	session.CompletedAt = &completedAt
	if err := s.store.SaveSession(ctx, session); err != nil {
		return nil, err
	}
	s.log.Infow("checkout session completed by client",
		"session", sessionID, "subscription", req.SubscriptionPda, "user", req.UserWallet)
	return session, nil
}

// verifyWalletProof checks the fresh ed25519 signature binding the session
// id and a recent timestamp to the purchaser's wallet key.
func (s *Service) verifyWalletProof(sessionID string, req CompleteRequest) error {
	parts := strings.Split(req.Message, ":")
	if len(parts) != 3 || parts[0] != "complete" {
		return fmt.Errorf("%w: malformed message", ErrBadWalletProof)
	}
	if parts[1] != sessionID {
		return fmt.Errorf("%w: message bound to a different session", ErrBadWalletProof)
	}
	millis, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: malformed timestamp", ErrBadWalletProof)
	}
	age := s.now().Sub(time.UnixMilli(millis))
	if age > proofMaxAge || age < -time.Minute {
		return fmt.Errorf("%w: message too old", ErrBadWalletProof)
	}

	pub := base58.Decode(req.UserWallet)
	sig := base58.Decode(req.WalletSignature)
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return fmt.Errorf("%w: malformed key or signature", ErrBadWalletProof)
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), []byte(req.Message), sig) {
		return fmt.Errorf("%w: signature does not verify", ErrBadWalletProof)
	}
	return nil
}

// verifyTransaction confirms the cited transaction landed, succeeded, is
// recent and involves the claimed wallet.
func (s *Service) verifyTransaction(ctx context.Context, req CompleteRequest) error {
	tx, err := s.chain.Transaction(ctx, req.Signature)
	if err != nil {
		if errors.Is(err, chain.ErrTransactionNotFound) {
			return fmt.Errorf("%w: transaction not found", ErrBadTransaction)
		}
		return err
	}
	if !tx.Success {
		return fmt.Errorf("%w: transaction failed on chain", ErrBadTransaction)
	}
	if tx.BlockTime == nil || s.now().Sub(*tx.BlockTime) > txMaxAge {
		return fmt.Errorf("%w: transaction too old", ErrBadTransaction)
	}
	if !lo.Contains(tx.AccountKeys, req.UserWallet) {
		return fmt.Errorf("%w: transaction does not involve wallet", ErrBadTransaction)
	}
	return nil
}

// verifySubscription confirms the on-chain subscription exists and matches
// the session's merchant, plan and the claimed wallet.
func (s *Service) verifySubscription(ctx context.Context, merchantWallet, planPda string, req CompleteRequest) error {
	state, err := s.chain.SubscriptionState(ctx, req.SubscriptionPda)
	if err != nil {
		if errors.Is(err, chain.ErrAccountNotFound) {
			return fmt.Errorf("%w: subscription account not found", ErrSubscriptionDrift)
		}
		return err
	}
	switch {
	case state.Merchant != merchantWallet:
		return fmt.Errorf("%w: merchant mismatch", ErrSubscriptionDrift)
	case state.MerchantPlan != planPda:
		return fmt.Errorf("%w: plan mismatch", ErrSubscriptionDrift)
	case state.User != req.UserWallet:
		return fmt.Errorf("%w: wallet mismatch", ErrSubscriptionDrift)
	}
	return nil
}
