package indexer

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/eventop/subsync/internal/app/service/checkout"
	"github.com/eventop/subsync/internal/app/service/webhook"
	"github.com/eventop/subsync/internal/models"
	"github.com/eventop/subsync/internal/platform/chain"
	"github.com/eventop/subsync/pkg/config"
	"github.com/eventop/subsync/pkg/metrics"
)

// PaymentScheduler is the slice of the scheduler the indexer drives.
// Satisfied by *scheduler.Service.
type PaymentScheduler interface {
	ScheduleNextPayment(ctx context.Context, sub *models.Subscription) error
	CancelScheduledPayments(ctx context.Context, subscriptionPda string) error
}

// Notifier delivers subscription lifecycle webhooks. Satisfied by
// *webhook.Service.
type Notifier interface {
	NotifySubscriptionCreated(ctx context.Context, n webhook.SubscriptionCreatedNote) error
	NotifySubscriptionCancelled(ctx context.Context, n webhook.SubscriptionCancelledNote) error
	NotifyPaymentExecuted(ctx context.Context, n webhook.PaymentExecutedNote) error
}

// Reconciler links first-seen subscriptions back to their checkout session.
// Satisfied by *checkout.Service.
type Reconciler interface {
	ReconcileSubscription(ctx context.Context, req checkout.ReconcileRequest) (*checkout.ReconcileResult, error)
}

// Service tails the program's transaction stream and maintains the
// off-chain projection: subscriptions, wallets, plan counters and the
// transaction ledger. Exactly one instance runs per checkpoint key.
type Service struct {
	cfg        *config.Config
	log        *zap.SugaredLogger
	store      Store
	chain      chain.Client
	decoder    *chain.Decoder
	scheduler  PaymentScheduler
	notifier   Notifier
	reconciler Reconciler

	resyncing    atomic.Bool
	snapshotting atomic.Bool
	now          func() time.Time
}

func NewService(
	cfg *config.Config,
	log *zap.SugaredLogger,
	store Store,
	client chain.Client,
	decoder *chain.Decoder,
	sched PaymentScheduler,
	notifier Notifier,
	reconciler Reconciler,
) *Service {
	return &Service{
		cfg:        cfg,
		log:        log,
		store:      store,
		chain:      client,
		decoder:    decoder,
		scheduler:  sched,
		notifier:   notifier,
		reconciler: reconciler,
		now:        time.Now,
	}
}

// Start verifies chain connectivity, seeds or loads the checkpoint, and
// replays the backlog. It must complete before the live loop begins so the
// projection is contiguous.
func (s *Service) Start(ctx context.Context) error {
	tip, err := s.chain.CurrentSlot(ctx)
	if err != nil {
		return fmt.Errorf("chain rpc unreachable: %w", err)
	}

	key := s.cfg.Indexer.CheckpointKey
	cp, err := s.store.Checkpoint(ctx, key)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	if cp == nil {
		// First boot: start from the current tip rather than replaying the
		// program's entire history.
		if err := s.store.SaveCheckpoint(ctx, key, tip, s.now()); err != nil {
			return fmt.Errorf("seed checkpoint: %w", err)
		}
		s.log.Infow("checkpoint seeded at chain tip", "key", key, "slot", tip)
		return nil
	}

	s.log.Infow("resuming from checkpoint", "key", key, "slot", cp.LastProcessedSlot, "tip", tip)
	if err := s.backfill(ctx, cp.LastProcessedSlot); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	return nil
}

// backfill walks signatures newest-first until it crosses the checkpoint,
// then applies the collected transactions oldest-first so events replay in
// chain order.
func (s *Service) backfill(ctx context.Context, checkpointSlot uint64) error {
	sigs, err := s.chain.SignaturesForProgram(ctx, s.cfg.Indexer.BackfillLimit)
	if err != nil {
		return err
	}

	var pending []chain.SignatureInfo
	for _, sig := range sigs {
		if sig.Slot <= checkpointSlot {
			break
		}
		if sig.Failed {
			continue
		}
		pending = append(pending, sig)
	}
	if len(pending) == 0 {
		s.log.Infow("backfill: nothing missed")
		return nil
	}
	if len(pending) == len(sigs) && len(sigs) == s.cfg.Indexer.BackfillLimit {
		s.log.Warnw("backfill window exhausted before reaching checkpoint, projection may have a gap",
			"limit", s.cfg.Indexer.BackfillLimit, "checkpoint_slot", checkpointSlot)
	}

	s.log.Infow("backfilling missed transactions", "count", len(pending))
	for i := len(pending) - 1; i >= 0; i-- {
		sig := pending[i]
		tx, err := s.chain.Transaction(ctx, sig.Signature)
		if err != nil {
			if err == chain.ErrTransactionNotFound {
				s.log.Warnw("backfill transaction vanished", "signature", sig.Signature)
				continue
			}
			return err
		}
		if !tx.Success {
			continue
		}
		s.applyTransaction(ctx, tx.Signature, tx.Slot, tx.BlockTime, s.decoder.ParseLogs(tx.Logs))
		s.advanceCheckpoint(ctx, tx.Slot)
	}
	return nil
}

func (s *Service) advanceCheckpoint(ctx context.Context, slot uint64) {
	if err := s.store.SaveCheckpoint(ctx, s.cfg.Indexer.CheckpointKey, slot, s.now()); err != nil {
		s.log.Errorw("failed to advance checkpoint", "slot", slot, "err", err)
		return
	}
	metrics.CheckpointSlot.Set(float64(slot))
}

// RunLive consumes the log subscription until ctx is cancelled, reconnecting
// when the stream drops.
func (s *Service) RunLive(ctx context.Context) {
	for ctx.Err() == nil {
		batches, err := s.chain.SubscribeLogs(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.Errorw("log subscription failed, retrying", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}
		s.log.Infow("log subscription established")
		for batch := range batches {
			if batch.Failed {
				continue
			}
			s.applyTransaction(ctx, batch.Signature, batch.Slot, nil, s.decoder.ParseLogs(batch.Logs))
			s.advanceCheckpoint(ctx, batch.Slot)
		}
		s.log.Warnw("log subscription closed")
	}
}
