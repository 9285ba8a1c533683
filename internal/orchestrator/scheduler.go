package orchestrator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/safety"
)

// CycleRunner drives one scheduled decision cycle and evaluates the
// settlement trigger.
type CycleRunner interface {
	RunCycle(ctx context.Context, trigger schemas.TriggerReason) (*schemas.Decision, error)
	RunBridgeCheck(ctx context.Context) error
}

// ReflectionRunner scores matured decisions against realized outcomes.
type ReflectionRunner interface {
	Run(ctx context.Context) (int, error)
}

// JobResumer recovers settlement jobs interrupted by a previous shutdown.
type JobResumer interface {
	Resume(ctx context.Context) error
}

// Scheduler runs the long-lived loops: the scheduled decision cycle, the
// settlement loop and the reflection pass. Settlement is decoupled from the
// cycle loop: a cycle only signals that a check is due, and the bounded
// attestation poll runs in the settlement goroutine so it never delays a
// decision tick.
type Scheduler struct {
	orch         CycleRunner
	reflector    ReflectionRunner
	bridgeCtl    JobResumer
	cycleEvery   time.Duration
	reflectEvery time.Duration
	settleKick   chan struct{}
	logger       *zap.Logger
}

// NewScheduler builds the scheduler.
func NewScheduler(
	orch CycleRunner,
	reflector ReflectionRunner,
	bridgeCtl JobResumer,
	cycleEvery, reflectEvery time.Duration,
	logger *zap.Logger,
) *Scheduler {
	return &Scheduler{
		orch:         orch,
		reflector:    reflector,
		bridgeCtl:    bridgeCtl,
		cycleEvery:   cycleEvery,
		reflectEvery: reflectEvery,
		settleKick:   make(chan struct{}, 1),
		logger:       logger.Named("scheduler"),
	}
}

// Run blocks until ctx is cancelled. Loop failures are logged and retried at
// the next tick; only context cancellation stops the scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.cycleLoop(gctx) })
	g.Go(func() error { return s.settlementLoop(gctx) })
	g.Go(func() error { return s.reflectionLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Scheduler) cycleLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cycleEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// runOnce executes one scheduled cycle, then signals the settlement loop.
func (s *Scheduler) runOnce(ctx context.Context) {
	d, err := s.orch.RunCycle(ctx, schemas.TriggerScheduled)
	switch {
	case errors.Is(err, safety.ErrOperationInProgress):
		s.logger.Warn("Previous cycle still running, skipping tick")
		return
	case err != nil && ctx.Err() != nil:
		return
	case err != nil:
		s.logger.Error("Cycle failed", zap.Error(err))
	default:
		s.logger.Info("Scheduled cycle finished", zap.String("action", string(d.Action)))
	}

	// Cycles only trigger settlement; the job itself is driven elsewhere.
	select {
	case s.settleKick <- struct{}{}:
	default: // a check is already pending
	}
}

// settlementLoop owns every interaction with the settlement machinery:
// startup recovery first, then one bridge check per kick. Attestation
// polling can outlast several cycle intervals, which is exactly why it runs
// on this goroutine and not the cycle's.
func (s *Scheduler) settlementLoop(ctx context.Context) error {
	// Jobs interrupted by the previous shutdown hold locked value until
	// driven to a terminal state.
	if err := s.bridgeCtl.Resume(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("Bridge resume did not complete cleanly", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.settleKick:
			if err := s.orch.RunBridgeCheck(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Bridge check failed", zap.Error(err))
			}
		}
	}
}

func (s *Scheduler) reflectionLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.reflectEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := s.reflector.Run(ctx)
			if err != nil && ctx.Err() == nil {
				s.logger.Error("Reflection pass failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.logger.Info("Reflection pass complete", zap.Int("decisions", n))
			}
		}
	}
}
