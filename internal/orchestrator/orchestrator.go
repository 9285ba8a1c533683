// Package orchestrator composes one decision cycle end to end: safety
// checks, analyst fan-out, debate, risk gate, decision maker, execution and
// the persisted audit record. It owns the sequencing contract; every stage
// is a collaborator behind an interface.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/analyst"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/bridge"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/config"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/debate"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/decision"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/risk"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/safety"
)

// degradedFailureThreshold is how many failed producers force a HOLD
// without debate.
const degradedFailureThreshold = 2

// hintWindow is how many recent calibration hints feed the producers.
const hintWindow = 8

// swapCostRate approximates execution cost as a fraction of turned-over
// basket value.
const swapCostRate = 0.003

// CycleStore is the slice of the store one cycle reads and writes.
type CycleStore interface {
	SaveDecision(ctx context.Context, d *schemas.Decision) error
	LatestDecisions(ctx context.Context, limit int) ([]schemas.Decision, error)
	CountRebalancesSince(ctx context.Context, since time.Time) (int, error)
	RecentHints(ctx context.Context, limit int) ([]schemas.CalibrationHint, error)
	LastCompletedBridge(ctx context.Context) (time.Time, error)
}

// Orchestrator wires the pipeline.
type Orchestrator struct {
	cfg       *config.Config
	store     CycleStore
	market    schemas.MarketReader
	basket    schemas.BasketContract
	producers []analyst.Producer
	debater   *debate.Engine
	gate      *risk.Gate
	maker     *decision.Maker
	guards    *safety.System
	bridgeCtl *bridge.Controller
	trigger   *bridge.TriggerPolicy
	notifier  schemas.Notifier
	logger    *zap.Logger
}

// New assembles the orchestrator from its collaborators.
func New(
	cfg *config.Config,
	store CycleStore,
	market schemas.MarketReader,
	basket schemas.BasketContract,
	producers []analyst.Producer,
	debater *debate.Engine,
	gate *risk.Gate,
	maker *decision.Maker,
	guards *safety.System,
	bridgeCtl *bridge.Controller,
	trigger *bridge.TriggerPolicy,
	notifier schemas.Notifier,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		store:     store,
		market:    market,
		basket:    basket,
		producers: producers,
		debater:   debater,
		gate:      gate,
		maker:     maker,
		guards:    guards,
		bridgeCtl: bridgeCtl,
		trigger:   trigger,
		notifier:  notifier,
		logger:    logger.Named("orchestrator"),
	}
}

// RunCycle executes one full decision cycle and returns the persisted
// decision. A concurrent cycle attempt fails fast with
// safety.ErrOperationInProgress rather than queueing.
func (o *Orchestrator) RunCycle(ctx context.Context, trigger schemas.TriggerReason) (*schemas.Decision, error) {
	release, err := o.guards.Idempotency.Acquire("cycle")
	if err != nil {
		return nil, err
	}
	defer release()

	snapshot, err := o.market.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading market snapshot: %w", err)
	}
	o.guards.LossHalt.Observe(snapshot.NAV, time.Now())

	d := &schemas.Decision{
		ID:        uuid.New(),
		Trigger:   trigger,
		NAV:       snapshot.NAV,
		CreatedAt: time.Now().UTC(),
	}

	// Safety halts abort before any analysis and are recorded as skipped,
	// not as errors.
	if reason := o.guards.HaltReason(); reason != "" {
		d.Action = schemas.ActionHold
		d.Status = schemas.ExecutionSkipped
		d.Reason = reason
		o.logger.Warn("Cycle skipped by safety halt", zap.String("reason", reason))
		return d, o.persist(ctx, d)
	}

	hints, err := o.store.RecentHints(ctx, hintWindow)
	if err != nil {
		// Hints are advisory; a cycle runs fine without them.
		o.logger.Warn("Calibration hints unavailable", zap.Error(err))
	}
	history, err := o.store.LatestDecisions(ctx, o.cfg.EngineCfg.HistoryWindow)
	if err != nil {
		o.logger.Warn("Decision history unavailable", zap.Error(err))
	}

	in := analyst.Input{Snapshot: snapshot, Hints: hints, History: history}
	reports := analyst.Gather(ctx, o.producers, in, o.cfg.EngineCfg.ProducerTimeout, o.logger)
	d.Reports = reports

	if failed := analyst.FailedCount(reports); failed >= degradedFailureThreshold {
		d.Action = schemas.ActionHold
		d.Status = schemas.ExecutionNone
		d.Reason = fmt.Sprintf("degraded mode: %d agents failed", failed)
		o.logger.Warn("Degraded mode, holding without debate", zap.Int("failed", failed))
		o.notifier.Alert(schemas.AlertWarning, d.Reason)
		return d, o.persist(ctx, d)
	}

	transcript, err := o.debater.Run(ctx, reports, snapshot)
	if err != nil {
		d.Action = schemas.ActionHold
		d.Status = schemas.ExecutionNone
		d.Reason = fmt.Sprintf("debate did not complete: %v", err)
		if transcript != nil {
			d.Theses = transcript.Theses
		}
		o.logger.Error("Debate failed, holding", zap.Error(err))
		return d, o.persist(ctx, d)
	}
	d.Theses = transcript.Theses

	changeThesis, _ := transcript.Last(schemas.AdvocateForChange)
	holdThesis, _ := transcript.Last(schemas.AdvocateForHold)

	since := time.Now().Add(-24 * time.Hour)
	rebalances24h, err := o.store.CountRebalancesSince(ctx, since)
	if err != nil {
		o.logger.Warn("Rebalance count unavailable, assuming zero", zap.Error(err))
	}

	proposal := risk.Proposal{
		Weights:           changeThesis.ProposedWeights,
		Current:           snapshot.Weights,
		NAV:               snapshot.NAV,
		Liquidity:         snapshot.Liquidity,
		Rolling24hChange:  rollingChange(history, since),
		RebalanceCount24h: rebalances24h,
	}
	verdict := o.gate.Evaluate(ctx, proposal)
	d.Verdict = &verdict

	feeEstimate := risk.AggregateChange(changeThesis.ProposedWeights, snapshot.Weights) * swapCostRate
	outcome, err := o.maker.Decide(ctx, decision.Input{
		ChangeThesis:   changeThesis,
		HoldThesis:     holdThesis,
		Verdict:        verdict,
		Reports:        reports,
		CurrentWeights: snapshot.Weights,
		Hints:          hints,
		History:        history,
		NAV:            snapshot.NAV,
		FeeEstimate:    feeEstimate,
	})
	if err != nil {
		d.Action = schemas.ActionHold
		d.Status = schemas.ExecutionNone
		d.Reason = fmt.Sprintf("decision stage failed: %v", err)
		o.logger.Error("Decision stage failed, holding", zap.Error(err))
		return d, o.persist(ctx, d)
	}

	d.Action = outcome.Action
	d.FinalWeights = outcome.Weights
	d.Confidence = outcome.Confidence
	d.Reason = outcome.Reason
	d.CostEstimate = outcome.CostEstimate

	// The veto contract is enforced here a second time. The maker already
	// honors it; if that ever regressed, executing would be the one
	// unacceptable failure mode.
	if !verdict.Approved && d.Action != schemas.ActionHold {
		o.logger.Error("Vetoed proposal reached execution, forcing HOLD",
			zap.String("action", string(d.Action)))
		d.Action = schemas.ActionHold
		d.FinalWeights = nil
		d.Reason = "risk veto enforced at execution boundary"
	}

	switch d.Action {
	case schemas.ActionRebalance:
		o.execute(ctx, d, snapshot, proposal)
	case schemas.ActionEmergencyExit:
		// A full exit moves everything to the anchor token.
		d.FinalWeights = map[string]float64{o.cfg.RiskCfg.AnchorToken: 1.0}
		o.execute(ctx, d, snapshot, proposal)
	default:
		d.Status = schemas.ExecutionNone
	}

	o.logger.Info("Cycle complete",
		zap.String("decision_id", d.ID.String()),
		zap.String("action", string(d.Action)),
		zap.String("status", string(d.Status)),
		zap.Float64("confidence", d.Confidence),
	)
	return d, o.persist(ctx, d)
}

// execute submits the final weights on chain, re-checking the hard limits
// against the live composition first. Weights can drift between analysis and
// execution; a drift that breaks a limit aborts the submission.
func (o *Orchestrator) execute(ctx context.Context, d *schemas.Decision, snapshot *schemas.BasketSnapshot, proposal risk.Proposal) {
	live, err := o.basket.ReadComposition(ctx)
	if err != nil {
		o.logger.Warn("Live composition unavailable, using snapshot weights", zap.Error(err))
		live = snapshot.Weights
	}

	// Emergency exit bypasses the re-check: it exists precisely for the
	// situations where limits are already broken.
	if d.Action == schemas.ActionRebalance {
		recheck := proposal
		recheck.Weights = d.FinalWeights
		recheck.Current = live
		if violations := o.gate.HardViolations(recheck); len(violations) > 0 {
			d.Action = schemas.ActionHold
			d.Status = schemas.ExecutionNone
			d.Reason = fmt.Sprintf("execution re-check failed: %v", violations)
			d.FinalWeights = nil
			o.logger.Warn("Execution-time re-check aborted rebalance", zap.Strings("violations", violations))
			return
		}
	}

	release, err := o.guards.Idempotency.Acquire("submit:" + d.ID.String())
	if err != nil {
		d.Status = schemas.ExecutionFailed
		d.Reason = err.Error()
		return
	}
	defer release()

	sctx, cancel := context.WithTimeout(ctx, o.cfg.EngineCfg.SubmitTimeout)
	defer cancel()

	d.Status = schemas.ExecutionSubmitted
	txRef, err := o.basket.SubmitRebalance(sctx, d.FinalWeights)
	if err != nil {
		d.Status = schemas.ExecutionFailed
		d.Reason = fmt.Sprintf("submission failed: %v", err)
		o.logger.Error("Rebalance submission failed", zap.Error(err))
		o.notifier.Alert(schemas.AlertCritical, fmt.Sprintf("rebalance submission failed: %v", err))
		return
	}
	d.TxRef = txRef
	d.Status = schemas.ExecutionConfirmed
	o.logger.Info("Rebalance confirmed", zap.String("tx_ref", txRef))
}

func (o *Orchestrator) persist(ctx context.Context, d *schemas.Decision) error {
	if err := o.store.SaveDecision(ctx, d); err != nil {
		// The decision already happened; losing the record is an audit
		// problem, not a reason to undo anything.
		o.logger.Error("Failed to persist decision", zap.String("decision_id", d.ID.String()), zap.Error(err))
		return fmt.Errorf("persisting decision %s: %w", d.ID, err)
	}
	return nil
}

// RunBridgeCheck evaluates the fee-bridging trigger and, when it fires,
// creates and drives a settlement job to completion. It blocks for the whole
// settlement, so the scheduler runs it on the settlement loop rather than the
// cycle loop. Concurrent checks fail fast on the shared idempotency key.
func (o *Orchestrator) RunBridgeCheck(ctx context.Context) error {
	release, err := o.guards.Idempotency.Acquire("bridge")
	if err != nil {
		if errors.Is(err, safety.ErrOperationInProgress) {
			return nil // a job is already being driven
		}
		return err
	}
	defer release()

	if reason := o.guards.HaltReason(); reason != "" {
		o.logger.Info("Bridge check skipped by safety halt", zap.String("reason", reason))
		return nil
	}

	snapshot, err := o.market.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("reading snapshot for bridge check: %w", err)
	}
	lastCompleted, err := o.store.LastCompletedBridge(ctx)
	if err != nil {
		return fmt.Errorf("reading last bridge: %w", err)
	}

	fire, why, err := o.trigger.ShouldTrigger(ctx, snapshot.AccruedFees, lastCompleted)
	if err != nil {
		return err
	}
	if !fire {
		o.logger.Debug("Bridge trigger not met", zap.String("reason", why))
		return nil
	}

	o.logger.Info("Bridge trigger fired", zap.String("reason", why), zap.Uint64("amount_raw", snapshot.AccruedFees))
	job, err := o.bridgeCtl.NewJob(ctx, snapshot.AccruedFees)
	if err != nil {
		return err
	}
	return o.bridgeCtl.Drive(ctx, job)
}

// rollingChange sums the aggregate change of confirmed rebalances newer than
// since, walking the history oldest to newest so each rebalance is compared
// against the weights it actually replaced.
func rollingChange(history []schemas.Decision, since time.Time) float64 {
	// History arrives newest first.
	var prior map[string]float64
	var total float64
	for i := len(history) - 1; i >= 0; i-- {
		d := history[i]
		if d.Action != schemas.ActionRebalance || d.Status != schemas.ExecutionConfirmed {
			continue
		}
		if prior != nil && d.CreatedAt.After(since) {
			total += risk.AggregateChange(d.FinalWeights, prior)
		}
		prior = d.FinalWeights
	}
	return total
}
