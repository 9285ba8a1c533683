// Package bridge drives the non-atomic cross-chain settlement pipeline. Each
// job is a persisted state machine: one handler per state, every transition
// written to the store together with the artifact the step produced, so a
// crash at any point resumes from the last durable fact rather than from
// scratch. All chain steps are check-before-act and safe to re-run.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/config"
)

var (
	// ErrAttestationTimeout marks a job that waited out the full attestation
	// window without a signed payload.
	ErrAttestationTimeout = errors.New("attestation timed out")
	// ErrCancelAfterLock is returned when cancellation is requested after
	// value has already been locked on the source chain.
	ErrCancelAfterLock = errors.New("cannot cancel a job with locked funds")
	// ErrJobTerminal is returned when driving or cancelling a finished job.
	ErrJobTerminal = errors.New("job is in a terminal state")
)

// JobStore persists jobs and their transition history. UpdateJob must write
// the job row and the transition event atomically.
type JobStore interface {
	CreateJob(ctx context.Context, job *schemas.BridgeJob) error
	UpdateJob(ctx context.Context, job *schemas.BridgeJob, detail string) error
	PendingJobs(ctx context.Context) ([]*schemas.BridgeJob, error)
}

// RewardSink credits bridged value to the local reward distributor once the
// on-chain deposit confirms.
type RewardSink interface {
	DepositReward(amount uint64) error
}

// stepResult is what a handler hands back: the next state plus the event
// detail persisted with the transition.
type stepResult struct {
	next   schemas.BridgeState
	detail string
}

type stepFunc func(ctx context.Context, job *schemas.BridgeJob) (stepResult, error)

// Controller owns every in-flight bridge job.
type Controller struct {
	cfg      config.BridgeConfig
	store    JobStore
	source   schemas.SourceChain
	attestor schemas.Attestor
	dest     schemas.DestChain
	rewards  RewardSink
	notifier schemas.Notifier
	logger   *zap.Logger

	handlers map[schemas.BridgeState]stepFunc
}

// NewController wires the settlement pipeline.
func NewController(
	cfg config.BridgeConfig,
	store JobStore,
	source schemas.SourceChain,
	attestor schemas.Attestor,
	dest schemas.DestChain,
	rewards RewardSink,
	notifier schemas.Notifier,
	logger *zap.Logger,
) *Controller {
	c := &Controller{
		cfg:      cfg,
		store:    store,
		source:   source,
		attestor: attestor,
		dest:     dest,
		rewards:  rewards,
		notifier: notifier,
		logger:   logger.Named("bridge"),
	}
	c.handlers = map[schemas.BridgeState]stepFunc{
		schemas.BridgeReady:               c.stepLock,
		schemas.BridgeSourceLocked:        c.stepConfirmLock,
		schemas.BridgeSourceConfirmed:     c.stepBeginAttestation,
		schemas.BridgeAttestationPending:  c.stepPollAttestation,
		schemas.BridgeAttestationReceived: c.stepMint,
		schemas.BridgeDestMinted:          c.stepDeposit,
	}
	return c
}

// NewJob creates and persists a READY job for amountRaw micro-units.
func (c *Controller) NewJob(ctx context.Context, amountRaw uint64) (*schemas.BridgeJob, error) {
	now := time.Now().UTC()
	job := &schemas.BridgeJob{
		ID:        uuid.New(),
		AmountRaw: amountRaw,
		State:     schemas.BridgeReady,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := c.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating bridge job: %w", err)
	}
	c.logger.Info("Bridge job created",
		zap.String("job_id", job.ID.String()),
		zap.Uint64("amount_raw", amountRaw),
		zap.Bool("dry_run", c.cfg.DryRun),
	)
	return job, nil
}

// Drive advances job until a terminal state or context cancellation. Each
// step retries with exponential backoff up to the per-step limit; exhaustion
// moves the job to FAILED with the error persisted for the operator.
func (c *Controller) Drive(ctx context.Context, job *schemas.BridgeJob) error {
	for !job.State.Terminal() {
		if err := ctx.Err(); err != nil {
			return err
		}

		handler, ok := c.handlers[job.State]
		if !ok {
			return fmt.Errorf("no handler for state %s", job.State)
		}

		res, err := c.runWithRetry(ctx, job, handler)
		if err != nil {
			return c.fail(ctx, job, err)
		}

		job.State = res.next
		job.RetryCount = 0 // retry budget is per step
		job.UpdatedAt = time.Now().UTC()
		if err := c.store.UpdateJob(ctx, job, res.detail); err != nil {
			return fmt.Errorf("persisting transition to %s: %w", res.next, err)
		}
		c.logger.Info("Bridge job advanced",
			zap.String("job_id", job.ID.String()),
			zap.String("state", string(job.State)),
			zap.String("detail", res.detail),
		)
	}
	return nil
}

// runWithRetry executes one step with exponential backoff. Context errors
// and attestation timeout are permanent; everything else retries up to the
// configured per-step limit.
func (c *Controller) runWithRetry(ctx context.Context, job *schemas.BridgeJob, step stepFunc) (stepResult, error) {
	var res stepResult

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryBaseDelay
	policy := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(c.cfg.MaxRetriesPerStep)), ctx)

	op := func() error {
		r, err := step(ctx, job)
		if err != nil {
			if errors.Is(err, ErrAttestationTimeout) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		res = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		job.RetryCount++
		c.logger.Warn("Bridge step failed, retrying",
			zap.String("job_id", job.ID.String()),
			zap.String("state", string(job.State)),
			zap.Int("retry", job.RetryCount),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return stepResult{}, err
	}
	return res, nil
}

// fail moves the job to the absorbing FAILED state and alerts. Locked funds
// stay recoverable: the job record keeps every artifact produced so far.
func (c *Controller) fail(ctx context.Context, job *schemas.BridgeJob, cause error) error {
	job.State = schemas.BridgeFailed
	job.Error = cause.Error()
	job.UpdatedAt = time.Now().UTC()
	if err := c.store.UpdateJob(ctx, job, "step exhausted retries: "+cause.Error()); err != nil {
		c.logger.Error("Failed to persist FAILED state", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	c.logger.Error("Bridge job failed",
		zap.String("job_id", job.ID.String()),
		zap.Error(cause),
	)
	c.notifier.Alert(schemas.AlertCritical,
		fmt.Sprintf("bridge job %s failed: %v", job.ID, cause))
	return fmt.Errorf("bridge job %s: %w", job.ID, cause)
}

// Cancel moves a job to CANCELLED. Only allowed before any value has been
// locked on the source chain; after that the safe exits are forward or FAILED.
func (c *Controller) Cancel(ctx context.Context, job *schemas.BridgeJob, reason string) error {
	if job.State.Terminal() {
		return fmt.Errorf("%w: %s", ErrJobTerminal, job.State)
	}
	if job.LockTxRef != "" {
		return ErrCancelAfterLock
	}
	job.State = schemas.BridgeCancelled
	job.Error = reason
	job.UpdatedAt = time.Now().UTC()
	if err := c.store.UpdateJob(ctx, job, "cancelled: "+reason); err != nil {
		return fmt.Errorf("persisting cancellation: %w", err)
	}
	c.logger.Info("Bridge job cancelled", zap.String("job_id", job.ID.String()), zap.String("reason", reason))
	return nil
}

// Resume picks up every non-terminal job, re-derives its state from the
// artifacts on record and drives it to completion. Called once at startup.
func (c *Controller) Resume(ctx context.Context) error {
	jobs, err := c.store.PendingJobs(ctx)
	if err != nil {
		return fmt.Errorf("loading pending jobs: %w", err)
	}

	for _, job := range jobs {
		derived := job.ResumeState()
		if derived != job.State {
			c.logger.Info("Resuming job from artifact-derived state",
				zap.String("job_id", job.ID.String()),
				zap.String("stored", string(job.State)),
				zap.String("derived", string(derived)),
			)
			job.State = derived
			job.UpdatedAt = time.Now().UTC()
			if err := c.store.UpdateJob(ctx, job, "resumed from artifacts"); err != nil {
				return fmt.Errorf("persisting resume of %s: %w", job.ID, err)
			}
		}
		if err := c.Drive(ctx, job); err != nil {
			if ctx.Err() != nil {
				return err
			}
			// A single stuck job must not block the rest of the queue.
			c.logger.Error("Resumed job did not complete", zap.String("job_id", job.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// -- Step handlers --

// stepLock locks funds on the source chain. Checks for an existing lock
// first so a replay after a crash never double-spends.
func (c *Controller) stepLock(ctx context.Context, job *schemas.BridgeJob) (stepResult, error) {
	if c.cfg.DryRun {
		job.LockTxRef = "dry-run:lock:" + job.ID.String()
		return stepResult{next: schemas.BridgeSourceLocked, detail: "dry-run lock"}, nil
	}

	if txRef, ok, err := c.source.ExistingLock(ctx, job.ID); err != nil {
		return stepResult{}, fmt.Errorf("checking existing lock: %w", err)
	} else if ok {
		job.LockTxRef = txRef
		return stepResult{next: schemas.BridgeSourceLocked, detail: "found existing lock " + txRef}, nil
	}

	txRef, err := c.source.Lock(ctx, job.ID, job.AmountRaw)
	if err != nil {
		return stepResult{}, fmt.Errorf("locking %d on source: %w", job.AmountRaw, err)
	}
	job.LockTxRef = txRef
	return stepResult{next: schemas.BridgeSourceLocked, detail: "locked in " + txRef}, nil
}

// stepConfirmLock waits for the lock transaction to finalize and extracts
// the bridge message hash.
func (c *Controller) stepConfirmLock(ctx context.Context, job *schemas.BridgeJob) (stepResult, error) {
	if c.cfg.DryRun {
		job.MessageHash = "dry-run:msg:" + job.ID.String()
		return stepResult{next: schemas.BridgeSourceConfirmed, detail: "dry-run confirm"}, nil
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	messageHash, err := c.source.ConfirmLock(cctx, job.LockTxRef)
	if err != nil {
		return stepResult{}, fmt.Errorf("confirming lock %s: %w", job.LockTxRef, err)
	}
	job.MessageHash = messageHash
	return stepResult{next: schemas.BridgeSourceConfirmed, detail: "message " + messageHash}, nil
}

// stepBeginAttestation is a pure bookkeeping transition: the message hash is
// on record, polling starts.
func (c *Controller) stepBeginAttestation(_ context.Context, _ *schemas.BridgeJob) (stepResult, error) {
	return stepResult{next: schemas.BridgeAttestationPending, detail: "awaiting attestation"}, nil
}

// stepPollAttestation polls the attestation service at the configured
// interval until the signed payload arrives or the window closes. The
// timeout is permanent: the operator decides whether to retry the job.
func (c *Controller) stepPollAttestation(ctx context.Context, job *schemas.BridgeJob) (stepResult, error) {
	if c.cfg.DryRun {
		job.Attestation = "dry-run:att:" + job.ID.String()
		return stepResult{next: schemas.BridgeAttestationReceived, detail: "dry-run attestation"}, nil
	}

	pctx, cancel := context.WithTimeout(ctx, c.cfg.AttestationTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(c.cfg.AttestationPollInterval), 1)
	for {
		if err := limiter.Wait(pctx); err != nil {
			if pctx.Err() != nil && ctx.Err() == nil {
				return stepResult{}, fmt.Errorf("%w: message %s after %s",
					ErrAttestationTimeout, job.MessageHash, c.cfg.AttestationTimeout)
			}
			return stepResult{}, err
		}

		payload, ready, err := c.attestor.Attestation(pctx, job.MessageHash)
		if err != nil {
			c.logger.Warn("Attestation poll errored",
				zap.String("job_id", job.ID.String()),
				zap.Error(err),
			)
			continue // transient; the window bounds us
		}
		if !ready {
			continue
		}

		job.Attestation = payload
		return stepResult{next: schemas.BridgeAttestationReceived, detail: "attestation received"}, nil
	}
}

// stepMint submits the attested message on the destination chain,
// check-before-act like the lock.
func (c *Controller) stepMint(ctx context.Context, job *schemas.BridgeJob) (stepResult, error) {
	if c.cfg.DryRun {
		job.MintTxRef = "dry-run:mint:" + job.ID.String()
		return stepResult{next: schemas.BridgeDestMinted, detail: "dry-run mint"}, nil
	}

	if txRef, ok, err := c.dest.ExistingMint(ctx, job.MessageHash); err != nil {
		return stepResult{}, fmt.Errorf("checking existing mint: %w", err)
	} else if ok {
		job.MintTxRef = txRef
		return stepResult{next: schemas.BridgeDestMinted, detail: "found existing mint " + txRef}, nil
	}

	txRef, err := c.dest.Mint(ctx, job.MessageHash, job.Attestation)
	if err != nil {
		return stepResult{}, fmt.Errorf("minting message %s: %w", job.MessageHash, err)
	}
	job.MintTxRef = txRef
	return stepResult{next: schemas.BridgeDestMinted, detail: "minted in " + txRef}, nil
}

// stepDeposit moves the minted value into the reward account and credits the
// local distributor, completing the job.
func (c *Controller) stepDeposit(ctx context.Context, job *schemas.BridgeJob) (stepResult, error) {
	if c.cfg.DryRun {
		job.DepositTxRef = "dry-run:deposit:" + job.ID.String()
		return stepResult{next: schemas.BridgeDeposited, detail: "dry-run deposit"}, nil
	}

	txRef, err := c.dest.DepositReward(ctx, job.AmountRaw)
	if err != nil {
		return stepResult{}, fmt.Errorf("depositing reward: %w", err)
	}
	job.DepositTxRef = txRef

	if err := c.rewards.DepositReward(job.AmountRaw); err != nil {
		// The on-chain deposit succeeded; a local accounting failure is an
		// operator problem, not a reason to re-run the chain step.
		c.logger.Error("Local reward credit failed after on-chain deposit",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
		c.notifier.Alert(schemas.AlertWarning,
			fmt.Sprintf("bridge job %s: on-chain deposit %s confirmed but local reward credit failed: %v", job.ID, txRef, err))
	}

	return stepResult{next: schemas.BridgeDeposited, detail: "deposited in " + txRef}, nil
}
