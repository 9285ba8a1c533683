// Package safety implements the five independent guards consulted before
// any state-mutating action: portfolio limits re-checked at execution time,
// the trailing-loss halt, the transfer limiter, the kill switch and the
// idempotency guard. Halt conditions surface as a distinct skipped outcome,
// not an error, and require an explicit manual clear.
package safety

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/config"
)

var (
	// ErrOperationInProgress is returned when an idempotency lock for the
	// same logical operation is already held.
	ErrOperationInProgress = errors.New("operation already in progress")
	// ErrTransferCeiling is returned when a bridge amount would breach a
	// per-job or rolling-window ceiling.
	ErrTransferCeiling = errors.New("transfer ceiling exceeded")
)

// System bundles the guards behind one consultation surface.
type System struct {
	cfg      config.SafetyConfig
	logger   *zap.Logger
	notifier schemas.Notifier

	KillSwitch  *KillSwitch
	LossHalt    *LossHalt
	Idempotency *IdempotencyGuard
}

// New wires the guard set.
func New(cfg config.SafetyConfig, notifier schemas.Notifier, logger *zap.Logger) *System {
	logger = logger.Named("safety")
	return &System{
		cfg:         cfg,
		logger:      logger,
		notifier:    notifier,
		KillSwitch:  &KillSwitch{},
		LossHalt:    NewLossHalt(cfg.LossHaltThreshold, cfg.LossHaltWindow, notifier, logger),
		Idempotency: NewIdempotencyGuard(cfg.IdempotencyTTL),
	}
}

// HaltReason returns a non-empty reason when the cycle must be skipped.
func (s *System) HaltReason() string {
	if s.KillSwitch.Engaged() {
		return "kill switch engaged"
	}
	if s.LossHalt.Halted() {
		return s.LossHalt.Reason()
	}
	return ""
}

// -- Kill Switch --

// KillSwitch is a single out-of-band boolean that blocks the entire
// orchestrator cycle while set.
type KillSwitch struct {
	mu      sync.Mutex
	engaged bool
}

func (k *KillSwitch) Engage() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.engaged = true
}

func (k *KillSwitch) Disengage() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.engaged = false
}

func (k *KillSwitch) Engaged() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.engaged
}

// -- Loss Halt --

type navSample struct {
	nav float64
	at  time.Time
}

// LossHalt trips when NAV falls more than the threshold fraction within the
// trailing window. Once tripped it stays set until Clear is called by an
// operator; all rebalance and bridge-trigger paths are blocked while set.
type LossHalt struct {
	mu        sync.Mutex
	threshold float64
	window    time.Duration
	samples   []navSample
	halted    bool
	reason    string
	notifier  schemas.Notifier
	logger    *zap.Logger
}

func NewLossHalt(threshold float64, window time.Duration, notifier schemas.Notifier, logger *zap.Logger) *LossHalt {
	return &LossHalt{
		threshold: threshold,
		window:    window,
		notifier:  notifier,
		logger:    logger.Named("loss_halt"),
	}
}

// Observe records a NAV sample and trips the halt if the drop from the
// trailing-window peak exceeds the threshold.
func (l *LossHalt) Observe(nav float64, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.samples = append(l.samples, navSample{nav: nav, at: now})

	// Drop samples older than the window.
	cutoff := now.Add(-l.window)
	for len(l.samples) > 0 && l.samples[0].at.Before(cutoff) {
		l.samples = l.samples[1:]
	}

	if l.halted {
		return
	}

	peak := 0.0
	for _, s := range l.samples {
		if s.nav > peak {
			peak = s.nav
		}
	}
	if peak <= 0 {
		return
	}

	drop := (peak - nav) / peak
	if drop > l.threshold {
		l.halted = true
		l.reason = fmt.Sprintf("loss halt: NAV fell %.1f%% within %s (threshold %.1f%%)",
			drop*100, l.window, l.threshold*100)
		l.logger.Error("Loss halt tripped", zap.Float64("drop", drop), zap.Float64("nav", nav))
		l.notifier.Alert(schemas.AlertCritical, l.reason)
	}
}

func (l *LossHalt) Halted() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.halted
}

func (l *LossHalt) Reason() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reason
}

// Clear resets the halt. Manual operation only.
func (l *LossHalt) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.halted = false
	l.reason = ""
	l.logger.Info("Loss halt cleared by operator")
}

// -- Transfer Limiter --

// TransferAllowed checks a proposed bridge amount against the per-job
// ceiling and the rolling-window ceiling. recent24h is the total already
// bridged in the trailing window, supplied from job history.
func TransferAllowed(cfg config.BridgeConfig, amountRaw, recent24h uint64) error {
	if amountRaw > cfg.PerJobCeiling {
		return fmt.Errorf("%w: amount %d exceeds per-job ceiling %d", ErrTransferCeiling, amountRaw, cfg.PerJobCeiling)
	}
	if recent24h+amountRaw > cfg.RollingWindowLimit {
		return fmt.Errorf("%w: amount %d would push rolling window to %d (limit %d)",
			ErrTransferCeiling, amountRaw, recent24h+amountRaw, cfg.RollingWindowLimit)
	}
	return nil
}

// -- Idempotency Guard --

type heldLock struct {
	expires time.Time
}

// IdempotencyGuard is a short-TTL exclusive lock keyed by operation
// identity. It prevents two concurrent attempts at the same logical
// operation: one cycle, one bridge job, one on-chain submission.
type IdempotencyGuard struct {
	mu    sync.Mutex
	ttl   time.Duration
	locks map[string]heldLock
	now   func() time.Time // overridable in tests
}

func NewIdempotencyGuard(ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &IdempotencyGuard{
		ttl:   ttl,
		locks: make(map[string]heldLock),
		now:   time.Now,
	}
}

// Acquire takes the lock for key, failing fast with ErrOperationInProgress
// if it is already held and unexpired. The returned release function is safe
// to call more than once.
func (g *IdempotencyGuard) Acquire(key string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if held, ok := g.locks[key]; ok && held.expires.After(now) {
		return nil, fmt.Errorf("%w: %s", ErrOperationInProgress, key)
	}
	g.locks[key] = heldLock{expires: now.Add(g.ttl)}

	var once sync.Once
	release := func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			delete(g.locks, key)
		})
	}
	return release, nil
}
