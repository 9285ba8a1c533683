// Package staking implements the reward distributor: an accumulator-based
// pool where every operation is O(1) in the number of participants. A single
// monotonically non-decreasing reward-per-weighted-stake value, plus a
// per-entry snapshot of it, replaces any per-participant iteration on
// deposit. All mutating operations are serialized behind one mutex;
// read-only views take the read lock.
package staking

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/config"
)

var (
	// ErrNoStake is returned by DepositReward when nothing is staked;
	// rewards with no claimants would be destroyed.
	ErrNoStake = errors.New("deposit requires non-zero total weighted stake")
	// ErrAccumulatorOverflow is fatal to the operation: no partial state is
	// mutated and the caller must alert.
	ErrAccumulatorOverflow = errors.New("reward accumulator overflow")
	// ErrPrincipalOverflow is returned when a stake would push principal
	// past the bound that keeps every weighted-stake multiply in uint64.
	ErrPrincipalOverflow = errors.New("stake principal overflow")
	// ErrInsufficientStake is returned when unstaking more than principal.
	ErrInsufficientStake = errors.New("insufficient staked principal")
	// ErrCooldownActive is returned by CompleteUnstake before the cooldown ends.
	ErrCooldownActive = errors.New("unstake cooldown still active")
	// ErrNothingPending is returned by CompleteUnstake with no initiated unstake.
	ErrNothingPending = errors.New("no pending unstake")
	// ErrUnknownOwner is returned for lookups of never-staked owners.
	ErrUnknownOwner = errors.New("unknown stake owner")
)

// Precision is the fixed-point scale of the accumulator. Division floors:
// sub-unit remainders ("dust") stay unclaimable in the pool by policy.
const Precision = 1_000_000_000_000 // 1e12

// multiplierBase is the denominator of the tier multipliers (100 = 1.0x).
const multiplierBase = 100

// maxAccumulator bounds the accumulator at 2^128-1. Crossing it is a hard
// failure, never a silent wrap.
var maxAccumulator = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))

var precisionInt = big.NewInt(Precision)

// Entry is one participant's stake. Zeroed, not deleted, on full unstake so
// the accumulator snapshot history stays coherent.
type Entry struct {
	Owner          string
	Principal      uint64
	WeightedStake  uint64
	StakeStart     time.Time
	Snapshot       *big.Int
	Unclaimed      uint64
	PendingUnstake uint64
	CooldownEnd    time.Time
}

// Pool is the single shared mutable reward state.
type Pool struct {
	mu sync.RWMutex

	cfg    config.StakingConfig
	logger *zap.Logger

	totalPrincipal uint64
	totalWeighted  uint64
	accumulator    *big.Int
	lastUpdate     time.Time
	entries        map[string]*Entry

	now func() time.Time // overridable in tests
}

// NewPool creates an empty pool.
func NewPool(cfg config.StakingConfig, logger *zap.Logger) *Pool {
	return &Pool{
		cfg:         cfg,
		logger:      logger.Named("staking"),
		accumulator: new(big.Int),
		entries:     make(map[string]*Entry),
		now:         time.Now,
	}
}

// maxPrincipal is the pool-wide principal ceiling. Keeping total principal at
// or under MaxUint64 / LongMultiplier means principal * multiplier cannot
// wrap in reweigh, for any entry and for the pool total alike.
func (p *Pool) maxPrincipal() uint64 {
	return math.MaxUint64 / p.cfg.LongMultiplier
}

// multiplier returns the time-weighted multiplier (basis 100) for a stake
// started at start. Recomputed lazily at each interaction.
func (p *Pool) multiplier(start, now time.Time) uint64 {
	held := now.Sub(start)
	switch {
	case held >= p.cfg.LongTierAfter:
		return p.cfg.LongMultiplier
	case held >= p.cfg.MediumTierAfter:
		return p.cfg.MediumMultiplier
	default:
		return p.cfg.BaseMultiplier
	}
}

// settle moves any reward accrued since the entry's snapshot into Unclaimed,
// using the entry's stored weighted stake (the weight under which the reward
// was earned), then advances the snapshot. Must run before any change to
// principal or weight so reward earned under the old weight is never lost.
func (p *Pool) settle(e *Entry) error {
	diff := new(big.Int).Sub(p.accumulator, e.Snapshot)
	if diff.Sign() == 0 || e.WeightedStake == 0 {
		e.Snapshot = new(big.Int).Set(p.accumulator)
		return nil
	}

	pending := new(big.Int).Mul(new(big.Int).SetUint64(e.WeightedStake), diff)
	pending.Div(pending, precisionInt) // floor

	if !pending.IsUint64() {
		return fmt.Errorf("%w: pending reward for %s exceeds uint64", ErrAccumulatorOverflow, e.Owner)
	}
	settled := pending.Uint64()
	if e.Unclaimed+settled < e.Unclaimed {
		return fmt.Errorf("%w: unclaimed balance for %s would wrap", ErrAccumulatorOverflow, e.Owner)
	}

	e.Unclaimed += settled
	e.Snapshot = new(big.Int).Set(p.accumulator)
	return nil
}

// reweigh recomputes the entry's weighted stake from its current principal
// and multiplier, updating the pool total by the delta rather than a full
// recompute. Call only after settle.
func (p *Pool) reweigh(e *Entry, now time.Time) {
	old := e.WeightedStake
	mult := p.multiplier(e.StakeStart, now)
	e.WeightedStake = e.Principal * mult / multiplierBase

	p.totalWeighted = p.totalWeighted - old + e.WeightedStake
}

// Stake adds principal for owner, settling any pending reward first.
func (p *Pool) Stake(owner string, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("stake amount must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()

	if amount > p.maxPrincipal()-p.totalPrincipal {
		return fmt.Errorf("%w: pool principal capped at %d", ErrPrincipalOverflow, p.maxPrincipal())
	}

	e, ok := p.entries[owner]
	if !ok {
		e = &Entry{
			Owner:      owner,
			StakeStart: now,
			Snapshot:   new(big.Int).Set(p.accumulator),
		}
		p.entries[owner] = e
	}
	if e.Principal == 0 {
		// Re-staking after a full exit restarts the time tier.
		e.StakeStart = now
	}

	if err := p.settle(e); err != nil {
		return err
	}

	e.Principal += amount
	p.totalPrincipal += amount
	p.reweigh(e, now)
	p.lastUpdate = now

	p.logger.Info("Stake recorded",
		zap.String("owner", owner),
		zap.Uint64("amount", amount),
		zap.Uint64("weighted", e.WeightedStake),
	)
	return nil
}

// DepositReward distributes amount across current weighted stake by raising
// the accumulator. Requires a non-empty pool; overflow aborts with no state
// change.
func (p *Pool) DepositReward(amount uint64) error {
	if amount == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.totalWeighted == 0 {
		return ErrNoStake
	}

	inc := new(big.Int).Mul(new(big.Int).SetUint64(amount), precisionInt)
	inc.Div(inc, new(big.Int).SetUint64(p.totalWeighted)) // floor; house keeps dust

	next := new(big.Int).Add(p.accumulator, inc)
	if next.Cmp(maxAccumulator) > 0 {
		return fmt.Errorf("%w: accumulator would exceed 2^128-1", ErrAccumulatorOverflow)
	}

	p.accumulator = next
	p.lastUpdate = p.now()

	p.logger.Info("Reward deposited",
		zap.Uint64("amount", amount),
		zap.Uint64("total_weighted", p.totalWeighted),
	)
	return nil
}

// Claim settles and pays out the caller's accrued reward. Returns the
// amount paid.
func (p *Pool) Claim(owner string) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.entries[owner]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOwner, owner)
	}

	if err := p.settle(e); err != nil {
		return 0, err
	}
	p.reweigh(e, p.now())

	paid := e.Unclaimed
	e.Unclaimed = 0
	p.lastUpdate = p.now()
	return paid, nil
}

// InitiateUnstake settles rewards, moves amount of principal out of the
// weighted pool and starts the cooldown clock.
func (p *Pool) InitiateUnstake(owner string, amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()

	e, ok := p.entries[owner]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOwner, owner)
	}
	if amount == 0 || amount > e.Principal {
		return fmt.Errorf("%w: have %d, want %d", ErrInsufficientStake, e.Principal, amount)
	}

	if err := p.settle(e); err != nil {
		return err
	}

	e.Principal -= amount
	p.totalPrincipal -= amount
	e.PendingUnstake += amount
	e.CooldownEnd = now.Add(p.cfg.UnstakeCooldown)
	p.reweigh(e, now)
	p.lastUpdate = now

	p.logger.Info("Unstake initiated",
		zap.String("owner", owner),
		zap.Uint64("amount", amount),
		zap.Time("cooldown_end", e.CooldownEnd),
	)
	return nil
}

// CompleteUnstake releases cooled-down principal plus any settled reward.
// A full exit zeroes the entry but keeps it, so a later re-stake starts a
// fresh time tier with a clean snapshot.
func (p *Pool) CompleteUnstake(owner string) (principal, reward uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()

	e, ok := p.entries[owner]
	if !ok {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownOwner, owner)
	}
	if e.PendingUnstake == 0 {
		return 0, 0, ErrNothingPending
	}
	if now.Before(e.CooldownEnd) {
		return 0, 0, fmt.Errorf("%w: until %s", ErrCooldownActive, e.CooldownEnd.Format(time.RFC3339))
	}

	if err := p.settle(e); err != nil {
		return 0, 0, err
	}
	p.reweigh(e, now)

	principal = e.PendingUnstake
	e.PendingUnstake = 0
	e.CooldownEnd = time.Time{}

	if e.Principal == 0 {
		reward = e.Unclaimed
		e.Unclaimed = 0
	}

	p.lastUpdate = now
	p.logger.Info("Unstake completed",
		zap.String("owner", owner),
		zap.Uint64("principal", principal),
		zap.Uint64("reward", reward),
	)
	return principal, reward, nil
}

// PendingReward computes the caller's claimable reward without mutating
// anything. O(1) regardless of participant count.
func (p *Pool) PendingReward(owner string) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[owner]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownOwner, owner)
	}

	diff := new(big.Int).Sub(p.accumulator, e.Snapshot)
	pending := new(big.Int).Mul(new(big.Int).SetUint64(e.WeightedStake), diff)
	pending.Div(pending, precisionInt)

	if !pending.IsUint64() || e.Unclaimed+pending.Uint64() < e.Unclaimed {
		return 0, ErrAccumulatorOverflow
	}
	return e.Unclaimed + pending.Uint64(), nil
}

// State returns a read-only snapshot of the pool.
func (p *Pool) State() schemas.PoolState {
	p.mu.RLock()
	defer p.mu.RUnlock()

	participants := 0
	for _, e := range p.entries {
		if e.Principal > 0 || e.PendingUnstake > 0 {
			participants++
		}
	}

	return schemas.PoolState{
		TotalPrincipal:     p.totalPrincipal,
		TotalWeightedStake: p.totalWeighted,
		Accumulator:        p.accumulator.String(),
		Participants:       participants,
		LastUpdate:         p.lastUpdate,
	}
}

// EntryFor returns a read-only snapshot of one participant.
func (p *Pool) EntryFor(owner string) (schemas.EntryState, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	e, ok := p.entries[owner]
	if !ok {
		return schemas.EntryState{}, fmt.Errorf("%w: %s", ErrUnknownOwner, owner)
	}
	return schemas.EntryState{
		Owner:          e.Owner,
		Principal:      e.Principal,
		WeightedStake:  e.WeightedStake,
		StakeStart:     e.StakeStart,
		Snapshot:       e.Snapshot.String(),
		Unclaimed:      e.Unclaimed,
		PendingUnstake: e.PendingUnstake,
		CooldownEnd:    e.CooldownEnd,
	}, nil
}

// CheckInvariant verifies that the pool's total weighted stake equals the
// sum over entries. Used by tests and the status surface.
func (p *Pool) CheckInvariant() error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var sum uint64
	for _, e := range p.entries {
		sum += e.WeightedStake
	}
	if sum != p.totalWeighted {
		return fmt.Errorf("weighted stake invariant broken: pool=%d entries=%d", p.totalWeighted, sum)
	}
	return nil
}
