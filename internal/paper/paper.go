// Package paper provides in-memory implementations of the market and chain
// collaborators for rehearsal runs: the full pipeline executes against them
// with no credentials and no chain mutation. Production deployments swap in
// real adapters behind the same interfaces.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
)

// feeAccrualRate is the fraction of NAV accrued as fees per snapshot, in
// micro-units. Keeps rehearsal runs eventually crossing the bridge trigger.
const feeAccrualRate = 0.0001

// Market simulates the basket: a MarketReader and BasketContract in one.
type Market struct {
	mu          sync.Mutex
	weights     map[string]float64
	nav         float64
	liquidity   map[string]float64
	accruedFees uint64
	baseline    time.Time
}

// NewMarket seeds the simulated basket.
func NewMarket(weights map[string]float64, nav float64, liquidity map[string]float64) *Market {
	return &Market{
		weights:   cloneWeights(weights),
		nav:       nav,
		liquidity: cloneWeights(liquidity),
		baseline:  time.Now(),
	}
}

// Snapshot returns the current simulated state, accruing a little fee income
// on every read.
func (m *Market) Snapshot(context.Context) (*schemas.BasketSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.accruedFees += uint64(m.nav * feeAccrualRate * 1_000_000)
	return &schemas.BasketSnapshot{
		Weights:     cloneWeights(m.weights),
		NAV:         m.nav,
		Liquidity:   cloneWeights(m.liquidity),
		AccruedFees: m.accruedFees,
		TakenAt:     time.Now().UTC(),
	}, nil
}

// ChangeSince reports a flat market; the paper simulation does not model
// price movement.
func (m *Market) ChangeSince(context.Context, time.Time) (map[string]float64, float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	perToken := make(map[string]float64, len(m.weights))
	for token := range m.weights {
		perToken[token] = 0
	}
	return perToken, 0, nil
}

// ReadComposition returns the live simulated weights.
func (m *Market) ReadComposition(context.Context) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneWeights(m.weights), nil
}

// SubmitRebalance applies the weights immediately and returns a synthetic
// transaction reference.
func (m *Market) SubmitRebalance(_ context.Context, weights map[string]float64) (string, error) {
	if !schemas.WeightsSumToOne(weights) {
		return "", fmt.Errorf("weights sum to %.6f, want 1.0", schemas.SumWeights(weights))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.weights = cloneWeights(weights)
	return "paper:rebalance:" + uuid.NewString(), nil
}

// DrainFees zeroes the accrued fee balance, mirroring what a real bridge
// lock does to the fee account.
func (m *Market) DrainFees() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accruedFees = 0
}

// Chain simulates both sides of the bridge plus the attestation service.
// Attestations become ready after a fixed number of polls so the pending
// state is actually observable.
type Chain struct {
	mu         sync.Mutex
	locks      map[uuid.UUID]string
	mints      map[string]string
	polls      map[string]int
	pollsUntil int
	market     *Market
}

// NewChain creates the simulated chain pair. pollsUntilReady is how many
// attestation polls return not-ready before the payload appears.
func NewChain(market *Market, pollsUntilReady int) *Chain {
	if pollsUntilReady < 1 {
		pollsUntilReady = 1
	}
	return &Chain{
		locks:      make(map[uuid.UUID]string),
		mints:      make(map[string]string),
		polls:      make(map[string]int),
		pollsUntil: pollsUntilReady,
		market:     market,
	}
}

func (c *Chain) ExistingLock(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	txRef, ok := c.locks[jobID]
	return txRef, ok, nil
}

func (c *Chain) Lock(_ context.Context, jobID uuid.UUID, _ uint64) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	txRef := "paper:lock:" + jobID.String()
	c.locks[jobID] = txRef
	if c.market != nil {
		c.market.DrainFees()
	}
	return txRef, nil
}

func (c *Chain) ConfirmLock(_ context.Context, txRef string) (string, error) {
	return "paper:msg:" + txRef, nil
}

func (c *Chain) Congestion(context.Context) (float64, error) {
	return 0.1, nil
}

func (c *Chain) Attestation(_ context.Context, messageHash string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.polls[messageHash]++
	if c.polls[messageHash] < c.pollsUntil {
		return "", false, nil
	}
	return "paper:att:" + messageHash, true, nil
}

func (c *Chain) ExistingMint(_ context.Context, messageHash string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	txRef, ok := c.mints[messageHash]
	return txRef, ok, nil
}

func (c *Chain) Mint(_ context.Context, messageHash, _ string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	txRef := "paper:mint:" + uuid.NewString()
	c.mints[messageHash] = txRef
	return txRef, nil
}

func (c *Chain) DepositReward(_ context.Context, _ uint64) (string, error) {
	return "paper:deposit:" + uuid.NewString(), nil
}

func cloneWeights(m map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
