package staking

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/config"
)

func testConfig() config.StakingConfig {
	return config.StakingConfig{
		MediumTierAfter:  7 * 24 * time.Hour,
		LongTierAfter:    30 * 24 * time.Hour,
		BaseMultiplier:   100,
		MediumMultiplier: 125,
		LongMultiplier:   150,
		UnstakeCooldown:  72 * time.Hour,
	}
}

func newTestPool(t *testing.T) (*Pool, *time.Time) {
	t.Helper()
	p := NewPool(testConfig(), zaptest.NewLogger(t))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }
	return p, &now
}

func TestStakeRejectsPrincipalOverflow(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t)
	limit := p.maxPrincipal()

	require.NoError(t, p.Stake("whale", limit))
	require.NoError(t, p.CheckInvariant())

	err := p.Stake("minnow", 1)
	require.ErrorIs(t, err, ErrPrincipalOverflow)

	// The rejected stake left no trace.
	_, err = p.PendingReward("minnow")
	require.ErrorIs(t, err, ErrUnknownOwner)
	assert.Equal(t, limit, p.State().TotalPrincipal)
}

func TestDepositRequiresStake(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t)
	assert.ErrorIs(t, p.DepositReward(100), ErrNoStake)
}

func TestProportionalDistribution(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t)
	require.NoError(t, p.Stake("alice", 300))
	require.NoError(t, p.Stake("bob", 100))

	require.NoError(t, p.DepositReward(400))

	alice, err := p.PendingReward("alice")
	require.NoError(t, err)
	bob, err := p.PendingReward("bob")
	require.NoError(t, err)

	assert.Equal(t, uint64(300), alice)
	assert.Equal(t, uint64(100), bob)
}

func TestClaimPaysOnceAndOnlyAccrued(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t)
	require.NoError(t, p.Stake("alice", 100))
	require.NoError(t, p.DepositReward(50))

	paid, err := p.Claim("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(50), paid)

	paid, err = p.Claim("alice")
	require.NoError(t, err)
	assert.Zero(t, paid, "second claim with no new deposits pays nothing")
}

// Staking after a deposit must not earn any part of that deposit.
func TestLateStakerEarnsNothingRetroactively(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t)
	require.NoError(t, p.Stake("alice", 100))
	require.NoError(t, p.DepositReward(100))

	require.NoError(t, p.Stake("carol", 900))
	carol, err := p.PendingReward("carol")
	require.NoError(t, err)
	assert.Zero(t, carol)

	alice, err := p.PendingReward("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), alice)
}

// The sum of all payouts never exceeds the sum of deposits; floor division
// leaves the dust in the pool.
func TestConservationWithDust(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t)
	require.NoError(t, p.Stake("a", 3))
	require.NoError(t, p.Stake("b", 3))
	require.NoError(t, p.Stake("c", 1))

	var deposited, claimed uint64
	for i := 0; i < 10; i++ {
		require.NoError(t, p.DepositReward(10))
		deposited += 10
	}
	for _, owner := range []string{"a", "b", "c"} {
		paid, err := p.Claim(owner)
		require.NoError(t, err)
		claimed += paid
	}

	assert.LessOrEqual(t, claimed, deposited)
	assert.NoError(t, p.CheckInvariant())
}

func TestTimeMultiplierTiers(t *testing.T) {
	t.Parallel()

	p, now := newTestPool(t)
	require.NoError(t, p.Stake("alice", 1000))

	entry, err := p.EntryFor("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), entry.WeightedStake, "fresh stake is 1.0x")

	// Cross the 7 day tier; weight recomputes at the next interaction.
	*now = now.Add(8 * 24 * time.Hour)
	_, err = p.Claim("alice")
	require.NoError(t, err)
	entry, err = p.EntryFor("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1250), entry.WeightedStake, "7d stake is 1.25x")

	*now = now.Add(30 * 24 * time.Hour)
	_, err = p.Claim("alice")
	require.NoError(t, err)
	entry, err = p.EntryFor("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), entry.WeightedStake, "30d stake is 1.5x")

	assert.NoError(t, p.CheckInvariant())
}

// A weight change must settle pending rewards under the old weight first.
func TestSettleBeforeReweigh(t *testing.T) {
	t.Parallel()

	p, now := newTestPool(t)
	require.NoError(t, p.Stake("alice", 100))
	require.NoError(t, p.Stake("bob", 100))
	require.NoError(t, p.DepositReward(200))

	// Alice crosses a tier before her next interaction. The deposit above
	// was earned at 1.0x parity with bob and must settle at that weight.
	*now = now.Add(8 * 24 * time.Hour)
	require.NoError(t, p.Stake("alice", 1)) // interaction settles, then reweighs
	alice, err := p.PendingReward("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), alice)
}

func TestUnstakeCooldown(t *testing.T) {
	t.Parallel()

	p, now := newTestPool(t)
	require.NoError(t, p.Stake("alice", 500))
	require.NoError(t, p.DepositReward(50))

	require.ErrorIs(t, p.InitiateUnstake("alice", 600), ErrInsufficientStake)
	require.NoError(t, p.InitiateUnstake("alice", 500))

	// Weighted stake drops immediately; pending principal earns nothing.
	entry, err := p.EntryFor("alice")
	require.NoError(t, err)
	assert.Zero(t, entry.WeightedStake)
	assert.Equal(t, uint64(500), entry.PendingUnstake)

	_, _, err = p.CompleteUnstake("alice")
	assert.ErrorIs(t, err, ErrCooldownActive)

	*now = now.Add(73 * time.Hour)
	principal, reward, err := p.CompleteUnstake("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(500), principal)
	assert.Equal(t, uint64(50), reward, "full exit pays out settled rewards")

	_, _, err = p.CompleteUnstake("alice")
	assert.ErrorIs(t, err, ErrNothingPending)
}

func TestRestakeAfterExitResetsTier(t *testing.T) {
	t.Parallel()

	p, now := newTestPool(t)
	require.NoError(t, p.Stake("alice", 100))

	*now = now.Add(40 * 24 * time.Hour)
	require.NoError(t, p.InitiateUnstake("alice", 100))
	*now = now.Add(73 * time.Hour)
	_, _, err := p.CompleteUnstake("alice")
	require.NoError(t, err)

	require.NoError(t, p.Stake("alice", 100))
	entry, err := p.EntryFor("alice")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), entry.WeightedStake, "re-stake starts back at 1.0x")
}

func TestAccumulatorOverflowAborts(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t)
	require.NoError(t, p.Stake("alice", 1))

	// Push the accumulator to the edge of its range.
	p.mu.Lock()
	p.accumulator = new(big.Int).Set(maxAccumulator)
	p.mu.Unlock()

	before := p.State()
	err := p.DepositReward(1)
	require.ErrorIs(t, err, ErrAccumulatorOverflow)

	after := p.State()
	assert.Equal(t, before.Accumulator, after.Accumulator, "failed deposit must not mutate state")
	assert.Equal(t, before.TotalWeightedStake, after.TotalWeightedStake)
}

func TestPoolStateSnapshot(t *testing.T) {
	t.Parallel()

	p, _ := newTestPool(t)
	require.NoError(t, p.Stake("alice", 100))
	require.NoError(t, p.Stake("bob", 200))
	require.NoError(t, p.DepositReward(30))

	st := p.State()
	assert.Equal(t, uint64(300), st.TotalPrincipal)
	assert.Equal(t, uint64(300), st.TotalWeightedStake)
	assert.Equal(t, 2, st.Participants)
	assert.NotEqual(t, "0", st.Accumulator)
}
