package paper

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMarket() *Market {
	return NewMarket(
		map[string]float64{"USDC": 0.25, "SOL": 0.25, "ETH": 0.25, "BTC": 0.25},
		1_000_000,
		map[string]float64{"USDC": 1_000_000, "SOL": 1_000_000, "ETH": 1_000_000, "BTC": 1_000_000},
	)
}

func TestSnapshotAccruesFees(t *testing.T) {
	t.Parallel()

	m := newTestMarket()
	ctx := context.Background()

	first, err := m.Snapshot(ctx)
	require.NoError(t, err)
	second, err := m.Snapshot(ctx)
	require.NoError(t, err)

	perRead := uint64(1_000_000 * feeAccrualRate * 1_000_000)
	assert.Equal(t, perRead, first.AccruedFees)
	assert.Equal(t, 2*perRead, second.AccruedFees)
	assert.InDelta(t, 0.25, second.Weights["SOL"], 1e-9)
}

func TestSubmitRebalanceAppliesWeights(t *testing.T) {
	t.Parallel()

	m := newTestMarket()
	ctx := context.Background()

	target := map[string]float64{"USDC": 0.20, "SOL": 0.30, "ETH": 0.25, "BTC": 0.25}
	txRef, err := m.SubmitRebalance(ctx, target)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(txRef, "paper:rebalance:"))

	live, err := m.ReadComposition(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.30, live["SOL"], 1e-9)

	// Mutating the submitted map afterwards must not leak into the market.
	target["SOL"] = 0.99
	live, err = m.ReadComposition(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.30, live["SOL"], 1e-9)
}

func TestSubmitRebalanceRejectsBadSum(t *testing.T) {
	t.Parallel()

	m := newTestMarket()
	_, err := m.SubmitRebalance(context.Background(), map[string]float64{"USDC": 0.5, "SOL": 0.4})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights sum")
}

func TestChangeSinceReportsFlatMarket(t *testing.T) {
	t.Parallel()

	m := newTestMarket()
	perToken, nav, err := m.ChangeSince(context.Background(), m.baseline)
	require.NoError(t, err)
	assert.Zero(t, nav)
	require.Len(t, perToken, 4)
	for token, change := range perToken {
		assert.Zerof(t, change, "token %s", token)
	}
}

func TestLockDrainsAccruedFees(t *testing.T) {
	t.Parallel()

	m := newTestMarket()
	c := NewChain(m, 1)
	ctx := context.Background()

	_, err := m.Snapshot(ctx)
	require.NoError(t, err)

	jobID := uuid.New()
	txRef, err := c.Lock(ctx, jobID, 100)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(txRef, "paper:lock:"))

	snap, err := m.Snapshot(ctx)
	require.NoError(t, err)
	perRead := uint64(1_000_000 * feeAccrualRate * 1_000_000)
	assert.Equal(t, perRead, snap.AccruedFees, "fees restart from the drained balance")

	gotRef, ok, err := c.ExistingLock(ctx, jobID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, txRef, gotRef)
}

func TestAttestationReadyAfterConfiguredPolls(t *testing.T) {
	t.Parallel()

	c := NewChain(nil, 3)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, ready, err := c.Attestation(ctx, "msg-1")
		require.NoError(t, err)
		assert.False(t, ready, "poll %d", i+1)
	}

	payload, ready, err := c.Attestation(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, ready)
	assert.Equal(t, "paper:att:msg-1", payload)

	// Other messages keep their own poll counters.
	_, ready, err = c.Attestation(ctx, "msg-2")
	require.NoError(t, err)
	assert.False(t, ready)
}

func TestMintIsObservableAsExisting(t *testing.T) {
	t.Parallel()

	c := NewChain(nil, 1)
	ctx := context.Background()

	_, ok, err := c.ExistingMint(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, ok)

	txRef, err := c.Mint(ctx, "msg-1", "payload")
	require.NoError(t, err)

	gotRef, ok, err := c.ExistingMint(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, txRef, gotRef)
}

func TestCongestionIsLow(t *testing.T) {
	t.Parallel()

	c := NewChain(nil, 1)
	congestion, err := c.Congestion(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.1, congestion, 1e-9)
}
