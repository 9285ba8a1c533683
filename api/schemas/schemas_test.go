package schemas_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
)

func TestWeightsSumToOne(t *testing.T) {
	t.Parallel()

	assert.True(t, schemas.WeightsSumToOne(map[string]float64{"A": 0.5, "B": 0.5}))
	assert.True(t, schemas.WeightsSumToOne(map[string]float64{"A": 0.3333333, "B": 0.3333333, "C": 0.3333334}))
	assert.False(t, schemas.WeightsSumToOne(map[string]float64{"A": 0.5, "B": 0.49}))
	assert.False(t, schemas.WeightsSumToOne(map[string]float64{"A": 1.1}))
	assert.False(t, schemas.WeightsSumToOne(nil), "empty weights never sum to one")
}

func TestReportFailed(t *testing.T) {
	t.Parallel()

	ok := schemas.AnalystReport{Producer: schemas.ProducerMomentum, Signal: schemas.SignalBullish}
	assert.False(t, ok.Failed())

	bad := schemas.AnalystReport{Producer: schemas.ProducerMomentum, Error: "timed out"}
	assert.True(t, bad.Failed())
}

func TestBridgeStateTerminalAndIndex(t *testing.T) {
	t.Parallel()

	assert.True(t, schemas.BridgeDeposited.Terminal())
	assert.True(t, schemas.BridgeFailed.Terminal())
	assert.True(t, schemas.BridgeCancelled.Terminal())
	assert.False(t, schemas.BridgeReady.Terminal())
	assert.False(t, schemas.BridgeAttestationPending.Terminal())

	// The forward path is strictly ordered.
	for i, state := range schemas.BridgeStateOrder {
		assert.Equal(t, i, state.Index())
	}
	assert.Equal(t, -1, schemas.BridgeFailed.Index())
	assert.Equal(t, -1, schemas.BridgeCancelled.Index())
}

func TestResumeStateDerivation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		job  schemas.BridgeJob
		want schemas.BridgeState
	}{
		{"no artifacts", schemas.BridgeJob{}, schemas.BridgeReady},
		{"lock only", schemas.BridgeJob{LockTxRef: "tx1"}, schemas.BridgeSourceLocked},
		{"message hash", schemas.BridgeJob{LockTxRef: "tx1", MessageHash: "m1"}, schemas.BridgeAttestationPending},
		{"attestation", schemas.BridgeJob{LockTxRef: "tx1", MessageHash: "m1", Attestation: "a1"}, schemas.BridgeAttestationReceived},
		{"minted", schemas.BridgeJob{LockTxRef: "tx1", MessageHash: "m1", Attestation: "a1", MintTxRef: "tx2"}, schemas.BridgeDestMinted},
		{"deposited", schemas.BridgeJob{LockTxRef: "tx1", MessageHash: "m1", Attestation: "a1", MintTxRef: "tx2", DepositTxRef: "tx3"}, schemas.BridgeDeposited},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.job.ResumeState())
		})
	}
}
