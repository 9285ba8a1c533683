package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

func newMockStore(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, zap.NewNop())
	require.NoError(t, err)
	return mockPool, s
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestEnsureSchema(t *testing.T) {
	mockPool, s := newMockStore(t)
	mockPool.ExpectExec("CREATE TABLE IF NOT EXISTS decisions").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveDecision(t *testing.T) {
	mockPool, s := newMockStore(t)

	d := &schemas.Decision{
		ID:           uuid.New(),
		Trigger:      schemas.TriggerScheduled,
		Action:       schemas.ActionRebalance,
		FinalWeights: map[string]float64{"SOL": 1.0},
		Confidence:   0.8,
		Reason:       "momentum",
		CostEstimate: 0.002,
		Verdict:      &schemas.RiskVerdict{Approved: true},
		Status:       schemas.ExecutionConfirmed,
		TxRef:        "tx-1",
		NAV:          1_000_000,
		CreatedAt:    time.Now().UTC(),
	}

	mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO decisions")).
		WithArgs(
			d.ID, string(d.Trigger), string(d.Action), pgxmock.AnyArg(), d.Confidence, d.Reason, d.CostEstimate,
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), string(d.Status), d.TxRef, d.NAV, d.Reflected, d.CreatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.SaveDecision(context.Background(), d))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func decisionColumns() []string {
	return []string{
		"id", "trigger", "action", "final_weights", "confidence", "reason", "cost_estimate",
		"reports", "theses", "verdict", "status", "tx_ref", "nav", "reflected", "created_at",
	}
}

func TestLatestDecisions(t *testing.T) {
	mockPool, s := newMockStore(t)

	id := uuid.New()
	now := time.Now().UTC()
	rows := pgxmock.NewRows(decisionColumns()).AddRow(
		id, "scheduled", "REBALANCE", []byte(`{"SOL": 0.6, "USDC": 0.4}`), 0.8, "momentum", 0.002,
		[]byte("null"), []byte("null"), []byte(`{"approved": true}`), "confirmed", "tx-1", 1_000_000.0, false, now,
	)
	mockPool.ExpectQuery(flexibleSQLMatcher("SELECT id, trigger, action")).
		WithArgs(5).
		WillReturnRows(rows)

	out, err := s.LatestDecisions(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, out, 1)

	d := out[0]
	assert.Equal(t, id, d.ID)
	assert.Equal(t, schemas.ActionRebalance, d.Action)
	assert.InDelta(t, 0.6, d.FinalWeights["SOL"], 1e-9)
	require.NotNil(t, d.Verdict)
	assert.True(t, d.Verdict.Approved)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUnreflectedDecisionsExcludesSkipped(t *testing.T) {
	mockPool, s := newMockStore(t)

	before := time.Now().UTC()
	mockPool.ExpectQuery(flexibleSQLMatcher("WHERE reflected = FALSE AND created_at < $1 AND status <> 'skipped'")).
		WithArgs(before, 20).
		WillReturnRows(pgxmock.NewRows(decisionColumns()))

	out, err := s.UnreflectedDecisions(context.Background(), before, 20)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestMarkReflected(t *testing.T) {
	t.Run("flips the flag", func(t *testing.T) {
		mockPool, s := newMockStore(t)
		id := uuid.New()
		mockPool.ExpectExec(flexibleSQLMatcher("UPDATE decisions SET reflected = TRUE WHERE id = $1;")).
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		require.NoError(t, s.MarkReflected(context.Background(), id))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("unknown id is an error", func(t *testing.T) {
		mockPool, s := newMockStore(t)
		id := uuid.New()
		mockPool.ExpectExec(flexibleSQLMatcher("UPDATE decisions SET reflected = TRUE WHERE id = $1;")).
			WithArgs(id).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		err := s.MarkReflected(context.Background(), id)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})
}

func TestCountRebalancesSince(t *testing.T) {
	mockPool, s := newMockStore(t)

	since := time.Now().UTC().Add(-24 * time.Hour)
	mockPool.ExpectQuery(flexibleSQLMatcher("SELECT COUNT(*) FROM decisions")).
		WithArgs("REBALANCE", "confirmed", since).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := s.CountRebalancesSince(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestCreateJobIsTransactional(t *testing.T) {
	mockPool, s := newMockStore(t)

	now := time.Now().UTC()
	job := &schemas.BridgeJob{
		ID:        uuid.New(),
		AmountRaw: 500,
		State:     schemas.BridgeReady,
		CreatedAt: now,
		UpdatedAt: now,
	}

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO bridge_jobs")).
		WithArgs(job.ID, int64(500), string(schemas.BridgeReady), "", "", "", "", "", "", 0, now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO bridge_events (job_id, state, detail, created_at) VALUES ($1, $2, $3, $4);")).
		WithArgs(job.ID, string(schemas.BridgeReady), "created", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mockPool.ExpectCommit()

	require.NoError(t, s.CreateJob(context.Background(), job))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestUpdateJobRollsBackWhenMissing(t *testing.T) {
	mockPool, s := newMockStore(t)

	job := &schemas.BridgeJob{ID: uuid.New(), State: schemas.BridgeSourceLocked, UpdatedAt: time.Now().UTC()}

	mockPool.ExpectBegin()
	mockPool.ExpectExec(flexibleSQLMatcher("UPDATE bridge_jobs SET")).
		WithArgs(job.ID, string(job.State), "", "", "", "", "", "", 0, job.UpdatedAt).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mockPool.ExpectRollback()

	err := s.UpdateJob(context.Background(), job, "locked")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestPendingJobs(t *testing.T) {
	mockPool, s := newMockStore(t)

	id := uuid.New()
	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{
		"id", "amount_raw", "state", "lock_tx_ref", "message_hash", "attestation",
		"mint_tx_ref", "deposit_tx_ref", "error", "retry_count", "created_at", "updated_at",
	}).AddRow(id, int64(500), "ATTESTATION_PENDING", "tx-lock", "msg-1", "", "", "", "", 1, now, now)

	mockPool.ExpectQuery(flexibleSQLMatcher("FROM bridge_jobs")).
		WithArgs("DEPOSITED", "FAILED", "CANCELLED").
		WillReturnRows(rows)

	out, err := s.PendingJobs(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, id, out[0].ID)
	assert.Equal(t, uint64(500), out[0].AmountRaw)
	assert.Equal(t, schemas.BridgeAttestationPending, out[0].State)
	assert.Equal(t, "msg-1", out[0].MessageHash)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestRecentBridgedTotal(t *testing.T) {
	mockPool, s := newMockStore(t)

	mockPool.ExpectQuery(flexibleSQLMatcher("SELECT COALESCE(SUM(amount_raw), 0) FROM bridge_jobs")).
		WithArgs("DEPOSITED", pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"sum"}).AddRow(int64(1500)))

	total, err := s.RecentBridgedTotal(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500), total)
}

func TestLastCompletedBridge(t *testing.T) {
	t.Run("returns zero time when no job completed", func(t *testing.T) {
		mockPool, s := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher("SELECT updated_at FROM bridge_jobs")).
			WithArgs("DEPOSITED").
			WillReturnError(pgx.ErrNoRows)

		ts, err := s.LastCompletedBridge(context.Background())
		require.NoError(t, err)
		assert.True(t, ts.IsZero())
	})

	t.Run("returns latest completion", func(t *testing.T) {
		mockPool, s := newMockStore(t)
		now := time.Now().UTC()
		mockPool.ExpectQuery(flexibleSQLMatcher("SELECT updated_at FROM bridge_jobs")).
			WithArgs("DEPOSITED").
			WillReturnRows(pgxmock.NewRows([]string{"updated_at"}).AddRow(now))

		ts, err := s.LastCompletedBridge(context.Background())
		require.NoError(t, err)
		assert.Equal(t, now, ts)
	})
}

func TestJobEvents(t *testing.T) {
	mockPool, s := newMockStore(t)

	id := uuid.New()
	now := time.Now().UTC()
	rows := pgxmock.NewRows([]string{"job_id", "state", "detail", "created_at"}).
		AddRow(id, "READY", "created", now).
		AddRow(id, "SOURCE_LOCKED", "locked in tx-1", now.Add(time.Second))

	mockPool.ExpectQuery(flexibleSQLMatcher("FROM bridge_events")).
		WithArgs(id).
		WillReturnRows(rows)

	events, err := s.JobEvents(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, schemas.BridgeReady, events[0].State)
	assert.Equal(t, "locked in tx-1", events[1].Detail)
}

func TestPoolSnapshots(t *testing.T) {
	t.Run("save", func(t *testing.T) {
		mockPool, s := newMockStore(t)
		now := time.Now().UTC()
		ps := schemas.PoolState{
			TotalPrincipal:     1000,
			TotalWeightedStake: 1250,
			Accumulator:        "42000000000000",
			Participants:       3,
			LastUpdate:         now,
		}
		mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO pool_snapshots")).
			WithArgs(int64(1000), int64(1250), ps.Accumulator, 3, now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.SavePoolState(context.Background(), ps))
	})

	t.Run("latest when none exists", func(t *testing.T) {
		mockPool, s := newMockStore(t)
		mockPool.ExpectQuery(flexibleSQLMatcher("FROM pool_snapshots")).
			WillReturnError(pgx.ErrNoRows)

		_, ok, err := s.LatestPoolState(context.Background())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("latest", func(t *testing.T) {
		mockPool, s := newMockStore(t)
		now := time.Now().UTC()
		mockPool.ExpectQuery(flexibleSQLMatcher("FROM pool_snapshots")).
			WillReturnRows(pgxmock.NewRows([]string{
				"total_principal", "total_weighted_stake", "accumulator", "participants", "taken_at",
			}).AddRow(int64(1000), int64(1250), "42", 3, now))

		ps, ok, err := s.LatestPoolState(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint64(1000), ps.TotalPrincipal)
		assert.Equal(t, "42", ps.Accumulator)
	})
}

func TestCalibrationHints(t *testing.T) {
	t.Run("save", func(t *testing.T) {
		mockPool, s := newMockStore(t)
		h := &schemas.CalibrationHint{
			DecisionID:    uuid.New(),
			Notes:         "momentum read the move correctly",
			Scores:        map[schemas.ProducerKind]float64{schemas.ProducerMomentum: 1.0},
			BestProducer:  schemas.ProducerMomentum,
			WorstProducer: schemas.ProducerSentiment,
			CreatedAt:     time.Now().UTC(),
		}
		mockPool.ExpectExec(flexibleSQLMatcher("INSERT INTO calibration_hints")).
			WithArgs(h.DecisionID, h.Notes, pgxmock.AnyArg(), "momentum", "sentiment", h.CreatedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.SaveHint(context.Background(), h))
	})

	t.Run("recent", func(t *testing.T) {
		mockPool, s := newMockStore(t)
		id := uuid.New()
		now := time.Now().UTC()
		mockPool.ExpectQuery(flexibleSQLMatcher("FROM calibration_hints")).
			WithArgs(8).
			WillReturnRows(pgxmock.NewRows([]string{
				"decision_id", "notes", "scores", "best_producer", "worst_producer", "created_at",
			}).AddRow(id, "note", []byte(`{"momentum": 1}`), "momentum", "sentiment", now))

		hints, err := s.RecentHints(context.Background(), 8)
		require.NoError(t, err)
		require.Len(t, hints, 1)
		assert.Equal(t, id, hints[0].DecisionID)
		assert.Equal(t, schemas.ProducerMomentum, hints[0].BestProducer)
		assert.InDelta(t, 1.0, hints[0].Scores[schemas.ProducerMomentum], 1e-9)
	})
}
