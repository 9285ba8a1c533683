// Package store is the PostgreSQL persistence layer: the append-only
// decision log with its audit trail, bridge jobs with their transition
// events, and calibration hints. The audit trail columns are JSONB so a
// decision's full "why" is reconstructable from a single row.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store provides the PostgreSQL implementation of the persistence surface.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the tables if they do not exist. Idempotent; run at
// startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	const ddl = `
        CREATE TABLE IF NOT EXISTS decisions (
            id            UUID PRIMARY KEY,
            trigger       TEXT NOT NULL,
            action        TEXT NOT NULL,
            final_weights JSONB,
            confidence    DOUBLE PRECISION NOT NULL,
            reason        TEXT NOT NULL DEFAULT '',
            cost_estimate DOUBLE PRECISION NOT NULL DEFAULT 0,
            reports       JSONB,
            theses        JSONB,
            verdict       JSONB,
            status        TEXT NOT NULL,
            tx_ref        TEXT NOT NULL DEFAULT '',
            nav           DOUBLE PRECISION NOT NULL,
            reflected     BOOLEAN NOT NULL DEFAULT FALSE,
            created_at    TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_decisions_created ON decisions (created_at DESC);

        CREATE TABLE IF NOT EXISTS bridge_jobs (
            id             UUID PRIMARY KEY,
            amount_raw     BIGINT NOT NULL,
            state          TEXT NOT NULL,
            lock_tx_ref    TEXT NOT NULL DEFAULT '',
            message_hash   TEXT NOT NULL DEFAULT '',
            attestation    TEXT NOT NULL DEFAULT '',
            mint_tx_ref    TEXT NOT NULL DEFAULT '',
            deposit_tx_ref TEXT NOT NULL DEFAULT '',
            error          TEXT NOT NULL DEFAULT '',
            retry_count    INT NOT NULL DEFAULT 0,
            created_at     TIMESTAMPTZ NOT NULL,
            updated_at     TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_bridge_jobs_state ON bridge_jobs (state);

        CREATE TABLE IF NOT EXISTS bridge_events (
            job_id     UUID NOT NULL REFERENCES bridge_jobs (id),
            state      TEXT NOT NULL,
            detail     TEXT NOT NULL DEFAULT '',
            created_at TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_bridge_events_job ON bridge_events (job_id, created_at);

        CREATE TABLE IF NOT EXISTS pool_snapshots (
            total_principal      BIGINT NOT NULL,
            total_weighted_stake BIGINT NOT NULL,
            accumulator          TEXT NOT NULL,
            participants         INT NOT NULL,
            taken_at             TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_pool_snapshots_taken ON pool_snapshots (taken_at DESC);

        CREATE TABLE IF NOT EXISTS calibration_hints (
            decision_id    UUID NOT NULL REFERENCES decisions (id),
            notes          TEXT NOT NULL DEFAULT '',
            scores         JSONB,
            best_producer  TEXT NOT NULL DEFAULT '',
            worst_producer TEXT NOT NULL DEFAULT '',
            created_at     TIMESTAMPTZ NOT NULL
        );
        CREATE INDEX IF NOT EXISTS idx_hints_created ON calibration_hints (created_at DESC);
    `
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// -- Decisions --

// SaveDecision appends one decision with its full audit trail.
func (s *Store) SaveDecision(ctx context.Context, d *schemas.Decision) error {
	weights, err := json.Marshal(d.FinalWeights)
	if err != nil {
		return fmt.Errorf("failed to marshal final weights: %w", err)
	}
	reports, err := json.Marshal(d.Reports)
	if err != nil {
		return fmt.Errorf("failed to marshal reports: %w", err)
	}
	theses, err := json.Marshal(d.Theses)
	if err != nil {
		return fmt.Errorf("failed to marshal theses: %w", err)
	}
	var verdict []byte
	if d.Verdict != nil {
		if verdict, err = json.Marshal(d.Verdict); err != nil {
			return fmt.Errorf("failed to marshal verdict: %w", err)
		}
	}

	const sql = `
        INSERT INTO decisions
            (id, trigger, action, final_weights, confidence, reason, cost_estimate,
             reports, theses, verdict, status, tx_ref, nav, reflected, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15);
    `
	_, err = s.pool.Exec(ctx, sql,
		d.ID, string(d.Trigger), string(d.Action), weights, d.Confidence, d.Reason, d.CostEstimate,
		reports, theses, verdict, string(d.Status), d.TxRef, d.NAV, d.Reflected, d.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert decision: %w", err)
	}
	return nil
}

// LatestDecisions returns up to limit decisions, newest first.
func (s *Store) LatestDecisions(ctx context.Context, limit int) ([]schemas.Decision, error) {
	const sql = `
        SELECT id, trigger, action, final_weights, confidence, reason, cost_estimate,
               reports, theses, verdict, status, tx_ref, nav, reflected, created_at
        FROM decisions
        ORDER BY created_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// UnreflectedDecisions returns decisions older than before that the
// reflection engine has not processed yet, oldest first.
func (s *Store) UnreflectedDecisions(ctx context.Context, before time.Time, limit int) ([]schemas.Decision, error) {
	const sql = `
        SELECT id, trigger, action, final_weights, confidence, reason, cost_estimate,
               reports, theses, verdict, status, tx_ref, nav, reflected, created_at
        FROM decisions
        WHERE reflected = FALSE AND created_at < $1 AND status <> 'skipped'
        ORDER BY created_at ASC
        LIMIT $2;
    `
	rows, err := s.pool.Query(ctx, sql, before.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unreflected decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// MarkReflected flips the reflected flag on one decision.
func (s *Store) MarkReflected(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE decisions SET reflected = TRUE WHERE id = $1;`, id)
	if err != nil {
		return fmt.Errorf("failed to mark decision reflected: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("decision %s not found", id)
	}
	return nil
}

// CountRebalancesSince counts confirmed rebalance executions after since,
// feeding the rolling-frequency risk input.
func (s *Store) CountRebalancesSince(ctx context.Context, since time.Time) (int, error) {
	const sql = `
        SELECT COUNT(*) FROM decisions
        WHERE action = $1 AND status = $2 AND created_at >= $3;
    `
	var n int
	err := s.pool.QueryRow(ctx, sql, string(schemas.ActionRebalance), string(schemas.ExecutionConfirmed), since.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count rebalances: %w", err)
	}
	return n, nil
}

func scanDecisions(rows pgx.Rows) ([]schemas.Decision, error) {
	var out []schemas.Decision
	for rows.Next() {
		var (
			d                                 schemas.Decision
			trigger, action, status           string
			weights, reports, theses, verdict []byte
		)
		if err := rows.Scan(
			&d.ID, &trigger, &action, &weights, &d.Confidence, &d.Reason, &d.CostEstimate,
			&reports, &theses, &verdict, &status, &d.TxRef, &d.NAV, &d.Reflected, &d.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}

		d.Trigger = schemas.TriggerReason(trigger)
		d.Action = schemas.Action(action)
		d.Status = schemas.ExecutionStatus(status)

		if len(weights) > 0 && string(weights) != "null" {
			if err := json.Unmarshal(weights, &d.FinalWeights); err != nil {
				return nil, fmt.Errorf("failed to unmarshal final weights: %w", err)
			}
		}
		if len(reports) > 0 && string(reports) != "null" {
			if err := json.Unmarshal(reports, &d.Reports); err != nil {
				return nil, fmt.Errorf("failed to unmarshal reports: %w", err)
			}
		}
		if len(theses) > 0 && string(theses) != "null" {
			if err := json.Unmarshal(theses, &d.Theses); err != nil {
				return nil, fmt.Errorf("failed to unmarshal theses: %w", err)
			}
		}
		if len(verdict) > 0 && string(verdict) != "null" {
			d.Verdict = &schemas.RiskVerdict{}
			if err := json.Unmarshal(verdict, d.Verdict); err != nil {
				return nil, fmt.Errorf("failed to unmarshal verdict: %w", err)
			}
		}

		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during decision row iteration: %w", err)
	}
	return out, nil
}

// -- Bridge jobs --

// CreateJob inserts a new job and its initial event in one transaction.
func (s *Store) CreateJob(ctx context.Context, job *schemas.BridgeJob) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	const sql = `
        INSERT INTO bridge_jobs
            (id, amount_raw, state, lock_tx_ref, message_hash, attestation,
             mint_tx_ref, deposit_tx_ref, error, retry_count, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
    `
	if _, err := tx.Exec(ctx, sql,
		job.ID, int64(job.AmountRaw), string(job.State),
		job.LockTxRef, job.MessageHash, job.Attestation, job.MintTxRef, job.DepositTxRef,
		job.Error, job.RetryCount, job.CreatedAt.UTC(), job.UpdatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert bridge job: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO bridge_events (job_id, state, detail, created_at) VALUES ($1, $2, $3, $4);`,
		job.ID, string(job.State), "created", time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert bridge event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpdateJob persists the job's current state and artifacts together with the
// transition event, atomically. The controller relies on this atomicity for
// crash recovery.
func (s *Store) UpdateJob(ctx context.Context, job *schemas.BridgeJob, detail string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	const sql = `
        UPDATE bridge_jobs SET
            state = $2, lock_tx_ref = $3, message_hash = $4, attestation = $5,
            mint_tx_ref = $6, deposit_tx_ref = $7, error = $8, retry_count = $9,
            updated_at = $10
        WHERE id = $1;
    `
	tag, err := tx.Exec(ctx, sql,
		job.ID, string(job.State),
		job.LockTxRef, job.MessageHash, job.Attestation, job.MintTxRef, job.DepositTxRef,
		job.Error, job.RetryCount, job.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update bridge job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("bridge job %s not found", job.ID)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO bridge_events (job_id, state, detail, created_at) VALUES ($1, $2, $3, $4);`,
		job.ID, string(job.State), detail, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert bridge event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// PendingJobs returns every non-terminal job, oldest first.
func (s *Store) PendingJobs(ctx context.Context) ([]*schemas.BridgeJob, error) {
	const sql = `
        SELECT id, amount_raw, state, lock_tx_ref, message_hash, attestation,
               mint_tx_ref, deposit_tx_ref, error, retry_count, created_at, updated_at
        FROM bridge_jobs
        WHERE state NOT IN ($1, $2, $3)
        ORDER BY created_at ASC;
    `
	rows, err := s.pool.Query(ctx, sql,
		string(schemas.BridgeDeposited), string(schemas.BridgeFailed), string(schemas.BridgeCancelled))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending jobs: %w", err)
	}
	defer rows.Close()

	var out []*schemas.BridgeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during job row iteration: %w", err)
	}
	return out, nil
}

// RecentBridgedTotal sums deposited amounts inside the trailing window,
// feeding the rolling transfer ceiling.
func (s *Store) RecentBridgedTotal(ctx context.Context, window time.Duration) (uint64, error) {
	const sql = `
        SELECT COALESCE(SUM(amount_raw), 0) FROM bridge_jobs
        WHERE state = $1 AND updated_at >= $2;
    `
	var total int64
	cutoff := time.Now().UTC().Add(-window)
	if err := s.pool.QueryRow(ctx, sql, string(schemas.BridgeDeposited), cutoff).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum bridged total: %w", err)
	}
	return uint64(total), nil
}

// LastCompletedBridge returns the completion time of the most recent
// deposited job, or the zero time when none exists.
func (s *Store) LastCompletedBridge(ctx context.Context) (time.Time, error) {
	const sql = `
        SELECT updated_at FROM bridge_jobs
        WHERE state = $1
        ORDER BY updated_at DESC
        LIMIT 1;
    `
	var t time.Time
	err := s.pool.QueryRow(ctx, sql, string(schemas.BridgeDeposited)).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last bridge: %w", err)
	}
	return t, nil
}

// JobEvents returns the transition history of one job, oldest first.
func (s *Store) JobEvents(ctx context.Context, jobID uuid.UUID) ([]schemas.BridgeEvent, error) {
	const sql = `
        SELECT job_id, state, detail, created_at FROM bridge_events
        WHERE job_id = $1
        ORDER BY created_at ASC;
    `
	rows, err := s.pool.Query(ctx, sql, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query bridge events: %w", err)
	}
	defer rows.Close()

	var out []schemas.BridgeEvent
	for rows.Next() {
		var (
			e     schemas.BridgeEvent
			state string
		)
		if err := rows.Scan(&e.JobID, &state, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bridge event: %w", err)
		}
		e.State = schemas.BridgeState(state)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during event row iteration: %w", err)
	}
	return out, nil
}

func scanJob(rows pgx.Rows) (*schemas.BridgeJob, error) {
	var (
		job    schemas.BridgeJob
		state  string
		amount int64
	)
	if err := rows.Scan(
		&job.ID, &amount, &state,
		&job.LockTxRef, &job.MessageHash, &job.Attestation, &job.MintTxRef, &job.DepositTxRef,
		&job.Error, &job.RetryCount, &job.CreatedAt, &job.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan bridge job row: %w", err)
	}
	job.AmountRaw = uint64(amount)
	job.State = schemas.BridgeState(state)
	return &job, nil
}

// -- Pool snapshots --

// SavePoolState appends a reward-pool snapshot. Taken after every reward
// deposit so the query surface can show pool state without asking the
// in-process distributor.
func (s *Store) SavePoolState(ctx context.Context, ps schemas.PoolState) error {
	const sql = `
        INSERT INTO pool_snapshots (total_principal, total_weighted_stake, accumulator, participants, taken_at)
        VALUES ($1, $2, $3, $4, $5);
    `
	if _, err := s.pool.Exec(ctx, sql,
		int64(ps.TotalPrincipal), int64(ps.TotalWeightedStake), ps.Accumulator, ps.Participants, ps.LastUpdate.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert pool snapshot: %w", err)
	}
	return nil
}

// LatestPoolState returns the newest pool snapshot, or false when none has
// been taken yet.
func (s *Store) LatestPoolState(ctx context.Context) (schemas.PoolState, bool, error) {
	const sql = `
        SELECT total_principal, total_weighted_stake, accumulator, participants, taken_at
        FROM pool_snapshots
        ORDER BY taken_at DESC
        LIMIT 1;
    `
	var (
		ps                  schemas.PoolState
		principal, weighted int64
	)
	err := s.pool.QueryRow(ctx, sql).Scan(&principal, &weighted, &ps.Accumulator, &ps.Participants, &ps.LastUpdate)
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.PoolState{}, false, nil
	}
	if err != nil {
		return schemas.PoolState{}, false, fmt.Errorf("failed to query pool snapshot: %w", err)
	}
	ps.TotalPrincipal = uint64(principal)
	ps.TotalWeightedStake = uint64(weighted)
	return ps, true, nil
}

// -- Calibration hints --

// SaveHint appends one calibration hint.
func (s *Store) SaveHint(ctx context.Context, h *schemas.CalibrationHint) error {
	scores, err := json.Marshal(h.Scores)
	if err != nil {
		return fmt.Errorf("failed to marshal hint scores: %w", err)
	}

	const sql = `
        INSERT INTO calibration_hints (decision_id, notes, scores, best_producer, worst_producer, created_at)
        VALUES ($1, $2, $3, $4, $5, $6);
    `
	if _, err := s.pool.Exec(ctx, sql,
		h.DecisionID, h.Notes, scores, string(h.BestProducer), string(h.WorstProducer), h.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert calibration hint: %w", err)
	}
	return nil
}

// RecentHints returns up to limit hints, newest first.
func (s *Store) RecentHints(ctx context.Context, limit int) ([]schemas.CalibrationHint, error) {
	const sql = `
        SELECT decision_id, notes, scores, best_producer, worst_producer, created_at
        FROM calibration_hints
        ORDER BY created_at DESC
        LIMIT $1;
    `
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query calibration hints: %w", err)
	}
	defer rows.Close()

	var out []schemas.CalibrationHint
	for rows.Next() {
		var (
			h           schemas.CalibrationHint
			best, worst string
			scores      []byte
		)
		if err := rows.Scan(&h.DecisionID, &h.Notes, &scores, &best, &worst, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan calibration hint: %w", err)
		}
		h.BestProducer = schemas.ProducerKind(best)
		h.WorstProducer = schemas.ProducerKind(worst)
		if len(scores) > 0 && string(scores) != "null" {
			if err := json.Unmarshal(scores, &h.Scores); err != nil {
				return nil, fmt.Errorf("failed to unmarshal hint scores: %w", err)
			}
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during hint row iteration: %w", err)
	}
	return out, nil
}
