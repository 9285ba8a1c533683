// Package reflection closes the learning loop: once a decision is old
// enough to judge, each producer's call is scored against what the market
// actually did, and the scores are written back as calibration hints for
// future cycles. Hints are advisory context, never control flow.
package reflection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
)

// flatBand is the NAV movement below which the market is considered to have
// gone nowhere, in fractional terms.
const flatBand = 0.005

// batchLimit bounds how many decisions one pass scores.
const batchLimit = 20

// DecisionLog is the slice of the store the engine needs.
type DecisionLog interface {
	UnreflectedDecisions(ctx context.Context, before time.Time, limit int) ([]schemas.Decision, error)
	MarkReflected(ctx context.Context, id uuid.UUID) error
	SaveHint(ctx context.Context, h *schemas.CalibrationHint) error
}

// Engine scores matured decisions.
type Engine struct {
	log    DecisionLog
	market schemas.MarketReader
	delay  time.Duration
	logger *zap.Logger

	now func() time.Time // overridable in tests
}

// New creates a reflection engine. delay is how long a decision must age
// before its outcome is judged.
func New(log DecisionLog, market schemas.MarketReader, delay time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		log:    log,
		market: market,
		delay:  delay,
		logger: logger.Named("reflection"),
		now:    time.Now,
	}
}

// Run scores every matured, unscored decision. Returns how many were
// processed. A failure on one decision skips it and continues; it stays
// unreflected and is retried next pass.
func (e *Engine) Run(ctx context.Context) (int, error) {
	before := e.now().Add(-e.delay)
	decisions, err := e.log.UnreflectedDecisions(ctx, before, batchLimit)
	if err != nil {
		return 0, fmt.Errorf("loading unreflected decisions: %w", err)
	}

	processed := 0
	for i := range decisions {
		d := &decisions[i]
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if err := e.reflect(ctx, d); err != nil {
			e.logger.Warn("Reflection failed for decision, will retry next pass",
				zap.String("decision_id", d.ID.String()),
				zap.Error(err),
			)
			continue
		}
		processed++
	}
	return processed, nil
}

func (e *Engine) reflect(ctx context.Context, d *schemas.Decision) error {
	_, navChange, err := e.market.ChangeSince(ctx, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("reading market change: %w", err)
	}

	hint := e.score(d, navChange)
	if err := e.log.SaveHint(ctx, hint); err != nil {
		return fmt.Errorf("saving hint: %w", err)
	}
	if err := e.log.MarkReflected(ctx, d.ID); err != nil {
		return fmt.Errorf("marking reflected: %w", err)
	}

	e.logger.Info("Decision reflected",
		zap.String("decision_id", d.ID.String()),
		zap.Float64("nav_change", navChange),
		zap.String("best", string(hint.BestProducer)),
		zap.String("worst", string(hint.WorstProducer)),
	)
	return nil
}

// score grades each producer's directional call against the realized NAV
// movement. Failed producers are not scored at all; absence of signal is not
// a wrong signal.
func (e *Engine) score(d *schemas.Decision, navChange float64) *schemas.CalibrationHint {
	scores := make(map[schemas.ProducerKind]float64, len(d.Reports))
	for _, r := range d.Reports {
		if r.Failed() {
			continue
		}
		scores[r.Producer] = gradeSignal(r.Signal, navChange)
	}

	var (
		best, worst schemas.ProducerKind
		bestVal     = -1.0
		worstVal    = 2.0
	)
	for kind, v := range scores {
		if v > bestVal {
			bestVal, best = v, kind
		}
		if v < worstVal {
			worstVal, worst = v, kind
		}
	}
	// A unanimous round has no meaningful best/worst split.
	if len(scores) > 0 && bestVal == worstVal {
		best, worst = "", ""
	}

	notes := fmt.Sprintf("action %s, NAV moved %+.2f%% over %s", d.Action, navChange*100, e.delay)
	if best != "" {
		notes += fmt.Sprintf("; most accurate: %s, least accurate: %s", best, worst)
	}

	return &schemas.CalibrationHint{
		DecisionID:    d.ID,
		Notes:         notes,
		Scores:        scores,
		BestProducer:  best,
		WorstProducer: worst,
		CreatedAt:     e.now().UTC(),
	}
}

// gradeSignal maps a directional call against the realized move: 1.0 for
// calling the direction, 0.5 when either side was flat-ish, 0.0 for calling
// it backwards.
func gradeSignal(sig schemas.Signal, navChange float64) float64 {
	up := navChange > flatBand
	down := navChange < -flatBand

	switch sig {
	case schemas.SignalBullish:
		switch {
		case up:
			return 1.0
		case down:
			return 0.0
		default:
			return 0.5
		}
	case schemas.SignalBearish:
		switch {
		case down:
			return 1.0
		case up:
			return 0.0
		default:
			return 0.5
		}
	default: // neutral
		if up || down {
			return 0.5
		}
		return 1.0
	}
}
