// Package debate runs the bounded adversarial refinement between the
// rebalance case and the hold case. Two advocates alternate, each seeing the
// full transcript from both sides; the loop has a hard round ceiling and an
// explicit convergence predicate, never an open-ended conversation.
package debate

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/llmutil"
)

// malformedRoundRetries is how many times a rejected round is re-asked
// before the debate errors out.
const malformedRoundRetries = 2

// Transcript is the full, append-only round sequence of one debate run. The
// orchestrator consumes only the last round's two theses, but the sequence
// is retained in the Decision audit trail.
type Transcript struct {
	Theses []schemas.DebateThesis
}

// Last returns the most recent thesis argued from the given position.
func (t *Transcript) Last(pos schemas.DebatePosition) (schemas.DebateThesis, bool) {
	for i := len(t.Theses) - 1; i >= 0; i-- {
		if t.Theses[i].Position == pos {
			return t.Theses[i], true
		}
	}
	return schemas.DebateThesis{}, false
}

// Rounds returns the highest round number present.
func (t *Transcript) Rounds() int {
	max := 0
	for _, th := range t.Theses {
		if th.Round > max {
			max = th.Round
		}
	}
	return max
}

// Engine drives the debate.
type Engine struct {
	llm          schemas.LLMClient
	logger       *zap.Logger
	maxRounds    int
	convergeGap  float64
	roundTimeout time.Duration
}

// New creates a debate engine. maxRounds is a liveness bound, not a tuning
// knob; it is capped at 3 regardless of configuration.
func New(llm schemas.LLMClient, logger *zap.Logger, maxRounds int, convergeGap float64, roundTimeout time.Duration) *Engine {
	if maxRounds <= 0 || maxRounds > 3 {
		maxRounds = 3
	}
	return &Engine{
		llm:          llm,
		logger:       logger.Named("debate"),
		maxRounds:    maxRounds,
		convergeGap:  convergeGap,
		roundTimeout: roundTimeout,
	}
}

// thesisPayload is the schema an advocate model must return.
type thesisPayload struct {
	Action          string             `json:"action"` // "rebalance" or "hold"
	ProposedWeights map[string]float64 `json:"proposed_weights,omitempty"`
	Confidence      float64            `json:"confidence"`
	Evidence        []string           `json:"evidence"`
}

// Run executes up to maxRounds rounds and returns the transcript. Rounds are
// strictly sequential: each advocate is conditioned on all prior theses from
// both sides. The loop exits early once the confidence gap between the two
// latest theses falls below the convergence threshold; that is read as
// convergence, not agreement on action.
func (e *Engine) Run(ctx context.Context, reports []schemas.AnalystReport, snapshot *schemas.BasketSnapshot) (*Transcript, error) {
	transcript := &Transcript{}

	for round := 1; round <= e.maxRounds; round++ {
		for _, pos := range []schemas.DebatePosition{schemas.AdvocateForChange, schemas.AdvocateForHold} {
			thesis, err := e.argueRound(ctx, pos, round, reports, snapshot, transcript)
			if err != nil {
				return transcript, fmt.Errorf("debate round %d (%s): %w", round, pos, err)
			}
			transcript.Theses = append(transcript.Theses, thesis)
		}

		change, _ := transcript.Last(schemas.AdvocateForChange)
		hold, _ := transcript.Last(schemas.AdvocateForHold)
		gap := math.Abs(change.Confidence - hold.Confidence)
		if gap < e.convergeGap {
			e.logger.Info("Debate converged early",
				zap.Int("round", round),
				zap.Float64("confidence_gap", gap),
			)
			return transcript, nil
		}
	}

	e.logger.Info("Debate reached round cap", zap.Int("rounds", e.maxRounds))
	return transcript, nil
}

// argueRound asks one advocate for its thesis, enforcing the output schema
// and the anti-sycophancy rule procedurally. A malformed round is rejected
// and re-asked a bounded number of times.
func (e *Engine) argueRound(
	ctx context.Context,
	pos schemas.DebatePosition,
	round int,
	reports []schemas.AnalystReport,
	snapshot *schemas.BasketSnapshot,
	transcript *Transcript,
) (schemas.DebateThesis, error) {
	var lastErr error

	for attempt := 0; attempt <= malformedRoundRetries; attempt++ {
		rctx, cancel := context.WithTimeout(ctx, e.roundTimeout)
		raw, err := e.llm.Generate(rctx, schemas.GenerationRequest{
			SystemPrompt: advocateSystemPrompt(pos),
			UserPrompt:   buildDebatePrompt(pos, round, reports, snapshot, transcript, lastErr),
			Tier:         schemas.TierPowerful,
			Options:      schemas.GenerationOptions{Temperature: 0.6, ForceJSONFormat: true},
		})
		cancel()
		if err != nil {
			return schemas.DebateThesis{}, err
		}

		payload, err := llmutil.ParseJSONResponse[thesisPayload](raw)
		if err != nil {
			lastErr = err
			continue
		}

		thesis := schemas.DebateThesis{
			Position:        pos,
			ProposedWeights: payload.ProposedWeights,
			Confidence:      payload.Confidence,
			Evidence:        payload.Evidence,
			Round:           round,
		}
		if err := e.validateThesis(thesis, payload.Action, round, transcript); err != nil {
			lastErr = err
			e.logger.Warn("Rejecting malformed debate round",
				zap.String("position", string(pos)),
				zap.Int("round", round),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		return thesis, nil
	}

	return schemas.DebateThesis{}, fmt.Errorf("advocate produced no valid thesis after %d attempts: %w", malformedRoundRetries+1, lastErr)
}

// validateThesis enforces the structural rules of a round.
func (e *Engine) validateThesis(th schemas.DebateThesis, action string, round int, transcript *Transcript) error {
	if th.Confidence < 0 || th.Confidence > 1 {
		return fmt.Errorf("confidence %.3f out of [0,1]", th.Confidence)
	}

	proposesChange := action == "rebalance"
	if proposesChange && !schemas.WeightsSumToOne(th.ProposedWeights) {
		return fmt.Errorf("proposed weights sum to %.6f, want 1.0", schemas.SumWeights(th.ProposedWeights))
	}

	// Anti-sycophancy: from round 2 on, a side that flips its proposed
	// action must bring evidence not already in the transcript. Capitulation
	// without new information is rejected, not trusted.
	if round >= 2 {
		prior, ok := transcript.Last(th.Position)
		if ok {
			priorChange := len(prior.ProposedWeights) > 0
			if priorChange != proposesChange && !hasNovelEvidence(th.Evidence, transcript) {
				return fmt.Errorf("position flip without novel evidence")
			}
		}
	}
	return nil
}

// hasNovelEvidence reports whether any evidence string is absent from the
// transcript so far.
func hasNovelEvidence(evidence []string, transcript *Transcript) bool {
	seen := make(map[string]struct{})
	for _, th := range transcript.Theses {
		for _, ev := range th.Evidence {
			seen[ev] = struct{}{}
		}
	}
	for _, ev := range evidence {
		if _, dup := seen[ev]; !dup {
			return true
		}
	}
	return false
}
