// Package decision produces the final action of a cycle from the debate
// output and the risk verdict. The veto contract is absolute: an unapproved
// verdict forces HOLD before any model is consulted, and a model answer that
// tries to rebalance anyway is a contract violation the caller rejects.
package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/llmutil"
)

// retries for a malformed decision payload before falling back to HOLD.
const malformedRetries = 1

// Input carries everything the maker conditions on.
type Input struct {
	ChangeThesis   schemas.DebateThesis
	HoldThesis     schemas.DebateThesis
	Verdict        schemas.RiskVerdict
	Reports        []schemas.AnalystReport
	CurrentWeights map[string]float64
	Hints          []schemas.CalibrationHint
	History        []schemas.Decision
	NAV            float64
	// FeeEstimate is the expected settlement cost of executing the rebalance,
	// as a fraction of basket value.
	FeeEstimate float64
}

// Outcome is the maker's answer; the orchestrator folds it into the
// persisted Decision record.
type Outcome struct {
	Action       schemas.Action
	Weights      map[string]float64
	Confidence   float64
	Reason       string
	CostEstimate float64
}

// Maker chooses the final action.
type Maker struct {
	llm    schemas.LLMClient
	logger *zap.Logger
	// costBenefitRatio biases toward HOLD when fee cost exceeds this
	// fraction of the expected benefit.
	costBenefitRatio float64
	timeout          time.Duration
}

// New creates a decision maker.
func New(llm schemas.LLMClient, logger *zap.Logger, costBenefitRatio float64, timeout time.Duration) *Maker {
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Maker{
		llm:              llm,
		logger:           logger.Named("decision_maker"),
		costBenefitRatio: costBenefitRatio,
		timeout:          timeout,
	}
}

// decisionPayload is the schema the judge model must return.
type decisionPayload struct {
	Action          string             `json:"action"`
	Weights         map[string]float64 `json:"weights,omitempty"`
	Confidence      float64            `json:"confidence"`
	Reason          string             `json:"reason"`
	ExpectedBenefit float64            `json:"expected_benefit"` // fraction of NAV
}

// Decide returns the outcome for a cycle. A vetoed verdict short-circuits to
// HOLD; no model call can override it.
func (m *Maker) Decide(ctx context.Context, in Input) (Outcome, error) {
	if !in.Verdict.Approved {
		return Outcome{
			Action:     schemas.ActionHold,
			Confidence: 1.0,
			Reason:     "risk veto: " + strings.Join(in.Verdict.Violations, "; "),
		}, nil
	}

	var lastErr error
	for attempt := 0; attempt <= malformedRetries; attempt++ {
		dctx, cancel := context.WithTimeout(ctx, m.timeout)
		raw, err := m.llm.Generate(dctx, schemas.GenerationRequest{
			SystemPrompt: judgeSystemPrompt,
			UserPrompt:   buildJudgePrompt(in, lastErr),
			Tier:         schemas.TierPowerful,
			Options:      schemas.GenerationOptions{Temperature: 0.3, ForceJSONFormat: true},
		})
		cancel()
		if err != nil {
			return Outcome{}, fmt.Errorf("decision generation failed: %w", err)
		}

		payload, err := llmutil.ParseJSONResponse[decisionPayload](raw)
		if err != nil {
			lastErr = err
			continue
		}

		outcome, err := m.validate(payload, in)
		if err != nil {
			lastErr = err
			m.logger.Warn("Rejecting malformed decision payload", zap.Int("attempt", attempt+1), zap.Error(err))
			continue
		}
		return outcome, nil
	}

	// The judge could not produce a well-formed answer; hold is the only
	// safe default.
	m.logger.Error("Decision maker fell back to HOLD", zap.Error(lastErr))
	return Outcome{
		Action:     schemas.ActionHold,
		Confidence: 0,
		Reason:     fmt.Sprintf("decision maker produced no valid output: %v", lastErr),
	}, nil
}

func (m *Maker) validate(p *decisionPayload, in Input) (Outcome, error) {
	if p.Confidence < 0 || p.Confidence > 1 {
		return Outcome{}, fmt.Errorf("confidence %.3f out of [0,1]", p.Confidence)
	}

	switch schemas.Action(p.Action) {
	case schemas.ActionHold:
		return Outcome{
			Action:     schemas.ActionHold,
			Confidence: p.Confidence,
			Reason:     p.Reason,
		}, nil

	case schemas.ActionEmergencyExit:
		return Outcome{
			Action:       schemas.ActionEmergencyExit,
			Confidence:   p.Confidence,
			Reason:       p.Reason,
			CostEstimate: in.FeeEstimate,
		}, nil

	case schemas.ActionRebalance:
		weights := p.Weights
		// A risk adjustment is binding: the maker must execute the shrunk
		// weights, not the debate's originals.
		if len(in.Verdict.AdjustedWeights) > 0 {
			weights = in.Verdict.AdjustedWeights
		}
		if !schemas.WeightsSumToOne(weights) {
			return Outcome{}, fmt.Errorf("final weights sum to %.6f, want 1.0", schemas.SumWeights(weights))
		}

		// Cost soft gate: a rebalance whose fee materially exceeds its
		// expected benefit becomes a HOLD.
		if p.ExpectedBenefit > 0 && in.FeeEstimate > p.ExpectedBenefit*m.costBenefitRatio {
			m.logger.Info("Cost gate biased decision to HOLD",
				zap.Float64("fee_estimate", in.FeeEstimate),
				zap.Float64("expected_benefit", p.ExpectedBenefit),
			)
			return Outcome{
				Action:       schemas.ActionHold,
				Confidence:   p.Confidence,
				Reason:       fmt.Sprintf("fee %.4f exceeds %.0f%% of expected benefit %.4f", in.FeeEstimate, m.costBenefitRatio*100, p.ExpectedBenefit),
				CostEstimate: in.FeeEstimate,
			}, nil
		}

		return Outcome{
			Action:       schemas.ActionRebalance,
			Weights:      weights,
			Confidence:   p.Confidence,
			Reason:       p.Reason,
			CostEstimate: in.FeeEstimate,
		}, nil

	default:
		return Outcome{}, fmt.Errorf("unknown action %q", p.Action)
	}
}
