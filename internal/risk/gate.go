// Package risk implements the gate between the debate and the decision
// maker. Hard limits are checked first, deterministically and with no model
// call; any violation is an unconditional veto and the verdict names every
// breached rule. Only a proposal that clears all hard limits reaches the
// soft judgment, which may still veto or shrink the weights.
package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/config"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/llmutil"
)

// Proposal is the candidate rebalance handed to the gate.
type Proposal struct {
	Weights map[string]float64
	Current map[string]float64
	NAV     float64
	// Liquidity is reference-currency depth per token.
	Liquidity map[string]float64
	// Rolling24hChange is the aggregate change fraction already spent in the
	// trailing 24h window, computed from decision history.
	Rolling24hChange float64
	// RebalanceCount24h counts rebalances in the trailing window, input to
	// the soft frequency judgment.
	RebalanceCount24h int
}

// Gate evaluates proposals.
type Gate struct {
	limits config.RiskConfig
	llm    schemas.LLMClient
	logger *zap.Logger
}

// New creates the gate. llm may be nil, in which case the soft judgment is
// skipped and hard-limit passes are approved as-is.
func New(limits config.RiskConfig, llm schemas.LLMClient, logger *zap.Logger) *Gate {
	return &Gate{limits: limits, llm: llm, logger: logger.Named("risk_gate")}
}

// Evaluate produces the verdict for a proposal. A HOLD proposal (nil or
// empty weights) passes trivially.
func (g *Gate) Evaluate(ctx context.Context, p Proposal) schemas.RiskVerdict {
	if len(p.Weights) == 0 {
		return schemas.RiskVerdict{Approved: true, MaxChange: g.limits.MaxChange}
	}

	violations := g.HardViolations(p)
	if len(violations) > 0 {
		g.logger.Info("Hard-limit veto", zap.Strings("violations", violations))
		return schemas.RiskVerdict{
			Approved:   false,
			Violations: violations,
			MaxChange:  g.limits.MaxChange,
		}
	}

	return g.softJudgment(ctx, p)
}

// HardViolations runs every deterministic limit and returns the complete set
// of breaches. Token iteration is sorted so the violation list is stable for
// identical inputs.
func (g *Gate) HardViolations(p Proposal) []string {
	var violations []string

	tokens := unionTokens(p.Weights, p.Current)

	// Per-token ceiling and anchor floor.
	for _, token := range tokens {
		w := p.Weights[token]
		if w > g.limits.MaxTokenWeight+schemas.WeightEpsilon {
			violations = append(violations, fmt.Sprintf(
				"token %s weight %.2f exceeds %.2f limit", token, w, g.limits.MaxTokenWeight))
		}
	}
	if anchor := p.Weights[g.limits.AnchorToken]; anchor < g.limits.AnchorFloor-schemas.WeightEpsilon {
		violations = append(violations, fmt.Sprintf(
			"anchor token %s weight %.2f below %.2f floor", g.limits.AnchorToken, anchor, g.limits.AnchorFloor))
	}

	// Aggregate change: half the sum of absolute per-token deltas.
	change := AggregateChange(p.Weights, p.Current)
	if change > g.limits.MaxChange+schemas.WeightEpsilon {
		violations = append(violations, fmt.Sprintf(
			"aggregate change %.2f exceeds %.2f limit", change, g.limits.MaxChange))
	}

	// Token churn: tokens entering plus tokens leaving.
	churn := 0
	for _, token := range tokens {
		_, inNew := p.Weights[token]
		_, inOld := p.Current[token]
		if inNew != inOld {
			churn++
		}
	}
	if churn > g.limits.MaxTokenChurn {
		violations = append(violations, fmt.Sprintf(
			"token churn %d exceeds %d limit", churn, g.limits.MaxTokenChurn))
	}

	// Liquidity floor for any token carrying non-trivial weight.
	for _, token := range tokens {
		w := p.Weights[token]
		if w < g.limits.TrivialWeight {
			continue
		}
		if liq := p.Liquidity[token]; liq < g.limits.MinLiquidity {
			violations = append(violations, fmt.Sprintf(
				"token %s liquidity %.0f below %.0f minimum", token, liq, g.limits.MinLiquidity))
		}
	}

	// Rolling 24h cumulative-change ceiling.
	if p.Rolling24hChange+change > g.limits.Rolling24hChange+schemas.WeightEpsilon {
		violations = append(violations, fmt.Sprintf(
			"rolling 24h change %.2f (incl. proposal) exceeds %.2f ceiling",
			p.Rolling24hChange+change, g.limits.Rolling24hChange))
	}

	return violations
}

// softPayload is the schema the soft risk judge must return.
type softPayload struct {
	Approve         bool               `json:"approve"`
	Reason          string             `json:"reason"`
	AdjustedWeights map[string]float64 `json:"adjusted_weights,omitempty"`
}

// softJudgment consults the model about risks the hard limits cannot see,
// such as excessive rebalance frequency relative to basket size. An
// unavailable or malformed judge is treated as a veto: the gate fails closed.
func (g *Gate) softJudgment(ctx context.Context, p Proposal) schemas.RiskVerdict {
	if g.llm == nil {
		return schemas.RiskVerdict{Approved: true, MaxChange: g.limits.MaxChange}
	}

	sctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	raw, err := g.llm.Generate(sctx, schemas.GenerationRequest{
		SystemPrompt: softJudgeSystemPrompt,
		UserPrompt:   buildSoftJudgePrompt(p),
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{Temperature: 0.2, ForceJSONFormat: true},
	})
	if err != nil {
		g.logger.Warn("Soft risk judgment unavailable, vetoing", zap.Error(err))
		return schemas.RiskVerdict{
			Approved:   false,
			Violations: []string{fmt.Sprintf("soft risk judgment unavailable: %v", err)},
			MaxChange:  g.limits.MaxChange,
		}
	}

	payload, err := llmutil.ParseJSONResponse[softPayload](raw)
	if err != nil {
		g.logger.Warn("Soft risk judgment malformed, vetoing", zap.Error(err))
		return schemas.RiskVerdict{
			Approved:   false,
			Violations: []string{fmt.Sprintf("soft risk judgment malformed: %v", err)},
			MaxChange:  g.limits.MaxChange,
		}
	}

	if !payload.Approve {
		return schemas.RiskVerdict{
			Approved:   false,
			Violations: []string{"soft risk veto: " + payload.Reason},
			MaxChange:  g.limits.MaxChange,
		}
	}

	verdict := schemas.RiskVerdict{Approved: true, MaxChange: g.limits.MaxChange}
	if len(payload.AdjustedWeights) > 0 {
		// Adjusted weights are only accepted if they themselves clear every
		// hard limit; otherwise the original approved weights stand.
		adjusted := p
		adjusted.Weights = payload.AdjustedWeights
		if schemas.WeightsSumToOne(payload.AdjustedWeights) && len(g.HardViolations(adjusted)) == 0 {
			verdict.AdjustedWeights = payload.AdjustedWeights
		} else {
			g.logger.Warn("Discarding soft-judge weight adjustment that breaks hard limits")
		}
	}
	return verdict
}

// AggregateChange is half the sum of absolute per-token weight deltas, i.e.
// the fraction of basket value that must move.
func AggregateChange(proposed, current map[string]float64) float64 {
	var sum float64
	for _, token := range unionTokens(proposed, current) {
		sum += math.Abs(proposed[token] - current[token])
	}
	return sum / 2
}

func unionTokens(a, b map[string]float64) []string {
	set := make(map[string]struct{}, len(a)+len(b))
	for t := range a {
		set[t] = struct{}{}
	}
	for t := range b {
		set[t] = struct{}{}
	}
	tokens := make([]string, 0, len(set))
	for t := range set {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}
