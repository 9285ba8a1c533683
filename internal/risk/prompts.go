package risk

import (
	"fmt"
	"strings"
)

const softJudgeSystemPrompt = `You are the soft risk judge for a managed token basket.
The proposal in front of you has already cleared every deterministic hard limit.
Your job is judgment the limits cannot express: rebalance frequency relative to
basket size, crowded exits, correlated concentration. You may veto, approve, or
approve with shrunk weights (move proposed weights toward current ones).
Respond with a single JSON object:
{"approve": true|false, "reason": "...", "adjusted_weights": {"TOKEN": <fraction>, ...} (optional, must sum to 1.0)}`

func buildSoftJudgePrompt(p Proposal) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Basket NAV: %.2f\n", p.NAV)
	fmt.Fprintf(&b, "Rebalances in trailing 24h: %d\n", p.RebalanceCount24h)
	fmt.Fprintf(&b, "Aggregate change already spent in trailing 24h: %.2f\n\n", p.Rolling24hChange)

	b.WriteString("Proposed vs current weights:\n")
	for _, token := range unionTokens(p.Weights, p.Current) {
		fmt.Fprintf(&b, "  %s: %.4f -> %.4f (liquidity %.0f)\n",
			token, p.Current[token], p.Weights[token], p.Liquidity[token])
	}
	fmt.Fprintf(&b, "\nAggregate change of this proposal: %.4f\n", AggregateChange(p.Weights, p.Current))

	return b.String()
}
