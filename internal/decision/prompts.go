package decision

import (
	"fmt"
	"strings"
)

const judgeSystemPrompt = `You are the final decision maker for a managed token basket.
You weigh the two closing debate theses, the risk verdict, the analyst reports
and recent decision history, then commit to exactly one action:
REBALANCE (with weights summing to 1.0, honoring any risk adjustment),
HOLD, or EMERGENCY_EXIT (move fully to the anchor token; reserved for severe,
evidenced deterioration). Estimate the benefit of acting as a fraction of NAV.
Respond with a single JSON object:
{"action": "REBALANCE"|"HOLD"|"EMERGENCY_EXIT", "weights": {"TOKEN": <fraction>, ...},
 "confidence": <float 0..1>, "reason": "...", "expected_benefit": <float>}`

func buildJudgePrompt(in Input, rejectedWith error) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Basket NAV: %.2f. Settlement fee estimate: %.4f of NAV.\n\n", in.NAV, in.FeeEstimate)

	b.WriteString("Current weights:\n")
	for token, w := range in.CurrentWeights {
		fmt.Fprintf(&b, "  %s: %.4f\n", token, w)
	}

	fmt.Fprintf(&b, "\nClosing thesis FOR change (conf %.2f): %s\n",
		in.ChangeThesis.Confidence, strings.Join(in.ChangeThesis.Evidence, "; "))
	if len(in.ChangeThesis.ProposedWeights) > 0 {
		b.WriteString("Proposed weights:\n")
		for token, w := range in.ChangeThesis.ProposedWeights {
			fmt.Fprintf(&b, "  %s: %.4f\n", token, w)
		}
	}
	fmt.Fprintf(&b, "\nClosing thesis FOR hold (conf %.2f): %s\n",
		in.HoldThesis.Confidence, strings.Join(in.HoldThesis.Evidence, "; "))

	b.WriteString("\nRisk verdict: APPROVED")
	if len(in.Verdict.AdjustedWeights) > 0 {
		b.WriteString(" with binding adjusted weights:\n")
		for token, w := range in.Verdict.AdjustedWeights {
			fmt.Fprintf(&b, "  %s: %.4f\n", token, w)
		}
	} else {
		b.WriteString(" without adjustment.\n")
	}

	b.WriteString("\nAnalyst reports:\n")
	for _, r := range in.Reports {
		if r.Failed() {
			fmt.Fprintf(&b, "  [%s] unavailable\n", r.Producer)
			continue
		}
		fmt.Fprintf(&b, "  [%s] %s conf=%.2f\n", r.Producer, r.Signal, r.Confidence)
	}

	if len(in.History) > 0 {
		fmt.Fprintf(&b, "\nLast %d decisions:\n", len(in.History))
		for _, d := range in.History {
			fmt.Fprintf(&b, "  %s %s conf=%.2f\n", d.CreatedAt.Format("2006-01-02 15:04"), d.Action, d.Confidence)
		}
	}

	if rejectedWith != nil {
		fmt.Fprintf(&b, "\nYour previous answer was rejected: %v. Correct it.\n", rejectedWith)
	}

	return b.String()
}
