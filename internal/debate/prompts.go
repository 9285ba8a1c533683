package debate

import (
	"fmt"
	"strings"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
)

const thesisSchemaInstruction = `Respond with a single JSON object:
{"action": "rebalance"|"hold", "proposed_weights": {"TOKEN": <fraction>, ...} (required when action is rebalance, must sum to 1.0),
 "confidence": <float 0..1>, "evidence": ["..."]}`

const changeAdvocateSystem = `You argue the strongest possible case FOR rebalancing the basket.
Refine your target weights each round by engaging with the hold advocate's objections.
If you change your proposed action you must cite evidence not yet raised in the debate. ` + thesisSchemaInstruction

const holdAdvocateSystem = `You argue the strongest possible case for HOLDING the current basket weights.
Attack the cost, timing and evidence of the proposed rebalance each round.
If you change your proposed action you must cite evidence not yet raised in the debate. ` + thesisSchemaInstruction

func advocateSystemPrompt(pos schemas.DebatePosition) string {
	if pos == schemas.AdvocateForChange {
		return changeAdvocateSystem
	}
	return holdAdvocateSystem
}

// buildDebatePrompt renders the analyst reports plus the full transcript so
// far. rejectedWith carries the validation error of a rejected prior attempt
// so the model can correct it.
func buildDebatePrompt(
	pos schemas.DebatePosition,
	round int,
	reports []schemas.AnalystReport,
	snapshot *schemas.BasketSnapshot,
	transcript *Transcript,
	rejectedWith error,
) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Round %d. You are %s.\n\n", round, pos)

	fmt.Fprintf(&b, "Basket NAV: %.2f. Current weights:\n", snapshot.NAV)
	for token, w := range snapshot.Weights {
		fmt.Fprintf(&b, "  %s: %.4f\n", token, w)
	}

	b.WriteString("\nAnalyst reports:\n")
	for _, r := range reports {
		if r.Failed() {
			fmt.Fprintf(&b, "  [%s] unavailable (%s)\n", r.Producer, r.Error)
			continue
		}
		fmt.Fprintf(&b, "  [%s] %s conf=%.2f: %s\n", r.Producer, r.Signal, r.Confidence, strings.Join(r.Evidence, "; "))
	}

	if len(transcript.Theses) > 0 {
		b.WriteString("\nDebate so far (both sides):\n")
		for _, th := range transcript.Theses {
			action := "hold"
			if len(th.ProposedWeights) > 0 {
				action = "rebalance"
			}
			fmt.Fprintf(&b, "  round %d %s -> %s conf=%.2f: %s\n",
				th.Round, th.Position, action, th.Confidence, strings.Join(th.Evidence, "; "))
		}
	}

	if rejectedWith != nil {
		fmt.Fprintf(&b, "\nYour previous answer was rejected: %v. Correct it.\n", rejectedWith)
	}

	return b.String()
}
