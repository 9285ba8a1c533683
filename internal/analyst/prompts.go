package analyst

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
)

const reportSchemaInstruction = `Respond with a single JSON object:
{"confidence": <float 0..1>, "signal": "bullish"|"bearish"|"neutral", "evidence": ["..."]}`

const momentumSystemPrompt = `You are a momentum analyst for a managed token basket.
Judge trend strength from the trailing price movement of each token and of NAV.
Favor persistence of moves over mean reversion. ` + reportSchemaInstruction

const valuationSystemPrompt = `You are a valuation analyst for a managed token basket.
Judge whether current weights overexpose the basket to richly priced tokens
relative to their liquidity depth and recent NAV trajectory. ` + reportSchemaInstruction

const sentimentSystemPrompt = `You are a market sentiment analyst for a managed token basket.
Read the tone implied by recent price dispersion across tokens and flag regime
shifts early. ` + reportSchemaInstruction

const liquiditySystemPrompt = `You are a liquidity analyst for a managed token basket.
Judge whether per-token liquidity can absorb a rebalance of meaningful size
without unacceptable slippage. ` + reportSchemaInstruction

// buildMarketPrompt renders the cycle state into the user prompt shared by
// all producer kinds. Token order is sorted so identical inputs produce
// identical prompts.
func buildMarketPrompt(kind schemas.ProducerKind, in Input) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Basket NAV: %.2f\n", in.Snapshot.NAV)
	b.WriteString("Current composition:\n")
	for _, token := range sortedTokens(in.Snapshot.Weights) {
		fmt.Fprintf(&b, "  %s: weight=%.4f liquidity=%.0f change24h=%+.4f\n",
			token,
			in.Snapshot.Weights[token],
			in.Snapshot.Liquidity[token],
			in.Snapshot.PriceChanges[token],
		)
	}

	if hint := latestHintFor(kind, in.Hints); hint != "" {
		b.WriteString("\nCalibration feedback on your past calls:\n")
		b.WriteString(hint)
		b.WriteString("\n")
	}

	if len(in.History) > 0 {
		fmt.Fprintf(&b, "\nRecent decisions (%d):\n", len(in.History))
		for _, d := range in.History {
			fmt.Fprintf(&b, "  %s %s conf=%.2f\n", d.CreatedAt.Format("2006-01-02"), d.Action, d.Confidence)
		}
	}

	return b.String()
}

// latestHintFor extracts the most recent calibration note and score for one
// producer kind.
func latestHintFor(kind schemas.ProducerKind, hints []schemas.CalibrationHint) string {
	for i := len(hints) - 1; i >= 0; i-- {
		h := hints[i]
		score, ok := h.Scores[kind]
		if !ok {
			continue
		}
		return fmt.Sprintf("accuracy score %.2f. %s", score, h.Notes)
	}
	return ""
}

func sortedTokens(weights map[string]float64) []string {
	tokens := make([]string, 0, len(weights))
	for t := range weights {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)
	return tokens
}
