// Package schemas defines the shared data model of the decision and
// settlement engine: analyst reports, debate theses, risk verdicts, the
// committed Decision record, bridge jobs and staking state. Types here are
// persisted and cross package boundaries, so they stay free of behavior
// beyond small helpers.
package schemas

import (
	"time"

	"github.com/google/uuid"
)

// WeightEpsilon is the tolerance applied when validating that a weight map
// sums to 1.0.
const WeightEpsilon = 1e-6

// Signal is the directional call an analyst makes on the basket.
type Signal string

const (
	SignalBullish Signal = "bullish"
	SignalBearish Signal = "bearish"
	SignalNeutral Signal = "neutral"
)

// ProducerKind identifies one of the four report producers. The set is
// closed: the degraded-mode rule ("2 of 4 failed") depends on it.
type ProducerKind string

const (
	ProducerMomentum  ProducerKind = "momentum"
	ProducerValuation ProducerKind = "valuation"
	ProducerSentiment ProducerKind = "sentiment"
	ProducerLiquidity ProducerKind = "liquidity"
)

// AllProducers lists every producer kind in a stable order.
var AllProducers = []ProducerKind{
	ProducerMomentum,
	ProducerValuation,
	ProducerSentiment,
	ProducerLiquidity,
}

// AnalystReport is one specialist's structured opinion for a cycle.
// Immutable once produced. A report with a non-empty Error field counts as a
// producer failure and carries no usable signal.
type AnalystReport struct {
	Producer    ProducerKind `json:"producer"`
	Confidence  float64      `json:"confidence"` // [0,1]
	Signal      Signal       `json:"signal"`
	Evidence    []string     `json:"evidence"`
	Error       string       `json:"error,omitempty"`
	GeneratedAt time.Time    `json:"generated_at"`
}

// Failed reports whether the producer errored instead of delivering a signal.
func (r AnalystReport) Failed() bool { return r.Error != "" }

// DebatePosition is the fixed role an advocate argues from.
type DebatePosition string

const (
	AdvocateForChange DebatePosition = "ADVOCATE_FOR_CHANGE"
	AdvocateForHold   DebatePosition = "ADVOCATE_FOR_HOLD"
)

// DebateThesis is one side's case in one debate round. Theses are
// append-only; a debate run owns a bounded sequence of them.
type DebateThesis struct {
	Position        DebatePosition     `json:"position"`
	ProposedWeights map[string]float64 `json:"proposed_weights,omitempty"`
	Confidence      float64            `json:"confidence"`
	Evidence        []string           `json:"evidence"`
	Round           int                `json:"round"`
}

// RiskVerdict is the Risk Gate's ruling on a proposed rebalance. Produced
// once per cycle and never mutated. An unapproved verdict is an
// unconditional veto: Violations names every breached hard limit, not just
// the first.
type RiskVerdict struct {
	Approved        bool               `json:"approved"`
	Violations      []string           `json:"violations,omitempty"`
	AdjustedWeights map[string]float64 `json:"adjusted_weights,omitempty"`
	MaxChange       float64            `json:"max_change"`
}

// TriggerReason says why a cycle ran.
type TriggerReason string

const (
	TriggerScheduled      TriggerReason = "scheduled"
	TriggerLossEvent      TriggerReason = "loss-event"
	TriggerSentimentEvent TriggerReason = "sentiment-event"
)

// Action is the final call of a cycle.
type Action string

const (
	ActionRebalance     Action = "REBALANCE"
	ActionHold          Action = "HOLD"
	ActionEmergencyExit Action = "EMERGENCY_EXIT"
)

// ExecutionStatus tracks what happened to the decision after it was made.
type ExecutionStatus string

const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionSubmitted ExecutionStatus = "submitted"
	ExecutionConfirmed ExecutionStatus = "confirmed"
	ExecutionFailed    ExecutionStatus = "failed"
	// ExecutionSkipped marks a cycle aborted by a safety halt before any
	// analysis ran. Not an error outcome.
	ExecutionSkipped ExecutionStatus = "skipped"
	// ExecutionNone is used for HOLD decisions that require no execution.
	ExecutionNone ExecutionStatus = "none"
)

// Decision is the permanent, append-only record of one cycle. It carries the
// full audit trail so the "why" of any action can be reconstructed without
// log archaeology.
type Decision struct {
	ID           uuid.UUID          `json:"id"`
	Trigger      TriggerReason      `json:"trigger"`
	Action       Action             `json:"action"`
	FinalWeights map[string]float64 `json:"final_weights,omitempty"`
	Confidence   float64            `json:"confidence"`
	Reason       string             `json:"reason,omitempty"`
	CostEstimate float64            `json:"cost_estimate,omitempty"`

	// Audit trail.
	Reports []AnalystReport `json:"reports,omitempty"`
	Theses  []DebateThesis  `json:"theses,omitempty"`
	Verdict *RiskVerdict    `json:"verdict,omitempty"`

	Status    ExecutionStatus `json:"status"`
	TxRef     string          `json:"tx_ref,omitempty"`
	NAV       float64         `json:"nav"`
	Reflected bool            `json:"reflected"`
	CreatedAt time.Time       `json:"created_at"`
}

// CalibrationHint is the reflection engine's feedback on one past decision:
// how accurate each producer's call turned out to be. Read-only input to the
// next cycle's producers; the hint log is append-only.
type CalibrationHint struct {
	DecisionID    uuid.UUID                `json:"decision_id"`
	Notes         string                   `json:"notes"`
	Scores        map[ProducerKind]float64 `json:"scores"`
	BestProducer  ProducerKind             `json:"best_producer,omitempty"`
	WorstProducer ProducerKind             `json:"worst_producer,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
}

// BasketSnapshot is the market/portfolio state a cycle operates on.
type BasketSnapshot struct {
	Weights      map[string]float64 `json:"weights"`
	NAV          float64            `json:"nav"`
	Liquidity    map[string]float64 `json:"liquidity"`
	PriceChanges map[string]float64 `json:"price_changes,omitempty"` // trailing 24h, fractional
	AccruedFees  uint64             `json:"accrued_fees"`            // micro-units awaiting bridging
	TakenAt      time.Time          `json:"taken_at"`
}

// SumWeights returns the total of a weight map.
func SumWeights(w map[string]float64) float64 {
	var sum float64
	for _, v := range w {
		sum += v
	}
	return sum
}

// WeightsSumToOne reports whether the map sums to 1.0 within WeightEpsilon.
func WeightsSumToOne(w map[string]float64) bool {
	if len(w) == 0 {
		return false
	}
	diff := SumWeights(w) - 1.0
	return diff < WeightEpsilon && diff > -WeightEpsilon
}
