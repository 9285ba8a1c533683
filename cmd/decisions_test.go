package cmd

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
)

func TestPrintDecisionsEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printDecisions(&buf, nil)
	assert.Contains(t, buf.String(), "No decisions recorded yet.")
}

func TestPrintDecisionsRendersAuditTrail(t *testing.T) {
	t.Parallel()

	d := schemas.Decision{
		ID:         uuid.New(),
		Trigger:    schemas.TriggerScheduled,
		Action:     schemas.ActionHold,
		Status:     schemas.ExecutionNone,
		Confidence: 1.0,
		Reason:     "risk veto: aggregate change too large",
		Verdict: &schemas.RiskVerdict{
			Approved:   false,
			Violations: []string{"aggregate change 0.75 exceeds 0.25 limit"},
		},
		Reports: []schemas.AnalystReport{
			{Producer: schemas.ProducerMomentum, Signal: schemas.SignalBullish, Confidence: 0.8},
			{Producer: schemas.ProducerLiquidity, Error: "timed out"},
		},
		Theses: []schemas.DebateThesis{
			{Position: schemas.AdvocateForChange, Round: 1, Confidence: 0.9},
			{Position: schemas.AdvocateForHold, Round: 1, Confidence: 0.3},
		},
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}

	var buf bytes.Buffer
	printDecisions(&buf, []schemas.Decision{d})
	out := buf.String()

	assert.Contains(t, out, d.ID.String())
	assert.Contains(t, out, "HOLD")
	assert.Contains(t, out, "reason: risk veto")
	assert.Contains(t, out, "veto: aggregate change 0.75 exceeds 0.25 limit")
	assert.Contains(t, out, "momentum")
	assert.Contains(t, out, "failed: timed out")
	assert.Contains(t, out, "ADVOCATE_FOR_HOLD")
}
