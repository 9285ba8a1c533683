package analyst

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/mocks"
)

func testInput() Input {
	return Input{
		Snapshot: &schemas.BasketSnapshot{
			NAV:     1_000_000,
			Weights: map[string]float64{"USDC": 0.25, "SOL": 0.25, "ETH": 0.25, "BTC": 0.25},
		},
	}
}

func TestProducerParsesFencedJSON(t *testing.T) {
	t.Parallel()

	llm := &mocks.ScriptedLLM{Responses: []string{
		"```json\n{\"confidence\": 0.8, \"signal\": \"bullish\", \"evidence\": [\"7d uptrend\"]}\n```",
	}}
	p := newLLMProducer(schemas.ProducerMomentum, momentumSystemPrompt, llm, zaptest.NewLogger(t))

	report, err := p.Produce(context.Background(), testInput())
	require.NoError(t, err)

	assert.Equal(t, schemas.ProducerMomentum, report.Producer)
	assert.Equal(t, schemas.SignalBullish, report.Signal)
	assert.InDelta(t, 0.8, report.Confidence, 1e-9)
	assert.False(t, report.Failed())

	require.Len(t, llm.Calls, 1)
	assert.Equal(t, schemas.TierFast, llm.Calls[0].Tier, "producers run on the fast tier")
}

func TestProducerRejectsUnknownSignal(t *testing.T) {
	t.Parallel()

	llm := &mocks.ScriptedLLM{Responses: []string{`{"confidence": 0.8, "signal": "MOON", "evidence": []}`}}
	p := newLLMProducer(schemas.ProducerSentiment, sentimentSystemPrompt, llm, zaptest.NewLogger(t))

	_, err := p.Produce(context.Background(), testInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown signal")
}

func TestProducerRejectsConfidenceOutOfRange(t *testing.T) {
	t.Parallel()

	llm := &mocks.ScriptedLLM{Responses: []string{`{"confidence": 1.7, "signal": "neutral", "evidence": []}`}}
	p := newLLMProducer(schemas.ProducerValuation, valuationSystemPrompt, llm, zaptest.NewLogger(t))

	_, err := p.Produce(context.Background(), testInput())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "out of [0,1]")
}

func TestDefaultProducersCoverAllKinds(t *testing.T) {
	t.Parallel()

	producers := DefaultProducers(&mocks.ScriptedLLM{}, zaptest.NewLogger(t))
	require.Len(t, producers, 4)

	kinds := make(map[schemas.ProducerKind]bool)
	for _, p := range producers {
		kinds[p.Kind()] = true
	}
	assert.True(t, kinds[schemas.ProducerMomentum])
	assert.True(t, kinds[schemas.ProducerValuation])
	assert.True(t, kinds[schemas.ProducerSentiment])
	assert.True(t, kinds[schemas.ProducerLiquidity])
}

// stubProducer lets Gather tests control per-producer behavior directly.
type stubProducer struct {
	kind   schemas.ProducerKind
	report schemas.AnalystReport
	err    error
	delay  time.Duration
}

func (s *stubProducer) Kind() schemas.ProducerKind { return s.kind }

func (s *stubProducer) Produce(ctx context.Context, _ Input) (schemas.AnalystReport, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return schemas.AnalystReport{}, ctx.Err()
		}
	}
	return s.report, s.err
}

func TestGatherMarksFailuresInPlace(t *testing.T) {
	t.Parallel()

	producers := []Producer{
		&stubProducer{kind: schemas.ProducerMomentum, report: schemas.AnalystReport{Producer: schemas.ProducerMomentum, Signal: schemas.SignalBullish}},
		&stubProducer{kind: schemas.ProducerValuation, err: errors.New("model offline")},
		&stubProducer{kind: schemas.ProducerSentiment, report: schemas.AnalystReport{Producer: schemas.ProducerSentiment, Signal: schemas.SignalNeutral}},
		&stubProducer{kind: schemas.ProducerLiquidity, err: errors.New("model offline")},
	}

	reports := Gather(context.Background(), producers, testInput(), time.Second, zaptest.NewLogger(t))

	require.Len(t, reports, 4)
	// Report order matches producer order regardless of completion order.
	assert.Equal(t, schemas.ProducerMomentum, reports[0].Producer)
	assert.Equal(t, schemas.ProducerValuation, reports[1].Producer)
	assert.True(t, reports[1].Failed())
	assert.Contains(t, reports[1].Error, "model offline")
	assert.Equal(t, 2, FailedCount(reports))
}

func TestGatherTimesOutSlowProducer(t *testing.T) {
	t.Parallel()

	producers := []Producer{
		&stubProducer{kind: schemas.ProducerMomentum, report: schemas.AnalystReport{Producer: schemas.ProducerMomentum, Signal: schemas.SignalBullish}},
		&stubProducer{kind: schemas.ProducerValuation, delay: time.Second, report: schemas.AnalystReport{Producer: schemas.ProducerValuation}},
	}

	reports := Gather(context.Background(), producers, testInput(), 10*time.Millisecond, zaptest.NewLogger(t))

	require.Len(t, reports, 2)
	assert.False(t, reports[0].Failed(), "a slow peer must not poison fast producers")
	assert.True(t, reports[1].Failed())
	assert.Equal(t, 1, FailedCount(reports))
}
