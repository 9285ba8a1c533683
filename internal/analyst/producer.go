// Package analyst implements the four report producers and the parallel
// fan-out that gathers their opinions for a cycle. Producers are stateless
// and independent; a timeout or malformed model response becomes an
// error-marked report, never a raised error, so the orchestrator can apply
// the 2-of-4 degraded-mode rule uniformly.
package analyst

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/llmutil"
)

// Input is the read-only state handed to every producer.
type Input struct {
	Snapshot *schemas.BasketSnapshot
	Hints    []schemas.CalibrationHint
	History  []schemas.Decision
}

// Producer turns market state into a structured opinion.
type Producer interface {
	Kind() schemas.ProducerKind
	Produce(ctx context.Context, in Input) (schemas.AnalystReport, error)
}

// reportPayload is the schema a producer model must return.
type reportPayload struct {
	Confidence float64  `json:"confidence"`
	Signal     string   `json:"signal"`
	Evidence   []string `json:"evidence"`
}

// llmProducer is the uniform LLM-backed producer. The four specialists
// differ only in kind and system prompt.
type llmProducer struct {
	kind   schemas.ProducerKind
	system string
	llm    schemas.LLMClient
	logger *zap.Logger
}

func newLLMProducer(kind schemas.ProducerKind, system string, llm schemas.LLMClient, logger *zap.Logger) *llmProducer {
	return &llmProducer{
		kind:   kind,
		system: system,
		llm:    llm,
		logger: logger.Named("analyst." + string(kind)),
	}
}

func (p *llmProducer) Kind() schemas.ProducerKind { return p.kind }

func (p *llmProducer) Produce(ctx context.Context, in Input) (schemas.AnalystReport, error) {
	req := schemas.GenerationRequest{
		SystemPrompt: p.system,
		UserPrompt:   buildMarketPrompt(p.kind, in),
		Tier:         schemas.TierFast,
		Options: schemas.GenerationOptions{
			Temperature:     0.4,
			ForceJSONFormat: true,
		},
	}

	raw, err := p.llm.Generate(ctx, req)
	if err != nil {
		return schemas.AnalystReport{}, fmt.Errorf("producer %s generation failed: %w", p.kind, err)
	}

	payload, err := llmutil.ParseJSONResponse[reportPayload](raw)
	if err != nil {
		return schemas.AnalystReport{}, fmt.Errorf("producer %s returned malformed output: %w", p.kind, err)
	}
	if err := validatePayload(payload); err != nil {
		return schemas.AnalystReport{}, fmt.Errorf("producer %s schema violation: %w", p.kind, err)
	}

	return schemas.AnalystReport{
		Producer:    p.kind,
		Confidence:  payload.Confidence,
		Signal:      schemas.Signal(payload.Signal),
		Evidence:    payload.Evidence,
		GeneratedAt: time.Now().UTC(),
	}, nil
}

func validatePayload(p *reportPayload) error {
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("confidence %.3f out of [0,1]", p.Confidence)
	}
	switch schemas.Signal(p.Signal) {
	case schemas.SignalBullish, schemas.SignalBearish, schemas.SignalNeutral:
		return nil
	default:
		return fmt.Errorf("unknown signal %q", p.Signal)
	}
}

// DefaultProducers builds the fixed set of four specialists.
func DefaultProducers(llm schemas.LLMClient, logger *zap.Logger) []Producer {
	return []Producer{
		newLLMProducer(schemas.ProducerMomentum, momentumSystemPrompt, llm, logger),
		newLLMProducer(schemas.ProducerValuation, valuationSystemPrompt, llm, logger),
		newLLMProducer(schemas.ProducerSentiment, sentimentSystemPrompt, llm, logger),
		newLLMProducer(schemas.ProducerLiquidity, liquiditySystemPrompt, llm, logger),
	}
}

// Gather fans out to all producers in parallel and waits for every one, each
// bounded by perProducerTimeout. A slow or failing producer yields an
// error-marked report at its deadline; Gather itself never fails.
func Gather(ctx context.Context, producers []Producer, in Input, perProducerTimeout time.Duration, logger *zap.Logger) []schemas.AnalystReport {
	reports := make([]schemas.AnalystReport, len(producers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range producers {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, perProducerTimeout)
			defer cancel()

			report, err := p.Produce(pctx, in)
			if err != nil {
				logger.Warn("Report producer failed",
					zap.String("producer", string(p.Kind())),
					zap.Error(err),
				)
				report = schemas.AnalystReport{
					Producer:    p.Kind(),
					Error:       err.Error(),
					GeneratedAt: time.Now().UTC(),
				}
			}
			reports[i] = report
			return nil
		})
	}
	// Producers report failure through the error marker, so Wait cannot fail.
	_ = g.Wait()

	return reports
}

// FailedCount returns how many reports carry an error marker.
func FailedCount(reports []schemas.AnalystReport) int {
	n := 0
	for _, r := range reports {
		if r.Failed() {
			n++
		}
	}
	return n
}
