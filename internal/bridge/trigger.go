package bridge

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/config"
	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/internal/safety"

	"github.com/Matt-Aurora-Ventures/Jarvis-sub000/api/schemas"
)

// BridgedTotals reports how much value was bridged in a trailing window,
// feeding the rolling transfer ceiling.
type BridgedTotals interface {
	RecentBridgedTotal(ctx context.Context, window time.Duration) (uint64, error)
}

// TriggerPolicy decides when accrued fees are worth bridging. Amount-driven
// with a time fallback: fire when the accrued total crosses the threshold,
// or weekly for whatever has accrued, whichever comes first. Every trigger
// still clears the transfer ceilings and the congestion gate.
type TriggerPolicy struct {
	cfg    config.BridgeConfig
	totals BridgedTotals
	source schemas.SourceChain
	logger *zap.Logger
}

// NewTriggerPolicy builds the policy.
func NewTriggerPolicy(cfg config.BridgeConfig, totals BridgedTotals, source schemas.SourceChain, logger *zap.Logger) *TriggerPolicy {
	return &TriggerPolicy{
		cfg:    cfg,
		totals: totals,
		source: source,
		logger: logger.Named("bridge_trigger"),
	}
}

// ShouldTrigger returns whether to start a job for accruedRaw micro-units
// and the reason for the answer either way.
func (p *TriggerPolicy) ShouldTrigger(ctx context.Context, accruedRaw uint64, lastCompleted time.Time) (bool, string, error) {
	if accruedRaw == 0 {
		return false, "nothing accrued", nil
	}

	var why string
	switch {
	case accruedRaw >= p.cfg.TriggerThreshold:
		why = fmt.Sprintf("accrued %d >= threshold %d", accruedRaw, p.cfg.TriggerThreshold)
	case !lastCompleted.IsZero() && time.Since(lastCompleted) >= p.cfg.WeeklyFallback:
		why = fmt.Sprintf("fallback: %s since last bridge", time.Since(lastCompleted).Round(time.Hour))
	case lastCompleted.IsZero():
		// No bridge on record yet; wait for the amount threshold rather than
		// firing immediately on first accrual.
		return false, fmt.Sprintf("accrued %d below threshold, no prior bridge", accruedRaw), nil
	default:
		return false, fmt.Sprintf("accrued %d below threshold %d", accruedRaw, p.cfg.TriggerThreshold), nil
	}

	recent, err := p.totals.RecentBridgedTotal(ctx, 24*time.Hour)
	if err != nil {
		return false, "", fmt.Errorf("reading bridged totals: %w", err)
	}
	if err := safety.TransferAllowed(p.cfg, accruedRaw, recent); err != nil {
		p.logger.Warn("Bridge trigger blocked by transfer ceiling", zap.Error(err))
		return false, err.Error(), nil
	}

	congestion, err := p.source.Congestion(ctx)
	if err != nil {
		// Congestion is a deferral signal, not a hard dependency; an
		// unreadable signal defers rather than bridging blind.
		p.logger.Warn("Congestion signal unavailable, deferring trigger", zap.Error(err))
		return false, "congestion signal unavailable", nil
	}
	if congestion > p.cfg.CongestionCeiling {
		return false, fmt.Sprintf("congestion %.2f above ceiling %.2f", congestion, p.cfg.CongestionCeiling), nil
	}

	return true, why, nil
}
