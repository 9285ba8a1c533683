package schemas

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// -- LLM Interfaces --

// ModelTier selects which class of model serves a request.
type ModelTier string

const (
	TierFast     ModelTier = "fast"
	TierPowerful ModelTier = "powerful"
)

// GenerationOptions tune a single completion request.
type GenerationOptions struct {
	Temperature     float32
	ForceJSONFormat bool
}

// GenerationRequest is the uniform request every producer, advocate and
// judge role sends to the completion service. Output is always validated
// against a schema by the caller; malformed output is a producer failure,
// never trusted as-is.
type GenerationRequest struct {
	SystemPrompt string
	UserPrompt   string
	Tier         ModelTier
	Options      GenerationOptions
}

// LLMClient abstracts the language-model completion service.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// -- Market & Chain Interfaces (consumed collaborators) --

// MarketReader supplies the current market/portfolio view.
type MarketReader interface {
	// Snapshot returns current weights, NAV, liquidity and trailing price
	// movement for the basket.
	Snapshot(ctx context.Context) (*BasketSnapshot, error)
	// ChangeSince returns per-token fractional price movement and the NAV
	// movement since t. Used by the reflection engine.
	ChangeSince(ctx context.Context, t time.Time) (perToken map[string]float64, nav float64, err error)
}

// BasketContract is the narrow on-chain surface for the managed basket.
type BasketContract interface {
	ReadComposition(ctx context.Context) (map[string]float64, error)
	// SubmitRebalance submits the target weights and waits, bounded by ctx,
	// for confirmation. Returns the transaction reference.
	SubmitRebalance(ctx context.Context, weights map[string]float64) (string, error)
}

// SourceChain exposes the lock/burn side of the bridge.
type SourceChain interface {
	// ExistingLock reports whether a lock already exists for the job. Lock
	// submission is check-before-act so a retried step never double-locks.
	ExistingLock(ctx context.Context, jobID uuid.UUID) (txRef string, ok bool, err error)
	// Lock burns amountRaw for bridging and returns the transaction reference.
	Lock(ctx context.Context, jobID uuid.UUID, amountRaw uint64) (txRef string, err error)
	// ConfirmLock waits, bounded by ctx, for the lock transaction and returns
	// the bridge message hash extracted from it.
	ConfirmLock(ctx context.Context, txRef string) (messageHash string, err error)
	// Congestion returns the chain's current congestion signal in [0,1].
	Congestion(ctx context.Context) (float64, error)
}

// Attestor is the third-party attestation service, polled by message hash.
type Attestor interface {
	// Attestation returns the signed payload once available. ready is false
	// while the attestation is still pending.
	Attestation(ctx context.Context, messageHash string) (payload string, ready bool, err error)
}

// DestChain exposes the mint side of the bridge and the reward deposit.
type DestChain interface {
	// ExistingMint reports whether a mint already exists for the message.
	ExistingMint(ctx context.Context, messageHash string) (txRef string, ok bool, err error)
	// Mint submits the attested message and returns the transaction reference.
	Mint(ctx context.Context, messageHash, attestation string) (txRef string, err error)
	// DepositReward moves amountRaw of minted value into the staking pool's
	// reward account and returns the transaction reference.
	DepositReward(ctx context.Context, amountRaw uint64) (txRef string, err error)
}

// -- Notification --

// AlertSeverity grades a notification.
type AlertSeverity string

const (
	AlertInfo     AlertSeverity = "info"
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// Notifier is a fire-and-forget, best-effort alert sink. Implementations
// must never block the caller on delivery.
type Notifier interface {
	Alert(severity AlertSeverity, message string)
}

// NopNotifier discards all alerts.
type NopNotifier struct{}

func (NopNotifier) Alert(AlertSeverity, string) {}
