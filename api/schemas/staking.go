package schemas

import "time"

// PoolState is a read-only snapshot of the reward distributor's pool,
// suitable for the query surface. Amounts are micro-units; the accumulator
// is serialized as a decimal string because it exceeds uint64 range.
type PoolState struct {
	TotalPrincipal     uint64    `json:"total_principal"`
	TotalWeightedStake uint64    `json:"total_weighted_stake"`
	Accumulator        string    `json:"accumulator"`
	Participants       int       `json:"participants"`
	LastUpdate         time.Time `json:"last_update"`
}

// EntryState is a read-only snapshot of one participant's stake.
type EntryState struct {
	Owner          string    `json:"owner"`
	Principal      uint64    `json:"principal"`
	WeightedStake  uint64    `json:"weighted_stake"`
	StakeStart     time.Time `json:"stake_start"`
	Snapshot       string    `json:"snapshot"`
	Unclaimed      uint64    `json:"unclaimed"`
	PendingUnstake uint64    `json:"pending_unstake,omitempty"`
	CooldownEnd    time.Time `json:"cooldown_end,omitzero"`
}
