package schemas

import (
	"time"

	"github.com/google/uuid"
)

// BridgeState is a stop on the settlement pipeline. States advance strictly
// forward through StateOrder; Failed and Cancelled are absorbing exits
// reachable from any non-terminal state.
type BridgeState string

const (
	BridgeReady               BridgeState = "READY"
	BridgeSourceLocked        BridgeState = "SOURCE_LOCKED"
	BridgeSourceConfirmed     BridgeState = "SOURCE_CONFIRMED"
	BridgeAttestationPending  BridgeState = "ATTESTATION_PENDING"
	BridgeAttestationReceived BridgeState = "ATTESTATION_RECEIVED"
	BridgeDestMinted          BridgeState = "DEST_MINTED"
	BridgeDeposited           BridgeState = "DEPOSITED"
	BridgeFailed              BridgeState = "FAILED"
	BridgeCancelled           BridgeState = "CANCELLED"
)

// BridgeStateOrder is the forward path of the state machine.
var BridgeStateOrder = []BridgeState{
	BridgeReady,
	BridgeSourceLocked,
	BridgeSourceConfirmed,
	BridgeAttestationPending,
	BridgeAttestationReceived,
	BridgeDestMinted,
	BridgeDeposited,
}

// Terminal reports whether no further transitions are possible.
func (s BridgeState) Terminal() bool {
	return s == BridgeDeposited || s == BridgeFailed || s == BridgeCancelled
}

// Index returns the position of s on the forward path, or -1 for the
// absorbing exits.
func (s BridgeState) Index() int {
	for i, st := range BridgeStateOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// BridgeJob is one initiated source-to-destination transfer. The settlement
// controller mutates it in place; every state change is persisted atomically
// with the artifact produced by that step, so the record always reflects
// exactly what has durably completed.
type BridgeJob struct {
	ID        uuid.UUID   `json:"id"`
	AmountRaw uint64      `json:"amount_raw"` // micro-units
	State     BridgeState `json:"state"`

	// Per-step artifacts. Presence drives resume logic.
	LockTxRef    string `json:"lock_tx_ref,omitempty"`
	MessageHash  string `json:"message_hash,omitempty"`
	Attestation  string `json:"attestation,omitempty"`
	MintTxRef    string `json:"mint_tx_ref,omitempty"`
	DepositTxRef string `json:"deposit_tx_ref,omitempty"`

	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retry_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ResumeState derives the state a job should continue from purely from which
// artifacts are present. A crash between a chain call and its persisted
// transition leaves the artifact missing, so the step re-runs; every step is
// check-before-act and therefore safe to retry.
func (j *BridgeJob) ResumeState() BridgeState {
	switch {
	case j.DepositTxRef != "":
		return BridgeDeposited
	case j.MintTxRef != "":
		return BridgeDestMinted
	case j.Attestation != "":
		return BridgeAttestationReceived
	case j.MessageHash != "":
		return BridgeAttestationPending
	case j.LockTxRef != "":
		return BridgeSourceLocked
	default:
		return BridgeReady
	}
}

// BridgeEvent is one persisted transition of a job, kept for the audit
// history exposed by the query surface.
type BridgeEvent struct {
	JobID     uuid.UUID   `json:"job_id"`
	State     BridgeState `json:"state"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}
