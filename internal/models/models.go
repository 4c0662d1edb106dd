package models

import (
	"time"
)

// RelayStatus represents the state of a relay attempt
type RelayStatus string

const (
	RelayStatusQueued        RelayStatus = "QUEUED"
	RelayStatusNonceReserved RelayStatus = "NONCE_RESERVED"
	RelayStatusSigned        RelayStatus = "SIGNED"
	RelayStatusSubmitted     RelayStatus = "SUBMITTED"
	RelayStatusConfirmed     RelayStatus = "CONFIRMED"
	RelayStatusFailed        RelayStatus = "FAILED"
	RelayStatusRejected      RelayStatus = "REJECTED"
)

// statusRank orders statuses along the state machine. Terminal states share
// the highest rank so no transition out of them is ever legal.
var statusRank = map[RelayStatus]int{
	RelayStatusQueued:        0,
	RelayStatusNonceReserved: 1,
	RelayStatusSigned:        2,
	RelayStatusSubmitted:     3,
	RelayStatusConfirmed:     4,
	RelayStatusFailed:        4,
	RelayStatusRejected:      4,
}

// Terminal reports whether the status is final
func (s RelayStatus) Terminal() bool {
	switch s {
	case RelayStatusConfirmed, RelayStatusFailed, RelayStatusRejected:
		return true
	}
	return false
}

// CanAdvanceTo reports whether a record may move from s to next.
// Statuses only move forward, with two exceptions: any non-terminal state
// may jump to REJECTED, and SUBMITTED may re-enter SUBMITTED (resubmission
// with a replacement transaction at the same nonce).
func (s RelayStatus) CanAdvanceTo(next RelayStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == RelayStatusRejected {
		return true
	}
	if s == RelayStatusSubmitted && next == RelayStatusSubmitted {
		return true
	}
	return statusRank[next] > statusRank[s]
}

// ContractKind classifies the target contract of a relay request
type ContractKind string

const (
	ContractKindAnchor             ContractKind = "anchor"
	ContractKindBridge             ContractKind = "bridge"
	ContractKindGovernanceDelegate ContractKind = "governance_delegate"
)

// Privileged reports whether calls to this contract kind require a
// governance signature from the proposal signing backend.
func (k ContractKind) Privileged() bool {
	return k == ContractKindBridge || k == ContractKindGovernanceDelegate
}

// RelayRecord is the durable lifecycle record of one relay request, keyed
// by the request fingerprint. It is owned exclusively by the relay engine
// and persisted before every externally visible side effect.
type RelayRecord struct {
	Fingerprint string      `json:"fingerprint"`
	ChainID     string      `json:"chain_id"`
	Contract    string      `json:"contract"`
	Status      RelayStatus `json:"status"`
	Nonce       *uint64     `json:"nonce,omitempty"`
	TxHash      string      `json:"tx_hash,omitempty"`
	FeeWei      string      `json:"fee_wei,omitempty"`
	RetryCount  int         `json:"retry_count"`
	LastError   string      `json:"last_error,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`

	// Request is the original relay request, retained so that crash
	// recovery can rebuild and resubmit the transaction from persisted
	// state alone.
	Request *RelayRequest `json:"request,omitempty"`
}

// StatusEvent is one element of the status stream a caller receives for an
// in-flight relay request. The stream is ordered by transition order and
// ends with exactly one terminal event.
type StatusEvent struct {
	Fingerprint string      `json:"fingerprint"`
	Status      RelayStatus `json:"status"`
	TxHash      string      `json:"txHash,omitempty"`
	Error       string      `json:"error,omitempty"`
}
