// Package signer provides the proposal signing backend used for privileged
// (governance/bridge) relay flows. Ordinary withdrawals never touch it.
package signer

import (
	"context"
)

// Kind identifies the backing capability of a proposal signer
type Kind string

const (
	KindLocal           Kind = "local"
	KindDistributedNode Kind = "distributed_node"
)

// ProposalSigner authorizes a privileged payload by producing a signature
// over it. Callers must not assume signatures are deterministic: a
// distributed node may produce different valid signatures for the same
// payload across calls.
type ProposalSigner interface {
	// Sign signs the payload. It may fail transiently (network timeout on
	// a distributed backend) or permanently (explicit refusal, malformed
	// credential).
	Sign(ctx context.Context, payload []byte) ([]byte, error)

	// CapabilityKind returns the backend variant
	CapabilityKind() Kind
}
