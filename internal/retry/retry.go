package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrSigningRefused is returned when a remote signing party explicitly
// declines to sign a payload. It is permanent for that request.
var ErrSigningRefused = errors.New("signing request refused")

// permanentMarkers identify chain or signing failures that retrying cannot
// fix. Matching is on the error text because RPC endpoints surface these as
// opaque JSON-RPC messages.
var permanentMarkers = []string{
	"insufficient funds",
	"execution reverted",
	"invalid signature",
	"invalid sender",
	"intrinsic gas too low",
	"exceeds block gas limit",
}

// transientMarkers identify failures worth retrying with backoff
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"timed out",
	"deadline exceeded",
	"rate limit",
	"too many requests",
	"nonce too low",
	"replacement transaction underpriced",
	"transaction underpriced",
	"already known",
	"temporarily unavailable",
	"EOF",
}

// IsPermanent reports whether the error is a permanent failure that must
// not be retried. Unknown errors are treated as transient so the bounded
// backoff policy decides when to give up.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrSigningRefused) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, strings.ToLower(marker)) {
			return false
		}
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Policy is a bounded exponential backoff with jitter, shared by all
// network operations of the relayer.
type Policy struct {
	BaseDelay      time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	MaxElapsedTime time.Duration
}

// DefaultPolicy matches the documented configuration defaults
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:      time.Second,
		Multiplier:     2.0,
		MaxDelay:       30 * time.Second,
		MaxElapsedTime: 2 * time.Minute,
	}
}

func (p Policy) newBackOff(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.Multiplier = p.Multiplier
	bo.MaxInterval = p.MaxDelay
	bo.MaxElapsedTime = p.MaxElapsedTime
	bo.Reset()
	return backoff.WithContext(bo, ctx)
}

// Do runs op until it succeeds, fails permanently, the policy's elapsed
// time budget runs out, or the context is cancelled. Cancellation is
// honored at retry boundaries; an in-flight op call is never interrupted
// by the policy itself.
func (p Policy) Do(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err != nil && IsPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, p.newBackOff(ctx))
}
