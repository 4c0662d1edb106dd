package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"go.uber.org/zap"

	"mixrelay/internal/retry"
)

// RemoteSigner forwards proposals to a distributed signing party over a
// request/response channel and awaits a signature. A timeout is transient;
// an explicit refusal is permanent for that request.
type RemoteSigner struct {
	url     string
	client  *http.Client
	logger  *zap.Logger
	timeout time.Duration
}

// NewRemoteSigner creates a signer backed by a remote signing node
func NewRemoteSigner(url string, timeout time.Duration, logger *zap.Logger) *RemoteSigner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RemoteSigner{
		url:     url,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		timeout: timeout,
	}
}

type signRequest struct {
	Payload hexutil.Bytes `json:"payload"`
}

type signResponse struct {
	Signature hexutil.Bytes `json:"signature,omitempty"`
	Refused   bool          `json:"refused,omitempty"`
	Reason    string        `json:"reason,omitempty"`
}

// Sign submits the payload to the signing party and waits for its answer
func (s *RemoteSigner) Sign(ctx context.Context, payload []byte) ([]byte, error) {
	body, err := json.Marshal(signRequest{Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode signing request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build signing request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// Network failures (timeouts included) are transient; the retry
		// policy decides when to give up.
		return nil, fmt.Errorf("signing node unreachable: %w", err)
	}
	defer resp.Body.Close()

	var result signResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode signing response: %w", err)
	}

	if result.Refused || resp.StatusCode == http.StatusForbidden {
		s.logger.Warn("Signing node refused proposal",
			zap.String("reason", result.Reason))
		return nil, fmt.Errorf("%w: %s", retry.ErrSigningRefused, result.Reason)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signing node returned status %d", resp.StatusCode)
	}

	if len(result.Signature) == 0 {
		return nil, fmt.Errorf("signing node returned an empty signature")
	}

	return result.Signature, nil
}

// CapabilityKind returns KindDistributedNode
func (s *RemoteSigner) CapabilityKind() Kind {
	return KindDistributedNode
}
