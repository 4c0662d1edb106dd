package signer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"mixrelay/internal/retry"
)

const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func TestLocalSignerRoundTrip(t *testing.T) {
	s, err := NewLocalSigner(testKey)
	if err != nil {
		t.Fatalf("failed to create signer: %v", err)
	}
	if s.CapabilityKind() != KindLocal {
		t.Errorf("kind = %s, want local", s.CapabilityKind())
	}

	payload := []byte("proposal payload")
	sig, err := s.Sign(context.Background(), payload)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}

	key, _ := crypto.HexToECDSA(testKey)
	digest := crypto.Keccak256(payload)
	recovered, err := crypto.SigToPub(digest, sig)
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if crypto.PubkeyToAddress(*recovered) != crypto.PubkeyToAddress(key.PublicKey) {
		t.Error("signature does not recover the signing key")
	}
}

func TestLocalSignerAcceptsPrefixedKey(t *testing.T) {
	if _, err := NewLocalSigner("0x" + testKey); err != nil {
		t.Fatalf("prefixed key rejected: %v", err)
	}
}

func TestLocalSignerRejectsMalformedKey(t *testing.T) {
	if _, err := NewLocalSigner("not hex"); err == nil {
		t.Fatal("expected error for malformed key")
	}
}

func TestRemoteSignerSuccess(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03}
	signature := hexutil.Bytes{0xaa, 0xbb}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Payload hexutil.Bytes `json:"payload"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if string(req.Payload) != string(payload) {
			t.Errorf("payload = %x, want %x", req.Payload, payload)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"signature": signature})
	}))
	defer server.Close()

	s := NewRemoteSigner(server.URL, time.Second, zap.NewNop())
	if s.CapabilityKind() != KindDistributedNode {
		t.Errorf("kind = %s, want distributed_node", s.CapabilityKind())
	}

	sig, err := s.Sign(context.Background(), payload)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}
	if string(sig) != string(signature) {
		t.Errorf("signature = %x, want %x", sig, signature)
	}
}

func TestRemoteSignerRefusal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"refused": true,
			"reason":  "proposal not whitelisted",
		})
	}))
	defer server.Close()

	s := NewRemoteSigner(server.URL, time.Second, zap.NewNop())
	_, err := s.Sign(context.Background(), []byte{0x01})
	if err == nil {
		t.Fatal("expected refusal error")
	}
	if !errors.Is(err, retry.ErrSigningRefused) {
		t.Errorf("refusal must carry the sentinel, got: %v", err)
	}
	if !retry.IsPermanent(err) {
		t.Error("refusal must classify as permanent")
	}
}

func TestRemoteSignerEmptySignature(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{})
	}))
	defer server.Close()

	s := NewRemoteSigner(server.URL, time.Second, zap.NewNop())
	if _, err := s.Sign(context.Background(), []byte{0x01}); err == nil {
		t.Fatal("expected error for empty signature")
	}
}

func TestRemoteSignerUnreachableIsTransient(t *testing.T) {
	s := NewRemoteSigner("http://127.0.0.1:1", 100*time.Millisecond, zap.NewNop())
	_, err := s.Sign(context.Background(), []byte{0x01})
	if err == nil {
		t.Fatal("expected network error")
	}
	if retry.IsPermanent(err) {
		t.Errorf("network failure must classify as transient, got: %v", err)
	}
}
