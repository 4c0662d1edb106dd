package evm

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"mixrelay/internal/config"
)

type fixedNonceQuerier struct {
	nonce uint64
}

func (q fixedNonceQuerier) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return q.nonce, nil
}

func newTestKeyHex(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return hex.EncodeToString(crypto.FromECDSA(key))
}

func newTestManager(t *testing.T) *AccountManager {
	t.Helper()
	cfg := &config.Config{
		Chains: map[string]config.ChainConfig{
			"5": {ChainID: "5", PrivateKey: newTestKeyHex(t)},
		},
	}
	m, err := NewAccountManager(cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("failed to create account manager: %v", err)
	}
	return m
}

func TestNewAccountManagerRejectsBadKey(t *testing.T) {
	cfg := &config.Config{
		Chains: map[string]config.ChainConfig{
			"5": {ChainID: "5", PrivateKey: "not-a-key"},
		},
	}
	if _, err := NewAccountManager(cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error for malformed private key")
	}
}

func TestReserveRequiresResync(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.ReserveNonce("5"); err == nil {
		t.Fatal("expected error before resync")
	}

	if _, err := m.ResyncNonce(context.Background(), "5", fixedNonceQuerier{nonce: 7}); err != nil {
		t.Fatalf("resync failed: %v", err)
	}

	nonce, err := m.ReserveNonce("5")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if nonce != 7 {
		t.Errorf("first nonce = %d, want 7", nonce)
	}
}

func TestReserveNonceStrictlyMonotonic(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.ResyncNonce(context.Background(), "5", fixedNonceQuerier{}); err != nil {
		t.Fatalf("resync failed: %v", err)
	}

	const workers = 32
	const perWorker = 16

	var mu sync.Mutex
	seen := make(map[uint64]bool)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				nonce, err := m.ReserveNonce("5")
				if err != nil {
					t.Errorf("reserve failed: %v", err)
					return
				}
				mu.Lock()
				if seen[nonce] {
					t.Errorf("nonce %d handed out twice", nonce)
				}
				seen[nonce] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != workers*perWorker {
		t.Fatalf("got %d distinct nonces, want %d", len(seen), workers*perWorker)
	}
	for n := uint64(0); n < workers*perWorker; n++ {
		if !seen[n] {
			t.Fatalf("nonce %d missing from the allocation", n)
		}
	}
}

func TestReleaseNonceOnlyNewest(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.ResyncNonce(context.Background(), "5", fixedNonceQuerier{}); err != nil {
		t.Fatalf("resync failed: %v", err)
	}

	n0, _ := m.ReserveNonce("5")
	n1, _ := m.ReserveNonce("5")

	// Releasing the older reservation must not roll back: n1 is live
	if m.ReleaseNonce("5", n0) {
		t.Error("released an older nonce while a newer one is live")
	}

	// Releasing the newest rolls the counter back
	if !m.ReleaseNonce("5", n1) {
		t.Error("failed to release the newest reservation")
	}
	again, _ := m.ReserveNonce("5")
	if again != n1 {
		t.Errorf("nonce after release = %d, want %d", again, n1)
	}
}

func TestResyncRefusedAfterReservation(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.ResyncNonce(context.Background(), "5", fixedNonceQuerier{}); err != nil {
		t.Fatalf("resync failed: %v", err)
	}
	if _, err := m.ReserveNonce("5"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if _, err := m.ResyncNonce(context.Background(), "5", fixedNonceQuerier{}); err == nil {
		t.Fatal("expected resync to fail while reservations are live")
	}
}

func TestAdoptNonceMovesCounterForward(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.ResyncNonce(context.Background(), "5", fixedNonceQuerier{nonce: 3}); err != nil {
		t.Fatalf("resync failed: %v", err)
	}

	if err := m.AdoptNonce("5", 10); err != nil {
		t.Fatalf("adopt failed: %v", err)
	}
	nonce, err := m.ReserveNonce("5")
	if err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if nonce != 11 {
		t.Errorf("nonce after adopt = %d, want 11", nonce)
	}

	// Adopting a nonce below the counter must not move it backward
	if err := m.AdoptNonce("5", 4); err != nil {
		t.Fatalf("adopt failed: %v", err)
	}
	next, _ := m.ReserveNonce("5")
	if next != 12 {
		t.Errorf("nonce after low adopt = %d, want 12", next)
	}
}

func TestSignTxProducesValidSender(t *testing.T) {
	m := newTestManager(t)

	tx := types.NewTransaction(0, common.HexToAddress("0x1111111111111111111111111111111111111111"),
		big.NewInt(0), 21000, big.NewInt(1), nil)

	signed, err := m.SignTx("5", tx)
	if err != nil {
		t.Fatalf("sign failed: %v", err)
	}

	sender, err := types.Sender(types.NewEIP155Signer(big.NewInt(5)), signed)
	if err != nil {
		t.Fatalf("sender recovery failed: %v", err)
	}

	address, err := m.Address("5")
	if err != nil {
		t.Fatalf("address lookup failed: %v", err)
	}
	if sender != address {
		t.Errorf("recovered sender %s, want %s", sender.Hex(), address.Hex())
	}
}

func TestUnknownChain(t *testing.T) {
	m := newTestManager(t)

	if _, err := m.ReserveNonce("99"); err == nil {
		t.Error("expected error for unknown chain")
	}
	if _, err := m.Address("99"); err == nil {
		t.Error("expected error for unknown chain")
	}
	if err := m.AdoptNonce("99", 1); err == nil {
		t.Error("expected error for unknown chain")
	}
}
