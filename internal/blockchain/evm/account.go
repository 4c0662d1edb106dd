package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"mixrelay/internal/config"
)

// NonceQuerier is the one chain call the account manager needs at startup
type NonceQuerier interface {
	PendingNonceAt(ctx context.Context, address common.Address) (uint64, error)
}

// account owns the signing credential and the nonce counter for one chain.
// The counter is never exposed; callers only get reservations.
type account struct {
	chainID    *big.Int
	privateKey *ecdsa.PrivateKey
	address    common.Address
	signer     types.Signer

	mu        sync.Mutex
	nextNonce uint64
	resynced  bool
	reserved  int
}

// AccountManager holds one relayer account per configured chain and
// serializes nonce allocation across concurrent relay requests.
type AccountManager struct {
	accounts map[string]*account
	logger   *zap.Logger
}

// NewAccountManager parses the per-chain signing credentials from config.
// A malformed key is a fatal configuration error.
func NewAccountManager(cfg *config.Config, logger *zap.Logger) (*AccountManager, error) {
	accounts := make(map[string]*account)

	for chainID, chain := range cfg.Chains {
		keyHex := strings.TrimPrefix(chain.PrivateKey, "0x")
		privateKey, err := crypto.HexToECDSA(keyHex)
		if err != nil {
			return nil, fmt.Errorf("chain %s: failed to parse private key: %w", chainID, err)
		}

		numericID, err := strconv.ParseUint(chain.ChainID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("chain %s: invalid chain id: %w", chainID, err)
		}

		address := crypto.PubkeyToAddress(privateKey.PublicKey)
		accounts[chainID] = &account{
			chainID:    new(big.Int).SetUint64(numericID),
			privateKey: privateKey,
			address:    address,
			signer:     types.NewEIP155Signer(new(big.Int).SetUint64(numericID)),
		}

		logger.Info("Relayer account loaded",
			zap.String("chain_id", chainID),
			zap.String("address", address.Hex()))
	}

	return &AccountManager{
		accounts: accounts,
		logger:   logger,
	}, nil
}

func (m *AccountManager) get(chainID string) (*account, error) {
	acct, ok := m.accounts[chainID]
	if !ok {
		return nil, fmt.Errorf("no relayer account for chain %s", chainID)
	}
	return acct, nil
}

// Address returns the relayer address on a chain
func (m *AccountManager) Address(chainID string) (common.Address, error) {
	acct, err := m.get(chainID)
	if err != nil {
		return common.Address{}, err
	}
	return acct.address, nil
}

// ResyncNonce queries the chain for the confirmed nonce and resets the
// counter. It is the only operation that may move the counter backward and
// must run before any reservation in this process.
func (m *AccountManager) ResyncNonce(ctx context.Context, chainID string, client NonceQuerier) (uint64, error) {
	acct, err := m.get(chainID)
	if err != nil {
		return 0, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.reserved > 0 {
		return 0, fmt.Errorf("chain %s: nonce resync after reservations would reuse live nonces", chainID)
	}

	nonce, err := client.PendingNonceAt(ctx, acct.address)
	if err != nil {
		return 0, fmt.Errorf("chain %s: failed to query nonce: %w", chainID, err)
	}

	acct.nextNonce = nonce
	acct.resynced = true

	m.logger.Info("Nonce resynchronized",
		zap.String("chain_id", chainID),
		zap.String("address", acct.address.Hex()),
		zap.Uint64("next_nonce", nonce))

	return nonce, nil
}

// ReserveNonce allocates the next free nonce for a chain. Allocation is a
// strict critical section; a reserved value is never handed out twice in
// this process.
func (m *AccountManager) ReserveNonce(chainID string) (uint64, error) {
	acct, err := m.get(chainID)
	if err != nil {
		return 0, err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if !acct.resynced {
		return 0, fmt.Errorf("chain %s: nonce not resynchronized at startup", chainID)
	}

	nonce := acct.nextNonce
	acct.nextNonce++
	acct.reserved++
	return nonce, nil
}

// ReleaseNonce compensates an abandoned reservation that never reached the
// chain. The counter only rolls back when the released nonce is still the
// newest reservation; otherwise the gap stays and is healed by the next
// restart resynchronization.
func (m *AccountManager) ReleaseNonce(chainID string, nonce uint64) bool {
	acct, err := m.get(chainID)
	if err != nil {
		return false
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if acct.nextNonce == nonce+1 {
		acct.nextNonce = nonce
		return true
	}
	return false
}

// AdoptNonce moves the counter past a nonce recovered from the ledger at
// restart, so resumed records keep their reservation.
func (m *AccountManager) AdoptNonce(chainID string, nonce uint64) error {
	acct, err := m.get(chainID)
	if err != nil {
		return err
	}

	acct.mu.Lock()
	defer acct.mu.Unlock()

	if nonce >= acct.nextNonce {
		acct.nextNonce = nonce + 1
	}
	acct.reserved++
	return nil
}

// SignTx signs a transaction with the chain's relayer credential (EIP-155)
func (m *AccountManager) SignTx(chainID string, tx *types.Transaction) (*types.Transaction, error) {
	acct, err := m.get(chainID)
	if err != nil {
		return nil, err
	}

	signed, err := types.SignTx(tx, acct.signer, acct.privateKey)
	if err != nil {
		return nil, fmt.Errorf("chain %s: failed to sign transaction: %w", chainID, err)
	}
	return signed, nil
}
