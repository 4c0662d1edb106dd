package evm

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"mixrelay/internal/config"
)

// Client wraps an Ethereum RPC connection for one target chain. It exposes
// only the calls the relay engine needs: nonce query, gas estimation,
// broadcast, and receipt lookup.
type Client struct {
	ethClient   *ethclient.Client
	chainConfig *config.ChainConfig
	logger      *zap.Logger
}

// NewClient connects to the RPC endpoint of the specified chain
func NewClient(chainCfg *config.ChainConfig, logger *zap.Logger) (*Client, error) {
	ethClient, err := ethclient.Dial(chainCfg.RPCEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC endpoint %s: %w", chainCfg.RPCEndpoint, err)
	}

	logger.Info("EVM client initialized",
		zap.String("chain_id", chainCfg.ChainID),
		zap.String("chain_name", chainCfg.Name))

	return &Client{
		ethClient:   ethClient,
		chainConfig: chainCfg,
		logger:      logger,
	}, nil
}

// Close closes the underlying RPC connection
func (c *Client) Close() {
	c.ethClient.Close()
}

// ChainID returns the configured chain id
func (c *Client) ChainID() string {
	return c.chainConfig.ChainID
}

// PendingNonceAt returns the next nonce the chain expects for an address,
// including pending transactions
func (c *Client) PendingNonceAt(ctx context.Context, address common.Address) (uint64, error) {
	return c.ethClient.PendingNonceAt(ctx, address)
}

// SuggestGasPrice returns the gas price the endpoint suggests
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.ethClient.SuggestGasPrice(ctx)
}

// EstimateGas estimates gas for a transaction
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.ethClient.EstimateGas(ctx, msg)
}

// SendTransaction broadcasts a signed transaction
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.ethClient.SendTransaction(ctx, tx)
}

// TransactionReceipt returns the receipt for a transaction, or
// ethereum.NotFound if it has not been included yet
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return c.ethClient.TransactionReceipt(ctx, txHash)
}

// BlockNumber returns the current chain head height
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.ethClient.BlockNumber(ctx)
}

// GetETHBalance returns the native balance of an address. Used by the
// bootstrap to warn when the relayer account is underfunded.
func (c *Client) GetETHBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return c.ethClient.BalanceAt(ctx, address, nil)
}
