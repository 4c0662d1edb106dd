package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"mixrelay/internal/api"
	"mixrelay/internal/blockchain/evm"
	"mixrelay/internal/config"
	"mixrelay/internal/ledger"
	"mixrelay/internal/relay"
	"mixrelay/internal/retry"
	"mixrelay/internal/service"
	"mixrelay/internal/signer"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := initLogger()
	defer logger.Sync()

	logger.Info("Starting mix relayer")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	ldg, err := ledger.Open(cfg.Ledger.Path)
	if err != nil {
		logger.Fatal("Failed to open ledger", zap.Error(err))
	}
	defer ldg.Close()

	accounts, err := evm.NewAccountManager(cfg, logger.Named("accounts"))
	if err != nil {
		logger.Fatal("Failed to load relayer accounts", zap.Error(err))
	}

	bootCtx, cancelBoot := context.WithTimeout(context.Background(), time.Minute)
	defer cancelBoot()

	clients := make(map[string]relay.ChainClient)
	evmClients := make(map[string]*evm.Client)
	for chainID := range cfg.Chains {
		chain := cfg.Chains[chainID]
		client, err := evm.NewClient(&chain, logger.Named("evm").With(zap.String("chain", chain.Name)))
		if err != nil {
			logger.Fatal("Failed to connect to chain",
				zap.String("chain_id", chainID), zap.Error(err))
		}
		evmClients[chainID] = client
		clients[chainID] = client

		if _, err := accounts.ResyncNonce(bootCtx, chainID, client); err != nil {
			logger.Fatal("Failed to resynchronize nonce",
				zap.String("chain_id", chainID), zap.Error(err))
		}

		warnIfUnderfunded(bootCtx, logger, accounts, client, chainID)
	}
	defer func() {
		for _, client := range evmClients {
			client.Close()
		}
	}()

	signers, err := buildSigners(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to build proposal signers", zap.Error(err))
	}

	fees := service.NewFeeService(cfg, logger.Named("fees"))
	policy := retry.Policy{
		BaseDelay:      cfg.Retry.BaseDelay,
		Multiplier:     cfg.Retry.Multiplier,
		MaxDelay:       cfg.Retry.MaxDelay,
		MaxElapsedTime: cfg.Retry.MaxElapsedTime,
	}

	engine, err := relay.NewEngine(cfg, ldg, accounts, clients, signers, fees, policy, logger)
	if err != nil {
		logger.Fatal("Failed to create relay engine", zap.Error(err))
	}

	resumed, err := engine.Resume()
	if err != nil {
		logger.Fatal("Failed to resume pending relay records", zap.Error(err))
	}
	if resumed > 0 {
		logger.Info("Resumed pending relay records", zap.Int("count", resumed))
	}

	handlers := api.NewHandlers(cfg, engine, ldg, logger)
	router := api.NewRouter(handlers, logger.Named("http"))

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown failed", zap.Error(err))
	}

	engine.Shutdown(shutdownTimeout)
	logger.Info("Shutdown complete")
}

// initLogger creates the process logger, production encoding when
// ENV=production
func initLogger() *zap.Logger {
	var logger *zap.Logger
	var err error

	if os.Getenv("ENV") == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// buildSigners constructs the proposal signing backend for every privileged
// contract profile. Anchors never appear here.
func buildSigners(cfg *config.Config, logger *zap.Logger) (map[string]signer.ProposalSigner, error) {
	signers := make(map[string]signer.ProposalSigner)

	for chainID, chain := range cfg.Chains {
		for address, profile := range chain.Contracts {
			if !profile.Kind.Privileged() {
				continue
			}

			key := relay.SignerKey(chainID, address)
			switch profile.SignerBackend {
			case "remote":
				signers[key] = signer.NewRemoteSigner(profile.RemoteSignerURL, 0, logger.Named("signer"))
			default:
				local, err := signer.NewLocalSigner(chain.PrivateKey)
				if err != nil {
					return nil, fmt.Errorf("chain %s contract %s: %w", chainID, address, err)
				}
				signers[key] = local
			}

			logger.Info("Proposal signer configured",
				zap.String("chain_id", chainID),
				zap.String("contract", address),
				zap.String("backend", string(signers[key].CapabilityKind())))
		}
	}

	return signers, nil
}

// warnIfUnderfunded logs a warning when the relayer account cannot cover
// gas on a chain. Not fatal: funding may arrive after startup.
func warnIfUnderfunded(ctx context.Context, logger *zap.Logger, accounts *evm.AccountManager, client *evm.Client, chainID string) {
	address, err := accounts.Address(chainID)
	if err != nil {
		return
	}
	balance, err := client.GetETHBalance(ctx, address)
	if err != nil {
		logger.Warn("Failed to query relayer balance",
			zap.String("chain_id", chainID), zap.Error(err))
		return
	}
	if balance.Sign() == 0 {
		logger.Warn("Relayer account has zero balance",
			zap.String("chain_id", chainID),
			zap.String("address", address.Hex()))
	}
}
