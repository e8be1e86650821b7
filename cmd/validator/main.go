package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tensorliq/lpvalidator/internal/chains"
	"github.com/tensorliq/lpvalidator/internal/chains/evm"
	"github.com/tensorliq/lpvalidator/internal/chains/solana"
	"github.com/tensorliq/lpvalidator/internal/config"
	"github.com/tensorliq/lpvalidator/internal/signature"
	"github.com/tensorliq/lpvalidator/internal/substrate"
	"github.com/tensorliq/lpvalidator/internal/utils/logger"
	"github.com/tensorliq/lpvalidator/internal/validator"
)

func main() {
	logger.Init()
	log.Info().Msg("Starting validator...")

	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env not loaded; continuing with existing environment")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Error().Err(err).Msg("failed to load environment configuration")
		os.Exit(1)
	}

	keypair, err := signature.NewKeypairFromMnemonic(cfg.HotkeyMnemonic)
	if err != nil {
		log.Error().Err(err).Msg("failed to load validator hotkey")
		os.Exit(1)
	}
	log.Info().Str("hotkey", keypair.Address()).Msg("validator hotkey loaded")

	endpoint := cfg.SubtensorWsURL
	if cfg.BittensorWsEndpoint != "" {
		endpoint = cfg.BittensorWsEndpoint
	}
	client, err := substrate.Initialize(endpoint, keypair, substrate.Options{
		HotkeyBatchSize: cfg.HotkeyBatchSize,
		HotkeysCacheTTL: time.Duration(cfg.HotkeysCacheTTLMs) * time.Millisecond,
		Timeout:         time.Duration(cfg.RPCTimeoutMs) * time.Millisecond,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to connect substrate client")
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to build chain adapters")
		os.Exit(1)
	}

	v := validator.NewValidator(cfg, client, registry, nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info().Msg("shutdown signal received, stopping validator")
		v.Stop()
	}()

	v.Start()

	<-v.Ctx.Done()
	v.Wg.Wait()
	log.Info().Msg("validator stopped")
}

func buildRegistry(cfg *config.AppConfig) (*chains.Registry, error) {
	enabled, err := chains.ParseChainTags(cfg.EnabledChains)
	if err != nil {
		return nil, err
	}

	retryCfg := evm.RetryConfig{
		MaxRetries:           cfg.MaxRetries,
		InitialRetryDelay:    time.Duration(cfg.InitialRetryDelayMs) * time.Millisecond,
		RateLimitRetryDelay:  time.Duration(cfg.RetryBaseDelayMs) * 4 * time.Millisecond,
		MaxRetryDelay:        time.Duration(cfg.MaxRetryDelayMs) * time.Millisecond,
		Timeout:              time.Duration(cfg.RPCTimeoutMs) * time.Millisecond,
		PositionBatchSize:    cfg.PositionBatchSize,
		MaxConcurrentBatches: cfg.MaxConcurrentBatches,
		BatchDelay:           time.Duration(cfg.BatchDelayMs) * time.Millisecond,
	}

	registry := chains.NewRegistry()
	for _, tag := range enabled {
		switch tag {
		case chains.ChainSolana:
			registry.Register(solana.NewAdapter(solana.Config{
				RPCURL:               cfg.SolanaRPCURL,
				StakingProgramID:     cfg.SolanaStakingProgram,
				MaxRetries:           cfg.MaxRetries,
				InitialRetryDelay:    time.Duration(cfg.InitialRetryDelayMs) * time.Millisecond,
				MaxRetryDelay:        time.Duration(cfg.MaxRetryDelayMs) * time.Millisecond,
				MaxConcurrentBatches: cfg.MaxConcurrentBatches,
			}))
		case chains.ChainEthereum:
			registry.Register(evm.NewAdapter(evm.Config{
				Tag:             chains.ChainEthereum,
				RPCURL:          cfg.EthereumRPCURL,
				StakingContract: cfg.EthereumStakingContract,
				Factory:         cfg.EthereumFactory,
				PositionManager: cfg.EthereumPositionManager,
				Multicall:       cfg.EthereumMulticall,
				Retry:           retryCfg,
			}))
		case chains.ChainBase:
			registry.Register(evm.NewAdapter(evm.Config{
				Tag:             chains.ChainBase,
				RPCURL:          cfg.BaseRPCURL,
				StakingContract: cfg.BaseStakingContract,
				Factory:         cfg.BaseFactory,
				PositionManager: cfg.BasePositionManager,
				Multicall:       cfg.BaseMulticall,
				Retry:           retryCfg,
			}))
		}
	}
	return registry, nil
}
