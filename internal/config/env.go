// Package config defines environment configuration structs and loaders.
package config

import (
	"github.com/caarlos0/env/v11"
)

type AppConfig struct {
	ChainEnvConfig
	WalletEnvConfig
	SubtensorEnvConfig
	ValidatorEnvConfig
	PolicyEnvConfig
	RetryEnvConfig
	SolanaEnvConfig
	EthereumEnvConfig
	BaseEnvConfig
}

func LoadConfig() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ChainEnvConfig holds subnet-specific environment values.
type ChainEnvConfig struct {
	Netuid        int    `env:"NETUID" envDefault:"106"`
	EnabledChains string `env:"ENABLED_CHAINS" envDefault:"solana,ethereum,base"`
}

// WalletEnvConfig holds the signing key. The mnemonic is a secret and must
// never appear in logs.
type WalletEnvConfig struct {
	HotkeyMnemonic string `env:"VALIDATOR_HOTKEY_MNEMONIC"`
}

// SubtensorEnvConfig targets the subtensor access point.
type SubtensorEnvConfig struct {
	SubtensorWsURL      string `env:"SUBTENSOR_WS_URL" envDefault:"ws://127.0.0.1:9944"`
	BittensorWsEndpoint string `env:"BITTENSOR_WS_ENDPOINT"`
	HotkeysCacheTTLMs   int    `env:"HOTKEYS_CACHE_TTL_MS" envDefault:"60000"`
	HotkeyBatchSize     int    `env:"HOTKEY_BATCH_SIZE" envDefault:"16"`
}

// ValidatorEnvConfig configures the validator runtime. IntervalMinutes of 0
// selects a uniformly random interval in [10, 30] minutes per cycle.
type ValidatorEnvConfig struct {
	Environment     string  `env:"ENVIRONMENT" envDefault:"prod"`
	IntervalMinutes int     `env:"VALIDATOR_INTERVAL_MINUTES" envDefault:"0"`
	UseEMA          bool    `env:"USE_EMA" envDefault:"true"`
	EmaAlpha        float64 `env:"EMA_ALPHA" envDefault:"0.3"`
	EmaEpsilon      float64 `env:"EMA_EPSILON" envDefault:"1e-6"`
	WeightsDir      string  `env:"WEIGHTS_DIR" envDefault:"weights"`
}

// PolicyEnvConfig holds the pool-allocation and burn policy knobs. The
// reserved-share values are operating points, not protocol constants.
type PolicyEnvConfig struct {
	ReservedShareSubnet0   float64 `env:"RESERVED_SHARE_SUBNET_0" envDefault:"0.20"`
	ReservedShareSubnet106 float64 `env:"RESERVED_SHARE_SUBNET_106" envDefault:"0.10"`
	BurnPercentage         float64 `env:"BURN_PERCENTAGE" envDefault:"0"`
	PoolAllocator          string  `env:"POOL_ALLOCATOR" envDefault:"reserved"`
}

// RetryEnvConfig holds RPC performance knobs shared by the chain adapters.
type RetryEnvConfig struct {
	MaxRetries           int `env:"MAX_RETRIES" envDefault:"3"`
	RetryBaseDelayMs     int `env:"RETRY_BASE_DELAY_MS" envDefault:"500"`
	InitialRetryDelayMs  int `env:"INITIAL_RETRY_DELAY_MS" envDefault:"500"`
	MaxRetryDelayMs      int `env:"MAX_RETRY_DELAY_MS" envDefault:"20000"`
	RPCTimeoutMs         int `env:"RPC_TIMEOUT_MS" envDefault:"30000"`
	PositionBatchSize    int `env:"POSITION_BATCH_SIZE" envDefault:"50"`
	MaxConcurrentBatches int `env:"MAX_CONCURRENT_BATCHES" envDefault:"4"`
	BatchDelayMs         int `env:"BATCH_DELAY_MS" envDefault:"100"`
}

// SolanaEnvConfig configures the Solana staking program adapter.
type SolanaEnvConfig struct {
	SolanaRPCURL         string `env:"SOLANA_RPC_URL"`
	SolanaStakingProgram string `env:"SOLANA_STAKING_PROGRAM_ID"`
}

// EthereumEnvConfig configures the Ethereum staking contract adapter.
type EthereumEnvConfig struct {
	EthereumRPCURL          string `env:"ETHEREUM_RPC_URL"`
	EthereumStakingContract string `env:"ETHEREUM_STAKING_CONTRACT"`
	EthereumFactory         string `env:"ETHEREUM_UNISWAP_FACTORY"`
	EthereumPositionManager string `env:"ETHEREUM_POSITION_MANAGER"`
	EthereumMulticall       string `env:"ETHEREUM_MULTICALL"`
}

// BaseEnvConfig configures the Base staking contract adapter.
type BaseEnvConfig struct {
	BaseRPCURL          string `env:"BASE_RPC_URL"`
	BaseStakingContract string `env:"BASE_STAKING_CONTRACT"`
	BaseFactory         string `env:"BASE_UNISWAP_FACTORY"`
	BasePositionManager string `env:"BASE_POSITION_MANAGER"`
	BaseMulticall       string `env:"BASE_MULTICALL"`
}
