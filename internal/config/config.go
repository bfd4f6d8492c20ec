// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the agent settings loaded from file and environment.
type Config struct {
	RPCList      []string `mapstructure:"rpc_list"`
	WebSocketURL string   `mapstructure:"websocket_url"`
	Commitment   string   `mapstructure:"commitment"`
	PrivateKey   string   `mapstructure:"private_key"`
	DataDir      string   `mapstructure:"data_dir"`
	DebugLogging bool     `mapstructure:"debug_logging"`
	Retries      int      `mapstructure:"retries"`

	Fees   FeeConfig    `mapstructure:"fees"`
	Bundle BundleConfig `mapstructure:"bundle"`

	SlippagePercent float64 `mapstructure:"slippage_percent"`
	ComputeUnits    uint32  `mapstructure:"compute_units"`
}

// FeeConfig configures the priority fee and tip policies.
type FeeConfig struct {
	UseAutoPriorityFee bool   `mapstructure:"use_auto_priority_fee"`
	FixedPriorityFee   uint64 `mapstructure:"fixed_priority_fee"` // micro-lamports per compute unit
	PriorityLevel      string `mapstructure:"priority_level"`     // low|medium|high|veryHigh
	UseAutoTip         bool   `mapstructure:"use_auto_tip"`
	FixedTip           uint64 `mapstructure:"fixed_tip"`          // lamports
	TipAggressiveness  string `mapstructure:"tip_aggressiveness"` // low|medium|high
	EstimatorURL       string `mapstructure:"estimator_url"`
}

// BundleConfig configures the block-engine bundle submission path.
type BundleConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	URL        string `mapstructure:"url"`
	TipFeedURL string `mapstructure:"tip_feed_url"`
}

// Tip aggressiveness tiers.
const (
	TipLow    = "low"
	TipMedium = "medium"
	TipHigh   = "high"
)

const (
	DefaultRetries         = 3
	DefaultComputeUnits    = 400_000
	DefaultSlippagePercent = 1.0
	DefaultCommitment      = "confirmed"
	DefaultDataDir         = "data"
)

// LoadConfig reads the config file at path, applies defaults and env overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"commitment":             DefaultCommitment,
		"data_dir":               DefaultDataDir,
		"retries":                DefaultRetries,
		"compute_units":          DefaultComputeUnits,
		"slippage_percent":       DefaultSlippagePercent,
		"fees.priority_level":    "medium",
		"fees.tip_aggressiveness": "medium",
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := loadEnvironmentVariables(v, &cfg); err != nil {
		return nil, err
	}

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if cfg.WebSocketURL != "" {
		if err := validateURL(cfg.WebSocketURL, "ws"); err != nil {
			return errors.New("invalid WebSocket URL protocol")
		}
	}
	if cfg.Bundle.Enabled && cfg.Bundle.URL == "" {
		return errors.New("bundle submission enabled but bundle.url is empty")
	}
	if cfg.Retries < 0 {
		return errors.New("invalid retries count")
	}
	if cfg.SlippagePercent < 0 || cfg.SlippagePercent > 100 {
		return errors.New("slippage_percent must be within [0, 100]")
	}
	switch cfg.Fees.TipAggressiveness {
	case TipLow, TipMedium, TipHigh:
	default:
		return errors.New("tip_aggressiveness must be low, medium or high")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) error {
	v.AutomaticEnv()
	v.SetEnvPrefix("SWAP_AGENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envKey := v.GetString("PRIVATE_KEY"); envKey != "" {
		cfg.PrivateKey = envKey
	}

	if envRPCList := v.GetString("RPC_LIST"); envRPCList != "" {
		rpcs := strings.Split(envRPCList, ",")
		var cleanRPCs []string
		for _, rpc := range rpcs {
			clean := strings.TrimSpace(rpc)
			if clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
	return nil
}
