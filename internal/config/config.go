// Package config содержит логику чтения конфигурации сервиса flexvault.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса flexvault.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	FeedGatewayAddress string `env:"FEED_GATEWAY_ADDRESS"`
	AdminLogin         string `env:"ADMIN_LOGIN"`
	AdminPassword      string `env:"ADMIN_PASSWORD"`
	CollateralAsset    string `env:"COLLATERAL_ASSET"`
	CollateralDecimals int    `env:"COLLATERAL_DECIMALS"`
	SyntheticAsset     string `env:"SYNTHETIC_ASSET"`
	MintingLimit       int64  `env:"MINTING_LIMIT"`
	ConversionRate     int64  `env:"CONVERSION_RATE"`
	ReleaseCron        string `env:"RELEASE_CRON"`
	AuthSecret         string `env:"AUTH_SECRET"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envFeedGateway := cfg.FeedGatewayAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.FeedGatewayAddress, "f", "", "price feed gateway address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envFeedGateway != "" {
		cfg.FeedGatewayAddress = envFeedGateway
	}

	applyDefaults(cfg)

	if cfg.ConversionRate <= 0 {
		return nil, fmt.Errorf("conversion rate must be positive, got %d", cfg.ConversionRate)
	}
	if cfg.CollateralDecimals < 0 || cfg.CollateralDecimals > 18 {
		return nil, fmt.Errorf("collateral decimals out of range: %d", cfg.CollateralDecimals)
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.AdminLogin == "" {
		cfg.AdminLogin = "admin"
	}
	if cfg.AdminPassword == "" {
		cfg.AdminPassword = "admin"
	}
	if cfg.CollateralAsset == "" {
		cfg.CollateralAsset = "JupSOL"
	}
	if cfg.CollateralDecimals == 0 {
		cfg.CollateralDecimals = 6
	}
	if cfg.SyntheticAsset == "" {
		cfg.SyntheticAsset = "xxUSD"
	}
	if cfg.MintingLimit == 0 {
		cfg.MintingLimit = 1_000_000_000_000
	}
	if cfg.ConversionRate == 0 {
		cfg.ConversionRate = 1_000_000_000
	}
	if cfg.ReleaseCron == "" {
		// Ежедневно вскоре после полуночи UTC.
		cfg.ReleaseCron = "5 0 * * *"
	}
	if cfg.AuthSecret == "" {
		cfg.AuthSecret = "flexvault-secret"
	}
}
