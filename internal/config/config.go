// Package config loads process configuration from the environment. The
// resulting Config is treated as immutable for the process lifetime.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	GinMode  string
	Database DatabaseConfig
	Redis    RedisConfig
	Chain    ChainConfig
	Notify   NotifyConfig
}

type DatabaseConfig struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

type RedisConfig struct {
	Addr string
}

// ChainConfig describes the TON side: the distributing (bank) wallet, the
// Corgi jetton master contract, and the decimal exponent used to convert
// whole coins to smallest units.
type ChainConfig struct {
	APIBaseURL     string
	APIKey         string
	BankWallet     string
	JettonMaster   string
	Decimals       int
	RequestTimeout time.Duration
}

type NotifyConfig struct {
	ServiceURL string
}

// Load reads .env (best effort, falling back to the parent dir) and builds
// the Config. It fails only on values that cannot be defaulted.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found in current directory, trying parent")
		if err := godotenv.Load("../.env"); err != nil {
			log.Println("No .env file found, using system environment variables")
		}
	}

	cfg := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: os.Getenv("GIN_MODE"),
		Database: DatabaseConfig{
			User:     os.Getenv("DB_USER"),
			Password: os.Getenv("DB_PASSWORD"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "3306"),
			Name:     getEnv("DB_NAME", "corgi_rewards"),
		},
		Redis: RedisConfig{
			Addr: getEnv("REDIS_URL", "localhost:6379"),
		},
		Chain: ChainConfig{
			APIBaseURL:     getEnv("TON_API_URL", "https://toncenter.com/api/v2"),
			APIKey:         os.Getenv("TON_API_KEY"),
			BankWallet:     os.Getenv("BANK_WALLET_ADDRESS"),
			JettonMaster:   os.Getenv("CORGI_JETTON_MASTER"),
			Decimals:       getEnvInt("CORGI_DECIMALS", 9),
			RequestTimeout: time.Duration(getEnvInt("CHAIN_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		Notify: NotifyConfig{
			ServiceURL: getEnv("NOTIFICATION_SERVICE_URL", "localhost:50055"),
		},
	}

	if cfg.Chain.BankWallet == "" {
		return nil, fmt.Errorf("BANK_WALLET_ADDRESS is required")
	}
	if cfg.Chain.JettonMaster == "" {
		return nil, fmt.Errorf("CORGI_JETTON_MASTER is required")
	}
	if cfg.Chain.Decimals < 0 || cfg.Chain.Decimals > 18 {
		return nil, fmt.Errorf("CORGI_DECIMALS out of range: %d", cfg.Chain.Decimals)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Invalid integer for %s: %q, using default %d", key, v, fallback)
		return fallback
	}
	return n
}
