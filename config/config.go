package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// DefaultContractAddress is the poll contract deployed on Base mainnet.
const DefaultContractAddress = "0xC874dC7ABCe36E0c66a5cBA0e99B96c27Eb885E8"

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Ledger   LedgerConfig
	Polls    PollsConfig
	Worker   WorkerConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// LedgerConfig points at the poll contract and the key used to relay transactions.
type LedgerConfig struct {
	RPCURL          string
	ContractAddress string
	ChainID         int64
	SignerKey       string // hex private key for the opt-in create-poll relay; empty disables it
}

// PollsConfig tunes poll aggregation.
type PollsConfig struct {
	ListConcurrency int
}

// WorkerConfig holds receipt-watcher settings.
type WorkerConfig struct {
	ReceiptRetrySec    int
	ReceiptMaxAttempts int
	RunInProcess       bool // run the receipt worker inside the API server
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// ReadOnly reports whether the create-poll relay is disabled.
func (c LedgerConfig) ReadOnly() bool {
	return c.SignerKey == ""
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "basepoll"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: getEnvInt("DB_MAX_CONNS", 10),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Ledger: LedgerConfig{
			RPCURL:          getEnv("LEDGER_RPC_URL", "https://mainnet.base.org"),
			ContractAddress: getEnv("LEDGER_CONTRACT_ADDRESS", DefaultContractAddress),
			ChainID:         int64(getEnvInt("LEDGER_CHAIN_ID", 8453)),
			SignerKey:       strings.TrimPrefix(getEnv("LEDGER_SIGNER_KEY", ""), "0x"),
		},
		Polls: PollsConfig{
			ListConcurrency: getEnvInt("LIST_CONCURRENCY", 4),
		},
		Worker: WorkerConfig{
			ReceiptRetrySec:    getEnvInt("RECEIPT_RETRY_SEC", 5),
			ReceiptMaxAttempts: getEnvInt("RECEIPT_MAX_ATTEMPTS", 60),
			RunInProcess:       getEnvBool("RUN_RECEIPT_WORKER", true),
		},
	}

	if !common.IsHexAddress(cfg.Ledger.ContractAddress) {
		return nil, fmt.Errorf("LEDGER_CONTRACT_ADDRESS %q is not a hex address", cfg.Ledger.ContractAddress)
	}
	if cfg.Ledger.ChainID <= 0 {
		return nil, fmt.Errorf("LEDGER_CHAIN_ID must be positive, got %d", cfg.Ledger.ChainID)
	}
	if cfg.Polls.ListConcurrency < 1 {
		cfg.Polls.ListConcurrency = 1
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
