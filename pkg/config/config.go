// Package config holds process-level configuration for the certification
// service, loaded from environment variables. Hot-reload is not required;
// a fresh Config is built once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Network identifies which Bitcoin network the service is anchoring to.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// Config holds every tunable named in the specification plus the ambient
// options any Go service in this shape needs (database pool sizing, log
// level, listen addresses).
type Config struct {
	// Network selection and topology
	Network         Network
	BitcoinRPCURL   string
	BitcoinRPCUser  string
	BitcoinRPCPass  string
	BitcoinRPCTimeout time.Duration

	// Bulletin / wallet tunables
	MinimumBulletinInterval time.Duration
	BumpInterval            time.Duration
	DeleteOldParkedInterval time.Duration
	MaxAutoBumps            int

	// Wallet keyring material
	WalletXPub          string
	WalletEncryptedHex  string
	WalletPassword      string

	// Storage
	StorageKey    string // non-empty enables blob encryption (keyed from the wallet private key, not from this value)
	StorageURL    string
	StorageSecret string
	StorageBucket string
	StorageLocal  bool
	StorageDir    string // local filesystem root, used when StorageLocal

	// Backup / replicated store
	BackupStorageEnabled bool
	BackupStorageDir     string

	// Audit log
	AuditLogPath    string
	AuditLogMaxSize int64 // bytes

	// Database
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime time.Duration
	DatabaseMaxLifetime time.Duration

	// Service
	LogLevel    string
	ListenAddr  string
	HealthAddr  string
	MetricsAddr string

	// Worker cadences
	BulletinAdvanceInterval time.Duration
	FundingRetryInterval    time.Duration
	IssuanceCreateInterval  time.Duration
	IssuanceCompleteInterval time.Duration
	ParkedSweepInterval     time.Duration
	NotifierInterval        time.Duration
	CallbackInterval        time.Duration
	ProofRenderInterval     time.Duration
}

// Load reads configuration from environment variables. Call Validate
// afterwards before starting the service.
func Load() (*Config, error) {
	cfg := &Config{
		Network:           Network(getEnv("NETWORK", "regtest")),
		BitcoinRPCURL:     getEnv("BITCOIN_RPC_URL", "http://127.0.0.1:18443"),
		BitcoinRPCUser:    getEnv("BITCOIN_RPC_USER", ""),
		BitcoinRPCPass:    getEnv("BITCOIN_RPC_PASS", ""),
		BitcoinRPCTimeout: getEnvDuration("BITCOIN_RPC_TIMEOUT", 30*time.Second),

		MinimumBulletinInterval: getEnvDuration("MINIMUM_BULLETIN_INTERVAL", 10*time.Minute),
		BumpInterval:            getEnvDuration("BUMP_INTERVAL", 20*time.Minute),
		DeleteOldParkedInterval: getEnvDuration("DELETE_OLD_PARKED_INTERVAL", 40*24*time.Hour),
		MaxAutoBumps:            getEnvInt("MAX_AUTO_BUMPS", 2),

		WalletXPub:         getEnv("WALLET_XPUB", ""),
		WalletEncryptedHex: getEnv("WALLET_ENCRYPTED_HEX", ""),
		WalletPassword:     getEnv("WALLET_PASSWORD", ""),

		StorageKey:    getEnv("STORAGE_KEY", ""),
		StorageURL:    getEnv("STORAGE_URL", ""),
		StorageSecret: getEnv("STORAGE_SECRET", ""),
		StorageBucket: getEnv("STORAGE_BUCKET", ""),
		StorageLocal:  getEnvBool("STORAGE_LOCAL", true),
		StorageDir:    getEnv("STORAGE_DIR", "./data/store"),

		BackupStorageEnabled: getEnvBool("BACKUP_STORAGE_ENABLED", false),
		BackupStorageDir:     getEnv("BACKUP_STORAGE_DIR", "./data/backup"),

		AuditLogPath:    getEnv("AUDIT_LOG_PATH", "./data/audit.log"),
		AuditLogMaxSize: getEnvInt64("AUDIT_LOG_MAX_SIZE", 100*1024*1024),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvDuration("DATABASE_MAX_IDLE_TIME", 5*time.Minute),
		DatabaseMaxLifetime: getEnvDuration("DATABASE_MAX_LIFETIME", time.Hour),

		LogLevel:    getEnv("LOG_LEVEL", "info"),
		ListenAddr:  getEnv("LISTEN_ADDR", "0.0.0.0:8080"),
		HealthAddr:  getEnv("HEALTH_ADDR", "0.0.0.0:8081"),
		MetricsAddr: getEnv("METRICS_ADDR", "0.0.0.0:9090"),

		BulletinAdvanceInterval:  getEnvDuration("BULLETIN_ADVANCE_INTERVAL", time.Minute),
		FundingRetryInterval:     getEnvDuration("FUNDING_RETRY_INTERVAL", time.Minute),
		IssuanceCreateInterval:   getEnvDuration("ISSUANCE_CREATE_INTERVAL", time.Minute),
		IssuanceCompleteInterval: getEnvDuration("ISSUANCE_COMPLETE_INTERVAL", time.Minute),
		ParkedSweepInterval:      getEnvDuration("PARKED_SWEEP_INTERVAL", 24*time.Hour),
		NotifierInterval:         getEnvDuration("NOTIFIER_INTERVAL", time.Minute),
		CallbackInterval:         getEnvDuration("CALLBACK_INTERVAL", time.Minute),
		ProofRenderInterval:      getEnvDuration("PROOF_RENDER_INTERVAL", 5*time.Minute),
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent and
// that required fields are present for the selected network.
func (c *Config) Validate() error {
	var problems []string

	switch c.Network {
	case Mainnet, Testnet, Regtest:
	default:
		problems = append(problems, fmt.Sprintf("NETWORK must be one of mainnet/testnet/regtest, got %q", c.Network))
	}

	if c.DatabaseURL == "" {
		problems = append(problems, "DATABASE_URL is required")
	}
	if c.WalletXPub == "" {
		problems = append(problems, "WALLET_XPUB is required")
	}
	if c.WalletEncryptedHex == "" {
		problems = append(problems, "WALLET_ENCRYPTED_HEX is required")
	}
	if !c.StorageLocal && (c.StorageURL == "" || c.StorageBucket == "") {
		problems = append(problems, "STORAGE_URL and STORAGE_BUCKET are required when STORAGE_LOCAL=false")
	}
	if c.MinimumBulletinInterval <= 0 {
		problems = append(problems, "MINIMUM_BULLETIN_INTERVAL must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
