package params

import (
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/uhyunpark/hyperswap/pkg/crypto"
)

// Domain is the EIP-712 domain every order is signed under.
type Domain struct {
	Name              string
	Version           string
	ChainID           int64
	VerifyingContract string // engine address; also its identity towards intermediaries
}

// Protocol seeds the owner-controlled parameters of an empty store.
type Protocol struct {
	Owner   string
	FeeSink string
	FeeBps  uint64
}

type Node struct {
	DBPath         string // empty: in-memory registry
	APIAddr        string
	LogFile        string
	LogLevel       string
	AllowedOrigins []string

	// Devnet ledger: addresses funded with native value and DevnetToken at
	// startup, with both intermediaries approved.
	DevnetAccounts []string
	DevnetToken    string
}

type Config struct {
	Domain   Domain
	Protocol Protocol
	Node     Node
}

func Default() Config {
	return Config{
		Domain: Domain{
			Name:              "Hyperswap",
			Version:           "1",
			ChainID:           1337,
			VerifyingContract: "0x000000000000000000000000000000000000c0de",
		},
		Protocol: Protocol{
			FeeBps: 250,
		},
		Node: Node{
			DBPath:         "data/registry",
			APIAddr:        ":8080",
			LogFile:        "data/node.log",
			LogLevel:       "info",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
			DevnetToken:    "0x0000000000000000000000000000000000000020",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Domain.Name = getEnv("EIP712_NAME", cfg.Domain.Name)
	cfg.Domain.Version = getEnv("EIP712_VERSION", cfg.Domain.Version)
	if id := os.Getenv("CHAIN_ID"); id != "" {
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			cfg.Domain.ChainID = n
		}
	}
	cfg.Domain.VerifyingContract = getEnv("VERIFYING_CONTRACT", cfg.Domain.VerifyingContract)

	cfg.Protocol.Owner = getEnv("OWNER", cfg.Protocol.Owner)
	cfg.Protocol.FeeSink = getEnv("FEE_SINK", cfg.Protocol.FeeSink)
	if bps := os.Getenv("FEE_BPS"); bps != "" {
		if n, err := strconv.ParseUint(bps, 10, 64); err == nil {
			cfg.Protocol.FeeBps = n
		}
	}

	if path, ok := os.LookupEnv("DB_PATH"); ok {
		cfg.Node.DBPath = path
	}
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Node.AllowedOrigins = splitList(origins)
	}
	if accts := os.Getenv("DEVNET_ACCOUNTS"); accts != "" {
		cfg.Node.DevnetAccounts = splitList(accts)
	}
	cfg.Node.DevnetToken = getEnv("DEVNET_TOKEN", cfg.Node.DevnetToken)

	return cfg
}

// Validate checks that every address field parses.
func (c Config) Validate() error {
	addrs := map[string]string{
		"VERIFYING_CONTRACT": c.Domain.VerifyingContract,
		"OWNER":              c.Protocol.Owner,
		"FEE_SINK":           c.Protocol.FeeSink,
		"DEVNET_TOKEN":       c.Node.DevnetToken,
	}
	for name, v := range addrs {
		if v != "" && !common.IsHexAddress(v) {
			return fmt.Errorf("%s: invalid address %q", name, v)
		}
	}
	for _, a := range c.Node.DevnetAccounts {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("DEVNET_ACCOUNTS: invalid address %q", a)
		}
	}
	if c.Domain.ChainID <= 0 {
		return fmt.Errorf("CHAIN_ID must be positive, got %d", c.Domain.ChainID)
	}
	return nil
}

// EIP712Domain converts the configured domain for signing.
func (c Config) EIP712Domain() crypto.Domain {
	return crypto.Domain{
		Name:              c.Domain.Name,
		Version:           c.Domain.Version,
		ChainID:           big.NewInt(c.Domain.ChainID),
		VerifyingContract: common.HexToAddress(c.Domain.VerifyingContract),
	}
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
