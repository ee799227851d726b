package config

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"bountyboard/internal/ledger"
)

const EnvPrefix = "bountyboard"

const (
	ModeLocal = "local"
	ModeChain = "chain"
)

// Config is the service configuration. Values come from defaults, then the
// YAML file, then BOUNTYBOARD_* environment variables.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Chain   ChainConfig   `yaml:"chain"`
	Dev     DevConfig     `yaml:"dev"`
	Logger  LoggerConfig  `yaml:"logger"`
}

type ServiceConfig struct {
	HTTPPort          int           `yaml:"httpPort"          split_words:"true"`
	ClockSkew         time.Duration `yaml:"clockSkew"         split_words:"true"`
	InsecureAuth      bool          `yaml:"insecureAuth"      split_words:"true"`
	IdempotencyWindow time.Duration `yaml:"idempotencyWindow" split_words:"true"`
	IdempotencyStore  string        `yaml:"idempotencyStore"  split_words:"true"`
	IdempotencyPath   string        `yaml:"idempotencyPath"   split_words:"true"`
	IdempotencyDSN    string        `yaml:"idempotencyDsn"    split_words:"true"`
	ShutdownTimeout   time.Duration `yaml:"shutdownTimeout"   split_words:"true"`
}

type LedgerConfig struct {
	Owner                   string `yaml:"owner"`
	PlatformFeeBps          uint64 `yaml:"platformFeeBps"          split_words:"true"`
	RequireFutureDeadline   bool   `yaml:"requireFutureDeadline"   split_words:"true"`
	EnforceDeadlineOnSubmit bool   `yaml:"enforceDeadlineOnSubmit" split_words:"true"`
	AllowCreatorSubmit      bool   `yaml:"allowCreatorSubmit"      split_words:"true"`
	RejectEmptyWork         bool   `yaml:"rejectEmptyWork"         split_words:"true"`
	StoreDriver             string `yaml:"storeDriver"             split_words:"true"`
	StorePath               string `yaml:"storePath"               split_words:"true"`
	StoreDSN                string `yaml:"storeDsn"                split_words:"true"`
}

type ChainConfig struct {
	Mode           string        `yaml:"mode"`
	RPCURL         string        `yaml:"rpcUrl"`
	PrivateKey     string        `yaml:"privateKey"     split_words:"true"`
	Contract       string        `yaml:"contract"`
	ChainID        uint64        `yaml:"chainId"        split_words:"true"`
	Monitor        bool          `yaml:"monitor"`
	PollInterval   time.Duration `yaml:"pollInterval"   split_words:"true"`
	StartBlock     uint64        `yaml:"startBlock"     split_words:"true"`
	MaxRange       uint64        `yaml:"maxRange"       split_words:"true"`
	Confirmations  uint64        `yaml:"confirmations"`
	ReceiptTimeout time.Duration `yaml:"receiptTimeout" split_words:"true"`
}

type DevConfig struct {
	Faucet       bool     `yaml:"faucet"`
	SeedAccounts []string `yaml:"seedAccounts" split_words:"true"`
	// SeedAmount is credited to each seed account, in wei.
	SeedAmount string `yaml:"seedAmount" split_words:"true"`
}

type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() *Config {
	policy := ledger.DefaultPolicy()
	return &Config{
		Service: ServiceConfig{
			HTTPPort:          3000,
			ClockSkew:         time.Minute,
			IdempotencyWindow: 24 * time.Hour,
			IdempotencyStore:  "memory",
			IdempotencyPath:   filepath.Join(os.TempDir(), "bountyboard-idem.json"),
			ShutdownTimeout:   10 * time.Second,
		},
		Ledger: LedgerConfig{
			PlatformFeeBps:          250,
			RequireFutureDeadline:   policy.RequireFutureDeadline,
			EnforceDeadlineOnSubmit: policy.EnforceDeadlineOnSubmit,
			AllowCreatorSubmit:      policy.AllowCreatorSubmit,
			RejectEmptyWork:         policy.RejectEmptyWork,
			StoreDriver:             "memory",
		},
		Chain: ChainConfig{
			Mode:           ModeLocal,
			PollInterval:   15 * time.Second,
			MaxRange:       100000,
			Confirmations:  2,
			ReceiptTimeout: 2 * time.Minute,
		},
		Dev: DevConfig{
			SeedAmount: "100000000000000000000",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration. envFile is loaded into the process
// environment first when it exists; configFile may be empty.
func Load(configFile, envFile string) (*Config, error) {
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load env file: %w", err)
			}
			log.WithField("path", envFile).Debug("[CONFIG] Loaded env file")
		}
	}

	cfg := Default()
	if configFile == "" {
		configFile = os.Getenv("BOUNTYBOARD_CONFIG")
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Service.HTTPPort <= 0 || c.Service.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("service.httpPort %d out of range", c.Service.HTTPPort))
	}
	if c.Service.ClockSkew <= 0 {
		errs = append(errs, errors.New("service.clockSkew must be positive"))
	}
	if c.Service.IdempotencyWindow <= 0 {
		errs = append(errs, errors.New("service.idempotencyWindow must be positive"))
	} else if c.Service.IdempotencyWindow <= 2*c.Service.ClockSkew {
		// A signed request stays valid for clockSkew either side of its timestamp.
		errs = append(errs, fmt.Errorf("service.idempotencyWindow %s must exceed twice service.clockSkew", c.Service.IdempotencyWindow))
	}
	switch c.Service.IdempotencyStore {
	case "memory", "file":
	case "postgres":
		if c.Service.IdempotencyDSN == "" {
			errs = append(errs, errors.New("service.idempotencyDsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown idempotency store %q", c.Service.IdempotencyStore))
	}

	if c.Ledger.PlatformFeeBps > ledger.MaxFeeBps {
		errs = append(errs, fmt.Errorf("ledger.platformFeeBps %d exceeds %d", c.Ledger.PlatformFeeBps, ledger.MaxFeeBps))
	}
	switch c.Ledger.StoreDriver {
	case "memory":
	case "file", "sqlite":
		if c.Ledger.StoreDriver == "file" && c.Ledger.StorePath == "" {
			errs = append(errs, errors.New("ledger.storePath is required for the file store"))
		}
	case "postgres":
		if c.Ledger.StoreDSN == "" {
			errs = append(errs, errors.New("ledger.storeDsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger store %q", c.Ledger.StoreDriver))
	}

	switch c.Chain.Mode {
	case ModeLocal:
		if !common.IsHexAddress(c.Ledger.Owner) || c.OwnerAddress() == (common.Address{}) {
			errs = append(errs, errors.New("ledger.owner must be a non-zero address in local mode"))
		}
	case ModeChain:
		if c.Chain.RPCURL == "" {
			errs = append(errs, errors.New("chain.rpcUrl is required in chain mode"))
		}
		if !common.IsHexAddress(c.Chain.Contract) {
			errs = append(errs, errors.New("chain.contract must be an address in chain mode"))
		}
		if c.Chain.MaxRange == 0 {
			errs = append(errs, errors.New("chain.maxRange must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown chain mode %q", c.Chain.Mode))
	}

	for _, acct := range c.Dev.SeedAccounts {
		if !common.IsHexAddress(acct) {
			errs = append(errs, fmt.Errorf("dev.seedAccounts: %q is not an address", acct))
		}
	}
	if _, ok := new(big.Int).SetString(c.Dev.SeedAmount, 10); !ok && len(c.Dev.SeedAccounts) > 0 {
		errs = append(errs, fmt.Errorf("dev.seedAmount %q is not a wei amount", c.Dev.SeedAmount))
	}

	if _, err := log.ParseLevel(c.Logger.Level); err != nil {
		errs = append(errs, fmt.Errorf("logger.level: %w", err))
	}
	switch strings.ToLower(c.Logger.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logger.format %q must be text or json", c.Logger.Format))
	}
	return errors.Join(errs...)
}

func (c *Config) OwnerAddress() common.Address {
	return common.HexToAddress(c.Ledger.Owner)
}

func (c *Config) Policy() ledger.Policy {
	return ledger.Policy{
		RequireFutureDeadline:   c.Ledger.RequireFutureDeadline,
		EnforceDeadlineOnSubmit: c.Ledger.EnforceDeadlineOnSubmit,
		AllowCreatorSubmit:      c.Ledger.AllowCreatorSubmit,
		RejectEmptyWork:         c.Ledger.RejectEmptyWork,
	}
}

// SeedAmountWei is zero when unset or invalid.
func (c *Config) SeedAmountWei() *big.Int {
	v, ok := new(big.Int).SetString(c.Dev.SeedAmount, 10)
	if !ok {
		return new(big.Int)
	}
	return v
}

type ctxKey struct{}

func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext returns the config stored by WithContext, or nil.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(ctxKey{}).(*Config)
	return cfg
}
