// Package config loads the candy configuration from a YAML file, a .env file
// and CANDY_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/trungdo2789/mpl-candy/internal/ledger"
	"github.com/trungdo2789/mpl-candy/internal/model"
	"github.com/trungdo2789/mpl-candy/internal/retry"
	"github.com/trungdo2789/mpl-candy/internal/solana"
	"github.com/trungdo2789/mpl-candy/internal/workflow"
)

// DefaultPath is used when --config is not given.
const DefaultPath = "candy.yaml"

// EnvPrefix prefixes environment overrides: ledger.dsn is CANDY_LEDGER_DSN.
const EnvPrefix = "CANDY"

// Config is the whole configuration file. Each section maps onto the
// options of one package; see SolanaClient, LedgerOptions and WorkflowConfig.
type Config struct {
	Solana   SolanaConfig   `mapstructure:"solana"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Workflow WorkflowConfig `mapstructure:"workflow"`
	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// SolanaConfig selects the cluster, the authority that signs and pays, and
// the collection metadata written on every mint. Offline commands ignore it.
type SolanaConfig struct {
	RPCURL  string `mapstructure:"rpc_url"`
	Cluster string `mapstructure:"cluster"`
	// AuthorityKeypair is a keypair file path or a gcpsm:// secret version.
	AuthorityKeypair string `mapstructure:"authority_keypair"`
	CollectionName   string `mapstructure:"collection_name"`
	CollectionSymbol string `mapstructure:"collection_symbol"`
	URIPrefix        string `mapstructure:"uri_prefix"`
	SellerFeeBps     uint16 `mapstructure:"seller_fee_bps"`
	Memo             bool   `mapstructure:"memo"`
	RPCRetries       int    `mapstructure:"rpc_retries"`
	// ConfirmTimeout bounds the wait for a sent transaction to reach
	// confirmed commitment; ConfirmInterval is the status poll interval.
	ConfirmTimeout  time.Duration `mapstructure:"confirm_timeout"`
	ConfirmInterval time.Duration `mapstructure:"confirm_interval"`
}

// LedgerConfig locates the ledger database. Passphrase derives the key that
// seals mint secrets at rest and is normally set via CANDY_LEDGER_PASSPHRASE.
type LedgerConfig struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	Passphrase string `mapstructure:"passphrase"`
}

// WorkflowConfig tunes a run: the channel tag, the recipient list, mint
// concurrency, pass retries and the run lease TTL.
type WorkflowConfig struct {
	Channel     string        `mapstructure:"channel"`
	Recipients  string        `mapstructure:"recipients"`
	Concurrency int           `mapstructure:"concurrency"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
}

// LogConfig controls log level, console or json format, and file output.
type LogConfig struct {
	// Dir receives combined.log and error.log. Empty disables file output.
	Dir    string `mapstructure:"dir"`
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Listen is the address /metrics is served on during run. Empty disables it.
	Listen string `mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	pol := retry.DefaultPolicy()

	v.SetDefault("solana.rpc_url", "")
	v.SetDefault("solana.cluster", "devnet")
	v.SetDefault("solana.authority_keypair", "")
	v.SetDefault("solana.collection_name", "")
	v.SetDefault("solana.collection_symbol", "")
	v.SetDefault("solana.uri_prefix", "")
	v.SetDefault("solana.seller_fee_bps", 0)
	v.SetDefault("solana.memo", false)
	v.SetDefault("solana.rpc_retries", 0)
	v.SetDefault("solana.confirm_timeout", solana.DefaultConfirmTimeout)
	v.SetDefault("solana.confirm_interval", solana.DefaultConfirmInterval)

	v.SetDefault("ledger.driver", ledger.DriverSQLite)
	v.SetDefault("ledger.dsn", "candy.db")
	v.SetDefault("ledger.passphrase", "")

	v.SetDefault("workflow.channel", model.DefaultChannel)
	v.SetDefault("workflow.recipients", "recipients.yaml")
	v.SetDefault("workflow.concurrency", 1)
	v.SetDefault("workflow.max_attempts", pol.MaxAttempts)
	v.SetDefault("workflow.base_delay", pol.BaseDelay)
	v.SetDefault("workflow.max_delay", pol.MaxDelay)
	v.SetDefault("workflow.lock_ttl", workflow.DefaultLockTTL)

	v.SetDefault("log.dir", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("metrics.listen", "")
}

// Load reads configuration. A missing file at path is an error only when
// required is set; otherwise defaults and the environment apply.
//
// A .env file in the working directory is loaded first and never overrides
// variables already set in the process environment.
func Load(path string, required bool) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if required || !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Validate checks settings every command needs. Solana settings are checked
// separately by ValidateSolana since offline commands do not need them.
func (c *Config) Validate() error {
	var err error
	if c.Ledger.DSN == "" {
		err = multierr.Append(err, errors.New("ledger.dsn is required"))
	}
	if c.Ledger.Passphrase == "" {
		err = multierr.Append(err, errors.New("ledger.passphrase is required (CANDY_LEDGER_PASSPHRASE)"))
	}
	switch c.Ledger.Driver {
	case "", ledger.DriverSQLite, ledger.DriverPostgres, "sqlite3", "postgresql", "pg":
	default:
		err = multierr.Append(err, fmt.Errorf("ledger.driver %q is not supported", c.Ledger.Driver))
	}
	if c.Workflow.Concurrency < 0 {
		err = multierr.Append(err, errors.New("workflow.concurrency must not be negative"))
	}
	if c.Workflow.MaxAttempts < 0 {
		err = multierr.Append(err, errors.New("workflow.max_attempts must not be negative"))
	}
	if c.Workflow.BaseDelay < 0 || c.Workflow.MaxDelay < 0 {
		err = multierr.Append(err, errors.New("workflow delays must not be negative"))
	}
	if c.Workflow.MaxDelay > 0 && c.Workflow.BaseDelay > c.Workflow.MaxDelay {
		err = multierr.Append(err, errors.New("workflow.base_delay exceeds workflow.max_delay"))
	}
	switch c.Log.Format {
	case "", "console", "json":
	default:
		err = multierr.Append(err, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}
	return err
}

// ValidateSolana checks the settings needed to talk to the chain.
func (c *Config) ValidateSolana() error {
	var err error
	if c.Solana.AuthorityKeypair == "" {
		err = multierr.Append(err, errors.New("solana.authority_keypair is required"))
	}
	if _, e := c.SolanaClient().Endpoint(); e != nil {
		err = multierr.Append(err, fmt.Errorf("solana: %w", e))
	}
	if c.Solana.ConfirmTimeout < 0 || c.Solana.ConfirmInterval < 0 {
		err = multierr.Append(err, errors.New("solana confirm durations must not be negative"))
	}
	if c.Solana.SellerFeeBps > 10000 {
		err = multierr.Append(err, errors.New("solana.seller_fee_bps must be at most 10000"))
	}
	return err
}

// SolanaClient maps the solana section onto the adapter config.
func (c *Config) SolanaClient() solana.Config {
	return solana.Config{
		RPCURL:  c.Solana.RPCURL,
		Cluster: c.Solana.Cluster,
		Collection: solana.Collection{
			Name:         c.Solana.CollectionName,
			Symbol:       c.Solana.CollectionSymbol,
			URIPrefix:    c.Solana.URIPrefix,
			SellerFeeBps: c.Solana.SellerFeeBps,
		},
		Memo:            c.Solana.Memo,
		RPCRetries:      c.Solana.RPCRetries,
		ConfirmTimeout:  c.Solana.ConfirmTimeout,
		ConfirmInterval: c.Solana.ConfirmInterval,
	}
}

// LedgerOptions maps the ledger section onto ledger.Options.
func (c *Config) LedgerOptions() ledger.Options {
	return ledger.Options{
		Driver:     c.Ledger.Driver,
		DSN:        c.Ledger.DSN,
		Passphrase: c.Ledger.Passphrase,
	}
}

// WorkflowConfig maps the workflow section onto workflow.Config.
func (c *Config) WorkflowConfig() workflow.Config {
	return workflow.Config{
		Channel:     c.Workflow.Channel,
		Concurrency: c.Workflow.Concurrency,
		Retry: retry.Policy{
			MaxAttempts: c.Workflow.MaxAttempts,
			BaseDelay:   c.Workflow.BaseDelay,
			MaxDelay:    c.Workflow.MaxDelay,
		},
		LockTTL: c.Workflow.LockTTL,
	}
}
