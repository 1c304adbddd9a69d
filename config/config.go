package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Storage      StorageConfig      `mapstructure:"storage"`
	JWT          JWTConfig          `mapstructure:"jwt"`
	AES          AESConfig          `mapstructure:"aes"`
	Log          LogConfig          `mapstructure:"log"`
	Solana       SolanaConfig       `mapstructure:"solana"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Sweep        SweepConfig        `mapstructure:"sweep"`
	Notifier     NotifierConfig     `mapstructure:"notifier"`
	Cache        CacheConfig        `mapstructure:"cache"`
	Provisioning ProvisioningConfig `mapstructure:"provisioning"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Migrate         bool          `mapstructure:"migrate"` // apply the embedded schema on startup
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // postgres, memory
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

// AESConfig configures keystore encryption. Either Key (64 hex chars) or
// Passphrase plus Salt must be set.
type AESConfig struct {
	Key        string `mapstructure:"key"`
	Passphrase string `mapstructure:"passphrase"`
	Salt       string `mapstructure:"salt"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

type SolanaConfig struct {
	RPCURL              string        `mapstructure:"rpc_url"`
	Commitment          string        `mapstructure:"commitment"`
	RPCTimeout          time.Duration `mapstructure:"rpc_timeout"`
	RequestsPerSecond   float64       `mapstructure:"requests_per_second"`
	Burst               int           `mapstructure:"burst"`
	ConfirmTimeout      time.Duration `mapstructure:"confirm_timeout"`
	ConfirmPollInterval time.Duration `mapstructure:"confirm_poll_interval"`
}

type MonitorConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	AccountDelay    time.Duration `mapstructure:"account_delay"`
	SignatureLimit  int           `mapstructure:"signature_limit"`
	MaxHistoryPages int           `mapstructure:"max_history_pages"` // signature pages walked back per account per cycle
	PageSize        int           `mapstructure:"page_size"`
	NotifyQueueSize int           `mapstructure:"notify_queue_size"`
	NotifyWorkers   int           `mapstructure:"notify_workers"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout"`
}

const (
	ReconcileCapAtBalance = "cap_at_balance"
	ReconcileCustodyOnly  = "custody_only"
)

type SweepConfig struct {
	TreasuryAddress   string        `mapstructure:"treasury_address"`
	MinRetainLamports uint64        `mapstructure:"min_retain_lamports"`
	AccountDelay      time.Duration `mapstructure:"account_delay"`
	ReconcilePolicy   string        `mapstructure:"reconcile_policy"`
	Schedule          string        `mapstructure:"schedule"` // cron spec, empty disables
}

type NotifierConfig struct {
	TelegramBotToken string        `mapstructure:"telegram_bot_token"`
	TelegramAPIBase  string        `mapstructure:"telegram_api_base"`
	Timeout          time.Duration `mapstructure:"timeout"`
	MaxRetryElapsed  time.Duration `mapstructure:"max_retry_elapsed"`
}

type CacheConfig struct {
	ProcessedSignatureTTL time.Duration `mapstructure:"processed_signature_ttl"`
}

type ProvisioningConfig struct {
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: DLG_ (Deposit LedGer).
// Nested keys use underscore: DLG_DATABASE_HOST, DLG_SOLANA_RPC_URL, etc.
// A .env file in the working directory is loaded first when present.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: DLG_DATABASE_HOST -> database.host
	v.SetEnvPrefix("DLG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "deposit_ledger")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrate", true)
	v.SetDefault("database.connect_timeout", "30s")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("storage.driver", StorageDriverPostgres)
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "deposit-ledger")
	v.SetDefault("aes.key", "")
	v.SetDefault("aes.passphrase", "")
	v.SetDefault("aes.salt", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("solana.rpc_timeout", "15s")
	v.SetDefault("solana.requests_per_second", 8)
	v.SetDefault("solana.burst", 4)
	v.SetDefault("solana.confirm_timeout", "60s")
	v.SetDefault("solana.confirm_poll_interval", "2s")
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.poll_interval", "8s")
	v.SetDefault("monitor.account_delay", "5s")
	v.SetDefault("monitor.signature_limit", 10)
	v.SetDefault("monitor.max_history_pages", 20)
	v.SetDefault("monitor.page_size", 500)
	v.SetDefault("monitor.notify_queue_size", 1000)
	v.SetDefault("monitor.notify_workers", 4)
	v.SetDefault("monitor.stop_timeout", "30s")
	v.SetDefault("sweep.treasury_address", "")
	v.SetDefault("sweep.min_retain_lamports", 5000)
	v.SetDefault("sweep.account_delay", "150ms")
	v.SetDefault("sweep.reconcile_policy", ReconcileCapAtBalance)
	v.SetDefault("sweep.schedule", "")
	v.SetDefault("notifier.telegram_bot_token", "")
	v.SetDefault("notifier.telegram_api_base", "https://api.telegram.org")
	v.SetDefault("notifier.timeout", "10s")
	v.SetDefault("notifier.max_retry_elapsed", "30s")
	v.SetDefault("cache.processed_signature_ttl", "72h")
	v.SetDefault("provisioning.lock_ttl", "30s")
}

const (
	minSaltLen      = 16
	minJWTSecretLen = 32
)

// Validate rejects values the services cannot run with. A missing treasury
// address is allowed here; sweeps report it when they are requested.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case StorageDriverPostgres, StorageDriverMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}

	switch c.Sweep.ReconcilePolicy {
	case ReconcileCapAtBalance, ReconcileCustodyOnly:
	default:
		errs = append(errs, fmt.Errorf("sweep.reconcile_policy: unknown policy %q", c.Sweep.ReconcilePolicy))
	}

	positive := map[string]time.Duration{
		"monitor.poll_interval":         c.Monitor.PollInterval,
		"solana.rpc_timeout":            c.Solana.RPCTimeout,
		"solana.confirm_timeout":        c.Solana.ConfirmTimeout,
		"solana.confirm_poll_interval":  c.Solana.ConfirmPollInterval,
		"provisioning.lock_ttl":         c.Provisioning.LockTTL,
		"cache.processed_signature_ttl": c.Cache.ProcessedSignatureTTL,
	}
	for key, d := range positive {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive", key))
		}
	}
	if c.Monitor.AccountDelay < 0 {
		errs = append(errs, errors.New("monitor.account_delay: must not be negative"))
	}
	if c.Sweep.AccountDelay < 0 {
		errs = append(errs, errors.New("sweep.account_delay: must not be negative"))
	}
	if c.Monitor.SignatureLimit <= 0 {
		errs = append(errs, errors.New("monitor.signature_limit: must be positive"))
	}
	if c.Monitor.MaxHistoryPages <= 0 {
		errs = append(errs, errors.New("monitor.max_history_pages: must be positive"))
	}
	if c.Monitor.PageSize <= 0 {
		errs = append(errs, errors.New("monitor.page_size: must be positive"))
	}
	if c.Monitor.NotifyWorkers <= 0 || c.Monitor.NotifyQueueSize <= 0 {
		errs = append(errs, errors.New("monitor.notify_workers and monitor.notify_queue_size: must be positive"))
	}
	if c.Solana.RequestsPerSecond <= 0 || c.Solana.Burst <= 0 {
		errs = append(errs, errors.New("solana.requests_per_second and solana.burst: must be positive"))
	}
	if c.Solana.RPCURL == "" {
		errs = append(errs, errors.New("solana.rpc_url: required"))
	}
	if c.AES.Key == "" && (c.AES.Passphrase == "" || c.AES.Salt == "") {
		errs = append(errs, errors.New("aes: key or passphrase and salt required"))
	}
	if c.AES.Key == "" && c.AES.Salt != "" && len(c.AES.Salt) < minSaltLen {
		errs = append(errs, fmt.Errorf("aes.salt: at least %d bytes", minSaltLen))
	}
	if len(c.JWT.Secret) < minJWTSecretLen {
		errs = append(errs, fmt.Errorf("jwt.secret: at least %d bytes", minJWTSecretLen))
	}
	if c.Sweep.Schedule != "" {
		if _, err := cron.ParseStandard(c.Sweep.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("sweep.schedule: %w", err))
		}
	}

	return errors.Join(errs...)
}
