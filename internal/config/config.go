package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Environment string
	Postgres    PostgresConfig
	Redis       RedisConfig
	Queues      QueueConfig
	Storage     StorageConfig
	Gemini      GeminiConfig
	Download    DownloadConfig
	HTTP        HTTPConfig
	Sweeper     SweeperConfig
	Logging     LoggingConfig
}

type PostgresConfig struct {
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
	Migrate         bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
	Group    string
	Consumer string
}

type QueueConfig struct {
	ClaimInterval time.Duration
	MinIdle       time.Duration
	Concurrency   int
	ReadCount     int64
	Block         time.Duration
	MaxDeliveries int64
	DrainTimeout  time.Duration
}

type StorageConfig struct {
	Endpoint      string
	AccessKey     string
	SecretKey     string
	Bucket        string
	UseSSL        bool
	Region        string
	PublicBaseURL string
	FolderPrefix  string
}

type GeminiConfig struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	Instruction string
	RateLimit   float64
	Burst       int
}

type DownloadConfig struct {
	Timeout  time.Duration
	MaxBytes int64
}

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	AllowOrigins []string
}

type SweeperConfig struct {
	Enabled      bool
	Schedule     string
	StalledAfter time.Duration
	// PendingAfter fails jobs whose trigger never reached a worker.
	PendingAfter time.Duration
}

// uploadAllowance is the time budgeted for storing the enhanced image.
const uploadAllowance = time.Minute

// JobBudget is the longest a single job can legitimately run.
func (c *Config) JobBudget() time.Duration {
	return c.Download.Timeout + c.Gemini.Timeout + uploadAllowance
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("worker")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("../config")
	v.SetEnvPrefix("STOREFRONT_WORKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}

	return &cfg, nil
}

// Validate checks the settings the worker cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required"))
	}
	if c.Storage.Endpoint == "" {
		errs = append(errs, errors.New("storage.endpoint is required"))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	if c.Gemini.APIKey == "" {
		errs = append(errs, errors.New("gemini.apikey is required"))
	}
	if c.Queues.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("queues.concurrency must be positive, got %d", c.Queues.Concurrency))
	}
	if c.Gemini.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("gemini.timeout must be positive, got %s", c.Gemini.Timeout))
	}
	// a message idle for less than a running job's budget would be reclaimed
	// and processed twice
	if budget := c.JobBudget(); c.Queues.MinIdle <= budget {
		errs = append(errs, fmt.Errorf("queues.minidle (%s) must exceed the job budget of %s", c.Queues.MinIdle, budget))
	}
	if c.Sweeper.Enabled {
		if budget := c.JobBudget(); c.Sweeper.StalledAfter <= budget {
			errs = append(errs, fmt.Errorf("sweeper.stalledafter (%s) must exceed the job budget of %s", c.Sweeper.StalledAfter, budget))
		}
		if c.Sweeper.PendingAfter <= c.Queues.MinIdle {
			errs = append(errs, fmt.Errorf("sweeper.pendingafter (%s) must exceed queues.minidle (%s)", c.Sweeper.PendingAfter, c.Queues.MinIdle))
		}
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.maxopen", 10)
	v.SetDefault("postgres.maxidle", 2)
	v.SetDefault("postgres.connmaxlifetime", "30m")
	v.SetDefault("postgres.migrate", false)

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "enhancement:jobs")
	v.SetDefault("redis.group", "enhancement-workers")
	v.SetDefault("redis.consumer", "worker-1")

	v.SetDefault("queues.claiminterval", "30s")
	v.SetDefault("queues.minidle", "5m")
	v.SetDefault("queues.concurrency", 4)
	v.SetDefault("queues.readcount", 10)
	v.SetDefault("queues.block", "5s")
	v.SetDefault("queues.maxdeliveries", 5)
	v.SetDefault("queues.draintimeout", "30s")

	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.accesskey", "")
	v.SetDefault("storage.secretkey", "")
	v.SetDefault("storage.bucket", "storefront-media")
	v.SetDefault("storage.usessl", false)
	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.publicbaseurl", "")
	v.SetDefault("storage.folderprefix", "products")

	v.SetDefault("gemini.apikey", "")
	v.SetDefault("gemini.model", "gemini-2.5-flash-image-preview")
	v.SetDefault("gemini.timeout", "120s")
	// empty selects the enhancer's built-in instruction
	v.SetDefault("gemini.instruction", "")
	v.SetDefault("gemini.ratelimit", 1.0)
	v.SetDefault("gemini.burst", 4)

	v.SetDefault("download.timeout", "30s")
	v.SetDefault("download.maxbytes", 20<<20)

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8081)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")
	v.SetDefault("http.alloworigins", "")

	v.SetDefault("sweeper.enabled", true)
	v.SetDefault("sweeper.schedule", "0 */5 * * * *")
	v.SetDefault("sweeper.stalledafter", "30m")
	v.SetDefault("sweeper.pendingafter", "1h")

	v.SetDefault("logging.level", "info")
}
