package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config captures the runtime configuration for the modeldesk service.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Reporting     ReportingConfig     `mapstructure:"reporting"`
	Analytics     AnalyticsConfig     `mapstructure:"analytics"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	ListenAddr            string        `mapstructure:"listen_addr"`
	BodyLimitMB           int           `mapstructure:"body_limit_mb"`
	ReadTimeout           time.Duration `mapstructure:"read_timeout"`
	IdleTimeout           time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownDelay time.Duration `mapstructure:"graceful_shutdown_delay"`
	// AdminRequestsPerMinute throttles each caller on the /admin API.
	// Zero disables throttling.
	AdminRequestsPerMinute int `mapstructure:"admin_requests_per_minute"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	RunMigrations   bool          `mapstructure:"run_migrations"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MinConns        int32         `mapstructure:"min_conns"`
}

type RedisConfig struct {
	URL      string `mapstructure:"url"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

type ReportingConfig struct {
	Timezone string `mapstructure:"timezone"`
}

// AnalyticsConfig tunes the usage rollup cache and aggregation engine.
type AnalyticsConfig struct {
	// CurrentDayTTL controls how long a rollup for the current calendar day
	// is served before being recomputed. Closed days never expire.
	CurrentDayTTL    time.Duration `mapstructure:"current_day_ttl"`
	MaxRangeDays     int           `mapstructure:"max_range_days"`
	BuildTimeout     time.Duration `mapstructure:"build_timeout"`
	BuildConcurrency int           `mapstructure:"build_concurrency"`
	UpstreamRetries  int           `mapstructure:"upstream_retries"`
	EventPageSize    int           `mapstructure:"event_page_size"`
}

type ObservabilityConfig struct {
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
	EnableOTLP    bool   `mapstructure:"enable_otlp"`
	EnableMetrics bool   `mapstructure:"enable_metrics"`
}

// Options controls the config loader behavior.
type Options struct {
	ConfigFile string
	EnvFile    string
}

// Load returns the merged configuration sourced from YAML and environment variables.
func Load(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		_ = godotenv.Load(opts.EnvFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	setDefaults(v)

	explicitFile := false
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		explicitFile = true
	} else {
		if cfg := os.Getenv("MODELDESK_CONFIG_FILE"); cfg != "" {
			v.SetConfigFile(cfg)
			explicitFile = true
		}
	}

	if !explicitFile {
		// Allow standard lookup locations when no explicit file is provided.
		v.SetConfigName("modeldesk")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	v.SetEnvPrefix("MODELDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeStringToDurationHook())); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures required values are set and fills derived defaults.
func (c *Config) Validate() error {
	var missing []string

	if c.Database.URL == "" {
		missing = append(missing, "MODELDESK_DATABASE_URL")
	}
	if c.Redis.URL == "" {
		missing = append(missing, "MODELDESK_REDIS_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Database.RunMigrations && c.Database.MigrationsDir == "" {
		return fmt.Errorf("database.migrations_dir must be provided when run_migrations is true")
	}
	if c.Database.MaxConns < 0 {
		return fmt.Errorf("database.max_conns must be >= 0")
	}
	if c.Redis.PoolSize < 0 {
		return fmt.Errorf("redis.pool_size must be >= 0")
	}

	reportingTZ := strings.TrimSpace(c.Reporting.Timezone)
	if reportingTZ == "" {
		reportingTZ = "UTC"
	}
	if _, err := time.LoadLocation(reportingTZ); err != nil {
		return fmt.Errorf("invalid reporting.timezone: %w", err)
	}
	c.Reporting.Timezone = reportingTZ

	if c.Analytics.CurrentDayTTL <= 0 {
		c.Analytics.CurrentDayTTL = 5 * time.Minute
	}
	if c.Analytics.MaxRangeDays <= 0 {
		c.Analytics.MaxRangeDays = 180
	}
	if c.Analytics.BuildTimeout <= 0 {
		c.Analytics.BuildTimeout = 30 * time.Second
	}
	if c.Analytics.BuildConcurrency <= 0 {
		c.Analytics.BuildConcurrency = 4
	}
	if c.Analytics.UpstreamRetries <= 0 {
		c.Analytics.UpstreamRetries = 3
	}
	if c.Analytics.EventPageSize <= 0 {
		c.Analytics.EventPageSize = 1000
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.body_limit_mb", 4)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.idle_timeout", "90s")
	v.SetDefault("server.graceful_shutdown_delay", "5s")
	v.SetDefault("server.admin_requests_per_minute", 120)

	// Empty defaults register the keys so AutomaticEnv can populate them.
	v.SetDefault("database.url", "")
	v.SetDefault("database.run_migrations", false)
	v.SetDefault("database.migrations_dir", "migrations")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("reporting.timezone", "UTC")

	// 5 minutes keeps the current day near-real-time without hammering the
	// event store on every dashboard refresh.
	v.SetDefault("analytics.current_day_ttl", "5m")
	v.SetDefault("analytics.max_range_days", 180)
	v.SetDefault("analytics.build_timeout", "30s")
	v.SetDefault("analytics.build_concurrency", 4)
	v.SetDefault("analytics.upstream_retries", 3)
	v.SetDefault("analytics.event_page_size", 1000)

	v.SetDefault("observability.enable_metrics", true)
	v.SetDefault("observability.enable_otlp", false)
}

func timeStringToDurationHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case time.Duration:
			return v, nil
		case string:
			d, err := time.ParseDuration(v)
			if err != nil {
				return nil, err
			}
			return d, nil
		default:
			return nil, fmt.Errorf("cannot decode %T into time.Duration", data)
		}
	}
}
