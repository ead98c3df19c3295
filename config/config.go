package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"optionflow/models"
)

type Config struct {
	App       AppConfig       `yaml:"app"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Markets   MarketsConfig   `yaml:"markets"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Filters   FiltersConfig   `yaml:"filters"`
	Channels  ChannelsConfig  `yaml:"channels"`
	Storage   StorageConfig   `yaml:"storage"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Stream    StreamConfig    `yaml:"stream"`
	Notify    NotifyConfig    `yaml:"notify"`
	Web       WebConfig       `yaml:"web"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

type GatewayConfig struct {
	Host              string          `yaml:"host"`
	Port              int             `yaml:"port"`
	Timeout           time.Duration   `yaml:"timeout"`
	SnapshotBatchSize int             `yaml:"snapshot_batch_size"`
	RateLimit         RateLimitConfig `yaml:"rate_limit"`
	Retry             RetryConfig     `yaml:"retry"`
	Keepalive         KeepaliveConfig `yaml:"keepalive"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
}

type KeepaliveConfig struct {
	Enabled              bool          `yaml:"enabled"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
}

type MarketsConfig struct {
	HK MarketConfig `yaml:"hk"`
	US MarketConfig `yaml:"us"`
}

type MarketConfig struct {
	Enabled         bool               `yaml:"enabled"`
	Underlyings     []string           `yaml:"underlyings"`
	TradingHours    TradingHoursConfig `yaml:"trading_hours"`
	MonitorOffHours bool               `yaml:"monitor_off_hours"`
}

// TradingHoursConfig describes a market session in the market's own timezone.
// Times are "HH:MM". Empty lunch fields mean the session has no midday break.
type TradingHoursConfig struct {
	Open       string `yaml:"open"`
	Close      string `yaml:"close"`
	LunchStart string `yaml:"lunch_start"`
	LunchEnd   string `yaml:"lunch_end"`
	Timezone   string `yaml:"timezone"`
}

// Location resolves the configured timezone.
func (t TradingHoursConfig) Location() (*time.Location, error) {
	if t.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(t.Timezone)
}

type SchedulerConfig struct {
	MinAPIInterval     time.Duration `yaml:"min_api_interval"`
	TurnPollInterval   time.Duration `yaml:"turn_poll_interval"`
	TurnMaxCycles      int           `yaml:"turn_max_cycles"`
	ScanIntervalSingle time.Duration `yaml:"scan_interval_single"`
	ScanIntervalMulti  time.Duration `yaml:"scan_interval_multi"`
	SecondMarketDelay  time.Duration `yaml:"second_market_delay"`
	ErrorRetryInterval time.Duration `yaml:"error_retry_interval"`
	ClosedPollInterval time.Duration `yaml:"closed_poll_interval"`
	SupervisorInterval time.Duration `yaml:"supervisor_interval"`
	RestartDelay       time.Duration `yaml:"restart_delay"`
}

type FiltersConfig struct {
	HKDefault    models.ThresholdRule            `yaml:"hk_default"`
	USDefault    models.ThresholdRule            `yaml:"us_default"`
	HSIOptions   models.ThresholdRule            `yaml:"hsi_options"`
	HSCEIOptions models.ThresholdRule            `yaml:"hscei_options"`
	Overrides    map[string]models.ThresholdRule `yaml:"overrides"`
}

type ChannelsConfig struct {
	QuoteBuffer int `yaml:"quote_buffer"`
	EventBuffer int `yaml:"event_buffer"`
}

type StorageConfig struct {
	Postgres PostgresConfig `yaml:"postgres"`
}

type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	DBName          string        `yaml:"dbname"`
	SSLMode         string        `yaml:"sslmode"`
	RetentionDays   int           `yaml:"retention_days"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// ConnString returns the DSN, assembling it from the individual fields when no
// explicit dsn was configured.
func (p PostgresConfig) ConnString() string {
	if p.DSN != "" {
		return p.DSN
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		p.Host, p.User, p.Password, p.DBName, p.Port, p.SSLMode)
}

type ArchiveConfig struct {
	Enabled       bool          `yaml:"enabled"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Compression   string        `yaml:"compression"`
	S3            S3Config      `yaml:"s3"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type StreamConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type NotifyConfig struct {
	WebhookURL          string        `yaml:"webhook_url"`
	ExtraWebhookURLs    []string      `yaml:"extra_webhook_urls"`
	MentionedList       []string      `yaml:"mentioned_list"`
	MentionedMobileList []string      `yaml:"mentioned_mobile_list"`
	Timeout             time.Duration `yaml:"timeout"`
	Cooldown            time.Duration `yaml:"cooldown"`
	QualifiedTurnover   float64       `yaml:"qualified_turnover"`
}

type WebConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type MetricsConfig struct {
	CloudWatch     CloudWatchConfig `yaml:"cloudwatch"`
	ReportInterval time.Duration    `yaml:"report_interval"`
}

type CloudWatchConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Region    string `yaml:"region"`
	Namespace string `yaml:"namespace"`
	Dashboard string `yaml:"dashboard"`
}

// MarketNameHK and MarketNameUS are the identifiers used for registration with
// the turn coordinator and as keys throughout logs and storage.
const (
	MarketNameHK = "HK"
	MarketNameUS = "US"
)

// Market returns the configuration for a market by name.
func (c *Config) Market(name string) (MarketConfig, bool) {
	switch name {
	case MarketNameHK:
		return c.Markets.HK, true
	case MarketNameUS:
		return c.Markets.US, true
	default:
		return MarketConfig{}, false
	}
}

// EnabledMarkets returns the enabled market names in registration order. HK
// registers first when both are enabled, matching the turn coordinator's
// initial-turn ownership.
func (c *Config) EnabledMarkets() []string {
	var out []string
	if c.Markets.HK.Enabled {
		out = append(out, MarketNameHK)
	}
	if c.Markets.US.Enabled {
		out = append(out, MarketNameUS)
	}
	return out
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := defaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnvOverrides(config)

	config.Archive.S3.Bucket = strings.TrimSpace(config.Archive.S3.Bucket)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "optionflow",
			Environment: "development",
		},
		Gateway: GatewayConfig{
			Host:              "127.0.0.1",
			Port:              11111,
			Timeout:           15 * time.Second,
			SnapshotBatchSize: 200,
			RateLimit:         RateLimitConfig{RequestsPerSecond: 5, BurstSize: 2},
			Retry:             RetryConfig{MaxAttempts: 3, Delay: 10 * time.Second},
			Keepalive: KeepaliveConfig{
				Enabled:              true,
				PingInterval:         60 * time.Second,
				ReconnectInterval:    30 * time.Second,
				MaxReconnectAttempts: 10,
			},
		},
		Markets: MarketsConfig{
			HK: MarketConfig{
				TradingHours: TradingHoursConfig{
					Open:       "09:30",
					Close:      "16:00",
					LunchStart: "12:00",
					LunchEnd:   "13:00",
					Timezone:   "Asia/Hong_Kong",
				},
			},
			US: MarketConfig{
				TradingHours: TradingHoursConfig{
					Open:     "09:30",
					Close:    "16:00",
					Timezone: "America/New_York",
				},
			},
		},
		Scheduler: SchedulerConfig{
			MinAPIInterval:     5 * time.Second,
			TurnPollInterval:   5 * time.Second,
			TurnMaxCycles:      60,
			ScanIntervalSingle: 60 * time.Second,
			ScanIntervalMulti:  120 * time.Second,
			SecondMarketDelay:  60 * time.Second,
			ErrorRetryInterval: 60 * time.Second,
			ClosedPollInterval: 60 * time.Second,
			SupervisorInterval: 600 * time.Second,
			RestartDelay:       5 * time.Second,
		},
		Filters: FiltersConfig{
			HKDefault: models.ThresholdRule{
				MinVolume:           100,
				MinTurnover:         500000,
				MinVolumeDelta:      10,
				StrikeRangeFraction: 0.4,
				MaxDaysToExpiry:     30,
			},
			USDefault: models.ThresholdRule{
				MinVolume:           50,
				MinTurnover:         100000,
				MinVolumeDelta:      5,
				StrikeRangeFraction: 0.4,
				MaxDaysToExpiry:     30,
			},
			HSIOptions: models.ThresholdRule{
				MinVolume:           200,
				MinTurnover:         2000000,
				MinVolumeDelta:      20,
				StrikeRangeFraction: 0.4,
				MaxDaysToExpiry:     30,
			},
			HSCEIOptions: models.ThresholdRule{
				MinVolume:           100,
				MinTurnover:         1000000,
				MinVolumeDelta:      10,
				StrikeRangeFraction: 0.4,
				MaxDaysToExpiry:     30,
			},
		},
		Channels: ChannelsConfig{QuoteBuffer: 5000, EventBuffer: 1000},
		Storage: StorageConfig{
			Postgres: PostgresConfig{
				Host:            "127.0.0.1",
				Port:            5432,
				User:            "optionflow",
				DBName:          "optionflow",
				SSLMode:         "disable",
				RetentionDays:   90,
				CleanupInterval: 24 * time.Hour,
			},
		},
		Archive: ArchiveConfig{
			FlushInterval: 60 * time.Second,
			Compression:   "snappy",
		},
		Notify: NotifyConfig{
			Timeout:           10 * time.Second,
			Cooldown:          60 * time.Second,
			QualifiedTurnover: 1000000,
		},
		Web: WebConfig{
			Address:         ":8289",
			RefreshInterval: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			ReportInterval: 60 * time.Second,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPTIONFLOW_GATEWAY_HOST"); v != "" {
		cfg.Gateway.Host = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPTIONFLOW_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && port > 0 {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("OPTIONFLOW_WEBHOOK_URL"); v != "" {
		cfg.Notify.WebhookURL = strings.TrimSpace(v)
	}
	if v := os.Getenv("OPTIONFLOW_POSTGRES_DSN"); v != "" {
		cfg.Storage.Postgres.DSN = strings.TrimSpace(v)
	}
	if cfg.Archive.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Archive.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Archive.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Archive.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			cfg.Archive.S3.Bucket = strings.TrimSpace(v)
		}
	}
}

func validateConfig(cfg *Config) error {
	if cfg.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if cfg.App.Version == "" {
		return fmt.Errorf("app.version is required")
	}

	if cfg.Gateway.Host == "" {
		return fmt.Errorf("gateway.host is required")
	}
	if cfg.Gateway.Port <= 0 {
		return fmt.Errorf("gateway.port must be greater than 0")
	}
	if cfg.Gateway.SnapshotBatchSize <= 0 {
		return fmt.Errorf("gateway.snapshot_batch_size must be greater than 0")
	}
	if cfg.Gateway.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("gateway.retry.max_attempts must be greater than 0")
	}

	enabled := cfg.EnabledMarkets()
	if len(enabled) == 0 {
		return fmt.Errorf("no market is enabled")
	}
	for _, name := range enabled {
		market, _ := cfg.Market(name)
		if len(market.Underlyings) == 0 {
			return fmt.Errorf("markets.%s.underlyings must not be empty", strings.ToLower(name))
		}
		if _, err := market.TradingHours.Location(); err != nil {
			return fmt.Errorf("markets.%s.trading_hours.timezone is invalid: %w", strings.ToLower(name), err)
		}
	}

	if cfg.Scheduler.MinAPIInterval <= 0 {
		return fmt.Errorf("scheduler.min_api_interval must be greater than 0")
	}
	if cfg.Scheduler.TurnPollInterval <= 0 {
		return fmt.Errorf("scheduler.turn_poll_interval must be greater than 0")
	}
	if cfg.Scheduler.TurnMaxCycles <= 0 {
		return fmt.Errorf("scheduler.turn_max_cycles must be greater than 0")
	}
	if cfg.Scheduler.ScanIntervalSingle <= 0 || cfg.Scheduler.ScanIntervalMulti <= 0 {
		return fmt.Errorf("scheduler scan intervals must be greater than 0")
	}

	if cfg.Channels.QuoteBuffer <= 0 {
		return fmt.Errorf("channels.quote_buffer must be greater than 0")
	}
	if cfg.Channels.EventBuffer <= 0 {
		return fmt.Errorf("channels.event_buffer must be greater than 0")
	}

	if cfg.Archive.Enabled {
		if cfg.Archive.FlushInterval <= 0 {
			return fmt.Errorf("archive.flush_interval must be greater than 0")
		}
		if cfg.Archive.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required when archive is enabled")
		}
		if cfg.Archive.S3.Region == "" {
			return fmt.Errorf("archive.s3.region is required when archive is enabled")
		}
		if !isValidS3Bucket(cfg.Archive.S3.Bucket) {
			return fmt.Errorf("archive.s3.bucket '%s' is invalid", cfg.Archive.S3.Bucket)
		}
	}

	if cfg.Stream.Kafka.Enabled {
		if len(cfg.Stream.Kafka.Brokers) == 0 {
			return fmt.Errorf("stream.kafka.brokers is required when kafka is enabled")
		}
		if cfg.Stream.Kafka.Topic == "" {
			return fmt.Errorf("stream.kafka.topic is required when kafka is enabled")
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
