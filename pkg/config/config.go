package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	SQLite      SQLiteConfig
	Redis       RedisConfig
	LLM         LLMConfig
	Classifier  ClassifierConfig
	Guardrail   GuardrailConfig
	Taxonomy    TaxonomyConfig
	Aggregation AggregationConfig
	Scheduler   SchedulerConfig
	Logging     LoggingConfig
	Metrics     MetricsConfig
}

type ServerConfig struct {
	Host             string
	Port             int
	ReadTimeout      int
	WriteTimeout     int
	BodyLimit        int
	RateLimitPerMin  int
	MaxReviewsPerRun int
	AllowedOrigins   []string
	IsDevelopment    bool
}

type SQLiteConfig struct {
	Enabled bool
	Path    string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type ClassifierConfig struct {
	BatchSize    int
	MaxRetries   int
	Concurrency  int
	RetryDelayMs int
}

type GuardrailConfig struct {
	MinTextLength int
}

type TaxonomyConfig struct {
	Path         string
	DefaultTheme string
}

type AggregationConfig struct {
	WeekStart string
	Timezone  string
}

type SchedulerConfig struct {
	Enabled   bool
	Cron      string
	InputDir  string
	ReportDir string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type MetricsConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path, or from the default search paths
// when path is empty. A missing file in the search paths is not an error.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/review-pulse")
	}

	v.SetEnvPrefix("REVIEW_PULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if _, err := config.Aggregation.Location(); err != nil {
		return nil, err
	}
	if _, err := config.Aggregation.Weekday(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.rateLimitPerMin", 30)
	v.SetDefault("server.maxReviewsPerRun", 5000)
	v.SetDefault("server.allowedOrigins", []string{})
	v.SetDefault("server.isDevelopment", false)

	v.SetDefault("sqlite.enabled", true)
	v.SetDefault("sqlite.path", "./data/pulse.db")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttlHours", 24*7)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.maxTokens", 2048)
	v.SetDefault("llm.timeoutSec", 60)

	v.SetDefault("classifier.batchSize", 8)
	v.SetDefault("classifier.maxRetries", 2)
	v.SetDefault("classifier.concurrency", 1)
	v.SetDefault("classifier.retryDelayMs", 500)

	v.SetDefault("guardrail.minTextLength", 10)

	v.SetDefault("taxonomy.path", "")
	v.SetDefault("taxonomy.defaultTheme", "")

	v.SetDefault("aggregation.weekStart", "monday")
	v.SetDefault("aggregation.timezone", "UTC")

	v.SetDefault("scheduler.enabled", false)
	v.SetDefault("scheduler.cron", "0 6 * * MON")
	v.SetDefault("scheduler.inputDir", "./data/weekly")
	v.SetDefault("scheduler.reportDir", "./data/reports")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("metrics.enabled", true)
}

func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

func (c ClassifierConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

func (c RedisConfig) TTL() time.Duration {
	return time.Duration(c.TTLHours) * time.Hour
}

func (c AggregationConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid aggregation timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func (c AggregationConfig) Weekday() (time.Weekday, error) {
	if c.WeekStart == "" {
		return time.Monday, nil
	}
	day, ok := weekdays[strings.ToLower(strings.TrimSpace(c.WeekStart))]
	if !ok {
		return time.Monday, fmt.Errorf("invalid aggregation week start %q", c.WeekStart)
	}
	return day, nil
}
