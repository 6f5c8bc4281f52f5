package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port            int           `mapstructure:"port"`
		ShutdownTimeout time.Duration `mapstructure:"shutdownTimeout"`
	} `mapstructure:"server"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	Database struct {
		PostgresDSN         string        `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool          `mapstructure:"postgresAutoMigrate"`
		MaxOpenConns        int           `mapstructure:"maxOpenConns"`
		MaxIdleConns        int           `mapstructure:"maxIdleConns"`
		ConnMaxLifetime     time.Duration `mapstructure:"connMaxLifetime"`
	} `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	NATS       NATSConfig       `mapstructure:"nats"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
	Scoring    ScoringConfig    `mapstructure:"scoring"`
	Assignment AssignmentConfig `mapstructure:"assignment"`
	Batch      BatchConfig      `mapstructure:"batch"`
}

// RedisConfig configures the optional enrichment cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig configures the lead event stream. An empty URL disables both the
// inbound consumer and outbound event publishing.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Stream        string        `mapstructure:"stream"`
	SubjectPrefix string        `mapstructure:"subjectPrefix"` // e.g. crm.leads
	Consumer      string        `mapstructure:"consumer"`
	QueueGroup    string        `mapstructure:"group"`
	MaxAgeDays    int           `mapstructure:"maxAgeDays"`
	MaxDeliver    int           `mapstructure:"maxDeliver"`
	AckWait       time.Duration `mapstructure:"ackWait"`
	NakBaseDelay  time.Duration `mapstructure:"nakBaseDelay"`
	NakMaxDelay   time.Duration `mapstructure:"nakMaxDelay"`
}

// EnrichmentConfig configures the Census ACS client.
type EnrichmentConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	BaseURL   string        `mapstructure:"baseURL"`
	APIKey    string        `mapstructure:"apiKey"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rateLimit"` // requests per second
	Burst     int           `mapstructure:"burst"`
	CacheTTL  time.Duration `mapstructure:"cacheTTL"`
}

// ScoringConfig holds the normalization divisors and cache behaviour for scoring.
type ScoringConfig struct {
	// RuleMaxRawScore is the assumed maximum raw rule score. Tunable.
	RuleMaxRawScore float64 `mapstructure:"ruleMaxRawScore"`
	// DeriveRuleDivisor replaces RuleMaxRawScore with the sum of positive
	// impacts in the active rule set.
	DeriveRuleDivisor      bool          `mapstructure:"deriveRuleDivisor"`
	DemographicMaxRawScore float64       `mapstructure:"demographicMaxRawScore"`
	RuleCacheTTL           time.Duration `mapstructure:"ruleCacheTTL"`
	ScoreVersion           string        `mapstructure:"scoreVersion"`
	TopFactors             int           `mapstructure:"topFactors"`
}

// AssignmentConfig holds assignment engine behaviour.
type AssignmentConfig struct {
	// TerminalStatuses are lead statuses that no longer count as open for team load balancing.
	TerminalStatuses        []string      `mapstructure:"terminalStatuses"`
	DefaultOpportunityStage string        `mapstructure:"defaultOpportunityStage"`
	ClaimMaxElapsed         time.Duration `mapstructure:"claimMaxElapsed"`
}

// BatchConfig holds bulk scoring/assignment behaviour.
type BatchConfig struct {
	ChunkSize  int           `mapstructure:"chunkSize"`
	ChunkDelay time.Duration `mapstructure:"chunkDelay"`
	PageSize   int           `mapstructure:"pageSize"` // backfill page size
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("$HOME/.lead-routing-engine")
	v.AddConfigPath("/etc/lead-routing-engine")

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine, defaults and env vars still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, Config{})

	overrides := map[string]string{
		"POSTGRES_DSN":   "database.postgresDSN",
		"LOG_LEVEL":      "logLevel",
		"NATS_URL":       "nats.url",
		"REDIS_ADDR":     "redis.addr",
		"CENSUS_API_KEY": "enrichment.apiKey",
	}
	for env, key := range overrides {
		if val := os.Getenv(env); val != "" {
			v.Set(key, val)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdownTimeout", 30*time.Second)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("database.postgresAutoMigrate", false)
	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 30*time.Minute)

	v.SetDefault("nats.stream", "CRM_LEADS")
	v.SetDefault("nats.subjectPrefix", "crm.leads")
	v.SetDefault("nats.consumer", "lead-routing-engine")
	v.SetDefault("nats.group", "lead-routing-engine")
	v.SetDefault("nats.maxAgeDays", 7)
	v.SetDefault("nats.maxDeliver", 5)
	v.SetDefault("nats.ackWait", 60*time.Second)
	v.SetDefault("nats.nakBaseDelay", 2*time.Second)
	v.SetDefault("nats.nakMaxDelay", time.Minute)

	v.SetDefault("enrichment.enabled", true)
	v.SetDefault("enrichment.baseURL", "https://api.census.gov/data/2022/acs/acs5/profile")
	v.SetDefault("enrichment.timeout", 10*time.Second)
	v.SetDefault("enrichment.rateLimit", 5.0)
	v.SetDefault("enrichment.burst", 10)
	v.SetDefault("enrichment.cacheTTL", 30*24*time.Hour)

	v.SetDefault("scoring.ruleMaxRawScore", 150.0)
	v.SetDefault("scoring.deriveRuleDivisor", false)
	v.SetDefault("scoring.demographicMaxRawScore", 85.0)
	v.SetDefault("scoring.ruleCacheTTL", 5*time.Minute)
	v.SetDefault("scoring.scoreVersion", "v1")
	v.SetDefault("scoring.topFactors", 10)

	v.SetDefault("assignment.terminalStatuses", []string{"CONVERTED", "UNQUALIFIED", "CLOSED", "LOST"})
	v.SetDefault("assignment.defaultOpportunityStage", "Qualification")
	v.SetDefault("assignment.claimMaxElapsed", 5*time.Second)

	v.SetDefault("batch.chunkSize", 10)
	v.SetDefault("batch.chunkDelay", 100*time.Millisecond)
	v.SetDefault("batch.pageSize", 200)
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(append([]string{}, parts...), tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
