package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the prospector system.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Reddit     RedditConfig     `mapstructure:"reddit"`
	Ads        AdsConfig        `mapstructure:"ads"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Agent      AgentConfig      `mapstructure:"agent"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails"`
	Databases  DatabasesConfig  `mapstructure:"databases"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug       bool     `mapstructure:"debug"`
	LogLevel    string   `mapstructure:"log_level"`
	BrandName   string   `mapstructure:"brand_name"`
	AgentName   string   `mapstructure:"agent_name"`
	Competitors []string `mapstructure:"competitors"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Listen    string `mapstructure:"listen"`
	JWTSecret string `mapstructure:"jwt_secret"`
	JobSecret string `mapstructure:"job_secret"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.JWTSecret) == "" {
		return fmt.Errorf("server.jwt_secret is required")
	}
	if strings.TrimSpace(s.JobSecret) == "" {
		return fmt.Errorf("server.job_secret is required")
	}
	return nil
}

// LLMConfig configures the model backend for the agent loops.
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	CompletionModel string        `mapstructure:"completion_model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CostPer1KInput  float64       `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64       `mapstructure:"cost_per_1k_output"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.APIKey) == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	return nil
}

// RedditConfig configures the content platform reader.
type RedditConfig struct {
	ClientID     string        `mapstructure:"client_id"`
	ClientSecret string        `mapstructure:"client_secret"`
	UserAgent    string        `mapstructure:"user_agent"`
	BaseURL      string        `mapstructure:"base_url"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// AdsConfig configures the ads platform client.
type AdsConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	AccountID string        `mapstructure:"account_id"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// ScanConfig throttles the scheduled scan cycle.
type ScanConfig struct {
	Layer2Threshold int    `mapstructure:"layer2_threshold"`
	Layer2TopN      int    `mapstructure:"layer2_top_n"`
	PostsPerPage    int    `mapstructure:"posts_per_page"`
	ScanCron        string `mapstructure:"scan_cron"`
	AdsSyncCron     string `mapstructure:"ads_sync_cron"`
}

// Normalize applies the deliberate cost/latency throttles when unset.
func (s ScanConfig) Normalize() ScanConfig {
	if s.Layer2Threshold <= 0 {
		s.Layer2Threshold = 40
	}
	if s.Layer2TopN <= 0 {
		s.Layer2TopN = 1
	}
	if s.PostsPerPage <= 0 {
		s.PostsPerPage = 25
	}
	if s.ScanCron == "" {
		s.ScanCron = "@hourly"
	}
	if s.AdsSyncCron == "" {
		s.AdsSyncCron = "@daily"
	}
	return s
}

// AgentConfig bounds the Layer-2 and ad-recommendation loops.
type AgentConfig struct {
	MaxToolCalls    int           `mapstructure:"max_tool_calls"`
	MaxWallClock    time.Duration `mapstructure:"max_wall_clock"`
	AdsMaxToolCalls int           `mapstructure:"ads_max_tool_calls"`
	AdsMaxWallClock time.Duration `mapstructure:"ads_max_wall_clock"`
}

// Normalize applies the fixed iteration/time budgets when unset.
func (a AgentConfig) Normalize() AgentConfig {
	if a.MaxToolCalls <= 0 {
		a.MaxToolCalls = 8
	}
	if a.MaxWallClock <= 0 {
		a.MaxWallClock = 45 * time.Second
	}
	if a.AdsMaxToolCalls <= 0 {
		a.AdsMaxToolCalls = 4
	}
	if a.AdsMaxWallClock <= 0 {
		a.AdsMaxWallClock = 30 * time.Second
	}
	return a
}

// GuardrailsConfig carries engine defaults applied when a named rule row is
// absent from the store. Thresholds themselves live in the database.
type GuardrailsConfig struct {
	CacheTTL            time.Duration `mapstructure:"cache_ttl"`
	MinResponseLength   int           `mapstructure:"min_response_length"`
	MaxResponseLength   int           `mapstructure:"max_response_length"`
	MaxPromotionalScore float64       `mapstructure:"max_promotional_score"`
}

func (g GuardrailsConfig) Normalize() GuardrailsConfig {
	if g.CacheTTL <= 0 {
		g.CacheTTL = 5 * time.Minute
	}
	if g.MinResponseLength <= 0 {
		g.MinResponseLength = 50
	}
	if g.MaxResponseLength <= 0 {
		g.MaxResponseLength = 1500
	}
	if g.MaxPromotionalScore <= 0 {
		g.MaxPromotionalScore = 0.3
	}
	return g
}

// DatabasesConfig contains Postgres and Redis settings.
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// DSN builds the connection string, preferring an explicit URL.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (databases.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// TelemetryConfig contains monitoring settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// LoadConfig loads config from a file with PROSPECTOR_* env overrides.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetDefault("general.log_level", "info")
	v.SetDefault("general.agent_name", "prospector")
	v.SetDefault("server.listen", ":10020")
	v.SetDefault("llm.completion_model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.timeout", 30*time.Second)
	v.SetDefault("reddit.base_url", "https://oauth.reddit.com")
	v.SetDefault("reddit.timeout", 15*time.Second)
	v.SetDefault("ads.timeout", 20*time.Second)
	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.cost_tracking", true)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Env-only deployments run without a file.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Scan = cfg.Scan.Normalize()
	cfg.Agent = cfg.Agent.Normalize()
	cfg.Guardrails = cfg.Guardrails.Normalize()

	if err := cfg.Server.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.LLM.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
