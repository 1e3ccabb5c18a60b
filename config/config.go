package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the quorum RAG core.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	Agents    AgentsConfig    `mapstructure:"agents"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address   string `mapstructure:"address"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// LLMConfig contains LLM provider configuration.
type LLMConfig struct {
	Provider       string              `mapstructure:"provider"` // openai
	APIKey         string              `mapstructure:"api_key"`
	BaseURL        string              `mapstructure:"base_url"`
	EmbeddingModel string              `mapstructure:"embedding_model"`
	Models         map[string]LLMModel `mapstructure:"models"`
	Routing        LLMRoutingConfig    `mapstructure:"routing"`
	Timeout        time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific completion model configuration.
type LLMModel struct {
	Name        string  `mapstructure:"name"`
	APIName     string  `mapstructure:"api_name"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

// LLMRoutingConfig defines which model key serves each task.
type LLMRoutingConfig struct {
	Synthesis string `mapstructure:"synthesis"` // grounded answer generation
	Summary   string `mapstructure:"summary"`   // conversation summarization
	Debate    string `mapstructure:"debate"`    // multi-agent debate synthesis
	Fallback  string `mapstructure:"fallback"`
}

// Resolve returns the model key routed for a task, falling back when unset.
func (r LLMRoutingConfig) Resolve(task string) string {
	var key string
	switch task {
	case "synthesis":
		key = r.Synthesis
	case "summary":
		key = r.Summary
	case "debate":
		key = r.Debate
	}
	if key == "" {
		key = r.Fallback
	}
	return key
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.EmbeddingModel) == "" {
		return fmt.Errorf("llm.embedding_model is required")
	}
	if len(l.Models) == 0 {
		return fmt.Errorf("llm.models must declare at least one model")
	}
	if l.Routing.Fallback == "" {
		return fmt.Errorf("llm.routing.fallback is required")
	}
	if _, ok := l.Models[l.Routing.Fallback]; !ok {
		return fmt.Errorf("llm.routing.fallback %q not present in llm.models", l.Routing.Fallback)
	}
	return nil
}

// StorageConfig groups the persistence backends.
type StorageConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings.
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return fmt.Errorf("storage.postgres.host required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN builds the Postgres connection string.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl)
}

// RedisConfig contains Redis cache settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Enabled() bool { return strings.TrimSpace(r.Host) != "" }

// RetrievalConfig bounds vector retrieval.
type RetrievalConfig struct {
	TopK                int     `mapstructure:"top_k"`
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
}

func (r RetrievalConfig) Validate() error {
	if r.TopK < 0 {
		return fmt.Errorf("retrieval.top_k must not be negative")
	}
	if r.SimilarityThreshold < -1 || r.SimilarityThreshold > 1 {
		return fmt.Errorf("retrieval.similarity_threshold must be within [-1,1]")
	}
	return nil
}

// MemoryConfig bounds conversation memory behaviour.
type MemoryConfig struct {
	SummaryThreshold int             `mapstructure:"summary_threshold"` // messages before summarization kicks in
	ContextBudget    int             `mapstructure:"context_budget"`    // character cap for optimized context
	RecentMessages   int             `mapstructure:"recent_messages"`
	RelevantMessages int             `mapstructure:"relevant_messages"`
	SummaryCacheTTL  time.Duration   `mapstructure:"summary_cache_ttl"`
	Retention        RetentionConfig `mapstructure:"retention"`
}

// RetentionConfig drives the external retention command, not the core.
type RetentionConfig struct {
	CronSpec string        `mapstructure:"cron_spec"`
	MaxIdle  time.Duration `mapstructure:"max_idle"`
}

// AgentsConfig contains persona and debate settings.
type AgentsConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`        // per-agent answer deadline
	LegacyParsing bool          `mapstructure:"legacy_parsing"` // prose-regex debate extraction instead of JSON
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	LogFile      string `mapstructure:"log_file"`
	CostTracking bool   `mapstructure:"cost_tracking"`
}

// LoadConfig loads config from file, applying defaults and env overrides (QUORUM_*).
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("general.default_timeout", "30s")
	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.embedding_model", "text-embedding-3-small")
	viper.SetDefault("llm.timeout", "60s")
	viper.SetDefault("retrieval.top_k", 12)
	viper.SetDefault("retrieval.similarity_threshold", 0.7)
	viper.SetDefault("memory.summary_threshold", 20)
	viper.SetDefault("memory.context_budget", 4000)
	viper.SetDefault("memory.recent_messages", 5)
	viper.SetDefault("memory.relevant_messages", 15)
	viper.SetDefault("memory.summary_cache_ttl", "1h")
	viper.SetDefault("agents.timeout", "90s")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("QUORUM")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	if err := config.LLM.Validate(); err != nil {
		panic(err)
	}
	if err := config.Storage.Postgres.Validate(); err != nil {
		panic(err)
	}
	if err := config.Retrieval.Validate(); err != nil {
		panic(err)
	}
	return &config
}
