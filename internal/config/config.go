package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	Names     NamesConfig     `yaml:"names" mapstructure:"names"`
	Taxonomy  TaxonomyConfig  `yaml:"taxonomy" mapstructure:"taxonomy"`
	LLM       LLMConfig       `yaml:"llm" mapstructure:"llm"`
	Gemini    GeminiConfig    `yaml:"gemini" mapstructure:"gemini"`
	Ollama    OllamaConfig    `yaml:"ollama" mapstructure:"ollama"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Chunk     ChunkConfig     `yaml:"chunk" mapstructure:"chunk"`
	Document  DocumentConfig  `yaml:"document" mapstructure:"document"`
	Fetch     FetchConfig     `yaml:"fetch" mapstructure:"fetch"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Report    ReportConfig    `yaml:"report" mapstructure:"report"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Monitor   MonitorConfig   `yaml:"monitor" mapstructure:"monitor"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Retry     RetryConfig     `yaml:"retry" mapstructure:"retry"`
	Circuit   CircuitConfig   `yaml:"circuit" mapstructure:"circuit"`
	Pricing   PricingConfig   `yaml:"pricing" mapstructure:"pricing"`
}

// NamesConfig configures the GNfinder name-finding service.
type NamesConfig struct {
	GNfinderURL string `yaml:"gnfinder_url" mapstructure:"gnfinder_url"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// TaxonomyConfig configures the GBIF backbone lookups behind the taxonomy
// filter.
type TaxonomyConfig struct {
	BaseURL       string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit     float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	CacheTTLHours int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
}

// LLMConfig selects the extraction model provider and run parameters.
type LLMConfig struct {
	Provider           string  `yaml:"provider" mapstructure:"provider"`
	Temperature        float64 `yaml:"temperature" mapstructure:"temperature"`
	ConcurrentRequests int     `yaml:"concurrent_requests" mapstructure:"concurrent_requests"`
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	Key   string `yaml:"key" mapstructure:"key"`
	Model string `yaml:"model" mapstructure:"model"`
}

// OllamaConfig holds local Ollama settings.
type OllamaConfig struct {
	URL   string `yaml:"url" mapstructure:"url"`
	Model string `yaml:"model" mapstructure:"model"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int    `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// ChunkConfig configures chunk construction.
type ChunkConfig struct {
	Strategy      string `yaml:"strategy" mapstructure:"strategy"`
	ContextBefore int    `yaml:"context_before" mapstructure:"context_before"`
	ContextAfter  int    `yaml:"context_after" mapstructure:"context_after"`
	TopChars      int    `yaml:"top_chars" mapstructure:"top_chars"`
	BottomChars   int    `yaml:"bottom_chars" mapstructure:"bottom_chars"`
}

// DocumentConfig configures PDF text extraction.
type DocumentConfig struct {
	Reader         string `yaml:"reader" mapstructure:"reader"`
	PdfToTextPath  string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
	RepairEncoding bool   `yaml:"repair_encoding" mapstructure:"repair_encoding"`
}

// FetchConfig configures downloads of remote documents.
type FetchConfig struct {
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// ReportConfig configures run reports.
type ReportConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// NotionConfig holds the Notion token and the results database.
type NotionConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	DatabaseID string `yaml:"database_id" mapstructure:"database_id"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitorConfig configures run health alerts. Alerts are only sent when
// WebhookURL is set.
type MonitorConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
	StaleRunMinutes      int     `yaml:"stale_run_minutes" mapstructure:"stale_run_minutes"`
}

// LogConfig configures logging. File enables a rotating JSON log file in
// addition to stderr.
type LogConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Format     string `yaml:"format" mapstructure:"format"`
	File       string `yaml:"file" mapstructure:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// RetryConfig configures retries of remote calls.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// CircuitConfig configures per-service circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// PricingConfig overrides per-model token prices. Models are a list rather
// than a map because model names contain viper's key delimiter.
type PricingConfig struct {
	Models []ModelPricing `yaml:"models" mapstructure:"models"`
}

// ModelPricing is USD per million tokens for one model.
type ModelPricing struct {
	Model  string  `yaml:"model" mapstructure:"model"`
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// secrets may also come from the providers' conventional variable names.
var secrets = map[string][]string{
	"gemini.key":         {"ECOPARSE_GEMINI_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"anthropic.key":      {"ECOPARSE_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"},
	"notion.token":       {"ECOPARSE_NOTION_TOKEN", "NOTION_TOKEN"},
	"notion.database_id": {"ECOPARSE_NOTION_DATABASE_ID"},
}

// Load reads .env, config.yaml and the environment, in increasing order of
// precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ECOPARSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, envs := range secrets {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return nil, eris.Wrapf(err, "config: bind %s", key)
		}
	}

	v.SetDefault("names.gnfinder_url", "http://localhost:4040/api/v1/find")
	v.SetDefault("names.timeout_secs", 120)
	v.SetDefault("taxonomy.base_url", "https://api.gbif.org/v1")
	v.SetDefault("taxonomy.rate_limit", 5.0)
	v.SetDefault("taxonomy.cache_ttl_hours", 24)
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.concurrent_requests", 5)
	v.SetDefault("gemini.model", "gemini-2.5-flash-lite")
	v.SetDefault("ollama.url", "http://localhost:11434")
	v.SetDefault("ollama.model", "gemma3:12b")
	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("chunk.strategy", "context")
	v.SetDefault("chunk.context_before", 0)
	v.SetDefault("chunk.context_after", 250)
	v.SetDefault("chunk.top_chars", 500)
	v.SetDefault("chunk.bottom_chars", 500)
	v.SetDefault("document.reader", "pdftotext")
	v.SetDefault("document.pdftotext_path", "pdftotext")
	v.SetDefault("document.repair_encoding", true)
	v.SetDefault("fetch.temp_dir", "")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "ecoparse.db")
	v.SetDefault("report.dir", "logs")
	v.SetDefault("server.port", 8080)
	v.SetDefault("monitor.check_interval_secs", 300)
	v.SetDefault("monitor.lookback_window_hours", 24)
	v.SetDefault("monitor.failure_rate_threshold", 0.25)
	v.SetDefault("monitor.cost_threshold_usd", 0)
	v.SetDefault("monitor.stale_run_minutes", 60)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 30000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}
