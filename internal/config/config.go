// Package config loads the application configuration and builds the global logger.
package config

import (
	"errors"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Serper     SerperConfig     `yaml:"serper" mapstructure:"serper"`
	Firecrawl  FirecrawlConfig  `yaml:"firecrawl" mapstructure:"firecrawl"`
	Mistral    MistralConfig    `yaml:"mistral" mapstructure:"mistral"`
	LLM        LLMConfig        `yaml:"llm" mapstructure:"llm"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Scrape     ScrapeConfig     `yaml:"scrape" mapstructure:"scrape"`
	Acquire    AcquireConfig    `yaml:"acquire" mapstructure:"acquire"`
	Evaluate   EvaluateConfig   `yaml:"evaluate" mapstructure:"evaluate"`
	Index      IndexConfig      `yaml:"index" mapstructure:"index"`
	Synth      SynthConfig      `yaml:"synth" mapstructure:"synth"`
	OCR        OCRConfig        `yaml:"ocr" mapstructure:"ocr"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Pricing    PricingConfig    `yaml:"pricing" mapstructure:"pricing"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Bench      BenchConfig      `yaml:"bench" mapstructure:"bench"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	Model     string  `yaml:"model" mapstructure:"model"`
	MaxTokens int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temp      float64 `yaml:"temperature" mapstructure:"temperature"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// JinaConfig holds Jina AI Reader and Search settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// SerperConfig holds Serper (Google Search) API settings.
type SerperConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// FirecrawlConfig holds Firecrawl API settings (last scraper in the chain).
type FirecrawlConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// MistralConfig holds Mistral OCR settings.
type MistralConfig struct {
	Key      string `yaml:"key" mapstructure:"key"`
	OCRModel string `yaml:"ocr_model" mapstructure:"ocr_model"`
}

// LLMConfig selects the completion provider.
type LLMConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"`
}

// SearchConfig selects and tunes the search provider.
type SearchConfig struct {
	Provider    string  `yaml:"provider" mapstructure:"provider"`
	TopK        int     `yaml:"top_k" mapstructure:"top_k"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// ScrapeConfig configures the fetcher chain.
type ScrapeConfig struct {
	TimeoutSecs     int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	UserAgent       string   `yaml:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes    int64    `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	Chain           []string `yaml:"chain" mapstructure:"chain"`
	ExcludePatterns []string `yaml:"exclude_patterns" mapstructure:"exclude_patterns"`
}

// AcquireConfig configures the content acquisition retry loop.
type AcquireConfig struct {
	TargetCount      int      `yaml:"target_count" mapstructure:"target_count"`
	MaxRounds        int      `yaml:"max_rounds" mapstructure:"max_rounds"`
	MinContentLength int      `yaml:"min_content_length" mapstructure:"min_content_length"`
	ResupplyBase     int      `yaml:"resupply_base" mapstructure:"resupply_base"`
	BlockMarkers     []string `yaml:"block_markers" mapstructure:"block_markers"`
}

// EvaluateConfig configures source filtering and ranking.
type EvaluateConfig struct {
	MinLength      int      `yaml:"min_length" mapstructure:"min_length"`
	TopK           int      `yaml:"top_k" mapstructure:"top_k"`
	TrustedDomains []string `yaml:"trusted_domains" mapstructure:"trusted_domains"`
}

// IndexConfig configures chunking and passage retrieval.
type IndexConfig struct {
	ChunkSize    int `yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap" mapstructure:"chunk_overlap"`
	TopK         int `yaml:"top_k" mapstructure:"top_k"`
}

// SynthConfig configures answer synthesis.
type SynthConfig struct {
	ResearchKeywords []string `yaml:"research_keywords" mapstructure:"research_keywords"`
}

// OCRConfig configures PDF text extraction.
type OCRConfig struct {
	Provider      string `yaml:"provider" mapstructure:"provider"`
	PdfToTextPath string `yaml:"pdftotext_path" mapstructure:"pdftotext_path"`
}

// RetryConfig configures retries of external API calls.
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

// PricingConfig holds per-provider pricing rates.
type PricingConfig struct {
	Anthropic  map[string]ModelPricing `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaPricing             `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityPricing       `yaml:"perplexity" mapstructure:"perplexity"`
	Serper     SerperPricing           `yaml:"serper" mapstructure:"serper"`
}

// ModelPricing holds per-model token pricing (USD per million tokens).
type ModelPricing struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// JinaPricing holds Jina Reader pricing.
type JinaPricing struct {
	PerMTok float64 `yaml:"per_mtok" mapstructure:"per_mtok"`
}

// PerplexityPricing holds Perplexity pricing.
type PerplexityPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// SerperPricing holds Serper pricing.
type SerperPricing struct {
	PerQuery float64 `yaml:"per_query" mapstructure:"per_query"`
}

// StoreConfig configures the run history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	// MaxConns and MinConns size the Postgres pool. Zero keeps the defaults.
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	TimeoutSecs    int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// BenchConfig configures the benchmark command.
type BenchConfig struct {
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
}

// MonitoringConfig configures run health checks and webhook alerts.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	CostThresholdUSD     float64 `yaml:"cost_threshold_usd" mapstructure:"cost_threshold_usd"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultBlockMarkers are substrings that identify block and challenge pages.
var DefaultBlockMarkers = []string{"Access Denied", "Enable JavaScript", "Just a moment..."}

// DefaultTrustedDomains are URL substrings whose sources are preferred.
var DefaultTrustedDomains = []string{".edu", ".gov", ".ac.uk", "mit.edu", "nature.com", "sciencedirect.com"}

// DefaultResearchKeywords select the research prompt register.
var DefaultResearchKeywords = []string{
	"ai", "artificial intelligence", "machine learning", "generative",
	"research", "science", "scientific",
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("INTELLIMESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("anthropic.model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.temperature", 0.2)
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("serper.base_url", "https://google.serper.dev")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v2")
	v.SetDefault("mistral.ocr_model", "mistral-ocr-latest")
	v.SetDefault("llm.provider", "anthropic")
	v.SetDefault("search.provider", "serper")
	v.SetDefault("search.top_k", 5)
	v.SetDefault("search.rate_limit", 5.0)
	v.SetDefault("search.timeout_secs", 15)
	v.SetDefault("scrape.timeout_secs", 10)
	v.SetDefault("scrape.user_agent", "Mozilla/5.0 (compatible; IntelliMesh/1.0)")
	v.SetDefault("scrape.max_body_bytes", 512*1024)
	v.SetDefault("scrape.chain", []string{"local", "jina", "firecrawl"})
	v.SetDefault("acquire.target_count", 5)
	v.SetDefault("acquire.max_rounds", 3)
	v.SetDefault("acquire.min_content_length", 100)
	v.SetDefault("acquire.resupply_base", 2)
	v.SetDefault("acquire.block_markers", DefaultBlockMarkers)
	v.SetDefault("evaluate.min_length", 200)
	v.SetDefault("evaluate.top_k", 5)
	v.SetDefault("evaluate.trusted_domains", DefaultTrustedDomains)
	v.SetDefault("index.chunk_size", 1000)
	v.SetDefault("index.chunk_overlap", 200)
	v.SetDefault("index.top_k", 4)
	v.SetDefault("synth.research_keywords", DefaultResearchKeywords)
	v.SetDefault("ocr.provider", "local")
	v.SetDefault("ocr.pdftotext_path", "pdftotext")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 500)
	v.SetDefault("retry.max_backoff_ms", 10000)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("pricing.jina.per_mtok", 0.02)
	v.SetDefault("pricing.perplexity.per_query", 0.005)
	v.SetDefault("pricing.serper.per_query", 0.001)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "intellimesh.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.timeout_secs", 300)
	v.SetDefault("bench.concurrency", 2)
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a given command depends on. Mode is one of
// "run", "serve" or "bench".
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "run", "serve", "bench":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.LLM.Provider {
	case "anthropic":
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	case "perplexity":
		if c.Perplexity.Key == "" {
			errs = append(errs, "perplexity.key is required")
		}
	default:
		errs = append(errs, "llm.provider must be anthropic or perplexity")
	}

	switch c.Search.Provider {
	case "serper":
		if c.Serper.Key == "" {
			errs = append(errs, "serper.key is required")
		}
	case "jina":
		if c.Jina.Key == "" {
			errs = append(errs, "jina.key is required")
		}
	case "perplexity":
		if c.Perplexity.Key == "" && c.LLM.Provider != "perplexity" {
			errs = append(errs, "perplexity.key is required")
		}
	default:
		errs = append(errs, "search.provider must be serper, jina or perplexity")
	}

	switch c.Store.Driver {
	case "", "none", "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite, postgres or none")
	}

	if c.Acquire.TargetCount < 1 {
		errs = append(errs, "acquire.target_count must be >= 1")
	}
	if c.Acquire.MaxRounds < 1 {
		errs = append(errs, "acquire.max_rounds must be >= 1")
	}
	if c.Acquire.ResupplyBase < 1 {
		errs = append(errs, "acquire.resupply_base must be >= 1")
	}
	if c.Evaluate.TopK < 1 {
		errs = append(errs, "evaluate.top_k must be >= 1")
	}
	if c.Index.ChunkSize < 1 {
		errs = append(errs, "index.chunk_size must be >= 1")
	}
	if c.Index.ChunkOverlap < 0 || c.Index.ChunkOverlap >= c.Index.ChunkSize {
		errs = append(errs, "index.chunk_overlap must be >= 0 and < index.chunk_size")
	}

	if mode == "serve" && c.Server.Port <= 0 {
		errs = append(errs, "server.port must be > 0")
	}
	if mode == "serve" && (c.Monitoring.FailureRateThreshold < 0 || c.Monitoring.FailureRateThreshold > 1) {
		errs = append(errs, "monitoring.failure_rate_threshold must be between 0 and 1")
	}
	if mode == "bench" && c.Bench.Concurrency < 1 {
		errs = append(errs, "bench.concurrency must be >= 1")
	}

	if len(errs) > 0 {
		return eris.New("config: " + strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
