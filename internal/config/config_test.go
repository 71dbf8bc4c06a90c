package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "serper", cfg.Search.Provider)
	assert.Equal(t, 5, cfg.Search.TopK)
	assert.Equal(t, 5, cfg.Acquire.TargetCount)
	assert.Equal(t, 3, cfg.Acquire.MaxRounds)
	assert.Equal(t, 100, cfg.Acquire.MinContentLength)
	assert.Equal(t, 2, cfg.Acquire.ResupplyBase)
	assert.Equal(t, DefaultBlockMarkers, cfg.Acquire.BlockMarkers)
	assert.Equal(t, 200, cfg.Evaluate.MinLength)
	assert.Equal(t, 5, cfg.Evaluate.TopK)
	assert.Equal(t, DefaultTrustedDomains, cfg.Evaluate.TrustedDomains)
	assert.Equal(t, 1000, cfg.Index.ChunkSize)
	assert.Equal(t, 200, cfg.Index.ChunkOverlap)
	assert.Equal(t, "https://r.jina.ai", cfg.Jina.BaseURL)
	assert.Equal(t, "https://google.serper.dev", cfg.Serper.BaseURL)
	assert.Equal(t, []string{"local", "jina", "firecrawl"}, cfg.Scrape.Chain)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 24, cfg.Monitoring.LookbackWindowHours)
	assert.InDelta(t, 0.25, cfg.Monitoring.FailureRateThreshold, 0.0001)
	assert.Empty(t, cfg.Monitoring.WebhookURL)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
llm:
  provider: perplexity
acquire:
  max_rounds: 5
  resupply_base: 3
evaluate:
  trusted_domains: [".edu", "arxiv.org"]
log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "perplexity", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Acquire.MaxRounds)
	assert.Equal(t, 3, cfg.Acquire.ResupplyBase)
	assert.Equal(t, []string{".edu", "arxiv.org"}, cfg.Evaluate.TrustedDomains)
	assert.Equal(t, "console", cfg.Log.Format)
	// Defaults still apply for unset values
	assert.Equal(t, 5, cfg.Acquire.TargetCount)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store:\n  driver: sqlite\n"), 0o644))
	t.Setenv("INTELLIMESH_STORE_DRIVER", "postgres")
	t.Setenv("INTELLIMESH_ANTHROPIC_KEY", "sk-ant-test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "sk-ant-test", cfg.Anthropic.Key)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("INTELLIMESH_SERPER_KEY=from-dotenv\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("INTELLIMESH_SERPER_KEY") }) //nolint:errcheck

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.Serper.Key)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("acquire: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.LLM.Provider = "anthropic"
	cfg.Anthropic.Key = "sk-ant"
	cfg.Search.Provider = "serper"
	cfg.Serper.Key = "serper-key"
	cfg.Store.Driver = "sqlite"
	cfg.Acquire.TargetCount = 5
	cfg.Acquire.MaxRounds = 3
	cfg.Acquire.ResupplyBase = 2
	cfg.Evaluate.TopK = 5
	cfg.Index.ChunkSize = 1000
	cfg.Index.ChunkOverlap = 200
	cfg.Server.Port = 8080
	cfg.Bench.Concurrency = 2
	return cfg
}

func TestValidate_AllPresent(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("run"))
	assert.NoError(t, cfg.Validate("serve"))
	assert.NoError(t, cfg.Validate("bench"))
}

func TestValidate_MissingKeys(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""
	cfg.Serper.Key = ""

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")
	assert.Contains(t, err.Error(), "serper.key is required")
}

func TestValidate_AlternateProviders(t *testing.T) {
	cfg := validDefaults()
	cfg.LLM.Provider = "perplexity"
	cfg.Search.Provider = "jina"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "perplexity.key is required")
	assert.Contains(t, err.Error(), "jina.key is required")

	cfg.Perplexity.Key = "pplx"
	cfg.Jina.Key = "jina"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidate_PerplexitySearch(t *testing.T) {
	cfg := validDefaults()
	cfg.Search.Provider = "perplexity"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "perplexity.key is required")

	cfg.LLM.Provider = "perplexity"
	err = cfg.Validate("run")
	require.Error(t, err)
	assert.Equal(t, 1, strings.Count(err.Error(), "perplexity.key is required"))

	cfg.Perplexity.Key = "pplx"
	assert.NoError(t, cfg.Validate("run"))
}

func TestValidate_UnknownProviders(t *testing.T) {
	cfg := validDefaults()
	cfg.LLM.Provider = "llama"
	cfg.Search.Provider = "bing"
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.provider")
	assert.Contains(t, err.Error(), "search.provider")
	assert.Contains(t, err.Error(), "store.driver")
}

func TestValidate_Bounds(t *testing.T) {
	cfg := validDefaults()
	cfg.Acquire.MaxRounds = 0
	cfg.Index.ChunkOverlap = 1000

	err := cfg.Validate("run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquire.max_rounds must be >= 1")
	assert.Contains(t, err.Error(), "index.chunk_overlap")
}

func TestValidate_ServePort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	assert.NoError(t, cfg.Validate("run"))
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidate_MonitoringThreshold(t *testing.T) {
	cfg := validDefaults()
	cfg.Monitoring.FailureRateThreshold = 1.5

	assert.NoError(t, cfg.Validate("run"))
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring.failure_rate_threshold")
}

func TestValidate_UnknownMode(t *testing.T) {
	err := validDefaults().Validate("fedsync")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
