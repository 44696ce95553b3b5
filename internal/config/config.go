// Package config loads and validates gateway and scrape service configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Gateway GatewayConfig `mapstructure:"gateway"`
	Scrap   ScrapConfig   `mapstructure:"scrap"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Extract ExtractConfig `mapstructure:"extract"`
	Fetcher FetcherConfig `mapstructure:"fetcher"`
	Storage StorageConfig `mapstructure:"storage"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Watch   WatchConfig   `mapstructure:"watch"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// GatewayConfig controls the public reverse-proxy entry point.
type GatewayConfig struct {
	Port int `mapstructure:"port"`
	// Services maps a logical service name to the base URL requests are forwarded to.
	Services map[string]string `mapstructure:"services"`
}

// ScrapConfig governs the scrape service and its job pipeline.
type ScrapConfig struct {
	Port              int           `mapstructure:"port"`
	JobsDir           string        `mapstructure:"jobs_dir"`
	ResultsDir        string        `mapstructure:"results_dir"`
	QueueDepth        int           `mapstructure:"queue_depth"`
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	EnqueueTimeout    time.Duration `mapstructure:"enqueue_timeout"`
	HistoryCacheTTL   time.Duration `mapstructure:"history_cache_ttl"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	// MaxJobRecords caps the in-memory job table; 0 keeps every record.
	MaxJobRecords int `mapstructure:"max_job_records"`
}

// CrawlerConfig describes how the external crawler process is invoked.
type CrawlerConfig struct {
	ProjectDir     string        `mapstructure:"project_dir"`
	Executable     string        `mapstructure:"executable"`
	Spider         string        `mapstructure:"spider"`
	URLParam       string        `mapstructure:"url_param"`
	OutputFile     string        `mapstructure:"output_file"`
	Timeout        time.Duration `mapstructure:"timeout"`
	TolerateStderr bool          `mapstructure:"tolerate_stderr"`
}

// ExtractConfig configures the chat-completion backed text extraction.
type ExtractConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Temperature   float32       `mapstructure:"temperature"`
	MaxInputBytes int           `mapstructure:"max_input_bytes"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// FetcherConfig configures the page fetcher used ahead of extraction.
type FetcherConfig struct {
	// Engine is "colly" for plain HTTP fetches or "headless" to render with Chrome.
	Engine        string        `mapstructure:"engine"`
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxParallel   int           `mapstructure:"max_parallel"`
	WaitSelector  string        `mapstructure:"wait_selector"`
}

// StorageConfig selects where successful artifacts are mirrored.
type StorageConfig struct {
	// Backend is one of "none", "memory", "local", or "gcs".
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	LocalDir    string `mapstructure:"local_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for job completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// WatchConfig toggles the artifact watcher.
type WatchConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	File       string        `mapstructure:"file"`
	OutputFile string        `mapstructure:"output_file"`
	Debounce   time.Duration `mapstructure:"debounce"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// legacyEnv maps the environment names the service historically read onto config keys.
var legacyEnv = map[string]string{
	"gateway.port":     "PORT_GATEWAY",
	"scrap.port":       "PORT_SCRAP",
	"extract.api_key":  "OPENAI_API_KEY",
	"extract.base_url": "OPENAI_BASE_URL",
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FANDOMGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range legacyEnv {
		if err := v.BindEnv(key, "FANDOMGW_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return Config{}, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.applyDerivedDefaults()
	if err := cfg.resolvePaths(); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.port", 3000)
	v.SetDefault("scrap.port", 4000)
	v.SetDefault("scrap.jobs_dir", "data/jobs")
	v.SetDefault("scrap.results_dir", "../Mogu2/result")
	v.SetDefault("scrap.queue_depth", 16)
	v.SetDefault("scrap.max_concurrent_jobs", 1)
	v.SetDefault("scrap.enqueue_timeout", "5s")
	v.SetDefault("scrap.history_cache_ttl", "30s")
	v.SetDefault("scrap.request_timeout", "0s")
	v.SetDefault("scrap.max_job_records", 1000)
	v.SetDefault("crawler.project_dir", "../Mogu")
	v.SetDefault("crawler.spider", "single_fandom_extractor")
	v.SetDefault("crawler.url_param", "fandom_url")
	v.SetDefault("crawler.output_file", "output.json")
	v.SetDefault("crawler.timeout", "0s")
	v.SetDefault("crawler.tolerate_stderr", false)
	v.SetDefault("extract.model", "gpt-3.5-turbo")
	v.SetDefault("extract.max_tokens", 1000)
	v.SetDefault("extract.temperature", 0.2)
	v.SetDefault("extract.max_input_bytes", 60000)
	v.SetDefault("extract.timeout", "60s")
	v.SetDefault("fetcher.engine", "colly")
	v.SetDefault("fetcher.max_parallel", 2)
	v.SetDefault("fetcher.wait_selector", ".mw-parser-output")
	v.SetDefault("fetcher.user_agent", "fandom-scrape-gateway/0.1")
	v.SetDefault("fetcher.respect_robots", true)
	v.SetDefault("fetcher.timeout", "15s")
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "artifacts")
	v.SetDefault("storage.content_type", "application/json")
	v.SetDefault("watch.enabled", false)
	v.SetDefault("watch.file", "data/data.json")
	v.SetDefault("watch.debounce", "500ms")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// applyDerivedDefaults fills values that depend on other keys.
func (c *Config) applyDerivedDefaults() {
	if len(c.Gateway.Services) == 0 {
		c.Gateway.Services = map[string]string{
			"scrap": fmt.Sprintf("http://localhost:%d/scrap", c.Scrap.Port),
		}
	}
	if c.Watch.OutputFile == "" && c.Watch.File != "" {
		c.Watch.OutputFile = strings.TrimSuffix(c.Watch.File, ".json") + ".extracted.json"
	}
}

// resolvePaths anchors filesystem settings to the working directory at load
// time. The crawler runs in crawler.project_dir, so a relative jobs dir would
// otherwise name two different places.
func (c *Config) resolvePaths() error {
	for _, p := range []*string{
		&c.Scrap.JobsDir,
		&c.Scrap.ResultsDir,
		&c.Crawler.ProjectDir,
		&c.Storage.LocalDir,
	} {
		if *p == "" || filepath.IsAbs(*p) {
			continue
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return fmt.Errorf("resolve path %q: %w", *p, err)
		}
		*p = abs
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Gateway.Port <= 0 {
		return fmt.Errorf("gateway.port must be > 0")
	}
	if c.Scrap.Port <= 0 {
		return fmt.Errorf("scrap.port must be > 0")
	}
	for name, raw := range c.Gateway.Services {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("gateway.services contains an empty service name")
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("gateway.services.%s must be an absolute http(s) URL", name)
		}
	}
	if strings.TrimSpace(c.Scrap.JobsDir) == "" {
		return fmt.Errorf("scrap.jobs_dir is required")
	}
	if strings.TrimSpace(c.Scrap.ResultsDir) == "" {
		return fmt.Errorf("scrap.results_dir is required")
	}
	if c.Scrap.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("scrap.max_concurrent_jobs must be > 0")
	}
	if c.Scrap.MaxJobRecords < 0 {
		return fmt.Errorf("scrap.max_job_records must be >= 0")
	}
	if c.Scrap.QueueDepth < 0 {
		return fmt.Errorf("scrap.queue_depth must be >= 0")
	}
	if strings.TrimSpace(c.Crawler.ProjectDir) == "" && strings.TrimSpace(c.Crawler.Executable) == "" {
		return fmt.Errorf("crawler.project_dir or crawler.executable is required")
	}
	if c.Crawler.Spider == "" || c.Crawler.URLParam == "" {
		return fmt.Errorf("crawler.spider and crawler.url_param are required")
	}
	if c.Extract.MaxTokens <= 0 {
		return fmt.Errorf("extract.max_tokens must be > 0")
	}
	switch c.Fetcher.Engine {
	case "", "colly", "headless":
	default:
		return fmt.Errorf("unknown fetcher.engine %q", c.Fetcher.Engine)
	}
	if c.Fetcher.MaxParallel < 0 {
		return fmt.Errorf("fetcher.max_parallel must be >= 0")
	}
	switch c.Storage.Backend {
	case "", "none", "memory":
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("storage.local_dir must be set when storage.backend is local")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.Watch.Enabled && c.Watch.File == "" {
		return fmt.Errorf("watch.file must be set when the watcher is enabled")
	}
	return nil
}

// GatewayAddr returns the listen address of the gateway.
func (c Config) GatewayAddr() string {
	return fmt.Sprintf(":%d", c.Gateway.Port)
}

// ScrapAddr returns the listen address of the scrape service.
func (c Config) ScrapAddr() string {
	return fmt.Sprintf(":%d", c.Scrap.Port)
}
