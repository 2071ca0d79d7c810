package config

import (
	"time"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Config is the root configuration for crawlspace.
type Config struct {
	Log     LogConfig     `mapstructure:"log"     yaml:"log"`
	Engine  EngineConfig  `mapstructure:"engine"  yaml:"engine"`
	Scraper ScraperConfig `mapstructure:"scraper" yaml:"scraper"`
	LLM     LLMConfig     `mapstructure:"llm"     yaml:"llm"`
	Results ResultsConfig `mapstructure:"results" yaml:"results"`
	State   StateConfig   `mapstructure:"state"   yaml:"state"`
	Seeds   SeedsConfig   `mapstructure:"seeds"   yaml:"seeds"`
	API     APIConfig     `mapstructure:"api"     yaml:"api"`
}

// LogConfig controls logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// EngineConfig controls the crawl engine and its shared worker pool.
type EngineConfig struct {
	MaxWorkers       int     `mapstructure:"max_workers"  yaml:"max_workers"`
	IdleSleepSeconds float64 `mapstructure:"idle_sleep_s" yaml:"idle_sleep_s"`
}

// IdleSleep is how long a worker waits after finding the frontier empty.
func (c EngineConfig) IdleSleep() time.Duration { return seconds(c.IdleSleepSeconds) }

// ScraperConfig controls the page scraper.
type ScraperConfig struct {
	TimeoutSeconds    float64 `mapstructure:"timeout_s"          yaml:"timeout_s"`
	UserAgent         string  `mapstructure:"user_agent"         yaml:"user_agent"`
	JavaScriptEnabled bool    `mapstructure:"javascript_enabled" yaml:"javascript_enabled"`
	ProxyServer       string  `mapstructure:"proxy_server"       yaml:"proxy_server"`
}

// Timeout is the per-page scrape deadline.
func (c ScraperConfig) Timeout() time.Duration { return seconds(c.TimeoutSeconds) }

// LLMConfig controls the LLM scoring analyzer's service client.
type LLMConfig struct {
	ServiceURL            string         `mapstructure:"service_url"             yaml:"service_url"`
	RequestTimeoutSeconds float64        `mapstructure:"request_timeout_s"       yaml:"request_timeout_s"`
	DefaultPromptTemplate string         `mapstructure:"default_prompt_template" yaml:"default_prompt_template"`
	OutputFormat          map[string]any `mapstructure:"output_format"           yaml:"output_format"`
}

// RequestTimeout is the per-request deadline for scoring calls.
func (c LLMConfig) RequestTimeout() time.Duration { return seconds(c.RequestTimeoutSeconds) }

// ResultsConfig controls the results manager backend.
type ResultsConfig struct {
	Backend                     string  `mapstructure:"backend"                        yaml:"backend"`
	CrawlDataDir                string  `mapstructure:"crawl_data_dir"                 yaml:"crawl_data_dir"`
	DatabasePath                string  `mapstructure:"database_path"                  yaml:"database_path"`
	MongoURI                    string  `mapstructure:"mongo_uri"                      yaml:"mongo_uri"`
	MongoDatabase               string  `mapstructure:"mongo_database"                 yaml:"mongo_database"`
	ServiceURL                  string  `mapstructure:"service_url"                    yaml:"service_url"`
	ServiceTimeoutSeconds       float64 `mapstructure:"service_timeout_s"              yaml:"service_timeout_s"`
	ServiceMaxRetries           int     `mapstructure:"service_max_retries"            yaml:"service_max_retries"`
	ServiceRetryExponentialBase float64 `mapstructure:"service_retry_exponential_base" yaml:"service_retry_exponential_base"`
}

// ServiceTimeout is the per-request deadline for the remote backend.
func (c ResultsConfig) ServiceTimeout() time.Duration { return seconds(c.ServiceTimeoutSeconds) }

// StateConfig controls the state store backend.
type StateConfig struct {
	StorageType string `mapstructure:"storage_type" yaml:"storage_type"`
	RedisURL    string `mapstructure:"redis_url"    yaml:"redis_url"`
	KeyPrefix   string `mapstructure:"key_prefix"   yaml:"key_prefix"`
}

// SeedsConfig controls the search-engine seed fetcher.
type SeedsConfig struct {
	RequestTimeoutSeconds float64 `mapstructure:"request_timeout_s"   yaml:"request_timeout_s"`
	RateLimitDelaySeconds float64 `mapstructure:"rate_limit_delay_s"  yaml:"rate_limit_delay_s"`
	MaxRetries            int     `mapstructure:"max_retries"         yaml:"max_retries"`
	UserAgent             string  `mapstructure:"user_agent"          yaml:"user_agent"`
	GoogleBaseURL         string  `mapstructure:"google_base_url"     yaml:"google_base_url"`
	BingBaseURL           string  `mapstructure:"bing_base_url"       yaml:"bing_base_url"`
	DuckDuckGoBaseURL     string  `mapstructure:"duckduckgo_base_url" yaml:"duckduckgo_base_url"`
}

// RequestTimeout is the per-request deadline for search engine queries.
func (c SeedsConfig) RequestTimeout() time.Duration { return seconds(c.RequestTimeoutSeconds) }

// RateLimitDelay is the pause between consecutive requests to one engine.
func (c SeedsConfig) RateLimitDelay() time.Duration { return seconds(c.RateLimitDelaySeconds) }

// APIConfig controls the HTTP control API server.
type APIConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Engine: EngineConfig{
			MaxWorkers:       8,
			IdleSleepSeconds: 1,
		},
		Scraper: ScraperConfig{
			TimeoutSeconds:    30,
			UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			JavaScriptEnabled: true,
		},
		LLM: LLMConfig{
			ServiceURL:            "http://localhost:8008/generate",
			RequestTimeoutSeconds: 60,
			DefaultPromptTemplate: "Rate how relevant the following web page content is to these topics, returning a single score between 0 and 1:",
			OutputFormat:          map[string]any{"score": "float"},
		},
		Results: ResultsConfig{
			Backend:                     "fs",
			CrawlDataDir:                "./crawl_data",
			DatabasePath:                "./crawlspace.db",
			MongoURI:                    "mongodb://localhost:27017",
			MongoDatabase:               "crawlspace",
			ServiceTimeoutSeconds:       30,
			ServiceMaxRetries:           3,
			ServiceRetryExponentialBase: 2,
		},
		State: StateConfig{
			StorageType: "memory",
			RedisURL:    "redis://localhost:6379/0",
			KeyPrefix:   "crawlspace",
		},
		Seeds: SeedsConfig{
			RequestTimeoutSeconds: 20,
			RateLimitDelaySeconds: 2,
			MaxRetries:            3,
			UserAgent:             "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			GoogleBaseURL:         "https://www.google.com",
			BingBaseURL:           "https://www.bing.com",
			DuckDuckGoBaseURL:     "https://html.duckduckgo.com",
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
	}
}
