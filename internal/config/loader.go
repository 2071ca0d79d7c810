package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from file and environment.
// Priority (highest to lowest): env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	// Set defaults from struct
	setDefaults(v, cfg)

	// Environment variable support
	v.SetEnvPrefix("CRAWLSPACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Load config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Search default locations
		v.SetConfigName("crawlspace")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		home, err := os.UserHomeDir()
		if err == nil {
			v.AddConfigPath(filepath.Join(home, ".crawlspace"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && configPath != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is okay if not explicitly specified
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)

	v.SetDefault("engine.max_workers", cfg.Engine.MaxWorkers)
	v.SetDefault("engine.idle_sleep_s", cfg.Engine.IdleSleepSeconds)

	v.SetDefault("scraper.timeout_s", cfg.Scraper.TimeoutSeconds)
	v.SetDefault("scraper.user_agent", cfg.Scraper.UserAgent)
	v.SetDefault("scraper.javascript_enabled", cfg.Scraper.JavaScriptEnabled)
	v.SetDefault("scraper.proxy_server", cfg.Scraper.ProxyServer)

	v.SetDefault("llm.service_url", cfg.LLM.ServiceURL)
	v.SetDefault("llm.request_timeout_s", cfg.LLM.RequestTimeoutSeconds)
	v.SetDefault("llm.default_prompt_template", cfg.LLM.DefaultPromptTemplate)
	v.SetDefault("llm.output_format", cfg.LLM.OutputFormat)

	v.SetDefault("results.backend", cfg.Results.Backend)
	v.SetDefault("results.crawl_data_dir", cfg.Results.CrawlDataDir)
	v.SetDefault("results.database_path", cfg.Results.DatabasePath)
	v.SetDefault("results.mongo_uri", cfg.Results.MongoURI)
	v.SetDefault("results.mongo_database", cfg.Results.MongoDatabase)
	v.SetDefault("results.service_url", cfg.Results.ServiceURL)
	v.SetDefault("results.service_timeout_s", cfg.Results.ServiceTimeoutSeconds)
	v.SetDefault("results.service_max_retries", cfg.Results.ServiceMaxRetries)
	v.SetDefault("results.service_retry_exponential_base", cfg.Results.ServiceRetryExponentialBase)

	v.SetDefault("state.storage_type", cfg.State.StorageType)
	v.SetDefault("state.redis_url", cfg.State.RedisURL)
	v.SetDefault("state.key_prefix", cfg.State.KeyPrefix)

	v.SetDefault("seeds.request_timeout_s", cfg.Seeds.RequestTimeoutSeconds)
	v.SetDefault("seeds.rate_limit_delay_s", cfg.Seeds.RateLimitDelaySeconds)
	v.SetDefault("seeds.max_retries", cfg.Seeds.MaxRetries)
	v.SetDefault("seeds.user_agent", cfg.Seeds.UserAgent)
	v.SetDefault("seeds.google_base_url", cfg.Seeds.GoogleBaseURL)
	v.SetDefault("seeds.bing_base_url", cfg.Seeds.BingBaseURL)
	v.SetDefault("seeds.duckduckgo_base_url", cfg.Seeds.DuckDuckGoBaseURL)

	v.SetDefault("api.host", cfg.API.Host)
	v.SetDefault("api.port", cfg.API.Port)
}
