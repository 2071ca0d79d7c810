package config

import (
	"fmt"
	"net/url"
)

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLogLevels[cfg.Log.Level] {
		return fmt.Errorf("log.level must be debug/info/warn/error, got %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json', got %q", cfg.Log.Format)
	}

	if cfg.Engine.MaxWorkers < 1 {
		return fmt.Errorf("engine.max_workers must be >= 1, got %d", cfg.Engine.MaxWorkers)
	}
	if cfg.Engine.MaxWorkers > 1000 {
		return fmt.Errorf("engine.max_workers must be <= 1000, got %d", cfg.Engine.MaxWorkers)
	}
	if cfg.Engine.IdleSleepSeconds < 0 {
		return fmt.Errorf("engine.idle_sleep_s must be >= 0")
	}

	if cfg.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_s must be > 0")
	}
	if cfg.Scraper.ProxyServer != "" {
		if _, err := url.Parse(cfg.Scraper.ProxyServer); err != nil {
			return fmt.Errorf("invalid scraper.proxy_server %q: %w", cfg.Scraper.ProxyServer, err)
		}
	}

	if cfg.LLM.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("llm.request_timeout_s must be > 0")
	}
	if cfg.LLM.ServiceURL != "" {
		if err := validateHTTPURL(cfg.LLM.ServiceURL); err != nil {
			return fmt.Errorf("invalid llm.service_url: %w", err)
		}
	}

	switch cfg.Results.Backend {
	case "fs":
		if cfg.Results.CrawlDataDir == "" {
			return fmt.Errorf("results.crawl_data_dir is required for the fs backend")
		}
	case "sql":
		if cfg.Results.DatabasePath == "" {
			return fmt.Errorf("results.database_path is required for the sql backend")
		}
	case "mongo":
		if cfg.Results.MongoURI == "" || cfg.Results.MongoDatabase == "" {
			return fmt.Errorf("results.mongo_uri and results.mongo_database are required for the mongo backend")
		}
	case "remote":
		if err := validateHTTPURL(cfg.Results.ServiceURL); err != nil {
			return fmt.Errorf("invalid results.service_url: %w", err)
		}
		if cfg.Results.ServiceMaxRetries < 0 {
			return fmt.Errorf("results.service_max_retries must be >= 0")
		}
		if cfg.Results.ServiceRetryExponentialBase <= 0 {
			return fmt.Errorf("results.service_retry_exponential_base must be > 0")
		}
	default:
		return fmt.Errorf("results.backend %q is not supported (valid: fs, sql, mongo, remote)", cfg.Results.Backend)
	}

	switch cfg.State.StorageType {
	case "memory":
	case "external":
		if cfg.State.RedisURL == "" {
			return fmt.Errorf("state.redis_url is required for the external backend")
		}
		if cfg.State.KeyPrefix == "" {
			return fmt.Errorf("state.key_prefix is required for the external backend")
		}
	default:
		return fmt.Errorf("state.storage_type must be 'memory' or 'external', got %q", cfg.State.StorageType)
	}

	if cfg.Seeds.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("seeds.request_timeout_s must be > 0")
	}
	if cfg.Seeds.RateLimitDelaySeconds < 0 {
		return fmt.Errorf("seeds.rate_limit_delay_s must be >= 0")
	}
	if cfg.Seeds.MaxRetries < 0 {
		return fmt.Errorf("seeds.max_retries must be >= 0")
	}
	for _, base := range []string{cfg.Seeds.GoogleBaseURL, cfg.Seeds.BingBaseURL, cfg.Seeds.DuckDuckGoBaseURL} {
		if err := validateHTTPURL(base); err != nil {
			return fmt.Errorf("invalid seeds base URL %q: %w", base, err)
		}
	}

	if cfg.API.Port < 1 || cfg.API.Port > 65535 {
		return fmt.Errorf("api.port must be 1-65535, got %d", cfg.API.Port)
	}

	return nil
}

// validateHTTPURL checks that a URL is absolute http(s) with a host.
func validateHTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("URL scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}
