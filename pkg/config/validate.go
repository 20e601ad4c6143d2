package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks the configuration for values the server cannot run with.
// Every problem is reported, not only the first.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout_seconds must be positive"))
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("server.log_level %q is not one of debug, info, warn, error", c.Server.LogLevel))
	}

	if c.Provider.BaseURL == "" {
		errs = append(errs, errors.New("provider.base_url is required"))
	}
	if c.Provider.StepLimit <= 0 {
		errs = append(errs, errors.New("provider.step_limit must be positive"))
	}
	if c.Provider.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("provider.requests_per_second must not be negative"))
	}

	errs = append(errs, c.validateExtractor()...)

	if strings.TrimSpace(c.Store.DataDir) == "" {
		errs = append(errs, errors.New("store.data_dir is required"))
	}
	if c.Session.TTLMinutes <= 0 {
		errs = append(errs, errors.New("session.ttl_minutes must be positive"))
	}
	if c.Session.CleanupIntervalSeconds <= 0 {
		errs = append(errs, errors.New("session.cleanup_interval_seconds must be positive"))
	}
	if c.Session.Workers < 0 {
		errs = append(errs, errors.New("session.workers must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (c *Config) validateExtractor() []error {
	var errs []error
	switch c.Extractor.Kind {
	case "llm":
		if strings.TrimSpace(c.Extractor.Model) == "" {
			errs = append(errs, errors.New("extractor.model is required for the llm extractor"))
		}
	case "ollama":
		if c.Extractor.OllamaURL == "" || c.Extractor.OllamaModel == "" {
			errs = append(errs, errors.New("extractor.ollama_url and extractor.ollama_model are required for the ollama extractor"))
		}
	case "heuristic":
	default:
		errs = append(errs, fmt.Errorf("extractor.kind %q is not one of llm, ollama, heuristic", c.Extractor.Kind))
	}
	if c.Extractor.Attempts <= 0 {
		errs = append(errs, errors.New("extractor.attempts must be positive"))
	}
	if c.Extractor.MaxInputChars <= 0 {
		errs = append(errs, errors.New("extractor.max_input_chars must be positive"))
	}
	return errs
}
