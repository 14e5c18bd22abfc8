package config

import (
	"errors"
	"fmt"
	"net/url"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Scrape.Pages < 1 {
		return errors.New("scrape.pages must be >= 1")
	}
	if c.Scrape.BatchSize < 0 {
		return errors.New("scrape.batch_size must be >= 0")
	}
	if c.Scrape.Pause != nil && *c.Scrape.Pause < 0 {
		return errors.New("scrape.pause must be >= 0")
	}
	switch c.Scrape.Mode {
	case "sequential", "fast", "safe":
	default:
		return fmt.Errorf("scrape.mode must be one of sequential, fast, safe, got %q", c.Scrape.Mode)
	}
	if u, err := url.Parse(c.Scrape.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("scrape.base_url is not an absolute URL: %q", c.Scrape.BaseURL)
	}
	if c.Scrape.MaxRedirects < 0 {
		return errors.New("scrape.max_redirects must be >= 0")
	}
	if c.Scrape.RequestsPerSecond < 0 {
		return errors.New("scrape.requests_per_second must be >= 0")
	}

	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return errors.New("store.path is required for sqlite")
		}
	case "postgres":
		if err := c.Store.Postgres.validate("store.postgres"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store.driver must be sqlite or postgres, got %q", c.Store.Driver)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Schedule.Interval <= 0 {
		return errors.New("schedule.interval must be > 0")
	}

	if c.Export.S3.Enabled && c.Export.S3.Bucket == "" {
		return errors.New("export.s3.bucket is required when export.s3.enabled")
	}

	return nil
}

func (db *PostgresConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns must be <= max_conns", prefix)
	}
	return nil
}
