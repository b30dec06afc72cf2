package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	logx "syndicate/pkg/logx"
)

const (
	DefaultSweep       = "every:1m"
	DefaultCleanup     = "daily:03:00"
	DefaultHTTPAddr    = "127.0.0.1:8080"
	DefaultSQLitePath  = "./data/syndicate.db"
	DefaultNATSSubject = "syndicate"
)

// Validate checks the parts of cfg that can be checked without touching the
// outside world. Schedule specs are checked by the scheduler when applied.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		_, err := ParseDuration(path, raw, 0)
		add(err)
	}

	if _, err := logx.ParseLevel(cfg.Logging.Level); err != nil {
		add(fmt.Errorf("logging.level: %w", err))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "memory", "sqlite":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q (want memory or sqlite)", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	dur("http.read_timeout", cfg.HTTP.ReadTimeout)
	dur("http.write_timeout", cfg.HTTP.WriteTimeout)
	dur("http.idle_timeout", cfg.HTTP.IdleTimeout)

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	dur("scheduler.timeout", cfg.Scheduler.Timeout)

	d := cfg.Distribution
	dur("distribution.retry_delay", d.RetryDelay)
	dur("distribution.connector_timeout", d.ConnectorTimeout)
	dur("distribution.breaker_open_for", d.BreakerOpenFor)
	if d.MaxRetries != nil && (*d.MaxRetries < 0 || *d.MaxRetries > 10) {
		add(errors.New("distribution.max_retries: must be between 0 and 10"))
	}
	if d.MaxConcurrent < 0 || d.ScheduledBatchSize < 0 || d.RetentionDays < 0 || d.BreakerFailures < 0 {
		add(errors.New("distribution: counts must be >= 0"))
	}
	if d.RetryBackoffMultiplier != 0 && d.RetryBackoffMultiplier < 1 {
		add(errors.New("distribution.retry_backoff_multiplier: must be >= 1"))
	}
	add(absURL("distribution.site_base_url", d.SiteBaseURL))

	c := cfg.Connectors
	dur("connectors.post_timeout", c.PostTimeout)
	dur("connectors.validate_timeout", c.ValidateTimeout)
	if c.RatePerSec < 0 || c.Burst < 0 {
		add(errors.New("connectors: rate_per_sec and burst must be >= 0"))
	}
	for name, u := range c.BaseURLs {
		add(absURL("connectors.base_urls."+name, u))
	}

	add(absURL("content.base_url", cfg.Content.BaseURL))
	dur("content.timeout", cfg.Content.Timeout)
	dur("content.cache.ttl", cfg.Content.Cache.TTL)
	if cfg.Content.Cache.Enabled && strings.TrimSpace(cfg.Content.Cache.RedisAddr) == "" {
		add(errors.New("content.cache.redis_addr: required when the cache is enabled"))
	}

	if cfg.Events.NATS.Enabled && strings.TrimSpace(cfg.Events.NATS.URL) == "" {
		add(errors.New("events.nats.url: required when nats is enabled"))
	}

	return errors.Join(errs...)
}

func absURL(path, raw string) error {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s: %q is not an absolute URL", path, raw)
	}
	return nil
}
