package app

import (
	"strings"
	"time"

	"syndicate/internal/api"
	"syndicate/internal/config"
	"syndicate/internal/connector"
	"syndicate/internal/distribution"
	"syndicate/internal/platform"
	"syndicate/internal/resilience"
	"syndicate/internal/storage"
	"syndicate/internal/task/scheduler"
	logx "syndicate/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		JSON:    cfg.Logging.JSON,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" {
		driver = "memory"
	}
	path := strings.TrimSpace(sc.Path)
	if driver == "sqlite" && path == "" {
		path = config.DefaultSQLitePath
	}
	busy, err := config.ParseDuration("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
}

func mapHTTPConfig(cfg *config.Config) (api.Config, error) {
	hc := cfg.HTTP
	out := api.Config{
		Enabled:       hc.Enabled,
		Addr:          strings.TrimSpace(hc.Addr),
		Token:         strings.TrimSpace(hc.Token),
		AllowInsecure: hc.AllowInsecure,
		Pprof:         hc.Pprof,
	}
	if out.Addr == "" {
		out.Addr = config.DefaultHTTPAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDuration("http.read_timeout", hc.ReadTimeout, 15*time.Second); err != nil {
		return api.Config{}, err
	}
	// pprof profile/trace endpoints stream for 30s by default.
	if out.WriteTimeout, err = config.ParseDuration("http.write_timeout", hc.WriteTimeout, 60*time.Second); err != nil {
		return api.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDuration("http.idle_timeout", hc.IdleTimeout, 120*time.Second); err != nil {
		return api.Config{}, err
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	timeout, err := config.ParseDuration("scheduler.timeout", cfg.Scheduler.Timeout, 5*time.Minute)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		Enabled:  cfg.Scheduler.Enabled,
		Timezone: strings.TrimSpace(cfg.Scheduler.Timezone),
		Timeout:  timeout,
	}, nil
}

func scheduleSpecs(cfg *config.Config) (sweep, cleanup string) {
	sweep = strings.TrimSpace(cfg.Scheduler.Sweep)
	if sweep == "" {
		sweep = config.DefaultSweep
	}
	cleanup = strings.TrimSpace(cfg.Scheduler.Cleanup)
	if cleanup == "" {
		cleanup = config.DefaultCleanup
	}
	return sweep, cleanup
}

func mapGuardOptions(cfg *config.Config) (resilience.Options, error) {
	openFor, err := config.ParseDuration("distribution.breaker_open_for", cfg.Distribution.BreakerOpenFor, 0)
	if err != nil {
		return resilience.Options{}, err
	}
	return resilience.Options{
		TripFailures: cfg.Distribution.BreakerFailures,
		OpenFor:      openFor,
		RatePerSec:   cfg.Connectors.RatePerSec,
		Burst:        cfg.Connectors.Burst,
	}, nil
}

func mapConnectorOptions(cfg *config.Config, log logx.Logger) (connector.Options, error) {
	cc := cfg.Connectors
	post, err := config.ParseDuration("connectors.post_timeout", cc.PostTimeout, 0)
	if err != nil {
		return connector.Options{}, err
	}
	validate, err := config.ParseDuration("connectors.validate_timeout", cc.ValidateTimeout, 0)
	if err != nil {
		return connector.Options{}, err
	}
	opt := connector.Options{
		PostTimeout:     post,
		ValidateTimeout: validate,
		UserAgent:       strings.TrimSpace(cc.UserAgent),
		Log:             log,
	}
	if len(cc.BaseURLs) > 0 {
		opt.BaseURLs = make(map[platform.Platform]string, len(cc.BaseURLs))
		for name, u := range cc.BaseURLs {
			p, err := platform.Parse(name)
			if err != nil {
				return connector.Options{}, err
			}
			opt.BaseURLs[p] = u
		}
	}
	return opt, nil
}

// mapSettings overlays the fields the distribution section sets onto base.
func mapSettings(base distribution.Settings, cfg *config.Config) (distribution.Settings, error) {
	d := cfg.Distribution
	s := base
	if d.Enabled != nil {
		s.DistributionEnabled = *d.Enabled
	}
	if d.MaxConcurrent > 0 {
		s.MaxConcurrentDistributions = d.MaxConcurrent
	}
	if d.MaxRetries != nil {
		s.MaxRetries = *d.MaxRetries
	}
	if strings.TrimSpace(d.RetryDelay) != "" {
		v, err := config.ParseDuration("distribution.retry_delay", d.RetryDelay, 0)
		if err != nil {
			return s, err
		}
		s.RetryDelayMs = int(v.Milliseconds())
	}
	if d.RetryBackoffMultiplier > 0 {
		s.RetryBackoffMultiplier = d.RetryBackoffMultiplier
	}
	if strings.TrimSpace(d.ConnectorTimeout) != "" {
		v, err := config.ParseDuration("distribution.connector_timeout", d.ConnectorTimeout, 0)
		if err != nil {
			return s, err
		}
		s.ConnectorTimeoutMs = int(v.Milliseconds())
	}
	if d.ScheduledBatchSize > 0 {
		s.ScheduledBatchSize = d.ScheduledBatchSize
	}
	if v := strings.TrimSpace(d.DefaultMessageStyle); v != "" {
		s.DefaultMessageStyle = platform.Style(v)
	}
	if v := strings.TrimSpace(d.SiteBaseURL); v != "" {
		s.SiteBaseURL = v
	}
	if v := strings.TrimSpace(d.UTMSource); v != "" {
		s.UTMSource = v
	}
	if d.RetentionDays > 0 {
		s.RetentionDays = d.RetentionDays
	}
	s = s.Normalize()
	return s, s.Validate()
}
