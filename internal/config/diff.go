package config

import (
	"reflect"
	"strings"

	logx "syndicate/pkg/logx"
)

// SummarizeConfigChange returns the changed top-level sections and log-safe
// attrs describing the new values. Tokens and passwords are reported only as
// "_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		mark("logging",
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.json", newCfg.Logging.JSON),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		mark("storage",
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	oh, nh := oldCfg.HTTP, newCfg.HTTP
	oh.Token, nh.Token = "", ""
	if oh != nh || secretChanged(oldCfg.HTTP.Token, newCfg.HTTP.Token) {
		mark("http",
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", strings.TrimSpace(newCfg.HTTP.Addr)),
			logx.Bool("http.token_set", strings.TrimSpace(newCfg.HTTP.Token) != ""),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		mark("scheduler",
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.String("scheduler.sweep", newCfg.Scheduler.Sweep),
			logx.String("scheduler.cleanup", newCfg.Scheduler.Cleanup),
		)
	}

	if !reflect.DeepEqual(oldCfg.Distribution, newCfg.Distribution) {
		d := newCfg.Distribution
		fields := []logx.Field{
			logx.Int("distribution.max_concurrent", d.MaxConcurrent),
			logx.String("distribution.retry_delay", d.RetryDelay),
		}
		if d.Enabled != nil {
			fields = append(fields, logx.Bool("distribution.enabled", *d.Enabled))
		}
		if d.MaxRetries != nil {
			fields = append(fields, logx.Int("distribution.max_retries", *d.MaxRetries))
		}
		mark("distribution", fields...)
	}

	if !reflect.DeepEqual(oldCfg.Connectors, newCfg.Connectors) {
		mark("connectors",
			logx.Float64("connectors.rate_per_sec", newCfg.Connectors.RatePerSec),
			logx.Int("connectors.burst", newCfg.Connectors.Burst),
			logx.Int("connectors.base_url_overrides", len(newCfg.Connectors.BaseURLs)),
		)
	}

	oc, nc := oldCfg.Content, newCfg.Content
	oc.Token, nc.Token = "", ""
	oc.Cache.Password, nc.Cache.Password = "", ""
	if oc != nc || secretChanged(oldCfg.Content.Token, newCfg.Content.Token) ||
		secretChanged(oldCfg.Content.Cache.Password, newCfg.Content.Cache.Password) {
		mark("content",
			logx.String("content.base_url", newCfg.Content.BaseURL),
			logx.Bool("content.token_set", strings.TrimSpace(newCfg.Content.Token) != ""),
			logx.Bool("content.cache_enabled", newCfg.Content.Cache.Enabled),
		)
	}

	if oldCfg.Events != newCfg.Events {
		mark("events",
			logx.Bool("events.nats_enabled", newCfg.Events.NATS.Enabled),
			logx.String("events.nats_subject_prefix", newCfg.Events.NATS.SubjectPrefix),
		)
	}

	return changed, attrs
}

func secretChanged(a, b string) bool { return strings.TrimSpace(a) != strings.TrimSpace(b) }

// RestartRequired reports the sections in changed that are only read at
// startup. Connector pacing is applied live; its other fields are not.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "storage", "content", "events":
			out = append(out, s)
		}
	}
	return out
}
