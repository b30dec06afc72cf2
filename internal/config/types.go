package config

// Config is the on-disk configuration. All durations are Go duration strings
// (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging      LoggingConfig      `json:"logging"`
	Storage      StorageConfig      `json:"storage"`
	HTTP         HTTPConfig         `json:"http"`
	Scheduler    SchedulerConfig    `json:"scheduler"`
	Distribution DistributionConfig `json:"distribution"`
	Connectors   ConnectorsConfig   `json:"connectors"`
	Content      ContentConfig      `json:"content"`
	Events       EventsConfig       `json:"events,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	JSON    bool        `json:"json"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the durable store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/syndicate.db" }
type StorageConfig struct {
	Driver      string `json:"driver"` // memory | sqlite
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// HTTPConfig controls the admin API server.
//
// Security note:
//   - Prefer binding to localhost (the default "127.0.0.1:8080").
//   - A non-loopback address needs a token or an explicit allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"` // bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// SchedulerConfig controls the periodic sweep and cleanup jobs. Schedules use
// the scheduler spec syntax: "every:1m", "cron:0 3 * * *", "daily:03:00".
type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"`
	Sweep    string `json:"sweep,omitempty"`   // default "every:1m"
	Cleanup  string `json:"cleanup,omitempty"` // default "daily:03:00"
	// Timeout bounds one job run. "0s" disables it.
	Timeout string `json:"timeout,omitempty"`
}

// DistributionConfig seeds the orchestrator settings on first start. Once a
// settings row exists in the store, that row wins; a config reload that
// changes this section is written back to the row.
//
// Pointers distinguish "omitted" from an explicit zero.
type DistributionConfig struct {
	Enabled                *bool   `json:"enabled,omitempty"`
	MaxConcurrent          int     `json:"max_concurrent,omitempty"`
	MaxRetries             *int    `json:"max_retries,omitempty"`
	RetryDelay             string  `json:"retry_delay,omitempty"`
	RetryBackoffMultiplier float64 `json:"retry_backoff_multiplier,omitempty"`
	ConnectorTimeout       string  `json:"connector_timeout,omitempty"`
	ScheduledBatchSize     int     `json:"scheduled_batch_size,omitempty"`
	DefaultMessageStyle    string  `json:"default_message_style,omitempty"`
	SiteBaseURL            string  `json:"site_base_url,omitempty"`
	UTMSource              string  `json:"utm_source,omitempty"`
	RetentionDays          int     `json:"retention_days,omitempty"`

	// Circuit breaker: consecutive failures before a platform opens, and
	// how long it stays open.
	BreakerFailures int    `json:"breaker_failures,omitempty"`
	BreakerOpenFor  string `json:"breaker_open_for,omitempty"`
}

type ConnectorsConfig struct {
	PostTimeout     string `json:"post_timeout,omitempty"`     // default 15s
	ValidateTimeout string `json:"validate_timeout,omitempty"` // default 10s
	// RatePerSec paces calls per platform. 0 disables pacing.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	UserAgent  string  `json:"user_agent,omitempty"`
	// BaseURLs overrides API roots keyed by platform name.
	BaseURLs map[string]string `json:"base_urls,omitempty"`
}

// ContentConfig points at the CMS read API. An empty BaseURL runs with an
// empty in-process provider.
type ContentConfig struct {
	BaseURL string      `json:"base_url,omitempty"`
	Token   string      `json:"token,omitempty"` // do not log
	Timeout string      `json:"timeout,omitempty"`
	Cache   CacheConfig `json:"cache,omitempty"`
}

type CacheConfig struct {
	Enabled   bool   `json:"enabled"`
	RedisAddr string `json:"redis_addr,omitempty"`
	Password  string `json:"password,omitempty"` // do not log
	DB        int    `json:"db,omitempty"`
	TTL       string `json:"ttl,omitempty"`
}

type EventsConfig struct {
	NATS NATSConfig `json:"nats"`
}

type NATSConfig struct {
	Enabled       bool   `json:"enabled"`
	URL           string `json:"url,omitempty"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}
