package distribution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"syndicate/internal/platform"
	logx "syndicate/pkg/logx"
)

// SettingsKey is the store settings row holding the orchestrator tunables.
const SettingsKey = "distribution.settings"

// Settings are the orchestrator tunables. Durations are milliseconds to keep
// the persisted row stable across config formats.
type Settings struct {
	DistributionEnabled        bool           `json:"distribution_enabled"`
	MaxConcurrentDistributions int            `json:"max_concurrent_distributions"`
	MaxRetries                 int            `json:"max_retries"`
	RetryDelayMs               int            `json:"retry_delay_ms"`
	RetryBackoffMultiplier     float64        `json:"retry_backoff_multiplier"`
	ConnectorTimeoutMs         int            `json:"connector_timeout_ms"`
	ScheduledBatchSize         int            `json:"scheduled_batch_size"`
	DefaultMessageStyle        platform.Style `json:"default_message_style"`
	SiteBaseURL                string         `json:"site_base_url"`
	UTMSource                  string         `json:"utm_source"`
	RetentionDays              int            `json:"retention_days"`
}

func DefaultSettings() Settings {
	return Settings{
		DistributionEnabled:        true,
		MaxConcurrentDistributions: 5,
		MaxRetries:                 3,
		RetryDelayMs:               5000,
		RetryBackoffMultiplier:     2,
		ConnectorTimeoutMs:         30000,
		ScheduledBatchSize:         50,
		RetentionDays:              90,
	}
}

// Normalize fills zero values with defaults and trims strings.
func (s Settings) Normalize() Settings {
	d := DefaultSettings()
	if s.MaxConcurrentDistributions <= 0 {
		s.MaxConcurrentDistributions = d.MaxConcurrentDistributions
	}
	if s.RetryBackoffMultiplier <= 0 {
		s.RetryBackoffMultiplier = d.RetryBackoffMultiplier
	}
	if s.ConnectorTimeoutMs <= 0 {
		s.ConnectorTimeoutMs = d.ConnectorTimeoutMs
	}
	if s.ScheduledBatchSize <= 0 {
		s.ScheduledBatchSize = d.ScheduledBatchSize
	}
	if s.RetentionDays <= 0 {
		s.RetentionDays = d.RetentionDays
	}
	// Empty leaves the style to each platform's rule.
	if s.DefaultMessageStyle != "" {
		s.DefaultMessageStyle = platform.ParseStyle(string(s.DefaultMessageStyle))
	}
	s.SiteBaseURL = strings.TrimRight(strings.TrimSpace(s.SiteBaseURL), "/")
	s.UTMSource = strings.TrimSpace(s.UTMSource)
	return s
}

func (s Settings) Validate() error {
	switch {
	case s.MaxRetries < 0 || s.MaxRetries > 10:
		return invalid("max_retries", "must be between 0 and 10")
	case s.RetryDelayMs < 0:
		return invalid("retry_delay_ms", "must be >= 0")
	case s.RetryBackoffMultiplier < 1:
		return invalid("retry_backoff_multiplier", "must be >= 1")
	case s.MaxConcurrentDistributions < 1:
		return invalid("max_concurrent_distributions", "must be >= 1")
	case s.ScheduledBatchSize < 1 || s.ScheduledBatchSize > 1000:
		return invalid("scheduled_batch_size", "must be between 1 and 1000")
	case s.RetentionDays < 1:
		return invalid("retention_days", "must be >= 1")
	}
	return nil
}

func (s Settings) RetryDelay() time.Duration {
	return time.Duration(s.RetryDelayMs) * time.Millisecond
}

func (s Settings) ConnectorTimeout() time.Duration {
	return time.Duration(s.ConnectorTimeoutMs) * time.Millisecond
}

func (s Settings) Retention() time.Duration {
	return time.Duration(s.RetentionDays) * 24 * time.Hour
}

// Settings returns the current tunables.
func (s *Service) Settings() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// LoadSettings reads the persisted row. When none exists, seed is normalized,
// saved and applied. A stored row always wins over seed.
func (s *Service) LoadSettings(ctx context.Context, seed Settings) (Settings, error) {
	raw, ok, err := s.store.GetSetting(ctx, SettingsKey)
	if err != nil {
		return Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return s.ApplySettings(ctx, seed)
	}
	// Unknown or missing fields fall back to seed.
	cur := seed
	if err := json.Unmarshal(raw, &cur); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	cur = cur.Normalize()
	if err := cur.Validate(); err != nil {
		return Settings{}, err
	}
	s.setSettings(cur)
	return cur, nil
}

// ApplySettings validates, persists and activates next.
func (s *Service) ApplySettings(ctx context.Context, next Settings) (Settings, error) {
	next = next.Normalize()
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}
	b, err := json.Marshal(next)
	if err != nil {
		return Settings{}, err
	}
	if err := s.store.PutSetting(ctx, SettingsKey, b); err != nil {
		return Settings{}, fmt.Errorf("save settings: %w", err)
	}
	s.setSettings(next)
	return next, nil
}

func (s *Service) setSettings(next Settings) {
	s.mu.Lock()
	prev := s.settings
	s.settings = next
	if prev.MaxConcurrentDistributions != next.MaxConcurrentDistributions || s.slots == nil {
		// In-flight holders release into the channel they acquired from.
		s.slots = make(chan struct{}, next.MaxConcurrentDistributions)
	}
	s.mu.Unlock()
	if prev != next {
		s.log.Info("distribution settings applied",
			logx.Bool("enabled", next.DistributionEnabled),
			logx.Int("max_retries", next.MaxRetries),
			logx.Int("batch", next.ScheduledBatchSize),
		)
	}
}
