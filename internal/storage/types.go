package storage

import (
	"errors"
	"time"

	"syndicate/internal/platform"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")
	ErrEmptyID  = errors.New("empty id")
	ErrClosed   = errors.New("store closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory": process-local maps, lost on restart
//   - "sqlite": SQLite database file
//
// An empty Driver means "memory".
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Status is a distribution record's lifecycle state.
type Status string

const (
	StatusPending     Status = "PENDING"
	StatusScheduled   Status = "SCHEDULED"
	StatusPublishing  Status = "PUBLISHING"
	StatusPublished   Status = "PUBLISHED"
	StatusFailed      Status = "FAILED"
	StatusRateLimited Status = "RATE_LIMITED"
	StatusCancelled   Status = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusPending, StatusScheduled, StatusPublishing, StatusPublished,
	StatusFailed, StatusRateLimited, StatusCancelled,
}

// Record is one attempt to push one content item to one platform.
type Record struct {
	ID           string            `json:"id"`
	ContentID    string            `json:"content_id"`
	ChannelID    *string           `json:"channel_id"`
	Platform     platform.Platform `json:"platform"`
	Status       Status            `json:"status"`
	Content      string            `json:"content"`
	Title        string            `json:"title,omitempty"`
	Link         string            `json:"link,omitempty"`
	ImageURL     string            `json:"image_url,omitempty"`
	ScheduledFor *time.Time        `json:"scheduled_for"`
	PublishedAt  *time.Time        `json:"published_at"`
	ExternalID   string            `json:"external_id,omitempty"`
	ExternalURL  string            `json:"external_url,omitempty"`
	Error        string            `json:"error,omitempty"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Channel is a configured destination on one platform.
type Channel struct {
	ID                string                 `json:"id"`
	Name              string                 `json:"name"`
	Platform          platform.Platform      `json:"platform"`
	URL               *string                `json:"url"`
	Enabled           bool                   `json:"enabled"`
	IsCustom          bool                   `json:"is_custom"`
	AutoPublish       bool                   `json:"auto_publish"`
	Credentials       platform.Credentials   `json:"-"`
	PlatformRules     *platform.RuleOverride `json:"platform_rules,omitempty"`
	RenewIntervalDays int                    `json:"renew_interval_days"`
	LastPublishedAt   *time.Time             `json:"last_published_at"`
	CreatedAt         time.Time              `json:"created_at"`
	UpdatedAt         time.Time              `json:"updated_at"`
}

// RecordFilter selects records. Zero fields do not constrain.
type RecordFilter struct {
	ContentID string
	Platform  platform.Platform
	Statuses  []Status
	// ScheduledBefore matches records with scheduled_for <= the value.
	ScheduledBefore *time.Time
	// CreatedBefore matches records with created_at < the value.
	CreatedBefore *time.Time
	// UpdatedBefore matches records with updated_at < the value.
	UpdatedBefore *time.Time
	// Newest orders by creation time descending instead of ascending.
	Newest bool
	Limit  int
	Offset int
}

func (f RecordFilter) hasStatus(s Status) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, v := range f.Statuses {
		if v == s {
			return true
		}
	}
	return false
}

func (f RecordFilter) match(r *Record) bool {
	if f.ContentID != "" && r.ContentID != f.ContentID {
		return false
	}
	if f.Platform != "" && r.Platform != f.Platform {
		return false
	}
	if !f.hasStatus(r.Status) {
		return false
	}
	if f.ScheduledBefore != nil && (r.ScheduledFor == nil || r.ScheduledFor.After(*f.ScheduledBefore)) {
		return false
	}
	if f.CreatedBefore != nil && !r.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	return f.UpdatedBefore == nil || r.UpdatedAt.Before(*f.UpdatedBefore)
}

type ChannelFilter struct {
	Platform    platform.Platform
	Enabled     *bool
	AutoPublish *bool
}

func (f ChannelFilter) match(c *Channel) bool {
	if f.Platform != "" && c.Platform != f.Platform {
		return false
	}
	if f.Enabled != nil && c.Enabled != *f.Enabled {
		return false
	}
	if f.AutoPublish != nil && c.AutoPublish != *f.AutoPublish {
		return false
	}
	return true
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	r.ChannelID = cloneString(r.ChannelID)
	r.ScheduledFor = cloneTime(r.ScheduledFor)
	r.PublishedAt = cloneTime(r.PublishedAt)
	return r
}

// Clone returns a deep copy. Credentials are immutable values and are shared.
func (c Channel) Clone() Channel {
	c.URL = cloneString(c.URL)
	c.LastPublishedAt = cloneTime(c.LastPublishedAt)
	c.PlatformRules = c.PlatformRules.Clone()
	return c
}
