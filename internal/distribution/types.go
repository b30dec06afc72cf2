package distribution

import (
	"time"

	"syndicate/internal/platform"
	"syndicate/internal/storage"
)

type (
	Record  = storage.Record
	Channel = storage.Channel
	Status  = storage.Status
)

const (
	StatusPending     = storage.StatusPending
	StatusScheduled   = storage.StatusScheduled
	StatusPublishing  = storage.StatusPublishing
	StatusPublished   = storage.StatusPublished
	StatusFailed      = storage.StatusFailed
	StatusRateLimited = storage.StatusRateLimited
	StatusCancelled   = storage.StatusCancelled
)

var transitions = map[Status][]Status{
	StatusPending:     {StatusScheduled, StatusPublishing, StatusCancelled},
	StatusScheduled:   {StatusPublishing, StatusCancelled},
	StatusPublishing:  {StatusPublished, StatusFailed, StatusRateLimited},
	StatusFailed:      {StatusPending, StatusCancelled},
	StatusRateLimited: {StatusPending, StatusCancelled},
}

// CanTransition reports whether a record may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func Terminal(s Status) bool { return len(transitions[s]) == 0 }

func transition(r *Record, to Status) error {
	if !CanTransition(r.Status, to) {
		return &StateTransitionError{ID: r.ID, From: r.Status, To: to}
	}
	r.Status = to
	return nil
}

const (
	MaxBulkContent   = 50
	MaxBulkPlatforms = 10
	// SweepRetryBudget is the retry count for records dispatched by the
	// scheduled sweep.
	SweepRetryBudget = 2
	// PendingSweepAge is how long a PENDING record must sit untouched before
	// the sweep adopts it. Younger ones still belong to the call that made
	// them.
	PendingSweepAge = time.Minute
)

type DistributeRequest struct {
	ContentID       string              `json:"content_id"`
	Platforms       []platform.Platform `json:"platforms"`
	ScheduledFor    *time.Time          `json:"scheduled_for,omitempty"`
	MessageOverride string              `json:"message_override,omitempty"`
	Style           platform.Style      `json:"style,omitempty"`
	Hashtags        []string            `json:"hashtags,omitempty"`
}

type BulkRequest struct {
	ContentIDs      []string            `json:"content_ids"`
	Platforms       []platform.Platform `json:"platforms"`
	ScheduledFor    *time.Time          `json:"scheduled_for,omitempty"`
	MessageOverride string              `json:"message_override,omitempty"`
	Style           platform.Style      `json:"style,omitempty"`
	Hashtags        []string            `json:"hashtags,omitempty"`
}

// ItemError is one failed element of a batch.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type BulkResult struct {
	Total   int         `json:"total"`
	Created int         `json:"created"`
	Errors  []ItemError `json:"errors"`
}

type SweepResult struct {
	Processed int         `json:"processed"`
	Sent      int         `json:"sent"`
	Skipped   int         `json:"skipped"`
	Errors    []ItemError `json:"errors"`
}

type AutoPublishResult struct {
	Skipped bool     `json:"skipped"`
	Reason  string   `json:"reason,omitempty"`
	Records []Record `json:"records"`
}

type Stats struct {
	ByStatus    map[Status]int `json:"by_status"`
	Total       int            `json:"total"`
	Published   int            `json:"published"`
	Failed      int            `json:"failed"`
	SuccessRate float64        `json:"success_rate"`
}

type PlatformHealth struct {
	Status        string     `json:"status"`
	CircuitOpen   bool       `json:"circuit_open"`
	RateLimited   bool       `json:"rate_limited"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	Failures      int        `json:"failures"`
	Connector     bool       `json:"connector"`
}

type Health struct {
	Status    string                               `json:"status"`
	Store     string                               `json:"store"`
	Enabled   bool                                 `json:"distribution_enabled"`
	Platforms map[platform.Platform]PlatformHealth `json:"platforms"`
}

// ListQuery filters ListRecords. Limit defaults to 50 and is capped at 200.
type ListQuery struct {
	ContentID string
	Platform  platform.Platform
	Status    Status
	Limit     int
	Offset    int
}

type Page struct {
	Items  []Record `json:"items"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// RecordEvent is the payload of every per-record distribution event.
type RecordEvent struct {
	RecordID    string            `json:"record_id"`
	ContentID   string            `json:"content_id"`
	Platform    platform.Platform `json:"platform"`
	Status      Status            `json:"status"`
	ExternalURL string            `json:"external_url,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func recordEvent(r Record) RecordEvent {
	return RecordEvent{
		RecordID:    r.ID,
		ContentID:   r.ContentID,
		Platform:    r.Platform,
		Status:      r.Status,
		ExternalURL: r.ExternalURL,
		Error:       r.Error,
	}
}

type DistributedEvent struct {
	ContentID string        `json:"content_id"`
	Records   []RecordEvent `json:"records"`
}

type BulkDistributedEvent struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Errors  int `json:"errors"`
}
