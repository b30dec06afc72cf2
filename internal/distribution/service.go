// Package distribution tracks every dispatch of a content item to a social
// platform through a persisted lifecycle, guarded by the resilience layer.
package distribution

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"syndicate/internal/connector"
	"syndicate/internal/content"
	"syndicate/internal/eventbus"
	"syndicate/internal/resilience"
	"syndicate/internal/storage"
	logx "syndicate/pkg/logx"
)

type Deps struct {
	Store      storage.Store
	Content    content.Provider
	Connectors *connector.Registry
	Guards     *resilience.Layer
	Bus        eventbus.Bus
	Log        logx.Logger

	// Settings seeds the tunables until LoadSettings runs.
	Settings Settings
	// Now defaults to the resilience layer clock.
	Now func() time.Time
	// NewID defaults to uuid.NewString.
	NewID func() string
}

// Service is the distribution orchestrator. It owns no goroutines; callers
// and the cron scheduler drive it.
type Service struct {
	store      storage.Store
	content    content.Provider
	connectors *connector.Registry
	guards     *resilience.Layer
	bus        eventbus.Bus
	log        logx.Logger
	now        func() time.Time
	newID      func() string

	mu       sync.RWMutex
	settings Settings
	slots    chan struct{}
}

func New(d Deps) (*Service, error) {
	if d.Store == nil {
		return nil, errors.New("distribution: store is required")
	}
	if d.Content == nil {
		return nil, errors.New("distribution: content provider is required")
	}
	if d.Connectors == nil {
		d.Connectors = connector.NewRegistry()
	}
	if d.Guards == nil {
		d.Guards = resilience.New(resilience.Options{Now: d.Now})
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = d.Guards.Now
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}

	s := &Service{
		store:      d.Store,
		content:    d.Content,
		connectors: d.Connectors,
		guards:     d.Guards,
		bus:        d.Bus,
		log:        d.Log.With(logx.String("comp", "distribution")),
		now:        d.Now,
		newID:      d.NewID,
	}
	seed := d.Settings.Normalize()
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	s.setSettings(seed)
	return s, nil
}

func (s *Service) emit(t eventbus.Type, data any) {
	s.bus.Publish(eventbus.Event{Type: t, Time: s.now(), Data: data})
}

// acquire takes one of MaxConcurrentDistributions connector slots.
func (s *Service) acquire(ctx context.Context) (release func(), err error) {
	s.mu.RLock()
	slots := s.slots
	s.mu.RUnlock()
	select {
	case slots <- struct{}{}:
		return func() { <-slots }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetRecord returns one record by id.
func (s *Service) GetRecord(ctx context.Context, id string) (Record, error) {
	r, err := s.store.GetRecord(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, &NotFoundError{Kind: "record", ID: id}
	}
	return r, err
}

// ListRecords pages through records, newest first.
func (s *Service) ListRecords(ctx context.Context, q ListQuery) (Page, error) {
	if q.Platform != "" && !q.Platform.Valid() {
		return Page{}, invalid("platform", "unknown platform %q", q.Platform)
	}
	if q.Status != "" && !validStatus(q.Status) {
		return Page{}, invalid("status", "unknown status %q", q.Status)
	}
	if q.Offset < 0 {
		return Page{}, invalid("offset", "must be >= 0")
	}
	switch {
	case q.Limit <= 0:
		q.Limit = 50
	case q.Limit > 200:
		q.Limit = 200
	}

	f := storage.RecordFilter{ContentID: q.ContentID, Platform: q.Platform}
	if q.Status != "" {
		f.Statuses = []Status{q.Status}
	}
	total, err := s.store.CountRecords(ctx, f)
	if err != nil {
		return Page{}, err
	}
	f.Newest = true
	f.Limit = q.Limit
	f.Offset = q.Offset
	items, err := s.store.ListRecords(ctx, f)
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

func validStatus(st Status) bool {
	for _, v := range storage.AllStatuses {
		if v == st {
			return true
		}
	}
	return false
}
