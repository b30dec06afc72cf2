package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryStore struct {
	mu       sync.RWMutex
	records  map[string]*Record
	channels map[string]*Channel
	settings map[string][]byte
	closed   bool
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		records:  make(map[string]*Record),
		channels: make(map[string]*Channel),
		settings: make(map[string][]byte),
	}
}

func (m *memoryStore) CreateRecord(ctx context.Context, r Record) error {
	_ = ctx
	if strings.TrimSpace(r.ID) == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[r.ID]; ok {
		return ErrConflict
	}
	stamp(time.Now(), &r.CreatedAt, &r.UpdatedAt)
	v := r.Clone()
	m.records[r.ID] = &v
	return nil
}

func (m *memoryStore) GetRecord(ctx context.Context, id string) (Record, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return r.Clone(), nil
}

func (m *memoryStore) UpdateRecord(ctx context.Context, id string, fn func(*Record) error) (Record, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return Record{}, err
	}
	next.ID = id
	next.CreatedAt = cur.CreatedAt
	if next.UpdatedAt.Equal(cur.UpdatedAt) {
		next.UpdatedAt = time.Now()
	}
	stored := next.Clone()
	m.records[id] = &stored
	return next, nil
}

func (m *memoryStore) selectRecords(f RecordFilter) []*Record {
	out := make([]*Record, 0)
	for _, r := range m.records {
		if f.match(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if f.Newest {
				return a.CreatedAt.After(b.CreatedAt)
			}
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func page[T any](xs []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(xs) {
			return xs[:0]
		}
		xs = xs[offset:]
	}
	if limit > 0 && len(xs) > limit {
		xs = xs[:limit]
	}
	return xs
}

func (m *memoryStore) ListRecords(ctx context.Context, f RecordFilter) ([]Record, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	sel := page(m.selectRecords(f), f.Limit, f.Offset)
	out := make([]Record, 0, len(sel))
	for _, r := range sel {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (m *memoryStore) CountRecords(ctx context.Context, f RecordFilter) (int, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, r := range m.records {
		if f.match(r) {
			n++
		}
	}
	return n, nil
}

func (m *memoryStore) CountByStatus(ctx context.Context) (map[Status]int, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[Status]int, len(AllStatuses))
	for _, r := range m.records {
		out[r.Status]++
	}
	return out, nil
}

func (m *memoryStore) DeleteRecords(ctx context.Context, f RecordFilter) (int, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	sel := page(m.selectRecords(f), f.Limit, 0)
	for _, r := range sel {
		delete(m.records, r.ID)
	}
	return len(sel), nil
}

func (m *memoryStore) CreateChannel(ctx context.Context, c Channel) error {
	_ = ctx
	if strings.TrimSpace(c.ID) == "" {
		return ErrEmptyID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[c.ID]; ok {
		return ErrConflict
	}
	stamp(time.Now(), &c.CreatedAt, &c.UpdatedAt)
	v := c.Clone()
	m.channels[c.ID] = &v
	return nil
}

func (m *memoryStore) GetChannel(ctx context.Context, id string) (Channel, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	if !ok {
		return Channel{}, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *memoryStore) UpdateChannel(ctx context.Context, id string, fn func(*Channel) error) (Channel, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.channels[id]
	if !ok {
		return Channel{}, ErrNotFound
	}
	next := cur.Clone()
	if err := fn(&next); err != nil {
		return Channel{}, err
	}
	next.ID = id
	next.CreatedAt = cur.CreatedAt
	if next.UpdatedAt.Equal(cur.UpdatedAt) {
		next.UpdatedAt = time.Now()
	}
	stored := next.Clone()
	m.channels[id] = &stored
	return next, nil
}

func (m *memoryStore) DeleteChannel(ctx context.Context, id string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[id]; !ok {
		return ErrNotFound
	}
	delete(m.channels, id)
	return nil
}

func (m *memoryStore) ListChannels(ctx context.Context, f ChannelFilter) ([]Channel, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Channel, 0, len(m.channels))
	for _, c := range m.channels {
		if f.match(c) {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *memoryStore) GetSetting(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (m *memoryStore) PutSetting(ctx context.Context, key string, value []byte) error {
	_ = ctx
	m.mu.Lock()
	m.settings[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

func (m *memoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
