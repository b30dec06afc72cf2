// Package content is the read-only view of the publisher's content items.
//
// The authoring system lives elsewhere; syndicate only needs title, slug,
// excerpt, tags and the canonical URL of an item to build a message.
package content

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrNotFound = errors.New("content not found")

type Tag struct {
	Name string `json:"name"`
}

type Item struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	Slug         string `json:"slug"`
	Excerpt      string `json:"excerpt,omitempty"`
	Tags         []Tag  `json:"tags"`
	PublishedURL string `json:"published_url,omitempty"`
	ImageURL     string `json:"image_url,omitempty"`
}

// TagNames returns the tag names in order.
func (it Item) TagNames() []string {
	out := make([]string, 0, len(it.Tags))
	for _, t := range it.Tags {
		out = append(out, t.Name)
	}
	return out
}

// Provider returns a content item by id, or ErrNotFound.
type Provider interface {
	GetContent(ctx context.Context, id string) (Item, error)
}

// StaticProvider serves items from memory. It backs tests and the "static"
// content source used for local runs.
type StaticProvider struct {
	mu    sync.RWMutex
	items map[string]Item
}

func NewStaticProvider(items ...Item) *StaticProvider {
	p := &StaticProvider{items: make(map[string]Item, len(items))}
	for _, it := range items {
		p.items[it.ID] = it
	}
	return p
}

func (p *StaticProvider) Put(it Item) {
	p.mu.Lock()
	p.items[it.ID] = it
	p.mu.Unlock()
}

func (p *StaticProvider) GetContent(ctx context.Context, id string) (Item, error) {
	_ = ctx
	p.mu.RLock()
	defer p.mu.RUnlock()
	it, ok := p.items[strings.TrimSpace(id)]
	if !ok {
		return Item{}, ErrNotFound
	}
	return it, nil
}
