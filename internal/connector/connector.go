// Package connector speaks each platform's posting protocol.
//
// A connector makes exactly one attempt per call. It never retries and never
// lets transport or SDK errors escape: every outcome is folded into Result.
package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"syndicate/internal/platform"
	logx "syndicate/pkg/logx"
)

// ErrNoConnector means nothing is registered for the platform. It is
// terminal: retrying cannot help.
var ErrNoConnector = errors.New("no connector registered for platform")

const (
	DefaultPostTimeout     = 15 * time.Second
	DefaultValidateTimeout = 10 * time.Second
)

type Payload struct {
	Text     string
	URL      string
	Hashtags []string
	Title    string
	ImageURL string
}

type Result struct {
	Success     bool
	ExternalID  string
	ExternalURL string
	Error       string
	RateLimited bool
	// RetryAfter is the platform's hint when RateLimited is set. Zero means
	// no hint.
	RetryAfter time.Duration
}

type Connector interface {
	Platform() platform.Platform
	Post(ctx context.Context, p Payload, creds platform.Credentials) Result
	ValidateCredentials(ctx context.Context, creds platform.Credentials) bool
}

func posted(id, url string) Result { return Result{Success: true, ExternalID: id, ExternalURL: url} }

func failed(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

func rateLimited(after time.Duration, msg string) Result {
	if msg == "" {
		msg = "rate limited"
	}
	return Result{Error: msg, RateLimited: true, RetryAfter: after}
}

// credsAs asserts the credential variant a connector needs and checks that
// every required field is present.
func credsAs[T platform.Credentials](c platform.Credentials) (T, error) {
	v, ok := c.(T)
	if !ok {
		var zero T
		got := "none"
		if c != nil {
			got = string(c.Platform())
		}
		return zero, fmt.Errorf("%s credentials expected, got %s", zero.Platform(), got)
	}
	return v, v.Validate()
}

// Options configures the built-in connectors.
type Options struct {
	PostTimeout     time.Duration
	ValidateTimeout time.Duration
	// BaseURLs overrides the API root per platform, mostly for tests.
	BaseURLs map[platform.Platform]string
	// Transport is shared by all HTTP connectors. Nil means
	// http.DefaultTransport.
	Transport http.RoundTripper
	UserAgent string
	Log       logx.Logger
}

func (o Options) withDefaults() Options {
	if o.PostTimeout <= 0 {
		o.PostTimeout = DefaultPostTimeout
	}
	if o.ValidateTimeout <= 0 {
		o.ValidateTimeout = DefaultValidateTimeout
	}
	if o.UserAgent == "" {
		o.UserAgent = "syndicate/1.0"
	}
	if o.Log.IsZero() {
		o.Log = logx.Nop()
	}
	return o
}

func (o Options) baseURL(p platform.Platform, def string) string {
	if u := strings.TrimSpace(o.BaseURLs[p]); u != "" {
		return strings.TrimRight(u, "/")
	}
	return def
}

// Registry maps a platform to its connector.
type Registry struct {
	mu sync.RWMutex
	m  map[platform.Platform]Connector
}

func NewRegistry(cs ...Connector) *Registry {
	r := &Registry{m: make(map[platform.Platform]Connector, len(cs))}
	for _, c := range cs {
		r.Register(c)
	}
	return r
}

// Register adds or replaces the connector for c.Platform().
func (r *Registry) Register(c Connector) {
	if c == nil {
		return
	}
	r.mu.Lock()
	r.m[c.Platform()] = c
	r.mu.Unlock()
}

func (r *Registry) Get(p platform.Platform) (Connector, error) {
	r.mu.RLock()
	c := r.m[p]
	r.mu.RUnlock()
	if c == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoConnector, p)
	}
	return c, nil
}

func (r *Registry) Has(p platform.Platform) bool {
	_, err := r.Get(p)
	return err == nil
}

func (r *Registry) Platforms() []platform.Platform {
	r.mu.RLock()
	out := make([]platform.Platform, 0, len(r.m))
	for p := range r.m {
		out = append(out, p)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Defaults builds a registry holding a connector for every supported
// platform.
func Defaults(opt Options) *Registry {
	opt = opt.withDefaults()
	return NewRegistry(
		NewTelegram(opt),
		NewTwitter(opt),
		NewFacebook(opt),
		NewWhatsApp(opt),
		NewLinkedIn(opt),
		NewPinterest(opt),
		NewReddit(opt),
	)
}
