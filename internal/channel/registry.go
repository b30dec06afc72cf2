// Package channel manages distribution channels: the per-platform accounts,
// pages and boards content is published to.
package channel

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"syndicate/internal/connector"
	"syndicate/internal/distribution"
	"syndicate/internal/eventbus"
	"syndicate/internal/platform"
	"syndicate/internal/storage"
	logx "syndicate/pkg/logx"
)

type Channel = storage.Channel

type CreateInput struct {
	Name              string
	Platform          platform.Platform
	URL               *string
	Enabled           *bool // nil means enabled
	IsCustom          bool
	AutoPublish       bool
	Credentials       platform.Credentials
	PlatformRules     *platform.RuleOverride
	RenewIntervalDays int
}

// UpdateInput patches a channel. Nil fields are left as they are;
// ClearRules drops the rule override.
type UpdateInput struct {
	Name              *string
	URL               *string
	Enabled           *bool
	IsCustom          *bool
	AutoPublish       *bool
	Credentials       platform.Credentials
	PlatformRules     *platform.RuleOverride
	ClearRules        bool
	RenewIntervalDays *int
}

type Filter struct {
	Platform    platform.Platform
	Enabled     *bool
	AutoPublish *bool
}

type Validation struct {
	ChannelID string            `json:"channel_id"`
	Platform  platform.Platform `json:"platform"`
	Valid     bool              `json:"valid"`
	CheckedAt time.Time         `json:"checked_at"`
}

type Event struct {
	ChannelID string            `json:"channel_id"`
	Name      string            `json:"name,omitempty"`
	Platform  platform.Platform `json:"platform"`
	Valid     *bool             `json:"valid,omitempty"`
}

type Registry struct {
	store      storage.Store
	connectors *connector.Registry
	bus        eventbus.Bus
	log        logx.Logger
	now        func() time.Time
	newID      func() string
}

func NewRegistry(store storage.Store, connectors *connector.Registry, bus eventbus.Bus, log logx.Logger) *Registry {
	if connectors == nil {
		connectors = connector.NewRegistry()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Registry{
		store:      store,
		connectors: connectors,
		bus:        bus,
		log:        log.With(logx.String("comp", "channels")),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

func (r *Registry) emit(t eventbus.Type, c Channel, valid *bool) {
	r.bus.Publish(eventbus.Event{
		Type: t,
		Time: r.now(),
		Data: Event{ChannelID: c.ID, Name: c.Name, Platform: c.Platform, Valid: valid},
	})
}

func invalid(field, msg string) error {
	return &distribution.ValidationError{Field: field, Message: msg}
}

func notFound(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &distribution.NotFoundError{Kind: "channel", ID: id}
	}
	return err
}

// check validates a fully assembled channel.
func (r *Registry) check(c Channel) error {
	if strings.TrimSpace(c.Name) == "" {
		return invalid("name", "is required")
	}
	if !c.Platform.Valid() {
		return invalid("platform", "unknown platform "+string(c.Platform))
	}
	if !r.connectors.Has(c.Platform) {
		return invalid("platform", "no connector for "+string(c.Platform))
	}
	if c.Credentials == nil {
		return invalid("credentials", "are required")
	}
	if c.Credentials.Platform() != c.Platform {
		return invalid("credentials", "belong to "+string(c.Credentials.Platform())+", not "+string(c.Platform))
	}
	if err := c.Credentials.Validate(); err != nil {
		return invalid("credentials", err.Error())
	}
	if c.URL != nil && *c.URL != "" {
		u, err := url.Parse(*c.URL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return invalid("url", "must be an absolute URL")
		}
	}
	if c.RenewIntervalDays < 0 {
		return invalid("renew_interval_days", "must be >= 0")
	}
	if c.PlatformRules != nil && (c.PlatformRules.MaxChars < 0 || c.PlatformRules.HashtagLimit < 0) {
		return invalid("platform_rules", "limits must be >= 0")
	}
	return nil
}

func (r *Registry) Create(ctx context.Context, in CreateInput) (Channel, error) {
	p, err := platform.Parse(string(in.Platform))
	if err != nil {
		return Channel{}, invalid("platform", err.Error())
	}
	now := r.now()
	c := Channel{
		ID:                r.newID(),
		Name:              strings.TrimSpace(in.Name),
		Platform:          p,
		URL:               in.URL,
		Enabled:           in.Enabled == nil || *in.Enabled,
		IsCustom:          in.IsCustom,
		AutoPublish:       in.AutoPublish,
		Credentials:       in.Credentials,
		PlatformRules:     in.PlatformRules.Clone(),
		RenewIntervalDays: in.RenewIntervalDays,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := r.check(c); err != nil {
		return Channel{}, err
	}
	if err := r.store.CreateChannel(ctx, c); err != nil {
		return Channel{}, err
	}
	r.log.Info("channel created", logx.String("channel", c.ID), logx.String("platform", string(c.Platform)))
	r.emit(eventbus.ChannelCreated, c, nil)
	return c, nil
}

func (r *Registry) Update(ctx context.Context, id string, in UpdateInput) (Channel, error) {
	out, err := r.store.UpdateChannel(ctx, id, func(c *Channel) error {
		if in.Name != nil {
			c.Name = strings.TrimSpace(*in.Name)
		}
		if in.URL != nil {
			if *in.URL == "" {
				c.URL = nil
			} else {
				v := *in.URL
				c.URL = &v
			}
		}
		if in.Enabled != nil {
			c.Enabled = *in.Enabled
		}
		if in.IsCustom != nil {
			c.IsCustom = *in.IsCustom
		}
		if in.AutoPublish != nil {
			c.AutoPublish = *in.AutoPublish
		}
		if in.Credentials != nil {
			c.Credentials = in.Credentials
		}
		switch {
		case in.ClearRules:
			c.PlatformRules = nil
		case in.PlatformRules != nil:
			c.PlatformRules = in.PlatformRules.Clone()
		}
		if in.RenewIntervalDays != nil {
			c.RenewIntervalDays = *in.RenewIntervalDays
		}
		c.UpdatedAt = r.now()
		return r.check(*c)
	})
	if err != nil {
		return Channel{}, notFound(id, err)
	}
	r.log.Info("channel updated", logx.String("channel", id))
	r.emit(eventbus.ChannelUpdated, out, nil)
	return out, nil
}

func (r *Registry) Delete(ctx context.Context, id string) error {
	c, err := r.store.GetChannel(ctx, id)
	if err != nil {
		return notFound(id, err)
	}
	if err := r.store.DeleteChannel(ctx, id); err != nil {
		return notFound(id, err)
	}
	r.log.Info("channel deleted", logx.String("channel", id))
	r.emit(eventbus.ChannelDeleted, c, nil)
	return nil
}

func (r *Registry) Get(ctx context.Context, id string) (Channel, error) {
	c, err := r.store.GetChannel(ctx, id)
	if err != nil {
		return Channel{}, notFound(id, err)
	}
	return c, nil
}

func (r *Registry) List(ctx context.Context, f Filter) ([]Channel, error) {
	if f.Platform != "" {
		p, err := platform.Parse(string(f.Platform))
		if err != nil {
			return nil, invalid("platform", err.Error())
		}
		f.Platform = p
	}
	return r.store.ListChannels(ctx, storage.ChannelFilter{
		Platform:    f.Platform,
		Enabled:     f.Enabled,
		AutoPublish: f.AutoPublish,
	})
}

// ValidateCredentials asks the platform whether the stored credentials
// still work. A negative answer is a result, not an error.
func (r *Registry) ValidateCredentials(ctx context.Context, id string) (Validation, error) {
	c, err := r.store.GetChannel(ctx, id)
	if err != nil {
		return Validation{}, notFound(id, err)
	}
	conn, err := r.connectors.Get(c.Platform)
	if err != nil {
		return Validation{}, invalid("platform", err.Error())
	}

	valid := false
	if c.Credentials != nil && c.Credentials.Validate() == nil {
		valid = conn.ValidateCredentials(ctx, c.Credentials)
	}
	res := Validation{ChannelID: c.ID, Platform: c.Platform, Valid: valid, CheckedAt: r.now()}

	level := r.log.Info
	if !valid {
		level = r.log.Warn
	}
	level("channel credentials checked", logx.String("channel", c.ID), logx.Bool("valid", valid))
	r.emit(eventbus.ChannelValidated, c, &valid)
	return res, nil
}
