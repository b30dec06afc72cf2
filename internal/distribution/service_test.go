package distribution

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"syndicate/internal/connector"
	"syndicate/internal/content"
	"syndicate/internal/eventbus"
	"syndicate/internal/platform"
	"syndicate/internal/resilience"
	"syndicate/internal/storage"
	logx "syndicate/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeConnector struct {
	p        platform.Platform
	mu       sync.Mutex
	calls    int
	results  []connector.Result
	payloads []connector.Payload
}

func (f *fakeConnector) Platform() platform.Platform { return f.p }

func (f *fakeConnector) Post(_ context.Context, p connector.Payload, _ platform.Credentials) connector.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payloads = append(f.payloads, p)
	if len(f.results) == 0 {
		return connector.Result{Success: true, ExternalID: "ext-1", ExternalURL: "https://example.test/ext-1"}
	}
	r := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}
	return r
}

func (f *fakeConnector) ValidateCredentials(context.Context, platform.Credentials) bool { return true }

func (f *fakeConnector) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeConnector) Then(rs ...connector.Result) {
	f.mu.Lock()
	f.results = rs
	f.mu.Unlock()
}

var (
	failure     = connector.Result{Error: "boom"}
	rateLimited = connector.Result{Error: "slow down", RateLimited: true, RetryAfter: 2 * time.Minute}
)

type harness struct {
	svc     *Service
	store   storage.Store
	clock   *fakeClock
	guards  *resilience.Layer
	content *content.StaticProvider
	conns   map[platform.Platform]*fakeConnector
	events  <-chan eventbus.Event
}

func newHarness(t *testing.T, tune func(*Settings)) *harness {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
	st := storage.NewMemory()
	guards := resilience.New(resilience.Options{Now: clk.Now})
	bus := eventbus.New()
	events, unsub := bus.Subscribe(256)
	t.Cleanup(unsub)

	conns := map[platform.Platform]*fakeConnector{}
	reg := connector.NewRegistry()
	for _, p := range []platform.Platform{platform.Telegram, platform.Twitter, platform.Facebook} {
		c := &fakeConnector{p: p}
		conns[p] = c
		reg.Register(c)
	}

	set := DefaultSettings()
	set.RetryDelayMs = 1
	set.SiteBaseURL = "https://blog.example.com"
	if tune != nil {
		tune(&set)
	}

	cp := content.NewStaticProvider(
		content.Item{ID: "post-1", Title: "Hello", Slug: "hello", Tags: []content.Tag{{Name: "go"}}},
		content.Item{ID: "post-2", Title: "Second", Slug: "second"},
	)
	svc, err := New(Deps{
		Store:      st,
		Content:    cp,
		Connectors: reg,
		Guards:     guards,
		Bus:        bus,
		Log:        logx.Nop(),
		Settings:   set,
	})
	require.NoError(t, err)
	return &harness{svc: svc, store: st, clock: clk, guards: guards, content: cp, conns: conns, events: events}
}

func (h *harness) channel(t *testing.T, id string, p platform.Platform, auto bool) {
	t.Helper()
	var creds platform.Credentials
	switch p {
	case platform.Telegram:
		creds = platform.TelegramCredentials{BotToken: "123:abc", ChatID: "@news"}
	case platform.Twitter:
		creds = platform.TwitterCredentials{APIKey: "k", APISecret: "s", AccessToken: "t", AccessSecret: "ts"}
	case platform.Facebook:
		creds = platform.FacebookCredentials{PageID: "1", PageAccessToken: "tok"}
	}
	require.NoError(t, h.store.CreateChannel(context.Background(), storage.Channel{
		ID:          id,
		Name:        id,
		Platform:    p,
		Enabled:     true,
		AutoPublish: auto,
		Credentials: creds,
		CreatedAt:   h.clock.Now(),
	}))
}

func (h *harness) distribute(t *testing.T, p platform.Platform) Record {
	t.Helper()
	recs, err := h.svc.DistributePost(context.Background(), DistributeRequest{ContentID: "post-1", Platforms: []platform.Platform{p}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

func (h *harness) drain() []eventbus.Type {
	var out []eventbus.Type
	for {
		select {
		case e := <-h.events:
			out = append(out, e.Type)
		default:
			return out
		}
	}
}

func TestTransitionTable(t *testing.T) {
	t.Parallel()
	allowed := map[Status][]Status{
		StatusPending:     {StatusScheduled, StatusPublishing, StatusCancelled},
		StatusScheduled:   {StatusPublishing, StatusCancelled},
		StatusPublishing:  {StatusPublished, StatusFailed, StatusRateLimited},
		StatusFailed:      {StatusPending, StatusCancelled},
		StatusRateLimited: {StatusPending, StatusCancelled},
	}
	for _, from := range storage.AllStatuses {
		for _, to := range storage.AllStatuses {
			want := false
			for _, v := range allowed[from] {
				want = want || v == to
			}
			require.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)

			r := Record{ID: "r", Status: from}
			err := transition(&r, to)
			if want {
				require.NoError(t, err)
				require.Equal(t, to, r.Status)
			} else {
				require.True(t, IsStateTransition(err))
				require.Equal(t, from, r.Status)
			}
		}
	}
	require.True(t, Terminal(StatusPublished))
	require.True(t, Terminal(StatusCancelled))
	require.False(t, Terminal(StatusFailed))
}

func TestDistributeSuccess(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "tg", platform.Telegram, false)

	rec := h.distribute(t, platform.Telegram)
	require.Equal(t, StatusPublished, rec.Status)
	require.Equal(t, "ext-1", rec.ExternalID)
	require.NotEmpty(t, rec.ExternalURL)
	require.NotNil(t, rec.PublishedAt)
	require.NotNil(t, rec.ChannelID)
	require.Equal(t, "tg", *rec.ChannelID)
	require.Empty(t, rec.Error)
	require.Equal(t, 3, rec.MaxRetries)

	conn := h.conns[platform.Telegram]
	require.Equal(t, 1, conn.Calls())
	require.Contains(t, conn.payloads[0].Text, "Hello")
	require.Equal(t, "https://blog.example.com/hello", conn.payloads[0].URL)
	require.Contains(t, conn.payloads[0].Text, "#go")

	ch, err := h.store.GetChannel(context.Background(), "tg")
	require.NoError(t, err)
	require.NotNil(t, ch.LastPublishedAt)
	require.True(t, ch.LastPublishedAt.Equal(h.clock.Now()))

	require.Equal(t, []eventbus.Type{
		eventbus.DistributionCreated,
		eventbus.DistributionPublished,
		eventbus.DistributionDistributed,
	}, h.drain())
}

func TestDistributeKeepsPlatformOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "tw", platform.Twitter, false)
	h.channel(t, "fb", platform.Facebook, false)
	h.conns[platform.Twitter].Then(failure)

	recs, err := h.svc.DistributePost(context.Background(), DistributeRequest{
		ContentID: "post-1",
		Platforms: []platform.Platform{"x", platform.Facebook, platform.Twitter},
		Style:     platform.StyleConcise,
	})
	require.NoError(t, err)
	require.Len(t, recs, 2, "x is an alias of twitter")
	require.Equal(t, platform.Twitter, recs[0].Platform)
	require.Equal(t, StatusFailed, recs[0].Status, "a failing platform does not abort its siblings")
	require.Equal(t, "twitter: boom", recs[0].Error)
	require.Equal(t, platform.Facebook, recs[1].Platform)
	require.Equal(t, StatusPublished, recs[1].Status)
	require.Equal(t, 4, h.conns[platform.Twitter].Calls(), "interactive dispatch uses max_retries")
}

func TestDistributeMissingChannel(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)

	rec := h.distribute(t, platform.Telegram)
	require.Equal(t, StatusFailed, rec.Status)
	require.Nil(t, rec.ChannelID)
	require.Contains(t, rec.Error, "no enabled channel")
	require.Contains(t, rec.Error, "telegram")
	require.Zero(t, h.conns[platform.Telegram].Calls())
	require.False(t, h.guards.Breaker.State(platform.Telegram).Open)
}

func TestDistributeNoConnector(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	require.NoError(t, h.store.CreateChannel(context.Background(), storage.Channel{
		ID: "rd", Name: "rd", Platform: platform.Reddit, Enabled: true,
		Credentials: platform.RedditCredentials{AccessToken: "t", Subreddit: "golang"},
	}))
	rec := h.distribute(t, platform.Reddit)
	require.Equal(t, StatusFailed, rec.Status)
	require.Contains(t, rec.Error, connector.ErrNoConnector.Error())
}

func TestDistributeScheduledDoesNotDispatch(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "tg", platform.Telegram, false)
	at := h.clock.Now().Add(time.Hour)

	recs, err := h.svc.DistributePost(context.Background(), DistributeRequest{
		ContentID: "post-1", Platforms: []platform.Platform{platform.Telegram}, ScheduledFor: &at,
	})
	require.NoError(t, err)
	require.Equal(t, StatusScheduled, recs[0].Status)
	require.True(t, recs[0].ScheduledFor.Equal(at))
	require.Zero(t, h.conns[platform.Telegram].Calls())
}

func TestDistributeValidation(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.DistributePost(ctx, DistributeRequest{Platforms: []platform.Platform{platform.Telegram}})
	require.True(t, IsValidation(err))

	_, err = h.svc.DistributePost(ctx, DistributeRequest{ContentID: "post-1"})
	require.True(t, IsValidation(err))

	_, err = h.svc.DistributePost(ctx, DistributeRequest{ContentID: "post-1", Platforms: []platform.Platform{"myspace"}})
	require.True(t, IsValidation(err))

	_, err = h.svc.DistributePost(ctx, DistributeRequest{ContentID: "nope", Platforms: []platform.Platform{platform.Telegram}})
	require.True(t, IsNotFound(err))

	n, err := h.store.CountRecords(ctx, storage.RecordFilter{})
	require.NoError(t, err)
	require.Zero(t, n, "rejected requests create no records")
}

func TestCircuitBreakerShortCircuits(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(s *Settings) { s.MaxRetries = 0 })
	h.channel(t, "tw", platform.Twitter, false)
	conn := h.conns[platform.Twitter]
	conn.Then(failure)

	for i := 0; i < 5; i++ {
		rec := h.distribute(t, platform.Twitter)
		require.Equal(t, StatusFailed, rec.Status)
	}
	require.Equal(t, 5, conn.Calls())
	require.True(t, h.guards.Breaker.IsOpen(platform.Twitter))

	rec := h.distribute(t, platform.Twitter)
	require.Equal(t, StatusFailed, rec.Status)
	require.Contains(t, rec.Error, ErrBreakerOpen.Error())
	require.Equal(t, 5, conn.Calls(), "open breaker does not invoke the connector")

	h.clock.Advance(5 * time.Minute)
	conn.Then(connector.Result{Success: true, ExternalID: "ok"})
	rec = h.distribute(t, platform.Twitter)
	require.Equal(t, 6, conn.Calls())
	require.Equal(t, StatusPublished, rec.Status)
	require.False(t, h.guards.Breaker.State(platform.Twitter).Open)
	require.Zero(t, h.guards.Breaker.State(platform.Twitter).Failures)
}

func TestRateLimitCooldown(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "fb", platform.Facebook, false)
	conn := h.conns[platform.Facebook]
	conn.Then(rateLimited, connector.Result{Success: true, ExternalID: "later"})

	rec := h.distribute(t, platform.Facebook)
	require.Equal(t, StatusRateLimited, rec.Status)
	require.Equal(t, 1, conn.Calls(), "rate limits are not retried")
	require.True(t, h.guards.Cooldowns.Active(platform.Facebook))

	h.clock.Advance(time.Minute)
	rec = h.distribute(t, platform.Facebook)
	require.Equal(t, StatusRateLimited, rec.Status)
	require.Contains(t, rec.Error, ErrRateLimited.Error())
	require.Equal(t, 1, conn.Calls())

	h.clock.Advance(time.Minute + time.Second)
	rec = h.distribute(t, platform.Facebook)
	require.Equal(t, StatusPublished, rec.Status)
	require.Equal(t, 2, conn.Calls())
	require.False(t, h.guards.Breaker.State(platform.Facebook).Open, "rate limits do not trip the breaker")
}

func TestRetryEventuallySucceeds(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "tg", platform.Telegram, false)
	h.conns[platform.Telegram].Then(failure, failure, connector.Result{Success: true, ExternalID: "third"})

	rec := h.distribute(t, platform.Telegram)
	require.Equal(t, StatusPublished, rec.Status)
	require.Equal(t, "third", rec.ExternalID)
	require.Equal(t, 3, h.conns[platform.Telegram].Calls())
}

func TestRetryDistribution(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(s *Settings) { s.MaxRetries = 0 })
	h.channel(t, "tg", platform.Telegram, false)
	ctx := context.Background()
	h.conns[platform.Telegram].Then(failure, connector.Result{Success: true, ExternalID: "again"})

	rec := h.distribute(t, platform.Telegram)
	require.Equal(t, StatusFailed, rec.Status)

	// Raise the record's own budget; settings only seed new records.
	_, err := h.store.UpdateRecord(ctx, rec.ID, func(r *Record) error { r.MaxRetries = 2; return nil })
	require.NoError(t, err)
	h.drain()

	out, err := h.svc.RetryDistribution(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPublished, out.Status)
	require.Equal(t, 1, out.RetryCount)
	require.Equal(t, "again", out.ExternalID)
	require.Equal(t, []eventbus.Type{eventbus.DistributionRetried, eventbus.DistributionPublished}, h.drain())

	_, err = h.svc.RetryDistribution(ctx, rec.ID)
	require.True(t, IsStateTransition(err), "published records cannot be retried")

	_, err = h.svc.RetryDistribution(ctx, "missing")
	require.True(t, IsNotFound(err))
}

func TestRetryLimit(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()
	require.NoError(t, h.store.CreateRecord(ctx, Record{
		ID: "r1", ContentID: "post-1", Platform: platform.Telegram,
		Status: StatusFailed, RetryCount: 3, MaxRetries: 3, Error: "boom",
	}))

	_, err := h.svc.RetryDistribution(ctx, "r1")
	require.ErrorIs(t, err, ErrRetryLimit)
	require.Contains(t, err.Error(), "max_retries=3")

	got, err := h.store.GetRecord(ctx, "r1")
	require.NoError(t, err)
	require.Equal(t, StatusFailed, got.Status)
	require.Equal(t, 3, got.RetryCount)
}

func TestRetryCountNeverExceedsMax(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(s *Settings) { s.MaxRetries = 2 })
	h.channel(t, "tg", platform.Telegram, false)
	h.conns[platform.Telegram].Then(failure)
	ctx := context.Background()

	rec := h.distribute(t, platform.Telegram)
	var rejected error
	for i := 0; i < 5 && rejected == nil; i++ {
		out, err := h.svc.RetryDistribution(ctx, rec.ID)
		if err != nil {
			rejected = err
			break
		}
		require.LessOrEqual(t, out.RetryCount, out.MaxRetries)
	}
	require.ErrorIs(t, rejected, ErrRetryLimit)
	got, err := h.store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.RetryCount)
}

func TestRetryFallsBackToSweep(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(s *Settings) { s.MaxRetries = 0 })
	h.channel(t, "tw", platform.Twitter, false)
	ctx := context.Background()
	conn := h.conns[platform.Twitter]
	conn.Then(rateLimited, connector.Result{Success: true, ExternalID: "swept"})

	rec := h.distribute(t, platform.Twitter)
	require.Equal(t, StatusRateLimited, rec.Status)
	_, err := h.store.UpdateRecord(ctx, rec.ID, func(r *Record) error { r.MaxRetries = 1; return nil })
	require.NoError(t, err)

	// Still cooling down: the inline attempt cannot start.
	out, err := h.svc.RetryDistribution(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, out.Status)
	require.Equal(t, 1, conn.Calls())

	res, err := h.svc.ProcessScheduledDistributions(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Skipped, "just retried; not the sweep's yet")
	require.Zero(t, res.Processed)

	h.clock.Advance(PendingSweepAge + time.Second)
	res, err = h.svc.ProcessScheduledDistributions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Skipped, "still cooling down")
	require.Zero(t, res.Processed)

	h.clock.Advance(3 * time.Minute)
	res, err = h.svc.ProcessScheduledDistributions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 1, res.Sent)

	got, err := h.store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPublished, got.Status)
	require.Equal(t, "swept", got.ExternalID)
}

// sweepOnCreate runs the sweep right after the first PENDING record is
// stored, before DistributePost gets to claim it.
type sweepOnCreate struct {
	storage.Store
	once  sync.Once
	sweep func()
}

func (w *sweepOnCreate) CreateRecord(ctx context.Context, r Record) error {
	if err := w.Store.CreateRecord(ctx, r); err != nil {
		return err
	}
	if r.Status == StatusPending {
		w.once.Do(w.sweep)
	}
	return nil
}

func TestSweepLeavesFreshPendingToCaller(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "tg", platform.Telegram, false)
	ctx := context.Background()

	var swept SweepResult
	var sweepErr error
	h.svc.store = &sweepOnCreate{Store: h.store, sweep: func() {
		swept, sweepErr = h.svc.ProcessScheduledDistributions(ctx)
	}}

	rec := h.distribute(t, platform.Telegram)
	require.NoError(t, sweepErr)
	require.Zero(t, swept.Processed)
	require.Equal(t, StatusPublished, rec.Status)
	require.Equal(t, 1, h.conns[platform.Telegram].Calls())
}

func TestSweepAdoptsIdlePending(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "tg", platform.Telegram, false)
	ctx := context.Background()

	// A first attempt that never got to claim its record.
	orphan := Record{
		ID:         "r-orphan",
		ContentID:  "post-1",
		Platform:   platform.Telegram,
		Status:     StatusPending,
		MaxRetries: 1,
		CreatedAt:  h.clock.Now(),
		UpdatedAt:  h.clock.Now(),
	}
	require.NoError(t, h.store.CreateRecord(ctx, orphan))

	res, err := h.svc.ProcessScheduledDistributions(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Processed)

	h.clock.Advance(PendingSweepAge + time.Second)
	res, err = h.svc.ProcessScheduledDistributions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Sent)

	got, err := h.store.GetRecord(ctx, orphan.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPublished, got.Status)
	require.Zero(t, got.RetryCount)
}

func TestDispatchReportsCurrentStateWhenClaimed(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "tg", platform.Telegram, false)
	ctx := context.Background()

	stale := Record{
		ID:         "r-claimed",
		ContentID:  "post-1",
		Platform:   platform.Telegram,
		Status:     StatusPending,
		MaxRetries: 1,
		CreatedAt:  h.clock.Now(),
		UpdatedAt:  h.clock.Now(),
	}
	require.NoError(t, h.store.CreateRecord(ctx, stale))
	_, err := h.store.UpdateRecord(ctx, stale.ID, func(r *Record) error {
		r.Status = StatusPublished
		r.ExternalID = "by-sweep"
		return nil
	})
	require.NoError(t, err)

	out, oc, err := h.svc.dispatch(ctx, stale, 0)
	require.NoError(t, err)
	require.Equal(t, outcomeDeferred, oc)
	require.Equal(t, StatusPublished, out.Status)
	require.Equal(t, "by-sweep", out.ExternalID)
	require.Zero(t, h.conns[platform.Telegram].Calls())
}

func TestCancelDistribution(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "tg", platform.Telegram, false)
	ctx := context.Background()
	at := h.clock.Now().Add(time.Hour)

	recs, err := h.svc.DistributePost(ctx, DistributeRequest{ContentID: "post-1", Platforms: []platform.Platform{platform.Telegram}, ScheduledFor: &at})
	require.NoError(t, err)

	out, err := h.svc.CancelDistribution(ctx, recs[0].ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, out.Status)

	_, err = h.svc.CancelDistribution(ctx, recs[0].ID)
	var ste *StateTransitionError
	require.True(t, errors.As(err, &ste))
	require.Equal(t, StatusCancelled, ste.From)

	published := h.distribute(t, platform.Telegram)
	_, err = h.svc.CancelDistribution(ctx, published.ID)
	require.True(t, IsStateTransition(err))

	_, err = h.svc.CancelDistribution(ctx, "missing")
	require.True(t, IsNotFound(err))

	// A cancelled scheduled record is never swept.
	h.clock.Advance(2 * time.Hour)
	res, err := h.svc.ProcessScheduledDistributions(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Processed)
}

func TestProcessScheduledDistributions(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(s *Settings) { s.ScheduledBatchSize = 2 })
	h.channel(t, "tg", platform.Telegram, false)
	ctx := context.Background()

	soon := h.clock.Now().Add(10 * time.Minute)
	later := h.clock.Now().Add(24 * time.Hour)
	for _, at := range []*time.Time{&soon, &soon, &soon, &later} {
		_, err := h.svc.DistributePost(ctx, DistributeRequest{ContentID: "post-1", Platforms: []platform.Platform{platform.Telegram}, ScheduledFor: at})
		require.NoError(t, err)
	}

	res, err := h.svc.ProcessScheduledDistributions(ctx)
	require.NoError(t, err)
	require.Zero(t, res.Processed, "nothing is due yet")

	h.clock.Advance(15 * time.Minute)
	res, err = h.svc.ProcessScheduledDistributions(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Processed, "bounded by batch size")
	require.Equal(t, 2, res.Sent)

	res, err = h.svc.ProcessScheduledDistributions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)

	counts, err := h.store.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, counts[StatusPublished])
	require.Equal(t, 1, counts[StatusScheduled])
}

func TestSweepUsesSmallerRetryBudget(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(s *Settings) { s.MaxRetries = 5 })
	h.channel(t, "tg", platform.Telegram, false)
	ctx := context.Background()
	h.conns[platform.Telegram].Then(failure)

	at := h.clock.Now()
	_, err := h.svc.DistributePost(ctx, DistributeRequest{ContentID: "post-1", Platforms: []platform.Platform{platform.Telegram}, ScheduledFor: &at})
	require.NoError(t, err)

	res, err := h.svc.ProcessScheduledDistributions(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, res.Processed)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "telegram: boom", res.Errors[0].Error)
	require.Equal(t, SweepRetryBudget+1, h.conns[platform.Telegram].Calls())
}

func TestCleanupOldRecords(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "tg", platform.Telegram, false)
	ctx := context.Background()

	published := h.distribute(t, platform.Telegram)
	h.conns[platform.Telegram].Then(failure)
	failed := h.distribute(t, platform.Telegram)
	require.Equal(t, StatusFailed, failed.Status)

	n, err := h.svc.CleanupOldRecords(ctx)
	require.NoError(t, err)
	require.Zero(t, n, "recent records are kept")

	h.clock.Advance(91 * 24 * time.Hour)
	n, err = h.svc.CleanupOldRecords(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = h.store.GetRecord(ctx, published.ID)
	require.ErrorIs(t, err, storage.ErrNotFound)
	_, err = h.store.GetRecord(ctx, failed.ID)
	require.NoError(t, err, "failed records are evidence and stay")
}

func TestAutoPublishIsIdempotent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "tg", platform.Telegram, true)
	h.channel(t, "tg2", platform.Telegram, true)
	h.channel(t, "fb", platform.Facebook, false)
	ctx := context.Background()

	res, err := h.svc.OnContentPublished(ctx, "post-1")
	require.NoError(t, err)
	require.False(t, res.Skipped)
	require.Len(t, res.Records, 1, "platforms are a union across channels")
	require.Equal(t, StatusPublished, res.Records[0].Status)

	res, err = h.svc.OnContentPublished(ctx, "post-1")
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, "already published", res.Reason)

	n, err := h.store.CountRecords(ctx, storage.RecordFilter{ContentID: "post-1"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestAutoPublishRefreshesCachedContent(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "tg", platform.Telegram, true)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cached := content.NewCachedProvider(h.content, rdb, time.Hour, logx.Nop())
	h.svc.content = cached

	// A preview fetch caches the draft.
	draft, err := cached.GetContent(ctx, "post-1")
	require.NoError(t, err)
	require.Equal(t, "Hello", draft.Title)
	h.content.Put(content.Item{ID: "post-1", Title: "Final title", Slug: "final"})

	res, err := h.svc.OnContentPublished(ctx, "post-1")
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	require.Contains(t, res.Records[0].Content, "Final title")
	require.Contains(t, res.Records[0].Link, "/final")
	require.NotContains(t, res.Records[0].Link, "/hello")
}

func TestAutoPublishRequiresFlagAndChannels(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	h := newHarness(t, func(s *Settings) { s.DistributionEnabled = false })
	h.channel(t, "tg", platform.Telegram, true)
	res, err := h.svc.OnContentPublished(ctx, "post-1")
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Equal(t, ErrDisabled.Error(), res.Reason)

	h = newHarness(t, nil)
	h.channel(t, "tg", platform.Telegram, false)
	res, err = h.svc.OnContentPublished(ctx, "post-1")
	require.NoError(t, err)
	require.True(t, res.Skipped)
	require.Zero(t, h.conns[platform.Telegram].Calls())
}

func TestBulkDistribute(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "tg", platform.Telegram, false)
	ctx := context.Background()

	res, err := h.svc.BulkDistribute(ctx, BulkRequest{
		ContentIDs: []string{"post-1", "missing", "post-2", "post-1"},
		Platforms:  []platform.Platform{platform.Telegram},
	})
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	require.Equal(t, 2, res.Created)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "missing", res.Errors[0].ID)

	types := h.drain()
	require.Equal(t, eventbus.DistributionBulkDistributed, types[len(types)-1])

	ids := make([]string, MaxBulkContent+1)
	for i := range ids {
		ids[i] = strings.Repeat("x", i+1)
	}
	_, err = h.svc.BulkDistribute(ctx, BulkRequest{ContentIDs: ids, Platforms: []platform.Platform{platform.Telegram}})
	require.True(t, IsValidation(err))

	_, err = h.svc.BulkDistribute(ctx, BulkRequest{ContentIDs: []string{"post-1"}})
	require.True(t, IsValidation(err))
}

func TestStatsAndHealth(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(s *Settings) { s.MaxRetries = 0 })
	h.channel(t, "tg", platform.Telegram, false)
	h.channel(t, "fb", platform.Facebook, false)
	ctx := context.Background()

	h.distribute(t, platform.Telegram)
	h.distribute(t, platform.Telegram)
	h.distribute(t, platform.Telegram)
	h.conns[platform.Facebook].Then(rateLimited)
	h.distribute(t, platform.Facebook)

	st, err := h.svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, 4, st.Total)
	require.Equal(t, 3, st.Published)
	require.Equal(t, 75.0, st.SuccessRate)
	require.Equal(t, 1, st.ByStatus[StatusRateLimited])
	require.Zero(t, st.ByStatus[StatusCancelled])

	hc := h.svc.HealthCheck(ctx)
	require.Equal(t, "degraded", hc.Status)
	require.Equal(t, "ok", hc.Store)
	require.Equal(t, "healthy", hc.Platforms[platform.Telegram].Status)
	require.True(t, hc.Platforms[platform.Facebook].RateLimited)
	require.Equal(t, "rate_limited", hc.Platforms[platform.Facebook].Status)
	require.Equal(t, "no_connector", hc.Platforms[platform.Reddit].Status)

	require.NoError(t, h.store.Close())
	require.Equal(t, "unhealthy", h.svc.HealthCheck(ctx).Status)
}

func TestListRecords(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	h.channel(t, "tg", platform.Telegram, false)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		h.distribute(t, platform.Telegram)
		h.clock.Advance(time.Second)
	}

	page, err := h.svc.ListRecords(ctx, ListQuery{Limit: 2})
	require.NoError(t, err)
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	require.True(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt), "newest first")

	_, err = h.svc.ListRecords(ctx, ListQuery{Status: "LOST"})
	require.True(t, IsValidation(err))

	_, err = h.svc.GetRecord(ctx, "missing")
	require.True(t, IsNotFound(err))
}

func TestSettingsPersistence(t *testing.T) {
	t.Parallel()
	h := newHarness(t, nil)
	ctx := context.Background()

	seed := DefaultSettings()
	seed.MaxRetries = 4
	got, err := h.svc.LoadSettings(ctx, seed)
	require.NoError(t, err)
	require.Equal(t, 4, got.MaxRetries)

	// The stored row now wins over a new seed.
	seed.MaxRetries = 1
	got, err = h.svc.LoadSettings(ctx, seed)
	require.NoError(t, err)
	require.Equal(t, 4, got.MaxRetries)

	next := got
	next.RetentionDays = 30
	_, err = h.svc.ApplySettings(ctx, next)
	require.NoError(t, err)
	require.Equal(t, 30, h.svc.Settings().RetentionDays)

	next.MaxRetries = 99
	_, err = h.svc.ApplySettings(ctx, next)
	require.True(t, IsValidation(err))
	require.Equal(t, 4, h.svc.Settings().MaxRetries)
}
