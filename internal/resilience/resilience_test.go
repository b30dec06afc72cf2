package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"syndicate/internal/platform"
	logx "syndicate/pkg/logx"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
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

func TestBreakerOpensAfterFiveFailures(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	b := NewBreaker(0, 0, clk.Now)

	for i := 0; i < 4; i++ {
		require.False(t, b.RecordFailure(platform.Twitter))
		require.False(t, b.IsOpen(platform.Twitter))
	}
	require.True(t, b.RecordFailure(platform.Twitter))
	require.True(t, b.IsOpen(platform.Twitter))
	require.False(t, b.IsOpen(platform.Reddit), "state is per platform")

	clk.Advance(4*time.Minute + 59*time.Second)
	require.True(t, b.IsOpen(platform.Twitter))

	clk.Advance(time.Second)
	require.False(t, b.IsOpen(platform.Twitter), "half-open after 5 minutes")

	// A failure while half-open reopens right away.
	require.True(t, b.RecordFailure(platform.Twitter))
	require.True(t, b.IsOpen(platform.Twitter))

	clk.Advance(5 * time.Minute)
	require.False(t, b.IsOpen(platform.Twitter))
	b.RecordSuccess(platform.Twitter)
	require.Equal(t, BreakerState{}, b.State(platform.Twitter))

	require.False(t, b.RecordFailure(platform.Twitter), "success reset the count")
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	t.Parallel()
	b := NewBreaker(3, time.Minute, nil)
	b.RecordFailure(platform.Facebook)
	b.RecordFailure(platform.Facebook)
	b.RecordSuccess(platform.Facebook)
	b.RecordFailure(platform.Facebook)
	b.RecordFailure(platform.Facebook)
	require.False(t, b.IsOpen(platform.Facebook))
	require.Equal(t, 2, b.State(platform.Facebook).Failures)
}

func TestCooldowns(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	c := NewCooldowns(clk.Now)

	require.False(t, c.Active(platform.Reddit))
	until := c.SetFor(platform.Reddit, 0)
	require.Equal(t, clk.Now().Add(DefaultCooldown), until)
	require.True(t, c.Active(platform.Reddit))

	// A shorter hint does not cut the running cooldown.
	c.SetFor(platform.Reddit, time.Second)
	require.Equal(t, until, c.Until(platform.Reddit))

	clk.Advance(59 * time.Second)
	require.True(t, c.Active(platform.Reddit))
	clk.Advance(time.Second)
	require.False(t, c.Active(platform.Reddit))

	c.SetFor(platform.Reddit, 10*time.Second)
	c.Clear(platform.Reddit)
	require.False(t, c.Active(platform.Reddit))
}

func TestPolicyDelay(t *testing.T) {
	t.Parallel()
	p := Policy{BaseDelay: 100 * time.Millisecond, Multiplier: 2}
	require.Equal(t, 100*time.Millisecond, p.Delay(1))
	require.Equal(t, 200*time.Millisecond, p.Delay(2))
	require.Equal(t, 400*time.Millisecond, p.Delay(3))

	p.Jitter = 0.3
	for i := 0; i < 100; i++ {
		d := p.Delay(2)
		require.GreaterOrEqual(t, d, 200*time.Millisecond)
		require.LessOrEqual(t, d, 260*time.Millisecond)
	}

	p.MaxDelay = 150 * time.Millisecond
	require.Equal(t, 150*time.Millisecond, p.Delay(3))
}

func TestRetry(t *testing.T) {
	t.Parallel()
	pol := Policy{MaxRetries: 3, BaseDelay: time.Millisecond, Multiplier: 2}
	boom := errors.New("boom")

	t.Run("exhausts and returns last error", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Retry(context.Background(), pol, logx.Nop(), func(context.Context, int) error {
			calls++
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.Equal(t, 4, calls)
	})

	t.Run("stops on success", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Retry(context.Background(), pol, logx.Nop(), func(_ context.Context, attempt int) error {
			calls++
			if attempt < 2 {
				return boom
			}
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, 2, calls)
	})

	t.Run("no retry", func(t *testing.T) {
		t.Parallel()
		calls := 0
		err := Retry(context.Background(), pol, logx.Nop(), func(context.Context, int) error {
			calls++
			return NoRetry(boom)
		})
		require.Equal(t, boom, err)
		require.Equal(t, 1, calls)
		require.True(t, IsNoRetry(NoRetry(boom)))
		require.Nil(t, NoRetry(nil))
	})

	t.Run("context cancel aborts the wait", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		start := time.Now()
		err := Retry(ctx, Policy{MaxRetries: 5, BaseDelay: time.Hour, Multiplier: 1}, logx.Nop(), func(context.Context, int) error {
			calls++
			cancel()
			return boom
		})
		require.ErrorIs(t, err, boom)
		require.Equal(t, 1, calls)
		require.Less(t, time.Since(start), time.Second)
	})
}

func TestPacer(t *testing.T) {
	t.Parallel()
	p := NewPacer(0, 1)
	for i := 0; i < 50; i++ {
		require.NoError(t, p.Wait(context.Background(), platform.Telegram))
	}

	p.SetRate(0.001, 1)
	require.NoError(t, p.Wait(context.Background(), platform.Telegram))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.Error(t, p.Wait(ctx, platform.Telegram), "second token is far away")
	require.NoError(t, p.Wait(context.Background(), platform.Reddit), "buckets are per platform")
}

func TestLayerSnapshot(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	l := New(Options{Now: clk.Now})
	for i := 0; i < 5; i++ {
		l.Breaker.RecordFailure(platform.LinkedIn)
	}
	l.Cooldowns.SetFor(platform.Pinterest, time.Minute)

	s := l.Snapshot()
	require.Len(t, s, len(platform.All))
	require.True(t, s[platform.LinkedIn].CircuitOpen)
	require.Equal(t, 5, s[platform.LinkedIn].Failures)
	require.NotNil(t, s[platform.LinkedIn].OpenUntil)
	require.True(t, s[platform.Pinterest].RateLimited)
	require.False(t, s[platform.Telegram].CircuitOpen)
	require.Nil(t, s[platform.Telegram].CooldownUntil)
}
