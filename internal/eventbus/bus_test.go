package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	logx "syndicate/pkg/logx"
)

func TestPublishFansOut(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	defer unsubA()
	c, unsubC := b.Subscribe(4)
	defer unsubC()

	b.Publish(Event{Type: DistributionPublished, Data: "r1"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			require.Equal(t, DistributionPublished, e.Type)
			require.Equal(t, "r1", e.Data)
			require.False(t, e.Time.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: ChannelCreated})
	b.Publish(Event{Type: ChannelUpdated})
	b.Publish(Event{Type: ChannelDeleted})
	require.Equal(t, uint64(2), Dropped(b))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: ChannelCreated})
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs map[string][]byte
	fail bool
	got  chan string
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if f.fail {
		err = errors.New("nats: connection closed")
	} else {
		f.msgs[subject] = data
	}
	select {
	case f.got <- subject:
	default:
	}
	return err
}

func TestNATSBridgeForwards(t *testing.T) {
	t.Parallel()
	bus := New()
	pub := &fakePublisher{msgs: map[string][]byte{}, got: make(chan string, 4)}
	br := NewNATSBridge(bus, pub, "acme.events.", logx.Nop())
	require.Equal(t, "acme.events.distribution.published", br.Subject(DistributionPublished))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- br.Run(ctx) }()

	// Wait for the bridge to subscribe.
	require.Eventually(t, func() bool {
		bus.Publish(Event{Type: DistributionPublished, Data: map[string]string{"id": "r1"}})
		select {
		case <-pub.got:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	pub.mu.Lock()
	raw := pub.msgs["acme.events.distribution.published"]
	pub.mu.Unlock()
	var e struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &e))
	require.Equal(t, "distribution.published", e.Type)
	require.Equal(t, "r1", e.Data["id"])

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("bridge did not stop")
	}
}

func TestNATSBridgeSurvivesPublishErrors(t *testing.T) {
	t.Parallel()
	bus := New()
	pub := &fakePublisher{msgs: map[string][]byte{}, fail: true, got: make(chan string, 16)}
	br := NewNATSBridge(bus, pub, "", logx.Nop())
	require.Equal(t, "syndicate.channel.created", br.Subject(ChannelCreated))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = br.Run(ctx) }()

	require.Eventually(t, func() bool {
		bus.Publish(Event{Type: ChannelCreated})
		select {
		case <-pub.got:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	_, err := DialNATS("", "x", logx.Nop())
	require.Error(t, err)
}
