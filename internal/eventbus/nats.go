package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	logx "syndicate/pkg/logx"
)

// Publisher is the slice of *nats.Conn the bridge needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// DialNATS connects with reconnects enabled and connection state logged.
func DialNATS(url, name string, log logx.Logger) (*nats.Conn, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("nats url is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", logx.Err(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("nats reconnected", logx.String("url", nc.ConnectedUrl()))
		}),
	)
}

// NATSBridge republishes every bus event as JSON on "<prefix>.<type>".
type NATSBridge struct {
	bus    Bus
	pub    Publisher
	prefix string
	buffer int
	log    logx.Logger
}

func NewNATSBridge(bus Bus, pub Publisher, prefix string, log logx.Logger) *NATSBridge {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = "syndicate"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &NATSBridge{bus: bus, pub: pub, prefix: prefix, buffer: 256, log: log.With(logx.String("comp", "nats-bridge"))}
}

// Subject returns the subject an event type is published on.
func (b *NATSBridge) Subject(t Type) string { return b.prefix + "." + string(t) }

// Run forwards events until ctx is done. Publish failures are logged and
// the event is dropped; the bus has no replay.
func (b *NATSBridge) Run(ctx context.Context) error {
	ch, unsub := b.bus.Subscribe(b.buffer)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			b.forward(e)
		}
	}
}

func (b *NATSBridge) forward(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		b.log.Warn("event marshal failed", logx.String("type", string(e.Type)), logx.Err(err))
		return
	}
	subj := b.Subject(e.Type)
	if err := b.pub.Publish(subj, data); err != nil {
		b.log.Warn("nats publish failed", logx.String("subject", subj), logx.Err(err))
		return
	}
	b.log.Trace("event forwarded", logx.String("subject", subj))
}
