// Package broadcast optionally fans out Reactor Descriptor add/remove/
// health/load events across multiple Router instances over Redis pub/sub,
// so a clustered Gateway front-end shares one consistent view of reactor
// availability. Disabled unless a Redis address is configured; the Router
// works standalone without it.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/packetflow/reactor/internal/obs/logging"
	"github.com/packetflow/reactor/internal/router"
)

// EventType names the kind of descriptor change being broadcast.
type EventType string

const (
	EventAdd          EventType = "add"
	EventRemove       EventType = "remove"
	EventHealthChange EventType = "health"
	EventLoadChange   EventType = "load"
)

// Event is a single descriptor change, as published on the channel.
type Event struct {
	Type       EventType          `json:"type"`
	ID         string             `json:"id"`
	Descriptor *router.Descriptor `json:"descriptor,omitempty"`
	Load       float64            `json:"load,omitempty"`
	Healthy    bool               `json:"healthy,omitempty"`
}

// Broadcaster publishes and subscribes to descriptor events on a single
// Redis channel, applying received events onto a local Router.
type Broadcaster struct {
	client  *redis.Client
	channel string
	log     *logging.Logger
}

// New connects to addr (and optionally authenticates/selects db) and
// returns a Broadcaster for channel.
func New(addr, password string, db int, channel string, log *logging.Logger) *Broadcaster {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Broadcaster{client: client, channel: channel, log: log}
}

// PublishAdd broadcasts a descriptor addition/replacement.
func (b *Broadcaster) PublishAdd(ctx context.Context, d router.Descriptor) error {
	return b.publish(ctx, Event{Type: EventAdd, ID: d.ID, Descriptor: &d})
}

// PublishRemove broadcasts a descriptor removal.
func (b *Broadcaster) PublishRemove(ctx context.Context, id string) error {
	return b.publish(ctx, Event{Type: EventRemove, ID: id})
}

// PublishHealth broadcasts a health transition.
func (b *Broadcaster) PublishHealth(ctx context.Context, id string, healthy bool) error {
	return b.publish(ctx, Event{Type: EventHealthChange, ID: id, Healthy: healthy})
}

// PublishLoad broadcasts a load-factor update.
func (b *Broadcaster) PublishLoad(ctx context.Context, id string, load float64) error {
	return b.publish(ctx, Event{Type: EventLoadChange, ID: id, Load: load})
}

func (b *Broadcaster) publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("broadcast: marshal event: %w", err)
	}
	return b.client.Publish(ctx, b.channel, data).Err()
}

// Subscribe applies incoming events onto r until ctx is cancelled. Run it
// in its own goroutine; it blocks until ctx.Done().
func (b *Broadcaster) Subscribe(ctx context.Context, r *router.Router) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				if b.log != nil {
					b.log.Errorf("broadcast: malformed descriptor event: %v", err)
				}
				continue
			}
			applyEvent(r, evt)
		}
	}
}

// applyEvent mirrors a peer's event onto r through its ApplyRemote* methods,
// which update local state without re-publishing (a Router.Add etc. would
// fan the same event back out over Notifier, echoing it between peers
// forever).
func applyEvent(r *router.Router, evt Event) {
	switch evt.Type {
	case EventAdd:
		if evt.Descriptor != nil {
			r.ApplyRemoteAdd(*evt.Descriptor)
		}
	case EventRemove:
		r.ApplyRemoteRemove(evt.ID)
	case EventHealthChange:
		r.ApplyRemoteHealth(evt.ID, evt.Healthy)
	case EventLoadChange:
		r.ApplyRemoteLoad(evt.ID, evt.Load)
	}
}

// Close releases the underlying Redis client.
func (b *Broadcaster) Close() error { return b.client.Close() }

// notifier adapts a Broadcaster into router.ChangeNotifier, firing
// publishes on a background context since Router's mutation methods don't
// carry one through. Publish failures are logged, never returned, since a
// dropped fan-out must not fail the local mutation that triggered it.
type notifier struct{ b *Broadcaster }

// AsNotifier returns a router.ChangeNotifier that publishes every local
// mutation on b's channel, for wiring onto a router.Router's Notifier field.
func (b *Broadcaster) AsNotifier() router.ChangeNotifier { return &notifier{b: b} }

func (n *notifier) NotifyAdd(d router.Descriptor) {
	n.log(n.b.PublishAdd(context.Background(), d))
}

func (n *notifier) NotifyRemove(id string) {
	n.log(n.b.PublishRemove(context.Background(), id))
}

func (n *notifier) NotifyHealth(id string, healthy bool) {
	n.log(n.b.PublishHealth(context.Background(), id, healthy))
}

func (n *notifier) NotifyLoad(id string, load float64) {
	n.log(n.b.PublishLoad(context.Background(), id, load))
}

func (n *notifier) log(err error) {
	if err != nil && n.b.log != nil {
		n.b.log.Warnf("broadcast: publish descriptor event: %v", err)
	}
}
