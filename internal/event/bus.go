// Package event provides an in-process pub/sub bus built on watermill.
package event

import (
	"context"
	"encoding/json"
	"slices"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/opencode-ai/codeagent/internal/logging"
)

// Topic is the watermill topic every event is mirrored to.
const Topic = "events"

type EventType string

const (
	SessionCreated     EventType = "session.created"
	SessionUpdated     EventType = "session.updated"
	SessionDeleted     EventType = "session.deleted"
	SessionStatus      EventType = "session.status"
	SessionCompacted   EventType = "session.compacted"
	MessageUpdated     EventType = "message.updated"
	ToolStarted        EventType = "tool.started"
	ToolCompleted      EventType = "tool.completed"
	PermissionAsked    EventType = "permission.asked"
	PermissionResolved EventType = "permission.resolved"
)

// Event is one notification. Data is one of the *Data types of this
// package.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

type Subscriber func(event Event)

// subscription receives events of one type, or of every type when typ is
// empty.
type subscription struct {
	id  uint64
	typ EventType
	fn  Subscriber
}

// Bus delivers events to Go subscribers with their payload types intact and
// mirrors each one as a JSON watermill message on Topic.
type Bus struct {
	pubsub *gochannel.GoChannel

	mu     sync.RWMutex
	subs   []subscription
	lastID uint64
	closed bool
}

func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 100}, watermill.NopLogger{}),
	}
}

// Subscribe registers fn for one event type and returns its unsubscribe
// function.
func (b *Bus) Subscribe(typ EventType, fn Subscriber) func() {
	return b.add(typ, fn)
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	return b.add("", fn)
}

func (b *Bus) add(typ EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return func() {}
	}
	b.lastID++
	id := b.lastID
	b.subs = append(b.subs, subscription{id: id, typ: typ, fn: fn})

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
	}
}

// matching returns the subscribers of typ, typed ones first, or false once
// the bus is closed.
func (b *Bus) matching(typ EventType) ([]Subscriber, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, false
	}
	var typed, all []Subscriber
	for _, s := range b.subs {
		switch s.typ {
		case typ:
			typed = append(typed, s.fn)
		case "":
			all = append(all, s.fn)
		}
	}
	return append(typed, all...), true
}

// Publish delivers the event to each subscriber in its own goroutine.
func (b *Bus) Publish(event Event) {
	b.publish(event, false)
}

// PublishSync delivers the event in the caller's goroutine and returns once
// every subscriber has run.
func (b *Bus) PublishSync(event Event) {
	b.publish(event, true)
}

func (b *Bus) publish(event Event, sync bool) {
	subs, ok := b.matching(event.Type)
	if !ok {
		return
	}
	b.mirror(event)
	for _, fn := range subs {
		if sync {
			fn(event)
		} else {
			go fn(event)
		}
	}
}

func (b *Bus) mirror(event Event) {
	payload, err := json.Marshal(event)
	if err == nil {
		msg := message.NewMessage(watermill.NewULID(), payload)
		msg.Metadata.Set("type", string(event.Type))
		err = b.pubsub.Publish(Topic, msg)
	}
	if err != nil {
		logging.Component("event").Debug().Err(err).Str("type", string(event.Type)).Msg("event not mirrored")
	}
}

// Messages streams the JSON form of events published after the call,
// limited to the given types when any are named. The channel closes when
// ctx is done or the bus is closed.
func (b *Bus) Messages(ctx context.Context, only ...EventType) (<-chan []byte, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}
	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			msg.Ack()
			if len(only) > 0 && !slices.Contains(only, EventType(msg.Metadata.Get("type"))) {
				continue
			}
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close drops every subscriber and stops the mirror. Later publishes are
// ignored.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = nil
	b.mu.Unlock()
	return b.pubsub.Close()
}
