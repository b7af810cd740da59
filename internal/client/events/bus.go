// Package events carries security notifications (session committed, step-up
// verified, device bound, ...) from the services to interested listeners
// such as the CLI. It is an in-process bus on top of watermill's gochannel
// pub/sub. Events never carry secrets.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dmitrijs2005/trustkeeper/internal/logging"
	"github.com/google/uuid"
)

const (
	SessionCommitted = "session.committed"
	SessionCleared   = "session.cleared"
	StepUpVerified   = "stepup.verified"
	StepUpFailed     = "stepup.failed"
	DeviceBound      = "device.bound"
	DeviceUnbound    = "device.unbound"
	DeviceTrusted    = "device.trusted"
	LoginDenied      = "login.denied"
	LoginLocked      = "login.locked"
)

// AllTypes lists every event type published by the services.
var AllTypes = []string{
	SessionCommitted, SessionCleared, StepUpVerified, StepUpFailed,
	DeviceBound, DeviceUnbound, DeviceTrusted, LoginDenied, LoginLocked,
}

var ErrClosed = errors.New("event bus closed")

type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type Handler func(ctx context.Context, evt Event)

type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Emit publishes an event of type typ on p. A nil p is a no-op.
func Emit(ctx context.Context, p Publisher, typ string, attrs map[string]string) error {
	if p == nil {
		return nil
	}
	return p.Publish(ctx, Event{Type: typ, Attributes: attrs})
}

type Bus struct {
	pubsub *gochannel.GoChannel
	logger logging.Logger

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewBus(logger logging.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer:            64,
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NopLogger{}),
		logger:  logging.OrNop(logger),
		rootCtx: ctx,
		cancel:  cancel,
	}
}

func (b *Bus) Publish(ctx context.Context, evt Event) error {
	if evt.Type == "" {
		return errors.New("event type must not be empty")
	}
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := message.NewMessage(evt.ID, payload)
	msg.Metadata.Set("event_type", evt.Type)
	msg.SetContext(ctx)

	return b.pubsub.Publish(evt.Type, msg)
}

// Subscribe delivers events of type typ to h, one at a time in publish
// order, until unsubscribe is called or the bus is closed. Publish returns
// after every subscriber has handled the event, so handlers must not publish
// to their own topic.
func (b *Bus) Subscribe(typ string, h Handler) (unsubscribe func(), err error) {
	if h == nil {
		return nil, errors.New("handler must not be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(b.rootCtx)
	msgs, err := b.pubsub.Subscribe(ctx, typ)
	if err != nil {
		cancel()
		return nil, err
	}

	b.wg.Add(1)
	go b.consume(ctx, typ, msgs, h)

	return cancel, nil
}

func (b *Bus) consume(ctx context.Context, typ string, msgs <-chan *message.Message, h Handler) {
	defer b.wg.Done()

	for msg := range msgs {
		var evt Event
		if err := json.Unmarshal(msg.Payload, &evt); err != nil {
			b.logger.Error(ctx, "failed to decode event", "topic", typ, "message_id", msg.UUID, "error", err)
			msg.Ack()
			continue
		}
		b.call(ctx, h, evt)
		msg.Ack()
	}
}

func (b *Bus) call(ctx context.Context, h Handler, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "event handler panicked", "event_type", evt.Type, "event_id", evt.ID, "panic", r)
		}
	}()
	h(ctx, evt)
}

// Close stops all subscriptions and waits for running handlers.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()
	return err
}
