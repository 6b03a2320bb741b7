// Package bus routes messages between the gateway and chat consumers by topic.
package bus

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/llmgate/internal/errors"
	"github.com/user/llmgate/internal/logging"
)

// Handler consumes messages from a topic. Handle returns an optional reply;
// nil means the handler replies later through its own Publish.
type Handler interface {
	CanHandle(kind Kind) bool
	Handle(ctx context.Context, msg Message) (*Message, error)
}

// HandlerFunc adapts a function to Handler. A nil Kinds list accepts every kind.
type HandlerFunc struct {
	Kinds []Kind
	Fn    func(ctx context.Context, msg Message) (*Message, error)
}

func (h HandlerFunc) CanHandle(kind Kind) bool {
	if len(h.Kinds) == 0 {
		return true
	}
	for _, k := range h.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

func (h HandlerFunc) Handle(ctx context.Context, msg Message) (*Message, error) {
	return h.Fn(ctx, msg)
}

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a topic-addressed publish/subscribe router
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscription
	nextID uint64
	logger *logging.Logger
}

// New creates an empty bus
func New(logger *logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Bus{subs: make(map[string][]subscription), logger: logger}
}

// Subscribe registers h on topic and returns a function that removes it
func (b *Bus) Subscribe(topic string, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, handler: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			list := b.subs[topic]
			for i, s := range list {
				if s.id == id {
					b.subs[topic] = append(list[:i:i], list[i+1:]...)
					break
				}
			}
			if len(b.subs[topic]) == 0 {
				delete(b.subs, topic)
			}
		})
	}
}

// Publish delivers msg to every handler on its topic that accepts its kind, in
// subscription order. A message no handler accepts is a bus error. Synchronous
// replies are published to msg.ReplyTopic.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return errors.NewError(errors.KindBus, "message has no topic", errors.ExitGeneralError)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	b.mu.RLock()
	var handlers []Handler
	for _, s := range b.subs[msg.Topic] {
		if s.handler.CanHandle(msg.Kind) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()

	if len(handlers) == 0 {
		b.logger.Warn("Message not delivered",
			logging.String(logging.KeyTopic, msg.Topic),
			logging.String("kind", string(msg.Kind)),
			logging.SessionID(msg.SessionID))
		return errors.NewNoHandlerError(msg.Topic, string(msg.Kind))
	}

	var errs []error
	for _, h := range handlers {
		reply, err := h.Handle(ctx, msg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if reply == nil {
			continue
		}
		if err := b.publishReply(ctx, msg, *reply); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (b *Bus) publishReply(ctx context.Context, req, reply Message) error {
	if req.ReplyTopic != "" {
		reply.Topic = req.ReplyTopic
	}
	if reply.Topic == "" {
		return errors.NewError(errors.KindBus,
			fmt.Sprintf("reply to %s message %s has no destination", req.Kind, req.ID),
			errors.ExitGeneralError)
	}
	if reply.SessionID == "" {
		reply.SessionID = req.SessionID
	}
	return b.Publish(ctx, reply)
}

// HasSubscribers reports whether anything listens on topic
func (b *Bus) HasSubscribers(topic string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic]) > 0
}
