// Package events fans task-change notices out to every running instance
// over Redis pub/sub so each can drop its process-local listing cache.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "tasks:changed"

const publishTimeout = 3 * time.Second

// TaskChangeEvent says that an owner's tasks changed on instance Origin.
type TaskChangeEvent struct {
	OwnerID   string    `json:"owner_id"`
	ChangedAt time.Time `json:"changed_at"`
	Origin    string    `json:"origin"`
}

type Handler func(ctx context.Context, event TaskChangeEvent)

// NewOrigin returns a random instance identifier.
func NewOrigin() string {
	return uuid.Must(uuid.NewV4()).String()
}

type Publisher struct {
	client  *redis.Client
	channel string
	origin  string
	now     func() time.Time
}

func NewPublisher(client *redis.Client, origin string) *Publisher {
	return &Publisher{
		client:  client,
		channel: DefaultChannel,
		origin:  origin,
		now:     time.Now,
	}
}

func (p *Publisher) TasksChanged(ctx context.Context, ownerID string) error {
	data, err := json.Marshal(TaskChangeEvent{
		OwnerID:   ownerID,
		ChangedAt: p.now().UTC(),
		Origin:    p.origin,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscriber delivers events from other instances to a handler. Events
// carrying its own origin are skipped.
type Subscriber struct {
	client  *redis.Client
	channel string
	origin  string

	mu     sync.Mutex
	pubsub *redis.PubSub
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSubscriber(client *redis.Client, origin string) *Subscriber {
	return &Subscriber{
		client:  client,
		channel: DefaultChannel,
		origin:  origin,
	}
}

// Start subscribes and returns once the subscription is confirmed.
// Delivery runs in a background goroutine until Stop.
func (s *Subscriber) Start(ctx context.Context, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pubsub != nil {
		return errors.New("subscriber already started")
	}

	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("failed to subscribe to %s: %w", s.channel, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.pubsub = pubsub
	s.cancel = cancel

	log.Printf("[events] subscribed to %s", s.channel)

	s.wg.Add(1)
	go s.loop(runCtx, pubsub.Channel(), handler)
	return nil
}

func (s *Subscriber) loop(ctx context.Context, messages <-chan *redis.Message, handler Handler) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			var event TaskChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("[events] dropping malformed event: %v", err)
				continue
			}
			if event.Origin == s.origin || event.OwnerID == "" {
				continue
			}

			handler(ctx, event)
		}
	}
}

func (s *Subscriber) Stop() error {
	s.mu.Lock()
	pubsub, cancel := s.pubsub, s.cancel
	s.pubsub, s.cancel = nil, nil
	s.mu.Unlock()

	if pubsub == nil {
		return nil
	}

	cancel()
	err := pubsub.Close()
	s.wg.Wait()

	log.Printf("[events] unsubscribed from %s", s.channel)
	return err
}
