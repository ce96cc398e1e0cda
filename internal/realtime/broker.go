package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/intermernet/climbsignups/internal/logger"
)

// Message is the shape of every realtime notification.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewMessage builds a Message, marshalling payload when it is not nil.
func NewMessage(msgType string, payload interface{}) (Message, error) {
	msg := Message{Type: msgType}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	msg.Payload = raw
	return msg, nil
}

// Publisher delivers a message to every subscriber of a topic. Broker
// publishes locally; Relay also forwards to other server instances.
type Publisher interface {
	Publish(ctx context.Context, topic string, msg Message) int
}

// Broker is the in-process hub that fans messages out to subscribers,
// keyed by topic. Topics are either a document collection ("docs:...")
// or a single user ("user:...").
type Broker struct {
	// topics maps a topic to its subscriber channels, keyed by subscription id.
	topics map[string]map[uint64]chan Message
	nextID uint64
	// bufferSize is the capacity of every subscriber channel.
	bufferSize int
	mu         sync.RWMutex
}

// NewBroker creates a new Broker whose subscriber channels hold up to
// bufferSize pending messages.
func NewBroker(bufferSize int) *Broker {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Broker{
		topics:     make(map[string]map[uint64]chan Message),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a new subscriber for topic. The returned id is
// passed to Unsubscribe when the subscriber goes away.
func (b *Broker) Subscribe(topic string) (uint64, <-chan Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	ch := make(chan Message, b.bufferSize)
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[uint64]chan Message)
	}
	b.topics[topic][id] = ch
	logger.Debug.Printf("realtime subscriber %d joined %s", id, topic)
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel. Unknown ids
// are ignored so callers can defer it unconditionally.
func (b *Broker) Unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	if ch, ok := subs[id]; ok {
		delete(subs, id)
		close(ch)
		logger.Debug.Printf("realtime subscriber %d left %s", id, topic)
	}
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}

// Publish sends msg to every subscriber of topic and reports how many
// received it. Sends never block: when a subscriber's buffer is full its
// oldest pending message is evicted, so the newest message is always
// queued.
func (b *Broker) Publish(_ context.Context, topic string, msg Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := 0
	for id, ch := range b.topics[topic] {
		if deliverNewest(ch, msg) {
			delivered++
		} else {
			logger.Warn.Printf("realtime subscriber %d on %s stayed full, dropping %s", id, topic, msg.Type)
		}
	}
	return delivered
}

// deliverNewest queues msg on ch, evicting the oldest pending message when
// the buffer is full. It only fails when concurrent publishers refill the
// buffer between the eviction and the retry.
func deliverNewest(ch chan Message, msg Message) bool {
	for attempt := 0; attempt < 3; attempt++ {
		select {
		case ch <- msg:
			return true
		default:
		}
		select {
		case old := <-ch:
			logger.Debug.Printf("realtime subscriber is full, evicting %s", old.Type)
		default:
		}
	}
	return false
}

// Subscribers reports how many subscribers a topic currently has.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}
