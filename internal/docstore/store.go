package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/intermernet/climbsignups/internal/logger"
	"github.com/intermernet/climbsignups/internal/realtime"
)

// Store wraps a Backend with id generation, server timestamps and live
// queries. It is constructed once at startup and shared by every view.
type Store struct {
	backend Backend
	broker  *realtime.Broker
	pub     realtime.Publisher
	now     func() time.Time
	newID   func() string
}

// Option customises a Store.
type Option func(*Store)

// WithClock replaces the clock used for server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithPublisher routes change notifications through pub (e.g. a redis
// relay) instead of straight to the local broker.
func WithPublisher(pub realtime.Publisher) Option {
	return func(s *Store) { s.pub = pub }
}

// NewStore creates a Store. Live queries subscribe on broker.
func NewStore(backend Backend, broker *realtime.Broker, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		broker:  broker,
		pub:     broker,
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// Get reads one document. It returns ErrNotFound when it does not exist.
func (s *Store) Get(ctx context.Context, collection, id string) (Document, error) {
	return s.backend.Get(ctx, collection, id)
}

// Set creates or overwrites the document with the given id.
func (s *Store) Set(ctx context.Context, collection, id string, fields Fields) error {
	now := s.now().UTC()
	data, err := encodeFields(fields, now)
	if err != nil {
		return err
	}
	if err := s.backend.Put(ctx, collection, id, data, now); err != nil {
		return fmt.Errorf("set %s/%s: %w", collection, id, err)
	}
	s.changed(ctx, collection)
	return nil
}

// Add creates a document with a generated id and returns the id.
func (s *Store) Add(ctx context.Context, collection string, fields Fields) (string, error) {
	id := s.newID()
	if err := s.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if err := s.backend.Delete(ctx, collection, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, err)
	}
	s.changed(ctx, collection)
	return nil
}

// Query runs a one-shot query.
func (s *Store) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	return s.backend.Query(ctx, q)
}

func (s *Store) changed(ctx context.Context, collection string) {
	s.pub.Publish(ctx, topic(collection), realtime.Message{Type: "changed"})
}

// encodeFields resolves ServerTimestamp placeholders and marshals the body.
func encodeFields(fields Fields, now time.Time) ([]byte, error) {
	resolved := make(Fields, len(fields))
	for k, v := range fields {
		switch v := v.(type) {
		case serverTimestamp:
			resolved[k] = now.Format(time.RFC3339Nano)
		case time.Time:
			resolved[k] = v.UTC().Format(time.RFC3339Nano)
		default:
			resolved[k] = v
		}
	}
	data, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// DecodeFields parses a stored document body. Backends use it on read.
func DecodeFields(data []byte) (Fields, error) {
	var fields Fields
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if fields == nil {
		fields = Fields{}
	}
	return fields, nil
}

// Subscription is a running live query. Snapshots arrive on C; only the
// latest undelivered snapshot is kept, so a slow reader skips straight to
// the newest state. C is closed after Close.
type Subscription struct {
	C      <-chan Snapshot
	cancel context.CancelFunc
	done   chan struct{}
}

// Close stops the live query and waits for it to wind down.
func (sub *Subscription) Close() {
	sub.cancel()
	<-sub.done
}

// Watch starts a live query. The first snapshot is delivered immediately;
// another follows every change to q's collection until ctx is cancelled
// or Close is called.
func (s *Store) Watch(ctx context.Context, q Query) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Snapshot, 1)
	sub := &Subscription{C: out, cancel: cancel, done: make(chan struct{})}

	// Subscribe before the first read so no change can slip in between.
	t := topic(q.Collection)
	id, notes := s.broker.Subscribe(t)

	go func() {
		defer close(sub.done)
		defer close(out)
		defer s.broker.Unsubscribe(t, id)

		for {
			snap := Snapshot{ReadTime: s.now()}
			if err := q.validate(); err != nil {
				snap.Err = err
			} else {
				snap.Docs, snap.Err = s.backend.Query(ctx, q)
			}
			if ctx.Err() != nil {
				return
			}
			if snap.Err != nil {
				logger.Warn.Printf("live query %s failed: %v", q, snap.Err)
			}
			deliverLatest(out, snap)

			select {
			case <-ctx.Done():
				return
			case _, open := <-notes:
				if !open {
					return
				}
			}
		}
	}()
	return sub
}

// deliverLatest replaces any undelivered snapshot with snap. Only the
// watch goroutine sends on out, so the second send cannot block.
func deliverLatest(out chan Snapshot, snap Snapshot) {
	select {
	case out <- snap:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	out <- snap
}
