package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/intermernet/climbsignups/internal/logger"
	"github.com/intermernet/climbsignups/internal/realtime"
)

// Event types sent on a user's topic.
const (
	EventView      = "view"
	EventClipboard = "clipboard"
	EventConfirm   = "confirm"
)

// DefaultConfirmTimeout bounds how long a confirmation waits for an answer.
const DefaultConfirmTimeout = 2 * time.Minute

var (
	// ErrNoClient is returned when no connection of the user is open to
	// receive a clipboard write or a confirmation prompt.
	ErrNoClient            = errors.New("no connected client")
	ErrUnknownConfirmation = errors.New("unknown confirmation")
)

// UserTopic is the broker topic carrying one user's events.
func UserTopic(userID string) string {
	return "user:" + userID
}

// clipboardBridge hands clipboard writes to the user's connected clients,
// which perform the actual copy.
type clipboardBridge struct {
	pub   realtime.Publisher
	topic string
}

type clipboardPayload struct {
	Text string `json:"text"`
}

func (c clipboardBridge) WriteText(ctx context.Context, text string) error {
	msg, err := realtime.NewMessage(EventClipboard, clipboardPayload{Text: text})
	if err != nil {
		return err
	}
	if c.pub.Publish(ctx, c.topic, msg) == 0 {
		return ErrNoClient
	}
	return nil
}

// Prompt is a confirmation waiting for the user's answer.
type Prompt struct {
	ID      string    `json:"id"`
	Message string    `json:"message"`
	Asked   time.Time `json:"asked"`
}

type pendingPrompt struct {
	Prompt
	answer chan bool
}

// Confirmations asks the user's clients a yes/no question and waits for
// the answer posted back through Answer.
type Confirmations struct {
	pub     realtime.Publisher
	topic   string
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]*pendingPrompt
	// onChange is called when the set of pending prompts changes.
	onChange func()
}

func newConfirmations(pub realtime.Publisher, topic string, timeout time.Duration, onChange func()) *Confirmations {
	if timeout <= 0 {
		timeout = DefaultConfirmTimeout
	}
	if onChange == nil {
		onChange = func() {}
	}
	return &Confirmations{
		pub:      pub,
		topic:    topic,
		timeout:  timeout,
		pending:  make(map[string]*pendingPrompt),
		onChange: onChange,
	}
}

// Confirm publishes the question and blocks until it is answered, ctx is
// done or the timeout passes. Anything but an explicit yes is a no.
func (c *Confirmations) Confirm(ctx context.Context, message string) (bool, error) {
	p := &pendingPrompt{
		Prompt: Prompt{ID: uuid.NewString(), Message: message, Asked: time.Now().UTC()},
		answer: make(chan bool, 1),
	}
	c.mu.Lock()
	c.pending[p.ID] = p
	c.mu.Unlock()
	defer c.remove(p.ID)

	msg, err := realtime.NewMessage(EventConfirm, p.Prompt)
	if err != nil {
		return false, err
	}
	if c.pub.Publish(ctx, c.topic, msg) == 0 {
		return false, ErrNoClient
	}
	c.onChange()

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case ok := <-p.answer:
		return ok, nil
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		logger.Info.Printf("Confirmation %s timed out", p.ID)
		return false, nil
	}
}

// Answer resolves a pending confirmation.
func (c *Confirmations) Answer(id string, ok bool) error {
	c.mu.Lock()
	p, found := c.pending[id]
	c.mu.Unlock()
	if !found {
		return ErrUnknownConfirmation
	}
	select {
	case p.answer <- ok:
	default:
		// Already answered.
	}
	return nil
}

// Pending lists the open prompts, oldest first.
func (c *Confirmations) Pending() []Prompt {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Prompt, 0, len(c.pending))
	for _, p := range c.pending {
		out = append(out, p.Prompt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asked.Before(out[j].Asked) })
	return out
}

func (c *Confirmations) remove(id string) {
	c.mu.Lock()
	_, found := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if found {
		c.onChange()
	}
}
