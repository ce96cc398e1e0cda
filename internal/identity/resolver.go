// Package identity resolves who is using a connection: it restores or
// creates a credential through the auth client and reports the user id
// and a readiness signal to the views that depend on it.
package identity

import (
	"context"
	"sync"

	"github.com/intermernet/climbsignups/internal/auth"
	"github.com/intermernet/climbsignups/internal/logger"
)

// Options configures a Resolver.
type Options struct {
	// PublicRoute skips resolution entirely; the resolver is ready at once
	// with no user.
	PublicRoute bool
	// CustomToken, when set, is exchanged instead of signing in
	// anonymously.
	CustomToken string
}

// Resolver owns the identity of one connection.
type Resolver struct {
	client *auth.Client
	opts   Options

	mu      sync.Mutex
	cred    *auth.Credential
	changes chan string

	ready     chan struct{}
	readyOnce sync.Once

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
}

// NewResolver creates a Resolver on top of client. Call Start to begin.
func NewResolver(client *auth.Client, opts Options) *Resolver {
	return &Resolver{
		client:  client,
		opts:    opts,
		changes: make(chan string, 1),
		ready:   make(chan struct{}),
	}
}

// Start runs the first resolution. It returns once that attempt has
// finished, successfully or not; Ready is closed either way.
func (r *Resolver) Start(ctx context.Context) {
	r.ctx, r.cancel = context.WithCancel(ctx)
	if r.opts.PublicRoute {
		r.markReady()
		return
	}

	r.unsubscribe = r.client.OnAuthStateChanged(r.onAuthStateChanged)

	if cur := r.client.CurrentUser(); cur != nil {
		r.setUser(cur)
		r.markReady()
		return
	}
	r.signIn()
}

// Close stops listening for auth changes.
func (r *Resolver) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	if r.cancel != nil {
		r.cancel()
	}
}

// UserID returns the resolved user id, or "" when there is none.
func (r *Resolver) UserID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cred == nil {
		return ""
	}
	return r.cred.UserID
}

// Credential returns the current credential, or nil.
func (r *Resolver) Credential() *auth.Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cred == nil {
		return nil
	}
	c := *r.cred
	return &c
}

// Ready is closed exactly once, after the first resolution attempt.
func (r *Resolver) Ready() <-chan struct{} {
	return r.ready
}

// IsReady reports whether Ready has been closed.
func (r *Resolver) IsReady() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

// Changes delivers the user id every time it changes after Start. Only the
// latest undelivered id is kept.
func (r *Resolver) Changes() <-chan string {
	return r.changes
}

func (r *Resolver) signIn() {
	var err error
	if r.opts.CustomToken != "" {
		_, err = r.client.SignInWithCustomToken(r.ctx, r.opts.CustomToken)
	} else {
		_, err = r.client.SignInAnonymously(r.ctx)
	}
	if err != nil {
		logger.Error.Printf("Error during automated sign-in: %v", err)
	}
	r.markReady()
}

func (r *Resolver) onAuthStateChanged(cred *auth.Credential) {
	r.setUser(cred)
	if cred == nil {
		// Someone signed the user out; sign straight back in.
		logger.Warn.Println("Auth reported no user, signing in again")
		go r.signIn()
	}
	r.markReady()
}

func (r *Resolver) setUser(cred *auth.Credential) {
	r.mu.Lock()
	prev := ""
	if r.cred != nil {
		prev = r.cred.UserID
	}
	r.cred = cred
	next := ""
	if cred != nil {
		next = cred.UserID
	}
	r.mu.Unlock()

	if prev == next {
		return
	}
	select {
	case r.changes <- next:
	default:
		select {
		case <-r.changes:
		default:
		}
		select {
		case r.changes <- next:
		default:
		}
	}
}

func (r *Resolver) markReady() {
	r.readyOnce.Do(func() { close(r.ready) })
}
