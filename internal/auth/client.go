package auth

import (
	"context"
	"sync"
)

// Provider is the part of Service a Client signs in through.
type Provider interface {
	SignInAnonymously(ctx context.Context) (Credential, error)
	SignInWithCustomToken(ctx context.Context, customToken string) (Credential, error)
}

// Client holds the auth state of one connection and tells listeners when
// the signed-in user changes. A nil credential means "no user".
type Client struct {
	provider Provider

	mu        sync.Mutex
	current   *Credential
	listeners map[int]func(*Credential)
	nextID    int
}

// NewClient creates a Client with no user.
func NewClient(provider Provider) *Client {
	return &Client{
		provider:  provider,
		listeners: make(map[int]func(*Credential)),
	}
}

// CurrentUser returns the signed-in user, or nil.
func (c *Client) CurrentUser() *Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	cred := *c.current
	return &cred
}

// Restore installs a credential the caller already verified, such as a
// session token presented by the browser. Listeners are not notified.
func (c *Client) Restore(cred Credential) {
	c.mu.Lock()
	c.current = &cred
	c.mu.Unlock()
}

// SignInAnonymously signs in as a new anonymous user.
func (c *Client) SignInAnonymously(ctx context.Context) (Credential, error) {
	cred, err := c.provider.SignInAnonymously(ctx)
	if err != nil {
		return Credential{}, err
	}
	c.set(&cred)
	return cred, nil
}

// SignInWithCustomToken signs in as the user named by a custom token.
func (c *Client) SignInWithCustomToken(ctx context.Context, customToken string) (Credential, error) {
	cred, err := c.provider.SignInWithCustomToken(ctx, customToken)
	if err != nil {
		return Credential{}, err
	}
	c.set(&cred)
	return cred, nil
}

// SignOut drops the current user.
func (c *Client) SignOut() {
	c.set(nil)
}

// OnAuthStateChanged registers fn to be called after every sign-in or
// sign-out. The returned function unregisters it.
func (c *Client) OnAuthStateChanged(fn func(*Credential)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *Client) set(cred *Credential) {
	c.mu.Lock()
	c.current = cred
	fns := make([]func(*Credential), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		if cred == nil {
			fn(nil)
			continue
		}
		copied := *cred
		fn(&copied)
	}
}
