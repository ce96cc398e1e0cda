package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/intermernet/climbsignups/internal/app"
	"github.com/intermernet/climbsignups/internal/auth"
	"github.com/intermernet/climbsignups/internal/identity"
	"github.com/intermernet/climbsignups/internal/logger"
	"github.com/intermernet/climbsignups/internal/realtime"
)

// keepAlive is how often an idle stream is pinged.
const keepAlive = 25 * time.Second

// EventAuth tells the client who it is now signed in as.
const EventAuth = "auth"

var errNoUser = errors.New("no signed-in user")

// eventSink writes named events to one client connection.
type eventSink interface {
	send(event string, data []byte) error
	ping() error
}

type authEvent struct {
	UserID     string           `json:"userId"`
	Credential *auth.Credential `json:"credential"`
}

// userStream follows the identity of one connection and forwards the
// events of that user's view machines to it.
type userStream struct {
	s        *Server
	client   *auth.Client
	resolver *identity.Resolver
	sink     eventSink

	mu      sync.Mutex
	userID  string
	session *app.Session
	subID   uint64
	events  <-chan realtime.Message
}

// newUserStream prepares the identity of a connection. A valid session
// token restores that user; otherwise the resolver signs in with the
// `custom_token` query parameter or anonymously.
func (s *Server) newUserStream(r *http.Request, sink eventSink) *userStream {
	client := auth.NewClient(s.auth)
	if token := bearerToken(r); token != "" {
		if cred, err := s.auth.Verify(token); err == nil {
			client.Restore(cred)
		} else {
			logger.Info.Printf("Ignoring stale session token: %v", err)
		}
	}
	query := r.URL.Query()
	resolver := identity.NewResolver(client, identity.Options{
		PublicRoute: app.ParseRoute(query).Public(),
		CustomToken: query.Get("custom_token"),
	})
	return &userStream{s: s, client: client, resolver: resolver, sink: sink}
}

// run streams until ctx is done or the client goes away.
func (us *userStream) run(ctx context.Context) error {
	us.resolver.Start(ctx)
	defer us.resolver.Close()
	defer us.detach()

	select {
	case <-us.resolver.Ready():
	case <-ctx.Done():
		return nil
	}
	if err := us.switchTo(ctx, us.resolver.UserID()); err != nil {
		return err
	}

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case uid := <-us.resolver.Changes():
			if uid == us.currentUserID() {
				continue
			}
			if err := us.switchTo(ctx, uid); err != nil {
				return err
			}
		case msg, ok := <-us.currentEvents():
			if !ok {
				return errors.New("event subscription closed")
			}
			if err := us.sink.send(msg.Type, msg.Payload); err != nil {
				return err
			}
		case <-ticker.C:
			if err := us.sink.ping(); err != nil {
				return err
			}
		}
	}
}

// switchTo moves the stream to userID: it announces the identity, mounts
// the user's views and sends the first full view.
func (us *userStream) switchTo(ctx context.Context, userID string) error {
	us.detach()

	hello, err := json.Marshal(authEvent{UserID: userID, Credential: us.resolver.Credential()})
	if err != nil {
		return err
	}
	if err := us.sink.send(EventAuth, hello); err != nil {
		return err
	}
	if userID == "" {
		return nil
	}

	id, events := us.s.broker.Subscribe(app.UserTopic(userID))
	session := us.s.hub.Acquire(userID)
	us.mu.Lock()
	us.userID, us.session, us.subID, us.events = userID, session, id, events
	us.mu.Unlock()
	logger.Debug.Printf("Stream attached to %s", userID)

	if err := session.WaitReady(ctx); err != nil {
		return err
	}
	view, err := json.Marshal(session.View())
	if err != nil {
		return err
	}
	return us.sink.send(app.EventView, view)
}

func (us *userStream) detach() {
	us.mu.Lock()
	userID, subID := us.userID, us.subID
	us.userID, us.session, us.subID, us.events = "", nil, 0, nil
	us.mu.Unlock()
	if userID == "" {
		return
	}
	us.s.broker.Unsubscribe(app.UserTopic(userID), subID)
	us.s.hub.Release(userID)
	logger.Debug.Printf("Stream detached from %s", userID)
}

func (us *userStream) currentUserID() string {
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.userID
}

func (us *userStream) currentEvents() <-chan realtime.Message {
	us.mu.Lock()
	defer us.mu.Unlock()
	return us.events
}

// answer resolves a confirmation prompt for the attached user.
func (us *userStream) answer(id string, ok bool) error {
	us.mu.Lock()
	session := us.session
	us.mu.Unlock()
	if session == nil {
		return errNoUser
	}
	return session.Answer(id, ok)
}

// signOut drops the connection's user. The resolver signs straight back
// in, so the stream moves to a fresh anonymous identity.
func (us *userStream) signOut() {
	us.client.SignOut()
}

// sseSink writes Server-Sent Events.
type sseSink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s sseSink) send(event string, data []byte) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s sseSink) ping() error {
	if _, err := fmt.Fprint(s.w, ": keep-alive\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// startSSE sets the event-stream headers and returns a sink, or nil when
// the writer cannot stream.
func (s *Server) startSSE(w http.ResponseWriter) *sseSink {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorJSON(w, fmt.Errorf("streaming unsupported"), http.StatusInternalServerError)
		return nil
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &sseSink{w: w, flusher: flusher}
}

// handleAppStream is the live main-app view over Server-Sent Events.
func (s *Server) handleAppStream(w http.ResponseWriter, r *http.Request) {
	sink := s.startSSE(w)
	if sink == nil {
		return
	}
	us := s.newUserStream(r, sink)
	if err := us.run(r.Context()); err != nil {
		logger.Warn.Printf("App stream ended: %v", err)
	}
}
