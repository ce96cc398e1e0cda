package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/intermernet/climbsignups/internal/logger"
	"github.com/intermernet/climbsignups/internal/realtime"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 2048
)

// wsSink writes events as realtime.Message JSON frames. gorilla/websocket
// allows one concurrent writer, hence the mutex.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) send(event string, data []byte) error {
	frame, err := json.Marshal(realtime.Message{Type: event, Payload: data})
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *wsSink) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

// clientFrame is what the browser sends back over the socket.
type clientFrame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	OK   bool   `json:"ok,omitempty"`
}

func (s *Server) upgrader() *websocket.Upgrader {
	origin := s.config.OriginURL()
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			o := r.Header.Get("Origin")
			return o == "" || o == origin
		},
	}
}

// handleAppSocket is the live main-app view over a WebSocket. Besides the
// server events it accepts `{"type":"confirm","id":...,"ok":...}` answers
// and `{"type":"signout"}`.
func (s *Server) handleAppSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		logger.Error.Printf("WebSocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := &wsSink{conn: conn}
	us := s.newUserStream(r, sink)
	go s.readFrames(ctx, cancel, conn, us)

	if err := us.run(ctx); err != nil {
		logger.Warn.Printf("App socket ended: %v", err)
	}
	sink.mu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	sink.mu.Unlock()
}

// readFrames handles inbound frames and cancels the stream when the
// connection drops.
func (s *Server) readFrames(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, us *userStream) {
	defer cancel()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn.Printf("WebSocket read error from %v: %v", conn.RemoteAddr(), err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var frame clientFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			logger.Warn.Printf("Invalid JSON from %v: %v", conn.RemoteAddr(), err)
			continue
		}
		switch frame.Type {
		case "confirm":
			if err := us.answer(frame.ID, frame.OK); err != nil && !errors.Is(err, errNoUser) {
				logger.Warn.Printf("Could not answer confirmation %s: %v", frame.ID, err)
			}
		case "signout":
			us.signOut()
		default:
			logger.Debug.Printf("Ignoring frame type %q", frame.Type)
		}
	}
}
