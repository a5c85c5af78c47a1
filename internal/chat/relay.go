// Package chat is the real-time messaging relay: one websocket session per
// connected user, routed onto the conversation and message store.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gopikiran22001/ReWear/internal/apperr"
	"github.com/gopikiran22001/ReWear/internal/auth"
)

// Inbound event types.
const (
	TypeSendMessage      = "SEND_MESSAGE"
	TypeMarkSeen         = "MARK_SEEN"
	TypeGetMessages      = "GET_MESSAGES"
	TypeGetConversations = "GET_CONVERSATIONS"
	TypeGetConversation  = "GET_CONVERSATION"
	TypePing             = "PING"
)

// Outbound event types.
const (
	TypeMessageSent        = "MESSAGE_SENT"
	TypeNewMessage         = "NEW_MESSAGE"
	TypeSeenConfirmed      = "SEEN_CONFIRMED"
	TypeMessagesHistory    = "MESSAGES_HISTORY"
	TypeConversationsList  = "CONVERSATIONS_LIST"
	TypeSingleConversation = "SINGLE_CONVERSATION"
	TypePong               = "PONG"
	TypeError              = "ERROR"
)

const (
	// maxFrameSize only stops abusive frames; oversized messages below it
	// are rejected by the store with an ERROR event.
	maxFrameSize = 1 << 20
	genericError   = "Something went wrong"
)

// Envelope is the wire frame in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type outbound struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type Options struct {
	StoreTimeout   time.Duration
	WriteTimeout   time.Duration
	PongWait       time.Duration
	AllowedOrigins []string
	// Issuer, when set, requires a session cookie presented on the upgrade
	// request to name the same user as the userId parameter.
	Issuer *auth.Issuer
}

func (o *Options) defaults() {
	if o.StoreTimeout <= 0 {
		o.StoreTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
}

// Relay accepts websocket connections and serves the chat protocol.
type Relay struct {
	store    *Store
	users    auth.Resolver
	dir      Directory
	log      *slog.Logger
	opts     Options
	upgrader websocket.Upgrader
}

func NewRelay(store *Store, users auth.Resolver, dir Directory, log *slog.Logger, opts Options) *Relay {
	opts.defaults()
	r := &Relay{store: store, users: users, dir: dir, log: log, opts: opts}
	r.upgrader = websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if len(opts.AllowedOrigins) > 0 {
		allowed := slices.Clone(opts.AllowedOrigins)
		r.upgrader.CheckOrigin = func(req *http.Request) bool {
			return slices.Contains(allowed, req.Header.Get("Origin"))
		}
	}
	return r
}

// ServeHTTP upgrades the connection, resolves the userId query parameter
// and runs the session until the peer goes away.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", "error", err, "origin", req.Header.Get("Origin"))
		return
	}

	userID, err := r.identify(req)
	if err != nil {
		r.log.Info("websocket rejected", "error", err)
		deadline := time.Now().Add(r.opts.WriteTimeout)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown user"), deadline)
		_ = conn.Close()
		return
	}

	s := &session{relay: r, conn: conn, userID: userID, done: make(chan struct{})}
	r.dir.Register(userID, s)
	r.log.Info("chat connected", "user_id", userID)
	defer func() {
		r.dir.Deregister(userID, s)
		_ = conn.Close()
		r.log.Info("chat disconnected", "user_id", userID)
	}()
	s.run()
}

func (r *Relay) identify(req *http.Request) (string, error) {
	userID := req.URL.Query().Get("userId")
	if userID == "" {
		return "", errors.New("missing userId")
	}
	if r.opts.Issuer != nil {
		if c, err := req.Cookie(auth.CookieName); err == nil && c.Value != "" {
			p, err := r.opts.Issuer.Parse(c.Value)
			if err != nil {
				return "", err
			}
			if p.UserID != userID {
				return "", errors.New("session does not match userId")
			}
		}
	}
	ctx, cancel := context.WithTimeout(req.Context(), r.opts.StoreTimeout)
	defer cancel()
	p, err := r.users.Principal(ctx, userID)
	if err != nil {
		return "", err
	}
	return p.UserID, nil
}

type session struct {
	relay  *Relay
	conn   *websocket.Conn
	userID string

	writeMu sync.Mutex
	done    chan struct{}
}

// Send writes one event. Safe for concurrent use; each write is bounded by
// the write timeout.
func (s *session) Send(eventType string, payload any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.relay.opts.WriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(outbound{Type: eventType, Payload: payload})
}

func (s *session) run() {
	opts := s.relay.opts
	s.conn.SetReadLimit(maxFrameSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	go s.keepalive(opts.PongWait * 9 / 10)
	defer close(s.done)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.relay.log.Debug("chat read ended", "user_id", s.userID, "error", err)
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(opts.PongWait))
		s.dispatch(raw)
	}
}

func (s *session) keepalive(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.relay.opts.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// dispatch handles one inbound frame. Failures, including panics, are
// reported to this session only and never end it.
func (s *session) dispatch(raw []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			s.relay.log.Error("chat handler panic", "user_id", s.userID, "panic", fmt.Sprint(rec))
			s.reply(TypeError, genericError)
		}
	}()

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.reply(TypeError, "malformed message")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.relay.opts.StoreTimeout)
	defer cancel()
	if err := s.route(ctx, env); err != nil {
		if appErr, ok := apperr.As(err); ok {
			s.reply(TypeError, appErr.Message)
			return
		}
		s.relay.log.Error("chat handler failed", "user_id", s.userID, "type", env.Type, "error", err)
		s.reply(TypeError, genericError)
	}
}

func (s *session) reply(eventType string, payload any) {
	if err := s.Send(eventType, payload); err != nil {
		s.relay.log.Debug("chat write failed", "user_id", s.userID, "error", err)
	}
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		return apperr.Validation("missing payload")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return apperr.Validation("malformed payload")
	}
	return nil
}

func (s *session) route(ctx context.Context, env Envelope) error {
	store := s.relay.store

	switch env.Type {
	case TypeSendMessage:
		var p struct {
			ConversationID string `json:"conversationId"`
			Text           string `json:"text"`
		}
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		msg, recipientID, err := store.Send(ctx, s.userID, p.ConversationID, p.Text)
		if err != nil {
			return err
		}
		s.reply(TypeMessageSent, map[string]string{"messageId": msg.ID, "conversationId": msg.ConversationID})
		if peer, ok := s.relay.dir.Lookup(recipientID); ok {
			if err := peer.Send(TypeNewMessage, msg); err != nil {
				s.relay.log.Warn("chat delivery failed", "user_id", recipientID, "message_id", msg.ID, "error", err)
			}
		}
		return nil

	case TypeMarkSeen:
		var p struct {
			MessageID string `json:"messageId"`
		}
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		if err := store.MarkSeen(ctx, s.userID, p.MessageID); err != nil {
			return err
		}
		s.reply(TypeSeenConfirmed, map[string]string{"messageId": p.MessageID})
		return nil

	case TypeGetMessages:
		var p struct {
			ConversationID string `json:"conversationId"`
		}
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		msgs, err := store.Messages(ctx, s.userID, p.ConversationID)
		if err != nil {
			return err
		}
		s.reply(TypeMessagesHistory, map[string]any{"conversationId": p.ConversationID, "messages": msgs})
		return nil

	case TypeGetConversations:
		convs, err := store.Conversations(ctx, s.userID)
		if err != nil {
			return err
		}
		s.reply(TypeConversationsList, map[string]any{"conversations": convs})
		return nil

	case TypeGetConversation:
		var p struct {
			ReceiverID string `json:"receiverId"`
			ProductID  string `json:"productId"`
		}
		if err := decode(env.Payload, &p); err != nil {
			return err
		}
		sum, err := store.Open(ctx, s.userID, p.ReceiverID, p.ProductID)
		if err != nil {
			return err
		}
		s.reply(TypeSingleConversation, sum)
		return nil

	case TypePing:
		s.reply(TypePong, nil)
		return nil

	default:
		return apperr.Validation("unknown message type %q", env.Type)
	}
}
