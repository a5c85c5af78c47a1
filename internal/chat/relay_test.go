package chat

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/gopikiran22001/ReWear/internal/catalog"
	"github.com/gopikiran22001/ReWear/internal/logging"
	"github.com/gopikiran22001/ReWear/internal/testutil"
	"github.com/gopikiran22001/ReWear/internal/users"
)

func startRelay(t *testing.T) (*httptest.Server, *gorm.DB) {
	t.Helper()
	db := testutil.NewDB(t)
	log := logging.Discard()
	store := NewStore(db, catalog.NewService(db, nil, log))
	relay := NewRelay(store, users.NewService(db, log, 0), NewMemoryDirectory(), log, Options{
		StoreTimeout: 2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	srv := httptest.NewServer(relay)
	t.Cleanup(srv.Close)
	return srv, db
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?userId=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType string, payload any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{"type": eventType, "payload": payload}))
}

// expect reads the next frame and checks its type.
func expect(t *testing.T, conn *websocket.Conn, eventType string) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	require.Equal(t, eventType, env.Type, "payload: %s", env.Payload)
	return env.Payload
}

// ready round-trips a ping so the session is known to be registered.
func ready(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, TypePing, nil)
	expect(t, conn, TypePong)
}

func TestRelayClosesUnknownUser(t *testing.T) {
	srv, _ := startRelay(t)
	conn := dial(t, srv, "nobody")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestRelayMessageFlow(t *testing.T) {
	srv, db := startRelay(t)
	alice := testutil.CreateUser(t, db, "Alice", 0)
	bob := testutil.CreateUser(t, db, "Bob", 0)
	jacket := testutil.CreateProduct(t, db, bob, "Jacket", 20)

	a := dial(t, srv, alice.ID)
	b := dial(t, srv, bob.ID)
	ready(t, a)
	ready(t, b)

	send(t, a, TypeGetConversation, map[string]string{"productId": jacket.ID})
	var conv Summary
	require.NoError(t, json.Unmarshal(expect(t, a, TypeSingleConversation), &conv))
	require.Equal(t, bob.ID, conv.Receiver.ID)

	send(t, a, TypeSendMessage, map[string]string{"conversationId": conv.ID, "text": "Hi Bob"})
	var sent map[string]string
	require.NoError(t, json.Unmarshal(expect(t, a, TypeMessageSent), &sent))
	require.Equal(t, conv.ID, sent["conversationId"])

	var delivered struct {
		ID     string `json:"id"`
		Sender string `json:"sender"`
		Text   string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(expect(t, b, TypeNewMessage), &delivered))
	require.Equal(t, sent["messageId"], delivered.ID)
	require.Equal(t, alice.ID, delivered.Sender)
	require.Equal(t, "Hi Bob", delivered.Text)

	send(t, b, TypeMarkSeen, map[string]string{"messageId": delivered.ID})
	expect(t, b, TypeSeenConfirmed)

	send(t, b, TypeGetMessages, map[string]string{"conversationId": conv.ID})
	var history struct {
		Messages []struct {
			ID     string   `json:"id"`
			SeenBy []string `json:"seenBy"`
		} `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(expect(t, b, TypeMessagesHistory), &history))
	require.Len(t, history.Messages, 1)
	require.Equal(t, []string{bob.ID}, history.Messages[0].SeenBy)

	send(t, b, TypeGetConversations, nil)
	var list struct {
		Conversations []Summary `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(expect(t, b, TypeConversationsList), &list))
	require.Len(t, list.Conversations, 1)
	require.Equal(t, alice.ID, list.Conversations[0].Receiver.ID)
	require.Equal(t, "Hi Bob", list.Conversations[0].LastMessage.Text)
}

func TestRelayErrorsKeepConnectionOpen(t *testing.T) {
	srv, db := startRelay(t)
	alice := testutil.CreateUser(t, db, "Alice", 0)
	bob := testutil.CreateUser(t, db, "Bob", 0)
	eve := testutil.CreateUser(t, db, "Eve", 0)

	a := dial(t, srv, alice.ID)
	e := dial(t, srv, eve.ID)
	ready(t, e)

	require.NoError(t, e.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var msg string
	require.NoError(t, json.Unmarshal(expect(t, e, TypeError), &msg))
	require.Equal(t, "malformed message", msg)

	send(t, e, "DANCE", nil)
	expect(t, e, TypeError)

	send(t, a, TypeGetConversation, map[string]string{"receiverId": bob.ID})
	var conv Summary
	require.NoError(t, json.Unmarshal(expect(t, a, TypeSingleConversation), &conv))

	send(t, e, TypeGetMessages, map[string]string{"conversationId": conv.ID})
	require.NoError(t, json.Unmarshal(expect(t, e, TypeError), &msg))
	require.Equal(t, "unauthorized access to conversation", msg)

	send(t, a, TypeGetConversation, map[string]string{"receiverId": alice.ID})
	require.NoError(t, json.Unmarshal(expect(t, a, TypeError), &msg))
	require.Equal(t, "invalid receiver", msg)

	// Offline receivers still get the message persisted.
	send(t, a, TypeSendMessage, map[string]string{"conversationId": conv.ID, "text": "are you there?"})
	expect(t, a, TypeMessageSent)

	ready(t, e)
	ready(t, a)
}

func TestRelayOversizedMessageReportsError(t *testing.T) {
	srv, db := startRelay(t)
	alice := testutil.CreateUser(t, db, "Alice", 0)
	bob := testutil.CreateUser(t, db, "Bob", 0)

	a := dial(t, srv, alice.ID)
	ready(t, a)

	send(t, a, TypeGetConversation, map[string]string{"receiverId": bob.ID})
	var conv Summary
	require.NoError(t, json.Unmarshal(expect(t, a, TypeSingleConversation), &conv))

	send(t, a, TypeSendMessage, map[string]string{"conversationId": conv.ID, "text": strings.Repeat("x", 70<<10)})
	var msg string
	require.NoError(t, json.Unmarshal(expect(t, a, TypeError), &msg))
	require.Contains(t, msg, "message exceeds")

	ready(t, a)
}

func TestRelayLatestConnectionReceivesMessages(t *testing.T) {
	srv, db := startRelay(t)
	alice := testutil.CreateUser(t, db, "Alice", 0)
	bob := testutil.CreateUser(t, db, "Bob", 0)

	a := dial(t, srv, alice.ID)
	oldB := dial(t, srv, bob.ID)
	ready(t, oldB)
	newB := dial(t, srv, bob.ID)
	ready(t, newB)
	ready(t, a)

	// Closing the replaced connection must not deregister the current one.
	require.NoError(t, oldB.Close())
	time.Sleep(100 * time.Millisecond)
	ready(t, newB)

	send(t, a, TypeGetConversation, map[string]string{"receiverId": bob.ID})
	var conv Summary
	require.NoError(t, json.Unmarshal(expect(t, a, TypeSingleConversation), &conv))

	send(t, a, TypeSendMessage, map[string]string{"conversationId": conv.ID, "text": "still there?"})
	expect(t, a, TypeMessageSent)

	var delivered struct {
		Text string `json:"text"`
	}
	require.NoError(t, json.Unmarshal(expect(t, newB, TypeNewMessage), &delivered))
	require.Equal(t, "still there?", delivered.Text)
}
