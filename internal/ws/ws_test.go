package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"pulse-server/internal/auth"
	"pulse-server/internal/registry"
	"pulse-server/internal/store"
)

type fakeIdentityStore struct {
	users map[uuid.UUID]*store.User
}

func (f *fakeIdentityStore) UserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

type wsTestEnv struct {
	server   *httptest.Server
	tokens   *auth.Tokens
	sessions *registry.Registry
	userID   uuid.UUID
}

func setupWSTestEnv(t *testing.T) wsTestEnv {
	t.Helper()

	userID := uuid.New()
	users := &fakeIdentityStore{users: map[uuid.UUID]*store.User{
		userID: {ID: userID, Username: "alice"},
	}}

	tokens := auth.NewTokens("test-secret")
	sessions := registry.New()
	server := httptest.NewServer(NewHandler(tokens, users, sessions))
	t.Cleanup(server.Close)

	return wsTestEnv{server: server, tokens: tokens, sessions: sessions, userID: userID}
}

func (env wsTestEnv) wsURL(token string) string {
	u := "ws" + strings.TrimPrefix(env.server.URL, "http")
	if token != "" {
		u += "?token=" + token
	}
	return u
}

func (env wsTestEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	token, err := env.tokens.Issue(env.userID, "alice")
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL(token), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForCount(t *testing.T, sessions *registry.Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sessions.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("session count never reached %d, have %d", want, sessions.Count())
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &msg))
	return msg
}

func TestHandlerRejectsMissingToken(t *testing.T) {
	env := setupWSTestEnv(t)
	resp, err := http.Get(env.server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerRejectsInvalidToken(t *testing.T) {
	env := setupWSTestEnv(t)
	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL("garbage"), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerRejectsUnknownUser(t *testing.T) {
	env := setupWSTestEnv(t)
	token, err := env.tokens.Issue(uuid.New(), "ghost")
	require.NoError(t, err)

	_, resp, err := websocket.DefaultDialer.Dial(env.wsURL(token), nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConnectAnnouncesPresence(t *testing.T) {
	env := setupWSTestEnv(t)
	conn := env.dial(t)

	msg := readEvent(t, conn)
	require.Equal(t, "UPDATE_USERS", msg["message_type"])
	require.Equal(t, 1, env.sessions.Count())
}

func TestBroadcastReachesClient(t *testing.T) {
	env := setupWSTestEnv(t)
	conn := env.dial(t)

	// Drain the presence update from connecting.
	readEvent(t, conn)

	env.sessions.Broadcast([]uuid.UUID{env.userID}, []byte(`{"message_type":"UPDATE_STATUS"}`))
	msg := readEvent(t, conn)
	require.Equal(t, "UPDATE_STATUS", msg["message_type"])
}

func TestDisconnectDeregisters(t *testing.T) {
	env := setupWSTestEnv(t)
	conn := env.dial(t)
	waitForCount(t, env.sessions, 1)

	conn.Close()
	waitForCount(t, env.sessions, 0)
}
