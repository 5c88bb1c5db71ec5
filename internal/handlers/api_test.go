package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	_ "modernc.org/sqlite"

	"pulse-server/internal/access"
	"pulse-server/internal/auth"
	"pulse-server/internal/fanout"
	"pulse-server/internal/middleware"
	"pulse-server/internal/registry"
	"pulse-server/internal/store"
)

const testClientSecret = "svc-secret"

type fakeSession struct {
	userID uuid.UUID

	mu       sync.Mutex
	payloads [][]byte
}

func (s *fakeSession) UserID() uuid.UUID { return s.userID }

func (s *fakeSession) Enqueue(payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, payload)
	return true
}

func (s *fakeSession) Close() {}

// receivedType reports whether any received payload carries the given
// message_type.
func (s *fakeSession) receivedType(t *testing.T, messageType string) bool {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, payload := range s.payloads {
		var msg map[string]interface{}
		require.NoError(t, json.Unmarshal(payload, &msg))
		if msg["message_type"] == messageType {
			return true
		}
	}
	return false
}

type apiTestEnv struct {
	api      *API
	tokens   *auth.Tokens
	store    *store.Store
	sessions *registry.Registry

	org       uuid.UUID
	channelID uuid.UUID
	author    uuid.UUID
	reader    uuid.UUID
	outsider  uuid.UUID
	manager   uuid.UUID
}

func setupAPITestEnv(t *testing.T) *apiTestEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: ":memory:"}, &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(store.Models()...))

	st := store.New(db)
	sessions := registry.New()
	resolver := access.NewResolver(st, testClientSecret)
	engine := fanout.NewEngine(st, sessions, resolver)
	tokens := auth.NewTokens("test-secret")

	env := &apiTestEnv{
		api:      NewAPI(st, sessions, engine, resolver),
		tokens:   tokens,
		store:    st,
		sessions: sessions,
		org:      uuid.New(),
	}

	require.NoError(t, db.Create(&store.Organization{ID: env.org, Name: "acme"}).Error)

	writerRole := uuid.New()
	readerRole := uuid.New()
	managerRole := uuid.New()
	for _, role := range []store.Role{
		{ID: writerRole, Name: "member", OrganizationID: env.org},
		{ID: readerRole, Name: "observer", OrganizationID: env.org},
		{ID: managerRole, Name: "moderator", ManageChannels: true, OrganizationID: env.org},
	} {
		require.NoError(t, db.Create(&role).Error)
	}

	env.channelID = uuid.New()
	require.NoError(t, db.Create(&store.Channel{ID: env.channelID, Name: "general", OrganizationID: env.org}).Error)
	require.NoError(t, db.Create(&store.ChannelRoleAccess{
		ID: uuid.New(), ChannelID: env.channelID, RoleID: writerRole, CanRead: true, CanWrite: true,
	}).Error)
	require.NoError(t, db.Create(&store.ChannelRoleAccess{
		ID: uuid.New(), ChannelID: env.channelID, RoleID: readerRole, CanRead: true,
	}).Error)

	env.author = seedAPIUser(t, db, env.org, "author", writerRole)
	env.reader = seedAPIUser(t, db, env.org, "reader", readerRole)
	env.outsider = seedAPIUser(t, db, env.org, "outsider", uuid.Nil)
	env.manager = seedAPIUser(t, db, env.org, "manager", managerRole)

	return env
}

func seedAPIUser(t *testing.T, db *gorm.DB, orgID uuid.UUID, username string, roleID uuid.UUID) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, db.Create(&store.User{ID: id, Username: username, OrganizationID: orgID}).Error)
	if roleID != uuid.Nil {
		require.NoError(t, db.Create(&store.UserRoleAccess{ID: uuid.New(), UserID: id, RoleID: roleID}).Error)
	}
	return id
}

// do routes a request through the auth middleware as the given user.
func (env *apiTestEnv) do(t *testing.T, userID uuid.UUID, handler http.HandlerFunc, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	token, err := env.tokens.Issue(userID, "test")
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	w := httptest.NewRecorder()
	middleware.RequireAuth(env.tokens)(handler)(w, req)
	return w
}

func TestSendMessageToChannel(t *testing.T) {
	env := setupAPITestEnv(t)

	listener := &fakeSession{userID: env.reader}
	env.sessions.Add(listener)

	w := env.do(t, env.author, env.api.SendMessage, http.MethodPost, "/messages/send", map[string]interface{}{
		"content":        "hello channel",
		"recipient_type": "CHANNEL",
		"reference_id":   env.channelID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var dto map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dto))
	require.Equal(t, "MESSAGE", dto["message_type"])
	require.Equal(t, "hello channel", dto["content"])

	require.True(t, listener.receivedType(t, "MESSAGE"))
}

func TestSendMessageWithoutWriteGrant(t *testing.T) {
	env := setupAPITestEnv(t)

	w := env.do(t, env.reader, env.api.SendMessage, http.MethodPost, "/messages/send", map[string]interface{}{
		"content":        "sneaky",
		"recipient_type": "CHANNEL",
		"reference_id":   env.channelID,
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	msgs, err := env.store.MessagePage(context.Background(), env.reader, store.RecipientChannel, env.channelID, 1, 10)
	require.NoError(t, err)
	require.Empty(t, msgs, "a rejected send must not be persisted")
}

func TestSendDirectMessage(t *testing.T) {
	env := setupAPITestEnv(t)

	peer := &fakeSession{userID: env.reader}
	env.sessions.Add(peer)

	w := env.do(t, env.author, env.api.SendMessage, http.MethodPost, "/messages/send", map[string]interface{}{
		"content":        "psst",
		"recipient_type": "USER",
		"reference_id":   env.reader,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, peer.receivedType(t, "MESSAGE"))
}

func TestEditMessageByNonAuthor(t *testing.T) {
	env := setupAPITestEnv(t)

	msg, err := env.store.CreateMessage(context.Background(), env.author, "original", store.RecipientChannel, env.channelID)
	require.NoError(t, err)

	w := env.do(t, env.reader, env.api.EditMessage, http.MethodPost, "/messages/edit", map[string]interface{}{
		"id":      msg.ID,
		"content": "hijacked",
	})
	require.Equal(t, http.StatusForbidden, w.Code)

	got, err := env.store.MessageByID(context.Background(), msg.ID)
	require.NoError(t, err)
	require.Equal(t, "original", got.Content)
}

func TestEditMessageByAuthor(t *testing.T) {
	env := setupAPITestEnv(t)

	msg, err := env.store.CreateMessage(context.Background(), env.author, "original", store.RecipientChannel, env.channelID)
	require.NoError(t, err)

	w := env.do(t, env.author, env.api.EditMessage, http.MethodPost, "/messages/edit", map[string]interface{}{
		"id":      msg.ID,
		"content": "fixed typo",
	})
	require.Equal(t, http.StatusOK, w.Code)

	got, err := env.store.MessageByID(context.Background(), msg.ID)
	require.NoError(t, err)
	require.Equal(t, "fixed typo", got.Content)
}

func TestDeleteMessageByChannelManager(t *testing.T) {
	env := setupAPITestEnv(t)

	msg, err := env.store.CreateMessage(context.Background(), env.author, "offensive", store.RecipientChannel, env.channelID)
	require.NoError(t, err)

	w := env.do(t, env.manager, env.api.DeleteMessage, http.MethodPost, "/messages/delete", map[string]interface{}{
		"id": msg.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var dto map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dto))
	require.Equal(t, "DELETE_MESSAGE", dto["message_type"])
	require.Equal(t, "DELETED", dto["content"])

	_, err = env.store.MessageByID(context.Background(), msg.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteMessageByBystander(t *testing.T) {
	env := setupAPITestEnv(t)

	msg, err := env.store.CreateMessage(context.Background(), env.author, "mine", store.RecipientChannel, env.channelID)
	require.NoError(t, err)

	w := env.do(t, env.reader, env.api.DeleteMessage, http.MethodPost, "/messages/delete", map[string]interface{}{
		"id": msg.ID,
	})
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestGetMessagesRequiresChannelAccess(t *testing.T) {
	env := setupAPITestEnv(t)

	_, err := env.store.CreateMessage(context.Background(), env.author, "hi", store.RecipientChannel, env.channelID)
	require.NoError(t, err)

	w := env.do(t, env.outsider, env.api.GetMessages, http.MethodGet,
		"/messages?recipient_type=CHANNEL&reference_id="+env.channelID.String(), nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, env.reader, env.api.GetMessages, http.MethodGet,
		"/messages?recipient_type=CHANNEL&reference_id="+env.channelID.String(), nil)
	require.Equal(t, http.StatusOK, w.Code)

	var msgs []map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
}

func TestTypingChannelFanout(t *testing.T) {
	env := setupAPITestEnv(t)

	listener := &fakeSession{userID: env.reader}
	env.sessions.Add(listener)

	w := env.do(t, env.author, env.api.Typing, http.MethodPost, "/presence/typing", map[string]interface{}{
		"recipient_type": "CHANNEL",
		"reference_id":   env.channelID,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, listener.receivedType(t, "TYPING"))
}

func TestTypingDirectReachesPeerOnly(t *testing.T) {
	env := setupAPITestEnv(t)

	peer := &fakeSession{userID: env.reader}
	bystander := &fakeSession{userID: env.manager}
	env.sessions.Add(peer)
	env.sessions.Add(bystander)

	w := env.do(t, env.author, env.api.Typing, http.MethodPost, "/presence/typing", map[string]interface{}{
		"recipient_type": "USER",
		"reference_id":   env.reader,
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, peer.receivedType(t, "TYPING"))
	require.False(t, bystander.receivedType(t, "TYPING"))
}

func TestGetConnectedFiltersByOrganization(t *testing.T) {
	env := setupAPITestEnv(t)

	foreignOrg := uuid.New()
	require.NoError(t, env.store.DB().Create(&store.Organization{ID: foreignOrg, Name: "other"}).Error)
	foreigner := seedAPIUser(t, env.store.DB(), foreignOrg, "foreigner", uuid.Nil)

	env.sessions.Add(&fakeSession{userID: env.reader})
	env.sessions.Add(&fakeSession{userID: foreigner})

	w := env.do(t, env.author, env.api.GetConnected, http.MethodGet, "/presence/connected", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var ids []uuid.UUID
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ids))
	require.Equal(t, []uuid.UUID{env.reader}, ids)
}

func TestNotifyChannelEndpoint(t *testing.T) {
	env := setupAPITestEnv(t)

	listener := &fakeSession{userID: env.reader}
	env.sessions.Add(listener)

	body, err := json.Marshal(map[string]interface{}{"channel_id": env.channelID})
	require.NoError(t, err)

	guarded := middleware.RequireClientSecret(testClientSecret)(env.api.NotifyChannel)

	// Without the credential the endpoint is closed.
	req := httptest.NewRequest(http.MethodPost, "/events/channel", bytes.NewReader(body))
	w := httptest.NewRecorder()
	guarded(w, req)
	require.Equal(t, http.StatusForbidden, w.Code)
	require.False(t, listener.receivedType(t, "UPDATE_STATUS"))

	req = httptest.NewRequest(http.MethodPost, "/events/channel", bytes.NewReader(body))
	req.Header.Set("Client-Secret", testClientSecret)
	w = httptest.NewRecorder()
	guarded(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, listener.receivedType(t, "UPDATE_STATUS"))
}

func TestIssueTokenEndpoint(t *testing.T) {
	env := setupAPITestEnv(t)

	body, err := json.Marshal(map[string]interface{}{"user_id": env.author})
	require.NoError(t, err)

	guarded := middleware.RequireClientSecret(testClientSecret)(env.api.IssueToken(env.tokens))

	req := httptest.NewRequest(http.MethodPost, "/auth/token", bytes.NewReader(body))
	req.Header.Set("Client-Secret", testClientSecret)
	w := httptest.NewRecorder()
	guarded(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	userID, err := env.tokens.Parse(resp.Token)
	require.NoError(t, err)
	require.Equal(t, env.author, userID)
}

func TestMarkSeen(t *testing.T) {
	env := setupAPITestEnv(t)

	msg, err := env.store.CreateMessage(context.Background(), env.author, "hi", store.RecipientChannel, env.channelID)
	require.NoError(t, err)

	w := env.do(t, env.reader, env.api.MarkSeen, http.MethodPost, "/messages/seen", map[string]interface{}{
		"message_id": msg.ID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, env.reader, env.api.MarkSeen, http.MethodPost, "/messages/seen", map[string]interface{}{
		"message_id": uuid.New(),
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}
