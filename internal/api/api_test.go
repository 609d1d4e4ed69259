package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/blueledger/internal/auth"
	"github.com/mmynk/blueledger/internal/mail"
	"github.com/mmynk/blueledger/internal/metrics"
	"github.com/mmynk/blueledger/internal/middleware"
	"github.com/mmynk/blueledger/internal/models"
	"github.com/mmynk/blueledger/internal/notify"
	"github.com/mmynk/blueledger/internal/realtime"
	"github.com/mmynk/blueledger/internal/service"
	"github.com/mmynk/blueledger/internal/storage/sqlite"
)

// switchPublisher forwards to the hub unless an outage is simulated.
type switchPublisher struct {
	mu     sync.Mutex
	hub    *realtime.Hub
	outage bool
}

func (p *switchPublisher) Publish(ctx context.Context, channel, event string, payload any) error {
	p.mu.Lock()
	down := p.outage
	p.mu.Unlock()
	if down {
		return errors.New("realtime transport unavailable")
	}
	return p.hub.Publish(ctx, channel, event, payload)
}

func (p *switchPublisher) setOutage(v bool) {
	p.mu.Lock()
	p.outage = v
	p.mu.Unlock()
}

type capturingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *capturingMailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
	return nil
}

func (m *capturingMailer) last() mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[len(m.sent)-1]
}

type testServer struct {
	*httptest.Server
	store      *sqlite.SQLiteStore
	publisher  *switchPublisher
	mailer     *capturingMailer
	dispatcher *notify.Dispatcher
	authorizer *realtime.ChannelAuthorizer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlite.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)

	m := metrics.New()
	authorizer := realtime.NewChannelAuthorizer("test", "channel-secret")
	hub := realtime.NewHub(authorizer, logger, realtime.WithConnectionGauge(m.WebsocketConnections()))
	publisher := &switchPublisher{hub: hub}
	mailer := &capturingMailer{}
	dispatcher := notify.NewDispatcher(publisher, mailer, logger, notify.WithRecorder(m), notify.WithTimeout(time.Second))
	notifier := notify.NewNotifier(store, dispatcher, logger)

	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	authenticator := auth.NewPasswordAuthenticator(store).WithCost(bcrypt.MinCost)

	handler := NewRouter(Deps{
		Logger:        logger,
		JWT:           jwtManager,
		Gate:          auth.NewGate(jwtManager, store),
		Metrics:       m,
		RateLimiter:   middleware.NewRateLimiter(1000, 1000, logger),
		Hub:           hub,
		Store:         store,
		AllowedOrigin: "*",
		Auth:          service.NewAuthService(authenticator, jwtManager, store, dispatcher, "http://app.test", logger),
		Users:         service.NewUserService(store, logger),
		Expenses:      service.NewExpenseService(store, notifier, logger),
		Notifications: service.NewNotificationService(store, logger),
		Friends:       service.NewFriendService(store, notifier, dispatcher, "http://app.test", logger),
		Groups:        service.NewGroupService(store, notifier, dispatcher, logger),
		Realtime:      service.NewRealtimeService(store, authorizer),
	})

	ts := &testServer{
		Server:     httptest.NewServer(handler),
		store:      store,
		publisher:  publisher,
		mailer:     mailer,
		dispatcher: dispatcher,
		authorizer: authorizer,
	}
	t.Cleanup(func() {
		ts.Close()
		dispatcher.Wait()
		hub.Close()
		store.Close()
	})
	return ts
}

type response struct {
	status int
	body   []byte
}

func (r response) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.body, v), "body: %s", r.body)
}

func (ts *testServer) do(t *testing.T, method, path, token string, body any) response {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		encoded, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return response{status: resp.StatusCode, body: data}
}

type account struct {
	id    string
	email string
	token string
}

func (ts *testServer) register(t *testing.T, name string) account {
	t.Helper()
	email := name + "@example.com"
	resp := ts.do(t, "POST", "/auth/register", "", map[string]string{
		"email": email, "displayName": name, "password": "password123",
	})
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))

	var session struct {
		User  models.User `json:"user"`
		Token string      `json:"token"`
	}
	resp.decode(t, &session)
	return account{id: session.User.ID, email: email, token: session.Token}
}

func (ts *testServer) befriend(t *testing.T, a, b account) {
	t.Helper()
	resp := ts.do(t, "POST", "/friends/requests", a.token, map[string]string{"email": b.email})
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))
	var f models.Friendship
	resp.decode(t, &f)
	resp = ts.do(t, "POST", "/friends/requests/"+f.ID+"/accept", b.token, nil)
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
}

type errorBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
	Fields []struct {
		Field string `json:"field"`
		Rule  string `json:"rule"`
	} `json:"fields"`
}

func TestCreateExpense(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")

	resp := ts.do(t, "POST", "/expenses", alice.token, `{"description":"Coffee","price":3.5,"quantity":2,"totalPrice":7}`)
	require.Equal(t, http.StatusCreated, resp.status, string(resp.body))

	var e models.Expense
	resp.decode(t, &e)
	assert.Equal(t, "Coffee", e.Description)
	assert.Equal(t, 7.0, e.TotalPrice)
	assert.Equal(t, alice.id, e.OwnerID)

	// Exactly one expense now exists, equal to the input.
	resp = ts.do(t, "GET", "/expenses", alice.token, nil)
	var list struct {
		Expenses []models.Expense `json:"expenses"`
	}
	resp.decode(t, &list)
	require.Len(t, list.Expenses, 1)
	assert.Equal(t, e.ID, list.Expenses[0].ID)
	assert.Equal(t, 3.5, list.Expenses[0].Price)
	assert.Equal(t, 2, list.Expenses[0].Quantity)
}

func TestCreateExpense_Validation(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")

	tests := []struct {
		name   string
		body   string
		fields []string
	}{
		{"every missing field is reported", `{}`, []string{"description", "price", "quantity"}},
		{"wrong types", `{"description":1,"price":"x","quantity":1.5}`, []string{"description", "price", "quantity"}},
		{"negative price", `{"description":"a","price":-1,"quantity":1}`, []string{"price"}},
		{"description too long", `{"description":"` + strings.Repeat("x", 201) + `","price":1,"quantity":1}`, []string{"description"}},
		{"total mismatch", `{"description":"a","price":2,"quantity":2,"totalPrice":5}`, []string{"totalPrice"}},
		{"bad participant id", `{"description":"a","price":2,"quantity":2,"sharedWith":["x"]}`, []string{"sharedWith"}},
		{"malformed json", `{"description":`, []string{"body"}},
		{"trailing garbage", `{"description":"a","price":1,"quantity":1}garbage`, []string{"body"}},
		{"quantity overflows", `{"description":"Big","price":1,"quantity":1e20}`, []string{"quantity"}},
		{"price too large", `{"description":"Huge","price":1e308,"quantity":10}`, []string{"price"}},
		{"total too large", `{"description":"a","price":1,"quantity":1,"totalPrice":1e300}`, []string{"totalPrice"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ts.do(t, "POST", "/expenses", alice.token, tt.body)
			require.Equal(t, http.StatusBadRequest, resp.status, string(resp.body))

			var body errorBody
			resp.decode(t, &body)
			assert.Equal(t, "validation_failed", body.Reason)
			var got []string
			for _, f := range body.Fields {
				got = append(got, f.Field)
			}
			assert.Equal(t, tt.fields, got)
		})
	}

	resp := ts.do(t, "GET", "/expenses", alice.token, nil)
	assert.JSONEq(t, `{"expenses":[]}`, string(resp.body), "no expense should have been written")
}

func TestUnauthorizedDoesNotPersist(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")

	for _, token := range []string{"", "garbage", alice.token + "x"} {
		resp := ts.do(t, "POST", "/expenses", token, `{"description":"Coffee","price":3.5,"quantity":2}`)
		require.Equal(t, http.StatusUnauthorized, resp.status)
		var body errorBody
		resp.decode(t, &body)
		assert.Equal(t, "unauthorized", body.Reason)
	}

	expenses, err := ts.store.ListExpensesForUser(context.Background(), alice.id)
	require.NoError(t, err)
	assert.Empty(t, expenses)
}

func TestDeleteExpense(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	mallory := ts.register(t, "mallory")

	t.Run("unknown id", func(t *testing.T) {
		resp := ts.do(t, "DELETE", "/expenses/"+uuid.New().String(), alice.token, nil)
		require.Equal(t, http.StatusNotFound, resp.status)
		var body errorBody
		resp.decode(t, &body)
		assert.Equal(t, "Expense not found", body.Error)
	})

	t.Run("malformed id", func(t *testing.T) {
		resp := ts.do(t, "DELETE", "/expenses/42", alice.token, nil)
		assert.Equal(t, http.StatusBadRequest, resp.status)
	})

	resp := ts.do(t, "POST", "/expenses", alice.token, `{"description":"Rent","price":500,"quantity":1}`)
	require.Equal(t, http.StatusCreated, resp.status)
	var e models.Expense
	resp.decode(t, &e)

	t.Run("non-owner is forbidden", func(t *testing.T) {
		resp := ts.do(t, "DELETE", "/expenses/"+e.ID, mallory.token, nil)
		assert.Equal(t, http.StatusForbidden, resp.status)
	})

	t.Run("owner deletes once", func(t *testing.T) {
		resp := ts.do(t, "DELETE", "/expenses/"+e.ID, alice.token, nil)
		require.Equal(t, http.StatusOK, resp.status)
		var deleted models.Expense
		resp.decode(t, &deleted)
		assert.Equal(t, e.ID, deleted.ID)
		assert.Equal(t, "Rent", deleted.Description)

		resp = ts.do(t, "DELETE", "/expenses/"+e.ID, alice.token, nil)
		assert.Equal(t, http.StatusNotFound, resp.status)
	})
}

func TestUpdateExpense(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	bob := ts.register(t, "bob")
	ts.befriend(t, alice, bob)
	// clear the friend request notification
	ts.do(t, "PATCH", "/notifications/mark-all-read", bob.token, nil)

	resp := ts.do(t, "POST", "/expenses", alice.token, `{"description":"Pizza","price":12,"quantity":1}`)
	require.Equal(t, http.StatusCreated, resp.status)
	var e models.Expense
	resp.decode(t, &e)

	resp = ts.do(t, "PATCH", "/expenses/"+e.ID, alice.token, map[string]any{"quantity": 2, "sharedWith": []string{bob.id}})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	var updated models.Expense
	resp.decode(t, &updated)
	assert.Equal(t, 24.0, updated.TotalPrice)
	assert.Equal(t, []string{bob.id}, updated.SharedWith)

	// bob can now read it and has been notified.
	resp = ts.do(t, "GET", "/expenses/"+e.ID, bob.token, nil)
	assert.Equal(t, http.StatusOK, resp.status)

	resp = ts.do(t, "GET", "/notifications?unread=true", bob.token, nil)
	var notes struct {
		Notifications []models.Notification `json:"notifications"`
		Unread        int                   `json:"unread"`
	}
	resp.decode(t, &notes)
	require.Equal(t, 1, notes.Unread)
	assert.Equal(t, models.NotificationAddedToExpense, notes.Notifications[0].Type)

	resp = ts.do(t, "PATCH", "/expenses/"+uuid.New().String(), alice.token, `{"price":1}`)
	assert.Equal(t, http.StatusNotFound, resp.status)
}

func TestMarkAllRead(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, ts.store.CreateNotification(ctx, &models.Notification{
			RecipientUserID: alice.id,
			Type:            models.NotificationGroupInvite,
		}))
	}

	resp := ts.do(t, "GET", "/notifications", alice.token, nil)
	var before struct {
		Unread int `json:"unread"`
	}
	resp.decode(t, &before)
	require.Equal(t, 3, before.Unread)

	resp = ts.do(t, "PATCH", "/notifications/mark-all-read", alice.token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.JSONEq(t, `{"success":true}`, string(resp.body))

	resp = ts.do(t, "GET", "/notifications", alice.token, nil)
	var after struct {
		Notifications []models.Notification `json:"notifications"`
		Unread        int                   `json:"unread"`
	}
	resp.decode(t, &after)
	assert.Equal(t, 0, after.Unread)
	assert.Len(t, after.Notifications, 3)

	resp = ts.do(t, "GET", "/notifications?unread=maybe", alice.token, nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestMarkRead(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	bob := ts.register(t, "bob")

	n := &models.Notification{RecipientUserID: alice.id, Type: models.NotificationFriendRequest}
	require.NoError(t, ts.store.CreateNotification(context.Background(), n))

	resp := ts.do(t, "PATCH", "/notifications/"+n.ID+"/read", bob.token, nil)
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = ts.do(t, "PATCH", "/notifications/"+n.ID+"/read", alice.token, nil)
	require.Equal(t, http.StatusOK, resp.status)
	var got models.Notification
	resp.decode(t, &got)
	assert.True(t, got.IsRead)
}

func TestPublisherOutageDoesNotChangeResponse(t *testing.T) {
	run := func(t *testing.T, outage bool) (int, map[string]any) {
		ts := newTestServer(t)
		alice := ts.register(t, "alice")
		bob := ts.register(t, "bob")
		ts.publisher.setOutage(outage)

		resp := ts.do(t, "POST", "/friends/requests", alice.token, map[string]string{"email": bob.email})
		ts.dispatcher.Wait()

		var body map[string]any
		resp.decode(t, &body)
		// ids and timestamps differ between runs
		delete(body, "id")
		delete(body, "requesterId")
		delete(body, "addresseeId")
		delete(body, "createdAt")
		delete(body, "updatedAt")

		unread, err := ts.store.CountUnread(context.Background(), bob.id)
		require.NoError(t, err)
		assert.Equal(t, 1, unread, "the notification record survives the outage")
		return resp.status, body
	}

	okStatus, okBody := run(t, false)
	downStatus, downBody := run(t, true)
	assert.Equal(t, http.StatusCreated, okStatus)
	assert.Equal(t, okStatus, downStatus)
	assert.Equal(t, okBody, downBody)
}

func TestAuthFlow(t *testing.T) {
	ts := newTestServer(t)
	dana := ts.register(t, "dana")

	resp := ts.do(t, "POST", "/auth/register", "", map[string]string{"email": "dana@example.com", "displayName": "Dana", "password": "password123"})
	assert.Equal(t, http.StatusConflict, resp.status)

	resp = ts.do(t, "POST", "/auth/login", "", map[string]string{"email": "dana@example.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.status)

	resp = ts.do(t, "POST", "/auth/login", "", map[string]string{"email": "dana@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, resp.status)

	ts.dispatcher.Wait()
	msg := ts.mailer.last()
	assert.Equal(t, "dana@example.com", msg.To)
	start := strings.Index(msg.Body, "http://app.test/auth/verify?token=")
	require.GreaterOrEqual(t, start, 0, msg.Body)
	link, err := url.Parse(strings.Fields(msg.Body[start:])[0])
	require.NoError(t, err)

	resp = ts.do(t, "GET", "/auth/verify?token="+url.QueryEscape(link.Query().Get("token")), "", nil)
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))

	resp = ts.do(t, "GET", "/me", dana.token, nil)
	var me models.User
	resp.decode(t, &me)
	assert.True(t, me.EmailVerified)

	resp = ts.do(t, "PATCH", "/me", dana.token, map[string]string{"bio": "saving up"})
	require.Equal(t, http.StatusOK, resp.status)
	resp.decode(t, &me)
	assert.Equal(t, "saving up", me.Bio)

	resp = ts.do(t, "GET", "/auth/verify?token=bogus", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
}

func TestGroups(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	bob := ts.register(t, "bob")

	resp := ts.do(t, "POST", "/groups", alice.token, map[string]string{"name": "Flat 3B"})
	require.Equal(t, http.StatusCreated, resp.status)
	var g models.Group
	resp.decode(t, &g)

	resp = ts.do(t, "POST", "/groups/"+g.ID+"/members", bob.token, map[string]string{"userId": bob.id})
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = ts.do(t, "POST", "/groups/"+g.ID+"/members", alice.token, map[string]string{"userId": bob.id})
	require.Equal(t, http.StatusOK, resp.status)
	resp = ts.do(t, "POST", "/groups/"+g.ID+"/members", alice.token, map[string]string{"userId": bob.id})
	assert.Equal(t, http.StatusConflict, resp.status)

	resp = ts.do(t, "GET", "/groups", bob.token, nil)
	var list struct {
		Groups []models.Group `json:"groups"`
	}
	resp.decode(t, &list)
	require.Len(t, list.Groups, 1)

	resp = ts.do(t, "DELETE", "/groups/"+g.ID, alice.token, nil)
	assert.Equal(t, http.StatusOK, resp.status)
}

func TestRealtimeDelivery(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.register(t, "alice")
	bob := ts.register(t, "bob")

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/realtime/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))

	var hello realtime.Message
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, realtime.EventConnectionEstablished, hello.Event)
	var data map[string]string
	require.NoError(t, json.Unmarshal(hello.Data, &data))
	socketID := data["socketId"]

	channel := realtime.UserChannel(bob.id)
	resp := ts.do(t, "POST", "/realtime/auth", alice.token, map[string]string{"socketId": socketID, "channelName": channel})
	assert.Equal(t, http.StatusForbidden, resp.status, "alice cannot listen on bob's channel")

	resp = ts.do(t, "POST", "/realtime/auth", bob.token, map[string]string{"socketId": socketID, "channelName": channel})
	require.Equal(t, http.StatusOK, resp.status)
	var signed map[string]string
	resp.decode(t, &signed)

	sub, _ := json.Marshal(map[string]string{"channel": channel, "auth": signed["auth"]})
	require.NoError(t, conn.WriteJSON(realtime.Message{Event: realtime.EventSubscribe, Data: sub}))
	var ack realtime.Message
	require.NoError(t, conn.ReadJSON(&ack))
	require.Equal(t, realtime.EventSubscriptionSucceeded, ack.Event)

	resp = ts.do(t, "POST", "/friends/requests", alice.token, map[string]string{"email": bob.email})
	require.Equal(t, http.StatusCreated, resp.status)

	var pushed realtime.Message
	require.NoError(t, conn.ReadJSON(&pushed))
	assert.Equal(t, notify.EventNotification, pushed.Event)
	var n models.Notification
	require.NoError(t, json.Unmarshal(pushed.Data, &n))
	assert.Equal(t, models.NotificationFriendRequest, n.Type)
	assert.Equal(t, bob.id, n.RecipientUserID)
}

func TestOperationalEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.JSONEq(t, `{"status":"ok"}`, string(resp.body))

	ts.do(t, "GET", "/expenses", "", nil)
	resp = ts.do(t, "GET", "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, string(resp.body), `route="/expenses",status="401"`)
}
