package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/mmynk/blueledger/internal/apperr"
	"github.com/mmynk/blueledger/internal/auth"
	"github.com/mmynk/blueledger/internal/mail"
	"github.com/mmynk/blueledger/internal/models"
	"github.com/mmynk/blueledger/internal/realtime"
	"github.com/mmynk/blueledger/internal/storage/sqlite"
)

type notice struct {
	recipient string
	typ       models.NotificationType
	payload   any
}

// recordingNotifier captures notifications instead of storing them.
type recordingNotifier struct {
	mu   sync.Mutex
	sent []notice
}

func (n *recordingNotifier) Notify(_ context.Context, recipientID string, typ models.NotificationType, payload any) *models.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notice{recipientID, typ, payload})
	return &models.Notification{RecipientUserID: recipientID, Type: typ}
}

func (n *recordingNotifier) reset() []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.sent
	n.sent = nil
	return out
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []mail.Message
}

func (m *recordingMailer) SendMail(_ context.Context, msg mail.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, msg)
}

type recordingBroadcaster struct {
	channels []string
}

func (b *recordingBroadcaster) Notify(_ context.Context, channel, _ string, _ any) {
	b.channels = append(b.channels, channel)
}

type testEnv struct {
	store       *sqlite.SQLiteStore
	notifier    *recordingNotifier
	mailer      *recordingMailer
	broadcaster *recordingBroadcaster
	jwt         *auth.JWTManager
	logger      *slog.Logger
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	// Create temp database
	tmpFile, err := os.CreateTemp(t.TempDir(), "test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()

	store, err := sqlite.New(tmpFile.Name())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &testEnv{
		store:       store,
		notifier:    &recordingNotifier{},
		mailer:      &recordingMailer{},
		broadcaster: &recordingBroadcaster{},
		jwt:         auth.NewJWTManager("test-secret", time.Hour),
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (e *testEnv) user(t *testing.T, email string) *auth.Identity {
	t.Helper()
	u := models.NewUser(email, email, "hash")
	if err := e.store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	return &auth.Identity{UserID: u.ID, Email: u.Email}
}

func (e *testEnv) befriend(t *testing.T, a, b *auth.Identity) {
	t.Helper()
	ctx := context.Background()
	f := &models.Friendship{RequesterID: a.UserID, AddresseeID: b.UserID, Status: models.FriendshipPending}
	if err := e.store.CreateFriendship(ctx, f); err != nil {
		t.Fatalf("CreateFriendship failed: %v", err)
	}
	if _, err := e.store.AcceptFriendship(ctx, f.ID); err != nil {
		t.Fatalf("AcceptFriendship failed: %v", err)
	}
}

func expectKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if !apperr.Is(err, kind) {
		t.Fatalf("expected error kind %v, got %v", kind, err)
	}
}

func ptr[T any](v T) *T { return &v }

func TestExpenseService_Create(t *testing.T) {
	env := setupTestEnv(t)
	svc := NewExpenseService(env.store, env.notifier, env.logger)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")
	carol := env.user(t, "carol@example.com")
	env.befriend(t, alice, bob)

	t.Run("derives total", func(t *testing.T) {
		e, err := svc.Create(ctx, alice, CreateExpenseInput{Description: "Coffee", Price: 3.5, Quantity: 2})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if e.TotalPrice != 7 || e.OwnerID != alice.UserID || e.Description != "Coffee" {
			t.Errorf("unexpected expense: %+v", e)
		}
		stored, err := env.store.GetExpense(ctx, e.ID)
		if err != nil {
			t.Fatalf("GetExpense failed: %v", err)
		}
		if stored.TotalPrice != 7 || stored.Quantity != 2 {
			t.Errorf("stored expense differs: %+v", stored)
		}
		if len(env.notifier.reset()) != 0 {
			t.Error("unshared expense should not notify")
		}
	})

	t.Run("shared with a friend notifies once", func(t *testing.T) {
		e, err := svc.Create(ctx, alice, CreateExpenseInput{
			Description: "Lunch", Price: 10, Quantity: 1, TotalPrice: ptr(10.0),
			SharedWith: []string{bob.UserID, bob.UserID},
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if len(e.SharedWith) != 1 {
			t.Errorf("expected deduped participants, got %v", e.SharedWith)
		}
		sent := env.notifier.reset()
		if len(sent) != 1 || sent[0].recipient != bob.UserID || sent[0].typ != models.NotificationAddedToExpense {
			t.Errorf("unexpected notifications: %+v", sent)
		}
	})

	t.Run("non-friend is rejected", func(t *testing.T) {
		_, err := svc.Create(ctx, alice, CreateExpenseInput{
			Description: "Dinner", Price: 10, Quantity: 1, SharedWith: []string{carol.UserID},
		})
		expectKind(t, err, apperr.KindValidation)
	})

	t.Run("self is rejected", func(t *testing.T) {
		_, err := svc.Create(ctx, alice, CreateExpenseInput{
			Description: "Dinner", Price: 10, Quantity: 1, SharedWith: []string{alice.UserID},
		})
		expectKind(t, err, apperr.KindValidation)
	})

	t.Run("participants come back in stored order", func(t *testing.T) {
		dave := env.user(t, "dave@example.com")
		env.befriend(t, alice, dave)
		ids := []string{bob.UserID, dave.UserID}
		sort.Sort(sort.Reverse(sort.StringSlice(ids)))

		e, err := svc.Create(ctx, alice, CreateExpenseInput{
			Description: "Groceries", Price: 20, Quantity: 1, SharedWith: ids,
		})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		env.notifier.reset()

		stored, err := env.store.GetExpense(ctx, e.ID)
		if err != nil {
			t.Fatalf("GetExpense failed: %v", err)
		}
		if !reflect.DeepEqual(e.SharedWith, stored.SharedWith) {
			t.Errorf("create returned %v, read returned %v", e.SharedWith, stored.SharedWith)
		}
		if !sort.StringsAreSorted(e.SharedWith) {
			t.Errorf("participants not sorted: %v", e.SharedWith)
		}
	})
}

func TestCheckTotal(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		want   string
	}{
		{"matching total", map[string]any{"price": 3.5, "quantity": int64(2), "totalPrice": 7.0}, ""},
		{"no total", map[string]any{"price": 3.5, "quantity": int64(2)}, ""},
		{"mismatched total", map[string]any{"price": 3.5, "quantity": int64(2), "totalPrice": 8.0}, "total"},
		{"product overflows", map[string]any{"price": 1e308, "quantity": int64(10)}, "max"},
		{"price absent", map[string]any{"quantity": int64(2), "totalPrice": 8.0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := checkTotal(tt.values)
			if tt.want == "" {
				if len(errs) != 0 {
					t.Fatalf("expected no errors, got %v", errs)
				}
				return
			}
			if len(errs) != 1 || errs[0].Field != "totalPrice" || errs[0].Rule != tt.want {
				t.Errorf("expected totalPrice/%s, got %v", tt.want, errs)
			}
		})
	}
}

func TestExpenseService_UpdateDelete(t *testing.T) {
	env := setupTestEnv(t)
	svc := NewExpenseService(env.store, env.notifier, env.logger)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")
	env.befriend(t, alice, bob)

	e, err := svc.Create(ctx, alice, CreateExpenseInput{Description: "Tea", Price: 2, Quantity: 3})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	t.Run("quantity change recomputes total", func(t *testing.T) {
		updated, err := svc.Update(ctx, alice, e.ID, UpdateExpenseInput{Quantity: ptr(5)})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if updated.TotalPrice != 10 || updated.Description != "Tea" {
			t.Errorf("unexpected update: %+v", updated)
		}
	})

	t.Run("mismatched total", func(t *testing.T) {
		_, err := svc.Update(ctx, alice, e.ID, UpdateExpenseInput{TotalPrice: ptr(99.0)})
		expectKind(t, err, apperr.KindValidation)
	})

	t.Run("adding a participant notifies only the new one", func(t *testing.T) {
		env.notifier.reset()
		if _, err := svc.Update(ctx, alice, e.ID, UpdateExpenseInput{SharedWith: &[]string{bob.UserID}}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if _, err := svc.Update(ctx, alice, e.ID, UpdateExpenseInput{Description: ptr("Green tea")}); err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if sent := env.notifier.reset(); len(sent) != 1 {
			t.Errorf("expected one notification, got %d", len(sent))
		}
	})

	t.Run("participant can read but not modify", func(t *testing.T) {
		if _, err := svc.Get(ctx, bob, e.ID); err != nil {
			t.Errorf("participant Get failed: %v", err)
		}
		_, err := svc.Update(ctx, bob, e.ID, UpdateExpenseInput{Price: ptr(1.0)})
		expectKind(t, err, apperr.KindForbidden)
		_, err = svc.Delete(ctx, bob, e.ID)
		expectKind(t, err, apperr.KindForbidden)
	})

	t.Run("delete returns prior state then not found", func(t *testing.T) {
		deleted, err := svc.Delete(ctx, alice, e.ID)
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if deleted.ID != e.ID || deleted.Description != "Green tea" {
			t.Errorf("unexpected deleted expense: %+v", deleted)
		}
		_, err = svc.Delete(ctx, alice, e.ID)
		expectKind(t, err, apperr.KindNotFound)
		_, err = svc.Update(ctx, alice, e.ID, UpdateExpenseInput{Price: ptr(1.0)})
		expectKind(t, err, apperr.KindNotFound)
	})
}

func TestNotificationService(t *testing.T) {
	env := setupTestEnv(t)
	svc := NewNotificationService(env.store, env.logger)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")

	var ids []string
	for i := 0; i < 3; i++ {
		n := &models.Notification{RecipientUserID: alice.UserID, Type: models.NotificationFriendRequest}
		if err := env.store.CreateNotification(ctx, n); err != nil {
			t.Fatalf("CreateNotification failed: %v", err)
		}
		ids = append(ids, n.ID)
	}

	t.Run("other users cannot mark", func(t *testing.T) {
		_, err := svc.MarkRead(ctx, bob, ids[0])
		expectKind(t, err, apperr.KindForbidden)
	})

	t.Run("mark one", func(t *testing.T) {
		n, err := svc.MarkRead(ctx, alice, ids[0])
		if err != nil || !n.IsRead {
			t.Fatalf("MarkRead failed: %v %+v", err, n)
		}
		_, unread, err := svc.List(ctx, alice, false)
		if err != nil || unread != 2 {
			t.Errorf("expected 2 unread, got %d (%v)", unread, err)
		}
	})

	t.Run("mark all", func(t *testing.T) {
		changed, err := svc.MarkAllRead(ctx, alice)
		if err != nil || changed != 2 {
			t.Fatalf("MarkAllRead: changed=%d err=%v", changed, err)
		}
		list, unread, _ := svc.List(ctx, alice, true)
		if unread != 0 || len(list) != 0 {
			t.Errorf("expected no unread, got %d/%d", unread, len(list))
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		_, err := svc.MarkRead(ctx, alice, "00000000-0000-0000-0000-000000000000")
		expectKind(t, err, apperr.KindNotFound)
	})
}

func TestFriendService(t *testing.T) {
	env := setupTestEnv(t)
	svc := NewFriendService(env.store, env.notifier, env.mailer, "http://app", env.logger)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")
	carol := env.user(t, "carol@example.com")

	f, err := svc.Request(ctx, alice, FriendRequestInput{Email: "BOB@example.com"})
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	if f.Status != models.FriendshipPending {
		t.Errorf("expected pending, got %s", f.Status)
	}
	if sent := env.notifier.reset(); len(sent) != 1 || sent[0].typ != models.NotificationFriendRequest {
		t.Errorf("unexpected notifications: %+v", sent)
	}
	if len(env.mailer.sent) != 1 || env.mailer.sent[0].To != "bob@example.com" {
		t.Errorf("unexpected emails: %+v", env.mailer.sent)
	}

	tests := []struct {
		name string
		run  func() error
		kind apperr.Kind
	}{
		{"duplicate request", func() error {
			_, err := svc.Request(ctx, bob, FriendRequestInput{Email: "alice@example.com"})
			return err
		}, apperr.KindConflict},
		{"unknown email", func() error {
			_, err := svc.Request(ctx, alice, FriendRequestInput{Email: "nobody@example.com"})
			return err
		}, apperr.KindNotFound},
		{"self", func() error {
			_, err := svc.Request(ctx, alice, FriendRequestInput{Email: "alice@example.com"})
			return err
		}, apperr.KindValidation},
		{"requester cannot accept", func() error {
			_, err := svc.Accept(ctx, alice, f.ID)
			return err
		}, apperr.KindForbidden},
		{"stranger cannot remove", func() error {
			_, err := svc.Remove(ctx, carol, f.ID)
			return err
		}, apperr.KindForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectKind(t, tt.run(), tt.kind)
		})
	}

	accepted, err := svc.Accept(ctx, bob, f.ID)
	if err != nil || accepted.Status != models.FriendshipAccepted {
		t.Fatalf("Accept failed: %v %+v", err, accepted)
	}
	if _, err := svc.Remove(ctx, alice, f.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	_, err = svc.Remove(ctx, alice, f.ID)
	expectKind(t, err, apperr.KindNotFound)
}

func TestGroupService(t *testing.T) {
	env := setupTestEnv(t)
	svc := NewGroupService(env.store, env.notifier, env.broadcaster, env.logger)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")

	g, err := svc.Create(ctx, alice, CreateGroupInput{Name: "Roommates"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !g.HasMember(alice.UserID) {
		t.Error("owner should be a member")
	}

	_, err = svc.AddMember(ctx, bob, g.ID, AddMemberInput{UserID: bob.UserID})
	expectKind(t, err, apperr.KindForbidden)

	g, err = svc.AddMember(ctx, alice, g.ID, AddMemberInput{UserID: bob.UserID})
	if err != nil {
		t.Fatalf("AddMember failed: %v", err)
	}
	if !g.HasMember(bob.UserID) {
		t.Error("bob should be a member")
	}
	if sent := env.notifier.reset(); len(sent) != 1 || sent[0].typ != models.NotificationGroupInvite {
		t.Errorf("unexpected notifications: %+v", sent)
	}
	if len(env.broadcaster.channels) != 1 || env.broadcaster.channels[0] != "group-"+g.ID {
		t.Errorf("unexpected broadcasts: %v", env.broadcaster.channels)
	}

	_, err = svc.AddMember(ctx, alice, g.ID, AddMemberInput{UserID: bob.UserID})
	expectKind(t, err, apperr.KindConflict)
	_, err = svc.AddMember(ctx, alice, g.ID, AddMemberInput{UserID: "00000000-0000-0000-0000-000000000000"})
	expectKind(t, err, apperr.KindNotFound)

	groups, err := svc.List(ctx, bob)
	if err != nil || len(groups) != 1 {
		t.Fatalf("List: %v %d", err, len(groups))
	}

	_, err = svc.Delete(ctx, bob, g.ID)
	expectKind(t, err, apperr.KindForbidden)
	if _, err := svc.Delete(ctx, alice, g.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	_, err = svc.Delete(ctx, alice, g.ID)
	expectKind(t, err, apperr.KindNotFound)
}

func TestAuthService(t *testing.T) {
	env := setupTestEnv(t)
	authenticator := auth.NewPasswordAuthenticator(env.store).WithCost(bcrypt.MinCost)
	svc := NewAuthService(authenticator, env.jwt, env.store, env.mailer, "http://app", env.logger)
	ctx := context.Background()

	session, err := svc.Register(ctx, RegisterInput{Email: "dana@example.com", DisplayName: "Dana", Password: "password123"})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if session.Token == "" || session.User.EmailVerified {
		t.Errorf("unexpected session: %+v", session)
	}
	if len(env.mailer.sent) != 1 {
		t.Fatalf("expected verification email, got %d", len(env.mailer.sent))
	}

	_, err = svc.Register(ctx, RegisterInput{Email: "dana@example.com", DisplayName: "Dana", Password: "password123"})
	expectKind(t, err, apperr.KindConflict)

	_, err = svc.Login(ctx, LoginInput{Email: "dana@example.com", Password: "wrong-password"})
	expectKind(t, err, apperr.KindUnauthorized)
	if _, err := svc.Login(ctx, LoginInput{Email: "dana@example.com", Password: "password123"}); err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	t.Run("verify email", func(t *testing.T) {
		token, err := env.jwt.GenerateVerification(session.User)
		if err != nil {
			t.Fatalf("GenerateVerification failed: %v", err)
		}
		user, err := svc.VerifyEmail(ctx, token)
		if err != nil || !user.EmailVerified {
			t.Fatalf("VerifyEmail failed: %v %+v", err, user)
		}
		_, err = svc.VerifyEmail(ctx, session.Token)
		expectKind(t, err, apperr.KindValidation)
	})
}

func TestUserService(t *testing.T) {
	env := setupTestEnv(t)
	svc := NewUserService(env.store, env.logger)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")

	user, err := svc.UpdateProfile(ctx, alice, UpdateProfileInput{Bio: ptr("budgeting nerd")})
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if user.Bio != "budgeting nerd" || user.DisplayName != "alice@example.com" {
		t.Errorf("unexpected user: %+v", user)
	}
	me, err := svc.Me(ctx, alice)
	if err != nil || me.Bio != "budgeting nerd" {
		t.Errorf("Me: %v %+v", err, me)
	}
}

func TestRealtimeService(t *testing.T) {
	env := setupTestEnv(t)
	authorizer := realtime.NewChannelAuthorizer("key", "secret")
	svc := NewRealtimeService(env.store, authorizer)
	groups := NewGroupService(env.store, env.notifier, env.broadcaster, env.logger)
	ctx := context.Background()
	alice := env.user(t, "alice@example.com")
	bob := env.user(t, "bob@example.com")

	g, err := groups.Create(ctx, alice, CreateGroupInput{Name: "Trip"})
	if err != nil {
		t.Fatalf("Create group failed: %v", err)
	}

	sig, err := svc.AuthorizeChannel(ctx, alice, ChannelAuthInput{SocketID: "s1", ChannelName: "user-" + alice.UserID})
	if err != nil || !authorizer.Verify("s1", "user-"+alice.UserID, sig) {
		t.Fatalf("own channel: %v %q", err, sig)
	}
	if _, err := svc.AuthorizeChannel(ctx, alice, ChannelAuthInput{SocketID: "s1", ChannelName: "group-" + g.ID}); err != nil {
		t.Errorf("member group channel: %v", err)
	}

	_, err = svc.AuthorizeChannel(ctx, bob, ChannelAuthInput{SocketID: "s2", ChannelName: "user-" + alice.UserID})
	expectKind(t, err, apperr.KindForbidden)
	_, err = svc.AuthorizeChannel(ctx, bob, ChannelAuthInput{SocketID: "s2", ChannelName: "group-" + g.ID})
	expectKind(t, err, apperr.KindForbidden)
	_, err = svc.AuthorizeChannel(ctx, bob, ChannelAuthInput{SocketID: "s2", ChannelName: "presence-lobby"})
	expectKind(t, err, apperr.KindValidation)
}

func TestStoreErrorHidesCause(t *testing.T) {
	err := storeError(io.ErrUnexpectedEOF, "Expense")
	expectKind(t, err, apperr.KindInternal)
	if body := apperr.ToBody(err); body.Error != "internal error" {
		t.Errorf("cause leaked: %+v", body)
	}
}
