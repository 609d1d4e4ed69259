// Package api maps HTTP routes onto the request pipeline and services.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mmynk/blueledger/internal/auth"
	"github.com/mmynk/blueledger/internal/metrics"
	"github.com/mmynk/blueledger/internal/middleware"
	"github.com/mmynk/blueledger/internal/pipeline"
	"github.com/mmynk/blueledger/internal/service"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the router wires together. All are required.
type Deps struct {
	Logger        *slog.Logger
	JWT           *auth.JWTManager
	Gate          *auth.Gate
	Metrics       *metrics.Metrics
	RateLimiter   *middleware.RateLimiter
	Hub           http.Handler
	Store         Pinger
	AllowedOrigin string

	Auth          *service.AuthService
	Users         *service.UserService
	Expenses      *service.ExpenseService
	Notifications *service.NotificationService
	Friends       *service.FriendService
	Groups        *service.GroupService
	Realtime      *service.RealtimeService
}

type handlers struct {
	Deps
	p *pipeline.Pipeline
}

// NewRouter builds the HTTP handler for the whole API.
func NewRouter(d Deps) http.Handler {
	h := &handlers{Deps: d, p: pipeline.New(d.Logger)}
	authn := pipeline.Authenticate(d.Gate)
	id := pipeline.PathID("id")

	r := mux.NewRouter()
	r.Use(middleware.Metrics(d.Metrics))

	r.Handle("/healthz", http.HandlerFunc(h.health)).Methods("GET")
	r.Handle("/metrics", d.Metrics.Handler()).Methods("GET")
	r.Handle("/realtime/ws", d.Hub).Methods("GET")

	// Auth
	r.Handle("/auth/register", h.p.Chain(h.register, pipeline.Validate[service.RegisterInput](service.RegisterSchema))).Methods("POST")
	r.Handle("/auth/login", h.p.Chain(h.login, pipeline.Validate[service.LoginInput](service.LoginSchema))).Methods("POST")
	r.Handle("/auth/verify", h.p.Chain(h.verifyEmail)).Methods("GET")

	// Profile
	r.Handle("/me", h.p.Chain(h.me, authn)).Methods("GET")
	r.Handle("/me", h.p.Chain(h.updateMe, pipeline.Validate[service.UpdateProfileInput](service.UpdateProfileSchema), authn)).Methods("PATCH")

	// Expenses
	r.Handle("/expenses", h.p.Chain(h.createExpense, pipeline.Validate[service.CreateExpenseInput](service.CreateExpenseSchema), authn)).Methods("POST")
	r.Handle("/expenses", h.p.Chain(h.listExpenses, authn)).Methods("GET")
	r.Handle("/expenses/{id}", h.p.Chain(h.getExpense, id, authn)).Methods("GET")
	r.Handle("/expenses/{id}", h.p.Chain(h.updateExpense, id, pipeline.Validate[service.UpdateExpenseInput](service.UpdateExpenseSchema), authn)).Methods("PATCH")
	r.Handle("/expenses/{id}", h.p.Chain(h.deleteExpense, id, authn)).Methods("DELETE")

	// Notifications
	r.Handle("/notifications", h.p.Chain(h.listNotifications, authn)).Methods("GET")
	r.Handle("/notifications/mark-all-read", h.p.Chain(h.markAllRead, authn)).Methods("PATCH")
	r.Handle("/notifications/{id}/read", h.p.Chain(h.markRead, id, authn)).Methods("PATCH")

	// Friends
	r.Handle("/friends", h.p.Chain(h.listFriends, authn)).Methods("GET")
	r.Handle("/friends/requests", h.p.Chain(h.requestFriend, pipeline.Validate[service.FriendRequestInput](service.FriendRequestSchema), authn)).Methods("POST")
	r.Handle("/friends/requests/{id}/accept", h.p.Chain(h.acceptFriend, id, authn)).Methods("POST")
	r.Handle("/friends/{id}", h.p.Chain(h.removeFriend, id, authn)).Methods("DELETE")

	// Groups
	r.Handle("/groups", h.p.Chain(h.listGroups, authn)).Methods("GET")
	r.Handle("/groups", h.p.Chain(h.createGroup, pipeline.Validate[service.CreateGroupInput](service.CreateGroupSchema), authn)).Methods("POST")
	r.Handle("/groups/{id}/members", h.p.Chain(h.addMember, id, pipeline.Validate[service.AddMemberInput](service.AddMemberSchema), authn)).Methods("POST")
	r.Handle("/groups/{id}", h.p.Chain(h.deleteGroup, id, authn)).Methods("DELETE")

	// Realtime
	r.Handle("/realtime/auth", h.p.Chain(h.channelAuth, pipeline.Validate[service.ChannelAuthInput](service.ChannelAuthSchema), authn)).Methods("POST")

	var handler http.Handler = r
	handler = d.RateLimiter.Handler(handler)
	handler = middleware.OptionalAuth(d.JWT)(handler)
	handler = middleware.CORS(d.AllowedOrigin)(handler)
	handler = middleware.Recover(d.Logger)(handler)
	handler = middleware.Logging(d.Logger)(handler)
	return handler
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		h.Logger.Error("health check failed", "error", err)
		pipeline.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	pipeline.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
