package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/mmynk/blueledger/internal/apperr"
	"github.com/mmynk/blueledger/internal/pipeline"
	"github.com/mmynk/blueledger/internal/service"
)

func (h *handlers) register(w http.ResponseWriter, r *http.Request) error {
	session, err := h.Auth.Register(r.Context(), pipeline.Input[service.RegisterInput](r))
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusCreated, session)
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) error {
	session, err := h.Auth.Login(r.Context(), pipeline.Input[service.LoginInput](r))
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, session)
}

func (h *handlers) verifyEmail(w http.ResponseWriter, r *http.Request) error {
	token := r.URL.Query().Get("token")
	if token == "" {
		return apperr.Validation("missing token", apperr.FieldError{Field: "token", Rule: "required", Message: "is required"})
	}
	user, err := h.Auth.VerifyEmail(r.Context(), token)
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) error {
	user, err := h.Users.Me(r.Context(), pipeline.Identity(r))
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, user)
}

func (h *handlers) updateMe(w http.ResponseWriter, r *http.Request) error {
	user, err := h.Users.UpdateProfile(r.Context(), pipeline.Identity(r), pipeline.Input[service.UpdateProfileInput](r))
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, user)
}

func (h *handlers) createExpense(w http.ResponseWriter, r *http.Request) error {
	expense, err := h.Expenses.Create(r.Context(), pipeline.Identity(r), pipeline.Input[service.CreateExpenseInput](r))
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusCreated, expense)
}

func (h *handlers) listExpenses(w http.ResponseWriter, r *http.Request) error {
	expenses, err := h.Expenses.List(r.Context(), pipeline.Identity(r))
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, map[string]any{"expenses": expenses})
}

func (h *handlers) getExpense(w http.ResponseWriter, r *http.Request) error {
	expense, err := h.Expenses.Get(r.Context(), pipeline.Identity(r), mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, expense)
}

func (h *handlers) updateExpense(w http.ResponseWriter, r *http.Request) error {
	expense, err := h.Expenses.Update(r.Context(), pipeline.Identity(r), mux.Vars(r)["id"], pipeline.Input[service.UpdateExpenseInput](r))
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, expense)
}

func (h *handlers) deleteExpense(w http.ResponseWriter, r *http.Request) error {
	expense, err := h.Expenses.Delete(r.Context(), pipeline.Identity(r), mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, expense)
}

func (h *handlers) listNotifications(w http.ResponseWriter, r *http.Request) error {
	unreadOnly := false
	if v := r.URL.Query().Get("unread"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return apperr.Validation("invalid query", apperr.FieldError{Field: "unread", Rule: "type", Message: "must be a boolean"})
		}
		unreadOnly = b
	}

	list, unread, err := h.Notifications.List(r.Context(), pipeline.Identity(r), unreadOnly)
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, map[string]any{"notifications": list, "unread": unread})
}

func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) error {
	n, err := h.Notifications.MarkRead(r.Context(), pipeline.Identity(r), mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, n)
}

func (h *handlers) markAllRead(w http.ResponseWriter, r *http.Request) error {
	if _, err := h.Notifications.MarkAllRead(r.Context(), pipeline.Identity(r)); err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *handlers) listFriends(w http.ResponseWriter, r *http.Request) error {
	friendships, err := h.Friends.List(r.Context(), pipeline.Identity(r))
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, map[string]any{"friendships": friendships})
}

func (h *handlers) requestFriend(w http.ResponseWriter, r *http.Request) error {
	f, err := h.Friends.Request(r.Context(), pipeline.Identity(r), pipeline.Input[service.FriendRequestInput](r))
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusCreated, f)
}

func (h *handlers) acceptFriend(w http.ResponseWriter, r *http.Request) error {
	f, err := h.Friends.Accept(r.Context(), pipeline.Identity(r), mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, f)
}

func (h *handlers) removeFriend(w http.ResponseWriter, r *http.Request) error {
	f, err := h.Friends.Remove(r.Context(), pipeline.Identity(r), mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, f)
}

func (h *handlers) listGroups(w http.ResponseWriter, r *http.Request) error {
	groups, err := h.Groups.List(r.Context(), pipeline.Identity(r))
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, map[string]any{"groups": groups})
}

func (h *handlers) createGroup(w http.ResponseWriter, r *http.Request) error {
	group, err := h.Groups.Create(r.Context(), pipeline.Identity(r), pipeline.Input[service.CreateGroupInput](r))
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusCreated, group)
}

func (h *handlers) addMember(w http.ResponseWriter, r *http.Request) error {
	group, err := h.Groups.AddMember(r.Context(), pipeline.Identity(r), mux.Vars(r)["id"], pipeline.Input[service.AddMemberInput](r))
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, group)
}

func (h *handlers) deleteGroup(w http.ResponseWriter, r *http.Request) error {
	group, err := h.Groups.Delete(r.Context(), pipeline.Identity(r), mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, group)
}

func (h *handlers) channelAuth(w http.ResponseWriter, r *http.Request) error {
	sig, err := h.Realtime.AuthorizeChannel(r.Context(), pipeline.Identity(r), pipeline.Input[service.ChannelAuthInput](r))
	if err != nil {
		return err
	}
	return pipeline.JSON(w, http.StatusOK, map[string]string{"auth": sig})
}
