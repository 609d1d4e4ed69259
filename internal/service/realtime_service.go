package service

import (
	"context"

	"github.com/mmynk/blueledger/internal/apperr"
	"github.com/mmynk/blueledger/internal/auth"
	"github.com/mmynk/blueledger/internal/realtime"
	"github.com/mmynk/blueledger/internal/storage"
)

// RealtimeService signs channel subscriptions for the websocket hub.
type RealtimeService struct {
	groups     storage.GroupStore
	authorizer *realtime.ChannelAuthorizer
}

func NewRealtimeService(groups storage.GroupStore, authorizer *realtime.ChannelAuthorizer) *RealtimeService {
	return &RealtimeService{groups: groups, authorizer: authorizer}
}

// AuthorizeChannel returns a subscription signature for socketID if the
// caller may listen on channel: their own user channel, or a group they
// belong to.
func (s *RealtimeService) AuthorizeChannel(ctx context.Context, id *auth.Identity, in ChannelAuthInput) (string, error) {
	kind, target := realtime.ParseChannel(in.ChannelName)
	switch kind {
	case realtime.ChannelUser:
		if err := auth.AuthorizeOwnership(id, target); err != nil {
			return "", err
		}
	case realtime.ChannelGroup:
		group, err := s.groups.GetGroup(ctx, target)
		if err != nil {
			return "", storeError(err, "Group")
		}
		if !group.HasMember(id.UserID) {
			return "", apperr.Forbidden("You are not a member of this group")
		}
	default:
		return "", apperr.Validation("invalid channel", apperr.FieldError{
			Field: "channelName", Rule: "format", Message: "must be user-<id> or group-<id>",
		})
	}
	return s.authorizer.Sign(in.SocketID, in.ChannelName), nil
}
