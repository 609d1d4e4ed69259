package service

import (
	"context"
	"log/slog"

	"github.com/mmynk/blueledger/internal/apperr"
	"github.com/mmynk/blueledger/internal/auth"
	"github.com/mmynk/blueledger/internal/models"
	"github.com/mmynk/blueledger/internal/realtime"
	"github.com/mmynk/blueledger/internal/storage"
)

// Broadcaster publishes an event to a channel without waiting for it.
type Broadcaster interface {
	Notify(ctx context.Context, channel, event string, payload any)
}

// EventMemberAdded is pushed on a group's channel when someone joins.
const EventMemberAdded = "member_added"

// GroupService manages groups and their members.
type GroupService struct {
	store       storage.Store
	notifier    Notifier
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewGroupService creates a new GroupService with the given storage backend.
func NewGroupService(store storage.Store, notifier Notifier, broadcaster Broadcaster, logger *slog.Logger) *GroupService {
	return &GroupService{store: store, notifier: notifier, broadcaster: broadcaster, logger: logger}
}

// List returns the groups the caller belongs to.
func (s *GroupService) List(ctx context.Context, id *auth.Identity) ([]*models.Group, error) {
	groups, err := s.store.ListGroupsForUser(ctx, id.UserID)
	if err != nil {
		return nil, storeError(err, "Groups")
	}
	return groups, nil
}

// Create creates a group owned by the caller, who is its first member.
func (s *GroupService) Create(ctx context.Context, id *auth.Identity, in CreateGroupInput) (*models.Group, error) {
	s.logger.Info("CreateGroup request received", "name", in.Name, "user_id", id.UserID)

	group := &models.Group{
		Name:    in.Name,
		OwnerID: id.UserID,
		Members: []string{id.UserID},
	}
	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, storeError(err, "Group")
	}

	s.logger.Info("Group created", "group_id", group.ID)
	return group, nil
}

type groupInviteNotice struct {
	GroupID   string `json:"groupId"`
	GroupName string `json:"groupName"`
	InvitedBy string `json:"invitedBy"`
}

// AddMember adds a user to a group the caller owns.
func (s *GroupService) AddMember(ctx context.Context, id *auth.Identity, groupID string, in AddMemberInput) (*models.Group, error) {
	s.logger.Info("AddMember request received", "group_id", groupID, "member_id", in.UserID)

	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err, "Group")
	}
	if err := auth.AuthorizeOwnership(id, group.OwnerID); err != nil {
		return nil, err
	}
	if group.HasMember(in.UserID) {
		return nil, apperr.Conflict("User is already a member")
	}
	if _, err := s.store.GetUserByID(ctx, in.UserID); err != nil {
		return nil, storeError(err, "User")
	}

	if err := s.store.AddGroupMember(ctx, groupID, in.UserID); err != nil {
		return nil, storeError(err, "Group member")
	}
	group.Members = append(group.Members, in.UserID)

	s.logger.Info("Group member added", "group_id", groupID, "member_id", in.UserID)
	s.notifier.Notify(ctx, in.UserID, models.NotificationGroupInvite, groupInviteNotice{
		GroupID:   group.ID,
		GroupName: group.Name,
		InvitedBy: id.UserID,
	})
	s.broadcaster.Notify(ctx, realtime.GroupChannel(group.ID), EventMemberAdded, map[string]string{
		"groupId": group.ID,
		"userId":  in.UserID,
	})
	return group, nil
}

// Delete removes a group the caller owns and returns its prior state.
func (s *GroupService) Delete(ctx context.Context, id *auth.Identity, groupID string) (*models.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err, "Group")
	}
	if err := auth.AuthorizeOwnership(id, group.OwnerID); err != nil {
		return nil, err
	}

	deleted, err := s.store.DeleteGroup(ctx, groupID)
	if err != nil {
		return nil, storeError(err, "Group")
	}
	s.logger.Info("Group deleted", "group_id", groupID)
	return deleted, nil
}
