// Package realtime pushes events to websocket subscribers.
//
// Clients connect to the Hub, receive a socket id, and subscribe to named
// channels with a signature obtained from the API. Publishers deliver events
// either straight to the local Hub or through Redis so that every server
// instance fans them out.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Publisher delivers one event to one channel.
type Publisher interface {
	Publish(ctx context.Context, channel, event string, payload any) error
}

// Protocol events.
const (
	EventConnectionEstablished = "connection_established"
	EventSubscribe             = "subscribe"
	EventUnsubscribe           = "unsubscribe"
	EventSubscriptionSucceeded = "subscription_succeeded"
	EventSubscriptionError     = "subscription_error"
	EventPing                  = "ping"
	EventPong                  = "pong"
)

// Message is the wire frame in both directions.
type Message struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type subscribeData struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth"`
}

func encode(channel, event string, payload any) ([]byte, error) {
	msg := Message{Event: event, Channel: channel}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", event, err)
		}
		msg.Data = data
	}
	return json.Marshal(msg)
}

const (
	userPrefix  = "user-"
	groupPrefix = "group-"
)

// UserChannel is the private channel of one user.
func UserChannel(userID string) string { return userPrefix + userID }

// GroupChannel is the channel shared by the members of a group.
func GroupChannel(groupID string) string { return groupPrefix + groupID }

// ChannelKind identifies what a channel name refers to.
type ChannelKind int

const (
	ChannelUnknown ChannelKind = iota
	ChannelUser
	ChannelGroup
)

// ParseChannel splits a channel name into its kind and id.
func ParseChannel(name string) (ChannelKind, string) {
	switch {
	case strings.HasPrefix(name, userPrefix) && len(name) > len(userPrefix):
		return ChannelUser, strings.TrimPrefix(name, userPrefix)
	case strings.HasPrefix(name, groupPrefix) && len(name) > len(groupPrefix):
		return ChannelGroup, strings.TrimPrefix(name, groupPrefix)
	}
	return ChannelUnknown, ""
}
