package realtime

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// ChannelAuthorizer signs and checks channel subscriptions. A signature binds
// one socket id to one channel, so it cannot be replayed on another
// connection.
type ChannelAuthorizer struct {
	key    string
	secret []byte
}

func NewChannelAuthorizer(key, secret string) *ChannelAuthorizer {
	return &ChannelAuthorizer{key: key, secret: []byte(secret)}
}

// Sign returns "key:hexsignature" for socketID joining channel.
func (a *ChannelAuthorizer) Sign(socketID, channel string) string {
	return a.key + ":" + hex.EncodeToString(a.mac(socketID, channel))
}

// Verify reports whether auth is a valid signature for socketID and channel.
func (a *ChannelAuthorizer) Verify(socketID, channel, auth string) bool {
	key, sig, ok := strings.Cut(auth, ":")
	if !ok || key != a.key {
		return false
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return false
	}
	return hmac.Equal(got, a.mac(socketID, channel))
}

func (a *ChannelAuthorizer) mac(socketID, channel string) []byte {
	h := hmac.New(sha256.New, a.secret)
	h.Write([]byte(socketID + ":" + channel))
	return h.Sum(nil)
}
