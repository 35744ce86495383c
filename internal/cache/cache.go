// Package cache stores computed aggregation results keyed by user, target
// and the hash of the user's artifact id set.
package cache

import (
	"context"
	"strings"
)

// Cache is a best-effort key/value store. Values are opaque, immutable
// snapshots; implementations must be safe for concurrent use.
type Cache interface {
	// Get returns the stored value and true, or false on a miss.
	Get(ctx context.Context, key Key) ([]byte, bool, error)
	// Set stores value under key, replacing any previous snapshot.
	Set(ctx context.Context, key Key, value []byte) error
	// InvalidateUser drops every entry for userID and returns how many
	// entries were removed.
	InvalidateUser(ctx context.Context, userID string) (int, error)
}

// keyPrefix namespaces aggregation entries.
const keyPrefix = "ctxagg:"

// Key identifies one cached aggregation.
type Key struct {
	UserID   string
	TargetID string
	SetHash  string
}

// String renders the storage key.
func (k Key) String() string {
	return userPrefix(k.UserID) + k.TargetID + ":" + k.SetHash
}

// userPrefix is the common prefix of every key belonging to userID.
func userPrefix(userID string) string {
	return keyPrefix + escapeSegment(userID) + ":"
}

// escapeSegment keeps a user id from spilling into the next key segment.
func escapeSegment(s string) string {
	return strings.NewReplacer(`\`, `\\`, ":", `\:`).Replace(s)
}
