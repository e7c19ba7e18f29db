// Package store is the persistence port of the chat server: users, rooms,
// per-room join records and the message log used for history replay.
package store

import (
	"context"
	"time"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Store is implemented by every persistence adapter. All methods are safe for
// concurrent use. Adapter errors wrap chat.PersistenceFailure.
type Store interface {
	// StoreUser records a username. Repeated calls are no-ops.
	StoreUser(ctx context.Context, name string) error

	// CreateRoom records a room name. Repeated calls are no-ops.
	CreateRoom(ctx context.Context, name string) error

	// StoreMessage appends a chat message to the room's log.
	StoreMessage(ctx context.Context, room string, msg chat.Message) error

	// UserJoinTimestamp resolves the history cutoff of user in room. The
	// first call records claimed (clamped to the present) and later calls
	// return the recorded value.
	UserJoinTimestamp(ctx context.Context, user, room string, claimed time.Time) (time.Time, error)

	// ReplayHistory streams the room's messages to fn in the order they
	// were stored. A zero since replays everything, otherwise only messages
	// sent at or after since. An error from fn stops the replay and is
	// returned unchanged.
	ReplayHistory(ctx context.Context, room string, since time.Time, fn func(chat.Message) error) error

	Close() error
}

// resolveJoin applies the cutoff policy for a first join.
func resolveJoin(claimed, now time.Time) time.Time {
	if claimed.IsZero() || claimed.After(now) {
		claimed = now
	}
	return claimed.Truncate(time.Second)
}
