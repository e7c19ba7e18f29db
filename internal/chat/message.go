package chat

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const (
	// EndHistory terminates a history replay on the wire.
	EndHistory = "END_HISTORY_RETRIEVAL"
	// SwitchCommand leaves the current room and restarts room selection.
	SwitchCommand = "/switch"
	// TimestampLayout is the wire and storage format of message timestamps.
	TimestampLayout = "2006-01-02 15:04:05"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._]+$`)

// ValidateUsername reports InvalidInput unless name is non-empty and made of
// letters, digits, dots and underscores only.
func ValidateUsername(name string) error {
	if name == "" {
		return fmt.Errorf("%w: username is empty", InvalidInput)
	}
	if !usernamePattern.MatchString(name) {
		return fmt.Errorf("%w: only letters, numbers, dots and underscores are allowed in %q", InvalidInput, name)
	}
	return nil
}

// ParseTimestamp reads a wire timestamp in the local time zone.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, strings.TrimSpace(s), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timestamp %q: want %s", InvalidInput, s, TimestampLayout)
	}
	return t, nil
}

// FormatTimestamp renders t in the wire layout.
func FormatTimestamp(t time.Time) string {
	return t.In(time.Local).Format(TimestampLayout)
}

// MessageKind distinguishes server notices from user chat.
type MessageKind int

const (
	System MessageKind = iota
	Chat
)

func (k MessageKind) String() string {
	switch k {
	case System:
		return "SYSTEM"
	case Chat:
		return "CHAT"
	default:
		return fmt.Sprintf("MessageKind(%d)", int(k))
	}
}

// Message is an immutable unit of chat content. Sender and Sent are empty
// for System messages.
type Message struct {
	Kind   MessageKind
	Text   string
	Sender string
	Sent   time.Time
}

// SystemMessage builds a server notice.
func SystemMessage(text string) Message {
	return Message{Kind: System, Text: text}
}

// ChatMessage builds a user message, truncating at to whole seconds.
func ChatMessage(sender, text string, at time.Time) Message {
	return Message{Kind: Chat, Text: text, Sender: sender, Sent: at.Truncate(time.Second)}
}

// Format renders the message the way it is written to clients.
func (m Message) Format() string {
	switch m.Kind {
	case System:
		return "[SYSTEM]: " + m.Text
	case Chat:
		return fmt.Sprintf("[%s] [%s]: %s", FormatTimestamp(m.Sent), m.Sender, m.Text)
	default:
		return m.Text
	}
}

// JoinNotice is broadcast to a room before a new member is registered.
func JoinNotice(username, room string) Message {
	return SystemMessage(fmt.Sprintf("%s join to %s", username, room))
}

// LeaveNotice is broadcast to a room after a member has been removed.
func LeaveNotice(username, room string) Message {
	return SystemMessage(fmt.Sprintf("%s left %s", username, room))
}

const joinRejectedPrefix = "[SYSTEM]: unable to join "

// JoinRejected tells a client its join failed and room selection restarts.
// It is sent instead of a history replay.
func JoinRejected(room string) Message {
	return SystemMessage(fmt.Sprintf("unable to join %s right now, choose a room again", room))
}

// IsJoinRejection reports whether a formatted frame is a JoinRejected notice.
// Chat frames always start with a timestamp, so users cannot forge one.
func IsJoinRejection(frame string) bool {
	return strings.HasPrefix(frame, joinRejectedPrefix)
}
