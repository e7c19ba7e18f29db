package chat

// Error is the closed set of failure classes surfaced by the chat core.
type Error uint

const (
	// InvalidInput is a malformed username, group name or timestamp. The
	// connection may recover by sending a corrected value.
	InvalidInput Error = iota
	// InvalidRoomSelection is a room-kind token that names no known kind.
	// It is a specialisation of InvalidInput.
	InvalidRoomSelection
	// ConnectionLost is any transport failure or peer close. It is fatal to
	// the session that observed it.
	ConnectionLost
	// PersistenceFailure is an error reported by the message store.
	PersistenceFailure
)

func (e Error) Error() string {
	switch e {
	case InvalidInput:
		return "invalid input"
	case InvalidRoomSelection:
		return "invalid room selection"
	case ConnectionLost:
		return "connection lost"
	case PersistenceFailure:
		return "persistence failure"
	default:
		return "unknown chat error"
	}
}

// Is lets errors.Is(err, InvalidInput) match an InvalidRoomSelection.
func (e Error) Is(target error) bool {
	t, ok := target.(Error)
	if !ok {
		return false
	}
	if e == t {
		return true
	}
	return e == InvalidRoomSelection && t == InvalidInput
}
