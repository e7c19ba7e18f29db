package chat

import (
	"fmt"
	"strings"
)

// RoomKind selects between the shared global room and named private rooms.
type RoomKind int

const (
	Global RoomKind = iota
	Private
)

// GlobalRoom is the registry name of the single global room.
const GlobalRoom = "GLOBAL"

// RoomKinds lists every kind in menu order.
var RoomKinds = []RoomKind{Global, Private}

func (k RoomKind) String() string {
	switch k {
	case Global:
		return "GLOBAL"
	case Private:
		return "PRIVATE"
	default:
		return fmt.Sprintf("RoomKind(%d)", int(k))
	}
}

// ParseRoomKind matches token case-insensitively against the known kinds.
func ParseRoomKind(token string) (RoomKind, error) {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "GLOBAL":
		return Global, nil
	case "PRIVATE":
		return Private, nil
	default:
		return 0, fmt.Errorf("%w: %q", InvalidRoomSelection, token)
	}
}

// ValidateGroupName checks a private group name. Names that collide with a
// room-kind token are refused so a private room can never alias GLOBAL.
func ValidateGroupName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: group name is empty", InvalidInput)
	}
	if _, err := ParseRoomKind(name); err == nil {
		return "", fmt.Errorf("%w: group name %q is reserved", InvalidInput, name)
	}
	return name, nil
}
