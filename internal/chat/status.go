package chat

import (
	"fmt"
	"strings"
)

// RoomStatus is the lifecycle state of a chat room.
type RoomStatus int

const (
	RoomWaiting RoomStatus = iota
	RoomConnected
	RoomEnded
)

func (s RoomStatus) String() string {
	switch s {
	case RoomWaiting:
		return "Waiting"
	case RoomConnected:
		return "Connected"
	case RoomEnded:
		return "Ended"
	default:
		return fmt.Sprintf("RoomStatus(%d)", int(s))
	}
}

// ParseRoomStatus maps a stored status value back to a RoomStatus. An
// unrecognized value is an error, never a silent default.
func ParseRoomStatus(s string) (RoomStatus, error) {
	switch strings.ToUpper(s) {
	case "WAITING":
		return RoomWaiting, nil
	case "CONNECTED":
		return RoomConnected, nil
	case "ENDED":
		return RoomEnded, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRoomStatus, s)
	}
}

// AgentStatus is the availability state of a support agent.
type AgentStatus int

const (
	AgentAvailable AgentStatus = iota
	AgentBusy
	AgentAway
)

func (s AgentStatus) String() string {
	switch s {
	case AgentAvailable:
		return "Available"
	case AgentBusy:
		return "Busy"
	case AgentAway:
		return "Away"
	default:
		return fmt.Sprintf("AgentStatus(%d)", int(s))
	}
}

func ParseAgentStatus(s string) (AgentStatus, error) {
	switch strings.ToUpper(s) {
	case "AVAILABLE":
		return AgentAvailable, nil
	case "BUSY":
		return AgentBusy, nil
	case "AWAY":
		return AgentAway, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidAgentStatus, s)
	}
}

// Role is the party a connection represents inside a room.
type Role int

const (
	RoleUser Role = iota
	RoleAgent
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAgent:
		return "agent"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "user":
		return RoleUser, nil
	case "agent":
		return RoleAgent, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}
