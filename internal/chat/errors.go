package chat

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room already has an agent")
	ErrRoomEnded          = errors.New("room has ended")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrChannelNotFound    = errors.New("channel not found")
	ErrInvalidRoomStatus  = errors.New("invalid room status")
	ErrInvalidAgentStatus = errors.New("invalid agent status")
	ErrInvalidRole        = errors.New("invalid role")
)
