package chat

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/supportchat/go-supportchat/internal/database"
)

// Room is the in-memory record for one customer-support conversation.
type Room struct {
	Id         int
	Token      string
	CustomerId int
	AgentId    int
	Status     RoomStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type RoomRegistry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	db     database.SupportChatRepository
	hub    *RelayHub
	agents *AgentRegistry
	log    *log.Logger
}

func NewRoomRegistry(logger *log.Logger, db database.SupportChatRepository, hub *RelayHub, agents *AgentRegistry) *RoomRegistry {
	return &RoomRegistry{
		rooms:  make(map[string]*Room),
		db:     db,
		hub:    hub,
		agents: agents,
		log:    logger,
	}
}

// Create persists a new Waiting room for the customer and allocates its
// relay channel before the token is handed out, so no party can connect
// ahead of the channel.
func (rr *RoomRegistry) Create(customerId int) (Room, error) {
	token := uuid.NewString()

	dbRoom, err := rr.db.CreateRoom(database.CreateRoomParams{
		Token:      token,
		CustomerId: customerId,
		Status:     RoomWaiting.String(),
	})
	if err != nil {
		return Room{}, fmt.Errorf("save room: %w", err)
	}

	status, err := ParseRoomStatus(dbRoom.Status)
	if err != nil {
		return Room{}, fmt.Errorf("stored room %q: %w", dbRoom.Token, err)
	}

	room := &Room{
		Id:         dbRoom.Id,
		Token:      dbRoom.Token,
		CustomerId: dbRoom.CustomerId,
		AgentId:    dbRoom.AgentId,
		Status:     status,
		CreatedAt:  dbRoom.CreatedAt,
		UpdatedAt:  dbRoom.UpdatedAt,
	}

	rr.hub.CreateChannel(room.Token)

	rr.mu.Lock()
	rr.rooms[room.Token] = room
	rr.mu.Unlock()

	rr.log.Printf("created room %q for customer %d", room.Token, customerId)
	return *room, nil
}

// AssignAgent attaches an agent to a Waiting room. The agent field is
// write-once: a second assignment fails with ErrRoomFull. Both the room and
// the agent record are updated inside one critical section (rooms lock,
// then agents lock) so no reader observes one side without the other.
func (rr *RoomRegistry) AssignAgent(roomToken string, agentId int) error {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	room, ok := rr.rooms[roomToken]
	if !ok {
		return ErrRoomNotFound
	}
	if room.Status == RoomEnded {
		return ErrRoomEnded
	}
	if room.AgentId != 0 {
		return ErrRoomFull
	}

	if err := rr.agents.assign(agentId, roomToken); err != nil {
		return err
	}

	room.AgentId = agentId
	room.Status = RoomConnected
	room.UpdatedAt = time.Now().UTC()

	rr.log.Printf("assigned agent %d to room %q", agentId, roomToken)
	return nil
}

// EndChat moves the room to its terminal state. Ending an already Ended
// room is a no-op success. The first transition releases the assigned agent
// and broadcasts the termination sentinel so live sessions wind down
// through the normal relay path; transports are never force-closed.
func (rr *RoomRegistry) EndChat(roomToken string) error {
	rr.mu.Lock()

	room, ok := rr.rooms[roomToken]
	if !ok {
		rr.mu.Unlock()
		return ErrRoomNotFound
	}
	if room.Status == RoomEnded {
		rr.mu.Unlock()
		return nil
	}

	agentId := room.AgentId
	room.Status = RoomEnded
	room.UpdatedAt = time.Now().UTC()
	rr.mu.Unlock()

	if agentId != 0 {
		rr.agents.release(agentId, roomToken)
	}

	err := rr.hub.Publish(roomToken, Message{
		Content:   EndChatSentinel,
		Timestamp: time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, ErrChannelNotFound) {
		rr.log.Printf("publish end of chat to room %q: %v", roomToken, err)
	}

	rr.log.Printf("ended room %q", roomToken)
	return nil
}

// IsMember reports whether userId is the room's customer.
func (rr *RoomRegistry) IsMember(roomToken string, userId int) bool {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	room, ok := rr.rooms[roomToken]
	return ok && room.CustomerId == userId
}

func (rr *RoomRegistry) Lookup(roomToken string) (Room, bool) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	room, ok := rr.rooms[roomToken]
	if !ok {
		return Room{}, false
	}
	return *room, true
}

// WaitingRooms lists rooms still waiting for an agent, oldest first.
func (rr *RoomRegistry) WaitingRooms() []Room {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	var waiting []Room
	for _, room := range rr.rooms {
		if room.Status == RoomWaiting {
			waiting = append(waiting, *room)
		}
	}

	sort.Slice(waiting, func(i, j int) bool {
		if waiting[i].CreatedAt.Equal(waiting[j].CreatedAt) {
			return waiting[i].Id < waiting[j].Id
		}
		return waiting[i].CreatedAt.Before(waiting[j].CreatedAt)
	})

	return waiting
}

// Remove drops the in-memory record. Callers must only invoke this once the
// room's relay channel has been retired; the persisted record is untouched.
func (rr *RoomRegistry) Remove(roomToken string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()

	if _, ok := rr.rooms[roomToken]; ok {
		delete(rr.rooms, roomToken)
		rr.log.Printf("removed room %q", roomToken)
	}
}
