package chat

import (
	"log"
	"sync"
	"time"
)

// Agent is an in-memory record for a support agent known to the relay. The
// room token is set only while the agent is not Available.
type Agent struct {
	Id         int
	Name       string
	Status     AgentStatus
	RoomToken  string
	LastActive time.Time
}

type AgentRegistry struct {
	mu     sync.RWMutex
	agents map[int]*Agent
	log    *log.Logger
}

func NewAgentRegistry(logger *log.Logger) *AgentRegistry {
	return &AgentRegistry{
		agents: make(map[int]*Agent),
		log:    logger,
	}
}

// Register adds an agent to the registry as Available. Re-registering an
// already known agent only refreshes its activity timestamp so an agent
// mid-conversation is not reset by a second login.
func (ar *AgentRegistry) Register(id int, name string) {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	if agent, ok := ar.agents[id]; ok {
		agent.LastActive = time.Now().UTC()
		return
	}

	ar.agents[id] = &Agent{
		Id:         id,
		Name:       name,
		Status:     AgentAvailable,
		LastActive: time.Now().UTC(),
	}
	ar.log.Printf("registered agent %d (%s)", id, name)
}

// FindAvailable returns the Available agent that has been idle the longest.
// Ties break on the lower agent id so selection is deterministic.
func (ar *AgentRegistry) FindAvailable() (int, bool) {
	ar.mu.RLock()
	defer ar.mu.RUnlock()

	var best *Agent
	for _, agent := range ar.agents {
		if agent.Status != AgentAvailable {
			continue
		}
		if best == nil ||
			agent.LastActive.Before(best.LastActive) ||
			(agent.LastActive.Equal(best.LastActive) && agent.Id < best.Id) {
			best = agent
		}
	}

	if best == nil {
		return 0, false
	}
	return best.Id, true
}

// UpdateStatus sets the agent's status and refreshes its activity timestamp.
// Moving back to Available clears the room reference.
func (ar *AgentRegistry) UpdateStatus(id int, status AgentStatus) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	agent, ok := ar.agents[id]
	if !ok {
		return ErrAgentNotFound
	}

	agent.Status = status
	agent.LastActive = time.Now().UTC()
	if status == AgentAvailable {
		agent.RoomToken = ""
	}

	return nil
}

func (ar *AgentRegistry) Get(id int) (Agent, bool) {
	ar.mu.RLock()
	defer ar.mu.RUnlock()

	agent, ok := ar.agents[id]
	if !ok {
		return Agent{}, false
	}
	return *agent, true
}

// assign marks the agent busy with the given room. It is called with the
// room registry's lock held so the two-sided update is observed atomically;
// the lock order is always rooms before agents.
func (ar *AgentRegistry) assign(id int, roomToken string) error {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	agent, ok := ar.agents[id]
	if !ok {
		return ErrAgentNotFound
	}

	agent.Status = AgentBusy
	agent.RoomToken = roomToken
	agent.LastActive = time.Now().UTC()

	return nil
}

// release returns the agent to Available if it is still attached to the
// given room.
func (ar *AgentRegistry) release(id int, roomToken string) {
	ar.mu.Lock()
	defer ar.mu.Unlock()

	agent, ok := ar.agents[id]
	if !ok || agent.RoomToken != roomToken {
		return
	}

	agent.Status = AgentAvailable
	agent.RoomToken = ""
	agent.LastActive = time.Now().UTC()
}
