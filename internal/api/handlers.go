package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"github.com/supportchat/go-supportchat/internal/chat"
	"github.com/supportchat/go-supportchat/internal/database"
	"github.com/supportchat/go-supportchat/internal/types"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UpdateAgentStatusRequest struct {
	Status string `json:"status"`
}

type CreateRoomResponse struct {
	Room types.Room `json:"room"`
}

func (s *SupportChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *SupportChatApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Printf("health check: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *SupportChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Name == "" || req.Email == "" || req.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if req.Role == "" {
		req.Role = userRole
	}
	role, err := chat.ParseRole(req.Role)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	params := database.CreateAccountParams{
		Name:         req.Name,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
		Role:         role.String(),
	}

	newUser, err := s.db.CreateAccount(params)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, types.User{
		Id:           newUser.Id,
		Name:         newUser.Name,
		EmailAddress: newUser.EmailAddress,
		Role:         newUser.Role,
		CreatedAt:    newUser.CreatedAt,
		UpdatedAt:    newUser.UpdatedAt,
	})
}

func (s *SupportChatApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	dbUser, err := s.db.GetAccountByEmail(lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !verifyPassword(dbUser.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	u := types.User{
		Id:           dbUser.Id,
		Name:         dbUser.Name,
		EmailAddress: dbUser.EmailAddress,
		Role:         dbUser.Role,
		CreatedAt:    dbUser.CreatedAt,
		UpdatedAt:    dbUser.UpdatedAt,
	}

	// agents become visible to assignment once they log in
	if u.Role == agentRole {
		s.agents.Register(u.Id, u.Name)
	}

	token, err := s.createJwtForSession(u, defaultJwtExpiration)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultJwtExpiration))

	s.writeJson(w, http.StatusOK, u)
}

func (s *SupportChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// instruct browser to delete cookie by overwriting it with an expired token
	http.SetCookie(w, createJwtCookie("", time.Duration(time.Unix(0, 0).Unix())))
	w.WriteHeader(http.StatusNoContent)
}

func (s *SupportChatApp) session(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetAccountById(userId)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, types.User{
		Id:           user.Id,
		Name:         user.Name,
		EmailAddress: user.EmailAddress,
		Role:         user.Role,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	})
}

func (s *SupportChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if role, _ := UserRole(r.Context()); role != userRole {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, err := s.rooms.Create(userId)
	if err != nil {
		s.log.Printf("create room: %v", err)
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusCreated, CreateRoomResponse{Room: roomResponse(room)})
}

func (s *SupportChatApp) waitingRooms(w http.ResponseWriter, _ *http.Request) {
	var rooms []types.Room
	for _, room := range s.rooms.WaitingRooms() {
		rooms = append(rooms, roomResponse(room))
	}

	s.writeJson(w, http.StatusOK, rooms)
}

// assignAgent attaches an agent to a waiting room. An agent assigns itself;
// a customer asking for help on its own room gets whichever registered
// agent has been available the longest.
func (s *SupportChatApp) assignAgent(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token := r.PathValue("token")
	role, _ := UserRole(r.Context())

	var agentId int
	switch role {
	case agentRole:
		agentId = userId
	case userRole:
		if !s.rooms.IsMember(token, userId) {
			errResp := NewForbiddenError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}

		id, found := s.agents.FindAvailable()
		if !found {
			errResp := NewServiceUnavailableError("no agent available")
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
		agentId = id
	default:
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.rooms.AssignAgent(token, agentId); err != nil {
		var errResp *ApiError
		switch {
		case errors.Is(err, chat.ErrRoomNotFound), errors.Is(err, chat.ErrAgentNotFound):
			errResp = NewNotFoundError()
		case errors.Is(err, chat.ErrRoomFull):
			errResp = NewConflictError("room already has an agent")
		case errors.Is(err, chat.ErrRoomEnded):
			errResp = NewConflictError("room has ended")
		default:
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	room, _ := s.rooms.Lookup(token)
	s.writeJson(w, http.StatusOK, roomResponse(room))
}

func (s *SupportChatApp) endChat(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token := r.PathValue("token")
	room, found := s.rooms.Lookup(token)
	if !found {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if room.CustomerId != userId && room.AgentId != userId {
		errResp := NewForbiddenError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.rooms.EndChat(token); err != nil {
		var errResp *ApiError
		if errors.Is(err, chat.ErrRoomNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusNoContent, nil)
}

func (s *SupportChatApp) updateAgentStatus(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	var req UpdateAgentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	status, err := chat.ParseAgentStatus(req.Status)
	if err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if err := s.agents.UpdateStatus(userId, status); err != nil {
		var errResp *ApiError
		if errors.Is(err, chat.ErrAgentNotFound) {
			errResp = NewNotFoundError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	agent, _ := s.agents.Get(userId)
	s.writeJson(w, http.StatusOK, types.Agent{
		Id:         agent.Id,
		Name:       agent.Name,
		Status:     agent.Status.String(),
		RoomToken:  agent.RoomToken,
		LastActive: agent.LastActive,
	})
}

// serveWs joins the caller to a room and upgrades the connection. A
// customer must own the room; an agent must already be, or atomically
// become, the room's assigned agent. There are no unassigned observers.
func (s *SupportChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	token := r.PathValue("token")
	room, found := s.rooms.Lookup(token)
	if !found {
		errResp := NewNotFoundError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	roleStr, _ := UserRole(r.Context())
	role, err := chat.ParseRole(roleStr)
	if err != nil {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	switch role {
	case chat.RoleUser:
		if !s.rooms.IsMember(token, userId) {
			errResp := NewUnauthorizedError()
			s.writeJson(w, errResp.StatusCode, errResp)
			return
		}
	case chat.RoleAgent:
		if room.AgentId != userId {
			if room.AgentId != 0 {
				errResp := NewConflictError("room already has an agent")
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}

			if err := s.rooms.AssignAgent(token, userId); err != nil {
				var errResp *ApiError
				switch {
				case errors.Is(err, chat.ErrRoomFull), errors.Is(err, chat.ErrRoomEnded):
					errResp = NewConflictError(err.Error())
				case errors.Is(err, chat.ErrAgentNotFound):
					errResp = NewUnauthorizedError()
				default:
					errResp = NewInternalServerError(err)
				}
				s.writeJson(w, errResp.StatusCode, errResp)
				return
			}
		}
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			// only allow connections from allowed origins
			origin := r.Header.Get("Origin")
			if origin == "" {
				// if no origin header, allow the request
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	sess, err := chat.NewSession(token, userId, role, conn, s.hub, s.rooms, s.log, s.stats)
	if err != nil {
		s.log.Println("new session:", err)
		conn.Close()
		return
	}

	go sess.WriteLoop()
	go sess.ReadLoop()
}

func roomResponse(room chat.Room) types.Room {
	return types.Room{
		Id:         room.Id,
		Token:      room.Token,
		CustomerId: room.CustomerId,
		AgentId:    room.AgentId,
		Status:     room.Status.String(),
		CreatedAt:  room.CreatedAt,
		UpdatedAt:  room.UpdatedAt,
	}
}
