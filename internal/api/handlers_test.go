package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/supportchat/go-supportchat/internal/chat"
	"github.com/supportchat/go-supportchat/internal/config"
	"github.com/supportchat/go-supportchat/internal/database"
	"github.com/supportchat/go-supportchat/internal/stats"
	"github.com/supportchat/go-supportchat/internal/types"
)

func newTestApp(t *testing.T, repo database.SupportChatRepository) *SupportChatApp {
	t.Helper()

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return()
	su.On("Incr", mock.Anything).Return()
	su.On("Decr", mock.Anything).Return()

	hub := chat.NewRelayHub(log.Default(), su)
	agents := chat.NewAgentRegistry(log.Default())
	rooms := chat.NewRoomRegistry(log.Default(), repo, hub, agents)

	cfg := &config.Config{
		ServerAddr:     "localhost:8080",
		SigningKey:     []byte("test-signing-key"),
		AllowedOrigins: []string{"http://localhost:8080"},
	}

	return NewSupportChatApp(http.NewServeMux(), log.Default(), repo, rooms, agents, hub, su, cfg)
}

func mockRoomCreation(repo *database.MockSupportChatRepository, token string, customerId int) {
	repo.On("CreateRoom", mock.Anything).Return(database.Room{
		Id:         1,
		Token:      token,
		CustomerId: customerId,
		Status:     "Waiting",
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}, nil).Once()
}

func decodeApiError(t *testing.T, rr *httptest.ResponseRecorder) ApiError {
	t.Helper()

	var apiErr ApiError
	err := json.NewDecoder(rr.Body).Decode(&apiErr)
	assert.NoError(t, err, "failed to decode error response")
	return apiErr
}

func Test_healthCheck(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("Ping").Return(nil).Once()

		app := newTestApp(t, mockRepo)

		rr := httptest.NewRecorder()
		app.healthCheck(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "OK", rr.Body.String())
	})

	t.Run("database unreachable", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("Ping").Return(errors.New("connection refused")).Once()

		app := newTestApp(t, mockRepo)

		rr := httptest.NewRecorder()
		app.healthCheck(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func Test_createAccount(t *testing.T) {
	mockUser := database.User{
		Id:           1,
		Name:         "testuser",
		EmailAddress: "testuser@example.com",
		PasswordHash: "examplehash",
		Role:         "user",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	tcases := []struct {
		name         string
		body         string
		mockUser     database.User
		mockErr      error
		expectedRole string
		expectedErr  *ApiError
		expectDbCall bool
	}{
		{
			name:         "successful registration defaults to user role",
			body:         `{"name":"testuser","email":"testuser@example.com","password":"password"}`,
			mockUser:     mockUser,
			expectedRole: "user",
			expectDbCall: true,
		},
		{
			name: "agent registration",
			body: `{"name":"testagent","email":"agent@example.com","password":"password","role":"agent"}`,
			mockUser: database.User{
				Id: 2, Name: "testagent", EmailAddress: "agent@example.com", Role: "agent",
			},
			expectedRole: "agent",
			expectDbCall: true,
		},
		{
			name:        "invalid json",
			body:        `{invalid`,
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "missing fields",
			body:        `{"name":"testuser"}`,
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "unknown role",
			body:        `{"name":"testuser","email":"testuser@example.com","password":"password","role":"admin"}`,
			expectedErr: NewBadRequestError(),
		},
		{
			name:         "database error",
			body:         `{"name":"testuser","email":"testuser@example.com","password":"password"}`,
			mockErr:      errors.New("db error"),
			expectedErr:  NewInternalServerError(nil),
			expectDbCall: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockSupportChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.expectDbCall {
				mockRepo.On("CreateAccount", mock.MatchedBy(func(params database.CreateAccountParams) bool {
					return params.Role == tc.expectedRole && params.PasswordHash != "password"
				})).Return(tc.mockUser, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			app.createAccount(rr, req)

			if tc.expectedErr != nil {
				assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
				apiErr := decodeApiError(t, rr)
				assert.Equal(t, *tc.expectedErr, apiErr, "expected ApiError response")
				return
			}

			assert.Equal(t, http.StatusCreated, rr.Code)
			var user types.User
			assert.NoError(t, json.NewDecoder(rr.Body).Decode(&user), "failed to decode response")
			assert.Equal(t, tc.mockUser.Id, user.Id, "expected user id to match")
			assert.Equal(t, tc.mockUser.Role, user.Role, "expected role to match")
			assert.Empty(t, user.Password, "expected password not to be returned")
		})
	}
}

func Test_login(t *testing.T) {
	passwordHash, err := hashPassword("password")
	assert.NoError(t, err, "failed to hash test password")

	mockUser := database.User{
		Id:           1,
		Name:         "testuser",
		EmailAddress: "testuser@example.com",
		PasswordHash: passwordHash,
		Role:         "user",
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}

	t.Run("successful login sets a session cookie", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountByEmail", mockUser.EmailAddress).Return(mockUser, nil).Once()

		app := newTestApp(t, mockRepo)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email":"testuser@example.com","password":"password"}`))
		rr := httptest.NewRecorder()
		app.login(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		cookie := findCookie(rr.Result().Cookies(), tokenCookieKey)
		assert.NotNil(t, cookie, "expected a token cookie to be set")
		assert.NotEmpty(t, cookie.Value, "expected the token cookie to carry a token")

		userId, role, err := app.extractSessionFromToken(cookie.Value)
		assert.NoError(t, err, "expected the cookie token to be valid")
		assert.Equal(t, mockUser.Id, userId, "expected the token to identify the user")
		assert.Equal(t, mockUser.Role, role, "expected the token to carry the role")

		// customers are not placed in the agent registry
		_, ok := app.agents.Get(mockUser.Id)
		assert.False(t, ok, "expected customer not to be registered as an agent")
	})

	t.Run("agent login registers the agent", func(t *testing.T) {
		agentUser := mockUser
		agentUser.Id = 7
		agentUser.Role = "agent"

		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountByEmail", agentUser.EmailAddress).Return(agentUser, nil).Once()

		app := newTestApp(t, mockRepo)

		req := httptest.NewRequest(http.MethodPost, "/api/auth/login",
			strings.NewReader(`{"email":"testuser@example.com","password":"password"}`))
		rr := httptest.NewRecorder()
		app.login(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		agent, ok := app.agents.Get(agentUser.Id)
		assert.True(t, ok, "expected agent to be registered on login")
		assert.Equal(t, chat.AgentAvailable, agent.Status, "expected newly registered agent to be Available")
	})

	errorTestCases := []struct {
		name        string
		body        string
		mockErr     error
		expectedErr *ApiError
		expectCall  bool
	}{
		{
			name:        "invalid json",
			body:        `{invalid`,
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "missing credentials",
			body:        `{"email":"testuser@example.com"}`,
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "unknown account",
			body:        `{"email":"testuser@example.com","password":"password"}`,
			mockErr:     sql.ErrNoRows,
			expectedErr: NewNotFoundError(),
			expectCall:  true,
		},
		{
			name:        "wrong password",
			body:        `{"email":"testuser@example.com","password":"wrong"}`,
			expectedErr: NewUnauthorizedError(),
			expectCall:  true,
		},
	}

	for _, tc := range errorTestCases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockSupportChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.expectCall {
				user := mockUser
				if tc.mockErr != nil {
					user = database.User{}
				}
				mockRepo.On("GetAccountByEmail", mockUser.EmailAddress).Return(user, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo)

			req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(tc.body))
			rr := httptest.NewRecorder()
			app.login(rr, req)

			assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
			apiErr := decodeApiError(t, rr)
			assert.Equal(t, *tc.expectedErr, apiErr, "expected ApiError response")
		})
	}
}

func Test_logout(t *testing.T) {
	app := newTestApp(t, &database.MockSupportChatRepository{})

	rr := httptest.NewRecorder()
	app.logout(rr, httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil))

	assert.Equal(t, http.StatusNoContent, rr.Code)

	cookie := findCookie(rr.Result().Cookies(), tokenCookieKey)
	assert.NotNil(t, cookie, "expected the token cookie to be overwritten")
	assert.Empty(t, cookie.Value, "expected the token cookie to be cleared")
	assert.True(t, cookie.Expires.Before(time.Now()), "expected the token cookie to be expired")
}

func Test_session(t *testing.T) {
	t.Run("returns the current user", func(t *testing.T) {
		mockUser := database.User{
			Id:           1,
			Name:         "testuser",
			EmailAddress: "testuser@example.com",
			Role:         "user",
		}

		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("GetAccountById", mockUser.Id).Return(mockUser, nil).Once()

		app := newTestApp(t, mockRepo)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req = req.WithContext(WithSession(req.Context(), mockUser.Id, mockUser.Role))
		rr := httptest.NewRecorder()
		app.session(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var user types.User
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&user), "failed to decode response")
		assert.Equal(t, mockUser.Id, user.Id, "expected user id to match")
	})

	t.Run("unauthenticated", func(t *testing.T) {
		app := newTestApp(t, &database.MockSupportChatRepository{})

		rr := httptest.NewRecorder()
		app.session(rr, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func Test_createRoom(t *testing.T) {
	t.Run("customer creates a waiting room", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRoomCreation(mockRepo, "room-token", 42)

		app := newTestApp(t, mockRepo)

		req := httptest.NewRequest(http.MethodPost, "/api/rooms", nil)
		req = req.WithContext(WithSession(req.Context(), 42, userRole))
		rr := httptest.NewRecorder()
		app.createRoom(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)
		var resp CreateRoomResponse
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp), "failed to decode response")
		assert.Equal(t, "room-token", resp.Room.Token, "expected room token to match")
		assert.Equal(t, 42, resp.Room.CustomerId, "expected customer id to match")
		assert.Equal(t, "Waiting", resp.Room.Status, "expected a waiting room")
		assert.True(t, app.hub.HasChannel(resp.Room.Token), "expected a relay channel for the new room")
	})

	t.Run("agents cannot open rooms", func(t *testing.T) {
		app := newTestApp(t, &database.MockSupportChatRepository{})

		req := httptest.NewRequest(http.MethodPost, "/api/rooms", nil)
		req = req.WithContext(WithSession(req.Context(), 7, agentRole))
		rr := httptest.NewRecorder()
		app.createRoom(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		app := newTestApp(t, &database.MockSupportChatRepository{})

		rr := httptest.NewRecorder()
		app.createRoom(rr, httptest.NewRequest(http.MethodPost, "/api/rooms", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRepo.On("CreateRoom", mock.Anything).Return(database.Room{}, errors.New("db error")).Once()

		app := newTestApp(t, mockRepo)

		req := httptest.NewRequest(http.MethodPost, "/api/rooms", nil)
		req = req.WithContext(WithSession(req.Context(), 42, userRole))
		rr := httptest.NewRecorder()
		app.createRoom(rr, req)

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
	})
}

func Test_waitingRooms(t *testing.T) {
	mockRepo := &database.MockSupportChatRepository{}
	defer mockRepo.AssertExpectations(t)
	mockRoomCreation(mockRepo, "room-a", 42)

	app := newTestApp(t, mockRepo)
	_, err := app.rooms.Create(42)
	assert.NoError(t, err, "failed to create room")

	req := httptest.NewRequest(http.MethodGet, "/api/rooms/waiting", nil)
	req = req.WithContext(WithSession(req.Context(), 7, agentRole))
	rr := httptest.NewRecorder()
	app.waitingRooms(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	var rooms []types.Room
	assert.NoError(t, json.NewDecoder(rr.Body).Decode(&rooms), "failed to decode response")
	assert.Len(t, rooms, 1, "expected one waiting room")
	assert.Equal(t, "room-a", rooms[0].Token, "expected room token to match")
}

func Test_assignAgent(t *testing.T) {
	t.Run("agent assigns itself", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRoomCreation(mockRepo, "room-a", 42)

		app := newTestApp(t, mockRepo)
		room, err := app.rooms.Create(42)
		assert.NoError(t, err, "failed to create room")
		app.agents.Register(7, "alice")

		req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+room.Token+"/assign", nil)
		req.SetPathValue("token", room.Token)
		req = req.WithContext(WithSession(req.Context(), 7, agentRole))
		rr := httptest.NewRecorder()
		app.assignAgent(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp types.Room
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp), "failed to decode response")
		assert.Equal(t, 7, resp.AgentId, "expected agent id to be set")
		assert.Equal(t, "Connected", resp.Status, "expected room to be Connected")
	})

	t.Run("customer requests any available agent", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRoomCreation(mockRepo, "room-a", 42)

		app := newTestApp(t, mockRepo)
		room, err := app.rooms.Create(42)
		assert.NoError(t, err, "failed to create room")
		app.agents.Register(7, "alice")

		req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+room.Token+"/assign", nil)
		req.SetPathValue("token", room.Token)
		req = req.WithContext(WithSession(req.Context(), 42, userRole))
		rr := httptest.NewRecorder()
		app.assignAgent(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var resp types.Room
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&resp), "failed to decode response")
		assert.Equal(t, 7, resp.AgentId, "expected the available agent to be picked")
	})

	t.Run("no agent available", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRoomCreation(mockRepo, "room-a", 42)

		app := newTestApp(t, mockRepo)
		room, err := app.rooms.Create(42)
		assert.NoError(t, err, "failed to create room")

		req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+room.Token+"/assign", nil)
		req.SetPathValue("token", room.Token)
		req = req.WithContext(WithSession(req.Context(), 42, userRole))
		rr := httptest.NewRecorder()
		app.assignAgent(rr, req)

		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("customer cannot touch another customer's room", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRoomCreation(mockRepo, "room-a", 42)

		app := newTestApp(t, mockRepo)
		room, err := app.rooms.Create(42)
		assert.NoError(t, err, "failed to create room")

		req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+room.Token+"/assign", nil)
		req.SetPathValue("token", room.Token)
		req = req.WithContext(WithSession(req.Context(), 99, userRole))
		rr := httptest.NewRecorder()
		app.assignAgent(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("room already has an agent", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRoomCreation(mockRepo, "room-a", 42)

		app := newTestApp(t, mockRepo)
		room, err := app.rooms.Create(42)
		assert.NoError(t, err, "failed to create room")
		app.agents.Register(7, "alice")
		app.agents.Register(8, "bob")
		assert.NoError(t, app.rooms.AssignAgent(room.Token, 7))

		req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+room.Token+"/assign", nil)
		req.SetPathValue("token", room.Token)
		req = req.WithContext(WithSession(req.Context(), 8, agentRole))
		rr := httptest.NewRecorder()
		app.assignAgent(rr, req)

		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("unknown room", func(t *testing.T) {
		app := newTestApp(t, &database.MockSupportChatRepository{})

		req := httptest.NewRequest(http.MethodPost, "/api/rooms/missing/assign", nil)
		req.SetPathValue("token", "missing")
		req = req.WithContext(WithSession(req.Context(), 7, agentRole))
		rr := httptest.NewRecorder()
		app.assignAgent(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_endChat(t *testing.T) {
	t.Run("member ends the chat", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRoomCreation(mockRepo, "room-a", 42)

		app := newTestApp(t, mockRepo)
		room, err := app.rooms.Create(42)
		assert.NoError(t, err, "failed to create room")

		req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+room.Token+"/end", nil)
		req.SetPathValue("token", room.Token)
		req = req.WithContext(WithSession(req.Context(), 42, userRole))
		rr := httptest.NewRecorder()
		app.endChat(rr, req)

		assert.Equal(t, http.StatusNoContent, rr.Code)
		got, ok := app.rooms.Lookup(room.Token)
		assert.True(t, ok, "expected room to still be registered")
		assert.Equal(t, chat.RoomEnded, got.Status, "expected room to be Ended")
	})

	t.Run("outsiders cannot end the chat", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRoomCreation(mockRepo, "room-a", 42)

		app := newTestApp(t, mockRepo)
		room, err := app.rooms.Create(42)
		assert.NoError(t, err, "failed to create room")

		req := httptest.NewRequest(http.MethodPost, "/api/rooms/"+room.Token+"/end", nil)
		req.SetPathValue("token", room.Token)
		req = req.WithContext(WithSession(req.Context(), 99, userRole))
		rr := httptest.NewRecorder()
		app.endChat(rr, req)

		assert.Equal(t, http.StatusForbidden, rr.Code)
	})

	t.Run("unknown room", func(t *testing.T) {
		app := newTestApp(t, &database.MockSupportChatRepository{})

		req := httptest.NewRequest(http.MethodPost, "/api/rooms/missing/end", nil)
		req.SetPathValue("token", "missing")
		req = req.WithContext(WithSession(req.Context(), 42, userRole))
		rr := httptest.NewRecorder()
		app.endChat(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_updateAgentStatus(t *testing.T) {
	t.Run("successful update", func(t *testing.T) {
		app := newTestApp(t, &database.MockSupportChatRepository{})
		app.agents.Register(7, "alice")

		req := httptest.NewRequest(http.MethodPost, "/api/agents/status", strings.NewReader(`{"status":"Away"}`))
		req = req.WithContext(WithSession(req.Context(), 7, agentRole))
		rr := httptest.NewRecorder()
		app.updateAgentStatus(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		var agent types.Agent
		assert.NoError(t, json.NewDecoder(rr.Body).Decode(&agent), "failed to decode response")
		assert.Equal(t, "Away", agent.Status, "expected status to be updated")
	})

	t.Run("unknown status", func(t *testing.T) {
		app := newTestApp(t, &database.MockSupportChatRepository{})
		app.agents.Register(7, "alice")

		req := httptest.NewRequest(http.MethodPost, "/api/agents/status", strings.NewReader(`{"status":"Offline"}`))
		req = req.WithContext(WithSession(req.Context(), 7, agentRole))
		rr := httptest.NewRecorder()
		app.updateAgentStatus(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("unregistered agent", func(t *testing.T) {
		app := newTestApp(t, &database.MockSupportChatRepository{})

		req := httptest.NewRequest(http.MethodPost, "/api/agents/status", strings.NewReader(`{"status":"Away"}`))
		req = req.WithContext(WithSession(req.Context(), 7, agentRole))
		rr := httptest.NewRecorder()
		app.updateAgentStatus(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_serveWs(t *testing.T) {
	newWsServer := func(t *testing.T, app *SupportChatApp, token string, userId int, role string) *httptest.Server {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.SetPathValue("token", token)
			r = r.WithContext(WithSession(r.Context(), userId, role))
			app.serveWs(w, r)
		}))
		t.Cleanup(srv.Close)
		return srv
	}

	t.Run("customer joins its own room", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRoomCreation(mockRepo, "room-a", 42)

		app := newTestApp(t, mockRepo)
		room, err := app.rooms.Create(42)
		assert.NoError(t, err, "failed to create room")

		srv := newWsServer(t, app, room.Token, 42, userRole)
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		assert.NoError(t, err, "expected websocket upgrade to succeed")
		assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
		defer conn.Close()

		assert.Eventually(t, func() bool {
			return app.hub.SubscriberCount(room.Token) == 1
		}, time.Second, 10*time.Millisecond, "expected the session to subscribe")
	})

	t.Run("agent joining a waiting room is assigned", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRoomCreation(mockRepo, "room-a", 42)

		app := newTestApp(t, mockRepo)
		room, err := app.rooms.Create(42)
		assert.NoError(t, err, "failed to create room")
		app.agents.Register(7, "alice")

		srv := newWsServer(t, app, room.Token, 7, agentRole)
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		assert.NoError(t, err, "expected websocket upgrade to succeed")
		defer conn.Close()

		got, _ := app.rooms.Lookup(room.Token)
		assert.Equal(t, 7, got.AgentId, "expected agent to be assigned on join")
		assert.Equal(t, chat.RoomConnected, got.Status, "expected room to be Connected")
	})

	t.Run("second agent is rejected", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRoomCreation(mockRepo, "room-a", 42)

		app := newTestApp(t, mockRepo)
		room, err := app.rooms.Create(42)
		assert.NoError(t, err, "failed to create room")
		app.agents.Register(7, "alice")
		app.agents.Register(8, "bob")
		assert.NoError(t, app.rooms.AssignAgent(room.Token, 7))

		srv := newWsServer(t, app, room.Token, 8, agentRole)
		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

		_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		assert.Error(t, err, "expected the upgrade to be refused")
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
	})

	t.Run("customer cannot join another customer's room", func(t *testing.T) {
		mockRepo := &database.MockSupportChatRepository{}
		defer mockRepo.AssertExpectations(t)
		mockRoomCreation(mockRepo, "room-a", 42)

		app := newTestApp(t, mockRepo)
		room, err := app.rooms.Create(42)
		assert.NoError(t, err, "failed to create room")

		req := httptest.NewRequest(http.MethodGet, "/ws/"+room.Token, nil)
		req.SetPathValue("token", room.Token)
		req = req.WithContext(WithSession(req.Context(), 99, userRole))
		rr := httptest.NewRecorder()
		app.serveWs(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unknown room", func(t *testing.T) {
		app := newTestApp(t, &database.MockSupportChatRepository{})

		req := httptest.NewRequest(http.MethodGet, "/ws/missing", nil)
		req.SetPathValue("token", "missing")
		req = req.WithContext(WithSession(req.Context(), 42, userRole))
		rr := httptest.NewRecorder()
		app.serveWs(rr, req)

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("unauthenticated", func(t *testing.T) {
		app := newTestApp(t, &database.MockSupportChatRepository{})

		rr := httptest.NewRecorder()
		app.serveWs(rr, httptest.NewRequest(http.MethodGet, "/ws/room-a", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}
