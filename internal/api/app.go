package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/supportchat/go-supportchat/internal/chat"
	"github.com/supportchat/go-supportchat/internal/config"
	"github.com/supportchat/go-supportchat/internal/database"
	"github.com/supportchat/go-supportchat/internal/stats"
)

const (
	userRole  = "user"
	agentRole = "agent"
)

type SupportChatApp struct {
	log            *log.Logger
	db             database.SupportChatRepository
	mux            *http.Server
	rooms          *chat.RoomRegistry
	agents         *chat.AgentRegistry
	hub            *chat.RelayHub
	stats          stats.StatsProvider
	signingKey     []byte
	allowedOrigins []string
}

func NewSupportChatApp(mux *http.ServeMux, logger *log.Logger, db database.SupportChatRepository,
	rooms *chat.RoomRegistry, agents *chat.AgentRegistry, hub *chat.RelayHub,
	sp stats.StatsProvider, cfg *config.Config) *SupportChatApp {
	s := &SupportChatApp{
		log:            logger,
		db:             db,
		rooms:          rooms,
		agents:         agents,
		hub:            hub,
		stats:          sp,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	sp.RegisterMetric("ActiveSessions")

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("GET /api/rooms/waiting", s.authMiddleware(s.agentOnly(s.waitingRooms)))
	mux.Handle("POST /api/rooms/{token}/assign", s.authMiddleware(s.assignAgent))
	mux.Handle("POST /api/rooms/{token}/end", s.authMiddleware(s.endChat))
	mux.Handle("POST /api/agents/status", s.authMiddleware(s.agentOnly(s.updateAgentStatus)))
	mux.Handle("GET /ws/{token}", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *SupportChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *SupportChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
