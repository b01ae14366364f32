package chat

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/supportchat/go-supportchat/internal/stats"
	"github.com/teris-io/shortid"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// EndChatSentinel is the reserved payload either party sends to end the
// conversation. It is relayed to all subscribers so the peer observes it.
const EndChatSentinel = "종료"

// Session binds one websocket connection to one room as one party. Its two
// loops share no state beyond the subscription, the publish entry point and
// a single stop signal: the first loop to exit cancels the other.
type Session struct {
	id        string
	roomToken string
	userId    int
	role      Role
	conn      *websocket.Conn
	sub       *Subscription
	hub       *RelayHub
	rooms     *RoomRegistry
	log       *log.Logger
	stats     stats.StatsProvider
	stop      chan struct{}
	stopOnce  sync.Once
	closeOnce sync.Once
}

func NewSession(roomToken string, userId int, role Role, conn *websocket.Conn, hub *RelayHub, rooms *RoomRegistry, logger *log.Logger, sp stats.StatsProvider) (*Session, error) {
	sub, err := hub.Subscribe(roomToken)
	if err != nil {
		return nil, fmt.Errorf("subscribe to room %q: %w", roomToken, err)
	}

	sid, err := shortid.Generate()
	if err != nil {
		hub.Unsubscribe(sub)
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	s := &Session{
		id:        sid,
		roomToken: roomToken,
		userId:    userId,
		role:      role,
		conn:      conn,
		sub:       sub,
		hub:       hub,
		rooms:     rooms,
		log:       logger,
		stats:     sp,
		stop:      make(chan struct{}),
	}

	sp.Incr("ActiveSessions")
	logger.Printf("session %s: %s %d connected to room %q", s.id, role, userId, roomToken)

	return s, nil
}

func (s *Session) Id() string {
	return s.id
}

// WriteLoop relays messages from the room's channel to the transport. It
// exits when the subscription is closed, the peer loop stops, or a write
// fails.
func (s *Session) WriteLoop() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.cancel()
		s.teardown()
		s.log.Printf("session %s: write exiting", s.id)
	}()

	for {
		select {
		case msg, ok := <-s.sub.Receive():
			if !ok {
				return
			}

			if !s.writeMessage(websocket.TextMessage, []byte(msg.Content)) {
				return
			}
		case <-s.stop:
			return
		case <-ticker.C:
			if !s.writeMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

// ReadLoop relays frames from the transport to the room's channel. The end
// of chat sentinel moves the room to Ended, which republishes the sentinel
// once for every subscriber, then the loop exits.
func (s *Session) ReadLoop() {
	defer func() {
		s.cancel()
		s.teardown()
		s.log.Printf("session %s: read exiting", s.id)
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(appData string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Printf("session %s: read: %v", s.id, err)
			}
			return
		}

		content := string(raw)
		if content == EndChatSentinel {
			if err := s.rooms.EndChat(s.roomToken); err != nil {
				s.log.Printf("session %s: end chat: %v", s.id, err)
			}
			return
		}

		err = s.hub.Publish(s.roomToken, Message{
			SenderId:  s.userId,
			Content:   content,
			Timestamp: time.Now().UTC(),
		})
		if err != nil {
			s.log.Printf("session %s: publish: %v", s.id, err)
			return
		}
	}
}

func (s *Session) writeMessage(msgType int, msg []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := s.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			s.log.Printf("session %s: write message: %v", s.id, err)
		}
		return false
	}

	return true
}

// cancel signals the peer loop and closes the transport so a blocked read
// returns. Safe to call from both loops.
func (s *Session) cancel() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.conn.Close()
	})
}

// teardown runs exactly once per session, no matter which loop exits
// first: unsubscribe (retiring the channel if this was the last
// attachment), tell the remaining party the peer left, and drop the room
// record once it is Ended and channelless.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.hub.Unsubscribe(s.sub)

		err := s.hub.Publish(s.roomToken, Message{
			Content:   fmt.Sprintf("A user has disconnected from room %s", s.roomToken),
			Timestamp: time.Now().UTC(),
		})
		if err != nil && err != ErrChannelNotFound {
			s.log.Printf("session %s: disconnect notice: %v", s.id, err)
		}

		if room, ok := s.rooms.Lookup(s.roomToken); ok &&
			room.Status == RoomEnded && !s.hub.HasChannel(s.roomToken) {
			s.rooms.Remove(s.roomToken)
		}

		s.stats.Decr("ActiveSessions")
		s.log.Printf("session %s: %s %d disconnected from room %q", s.id, s.role, s.userId, s.roomToken)
	})
}
