package chat

import (
	"log"
	"sync"
	"time"

	"github.com/supportchat/go-supportchat/internal/stats"
)

// defaultBufferSize is the per-subscriber message buffer. A full buffer
// drops the oldest message rather than blocking the publisher.
const defaultBufferSize = 100

type Message struct {
	SenderId  int       `json:"sender_id,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscription is one live attachment to a room's relay channel. Its
// message channel is closed by the hub when the subscription is removed or
// the channel is retired.
type Subscription struct {
	roomToken string
	messages  chan Message
}

func (s *Subscription) RoomToken() string {
	return s.roomToken
}

func (s *Subscription) Receive() <-chan Message {
	return s.messages
}

type relayChannel struct {
	subscribers map[*Subscription]struct{}
}

// RelayHub owns one fan-out channel per room. All subscriber-count
// mutation and the retire decision happen under a single lock, so a
// subscriber can never arrive between the zero-count check and removal.
type RelayHub struct {
	mu       sync.Mutex
	channels map[string]*relayChannel
	bufSize  int
	log      *log.Logger
	stats    stats.StatsProvider
}

func NewRelayHub(logger *log.Logger, sp stats.StatsProvider) *RelayHub {
	sp.RegisterMetric("ActiveChannels")
	sp.RegisterMetric("MessagesRelayed")
	sp.RegisterMetric("DroppedMessages")

	return &RelayHub{
		channels: make(map[string]*relayChannel),
		bufSize:  defaultBufferSize,
		log:      logger,
		stats:    sp,
	}
}

// CreateChannel allocates the fan-out channel for a room. It is called at
// room creation, ahead of any connection, and is a no-op if the channel
// already exists.
func (h *RelayHub) CreateChannel(roomToken string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.channels[roomToken]; ok {
		return
	}

	h.channels[roomToken] = &relayChannel{
		subscribers: make(map[*Subscription]struct{}),
	}
	h.stats.Incr("ActiveChannels")
	h.log.Printf("created channel for room %q", roomToken)
}

func (h *RelayHub) Subscribe(roomToken string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[roomToken]
	if !ok {
		return nil, ErrChannelNotFound
	}

	sub := &Subscription{
		roomToken: roomToken,
		messages:  make(chan Message, h.bufSize),
	}
	ch.subscribers[sub] = struct{}{}

	return sub, nil
}

// Publish delivers msg to every currently attached subscriber. Delivery is
// best effort: a subscriber whose buffer is full loses its oldest buffered
// message so the publisher never blocks on a slow consumer.
func (h *RelayHub) Publish(roomToken string, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[roomToken]
	if !ok {
		return ErrChannelNotFound
	}

	for sub := range ch.subscribers {
		select {
		case sub.messages <- msg:
		default:
			select {
			case <-sub.messages:
				h.stats.Incr("DroppedMessages")
			default:
			}
			select {
			case sub.messages <- msg:
			default:
			}
		}
	}
	h.stats.Incr("MessagesRelayed")

	return nil
}

// Unsubscribe detaches the subscription and closes its message channel. The
// last subscriber to leave retires the room's channel.
func (h *RelayHub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[sub.roomToken]
	if !ok {
		return
	}

	if _, ok := ch.subscribers[sub]; !ok {
		return
	}

	delete(ch.subscribers, sub)
	close(sub.messages)

	if len(ch.subscribers) == 0 {
		delete(h.channels, sub.roomToken)
		h.stats.Decr("ActiveChannels")
		h.log.Printf("retired channel for room %q", sub.roomToken)
	}
}

func (h *RelayHub) HasChannel(roomToken string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.channels[roomToken]
	return ok
}

func (h *RelayHub) SubscriberCount(roomToken string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.channels[roomToken]
	if !ok {
		return 0
	}
	return len(ch.subscribers)
}
