package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"bp-api-service/internal/domain/model"
	"bp-api-service/internal/domain/ports/storage"
)

const (
	writeWait = 5 * time.Second

	// Queued events per subscriber. A subscriber whose queue is full is
	// dropped so it can never stall the dispatcher's commit path.
	sendQueueSize = 16
)

// statusEvent is pushed to every socket subscribed to the job's task group
// whenever the dispatcher commits a transition.
type statusEvent struct {
	Key         string `json:"key"`
	Status      string `json:"status"`
	Tier        string `json:"tier"`
	ErrorDetail string `json:"error_detail,omitempty"`
	ResultURL   string `json:"result_url,omitempty"`
}

// client owns one socket. All writes happen in its writePump goroutine;
// gorilla permits a single concurrent writer per connection, and the
// per-client queue keeps transitions ordered.
type client struct {
	conn *websocket.Conn
	send chan statusEvent
}

func (c *client) writePump() {
	defer c.conn.Close()
	for event := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteJSON(event); err != nil {
			return
		}
	}
}

// Hub tracks WebSocket subscribers per task group and fans job transitions
// out to them. It satisfies the dispatcher's Notifier port and serves the
// subscription endpoint itself.
type Hub struct {
	upgrader websocket.Upgrader
	media    storage.MediaStore
	log      *zerolog.Logger

	mu     sync.RWMutex
	groups map[string]map[*client]struct{}
}

func NewHub(media storage.MediaStore, logger *zerolog.Logger) *Hub {
	l := logger.With().Str("component", "WSHub").Logger()
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		media:  media,
		log:    &l,
		groups: map[string]map[*client]struct{}{},
	}
}

// ServeHTTP upgrades the connection and keeps it subscribed to its task
// group until the client goes away. Inbound frames are drained and ignored;
// the socket is push-only.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	group := chi.URLParam(r, "taskGroup")
	if _, err := uuid.Parse(group); err != nil {
		http.Error(w, "task group must be a UUID", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	c := &client{conn: conn, send: make(chan statusEvent, sendQueueSize)}
	h.add(group, c)
	defer h.remove(group, c)
	go c.writePump()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// JobUpdated implements the dispatcher's notifier port. Events are handed to
// each subscriber's queue without blocking; the actual socket writes happen
// in the per-client pump, so a slow client never delays a transition commit.
func (h *Hub) JobUpdated(ctx context.Context, job *model.Job) {
	event := statusEvent{
		Key:         job.ID,
		Status:      string(job.Status),
		Tier:        string(job.Tier),
		ErrorDetail: job.ErrorDetail,
	}
	if job.OutputKey != "" {
		event.ResultURL = h.media.URLFor(job.OutputKey)
	}

	var stalled []*client
	h.mu.RLock()
	for c := range h.groups[job.TaskGroup] {
		select {
		case c.send <- event:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stalled {
		h.log.Warn().Str("task_group", job.TaskGroup).Msg("dropping stalled subscriber")
		h.remove(job.TaskGroup, c)
	}
}

// Subscribers reports how many sockets are attached to a task group.
func (h *Hub) Subscribers(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

func (h *Hub) add(group string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.groups[group] == nil {
		h.groups[group] = map[*client]struct{}{}
	}
	h.groups[group][c] = struct{}{}
}

// remove detaches a client and closes its queue, ending the write pump. The
// map membership check keeps the close single-shot when both the read loop
// and a stalled-queue drop race to remove the same client.
func (h *Hub) remove(group string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.groups[group]
	if !ok {
		return
	}
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	close(c.send)
	if len(conns) == 0 {
		delete(h.groups, group)
	}
}
