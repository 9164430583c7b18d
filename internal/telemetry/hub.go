// Package telemetry streams generation frames to websocket clients and turns
// their messages into operator commands for the running scape.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"carsim/internal/scape"
)

const (
	EventHello  = "hello"
	EventFrame  = "frame"
	EventReport = "report"
	EventError  = "error"

	ActionRemove    = "remove"
	ActionSpeedUp   = "speed_up"
	ActionSpeedDown = "speed_down"
	ActionQuit      = "quit"

	// SpeedButtonDelta is how far one speed button press moves the ceiling.
	SpeedButtonDelta = 1.0

	clientBuffer    = 128
	broadcastBuffer = 256
	writeWait       = 5 * time.Second
)

var ErrUnknownAction = errors.New("unknown action")

type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type RemovePayload struct {
	ID string `json:"id"`
}

type HelloPayload struct {
	ClientID string `json:"client_id"`
}

// Commander accepts operator commands. *scape.RaceScape satisfies it.
type Commander interface {
	Submit(cmd scape.Command) error
}

// Client is one websocket connection. The hub closes send to disconnect it;
// replies carries direct answers to the client's own messages and is never
// closed.
type Client struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	replies chan []byte
}

// Hub owns the client set. Only Run touches the map; everything else talks to
// it over channels.
type Hub struct {
	log        *slog.Logger
	upgrader   websocket.Upgrader
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	done       chan struct{}
	runOnce    sync.Once
	count      atomic.Int32
	dropped    atomic.Int64

	mu        sync.RWMutex
	commander Commander
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		log:        logger.With("component", "telemetry"),
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:    map[*Client]bool{},
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, broadcastBuffer),
		done:       make(chan struct{}),
	}
}

// Attach sets the scape that receives client commands.
func (h *Hub) Attach(c Commander) {
	h.mu.Lock()
	h.commander = c
	h.mu.Unlock()
}

func (h *Hub) Clients() int { return int(h.count.Load()) }

// Dropped counts frames discarded because the broadcast queue was full.
func (h *Hub) Dropped() int64 { return h.dropped.Load() }

// Run serves register, unregister and broadcast until ctx is done, then
// closes every client. Only the first call runs the loop; later calls wait
// for it to finish.
func (h *Hub) Run(ctx context.Context) {
	h.runOnce.Do(func() { h.loop(ctx) })
}

func (h *Hub) loop(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			h.count.Add(1)
			h.log.Info("client connected", "client", c.id, "clients", len(h.clients))
		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
				h.log.Info("client disconnected", "client", c.id, "clients", len(h.clients))
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					h.drop(c)
					h.log.Warn("slow client dropped", "client", c.id)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	close(c.send)
	h.count.Add(-1)
}

// ObserveFrame implements scape.Observer. It never blocks the session: when
// the queue is full the frame is dropped.
func (h *Hub) ObserveFrame(f scape.Frame) {
	h.publish(EventFrame, f)
}

func (h *Hub) PublishReport(r scape.Report) {
	h.publish(EventReport, r)
}

func (h *Hub) publish(event string, payload any) {
	msg, err := encode(event, payload)
	if err != nil {
		h.log.Error("encode event", "event", event, "err", err)
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.dropped.Add(1)
	}
}

func encode(event string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: event, Payload: raw})
}

// Handler upgrades requests to websocket clients.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("upgrade failed", "err", err)
			return
		}
		c := &Client{
			id:      uuid.NewString(),
			conn:    conn,
			send:    make(chan []byte, clientBuffer),
			replies: make(chan []byte, 8),
		}
		hello, _ := encode(EventHello, HelloPayload{ClientID: c.id})
		c.send <- hello

		select {
		case h.register <- c:
		case <-h.done:
			_ = conn.Close()
			return
		}
		go h.writer(c)
		go h.reader(c)
	})
}

func (h *Hub) reader(c *Client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		_ = c.conn.Close()
	}()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		cmd, err := ParseCommand(data)
		if err != nil {
			h.log.Warn("bad client message", "client", c.id, "err", err)
			h.reply(c, err)
			continue
		}
		if err := h.submit(cmd); err != nil {
			h.log.Warn("command rejected", "client", c.id, "command", cmd, "err", err)
			h.reply(c, err)
			continue
		}
		h.log.Info("command queued", "client", c.id, "command", cmd)
	}
}

func (h *Hub) reply(c *Client, cause error) {
	msg, err := encode(EventError, map[string]string{"error": cause.Error()})
	if err != nil {
		return
	}
	select {
	case c.replies <- msg:
	default:
	}
}

func (h *Hub) submit(cmd scape.Command) error {
	h.mu.RLock()
	commander := h.commander
	h.mu.RUnlock()
	if commander == nil {
		return errors.New("no scape attached")
	}
	return commander.Submit(cmd)
}

func (h *Hub) writer(c *Client) {
	defer c.conn.Close()
	for {
		var msg []byte
		select {
		case m, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			msg = m
		case msg = <-c.replies:
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// ParseCommand decodes one client message into a scape command.
func ParseCommand(data []byte) (scape.Command, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	switch env.Type {
	case ActionRemove:
		var p RemovePayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, fmt.Errorf("decode remove payload: %w", err)
		}
		if p.ID == "" {
			return nil, errors.New("remove requires a car id")
		}
		return scape.RemoveCar{ID: p.ID}, nil
	case ActionSpeedUp:
		return scape.AdjustMaxSpeed{Delta: SpeedButtonDelta}, nil
	case ActionSpeedDown:
		return scape.AdjustMaxSpeed{Delta: -SpeedButtonDelta}, nil
	case ActionQuit:
		return scape.Quit{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, env.Type)
	}
}

// Serve runs the hub and an HTTP server exposing it at /ws until ctx is done.
// Calling Run as well is harmless.
func (h *Hub) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/ws", h.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go h.Run(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	h.log.Info("telemetry listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
