// Package websocket pushes live views to connected clients. Clients subscribe
// to topics; the hub keeps the last event per topic and replays it on
// subscribe so a new OR board renders immediately.
package websocket

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// TopicRoomOccupancy carries the merged OR occupancy view.
const TopicRoomOccupancy = "room-occupancy"

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 64
)

type Event struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Facility  string          `json:"facility,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ClientMessage is what a client sends to change its subscriptions.
type ClientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// ScopedTopic namespaces a topic by facility so boards in one facility never
// see another's rooms.
func ScopedTopic(facility, topic string) string {
	if facility == "" {
		return topic
	}
	return facility + "/" + topic
}

type Client struct {
	ID       string
	Facility string
	Topics   []string
	Send     chan []byte
}

type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{} // scoped topic -> subscribers
	all      map[*Client]struct{}
	retained map[string][]byte
	logger   zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:  make(map[string]map[*Client]struct{}),
		all:      make(map[*Client]struct{}),
		retained: make(map[string][]byte),
		logger:   logger.With().Str("component", "websocket").Logger(),
	}
}

// Register adds a client and subscribes it to its initial topics.
func (h *Hub) Register(client *Client) {
	topics := client.Topics
	client.Topics = nil

	h.mu.Lock()
	h.all[client] = struct{}{}
	h.mu.Unlock()

	h.Subscribe(client, topics)
}

// Unregister removes a client from every topic and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range client.Topics {
		h.removeLocked(ScopedTopic(client.Facility, topic), client)
	}
	delete(h.all, client)
	close(client.Send)
}

// Subscribe adds topics to a registered client and replays the retained
// event of each.
func (h *Hub) Subscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" || contains(client.Topics, topic) {
			continue
		}
		scoped := ScopedTopic(client.Facility, topic)
		if h.clients[scoped] == nil {
			h.clients[scoped] = make(map[*Client]struct{})
		}
		h.clients[scoped][client] = struct{}{}
		client.Topics = append(client.Topics, topic)

		if data, ok := h.retained[scoped]; ok {
			h.deliver(client, data)
		}
	}
}

func (h *Hub) Unsubscribe(client *Client, topics []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	remaining := client.Topics[:0]
	for _, t := range client.Topics {
		if contains(topics, t) {
			h.removeLocked(ScopedTopic(client.Facility, t), client)
			continue
		}
		remaining = append(remaining, t)
	}
	client.Topics = remaining
}

func (h *Hub) removeLocked(scoped string, client *Client) {
	if subscribers, ok := h.clients[scoped]; ok {
		delete(subscribers, client)
		if len(subscribers) == 0 {
			delete(h.clients, scoped)
		}
	}
}

func (h *Hub) ProcessMessage(client *Client, msg ClientMessage) {
	switch msg.Action {
	case "subscribe":
		h.Subscribe(client, msg.Topics)
	case "unsubscribe":
		h.Unsubscribe(client, msg.Topics)
	}
}

// Broadcast sends event to the facility's subscribers of event.Topic and
// retains it for later subscribers.
func (h *Hub) Broadcast(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Str("topic", event.Topic).Msg("marshal event")
		return
	}

	scoped := ScopedTopic(event.Facility, event.Topic)

	h.mu.Lock()
	defer h.mu.Unlock()
	h.retained[scoped] = data
	for client := range h.clients[scoped] {
		h.deliver(client, data)
	}
}

// deliver never blocks; a client that cannot keep up misses the update and
// gets the next one.
func (h *Hub) deliver(client *Client, data []byte) {
	select {
	case client.Send <- data:
	default:
		h.logger.Debug().Str("client", client.ID).Msg("send buffer full, dropping update")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

// TopicCount returns the number of subscribers of a facility topic.
func (h *Hub) TopicCount(facility, topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[ScopedTopic(facility, topic)])
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Handler
// ---------------------------------------------------------------------------

type Handler struct {
	hub      *Hub
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts connections from the listed origins; an empty list
// accepts any origin.
func NewHandler(hub *Hub, allowedOrigins []string) *Handler {
	return &Handler{
		hub: hub,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || len(allowedOrigins) == 0 {
					return true
				}
				return contains(allowedOrigins, origin)
			},
		},
	}
}

// RegisterRoutes mounts GET /ws. Initial topics may be given as
// ?topics=room-occupancy,other.
func (wsh *Handler) RegisterRoutes(e *echo.Echo, mw ...echo.MiddlewareFunc) {
	e.GET("/ws", wsh.HandleConnect, mw...)
}

func (wsh *Handler) HandleConnect(c echo.Context) error {
	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	facility, _ := c.Get("facility_id").(string)
	var topics []string
	if q := c.QueryParam("topics"); q != "" {
		topics = strings.Split(q, ",")
	}

	client := &Client{
		ID:       uuid.New().String(),
		Facility: facility,
		Topics:   topics,
		Send:     make(chan []byte, sendBuffer),
	}
	wsh.hub.Register(client)

	go wsh.writePump(client, ws)
	go wsh.readPump(client, ws)
	return nil
}

func (wsh *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		wsh.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		wsh.hub.ProcessMessage(client, msg)
	}
}

func (wsh *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(gorillawebsocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
