package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newClient(id, facility string, topics ...string) *Client {
	return &Client{ID: id, Facility: facility, Topics: topics, Send: make(chan []byte, 8)}
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.Send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("client did not receive event")
	}
	return Event{}
}

func expectNothing(t *testing.T, c *Client) {
	t.Helper()
	select {
	case msg := <-c.Send:
		t.Fatalf("unexpected message %s", msg)
	default:
	}
}

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("c1", "north", TopicRoomOccupancy)

	hub.Register(client)
	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("north", TopicRoomOccupancy) != 1 {
		t.Fatalf("expected 1 subscriber, got %d", hub.TopicCount("north", TopicRoomOccupancy))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount("north", TopicRoomOccupancy) != 0 {
		t.Fatal("expected topic to be empty")
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send to be closed")
	}

	// second unregister is a no-op
	hub.Unregister(client)
}

func TestHub_BroadcastIsFacilityScoped(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	north := newClient("n", "north", TopicRoomOccupancy)
	south := newClient("s", "south", TopicRoomOccupancy)
	other := newClient("o", "north", "something-else")
	hub.Register(north)
	hub.Register(south)
	hub.Register(other)

	hub.Broadcast(Event{Type: "occupancy.refreshed", Topic: TopicRoomOccupancy, Facility: "north"})

	if ev := receive(t, north); ev.Type != "occupancy.refreshed" {
		t.Errorf("unexpected type %s", ev.Type)
	}
	expectNothing(t, south)
	expectNothing(t, other)
}

func TestHub_ReplaysRetainedOnSubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Broadcast(Event{Type: "occupancy.refreshed", Topic: TopicRoomOccupancy, Facility: "north", Data: json.RawMessage(`[1]`)})

	late := newClient("late", "north")
	hub.Register(late)
	expectNothing(t, late)

	hub.ProcessMessage(late, ClientMessage{Action: "subscribe", Topics: []string{TopicRoomOccupancy}})
	ev := receive(t, late)
	if string(ev.Data) != "[1]" {
		t.Errorf("expected retained payload, got %s", ev.Data)
	}
}

func TestHub_SubscribeTwiceIsIdempotent(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c", "north", TopicRoomOccupancy)
	hub.Register(c)
	hub.Subscribe(c, []string{TopicRoomOccupancy, " "})

	if len(c.Topics) != 1 {
		t.Errorf("expected 1 topic, got %v", c.Topics)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := newClient("c", "north", TopicRoomOccupancy, "other")
	hub.Register(c)

	hub.ProcessMessage(c, ClientMessage{Action: "unsubscribe", Topics: []string{TopicRoomOccupancy}})

	if hub.TopicCount("north", TopicRoomOccupancy) != 0 {
		t.Error("expected no subscribers after unsubscribe")
	}
	if hub.TopicCount("north", "other") != 1 {
		t.Error("expected other topic to be kept")
	}
	if len(c.Topics) != 1 || c.Topics[0] != "other" {
		t.Errorf("unexpected topics %v", c.Topics)
	}
}

func TestHub_FullBufferDoesNotBlock(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	c := &Client{ID: "slow", Facility: "north", Topics: []string{TopicRoomOccupancy}, Send: make(chan []byte, 1)}
	hub.Register(c)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Broadcast(Event{Type: "x", Topic: TopicRoomOccupancy, Facility: "north"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
}

func TestScopedTopic(t *testing.T) {
	if got := ScopedTopic("north", TopicRoomOccupancy); got != "north/room-occupancy" {
		t.Errorf("unexpected %s", got)
	}
	if got := ScopedTopic("", TopicRoomOccupancy); got != TopicRoomOccupancy {
		t.Errorf("unexpected %s", got)
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	setFacility := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("facility_id", "north")
			return next(c)
		}
	}
	NewHandler(hub, nil).RegisterRoutes(e, setFacility)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws?topics=" + TopicRoomOccupancy
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for hub.TopicCount("north", TopicRoomOccupancy) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client was not subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast(Event{Type: "occupancy.refreshed", Topic: TopicRoomOccupancy, Facility: "north"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "occupancy.refreshed" || received.Facility != "north" {
		t.Fatalf("unexpected event %+v", received)
	}
}

func TestHandler_RejectsForeignOrigin(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub, []string{"https://or.example.org"}).RegisterRoutes(e)

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, _, err := gorillawebsocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatal("expected dial from a foreign origin to fail")
	}
}
