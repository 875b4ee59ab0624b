package websocket

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lobby-presence/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialTestHub(t *testing.T, validate TopicValidator) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(testLogger())
	go hub.Run()
	t.Cleanup(hub.Stop)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, validate, testLogger(), w, r)
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func writeClientMessage(t *testing.T, conn *websocket.Conn, msg ClientMessage) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	return msg
}

// waitForSubscribers polls the hub; subscription requests travel through its
// run loop asynchronously.
func waitForSubscribers(t *testing.T, hub *Hub, topic string, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.GetSubscriberCount(topic) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("topic %s has %d subscribers, want %d", topic, hub.GetSubscriberCount(topic), want)
}

func TestSubscribeRejectsUnknownPlayerTopic(t *testing.T) {
	validate := func(topic string) error {
		if topic == TopicRoster || topic == PlayerTopic("alice") {
			return nil
		}
		return domain.ErrPlayerNotFound
	}
	hub, conn := dialTestHub(t, validate)

	writeClientMessage(t, conn, ClientMessage{Type: MessageTypeSubscribe, Topic: PlayerTopic("ghost")})
	if msg := readMessage(t, conn); msg.Type != MessageTypeError {
		t.Fatalf("unknown player subscribe got %q, want %q", msg.Type, MessageTypeError)
	}
	if got := hub.GetSubscriberCount(PlayerTopic("ghost")); got != 0 {
		t.Errorf("ghost topic has %d subscribers, want 0", got)
	}

	writeClientMessage(t, conn, ClientMessage{Type: MessageTypeSubscribe, Topic: PlayerTopic("alice")})
	if msg := readMessage(t, conn); msg.Type != "subscribed" || msg.Topic != PlayerTopic("alice") {
		t.Fatalf("known player subscribe got type=%q topic=%q", msg.Type, msg.Topic)
	}
	waitForSubscribers(t, hub, PlayerTopic("alice"), 1)
}

func TestDuplicateSubscribeAcknowledgedOnce(t *testing.T) {
	hub, conn := dialTestHub(t, nil)

	for i := 0; i < 2; i++ {
		writeClientMessage(t, conn, ClientMessage{Type: MessageTypeSubscribe, Topic: TopicRoster})
		if msg := readMessage(t, conn); msg.Type != "subscribed" {
			t.Fatalf("subscribe %d got %q", i, msg.Type)
		}
	}
	waitForSubscribers(t, hub, TopicRoster, 1)
}

func TestPlayerUpdateReachesSubscriber(t *testing.T) {
	hub, conn := dialTestHub(t, nil)

	writeClientMessage(t, conn, ClientMessage{Type: MessageTypeSubscribe, Topic: PlayerTopic("alice")})
	if msg := readMessage(t, conn); msg.Type != "subscribed" {
		t.Fatalf("subscribe got %q", msg.Type)
	}
	waitForSubscribers(t, hub, PlayerTopic("alice"), 1)

	hub.BroadcastPlayerUpdate(domain.PlayerSnapshot{Username: "alice"})

	msg := readMessage(t, conn)
	if msg.Type != MessageTypePlayerUpdate || msg.Topic != PlayerTopic("alice") {
		t.Errorf("got type=%q topic=%q, want a player update for alice", msg.Type, msg.Topic)
	}
}

func TestUnsubscribeDetachesFromHub(t *testing.T) {
	hub, conn := dialTestHub(t, nil)

	writeClientMessage(t, conn, ClientMessage{Type: MessageTypeSubscribe, Topic: TopicGames})
	if msg := readMessage(t, conn); msg.Type != "subscribed" {
		t.Fatalf("subscribe got %q", msg.Type)
	}
	waitForSubscribers(t, hub, TopicGames, 1)

	writeClientMessage(t, conn, ClientMessage{Type: MessageTypeUnsubscribe, Topic: TopicGames})
	if msg := readMessage(t, conn); msg.Type != "unsubscribed" {
		t.Fatalf("unsubscribe got %q", msg.Type)
	}
	waitForSubscribers(t, hub, TopicGames, 0)
}

func TestSubscriptionLimit(t *testing.T) {
	hub := NewHub(testLogger())
	client := NewClient(hub, nil, nil, testLogger())

	for i := 0; i < maxSubscriptions; i++ {
		client.subscribeTopic(PlayerTopic(fmt.Sprintf("player-%d", i)))
	}
	client.subscribeTopic(PlayerTopic("overflow"))

	if _, ok := client.topics[PlayerTopic("overflow")]; ok {
		t.Error("subscription beyond the limit must be refused")
	}
	if got := len(client.topics); got != maxSubscriptions {
		t.Errorf("client holds %d topics, want %d", got, maxSubscriptions)
	}
}

func TestPlayerTopicUsername(t *testing.T) {
	if username, ok := PlayerTopicUsername(PlayerTopic("alice")); !ok || username != "alice" {
		t.Errorf("PlayerTopicUsername(player:alice) = %q, %v", username, ok)
	}
	for _, topic := range []string{TopicRoster, "player:", "games"} {
		if _, ok := PlayerTopicUsername(topic); ok {
			t.Errorf("PlayerTopicUsername(%q) = true, want false", topic)
		}
	}
}
