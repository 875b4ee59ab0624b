package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lobby-presence/internal/directory"
	"github.com/lobby-presence/internal/domain"
	"github.com/lobby-presence/internal/join"
	"github.com/lobby-presence/internal/projector"
	"github.com/lobby-presence/internal/redis"
	"github.com/lobby-presence/internal/websocket"
)

type nopRelationStore struct{}

func (nopRelationStore) SaveFriends(context.Context, []string) error { return nil }
func (nopRelationStore) SaveFoes(context.Context, []string) error    { return nil }

type fakeRatingIndex struct {
	players []redis.RatedPlayer
	err     error
}

func (f *fakeRatingIndex) TopRated(_ context.Context, n int) ([]redis.RatedPlayer, error) {
	if f.err != nil {
		return nil, f.err
	}
	if n < len(f.players) {
		return f.players[:n], nil
	}
	return f.players, nil
}

type fakeGameService struct {
	err          error
	calls        int
	lastPassword string
}

func (s *fakeGameService) JoinGame(_ context.Context, _ *domain.GameRecord, password string) error {
	s.calls++
	s.lastPassword = password
	return s.err
}

type testEnv struct {
	dir     *directory.Directory
	proj    *projector.Projector
	games   *fakeGameService
	ratings *fakeRatingIndex
	broker  *join.PromptBroker
	handler *Handler
	server  *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWithWriteTimeout(t, 0)
}

func newTestEnvWithWriteTimeout(t *testing.T, writeTimeout time.Duration) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	dir := directory.New(nopRelationStore{}, func() string { return "me" }, logger)
	proj := projector.New(dir, logger)
	games := &fakeGameService{}
	ratings := &fakeRatingIndex{}
	paths := join.NewGamePaths(t.TempDir())
	broker := join.NewPromptBroker(paths, logger)
	orch := join.NewOrchestrator(games, broker, broker, broker, dir, logger)
	hub := websocket.NewHub(logger)

	h := NewHandler(dir, proj, orch, broker, hub, ratings, logger)
	server := httptest.NewUnstartedServer(h.Router())
	server.Config.WriteTimeout = writeTimeout
	server.Start()
	t.Cleanup(server.Close)

	return &testEnv{dir: dir, proj: proj, games: games, ratings: ratings, broker: broker, handler: h, server: server}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, APIResponse) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	return resp, decodeResponse(t, resp)
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, APIResponse) {
	t.Helper()
	req, err := http.NewRequest(method, e.server.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp, decodeResponse(t, resp)
}

func decodeResponse(t *testing.T, resp *http.Response) APIResponse {
	t.Helper()
	defer resp.Body.Close()
	var api APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&api); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return api
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/health", "/ready"} {
		resp, api := env.get(t, path)
		if resp.StatusCode != http.StatusOK || !api.Success {
			t.Errorf("GET %s: status=%d success=%v", path, resp.StatusCode, api.Success)
		}
	}
}

func TestListPlayersSorted(t *testing.T) {
	env := newTestEnv(t)
	env.dir.GetOrRegister("zoe")
	env.dir.GetOrRegister("alice")

	resp, api := env.get(t, "/api/v1/players")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var players []domain.PlayerSnapshot
	raw, _ := json.Marshal(api.Data)
	if err := json.Unmarshal(raw, &players); err != nil {
		t.Fatal(err)
	}
	if len(players) != 2 || players[0].Username != "alice" || players[1].Username != "zoe" {
		t.Errorf("players = %+v, want alice then zoe", players)
	}
}

func TestGetPlayer(t *testing.T) {
	env := newTestEnv(t)
	env.dir.GetOrRegister("alice")

	resp, _ := env.get(t, "/api/v1/players/alice")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("known player: status = %d", resp.StatusCode)
	}

	resp, api := env.get(t, "/api/v1/players/ghost")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown player: status = %d, want 404", resp.StatusCode)
	}
	if api.Success {
		t.Error("unknown player response should not report success")
	}
}

func TestGetCurrentPlayer(t *testing.T) {
	env := newTestEnv(t)

	_, api := env.get(t, "/api/v1/players/me")
	var snap domain.PlayerSnapshot
	raw, _ := json.Marshal(api.Data)
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatal(err)
	}
	if snap.Username != "me" {
		t.Errorf("current player = %q, want %q", snap.Username, "me")
	}
}

func TestRelationEndpoints(t *testing.T) {
	env := newTestEnv(t)
	record := env.dir.GetOrRegister("alice")

	resp, _ := env.do(t, http.MethodPut, "/api/v1/players/alice/friend", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT friend: status = %d", resp.StatusCode)
	}
	if !record.IsFriend() {
		t.Error("friend flag not set")
	}

	resp, _ = env.do(t, http.MethodPut, "/api/v1/players/alice/foe", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PUT foe: status = %d", resp.StatusCode)
	}
	if record.IsFriend() || !record.IsFoe() {
		t.Errorf("after foe: friend=%v foe=%v", record.IsFriend(), record.IsFoe())
	}

	resp, _ = env.do(t, http.MethodDelete, "/api/v1/players/alice/foe", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE foe: status = %d", resp.StatusCode)
	}
	if record.IsFoe() {
		t.Error("foe flag not cleared")
	}

	resp, _ = env.do(t, http.MethodPut, "/api/v1/players/ghost/friend", "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown player: status = %d, want 404", resp.StatusCode)
	}
}

func TestGameEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.proj.Apply(domain.GameEvent{Kind: domain.GameAdded, Game: &domain.GameRecord{
		UID:   42,
		Host:  "hostess",
		State: domain.GameStateOpen,
		Teams: map[string][]string{"1": {"alice"}},
	}})

	resp, _ := env.get(t, "/api/v1/games")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("list games: status = %d", resp.StatusCode)
	}

	resp, _ = env.get(t, "/api/v1/games/42")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("get game: status = %d", resp.StatusCode)
	}

	resp, _ = env.get(t, "/api/v1/games/99")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown game: status = %d, want 404", resp.StatusCode)
	}

	resp, _ = env.get(t, "/api/v1/games/abc")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad uid: status = %d, want 400", resp.StatusCode)
	}
}

func TestJoinGameEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.proj.Apply(domain.GameEvent{Kind: domain.GameAdded, Game: &domain.GameRecord{
		UID:   42,
		Host:  "hostess",
		State: domain.GameStateOpen,
	}})

	resp, api := env.do(t, http.MethodPost, "/api/v1/games/42/join", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join: status = %d", resp.StatusCode)
	}

	var result JoinResult
	raw, _ := json.Marshal(api.Data)
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatal(err)
	}
	if result.Status != join.OutcomeJoined {
		t.Errorf("join status = %q, want %q", result.Status, join.OutcomeJoined)
	}
	if env.games.calls != 1 {
		t.Errorf("JoinGame called %d times, want 1", env.games.calls)
	}
}

func TestJoinGameWithPassword(t *testing.T) {
	env := newTestEnv(t)
	env.proj.Apply(domain.GameEvent{Kind: domain.GameAdded, Game: &domain.GameRecord{
		UID:               42,
		Host:              "hostess",
		State:             domain.GameStateOpen,
		PasswordProtected: true,
	}})

	_, api := env.do(t, http.MethodPost, "/api/v1/games/42/join", `{"password":"hunter2"}`)

	var result JoinResult
	raw, _ := json.Marshal(api.Data)
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatal(err)
	}
	if result.Status != join.OutcomeJoined {
		t.Fatalf("join status = %q, want %q", result.Status, join.OutcomeJoined)
	}
	if env.games.lastPassword != "hunter2" {
		t.Errorf("join carried password %q", env.games.lastPassword)
	}
}

func TestJoinGameOutlivesServerWriteTimeout(t *testing.T) {
	env := newTestEnvWithWriteTimeout(t, 150*time.Millisecond)
	env.proj.Apply(domain.GameEvent{Kind: domain.GameAdded, Game: &domain.GameRecord{
		UID:               42,
		Host:              "hostess",
		State:             domain.GameStateOpen,
		PasswordProtected: true,
	}})

	// The password reply lands only after the server's write timeout has
	// long elapsed; the join response must still reach the client.
	go func() {
		time.Sleep(400 * time.Millisecond)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if pending := env.broker.Pending(); len(pending) > 0 {
				env.broker.Resolve(pending[0].ID, join.Reply{Value: "hunter2"})
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	resp, api := env.do(t, http.MethodPost, "/api/v1/games/42/join", `{}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("join: status = %d", resp.StatusCode)
	}

	var result JoinResult
	raw, _ := json.Marshal(api.Data)
	if err := json.Unmarshal(raw, &result); err != nil {
		t.Fatal(err)
	}
	if result.Status != join.OutcomeJoined {
		t.Errorf("join status = %q, want %q", result.Status, join.OutcomeJoined)
	}
	if env.games.lastPassword != "hunter2" {
		t.Errorf("join carried password %q, want the prompted one", env.games.lastPassword)
	}
}

func TestResolveUnknownPrompt(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, http.MethodPost, "/api/v1/prompts/nope", `{"value":"x"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListPromptsEmpty(t *testing.T) {
	env := newTestEnv(t)

	resp, api := env.get(t, "/api/v1/prompts")
	if resp.StatusCode != http.StatusOK || !api.Success {
		t.Errorf("status=%d success=%v", resp.StatusCode, api.Success)
	}
}

func TestTopRatedPlayers(t *testing.T) {
	env := newTestEnv(t)
	env.ratings.players = []redis.RatedPlayer{
		{Username: "alice", Rating: 2100},
		{Username: "bob", Rating: 1800},
	}

	resp, api := env.get(t, "/api/v1/players/top")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}

	var players []redis.RatedPlayer
	raw, _ := json.Marshal(api.Data)
	if err := json.Unmarshal(raw, &players); err != nil {
		t.Fatal(err)
	}
	if len(players) != 2 || players[0].Username != "alice" {
		t.Errorf("players = %+v", players)
	}

	resp, _ = env.get(t, "/api/v1/players/top?limit=0")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("limit=0: status = %d, want 400", resp.StatusCode)
	}
}

func TestSubscribableTopics(t *testing.T) {
	env := newTestEnv(t)
	env.dir.GetOrRegister("alice")

	for _, topic := range []string{websocket.TopicRoster, websocket.TopicGames, websocket.PlayerTopic("alice")} {
		if err := env.handler.subscribableTopic(topic); err != nil {
			t.Errorf("subscribableTopic(%q) = %v, want nil", topic, err)
		}
	}
	if err := env.handler.subscribableTopic(websocket.PlayerTopic("ghost")); err == nil {
		t.Error("unknown player topic should be rejected")
	}
	if err := env.handler.subscribableTopic("bogus"); err == nil {
		t.Error("malformed topic should be rejected")
	}
}

func TestWebSocketStats(t *testing.T) {
	env := newTestEnv(t)

	resp, api := env.get(t, "/api/v1/ws/stats")
	if resp.StatusCode != http.StatusOK || !api.Success {
		t.Errorf("status=%d success=%v", resp.StatusCode, api.Success)
	}
}
