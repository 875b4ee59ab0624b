package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lobby-presence/internal/directory"
	"github.com/lobby-presence/internal/domain"
	"github.com/lobby-presence/internal/join"
	"github.com/lobby-presence/internal/projector"
	"github.com/lobby-presence/internal/redis"
	"github.com/lobby-presence/internal/websocket"
)

// RatingIndex serves the by-rating ordering of mirrored players.
type RatingIndex interface {
	TopRated(ctx context.Context, n int) ([]redis.RatedPlayer, error)
}

// Handler provides HTTP handlers for the presence API
type Handler struct {
	directory    *directory.Directory
	projector    *projector.Projector
	orchestrator *join.Orchestrator
	broker       *join.PromptBroker
	hub          *websocket.Hub
	ratings      RatingIndex
	logger       *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	dir *directory.Directory,
	proj *projector.Projector,
	orch *join.Orchestrator,
	broker *join.PromptBroker,
	hub *websocket.Hub,
	ratings RatingIndex,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		directory:    dir,
		projector:    proj,
		orchestrator: orch,
		broker:       broker,
		hub:          hub,
		ratings:      ratings,
		logger:       logger,
	}
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	// Health check
	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)

	// WebSocket endpoint
	r.Get("/ws", h.HandleWebSocket)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/players", func(r chi.Router) {
			r.Get("/", h.ListPlayers)
			r.Get("/me", h.GetCurrentPlayer)
			r.Get("/top", h.TopRatedPlayers)

			r.Route("/{username}", func(r chi.Router) {
				r.Get("/", h.GetPlayer)
				r.Put("/friend", h.SetFriend)
				r.Delete("/friend", h.RemoveFriend)
				r.Put("/foe", h.SetFoe)
				r.Delete("/foe", h.RemoveFoe)
			})
		})

		r.Route("/games", func(r chi.Router) {
			r.Get("/", h.ListGames)
			r.Route("/{gameUID}", func(r chi.Router) {
				r.Get("/", h.GetGame)
				r.Post("/join", h.JoinGame)
			})
		})

		// Join prompts awaiting a user reply
		r.Get("/prompts", h.ListPrompts)
		r.Post("/prompts/{promptID}", h.ResolvePrompt)

		// WebSocket info endpoint
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// ListPlayers returns every known player, sorted by username
func (h *Handler) ListPlayers(w http.ResponseWriter, r *http.Request) {
	snapshots := h.directory.Snapshots()
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Username < snapshots[j].Username
	})
	h.writeSuccess(w, snapshots)
}

// GetCurrentPlayer returns the local session's own player
func (h *Handler) GetCurrentPlayer(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.directory.ResolveCurrentPlayer().Snapshot())
}

// GetPlayer returns one player by username
func (h *Handler) GetPlayer(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	record, ok := h.directory.Lookup(username)
	if !ok {
		h.writeError(w, http.StatusNotFound, domain.ErrPlayerNotFound)
		return
	}
	h.writeSuccess(w, record.Snapshot())
}

// TopRatedPlayers returns the highest-rated players from the rating index
func (h *Handler) TopRatedPlayers(w http.ResponseWriter, r *http.Request) {
	n := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
			return
		}
		n = parsed
	}

	players, err := h.ratings.TopRated(r.Context(), n)
	if err != nil {
		h.logger.Error("failed to read rating index", "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
		return
	}
	h.writeSuccess(w, players)
}

// SetFriend marks a player as friend
func (h *Handler) SetFriend(w http.ResponseWriter, r *http.Request) {
	h.mutateRelation(w, r, h.directory.SetFriend)
}

// RemoveFriend clears a player's friend flag
func (h *Handler) RemoveFriend(w http.ResponseWriter, r *http.Request) {
	h.mutateRelation(w, r, h.directory.RemoveFriend)
}

// SetFoe marks a player as foe
func (h *Handler) SetFoe(w http.ResponseWriter, r *http.Request) {
	h.mutateRelation(w, r, h.directory.SetFoe)
}

// RemoveFoe clears a player's foe flag
func (h *Handler) RemoveFoe(w http.ResponseWriter, r *http.Request) {
	h.mutateRelation(w, r, h.directory.RemoveFoe)
}

func (h *Handler) mutateRelation(w http.ResponseWriter, r *http.Request, mutate func(string)) {
	username := chi.URLParam(r, "username")
	record, ok := h.directory.Lookup(username)
	if !ok {
		h.writeError(w, http.StatusNotFound, domain.ErrPlayerNotFound)
		return
	}
	mutate(username)
	h.writeSuccess(w, record.Snapshot())
}

// ListGames returns every live game
func (h *Handler) ListGames(w http.ResponseWriter, r *http.Request) {
	games := h.projector.Games()
	sort.Slice(games, func(i, j int) bool { return games[i].UID < games[j].UID })
	h.writeSuccess(w, games)
}

// GetGame returns one live game by uid
func (h *Handler) GetGame(w http.ResponseWriter, r *http.Request) {
	game, ok := h.gameFromRequest(w, r)
	if !ok {
		return
	}
	h.writeSuccess(w, game)
}

// JoinRequest is the body of a join call
type JoinRequest struct {
	Password     string `json:"password,omitempty"`
	IgnoreRating bool   `json:"ignore_rating,omitempty"`
}

// JoinResult reports the terminal outcome of a join attempt
type JoinResult struct {
	Status join.OutcomeStatus `json:"status"`
	Error  string             `json:"error,omitempty"`
}

// JoinGame runs the join flow for a game. The request blocks while prompts
// await their replies; cancelling the request aborts the attempt.
func (h *Handler) JoinGame(w http.ResponseWriter, r *http.Request) {
	game, ok := h.gameFromRequest(w, r)
	if !ok {
		return
	}

	// The flow can wait on a prompt reply far longer than the server's
	// write timeout, so this response is exempted from it. The attempt
	// stays bounded by the request context instead.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		h.logger.Warn("failed to clear write deadline for join", "error", err)
	}

	var req JoinRequest
	if r.Body != nil {
		// An empty body means default options
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	outcome := h.orchestrator.Join(r.Context(), game, join.Options{
		Password:     req.Password,
		IgnoreRating: req.IgnoreRating,
	})

	result := JoinResult{Status: outcome.Status}
	if outcome.Err != nil {
		result.Error = outcome.Err.Error()
	}
	h.writeSuccess(w, result)
}

// ListPrompts returns the join prompts currently awaiting a reply
func (h *Handler) ListPrompts(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, h.broker.Pending())
}

// ResolvePrompt delivers a user's reply to a pending join prompt
func (h *Handler) ResolvePrompt(w http.ResponseWriter, r *http.Request) {
	promptID := chi.URLParam(r, "promptID")

	var reply join.Reply
	if err := json.NewDecoder(r.Body).Decode(&reply); err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	if err := h.broker.Resolve(promptID, reply); err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	h.writeSuccess(w, map[string]string{"status": "resolved"})
}

func (h *Handler) gameFromRequest(w http.ResponseWriter, r *http.Request) (*domain.GameRecord, bool) {
	uid, err := strconv.Atoi(chi.URLParam(r, "gameUID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return nil, false
	}
	game, ok := h.projector.Game(uid)
	if !ok {
		h.writeError(w, http.StatusNotFound, domain.ErrGameNotFound)
		return nil, false
	}
	return game, true
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.ServeWs(h.hub, h.subscribableTopic, h.logger, w, r)
}

// subscribableTopic gates websocket subscriptions: the roster and games
// feeds are always live, while a player topic only exists for a player the
// directory knows.
func (h *Handler) subscribableTopic(topic string) error {
	switch topic {
	case websocket.TopicRoster, websocket.TopicGames:
		return nil
	}
	if username, ok := websocket.PlayerTopicUsername(topic); ok {
		if _, found := h.directory.Lookup(username); found {
			return nil
		}
		return domain.ErrPlayerNotFound
	}
	return domain.ErrInvalidRequest
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections":  h.hub.GetTotalConnections(),
		"roster_subscribers": h.hub.GetSubscriberCount(websocket.TopicRoster),
		"games_subscribers":  h.hub.GetSubscriberCount(websocket.TopicGames),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "healthy"})
}

// ReadyCheck returns service readiness status
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]string{"status": "ready"})
}
