package join

import (
	"context"
	"log/slog"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/lobby-presence/internal/domain"
)

// PromptKind identifies what a pending prompt is asking for.
type PromptKind string

const (
	PromptPathSelection      PromptKind = "path_selection"
	PromptPassword           PromptKind = "password"
	PromptRatingConfirmation PromptKind = "rating_confirmation"
)

// Prompt is a suspended question awaiting exactly one user reply.
type Prompt struct {
	ID      string         `json:"id"`
	Kind    PromptKind     `json:"kind"`
	GameUID int            `json:"game_uid,omitempty"`
	Detail  map[string]int `json:"detail,omitempty"`
}

// Reply resolves a pending prompt. A reply with Cancelled set counts as the
// user dismissing the prompt without a value.
type Reply struct {
	Value     string `json:"value,omitempty"`
	Confirmed bool   `json:"confirmed,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`
}

type pendingPrompt struct {
	prompt Prompt
	reply  chan Reply
}

// PromptBroker bridges the orchestrator's user-interaction points to an
// external presenter. Each request registers a pending prompt and suspends
// the in-flight join until Resolve delivers the reply or the join's context
// is cancelled. Only the contract matters here; how prompts are rendered is
// the presenter's business.
type PromptBroker struct {
	paths  *GamePaths
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingPrompt
}

func NewPromptBroker(paths *GamePaths, logger *slog.Logger) *PromptBroker {
	return &PromptBroker{
		paths:   paths,
		logger:  logger,
		pending: make(map[string]*pendingPrompt),
	}
}

// IsPathValid reports whether the configured playable path is usable.
func (b *PromptBroker) IsPathValid() bool {
	return b.paths.Valid()
}

// RequestPathSelection asks the presenter for a playable path and stores the
// selection before returning so the orchestrator's re-check sees it.
func (b *PromptBroker) RequestPathSelection(ctx context.Context) (string, bool, error) {
	reply, err := b.await(ctx, Prompt{Kind: PromptPathSelection})
	if err != nil {
		return "", false, err
	}
	if reply.Cancelled || reply.Value == "" {
		return "", false, nil
	}
	b.paths.Set(reply.Value)
	return reply.Value, true, nil
}

// RequestPassword challenges the presenter for the game's password.
func (b *PromptBroker) RequestPassword(ctx context.Context, game *domain.GameRecord) (string, bool, error) {
	reply, err := b.await(ctx, Prompt{Kind: PromptPassword, GameUID: game.UID})
	if err != nil {
		return "", false, err
	}
	if reply.Cancelled {
		return "", false, nil
	}
	return reply.Value, true, nil
}

// ConfirmRating asks the presenter to confirm joining out of band.
func (b *PromptBroker) ConfirmRating(ctx context.Context, min, max, actual int) (bool, error) {
	reply, err := b.await(ctx, Prompt{
		Kind:   PromptRatingConfirmation,
		Detail: map[string]int{"min": min, "max": max, "actual": actual},
	})
	if err != nil {
		return false, err
	}
	return reply.Confirmed && !reply.Cancelled, nil
}

// Pending lists the prompts currently awaiting a reply.
func (b *PromptBroker) Pending() []Prompt {
	b.mu.Lock()
	defer b.mu.Unlock()
	prompts := make([]Prompt, 0, len(b.pending))
	for _, p := range b.pending {
		prompts = append(prompts, p.prompt)
	}
	return prompts
}

// Resolve delivers the user's reply to a pending prompt.
func (b *PromptBroker) Resolve(id string, reply Reply) error {
	b.mu.Lock()
	p, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		return domain.ErrInvalidRequest
	}
	p.reply <- reply
	return nil
}

func (b *PromptBroker) await(ctx context.Context, prompt Prompt) (Reply, error) {
	prompt.ID = uuid.New().String()
	p := &pendingPrompt{prompt: prompt, reply: make(chan Reply, 1)}

	b.mu.Lock()
	b.pending[prompt.ID] = p
	b.mu.Unlock()

	b.logger.Debug("prompt pending", "prompt_id", prompt.ID, "kind", string(prompt.Kind))

	select {
	case reply := <-p.reply:
		return reply, nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, prompt.ID)
		b.mu.Unlock()
		return Reply{}, ctx.Err()
	}
}

// GamePaths tracks the locally configured playable path. Validity is a plain
// filesystem check; the directory must exist.
type GamePaths struct {
	mu   sync.RWMutex
	path string
	stat func(string) bool
}

func NewGamePaths(path string) *GamePaths {
	return &GamePaths{path: path, stat: dirExists}
}

func (g *GamePaths) Valid() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.path != "" && g.stat(g.path)
}

func (g *GamePaths) Set(path string) {
	g.mu.Lock()
	g.path = path
	g.mu.Unlock()
}

func (g *GamePaths) Path() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.path
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
