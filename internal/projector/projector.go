package projector

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/lobby-presence/internal/directory"
	"github.com/lobby-presence/internal/domain"
)

// gameEntry remembers every username that was ever rostered in a game, so a
// removal can clear players who already left the teams.
type gameEntry struct {
	game     *domain.GameRecord
	rostered map[string]struct{}
}

// Projector translates game lifecycle deltas into player game-status fields.
// It also keeps the index of live games consumed by the join flow and the
// game browser. It has no knowledge of the wire format; events arrive as an
// ordered stream and are applied one at a time.
type Projector struct {
	directory *directory.Directory
	logger    *slog.Logger

	mu    sync.RWMutex
	games map[int]*gameEntry
}

func New(dir *directory.Directory, logger *slog.Logger) *Projector {
	return &Projector{
		directory: dir,
		logger:    logger,
		games:     make(map[int]*gameEntry),
	}
}

// Run applies events from the stream until it closes or ctx is cancelled.
func (p *Projector) Run(ctx context.Context, events <-chan domain.GameEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			p.Apply(event)
		}
	}
}

// Apply processes a single lifecycle event.
func (p *Projector) Apply(event domain.GameEvent) {
	if event.Game == nil {
		p.logger.Warn("game event without record", "kind", event.Kind.String())
		return
	}

	switch event.Kind {
	case domain.GameAdded, domain.GameRosterChanged:
		p.applyRoster(event.Game)
	case domain.GameRemoved:
		p.applyRemoval(event.Game)
	default:
		p.logger.Warn("unknown game event kind", "kind", int(event.Kind))
	}
}

func (p *Projector) applyRoster(game *domain.GameRecord) {
	status := domain.StatusFromGameState(game.State)

	p.mu.Lock()
	entry, ok := p.games[game.UID]
	if !ok {
		entry = &gameEntry{rostered: make(map[string]struct{})}
		p.games[game.UID] = entry
	}
	entry.game = game
	roster := game.RosterUsernames()
	for _, username := range roster {
		entry.rostered[username] = struct{}{}
	}
	p.mu.Unlock()

	// A hosting player must be distinguishable from a generic lobby
	// member, so the host's final status is decided before the single
	// write; writing lobby first and correcting afterwards would fire
	// observers twice on duplicate events.
	for _, username := range roster {
		record := p.directory.GetOrRegister(username)
		playerStatus := status
		if status == domain.StatusLobby && username == game.Host {
			playerStatus = domain.StatusHosting
		}
		p.directory.UpdateGameStatus(record, playerStatus, game.UID)
	}

	// The host is not necessarily enumerated in any team.
	if status == domain.StatusLobby && !slices.Contains(roster, game.Host) {
		if host, ok := p.directory.Lookup(game.Host); ok {
			p.directory.UpdateGameStatus(host, domain.StatusHosting, game.UID)
		}
	}
}

func (p *Projector) applyRemoval(game *domain.GameRecord) {
	p.mu.Lock()
	entry, ok := p.games[game.UID]
	delete(p.games, game.UID)
	p.mu.Unlock()

	affected := make(map[string]struct{})
	for _, username := range game.RosterUsernames() {
		affected[username] = struct{}{}
	}
	if ok {
		for username := range entry.rostered {
			affected[username] = struct{}{}
		}
	}
	affected[game.Host] = struct{}{}

	for username := range affected {
		record, ok := p.directory.Lookup(username)
		if !ok {
			continue
		}
		// A player may already be in another game; only clear status
		// that still points at the retired one.
		if record.GameUID() == game.UID {
			p.directory.UpdateGameStatus(record, domain.StatusNone, 0)
		}
	}
}

// Game returns the live record for uid.
func (p *Projector) Game(uid int) (*domain.GameRecord, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	entry, ok := p.games[uid]
	if !ok {
		return nil, false
	}
	return entry.game, true
}

// Games returns a copy of every live game record.
func (p *Projector) Games() []*domain.GameRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()
	games := make([]*domain.GameRecord, 0, len(p.games))
	for _, entry := range p.games {
		games = append(games, entry.game)
	}
	return games
}

// Count returns the number of live games.
func (p *Projector) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.games)
}
