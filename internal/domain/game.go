package domain

import "fmt"

// GameState mirrors the remote game lifecycle as reported by the lobby feed.
type GameState string

const (
	GameStateOpen    GameState = "open"
	GameStatePlaying GameState = "playing"
	GameStateClosed  GameState = "closed"
)

// StatusFromGameState projects a remote game state onto the player status a
// roster member of such a game should carry. The mapping is total; an
// unmapped state is a programming error and fails loudly rather than being
// coerced to a default.
func StatusFromGameState(state GameState) GameStatus {
	switch state {
	case GameStateOpen:
		return StatusLobby
	case GameStatePlaying:
		return StatusPlaying
	case GameStateClosed:
		return StatusNone
	default:
		panic(fmt.Sprintf("unmapped game state %q", state))
	}
}

// GameRecord describes a hosted game as announced by the lobby feed. Records
// are replaced wholesale on every lifecycle event; the presence core never
// mutates one in place.
type GameRecord struct {
	UID               int                 `json:"uid"`
	Title             string              `json:"title,omitempty"`
	Host              string              `json:"host"`
	MapName           string              `json:"map_name,omitempty"`
	FeaturedMod       string              `json:"featured_mod,omitempty"`
	RatingType        string              `json:"rating_type,omitempty"`
	PasswordProtected bool                `json:"password_protected"`
	MinRating         int                 `json:"min_rating"`
	MaxRating         int                 `json:"max_rating"`
	State             GameState           `json:"state"`
	Teams             map[string][]string `json:"teams,omitempty"`
	NumPlayers        int                 `json:"num_players"`
	MaxPlayers        int                 `json:"max_players"`
}

// RosterUsernames returns every username appearing in any team, in team
// order. A team may be empty; the host is not necessarily listed.
func (g *GameRecord) RosterUsernames() []string {
	var usernames []string
	for _, team := range g.Teams {
		usernames = append(usernames, team...)
	}
	return usernames
}
