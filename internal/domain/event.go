package domain

// Avatar is the optional avatar attachment of a player-info event.
type Avatar struct {
	URL     string `json:"url"`
	Tooltip string `json:"tooltip,omitempty"`
}

// PlayerInfo is a player attribute update from the lobby feed. It never
// carries a game status; that is derived from game lifecycle events.
type PlayerInfo struct {
	Username              string         `json:"username"`
	Clan                  string         `json:"clan,omitempty"`
	Country               string         `json:"country,omitempty"`
	Avatar                *Avatar        `json:"avatar,omitempty"`
	RatingMean            float64        `json:"rating_mean"`
	RatingDeviation       float64        `json:"rating_deviation"`
	LadderRatingMean      float64        `json:"ladder_rating_mean"`
	LadderRatingDeviation float64        `json:"ladder_rating_deviation"`
	Ratings               map[string]int `json:"ratings,omitempty"`
	NumberOfGames         int            `json:"number_of_games"`
}

// GameEventKind tags a game lifecycle delta.
type GameEventKind int

const (
	// GameAdded announces a newly hosted game.
	GameAdded GameEventKind = iota
	// GameRemoved retires a game, usually because it closed.
	GameRemoved
	// GameRosterChanged reports that a game's teams or state changed.
	GameRosterChanged
)

func (k GameEventKind) String() string {
	switch k {
	case GameAdded:
		return "added"
	case GameRemoved:
		return "removed"
	case GameRosterChanged:
		return "roster_changed"
	default:
		return "unknown"
	}
}

// GameEvent is one entry of the ordered game lifecycle stream.
type GameEvent struct {
	Kind GameEventKind
	Game *GameRecord
}
