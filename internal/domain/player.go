package domain

import (
	"math"
	"sync"
)

// GameStatus is a player's derived game-participation state. It is never
// delivered by the lobby feed directly; the projector computes it from
// game lifecycle events.
type GameStatus string

const (
	StatusNone    GameStatus = "none"
	StatusHosting GameStatus = "hosting"
	StatusLobby   GameStatus = "lobby"
	StatusPlaying GameStatus = "playing"
	StatusClosed  GameStatus = "closed"
)

// PlayerRecord represents a player with username, clan, country, friend/foe
// flags and ratings. Can also be a chat-only user who has never produced a
// player-info event. All mutation goes through the directory; the record
// only guards its own fields so concurrent readers are safe.
type PlayerRecord struct {
	mu sync.RWMutex

	username      string
	clan          string
	country       string
	avatarURL     string
	avatarTooltip string

	friend   bool
	foe      bool
	chatOnly bool

	globalRatingMean           float64
	globalRatingDeviation      float64
	leaderboardRatingMean      float64
	leaderboardRatingDeviation float64
	ratings                    map[string]int
	numberOfGames              int

	gameStatus GameStatus
	gameUID    int
}

// NewPlayerRecord creates a record with defaults: chat-only until the first
// player-info event arrives, and not in any game.
func NewPlayerRecord(username string) *PlayerRecord {
	return &PlayerRecord{
		username:   username,
		chatOnly:   true,
		gameStatus: StatusNone,
		ratings:    make(map[string]int),
	}
}

// Username returns the record's immutable identity key.
func (p *PlayerRecord) Username() string {
	return p.username
}

func (p *PlayerRecord) Clan() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.clan
}

func (p *PlayerRecord) Country() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.country
}

func (p *PlayerRecord) AvatarURL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.avatarURL
}

func (p *PlayerRecord) AvatarTooltip() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.avatarTooltip
}

func (p *PlayerRecord) IsFriend() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.friend
}

func (p *PlayerRecord) IsFoe() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.foe
}

func (p *PlayerRecord) IsChatOnly() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.chatOnly
}

func (p *PlayerRecord) GlobalRatingMean() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.globalRatingMean
}

func (p *PlayerRecord) GlobalRatingDeviation() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.globalRatingDeviation
}

func (p *PlayerRecord) LeaderboardRatingMean() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.leaderboardRatingMean
}

func (p *PlayerRecord) LeaderboardRatingDeviation() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.leaderboardRatingDeviation
}

func (p *PlayerRecord) NumberOfGames() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.numberOfGames
}

func (p *PlayerRecord) GameStatus() GameStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gameStatus
}

// GameUID returns the game the player currently belongs to. Only meaningful
// while GameStatus is not StatusNone.
func (p *PlayerRecord) GameUID() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.gameUID
}

// Rating returns the player's rating for the given leaderboard category. A
// category the player has never been rated on reads as zero.
func (p *PlayerRecord) Rating(category string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ratings[category]
}

// ConservativeRating is the displayed global rating: mean minus three
// deviations, floored at zero.
func (p *PlayerRecord) ConservativeRating() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r := p.globalRatingMean - 3*p.globalRatingDeviation
	if r < 0 {
		r = 0
	}
	return int(math.Round(r))
}

// SetFriendFoe applies the mutual-exclusion invariant: friend and foe are
// never both true. It reports whether either flag actually flipped.
func (p *PlayerRecord) SetFriendFoe(friend, foe bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.friend == friend && p.foe == foe {
		return false
	}
	p.friend = friend
	p.foe = foe
	return true
}

// SetGameStatus reports whether the status/uid pair actually changed so the
// projector can stay idempotent under duplicate lifecycle events.
func (p *PlayerRecord) SetGameStatus(status GameStatus, gameUID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.gameStatus == status && p.gameUID == gameUID {
		return false
	}
	p.gameStatus = status
	p.gameUID = gameUID
	return true
}

// ApplyInfo merges a player-info event into the record and permanently
// clears the chat-only flag.
func (p *PlayerRecord) ApplyInfo(info PlayerInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chatOnly = false
	p.clan = info.Clan
	p.country = info.Country
	p.globalRatingMean = info.RatingMean
	p.globalRatingDeviation = info.RatingDeviation
	p.leaderboardRatingMean = info.LadderRatingMean
	p.leaderboardRatingDeviation = info.LadderRatingDeviation
	p.numberOfGames = info.NumberOfGames
	for category, rating := range info.Ratings {
		p.ratings[category] = rating
	}
	if info.Avatar != nil {
		p.avatarURL = info.Avatar.URL
		p.avatarTooltip = info.Avatar.Tooltip
	}
}

// PlayerSnapshot is an immutable copy of a record for serialization.
type PlayerSnapshot struct {
	Username                   string     `json:"username"`
	Clan                       string     `json:"clan,omitempty"`
	Country                    string     `json:"country,omitempty"`
	AvatarURL                  string     `json:"avatar_url,omitempty"`
	AvatarTooltip              string     `json:"avatar_tooltip,omitempty"`
	Friend                     bool       `json:"friend"`
	Foe                        bool       `json:"foe"`
	ChatOnly                   bool       `json:"chat_only"`
	GlobalRatingMean           float64    `json:"global_rating_mean"`
	GlobalRatingDeviation      float64    `json:"global_rating_deviation"`
	LeaderboardRatingMean      float64    `json:"leaderboard_rating_mean"`
	LeaderboardRatingDeviation float64    `json:"leaderboard_rating_deviation"`
	Ratings                    map[string]int `json:"ratings,omitempty"`
	NumberOfGames              int        `json:"number_of_games"`
	GameStatus                 GameStatus `json:"game_status"`
	GameUID                    int        `json:"game_uid,omitempty"`
}

// Snapshot copies the record under its read lock.
func (p *PlayerRecord) Snapshot() PlayerSnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ratings := make(map[string]int, len(p.ratings))
	for category, rating := range p.ratings {
		ratings[category] = rating
	}
	return PlayerSnapshot{
		Username:                   p.username,
		Clan:                       p.clan,
		Country:                    p.country,
		AvatarURL:                  p.avatarURL,
		AvatarTooltip:              p.avatarTooltip,
		Friend:                     p.friend,
		Foe:                        p.foe,
		ChatOnly:                   p.chatOnly,
		GlobalRatingMean:           p.globalRatingMean,
		GlobalRatingDeviation:      p.globalRatingDeviation,
		LeaderboardRatingMean:      p.leaderboardRatingMean,
		LeaderboardRatingDeviation: p.leaderboardRatingDeviation,
		Ratings:                    ratings,
		NumberOfGames:              p.numberOfGames,
		GameStatus:                 p.gameStatus,
		GameUID:                    p.gameUID,
	}
}
