package domain

import (
	"slices"
	"testing"
)

func TestStatusFromGameState(t *testing.T) {
	tests := []struct {
		state GameState
		want  GameStatus
	}{
		{GameStateOpen, StatusLobby},
		{GameStatePlaying, StatusPlaying},
		{GameStateClosed, StatusNone},
	}
	for _, tt := range tests {
		if got := StatusFromGameState(tt.state); got != tt.want {
			t.Errorf("StatusFromGameState(%q) = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestStatusFromGameStateUnknownPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("an unmapped game state must panic")
		}
	}()
	StatusFromGameState(GameState("warming_up"))
}

func TestRosterUsernames(t *testing.T) {
	game := &GameRecord{
		UID:  1,
		Host: "host",
		Teams: map[string][]string{
			"1": {"alice", "bob"},
			"2": {"carol"},
		},
	}

	roster := game.RosterUsernames()
	slices.Sort(roster)
	want := []string{"alice", "bob", "carol"}
	if !slices.Equal(roster, want) {
		t.Errorf("RosterUsernames() = %v, want %v", roster, want)
	}
}

func TestRosterUsernamesEmptyTeams(t *testing.T) {
	game := &GameRecord{UID: 1, Host: "host"}
	if got := game.RosterUsernames(); len(got) != 0 {
		t.Errorf("RosterUsernames() = %v, want empty", got)
	}
}
