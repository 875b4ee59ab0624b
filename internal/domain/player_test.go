package domain

import (
	"sync"
	"testing"
)

func TestNewPlayerRecordDefaults(t *testing.T) {
	p := NewPlayerRecord("alice")

	if got := p.Username(); got != "alice" {
		t.Errorf("Username() = %q, want %q", got, "alice")
	}
	if !p.IsChatOnly() {
		t.Error("new record should be chat-only until attribute data arrives")
	}
	if got := p.GameStatus(); got != StatusNone {
		t.Errorf("GameStatus() = %q, want %q", got, StatusNone)
	}
	if p.IsFriend() || p.IsFoe() {
		t.Error("new record should carry no relationship flags")
	}
}

func TestRatingMissingCategory(t *testing.T) {
	p := NewPlayerRecord("alice")
	if got := p.Rating("ladder"); got != 0 {
		t.Errorf("Rating(ladder) = %d, want 0 for unrated category", got)
	}

	p.ApplyInfo(PlayerInfo{Username: "alice", Ratings: map[string]int{"global": 1500}})
	if got := p.Rating("global"); got != 1500 {
		t.Errorf("Rating(global) = %d, want 1500", got)
	}
	if got := p.Rating("ladder"); got != 0 {
		t.Errorf("Rating(ladder) = %d, want 0 after unrelated update", got)
	}
}

func TestConservativeRatingFloorsAtZero(t *testing.T) {
	p := NewPlayerRecord("alice")
	p.ApplyInfo(PlayerInfo{Username: "alice", RatingMean: 100, RatingDeviation: 200})
	if got := p.ConservativeRating(); got != 0 {
		t.Errorf("ConservativeRating() = %d, want 0 when mean-3*dev is negative", got)
	}

	p.ApplyInfo(PlayerInfo{Username: "alice", RatingMean: 1500, RatingDeviation: 100})
	if got := p.ConservativeRating(); got != 1200 {
		t.Errorf("ConservativeRating() = %d, want 1200", got)
	}
}

func TestApplyInfoClearsChatOnlyPermanently(t *testing.T) {
	p := NewPlayerRecord("alice")
	p.ApplyInfo(PlayerInfo{Username: "alice"})
	if p.IsChatOnly() {
		t.Fatal("record should not be chat-only once attribute data arrived")
	}
	p.ApplyInfo(PlayerInfo{Username: "alice"})
	if p.IsChatOnly() {
		t.Error("chat-only must never return once cleared")
	}
}

func TestApplyInfoMergesRatings(t *testing.T) {
	p := NewPlayerRecord("alice")
	p.ApplyInfo(PlayerInfo{Username: "alice", Ratings: map[string]int{"global": 1000, "ladder": 800}})
	p.ApplyInfo(PlayerInfo{Username: "alice", Ratings: map[string]int{"global": 1100}})

	if got := p.Rating("global"); got != 1100 {
		t.Errorf("Rating(global) = %d, want 1100", got)
	}
	if got := p.Rating("ladder"); got != 800 {
		t.Errorf("Rating(ladder) = %d, want 800 to survive partial updates", got)
	}
}

func TestSetFriendFoeMutualExclusion(t *testing.T) {
	p := NewPlayerRecord("alice")

	p.SetFriendFoe(true, false)
	if !p.IsFriend() || p.IsFoe() {
		t.Fatalf("after friend: friend=%v foe=%v", p.IsFriend(), p.IsFoe())
	}

	p.SetFriendFoe(false, true)
	if p.IsFriend() || !p.IsFoe() {
		t.Fatalf("after foe: friend=%v foe=%v", p.IsFriend(), p.IsFoe())
	}
}

func TestSetFriendFoeReportsChange(t *testing.T) {
	p := NewPlayerRecord("alice")

	if p.SetFriendFoe(false, false) {
		t.Error("re-applying the default flags should be a no-op")
	}
	if !p.SetFriendFoe(true, false) {
		t.Error("flipping the friend flag should report a change")
	}
	if p.SetFriendFoe(true, false) {
		t.Error("re-applying the same flags should be a no-op")
	}
	if !p.SetFriendFoe(false, true) {
		t.Error("swapping friend for foe should report a change")
	}
}

func TestSetGameStatusReportsChange(t *testing.T) {
	p := NewPlayerRecord("alice")

	if !p.SetGameStatus(StatusLobby, 42) {
		t.Error("first transition should report a change")
	}
	if p.SetGameStatus(StatusLobby, 42) {
		t.Error("re-applying the same status/uid should be a no-op")
	}
	if !p.SetGameStatus(StatusLobby, 43) {
		t.Error("same status in a different game should report a change")
	}
	if got := p.GameUID(); got != 43 {
		t.Errorf("GameUID() = %d, want 43", got)
	}
}

func TestSnapshotIsDetached(t *testing.T) {
	p := NewPlayerRecord("alice")
	p.ApplyInfo(PlayerInfo{Username: "alice", Ratings: map[string]int{"global": 1000}})

	snap := p.Snapshot()
	p.ApplyInfo(PlayerInfo{Username: "alice", Ratings: map[string]int{"global": 2000}})

	if got := snap.Ratings["global"]; got != 1000 {
		t.Errorf("snapshot rating = %d, want 1000; snapshot must not alias the record", got)
	}
}

func TestPlayerRecordConcurrentAccess(t *testing.T) {
	p := NewPlayerRecord("alice")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				p.ApplyInfo(PlayerInfo{Username: "alice", RatingMean: float64(n * j)})
				p.SetGameStatus(StatusLobby, n)
				_ = p.Snapshot()
				_ = p.Rating("global")
			}
		}(i)
	}
	wg.Wait()
}
