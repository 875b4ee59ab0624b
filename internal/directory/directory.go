package directory

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lobby-presence/internal/domain"
)

// persistTimeout bounds the background friend/foe list writes.
const persistTimeout = 5 * time.Second

// RelationStore persists the friend and foe lists. Calls are fire-and-forget;
// the directory never waits on them.
type RelationStore interface {
	SaveFriends(ctx context.Context, usernames []string) error
	SaveFoes(ctx context.Context, usernames []string) error
}

// persistState serializes the background writes for one relation list. The
// sequence number discards snapshots that lost the race to a newer one, so
// the store always ends up holding the latest list.
type persistState struct {
	mu   sync.Mutex
	last uint64
}

// Directory is the single source of truth for player identity, attributes
// and relationship flags. All mutation funnels through its methods, so
// consumers observe monotonically-consistent state.
type Directory struct {
	logger        *slog.Logger
	store         RelationStore
	localUsername func() string

	mu         sync.RWMutex
	players    map[string]*domain.PlayerRecord
	friends    []string
	foes       []string
	friendsSeq uint64
	foesSeq    uint64

	friendsPersist persistState
	foesPersist    persistState

	currentMu sync.Mutex
	current   atomic.Pointer[domain.PlayerRecord]

	observerMu sync.RWMutex
	observers  []func(domain.PlayerSnapshot)
}

// New creates an empty directory. The localUsername func resolves the local
// session's identity; it is only consulted on the first ResolveCurrentPlayer
// call.
func New(store RelationStore, localUsername func() string, logger *slog.Logger) *Directory {
	return &Directory{
		logger:        logger,
		store:         store,
		localUsername: localUsername,
		players:       make(map[string]*domain.PlayerRecord),
	}
}

// OnChange registers an observer invoked after every record mutation with a
// snapshot of the changed record. Observers must not call back into the
// directory.
func (d *Directory) OnChange(fn func(domain.PlayerSnapshot)) {
	d.observerMu.Lock()
	d.observers = append(d.observers, fn)
	d.observerMu.Unlock()
}

func (d *Directory) notify(record *domain.PlayerRecord) {
	d.observerMu.RLock()
	observers := d.observers
	d.observerMu.RUnlock()
	if len(observers) == 0 {
		return
	}
	snapshot := record.Snapshot()
	for _, fn := range observers {
		fn(snapshot)
	}
}

// GetOrRegister returns the existing record for username or creates one with
// defaults. Exactly one record is ever created per username, even under
// concurrent first calls.
func (d *Directory) GetOrRegister(username string) *domain.PlayerRecord {
	d.mu.RLock()
	record, ok := d.players[username]
	d.mu.RUnlock()
	if ok {
		return record
	}

	d.mu.Lock()
	record, ok = d.players[username]
	if !ok {
		record = domain.NewPlayerRecord(username)
		// Friend/foe snapshots may arrive before the player is known.
		record.SetFriendFoe(slices.Contains(d.friends, username), slices.Contains(d.foes, username))
		d.players[username] = record
	}
	d.mu.Unlock()
	if !ok {
		d.notify(record)
	}
	return record
}

// Lookup returns the record for username without creating one.
func (d *Directory) Lookup(username string) (*domain.PlayerRecord, bool) {
	d.mu.RLock()
	record, ok := d.players[username]
	d.mu.RUnlock()
	if !ok {
		d.logger.Warn("unknown player", "username", username)
	}
	return record, ok
}

// PlayerNames returns every known username.
func (d *Directory) PlayerNames() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.players))
	for name := range d.players {
		names = append(names, name)
	}
	return names
}

// Snapshots copies every known record.
func (d *Directory) Snapshots() []domain.PlayerSnapshot {
	d.mu.RLock()
	records := make([]*domain.PlayerRecord, 0, len(d.players))
	for _, record := range d.players {
		records = append(records, record)
	}
	d.mu.RUnlock()

	snapshots := make([]domain.PlayerSnapshot, 0, len(records))
	for _, record := range records {
		snapshots = append(snapshots, record.Snapshot())
	}
	return snapshots
}

// UpdateFromRemoteInfo applies a player-info event, registering the player
// when unknown. The first update for a record also merges any friend/foe
// membership received before the player was known.
func (d *Directory) UpdateFromRemoteInfo(info domain.PlayerInfo) {
	record := d.GetOrRegister(info.Username)
	if record.IsChatOnly() {
		d.mu.RLock()
		friend := slices.Contains(d.friends, info.Username)
		foe := slices.Contains(d.foes, info.Username)
		d.mu.RUnlock()
		record.SetFriendFoe(friend, foe)
	}
	record.ApplyInfo(info)
	d.notify(record)
}

// SetFriend marks username as a friend, clearing any foe flag, and persists
// the updated friend list. Unknown usernames are a no-op.
func (d *Directory) SetFriend(username string) {
	record, ok := d.Lookup(username)
	if !ok {
		return
	}
	record.SetFriendFoe(true, false)

	d.mu.Lock()
	d.friends = appendUnique(d.friends, username)
	d.foes = remove(d.foes, username)
	friends, foes := slices.Clone(d.friends), slices.Clone(d.foes)
	d.friendsSeq++
	d.foesSeq++
	friendsSeq, foesSeq := d.friendsSeq, d.foesSeq
	d.mu.Unlock()

	d.persistFriends(friends, friendsSeq)
	d.persistFoes(foes, foesSeq)
	d.notify(record)
}

// RemoveFriend clears username's friend flag and persists the updated list.
func (d *Directory) RemoveFriend(username string) {
	record, ok := d.Lookup(username)
	if !ok {
		return
	}
	record.SetFriendFoe(false, record.IsFoe())

	d.mu.Lock()
	d.friends = remove(d.friends, username)
	friends := slices.Clone(d.friends)
	d.friendsSeq++
	friendsSeq := d.friendsSeq
	d.mu.Unlock()

	d.persistFriends(friends, friendsSeq)
	d.notify(record)
}

// SetFoe marks username as a foe, clearing any friend flag, and persists the
// updated foe list. Unknown usernames are a no-op.
func (d *Directory) SetFoe(username string) {
	record, ok := d.Lookup(username)
	if !ok {
		return
	}
	record.SetFriendFoe(false, true)

	d.mu.Lock()
	d.foes = appendUnique(d.foes, username)
	d.friends = remove(d.friends, username)
	friends, foes := slices.Clone(d.friends), slices.Clone(d.foes)
	d.friendsSeq++
	d.foesSeq++
	friendsSeq, foesSeq := d.friendsSeq, d.foesSeq
	d.mu.Unlock()

	d.persistFriends(friends, friendsSeq)
	d.persistFoes(foes, foesSeq)
	d.notify(record)
}

// RemoveFoe clears username's foe flag and persists the updated list.
func (d *Directory) RemoveFoe(username string) {
	record, ok := d.Lookup(username)
	if !ok {
		return
	}
	record.SetFriendFoe(record.IsFriend(), false)

	d.mu.Lock()
	d.foes = remove(d.foes, username)
	foes := slices.Clone(d.foes)
	d.foesSeq++
	foesSeq := d.foesSeq
	d.mu.Unlock()

	d.persistFoes(foes, foesSeq)
	d.notify(record)
}

// ApplyFriendList replaces the friend list wholesale with a snapshot from the
// remote side and re-derives the flag of every currently-known record.
func (d *Directory) ApplyFriendList(usernames []string) {
	d.mu.Lock()
	d.friends = slices.Clone(usernames)
	records := d.knownRecordsLocked()
	d.mu.Unlock()

	for _, record := range records {
		friend := slices.Contains(usernames, record.Username())
		foe := record.IsFoe()
		if friend {
			foe = false
		}
		if record.SetFriendFoe(friend, foe) {
			d.notify(record)
		}
	}
}

// ApplyFoeList replaces the foe list wholesale and re-derives the flag of
// every currently-known record.
func (d *Directory) ApplyFoeList(usernames []string) {
	d.mu.Lock()
	d.foes = slices.Clone(usernames)
	records := d.knownRecordsLocked()
	d.mu.Unlock()

	for _, record := range records {
		foe := slices.Contains(usernames, record.Username())
		friend := record.IsFriend()
		if foe {
			friend = false
		}
		if record.SetFriendFoe(friend, foe) {
			d.notify(record)
		}
	}
}

// Friends returns a copy of the friend list.
func (d *Directory) Friends() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.friends)
}

// Foes returns a copy of the foe list.
func (d *Directory) Foes() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.foes)
}

// UpdateGameStatus sets a record's derived game status. Re-applying the same
// status/uid pair is a no-op and does not fire observers, which keeps the
// projector idempotent under duplicate lifecycle events.
func (d *Directory) UpdateGameStatus(record *domain.PlayerRecord, status domain.GameStatus, gameUID int) {
	if record == nil {
		return
	}
	if record.SetGameStatus(status, gameUID) {
		d.notify(record)
	}
}

// ResolveCurrentPlayer returns the local session's own record, registering it
// on first call. The registration runs at most once even under concurrent
// first callers; subsequent calls are lock-free reads.
func (d *Directory) ResolveCurrentPlayer() *domain.PlayerRecord {
	if record := d.current.Load(); record != nil {
		return record
	}

	d.currentMu.Lock()
	defer d.currentMu.Unlock()
	if record := d.current.Load(); record != nil {
		return record
	}
	record := d.GetOrRegister(d.localUsername())
	d.current.Store(record)
	return record
}

func (d *Directory) knownRecordsLocked() []*domain.PlayerRecord {
	records := make([]*domain.PlayerRecord, 0, len(d.players))
	for _, record := range d.players {
		records = append(records, record)
	}
	return records
}

func (d *Directory) persistFriends(usernames []string, seq uint64) {
	go d.runPersist(&d.friendsPersist, seq, usernames, d.store.SaveFriends, "friend")
}

func (d *Directory) persistFoes(usernames []string, seq uint64) {
	go d.runPersist(&d.foesPersist, seq, usernames, d.store.SaveFoes, "foe")
}

// runPersist writes one list snapshot to the store. Writes for the same list
// are serialized under the state mutex, and a snapshot older than one already
// written is skipped rather than clobbering the newer list.
func (d *Directory) runPersist(state *persistState, seq uint64, usernames []string, save func(context.Context, []string) error, kind string) {
	state.mu.Lock()
	defer state.mu.Unlock()
	if seq <= state.last {
		return
	}
	state.last = seq

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := save(ctx, usernames); err != nil {
		d.logger.Warn("failed to persist "+kind+" list", "error", err)
	}
}

func appendUnique(list []string, username string) []string {
	if slices.Contains(list, username) {
		return list
	}
	return append(list, username)
}

func remove(list []string, username string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == username })
}
