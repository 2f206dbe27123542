// Package progression owns a player's XP, level and evolution stage and mirrors them to
// a remote profile store.
//
// Local state is authoritative. Every mutation schedules a background upsert of the
// snapshot taken at mutation time; failures are logged and dropped. Background upserts
// are not serialized against each other, so a slow older write can land after a newer
// one and the store briefly holds stale values until the next mutation.
package progression

import (
	"context"
	"errors"
	"log"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const syncTimeout = 5 * time.Second

// Snapshot is a consistent copy of the engine's state.
type Snapshot struct {
	Identity
	Progress
}

type Engine struct {
	store    ProfileStore
	levelCap int
	logger   *log.Logger
	now      func() time.Time

	mu    sync.Mutex
	ident Identity
	prog  Progress
	subs  map[int]chan Snapshot
	next  int

	syncs    sync.WaitGroup
	pending  atomic.Int32
	unsynced atomic.Bool // last background sync failed
}

type Option func(*Engine)

func WithLevelCap(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.levelCap = n
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine starts from default progress. store may be nil, in which case nothing is
// mirrored.
func NewEngine(ident Identity, store ProfileStore, opts ...Option) *Engine {
	if ident.Nickname == "" {
		ident.Nickname = DefaultNickname
	}
	if ident.Tribe == "" {
		ident.Tribe = DefaultTribe
	}
	e := &Engine{
		store:    store,
		levelCap: DefaultLevelCap,
		logger:   log.New(os.Stderr, "", log.LstdFlags),
		now:      time.Now,
		ident:    ident,
		prog:     DefaultProgress(),
		subs:     make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) LevelCap() int { return e.levelCap }

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{Identity: e.ident, Progress: e.prog}
}

// AddXP adds amount toward maxXP. Reaching maxXP levels up once and carries the
// remainder; a very large amount still only levels up once. Nothing happens at the
// level cap or for a non-positive amount.
func (e *Engine) AddXP(amount, maxXP int) (leveledUp bool) {
	e.mu.Lock()
	leveledUp, changed := e.addXPLocked(amount, maxXP)
	snap := e.snapshotLocked()
	if changed {
		e.notifyLocked(snap)
	}
	e.mu.Unlock()

	if changed {
		e.syncInBackground(snap)
	}
	return leveledUp
}

// GainXP is AddXP against the MaxXP of whatever level the player holds when the XP
// lands.
func (e *Engine) GainXP(amount int) (leveledUp bool) {
	e.mu.Lock()
	leveledUp, changed := e.addXPLocked(amount, MaxXP(e.prog.Level))
	snap := e.snapshotLocked()
	if changed {
		e.notifyLocked(snap)
	}
	e.mu.Unlock()

	if changed {
		e.syncInBackground(snap)
	}
	return leveledUp
}

func (e *Engine) addXPLocked(amount, maxXP int) (leveledUp, changed bool) {
	if amount <= 0 || e.prog.Level >= e.levelCap {
		return false, false
	}
	xp := e.prog.XP + amount
	if maxXP > 0 && xp >= maxXP {
		xp -= maxXP
		e.prog.Level++
		leveledUp = true
	}
	e.prog.XP = xp
	return leveledUp, true
}

// UpdateSpeakingTime accumulates speaking time. The evolution stage only moves up.
// Coins are earned per full ten seconds of cumulative speaking.
func (e *Engine) UpdateSpeakingTime(seconds int64) (evolved bool) {
	e.mu.Lock()
	evolved, changed := e.speakLocked(seconds)
	snap := e.snapshotLocked()
	if changed {
		e.notifyLocked(snap)
	}
	e.mu.Unlock()

	if changed {
		e.syncInBackground(snap)
	}
	return evolved
}

func (e *Engine) speakLocked(seconds int64) (evolved, changed bool) {
	if seconds <= 0 {
		return false, false
	}
	before := e.prog.TotalSpeakingSeconds
	total := before + seconds
	e.prog.TotalSpeakingSeconds = total
	e.prog.Coins += total/10 - before/10

	if stage := EvolutionStageFor(total); stage > e.prog.EvolutionStage {
		e.prog.EvolutionStage = stage
		evolved = true
		e.logger.Printf("[progression] evolved player=%s stage=%d", e.ident.PlayerID, stage)
	}
	return evolved, true
}

type TickResult struct {
	LeveledUp bool `json:"leveled_up"`
	Evolved   bool `json:"evolved"`
}

// Tick applies one stretch of practice: seconds of XP against the current level's
// MaxXP plus the same seconds of speaking time, mirrored once.
func (e *Engine) Tick(seconds int64) TickResult {
	e.mu.Lock()
	var res TickResult
	var xpChanged, speakChanged bool
	if seconds > 0 && seconds <= math.MaxInt32 {
		res.LeveledUp, xpChanged = e.addXPLocked(int(seconds), MaxXP(e.prog.Level))
	}
	res.Evolved, speakChanged = e.speakLocked(seconds)
	changed := xpChanged || speakChanged
	snap := e.snapshotLocked()
	if changed {
		e.notifyLocked(snap)
	}
	e.mu.Unlock()

	if changed {
		e.syncInBackground(snap)
	}
	return res
}

// SetIdentity edits the profile fields. Empty values leave the field unchanged.
func (e *Engine) SetIdentity(nickname, tribe, character string) Snapshot {
	e.mu.Lock()
	if nickname != "" {
		e.ident.Nickname = nickname
	}
	if tribe != "" {
		e.ident.Tribe = tribe
	}
	if character != "" {
		e.ident.Character = character
	}
	snap := e.snapshotLocked()
	e.notifyLocked(snap)
	e.mu.Unlock()

	e.syncInBackground(snap)
	return snap
}

// SyncToRemote upserts the current state and returns the store's error.
func (e *Engine) SyncToRemote(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	return e.store.Upsert(ctx, e.record(e.Snapshot()))
}

// LoadFromRemote replaces local state with the stored profile. On ErrProfileNotFound
// the engine keeps its defaults and the error is returned for the caller to decide.
func (e *Engine) LoadFromRemote(ctx context.Context) (Snapshot, error) {
	if e.store == nil {
		return e.Snapshot(), ErrProfileNotFound
	}
	e.mu.Lock()
	id := e.ident.PlayerID
	e.mu.Unlock()

	rec, err := e.store.Get(ctx, id)
	if err != nil {
		return e.Snapshot(), err
	}

	e.mu.Lock()
	e.ident = withIdentityDefaults(rec.Identity, id)
	e.prog = withProgressDefaults(rec.Progress)
	snap := e.snapshotLocked()
	e.notifyLocked(snap)
	e.mu.Unlock()

	return snap, nil
}

// Subscribe returns a channel that receives the latest snapshot after each change.
// A slow reader skips intermediate snapshots. cancel closes the channel.
func (e *Engine) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	e.mu.Lock()
	id := e.next
	e.next++
	e.subs[id] = ch
	e.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.subs, id)
			close(ch)
			e.mu.Unlock()
		})
	}
}

// Wait blocks until background syncs started so far have finished.
func (e *Engine) Wait() {
	e.syncs.Wait()
}

// busy reports whether dropping the engine could lose state or strand a subscriber.
func (e *Engine) busy() bool {
	if e.pending.Load() > 0 || e.unsynced.Load() {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs) > 0
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{Identity: e.ident, Progress: e.prog}
}

func (e *Engine) notifyLocked(snap Snapshot) {
	for _, ch := range e.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (e *Engine) syncInBackground(snap Snapshot) {
	if e.store == nil {
		return
	}
	rec := e.record(snap)
	e.syncs.Add(1)
	e.pending.Add(1)
	go func() {
		defer e.syncs.Done()
		defer e.pending.Add(-1)
		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()
		if err := e.store.Upsert(ctx, rec); err != nil {
			e.unsynced.Store(true)
			e.logger.Printf("[progression] sync failed player=%s level=%d xp=%d err=%v",
				rec.PlayerID, rec.Level, rec.XP, err)
			return
		}
		e.unsynced.Store(false)
	}()
}

func (e *Engine) record(snap Snapshot) Record {
	return Record{Identity: snap.Identity, Progress: snap.Progress, UpdatedAt: e.now()}
}

func withIdentityDefaults(id Identity, playerID string) Identity {
	id.PlayerID = playerID
	if id.Nickname == "" {
		id.Nickname = DefaultNickname
	}
	if id.Tribe == "" {
		id.Tribe = DefaultTribe
	}
	return id
}

func withProgressDefaults(p Progress) Progress {
	if p.Level < 1 {
		p.Level = 1
	}
	if p.XP < 0 {
		p.XP = 0
	}
	if p.EvolutionStage < 1 {
		p.EvolutionStage = 1
	}
	if p.EvolutionStage > 3 {
		p.EvolutionStage = 3
	}
	if p.TotalSpeakingSeconds < 0 {
		p.TotalSpeakingSeconds = 0
	}
	return p
}

// IsNotFound reports whether err means the player has no stored profile yet.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProfileNotFound)
}
