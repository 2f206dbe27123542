package progression

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"
)

type memStore struct {
	mu      sync.Mutex
	records map[string]Record
	upserts int
	err     error
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]Record)}
}

func (s *memStore) Upsert(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts++
	if s.err != nil {
		return s.err
	}
	s.records[rec.PlayerID] = rec
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return Record{}, s.err
	}
	rec, ok := s.records[id]
	if !ok {
		return Record{}, ErrProfileNotFound
	}
	return rec, nil
}

func TestAddXP_LevelUpCarriesRemainder(t *testing.T) {
	e := NewEngine(Identity{PlayerID: "p1"}, nil)
	if up := e.AddXP(150, 100); !up {
		t.Fatalf("expected level up")
	}
	snap := e.Snapshot()
	if snap.Level != 2 || snap.XP != 50 {
		t.Fatalf("expected level 2 xp 50, got level %d xp %d", snap.Level, snap.XP)
	}
}

func TestAddXP_SingleLevelUpPerCall(t *testing.T) {
	e := NewEngine(Identity{PlayerID: "p1"}, nil)
	e.AddXP(1000, 100)
	snap := e.Snapshot()
	if snap.Level != 2 || snap.XP != 900 {
		t.Fatalf("expected one level-up with carry 900, got level %d xp %d", snap.Level, snap.XP)
	}
}

func TestAddXP_NoopAtLevelCap(t *testing.T) {
	e := NewEngine(Identity{PlayerID: "p1"}, nil, WithLevelCap(2))
	e.AddXP(100, 100)
	if e.Snapshot().Level != 2 {
		t.Fatalf("expected level 2")
	}
	e.AddXP(500, 200)
	if snap := e.Snapshot(); snap.Level != 2 || snap.XP != 0 {
		t.Fatalf("expected no change at cap, got %+v", snap.Progress)
	}
}

func TestUpdateSpeakingTime_EvolutionScenario(t *testing.T) {
	e := NewEngine(Identity{PlayerID: "p1"}, nil)

	e.UpdateSpeakingTime(899)
	if got := e.Snapshot().EvolutionStage; got != 1 {
		t.Fatalf("expected stage 1 at 899s, got %d", got)
	}

	if evolved := e.UpdateSpeakingTime(1); !evolved {
		t.Fatalf("expected evolution at 900s")
	}
	if snap := e.Snapshot(); snap.EvolutionStage != 2 || snap.TotalSpeakingSeconds != 900 {
		t.Fatalf("unexpected state: %+v", snap.Progress)
	}

	e.UpdateSpeakingTime(0)
	if got := e.Snapshot().EvolutionStage; got != 2 {
		t.Fatalf("stage must not drop, got %d", got)
	}
}

func TestUpdateSpeakingTime_StageIsMonotonic(t *testing.T) {
	e := NewEngine(Identity{PlayerID: "p1"}, nil)
	last := e.Snapshot().EvolutionStage
	for _, s := range []int64{0, 5, 1000, 0, 3, 2700, 0, 1, 999999, -40, 0} {
		e.UpdateSpeakingTime(s)
		stage := e.Snapshot().EvolutionStage
		if stage < last {
			t.Fatalf("stage decreased from %d to %d after %d", last, stage, s)
		}
		last = stage
	}
	if last != 3 {
		t.Fatalf("expected final stage 3, got %d", last)
	}
}

func TestUpdateSpeakingTime_StageNeverDowngradesFromLoadedProfile(t *testing.T) {
	store := newMemStore()
	store.records["p1"] = Record{
		Identity: Identity{PlayerID: "p1"},
		Progress: Progress{Level: 5, EvolutionStage: 3, TotalSpeakingSeconds: 10},
	}
	e := NewEngine(Identity{PlayerID: "p1"}, store)
	if _, err := e.LoadFromRemote(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	e.UpdateSpeakingTime(5)
	e.Wait()
	if got := e.Snapshot().EvolutionStage; got != 3 {
		t.Fatalf("expected stage 3 to be kept, got %d", got)
	}
}

func TestUpdateSpeakingTime_CoinsPerTenSeconds(t *testing.T) {
	e := NewEngine(Identity{PlayerID: "p1"}, nil)
	for i := 0; i < 25; i++ {
		e.UpdateSpeakingTime(1)
	}
	if got := e.Snapshot().Coins; got != 2 {
		t.Fatalf("expected 2 coins after 25s, got %d", got)
	}
}

func TestTick_GrantsXPAndSpeakingTime(t *testing.T) {
	e := NewEngine(Identity{PlayerID: "p1"}, nil)
	for i := 0; i < 100; i++ {
		e.Tick(1)
	}
	snap := e.Snapshot()
	if snap.Level != 2 || snap.XP != 0 || snap.TotalSpeakingSeconds != 100 {
		t.Fatalf("unexpected state: %+v", snap.Progress)
	}
}

func TestMutationsSyncToStore(t *testing.T) {
	store := newMemStore()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	e := NewEngine(Identity{PlayerID: "p1", Nickname: "Hero"}, store, WithNow(func() time.Time { return fixed }))

	e.AddXP(150, 100)
	e.Wait()

	rec, err := store.Get(context.Background(), "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Level != 2 || rec.XP != 50 || rec.Nickname != "Hero" || !rec.UpdatedAt.Equal(fixed) {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestSyncFailureIsLoggedAndLocalStateKept(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("network down")
	var buf bytes.Buffer
	e := NewEngine(Identity{PlayerID: "p1"}, store, WithLogger(log.New(&buf, "", 0)))

	e.AddXP(30, 100)
	e.Wait()

	if e.Snapshot().XP != 30 {
		t.Fatalf("local state must stay authoritative")
	}
	if !strings.Contains(buf.String(), "sync failed") {
		t.Fatalf("expected a sync failure log, got %q", buf.String())
	}
	if err := e.SyncToRemote(context.Background()); err == nil {
		t.Fatalf("explicit sync should surface the error")
	}
}

func TestLoadFromRemote_NotFoundKeepsDefaults(t *testing.T) {
	e := NewEngine(Identity{PlayerID: "p1"}, newMemStore())
	snap, err := e.LoadFromRemote(context.Background())
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if snap.Level != 1 || snap.XP != 0 || snap.EvolutionStage != 1 || snap.Nickname != DefaultNickname {
		t.Fatalf("unexpected defaults: %+v", snap)
	}
}

func TestSubscribe_ReceivesLatestSnapshot(t *testing.T) {
	e := NewEngine(Identity{PlayerID: "p1"}, nil)
	ch, cancel := e.Subscribe()
	defer cancel()

	e.AddXP(10, 100)
	e.AddXP(10, 100)

	select {
	case snap := <-ch:
		if snap.XP != 20 {
			t.Fatalf("expected latest snapshot xp=20, got %d", snap.XP)
		}
	case <-time.After(time.Second):
		t.Fatalf("no snapshot delivered")
	}

	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after cancel")
	}
}

func TestRegistry_HydratesOnce(t *testing.T) {
	store := newMemStore()
	store.records["p1"] = Record{Identity: Identity{PlayerID: "p1", Nickname: "Stored"}, Progress: Progress{Level: 7, XP: 3, EvolutionStage: 2}}
	r := NewRegistry(store)

	e, err := r.Get(context.Background(), Identity{PlayerID: "p1", Nickname: "FromToken"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap := e.Snapshot(); snap.Level != 7 || snap.Nickname != "Stored" {
		t.Fatalf("expected hydrated engine, got %+v", snap)
	}
	again, _ := r.Get(context.Background(), Identity{PlayerID: "p1"})
	if again != e {
		t.Fatalf("expected cached engine")
	}

	fresh, err := r.Get(context.Background(), Identity{PlayerID: "p2", Nickname: "New"})
	if err != nil {
		t.Fatalf("get new player: %v", err)
	}
	if snap := fresh.Snapshot(); snap.Level != 1 || snap.Nickname != "New" {
		t.Fatalf("expected defaults for new player, got %+v", snap)
	}
}

func TestRegistry_LoadErrorIsNotCached(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("db down")
	r := NewRegistry(store)
	if _, err := r.Get(context.Background(), Identity{PlayerID: "p1"}); err == nil {
		t.Fatalf("expected error")
	}
	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()
	if _, err := r.Get(context.Background(), Identity{PlayerID: "p1"}); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestGainXP_UsesCurrentLevelUnderOneLock(t *testing.T) {
	e := NewEngine(Identity{PlayerID: "p1"}, nil)
	// level 1 needs 100, level 2 needs 200
	if up := e.GainXP(100); !up {
		t.Fatalf("expected level up at 100 xp")
	}
	if up := e.GainXP(150); up {
		t.Fatalf("150 xp must not reach level 2's 200")
	}
	if snap := e.Snapshot(); snap.Level != 2 || snap.XP != 150 {
		t.Fatalf("unexpected state: %+v", snap.Progress)
	}
}

func TestGainXP_ConcurrentCallsNeverSkipALevel(t *testing.T) {
	e := NewEngine(Identity{PlayerID: "p1"}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.GainXP(50)
		}()
	}
	wg.Wait()

	// 1500 xp from level 1 is exactly 100 + 200 + 300 + 400 + 500
	if snap := e.Snapshot(); snap.Level != 6 || snap.XP != 0 {
		t.Fatalf("unexpected state: %+v", snap.Progress)
	}
}

func TestRegistry_ReloadPicksUpStoredProfile(t *testing.T) {
	store := newMemStore()
	r := NewRegistry(store)
	ctx := context.Background()
	ident := Identity{PlayerID: "p1", Nickname: "Hero"}

	snap, err := r.Reload(ctx, ident)
	if err != nil || snap.Level != 1 {
		t.Fatalf("reload without profile: %+v err=%v", snap, err)
	}

	store.mu.Lock()
	store.records["p1"] = Record{Identity: ident, Progress: Progress{Level: 9, EvolutionStage: 3}}
	store.mu.Unlock()
	snap, err = r.Reload(ctx, ident)
	if err != nil || snap.Level != 9 || snap.EvolutionStage != 3 {
		t.Fatalf("reload: %+v err=%v", snap, err)
	}
}

func TestRegistry_SweepDropsIdleEngines(t *testing.T) {
	store := newMemStore()
	r := NewRegistry(store, WithLogger(log.New(&bytes.Buffer{}, "", 0)))
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }
	ctx := context.Background()

	idle, _ := r.Get(ctx, Identity{PlayerID: "idle"})
	idle.GainXP(10)
	idle.Wait()

	failing, _ := r.Get(ctx, Identity{PlayerID: "failing"})
	store.mu.Lock()
	store.err = errors.New("db down")
	store.mu.Unlock()
	failing.GainXP(10)
	failing.Wait()
	store.mu.Lock()
	store.err = nil
	store.mu.Unlock()

	watched, _ := r.Get(ctx, Identity{PlayerID: "watched"})
	_, cancel := watched.Subscribe()
	defer cancel()

	now = now.Add(time.Hour)
	r.Get(ctx, Identity{PlayerID: "active"})

	if n := r.Sweep(30 * time.Minute); n != 1 {
		t.Fatalf("swept %d engines, want 1", n)
	}
	if r.Len() != 3 {
		t.Fatalf("expected 3 engines left, got %d", r.Len())
	}

	// the evicted player comes back from the store
	again, err := r.Get(ctx, Identity{PlayerID: "idle"})
	if err != nil || again == idle || again.Snapshot().XP != 10 {
		t.Fatalf("expected rehydrated engine: %+v err=%v", again.Snapshot(), err)
	}
}
