package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"queryagent/internal/apperrors"
	"queryagent/pkg/types"
)

// memPersister keeps the last saved state in memory.
type memPersister struct {
	mu      sync.Mutex
	saved   []Entry
	saves   int
	failErr error
	loadErr error
}

func (p *memPersister) Backend() string { return "memory" }

func (p *memPersister) Load(context.Context) ([]Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	return append([]Entry(nil), p.saved...), nil
}

func (p *memPersister) Save(_ context.Context, entries []Entry) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failErr != nil {
		return p.failErr
	}
	p.saved = append([]Entry(nil), entries...)
	p.saves++
	return nil
}

func (p *memPersister) snapshot() ([]Entry, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Entry(nil), p.saved...), p.saves
}

// fakeClock advances one second per call so CreatedAt is strictly increasing.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestStore(t *testing.T, p Persister, maxEntries int) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s := New(p, Options{MaxEntries: maxEntries, FlushInterval: -1, Now: clock.Now})
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func entry(q string, emb ...float64) Entry {
	if len(emb) == 0 {
		emb = []float64{1, 0, 0}
	}
	return Entry{
		QueryText: q,
		Embedding: emb,
		Answer:    types.Answer{Query: q, Summary: "answer for " + q},
	}
}

func TestStoreInsertPersists(t *testing.T) {
	p := &memPersister{}
	s, _ := newTestStore(t, p, 50)
	ctx := context.Background()

	m, err := s.Insert(ctx, entry("best restaurants in delhi"))
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if len(m.Evicted) != 0 || m.Replaced {
		t.Fatalf("unexpected mutation: %+v", m)
	}

	saved, saves := p.snapshot()
	if saves != 1 || len(saved) != 1 {
		t.Fatalf("expected one persisted entry after one save, got %d entries / %d saves", len(saved), saves)
	}
	got := saved[0]
	if got.ID == "" {
		t.Fatalf("expected generated ID")
	}
	if got.CreatedAt.IsZero() || !got.LastAccessedAt.Equal(got.CreatedAt) {
		t.Fatalf("timestamps not initialised: %+v", got)
	}
}

func TestStoreBoundedFIFOEviction(t *testing.T) {
	p := &memPersister{}
	s, _ := newTestStore(t, p, DefaultMaxEntries)
	ctx := context.Background()

	for i := 0; i < DefaultMaxEntries; i++ {
		if _, err := s.Insert(ctx, entry(fmt.Sprintf("query %d", i))); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
	}
	if s.Len() != DefaultMaxEntries {
		t.Fatalf("expected %d entries, got %d", DefaultMaxEntries, s.Len())
	}

	// touching the oldest must not protect it: eviction is by insertion, not recency
	s.Touch("query 0")

	m, err := s.Insert(ctx, entry("query 50"))
	if err != nil {
		t.Fatalf("Insert 51st failed: %v", err)
	}
	if len(m.Evicted) != 1 || m.Evicted[0].QueryText != "query 0" {
		t.Fatalf("expected oldest entry evicted, got %+v", m.Evicted)
	}
	if s.Len() != DefaultMaxEntries {
		t.Fatalf("size bound violated: %d", s.Len())
	}
	if _, ok := s.Get("query 50"); !ok {
		t.Fatalf("just-inserted entry must be present")
	}
	if _, ok := s.Get("query 0"); ok {
		t.Fatalf("evicted entry still present")
	}

	for i := 51; i < 200; i++ {
		if _, err := s.Insert(ctx, entry(fmt.Sprintf("query %d", i))); err != nil {
			t.Fatalf("Insert %d failed: %v", i, err)
		}
		if s.Len() > DefaultMaxEntries {
			t.Fatalf("size bound violated after insert %d: %d", i, s.Len())
		}
	}

	snap := s.Snapshot()
	if snap[0].QueryText != "query 150" || snap[len(snap)-1].QueryText != "query 199" {
		t.Fatalf("unexpected surviving window: %s .. %s", snap[0].QueryText, snap[len(snap)-1].QueryText)
	}
}

func TestStoreInsertReplacesSameQuery(t *testing.T) {
	p := &memPersister{}
	s, _ := newTestStore(t, p, 3)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c"} {
		if _, err := s.Insert(ctx, entry(q)); err != nil {
			t.Fatalf("Insert %s: %v", q, err)
		}
	}

	fresh := entry("a")
	fresh.Answer.Summary = "refreshed"
	m, err := s.Insert(ctx, fresh)
	if err != nil {
		t.Fatalf("Insert replacement: %v", err)
	}
	if !m.Replaced || len(m.Evicted) != 0 {
		t.Fatalf("replacing in a full store must not evict: %+v", m)
	}
	if s.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", s.Len())
	}
	got, _ := s.Get("a")
	if got.Answer.Summary != "refreshed" {
		t.Fatalf("expected replaced answer, got %q", got.Answer.Summary)
	}

	// "a" is now the newest, so "b" is next out
	m, err = s.Insert(ctx, entry("d"))
	if err != nil {
		t.Fatalf("Insert d: %v", err)
	}
	if len(m.Evicted) != 1 || m.Evicted[0].QueryText != "b" {
		t.Fatalf("expected b evicted, got %+v", m.Evicted)
	}
}

func TestStoreInsertRejectsDimensionMismatch(t *testing.T) {
	s, _ := newTestStore(t, &memPersister{}, 10)
	ctx := context.Background()

	if _, err := s.Insert(ctx, entry("a", 1, 0, 0)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	_, err := s.Insert(ctx, entry("b", 1, 0))
	if !errors.Is(err, apperrors.ErrDimensionMismatch) {
		t.Fatalf("expected ErrDimensionMismatch, got %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("rejected insert must not change the store")
	}
}

func TestStoreInsertRollsBackOnPersistFailure(t *testing.T) {
	p := &memPersister{}
	s, _ := newTestStore(t, p, 2)
	ctx := context.Background()

	for _, q := range []string{"a", "b"} {
		if _, err := s.Insert(ctx, entry(q)); err != nil {
			t.Fatalf("Insert %s: %v", q, err)
		}
	}

	p.failErr = errors.New("disk full")
	if _, err := s.Insert(ctx, entry("c")); err == nil {
		t.Fatalf("expected persist error")
	}

	snap := s.Snapshot()
	if len(snap) != 2 || snap[0].QueryText != "a" || snap[1].QueryText != "b" {
		t.Fatalf("store must be unchanged after failed insert: %+v", snap)
	}
}

func TestStoreTouchPersistedOnNextWrite(t *testing.T) {
	p := &memPersister{}
	s, _ := newTestStore(t, p, 10)
	ctx := context.Background()

	if _, err := s.Insert(ctx, entry("a")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if !s.Touch("a") || !s.Touch("a") {
		t.Fatalf("Touch on existing entry must succeed")
	}
	if s.Touch("missing") {
		t.Fatalf("Touch on missing entry must report false")
	}

	_, saves := p.snapshot()
	if saves != 1 {
		t.Fatalf("Touch must not persist synchronously, saves=%d", saves)
	}

	if _, err := s.Insert(ctx, entry("b")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	saved, _ := p.snapshot()
	if saved[0].QueryText != "a" || saved[0].HitCount != 2 {
		t.Fatalf("hit count lost on next write: %+v", saved[0])
	}
	if !saved[0].LastAccessedAt.After(saved[0].CreatedAt) {
		t.Fatalf("last access not updated: %+v", saved[0])
	}
}

func TestStoreFlushAndClose(t *testing.T) {
	p := &memPersister{}
	clock := newFakeClock()
	s := New(p, Options{FlushInterval: -1, Now: clock.Now})
	ctx := context.Background()

	if _, err := s.Insert(ctx, entry("a")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, saves := p.snapshot(); saves != 1 {
		t.Fatalf("clean flush must not write, saves=%d", saves)
	}

	s.Touch("a")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	saved, saves := p.snapshot()
	if saves != 2 || saved[0].HitCount != 1 {
		t.Fatalf("Close must flush touched stats: saves=%d entry=%+v", saves, saved[0])
	}
}

func TestStoreBackgroundFlush(t *testing.T) {
	p := &memPersister{}
	s := New(p, Options{FlushInterval: 5 * time.Millisecond})
	t.Cleanup(func() { _ = s.Close() })

	if _, err := s.Insert(context.Background(), entry("a")); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	s.Touch("a")

	deadline := time.Now().Add(2 * time.Second)
	for {
		saved, _ := p.snapshot()
		if len(saved) == 1 && saved[0].HitCount == 1 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("background flusher did not persist stats")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStoreClear(t *testing.T) {
	p := &memPersister{}
	s, _ := newTestStore(t, p, 10)
	ctx := context.Background()

	for _, q := range []string{"a", "b"} {
		if _, err := s.Insert(ctx, entry(q)); err != nil {
			t.Fatalf("Insert %s: %v", q, err)
		}
	}
	n, err := s.Clear(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Clear: n=%d err=%v", n, err)
	}
	saved, _ := p.snapshot()
	if s.Len() != 0 || len(saved) != 0 {
		t.Fatalf("store not empty after clear: mem=%d persisted=%d", s.Len(), len(saved))
	}

	// a cleared store accepts a new dimensionality
	if _, err := s.Insert(ctx, entry("c", 1, 2)); err != nil {
		t.Fatalf("Insert after clear: %v", err)
	}
}

func TestStoreEvictStaleAndTrim(t *testing.T) {
	s, _ := newTestStore(t, &memPersister{}, 10)
	ctx := context.Background()

	for _, q := range []string{"a", "b", "c", "d"} {
		if _, err := s.Insert(ctx, entry(q)); err != nil {
			t.Fatalf("Insert %s: %v", q, err)
		}
	}
	// entries were created at t+1s..t+4s; the next clock read is t+5s

	removed, err := s.EvictStale(ctx, 2500*time.Millisecond)
	if err != nil {
		t.Fatalf("EvictStale: %v", err)
	}
	if len(removed) != 2 || removed[0].QueryText != "a" || removed[1].QueryText != "b" {
		t.Fatalf("unexpected stale eviction: %+v", removed)
	}

	removed, err = s.Trim(ctx, 1)
	if err != nil {
		t.Fatalf("Trim: %v", err)
	}
	if len(removed) != 1 || removed[0].QueryText != "c" {
		t.Fatalf("unexpected trim: %+v", removed)
	}
	if snap := s.Snapshot(); len(snap) != 1 || snap[0].QueryText != "d" {
		t.Fatalf("unexpected survivors: %+v", snap)
	}
}

func TestStoreSnapshotIsolation(t *testing.T) {
	s, _ := newTestStore(t, &memPersister{}, 10)
	ctx := context.Background()

	if _, err := s.Insert(ctx, entry("a", 1, 2, 3)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	snap := s.Snapshot()
	snap[0].Embedding[0] = 99
	snap[0].QueryText = "mutated"

	got, _ := s.Get("a")
	if got.Embedding[0] != 1 {
		t.Fatalf("snapshot aliases store memory")
	}
}

func TestStoreConcurrentInsertAndSnapshot(t *testing.T) {
	s, _ := newTestStore(t, &memPersister{}, 20)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		w := w // per-iteration copy (pre-Go 1.22 loop semantics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, _ = s.Insert(ctx, entry(fmt.Sprintf("w%d-%d", w, i)))
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if n := len(s.Snapshot()); n > 20 {
				t.Errorf("snapshot exceeded bound: %d", n)
				return
			}
		}
	}()
	wg.Wait()

	if s.Len() != 20 {
		t.Fatalf("expected full store, got %d", s.Len())
	}
}

func TestLoadValidatesEntries(t *testing.T) {
	ctx := context.Background()

	cases := map[string][]Entry{
		"empty query":   {{QueryText: "", Embedding: []float64{1}}},
		"no embedding":  {{QueryText: "a"}},
		"mixed dims":    {{QueryText: "a", Embedding: []float64{1}}, {QueryText: "b", Embedding: []float64{1, 2}}},
		"duplicate key": {{QueryText: "a", Embedding: []float64{1}}, {QueryText: "a", Embedding: []float64{1}}},
	}
	for name, entries := range cases {
		p := &memPersister{saved: entries}
		if _, err := Load(ctx, p, Options{FlushInterval: -1}); !errors.Is(err, apperrors.ErrCorruptStore) {
			t.Fatalf("%s: expected ErrCorruptStore, got %v", name, err)
		}
	}
}

func TestLoadTrimsToCapacity(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var entries []Entry
	for i := 0; i < 5; i++ {
		e := entry(fmt.Sprintf("q%d", i))
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		entries = append(entries, e)
	}

	s, err := Load(context.Background(), &memPersister{saved: entries}, Options{MaxEntries: 3, FlushInterval: -1})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	defer s.Close()

	snap := s.Snapshot()
	if len(snap) != 3 || snap[0].QueryText != "q2" {
		t.Fatalf("expected newest three entries, got %+v", snap)
	}
}

func TestLoadOrEmptyRecoversFromCorruption(t *testing.T) {
	p := &memPersister{loadErr: fmt.Errorf("%w: bad json", apperrors.ErrCorruptStore)}

	s, err := LoadOrEmpty(context.Background(), p, Options{FlushInterval: -1})
	if !errors.Is(err, apperrors.ErrCorruptStore) {
		t.Fatalf("expected corruption to be surfaced, got %v", err)
	}
	if s == nil || s.Len() != 0 {
		t.Fatalf("expected empty fallback store")
	}
	_ = s.Close()

	p = &memPersister{loadErr: errors.New("permission denied")}
	s, err = LoadOrEmpty(context.Background(), p, Options{FlushInterval: -1})
	if err == nil || s != nil {
		t.Fatalf("non-corruption errors must not fall back: store=%v err=%v", s, err)
	}
}

func TestNormalizeQuery(t *testing.T) {
	cases := map[string]string{
		"  Best Restaurants in Delhi ": "best restaurants in delhi",
		"Weather\tin\n\nDelhi":         "weather in delhi",
		"   ":                          "",
	}
	for in, want := range cases {
		if got := NormalizeQuery(in); got != want {
			t.Fatalf("NormalizeQuery(%q) = %q, want %q", in, got, want)
		}
	}
}
