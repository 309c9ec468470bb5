package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"queryagent/internal/apperrors"
)

// DefaultMaxEntries bounds the number of cached query/answer pairs.
const DefaultMaxEntries = 50

// Options configures a Store.
type Options struct {
	MaxEntries int // default: 50

	// FlushInterval is how often touched hit statistics are persisted when
	// no other write happens. Default: 30s. Negative disables the flusher.
	FlushInterval time.Duration

	Now    func() time.Time
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxEntries <= 0 {
		o.MaxEntries = DefaultMaxEntries
	}
	if o.FlushInterval == 0 {
		o.FlushInterval = 30 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Store is a bounded, persisted, insertion-ordered collection of entries keyed
// by QueryText. Every mutation is flushed to the persister before it returns.
type Store struct {
	persister Persister
	opts      Options
	logger    *zap.Logger

	// writeMu serializes mutations together with their persistence write.
	writeMu sync.Mutex

	// mu guards entries and dirty; never held across I/O.
	mu      sync.RWMutex
	entries []Entry
	dirty   bool

	stopFlush chan struct{}
	flushDone chan struct{}
	closeOnce sync.Once
}

// Mutation reports what a write removed from the store.
type Mutation struct {
	Evicted  []Entry // removed by the FIFO capacity policy
	Replaced bool    // an entry with the same QueryText was overwritten
}

// New returns an empty store backed by p.
func New(p Persister, opts Options) *Store {
	return newStore(p, opts.withDefaults(), nil)
}

// Load reads the persisted entries from p. A missing medium yields an empty
// store. Undecodable or inconsistent data fails with apperrors.ErrCorruptStore.
func Load(ctx context.Context, p Persister, opts Options) (*Store, error) {
	opts = opts.withDefaults()

	entries, err := p.Load(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateLoaded(entries); err != nil {
		return nil, err
	}

	// capacity may have been lowered since the last run
	if extra := len(entries) - opts.MaxEntries; extra > 0 {
		opts.Logger.Warn("persisted cache exceeds capacity, dropping oldest entries",
			zap.Int("persisted", len(entries)),
			zap.Int("max_entries", opts.MaxEntries),
		)
		for i := 0; i < extra; i++ {
			entries = removeAt(entries, oldestIndex(entries))
		}
	}

	return newStore(p, opts, entries), nil
}

// LoadOrEmpty is Load with the documented recovery path: on a corrupt medium
// it quarantines the data when the persister supports it and returns an empty
// store together with the corruption error so the caller can log it.
// Other errors return a nil store.
func LoadOrEmpty(ctx context.Context, p Persister, opts Options) (*Store, error) {
	s, err := Load(ctx, p, opts)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, apperrors.ErrCorruptStore) {
		return nil, err
	}

	if q, ok := p.(interface {
		Quarantine(ctx context.Context) (string, error)
	}); ok {
		dst, qerr := q.Quarantine(ctx)
		switch {
		case qerr == nil:
			err = fmt.Errorf("%w (moved to %s)", err, dst)
		case errors.Is(qerr, errNoQuarantine):
		default:
			err = errors.Join(err, fmt.Errorf("quarantine corrupt cache: %w", qerr))
		}
	}
	return New(p, opts), err
}

func newStore(p Persister, opts Options, entries []Entry) *Store {
	s := &Store{
		persister: p,
		opts:      opts,
		logger:    opts.Logger.Named("cache_store"),
		entries:   entries,
		stopFlush: make(chan struct{}),
		flushDone: make(chan struct{}),
	}

	if opts.FlushInterval > 0 {
		go s.flushLoop()
	} else {
		close(s.flushDone)
	}
	return s
}

func validateLoaded(entries []Entry) error {
	seen := make(map[string]struct{}, len(entries))
	dim := -1
	for i, e := range entries {
		if e.QueryText == "" {
			return fmt.Errorf("%w: entry %d has empty query", apperrors.ErrCorruptStore, i)
		}
		if len(e.Embedding) == 0 {
			return fmt.Errorf("%w: entry %d has no embedding", apperrors.ErrCorruptStore, i)
		}
		if dim >= 0 && len(e.Embedding) != dim {
			return fmt.Errorf("%w: entry %d embedding length %d, expected %d",
				apperrors.ErrCorruptStore, i, len(e.Embedding), dim)
		}
		dim = len(e.Embedding)
		if _, dup := seen[e.QueryText]; dup {
			return fmt.Errorf("%w: duplicate query %q", apperrors.ErrCorruptStore, e.QueryText)
		}
		seen[e.QueryText] = struct{}{}
	}
	return nil
}

// Backend names the persistence medium.
func (s *Store) Backend() string { return s.persister.Backend() }

// MaxEntries returns the configured capacity.
func (s *Store) MaxEntries() int { return s.opts.MaxEntries }

// Len returns the number of entries currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Dimension returns the embedding length shared by all entries, or 0 when empty.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return 0
	}
	return len(s.entries[0].Embedding)
}

// Oldest returns the creation time of the oldest entry.
func (s *Store) Oldest() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return time.Time{}, false
	}
	return s.entries[oldestIndex(s.entries)].CreatedAt, true
}

// Snapshot returns an insertion-ordered copy safe to iterate without locks.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.clone()
	}
	return out
}

// Get returns a copy of the entry stored under queryText.
func (s *Store) Get(queryText string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i := indexOf(s.entries, queryText); i >= 0 {
		return s.entries[i].clone(), true
	}
	return Entry{}, false
}

// Insert adds e, replacing any entry with the same QueryText. When the store
// is full the oldest entry is evicted in the same atomic step. The full store
// is persisted before Insert returns; on a persistence failure the store is
// left unchanged.
func (s *Store) Insert(ctx context.Context, e Entry) (Mutation, error) {
	if e.QueryText == "" {
		return Mutation{}, fmt.Errorf("%w: empty query text", apperrors.ErrInvalidQuery)
	}
	if len(e.Embedding) == 0 {
		return Mutation{}, fmt.Errorf("%w: entry has no embedding", apperrors.ErrDimensionMismatch)
	}

	now := s.opts.Now()
	e = e.clone()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastAccessedAt.IsZero() {
		e.LastAccessedAt = e.CreatedAt
	}

	var m Mutation
	err := s.mutate(ctx, func(cur []Entry) ([]Entry, error) {
		next := make([]Entry, 0, len(cur)+1)
		for _, old := range cur {
			if old.QueryText == e.QueryText {
				m.Replaced = true
				continue
			}
			next = append(next, old)
		}

		if len(next) > 0 && len(next[0].Embedding) != len(e.Embedding) {
			return nil, fmt.Errorf("%w: store holds %d-dim embeddings, got %d",
				apperrors.ErrDimensionMismatch, len(next[0].Embedding), len(e.Embedding))
		}

		for len(next) >= s.opts.MaxEntries {
			i := oldestIndex(next)
			m.Evicted = append(m.Evicted, next[i])
			next = removeAt(next, i)
		}
		return append(next, e), nil
	})
	if err != nil {
		return Mutation{}, err
	}
	return m, nil
}

// Touch records a reuse of the entry stored under queryText. The statistic is
// persisted by the next write or the background flusher.
func (s *Store) Touch(queryText string) bool {
	now := s.opts.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	i := indexOf(s.entries, queryText)
	if i < 0 {
		return false
	}
	s.entries[i].LastAccessedAt = now
	s.entries[i].HitCount++
	s.dirty = true
	return true
}

// Clear removes every entry and persists the empty store.
func (s *Store) Clear(ctx context.Context) (int, error) {
	var removed int
	err := s.mutate(ctx, func(cur []Entry) ([]Entry, error) {
		removed = len(cur)
		return nil, nil
	})
	return removed, err
}

// EvictStale removes entries created more than maxAge ago.
func (s *Store) EvictStale(ctx context.Context, maxAge time.Duration) ([]Entry, error) {
	cutoff := s.opts.Now().Add(-maxAge)

	var removed []Entry
	err := s.mutate(ctx, func(cur []Entry) ([]Entry, error) {
		next := make([]Entry, 0, len(cur))
		for _, e := range cur {
			if e.CreatedAt.Before(cutoff) {
				removed = append(removed, e)
				continue
			}
			next = append(next, e)
		}
		return next, nil
	})
	return removed, err
}

// Trim evicts oldest-first until at most keep entries remain.
func (s *Store) Trim(ctx context.Context, keep int) ([]Entry, error) {
	if keep < 0 {
		keep = 0
	}

	var removed []Entry
	err := s.mutate(ctx, func(cur []Entry) ([]Entry, error) {
		next := append([]Entry(nil), cur...)
		for len(next) > keep {
			i := oldestIndex(next)
			removed = append(removed, next[i])
			next = removeAt(next, i)
		}
		return next, nil
	})
	return removed, err
}

// Flush persists pending hit statistics, if any.
func (s *Store) Flush(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	out := append([]Entry(nil), s.entries...)
	s.dirty = false
	s.mu.Unlock()

	if err := s.persister.Save(ctx, out); err != nil {
		s.mu.Lock()
		s.dirty = true
		s.mu.Unlock()
		return fmt.Errorf("flush cache stats: %w", err)
	}
	return nil
}

// Close stops the background flusher and persists pending statistics.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopFlush)
	})
	<-s.flushDone
	return s.Flush(context.Background())
}

// mutate applies fn to the current entries and persists the result while
// holding writeMu. fn must not modify cur in place.
func (s *Store) mutate(ctx context.Context, fn func(cur []Entry) ([]Entry, error)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	prev := s.entries
	next, err := fn(prev)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	wasDirty := s.dirty
	s.entries = next
	s.dirty = false
	out := append([]Entry(nil), next...)
	s.mu.Unlock()

	if err := s.persister.Save(ctx, out); err != nil {
		s.mu.Lock()
		s.entries = prev
		s.dirty = wasDirty
		s.mu.Unlock()
		return fmt.Errorf("persist cache: %w", err)
	}
	return nil
}

// flushLoop periodically persists touched statistics.
func (s *Store) flushLoop() {
	defer close(s.flushDone)

	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.Flush(context.Background()); err != nil {
				s.logger.Warn("cache stats flush failed", zap.Error(err))
			}
		case <-s.stopFlush:
			return
		}
	}
}

func indexOf(entries []Entry, queryText string) int {
	for i := range entries {
		if entries[i].QueryText == queryText {
			return i
		}
	}
	return -1
}

// oldestIndex picks the entry with the smallest CreatedAt; insertion order
// breaks ties. entries must be non-empty.
func oldestIndex(entries []Entry) int {
	oldest := 0
	for i := 1; i < len(entries); i++ {
		if entries[i].CreatedAt.Before(entries[oldest].CreatedAt) {
			oldest = i
		}
	}
	return oldest
}

func removeAt(entries []Entry, i int) []Entry {
	out := make([]Entry, 0, len(entries)-1)
	out = append(out, entries[:i]...)
	return append(out, entries[i+1:]...)
}
