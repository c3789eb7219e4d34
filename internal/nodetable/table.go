package nodetable

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/svdag/model"
)

const (
	shardCount = 64
	shardMask  = shardCount - 1

	// maxProbes bounds collision resolution. Reaching it means the hash
	// function is broken, not that the table is full.
	maxProbes = 64
)

var (
	// ErrNotFound is returned for keys that are not interned.
	ErrNotFound = errors.New("nodetable: node not found")
	// ErrInvalidContent is returned when interning malformed content.
	ErrInvalidContent = errors.New("nodetable: invalid node content")
	// ErrProbeExhausted is returned when no free key is found for content.
	ErrProbeExhausted = errors.New("nodetable: collision probes exhausted")
)

type entry struct {
	node model.Node
	refs int64
	// chained is set once a later probe of some other content passed over
	// this key. Such entries become tombstones on removal.
	chained bool
	dead    bool
}

type shard struct {
	mu      sync.Mutex
	entries map[model.NodeKey]*entry
}

// Table is a content-addressed store of DAG nodes with reference counts.
// It is safe for concurrent use; interning is serialized per key shard.
type Table struct {
	shards [shardCount]shard
	hash   HashFunc
	logger *slog.Logger

	live     atomic.Int64
	leaves   atomic.Int64
	interned atomic.Uint64
	deduped  atomic.Uint64
}

// Option configures a Table.
type Option func(*Table)

// WithHashFunc replaces the content hash. Intended for tests that need
// forced collisions.
func WithHashFunc(h HashFunc) Option {
	return func(t *Table) {
		if h != nil {
			t.hash = h
		}
	}
}

// WithLogger sets the logger used for cascade diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) {
		if l != nil {
			t.logger = l
		}
	}
}

// New creates an empty Table.
func New(opts ...Option) *Table {
	t := &Table{
		hash:   ContentHash,
		logger: slog.New(slog.DiscardHandler),
	}
	for i := range t.shards {
		t.shards[i].entries = make(map[model.NodeKey]*entry)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table) shardFor(k model.NodeKey) *shard {
	return &t.shards[uint64(k)&shardMask]
}

// Intern returns the key of n, creating an entry when no equal content is
// stored yet. The caller owns one reference to the returned key. A newly
// created internal entry holds one reference to each of its children, so
// every child key must be live when Intern is called.
func (t *Table) Intern(n model.Node) (model.NodeKey, error) {
	if err := checkContent(n); err != nil {
		return model.NullKey, err
	}

	// Children are retained before the shard lock is taken so that no two
	// shard locks are ever held at once.
	if n.Kind == model.KindInternal {
		if err := t.retainChildren(n); err != nil {
			return model.NullKey, err
		}
	}

	key, existed, err := t.insert(n)
	if err != nil || existed {
		if n.Kind == model.KindInternal {
			// The existing entry already owns its children.
			_ = t.releaseChildren(n)
		}
	}
	if err != nil {
		return model.NullKey, err
	}

	t.interned.Add(1)
	if existed {
		t.deduped.Add(1)
	}
	return key, nil
}

func (t *Table) insert(n model.Node) (model.NodeKey, bool, error) {
	base := baseKey(t.hash, n)
	s := t.shardFor(base)

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		passed    []model.NodeKey
		tombstone model.NodeKey
	)
	for probe := uint32(0); probe < maxProbes; probe++ {
		k := candidate(t.hash, n, base, probe)
		if k == model.NullKey {
			continue
		}
		e, ok := s.entries[k]
		if !ok {
			if tombstone != model.NullKey {
				k = tombstone
			}
			t.create(s, k, n, passed)
			return k, false, nil
		}
		if e.dead {
			if tombstone == model.NullKey {
				tombstone = k
			}
			passed = append(passed, k)
			continue
		}
		if e.node == n {
			e.refs++
			return k, true, nil
		}
		passed = append(passed, k)
	}

	if tombstone != model.NullKey {
		t.create(s, tombstone, n, passed)
		return tombstone, false, nil
	}
	return model.NullKey, false, ErrProbeExhausted
}

// create stores n at k. Caller holds s.mu.
func (t *Table) create(s *shard, k model.NodeKey, n model.Node, passed []model.NodeKey) {
	for _, p := range passed {
		if p == k {
			break
		}
		s.entries[p].chained = true
	}
	if e, ok := s.entries[k]; ok {
		e.node, e.refs, e.dead = n, 1, false
	} else {
		s.entries[k] = &entry{node: n, refs: 1}
	}
	t.live.Add(1)
	if n.Kind == model.KindLeaf {
		t.leaves.Add(1)
	}
}

// Get returns the content stored under k.
func (t *Table) Get(k model.NodeKey) (model.Node, error) {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok || e.dead {
		return model.Node{}, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	return e.node, nil
}

// Contains reports whether k is live.
func (t *Table) Contains(k model.NodeKey) bool {
	_, err := t.Get(k)
	return err == nil
}

// Refs returns the current reference count of k.
func (t *Table) Refs(k model.NodeKey) (int64, error) {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok || e.dead {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	return e.refs, nil
}

// Retain adds a reference to k.
func (t *Table) Retain(k model.NodeKey) error {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok || e.dead {
		return fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	e.refs++
	return nil
}

// Release drops a reference to k. When the count reaches zero the entry is
// removed and its children are released in turn.
func (t *Table) Release(k model.NodeKey) error {
	stack := []model.NodeKey{k}
	var errs []error
	first := true

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n, removed, err := t.drop(cur)
		if err != nil {
			if first {
				return err
			}
			// A missing child during a cascade means refcounts were corrupted.
			t.logger.Error("cascade release hit missing child", "key", cur, "error", err)
			errs = append(errs, err)
			continue
		}
		first = false
		if removed && n.Kind == model.KindInternal {
			for _, c := range n.Children {
				if c != model.NullKey {
					stack = append(stack, c)
				}
			}
		}
	}
	return errors.Join(errs...)
}

func (t *Table) drop(k model.NodeKey) (model.Node, bool, error) {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[k]
	if !ok || e.dead {
		return model.Node{}, false, fmt.Errorf("%w: %s", ErrNotFound, k)
	}
	e.refs--
	if e.refs > 0 {
		return e.node, false, nil
	}

	n := e.node
	if e.chained {
		e.dead, e.node, e.refs = true, model.Node{}, 0
	} else {
		delete(s.entries, k)
	}
	t.live.Add(-1)
	if n.Kind == model.KindLeaf {
		t.leaves.Add(-1)
	}
	return n, true, nil
}

func (t *Table) retainChildren(n model.Node) error {
	for i, c := range n.Children {
		if c == model.NullKey {
			continue
		}
		if err := t.Retain(c); err != nil {
			for _, d := range n.Children[:i] {
				if d != model.NullKey {
					_ = t.Release(d)
				}
			}
			return err
		}
	}
	return nil
}

func (t *Table) releaseChildren(n model.Node) error {
	var errs []error
	for _, c := range n.Children {
		if c != model.NullKey {
			if err := t.Release(c); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func checkContent(n model.Node) error {
	switch n.Kind {
	case model.KindLeaf:
		for _, c := range n.Children {
			if c != model.NullKey {
				return fmt.Errorf("%w: leaf with children", ErrInvalidContent)
			}
		}
		return nil
	case model.KindInternal:
		if n.Attr != 0 {
			return fmt.Errorf("%w: internal node with attribute", ErrInvalidContent)
		}
		if n.ChildMask() == 0 {
			return fmt.Errorf("%w: internal node without children", ErrInvalidContent)
		}
		return nil
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidContent, n.Kind)
	}
}

// Len returns the number of live entries.
func (t *Table) Len() int {
	return int(t.live.Load())
}

// Range calls fn for every live entry until fn returns false. Entries
// added or removed concurrently may or may not be observed.
func (t *Table) Range(fn func(k model.NodeKey, n model.Node, refs int64) bool) {
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		type item struct {
			k    model.NodeKey
			n    model.Node
			refs int64
		}
		items := make([]item, 0, len(s.entries))
		for k, e := range s.entries {
			if !e.dead {
				items = append(items, item{k, e.node, e.refs})
			}
		}
		s.mu.Unlock()

		for _, it := range items {
			if !fn(it.k, it.n, it.refs) {
				return
			}
		}
	}
}

// Stats is a point-in-time summary of the table.
type Stats struct {
	Entries   int
	Leaves    int
	Internals int
	// Interned counts Intern calls; Deduplicated counts those that hit an
	// existing entry.
	Interned     uint64
	Deduplicated uint64
}

// Stats returns table statistics.
func (t *Table) Stats() Stats {
	live := int(t.live.Load())
	leaves := int(t.leaves.Load())
	return Stats{
		Entries:      live,
		Leaves:       leaves,
		Internals:    live - leaves,
		Interned:     t.interned.Load(),
		Deduplicated: t.deduped.Load(),
	}
}
