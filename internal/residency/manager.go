package residency

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/hupe1980/svdag/internal/resource"
	"github.com/hupe1980/svdag/model"
	"github.com/hupe1980/svdag/region"
)

var (
	// ErrOutOfBudget is returned when a node cannot be made resident.
	ErrOutOfBudget = errors.New("residency: out of budget")
	// ErrNotFound is returned for keys unknown to the node source.
	ErrNotFound = errors.New("residency: node not found")
	// ErrNotResident is returned when evicting a node that is not resident.
	ErrNotResident = errors.New("residency: node not resident")
	// ErrPinned is returned when evicting a pinned node.
	ErrPinned = errors.New("residency: node pinned")
)

// OutOfBudgetError describes a failed admission.
type OutOfBudgetError struct {
	Key      model.NodeKey
	Required int
	Budget   int64
	// Blocked is set when enough bytes exist in the budget but pinned
	// nodes hold them.
	Blocked bool
	Err     error
}

func (e *OutOfBudgetError) Error() string {
	msg := fmt.Sprintf("residency: node %s needs %d bytes, budget %d", e.Key, e.Required, e.Budget)
	if e.Blocked {
		msg += " (remaining space pinned)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes ErrOutOfBudget and the underlying cause.
func (e *OutOfBudgetError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrOutOfBudget, e.Err}
	}
	return []error{ErrOutOfBudget}
}

// Nodes resolves node content by key.
type Nodes interface {
	Get(key model.NodeKey) (model.Node, error)
}

// Arena stores encoded resident nodes.
type Arena interface {
	Insert(key model.NodeKey, n model.Node) (model.Offset, error)
	Remove(key model.NodeKey) error
	CanAllocate(size int, freed []model.Offset) bool
}

// Observer receives residency events. Calls are made with the manager
// lock held and must not call back into the Manager.
type Observer interface {
	OnHit()
	OnMiss()
	OnEvict(size int)
	OnAdmissionFailure()
}

type resident struct {
	off  model.Offset
	size int
}

// Manager keeps a working set of nodes resident in an Arena.
type Manager struct {
	mu       sync.Mutex
	nodes    Nodes
	arena    Arena
	rc       *resource.Controller
	policy   Policy
	logger   *slog.Logger
	observer Observer

	resident map[model.NodeKey]resident
	pins     map[model.NodeKey]int
	epoch    uint64

	stats Stats
}

// Option configures a Manager.
type Option func(*Manager)

// WithPolicy replaces the default LRU policy.
func WithPolicy(p Policy) Option {
	return func(m *Manager) {
		if p != nil {
			m.policy = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(m *Manager) {
		m.observer = o
	}
}

// New creates a Manager. Resident bytes are reserved from rc, whose budget
// is the hard limit on the sum of encoded sizes.
func New(nodes Nodes, arena Arena, rc *resource.Controller, opts ...Option) *Manager {
	m := &Manager{
		nodes:    nodes,
		arena:    arena,
		rc:       rc,
		policy:   NewLRU(),
		logger:   slog.New(slog.DiscardHandler),
		observer: nopObserver{},
		resident: make(map[model.NodeKey]resident),
		pins:     make(map[model.NodeKey]int),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.observer == nil {
		m.observer = nopObserver{}
	}
	return m
}

// BeginQuery starts a new access epoch. Nodes touched within one query
// are equally recent.
func (m *Manager) BeginQuery() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.epoch++
	return m.epoch
}

// Pin exempts key from eviction until a matching Unpin. Pins nest.
func (m *Manager) Pin(key model.NodeKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pins[key]++
}

// Unpin releases one pin on key.
func (m *Manager) Unpin(key model.NodeKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch n := m.pins[key]; {
	case n > 1:
		m.pins[key] = n - 1
	case n == 1:
		delete(m.pins, key)
	}
}

// Resident returns the offset of key if it is resident, without counting
// an access.
func (m *Manager) Resident(key model.NodeKey) (model.Offset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resident[key]
	return r.off, ok
}

// EnsureResident returns the arena offset of key, admitting it first if
// needed. The offset stays valid until the node is evicted.
func (m *Manager) EnsureResident(key model.NodeKey) (model.Offset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if r, ok := m.resident[key]; ok {
		m.policy.Touch(key, m.epoch)
		m.stats.Hits++
		m.observer.OnHit()
		return r.off, nil
	}

	m.stats.Misses++
	m.observer.OnMiss()

	n, err := m.nodes.Get(key)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrNotFound, key, err)
	}

	off, err := m.admit(key, n)
	if err != nil {
		m.stats.AdmissionFailures++
		m.observer.OnAdmissionFailure()
		return 0, err
	}
	return off, nil
}

func (m *Manager) admit(key model.NodeKey, n model.Node) (model.Offset, error) {
	size := n.EncodedSize()
	if !m.rc.Fits(int64(size)) {
		return 0, &OutOfBudgetError{Key: key, Required: size, Budget: m.rc.Budget()}
	}

	victims, err := m.plan(key, size, 0, false)
	if err != nil {
		return 0, err
	}
	m.evict(victims)

	if err := m.rc.Reserve(int64(size)); err != nil {
		return 0, &OutOfBudgetError{Key: key, Required: size, Budget: m.rc.Budget(), Err: err}
	}

	off, err := m.arena.Insert(key, n)
	if errors.Is(err, region.ErrRegionFull) {
		// One more eviction pass that also frees a slot, then give up.
		m.logger.Debug("region full, evicting again", "key", key, "size", size)
		m.rc.Unreserve(int64(size))
		more, perr := m.plan(key, size, 1, true)
		if perr != nil {
			return 0, &OutOfBudgetError{Key: key, Required: size, Budget: m.rc.Budget(), Err: err}
		}
		m.evict(more)
		if rerr := m.rc.Reserve(int64(size)); rerr != nil {
			return 0, &OutOfBudgetError{Key: key, Required: size, Budget: m.rc.Budget(), Err: rerr}
		}
		off, err = m.arena.Insert(key, n)
		if errors.Is(err, region.ErrRegionFull) {
			m.rc.Unreserve(int64(size))
			return 0, &OutOfBudgetError{Key: key, Required: size, Budget: m.rc.Budget(), Err: err}
		}
	}
	if err != nil {
		m.rc.Unreserve(int64(size))
		return 0, err
	}

	m.resident[key] = resident{off: off, size: size}
	m.policy.Admit(key, size, m.epoch)
	m.stats.Admissions++
	return off, nil
}

// plan picks victims, in policy order and skipping pinned nodes, until the
// budget has room for size bytes and, with slot set, the arena can take
// the node as well. At least minVictims are chosen. Nothing is modified.
func (m *Manager) plan(key model.NodeKey, size, minVictims int, slot bool) ([]model.NodeKey, error) {
	var (
		victims []model.NodeKey
		freed   []model.Offset
		bytes   int64
	)
	fits := func() bool {
		if len(victims) < minVictims {
			return false
		}
		if avail := m.rc.Available(); avail >= 0 && avail+bytes < int64(size) {
			return false
		}
		return !slot || m.arena.CanAllocate(size, freed)
	}

	if fits() {
		return nil, nil
	}
	for k, sz := range m.policy.Victims() {
		if m.pins[k] > 0 {
			continue
		}
		victims = append(victims, k)
		freed = append(freed, m.resident[k].off)
		bytes += int64(sz)
		if fits() {
			return victims, nil
		}
	}
	return nil, &OutOfBudgetError{Key: key, Required: size, Budget: m.rc.Budget(), Blocked: true}
}

func (m *Manager) evict(victims []model.NodeKey) {
	for _, k := range victims {
		r := m.resident[k]
		if err := m.arena.Remove(k); err != nil {
			m.logger.Warn("evict failed", "key", k, "error", err)
		}
		delete(m.resident, k)
		m.policy.Evicted(k)
		m.rc.Unreserve(int64(r.size))
		m.stats.Evictions++
		m.observer.OnEvict(r.size)
		m.logger.Debug("evicted", "key", k, "size", r.size, "offset", r.off)
	}
}

func (m *Manager) drop(k model.NodeKey) error {
	r, ok := m.resident[k]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotResident, k)
	}
	if m.pins[k] > 0 {
		return fmt.Errorf("%w: %s", ErrPinned, k)
	}
	err := m.arena.Remove(k)
	delete(m.resident, k)
	m.policy.Remove(k)
	m.rc.Unreserve(int64(r.size))
	m.stats.Evictions++
	m.observer.OnEvict(r.size)
	return err
}

// Evict removes key from the resident set.
func (m *Manager) Evict(key model.NodeKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drop(key)
}

// Prune evicts every unpinned resident node for which alive reports false.
// It returns the number of evicted nodes.
func (m *Manager) Prune(alive func(model.NodeKey) bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		n    int
		errs []error
	)
	for k := range m.resident {
		if m.pins[k] > 0 || alive(k) {
			continue
		}
		if err := m.drop(k); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// Reset evicts every unpinned resident node.
func (m *Manager) Reset() (int, error) {
	return m.Prune(func(model.NodeKey) bool { return false })
}

// Warm admits keys in order until the resident bytes reach fraction of the
// budget or the next key would require an eviction. Resident keys are
// skipped. It returns the number of admitted nodes.
func (m *Manager) Warm(ctx context.Context, keys iter.Seq[model.NodeKey], fraction float64) (int, error) {
	budget := m.rc.Budget()
	limit := int64(float64(budget) * fraction)
	admitted := 0

	for k := range keys {
		if err := ctx.Err(); err != nil {
			return admitted, err
		}

		m.mu.Lock()
		if _, ok := m.resident[k]; ok {
			m.mu.Unlock()
			continue
		}
		if budget > 0 && m.rc.Reserved() >= limit {
			m.mu.Unlock()
			break
		}
		n, err := m.nodes.Get(k)
		if err != nil {
			m.mu.Unlock()
			return admitted, fmt.Errorf("%w: %s: %w", ErrNotFound, k, err)
		}
		size := n.EncodedSize()
		if avail := m.rc.Available(); (avail >= 0 && avail < int64(size)) || !m.arena.CanAllocate(size, nil) {
			m.mu.Unlock()
			break
		}
		_, err = m.admit(k, n)
		m.mu.Unlock()
		if err != nil {
			return admitted, err
		}
		admitted++
	}

	m.logger.Debug("warmed", "admitted", admitted, "reserved", m.rc.Reserved(), "budget", budget)
	return admitted, nil
}

// Stats summarizes residency.
type Stats struct {
	Hits              uint64
	Misses            uint64
	Admissions        uint64
	Evictions         uint64
	AdmissionFailures uint64
	Resident          int
	Pinned            int
	Used              int64
	Budget            int64
	Epoch             uint64
}

// Stats returns a snapshot of the counters.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats
	s.Resident = len(m.resident)
	s.Pinned = len(m.pins)
	s.Used = m.rc.Reserved()
	s.Budget = m.rc.Budget()
	s.Epoch = m.epoch
	return s
}

type nopObserver struct{}

func (nopObserver) OnHit()              {}
func (nopObserver) OnMiss()             {}
func (nopObserver) OnEvict(int)         {}
func (nopObserver) OnAdmissionFailure() {}
