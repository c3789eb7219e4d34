package residency

import (
	"errors"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/svdag/internal/nodetable"
	"github.com/hupe1980/svdag/internal/resource"
	"github.com/hupe1980/svdag/model"
	"github.com/hupe1980/svdag/region"
)

type fixture struct {
	tbl *nodetable.Table
	reg *region.Region
	rc  *resource.Controller
	m   *Manager
}

func newFixture(t *testing.T, budget int64, opts ...Option) *fixture {
	t.Helper()
	// The region is roomier than the budget so these tests see budget
	// pressure only.
	reg, err := region.Create("", 1<<16, region.WithPageSize(256))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	tbl := nodetable.New()
	rc := resource.NewController(resource.Config{BudgetBytes: budget})
	return &fixture{tbl: tbl, reg: reg, rc: rc, m: New(tbl, reg, rc, opts...)}
}

func (f *fixture) leaf(t *testing.T, attr model.Attribute) model.NodeKey {
	t.Helper()
	k, err := f.tbl.Intern(model.Leaf(attr))
	require.NoError(t, err)
	return k
}

// internal interns a node with kids in octants 0..len(kids)-1.
func (f *fixture) internal(t *testing.T, kids ...model.NodeKey) model.NodeKey {
	t.Helper()
	var c [8]model.NodeKey
	copy(c[:], kids)
	k, err := f.tbl.Intern(model.Internal(c))
	require.NoError(t, err)
	return k
}

func TestManager_WorkingSetWithinBudgetNeverEvicts(t *testing.T) {
	f := newFixture(t, 1024)

	var keys []model.NodeKey
	for i := range 10 {
		keys = append(keys, f.leaf(t, model.Attribute(i+1)))
	}
	keys = append(keys, f.internal(t, keys[0], keys[1], keys[2]))

	first := map[model.NodeKey]model.Offset{}
	for _, k := range keys {
		f.m.BeginQuery()
		off, err := f.m.EnsureResident(k)
		require.NoError(t, err)
		first[k] = off
	}
	for range 3 {
		f.m.BeginQuery()
		for _, k := range keys {
			off, err := f.m.EnsureResident(k)
			require.NoError(t, err)
			assert.Equal(t, first[k], off, "offset stable while resident")
		}
	}

	st := f.m.Stats()
	assert.Zero(t, st.Evictions)
	assert.Equal(t, uint64(len(keys)), st.Misses)
	assert.Equal(t, uint64(3*len(keys)), st.Hits)
	assert.Equal(t, int64(10*16+40), st.Used)
	assert.Equal(t, uint64(st.Used), f.reg.Stats().Used)
}

func TestManager_RoundTripThroughRegion(t *testing.T) {
	f := newFixture(t, 1024)
	leaf := f.leaf(t, 77)
	parent := f.internal(t, leaf, model.NullKey, leaf)

	off, err := f.m.EnsureResident(parent)
	require.NoError(t, err)

	n, k, err := f.reg.Read(off)
	require.NoError(t, err)
	assert.Equal(t, parent, k)
	want, err := f.tbl.Get(parent)
	require.NoError(t, err)
	assert.Equal(t, want, n)
}

func TestManager_NodeLargerThanBudget(t *testing.T) {
	f := newFixture(t, 64)
	var kids []model.NodeKey
	for i := range 8 {
		kids = append(kids, f.leaf(t, model.Attribute(i+1)))
	}
	root := f.internal(t, kids...)

	_, err := f.m.EnsureResident(root)
	require.ErrorIs(t, err, ErrOutOfBudget)

	var oob *OutOfBudgetError
	require.ErrorAs(t, err, &oob)
	assert.Equal(t, 80, oob.Required)
	assert.Equal(t, int64(64), oob.Budget)
	assert.False(t, oob.Blocked)

	st := f.m.Stats()
	assert.Zero(t, st.Resident)
	assert.Equal(t, uint64(1), st.AdmissionFailures)
}

func TestManager_EvictsOldestSmallestFirst(t *testing.T) {
	f := newFixture(t, 56)
	a := f.leaf(t, 1)
	b := f.leaf(t, 2)
	big := f.internal(t, a, b) // 32 bytes
	c := f.leaf(t, 3)

	f.m.BeginQuery()
	_, err := f.m.EnsureResident(big)
	require.NoError(t, err)
	_, err = f.m.EnsureResident(a)
	require.NoError(t, err)
	assert.Equal(t, int64(48), f.m.Stats().Used)

	// Same epoch for big and a: the smaller one goes.
	f.m.BeginQuery()
	_, err = f.m.EnsureResident(c)
	require.NoError(t, err)

	_, ok := f.m.Resident(a)
	assert.False(t, ok)
	_, ok = f.m.Resident(big)
	assert.True(t, ok)
	assert.Equal(t, uint64(1), f.m.Stats().Evictions)

	// big is now the oldest.
	f.m.BeginQuery()
	_, err = f.m.EnsureResident(c)
	require.NoError(t, err)
	_, err = f.m.EnsureResident(b)
	require.NoError(t, err)
	_, err = f.m.EnsureResident(a)
	require.NoError(t, err)
	_, ok = f.m.Resident(big)
	assert.False(t, ok)
	assert.LessOrEqual(t, f.m.Stats().Used, int64(56))
}

func TestManager_PinnedNodesSurvive(t *testing.T) {
	f := newFixture(t, 32)
	a := f.leaf(t, 1)
	b := f.leaf(t, 2)
	c := f.leaf(t, 3)

	f.m.BeginQuery()
	offA, err := f.m.EnsureResident(a)
	require.NoError(t, err)
	_, err = f.m.EnsureResident(b)
	require.NoError(t, err)

	f.m.Pin(a)
	f.m.BeginQuery()
	_, err = f.m.EnsureResident(c)
	require.NoError(t, err)

	off, ok := f.m.Resident(a)
	require.True(t, ok)
	assert.Equal(t, offA, off)
	_, ok = f.m.Resident(b)
	assert.False(t, ok)

	// Everything pinned: admission fails and nothing moves.
	f.m.Pin(c)
	before := f.m.Stats()
	_, err = f.m.EnsureResident(b)
	var oob *OutOfBudgetError
	require.ErrorAs(t, err, &oob)
	assert.True(t, oob.Blocked)

	after := f.m.Stats()
	assert.Equal(t, before.Resident, after.Resident)
	assert.Equal(t, before.Used, after.Used)
	assert.Equal(t, before.Evictions, after.Evictions)
	assert.Equal(t, uint64(2), f.reg.Stats().Resident)

	f.m.Unpin(c)
	_, err = f.m.EnsureResident(b)
	require.NoError(t, err)
	_, ok = f.m.Resident(c)
	assert.False(t, ok)
}

func TestManager_PinsNest(t *testing.T) {
	f := newFixture(t, 16)
	a := f.leaf(t, 1)
	b := f.leaf(t, 2)

	_, err := f.m.EnsureResident(a)
	require.NoError(t, err)
	f.m.Pin(a)
	f.m.Pin(a)
	f.m.Unpin(a)

	_, err = f.m.EnsureResident(b)
	require.ErrorIs(t, err, ErrOutOfBudget)

	f.m.Unpin(a)
	f.m.Unpin(a) // extra unpin is a no-op
	_, err = f.m.EnsureResident(b)
	require.NoError(t, err)
}

func TestManager_NotFound(t *testing.T) {
	f := newFixture(t, 64)
	_, err := f.m.EnsureResident(model.NodeKey(0xDEAD))
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, err, nodetable.ErrNotFound)
}

func TestManager_BudgetNeverExceeded(t *testing.T) {
	const budget = 200
	f := newFixture(t, budget)

	var keys []model.NodeKey
	for i := range 20 {
		keys = append(keys, f.leaf(t, model.Attribute(i+1)))
	}
	for i := 0; i+3 <= 20; i += 3 {
		keys = append(keys, f.internal(t, keys[i], keys[i+1], keys[i+2]))
	}

	rng := rand.New(rand.NewPCG(1, 2))
	for i := range 500 {
		if i%7 == 0 {
			f.m.BeginQuery()
		}
		k := keys[rng.IntN(len(keys))]
		_, err := f.m.EnsureResident(k)
		require.NoError(t, err)

		st := f.m.Stats()
		require.LessOrEqual(t, st.Used, int64(budget))
		require.Equal(t, uint64(st.Used), f.reg.Stats().Used)
		require.Equal(t, uint64(st.Resident), f.reg.Stats().Resident)
	}
	assert.NotZero(t, f.m.Stats().Evictions)
}

func TestManager_EvictResetPrune(t *testing.T) {
	f := newFixture(t, 256)
	a := f.leaf(t, 1)
	b := f.leaf(t, 2)
	c := f.leaf(t, 3)
	for _, k := range []model.NodeKey{a, b, c} {
		_, err := f.m.EnsureResident(k)
		require.NoError(t, err)
	}

	require.NoError(t, f.m.Evict(a))
	assert.ErrorIs(t, f.m.Evict(a), ErrNotResident)

	f.m.Pin(b)
	assert.ErrorIs(t, f.m.Evict(b), ErrPinned)

	n, err := f.m.Prune(func(k model.NodeKey) bool { return k != c })
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.m.EnsureResident(a)
	require.NoError(t, err)
	n, err = f.m.Reset()
	require.NoError(t, err)
	assert.Equal(t, 1, n, "pinned b stays")

	st := f.m.Stats()
	assert.Equal(t, 1, st.Resident)
	assert.Equal(t, int64(16), st.Used)
	assert.Equal(t, 1, st.Pinned)
}

func TestManager_Warm(t *testing.T) {
	f := newFixture(t, 64)
	var keys []model.NodeKey
	for i := range 8 {
		keys = append(keys, f.leaf(t, model.Attribute(i+1)))
	}

	n, err := f.m.Warm(t.Context(), slices.Values(keys), 0.5)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int64(32), f.m.Stats().Used)

	n, err = f.m.Warm(t.Context(), slices.Values(keys), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n, "stops when full instead of evicting")
	assert.Zero(t, f.m.Stats().Evictions)

	_, ok := f.m.Resident(keys[0])
	assert.True(t, ok)
}

type flakyArena struct {
	*region.Region
	fullOnce  bool
	always    bool
	inserts   int
	removeErr error
}

func (a *flakyArena) Remove(k model.NodeKey) error {
	if a.removeErr != nil {
		return a.removeErr
	}
	return a.Region.Remove(k)
}

func (a *flakyArena) Insert(k model.NodeKey, n model.Node) (model.Offset, error) {
	a.inserts++
	if a.always || (a.fullOnce && a.inserts == 1) {
		return 0, region.ErrRegionFull
	}
	return a.Region.Insert(k, n)
}

func TestManager_RegionFullRetriedOnce(t *testing.T) {
	reg, err := region.Create("", 1<<12)
	require.NoError(t, err)
	defer reg.Close()

	tbl := nodetable.New()
	rc := resource.NewController(resource.Config{BudgetBytes: 128})
	a, err := tbl.Intern(model.Leaf(1))
	require.NoError(t, err)
	b, err := tbl.Intern(model.Leaf(2))
	require.NoError(t, err)

	arena := &flakyArena{Region: reg}
	m := New(tbl, arena, rc)
	_, err = m.EnsureResident(a)
	require.NoError(t, err)

	// First insert reports full: a is evicted and the retry succeeds.
	arena.fullOnce, arena.inserts = true, 0
	_, err = m.EnsureResident(b)
	require.NoError(t, err)
	assert.Equal(t, 2, arena.inserts)
	assert.Equal(t, uint64(1), m.Stats().Evictions)

	// Still full after the eviction pass: escalates.
	arena.always = true
	_, err = m.EnsureResident(a)
	require.ErrorIs(t, err, ErrOutOfBudget)
	require.ErrorIs(t, err, region.ErrRegionFull)
	assert.Zero(t, rc.Reserved(), "reservation rolled back")
}

// tightRegion has one 128-byte page and room for three index entries,
// while the budget is far larger.
func tightRegion(t *testing.T) (*nodetable.Table, *region.Region, *resource.Controller) {
	t.Helper()
	reg, err := region.Create("", 256, region.WithPageSize(128))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	require.Equal(t, uint32(1), reg.Layout().Pages)
	require.Equal(t, uint64(3), reg.Layout().MaxEntries())
	return nodetable.New(), reg, resource.NewController(resource.Config{BudgetBytes: 1024})
}

func TestManager_RegionFullEvictsForSlot(t *testing.T) {
	tbl, reg, rc := tightRegion(t)
	m := New(tbl, reg, rc)

	a, err := tbl.Intern(model.Leaf(1))
	require.NoError(t, err)
	parent, err := tbl.Intern(model.Internal([8]model.NodeKey{a}))
	require.NoError(t, err)

	m.BeginQuery()
	_, err = m.EnsureResident(a)
	require.NoError(t, err)

	// The only page serves 16-byte slots; a 24-byte node needs it drained.
	m.BeginQuery()
	_, err = m.EnsureResident(parent)
	require.NoError(t, err)
	_, ok := m.Resident(a)
	assert.False(t, ok)
	assert.Equal(t, uint64(1), m.Stats().Evictions)
	assert.Equal(t, uint64(24), reg.Stats().Used)

	// With parent pinned no page can be freed for a.
	m.Pin(parent)
	m.BeginQuery()
	_, err = m.EnsureResident(a)
	require.ErrorIs(t, err, ErrOutOfBudget)
	require.ErrorIs(t, err, region.ErrRegionFull)
	assert.Equal(t, int64(24), rc.Reserved())
	assert.Equal(t, uint64(1), m.Stats().AdmissionFailures)

	m.Unpin(parent)
	m.BeginQuery()
	_, err = m.EnsureResident(a)
	require.NoError(t, err)
}

func TestManager_RegionFullEvictsForIndexEntry(t *testing.T) {
	tbl, reg, rc := tightRegion(t)
	m := New(tbl, reg, rc)

	var keys []model.NodeKey
	for i := range 4 {
		k, err := tbl.Intern(model.Leaf(model.Attribute(i + 1)))
		require.NoError(t, err)
		keys = append(keys, k)
	}
	for _, k := range keys {
		m.BeginQuery()
		_, err := m.EnsureResident(k)
		require.NoError(t, err)
	}

	st := m.Stats()
	assert.Equal(t, 3, st.Resident)
	assert.Equal(t, uint64(1), st.Evictions)
	_, ok := m.Resident(keys[0])
	assert.False(t, ok, "oldest leaf made room in the index")
	assert.Equal(t, uint64(3), reg.Stats().Resident)
}

func TestManager_PruneCountsOnlyEvicted(t *testing.T) {
	reg, err := region.Create("", 1<<12)
	require.NoError(t, err)
	defer reg.Close()

	tbl := nodetable.New()
	rc := resource.NewController(resource.Config{BudgetBytes: 1024})
	a, err := tbl.Intern(model.Leaf(1))
	require.NoError(t, err)
	b, err := tbl.Intern(model.Leaf(2))
	require.NoError(t, err)

	arena := &flakyArena{Region: reg}
	m := New(tbl, arena, rc)
	for _, k := range []model.NodeKey{a, b} {
		_, err := m.EnsureResident(k)
		require.NoError(t, err)
	}

	arena.removeErr = errors.New("unmap failed")
	n, err := m.Prune(func(k model.NodeKey) bool { return k == b })
	require.ErrorIs(t, err, arena.removeErr)
	assert.Zero(t, n)

	arena.removeErr = nil
	n, err = m.Prune(func(model.NodeKey) bool { return false })
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type countingObserver struct {
	hits, misses, evictions, failures int
}

func (o *countingObserver) OnHit()              { o.hits++ }
func (o *countingObserver) OnMiss()             { o.misses++ }
func (o *countingObserver) OnEvict(int)         { o.evictions++ }
func (o *countingObserver) OnAdmissionFailure() { o.failures++ }

func TestManager_ObserverAndClockPolicy(t *testing.T) {
	obs := &countingObserver{}
	f := newFixture(t, 32, WithPolicy(NewClock()), WithObserver(obs))
	a := f.leaf(t, 1)
	b := f.leaf(t, 2)
	c := f.leaf(t, 3)

	for _, k := range []model.NodeKey{a, b, a, c} {
		_, err := f.m.EnsureResident(k)
		require.NoError(t, err)
	}
	_, err := f.m.EnsureResident(model.NodeKey(99))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrOutOfBudget))

	assert.Equal(t, 1, obs.hits)
	assert.Equal(t, 4, obs.misses)
	assert.Equal(t, 1, obs.evictions)
	assert.Zero(t, obs.failures)
	assert.LessOrEqual(t, f.m.Stats().Used, int64(32))
}
