package region

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/svdag/codec"
	"github.com/hupe1980/svdag/model"
)

func newAnon(t *testing.T, capacity uint64, opts ...Option) *Region {
	t.Helper()
	r, err := Create("", capacity, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func internal(keys ...model.NodeKey) model.Node {
	var c [8]model.NodeKey
	copy(c[:], keys)
	return model.Internal(c)
}

func TestNewLayout(t *testing.T) {
	tests := []struct {
		capacity uint64
		pageSize uint32
		wantPage uint32
	}{
		{16, 0, minPageSize},
		{64, 0, minPageSize},
		{4096, 0, minPageSize},
		{10_000, 0, 256},
		{1 << 20, 0, DefaultPageSize},
		{1 << 20, 256, 256},
		{64 << 20, 0, DefaultPageSize},
	}
	for _, tt := range tests {
		l, err := NewLayout(tt.capacity, tt.pageSize)
		require.NoError(t, err)
		assert.Equal(t, tt.wantPage, l.PageSize, "capacity %d", tt.capacity)
		assert.LessOrEqual(t, l.FileSize()-HeaderSize, tt.capacity, "capacity %d", tt.capacity)
		assert.Equal(t, l.BodySize(), l.FileSize()-HeaderSize)
		assert.Equal(t, uint64(HeaderSize), l.IndexOffset)
		assert.Equal(t, l.IndexOffset+l.IndexSlots*IndexEntrySize, l.ArenaOffset)
		assert.Zero(t, l.IndexSlots&(l.IndexSlots-1))
		assert.LessOrEqual(t, l.IndexSlots*IndexEntrySize, tt.capacity*2/5+IndexEntrySize)
	}

	l, err := NewLayout(1<<20, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(16384), l.IndexSlots)
	assert.Equal(t, uint64(12288), l.MaxEntries())
	assert.Equal(t, uint32(192), l.Pages)

	_, err = NewLayout(0, 0)
	assert.ErrorIs(t, err, ErrInvalidLayout)
	_, err = NewLayout(8, 0)
	assert.ErrorIs(t, err, ErrInvalidLayout)
	_, err = NewLayout(100, 300)
	assert.ErrorIs(t, err, ErrInvalidLayout)
	_, err = NewLayout(100, 64)
	assert.ErrorIs(t, err, ErrInvalidLayout)
}

func TestRegion_FileFitsCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.svdr")
	r, err := Create(path, 1<<20)
	require.NoError(t, err)
	defer r.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.LessOrEqual(t, info.Size(), int64(HeaderSize+1<<20))
}

func TestRegion_IndexFull(t *testing.T) {
	r := newAnon(t, 256, WithPageSize(128))
	l := r.Layout()
	require.Equal(t, uint64(4), l.IndexSlots)
	require.Equal(t, uint32(1), l.Pages)
	require.Equal(t, uint64(3), l.MaxEntries())

	for k := range model.NodeKey(3) {
		_, err := r.Insert(k+1, model.Leaf(model.Attribute(k)))
		require.NoError(t, err)
	}
	assert.False(t, r.CanAllocate(16, nil), "page has room but the index does not")

	off, ok := r.Lookup(1)
	require.True(t, ok)
	assert.True(t, r.CanAllocate(16, []model.Offset{off}))

	_, err := r.Insert(4, model.Leaf(4))
	require.ErrorIs(t, err, ErrRegionFull)
	assert.Equal(t, uint64(3), r.Stats().Resident)

	require.NoError(t, r.Remove(1))
	_, err = r.Insert(4, model.Leaf(4))
	require.NoError(t, err)
}

func TestRegion_ChildMovesParentStaysValid(t *testing.T) {
	r := newAnon(t, 4096)

	const child, other, parent = model.NodeKey(10), model.NodeKey(11), model.NodeKey(20)
	before, err := r.Insert(child, model.Leaf(7))
	require.NoError(t, err)
	pOff, err := r.Insert(parent, model.Internal([8]model.NodeKey{child}))
	require.NoError(t, err)

	// The child comes back at a new offset after its old slot is reused.
	require.NoError(t, r.Remove(child))
	_, err = r.Insert(other, model.Leaf(8))
	require.NoError(t, err)
	after, err := r.Insert(child, model.Leaf(7))
	require.NoError(t, err)
	require.NotEqual(t, before, after)

	n, k, err := r.Read(pOff)
	require.NoError(t, err)
	assert.Equal(t, parent, k)
	off, ok := r.Lookup(n.Children[0])
	require.True(t, ok)
	assert.Equal(t, after, off)

	leaf, k, err := r.Read(off)
	require.NoError(t, err)
	assert.Equal(t, child, k)
	assert.Equal(t, model.Attribute(7), leaf.Attr)
}

func TestRegion_AllocateFree(t *testing.T) {
	r := newAnon(t, 1024, WithPageSize(256))

	a, err := r.Allocate(24)
	require.NoError(t, err)
	b, err := r.Allocate(24)
	require.NoError(t, err)
	assert.Equal(t, a+24, b, "slots of one class share a page")

	c, err := r.Allocate(80)
	require.NoError(t, err)
	assert.NotEqual(t, uint64(a)/256, uint64(c)/256, "classes never share a page")

	require.NoError(t, r.Free(b))
	again, err := r.Allocate(24)
	require.NoError(t, err)
	assert.Equal(t, b, again, "freed slot is reused first")

	assert.ErrorIs(t, r.Free(model.Offset(3)), ErrInvalidOffset)
	require.NoError(t, r.Free(a))
	assert.ErrorIs(t, r.Free(a), ErrInvalidOffset, "double free")

	_, err = r.Allocate(81)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestRegion_RegionFullAndPageReclaim(t *testing.T) {
	r := newAnon(t, 1024, WithPageSize(256))
	pages := r.Layout().Pages
	require.Equal(t, uint32(3), pages)

	// Fill every page with 80-byte slots (3 per 256-byte page).
	var offs []model.Offset
	for {
		off, err := r.Allocate(80)
		if errors.Is(err, ErrRegionFull) {
			break
		}
		require.NoError(t, err)
		offs = append(offs, off)
	}
	assert.Len(t, offs, int(pages)*3)
	assert.Equal(t, 0, r.Stats().FreePages)

	_, err := r.Allocate(16)
	assert.ErrorIs(t, err, ErrRegionFull)
	assert.False(t, r.CanAllocate(16, nil))
	assert.False(t, r.CanAllocate(16, offs[:2]), "page still partly used")
	assert.True(t, r.CanAllocate(16, offs[:3]), "freeing a whole page")
	assert.True(t, r.CanAllocate(80, offs[:1]), "same class slot")

	for _, off := range offs[:3] {
		require.NoError(t, r.Free(off))
	}
	assert.Equal(t, 1, r.Stats().FreePages)

	_, err = r.Allocate(16)
	require.NoError(t, err)
}

func TestRegion_InsertLookupRemove(t *testing.T) {
	r := newAnon(t, 4096)

	leaf := model.Leaf(42)
	parent := internal(model.NodeKey(11), 0, 0, model.NodeKey(11))

	lo, err := r.Insert(model.NodeKey(11), leaf)
	require.NoError(t, err)
	po, err := r.Insert(model.NodeKey(22), parent)
	require.NoError(t, err)

	dup, err := r.Insert(model.NodeKey(11), leaf)
	require.NoError(t, err)
	assert.Equal(t, lo, dup)

	got, ok := r.Lookup(model.NodeKey(22))
	require.True(t, ok)
	assert.Equal(t, po, got)

	n, k, err := r.Read(po)
	require.NoError(t, err)
	assert.Equal(t, model.NodeKey(22), k)
	assert.Equal(t, parent, n)

	raw, err := r.Bytes(lo)
	require.NoError(t, err)
	assert.Len(t, raw, model.NodeHeaderSize)

	st := r.Stats()
	assert.Equal(t, uint64(2), st.Resident)
	assert.Equal(t, uint64(16+32), st.Used)

	require.NoError(t, r.Remove(model.NodeKey(11)))
	_, ok = r.Lookup(model.NodeKey(11))
	assert.False(t, ok)
	_, _, err = r.Read(lo)
	assert.ErrorIs(t, err, ErrInvalidOffset)
	assert.ErrorIs(t, r.Remove(model.NodeKey(11)), ErrNotResident)

	assert.Equal(t, uint64(32), r.Stats().Used)
}

func TestIndex_BackwardShiftKeepsClusterReachable(t *testing.T) {
	buf := make([]byte, 64*IndexEntrySize)
	ix := newIndex(buf, 64)

	// Collect keys that share a home slot so they form one cluster.
	var keys []model.NodeKey
	want := home(model.NodeKey(1), ix.shift)
	for k := model.NodeKey(1); len(keys) < 5; k++ {
		if home(k, ix.shift) == want {
			keys = append(keys, k)
		}
	}
	for i, k := range keys {
		require.True(t, ix.put(k, model.Offset(i*100)))
	}
	assert.Equal(t, 5, ix.count)

	require.True(t, ix.remove(keys[1]))
	assert.False(t, ix.remove(keys[1]))

	for i, k := range keys {
		off, ok := ix.get(k)
		if i == 1 {
			assert.False(t, ok)
			continue
		}
		require.True(t, ok, "key %d lost after shift", i)
		assert.Equal(t, model.Offset(i*100), off)
	}
	assert.Equal(t, 4, ix.count)
}

func TestRegion_PublishAndReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.svdr")
	w, err := Create(path, 8192)
	require.NoError(t, err)
	defer w.Close()

	leafKey, rootKey := model.NodeKey(0xAA), model.NodeKey(0xBB)
	root := internal(leafKey, leafKey)

	w.Publish(rootKey, 8, 3)
	assert.Equal(t, model.InvalidOffset, w.Header().RootOffset)

	_, err = w.Insert(leafKey, model.Leaf(5))
	require.NoError(t, err)
	rootOff, err := w.Insert(rootKey, root)
	require.NoError(t, err)
	assert.Equal(t, rootOff, w.Header().RootOffset)

	r, err := OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, w.ID(), r.ID())
	assert.Equal(t, w.Layout(), r.Layout())

	h, err := r.Header()
	require.NoError(t, err)
	assert.Equal(t, rootKey, h.RootKey)
	assert.Equal(t, rootOff, h.RootOffset)
	assert.Equal(t, uint32(8), h.Extent)
	assert.Equal(t, uint32(3), h.Depth)
	assert.Equal(t, uint64(2), h.Resident)
	assert.Equal(t, uint64(1), h.Generation)

	k, n, err := r.Root()
	require.NoError(t, err)
	assert.Equal(t, rootKey, k)
	assert.Equal(t, root, n)

	child, err := r.Node(n.Children[0])
	require.NoError(t, err)
	assert.Equal(t, model.Leaf(5), child)

	// Eviction on the writer side is visible to the reader.
	require.NoError(t, w.Remove(leafKey))
	_, err = r.Node(leafKey)
	assert.ErrorIs(t, err, ErrNotResident)
	_, err = r.Lookup(leafKey)
	assert.ErrorIs(t, err, ErrNotResident)
}

func TestOpenReader_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage")
	require.NoError(t, os.WriteFile(path, make([]byte, HeaderSize), 0o600))

	_, err := OpenReader(path)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestRegion_Stage(t *testing.T) {
	r := newAnon(t, 4096, WithPageSize(256))

	_, err := r.Insert(model.NodeKey(1), model.Leaf(1))
	require.NoError(t, err)
	_, err = r.Insert(model.NodeKey(2), internal(model.NodeKey(1)))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Stats().DirtyPages)

	var ranges []Range
	require.NoError(t, r.Stage(func(rng Range, data []byte) error {
		assert.Len(t, data, int(rng.Length))
		ranges = append(ranges, rng)
		return nil
	}))
	assert.Equal(t, []Range{{Offset: 0, Length: 512}}, ranges, "adjacent pages coalesce")
	assert.Zero(t, r.Stats().DirtyPages)

	require.Error(t, func() error {
		_, _ = r.Insert(model.NodeKey(3), model.Leaf(3))
		return r.Stage(func(Range, []byte) error { return errors.New("upload failed") })
	}())
	assert.Equal(t, uint64(1), r.Stats().DirtyPages, "failed stage keeps pages dirty")
}

func TestRegion_Descriptor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scene.svdr")
	r, err := Create(path, 2048)
	require.NoError(t, err)
	defer r.Close()

	out, err := r.WriteDescriptor(codec.JSON{})
	require.NoError(t, err)
	assert.Equal(t, path+".json", out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)

	var d Descriptor
	require.NoError(t, codec.SegmentJSON{}.Unmarshal(data, &d))
	assert.Equal(t, Magic, d.Magic)
	assert.Equal(t, r.Layout().ArenaOffset, d.Arena.Offset)
	assert.Equal(t, r.ID().String(), d.ID)
	assert.Equal(t, offRootOffset, d.Header["root_offset"])

	anon := newAnon(t, 64)
	_, err = anon.WriteDescriptor(nil)
	assert.ErrorIs(t, err, ErrInvalidLayout)
}

func TestRegion_ClosedOperations(t *testing.T) {
	r, err := Create("", 64)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	require.NoError(t, r.Close())

	_, err = r.Allocate(16)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = r.Insert(model.NodeKey(1), model.Leaf(1))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, r.Remove(model.NodeKey(1)), ErrClosed)
}
