package builder

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/svdag/internal/nodetable"
	"github.com/hupe1980/svdag/internal/resource"
	"github.com/hupe1980/svdag/model"
	"github.com/hupe1980/svdag/source"
	"github.com/hupe1980/svdag/testutil"
)

func TestLeafSize(t *testing.T) {
	tests := []struct {
		name   string
		extent uint32
		depth  int
		leaf   uint32
		ok     bool
	}{
		{"unit leaves", 8, 3, 1, true},
		{"coarse leaves", 64, 3, 8, true},
		{"single leaf", 4, 0, 4, true},
		{"max", 1 << MaxDepth, MaxDepth, 1, true},
		{"not power of two", 12, 2, 0, false},
		{"zero extent", 0, 0, 0, false},
		{"too deep", 8, 4, 0, false},
		{"negative depth", 8, -1, 0, false},
		{"extent too large", 1 << (MaxDepth + 1), 3, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			leaf, err := LeafSize(tt.extent, tt.depth)
			if !tt.ok {
				require.ErrorIs(t, err, ErrInvalidGeometry)
				var ge *GeometryError
				require.ErrorAs(t, err, &ge)
				assert.Equal(t, tt.extent, ge.Extent)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.leaf, leaf)
		})
	}
}

func TestBuild_SymmetricVoxelsShareSubtree(t *testing.T) {
	tbl := nodetable.New()
	b := New(tbl)

	src := source.Points(5, model.Coord{X: 1, Y: 1, Z: 1}, model.Coord{X: 5, Y: 5, Z: 5})
	dag, err := b.Build(t.Context(), src, 8, 3)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), dag.LeafSize)

	root, err := tbl.Get(dag.Root)
	require.NoError(t, err)
	require.False(t, root.IsLeaf())
	assert.Equal(t, 2, root.ChildCount())
	assert.NotEqual(t, model.NullKey, root.Children[0])
	assert.Equal(t, root.Children[0], root.Children[7], "both octants point at one subtree")

	st := tbl.Stats()
	assert.Equal(t, 1, st.Leaves)
	// Root plus one node per intermediate level; the subtree below the
	// root is stored once.
	assert.Equal(t, 3, st.Internals)

	require.NoError(t, tbl.Validate(dag.Root, dag.Depth))
}

func TestBuild_GeometryCheckedBeforeInterning(t *testing.T) {
	tbl := nodetable.New()
	b := New(tbl)

	_, err := b.Build(t.Context(), source.Points(1, model.Coord{}), 12, 2)
	require.ErrorIs(t, err, ErrInvalidGeometry)
	assert.Zero(t, tbl.Len())
}

func TestBuild_Deterministic(t *testing.T) {
	cloud := source.NewPointSet(testutil.NewRNG(3).Cloud(500, 32, 4))

	seq := nodetable.New()
	a, err := New(seq, WithParallelDepth(0)).Build(t.Context(), cloud, 32, 5)
	require.NoError(t, err)

	par := nodetable.New()
	rc := resource.NewController(resource.Config{BuildWorkers: 3})
	b, err := New(par, WithController(rc), WithParallelDepth(3)).Build(t.Context(), cloud, 32, 5)
	require.NoError(t, err)

	assert.Equal(t, a.Root, b.Root)
	assert.Equal(t, seq.Len(), par.Len())

	again, err := New(seq).Build(t.Context(), cloud, 32, 5)
	require.NoError(t, err)
	assert.Equal(t, a.Root, again.Root)
	refs, err := seq.Refs(a.Root)
	require.NoError(t, err)
	assert.Equal(t, int64(2), refs)
}

func TestBuild_Compression(t *testing.T) {
	tbl := nodetable.New()
	b := New(tbl)

	random := source.NewPointSet(testutil.NewRNG(9).Cloud(300, 32, 2))
	dag, err := b.Build(t.Context(), random, 32, 5)
	require.NoError(t, err)
	st, err := tbl.Describe(dag.Root, dag.Depth)
	require.NoError(t, err)
	assert.LessOrEqual(t, uint64(st.UniqueNodes), st.TreeNodes)

	mirrored := source.NewPointSet(testutil.Mirrored(testutil.NewRNG(9).Cloud(50, 16, 2), 32))
	dag, err = b.Build(t.Context(), mirrored, 32, 5)
	require.NoError(t, err)
	st, err = tbl.Describe(dag.Root, dag.Depth)
	require.NoError(t, err)
	assert.Less(t, uint64(st.UniqueNodes), st.TreeNodes)
	assert.Greater(t, st.CompressionRatio(), 1.0)
}

func TestBuild_UniformShortcutMatchesSampling(t *testing.T) {
	sphere := source.Sphere{Center: model.Vec3{X: 8, Y: 8, Z: 8}, Radius: 6, Attr: 3}

	// The same voxels as explicit points: no uniform shortcut.
	var inside []model.Coord
	for x := range uint32(16) {
		for y := range uint32(16) {
			for z := range uint32(16) {
				c := model.Coord{X: x, Y: y, Z: z}
				if _, ok := sphere.Sample(model.AABB{Min: c, Size: 1}); ok {
					inside = append(inside, c)
				}
			}
		}
	}
	require.NotEmpty(t, inside)

	tbl := nodetable.New()
	b := New(tbl)
	a, err := b.Build(t.Context(), sphere, 16, 4)
	require.NoError(t, err)
	p, err := b.Build(t.Context(), source.Points(3, inside...), 16, 4)
	require.NoError(t, err)
	assert.Equal(t, a.Root, p.Root)

	st, err := tbl.Describe(a.Root, a.Depth)
	require.NoError(t, err)
	assert.Equal(t, uint64(len(inside)), st.Voxels)
}

func TestBuild_EmptySource(t *testing.T) {
	tbl := nodetable.New()
	dag, err := New(tbl).Build(t.Context(), source.Empty{}, 16, 4)
	require.NoError(t, err)
	assert.True(t, dag.Empty())
	assert.Zero(t, tbl.Len())
	require.NoError(t, New(tbl).Release(dag))
}

type cancelAfter struct {
	source.Source
	n      int
	cancel context.CancelFunc
}

func (c *cancelAfter) Occupied(box model.AABB) bool {
	c.n--
	if c.n == 0 {
		c.cancel()
	}
	return c.Source.Occupied(box)
}

func TestBuild_CancelReleasesEverything(t *testing.T) {
	tbl := nodetable.New()
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	src := &cancelAfter{
		Source: source.NewPointSet(testutil.NewRNG(5).Cloud(400, 32, 3)),
		n:      200,
		cancel: cancel,
	}
	_, err := New(tbl, WithParallelDepth(0)).Build(ctx, src, 32, 5)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, tbl.Len(), "no partial DAG stays interned")
}

func TestBuild_ParallelCancelReleasesEverything(t *testing.T) {
	tbl := nodetable.New()
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	rc := resource.NewController(resource.Config{BuildWorkers: 4})
	_, err := New(tbl, WithController(rc)).Build(ctx, source.Box{Max: model.Coord{X: 9, Y: 9, Z: 9}, Attr: 1}, 16, 4)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, tbl.Len())
	assert.True(t, rc.TryAcquireWorker(), "worker slots returned")
}

func TestRelease_SharedSubtreesSurvive(t *testing.T) {
	tbl := nodetable.New()
	b := New(tbl)

	left := source.Points(1, model.Coord{X: 1, Y: 1, Z: 1})
	both := source.Points(1, model.Coord{X: 1, Y: 1, Z: 1}, model.Coord{X: 5, Y: 5, Z: 5})

	a, err := b.Build(t.Context(), left, 8, 3)
	require.NoError(t, err)
	c, err := b.Build(t.Context(), both, 8, 3)
	require.NoError(t, err)

	aRoot, err := tbl.Get(a.Root)
	require.NoError(t, err)
	shared := aRoot.Children[0]

	require.NoError(t, b.Release(c))
	assert.False(t, tbl.Contains(c.Root))
	assert.True(t, tbl.Contains(shared), "still reachable from the other DAG")
	require.NoError(t, tbl.Validate(a.Root, a.Depth))

	require.NoError(t, b.Release(a))
	assert.Zero(t, tbl.Len())
}
