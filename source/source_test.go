package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/svdag/model"
)

func TestMorton_RoundTrip(t *testing.T) {
	coords := []model.Coord{
		{X: 0, Y: 0, Z: 0},
		{X: 1, Y: 0, Z: 0},
		{X: 0, Y: 1, Z: 0},
		{X: 0, Y: 0, Z: 1},
		{X: 5, Y: 9, Z: 13},
		{X: 1<<21 - 1, Y: 1<<21 - 1, Z: 1<<21 - 1},
	}
	for _, c := range coords {
		assert.Equal(t, c, FromMorton(Morton(c)), c.String())
	}

	assert.Equal(t, uint64(1), Morton(model.Coord{X: 1}))
	assert.Equal(t, uint64(2), Morton(model.Coord{Y: 1}))
	assert.Equal(t, uint64(4), Morton(model.Coord{Z: 1}))
}

func TestMorton_OctantOrderMatchesChildBoxes(t *testing.T) {
	box := model.Cube(8)
	for o := 0; o < 8; o++ {
		lo, hi, ok := MortonRange(box.Child(o))
		require.True(t, ok)
		assert.Equal(t, uint64(o)*64, lo)
		assert.Equal(t, uint64(o)*64+63, hi)
	}

	_, _, ok := MortonRange(model.AABB{Min: model.Coord{X: 1}, Size: 2})
	assert.False(t, ok)
}

func TestPointSet(t *testing.T) {
	ps := NewPointSet(func(yield func(model.Coord, model.Attribute) bool) {
		_ = yield(model.Coord{X: 1, Y: 2, Z: 3}, 1) &&
			yield(model.Coord{X: 6, Y: 6, Z: 6}, 2) &&
			yield(model.Coord{X: 1, Y: 2, Z: 3}, 5)
	})

	assert.Equal(t, 2, ps.Len())
	assert.True(t, ps.Occupied(model.Cube(8)))
	assert.True(t, ps.Occupied(model.Cube(8).Child(0)))
	assert.True(t, ps.Occupied(model.Cube(8).Child(7)))
	assert.False(t, ps.Occupied(model.Cube(8).Child(1)))

	attr, ok := ps.Sample(model.AABB{Min: model.Coord{X: 1, Y: 2, Z: 3}, Size: 1})
	require.True(t, ok)
	assert.Equal(t, model.Attribute(5), attr, "last duplicate wins")

	_, ok = ps.Sample(model.AABB{Min: model.Coord{X: 2, Y: 2, Z: 3}, Size: 1})
	assert.False(t, ok)

	// Unaligned boxes fall back to a scan.
	assert.True(t, ps.Occupied(model.AABB{Min: model.Coord{X: 1, Y: 1, Z: 1}, Size: 3}))

	var got []model.Coord
	for c := range ps.All() {
		got = append(got, c)
	}
	assert.Equal(t, []model.Coord{{X: 1, Y: 2, Z: 3}, {X: 6, Y: 6, Z: 6}}, got)
}

func TestSphere(t *testing.T) {
	s := Sphere{Center: model.Vec3{X: 8, Y: 8, Z: 8}, Radius: 4, Attr: 3}

	assert.True(t, s.Occupied(model.Cube(16)))
	assert.False(t, s.Occupied(model.AABB{Size: 2}))

	attr, ok := s.Sample(model.AABB{Min: model.Coord{X: 8, Y: 8, Z: 8}, Size: 1})
	assert.True(t, ok)
	assert.Equal(t, model.Attribute(3), attr)

	_, ok = s.Sample(model.AABB{Min: model.Coord{X: 0, Y: 0, Z: 0}, Size: 1})
	assert.False(t, ok)

	_, full := s.Uniform(model.AABB{Min: model.Coord{X: 7, Y: 7, Z: 7}, Size: 2})
	assert.True(t, full)
	_, full = s.Uniform(model.Cube(16))
	assert.False(t, full)
}

func TestBox(t *testing.T) {
	b := Box{Min: model.Coord{X: 2, Y: 2, Z: 2}, Max: model.Coord{X: 6, Y: 6, Z: 6}, Attr: 4}

	assert.True(t, b.Occupied(model.Cube(4)))
	assert.False(t, b.Occupied(model.Cube(2)))

	attr, full := b.Uniform(model.AABB{Min: model.Coord{X: 2, Y: 2, Z: 2}, Size: 2})
	assert.True(t, full)
	assert.Equal(t, model.Attribute(4), attr)

	_, ok := b.Sample(model.AABB{Min: model.Coord{X: 6, Y: 2, Z: 2}, Size: 1})
	assert.False(t, ok)
}

func TestCompose(t *testing.T) {
	big := Box{Max: model.Coord{X: 8, Y: 8, Z: 8}, Attr: 1}
	hole := Box{Min: model.Coord{X: 0, Y: 0, Z: 0}, Max: model.Coord{X: 4, Y: 4, Z: 4}, Attr: 2}

	diff := Difference(big, hole)
	assert.False(t, diff.Occupied(model.Cube(8).Child(0)))
	assert.True(t, diff.Occupied(model.Cube(8).Child(7)))
	_, ok := diff.Sample(model.AABB{Size: 1})
	assert.False(t, ok)

	u := Union(big, hole)
	attr, ok := u.Sample(model.AABB{Size: 1})
	require.True(t, ok)
	assert.Equal(t, model.Attribute(2), attr)
	attr, ok = UniformOf(u, model.Cube(8).Child(7))
	require.True(t, ok)
	assert.Equal(t, model.Attribute(1), attr)

	assert.False(t, Empty{}.Occupied(model.Cube(8)))
}
