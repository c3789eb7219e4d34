package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/svdag/model"
	"github.com/hupe1980/svdag/source"
)

// RNG wraps a seeded random source. It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

// Coords returns n random coordinates inside [0, extent)^3. Duplicates are
// possible.
func (r *RNG) Coords(n int, extent uint32) []model.Coord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.Coord, n)
	for i := range out {
		out[i] = model.Coord{
			X: uint32(r.rand.Int63n(int64(extent))),
			Y: uint32(r.rand.Int63n(int64(extent))),
			Z: uint32(r.rand.Int63n(int64(extent))),
		}
	}
	return out
}

// Cloud returns a stream of n random voxels inside [0, extent)^3 with
// attributes in [1, attrs]. The stream is materialized, so ranging over it
// twice yields the same voxels.
func (r *RNG) Cloud(n int, extent uint32, attrs int) source.Stream {
	coords := r.Coords(n, extent)

	r.mu.Lock()
	vals := make([]model.Attribute, n)
	for i := range vals {
		vals[i] = model.Attribute(1 + r.rand.Intn(attrs))
	}
	r.mu.Unlock()

	return func(yield func(model.Coord, model.Attribute) bool) {
		for i, c := range coords {
			if !yield(c, vals[i]) {
				return
			}
		}
	}
}

// Mirrored repeats the voxels of s, given relative to a cube of side
// extent/2, in all eight octants of [0, extent)^3.
func Mirrored(s source.Stream, extent uint32) source.Stream {
	half := extent / 2
	return func(yield func(model.Coord, model.Attribute) bool) {
		for o := range 8 {
			box := model.Cube(extent).Child(o)
			for c, a := range s {
				p := model.Coord{X: box.Min.X + c.X%half, Y: box.Min.Y + c.Y%half, Z: box.Min.Z + c.Z%half}
				if !yield(p, a) {
					return
				}
			}
		}
	}
}

// Collect drains a stream into slices.
func Collect(s source.Stream) ([]model.Coord, []model.Attribute) {
	var (
		coords []model.Coord
		attrs  []model.Attribute
	)
	for c, a := range s {
		coords = append(coords, c)
		attrs = append(attrs, a)
	}
	return coords, attrs
}
