package region

import (
	"fmt"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/svdag/model"
)

const noClass = -1

// slab carves the arena into pages, each serving one slot class.
// It only tracks bookkeeping; bytes live in the mapped arena.
type slab struct {
	pageSize uint64
	classOf  []int8
	used     []uint32
	// freePages has a bit set for every page not assigned to a class.
	freePages *bitset.BitSet
	// live has a bit set for every allocated slot, indexed by offset/8.
	live *bitset.BitSet
	free [numClasses][]model.Offset
}

func newSlab(pages uint32, pageSize uint32) *slab {
	s := &slab{
		pageSize:  uint64(pageSize),
		classOf:   make([]int8, pages),
		used:      make([]uint32, pages),
		freePages: bitset.New(uint(pages)),
		live:      bitset.New(uint(uint64(pages) * uint64(pageSize) / 8)),
	}
	for i := range s.classOf {
		s.classOf[i] = noClass
		s.freePages.Set(uint(i))
	}
	return s
}

func (s *slab) allocate(size int) (model.Offset, int, error) {
	c, ok := classFor(size)
	if !ok {
		return 0, 0, fmt.Errorf("%w: unsupported slot size %d", ErrInvalidSize, size)
	}

	if len(s.free[c]) == 0 && !s.assignPage(c) {
		return 0, 0, ErrRegionFull
	}

	list := s.free[c]
	off := list[len(list)-1]
	s.free[c] = list[:len(list)-1]

	s.used[uint64(off)/s.pageSize]++
	s.live.Set(uint(off / 8))
	return off, SlotClasses[c], nil
}

func (s *slab) assignPage(c int) bool {
	p, ok := s.freePages.NextSet(0)
	if !ok {
		return false
	}
	s.freePages.Clear(p)
	s.classOf[p] = int8(c)

	slot := uint64(SlotClasses[c])
	start := uint64(p) * s.pageSize
	n := s.pageSize / slot
	// Push in reverse so the lowest offset is handed out first.
	for i := n; i > 0; i-- {
		s.free[c] = append(s.free[c], model.Offset(start+(i-1)*slot))
	}
	return true
}

func (s *slab) release(off model.Offset) (int, error) {
	p := uint64(off) / s.pageSize
	if p >= uint64(len(s.classOf)) || uint64(off)%8 != 0 || !s.live.Test(uint(off/8)) {
		return 0, fmt.Errorf("%w: %d", ErrInvalidOffset, off)
	}
	c := int(s.classOf[p])
	slot := uint64(SlotClasses[c])
	if (uint64(off)-p*s.pageSize)%slot != 0 {
		return 0, fmt.Errorf("%w: %d not on a slot boundary", ErrInvalidOffset, off)
	}

	s.live.Clear(uint(off / 8))
	s.used[p]--
	s.free[c] = append(s.free[c], off)

	if s.used[p] == 0 {
		s.reclaimPage(p, c)
	}
	return int(slot), nil
}

// reclaimPage returns an empty page to the free-page pool.
func (s *slab) reclaimPage(p uint64, c int) {
	lo := model.Offset(p * s.pageSize)
	hi := lo + model.Offset(s.pageSize)
	list := s.free[c][:0]
	for _, off := range s.free[c] {
		if off < lo || off >= hi {
			list = append(list, off)
		}
	}
	s.free[c] = list
	s.classOf[p] = noClass
	s.freePages.Set(uint(p))
}

// canAllocate reports whether allocate(size) would succeed after the slots
// in freed were released. It does not modify the slab.
func (s *slab) canAllocate(size int, freed []model.Offset) bool {
	c, ok := classFor(size)
	if !ok {
		return false
	}
	if len(s.free[c]) > 0 || s.freePages.Any() {
		return true
	}
	drained := map[uint64]uint32{}
	for _, off := range freed {
		p := uint64(off) / s.pageSize
		if p >= uint64(len(s.classOf)) || s.classOf[p] == noClass {
			continue
		}
		if int(s.classOf[p]) == c {
			return true
		}
		drained[p]++
		if drained[p] >= s.used[p] {
			return true
		}
	}
	return false
}

func (s *slab) freePageCount() int {
	return int(s.freePages.Count())
}
