package labels

import (
	"errors"

	"github.com/RoaringBitmap/roaring/v2"
)

// ErrPoolExhausted is returned when every usable instance id is taken.
var ErrPoolExhausted = errors.New("no free instance ids left in pool")

// Pool tracks the instance ids still free for the merge engine to assign
// to synthesized overlap groups.  Allocation is lowest-id-first so merges
// are reproducible.
type Pool struct {
	free *roaring.Bitmap
}

// NewPool returns a pool of every usable id, 1 through MaxInstance, minus
// the members of the given sets.
func NewPool(exclude ...Set) *Pool {
	free := roaring.New()
	free.AddRange(1, MaxInstance+1)
	p := &Pool{free: free}
	for _, s := range exclude {
		p.Exclude(s)
	}
	return p
}

// Min returns the smallest free id without claiming it.
func (p *Pool) Min() (uint16, error) {
	if p.free.IsEmpty() {
		return 0, ErrPoolExhausted
	}
	return uint16(p.free.Minimum()), nil
}

// Discard removes one id from the pool if present.
func (p *Pool) Discard(id uint16) {
	p.free.Remove(uint32(id))
}

// Exclude removes every member of the set from the pool.
func (p *Pool) Exclude(s Set) {
	for id := range s {
		p.free.Remove(uint32(id))
	}
}

// Contains reports whether an id is still free.
func (p *Pool) Contains(id uint16) bool {
	return p.free.Contains(uint32(id))
}

// Len returns the number of free ids.
func (p *Pool) Len() int {
	return int(p.free.GetCardinality())
}
