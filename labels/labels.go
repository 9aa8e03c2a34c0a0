/*
	Package labels holds the instance-id bookkeeping shared by the merge
	engine and the representation converters: id sets, group membership
	tables, the member-set memo, and the free-id pool.  Ids are 16-bit
	because that is the widest element a label container carries.
*/
package labels

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// MaxInstance is the largest usable instance id.  Zero is background.
const MaxInstance = 65535

// Set is an unordered collection of instance ids.
type Set map[uint16]struct{}

// NewSet returns a Set holding the given ids.
func NewSet(ids ...uint16) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s Set) Add(id uint16) {
	s[id] = struct{}{}
}

func (s Set) Has(id uint16) bool {
	_, found := s[id]
	return found
}

// Clone returns an independent copy.
func (s Set) Clone() Set {
	c := make(Set, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

// Union returns a new set with all members of both sets.
func (s Set) Union(o Set) Set {
	u := make(Set, len(s)+len(o))
	for id := range s {
		u[id] = struct{}{}
	}
	for id := range o {
		u[id] = struct{}{}
	}
	return u
}

// Subtract removes all of o's members from s in place.
func (s Set) Subtract(o Set) {
	for id := range o {
		delete(s, id)
	}
}

// Difference returns the members of s not in o.
func (s Set) Difference(o Set) Set {
	d := make(Set)
	for id := range s {
		if _, found := o[id]; !found {
			d[id] = struct{}{}
		}
	}
	return d
}

// Intersect returns the members common to s and o.
func (s Set) Intersect(o Set) Set {
	x := make(Set)
	for id := range s {
		if _, found := o[id]; found {
			x[id] = struct{}{}
		}
	}
	return x
}

// Equals reports whether both sets have exactly the same members.
func (s Set) Equals(o Set) bool {
	if len(s) != len(o) {
		return false
	}
	for id := range s {
		if _, found := o[id]; !found {
			return false
		}
	}
	return true
}

// Sorted returns the members in ascending order.
func (s Set) Sorted() []uint16 {
	ids := make([]uint16, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Max returns the largest member, or 0 for an empty set.
func (s Set) Max() uint16 {
	var max uint16
	for id := range s {
		if id > max {
			max = id
		}
	}
	return max
}

// Key returns the canonical memo key for this member set: the sorted ids
// packed 2 bytes little-endian each.
func (s Set) Key() GroupKey {
	ids := s.Sorted()
	b := make([]byte, 2*len(ids))
	for i, id := range ids {
		binary.LittleEndian.PutUint16(b[2*i:], id)
	}
	return GroupKey(b)
}

// String prints members in ascending order for error messages and logs.
func (s Set) String() string {
	ids := s.Sorted()
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// GroupKey is a member set serialized in canonical order, usable as a map
// key the way a sorted id tuple would be.
type GroupKey string

// SingletonKey returns the memo key for a one-member set without building
// the set.
func SingletonKey(id uint16) GroupKey {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], id)
	return GroupKey(b[:])
}

// Members decodes the key back into its ids, ascending.
func (k GroupKey) Members() []uint16 {
	ids := make([]uint16, len(k)/2)
	for i := range ids {
		ids[i] = binary.LittleEndian.Uint16([]byte(k[2*i : 2*i+2]))
	}
	return ids
}
