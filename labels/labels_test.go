package labels

import (
	"testing"
)

func TestSetOps(t *testing.T) {
	s := NewSet(3, 1, 2)
	if !s.Has(2) || s.Has(4) {
		t.Errorf("membership wrong: %s", s)
	}
	s.Add(4)
	if !s.Has(4) {
		t.Errorf("Add(4) didn't stick: %s", s)
	}

	o := NewSet(4, 5)
	u := s.Union(o)
	if len(u) != 5 {
		t.Errorf("union has %d members, want 5: %s", len(u), u)
	}
	if len(s) != 4 || len(o) != 2 {
		t.Errorf("union mutated its operands: %s %s", s, o)
	}

	if !NewSet(1, 2).Equals(NewSet(2, 1)) {
		t.Errorf("order should not matter for equality")
	}
	if NewSet(1, 2).Equals(NewSet(1, 3)) || NewSet(1).Equals(NewSet(1, 2)) {
		t.Errorf("unequal sets compared equal")
	}

	d := NewSet(1, 2, 3).Difference(NewSet(2))
	if !d.Equals(NewSet(1, 3)) {
		t.Errorf("difference = %s, want {1, 3}", d)
	}
	x := NewSet(1, 2, 3).Intersect(NewSet(2, 3, 4))
	if !x.Equals(NewSet(2, 3)) {
		t.Errorf("intersect = %s, want {2, 3}", x)
	}

	sub := NewSet(1, 2, 3)
	sub.Subtract(NewSet(1, 3, 9))
	if !sub.Equals(NewSet(2)) {
		t.Errorf("subtract = %s, want {2}", sub)
	}

	got := NewSet(300, 7, 42).Sorted()
	want := []uint16{7, 42, 300}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Sorted() = %v, want %v", got, want)
		}
	}
	if NewSet(7, 300, 42).Max() != 300 {
		t.Errorf("Max wrong")
	}
	if NewSet().Max() != 0 {
		t.Errorf("Max of empty set should be 0")
	}
	if s := NewSet(2, 1).String(); s != "{1, 2}" {
		t.Errorf("String() = %q", s)
	}
}

func TestGroupKey(t *testing.T) {
	a := NewSet(20000, 1, 3).Key()
	b := NewSet(3, 1, 20000).Key()
	if a != b {
		t.Errorf("keys differ by insertion order: %x vs %x", a, b)
	}
	if a == NewSet(1, 3).Key() {
		t.Errorf("distinct sets share a key")
	}
	if SingletonKey(7) != NewSet(7).Key() {
		t.Errorf("singleton key mismatch")
	}

	members := a.Members()
	want := []uint16{1, 3, 20000}
	if len(members) != len(want) {
		t.Fatalf("Members() = %v", members)
	}
	for i := range want {
		if members[i] != want[i] {
			t.Errorf("Members()[%d] = %d, want %d", i, members[i], want[i])
		}
	}
}

func TestBuildMaps(t *testing.T) {
	declared := map[uint16][]uint16{
		1: {3},
		2: {3},
		5: nil,
	}
	groups, mapInstances, reverse, err := BuildMaps(declared)
	if err != nil {
		t.Fatalf("BuildMaps: %v", err)
	}
	if !mapInstances.Equals(NewSet(1, 2, 3, 5)) {
		t.Errorf("map instances = %s, want {1, 2, 3, 5}", mapInstances)
	}
	if len(groups) != 1 || !groups[3].Equals(NewSet(1, 2)) {
		t.Errorf("group map = %v", groups)
	}
	if !groups.Members(3).Equals(NewSet(1, 2)) {
		t.Errorf("Members(3) = %s", groups.Members(3))
	}
	if !groups.Members(5).Equals(NewSet(5)) {
		t.Errorf("Members of a non-group should be its singleton")
	}

	// Memo is seeded with singletons and declared member sets.
	if id, found := reverse.Get(SingletonKey(1)); !found || id != 1 {
		t.Errorf("singleton memo: got %d, %t", id, found)
	}
	if id, found := reverse.Get(NewSet(1, 2).Key()); !found || id != 3 {
		t.Errorf("group memo: got %d, %t", id, found)
	}
	if _, found := reverse.Get(NewSet(1, 5).Key()); found {
		t.Errorf("memo invented a member set nobody declared")
	}
}

func TestBuildMapsCollision(t *testing.T) {
	declared := map[uint16][]uint16{
		1: {3},
		3: nil, // 3 is also a group above
	}
	if _, _, _, err := BuildMaps(declared); err == nil {
		t.Fatalf("expected collision error for id used as instance and group")
	}
}

func TestBuildSegmentMap(t *testing.T) {
	groups := GroupMap{
		3: NewSet(1, 2),
		9: NewSet(2, 5),
	}

	segmap := BuildSegmentMap(NewSet(3, 9, 5, 7), groups)

	checks := []struct {
		id     uint16
		groups []uint16
	}{
		{1, []uint16{3}},
		{2, []uint16{3, 9}},
		{5, []uint16{9}},
		{7, nil},
	}
	if len(segmap) != len(checks) {
		t.Fatalf("segment map has %d entries, want %d: %v", len(segmap), len(checks), segmap)
	}
	for _, c := range checks {
		got, found := segmap[c.id]
		if !found {
			t.Errorf("missing entry for %d", c.id)
			continue
		}
		if len(got) != len(c.groups) {
			t.Errorf("entry %d = %v, want %v", c.id, got, c.groups)
			continue
		}
		for i := range c.groups {
			if got[i] != c.groups[i] {
				t.Errorf("entry %d = %v, want %v", c.id, got, c.groups)
				break
			}
		}
	}
	if _, found := segmap[3]; found {
		t.Errorf("group ids must not appear as keys")
	}
}

func TestBuildSegmentMapPlainOnly(t *testing.T) {
	segmap := BuildSegmentMap(NewSet(1, 20000), nil)
	if len(segmap) != 2 {
		t.Fatalf("segment map = %v", segmap)
	}
	for _, id := range []uint16{1, 20000} {
		if groups, found := segmap[id]; !found || groups != nil {
			t.Errorf("entry %d = %v, %t; want nil entry", id, groups, found)
		}
	}
}
