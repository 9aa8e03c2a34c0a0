package labels

import (
	"fmt"
)

// GroupMap relates an overlap-group id to the set of member instances it
// stands for.  It starts from the declared groups and grows as the merge
// engine synthesizes ids for newly seen overlaps.
type GroupMap map[uint16]Set

// Members returns the member set an id stands for: its group members if it
// is a group, else the singleton of itself.
func (g GroupMap) Members(id uint16) Set {
	if members, found := g[id]; found {
		return members
	}
	return NewSet(id)
}

// ReverseMap memoizes which id was written for a given member set, so the
// same overlap seen twice maps to the same id.
type ReverseMap map[GroupKey]uint16

// Get looks up the id previously written for a member set.
func (r ReverseMap) Get(key GroupKey) (uint16, bool) {
	id, found := r[key]
	return id, found
}

// Put records the id written for a member set, displacing any earlier
// binding for the same set.
func (r ReverseMap) Put(key GroupKey, id uint16) {
	r[key] = id
}

// BuildMaps inverts a declared instance→groups table into the group
// membership map and seeds the member-set memo with every declared
// instance's singleton and every declared group's member set.  The
// returned set holds every id the declaration mentions, instances and
// groups both.  An id used as both an instance and a group is a
// declaration error.
func BuildMaps(declared map[uint16][]uint16) (GroupMap, Set, ReverseMap, error) {
	groups := make(GroupMap)
	mapInstances := make(Set, len(declared))
	reverse := make(ReverseMap, len(declared))

	for id, memberOf := range declared {
		mapInstances.Add(id)
		reverse.Put(SingletonKey(id), id)
		for _, group := range memberOf {
			mapInstances.Add(group)
			if _, found := groups[group]; !found {
				groups[group] = make(Set)
			}
			groups[group].Add(id)
		}
	}

	if len(groups) > 0 {
		common := make(Set)
		for id := range declared {
			if _, found := groups[id]; found {
				common.Add(id)
			}
		}
		if len(common) > 0 {
			return nil, nil, nil, fmt.Errorf("found common instance and group ids: %s", common)
		}
		for group, members := range groups {
			reverse.Put(members.Key(), group)
		}
	}
	return groups, mapInstances, reverse, nil
}

// SegmentMap is the declaration produced after a merge: every voxel
// instance in the written volume maps to the sorted group ids it belongs
// to, or nil when it stands alone.  Group ids themselves are not keys.
type SegmentMap map[uint16][]uint16

// BuildSegmentMap projects the final voxel instances through the group
// membership table.
func BuildSegmentMap(final Set, groups GroupMap) SegmentMap {
	segmap := make(SegmentMap, len(final))
	for _, instance := range final.Sorted() {
		if members, found := groups[instance]; found {
			for _, member := range members.Sorted() {
				segmap[member] = append(segmap[member], instance)
			}
		} else if _, found := segmap[instance]; !found {
			segmap[instance] = nil
		}
	}
	return segmap
}
