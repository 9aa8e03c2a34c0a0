/*
	Package taxonomy models the category schema that label volumes are
	annotated against: object types with class ids and colors, the bindings
	tying voxel instances to those objects, and the loosely-typed category
	references bindings carry on the wire.
*/
package taxonomy

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// RefKind discriminates the wire forms a category reference takes.
type RefKind uint8

const (
	RefName    RefKind = iota // bare category name
	RefPath                   // nested path, root first
	RefClassID                // numeric class id
)

// Ref points at a taxonomy object by name, nested path, or class id.  The
// zero value is an empty name reference.
type Ref struct {
	kind    RefKind
	name    string
	path    []string
	classID int
}

func NameRef(name string) Ref {
	return Ref{kind: RefName, name: name}
}

func PathRef(path []string) Ref {
	return Ref{kind: RefPath, path: append([]string(nil), path...)}
}

func ClassIDRef(id int) Ref {
	return Ref{kind: RefClassID, classID: id}
}

func (r Ref) Kind() RefKind { return r.kind }

// ClassID returns the numeric id for class-id references.
func (r Ref) ClassID() (int, bool) {
	return r.classID, r.kind == RefClassID
}

// Leaf returns the name a reference resolves against: the name itself, or
// the last element of a path.  Class-id references have no leaf.
func (r Ref) Leaf() string {
	switch r.kind {
	case RefName:
		return r.name
	case RefPath:
		if len(r.path) == 0 {
			return ""
		}
		return r.path[len(r.path)-1]
	}
	return ""
}

// DisplayName renders the reference the way pictures and exports title it:
// path references drop their root element and join with "::".
func (r Ref) DisplayName() string {
	if r.kind == RefPath {
		if len(r.path) < 2 {
			return ""
		}
		return strings.Join(r.path[1:], "::")
	}
	return r.Leaf()
}

func (r Ref) String() string {
	switch r.kind {
	case RefPath:
		return strings.Join(r.path, "/")
	case RefClassID:
		return fmt.Sprintf("classId %d", r.classID)
	}
	return r.name
}

// MarshalJSON writes the reference in its natural wire form: a string, an
// array of strings, or a number.
func (r Ref) MarshalJSON() ([]byte, error) {
	switch r.kind {
	case RefPath:
		return json.Marshal(r.path)
	case RefClassID:
		return json.Marshal(r.classID)
	}
	return json.Marshal(r.name)
}

// UnmarshalJSON accepts any of the wire forms.  Legacy producers wrap the
// path in an extra array level; the first path is taken.
func (r *Ref) UnmarshalJSON(b []byte) error {
	var id int
	if err := json.Unmarshal(b, &id); err == nil {
		*r = ClassIDRef(id)
		return nil
	}
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		*r = NameRef(name)
		return nil
	}
	var path []string
	if err := json.Unmarshal(b, &path); err == nil {
		*r = PathRef(path)
		return nil
	}
	var paths [][]string
	if err := json.Unmarshal(b, &paths); err == nil && len(paths) > 0 {
		*r = PathRef(paths[0])
		return nil
	}
	return fmt.Errorf("category reference %s is not a name, path, or class id", b)
}

// Binding ties one voxel instance to a taxonomy object.  Groups lists the
// overlap-group ids the instance belongs to.  VolumeIndex narrows a binding
// to one volume of a multi-volume series; nil applies everywhere.
type Binding struct {
	Instance    uint16   `json:"instanceid"`
	Groups      []uint16 `json:"groupids,omitempty"`
	ClassID     int      `json:"classid"`
	Category    Ref      `json:"category"`
	VolumeIndex *int     `json:"volumeindex,omitempty"`
}

// Object is one taxonomy entry.
type Object struct {
	Category  string   `json:"category"`
	ClassID   int      `json:"classId"`
	LabelType string   `json:"labelType"`
	Color     string   `json:"color,omitempty"`
	Archived  bool     `json:"archived,omitempty"`
	Parents   []string `json:"parents,omitempty"`
}

// Table is a loaded taxonomy.  Only the second-generation schema carries
// object types; V2 is false for legacy tables, which the converters reject.
type Table struct {
	Name    string   `json:"name"`
	V2      bool     `json:"isNew"`
	Objects []Object `json:"objectTypes"`

	byName  map[string]int
	byClass map[int]int
}

// Parse validates raw taxonomy JSON against the embedded schema and
// indexes it for lookup.
func Parse(data []byte) (*Table, error) {
	if err := validateSchema(data); err != nil {
		return nil, fmt.Errorf("taxonomy does not match schema: %v", err)
	}
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	t.index()
	return &t, nil
}

// Load reads and parses a taxonomy JSON file.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return t, nil
}

func (t *Table) index() {
	t.byName = make(map[string]int, len(t.Objects))
	t.byClass = make(map[int]int, len(t.Objects))
	for i, obj := range t.Objects {
		if _, found := t.byName[obj.Category]; !found {
			t.byName[obj.Category] = i
		}
		if _, found := t.byClass[obj.ClassID]; !found {
			t.byClass[obj.ClassID] = i
		}
	}
}

// ByName looks up an object by its category name.
func (t *Table) ByName(name string) (Object, bool) {
	if i, found := t.byName[name]; found {
		return t.Objects[i], true
	}
	return Object{}, false
}

// ByClassID looks up an object by class id.
func (t *Table) ByClassID(id int) (Object, bool) {
	if i, found := t.byClass[id]; found {
		return t.Objects[i], true
	}
	return Object{}, false
}

// Resolve finds the object a reference points at: class-id references by
// id, everything else by leaf name.
func (t *Table) Resolve(ref Ref) (Object, bool) {
	if id, isClass := ref.ClassID(); isClass {
		return t.ByClassID(id)
	}
	return t.ByName(ref.Leaf())
}

// Colors derives the display color table: class-id keyed and name keyed.
func (t *Table) Colors() (ColorTable, error) {
	ct := ColorTable{
		ByClass: make(map[int]Color, len(t.Objects)),
		ByName:  make(map[string]Color, len(t.Objects)),
	}
	for _, obj := range t.Objects {
		c, err := ColorFor(obj.Color, obj.ClassID)
		if err != nil {
			return ColorTable{}, fmt.Errorf("object %q: %v", obj.Category, err)
		}
		ct.ByClass[obj.ClassID] = c
		ct.ByName[obj.Category] = c
	}
	return ct, nil
}
