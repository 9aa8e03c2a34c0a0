package taxonomy

import (
	"encoding/json"
	"testing"
)

func TestRefJSON(t *testing.T) {
	cases := []struct {
		in   string
		leaf string
		kind RefKind
	}{
		{`"Tumor"`, "Tumor", RefName},
		{`["Anatomy", "Chest", "Lung"]`, "Lung", RefPath},
		{`7`, "", RefClassID},
		{`[["Anatomy", "Chest", "Lung"]]`, "Lung", RefPath}, // legacy nesting
	}
	for _, c := range cases {
		var r Ref
		if err := json.Unmarshal([]byte(c.in), &r); err != nil {
			t.Fatalf("unmarshal %s: %v", c.in, err)
		}
		if r.Kind() != c.kind {
			t.Errorf("%s parsed as kind %d, want %d", c.in, r.Kind(), c.kind)
		}
		if r.Leaf() != c.leaf {
			t.Errorf("%s leaf = %q, want %q", c.in, r.Leaf(), c.leaf)
		}
	}

	if _, isClass := ClassIDRef(7).ClassID(); !isClass {
		t.Errorf("class-id ref lost its id")
	}

	// Wire forms survive a round trip (except legacy nesting, which
	// normalizes to a plain path).
	for _, r := range []Ref{NameRef("Tumor"), PathRef([]string{"a", "b"}), ClassIDRef(3)} {
		b, err := json.Marshal(r)
		if err != nil {
			t.Fatalf("marshal %v: %v", r, err)
		}
		var back Ref
		if err := json.Unmarshal(b, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if back.Kind() != r.Kind() || back.Leaf() != r.Leaf() {
			t.Errorf("round trip changed %v to %v", r, back)
		}
	}

	var bad Ref
	if err := json.Unmarshal([]byte(`{"x":1}`), &bad); err == nil {
		t.Errorf("object should not parse as a category reference")
	}
}

func TestRefDisplayName(t *testing.T) {
	if got := NameRef("Tumor").DisplayName(); got != "Tumor" {
		t.Errorf("name display = %q", got)
	}
	if got := PathRef([]string{"root", "Chest", "Lung"}).DisplayName(); got != "Chest::Lung" {
		t.Errorf("path display = %q, want Chest::Lung", got)
	}
	if got := PathRef([]string{"root"}).DisplayName(); got != "" {
		t.Errorf("single-element path display = %q, want empty", got)
	}
}

func TestBindingJSON(t *testing.T) {
	in := `{"instanceid": 5, "groupids": [7, 9], "classid": 2, "category": "Tumor", "volumeindex": 1}`
	var b Binding
	if err := json.Unmarshal([]byte(in), &b); err != nil {
		t.Fatalf("unmarshal binding: %v", err)
	}
	if b.Instance != 5 || len(b.Groups) != 2 || b.ClassID != 2 {
		t.Errorf("binding fields wrong: %+v", b)
	}
	if b.Category.Leaf() != "Tumor" {
		t.Errorf("binding category = %q", b.Category.Leaf())
	}
	if b.VolumeIndex == nil || *b.VolumeIndex != 1 {
		t.Errorf("volume index = %v", b.VolumeIndex)
	}

	var noVol Binding
	if err := json.Unmarshal([]byte(`{"instanceid": 1, "classid": 0, "category": 4}`), &noVol); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if noVol.VolumeIndex != nil {
		t.Errorf("absent volume index should stay nil")
	}
}

const testTable = `{
    "name": "chest-ct",
    "isNew": true,
    "objectTypes": [
        {"category": "Lung", "classId": 0, "labelType": "SEGMENTATION", "color": "#ff0000"},
        {"category": "Heart", "classId": 1, "labelType": "SEGMENTATION",
         "parents": ["Anatomy", "Chest"]},
        {"category": "Tumor", "classId": 2, "labelType": "SEGMENTATION", "color": "#0f0"}
    ]
}`

func TestTableLookup(t *testing.T) {
	table, err := Parse([]byte(testTable))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !table.V2 {
		t.Errorf("table should be second generation")
	}
	if obj, found := table.ByName("Heart"); !found || obj.ClassID != 1 {
		t.Errorf("ByName(Heart) = %+v, %t", obj, found)
	}
	if obj, found := table.ByClassID(2); !found || obj.Category != "Tumor" {
		t.Errorf("ByClassID(2) = %+v, %t", obj, found)
	}
	if _, found := table.ByName("Spine"); found {
		t.Errorf("found an object that is not in the table")
	}

	if obj, found := table.Resolve(NameRef("Lung")); !found || obj.ClassID != 0 {
		t.Errorf("resolve by name failed: %+v, %t", obj, found)
	}
	if obj, found := table.Resolve(PathRef([]string{"Anatomy", "Chest", "Heart"})); !found || obj.ClassID != 1 {
		t.Errorf("resolve by path failed: %+v, %t", obj, found)
	}
	if obj, found := table.Resolve(ClassIDRef(2)); !found || obj.Category != "Tumor" {
		t.Errorf("resolve by class id failed: %+v, %t", obj, found)
	}
}

func TestTableSchemaRejects(t *testing.T) {
	bad := `{
        "name": "broken",
        "isNew": true,
        "objectTypes": [{"category": "Lung", "labelType": "SEGMENTATION"}]
    }`
	if _, err := Parse([]byte(bad)); err == nil {
		t.Errorf("object type without classId should fail schema validation")
	}

	badType := `{
        "name": "broken",
        "isNew": true,
        "objectTypes": [{"category": "Lung", "classId": 0, "labelType": "VOLUME"}]
    }`
	if _, err := Parse([]byte(badType)); err == nil {
		t.Errorf("unknown labelType should fail schema validation")
	}
}

func TestColors(t *testing.T) {
	if c, err := ParseHexColor("#ff8000"); err != nil || c != (Color{255, 128, 0}) {
		t.Errorf("ParseHexColor(#ff8000) = %v, %v", c, err)
	}
	if c, err := ParseHexColor("0f0"); err != nil || c != (Color{0, 255, 0}) {
		t.Errorf("shorthand without hash = %v, %v", c, err)
	}
	if _, err := ParseHexColor("#zzzzzz"); err == nil {
		t.Errorf("garbage hex should fail")
	}
	if _, err := ParseHexColor("#ffff"); err == nil {
		t.Errorf("4-digit hex should fail")
	}

	// Derived colors are a fixed function of the class id.
	golden := map[int]Color{
		0:  {80, 28, 192},
		1:  {91, 174, 163},
		5:  {150, 32, 153},
		42: {166, 103, 183},
	}
	for id, want := range golden {
		if got := DeriveColor(id); got != want {
			t.Errorf("DeriveColor(%d) = %v, want %v", id, got, want)
		}
	}

	if c, err := ColorFor("#123456", 5); err != nil || c != (Color{0x12, 0x34, 0x56}) {
		t.Errorf("ColorFor should prefer the assigned hex: %v, %v", c, err)
	}
	if c, err := ColorFor("", 5); err != nil || c != DeriveColor(5) {
		t.Errorf("ColorFor without hex should derive: %v, %v", c, err)
	}
}

func TestColorTable(t *testing.T) {
	table, err := Parse([]byte(testTable))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	ct, err := table.Colors()
	if err != nil {
		t.Fatalf("colors: %v", err)
	}
	if ct.ClassColor(0) != (Color{255, 0, 0}) {
		t.Errorf("Lung color = %v", ct.ClassColor(0))
	}
	if ct.ClassColor(2) != (Color{0, 255, 0}) {
		t.Errorf("Tumor shorthand color = %v", ct.ClassColor(2))
	}
	if ct.ClassColor(1) != DeriveColor(1) {
		t.Errorf("Heart should use the derived color")
	}
	if ct.NameColor("Lung") != (Color{255, 0, 0}) {
		t.Errorf("name-keyed color = %v", ct.NameColor("Lung"))
	}
	if ct.ClassColor(99) != White || ct.NameColor("none") != White {
		t.Errorf("missing entries should fall back to white")
	}
}
