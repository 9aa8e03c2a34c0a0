package taxonomy

import (
	"fmt"
	"strconv"
	"strings"
)

// Color is an RGB triple.  It marshals as a 3-element JSON array.
type Color [3]uint8

// Hex renders the color as "#rrggbb".
func (c Color) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

// ParseHexColor parses "#rgb" or "#rrggbb", with or without the hash.
func ParseHexColor(s string) (Color, error) {
	h := strings.TrimPrefix(s, "#")
	if len(h) == 3 {
		h = string([]byte{h[0], h[0], h[1], h[1], h[2], h[2]})
	}
	if len(h) != 6 {
		return Color{}, fmt.Errorf("bad hex color %q", s)
	}
	var c Color
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseUint(h[2*i:2*i+2], 16, 8)
		if err != nil {
			return Color{}, fmt.Errorf("bad hex color %q: %v", s, err)
		}
		c[i] = uint8(v)
	}
	return c, nil
}

// DeriveColor mixes a class id into a stable RGB so categories without an
// assigned color still render consistently everywhere.
func DeriveColor(classID int) Color {
	num := 374761397 + uint32(classID)*3266489917
	num = (num ^ num>>15) * 2246822519
	num = (num ^ num>>13) * 3266489917
	num = (num ^ num>>16) >> 8
	return Color{uint8(num >> 16), uint8(num >> 8), uint8(num)}
}

// ColorFor returns the assigned hex color when one is set, otherwise the
// derived color for the class id.
func ColorFor(hexCode string, classID int) (Color, error) {
	if hexCode != "" {
		return ParseHexColor(hexCode)
	}
	return DeriveColor(classID), nil
}

// ColorTable resolves display colors by class id (second-generation
// taxonomies) or by category name (legacy).
type ColorTable struct {
	ByClass map[int]Color
	ByName  map[string]Color
}

// White is the fallback for ids and names with no table entry.
var White = Color{255, 255, 255}

// ClassColor returns the color for a class id, falling back to white.
func (ct ColorTable) ClassColor(classID int) Color {
	if c, found := ct.ByClass[classID]; found {
		return c
	}
	return White
}

// NameColor returns the color for a category name, falling back to white.
func (ct ColorTable) NameColor(name string) Color {
	if c, found := ct.ByName[name]; found {
		return c
	}
	return White
}
