package voxel

import (
	"bytes"
	"testing"
)

func TestSerializeData(t *testing.T) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 11) // repetitive enough to compress
	}

	for _, compression := range []Compression{Uncompressed, Snappy, LZ4} {
		for _, checksum := range []Checksum{NoChecksum, CRC32} {
			s, err := SerializeData(data, compression, checksum)
			if err != nil {
				t.Fatalf("serialize (%s, %s): %v", compression, checksum, err)
			}
			if len(s) == 0 {
				t.Fatalf("serialize (%s, %s) produced no bytes", compression, checksum)
			}
			out, _, err := DeserializeData(s, true)
			if err != nil {
				t.Fatalf("deserialize (%s, %s): %v", compression, checksum, err)
			}
			if !bytes.Equal(out, data) {
				t.Errorf("round trip (%s, %s) corrupted data", compression, checksum)
			}

			if checksum == CRC32 {
				s[len(s)-1] ^= 0x04 // flip a payload bit
				if _, _, err := DeserializeData(s, true); err == nil {
					t.Errorf("(%s, %s): corrupted payload passed checksum", compression, checksum)
				}
			}
		}
	}
}

func TestSerializeObject(t *testing.T) {
	type record struct {
		Name    string
		Mapping map[uint16][]uint16
	}
	obj := record{
		Name: "merge journal entry",
		Mapping: map[uint16][]uint16{
			1:     {3, 4},
			20000: {5},
		},
	}

	s, err := Serialize(obj, Snappy, CRC32)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	var got record
	if err := Deserialize(s, &got); err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if got.Name != obj.Name || len(got.Mapping) != len(obj.Mapping) {
		t.Errorf("round trip mismatch: %+v vs %+v", got, obj)
	}
	for k, v := range obj.Mapping {
		gv, ok := got.Mapping[k]
		if !ok || len(gv) != len(v) {
			t.Errorf("key %d: got %v, want %v", k, gv, v)
			continue
		}
		for i := range v {
			if gv[i] != v[i] {
				t.Errorf("key %d element %d: got %d, want %d", k, i, gv[i], v[i])
			}
		}
	}
}

// Incompressible LZ4 blocks must downgrade to raw storage and still
// deserialize.
func TestIncompressibleLZ4(t *testing.T) {
	data := []byte{0xde, 0xad, 0xbe, 0xef, 0x01, 0x9c, 0x44, 0x17}
	s, err := SerializeData(data, LZ4, NoChecksum)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	out, compress, err := DeserializeData(s, true)
	if err != nil {
		t.Fatalf("deserialize: %v", err)
	}
	if compress != Uncompressed {
		t.Errorf("tiny block should be stored raw, format says %s", compress)
	}
	if !bytes.Equal(out, data) {
		t.Errorf("round trip corrupted data: %v vs %v", out, data)
	}
}
