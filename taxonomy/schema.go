package taxonomy

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// tableSchema mirrors the required-field rules tables have always been
// checked against: every object type needs a category, classId, and
// labelType; every attribute needs a name, attrType, and attrId.
const tableSchema = `
{
    "$schema": "https://json-schema.org/draft/2020-12/schema",
    "type": "object",
    "properties": {
        "name": {"type": "string"},
        "isNew": {"type": "boolean"},
        "objectTypes": {
            "type": "array",
            "items": {
                "type": "object",
                "properties": {
                    "category": {"type": "string"},
                    "classId": {"type": "integer", "minimum": 0},
                    "labelType": {
                        "type": "string",
                        "enum": ["BBOX", "CUBOID", "POINT", "POLYLINE", "POLYGON",
                                 "ELLIPSE", "SEGMENTATION", "LENGTH", "ANGLE"]
                    },
                    "attributes": {
                        "type": ["array", "null"],
                        "items": {"$ref": "#/$defs/attribute"}
                    },
                    "color": {"type": "string"},
                    "archived": {"type": "boolean"},
                    "parents": {
                        "type": ["array", "null"],
                        "items": {"type": "string"}
                    },
                    "hint": {"type": ["string", "null"]}
                },
                "required": ["category", "classId", "labelType"]
            }
        }
    },
    "$defs": {
        "attribute": {
            "type": "object",
            "properties": {
                "name": {"type": "string"},
                "attrType": {
                    "type": "string",
                    "enum": ["BOOL", "TEXT", "SELECT", "MULTISELECT"]
                },
                "attrId": {"type": "integer"},
                "archived": {"type": "boolean"}
            },
            "required": ["name", "attrType", "attrId"]
        }
    }
}`

var compiledTableSchema = jsonschema.MustCompileString("taxonomy.json", tableSchema)

// validateSchema checks raw taxonomy JSON against the embedded schema.
func validateSchema(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return compiledTableSchema.Validate(v)
}
