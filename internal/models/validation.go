package models

// FieldValidation is one node of an endpoint's validation tree. A node
// either constrains a scalar (type/min/max/pattern/enum/format) or
// recurses: NestedSchema for object children, ArrayItems for every
// element of an array.
type FieldValidation struct {
	Required        bool                        `json:"required"`
	Type            string                      `json:"type"`
	Min             *float64                    `json:"min,omitempty"`
	Max             *float64                    `json:"max,omitempty"`
	Pattern         string                      `json:"pattern,omitempty"`
	Enum            []interface{}               `json:"enum,omitempty"`
	Format          string                      `json:"format,omitempty"`
	CustomValidator string                      `json:"custom_validator,omitempty"`
	NestedSchema    map[string]*FieldValidation `json:"nested_schema,omitempty"`
	ArrayItems      *FieldValidation            `json:"array_items,omitempty"`
}

// ValidationSchema maps field paths ("user.age", "items[0].price") to
// their validation nodes. It is attached per endpoint and cached by
// endpoint id.
type ValidationSchema struct {
	EndpointID        string                      `json:"endpoint_id"`
	ValidationEnabled bool                        `json:"validation_enabled"`
	Schema            map[string]*FieldValidation `json:"validation_schema"`
}

// Field type names accepted by the validation engine.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)
