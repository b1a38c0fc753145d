package model

import (
	"slices"
	"strings"
)

// DataType is the semantic type of a table column or nested member.
type DataType string

const (
	TypeString   DataType = "STRING"
	TypeNumber   DataType = "NUMBER"
	TypeBool     DataType = "BOOL"
	TypeDatetime DataType = "DATETIME"
	TypeMap      DataType = "MAP"
	TypeStruct   DataType = "STRUCT"
	TypeArray    DataType = "ARRAY"
)

// AccessKind says how one step of a field's access chain is reached.
type AccessKind int

const (
	AccessColumn AccessKind = iota
	AccessMember
	AccessMapKey
)

// Accessor is one step from the table row down to a field.
type Accessor struct {
	Name string
	Kind AccessKind
}

// Field describes a column, a struct member or a map key.
//
// The parent relation is kept as the Access chain rather than a pointer, so a
// Field stays valid after the snapshot that produced it is replaced.
type Field struct {
	Name      string
	Type      DataType
	ValueType DataType // element type of MAP and ARRAY fields
	Fields    []Field  // STRUCT members, in declaration order
	Access    []Accessor
}

// Column binds a parsed type shape to a top-level column name. Struct members
// of the shape get their access chains bound as well.
func Column(name string, shape Field) Field {
	shape.Name = name
	return shape.bind(nil)
}

func (f Field) bind(parent []Accessor) Field {
	kind := AccessMember
	if len(parent) == 0 {
		kind = AccessColumn
	}
	f.Access = append(slices.Clone(parent), Accessor{Name: f.Name, Kind: kind})
	if len(f.Fields) > 0 {
		children := make([]Field, len(f.Fields))
		for i, child := range f.Fields {
			children[i] = child.bind(f.Access)
		}
		f.Fields = children
	}
	return f
}

// MapKey returns the synthetic sub-field addressing one key of a MAP field.
func (f Field) MapKey(key string) Field {
	valueType := f.ValueType
	if valueType == "" {
		valueType = TypeString
	}
	return Field{
		Name:   key,
		Type:   valueType,
		Access: append(slices.Clone(f.Access), Accessor{Name: key, Kind: AccessMapKey}),
	}
}

// Path is the dotted path of the field from its table column.
func (f Field) Path() string {
	if len(f.Access) == 0 {
		return f.Name
	}
	parts := make([]string, len(f.Access))
	for i, a := range f.Access {
		parts[i] = a.Name
	}
	return strings.Join(parts, ".")
}

// ColumnName is the top-level column the field lives in.
func (f Field) ColumnName() string {
	if len(f.Access) == 0 {
		return f.Name
	}
	return f.Access[0].Name
}

// IsLeaf reports whether the field can carry values of its own.
func (f Field) IsLeaf() bool {
	return f.Type != TypeStruct
}

// Enumerable reports whether distinct values of the field are worth sampling.
func (f Field) Enumerable() bool {
	switch f.Type {
	case TypeString, TypeNumber, TypeBool:
		return true
	}
	return false
}

// Leaves flattens struct members into their leaf fields.
func (f Field) Leaves() []Field {
	if f.IsLeaf() {
		return []Field{f}
	}
	var out []Field
	for _, child := range f.Fields {
		out = append(out, child.Leaves()...)
	}
	return out
}

// Equal compares fields by path and type.
func (f Field) Equal(other Field) bool {
	return f.Path() == other.Path() && f.Type == other.Type
}
