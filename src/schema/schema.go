package schema

import (
	"fmt"
	"math"
	"strings"
)

// NotVersioned is the schema version of a file that has never had a schema
// written to it.
const NotVersioned uint64 = math.MaxUint64

// MaxVersion is the largest schema version a file can store.
const MaxVersion uint64 = math.MaxInt64

// PropertyType is the storage type of a property / column.
type PropertyType int

const (
	Int PropertyType = iota
	Bool
	Float
	Double
	String
	Data
	Date
)

func (t PropertyType) String() string {
	switch t {
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Float:
		return "float"
	case Double:
		return "double"
	case String:
		return "string"
	case Data:
		return "data"
	case Date:
		return "date"
	}
	return fmt.Sprintf("PropertyType(%d)", int(t))
}

// Property describes one persisted field of an object type.
type Property struct {
	Name     string
	Type     PropertyType
	Optional bool
	Indexed  bool

	// Default is used to fill the column for existing objects when the
	// property is added. Nil means the type's zero value (or nil when Optional).
	Default interface{}

	// Column is the storage column index assigned by Align. -1 until aligned.
	Column int
}

// NewProperty returns an unaligned property.
func NewProperty(name string, t PropertyType) *Property {
	return &Property{Name: name, Type: t, Column: -1}
}

// Clone returns a copy of the property, including its column assignment.
func (p *Property) Clone() *Property {
	c := *p
	return &c
}

// DefaultValue returns the value stored for existing objects when the
// property is added to a populated table.
func (p *Property) DefaultValue() interface{} {
	if p.Default != nil {
		if v, err := Coerce(p, p.Default); err == nil {
			return v
		}
	}
	if p.Optional {
		return nil
	}
	return ZeroValue(p.Type)
}

// Column is the engine's description of a stored column.
type Column struct {
	Name     string
	Type     PropertyType
	Optional bool
	Indexed  bool
}

// AsColumn returns the column a property is stored in.
func (p *Property) AsColumn() Column {
	return Column{Name: p.Name, Type: p.Type, Optional: p.Optional, Indexed: p.Indexed}
}

// ObjectSchema is the ordered set of properties of one object type.
type ObjectSchema struct {
	ClassName  string
	Properties []*Property
}

// NewObjectSchema builds an object schema from its properties.
func NewObjectSchema(className string, props ...*Property) *ObjectSchema {
	return &ObjectSchema{ClassName: className, Properties: props}
}

// Property returns the property with the given name, or nil.
func (o *ObjectSchema) Property(name string) *Property {
	for _, p := range o.Properties {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func (o *ObjectSchema) Clone() *ObjectSchema {
	c := &ObjectSchema{ClassName: o.ClassName, Properties: make([]*Property, len(o.Properties))}
	for i, p := range o.Properties {
		c.Properties[i] = p.Clone()
	}
	return c
}

// Columns returns the storage layout the object schema asks for, in
// property order.
func (o *ObjectSchema) Columns() []Column {
	cols := make([]Column, len(o.Properties))
	for i, p := range o.Properties {
		cols[i] = p.AsColumn()
	}
	return cols
}

// Validate checks for empty or duplicate names.
func (o *ObjectSchema) Validate() error {
	if o.ClassName == "" {
		return fmt.Errorf("object schema has no class name")
	}
	seen := make(map[string]bool, len(o.Properties))
	for _, p := range o.Properties {
		if p.Name == "" {
			return fmt.Errorf("class %s has a property with no name", o.ClassName)
		}
		if seen[p.Name] {
			return fmt.Errorf("class %s declares property %s more than once", o.ClassName, p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}

// FromColumns derives an object schema from what is stored on disk. The
// result is already aligned.
func FromColumns(className string, cols []Column) *ObjectSchema {
	o := &ObjectSchema{ClassName: className, Properties: make([]*Property, len(cols))}
	for i, c := range cols {
		o.Properties[i] = &Property{
			Name:     c.Name,
			Type:     c.Type,
			Optional: c.Optional,
			Indexed:  c.Indexed,
			Column:   i,
		}
	}
	return o
}

// Schema is an ordered set of object schemas.
type Schema struct {
	objects []*ObjectSchema
}

func New(objects ...*ObjectSchema) *Schema {
	return &Schema{objects: objects}
}

// Objects returns the object schemas in declaration order.
func (s *Schema) Objects() []*ObjectSchema {
	if s == nil {
		return nil
	}
	return s.objects
}

// Object returns the object schema for className, or nil.
func (s *Schema) Object(className string) *ObjectSchema {
	if s == nil {
		return nil
	}
	for _, o := range s.objects {
		if o.ClassName == className {
			return o
		}
	}
	return nil
}

func (s *Schema) Clone() *Schema {
	if s == nil {
		return nil
	}
	c := &Schema{objects: make([]*ObjectSchema, len(s.objects))}
	for i, o := range s.objects {
		c.objects[i] = o.Clone()
	}
	return c
}

func (s *Schema) Validate() error {
	seen := make(map[string]bool)
	for _, o := range s.Objects() {
		if err := o.Validate(); err != nil {
			return err
		}
		if seen[o.ClassName] {
			return fmt.Errorf("class %s is declared more than once", o.ClassName)
		}
		seen[o.ClassName] = true
	}
	return nil
}

func (s *Schema) String() string {
	var sb strings.Builder
	for _, o := range s.Objects() {
		sb.WriteString(o.ClassName)
		sb.WriteString(" {")
		for i, p := range o.Properties {
			if i > 0 {
				sb.WriteString(",")
			}
			fmt.Fprintf(&sb, " %s:%s", p.Name, p.Type)
			if p.Optional {
				sb.WriteString("?")
			}
		}
		sb.WriteString(" }\n")
	}
	return sb.String()
}
