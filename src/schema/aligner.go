package schema

import (
	"fmt"
	"sort"
)

// Align assigns each property of o the index of the stored column of the
// same name and reorders the properties into column order. It fails when the
// object schema and the stored columns do not describe the same layout.
func Align(o *ObjectSchema, cols []Column) error {
	if len(o.Properties) != len(cols) {
		return fmt.Errorf("class %s has %d properties but %d stored columns",
			o.ClassName, len(o.Properties), len(cols))
	}

	byName := make(map[string]int, len(cols))
	for i, c := range cols {
		byName[c.Name] = i
	}

	used := make(map[int]string, len(cols))
	for _, p := range o.Properties {
		idx, ok := byName[p.Name]
		if !ok {
			return fmt.Errorf("class %s: property %s has no stored column", o.ClassName, p.Name)
		}
		if cols[idx].Type != p.Type {
			return fmt.Errorf("class %s: property %s is %s but stored column is %s",
				o.ClassName, p.Name, p.Type, cols[idx].Type)
		}
		if other, dup := used[idx]; dup {
			return fmt.Errorf("class %s: properties %s and %s both map to column %d",
				o.ClassName, other, p.Name, idx)
		}
		used[idx] = p.Name
		p.Column = idx
	}

	sort.SliceStable(o.Properties, func(i, j int) bool {
		return o.Properties[i].Column < o.Properties[j].Column
	})
	return nil
}

// AlignSchema aligns every object schema in s. layout returns the stored
// columns of a class and whether the class is stored at all.
func AlignSchema(s *Schema, layout func(className string) ([]Column, bool)) error {
	for _, o := range s.Objects() {
		cols, ok := layout(o.ClassName)
		if !ok {
			return fmt.Errorf("class %s is not stored", o.ClassName)
		}
		if err := Align(o, cols); err != nil {
			return err
		}
	}
	return nil
}

// ChangeKind classifies a difference between a target object schema and the
// stored columns.
type ChangeKind int

const (
	AddColumn ChangeKind = iota
	RemoveColumn
	ChangeColumnType
)

func (k ChangeKind) String() string {
	switch k {
	case AddColumn:
		return "add column"
	case RemoveColumn:
		return "remove column"
	case ChangeColumnType:
		return "change column type"
	}
	return fmt.Sprintf("ChangeKind(%d)", int(k))
}

// Change is one column-level difference.
type Change struct {
	Kind     ChangeKind
	Column   string
	Property *Property // nil for RemoveColumn
}

// Additive reports whether a change can be applied without a migration.
func (c Change) Additive() bool {
	return c.Kind == AddColumn
}

// Compare lists the changes needed to turn the stored columns into the layout
// o describes. Removals come first, in stored order, then changes and
// additions in property order.
func Compare(o *ObjectSchema, stored []Column) []Change {
	var changes []Change

	wanted := make(map[string]*Property, len(o.Properties))
	for _, p := range o.Properties {
		wanted[p.Name] = p
	}
	have := make(map[string]Column, len(stored))
	for _, c := range stored {
		have[c.Name] = c
		if _, ok := wanted[c.Name]; !ok {
			changes = append(changes, Change{Kind: RemoveColumn, Column: c.Name})
		}
	}

	for _, p := range o.Properties {
		c, ok := have[p.Name]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: AddColumn, Column: p.Name, Property: p})
		case c.Type != p.Type || c.Optional != p.Optional:
			changes = append(changes, Change{Kind: ChangeColumnType, Column: p.Name, Property: p})
		}
	}
	return changes
}
