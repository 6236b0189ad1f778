package engine

import (
	"fmt"
	"strings"

	"realmdb/src/schema"
)

// TablePrefix is prepended to a class name to form its table name.
const TablePrefix = "class_"

func TableNameForClass(className string) string {
	return TablePrefix + className
}

// ClassForTableName returns the class stored in a table, if the table holds
// objects at all.
func ClassForTableName(tableName string) (string, bool) {
	return strings.CutPrefix(tableName, TablePrefix)
}

// Row is one stored object.
type Row struct {
	Key    int64
	Values []interface{}
}

// Table is an ordered set of rows sharing a column layout.
// Tables reachable from a published snapshot are never modified.
type Table struct {
	name    string
	columns []schema.Column
	rows    []Row
	nextKey int64
	index   map[int64]int // object key -> position in rows
}

func newTable(name string, cols []schema.Column) *Table {
	return &Table{
		name:    name,
		columns: append([]schema.Column(nil), cols...),
		index:   make(map[int64]int),
	}
}

func (t *Table) Name() string { return t.name }

// Columns returns a copy of the column layout.
func (t *Table) Columns() []schema.Column {
	return append([]schema.Column(nil), t.columns...)
}

// ColumnIndex returns the index of the named column, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.rows) }

// Keys returns the object keys in storage order.
func (t *Table) Keys() []int64 {
	keys := make([]int64, len(t.rows))
	for i, r := range t.rows {
		keys[i] = r.Key
	}
	return keys
}

// Get returns the row stored under key.
func (t *Table) Get(key int64) (Row, bool) {
	pos, ok := t.index[key]
	if !ok {
		return Row{}, false
	}
	return t.rows[pos], true
}

// Value returns one stored value.
func (t *Table) Value(key int64, col int) (interface{}, bool) {
	r, ok := t.Get(key)
	if !ok || col < 0 || col >= len(r.Values) {
		return nil, false
	}
	return r.Values[col], true
}

func (t *Table) clone() *Table {
	c := &Table{
		name:    t.name,
		columns: append([]schema.Column(nil), t.columns...),
		rows:    append([]Row(nil), t.rows...),
		nextKey: t.nextKey,
		index:   make(map[int64]int, len(t.index)),
	}
	for k, v := range t.index {
		c.index[k] = v
	}
	return c
}

func (t *Table) reindex() {
	t.index = make(map[int64]int, len(t.rows))
	for i, r := range t.rows {
		t.index[r.Key] = i
	}
}

// Group is a consistent view of every table in a file. A group is either a
// published snapshot (immutable, shared between connections) or the private
// working copy of one write transaction.
type Group struct {
	schemaVersion uint64
	tables        map[string]*Table
	order         []string
	writable      bool
	owned         map[string]bool // tables already copied into this write group
}

func newGroup() *Group {
	return &Group{
		schemaVersion: schema.NotVersioned,
		tables:        make(map[string]*Table),
	}
}

func (g *Group) SchemaVersion() uint64 { return g.schemaVersion }

// Writable reports whether g is the working copy of a write transaction.
func (g *Group) Writable() bool { return g.writable }

// TableNames returns table names in creation order.
func (g *Group) TableNames() []string {
	return append([]string(nil), g.order...)
}

// Table returns the named table or nil. The table must be treated as read-only.
func (g *Group) Table(name string) *Table {
	return g.tables[name]
}

// Classes returns the class name of every object table, in creation order.
func (g *Group) Classes() []string {
	var classes []string
	for _, name := range g.order {
		if class, ok := ClassForTableName(name); ok {
			classes = append(classes, class)
		}
	}
	return classes
}

// DynamicSchema derives the schema of what is stored in g.
func (g *Group) DynamicSchema() *schema.Schema {
	var objects []*schema.ObjectSchema
	for _, class := range g.Classes() {
		objects = append(objects, schema.FromColumns(class, g.tables[TableNameForClass(class)].columns))
	}
	return schema.New(objects...)
}

// beginWrite returns a writable copy of g sharing all tables until they are
// first modified.
func (g *Group) beginWrite() *Group {
	w := &Group{
		schemaVersion: g.schemaVersion,
		tables:        make(map[string]*Table, len(g.tables)),
		order:         append([]string(nil), g.order...),
		writable:      true,
		owned:         make(map[string]bool),
	}
	for name, t := range g.tables {
		w.tables[name] = t
	}
	return w
}

// seal turns a write group into a publishable snapshot.
func (g *Group) seal() *Group {
	g.writable = false
	g.owned = nil
	return g
}

func (g *Group) mutable(name string) (*Table, error) {
	if !g.writable {
		return nil, ErrNotInWriteTransaction
	}
	t, ok := g.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchTable, name)
	}
	if !g.owned[name] {
		t = t.clone()
		g.tables[name] = t
		g.owned[name] = true
	}
	return t, nil
}

func (g *Group) SetSchemaVersion(v uint64) error {
	if !g.writable {
		return ErrNotInWriteTransaction
	}
	g.schemaVersion = v
	return nil
}

// CreateTable adds an empty table.
func (g *Group) CreateTable(name string, cols []schema.Column) error {
	if !g.writable {
		return ErrNotInWriteTransaction
	}
	if _, exists := g.tables[name]; exists {
		return fmt.Errorf("table %s already exists", name)
	}
	g.tables[name] = newTable(name, cols)
	g.order = append(g.order, name)
	g.owned[name] = true
	return nil
}

// AddColumn appends a column, storing fill in every existing row.
func (g *Group) AddColumn(table string, col schema.Column, fill interface{}) error {
	t, err := g.mutable(table)
	if err != nil {
		return err
	}
	if t.ColumnIndex(col.Name) >= 0 {
		return fmt.Errorf("table %s already has column %s", table, col.Name)
	}
	t.columns = append(t.columns, col)
	for i, r := range t.rows {
		values := make([]interface{}, len(r.Values), len(r.Values)+1)
		copy(values, r.Values)
		t.rows[i].Values = append(values, fill)
	}
	return nil
}

// RemoveColumn drops a column and its values.
func (g *Group) RemoveColumn(table, name string) error {
	t, err := g.mutable(table)
	if err != nil {
		return err
	}
	idx := t.ColumnIndex(name)
	if idx < 0 {
		return fmt.Errorf("%w: %s.%s", ErrNoSuchColumn, table, name)
	}
	t.columns = append(t.columns[:idx:idx], t.columns[idx+1:]...)
	for i, r := range t.rows {
		values := make([]interface{}, 0, len(r.Values)-1)
		values = append(values, r.Values[:idx]...)
		t.rows[i].Values = append(values, r.Values[idx+1:]...)
	}
	return nil
}

// ReplaceColumn changes a column's description in place, passing every stored
// value through convert.
func (g *Group) ReplaceColumn(table string, col schema.Column, convert func(interface{}) interface{}) error {
	t, err := g.mutable(table)
	if err != nil {
		return err
	}
	idx := t.ColumnIndex(col.Name)
	if idx < 0 {
		return fmt.Errorf("%w: %s.%s", ErrNoSuchColumn, table, col.Name)
	}
	t.columns[idx] = col
	for i, r := range t.rows {
		values := append([]interface{}(nil), r.Values...)
		values[idx] = convert(values[idx])
		t.rows[i].Values = values
	}
	return nil
}

// Insert appends a row and returns its object key.
func (g *Group) Insert(table string, values []interface{}) (int64, error) {
	t, err := g.mutable(table)
	if err != nil {
		return 0, err
	}
	if len(values) != len(t.columns) {
		return 0, fmt.Errorf("table %s has %d columns, got %d values", table, len(t.columns), len(values))
	}
	key := t.nextKey
	t.nextKey++
	t.rows = append(t.rows, Row{Key: key, Values: append([]interface{}(nil), values...)})
	t.index[key] = len(t.rows) - 1
	return key, nil
}

// Set stores one value.
func (g *Group) Set(table string, key int64, col int, v interface{}) error {
	t, err := g.mutable(table)
	if err != nil {
		return err
	}
	pos, ok := t.index[key]
	if !ok {
		return fmt.Errorf("%w: %s[%d]", ErrNoSuchObject, table, key)
	}
	if col < 0 || col >= len(t.columns) {
		return fmt.Errorf("%w: %s column %d", ErrNoSuchColumn, table, col)
	}
	values := append([]interface{}(nil), t.rows[pos].Values...)
	values[col] = v
	t.rows[pos].Values = values
	return nil
}

// Delete removes the row stored under key.
func (g *Group) Delete(table string, key int64) error {
	t, err := g.mutable(table)
	if err != nil {
		return err
	}
	pos, ok := t.index[key]
	if !ok {
		return fmt.Errorf("%w: %s[%d]", ErrNoSuchObject, table, key)
	}
	t.rows = append(t.rows[:pos:pos], t.rows[pos+1:]...)
	t.reindex()
	return nil
}

// Clear removes every row of a table.
func (g *Group) Clear(table string) error {
	t, err := g.mutable(table)
	if err != nil {
		return err
	}
	t.rows = nil
	t.reindex()
	return nil
}
