package realm

import (
	"context"
	"fmt"

	"realmdb/src/engine"
	"realmdb/src/schema"
)

// Object is an accessor for one stored object. An Object read from a realm
// follows the realm's current view; a frozen Object holds a private copy of
// its values.
type Object struct {
	realm      *Realm
	class      string
	key        int64
	generation uint64
	frozen     map[string]interface{}
}

func (o *Object) ClassName() string { return o.class }
func (o *Object) Key() int64        { return o.key }
func (o *Object) Realm() *Realm     { return o.realm }

// IsFrozen reports whether o is a detached copy.
func (o *Object) IsFrozen() bool { return o.frozen != nil }

// IsInvalidated reports whether o no longer refers to a stored object: it was
// deleted, or its realm was invalidated, closed or detached.
func (o *Object) IsInvalidated() bool {
	if o.frozen != nil {
		return false
	}
	_, _, err := o.location()
	return err != nil
}

// location returns the table holding o and the row stored for it.
func (o *Object) location() (*engine.Table, engine.Row, error) {
	r := o.realm
	if o.generation != r.generation {
		return nil, engine.Row{}, newError(InvalidArgument, r.path, "Object has been invalidated")
	}
	g, err := r.group()
	if err != nil {
		return nil, engine.Row{}, err
	}
	table := g.Table(engine.TableNameForClass(o.class))
	if table == nil {
		return nil, engine.Row{}, newError(InvalidArgument, r.path, "Object type '%s' is not stored in the realm", o.class)
	}
	row, ok := table.Get(o.key)
	if !ok {
		return nil, engine.Row{}, newError(InvalidArgument, r.path, "Object has been deleted or invalidated")
	}
	return table, row, nil
}

// Get returns the value of property name.
func (o *Object) Get(name string) (interface{}, error) {
	if o.frozen != nil {
		v, ok := o.frozen[name]
		if !ok {
			return nil, newError(InvalidArgument, o.realm.path, "Object type '%s' has no property '%s'", o.class, name)
		}
		return copyValue(v), nil
	}
	p, err := o.realm.property(o.class, name)
	if err != nil {
		return nil, err
	}
	_, row, err := o.location()
	if err != nil {
		return nil, err
	}
	return copyValue(row.Values[p.Column]), nil
}

// Values returns every property value of o by name.
func (o *Object) Values() (map[string]interface{}, error) {
	if o.frozen != nil {
		out := make(map[string]interface{}, len(o.frozen))
		for k, v := range o.frozen {
			out[k] = copyValue(v)
		}
		return out, nil
	}
	objSchema, err := o.realm.objectSchema(o.class)
	if err != nil {
		return nil, err
	}
	_, row, err := o.location()
	if err != nil {
		return nil, err
	}
	return rowValues(objSchema, row), nil
}

// Set stores v in property name. The realm must be in a write transaction.
func (o *Object) Set(ctx context.Context, name string, v interface{}) error {
	r := o.realm
	r.verifyThread(ctx)
	if o.frozen != nil {
		return newError(InvalidArgument, r.path, "Frozen objects cannot be modified")
	}
	if err := r.requireWrite(); err != nil {
		return err
	}
	p, err := r.property(o.class, name)
	if err != nil {
		return err
	}
	value, err := schema.Coerce(p, v)
	if err != nil {
		return &Error{Kind: InvalidArgument, Path: r.path, Message: err.Error(), Err: err}
	}
	if _, _, err := o.location(); err != nil {
		return err
	}
	g, err := r.group()
	if err != nil {
		return err
	}
	return r.translate(g.Set(engine.TableNameForClass(o.class), o.key, p.Column, value))
}

func (o *Object) String() string {
	return fmt.Sprintf("%s[%d]", o.class, o.key)
}

func (r *Realm) objectSchema(class string) (*schema.ObjectSchema, error) {
	objSchema := r.schema.Object(class)
	if objSchema == nil {
		return nil, newError(InvalidArgument, r.path, "Object type '%s' is not managed by the realm", class)
	}
	return objSchema, nil
}

func (r *Realm) property(class, name string) (*schema.Property, error) {
	objSchema, err := r.objectSchema(class)
	if err != nil {
		return nil, err
	}
	p := objSchema.Property(name)
	if p == nil || p.Column < 0 {
		return nil, newError(InvalidArgument, r.path, "Object type '%s' has no property '%s'", class, name)
	}
	return p, nil
}

func (r *Realm) object(class string, key int64) *Object {
	return &Object{realm: r, class: class, key: key, generation: r.generation}
}

// CreateObject adds an object of type class. Properties missing from values
// get their default.
func (r *Realm) CreateObject(ctx context.Context, class string, values map[string]interface{}) (*Object, error) {
	r.verifyThread(ctx)
	if err := r.requireWrite(); err != nil {
		return nil, err
	}
	objSchema, err := r.objectSchema(class)
	if err != nil {
		return nil, err
	}
	for name := range values {
		if objSchema.Property(name) == nil {
			return nil, newError(InvalidArgument, r.path, "Object type '%s' has no property '%s'", class, name)
		}
	}

	row := make([]interface{}, len(objSchema.Properties))
	for _, p := range objSchema.Properties {
		v, ok := values[p.Name]
		if !ok {
			row[p.Column] = p.DefaultValue()
			continue
		}
		if row[p.Column], err = schema.Coerce(p, v); err != nil {
			return nil, &Error{Kind: InvalidArgument, Path: r.path, Message: err.Error(), Err: err}
		}
	}

	g, err := r.group()
	if err != nil {
		return nil, err
	}
	key, err := g.Insert(engine.TableNameForClass(class), row)
	if err != nil {
		return nil, r.translate(err)
	}
	return r.object(class, key), nil
}

// DeleteObject removes o from the realm.
func (r *Realm) DeleteObject(ctx context.Context, o *Object) error {
	r.verifyThread(ctx)
	if err := r.requireWrite(); err != nil {
		return err
	}
	if o == nil || o.realm != r || o.frozen != nil {
		return newError(InvalidArgument, r.path, "Can only delete an object from the realm it belongs to")
	}
	if _, _, err := o.location(); err != nil {
		return err
	}
	g, err := r.group()
	if err != nil {
		return err
	}
	return r.translate(g.Delete(engine.TableNameForClass(o.class), o.key))
}

// ObjectForKey returns the object of type class stored under key.
func (r *Realm) ObjectForKey(class string, key int64) (*Object, error) {
	if _, err := r.objectSchema(class); err != nil {
		return nil, err
	}
	o := r.object(class, key)
	if _, _, err := o.location(); err != nil {
		return nil, err
	}
	return o, nil
}

func rowValues(objSchema *schema.ObjectSchema, row engine.Row) map[string]interface{} {
	out := make(map[string]interface{}, len(objSchema.Properties))
	for _, p := range objSchema.Properties {
		out[p.Name] = copyValue(row.Values[p.Column])
	}
	return out
}

func copyValue(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return append([]byte{}, b...)
	}
	return v
}
