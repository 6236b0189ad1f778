package realm

import (
	"context"

	"realmdb/src/engine"
)

// Predicate selects the objects of a query. Queries are Go functions; there
// is no query language.
type Predicate func(o *Object) bool

// Results is a live query over one object type. It is evaluated again every
// time it is read.
type Results struct {
	realm *Realm
	class string
	pred  Predicate
}

// Objects returns the objects of type class matching pred. A nil pred
// matches every object.
func (r *Realm) Objects(ctx context.Context, class string, pred Predicate) (*Results, error) {
	r.verifyThread(ctx)
	if err := r.usable(); err != nil {
		return nil, err
	}
	if _, err := r.objectSchema(class); err != nil {
		return nil, err
	}
	return &Results{realm: r, class: class, pred: pred}, nil
}

func (res *Results) ClassName() string { return res.class }

func (res *Results) keys() ([]int64, error) {
	r := res.realm
	g, err := r.group()
	if err != nil {
		return nil, err
	}
	table := g.Table(engine.TableNameForClass(res.class))
	if table == nil {
		return nil, nil
	}
	all := table.Keys()
	if res.pred == nil {
		return all, nil
	}
	var keys []int64
	for _, key := range all {
		if res.pred(r.object(res.class, key)) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Len returns the number of matching objects.
func (res *Results) Len() (int, error) {
	keys, err := res.keys()
	return len(keys), err
}

// Snapshot returns the matching objects as of now.
func (res *Results) Snapshot() ([]*Object, error) {
	keys, err := res.keys()
	if err != nil {
		return nil, err
	}
	objects := make([]*Object, len(keys))
	for i, key := range keys {
		objects[i] = res.realm.object(res.class, key)
	}
	return objects, nil
}

// Enumerate starts an iteration over the matching objects. The enumerator is
// registered with the realm until it is exhausted or closed; if the realm
// begins a write transaction first, the enumerator is detached and finishes
// over a copy of the data it started on.
func (res *Results) Enumerate(ctx context.Context) (*Enumerator, error) {
	r := res.realm
	r.verifyThread(ctx)
	keys, err := res.keys()
	if err != nil {
		return nil, err
	}
	r.nextID++
	e := &Enumerator{id: r.nextID, realm: r, class: res.class, keys: keys}
	r.enumerators[e.id] = e
	return e, nil
}

// Enumerator iterates the result of a query.
type Enumerator struct {
	id    uint64
	realm *Realm
	class string
	keys  []int64
	pos   int

	detached bool
	frozen   []*Object
	closed   bool
}

// Next returns the next object. Objects deleted since the enumeration
// started are skipped.
func (e *Enumerator) Next() (*Object, bool) {
	if e.closed {
		return nil, false
	}
	if e.detached {
		if e.pos < len(e.frozen) {
			o := e.frozen[e.pos]
			e.pos++
			return o, true
		}
		e.Close()
		return nil, false
	}

	for e.pos < len(e.keys) {
		o := e.realm.object(e.class, e.keys[e.pos])
		e.pos++
		if !o.IsInvalidated() {
			return o, true
		}
	}
	e.Close()
	return nil, false
}

// IsDetached reports whether the enumerator was moved onto a private copy.
func (e *Enumerator) IsDetached() bool { return e.detached }

// Close unregisters the enumerator. Next returns nothing afterwards.
func (e *Enumerator) Close() {
	if e.closed {
		return
	}
	e.closed = true
	if !e.detached {
		delete(e.realm.enumerators, e.id)
	}
}

// detach copies the objects not yet returned out of g.
func (e *Enumerator) detach(g *engine.Group) {
	if e.detached || e.closed {
		return
	}
	r := e.realm
	var frozen []*Object
	objSchema := r.schema.Object(e.class)
	table := g.Table(engine.TableNameForClass(e.class))
	if objSchema != nil && table != nil {
		for _, key := range e.keys[e.pos:] {
			row, ok := table.Get(key)
			if !ok {
				continue
			}
			frozen = append(frozen, &Object{realm: r, class: e.class, key: key, frozen: rowValues(objSchema, row)})
		}
	}
	e.frozen = frozen
	e.keys = nil
	e.pos = 0
	e.detached = true
}

// detachEnumerators detaches every registered enumerator onto g and clears
// the registry.
func (r *Realm) detachEnumerators(g *engine.Group) {
	for _, id := range sortedIDs(r.enumerators) {
		r.enumerators[id].detach(g)
	}
	r.enumerators = make(map[uint64]*Enumerator)
}
