package realm

import (
	"context"
	"fmt"

	"golang.org/x/exp/slices"
)

// Notification is the signal passed to notification callbacks.
type Notification int

const (
	// DidChange is sent after a local commit and after the realm's view
	// advanced to newer data.
	DidChange Notification = iota
	// RefreshRequired is sent when another connection committed while
	// autorefresh is off.
	RefreshRequired
)

func (n Notification) String() string {
	switch n {
	case DidChange:
		return "DidChange"
	case RefreshRequired:
		return "RefreshRequired"
	}
	return fmt.Sprintf("Notification(%d)", int(n))
}

// NotificationFunc is called on the realm's thread.
type NotificationFunc func(n Notification, r *Realm)

// NotificationToken is one registered notification callback. It must be
// stopped before it is dropped; tokens still registered when their realm is
// closed are reported as leaks.
type NotificationToken struct {
	id     uint64
	realm  *Realm
	thread *Thread
	fn     NotificationFunc
}

// Stop unregisters the token. It must be called on the thread the token was
// registered on. Stopping a token more than once is harmless.
func (t *NotificationToken) Stop(ctx context.Context) {
	if caller := ThreadFrom(ctx); t.thread != nil && caller.id != t.thread.id {
		panic(&Error{
			Kind:    ThreadConfinementViolation,
			Message: fmt.Sprintf("Notification token stopped from %s but it belongs to %s", caller, t.thread),
		})
	}
	if t.realm != nil {
		delete(t.realm.tokens, t.id)
	}
	t.clear()
}

func (t *NotificationToken) clear() {
	t.fn = nil
	t.realm = nil
}

// Realm returns the realm the token is registered with, or nil once stopped.
func (t *NotificationToken) Realm() *Realm { return t.realm }

// AddNotification registers fn to be called whenever the realm changes.
func (r *Realm) AddNotification(ctx context.Context, fn NotificationFunc) (*NotificationToken, error) {
	r.verifyThread(ctx)
	if err := r.usable(); err != nil {
		return nil, err
	}
	if r.config.ReadOnly {
		return nil, newError(ReadOnlyViolation, r.path, "Read-only realms do not change and do not have change notifications")
	}
	if fn == nil {
		return nil, newError(InvalidArgument, r.path, "Notification callback must not be nil")
	}

	r.nextID++
	token := &NotificationToken{id: r.nextID, realm: r, thread: r.thread, fn: fn}
	r.tokens[token.id] = token
	return token, nil
}

// RemoveNotification unregisters token. It is the same as token.Stop.
func (r *Realm) RemoveNotification(ctx context.Context, token *NotificationToken) {
	r.verifyThread(ctx)
	if token == nil || token.realm != r {
		return
	}
	token.Stop(ctx)
}

// dispatch calls every registered callback, in registration order. Tokens
// stopped by an earlier callback are skipped.
func (r *Realm) dispatch(n Notification) {
	ids := sortedIDs(r.tokens)
	snapshot := make([]*NotificationToken, len(ids))
	for i, id := range ids {
		snapshot[i] = r.tokens[id]
	}
	for _, token := range snapshot {
		if fn := token.fn; fn != nil {
			fn(n, r)
		}
	}
}

// externalCommit is the engine change listener. It runs on the goroutine of
// the committing connection and only records that a change is pending.
func (r *Realm) externalCommit() {
	r.pending.Store(true)
}

// HasPendingChanges reports whether another connection committed since the
// last Notify, Refresh or BeginWrite.
func (r *Realm) HasPendingChanges() bool {
	return r.pending.Load()
}

// Notify delivers a pending change from another connection. With autorefresh
// on the realm advances to the latest data and sends DidChange; otherwise it
// sends RefreshRequired and keeps its view.
func (r *Realm) Notify(ctx context.Context) {
	r.verifyThread(ctx)
	if r.usable() != nil || r.isMigrationRealm() || r.conn.InWriteTransaction() {
		return
	}
	if !r.pending.Swap(false) {
		return
	}
	if !r.autorefresh {
		r.dispatch(RefreshRequired)
		return
	}
	if r.conn.Refresh() {
		r.dispatch(DidChange)
	}
}

// Refresh advances the realm to the latest data and reports whether its view
// changed. It does nothing inside a write transaction.
func (r *Realm) Refresh(ctx context.Context) bool {
	r.verifyThread(ctx)
	if r.usable() != nil || r.isMigrationRealm() || r.conn.InWriteTransaction() {
		return false
	}
	r.pending.Store(false)
	if !r.conn.Refresh() {
		return false
	}
	r.dispatch(DidChange)
	return true
}

// SetAutorefresh sets whether Notify advances the realm. It is on by default.
func (r *Realm) SetAutorefresh(ctx context.Context, on bool) {
	r.verifyThread(ctx)
	r.autorefresh = on
}

func (r *Realm) Autorefresh() bool { return r.autorefresh }

// InvalidationObserver is told before and after a realm drops its view.
type InvalidationObserver interface {
	WillInvalidate(r *Realm)
	DidInvalidate(r *Realm)
}

// AddInvalidationObserver registers o and returns the function that
// unregisters it.
func (r *Realm) AddInvalidationObserver(ctx context.Context, o InvalidationObserver) func() {
	r.verifyThread(ctx)
	r.nextID++
	id := r.nextID
	r.observers[id] = o
	return func() { delete(r.observers, id) }
}

// Invalidate drops the realm's view of the data. Objects read before are
// invalidated; the next read pins the latest data. An active write
// transaction is discarded.
func (r *Realm) Invalidate(ctx context.Context) {
	r.verifyThread(ctx)
	if r.usable() != nil || r.isMigrationRealm() {
		return
	}
	if r.conn.InWriteTransaction() {
		r.logger.Errorw("Realm invalidated during a write transaction; discarding the transaction",
			"path", r.path, "thread", r.thread.String())
		r.conn.CancelWrite()
	}

	ids := sortedIDs(r.observers)
	observers := make([]InvalidationObserver, len(ids))
	for i, id := range ids {
		observers[i] = r.observers[id]
	}
	for _, o := range observers {
		o.WillInvalidate(r)
	}

	r.detachEnumerators(r.conn.Group())
	r.conn.Invalidate()
	r.generation++

	for _, o := range observers {
		o.DidInvalidate(r)
	}
}

func sortedIDs[V any](m map[uint64]V) []uint64 {
	ids := make([]uint64, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
