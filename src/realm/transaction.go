package realm

import (
	"context"
)

// BeginWrite starts a write transaction. Enumerators created before it keep
// iterating the view they started on.
func (r *Realm) BeginWrite(ctx context.Context) error {
	r.verifyThread(ctx)
	if err := r.checkTransaction("begin"); err != nil {
		return err
	}
	if r.conn.InWriteTransaction() {
		return newError(TransactionError, r.path, "The realm is already in a write transaction")
	}

	view := r.conn.Group()
	if err := r.conn.BeginWrite(); err != nil {
		return r.translate(err)
	}
	r.detachEnumerators(view)
	r.pending.Store(false)
	return nil
}

// CommitWrite commits the write transaction and notifies the realm's
// notification tokens. The transaction is over even if the commit fails.
func (r *Realm) CommitWrite(ctx context.Context) error {
	r.verifyThread(ctx)
	if err := r.checkTransaction("commit"); err != nil {
		return err
	}
	if !r.conn.InWriteTransaction() {
		return newError(TransactionError, r.path, "Can't commit a non-existent write transaction")
	}
	if err := r.conn.CommitWrite(); err != nil {
		return r.translate(err)
	}
	r.dispatch(DidChange)
	return nil
}

// MustCommitWrite is CommitWrite for callers with no use for the error: it
// panics with it.
func (r *Realm) MustCommitWrite(ctx context.Context) {
	if err := r.CommitWrite(ctx); err != nil {
		panic(err)
	}
}

// CancelWrite discards every change made since BeginWrite.
func (r *Realm) CancelWrite(ctx context.Context) error {
	r.verifyThread(ctx)
	if err := r.checkTransaction("cancel"); err != nil {
		return err
	}
	if !r.conn.InWriteTransaction() {
		return newError(TransactionError, r.path, "Can't cancel a non-existent write transaction")
	}
	r.conn.CancelWrite()
	return nil
}

// Write runs fn in a write transaction. The transaction is committed when fn
// returns nil, unless fn cancelled it itself, and cancelled when fn returns
// an error or panics.
func (r *Realm) Write(ctx context.Context, fn func() error) error {
	if err := r.BeginWrite(ctx); err != nil {
		return err
	}
	done := false
	defer func() {
		if !done && r.conn.InWriteTransaction() {
			r.conn.CancelWrite()
		}
	}()

	if err := fn(); err != nil {
		return err
	}
	done = true
	if !r.conn.InWriteTransaction() {
		return nil
	}
	return r.CommitWrite(ctx)
}

// checkTransaction fails transaction control on realms that cannot have one.
func (r *Realm) checkTransaction(op string) error {
	if err := r.usable(); err != nil {
		return err
	}
	if r.isMigrationRealm() {
		return newError(TransactionError, r.path, "Cannot %s a write transaction on a migration realm", op)
	}
	if r.config.ReadOnly {
		return newError(ReadOnlyViolation, r.path, "Cannot %s a write transaction on a read-only realm", op)
	}
	return nil
}

// requireWrite fails writes outside a write transaction.
func (r *Realm) requireWrite() error {
	if err := r.usable(); err != nil {
		return err
	}
	if r.config.ReadOnly {
		return newError(ReadOnlyViolation, r.path, "Cannot modify a read-only realm")
	}
	if !r.InWriteTransaction() {
		return newError(TransactionError, r.path, "Cannot modify objects outside of a write transaction")
	}
	return nil
}
