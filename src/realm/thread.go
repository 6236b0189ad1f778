package realm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Thread is the confinement unit of a Realm. A Realm may only be used with
// contexts carrying the thread that opened it.
//
// Goroutines do not have an identity of their own, so callers that use realms
// from more than one goroutine create a Thread per goroutine and attach it to
// the contexts they pass in with WithThread.
type Thread struct {
	id   uuid.UUID
	name string
}

// NewThread returns a new, distinct thread.
func NewThread(name string) *Thread {
	return &Thread{id: uuid.New(), name: name}
}

var mainThread = NewThread("main")

// MainThread is the thread of every context that does not carry one.
func MainThread() *Thread {
	return mainThread
}

func (t *Thread) ID() uuid.UUID { return t.id }

func (t *Thread) String() string {
	return fmt.Sprintf("%s(%s)", t.name, t.id)
}

type threadKey struct{}

// WithThread returns a copy of ctx that carries t.
func WithThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// ThreadFrom returns the thread carried by ctx, or the main thread.
func ThreadFrom(ctx context.Context) *Thread {
	if ctx != nil {
		if t, ok := ctx.Value(threadKey{}).(*Thread); ok && t != nil {
			return t
		}
	}
	return mainThread
}
