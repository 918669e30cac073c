package services

import (
	"context"
	"slices"
	"sync"
)

// Optimistic holds a value that is updated ahead of the server.
//
// [Optimistic.Apply] is a transaction: snapshot the current value, install the predicted one, then
// replace it with the server's answer on success or restore the snapshot on failure. Transactions are
// serialized; [Optimistic.Get] observes the predicted value while one is in flight.
type Optimistic[T any] struct {
	txMu  sync.Mutex
	mu    sync.RWMutex
	value T
	clone func(T) T
}

// NewOptimistic wraps initial. clone must return a copy that shares nothing mutable with its input.
func NewOptimistic[T any](initial T, clone func(T) T) *Optimistic[T] {
	if clone == nil {
		clone = func(v T) T { return v }
	}
	return &Optimistic[T]{value: initial, clone: clone}
}

// NewOptimisticList wraps a slice, cloning it shallowly.
func NewOptimisticList[E any](initial []E) *Optimistic[[]E] {
	return NewOptimistic(initial, slices.Clone[[]E])
}

// Get returns a copy of the current value.
func (o *Optimistic[T]) Get() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.clone(o.value)
}

// Set replaces the value outside any transaction, e.g. after a fresh fetch.
func (o *Optimistic[T]) Set(v T) {
	o.mu.Lock()
	o.value = o.clone(v)
	o.mu.Unlock()
}

// Apply installs predict(current) and runs commit. The committed value replaces the prediction; on
// error the prior value is restored and the error returned.
func (o *Optimistic[T]) Apply(ctx context.Context, predict func(T) T, commit func(context.Context) (T, error)) (T, error) {
	o.txMu.Lock()
	defer o.txMu.Unlock()

	o.mu.Lock()
	prior := o.clone(o.value)
	o.value = predict(o.clone(o.value))
	o.mu.Unlock()

	confirmed, err := commit(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		o.value = prior
		return o.clone(prior), err
	}
	o.value = o.clone(confirmed)
	return o.clone(confirmed), nil
}
