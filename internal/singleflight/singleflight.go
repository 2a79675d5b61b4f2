// Package singleflight adapts golang.org/x/sync/singleflight's string-keyed
// Group to an arbitrary comparable key type, so callers with richer key
// types (UUIDs, structs) don't each need their own string-formatting
// boilerplate at the call site.
package singleflight

import (
	"fmt"

	"golang.org/x/sync/singleflight"
)

// Result is what DoChan delivers: the resolved value, any error, and
// whether it was shared with a concurrent caller.
type Result[V any] struct {
	Val    V
	Err    error
	Shared bool
}

// Group suppresses duplicate concurrent calls sharing the same key, the
// same way golang.org/x/sync/singleflight.Group does, but for any
// comparable K and any result type V.
type Group[K comparable, V any] struct {
	g singleflight.Group
}

// Do executes and returns the results of fn, making sure only one execution
// is in flight for a given key at a time.
func (g *Group[K, V]) Do(key K, fn func() (V, error)) (V, error, bool) {
	v, err, shared := g.g.Do(fmt.Sprint(key), func() (any, error) {
		return fn()
	})
	return asV[V](v), err, shared
}

// DoChan is like Do, but returns a channel that receives the result when
// it's ready.
func (g *Group[K, V]) DoChan(key K, fn func() (V, error)) <-chan Result[V] {
	in := g.g.DoChan(fmt.Sprint(key), func() (any, error) {
		return fn()
	})
	out := make(chan Result[V], 1)
	go func() {
		r := <-in
		out <- Result[V]{Val: asV[V](r.Val), Err: r.Err, Shared: r.Shared}
	}()
	return out
}

// Forget tells the Group to forget about a key. Future calls for that key
// will call fn rather than waiting for an earlier call to complete.
func (g *Group[K, V]) Forget(key K) {
	g.g.Forget(fmt.Sprint(key))
}

func asV[V any](v any) V {
	if v == nil {
		var zero V
		return zero
	}
	return v.(V)
}
