// Copyright (c) 2024 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package events defines the events published by the UTXO processor and the
// bus that delivers them to registered listeners.
//
// Delivery is synchronous: Publish invokes every matching listener on the
// calling goroutine before returning.  Listeners registered for the kind of
// the event run first, followed by wildcard listeners, each group in
// registration order.  A listener that returns an error or panics is reported
// through the error returned by Publish and never prevents delivery to the
// remaining listeners.
package events

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"runtime/debug"
	"sync"
)

// ErrListenerInvocationFailed is matched by every *ListenerError.
var ErrListenerInvocationFailed = errors.New("listener invocation failed")

// Callback is invoked for each delivered event.  args holds the positional
// values supplied at registration followed by the event itself as the final
// element.  kwargs is the keyword map supplied at registration and may be
// nil.
type Callback func(args []any, kwargs map[string]any) error

// Handle identifies a single registration.
type Handle uint64

// ListenerError describes a listener that failed while handling an event.
type ListenerError struct {
	Handle Handle
	Kind   Kind
	Err    error

	// Trace holds the stack of the goroutine at the time a listener
	// panicked.  It is empty for listeners that returned an error.
	Trace string
}

// Error satisfies the error interface.
func (e *ListenerError) Error() string {
	if e.Trace != "" {
		return fmt.Sprintf("listener %d failed handling %s event: %v\n%s",
			e.Handle, e.Kind, e.Err, e.Trace)
	}
	return fmt.Sprintf("listener %d failed handling %s event: %v",
		e.Handle, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *ListenerError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrListenerInvocationFailed.
func (e *ListenerError) Is(target error) bool {
	return target == ErrListenerInvocationFailed
}

type registration struct {
	handle Handle
	cb     Callback
	ptr    uintptr
	args   []any
	kwargs map[string]any
}

// Bus dispatches events to listeners.  The zero value is not usable, create
// one with NewBus.
type Bus struct {
	mtx    sync.RWMutex
	next   Handle
	subs   map[Kind][]*registration
	sealed bool
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[Kind][]*registration),
	}
}

// callbackPtr returns the code pointer of a callback.  Two callbacks created
// from the same function value compare equal.  Distinct closures over the
// same function literal also compare equal, so removal by callback is a best
// effort match; use the Handle for exact removal.
func callbackPtr(cb Callback) uintptr {
	return reflect.ValueOf(cb).Pointer()
}

// Subscribe registers cb for the target kind, or for every kind when target
// is All.  Copies of args and kwargs are passed on every invocation.
func (b *Bus) Subscribe(target Kind, cb Callback, args []any,
	kwargs map[string]any) (Handle, error) {

	if cb == nil {
		return 0, errors.New("nil callback")
	}
	if target != All && !target.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidEventTarget, target)
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.next++
	b.subs[target] = append(b.subs[target], &registration{
		handle: b.next,
		cb:     cb,
		ptr:    callbackPtr(cb),
		args:   append([]any(nil), args...),
		kwargs: maps.Clone(kwargs),
	})

	log.Debugf("Registered listener %d for %s events", b.next, target)

	return b.next, nil
}

// removeLocked drops every registration of the kind matched by drop and
// returns how many were dropped.  The slice is copied since publishers may
// still be iterating the old one.
//
// The caller must hold the write lock.
func (b *Bus) removeLocked(kind Kind, drop func(*registration) bool) int {
	regs := b.subs[kind]
	kept := regs[:0:0]
	for _, r := range regs {
		if !drop(r) {
			kept = append(kept, r)
		}
	}

	removed := len(regs) - len(kept)
	if len(kept) == 0 {
		delete(b.subs, kind)
	} else {
		b.subs[kind] = kept
	}
	return removed
}

// Unsubscribe removes the registration identified by the handle.  It returns
// false when the handle is unknown.
func (b *Bus) Unsubscribe(h Handle) bool {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	for kind := range b.subs {
		n := b.removeLocked(kind, func(r *registration) bool {
			return r.handle == h
		})
		if n > 0 {
			return true
		}
	}
	return false
}

// UnsubscribeCallback removes every registration of cb for the target.  When
// target is All, cb is removed from every kind including the wildcard.  It
// returns the number of removed registrations.
func (b *Bus) UnsubscribeCallback(target Kind, cb Callback) int {
	if cb == nil {
		return 0
	}
	ptr := callbackPtr(cb)
	match := func(r *registration) bool {
		return r.ptr == ptr
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	if target != All {
		return b.removeLocked(target, match)
	}

	var removed int
	for kind := range b.subs {
		removed += b.removeLocked(kind, match)
	}
	return removed
}

// UnsubscribeKind removes every registration for the target.  When target
// is All, every registration is removed.
func (b *Bus) UnsubscribeKind(target Kind) int {
	if target == All {
		return b.UnsubscribeAll()
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()

	n := len(b.subs[target])
	delete(b.subs, target)
	return n
}

// UnsubscribeAll removes every registration.
func (b *Bus) UnsubscribeAll() int {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	var n int
	for _, regs := range b.subs {
		n += len(regs)
	}
	b.subs = make(map[Kind][]*registration)
	return n
}

// Len returns the number of registrations for the target.  The wildcard
// target only counts wildcard registrations.
func (b *Bus) Len(target Kind) int {
	b.mtx.RLock()
	defer b.mtx.RUnlock()

	return len(b.subs[target])
}

// Seal stops all further delivery.  Publish on a sealed bus is a no-op.
// Registrations are kept so a host may still remove them.
func (b *Bus) Seal() {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	b.sealed = true
}

// Sealed returns whether the bus was sealed.
func (b *Bus) Sealed() bool {
	b.mtx.RLock()
	defer b.mtx.RUnlock()

	return b.sealed
}

// Publish delivers the event to every matching listener.  Listeners are
// invoked without the bus lock held, so they may register and remove
// listeners; such changes take effect from the next Publish.  The returned
// error joins a *ListenerError for every listener that failed.
func (b *Bus) Publish(ev Event) error {
	b.mtx.RLock()
	if b.sealed {
		b.mtx.RUnlock()
		return nil
	}
	specific := b.subs[ev.Kind]
	wildcard := b.subs[All]
	regs := make([]*registration, 0, len(specific)+len(wildcard))
	regs = append(regs, specific...)
	regs = append(regs, wildcard...)
	b.mtx.RUnlock()

	var errs []error
	for _, r := range regs {
		if err := invoke(r, ev); err != nil {
			log.Warnf("Listener %d failed handling %s event: %v",
				r.handle, ev.Kind, err.Err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// invoke runs a single listener, converting a returned error or a panic
// into a *ListenerError.
func invoke(r *registration, ev Event) (lerr *ListenerError) {
	defer func() {
		if p := recover(); p != nil {
			lerr = &ListenerError{
				Handle: r.handle,
				Kind:   ev.Kind,
				Err:    fmt.Errorf("panic: %v", p),
				Trace:  string(debug.Stack()),
			}
		}
	}()

	args := make([]any, 0, len(r.args)+1)
	args = append(args, r.args...)
	args = append(args, ev)

	if err := r.cb(args, r.kwargs); err != nil {
		return &ListenerError{
			Handle: r.handle,
			Kind:   ev.Kind,
			Err:    err,
		}
	}
	return nil
}
