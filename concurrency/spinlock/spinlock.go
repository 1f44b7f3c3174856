/*
 * Copyright 2024 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package spinlock provides a busy-waiting lock and a generic wrapper
// granting exclusive access to the value it guards.
package spinlock

import (
	"runtime"
	"sync/atomic"
)

// attemptsBeforeYielding is the number of failed acquire attempts before
// Acquire calls yieldFn.
const attemptsBeforeYielding = 64

// yieldFn is called while spinning. Freestanding builds without a scheduler
// can set it to a no-op or a cpu pause.
var yieldFn = runtime.Gosched

// Spinlock implements a lock where each caller trying to acquire it busy-waits
// till the lock becomes available. The zero value is an unlocked Spinlock.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired.
// Any attempt to re-acquire a lock already held by the same call chain
// will spin forever.
func (l *Spinlock) Acquire() {
	for n := 1; !atomic.CompareAndSwapUint32(&l.state, 0, 1); n++ {
		// spin on a plain load to keep the cache line shared
		for atomic.LoadUint32(&l.state) != 0 {
			if n%attemptsBeforeYielding == 0 {
				yieldFn()
			}
			n++
		}
	}
}

// TryAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing others to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// Locked guards a value of type T with a Spinlock.
// The value can only be reached through a Guard or Do.
type Locked[T any] struct {
	lock Spinlock
	v    T
}

// New returns a Locked wrapping v.
func New[T any](v T) *Locked[T] {
	return &Locked[T]{v: v}
}

// Lock busy-waits for exclusive access and returns a Guard holding it.
// Callers MUST call Guard.Unlock, usually with defer.
func (l *Locked[T]) Lock() Guard[T] {
	l.lock.Acquire()
	return Guard[T]{l: l}
}

// TryLock is like Lock but returns false instead of waiting.
func (l *Locked[T]) TryLock() (Guard[T], bool) {
	if !l.lock.TryAcquire() {
		return Guard[T]{}, false
	}
	return Guard[T]{l: l}, true
}

// Do runs fn with exclusive access to the guarded value.
// The lock is released when fn returns or panics.
//
// Helpers called from fn should take the *T they are given instead of
// calling Lock or Do again on the same Locked.
func (l *Locked[T]) Do(fn func(v *T)) {
	g := l.Lock()
	defer g.Unlock()
	fn(g.Value())
}

// ForceUnlock releases the lock no matter who holds it.
//
// Deprecated: it breaks exclusivity for the holder of the outstanding Guard
// and is unsound as soon as another execution context can take the lock.
// Pass the *T from Do down to the code that needs it instead.
func (l *Locked[T]) ForceUnlock() {
	l.lock.Release()
}

// Guard is the exclusive handle returned by Locked.Lock.
type Guard[T any] struct {
	l *Locked[T]
}

// Value returns the guarded value. It MUST NOT be used after Unlock.
func (g Guard[T]) Value() *T {
	return &g.l.v
}

// Unlock releases the lock held by g.
func (g Guard[T]) Unlock() {
	g.l.lock.Release()
}
