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

package spinlock

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpinlock(t *testing.T) {
	var (
		sl         Spinlock
		wg         sync.WaitGroup
		acquired   int32
		numWorkers = 10
	)

	sl.Acquire()
	require.False(t, sl.TryAcquire(), "lock is held")

	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			sl.Acquire()
			atomic.AddInt32(&acquired, 1)
			sl.Release()
		}()
	}

	<-time.After(50 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&acquired))
	sl.Release()
	wg.Wait()
	assert.Equal(t, int32(numWorkers), acquired)

	require.True(t, sl.TryAcquire())
	sl.Release()
	sl.Release() // no effect on a free lock
	require.True(t, sl.TryAcquire())
}

func TestSpinlockYield(t *testing.T) {
	defer func(orig func()) { yieldFn = orig }(yieldFn)
	var yields int32
	yieldFn = func() { atomic.AddInt32(&yields, 1) }

	var sl Spinlock
	sl.Acquire()
	done := make(chan struct{})
	go func() {
		sl.Acquire()
		sl.Release()
		close(done)
	}()
	for atomic.LoadInt32(&yields) == 0 {
		time.Sleep(time.Millisecond)
	}
	sl.Release()
	<-done
}

func TestLocked(t *testing.T) {
	l := New(0)

	const (
		workers = 8
		rounds  = 1000
	)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				if j%2 == 0 {
					l.Do(func(v *int) { *v++ })
					continue
				}
				g := l.Lock()
				*g.Value()++
				g.Unlock()
			}
		}()
	}
	wg.Wait()
	l.Do(func(v *int) { assert.Equal(t, workers*rounds, *v) })
}

func TestLockedReleaseOnPanic(t *testing.T) {
	l := New("x")
	assert.Panics(t, func() {
		l.Do(func(v *string) { panic(*v) })
	})
	g, ok := l.TryLock()
	require.True(t, ok, "Do must release on panic")
	assert.Equal(t, "x", *g.Value())

	_, ok = l.TryLock()
	assert.False(t, ok)
	g.Unlock()
}

func TestLockedForceUnlock(t *testing.T) {
	l := New(1)
	g := l.Lock()
	l.ForceUnlock()

	g2, ok := l.TryLock()
	require.True(t, ok)
	g2.Unlock()
	g.Unlock()
}
