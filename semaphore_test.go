/*
Copyright 2025 The goARRG Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package vxs_test

import (
	"errors"
	"math/rand"
	"testing"

	"goarrg.com/rhi/vxs"
)

func TestSyncPoolExhaustionAndReset(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()

	pool, err := vxs.NewSyncPool(f.ctx, "pool", 4)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Destroy()

	seen := map[vxs.Semaphore]bool{}
	for i := 0; i < 4; i++ {
		s, err := pool.Acquire()
		if err != nil {
			t.Fatalf("Acquire %d: %v", i, err)
		}
		if seen[s] {
			t.Fatalf("semaphore 0x%X handed out twice", uint64(s))
		}
		seen[s] = true
	}
	if pool.Available() != 0 || pool.InUse() != 4 {
		t.Fatalf("Available() = %d InUse() = %d, want 0 and 4", pool.Available(), pool.InUse())
	}
	if _, err := pool.Acquire(); !errors.Is(err, vxs.ErrorResourceExhausted{}) {
		t.Fatalf("Acquire on an empty pool = %v, want ErrorResourceExhausted", err)
	}

	pool.Reset()
	if pool.Available() != 4 || pool.InUse() != 0 {
		t.Fatalf("after Reset Available() = %d InUse() = %d, want 4 and 0", pool.Available(), pool.InUse())
	}
}

func TestSyncPoolIgnoresForeignRelease(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()

	a, err := vxs.NewSyncPool(f.ctx, "a", 2)
	if err != nil {
		t.Fatal(err)
	}
	defer a.Destroy()
	b, err := vxs.NewSyncPool(f.ctx, "b", 2)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Destroy()

	s, err := b.Acquire()
	if err != nil {
		t.Fatal(err)
	}
	if a.Owns(s) || !b.Owns(s) {
		t.Fatal("ownership is wrong")
	}

	a.Release(s)
	a.Release(0)
	if a.Available() != 2 || a.InUse() != 0 {
		t.Fatalf("foreign release changed pool a: Available() = %d InUse() = %d", a.Available(), a.InUse())
	}

	b.Release(s)
	b.Release(s)
	if b.Available() != 2 || b.InUse() != 0 {
		t.Fatalf("double release changed pool b: Available() = %d InUse() = %d", b.Available(), b.InUse())
	}
}

func TestSyncPoolConservation(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()

	const size = 8
	pool, err := vxs.NewSyncPool(f.ctx, "pool", size)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Destroy()

	r := rand.New(rand.NewSource(1))
	held := map[vxs.Semaphore]bool{}
	for i := 0; i < 2000; i++ {
		switch op := r.Intn(10); {
		case op < 5:
			s, err := pool.Acquire()
			if len(held) == size {
				if !errors.Is(err, vxs.ErrorResourceExhausted{}) {
					t.Fatalf("step %d: Acquire on a full pool = %v", i, err)
				}
				continue
			}
			if err != nil {
				t.Fatalf("step %d: %v", i, err)
			}
			if held[s] {
				t.Fatalf("step %d: semaphore 0x%X handed out while held", i, uint64(s))
			}
			held[s] = true
		case op < 9:
			for s := range held {
				pool.Release(s)
				delete(held, s)
				break
			}
		default:
			pool.Reset()
			clear(held)
		}

		if pool.Available()+pool.InUse() != size {
			t.Fatalf("step %d: Available() %d + InUse() %d != %d", i, pool.Available(), pool.InUse(), size)
		}
		if pool.InUse() != len(held) {
			t.Fatalf("step %d: InUse() = %d, holding %d", i, pool.InUse(), len(held))
		}
	}
}

func TestSyncPoolDestroy(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()

	before := f.device.Stats().LiveSemaphores
	pool, err := vxs.NewSyncPool(f.ctx, "pool", 3)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.device.Stats().LiveSemaphores; got != before+3 {
		t.Fatalf("LiveSemaphores = %d, want %d", got, before+3)
	}
	pool.Destroy()
	if got := f.device.Stats().LiveSemaphores; got != before {
		t.Fatalf("LiveSemaphores = %d after Destroy, want %d", got, before)
	}
}
