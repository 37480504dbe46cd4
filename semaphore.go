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

package vxs

import (
	"bytes"
	"fmt"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxs/internal/container"
	"goarrg.com/rhi/vxs/internal/util"
)

type SemaphoreWait struct {
	Semaphore Semaphore
	Stage     PipelineStage
}

/*
SyncPool is a fixed set of binary semaphores used to chain command batches.
Pools are sized up front and never grow, running out is a configuration
error. A pool belongs to exactly one render target.
*/
type SyncPool struct {
	noCopy    util.NoCopy
	name      string
	device    Device
	all       []Semaphore
	owned     map[Semaphore]bool // true when in use
	available container.Stack[Semaphore]
	inUse     int
}

func NewSyncPool(ctx *Context, name string, size int) (*SyncPool, error) {
	ctx.noCopy.Check()
	if size < 1 {
		return nil, debug.Errorf("SyncPool size must be >= 1, got %d", size)
	}
	semaphores, err := ctx.device.CreateSemaphores(name, size)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to create %d semaphores for %q", size, name)
	}
	if len(semaphores) != size {
		ctx.device.DestroySemaphores(semaphores...)
		return nil, debug.Errorf("Device created %d semaphores for %q, requested %d", len(semaphores), name, size)
	}

	p := &SyncPool{
		name:   name,
		device: ctx.device,
		all:    semaphores,
		owned:  make(map[Semaphore]bool, size),
	}
	p.noCopy.Init()
	for _, s := range semaphores {
		if _, dup := p.owned[s]; dup || s == 0 {
			ctx.device.DestroySemaphores(semaphores...)
			return nil, debug.Errorf("Device returned invalid semaphore %s for %q", toHex(s), name)
		}
		p.owned[s] = false
	}
	// push in reverse so Acquire hands them out in creation order
	for i := len(semaphores) - 1; i >= 0; i-- {
		p.available.Push(semaphores[i])
	}
	return p, nil
}

func (p *SyncPool) Acquire() (Semaphore, error) {
	p.noCopy.Check()
	if p.available.Empty() {
		return 0, debug.ErrorWrapf(ErrorResourceExhausted{}, "SyncPool %q has all %d semaphores in use", p.name, len(p.all))
	}
	s := p.available.Pop()
	p.owned[s] = true
	p.inUse++
	return s, nil
}

// Release returns s to the pool, handles that are not owned by this pool or
// are not in use are ignored.
func (p *SyncPool) Release(s Semaphore) {
	p.noCopy.Check()
	inUse, ok := p.owned[s]
	if !ok {
		instance.logger.VPrintf("SyncPool %q ignoring release of foreign semaphore %s", p.name, toHex(s))
		return
	}
	if !inUse {
		instance.logger.VPrintf("SyncPool %q ignoring release of available semaphore %s", p.name, toHex(s))
		return
	}
	p.owned[s] = false
	p.inUse--
	p.available.Push(s)
}

/*
Reset makes every semaphore available again. It must only be called once the
GPU work of the previous pass is known to be complete.
*/
func (p *SyncPool) Reset() {
	p.noCopy.Check()
	if p.inUse == 0 {
		return
	}
	p.available.Clear()
	for i := len(p.all) - 1; i >= 0; i-- {
		p.owned[p.all[i]] = false
		p.available.Push(p.all[i])
	}
	p.inUse = 0
}

func (p *SyncPool) Owns(s Semaphore) bool {
	p.noCopy.Check()
	_, ok := p.owned[s]
	return ok
}

func (p *SyncPool) Size() int {
	p.noCopy.Check()
	return len(p.all)
}

func (p *SyncPool) Available() int {
	p.noCopy.Check()
	return p.available.Len()
}

func (p *SyncPool) InUse() int {
	p.noCopy.Check()
	return p.inUse
}

func (p *SyncPool) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")
	buff.WriteString(fmt.Sprintf("\"name\": %q,", p.name))
	buff.WriteString(fmt.Sprintf("\"size\": %d,", len(p.all)))
	buff.WriteString(fmt.Sprintf("\"inUse\": %d,", p.inUse))
	buff.WriteString(fmt.Sprintf("\"available\": %s", hexList(p.available.Data())))
	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (p *SyncPool) Destroy() {
	p.noCopy.Check()
	if p.inUse > 0 {
		instance.logger.WPrintf("SyncPool %q destroyed with %d semaphores in use", p.name, p.inUse)
	}
	p.device.DestroySemaphores(p.all...)
	p.all = nil
	p.owned = nil
	p.available.Clear()
	p.noCopy.Close()
}
