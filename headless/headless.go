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

/*
Package headless is a software vxs.Device. Submissions execute immediately
in queue order while binary semaphore and image layout rules are validated,
so a wait on a semaphore nothing signaled yet fails instead of hanging.
*/
package headless

import (
	"slices"
	"sync"

	"goarrg.com/debug"
	"goarrg.com/gmath"
	"golang.org/x/exp/maps"

	"goarrg.com/rhi/vxs"
	"goarrg.com/rhi/vxs/internal/util"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("vxs", "headless"),
}

type semaphore struct {
	name     string
	signaled bool
}

type image struct {
	name   string
	info   vxs.ImageCreateInfo
	layout vxs.ImageLayout
}

// Stats is a snapshot of the device counters.
type Stats struct {
	Submits            int
	Presents           int
	CommandBuffersRun  int
	WaitIdles          int
	LiveCommandBuffers int
	LiveSemaphores     int
	LiveImages         int
	LiveCommandPools   int
}

// Device is safe for concurrent use.
type Device struct {
	mtx     sync.Mutex
	handles util.HandleAllocator

	pools      map[*CommandPool]struct{}
	buffers    map[vxs.CommandBuffer]*CommandPool
	recorded   map[vxs.CommandBuffer][]vxs.ImageTransition
	semaphores map[vxs.Semaphore]*semaphore
	images     map[vxs.Image]*image
	swapchains map[vxs.Swapchain]*Surface

	log   []vxs.SubmitInfo
	stats Stats

	failSubmit  error
	failPresent error
}

var _ vxs.Device = (*Device)(nil)

func New() *Device {
	return &Device{
		pools:      map[*CommandPool]struct{}{},
		buffers:    map[vxs.CommandBuffer]*CommandPool{},
		recorded:   map[vxs.CommandBuffer][]vxs.ImageTransition{},
		semaphores: map[vxs.Semaphore]*semaphore{},
		images:     map[vxs.Image]*image{},
		swapchains: map[vxs.Swapchain]*Surface{},
	}
}

type CommandPool struct {
	device *Device
	name   string
}

var _ vxs.CommandPool = (*CommandPool)(nil)

func (d *Device) NewCommandPool(name string) (vxs.CommandPool, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	p := &CommandPool{device: d, name: name}
	d.pools[p] = struct{}{}
	return p, nil
}

func (p *CommandPool) AllocateCommandBuffers(n int) ([]vxs.CommandBuffer, error) {
	p.device.mtx.Lock()
	defer p.device.mtx.Unlock()
	if _, ok := p.device.pools[p]; !ok {
		return nil, debug.Errorf("CommandPool %q is destroyed", p.name)
	}
	if n < 0 {
		return nil, debug.Errorf("Cannot allocate %d command buffers", n)
	}
	buffers := make([]vxs.CommandBuffer, n)
	for i := range buffers {
		buffers[i] = vxs.CommandBuffer(p.device.handles.Next())
		p.device.buffers[buffers[i]] = p
	}
	return buffers, nil
}

func (p *CommandPool) FreeCommandBuffers(buffers ...vxs.CommandBuffer) {
	p.device.mtx.Lock()
	defer p.device.mtx.Unlock()
	for _, cb := range buffers {
		if p.device.buffers[cb] != p {
			instance.logger.VPrintf("CommandPool %q ignoring free of foreign command buffer 0x%X", p.name, uint64(cb))
			continue
		}
		delete(p.device.buffers, cb)
		delete(p.device.recorded, cb)
	}
}

func (p *CommandPool) Destroy() {
	p.device.mtx.Lock()
	defer p.device.mtx.Unlock()
	maps.DeleteFunc(p.device.buffers, func(cb vxs.CommandBuffer, owner *CommandPool) bool {
		if owner == p {
			delete(p.device.recorded, cb)
			return true
		}
		return false
	})
	delete(p.device.pools, p)
}

func (d *Device) CreateSemaphores(name string, n int) ([]vxs.Semaphore, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if n < 0 {
		return nil, debug.Errorf("Cannot create %d semaphores", n)
	}
	semaphores := make([]vxs.Semaphore, n)
	for i := range semaphores {
		semaphores[i] = vxs.Semaphore(d.handles.Next())
		d.semaphores[semaphores[i]] = &semaphore{name: name}
	}
	return semaphores, nil
}

func (d *Device) DestroySemaphores(semaphores ...vxs.Semaphore) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	for _, s := range semaphores {
		delete(d.semaphores, s)
	}
}

func (d *Device) CreateImages(name string, info vxs.ImageCreateInfo, n int) ([]vxs.Image, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.createImages(name, info, n)
}

func (d *Device) createImages(name string, info vxs.ImageCreateInfo, n int) ([]vxs.Image, error) {
	if min(info.Extent.X, info.Extent.Y) < 1 {
		return nil, debug.Errorf("Image extent [%+v] must be >= 1", info.Extent)
	}
	if info.Layers == 0 {
		info.Layers = 1
	}
	images := make([]vxs.Image, n)
	for i := range images {
		images[i] = vxs.Image(d.handles.Next())
		d.images[images[i]] = &image{name: name, info: info, layout: vxs.ImageLayoutUndefined}
	}
	return images, nil
}

func (d *Device) DestroyImages(images ...vxs.Image) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	for _, img := range images {
		delete(d.images, img)
	}
}

func (d *Device) RecordTransitions(cb vxs.CommandBuffer, transitions ...vxs.ImageTransition) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if _, ok := d.buffers[cb]; !ok {
		return debug.Errorf("Command buffer 0x%X is not allocated", uint64(cb))
	}
	for _, t := range transitions {
		img, ok := d.images[t.Image]
		if !ok {
			return debug.Errorf("Image 0x%X does not exist", uint64(t.Image))
		}
		if t.Layers > img.info.Layers {
			return debug.Errorf("Transition of %d layers on image %q with %d layers", t.Layers, img.name, img.info.Layers)
		}
	}
	d.recorded[cb] = slices.Clone(transitions)
	return nil
}

// Record marks cb as a recorded command buffer without any transitions,
// objects drawing through the headless device use it for their draw commands.
func (d *Device) Record(cb vxs.CommandBuffer) error {
	return d.RecordTransitions(cb)
}

func (d *Device) Submit(infos []vxs.SubmitInfo) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if err := d.failSubmit; err != nil {
		d.failSubmit = nil
		return err
	}
	for i, info := range infos {
		if err := d.execute(info); err != nil {
			return debug.ErrorWrapf(vxs.ErrorSubmissionFailure{}, "Submit %d %q rejected: %v", i, info.Name, err)
		}
		d.log = append(d.log, vxs.SubmitInfo{
			Name:           info.Name,
			CommandBuffers: slices.Clone(info.CommandBuffers),
			Waits:          slices.Clone(info.Waits),
			Signals:        slices.Clone(info.Signals),
		})
		d.stats.Submits++
	}
	return nil
}

func (d *Device) execute(info vxs.SubmitInfo) error {
	if len(info.CommandBuffers) == 0 {
		return debug.Errorf("no command buffers")
	}
	for _, w := range info.Waits {
		if err := d.consume(w.Semaphore); err != nil {
			return err
		}
	}
	for _, cb := range info.CommandBuffers {
		transitions, ok := d.recorded[cb]
		if !ok {
			return debug.Errorf("command buffer 0x%X is not recorded", uint64(cb))
		}
		for _, t := range transitions {
			img, ok := d.images[t.Image]
			if !ok {
				return debug.Errorf("image 0x%X was destroyed", uint64(t.Image))
			}
			if t.Src.Layout != vxs.ImageLayoutUndefined && t.Src.Layout != img.layout {
				return debug.Errorf("image %q is in layout %s, transition expects %s", img.name, img.layout, t.Src.Layout)
			}
			img.layout = t.Dst.Layout
		}
		d.stats.CommandBuffersRun++
	}
	for _, s := range info.Signals {
		if err := d.signal(s); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) consume(s vxs.Semaphore) error {
	state, ok := d.semaphores[s]
	if !ok {
		return debug.Errorf("wait on unknown semaphore 0x%X", uint64(s))
	}
	if !state.signaled {
		return debug.Errorf("wait on semaphore 0x%X %q with no pending signal", uint64(s), state.name)
	}
	state.signaled = false
	return nil
}

func (d *Device) signal(s vxs.Semaphore) error {
	state, ok := d.semaphores[s]
	if !ok {
		return debug.Errorf("signal of unknown semaphore 0x%X", uint64(s))
	}
	if state.signaled {
		return debug.Errorf("signal of already signaled semaphore 0x%X %q", uint64(s), state.name)
	}
	state.signaled = true
	return nil
}

func (d *Device) Present(infos []vxs.PresentInfo) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if err := d.failPresent; err != nil {
		d.failPresent = nil
		return err
	}
	for _, info := range infos {
		if len(info.Swapchains) != len(info.ImageIndices) {
			return debug.ErrorWrapf(vxs.ErrorSubmissionFailure{}, "%d swapchains with %d image indices", len(info.Swapchains), len(info.ImageIndices))
		}
		for _, s := range info.Waits {
			if err := d.consume(s); err != nil {
				return debug.ErrorWrapf(vxs.ErrorSubmissionFailure{}, "Present rejected: %v", err)
			}
		}
		for i, sc := range info.Swapchains {
			surface, ok := d.swapchains[sc]
			if !ok {
				return debug.ErrorWrapf(vxs.ErrorSubmissionFailure{}, "Present to unknown swapchain 0x%X", uint64(sc))
			}
			if err := surface.present(info.ImageIndices[i]); err != nil {
				return err
			}
		}
		d.stats.Presents++
	}
	return nil
}

func (d *Device) WaitIdle() error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.stats.WaitIdles++
	return nil
}

// FailNextSubmit makes the next Submit call return err without executing.
func (d *Device) FailNextSubmit(err error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.failSubmit = err
}

// FailNextPresent makes the next Present call return err without presenting.
func (d *Device) FailNextPresent(err error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.failPresent = err
}

// PoolNames returns the name of every live command pool.
func (d *Device) PoolNames() []string {
	d.mtx.Lock()
	pools := maps.Clone(d.pools)
	d.mtx.Unlock()
	names := make([]string, 0, len(pools))
	for p := range pools {
		names = append(names, p.name)
	}
	slices.Sort(names)
	return names
}

func (d *Device) Stats() Stats {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	s := d.stats
	s.LiveCommandBuffers = len(d.buffers)
	s.LiveSemaphores = len(d.semaphores)
	s.LiveImages = len(d.images)
	s.LiveCommandPools = len(d.pools)
	return s
}

// Log returns every submit descriptor executed so far in execution order.
func (d *Device) Log() []vxs.SubmitInfo {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return slices.Clone(d.log)
}

// Layouts returns the current layout of every live image.
func (d *Device) Layouts() map[vxs.Image]vxs.ImageLayout {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	layouts := make(map[vxs.Image]vxs.ImageLayout, len(d.images))
	for k, v := range d.images {
		layouts[k] = v.layout
	}
	return layouts
}

// Signaled reports whether s has a signal nothing waited on yet.
func (d *Device) Signaled(s vxs.Semaphore) bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	state, ok := d.semaphores[s]
	return ok && state.signaled
}

/*
Surface is a headless swapchain. Images are handed out round robin, an image
is acquirable again once it has been presented.
*/
type Surface struct {
	device    *Device
	swapchain vxs.Swapchain
	images    []vxs.Image
	acquired  []bool
	next      int
	format    vxs.Format
	extent    gmath.Extent3i32
	stale     bool
}

var _ vxs.Surface = (*Surface)(nil)

func (d *Device) NewSurface(name string, extent gmath.Extent3i32, numImages int) (*Surface, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if numImages < 1 {
		return nil, debug.Errorf("Surface needs at least 1 image, got %d", numImages)
	}
	extent.Z = max(extent.Z, 1)
	info := vxs.ImageCreateInfo{
		Format: vxs.FormatB8G8R8A8SRGB,
		Usage:  vxs.ImageUsageColorAttachment | vxs.ImageUsageTransferDst,
		Extent: extent,
		Layers: 1,
	}
	images, err := d.createImages(name, info, numImages)
	if err != nil {
		return nil, debug.ErrorWrapf(err, "Failed to create surface images")
	}
	s := &Surface{
		device:    d,
		swapchain: vxs.Swapchain(d.handles.Next()),
		images:    images,
		acquired:  make([]bool, numImages),
		format:    info.Format,
		extent:    extent,
	}
	d.swapchains[s.swapchain] = s
	return s, nil
}

func (s *Surface) Swapchain() vxs.Swapchain { return s.swapchain }
func (s *Surface) Images() []vxs.Image      { return slices.Clone(s.images) }
func (s *Surface) Format() vxs.Format       { return s.format }
func (s *Surface) Extent() gmath.Extent3i32 { return s.extent }

func (s *Surface) AcquireNextImage(signal vxs.Semaphore) (uint32, error) {
	s.device.mtx.Lock()
	defer s.device.mtx.Unlock()
	if s.stale {
		return 0, debug.ErrorWrapf(vxs.ErrorStaleSurface{}, "Swapchain 0x%X", uint64(s.swapchain))
	}
	for i := 0; i < len(s.images); i++ {
		index := (s.next + i) % len(s.images)
		if s.acquired[index] {
			continue
		}
		if err := s.device.signal(signal); err != nil {
			return 0, debug.ErrorWrapf(err, "Failed to acquire image")
		}
		s.acquired[index] = true
		s.next = (index + 1) % len(s.images)
		return uint32(index), nil
	}
	return 0, debug.Errorf("Swapchain 0x%X has all %d images acquired", uint64(s.swapchain), len(s.images))
}

func (s *Surface) present(index uint32) error {
	if s.stale {
		return debug.ErrorWrapf(vxs.ErrorStaleSurface{}, "Swapchain 0x%X", uint64(s.swapchain))
	}
	if int(index) >= len(s.images) || !s.acquired[index] {
		return debug.ErrorWrapf(vxs.ErrorSubmissionFailure{}, "Present of image %d that was not acquired", index)
	}
	img := s.device.images[s.images[index]]
	if img.layout != vxs.ImageLayoutPresentSrc {
		return debug.ErrorWrapf(vxs.ErrorSubmissionFailure{}, "Present of image %d in layout %s", index, img.layout)
	}
	s.acquired[index] = false
	return nil
}

// MarkStale makes the surface report ErrorStaleSurface as if the window was resized.
func (s *Surface) MarkStale() {
	s.device.mtx.Lock()
	defer s.device.mtx.Unlock()
	s.stale = true
}

// Destroy releases the surface images, the surface must not be in use.
func (s *Surface) Destroy() {
	s.device.mtx.Lock()
	defer s.device.mtx.Unlock()
	for _, img := range s.images {
		delete(s.device.images, img)
	}
	delete(s.device.swapchains, s.swapchain)
	s.images = nil
}
