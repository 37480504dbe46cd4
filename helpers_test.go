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
	"sync"
	"testing"
	"time"

	"goarrg.com/gmath"

	"goarrg.com/rhi/vxs"
	"goarrg.com/rhi/vxs/headless"
)

const (
	testRate   = 100
	testPeriod = 10 * time.Millisecond
)

type fakeClock struct {
	mtx sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.advance(d)
}

func (c *fakeClock) advance(d time.Duration) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	device *headless.Device
	clock  *fakeClock
	ctx    *vxs.Context
	stage  *vxs.Stage
}

func newFixture(t *testing.T, config vxs.Config) *fixture {
	t.Helper()
	f := &fixture{
		device: headless.New(),
		clock:  &fakeClock{now: time.Unix(1000, 0)},
	}
	config.Clock = f.clock
	ctx, err := vxs.NewContext(f.device, config)
	if err != nil {
		t.Fatal(err)
	}
	f.ctx = ctx
	f.stage = vxs.NewStage(ctx, t.Name())
	return f
}

func (f *fixture) close() {
	f.stage.Destroy()
	f.ctx.Destroy()
}

func offscreen(name string, kind vxs.TargetType, frames int32) vxs.Creator {
	return vxs.Creator{
		Name:       name,
		Type:       kind,
		FrameCount: frames,
		FrameRate:  testRate,
		Usage:      vxs.ImageUsageColorAttachment | vxs.ImageUsageSampled,
		Extent:     gmath.Extent3i32{X: 64, Y: 64, Z: 1},
	}
}

func (f *fixture) camera(t *testing.T, name string, frames int32) *vxs.RenderTarget {
	t.Helper()
	target, err := f.stage.NewRenderTarget(offscreen(name, vxs.TargetCamera, frames))
	if err != nil {
		t.Fatal(err)
	}
	return target
}

func (f *fixture) window(t *testing.T, name string, frames int32, images int) (*vxs.RenderTarget, *headless.Surface) {
	t.Helper()
	surface, err := f.device.NewSurface(name, gmath.Extent3i32{X: 640, Y: 480, Z: 1}, images)
	if err != nil {
		t.Fatal(err)
	}
	creator := offscreen(name, vxs.TargetWindow, frames)
	creator.Surface = surface
	target, err := f.stage.NewRenderTarget(creator)
	if err != nil {
		t.Fatal(err)
	}
	return target, surface
}

// pass renders, submits and waits like an app driver does once per frame.
func (f *fixture) pass(t *testing.T) vxs.SubmissionBatch {
	t.Helper()
	batch, err := f.stage.Render()
	if err != nil {
		t.Fatal(err)
	}
	if err := batch.Submit(f.device); err != nil {
		t.Fatal(err)
	}
	if err := f.ctx.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	f.clock.advance(testPeriod)
	return batch
}

type drawKey struct {
	target vxs.TargetID
	slot   int
	view   uint32
}

// drawer records one command buffer per target, slot and view.
type drawer struct {
	device *headless.Device

	mtx     sync.Mutex
	buffers map[drawKey]vxs.CommandBuffer
	calls   []vxs.DrawInfo
	fail    map[vxs.TargetID]error
	updated time.Duration
}

func newDrawer(device *headless.Device) *drawer {
	return &drawer{
		device:  device,
		buffers: map[drawKey]vxs.CommandBuffer{},
		fail:    map[vxs.TargetID]error{},
	}
}

func (d *drawer) Update(dt time.Duration) error {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.updated += dt
	return nil
}

func (d *drawer) Draw(info vxs.DrawInfo) ([]vxs.CommandBuffer, error) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.calls = append(d.calls, info)
	if err := d.fail[info.Target]; err != nil {
		return nil, err
	}
	key := drawKey{target: info.Target, slot: info.Slot, view: info.View}
	cb, ok := d.buffers[key]
	if !ok {
		buffers, err := info.Pool.AllocateCommandBuffers(1)
		if err != nil {
			return nil, err
		}
		cb = buffers[0]
		d.buffers[key] = cb
	}
	if err := d.device.Record(cb); err != nil {
		return nil, err
	}
	return []vxs.CommandBuffer{cb}, nil
}

func (d *drawer) drawCalls() []vxs.DrawInfo {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	calls := d.calls
	d.calls = nil
	return calls
}
