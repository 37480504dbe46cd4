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
	"testing"

	"goarrg.com/gmath"

	"goarrg.com/rhi/vxs"
	"goarrg.com/rhi/vxs/headless"
)

func TestRenderWithoutObjects(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()
	target := f.camera(t, "camera", 2)

	batch := f.pass(t)
	if len(batch.Submits) != 2 || len(batch.Presents) != 0 {
		t.Fatalf("%d submits %d presents, want predraw and postdraw only", len(batch.Submits), len(batch.Presents))
	}
	if got := len(target.Operations()); got != 3 {
		t.Fatalf("%d operations, want predraw, scene and postdraw", got)
	}
	layout := f.device.Layouts()[target.FrameChain().Image()]
	if layout != vxs.ImageLayoutShaderReadOnlyOptimal {
		t.Fatalf("frame image left in %s", layout)
	}
}

func TestRenderOrder(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()
	target := f.camera(t, "camera", 2)
	f.stage.Add(newDrawer(f.device), newDrawer(f.device))

	batch := f.pass(t)
	if len(batch.Submits) != 3 {
		t.Fatalf("%d submits, want 3", len(batch.Submits))
	}
	pre, scene, post := batch.Submits[0], batch.Submits[1], batch.Submits[2]
	if len(scene.CommandBuffers) != 2 {
		t.Fatalf("scene has %d command buffers, want one per object", len(scene.CommandBuffers))
	}
	if scene.Waits[0].Semaphore != pre.Signals[0] || post.Waits[0].Semaphore != scene.Signals[0] {
		t.Fatal("predraw, scene and postdraw are not chained in order")
	}
	if target.SyncPool().InUse() != 2 {
		t.Fatalf("sync pool has %d in use, want 2", target.SyncPool().InUse())
	}
}

func TestDrawInfo(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()
	camera := f.camera(t, "camera", 2)
	stereo, err := f.stage.NewRenderTarget(offscreen("stereo", vxs.TargetStereo, 2))
	if err != nil {
		t.Fatal(err)
	}
	d := newDrawer(f.device)
	f.stage.Add(d)

	f.pass(t)
	calls := d.drawCalls()
	if len(calls) != 3 {
		t.Fatalf("%d draw calls, want 1 for the camera and 2 for the stereo target", len(calls))
	}

	views := map[vxs.TargetID][]uint32{}
	for _, c := range calls {
		views[c.Target] = append(views[c.Target], c.View)
		var target *vxs.RenderTarget
		switch c.Target {
		case camera.ID():
			target = camera
		case stereo.ID():
			target = stereo
		default:
			t.Fatalf("draw call for unknown target %d", c.Target)
		}
		if c.TargetName != target.Name() || c.Type != target.Type() {
			t.Errorf("draw call for %q says %q %s", target.Name(), c.TargetName, c.Type)
		}
		if c.Image != target.FrameChain().Image() || c.Slot != target.FrameChain().DrawIndex() {
			t.Errorf("draw call for %q has image 0x%X slot %d", target.Name(), uint64(c.Image), c.Slot)
		}
		if c.Pool == nil {
			t.Errorf("draw call for %q has no command pool", target.Name())
		}
	}
	if len(views[camera.ID()]) != 1 || len(views[stereo.ID()]) != 2 {
		t.Fatalf("views %v", views)
	}
}

func TestWindowPresents(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()
	target, surface := f.window(t, "window", 2, 3)
	defer surface.Destroy()
	f.stage.Add(newDrawer(f.device))

	const passes = 7
	for i := 0; i < passes; i++ {
		batch := f.pass(t)
		if len(batch.Submits) != 3 || len(batch.Presents) != 1 {
			t.Fatalf("pass %d: %d submits %d presents, want 3 and 1", i, len(batch.Submits), len(batch.Presents))
		}
		if got := batch.Presents[0].ImageIndices[0]; got != target.FrameChain().ImageIndex() {
			t.Fatalf("pass %d: presented image %d, acquired %d", i, got, target.FrameChain().ImageIndex())
		}
	}
	stats := f.device.Stats()
	if stats.Presents != passes || stats.Submits != 3*passes {
		t.Fatalf("device saw %d submits %d presents", stats.Submits, stats.Presents)
	}
}

func TestStaleSurfaceRebuild(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()
	target, surface := f.window(t, "window", 2, 2)
	f.pass(t)

	surface.MarkStale()
	batch, err := f.stage.Render()
	if !errors.Is(err, vxs.ErrorStaleSurface{}) {
		t.Fatalf("Render() = %v, want ErrorStaleSurface", err)
	}
	var targetErr *vxs.TargetError
	if !errors.As(err, &targetErr) || targetErr.Target != "window" {
		t.Fatalf("Render() = %v, want a TargetError for the window", err)
	}
	if !batch.Empty() {
		t.Fatal("stale window contributed to the submission")
	}

	resized, err := f.device.NewSurface("resized", gmath.Extent3i32{X: 320, Y: 200, Z: 1}, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer resized.Destroy()
	if err := target.Rebuild(resized); err != nil {
		t.Fatal(err)
	}
	surface.Destroy()

	if got := target.Creator().Extent; got != (gmath.Extent3i32{X: 320, Y: 200, Z: 1}) {
		t.Fatalf("extent after rebuild %+v", got)
	}
	if target.FrameChain().DrawIndex() != 0 || target.FrameChain().Frame() != 0 {
		t.Fatal("rebuilt chain did not start over")
	}
	f.clock.advance(testPeriod)
	if batch := f.pass(t); len(batch.Presents) != 1 {
		t.Fatal("rebuilt window did not present")
	}
}

func TestWindowRecoversFromFailedDraw(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()
	target, surface := f.window(t, "window", 2, 3)
	defer surface.Destroy()
	d := newDrawer(f.device)
	f.stage.Add(d)

	d.fail[target.ID()] = errors.New("draw failed")
	batch, err := f.stage.Render()
	var targetErr *vxs.TargetError
	if !errors.As(err, &targetErr) || targetErr.Target != "window" {
		t.Fatalf("Render() = %v, want a TargetError for the window", err)
	}
	if !batch.Empty() {
		t.Fatal("failed window contributed to the submission")
	}
	acquired := target.FrameChain().ImageIndex()
	if err := f.ctx.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	f.clock.advance(testPeriod)
	delete(d.fail, target.ID())

	for i := 0; i < 7; i++ {
		batch := f.pass(t)
		if len(batch.Submits) != 3 || len(batch.Presents) != 1 {
			t.Fatalf("pass %d: %d submits %d presents, want 3 and 1", i, len(batch.Submits), len(batch.Presents))
		}
		if i == 0 && batch.Presents[0].ImageIndices[0] != acquired {
			t.Fatalf("presented image %d, want the image %d acquired by the failed pass",
				batch.Presents[0].ImageIndices[0], acquired)
		}
	}
}

// unknownImages hands out images the device never created.
type unknownImages struct {
	*headless.Surface
}

func (unknownImages) Images() []vxs.Image {
	return []vxs.Image{1 << 40, 1<<40 + 1}
}

func TestRebuildFailureKeepsChain(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()
	target, surface := f.window(t, "window", 2, 2)
	defer surface.Destroy()
	f.pass(t)

	other, err := f.device.NewSurface("other", gmath.Extent3i32{X: 32, Y: 32, Z: 1}, 2)
	if err != nil {
		t.Fatal(err)
	}
	defer other.Destroy()

	chain := target.FrameChain()
	before := f.device.Stats()
	if err := target.Rebuild(unknownImages{other}); err == nil {
		t.Fatal("Rebuild() accepted a surface with unknown images")
	}
	if target.FrameChain() != chain {
		t.Fatal("failed Rebuild replaced the frame chain")
	}
	if target.Creator().Surface != vxs.Surface(surface) {
		t.Fatal("failed Rebuild replaced the surface")
	}
	after := f.device.Stats()
	if after.LiveCommandBuffers != before.LiveCommandBuffers || after.LiveSemaphores != before.LiveSemaphores {
		t.Fatalf("failed Rebuild leaked: before %+v after %+v", before, after)
	}

	if batch := f.pass(t); len(batch.Presents) != 1 {
		t.Fatal("window stopped presenting after a failed Rebuild")
	}
}

func TestRenderOutsideStage(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()
	target := f.camera(t, "camera", 2)
	f.stage.Add(newDrawer(f.device))

	for i := 0; i < 4*int(vxs.DefaultSyncPoolSize); i++ {
		batch, err := target.Render(f.stage)
		if err != nil {
			t.Fatalf("render %d: %v", i, err)
		}
		if got := target.SyncPool().InUse(); got != 2 {
			t.Fatalf("render %d: %d sync primitives in use, want 2", i, got)
		}
		if err := batch.Submit(f.device); err != nil {
			t.Fatal(err)
		}
		if err := f.ctx.WaitIdle(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestStalePresent(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()
	_, surface := f.window(t, "window", 2, 2)
	defer surface.Destroy()

	batch, err := f.stage.Render()
	if err != nil {
		t.Fatal(err)
	}
	surface.MarkStale()
	if err := batch.Submit(f.device); !errors.Is(err, vxs.ErrorStaleSurface{}) {
		t.Fatalf("Submit() = %v, want ErrorStaleSurface", err)
	}
}

func TestDestroyReleasesEverything(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	f.camera(t, "camera", 3)
	if _, err := f.stage.NewRenderTarget(offscreen("stereo", vxs.TargetStereo, 2)); err != nil {
		t.Fatal(err)
	}
	_, surface := f.window(t, "window", 3, 3)
	f.stage.Add(newDrawer(f.device), newDrawer(f.device))

	for i := 0; i < 4; i++ {
		f.pass(t)
	}
	if got := f.device.PoolNames(); len(got) != 3 {
		t.Fatalf("live pools %v, want one per target", got)
	}

	f.close()
	surface.Destroy()

	stats := f.device.Stats()
	if stats.LiveCommandBuffers != 0 || stats.LiveSemaphores != 0 || stats.LiveImages != 0 || stats.LiveCommandPools != 0 {
		t.Fatalf("leaked after destroy: %+v", stats)
	}
}

func TestNewRenderTargetInvalid(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()

	c := offscreen("camera", vxs.TargetCamera, 0)
	if _, err := f.stage.NewRenderTarget(c); err == nil {
		t.Fatal("accepted a creator with no frames")
	}
	if len(f.stage.Targets()) != 0 {
		t.Fatal("failed target was added to the stage")
	}
	if got := f.device.Stats(); got.LiveCommandPools != 0 || got.LiveSemaphores != 0 {
		t.Fatalf("failed creation leaked: %+v", got)
	}
}

type destroyCounter int

func (c *destroyCounter) Destroy() { *c++ }

func TestQueueDestroy(t *testing.T) {
	f := newFixture(t, vxs.Config{})
	defer f.close()

	var c destroyCounter
	f.ctx.QueueDestroy(&c, &c)
	if c != 0 {
		t.Fatal("queued destroy ran before WaitIdle")
	}
	if err := f.ctx.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	if err := f.ctx.WaitIdle(); err != nil {
		t.Fatal(err)
	}
	if c != 2 {
		t.Fatalf("%d destroys ran, want 2", c)
	}
}
