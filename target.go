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
	"fmt"
	"sync"

	"goarrg.com/debug"
	"goarrg.com/gmath"

	"goarrg.com/rhi/vxs/internal/util"
)

// predraw, scene, postdraw
const chainLength = 3

type TargetID uint64

/*
DrawInfo describes the render target an object is drawing for. It is a plain
value, objects must not hold on to it past the Draw call.
*/
type DrawInfo struct {
	Target     TargetID
	TargetName string
	Type       TargetType
	Slot       int
	View       uint32
	Image      Image
	Extent     gmath.Extent3i32
	Format     Format
	// Pool is safe for concurrent use when the context runs in parallel mode.
	Pool CommandPool
}

// Object is anything owned by a stage, objects implementing Drawer and
// Updater take part in rendering and updating.
type Object any

type Drawer interface {
	Draw(info DrawInfo) ([]CommandBuffer, error)
}

type lockedCommandPool struct {
	mtx  sync.Mutex
	pool CommandPool
}

func (p *lockedCommandPool) AllocateCommandBuffers(n int) ([]CommandBuffer, error) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.pool.AllocateCommandBuffers(n)
}

func (p *lockedCommandPool) FreeCommandBuffers(buffers ...CommandBuffer) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.pool.FreeCommandBuffers(buffers...)
}

func (p *lockedCommandPool) Destroy() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.pool.Destroy()
}

/*
RenderTarget produces one submission batch per pass across its own frame
chain. It exclusively owns its command pool, sync pool and frame chain,
anything else refers to it by TargetID.
*/
type RenderTarget struct {
	noCopy      util.NoCopy
	ctx         *Context
	id          TargetID
	creator     Creator
	commandPool CommandPool
	drawPool    CommandPool
	syncPool    *SyncPool
	chain       *FrameChain
	ops         []*CommandBatch
}

func NewRenderTarget(ctx *Context, creator Creator) (t *RenderTarget, err error) {
	ctx.noCopy.Check()
	if err := creator.validate(); err != nil {
		return nil, debug.ErrorWrapf(err, "Invalid creator")
	}
	instance.logger.IPrintf("Creating render target: %s", prettyString(&creator))

	t = &RenderTarget{ctx: ctx, id: ctx.nextTargetID(), creator: creator}
	t.noCopy.Init()
	defer func() {
		if err != nil {
			t.release()
			t.noCopy.Close()
			t = nil
		}
	}()

	if t.commandPool, err = ctx.device.NewCommandPool(creator.Name); err != nil {
		return t, debug.ErrorWrapf(err, "Failed to create command pool for %q", creator.Name)
	}
	t.drawPool = t.commandPool
	if ctx.config.Parallel {
		t.drawPool = &lockedCommandPool{pool: t.commandPool}
	}
	if t.syncPool, err = NewSyncPool(ctx, creator.Name+"_sync", int(creator.SyncPoolSize)); err != nil {
		return t, err
	}
	if t.chain, err = newFrameChain(ctx, t.commandPool, creator); err != nil {
		return t, debug.ErrorWrapf(err, "Failed to create frame chain for %q", creator.Name)
	}

	ctx.nTargets++
	return t, nil
}

func (t *RenderTarget) ID() TargetID {
	t.noCopy.Check()
	return t.id
}

func (t *RenderTarget) Name() string {
	t.noCopy.Check()
	return t.creator.Name
}

func (t *RenderTarget) Type() TargetType {
	t.noCopy.Check()
	return t.creator.Type
}

func (t *RenderTarget) Creator() Creator {
	t.noCopy.Check()
	return t.creator
}

func (t *RenderTarget) FrameChain() *FrameChain {
	t.noCopy.Check()
	return t.chain
}

func (t *RenderTarget) SyncPool() *SyncPool {
	t.noCopy.Check()
	return t.syncPool
}

func (t *RenderTarget) CommandPool() CommandPool {
	t.noCopy.Check()
	return t.drawPool
}

// Operations returns the batches accumulated by the last Render.
func (t *RenderTarget) Operations() []*CommandBatch {
	t.noCopy.Check()
	return t.ops
}

func (t *RenderTarget) ReadyToRender() bool {
	t.noCopy.Check()
	return t.chain.ReadyToRender()
}

/*
reset prepares the target for a new pass. The previous pass's GPU work must
have completed, nothing here can check that.
*/
func (t *RenderTarget) reset() {
	clear(t.ops)
	t.ops = t.ops[:0]
	t.syncPool.Reset()
}

/*
Render builds this target's submission for one pass over the stage's
objects: advance the frame chain, predraw, one batch of every object's draw
commands, postdraw, chained in that order on the GPU. It starts by resetting
the sync pool, so the previous pass's GPU work must have completed. A failed
Render contributes nothing, a surface image it acquired is kept for the next
one.
*/
func (t *RenderTarget) Render(stage *Stage) (SubmissionBatch, error) {
	t.noCopy.Check()
	t.reset()
	if err := t.chain.NextFrame(); err != nil {
		return SubmissionBatch{}, debug.ErrorWrapf(err, "Failed to advance frame chain of %q", t.creator.Name)
	}

	t.ops = t.ops[:0]
	t.ops = append(t.ops, t.chain.Predraw()...)

	scene, err := t.drawObjects(stage.objectsForDraw())
	if err != nil {
		return SubmissionBatch{}, err
	}
	t.ops = append(t.ops, scene)

	t.ops = append(t.ops, t.chain.Postdraw()...)

	ChainBatches(t.syncPool, PipelineStageColorAttachmentOutput, t.ops)
	t.chain.commit()
	return BuildSubmission(t.ops), nil
}

func (t *RenderTarget) drawObjects(objects []Object) (*CommandBatch, error) {
	base := DrawInfo{
		Target:     t.id,
		TargetName: t.creator.Name,
		Type:       t.creator.Type,
		Slot:       t.chain.drawIndex,
		Image:      t.chain.Image(),
		Extent:     t.chain.extent,
		Format:     t.chain.format,
		Pool:       t.drawPool,
	}
	calls := t.creator.Type.defaultDrawCalls(base)

	// each object only writes its own entry
	results := make([][]CommandBuffer, len(objects))
	err := t.ctx.exec.run(len(objects), func(i int) error {
		d, ok := objects[i].(Drawer)
		if !ok {
			return nil
		}
		for _, info := range calls {
			buffers, err := d.Draw(info)
			if err != nil {
				return debug.ErrorWrapf(err, "Object %d failed to draw view %d of %q", i, info.View, t.creator.Name)
			}
			results[i] = append(results[i], buffers...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	scene := NewCommandBatch(fmt.Sprintf("%s_scene_%d", t.creator.Name, base.Slot))
	for _, buffers := range results {
		scene.CommandBuffers = append(scene.CommandBuffers, buffers...)
	}
	return scene, nil
}

/*
Rebuild recreates the frame chain, use it after ErrorStaleSurface once the
window layer recreated the surface. Waits for the device to go idle first.
On failure the target keeps its previous chain.
*/
func (t *RenderTarget) Rebuild(surface Surface) error {
	t.noCopy.Check()
	if err := t.ctx.WaitIdle(); err != nil {
		return err
	}

	creator := t.creator
	if surface != nil {
		creator.Surface = surface
	}
	if err := creator.validate(); err != nil {
		return debug.ErrorWrapf(err, "Invalid creator for rebuild")
	}

	chain, err := newFrameChain(t.ctx, t.commandPool, creator)
	if err != nil {
		return debug.ErrorWrapf(err, "Failed to rebuild frame chain for %q", creator.Name)
	}
	if t.chain != nil {
		t.chain.Destroy()
	}
	t.chain = chain
	t.creator = creator
	t.reset()
	instance.logger.IPrintf("Render target %q rebuilt at %dx%d", creator.Name, creator.Extent.X, creator.Extent.Y)
	return nil
}

func (t *RenderTarget) release() {
	if t.chain != nil {
		t.chain.Destroy()
		t.chain = nil
	}
	if t.syncPool != nil {
		t.syncPool.Destroy()
		t.syncPool = nil
	}
	if t.commandPool != nil {
		t.commandPool.Destroy()
		t.commandPool = nil
		t.drawPool = nil
	}
	t.ops = nil
}

// Destroy releases the target, the device must have finished all work
// referencing it.
func (t *RenderTarget) Destroy() {
	t.noCopy.Check()
	t.release()
	t.ctx.nTargets--
	instance.logger.IPrintf("Render target %q destroyed", t.creator.Name)
	t.noCopy.Close()
}
