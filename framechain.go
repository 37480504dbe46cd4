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
	"errors"
	"fmt"

	"goarrg.com/debug"
	"goarrg.com/gmath"

	"goarrg.com/rhi/vxs/internal/util"
)

/*
FrameChain rotates a render target through FrameCount buffered slots. Slot
images and the fixed predraw/postdraw transition batches are built once at
creation. Presentable chains record one transition pair per surface image and
select them by the acquired image index, off-screen chains by draw index.
*/
type FrameChain struct {
	noCopy util.NoCopy
	name   string
	kind   TargetType
	device Device
	pool   CommandPool

	surface    Surface
	images     []Image
	ownsImages bool
	extent     gmath.Extent3i32
	format     Format

	predraw  []*CommandBatch
	postdraw []*CommandBatch

	// per slot, signaled when the acquired surface image is writable
	acquire []Semaphore
	// per surface image, signaled when the image may be presented
	release []Semaphore

	frameCount int
	frame      uint64
	drawIndex  int
	readIndex  int
	imageIndex uint32

	// set while the surface image at imageIndex is acquired but no
	// submission has waited on acquire[acquireSlot] yet
	acquired    bool
	acquireSlot int

	pacer pacer
}

func newFrameChain(ctx *Context, pool CommandPool, c Creator) (chain *FrameChain, err error) {
	chain = &FrameChain{
		name:       c.Name,
		kind:       c.Type,
		device:     ctx.device,
		pool:       pool,
		surface:    c.Surface,
		extent:     c.Extent,
		format:     c.Format,
		frameCount: int(c.FrameCount),
		pacer:      newPacer(ctx.clock(), c.FrameRate, c.PacingSlack),
	}
	chain.noCopy.Init()
	defer func() {
		if err != nil {
			chain.Destroy()
			chain = nil
		}
	}()

	if c.Type.Presentable() {
		chain.images = c.Surface.Images()
		if chain.acquire, err = ctx.device.CreateSemaphores(c.Name+"_acquire", chain.frameCount); err != nil {
			return chain, debug.ErrorWrapf(err, "Failed to create acquire semaphores")
		}
		if chain.release, err = ctx.device.CreateSemaphores(c.Name+"_release", len(chain.images)); err != nil {
			return chain, debug.ErrorWrapf(err, "Failed to create release semaphores")
		}
	} else {
		chain.images, err = ctx.device.CreateImages(c.Name, ImageCreateInfo{
			Format: c.Format,
			Usage:  c.Usage,
			Extent: c.Extent,
			Layers: c.Type.layers(),
		}, chain.frameCount)
		if err != nil {
			return chain, debug.ErrorWrapf(err, "Failed to create %d frame images", chain.frameCount)
		}
		chain.ownsImages = true
	}

	buffers, err := pool.AllocateCommandBuffers(2 * len(chain.images))
	if err != nil {
		return chain, debug.ErrorWrapf(err, "Failed to allocate transition command buffers")
	}
	chain.predraw = make([]*CommandBatch, len(chain.images))
	chain.postdraw = make([]*CommandBatch, len(chain.images))
	for i := range chain.images {
		chain.predraw[i] = NewCommandBatch(fmt.Sprintf("%s_predraw_%d", c.Name, i), buffers[2*i])
		chain.postdraw[i] = NewCommandBatch(fmt.Sprintf("%s_postdraw_%d", c.Name, i), buffers[2*i+1])
	}
	for i, img := range chain.images {
		if err := ctx.device.RecordTransitions(buffers[2*i], c.Type.predrawTransition(img)); err != nil {
			return chain, debug.ErrorWrapf(err, "Failed to record predraw for slot %d", i)
		}
		if err := ctx.device.RecordTransitions(buffers[2*i+1], c.Type.postdrawTransition(img)); err != nil {
			return chain, debug.ErrorWrapf(err, "Failed to record postdraw for slot %d", i)
		}
	}

	instance.logger.VPrintf("FrameChain %q created with %d slots over %d images", c.Name, chain.frameCount, len(chain.images))
	return chain, nil
}

func (c *FrameChain) FrameCount() int {
	c.noCopy.Check()
	return c.frameCount
}

// Frame is the number of frames started since the chain was created.
func (c *FrameChain) Frame() uint64 {
	c.noCopy.Check()
	return c.frame
}

func (c *FrameChain) DrawIndex() int {
	c.noCopy.Check()
	return c.drawIndex
}

func (c *FrameChain) ReadIndex() int {
	c.noCopy.Check()
	return c.readIndex
}

// ImageIndex is the surface image acquired by the last NextFrame, it is
// always 0 for off-screen chains.
func (c *FrameChain) ImageIndex() uint32 {
	c.noCopy.Check()
	return c.imageIndex
}

func (c *FrameChain) Extent() gmath.Extent3i32 {
	c.noCopy.Check()
	return c.extent
}

// Image is the image currently being drawn into.
func (c *FrameChain) Image() Image {
	c.noCopy.Check()
	return c.images[c.opIndex()]
}

// ReadImage is the image of the most recently completed slot, presentable
// chains hand their images back to the surface so it is always 0 for them.
func (c *FrameChain) ReadImage() Image {
	c.noCopy.Check()
	if c.kind.Presentable() {
		return 0
	}
	return c.images[c.readIndex]
}

func (c *FrameChain) opIndex() int {
	if c.kind.Presentable() {
		return int(c.imageIndex)
	}
	return c.drawIndex
}

// ReadyToRender reports whether the frame rate allows producing a new frame.
func (c *FrameChain) ReadyToRender() bool {
	c.noCopy.Check()
	return c.pacer.ready()
}

/*
NextFrame moves drawing to the next slot. Presentable chains also acquire the
next surface image and return ErrorStaleSurface when the surface has to be
rebuilt, the indices have advanced regardless. An image acquired by a
previous NextFrame whose frame never got submitted is reused instead of
acquiring another one.
*/
func (c *FrameChain) NextFrame() error {
	c.noCopy.Check()
	c.readIndex = c.drawIndex
	c.drawIndex = (c.drawIndex + 1) % c.frameCount
	c.frame++

	if !c.kind.Presentable() {
		return nil
	}
	if c.acquired {
		instance.logger.VPrintf("FrameChain %q reusing unsubmitted image %d", c.name, c.imageIndex)
		return nil
	}
	index, err := c.surface.AcquireNextImage(c.acquire[c.drawIndex])
	if err != nil {
		if errors.Is(err, ErrorStaleSurface{}) {
			return debug.ErrorWrapf(err, "FrameChain %q surface is out of date", c.name)
		}
		return debug.ErrorWrapf(err, "FrameChain %q failed to acquire surface image", c.name)
	}
	if int(index) >= len(c.images) {
		return debug.Errorf("FrameChain %q acquired image %d, surface only has %d", c.name, index, len(c.images))
	}
	c.imageIndex = index
	c.acquired = true
	c.acquireSlot = c.drawIndex
	return nil
}

// commit marks the current frame as handed to a submission, the next
// NextFrame acquires a new surface image.
func (c *FrameChain) commit() {
	c.acquired = false
}

// Predraw returns the transition into the drawable layout for the current
// slot, the batch is a fresh copy that may be chained freely.
func (c *FrameChain) Predraw() []*CommandBatch {
	c.noCopy.Check()
	b := c.predraw[c.opIndex()].Clone()
	if c.kind.Presentable() {
		b.Waits = append(b.Waits, SemaphoreWait{Semaphore: c.acquire[c.acquireSlot], Stage: PipelineStageColorAttachmentOutput})
	}
	return []*CommandBatch{b}
}

// Postdraw returns the transition out of the drawable layout for the current
// slot, presentable chains also request presentation.
func (c *FrameChain) Postdraw() []*CommandBatch {
	c.noCopy.Check()
	b := c.postdraw[c.opIndex()].Clone()
	if c.kind.Presentable() {
		b.Signals = append(b.Signals, c.release[c.imageIndex])
		b.Present = &PresentTarget{Swapchain: c.surface.Swapchain(), ImageIndex: c.imageIndex}
	}
	return []*CommandBatch{b}
}

/*
Destroy releases everything the chain created. Transition command buffers go
back to the command pool for every slot even if releasing anything else
fails. The device must be done with all work referencing the chain.
*/
func (c *FrameChain) Destroy() {
	c.noCopy.Check()
	defer c.noCopy.Close()
	defer func() {
		for _, ops := range [][]*CommandBatch{c.predraw, c.postdraw} {
			for _, op := range ops {
				if op != nil {
					c.pool.FreeCommandBuffers(op.CommandBuffers...)
				}
			}
		}
		c.predraw = nil
		c.postdraw = nil
	}()

	if len(c.acquire) > 0 {
		c.device.DestroySemaphores(c.acquire...)
	}
	if len(c.release) > 0 {
		c.device.DestroySemaphores(c.release...)
	}
	c.acquire, c.release = nil, nil
	if c.ownsImages && len(c.images) > 0 {
		c.device.DestroyImages(c.images...)
	}
	c.images = nil
	instance.logger.VPrintf("FrameChain %q destroyed", c.name)
}
