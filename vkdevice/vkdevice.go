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

// Package vkdevice implements vxs.Device on top of an existing Vulkan device.
package vkdevice

import (
	"sync"

	vk "github.com/vulkan-go/vulkan"
	"goarrg.com/debug"

	"goarrg.com/rhi/vxs"
	"goarrg.com/rhi/vxs/internal/util"
)

var instance = struct {
	logger *debug.Logger
}{
	logger: debug.NewLogger("vxs", "vkdevice"),
}

// CreateInfo takes handles owned by the caller, they must outlive the Device.
type CreateInfo struct {
	PhysicalDevice   vk.PhysicalDevice
	Device           vk.Device
	QueueFamilyIndex uint32
	GraphicsQueue    vk.Queue
	PresentQueue     vk.Queue
}

type deviceImage struct {
	vkImage  vk.Image
	vkMemory vk.DeviceMemory
	owned    bool
}

/*
Device maps vxs handles onto Vulkan handles. It is safe for concurrent use,
command pools are not.
*/
type Device struct {
	noCopy  util.NoCopy
	mtx     sync.Mutex
	handles util.HandleAllocator

	vkDevice         vk.Device
	queueFamilyIndex uint32
	graphicsQueue    vk.Queue
	presentQueue     vk.Queue
	memoryProperties vk.PhysicalDeviceMemoryProperties

	commandBuffers map[vxs.CommandBuffer]vk.CommandBuffer
	semaphores     map[vxs.Semaphore]vk.Semaphore
	images         map[vxs.Image]deviceImage
	swapchains     map[vxs.Swapchain]vk.Swapchain
}

var _ vxs.Device = (*Device)(nil)

func New(info CreateInfo) (*Device, error) {
	if info.Device == nil || info.GraphicsQueue == nil {
		return nil, debug.Errorf("CreateInfo requires a Device and a GraphicsQueue")
	}
	if info.PresentQueue == nil {
		info.PresentQueue = info.GraphicsQueue
	}
	d := &Device{
		vkDevice:         info.Device,
		queueFamilyIndex: info.QueueFamilyIndex,
		graphicsQueue:    info.GraphicsQueue,
		presentQueue:     info.PresentQueue,
		commandBuffers:   map[vxs.CommandBuffer]vk.CommandBuffer{},
		semaphores:       map[vxs.Semaphore]vk.Semaphore{},
		images:           map[vxs.Image]deviceImage{},
		swapchains:       map[vxs.Swapchain]vk.Swapchain{},
	}
	d.noCopy.Init()
	vk.GetPhysicalDeviceMemoryProperties(info.PhysicalDevice, &d.memoryProperties)
	d.memoryProperties.Deref()
	return d, nil
}

func (d *Device) lookupCommandBuffers(buffers []vxs.CommandBuffer) ([]vk.CommandBuffer, error) {
	vkBuffers := make([]vk.CommandBuffer, len(buffers))
	for i, cb := range buffers {
		vkBuffer, ok := d.commandBuffers[cb]
		if !ok {
			return nil, debug.Errorf("Unknown command buffer 0x%X", uint64(cb))
		}
		vkBuffers[i] = vkBuffer
	}
	return vkBuffers, nil
}

func (d *Device) lookupSemaphores(semaphores []vxs.Semaphore) ([]vk.Semaphore, error) {
	vkSemaphores := make([]vk.Semaphore, len(semaphores))
	for i, s := range semaphores {
		vkSemaphore, ok := d.semaphores[s]
		if !ok {
			return nil, debug.Errorf("Unknown semaphore 0x%X", uint64(s))
		}
		vkSemaphores[i] = vkSemaphore
	}
	return vkSemaphores, nil
}

type CommandPool struct {
	device        *Device
	name          string
	vkCommandPool vk.CommandPool
	owned         map[vxs.CommandBuffer]struct{}
}

var _ vxs.CommandPool = (*CommandPool)(nil)

func (d *Device) NewCommandPool(name string) (vxs.CommandPool, error) {
	d.noCopy.Check()
	p := &CommandPool{device: d, name: name, owned: map[vxs.CommandBuffer]struct{}{}}
	ret := vk.CreateCommandPool(d.vkDevice, &vk.CommandPoolCreateInfo{
		SType:            vk.StructureTypeCommandPoolCreateInfo,
		Flags:            vk.CommandPoolCreateFlags(vk.CommandPoolCreateResetCommandBufferBit),
		QueueFamilyIndex: d.queueFamilyIndex,
	}, nil, &p.vkCommandPool)
	if ret != vk.Success {
		return nil, debug.ErrorWrapf(vk.Error(ret), "Failed to create command pool %q", name)
	}
	return p, nil
}

func (p *CommandPool) AllocateCommandBuffers(n int) ([]vxs.CommandBuffer, error) {
	if n == 0 {
		return nil, nil
	}
	vkBuffers := make([]vk.CommandBuffer, n)
	ret := vk.AllocateCommandBuffers(p.device.vkDevice, &vk.CommandBufferAllocateInfo{
		SType:              vk.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p.vkCommandPool,
		Level:              vk.CommandBufferLevelPrimary,
		CommandBufferCount: uint32(n),
	}, vkBuffers)
	if ret != vk.Success {
		return nil, debug.ErrorWrapf(vk.Error(ret), "Failed to allocate %d command buffers from %q", n, p.name)
	}

	p.device.mtx.Lock()
	defer p.device.mtx.Unlock()
	buffers := make([]vxs.CommandBuffer, n)
	for i, vkBuffer := range vkBuffers {
		buffers[i] = vxs.CommandBuffer(p.device.handles.Next())
		p.device.commandBuffers[buffers[i]] = vkBuffer
		p.owned[buffers[i]] = struct{}{}
	}
	return buffers, nil
}

func (p *CommandPool) FreeCommandBuffers(buffers ...vxs.CommandBuffer) {
	p.device.mtx.Lock()
	vkBuffers := make([]vk.CommandBuffer, 0, len(buffers))
	for _, cb := range buffers {
		if _, ok := p.owned[cb]; !ok {
			instance.logger.VPrintf("CommandPool %q ignoring free of foreign command buffer 0x%X", p.name, uint64(cb))
			continue
		}
		vkBuffers = append(vkBuffers, p.device.commandBuffers[cb])
		delete(p.device.commandBuffers, cb)
		delete(p.owned, cb)
	}
	p.device.mtx.Unlock()

	if len(vkBuffers) > 0 {
		vk.FreeCommandBuffers(p.device.vkDevice, p.vkCommandPool, uint32(len(vkBuffers)), vkBuffers)
	}
}

func (p *CommandPool) Destroy() {
	p.device.mtx.Lock()
	for cb := range p.owned {
		delete(p.device.commandBuffers, cb)
	}
	p.owned = nil
	p.device.mtx.Unlock()
	vk.DestroyCommandPool(p.device.vkDevice, p.vkCommandPool, nil)
}

func (d *Device) CreateSemaphores(name string, n int) ([]vxs.Semaphore, error) {
	d.noCopy.Check()
	vkSemaphores := make([]vk.Semaphore, 0, n)
	for i := 0; i < n; i++ {
		var s vk.Semaphore
		ret := vk.CreateSemaphore(d.vkDevice, &vk.SemaphoreCreateInfo{
			SType: vk.StructureTypeSemaphoreCreateInfo,
		}, nil, &s)
		if ret != vk.Success {
			for _, s := range vkSemaphores {
				vk.DestroySemaphore(d.vkDevice, s, nil)
			}
			return nil, debug.ErrorWrapf(vk.Error(ret), "Failed to create semaphore %d of %d for %q", i, n, name)
		}
		vkSemaphores = append(vkSemaphores, s)
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()
	semaphores := make([]vxs.Semaphore, n)
	for i, s := range vkSemaphores {
		semaphores[i] = vxs.Semaphore(d.handles.Next())
		d.semaphores[semaphores[i]] = s
	}
	return semaphores, nil
}

func (d *Device) DestroySemaphores(semaphores ...vxs.Semaphore) {
	d.noCopy.Check()
	d.mtx.Lock()
	defer d.mtx.Unlock()
	for _, s := range semaphores {
		if vkSemaphore, ok := d.semaphores[s]; ok {
			vk.DestroySemaphore(d.vkDevice, vkSemaphore, nil)
			delete(d.semaphores, s)
		}
	}
}

func (d *Device) findMemoryType(typeBits uint32, flags vk.MemoryPropertyFlags) (uint32, bool) {
	for i := uint32(0); i < d.memoryProperties.MemoryTypeCount; i++ {
		if typeBits&(1<<i) == 0 {
			continue
		}
		t := d.memoryProperties.MemoryTypes[i]
		t.Deref()
		if t.PropertyFlags&flags == flags {
			return i, true
		}
	}
	return 0, false
}

func (d *Device) createImage(info vxs.ImageCreateInfo) (deviceImage, error) {
	img := deviceImage{owned: true}
	ret := vk.CreateImage(d.vkDevice, &vk.ImageCreateInfo{
		SType:     vk.StructureTypeImageCreateInfo,
		ImageType: vk.ImageType2d,
		Format:    vk.Format(info.Format),
		Extent: vk.Extent3D{
			Width:  uint32(info.Extent.X),
			Height: uint32(info.Extent.Y),
			Depth:  uint32(max(info.Extent.Z, 1)),
		},
		MipLevels:     1,
		ArrayLayers:   max(info.Layers, 1),
		Samples:       vk.SampleCount1Bit,
		Tiling:        vk.ImageTilingOptimal,
		Usage:         vk.ImageUsageFlags(info.Usage),
		SharingMode:   vk.SharingModeExclusive,
		InitialLayout: vk.ImageLayoutUndefined,
	}, nil, &img.vkImage)
	if ret != vk.Success {
		return img, debug.ErrorWrapf(vk.Error(ret), "Failed to create image")
	}

	var requirements vk.MemoryRequirements
	vk.GetImageMemoryRequirements(d.vkDevice, img.vkImage, &requirements)
	requirements.Deref()
	memoryType, ok := d.findMemoryType(requirements.MemoryTypeBits, vk.MemoryPropertyFlags(vk.MemoryPropertyDeviceLocalBit))
	if !ok {
		vk.DestroyImage(d.vkDevice, img.vkImage, nil)
		return img, debug.Errorf("No device local memory type in 0x%X", requirements.MemoryTypeBits)
	}

	ret = vk.AllocateMemory(d.vkDevice, &vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  requirements.Size,
		MemoryTypeIndex: memoryType,
	}, nil, &img.vkMemory)
	if ret != vk.Success {
		vk.DestroyImage(d.vkDevice, img.vkImage, nil)
		return img, debug.ErrorWrapf(vk.Error(ret), "Failed to allocate %d bytes of image memory", requirements.Size)
	}
	if ret = vk.BindImageMemory(d.vkDevice, img.vkImage, img.vkMemory, 0); ret != vk.Success {
		d.destroyImage(img)
		return img, debug.ErrorWrapf(vk.Error(ret), "Failed to bind image memory")
	}
	return img, nil
}

func (d *Device) destroyImage(img deviceImage) {
	if !img.owned {
		return
	}
	vk.DestroyImage(d.vkDevice, img.vkImage, nil)
	vk.FreeMemory(d.vkDevice, img.vkMemory, nil)
}

func (d *Device) CreateImages(name string, info vxs.ImageCreateInfo, n int) ([]vxs.Image, error) {
	d.noCopy.Check()
	created := make([]deviceImage, 0, n)
	for i := 0; i < n; i++ {
		img, err := d.createImage(info)
		if err != nil {
			for _, img := range created {
				d.destroyImage(img)
			}
			return nil, debug.ErrorWrapf(err, "Failed to create image %d of %d for %q", i, n, name)
		}
		created = append(created, img)
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()
	images := make([]vxs.Image, n)
	for i, img := range created {
		images[i] = vxs.Image(d.handles.Next())
		d.images[images[i]] = img
	}
	return images, nil
}

func (d *Device) DestroyImages(images ...vxs.Image) {
	d.noCopy.Check()
	d.mtx.Lock()
	defer d.mtx.Unlock()
	for _, i := range images {
		if img, ok := d.images[i]; ok {
			d.destroyImage(img)
			delete(d.images, i)
		}
	}
}

func (d *Device) RecordTransitions(cb vxs.CommandBuffer, transitions ...vxs.ImageTransition) error {
	d.noCopy.Check()
	d.mtx.Lock()
	vkBuffer, ok := d.commandBuffers[cb]
	var srcStages, dstStages vxs.PipelineStage
	barriers := make([]vk.ImageMemoryBarrier, 0, len(transitions))
	for _, t := range transitions {
		img, found := d.images[t.Image]
		if !found {
			d.mtx.Unlock()
			return debug.Errorf("Unknown image 0x%X", uint64(t.Image))
		}
		srcStages |= t.Src.Stage
		dstStages |= t.Dst.Stage
		barriers = append(barriers, vk.ImageMemoryBarrier{
			SType:               vk.StructureTypeImageMemoryBarrier,
			SrcAccessMask:       vk.AccessFlags(t.Src.Access),
			DstAccessMask:       vk.AccessFlags(t.Dst.Access),
			OldLayout:           vk.ImageLayout(t.Src.Layout),
			NewLayout:           vk.ImageLayout(t.Dst.Layout),
			SrcQueueFamilyIndex: vk.QueueFamilyIgnored,
			DstQueueFamilyIndex: vk.QueueFamilyIgnored,
			Image:               img.vkImage,
			SubresourceRange: vk.ImageSubresourceRange{
				AspectMask:     vk.ImageAspectFlags(vk.ImageAspectColorBit),
				BaseMipLevel:   0,
				LevelCount:     1,
				BaseArrayLayer: 0,
				LayerCount:     max(t.Layers, 1),
			},
		})
	}
	d.mtx.Unlock()
	if !ok {
		return debug.Errorf("Unknown command buffer 0x%X", uint64(cb))
	}

	if ret := vk.BeginCommandBuffer(vkBuffer, &vk.CommandBufferBeginInfo{
		SType: vk.StructureTypeCommandBufferBeginInfo,
	}); ret != vk.Success {
		return debug.ErrorWrapf(vk.Error(ret), "Failed to begin command buffer")
	}
	if len(barriers) > 0 {
		vk.CmdPipelineBarrier(vkBuffer, vk.PipelineStageFlags(srcStages), vk.PipelineStageFlags(dstStages), 0,
			0, nil, 0, nil, uint32(len(barriers)), barriers)
	}
	if ret := vk.EndCommandBuffer(vkBuffer); ret != vk.Success {
		return debug.ErrorWrapf(vk.Error(ret), "Failed to end command buffer")
	}
	return nil
}

func (d *Device) Submit(infos []vxs.SubmitInfo) error {
	d.noCopy.Check()
	d.mtx.Lock()
	vkInfos := make([]vk.SubmitInfo, 0, len(infos))
	for _, info := range infos {
		buffers, err := d.lookupCommandBuffers(info.CommandBuffers)
		if err != nil {
			d.mtx.Unlock()
			return debug.ErrorWrapf(vxs.ErrorSubmissionFailure{}, "Submit %q: %v", info.Name, err)
		}
		waits := make([]vxs.Semaphore, len(info.Waits))
		stages := make([]vk.PipelineStageFlags, len(info.Waits))
		for i, w := range info.Waits {
			waits[i] = w.Semaphore
			stages[i] = vk.PipelineStageFlags(w.Stage)
		}
		vkWaits, err := d.lookupSemaphores(waits)
		if err != nil {
			d.mtx.Unlock()
			return debug.ErrorWrapf(vxs.ErrorSubmissionFailure{}, "Submit %q: %v", info.Name, err)
		}
		vkSignals, err := d.lookupSemaphores(info.Signals)
		if err != nil {
			d.mtx.Unlock()
			return debug.ErrorWrapf(vxs.ErrorSubmissionFailure{}, "Submit %q: %v", info.Name, err)
		}
		vkInfos = append(vkInfos, vk.SubmitInfo{
			SType:                vk.StructureTypeSubmitInfo,
			WaitSemaphoreCount:   uint32(len(vkWaits)),
			PWaitSemaphores:      vkWaits,
			PWaitDstStageMask:    stages,
			CommandBufferCount:   uint32(len(buffers)),
			PCommandBuffers:      buffers,
			SignalSemaphoreCount: uint32(len(vkSignals)),
			PSignalSemaphores:    vkSignals,
		})
	}
	d.mtx.Unlock()

	if ret := vk.QueueSubmit(d.graphicsQueue, uint32(len(vkInfos)), vkInfos, vk.NullFence); ret != vk.Success {
		return debug.ErrorWrapf(vxs.ErrorSubmissionFailure{}, "vkQueueSubmit: %v", vk.Error(ret))
	}
	return nil
}

func (d *Device) Present(infos []vxs.PresentInfo) error {
	d.noCopy.Check()
	for _, info := range infos {
		d.mtx.Lock()
		vkWaits, err := d.lookupSemaphores(info.Waits)
		vkSwapchains := make([]vk.Swapchain, len(info.Swapchains))
		for i, sc := range info.Swapchains {
			vkSwapchain, ok := d.swapchains[sc]
			if !ok && err == nil {
				err = debug.Errorf("Unknown swapchain 0x%X", uint64(sc))
			}
			vkSwapchains[i] = vkSwapchain
		}
		d.mtx.Unlock()
		if err != nil {
			return debug.ErrorWrapf(vxs.ErrorSubmissionFailure{}, "Present: %v", err)
		}

		ret := vk.QueuePresent(d.presentQueue, &vk.PresentInfo{
			SType:              vk.StructureTypePresentInfo,
			WaitSemaphoreCount: uint32(len(vkWaits)),
			PWaitSemaphores:    vkWaits,
			SwapchainCount:     uint32(len(vkSwapchains)),
			PSwapchains:        vkSwapchains,
			PImageIndices:      info.ImageIndices,
		})
		switch ret {
		case vk.Success, vk.Suboptimal:
		case vk.ErrorOutOfDate:
			return debug.ErrorWrapf(vxs.ErrorStaleSurface{}, "vkQueuePresentKHR")
		default:
			return debug.ErrorWrapf(vxs.ErrorSubmissionFailure{}, "vkQueuePresentKHR: %v", vk.Error(ret))
		}
	}
	return nil
}

func (d *Device) WaitIdle() error {
	d.noCopy.Check()
	if ret := vk.DeviceWaitIdle(d.vkDevice); ret != vk.Success {
		return debug.ErrorWrapf(vk.Error(ret), "vkDeviceWaitIdle")
	}
	return nil
}

// Destroy releases every handle still registered, the command pools and
// surfaces created from d must be destroyed first.
func (d *Device) Destroy() {
	d.noCopy.Check()
	if err := d.WaitIdle(); err != nil {
		instance.logger.EPrintf("%v", err)
	}
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if len(d.commandBuffers) > 0 {
		instance.logger.WPrintf("Destroying device with %d live command buffers", len(d.commandBuffers))
	}
	for _, s := range d.semaphores {
		vk.DestroySemaphore(d.vkDevice, s, nil)
	}
	for _, img := range d.images {
		d.destroyImage(img)
	}
	clear(d.semaphores)
	clear(d.images)
	d.noCopy.Close()
}
