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

package vkdevice

import (
	"slices"

	vk "github.com/vulkan-go/vulkan"
	"goarrg.com/debug"
	"goarrg.com/gmath"

	"goarrg.com/rhi/vxs"
)

/*
Surface wraps a swapchain created by the window layer. The swapchain stays
owned by the caller, it must outlive the Surface and be recreated by the
caller once AcquireNextImage or Present report vxs.ErrorStaleSurface.
*/
type Surface struct {
	device      *Device
	swapchain   vxs.Swapchain
	vkSwapchain vk.Swapchain
	images      []vxs.Image
	format      vxs.Format
	extent      gmath.Extent3i32
}

var _ vxs.Surface = (*Surface)(nil)

func (d *Device) NewSurface(swapchain vk.Swapchain, format vk.Format, extent gmath.Extent3i32) (*Surface, error) {
	d.noCopy.Check()
	extent.Z = max(extent.Z, 1)
	var count uint32
	if ret := vk.GetSwapchainImages(d.vkDevice, swapchain, &count, nil); ret != vk.Success {
		return nil, debug.ErrorWrapf(vk.Error(ret), "Failed to query swapchain images")
	}
	vkImages := make([]vk.Image, count)
	if ret := vk.GetSwapchainImages(d.vkDevice, swapchain, &count, vkImages); ret != vk.Success {
		return nil, debug.ErrorWrapf(vk.Error(ret), "Failed to get swapchain images")
	}

	d.mtx.Lock()
	defer d.mtx.Unlock()
	s := &Surface{
		device:      d,
		swapchain:   vxs.Swapchain(d.handles.Next()),
		vkSwapchain: swapchain,
		images:      make([]vxs.Image, count),
		format:      vxs.Format(format),
		extent:      extent,
	}
	for i, img := range vkImages[:count] {
		s.images[i] = vxs.Image(d.handles.Next())
		d.images[s.images[i]] = deviceImage{vkImage: img}
	}
	d.swapchains[s.swapchain] = swapchain
	instance.logger.VPrintf("Surface 0x%X wraps %d swapchain images", uint64(s.swapchain), count)
	return s, nil
}

func (s *Surface) Swapchain() vxs.Swapchain { return s.swapchain }
func (s *Surface) Images() []vxs.Image      { return slices.Clone(s.images) }
func (s *Surface) Format() vxs.Format       { return s.format }
func (s *Surface) Extent() gmath.Extent3i32 { return s.extent }

func (s *Surface) AcquireNextImage(signal vxs.Semaphore) (uint32, error) {
	s.device.mtx.Lock()
	vkSemaphore, ok := s.device.semaphores[signal]
	s.device.mtx.Unlock()
	if !ok {
		return 0, debug.Errorf("Unknown semaphore 0x%X", uint64(signal))
	}

	var index uint32
	ret := vk.AcquireNextImage(s.device.vkDevice, s.vkSwapchain, vk.MaxUint64, vkSemaphore, vk.NullFence, &index)
	switch ret {
	case vk.Success, vk.Suboptimal:
		return index, nil
	case vk.ErrorOutOfDate:
		return 0, debug.ErrorWrapf(vxs.ErrorStaleSurface{}, "vkAcquireNextImageKHR")
	default:
		return 0, debug.ErrorWrapf(vk.Error(ret), "vkAcquireNextImageKHR")
	}
}

// Destroy forgets the swapchain images, it does not destroy the swapchain.
func (s *Surface) Destroy() {
	s.device.mtx.Lock()
	defer s.device.mtx.Unlock()
	for _, img := range s.images {
		delete(s.device.images, img)
	}
	delete(s.device.swapchains, s.swapchain)
	s.images = nil
}
