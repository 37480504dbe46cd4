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
	"strings"

	"goarrg.com/gmath"
)

// Opaque device handles, zero is the null handle.
type (
	CommandBuffer uint64
	Semaphore     uint64
	Image         uint64
	Swapchain     uint64
)

// PipelineStage values match VkPipelineStageFlagBits.
type PipelineStage uint64

const (
	PipelineStageNone                  PipelineStage = 0
	PipelineStageTopOfPipe             PipelineStage = 0x00000001
	PipelineStageFragmentShader        PipelineStage = 0x00000080
	PipelineStageColorAttachmentOutput PipelineStage = 0x00000400
	PipelineStageTransfer              PipelineStage = 0x00001000
	PipelineStageBottomOfPipe          PipelineStage = 0x00002000
	PipelineStageAllCommands           PipelineStage = 0x00010000
)

func (s PipelineStage) String() string {
	if s == PipelineStageNone {
		return "None"
	}
	names := []struct {
		bit  PipelineStage
		name string
	}{
		{PipelineStageTopOfPipe, "TopOfPipe"},
		{PipelineStageFragmentShader, "FragmentShader"},
		{PipelineStageColorAttachmentOutput, "ColorAttachmentOutput"},
		{PipelineStageTransfer, "Transfer"},
		{PipelineStageBottomOfPipe, "BottomOfPipe"},
		{PipelineStageAllCommands, "AllCommands"},
	}
	var parts []string
	for _, n := range names {
		if hasBits(s, n.bit) {
			parts = append(parts, n.name)
			s &^= n.bit
		}
	}
	if s != 0 {
		parts = append(parts, fmt.Sprintf("0x%X", uint64(s)))
	}
	return strings.Join(parts, "|")
}

// AccessFlags values match VkAccessFlagBits.
type AccessFlags uint32

const (
	AccessNone                 AccessFlags = 0
	AccessShaderRead           AccessFlags = 0x00000020
	AccessColorAttachmentWrite AccessFlags = 0x00000100
	AccessTransferRead         AccessFlags = 0x00000800
	AccessMemoryRead           AccessFlags = 0x00008000
)

// ImageLayout values match VkImageLayout.
type ImageLayout uint32

const (
	ImageLayoutUndefined              ImageLayout = 0
	ImageLayoutGeneral                ImageLayout = 1
	ImageLayoutColorAttachmentOptimal ImageLayout = 2
	ImageLayoutShaderReadOnlyOptimal  ImageLayout = 5
	ImageLayoutTransferSrcOptimal     ImageLayout = 6
	ImageLayoutTransferDstOptimal     ImageLayout = 7
	ImageLayoutPresentSrc             ImageLayout = 1000001002
)

func (l ImageLayout) String() string {
	switch l {
	case ImageLayoutUndefined:
		return "Undefined"
	case ImageLayoutGeneral:
		return "General"
	case ImageLayoutColorAttachmentOptimal:
		return "ColorAttachmentOptimal"
	case ImageLayoutShaderReadOnlyOptimal:
		return "ShaderReadOnlyOptimal"
	case ImageLayoutTransferSrcOptimal:
		return "TransferSrcOptimal"
	case ImageLayoutTransferDstOptimal:
		return "TransferDstOptimal"
	case ImageLayoutPresentSrc:
		return "PresentSrc"
	}
	return fmt.Sprintf("ImageLayout(%d)", uint32(l))
}

// ImageUsageFlags values match VkImageUsageFlagBits.
type ImageUsageFlags uint32

const (
	ImageUsageTransferSrc     ImageUsageFlags = 0x00000001
	ImageUsageTransferDst     ImageUsageFlags = 0x00000002
	ImageUsageSampled         ImageUsageFlags = 0x00000004
	ImageUsageStorage         ImageUsageFlags = 0x00000008
	ImageUsageColorAttachment ImageUsageFlags = 0x00000010
)

func (u ImageUsageFlags) String() string {
	names := []struct {
		bit  ImageUsageFlags
		name string
	}{
		{ImageUsageTransferSrc, "TransferSrc"},
		{ImageUsageTransferDst, "TransferDst"},
		{ImageUsageSampled, "Sampled"},
		{ImageUsageStorage, "Storage"},
		{ImageUsageColorAttachment, "ColorAttachment"},
	}
	var parts []string
	for _, n := range names {
		if hasBits(u, n.bit) {
			parts = append(parts, n.name)
			u &^= n.bit
		}
	}
	if u != 0 {
		parts = append(parts, fmt.Sprintf("0x%X", uint32(u)))
	}
	if len(parts) == 0 {
		return "None"
	}
	return strings.Join(parts, "|")
}

// Format values match VkFormat.
type Format uint32

const (
	FormatUndefined     Format = 0
	FormatR8G8B8A8Unorm Format = 37
	FormatR8G8B8A8SRGB  Format = 43
	FormatB8G8R8A8Unorm Format = 44
	FormatB8G8R8A8SRGB  Format = 50
)

type ImageCreateInfo struct {
	Format Format
	Usage  ImageUsageFlags
	Extent gmath.Extent3i32
	Layers uint32
}

type ImageBarrierInfo struct {
	Stage  PipelineStage
	Access AccessFlags
	Layout ImageLayout
}

type ImageTransition struct {
	Image  Image
	Src    ImageBarrierInfo
	Dst    ImageBarrierInfo
	Layers uint32
}

type CommandPool interface {
	AllocateCommandBuffers(n int) ([]CommandBuffer, error)
	// FreeCommandBuffers ignores buffers that were not allocated from this pool.
	FreeCommandBuffers(buffers ...CommandBuffer)
	Destroy()
}

// Device is the graphics context collaborator. Implementations need not be
// safe for concurrent use unless documented otherwise.
type Device interface {
	NewCommandPool(name string) (CommandPool, error)

	CreateSemaphores(name string, n int) ([]Semaphore, error)
	DestroySemaphores(semaphores ...Semaphore)

	CreateImages(name string, info ImageCreateInfo, n int) ([]Image, error)
	DestroyImages(images ...Image)

	// RecordTransitions records the transitions into cb as a complete
	// command buffer ready for submission.
	RecordTransitions(cb CommandBuffer, transitions ...ImageTransition) error

	Submit(infos []SubmitInfo) error
	Present(infos []PresentInfo) error
	WaitIdle() error
}

// Surface is a presentable swapchain owned by the window layer.
type Surface interface {
	Swapchain() Swapchain
	Images() []Image
	Format() Format
	Extent() gmath.Extent3i32
	// AcquireNextImage returns the index of the next presentable image, signal
	// is signaled once the image is ready to be written. A surface that is
	// out of date must return ErrorStaleSurface.
	AcquireNextImage(signal Semaphore) (uint32, error)
}
