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

import "fmt"

type TargetType uint32

const (
	// TargetWindow renders into a presentable surface.
	TargetWindow TargetType = iota
	// TargetCamera renders into off-screen images that are sampled later.
	TargetCamera
	// TargetStereo renders both eyes into the two layers of off-screen images.
	TargetStereo
	targetTypeCount
)

func (t TargetType) String() string {
	switch t {
	case TargetWindow:
		return "Window"
	case TargetCamera:
		return "Camera"
	case TargetStereo:
		return "Stereo"
	}
	return fmt.Sprintf("TargetType(%d)", uint32(t))
}

func (t TargetType) valid() bool {
	return t < targetTypeCount
}

func (t TargetType) Presentable() bool {
	return t == TargetWindow
}

// layers is the number of array layers of each frame slot image.
func (t TargetType) layers() uint32 {
	switch t {
	case TargetStereo:
		return 2
	default:
		return 1
	}
}

func (t TargetType) predrawTransition(image Image) ImageTransition {
	return ImageTransition{
		Image: image,
		Src: ImageBarrierInfo{
			Stage:  PipelineStageColorAttachmentOutput,
			Access: AccessNone,
			Layout: ImageLayoutUndefined,
		},
		Dst: ImageBarrierInfo{
			Stage:  PipelineStageColorAttachmentOutput,
			Access: AccessColorAttachmentWrite,
			Layout: ImageLayoutColorAttachmentOptimal,
		},
		Layers: t.layers(),
	}
}

func (t TargetType) postdrawTransition(image Image) ImageTransition {
	src := ImageBarrierInfo{
		Stage:  PipelineStageColorAttachmentOutput,
		Access: AccessColorAttachmentWrite,
		Layout: ImageLayoutColorAttachmentOptimal,
	}
	switch t {
	case TargetWindow:
		return ImageTransition{
			Image: image, Src: src, Layers: 1,
			Dst: ImageBarrierInfo{
				Stage:  PipelineStageBottomOfPipe,
				Access: AccessNone,
				Layout: ImageLayoutPresentSrc,
			},
		}
	default:
		return ImageTransition{
			Image: image, Src: src, Layers: t.layers(),
			Dst: ImageBarrierInfo{
				Stage:  PipelineStageFragmentShader,
				Access: AccessShaderRead,
				Layout: ImageLayoutShaderReadOnlyOptimal,
			},
		}
	}
}

// defaultDrawCalls expands the per object draw request into one request per view.
func (t TargetType) defaultDrawCalls(base DrawInfo) []DrawInfo {
	switch t {
	case TargetStereo:
		left, right := base, base
		left.View, right.View = 0, 1
		return []DrawInfo{left, right}
	default:
		return []DrawInfo{base}
	}
}
