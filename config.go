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
	"time"

	"goarrg.com/debug"
	"goarrg.com/gmath"
)

const (
	MaxFrameCount       int32 = 8
	DefaultSyncPoolSize int32 = 8
	DefaultPacingSlack        = 2 * time.Millisecond
	maxExtent           int32 = 16384
)

// Creator is the construction record of a render target.
type Creator struct {
	Name       string
	Type       TargetType
	FrameCount int32
	FrameRate  float64
	Usage      ImageUsageFlags
	Format     Format
	Extent     gmath.Extent3i32

	// SyncPoolSize is the number of sync primitives reserved for dependency
	// chaining, 0 selects DefaultSyncPoolSize.
	SyncPoolSize int32
	// PacingSlack is the longest ReadyToRender will sleep to hit the next
	// frame deadline instead of skipping, 0 selects DefaultPacingSlack and a
	// negative value disables sleeping.
	PacingSlack time.Duration

	// Surface is required by and only used for TargetWindow.
	Surface Surface
}

func (c *Creator) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString(fmt.Sprintf("\"Name\": %q,", c.Name))
	buff.WriteString(fmt.Sprintf("\"Type\": %q,", c.Type.String()))
	buff.WriteString(fmt.Sprintf("\"FrameCount\": %d,", c.FrameCount))
	buff.WriteString(fmt.Sprintf("\"FrameRate\": %g,", c.FrameRate))
	buff.WriteString(fmt.Sprintf("\"Usage\": %q,", c.Usage.String()))
	buff.WriteString(fmt.Sprintf("\"Format\": %d,", c.Format))
	buff.WriteString(fmt.Sprintf("\"Extent\": [%d, %d],", c.Extent.X, c.Extent.Y))
	buff.WriteString(fmt.Sprintf("\"SyncPoolSize\": %d,", c.SyncPoolSize))
	buff.WriteString(fmt.Sprintf("\"PacingSlack\": %q,", c.PacingSlack.String()))
	if c.Surface != nil {
		buff.WriteString(fmt.Sprintf("\"Surface\": %q", toHex(c.Surface.Swapchain())))
	} else {
		buff.WriteString("\"Surface\": null")
	}

	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (c *Creator) validate() error {
	if c.Name == "" {
		c.Name = c.Type.String()
	}
	if !c.Type.valid() {
		return debug.Errorf("Creator.Type [%d] is not a known target type", c.Type)
	}
	if !gmath.InRange(c.FrameCount, 1, MaxFrameCount) {
		return debug.Errorf("Creator.FrameCount [%d] is outside of valid range [1, %d]", c.FrameCount, MaxFrameCount)
	}
	if !(c.FrameRate > 0) {
		return debug.Errorf("Creator.FrameRate [%g] must be > 0", c.FrameRate)
	}
	if !hasBits(c.Usage, ImageUsageColorAttachment) {
		return debug.Errorf("Creator.Usage [%s] must include ColorAttachment", c.Usage)
	}

	if c.Type == TargetWindow {
		if c.Surface == nil {
			return debug.Errorf("Creator.Surface is required for %s targets", c.Type)
		}
		if len(c.Surface.Images()) == 0 {
			return debug.Errorf("Creator.Surface has no images")
		}
		c.Extent = c.Surface.Extent()
		c.Format = c.Surface.Format()
	} else if c.Surface != nil {
		return debug.Errorf("Creator.Surface given for non presentable %s target", c.Type)
	}

	// render targets are 2D, Z is the depth of a single layer
	if c.Extent.Z == 0 {
		c.Extent.Z = 1
	}
	if !c.Extent.InRange(gmath.Extent3i32{X: 1, Y: 1, Z: 1}, gmath.Extent3i32{X: maxExtent, Y: maxExtent, Z: 1}) {
		return debug.Errorf("Creator.Extent [%+v] must be within [1, %d] with Z == 1", c.Extent, maxExtent)
	}
	if c.Format == FormatUndefined {
		c.Format = FormatR8G8B8A8Unorm
	}

	switch {
	case c.SyncPoolSize == 0:
		c.SyncPoolSize = DefaultSyncPoolSize
	case c.SyncPoolSize < chainLength-1:
		return debug.Errorf("Creator.SyncPoolSize [%d] must be >= %d", c.SyncPoolSize, chainLength-1)
	}
	if c.PacingSlack == 0 {
		c.PacingSlack = DefaultPacingSlack
	}
	return nil
}
