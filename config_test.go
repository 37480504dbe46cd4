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
	"testing"

	"goarrg.com/gmath"
)

type testSurface struct {
	images []Image
	extent gmath.Extent3i32
}

func (s *testSurface) Swapchain() Swapchain                      { return 1 }
func (s *testSurface) Images() []Image                           { return s.images }
func (s *testSurface) Format() Format                            { return FormatB8G8R8A8SRGB }
func (s *testSurface) Extent() gmath.Extent3i32                  { return s.extent }
func (s *testSurface) AcquireNextImage(Semaphore) (uint32, error) { return 0, nil }

func validCamera() Creator {
	return Creator{
		Type:       TargetCamera,
		FrameCount: 2,
		FrameRate:  60,
		Usage:      ImageUsageColorAttachment | ImageUsageSampled,
		Extent:     gmath.Extent3i32{X: 64, Y: 32, Z: 1},
	}
}

func TestCreatorDefaults(t *testing.T) {
	c := validCamera()
	c.Extent.Z = 0
	if err := c.validate(); err != nil {
		t.Fatal(err)
	}
	if c.Extent.Z != 1 {
		t.Errorf("Extent.Z = %d, want 1", c.Extent.Z)
	}
	if c.Name != "Camera" {
		t.Errorf("Name = %q, want %q", c.Name, "Camera")
	}
	if c.Format != FormatR8G8B8A8Unorm {
		t.Errorf("Format = %d, want %d", c.Format, FormatR8G8B8A8Unorm)
	}
	if c.SyncPoolSize != DefaultSyncPoolSize {
		t.Errorf("SyncPoolSize = %d, want %d", c.SyncPoolSize, DefaultSyncPoolSize)
	}
	if c.PacingSlack != DefaultPacingSlack {
		t.Errorf("PacingSlack = %v, want %v", c.PacingSlack, DefaultPacingSlack)
	}
}

func TestCreatorWindowTakesSurfaceProperties(t *testing.T) {
	c := validCamera()
	c.Type = TargetWindow
	c.Surface = &testSurface{images: []Image{1, 2}, extent: gmath.Extent3i32{X: 800, Y: 600, Z: 1}}
	if err := c.validate(); err != nil {
		t.Fatal(err)
	}
	if c.Extent != (gmath.Extent3i32{X: 800, Y: 600, Z: 1}) {
		t.Errorf("Extent = %+v, want the surface extent", c.Extent)
	}
	if c.Format != FormatB8G8R8A8SRGB {
		t.Errorf("Format = %d, want the surface format", c.Format)
	}
}

func TestCreatorInvalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Creator)
	}{
		{"unknown type", func(c *Creator) { c.Type = targetTypeCount }},
		{"zero frames", func(c *Creator) { c.FrameCount = 0 }},
		{"too many frames", func(c *Creator) { c.FrameCount = MaxFrameCount + 1 }},
		{"zero rate", func(c *Creator) { c.FrameRate = 0 }},
		{"no color attachment", func(c *Creator) { c.Usage = ImageUsageSampled }},
		{"zero extent", func(c *Creator) { c.Extent = gmath.Extent3i32{} }},
		{"huge extent", func(c *Creator) { c.Extent.X = maxExtent + 1 }},
		{"volume extent", func(c *Creator) { c.Extent.Z = 2 }},
		{"small sync pool", func(c *Creator) { c.SyncPoolSize = 1 }},
		{"window without surface", func(c *Creator) { c.Type = TargetWindow }},
		{"window without images", func(c *Creator) {
			c.Type = TargetWindow
			c.Surface = &testSurface{extent: gmath.Extent3i32{X: 1, Y: 1, Z: 1}}
		}},
		{"camera with surface", func(c *Creator) {
			c.Surface = &testSurface{images: []Image{1}, extent: gmath.Extent3i32{X: 1, Y: 1, Z: 1}}
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			c := validCamera()
			test.modify(&c)
			if err := c.validate(); err == nil {
				t.Fatalf("validate() accepted %s", prettyString(&c))
			}
		})
	}
}

func TestConfigDefaults(t *testing.T) {
	c := Config{}
	if err := c.validate(); err != nil {
		t.Fatal(err)
	}
	if c.Workers < 1 {
		t.Errorf("Workers = %d, want >= 1", c.Workers)
	}
	if _, ok := c.Clock.(systemClock); !ok {
		t.Errorf("Clock = %T, want systemClock", c.Clock)
	}

	c = Config{Workers: -1}
	if err := c.validate(); err == nil {
		t.Error("validate() accepted negative workers")
	}
}
