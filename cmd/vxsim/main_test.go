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

package main

import (
	"testing"

	"goarrg.com/gmath"

	"goarrg.com/rhi/vxs"
)

func testOptions() options {
	return options{
		targets:    targetList{vxs.TargetWindow, vxs.TargetCamera, vxs.TargetStereo},
		extent:     gmath.Extent3i32{X: 32, Y: 32, Z: 1},
		frameCount: 2,
		frameRate:  1000,
		images:     3,
		passes:     6,
		objects:    2,
		staleEvery: 2,
	}
}

func TestRun(t *testing.T) {
	if err := run(testOptions()); err != nil {
		t.Fatal(err)
	}
}

func TestRunInvalidTarget(t *testing.T) {
	o := testOptions()
	o.frameCount = 0
	if err := run(o); err == nil {
		t.Fatal("run() accepted targets with no frames")
	}
}

func TestExtentText(t *testing.T) {
	var e extent
	if err := e.UnmarshalText([]byte("640x480")); err != nil {
		t.Fatal(err)
	}
	if e != (extent{X: 640, Y: 480, Z: 1}) {
		t.Fatalf("extent %+v", e)
	}
	if text, _ := e.MarshalText(); string(text) != "640x480" {
		t.Fatalf("MarshalText() = %q", text)
	}
	if err := e.UnmarshalText([]byte("640")); err == nil {
		t.Fatal("accepted an extent without a height")
	}
}
