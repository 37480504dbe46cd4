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
	"runtime"
	"time"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxs/internal/util"
)

type Destroyer interface {
	Destroy()
}

type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type systemClock struct{}

func (systemClock) Now() time.Time        { return time.Now() }
func (systemClock) Sleep(d time.Duration) { time.Sleep(d) }

type Config struct {
	// Parallel selects the worker pool for per object update and draw
	// command generation, objects must then only touch their own command
	// buffers.
	Parallel bool
	// Workers limits the worker pool, 0 means runtime.GOMAXPROCS(0).
	Workers int
	// Clock overrides the wall clock used for frame pacing.
	Clock Clock
}

func (c *Config) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")
	buff.WriteString(fmt.Sprintf("\"Parallel\": %t,", c.Parallel))
	buff.WriteString(fmt.Sprintf("\"Workers\": %d,", c.Workers))
	buff.WriteString(fmt.Sprintf("\"Clock\": %q", fmt.Sprintf("%T", c.Clock)))
	buff.WriteString("}")
	return buff.Bytes(), nil
}

func (c *Config) validate() error {
	if c.Workers < 0 {
		return debug.Errorf("Config.Workers must be >= 0, got %d", c.Workers)
	}
	if c.Workers == 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Clock == nil {
		c.Clock = systemClock{}
	}
	return nil
}

/*
Context is the engine state shared by every stage and render target. It is
created once by the app driver at startup, passed explicitly to whatever
needs it, and destroyed at shutdown after every target built from it.
*/
type Context struct {
	noCopy   util.NoCopy
	device   Device
	config   Config
	exec     executor
	handles  util.HandleAllocator
	pending  []Destroyer
	nTargets int
}

func NewContext(device Device, config Config) (*Context, error) {
	if device == nil {
		return nil, debug.Errorf("NewContext requires a Device")
	}
	if err := config.validate(); err != nil {
		return nil, debug.ErrorWrapf(err, "Invalid config")
	}
	instance.logger.IPrintf("Context config: %s", prettyString(&config))

	ctx := &Context{device: device, config: config}
	ctx.noCopy.Init()
	if config.Parallel {
		ctx.exec = parallelExecutor{workers: config.Workers}
	} else {
		ctx.exec = sequentialExecutor{}
	}
	return ctx, nil
}

func (ctx *Context) Device() Device {
	ctx.noCopy.Check()
	return ctx.device
}

func (ctx *Context) Config() Config {
	ctx.noCopy.Check()
	return ctx.config
}

func (ctx *Context) clock() Clock {
	return ctx.config.Clock
}

func (ctx *Context) nextTargetID() TargetID {
	return TargetID(ctx.handles.Next())
}

/*
QueueDestroy defers destruction until the next WaitIdle, use it for
resources that may still be referenced by submitted work.
*/
func (ctx *Context) QueueDestroy(destroyers ...Destroyer) {
	ctx.noCopy.Check()
	ctx.pending = append(ctx.pending, destroyers...)
}

// WaitIdle blocks until the device finished all submitted work and runs
// everything queued with QueueDestroy.
func (ctx *Context) WaitIdle() error {
	ctx.noCopy.Check()
	if err := ctx.device.WaitIdle(); err != nil {
		return debug.ErrorWrapf(err, "Failed to wait for device idle")
	}
	for _, d := range ctx.pending {
		d.Destroy()
	}
	clear(ctx.pending)
	ctx.pending = ctx.pending[:0]
	return nil
}

func (ctx *Context) Destroy() {
	ctx.noCopy.Check()
	if ctx.nTargets > 0 {
		abort("Context destroyed with %d live render targets", ctx.nTargets)
	}
	if err := ctx.WaitIdle(); err != nil {
		instance.logger.EPrintf("%v", err)
	}
	instance.logger.IPrintf("Context destroyed")
	ctx.noCopy.Close()
}
