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
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"goarrg.com/debug"
	"goarrg.com/gmath"

	"goarrg.com/rhi/vxs"
	"goarrg.com/rhi/vxs/headless"
)

var flags flag.FlagSet

type targetList []vxs.TargetType

func (l *targetList) UnmarshalText(data []byte) error {
	*l = (*l)[:0]
	for _, name := range strings.Split(string(data), ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "window":
			*l = append(*l, vxs.TargetWindow)
		case "camera":
			*l = append(*l, vxs.TargetCamera)
		case "stereo":
			*l = append(*l, vxs.TargetStereo)
		default:
			return debug.Errorf("Invalid target type: %q", name)
		}
	}
	return nil
}

func (l targetList) MarshalText() (text []byte, err error) {
	names := make([]string, len(l))
	for i, t := range l {
		names[i] = strings.ToLower(t.String())
	}
	return ([]byte)(strings.Join(names, ",")), nil
}

type extent gmath.Extent3i32

func (e *extent) UnmarshalText(data []byte) error {
	parts := strings.Split(string(data), "x")
	if len(parts) != 2 {
		return debug.Errorf("Extent not in the format \"WxH\"")
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return debug.ErrorWrapf(err, "Invalid extent")
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return debug.ErrorWrapf(err, "Invalid extent")
	}
	*e = extent{X: int32(w), Y: int32(h), Z: 1}
	return nil
}

func (e extent) MarshalText() (text []byte, err error) {
	return fmt.Appendf(nil, "%dx%d", e.X, e.Y), nil
}

type drawKey struct {
	target vxs.TargetID
	slot   int
	view   uint32
}

/*
quad stands in for a scene object. It keeps one command buffer per target,
slot and view and re-records it every pass.
*/
type quad struct {
	device  *headless.Device
	buffers map[drawKey]vxs.CommandBuffer
	age     time.Duration
}

func (q *quad) Update(dt time.Duration) error {
	q.age += dt
	return nil
}

func (q *quad) Draw(info vxs.DrawInfo) ([]vxs.CommandBuffer, error) {
	key := drawKey{target: info.Target, slot: info.Slot, view: info.View}
	cb, ok := q.buffers[key]
	if !ok {
		buffers, err := info.Pool.AllocateCommandBuffers(1)
		if err != nil {
			return nil, err
		}
		cb = buffers[0]
		q.buffers[key] = cb
	}
	if err := q.device.Record(cb); err != nil {
		return nil, err
	}
	return []vxs.CommandBuffer{cb}, nil
}

type targetReport struct {
	Name       string
	Type       string
	FrameCount int
	DrawIndex  int
	ReadIndex  int
	Rendered   int
	Skipped    int
	Dropped    int
	Rebuilds   int
}

type report struct {
	Passes   int
	Elapsed  string
	Parallel bool
	Device   headless.Stats
	Targets  []*targetReport
}

type window struct {
	target  *vxs.RenderTarget
	surface *headless.Surface
}

type simulation struct {
	device  *headless.Device
	ctx     *vxs.Context
	stage   *vxs.Stage
	windows []*window
	reports map[*vxs.RenderTarget]*targetReport
	extent  gmath.Extent3i32
	images  int
}

func (s *simulation) rebuild(w *window) error {
	surface, err := s.device.NewSurface(w.target.Name(), s.extent, s.images)
	if err != nil {
		return err
	}
	if err := w.target.Rebuild(surface); err != nil {
		surface.Destroy()
		return err
	}
	s.ctx.QueueDestroy(w.surface)
	w.surface = surface
	s.reports[w.target].Rebuilds++
	return nil
}

func (s *simulation) rebuildAll() error {
	for _, w := range s.windows {
		if err := s.rebuild(w); err != nil {
			return err
		}
	}
	return nil
}

func (s *simulation) pass(n, staleEvery int, dt time.Duration) error {
	if staleEvery > 0 && n > 0 && n%staleEvery == 0 {
		for _, w := range s.windows {
			debug.IPrintf("Marking surface of %q stale", w.target.Name())
			w.surface.MarkStale()
		}
	}
	if err := s.stage.Update(dt); err != nil {
		return err
	}

	frames := map[*vxs.RenderTarget]uint64{}
	for _, t := range s.stage.Targets() {
		frames[t] = t.FrameChain().Frame()
	}
	batch, err := s.stage.Render()

	stale := false
	dropped := map[string]bool{}
	for _, e := range unjoin(err) {
		var targetErr *vxs.TargetError
		if !errors.As(e, &targetErr) {
			return e
		}
		if !errors.Is(targetErr, vxs.ErrorStaleSurface{}) {
			return targetErr
		}
		dropped[targetErr.Target] = true
		stale = true
	}
	for t, r := range s.reports {
		switch {
		case t.FrameChain().Frame() == frames[t]:
			r.Skipped++
		case dropped[t.Name()]:
			r.Dropped++
		default:
			r.Rendered++
		}
	}

	if err := batch.Submit(s.device); err != nil {
		if !errors.Is(err, vxs.ErrorStaleSurface{}) {
			return err
		}
		stale = true
	}
	if err := s.ctx.WaitIdle(); err != nil {
		return err
	}
	if stale {
		return s.rebuildAll()
	}
	return nil
}

func unjoin(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		return joined.Unwrap()
	}
	return []error{err}
}

type options struct {
	targets    targetList
	extent     gmath.Extent3i32
	frameCount int
	frameRate  float64
	images     int
	passes     int
	objects    int
	parallel   bool
	workers    int
	staleEvery int
}

func main() {
	debug.SetLevel(debug.LogLevelWarn)

	flags.Usage = help
	flags.Init("", flag.ExitOnError)

	v := flags.Bool("v", false, "Verbose - Print high level tasks")
	vv := flags.Bool("vv", false, "Very Verbose - Print everything")

	o := options{}
	flags.TextVar(&o.targets, "targets", targetList{vxs.TargetWindow, vxs.TargetCamera, vxs.TargetStereo},
		"Comma separated render targets to create.\n"+
			"Valid values are \"window\", \"camera\" and \"stereo\".")
	size := extent{}
	flags.TextVar(&size, "extent", extent{X: 1280, Y: 720, Z: 1}, "Sets the target extent in the format \"WxH\".")
	flags.IntVar(&o.frameCount, "frames", 3, "Sets the number of frames in flight per target.")
	flags.Float64Var(&o.frameRate, "rate", 60, "Sets the frame rate of every target.")
	flags.IntVar(&o.images, "surface-images", 3, "Sets the number of images of each window surface.")
	flags.IntVar(&o.passes, "passes", 120, "Sets the number of passes to run.")
	flags.IntVar(&o.objects, "objects", 16, "Sets the number of scene objects.")
	flags.BoolVar(&o.parallel, "parallel", false, "Draw and update objects in parallel.")
	flags.IntVar(&o.workers, "workers", 0, "Limits the number of parallel workers, 0 uses GOMAXPROCS.")
	flags.IntVar(&o.staleEvery, "stale-every", 0, "Marks window surfaces stale every N passes to exercise rebuilds.")

	err := flags.Parse(os.Args[1:])
	if err != nil {
		panic(err)
	}
	o.extent = gmath.Extent3i32(size)

	if *v {
		debug.SetLevel(debug.LogLevelInfo)
	} else if *vv {
		debug.SetLevel(debug.LogLevelVerbose)
		vxs.SetLogLevel(debug.LogLevelVerbose)
	}

	if !(o.frameRate > 0) {
		debug.EPrintf("-rate must be > 0.")
		os.Exit(2)
	}
	if len(flags.Args()) > 0 {
		debug.EPrintf("vxsim takes no positional arguments.")
		help()
		os.Exit(2)
	}

	if err := run(o); err != nil {
		debug.EPrintf("%v", err)
		os.Exit(1)
	}
}

func run(o options) error {
	sim := simulation{
		device:  headless.New(),
		reports: map[*vxs.RenderTarget]*targetReport{},
		extent:  o.extent,
		images:  o.images,
	}
	var err error
	sim.ctx, err = vxs.NewContext(sim.device, vxs.Config{Parallel: o.parallel, Workers: o.workers})
	if err != nil {
		return err
	}
	defer sim.ctx.Destroy()

	// runs after the stage is destroyed
	defer func() {
		for _, w := range sim.windows {
			w.surface.Destroy()
		}
	}()

	sim.stage = vxs.NewStage(sim.ctx, "vxsim")
	defer sim.stage.Destroy()

	for i := 0; i < o.objects; i++ {
		q := &quad{device: sim.device, buffers: map[drawKey]vxs.CommandBuffer{}}
		sim.stage.Add(q)
	}

	for i, kind := range o.targets {
		creator := vxs.Creator{
			Name:       fmt.Sprintf("%s_%d", strings.ToLower(kind.String()), i),
			Type:       kind,
			FrameCount: int32(o.frameCount),
			FrameRate:  o.frameRate,
			Usage:      vxs.ImageUsageColorAttachment | vxs.ImageUsageSampled,
			Extent:     sim.extent,
		}
		var surface *headless.Surface
		if kind.Presentable() {
			if surface, err = sim.device.NewSurface(creator.Name, sim.extent, sim.images); err != nil {
				return err
			}
			creator.Surface = surface
		}
		t, err := sim.stage.NewRenderTarget(creator)
		if err != nil {
			if surface != nil {
				surface.Destroy()
			}
			return err
		}
		if surface != nil {
			sim.windows = append(sim.windows, &window{target: t, surface: surface})
		}
		sim.reports[t] = &targetReport{Name: t.Name(), Type: kind.String()}
	}

	debug.IPrintf("Running %d passes", o.passes)
	period := time.Duration(float64(time.Second) / o.frameRate)
	start := time.Now()
	last := start
	for n := 0; n < o.passes; n++ {
		now := time.Now()
		if err := sim.pass(n, o.staleEvery, now.Sub(last)); err != nil {
			return debug.ErrorWrapf(err, "Pass %d", n)
		}
		last = now
		time.Sleep(period - time.Since(now))
	}

	r := report{
		Passes:   o.passes,
		Elapsed:  time.Since(start).String(),
		Parallel: o.parallel,
		Device:   sim.device.Stats(),
	}
	for _, t := range sim.stage.Targets() {
		tr := sim.reports[t]
		tr.FrameCount = t.FrameChain().FrameCount()
		tr.DrawIndex = t.FrameChain().DrawIndex()
		tr.ReadIndex = t.FrameChain().ReadIndex()
		r.Targets = append(r.Targets, tr)
	}
	out, err := json.MarshalIndent(&r, "", "    ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func help() {
	fmt.Fprintf(flags.Output(), "vxsim drives render targets over a headless device and reports what was submitted.\n")
	fmt.Fprintf(flags.Output(), "Usage: vxsim [flags]\n")
	flags.PrintDefaults()
}
