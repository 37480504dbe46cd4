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
	"slices"
	"time"

	"goarrg.com/debug"

	"goarrg.com/rhi/vxs/internal/util"
)

type Updater interface {
	Update(dt time.Duration) error
}

// Stage is an ordered collection of objects rendered together each pass,
// render targets among them are owned by the stage.
type Stage struct {
	noCopy  util.NoCopy
	ctx     *Context
	name    string
	objects []Object
}

func NewStage(ctx *Context, name string) *Stage {
	ctx.noCopy.Check()
	s := &Stage{ctx: ctx, name: name}
	s.noCopy.Init()
	return s
}

func (s *Stage) Name() string {
	s.noCopy.Check()
	return s.name
}

func (s *Stage) Add(objects ...Object) {
	s.noCopy.Check()
	for _, o := range objects {
		if o == nil {
			abort("Stage %q: Add called with a nil object", s.name)
		}
	}
	s.objects = append(s.objects, objects...)
}

// NewRenderTarget creates a render target from creator and adds it to the stage.
func (s *Stage) NewRenderTarget(creator Creator) (*RenderTarget, error) {
	s.noCopy.Check()
	t, err := NewRenderTarget(s.ctx, creator)
	if err != nil {
		return nil, err
	}
	s.objects = append(s.objects, t)
	return t, nil
}

// Remove drops o from the stage without destroying it.
func (s *Stage) Remove(o Object) {
	s.noCopy.Check()
	s.objects = slices.DeleteFunc(s.objects, func(e Object) bool {
		return e == o
	})
}

func (s *Stage) Objects() []Object {
	s.noCopy.Check()
	return slices.Clone(s.objects)
}

func (s *Stage) Targets() []*RenderTarget {
	s.noCopy.Check()
	var targets []*RenderTarget
	for _, o := range s.objects {
		if t, ok := o.(*RenderTarget); ok {
			targets = append(targets, t)
		}
	}
	return targets
}

// objectsForDraw is every object except render targets.
func (s *Stage) objectsForDraw() []Object {
	objects := make([]Object, 0, len(s.objects))
	for _, o := range s.objects {
		if _, ok := o.(*RenderTarget); !ok {
			objects = append(objects, o)
		}
	}
	return objects
}

// Update advances every Updater by dt, in parallel if the context allows.
func (s *Stage) Update(dt time.Duration) error {
	s.noCopy.Check()
	objects := s.objects
	return s.ctx.exec.run(len(objects), func(i int) error {
		u, ok := objects[i].(Updater)
		if !ok {
			return nil
		}
		if err := u.Update(dt); err != nil {
			return debug.ErrorWrapf(err, "Stage %q: object %d failed to update", s.name, i)
		}
		return nil
	})
}

/*
Render collects one pass of every render target that is due for a frame.
Targets that are not ready are skipped silently. A target that fails is left
out of the result and its error, a *TargetError, is returned joined with the
others while the remaining targets still render.

The caller must guarantee the GPU work of the previous pass has completed,
each target's sync pool is reset here.
*/
func (s *Stage) Render() (SubmissionBatch, error) {
	s.noCopy.Check()
	var (
		batch SubmissionBatch
		errs  []error
	)
	for _, t := range s.Targets() {
		if !t.ReadyToRender() {
			instance.logger.VPrintf("Stage %q: skipping %q, not ready", s.name, t.Name())
			continue
		}
		b, err := t.Render(s)
		if err != nil {
			instance.logger.WPrintf("Stage %q: dropping %q for this pass: %v", s.name, t.Name(), err)
			errs = append(errs, &TargetError{Target: t.Name(), Err: err})
			continue
		}
		batch.Append(b)
	}
	return batch, errors.Join(errs...)
}

// Destroy waits for the device to go idle then destroys every render target.
func (s *Stage) Destroy() {
	s.noCopy.Check()
	if err := s.ctx.WaitIdle(); err != nil {
		instance.logger.EPrintf("Stage %q: %v", s.name, err)
	}
	for _, t := range s.Targets() {
		t.Destroy()
	}
	s.objects = nil
	s.noCopy.Close()
}
