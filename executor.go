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
	"golang.org/x/sync/errgroup"
)

// executor runs f for every index in [0, n) and returns the first error.
type executor interface {
	run(n int, f func(i int) error) error
}

type sequentialExecutor struct{}

func (sequentialExecutor) run(n int, f func(i int) error) error {
	for i := 0; i < n; i++ {
		if err := f(i); err != nil {
			return err
		}
	}
	return nil
}

type parallelExecutor struct {
	workers int
}

func (e parallelExecutor) run(n int, f func(i int) error) error {
	if n < 2 {
		return sequentialExecutor{}.run(n, f)
	}
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return f(i)
		})
	}
	return g.Wait()
}
