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

type ErrorResourceExhausted struct{}

func (ErrorResourceExhausted) Is(target error) bool {
	_, ok := target.(ErrorResourceExhausted)
	return ok
}

func (ErrorResourceExhausted) Error() string {
	return "Resource Exhausted"
}

// ErrorStaleSurface means the surface no longer matches the window, the
// target's frame chain has to be rebuilt before rendering to it again.
type ErrorStaleSurface struct{}

func (ErrorStaleSurface) Is(target error) bool {
	_, ok := target.(ErrorStaleSurface)
	return ok
}

func (ErrorStaleSurface) Error() string {
	return "Stale Surface"
}

type ErrorSubmissionFailure struct{}

func (ErrorSubmissionFailure) Is(target error) bool {
	_, ok := target.(ErrorSubmissionFailure)
	return ok
}

func (ErrorSubmissionFailure) Error() string {
	return "Submission Failure"
}

// TargetError is a failure of a single render target during a stage pass.
type TargetError struct {
	Target string
	Err    error
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("render target %q: %v", e.Target, e.Err)
}

func (e *TargetError) Unwrap() error {
	return e.Err
}
