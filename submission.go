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
	"errors"
	"fmt"
	"slices"

	"goarrg.com/debug"
)

type SubmitInfo struct {
	Name           string
	CommandBuffers []CommandBuffer
	Waits          []SemaphoreWait
	Signals        []Semaphore
}

type PresentInfo struct {
	Waits        []Semaphore
	Swapchains   []Swapchain
	ImageIndices []uint32
}

func (i *SubmitInfo) MarshalJSON() ([]byte, error) {
	return (&CommandBatch{Name: i.Name, CommandBuffers: i.CommandBuffers, Waits: i.Waits, Signals: i.Signals}).MarshalJSON()
}

func (i *PresentInfo) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")
	buff.WriteString(fmt.Sprintf("\"waits\": %s,", hexList(i.Waits)))
	buff.WriteString(fmt.Sprintf("\"swapchains\": %s,", hexList(i.Swapchains)))
	buff.WriteString(fmt.Sprintf("\"imageIndices\": %s", jsonString(i.ImageIndices)))
	buff.WriteString("}")
	return buff.Bytes(), nil
}

func newSubmitInfo(b *CommandBatch) SubmitInfo {
	return SubmitInfo{
		Name:           b.Name,
		CommandBuffers: slices.Clone(b.CommandBuffers),
		Waits:          slices.Clone(b.Waits),
		Signals:        slices.Clone(b.Signals),
	}
}

/*
newPresentInfo waits on what the batch signals, a batch without command
buffers has nothing to signal so presentation waits on the batch's own
dependencies instead.
*/
func newPresentInfo(b *CommandBatch) PresentInfo {
	info := PresentInfo{
		Swapchains:   []Swapchain{b.Present.Swapchain},
		ImageIndices: []uint32{b.Present.ImageIndex},
	}
	if b.Empty() {
		for _, w := range b.Waits {
			info.Waits = append(info.Waits, w.Semaphore)
		}
	} else {
		info.Waits = slices.Clone(b.Signals)
	}
	return info
}

// FilterSubmits returns the descriptors that have command buffers, in order.
// The input is not modified.
func FilterSubmits(infos []SubmitInfo) []SubmitInfo {
	return slices.DeleteFunc(slices.Clone(infos), func(i SubmitInfo) bool {
		return len(i.CommandBuffers) == 0
	})
}

// FilterPresents returns the descriptors that have swapchains, in order.
// The input is not modified.
func FilterPresents(infos []PresentInfo) []PresentInfo {
	return slices.DeleteFunc(slices.Clone(infos), func(i PresentInfo) bool {
		return len(i.Swapchains) == 0
	})
}

type SubmissionBatch struct {
	Submits  []SubmitInfo
	Presents []PresentInfo
}

/*
BuildSubmission turns batches into descriptors keeping their order. Batches
with command buffers become submit descriptors, batches with a present
target also become present descriptors, anything else is dropped.
*/
func BuildSubmission(batches []*CommandBatch) SubmissionBatch {
	var s SubmissionBatch
	for _, b := range batches {
		if b == nil {
			continue
		}
		if !b.Empty() {
			s.Submits = append(s.Submits, newSubmitInfo(b))
		}
		if b.Present != nil {
			s.Presents = append(s.Presents, newPresentInfo(b))
		}
	}
	return s
}

func (s *SubmissionBatch) AppendSubmits(infos ...SubmitInfo) {
	s.Submits = append(FilterSubmits(s.Submits), FilterSubmits(infos)...)
}

func (s *SubmissionBatch) AppendPresents(infos ...PresentInfo) {
	s.Presents = append(FilterPresents(s.Presents), FilterPresents(infos)...)
}

// Append concatenates other after s, dropping empty descriptors from both.
func (s *SubmissionBatch) Append(other SubmissionBatch) {
	s.AppendSubmits(other.Submits...)
	s.AppendPresents(other.Presents...)
}

func (s *SubmissionBatch) Empty() bool {
	return len(s.Submits) == 0 && len(s.Presents) == 0
}

/*
Submit hands the descriptors to the device queues, submits first then
presents. A device rejection is reported as ErrorSubmissionFailure, an out of
date surface during presentation as ErrorStaleSurface.
*/
func (s *SubmissionBatch) Submit(device Device) error {
	if submits := FilterSubmits(s.Submits); len(submits) > 0 {
		if err := device.Submit(submits); err != nil {
			if errors.Is(err, ErrorSubmissionFailure{}) {
				return debug.ErrorWrapf(err, "Failed to submit %d descriptors", len(submits))
			}
			return debug.ErrorWrapf(ErrorSubmissionFailure{}, "Failed to submit %d descriptors: %v", len(submits), err)
		}
	}
	if presents := FilterPresents(s.Presents); len(presents) > 0 {
		if err := device.Present(presents); err != nil {
			if errors.Is(err, ErrorStaleSurface{}) || errors.Is(err, ErrorSubmissionFailure{}) {
				return debug.ErrorWrapf(err, "Failed to present %d descriptors", len(presents))
			}
			return debug.ErrorWrapf(ErrorSubmissionFailure{}, "Failed to present %d descriptors: %v", len(presents), err)
		}
	}
	return nil
}

func (s *SubmissionBatch) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")

	buff.WriteString("\"submits\": [")
	for i := range s.Submits {
		if i > 0 {
			buff.WriteString(",")
		}
		buff.WriteString(jsonString(&s.Submits[i]))
	}
	buff.WriteString("],")

	buff.WriteString("\"presents\": [")
	for i := range s.Presents {
		if i > 0 {
			buff.WriteString(",")
		}
		buff.WriteString(jsonString(&s.Presents[i]))
	}
	buff.WriteString("]")

	buff.WriteString("}")
	return buff.Bytes(), nil
}
