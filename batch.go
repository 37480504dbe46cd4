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
	"slices"
)

// PresentTarget marks a batch whose completion should be presented.
type PresentTarget struct {
	Swapchain  Swapchain
	ImageIndex uint32
}

/*
CommandBatch is one unit of GPU work. Batches only reference semaphores, the
owning SyncPool or FrameChain keeps them alive.
*/
type CommandBatch struct {
	Name           string
	CommandBuffers []CommandBuffer
	Waits          []SemaphoreWait
	Signals        []Semaphore
	Present        *PresentTarget
}

func NewCommandBatch(name string, buffers ...CommandBuffer) *CommandBatch {
	return &CommandBatch{Name: name, CommandBuffers: buffers}
}

func (b *CommandBatch) Empty() bool {
	return len(b.CommandBuffers) == 0
}

func (b *CommandBatch) Clone() *CommandBatch {
	c := &CommandBatch{
		Name:           b.Name,
		CommandBuffers: slices.Clone(b.CommandBuffers),
		Waits:          slices.Clone(b.Waits),
		Signals:        slices.Clone(b.Signals),
	}
	if b.Present != nil {
		p := *b.Present
		c.Present = &p
	}
	return c
}

/*
DependsOn makes b wait until other reaches waitStage, the semaphore linking
them comes from pool. Submission order alone never orders GPU work, every
required ordering goes through here.
*/
func (b *CommandBatch) DependsOn(pool *SyncPool, waitStage PipelineStage, other *CommandBatch) {
	s, err := pool.Acquire()
	if err != nil {
		abort("Failed to chain %q after %q: %v", b.Name, other.Name, err)
	}
	b.Waits = append(b.Waits, SemaphoreWait{Semaphore: s, Stage: waitStage})
	other.Signals = append(other.Signals, s)
}

/*
ChainBatches links batches in order. Only the batches BuildSubmission keeps
take part: every kept batch after the first waits on the kept batch before
it, while nil batches and batches with neither command buffers nor a
presentation get no waits or signals and their neighbours are linked
directly. A dropped batch would otherwise leave a wait nothing signals.
*/
func ChainBatches(pool *SyncPool, waitStage PipelineStage, batches []*CommandBatch) {
	var prev *CommandBatch
	for _, b := range batches {
		if b == nil || (b.Empty() && b.Present == nil) {
			continue
		}
		if prev != nil {
			b.DependsOn(pool, waitStage, prev)
		}
		prev = b
	}
}

func (b *CommandBatch) MarshalJSON() ([]byte, error) {
	buff := bytes.Buffer{}
	buff.WriteString("{")
	buff.WriteString(fmt.Sprintf("\"name\": %q,", b.Name))
	buff.WriteString(fmt.Sprintf("\"commandBuffers\": %s,", hexList(b.CommandBuffers)))
	buff.WriteString("\"waits\": [")
	for i, w := range b.Waits {
		if i > 0 {
			buff.WriteString(",")
		}
		buff.WriteString(fmt.Sprintf("{\"semaphore\": %q, \"stage\": %q}", toHex(w.Semaphore), w.Stage.String()))
	}
	buff.WriteString("],")
	buff.WriteString(fmt.Sprintf("\"signals\": %s", hexList(b.Signals)))
	if b.Present != nil {
		buff.WriteString(fmt.Sprintf(",\"present\": {\"swapchain\": %q, \"imageIndex\": %d}", toHex(b.Present.Swapchain), b.Present.ImageIndex))
	}
	buff.WriteString("}")
	return buff.Bytes(), nil
}
