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
	"math"
	"time"
)

// pacer gates frame production to a fixed period.
type pacer struct {
	clock    Clock
	period   time.Duration
	slack    time.Duration
	deadline time.Time
	started  bool
}

func newPacer(clock Clock, frameRate float64, slack time.Duration) pacer {
	period := time.Duration(math.Round(float64(time.Second) / frameRate))
	return pacer{clock: clock, period: max(period, 1), slack: slack}
}

/*
ready reports whether the next frame is due. When the deadline is closer than
the slack it sleeps until the deadline instead of skipping. Falling behind by
more than a period resynchronizes to now so missed frames are not made up in
a burst.
*/
func (p *pacer) ready() bool {
	now := p.clock.Now()
	if !p.started {
		p.started = true
		p.deadline = now.Add(p.period)
		return true
	}

	if remaining := p.deadline.Sub(now); remaining > 0 {
		if remaining > p.slack {
			return false
		}
		p.clock.Sleep(remaining)
		now = p.deadline
	}

	p.deadline = p.deadline.Add(p.period)
	if !p.deadline.After(now) {
		p.deadline = now.Add(p.period)
	}
	return true
}
