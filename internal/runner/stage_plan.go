package runner

import "time"

// stagePlan places stages on the run timeline. Stage targets apply as a step
// function: the full target holds from the stage start to its end.
type stagePlan struct {
	segments []stageSegment
	duration time.Duration
	peak     int
}

type stageSegment struct {
	index    int
	start    time.Duration
	duration time.Duration
	target   int
}

func compileStagePlan(stages []Stage) *stagePlan {
	if len(stages) == 0 {
		return nil
	}
	plan := &stagePlan{}
	var offset time.Duration
	for i, st := range stages {
		plan.segments = append(plan.segments, stageSegment{
			index:    i,
			start:    offset,
			duration: st.Duration,
			target:   st.Target,
		})
		if st.Target > plan.peak {
			plan.peak = st.Target
		}
		offset += st.Duration
	}
	plan.duration = offset
	return plan
}

// targetAt returns the VU target and stage index in effect at elapsed. ok is
// false once the plan is over. Zero-length stages are never in effect.
func (p *stagePlan) targetAt(elapsed time.Duration) (target, stage int, ok bool) {
	if p == nil {
		return 0, -1, false
	}
	if elapsed < 0 {
		elapsed = 0
	}
	for _, seg := range p.segments {
		if elapsed >= seg.start && elapsed < seg.start+seg.duration {
			return seg.target, seg.index, true
		}
	}
	return 0, -1, false
}

// end returns the offset at which segment i finishes.
func (p *stagePlan) end(i int) time.Duration {
	seg := p.segments[i]
	return seg.start + seg.duration
}

func (p *stagePlan) totalDuration() time.Duration {
	if p == nil {
		return 0
	}
	return p.duration
}

func (p *stagePlan) peakTarget() int {
	if p == nil {
		return 0
	}
	return p.peak
}
