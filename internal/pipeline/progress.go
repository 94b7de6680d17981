package pipeline

import (
	"sync"

	"doc-translator/internal/layout"
)

// stageRange is the share of overall progress a stage covers.
type stageRange struct {
	from, to float64
}

var stageRanges = map[layout.State]stageRange{
	layout.StateExtracting:  {0, 70},
	layout.StateTranslating: {70, 90},
	layout.StateShaping:     {90, 93},
	layout.StateBuilding:    {93, 97},
	layout.StateQACheck:     {97, 100},
	layout.StateCompleted:   {100, 100},
}

// StageProgress maps done/total units of a stage onto the overall 0-100
// scale.
func StageProgress(state layout.State, done, total int) float64 {
	r, ok := stageRanges[state]
	if !ok {
		return 0
	}
	switch {
	case total <= 0 || done <= 0:
		return r.from
	case done >= total:
		return r.to
	}
	return r.from + (r.to-r.from)*float64(done)/float64(total)
}

// progressTracker is the single aggregation point for a job's progress.
// Workers report completed units; the tracker turns them into a
// percentage that never goes backwards and publishes it under its lock so
// publications are ordered.
type progressTracker struct {
	mu      sync.Mutex
	last    float64
	state   layout.State
	done    int
	total   int
	publish func(progress float64)
}

func newProgressTracker(start float64, publish func(float64)) *progressTracker {
	return &progressTracker{last: start, publish: publish}
}

// begin starts counting total units of state.
func (p *progressTracker) begin(state layout.State, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state, p.done, p.total = state, 0, total
	p.advanceLocked(StageProgress(state, 0, total))
}

// step records n completed units of the current stage.
func (p *progressTracker) step(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done += n
	p.advanceLocked(StageProgress(p.state, p.done, p.total))
}

// set moves progress to v unless that would go backwards.
func (p *progressTracker) set(v float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advanceLocked(v)
}

func (p *progressTracker) value() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func (p *progressTracker) advanceLocked(v float64) {
	if v <= p.last {
		return
	}
	p.last = v
	if p.publish != nil {
		p.publish(v)
	}
}
