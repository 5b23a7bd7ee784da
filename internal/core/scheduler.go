package core

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/petermattis/goid"

	"github.com/progressive-ui/ride/host"
)

// Stats are read-only counters a host or test can poll to observe scheduler
// activity without instrumenting the flush loop itself.
type Stats struct {
	Frames        int
	Yields        int
	ComponentsRun int
}

// FrameSource schedules a callback to run on the next animation frame. The
// default implementation runs it on a fresh goroutine, mirroring how the
// source's Schedule() kicks off `go flush()`; a test double can instead run
// it synchronously or queue it for manual pumping.
type FrameSource interface {
	RequestFrame(cb func())
}

type goroutineFrameSource struct{}

func (goroutineFrameSource) RequestFrame(cb func()) { go cb() }

// Scheduler is the frame-budgeted cooperative dispatcher described in spec
// §4.3. One Scheduler exists per Runtime.
type Scheduler struct {
	mu sync.Mutex

	runtime *Runtime
	budget  time.Duration

	dirty          *DirtySet
	scheduledFrame bool
	inFlight       chan struct{}

	localityRoot Component
	localQueue   []Component

	frameSource FrameSource
	now         func() time.Time

	stats Stats
}

func newScheduler(rt *Runtime, budgetNanos int64) *Scheduler {
	return &Scheduler{
		runtime:     rt,
		budget:      time.Duration(budgetNanos),
		dirty:       NewDirtySet(),
		frameSource: goroutineFrameSource{},
		now:         time.Now,
	}
}

// SetFrameSource overrides how frames are scheduled. Tests use this to
// drive the scheduler deterministically instead of racing goroutines.
func (s *Scheduler) SetFrameSource(fs FrameSource) {
	s.mu.Lock()
	s.frameSource = fs
	s.mu.Unlock()
}

// Stats returns a snapshot of the scheduler's counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// MarkDirty enqueues c for the next flush. If a locality-subtree pass is
// currently in progress and c is one of its descendants, c instead joins
// that pass's local queue and drains within the same frame.
func (s *Scheduler) MarkDirty(c Component) {
	s.mu.Lock()
	if s.localityRoot != nil && isDescendant(c, s.localityRoot) {
		s.localQueue = append(s.localQueue, c)
		s.mu.Unlock()
		return
	}

	s.dirty.Insert(c)
	s.mu.Unlock()

	s.scheduleFrame()
}

// scheduleFrame requests a frame unless one is already pending. If a flush
// is currently running, it only raises the flag: the running flush's own
// completion (see runFlush's defer) requests the actual next frame, so a
// component dirtying itself mid-dispatch can never leave scheduledFrame
// stuck true with nothing left to consume it.
func (s *Scheduler) scheduleFrame() {
	s.mu.Lock()
	if s.scheduledFrame {
		s.mu.Unlock()
		return
	}
	s.scheduledFrame = true
	if s.inFlight != nil {
		s.mu.Unlock()
		return
	}
	fs := s.frameSource
	s.mu.Unlock()
	fs.RequestFrame(s.runFlush)
}

// WhenIdle repeatedly awaits any in-flight flush and then flushes while
// work remains, up to max iterations. It returns an error if the scheduler
// has not settled within that budget, matching the idle barrier contract in
// spec §4.3.
func (s *Scheduler) WhenIdle(max int) error {
	for i := 0; i < max; i++ {
		s.mu.Lock()
		inFlight := s.inFlight
		s.mu.Unlock()

		if inFlight != nil {
			<-inFlight
			continue
		}

		s.mu.Lock()
		pending := s.scheduledFrame || s.dirty.Len() > 0
		s.mu.Unlock()

		if !pending {
			return nil
		}

		s.runFlush()
	}
	return fmt.Errorf("core: scheduler did not settle within %d flushes", max)
}

// runFlush processes one animation frame's worth of dirty components. It is
// the scheduler's only entry point that runs user code (diff/effect/init
// callbacks), always on the goroutine that called it.
func (s *Scheduler) runFlush() {
	s.mu.Lock()
	if s.inFlight != nil {
		s.mu.Unlock()
		return
	}
	done := make(chan struct{})
	s.inFlight = done
	s.scheduledFrame = false
	s.mu.Unlock()

	leaveFlush := s.runtime.enterFlush(goid.Get())

	defer func() {
		leaveFlush()
		s.mu.Lock()
		close(done)
		s.inFlight = nil
		// A component can dirty itself (or another) while this very flush was
		// running, e.g. a diff resolving synchronously inside dispatch.
		// scheduleFrame saw inFlight set and only raised the flag rather than
		// requesting a frame; honor that request now that we're clear.
		wantsFrame := s.scheduledFrame
		fs := s.frameSource
		s.mu.Unlock()
		if wantsFrame {
			fs.RequestFrame(s.runFlush)
		}
	}()

	batch := s.drainAllDepths()
	if len(batch) == 0 {
		return
	}

	if !s.runtime.IsReady() {
		s.mu.Lock()
		for _, c := range batch {
			s.dirty.Insert(c)
		}
		s.mu.Unlock()
		s.scheduleFrame()
		return
	}

	sortBatch(batch)

	s.mu.Lock()
	s.stats.Frames++
	s.mu.Unlock()

	frameStart := s.now()
	yielded := false
	shouldYield := func() bool {
		if yielded {
			return true
		}
		if s.budget <= 0 {
			return false
		}
		if s.now().Sub(frameStart) >= s.budget {
			yielded = true
			s.mu.Lock()
			s.stats.Yields++
			s.mu.Unlock()
		}
		return yielded
	}

	touched := map[host.Host]struct{}{}
	s.processBatch(batch, shouldYield, touched)

	for h := range touched {
		h.RequestRender()
	}
}

// drainAllDepths pulls every pending component out of the dirty set,
// grouped by depth in ascending order, flattened into one slice. Grouping
// by depth first (an O(1) bucket walk) means the subsequent full sort only
// has to break ties within (and, for stability, negligibly across) depth
// groups by priority and creation order.
func (s *Scheduler) drainAllDepths() []Component {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Component
	for {
		_, group := s.dirty.DrainDepth()
		if group == nil {
			break
		}
		out = append(out, group...)
	}
	return out
}

func sortBatch(batch []Component) {
	sort.SliceStable(batch, func(i, j int) bool {
		bi, bj := batch[i].Base(), batch[j].Base()
		if bi.depth != bj.depth {
			return bi.depth < bj.depth
		}
		if bi.componentPriority != bj.componentPriority {
			return bi.componentPriority < bj.componentPriority
		}
		return bi.createdAt < bj.createdAt
	})
}

// processBatch walks batch in depth order. Within a depth-group it disables
// yielding for every member but the last, so the group always completes
// together (spec §8 property 8, "depth non-splitting"); subtree-locality
// members instead run their own contained pass via processSubtree, which is
// exempt from depth-group gating.
func (s *Scheduler) processBatch(batch []Component, shouldYield func() bool, touched map[host.Host]struct{}) {
	i := 0
	for i < len(batch) {
		depth := batch[i].Base().depth
		groupEnd := i
		for groupEnd < len(batch) && batch[groupEnd].Base().depth == depth {
			groupEnd++
		}

		for j := i; j < groupEnd; j++ {
			c := batch[j]
			last := j == groupEnd-1

			if c.Base().locality() == LocalitySubtree {
				s.processSubtree(c, shouldYield, touched)
				continue
			}

			if last {
				s.processOne(c, shouldYield, touched)
			} else {
				s.processOne(c, func() bool { return false }, touched)
			}
		}

		i = groupEnd

		if i < len(batch) && shouldYield() {
			s.mu.Lock()
			for _, remaining := range batch[i:] {
				s.dirty.Insert(remaining)
			}
			s.mu.Unlock()
			s.scheduleFrame()
			return
		}
	}
}

// processSubtree runs root and then drains everything dirtied beneath it
// during that run, within this same frame, before returning control to
// processBatch. Depth-group gating does not apply inside a subtree pass:
// only the real budget predicate does.
func (s *Scheduler) processSubtree(root Component, shouldYield func() bool, touched map[host.Host]struct{}) {
	s.mu.Lock()
	prevRoot := s.localityRoot
	s.localityRoot = root
	s.mu.Unlock()

	s.processOne(root, shouldYield, touched)

	for {
		s.mu.Lock()
		queue := s.localQueue
		s.localQueue = nil
		s.mu.Unlock()

		if len(queue) == 0 {
			break
		}
		sortBatch(queue)

		yieldedAt := -1
		for idx, c := range queue {
			if shouldYield() {
				yieldedAt = idx
				break
			}
			if c.Base().locality() == LocalitySubtree {
				s.processSubtree(c, shouldYield, touched)
			} else {
				s.processOne(c, shouldYield, touched)
			}
		}
		if yieldedAt >= 0 {
			s.mu.Lock()
			s.localQueue = append(s.localQueue, queue[yieldedAt:]...)
			s.mu.Unlock()
			break
		}
	}

	s.mu.Lock()
	s.localityRoot = prevRoot
	leftover := s.localQueue
	s.localQueue = nil
	for _, c := range leftover {
		s.dirty.Insert(c)
	}
	s.mu.Unlock()

	if len(leftover) > 0 {
		s.scheduleFrame()
	}
}

func (s *Scheduler) processOne(c Component, shouldYield func() bool, touched map[host.Host]struct{}) {
	b := c.Base()

	b.mu.Lock()
	destroyed := b.destroyed
	b.mu.Unlock()
	if destroyed {
		return
	}

	if h := s.runtime.Host(); h != nil {
		touched[h] = struct{}{}
	}

	b.mu.Lock()
	needsAttach := b.node == nil
	b.mu.Unlock()

	if needsAttach {
		if err := b.attachNode(); err != nil {
			s.runtime.ReportError(err, ErrorContext{Component: c, Phase: PhaseAttach})
			s.mu.Lock()
			s.dirty.Insert(c)
			s.mu.Unlock()
			return
		}
	}

	if b.cmds.Size() > 0 {
		fullyDrained := b.cmds.Drain(func(op Op) { b.dispatchOp(op) }, shouldYield)
		s.mu.Lock()
		s.stats.ComponentsRun++
		s.mu.Unlock()
		if !fullyDrained {
			s.mu.Lock()
			s.dirty.Insert(c)
			s.mu.Unlock()
		}
	}

	b.mu.Lock()
	initialized := b.initialized
	b.initialized = true
	b.mu.Unlock()

	if !initialized {
		b.runInitialCommit()
	}
}

func isDescendant(c Component, root Component) bool {
	b := c.Base()
	rootBase := root.Base()
	for p := b.parent; p != nil; p = p.parent {
		if p == rootBase {
			return true
		}
	}
	return false
}
