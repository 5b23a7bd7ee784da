package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progressive-ui/ride/host"
)

// labelComponent logs its own label from Init, optionally mounting further
// children (also via Init, so the log records dispatch order, not mount
// order).
type labelComponent struct {
	Base
	log    *[]string
	label  string
	onInit func(b *Base)
}

func (c *labelComponent) Init() Cleanup {
	*c.log = append(*c.log, c.label)
	if c.onInit != nil {
		c.onInit(&c.Base)
	}
	return nil
}

func labelClass(log *[]string, label string, priority int, locality Locality, onInit func(b *Base)) Class {
	return Class{
		New:      func() Component { return &labelComponent{log: log, label: label, onInit: onInit} },
		Priority: priority,
		Locality: locality,
	}
}

// silentComponent implements no optional hooks; it exists purely as an
// inert parent so a test's own log stays limited to the components it cares
// about.
type silentComponent struct{ Base }

// manualFrameSource records the requested callback instead of running it,
// so a test can assemble a batch across several MarkDirty calls without an
// eager frame source running each one in isolation.
type manualFrameSource struct{ pending func() }

func (m *manualFrameSource) RequestFrame(cb func()) { m.pending = cb }

// TestSchedulerDepthNonSplitting exercises spec §8 property 8: a shared
// depth group never yields mid-group, only at the transition to the next
// depth, even when the budget predicate would otherwise cut in earlier.
func TestSchedulerDepthNonSplitting(t *testing.T) {
	h := &fakeHost{}
	rt := NewRuntime(Class{}, nil)
	rt.Scheduler().SetFrameSource(&manualFrameSource{})
	rt.SetHost(h)
	s := rt.Scheduler()
	var log []string

	root := newComponent(rt, nil, Class{New: func() Component { return &silentComponent{} }}, Props{})
	rb := root.Base()

	a := newComponent(rt, rb, labelClass(&log, "A", 0, LocalityDepth, nil), Props{})
	b := newComponent(rt, rb, labelClass(&log, "B", 0, LocalityDepth, nil), Props{})
	c := newComponent(rt, rb, labelClass(&log, "C", 0, LocalityDepth, nil), Props{})
	d := newComponent(rt, a.Base(), labelClass(&log, "D", 0, LocalityDepth, nil), Props{})

	batch := []Component{a, b, c, d}

	calls := 0
	var snapshotAtYield []string
	shouldYield := func() bool {
		calls++
		if calls == 1 {
			return false
		}
		if snapshotAtYield == nil {
			snapshotAtYield = append([]string(nil), log...)
		}
		return true
	}

	touched := map[host.Host]struct{}{}
	s.processBatch(batch, shouldYield, touched)

	assert.Equal(t, []string{"A", "B", "C"}, snapshotAtYield,
		"the whole depth-1 group must finish before a yield is honored")
	assert.Equal(t, []string{"A", "B", "C"}, log,
		"the deferred depth-2 member has not run yet")

	require.NoError(t, s.WhenIdle(10))
	assert.Equal(t, []string{"A", "B", "C", "D"}, log,
		"the deferred depth-2 member runs once re-scheduled")
}

// TestSchedulerSubtreeContainment exercises S6: three subtree-locality
// items, each owning a Title (priority 5) and a Cover (priority 10), run to
// completion one item at a time. The test runtime has no frame budget.
func TestSchedulerSubtreeContainment(t *testing.T) {
	rt, h := newTestRuntime()
	var log []string

	rootClass := labelClass(&log, "root", 0, LocalityDepth, func(rootBase *Base) {
		for i := 0; i < 3; i++ {
			i := i
			itemClass := labelClass(&log, fmt.Sprintf("I%d", i), 0, LocalitySubtree, func(itemBase *Base) {
				itemBase.Mount(labelClass(&log, fmt.Sprintf("Title%d", i), 5, LocalityDepth, nil), Props{})
				itemBase.Mount(labelClass(&log, fmt.Sprintf("Cover%d", i), 10, LocalityDepth, nil), Props{})
			})
			rootBase.Mount(itemClass, Props{})
		}
	})

	root := MountRoot(rt, rootClass, Props{})
	require.Equal(t, "root", root.Base().self.(*labelComponent).label)

	require.NoError(t, rt.Scheduler().WhenIdle(50))

	assert.Equal(t, []string{
		"root",
		"I0", "Title0", "Cover0",
		"I1", "Title1", "Cover1",
		"I2", "Title2", "Cover2",
	}, log)
	assert.Positive(t, h.nodes)
}
