package core

// Cleanup is a callback returned from an init or effect hook, run later at
// the appropriate teardown point.
type Cleanup func()

// combineCleanups folds several cleanups collected for the same op key into
// one that runs them in LIFO order, matching the per-component lifetime
// cleanup order (spec §4.2, §8 property 7).
func combineCleanups(fns []Cleanup) Cleanup {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}

// BehaviorContext is handed to a Behavior's Init/Diff/Effect callback. It
// carries the owning component and the two side channels a behavior can use
// instead of (or in addition to) a return value: registering an extra
// cleanup, and forcing DEFER from inside Diff.
type BehaviorContext struct {
	Component Component

	addCleanup func(Cleanup)
	deferFlag  *bool
	err        func(error, string, map[string]any)
}

// AddCleanup registers an additional cleanup. During Init dispatch this is a
// lifetime cleanup; during Effect dispatch it joins the combined per-key
// cleanup for the op that triggered it.
func (c *BehaviorContext) AddCleanup(fn Cleanup) {
	if fn == nil || c.addCleanup == nil {
		return
	}
	c.addCleanup(fn)
}

// Defer forces the enclosing Diff dispatch to resolve as DEFER even if every
// other diff hook returns COMMIT.
func (c *BehaviorContext) Defer() {
	if c.deferFlag != nil {
		*c.deferFlag = true
	}
}

// OnError routes err through the owning Runtime's error resolution chain
// with the given phase, tagged with this behavior's extra diagnostic data.
func (c *BehaviorContext) OnError(err error, phase string, extra map[string]any) {
	if err == nil || c.err == nil {
		return
	}
	c.err(err, phase, extra)
}

// Behavior packages a reusable slice of lifecycle logic that a Class
// attaches alongside (and ahead of) the component's own hooks. See spec
// §4.2. Types/Matches gate which ops Effect fires for; a nil Types and nil
// Matches means "every op".
type Behavior struct {
	Name  string
	Types []string

	Matches func(op Op) bool

	Init   func(ctx *BehaviorContext) Cleanup
	Diff   func(prev, next Props, ctx *BehaviorContext) Directive
	Effect func(op Op, ctx *BehaviorContext) Cleanup
}

func (beh Behavior) matches(op Op) bool {
	if len(beh.Types) > 0 {
		found := false
		for _, t := range beh.Types {
			if t == op.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if beh.Matches != nil && !beh.Matches(op) {
		return false
	}
	return true
}
