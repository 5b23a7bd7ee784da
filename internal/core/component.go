package core

import (
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/progressive-ui/ride/host"
)

// Directive is the outcome of a diff pass: whether staged props may commit
// or must wait for a later pass.
type Directive uint8

const (
	// DirectiveCommit swaps staged props into the committed props.
	DirectiveCommit Directive = iota
	// DirectiveDefer leaves staged props pending; nothing commits.
	DirectiveDefer
)

// Component is any value whose concrete type embeds Base. Base's promoted
// Base() method gives the core a way to reach the shared bookkeeping fields
// from the app-supplied concrete type, the same way an owner reaches into
// its embedded fields in the source's owner/node pairing.
type Component interface {
	Base() *Base
}

// Differ is the synchronous half of the optional diff hook: a component
// that knows on the spot whether it can commit given props.
type Differ interface {
	Diff(prev, next Props) Directive
}

// DiffResult is what an AsyncDiffer resolves with.
type DiffResult struct {
	Directive Directive
	Err       error
}

// AsyncDiffer is the asynchronous half of the optional diff hook. Only one
// of Differ or AsyncDiffer should be implemented by a given component.
type AsyncDiffer interface {
	DiffAsync(prev, next Props) <-chan DiffResult
}

// Initializer runs once, the first time a component's @ride/init op is
// dispatched. Its return value, if non-nil, is the legacy init cleanup: it
// always runs last among a component's owned cleanups, after every lifetime
// cleanup contributed by a Behavior.
type Initializer interface {
	Init() Cleanup
}

// Effector is a component's own per-op handler, dispatched after every
// matching Behavior.Effect for the same op.
type Effector interface {
	Effect(op Op) Cleanup
}

// ChildParenter overrides where a child's node attaches. Without it, a
// child attaches directly beneath its parent's own node.
type ChildParenter interface {
	GetChildParent(child Component) host.Node
}

// Class is the static, shared configuration a set of components mount with:
// the source's "static per-class fields" translated into a plain value
// passed at Mount time, since Go has no notion of per-type static state.
type Class struct {
	// New returns a fresh, unconfigured instance of the concrete component
	// type. It must embed Base by value and return a pointer to itself.
	New func() Component

	Priority  int
	Budget    int64 // nanoseconds; <=0 means unbudgeted (root class only)
	Locality  Locality
	Behaviors []Behavior

	// OnError, set on the root app's Class, is consulted first by
	// Runtime.ReportError.
	OnError func(err error, ctx ErrorContext)

	// CreateHost, set on the root app's Class only, asynchronously builds
	// the Host the whole tree renders through.
	CreateHost host.Factory
}

// Base is the field set every Component embeds. Its methods implement the
// full component lifecycle described in spec §4.2; app code only ever
// implements the optional hook interfaces above.
type Base struct {
	mu sync.Mutex

	self    Component
	runtime *Runtime
	class   Class

	parent   *Base
	children []Component

	depth             int
	componentPriority int
	createdAt         uint64

	behaviors []Behavior

	cmds *CommandBuffer
	node host.Node

	props       Props
	prevProps   Props
	stagedProps *Props

	cleanups          map[string]Cleanup
	lifetimeCleanups  []Cleanup
	legacyInitCleanup Cleanup

	diffTicket uint64

	initialized     bool
	preReadyDiffRan bool
	destroyed       bool
}

// Base returns b itself, satisfying Component for any type embedding Base.
func (b *Base) Base() *Base { return b }

// Depth returns the component's distance from the mount root (root is 0).
func (b *Base) Depth() int { return b.depth }

// Props returns the last committed props.
func (b *Base) Props() Props { return b.props }

// PrevProps returns the props committed immediately before the current
// ones, computed at commit time (resolves the source's ambiguity about
// when prevProps is captured; see SPEC_FULL.md §E).
func (b *Base) PrevProps() Props { return b.prevProps }

func (b *Base) locality() Locality { return b.class.Locality }

// newComponent constructs, wires, and stages the initial props for a
// component. It is the single entry point used both for mounting the root
// (parent == nil) and for a component mounting a child.
func newComponent(rt *Runtime, parent *Base, class Class, props Props) Component {
	self := class.New()
	b := self.Base()

	b.self = self
	b.runtime = rt
	b.class = class
	b.parent = parent
	b.componentPriority = class.Priority
	b.createdAt = nextSeq()
	b.behaviors = class.Behaviors
	b.cmds = NewCommandBuffer()
	b.cleanups = make(map[string]Cleanup)
	b.props = Props{}

	if parent != nil {
		b.depth = parent.depth + 1
		parent.children = append(parent.children, self)
	}

	b.cmds.Push(InitOpType, InitOpType, nil, PushOptions{Priority: b.componentPriority - 1})

	b.Update(props)

	return self
}

// Mount creates and wires a child of b, staging its initial props.
func (b *Base) Mount(class Class, props Props) Component {
	return newComponent(b.runtime, b, class, props)
}

// MountRoot creates the top-level component of a tree bound to rt. It is
// the entry point the ride facade's Mount function uses; components mount
// their own children through (*Base).Mount instead.
func MountRoot(rt *Runtime, class Class, props Props) Component {
	return newComponent(rt, nil, class, props)
}

// Unmount detaches child from b's child list and destroys it.
func (b *Base) Unmount(child Component) {
	cb := child.Base()

	b.mu.Lock()
	for i, c := range b.children {
		if c == child {
			b.children = append(b.children[:i], b.children[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	cb.Destroy()
}

// QueueOptions configures a single Queue call.
type QueueOptions struct {
	Key        string
	Priority   int
	CoalesceBy func(typ string, payload any) string
	SquashWith SquashFunc
}

// Queue enqueues an op into b's own command buffer and, once the runtime is
// ready, marks b dirty so the scheduler picks it up on the next frame.
func (b *Base) Queue(typ string, payload any, opts QueueOptions) {
	b.runtime.checkGoroutine("Queue")

	key := typ
	switch {
	case opts.CoalesceBy != nil:
		key = opts.CoalesceBy(typ, payload)
	case opts.Key != "":
		key = opts.Key
	}

	b.cmds.Push(typ, key, payload, PushOptions{Priority: b.componentPriority + opts.Priority, SquashWith: opts.SquashWith})

	if b.runtime.IsReady() {
		b.runtime.Scheduler().MarkDirty(b.self)
	}
}

// Update stages a shallow patch over the current (or already-staged) props
// and runs a diff pass. See spec §4.2 "Props updates" and §5 "Pre-ready
// buffering".
func (b *Base) Update(patch Props) {
	b.runtime.checkGoroutine("Update")

	b.mu.Lock()
	base := b.props
	if b.stagedProps != nil {
		base = *b.stagedProps
	}
	merged := shallowMerge(base, patch)
	b.stagedProps = &merged
	b.cmds.BumpGeneration()
	ticket := atomic.AddUint64(&b.diffTicket, 1)
	preReady := !b.runtime.IsReady()
	prev := b.props
	next := merged
	b.mu.Unlock()

	directive, async := b.invokeDiff(prev, next, preReady)
	if async != nil {
		go func() {
			res := <-async
			if res.Err != nil {
				b.runtime.ReportError(res.Err, ErrorContext{Component: b.self, Phase: PhaseDiff})
				res.Directive = DirectiveDefer
			}
			b.resolveDiff(ticket, res.Directive, preReady)
		}()
		return
	}

	b.resolveDiff(ticket, directive, preReady)
}

// invokeDiff runs every matching Behavior.Diff (unless preReady, in which
// case behavior diffs are skipped entirely) and then the component's own
// Diff/DiffAsync, if it implements one. It returns either a synchronous
// directive or a channel to await, never both.
func (b *Base) invokeDiff(prev, next Props, preReady bool) (Directive, <-chan DiffResult) {
	deferred := false

	if !preReady {
		ctx := &BehaviorContext{
			Component:  b.self,
			deferFlag:  &deferred,
			addCleanup: func(Cleanup) {}, // no-op: behaviors add cleanups from Init/Effect only
			err: func(err error, phase string, extra map[string]any) {
				b.runtime.ReportError(err, ErrorContext{Component: b.self, Phase: phase, Extra: extra})
			},
		}
		for _, beh := range b.behaviors {
			if beh.Diff == nil {
				continue
			}
			beh := beh
			d, ok := safeCall(b, PhaseDiff, nil, func() Directive { return beh.Diff(prev, next, ctx) })
			if !ok {
				deferred = true
				continue
			}
			if d == DirectiveDefer {
				deferred = true
			}
		}
	}

	switch self := b.self.(type) {
	case AsyncDiffer:
		ch := self.DiffAsync(prev, next)
		wrapped := make(chan DiffResult, 1)
		go func() {
			res := <-ch
			if deferred && res.Err == nil {
				res.Directive = DirectiveDefer
			}
			wrapped <- res
		}()
		return DirectiveDefer, wrapped
	case Differ:
		d, ok := safeCall(b, PhaseDiff, nil, func() Directive { return self.Diff(prev, next) })
		if !ok {
			return DirectiveDefer, nil
		}
		if deferred && d == DirectiveCommit {
			d = DirectiveDefer
		}
		return d, nil
	default:
		if deferred {
			return DirectiveDefer, nil
		}
		return DirectiveCommit, nil
	}
}

// resolveDiff applies a diff outcome, honoring the ticket captured when the
// triggering Update call ran: if a newer Update has since incremented
// diffTicket, this resolution is stale and is forced to DEFER.
func (b *Base) resolveDiff(ticket uint64, directive Directive, preReady bool) {
	b.mu.Lock()

	if b.destroyed {
		b.mu.Unlock()
		return
	}

	if ticket != atomic.LoadUint64(&b.diffTicket) {
		directive = DirectiveDefer
	}

	if preReady {
		if directive == DirectiveCommit {
			b.preReadyDiffRan = true
		}
		b.mu.Unlock()
		return
	}

	if directive == DirectiveCommit {
		b.prevProps = b.props
		if b.stagedProps != nil {
			b.props = *b.stagedProps
		}
		b.stagedProps = nil
	}
	b.mu.Unlock()

	b.runtime.Scheduler().MarkDirty(b.self)
}

// runInitialCommit is invoked by the scheduler exactly once per component,
// on the frame it first attaches, to settle whatever props update() staged
// before the runtime became ready.
func (b *Base) runInitialCommit() {
	b.mu.Lock()
	if b.preReadyDiffRan {
		if b.stagedProps != nil {
			b.prevProps = b.props
			b.props = *b.stagedProps
			b.stagedProps = nil
		}
		b.mu.Unlock()
		return
	}
	prev := b.props
	next := prev
	if b.stagedProps != nil {
		next = *b.stagedProps
	}
	ticket := atomic.AddUint64(&b.diffTicket, 1)
	b.mu.Unlock()

	directive, async := b.invokeDiff(prev, next, false)
	if async != nil {
		go func() {
			res := <-async
			if res.Err != nil {
				b.runtime.ReportError(res.Err, ErrorContext{Component: b.self, Phase: PhaseInitialDiff})
				res.Directive = DirectiveDefer
			}
			b.resolveDiff(ticket, res.Directive, false)
		}()
		return
	}
	b.resolveDiff(ticket, directive, false)
}

// dispatchOp runs the effect side of a single op: @ride/init the first time,
// the behavior chain plus the component's own Effect for everything else.
func (b *Base) dispatchOp(op Op) {
	if op.Type == InitOpType {
		b.dispatchInit()
		return
	}
	b.dispatchEffect(op)
}

func (b *Base) dispatchInit() {
	ctx := &BehaviorContext{
		Component: b.self,
		addCleanup: func(fn Cleanup) {
			b.mu.Lock()
			b.lifetimeCleanups = append(b.lifetimeCleanups, fn)
			b.mu.Unlock()
		},
		err: func(err error, phase string, extra map[string]any) {
			b.runtime.ReportError(err, ErrorContext{Component: b.self, Phase: phase, Extra: extra})
		},
	}

	for _, beh := range b.behaviors {
		if beh.Init == nil {
			continue
		}
		beh := beh
		cleanup, ok := safeCall(b, PhaseInit, nil, func() Cleanup { return beh.Init(ctx) })
		if ok && cleanup != nil {
			b.mu.Lock()
			b.lifetimeCleanups = append(b.lifetimeCleanups, cleanup)
			b.mu.Unlock()
		}
	}

	if initializer, ok := b.self.(Initializer); ok {
		cleanup, callOk := safeCall(b, PhaseInit, nil, func() Cleanup { return initializer.Init() })
		if callOk && cleanup != nil {
			b.mu.Lock()
			b.legacyInitCleanup = cleanup
			b.mu.Unlock()
		}
	}
}

func (b *Base) dispatchEffect(op Op) {
	b.mu.Lock()
	prevCleanup, hadPrev := b.cleanups[op.Key]
	if hadPrev {
		delete(b.cleanups, op.Key)
	}
	b.mu.Unlock()

	if hadPrev {
		if err := b.runCleanup(prevCleanup, op.Key); err != nil {
			b.runtime.ReportError(err, ErrorContext{Component: b.self, Op: &op, Phase: PhaseCleanup})
		}
	}

	var collected []Cleanup
	ctx := &BehaviorContext{
		Component: b.self,
		addCleanup: func(fn Cleanup) {
			collected = append(collected, fn)
		},
		err: func(err error, phase string, extra map[string]any) {
			b.runtime.ReportError(err, ErrorContext{Component: b.self, Op: &op, Phase: phase, Extra: extra})
		},
	}

	for _, beh := range b.behaviors {
		if beh.Effect == nil || !beh.matches(op) {
			continue
		}
		beh := beh
		cleanup, ok := safeCall(b, PhaseEffect, &op, func() Cleanup { return beh.Effect(op, ctx) })
		if ok && cleanup != nil {
			collected = append(collected, cleanup)
		}
	}

	if effector, ok := b.self.(Effector); ok {
		cleanup, callOk := safeCall(b, PhaseEffect, &op, func() Cleanup { return effector.Effect(op) })
		if callOk && cleanup != nil {
			collected = append(collected, cleanup)
		}
	}

	if len(collected) > 0 {
		b.mu.Lock()
		b.cleanups[op.Key] = combineCleanups(collected)
		b.mu.Unlock()
	}
}

func (b *Base) runCleanup(fn Cleanup, key string) error {
	var reported error
	func() {
		defer func() {
			if r := recover(); r != nil {
				reported = toError(r)
			}
		}()
		fn()
	}()
	return reported
}

// attachNode lazily creates and attaches b's host node, the first time the
// scheduler processes b.
func (b *Base) attachNode() error {
	h := b.runtime.Host()
	if h == nil {
		return nil
	}

	node, err := safeAttach(b, h)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.node = node
	b.mu.Unlock()
	return nil
}

func safeAttach(b *Base, h host.Host) (node host.Node, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = toError(r)
		}
	}()

	node, err = h.CreateNode(b.self)
	if err != nil {
		return nil, err
	}

	var parentNode host.Node
	if b.parent != nil {
		parentNode = b.parent.attachPointFor(b.self)
	} else {
		parentNode = h.RootNode()
	}

	if err := h.AttachNode(parentNode, node); err != nil {
		h.DestroyNode(node)
		return nil, err
	}
	return node, nil
}

func (b *Base) attachPointFor(child Component) host.Node {
	if cp, ok := b.self.(ChildParenter); ok {
		return cp.GetChildParent(child)
	}
	return b.node
}

// Destroy tears b (and its whole subtree) down. It is idempotent: calling
// it twice is a no-op the second time. See spec §4.2 and §8 property 7 for
// the exact ordering (children first, then per-key cleanups, then lifetime
// cleanups in LIFO order, then the legacy init cleanup, then node detach).
func (b *Base) Destroy() {
	b.mu.Lock()
	if b.destroyed {
		b.mu.Unlock()
		return
	}
	b.destroyed = true
	atomic.AddUint64(&b.diffTicket, 1) // invalidate any in-flight async diff
	b.cmds.Clear()
	children := b.children
	b.children = nil
	cleanups := b.cleanups
	b.cleanups = nil
	lifetime := b.lifetimeCleanups
	b.lifetimeCleanups = nil
	legacy := b.legacyInitCleanup
	b.legacyInitCleanup = nil
	node := b.node
	b.node = nil
	b.mu.Unlock()

	for _, child := range children {
		child.Base().Destroy()
	}

	var errs error
	for key, cleanup := range cleanups {
		if err := b.runCleanup(cleanup, key); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	for i := len(lifetime) - 1; i >= 0; i-- {
		if err := b.runCleanup(lifetime[i], ""); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if legacy != nil {
		if err := b.runCleanup(legacy, ""); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if errs != nil {
		b.runtime.ReportError(errs, ErrorContext{Component: b.self, Phase: PhaseCleanup})
	}

	if node != nil {
		h := b.runtime.Host()
		if h != nil {
			var parentNode host.Node
			if b.parent != nil {
				parentNode = b.parent.attachPointFor(b.self)
			} else {
				parentNode = h.RootNode()
			}
			h.DetachNode(parentNode, node)
			h.DestroyNode(node)
		}
	}
}
