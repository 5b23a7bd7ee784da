package ride

import (
	"context"
	"time"

	"github.com/progressive-ui/ride/internal/core"
	"github.com/progressive-ui/ride/rideconfig"
	"github.com/progressive-ui/ride/ridelog"
)

// Re-exported core types. App code builds Class values and implements the
// optional hook interfaces against these names; it never imports
// internal/core directly.
type (
	Class           = core.Class
	Props           = core.Props
	Op              = core.Op
	Component       = core.Component
	Base            = core.Base
	Behavior        = core.Behavior
	BehaviorContext = core.BehaviorContext
	Cleanup         = core.Cleanup
	Directive       = core.Directive
	Locality        = core.Locality
	ErrorContext    = core.ErrorContext
	QueueOptions    = core.QueueOptions
	PushOptions     = core.PushOptions
	SquashFunc      = core.SquashFunc
	Differ          = core.Differ
	AsyncDiffer     = core.AsyncDiffer
	DiffResult      = core.DiffResult
	Initializer     = core.Initializer
	Effector        = core.Effector
	ChildParenter   = core.ChildParenter
	Errorer         = core.Errorer
	Stats           = core.Stats
)

// Diff directives.
const (
	DiffCommit = core.DirectiveCommit
	DiffDefer  = core.DirectiveDefer
)

// Locality modes.
const (
	LocalityDepth   = core.LocalityDepth
	LocalitySubtree = core.LocalitySubtree
)

// Named priorities. Lower runs earlier.
const (
	PriorityHighest = core.PriorityHighest
	PriorityHigh    = core.PriorityHigh
	PriorityMedium  = core.PriorityMedium
	PriorityLow     = core.PriorityLow
	PriorityLowest  = core.PriorityLowest
)

// Error phases.
const (
	PhaseHostInit    = core.PhaseHostInit
	PhaseAttach      = core.PhaseAttach
	PhaseInit        = core.PhaseInit
	PhaseDiff        = core.PhaseDiff
	PhaseInitialDiff = core.PhaseInitialDiff
	PhaseEffect      = core.PhaseEffect
	PhaseCleanup     = core.PhaseCleanup
)

// InitOpType is the reserved op type dispatched once per component before
// any other op.
const InitOpType = core.InitOpType

// Defaults re-exports the ambient tunables rideconfig loads from YAML.
type Defaults = rideconfig.Defaults

// LoadConfig reads ambient runtime defaults (frame budget, idle-flush
// ceiling) from a YAML file at path. A Class field left at its zero value
// falls back to the loaded value; a Class field set explicitly always wins.
func LoadConfig(path string) (Defaults, error) { return rideconfig.Load(path) }

// App is a mounted component tree bound to one Runtime and (eventually) one
// Host.
type App struct {
	runtime *core.Runtime
	root    Component
	idleMax int
}

// Mount builds class.New() as the root of a new tree, stages its initial
// props, and asynchronously starts class.CreateHost (if set). The returned
// App is usable immediately: Update/Queue calls against the root or any
// child mounted before the host resolves are buffered per the pre-ready
// rules in spec §5. class.Budget, if left unset, falls back to
// rideconfig.DefaultDefaults(); use MountWithDefaults to supply a
// file-loaded Defaults instead.
func Mount(ctx context.Context, class Class, props Props) *App {
	return MountWithDefaults(ctx, class, props, rideconfig.DefaultDefaults())
}

// MountWithDefaults behaves like Mount but applies cfg as the fallback for
// any Class field the caller left at its zero value, instead of the
// built-in DefaultDefaults.
func MountWithDefaults(ctx context.Context, class Class, props Props, cfg Defaults) *App {
	if class.Budget == 0 && cfg.FrameBudgetMillis > 0 {
		class.Budget = cfg.FrameBudgetMillis * int64(time.Millisecond)
	}

	rt := core.NewRuntime(class, ridelog.Default("ride"))
	root := core.MountRoot(rt, class, props)
	rt.Start(ctx, root, props)

	idleMax := cfg.IdleMaxFlushes
	if idleMax <= 0 {
		idleMax = rideconfig.DefaultDefaults().IdleMaxFlushes
	}
	return &App{runtime: rt, root: root, idleMax: idleMax}
}

// Root returns the mounted root component.
func (a *App) Root() Component { return a.root }

// WhenReady returns a channel closed once the host has resolved.
func (a *App) WhenReady() <-chan struct{} { return a.runtime.WhenReady() }

// Stats returns a snapshot of the scheduler's counters.
func (a *App) Stats() Stats { return a.runtime.Scheduler().Stats() }

// FlushUntilIdle drives the scheduler until it has no pending work, up to
// max flushes. It is meant for tests and headless batch drivers; a real
// host instead pumps frames on its own render loop and never calls this.
func (a *App) FlushUntilIdle(max int) error {
	return a.runtime.Scheduler().WhenIdle(max)
}

// FlushUntilIdleDefault behaves like FlushUntilIdle, using the
// IdleMaxFlushes ceiling resolved at Mount time (from rideconfig).
func (a *App) FlushUntilIdleDefault() error {
	return a.FlushUntilIdle(a.idleMax)
}

// Unmount destroys the whole tree and releases the host, if any.
func (a *App) Unmount() {
	a.root.Base().Destroy()
	a.runtime.Teardown()
}
