// Package host defines the minimal surface a concrete renderer (GPU/Canvas/
// DOM adapter, font atlas manager, pointer event router, ...) must expose to
// the ride runtime. Everything in this package is an external collaborator:
// the runtime never implements Host, it only calls it. See spec.md §6.
package host

import "context"

// Node is an opaque handle to a host-side resource attached to a component.
// The core never inspects it; it only threads it through Attach/Detach.
type Node any

// Host is the adapter surface the ride core consumes. A concrete host
// (Canvas, GPU surface, DOM document, headless test double, ...) implements
// this to plug into the scheduler.
type Host interface {
	// RootNode returns the opaque handle for the root container node.
	RootNode() Node

	// CreateNode returns a fresh node handle for component. The core stores
	// the result on the component; it is created lazily, on first flush.
	CreateNode(component any) (Node, error)

	// AttachNode attaches child beneath parent. May return an error, which
	// is reported under phase "attach"; the component is skipped for the
	// current frame and retried on its next dirty mark.
	AttachNode(parent, child Node) error

	// DetachNode removes child from beneath parent.
	DetachNode(parent, child Node)

	// DestroyNode releases host-side resources tied to node.
	DestroyNode(node Node)

	// RequestRender signals the host to present after a flush. Called at
	// most once per host per flush.
	RequestRender()
}

// Teardown is implemented by hosts that need a chance to release
// process-wide resources when the app is unmounted.
type Teardown interface {
	Teardown()
}

// Factory constructs a Host asynchronously for a mounted app. It is the Go
// analogue of the source's `createHost(props, context)`.
type Factory func(ctx context.Context, props map[string]any) (Host, error)
