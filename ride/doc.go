// Package ride is the public facade over internal/core: it re-exports the
// types an application needs (Class, Props, Op, Behavior, the optional
// hook interfaces) and adds the three entry points a host actually calls
// -- Mount, Unmount, and FlushUntilIdle -- the same shape the source
// repository's root sig.go wraps its own internal package with.
package ride
