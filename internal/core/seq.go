package core

import "sync/atomic"

// clock is a process-wide monotonic counter. It only ever advances and is
// never torn down; it exists purely as a stable tie-breaker for component
// creation order (createdAt) across the whole process. Op insertion order
// (sequence) comes from each CommandBuffer's own counter instead. It mirrors the single package-level clock the teacher keeps
// for its dependency graph (sigv2's `clock uint64`).
var clock uint64

// nextSeq returns the next value in the monotonic sequence.
func nextSeq() uint64 {
	return atomic.AddUint64(&clock, 1)
}
