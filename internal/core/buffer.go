package core

import "sort"

// CommandBuffer is a per-component ordered queue with keyed coalescing and
// priority-sorted budgeted draining. See spec §4.1.
//
// The live buffer/index pair is deliberately the same shape spec.md
// prescribes (a slice plus a map from key to position) rather than the
// teacher's circular per-height linked lists (internal/heap.go): a
// CommandBuffer's ordering key (priority, sequence) is not incrementally
// maintained the way dependency height is, it is recomputed by a full sort
// on every drain, so the extra bookkeeping a persistent linked structure
// buys the teacher's dependency graph has no payoff here.
type CommandBuffer struct {
	ops        []Op
	index      map[string]int
	sequence   uint64
	generation uint64
}

// NewCommandBuffer creates an empty CommandBuffer.
func NewCommandBuffer() *CommandBuffer {
	return &CommandBuffer{
		index: make(map[string]int),
	}
}

// Size returns the number of ops currently queued (not counting ops
// in-flight inside a Drain call).
func (b *CommandBuffer) Size() int {
	return len(b.ops)
}

// Generation returns the buffer's current generation counter.
func (b *CommandBuffer) Generation() uint64 {
	return b.generation
}

// BumpGeneration advances the generation counter. Called by Component.Update
// on every staged patch so ops pushed afterwards carry an informative
// generation stamp.
func (b *CommandBuffer) BumpGeneration() {
	b.generation++
}

// Push enqueues or coalesces an op. typ and key must be non-empty.
func (b *CommandBuffer) Push(typ, key string, payload any, opts PushOptions) {
	if typ == "" || key == "" {
		panic("core: CommandBuffer.Push requires a non-empty type and key")
	}

	priority := opts.Priority

	if pos, ok := b.index[key]; ok {
		prev := b.ops[pos]

		newPayload := payload
		if opts.SquashWith != nil {
			newOp := Op{
				Type:       typ,
				Key:        key,
				Payload:    payload,
				Priority:   priority,
				Sequence:   prev.Sequence,
				Generation: b.generation,
			}
			newPayload = opts.SquashWith(prev.Payload, payload, prev, newOp)
		}

		b.ops[pos] = Op{
			Type:       typ,
			Key:        key,
			Payload:    newPayload,
			Priority:   priority,
			Sequence:   prev.Sequence, // sequence is stable across coalescing
			Generation: b.generation,
		}
		return
	}

	b.sequence++
	b.ops = append(b.ops, Op{
		Type:       typ,
		Key:        key,
		Payload:    payload,
		Priority:   priority,
		Sequence:   b.sequence,
		Generation: b.generation,
	})
	b.index[key] = len(b.ops) - 1
}

// Clear discards every queued op without running effects for them.
func (b *CommandBuffer) Clear() {
	b.ops = nil
	b.index = make(map[string]int)
}

// Drain snapshots the current ops, sorts them by (priority asc, sequence
// asc), and invokes effect for each in order. New ops pushed into the
// buffer while effect runs (including by effect itself) land in the live
// buffer/index and are left for the next Drain call.
//
// If shouldYield reports true before an op runs, the remaining snapshot is
// re-pushed (preserving coalescing against anything queued during this
// drain) and Drain returns false. Drain returns true once the whole
// snapshot has been processed.
func (b *CommandBuffer) Drain(effect func(Op), shouldYield func() bool) bool {
	snapshot := b.ops
	b.ops = nil
	b.index = make(map[string]int)

	sort.SliceStable(snapshot, func(i, j int) bool {
		if snapshot[i].Priority != snapshot[j].Priority {
			return snapshot[i].Priority < snapshot[j].Priority
		}
		return snapshot[i].Sequence < snapshot[j].Sequence
	})

	for i, op := range snapshot {
		if shouldYield != nil && shouldYield() {
			for _, remaining := range snapshot[i:] {
				b.requeue(remaining)
			}
			return false
		}

		effect(op)
	}

	return true
}

// requeue re-inserts an op from a yielded snapshot, preserving coalescing
// semantics against ops already pushed into the live buffer.
func (b *CommandBuffer) requeue(op Op) {
	if pos, ok := b.index[op.Key]; ok {
		// A newer push for this key already landed in the live buffer;
		// per spec, forward-only coalescing means the live push wins and
		// the stale snapshot op is dropped, but its sequence must be
		// preserved since it was pushed first.
		live := b.ops[pos]
		b.ops[pos] = Op{
			Type:       live.Type,
			Key:        live.Key,
			Payload:    live.Payload,
			Priority:   live.Priority,
			Sequence:   op.Sequence,
			Generation: live.Generation,
		}
		return
	}

	b.ops = append(b.ops, op)
	b.index[op.Key] = len(b.ops) - 1
}
