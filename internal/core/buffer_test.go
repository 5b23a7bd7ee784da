package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommandBuffer(t *testing.T) {
	t.Run("coalesces pushes under the same key", func(t *testing.T) {
		buf := NewCommandBuffer()

		buf.Push("position", "pos", map[string]int{"x": 1, "y": 1}, PushOptions{})
		buf.Push("position", "pos", map[string]int{"x": 2, "y": 2}, PushOptions{})

		var log []string
		ok := buf.Drain(func(op Op) {
			log = append(log, fmt.Sprintf("%v", op.Payload))
		}, nil)

		assert.True(t, ok)
		assert.Equal(t, []string{"map[x:2 y:2]"}, log)
	})

	t.Run("squashes deltas by coalesce key", func(t *testing.T) {
		buf := NewCommandBuffer()

		type delta struct{ id, dx, dy int }
		squash := func(prevPayload, newPayload any, prevOp, newOp Op) any {
			p, n := prevPayload.(delta), newPayload.(delta)
			return delta{id: n.id, dx: p.dx + n.dx, dy: p.dy + n.dy}
		}

		push := func(d delta) {
			key := fmt.Sprintf("patch:%d", d.id)
			buf.Push("patch", key, d, PushOptions{SquashWith: squash})
		}

		push(delta{id: 1, dx: 1, dy: 0})
		push(delta{id: 1, dx: 2, dy: 3})
		push(delta{id: 1, dx: 4, dy: 1})
		push(delta{id: 2, dx: 5, dy: 5})

		var log []delta
		buf.Drain(func(op Op) { log = append(log, op.Payload.(delta)) }, nil)

		assert.Equal(t, []delta{
			{id: 1, dx: 7, dy: 4},
			{id: 2, dx: 5, dy: 5},
		}, log)
	})

	t.Run("reorders on priority when a key is re-pushed at a new priority", func(t *testing.T) {
		buf := NewCommandBuffer()

		buf.Push("tick", "A", "a1", PushOptions{Priority: 10})
		buf.Push("tick", "B", "b1", PushOptions{Priority: 5})
		buf.Push("tick", "A", "a2", PushOptions{Priority: 0})

		var log []string
		buf.Drain(func(op Op) { log = append(log, fmt.Sprintf("%s:%v", op.Key, op.Payload)) }, nil)

		assert.Equal(t, []string{"A:a2", "B:b1"}, log)
	})

	t.Run("preserves sequence across coalescing", func(t *testing.T) {
		buf := NewCommandBuffer()

		buf.Push("a", "a", 1, PushOptions{})
		buf.Push("b", "b", 1, PushOptions{})
		buf.Push("a", "a", 2, PushOptions{}) // same key, later push, sequence unchanged

		var order []string
		buf.Drain(func(op Op) { order = append(order, op.Key) }, nil)

		assert.Equal(t, []string{"a", "b"}, order)
	})

	t.Run("yields mid-drain and requeues the remainder", func(t *testing.T) {
		buf := NewCommandBuffer()
		buf.Push("t", "a", 1, PushOptions{})
		buf.Push("t", "b", 2, PushOptions{})
		buf.Push("t", "c", 3, PushOptions{})

		var ran []string
		yieldAfter := 1
		ok := buf.Drain(func(op Op) {
			ran = append(ran, op.Key)
		}, func() bool {
			return len(ran) >= yieldAfter
		})

		assert.False(t, ok)
		assert.Equal(t, []string{"a"}, ran)
		assert.Equal(t, 2, buf.Size())

		var rest []string
		ok = buf.Drain(func(op Op) { rest = append(rest, op.Key) }, nil)
		assert.True(t, ok)
		assert.Equal(t, []string{"b", "c"}, rest)
	})

	t.Run("a live push made during a yielded op wins over the requeued stale entry for the same key", func(t *testing.T) {
		buf := NewCommandBuffer()
		buf.Push("t", "a", "a1", PushOptions{})
		buf.Push("t", "b", "b1", PushOptions{})

		var seen []string
		ok := buf.Drain(func(op Op) {
			seen = append(seen, fmt.Sprintf("%s:%v", op.Key, op.Payload))
			// b hasn't run yet; push a newer value for it before the yield
			// check below stops the drain and requeues b's stale snapshot entry.
			buf.Push("t", "b", "b2", PushOptions{})
		}, func() bool { return len(seen) >= 1 })

		assert.False(t, ok)
		assert.Equal(t, []string{"a:a1"}, seen)

		var next []string
		buf.Drain(func(op Op) { next = append(next, fmt.Sprintf("%s:%v", op.Key, op.Payload)) }, nil)
		assert.Equal(t, []string{"b:b2"}, next)
	})

	t.Run("clear discards without running effects", func(t *testing.T) {
		buf := NewCommandBuffer()
		buf.Push("t", "a", 1, PushOptions{})
		buf.Clear()

		ran := false
		buf.Drain(func(Op) { ran = true }, nil)
		assert.False(t, ran)
	})
}
