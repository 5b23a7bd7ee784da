package core

// DirtySet buckets components pending a scheduler pass by tree depth,
// giving O(1) insert/remove and depth-ascending drain order without a full
// sort over the whole pending set for every frame.
//
// It is adapted from the source's per-height PriorityHeap (heap.go):
// components take the place of *Computed, "dependency height" becomes
// "tree depth", and the doubly linked circular bucket plus lookup-map
// removal technique carries over unchanged. Unlike heap.go, buckets are
// stored in a map rather than a fixed-size slice, since a component tree
// has no compile-time depth bound the way a dependency graph's height did.
type DirtySet struct {
	buckets            map[int]*dirtyNode
	lookup             map[Component]*dirtyNode
	minDepth, maxDepth int
	size               int
}

type dirtyNode struct {
	component  Component
	depth      int
	next, prev *dirtyNode
}

// NewDirtySet returns an empty DirtySet.
func NewDirtySet() *DirtySet {
	return &DirtySet{
		buckets: make(map[int]*dirtyNode),
		lookup:  make(map[Component]*dirtyNode),
	}
}

// Len reports the number of components currently pending.
func (d *DirtySet) Len() int { return d.size }

// Insert marks c pending. A component already pending is left alone: the
// dirty set carries membership, not a count.
func (d *DirtySet) Insert(c Component) {
	if _, ok := d.lookup[c]; ok {
		return
	}

	depth := c.Base().depth
	entry := &dirtyNode{component: c, depth: depth}
	d.lookup[c] = entry

	head := d.buckets[depth]
	if head == nil {
		entry.prev = entry
		d.buckets[depth] = entry
	} else {
		tail := head.prev
		tail.next = entry
		entry.prev = tail
		head.prev = entry
	}

	if d.size == 0 || depth < d.minDepth {
		d.minDepth = depth
	}
	if d.size == 0 || depth > d.maxDepth {
		d.maxDepth = depth
	}
	d.size++
}

// Remove unmarks c, if it was pending.
func (d *DirtySet) Remove(c Component) {
	if entry, ok := d.lookup[c]; ok {
		d.removeEntry(entry)
	}
}

func (d *DirtySet) removeEntry(entry *dirtyNode) {
	delete(d.lookup, entry.component)
	d.size--

	depth := entry.depth
	head := d.buckets[depth]

	if entry.prev == entry {
		delete(d.buckets, depth)
		return
	}

	if entry == head {
		d.buckets[depth] = entry.next
	} else {
		entry.prev.next = entry.next
	}

	next := entry.next
	if next == nil {
		next = head
	}
	next.prev = entry.prev
	entry.next = nil
}

// DrainDepth removes and returns every component pending at the lowest
// remaining depth, along with that depth. It returns (0, nil) once the set
// is empty. Repeated calls walk depths in ascending order, which is exactly
// the grouping the scheduler's depth-gating rule needs.
func (d *DirtySet) DrainDepth() (int, []Component) {
	for d.minDepth <= d.maxDepth {
		entry := d.buckets[d.minDepth]
		if entry == nil {
			d.minDepth++
			continue
		}

		depth := d.minDepth
		var out []Component
		for entry != nil {
			out = append(out, entry.component)
			d.removeEntry(entry)
			entry = d.buckets[depth]
		}
		return depth, out
	}
	return 0, nil
}
