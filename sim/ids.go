package sim

// IDAllocator hands out domain ids for one kind of entity. Each component that
// creates entities owns its allocator; ids seen on the bus are fed back through
// Observe so a fresh id never collides with one another participant assigned.
//
// Thread-safety: NOT thread-safe. Owned by a single participant's step loop.
type IDAllocator struct {
	next int
}

// NewIDAllocator returns an allocator whose first id is start.
func NewIDAllocator(start int) *IDAllocator {
	return &IDAllocator{next: start}
}

// Next returns a fresh id.
func (a *IDAllocator) Next() int {
	id := a.next
	a.next++
	return id
}

// Peek returns the id Next would return, without consuming it.
func (a *IDAllocator) Peek() int {
	return a.next
}

// Observe records an id allocated elsewhere.
func (a *IDAllocator) Observe(id int) {
	if id >= a.next {
		a.next = id + 1
	}
}
