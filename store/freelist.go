package store

// FreeList tracks released node ids. Ids are handed back LIFO so recently
// freed records, likely still in the OS cache, are reused first.
type FreeList struct {
	ids []NodeID
	set map[NodeID]struct{}
}

// NewFreeList creates an empty FreeList.
func NewFreeList() *FreeList {
	return &FreeList{set: make(map[NodeID]struct{})}
}

// Len returns the number of free ids.
func (fl *FreeList) Len() int {
	return len(fl.ids)
}

// IsEmpty returns true if there are no free ids.
func (fl *FreeList) IsEmpty() bool {
	return len(fl.ids) == 0
}

// Head returns the most recently freed id, or NoNode.
func (fl *FreeList) Head() NodeID {
	if len(fl.ids) == 0 {
		return NoNode
	}
	return fl.ids[len(fl.ids)-1]
}

// Push adds an id to the free list.
func (fl *FreeList) Push(id NodeID) {
	fl.ids = append(fl.ids, id)
	fl.set[id] = struct{}{}
}

// Pop removes and returns the most recently freed id.
// Returns NoNode and false if the free list is empty.
func (fl *FreeList) Pop() (NodeID, bool) {
	if len(fl.ids) == 0 {
		return NoNode, false
	}
	idx := len(fl.ids) - 1
	id := fl.ids[idx]
	fl.ids = fl.ids[:idx]
	delete(fl.set, id)
	return id, true
}

// Contains checks if an id is free.
func (fl *FreeList) Contains(id NodeID) bool {
	_, ok := fl.set[id]
	return ok
}

// IDs returns the free ids from the head (next to be reused) to the tail.
func (fl *FreeList) IDs() []NodeID {
	out := make([]NodeID, len(fl.ids))
	for i, id := range fl.ids {
		out[len(fl.ids)-1-i] = id
	}
	return out
}

// Clear removes all entries from the free list.
func (fl *FreeList) Clear() {
	fl.ids = fl.ids[:0]
	fl.set = make(map[NodeID]struct{})
}
