package merge

import (
	"bytes"

	"github.com/KevoDB/kmerge/pkg/common/iterator"
)

// Comparator orders two keys, returning a negative number when a < b, zero
// when they are equal and a positive number when a > b.
type Comparator func(a, b []byte) int

// DefaultComparator orders keys bytewise
var DefaultComparator Comparator = bytes.Compare

// sourceHandle pairs an owned source with its position in the input slice.
// The index never changes and breaks ties between equal keys.
type sourceHandle[I iterator.Iterator] struct {
	iter  I
	index int
}

// sourceHeap is a min-heap of handles ordered by (key, index). Every handle
// in the heap reports Valid() == true.
type sourceHeap[I iterator.Iterator] struct {
	items []*sourceHandle[I]
	cmp   Comparator
}

func (h *sourceHeap[I]) Len() int { return len(h.items) }

func (h *sourceHeap[I]) Less(i, j int) bool {
	a, b := h.items[i], h.items[j]
	if c := h.cmp(a.iter.Key(), b.iter.Key()); c != 0 {
		return c < 0
	}
	// Equal keys: the lower index is the more recent source and comes first
	return a.index < b.index
}

func (h *sourceHeap[I]) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
}

func (h *sourceHeap[I]) Push(x any) {
	h.items = append(h.items, x.(*sourceHandle[I]))
}

func (h *sourceHeap[I]) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	h.items = old[:n-1]
	return item
}

// peek returns the minimum handle without removing it
func (h *sourceHeap[I]) peek() *sourceHandle[I] {
	if len(h.items) == 0 {
		return nil
	}
	return h.items[0]
}
