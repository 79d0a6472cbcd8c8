package memtable

import (
	"bytes"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"
)

const (
	// MaxHeight is the maximum height of the skip list
	MaxHeight = 12

	// BranchingFactor determines the probability of increasing the height
	BranchingFactor = 4
)

// ValueType represents the type of a key-value entry
type ValueType uint8

const (
	// TypeValue indicates the entry contains a value
	TypeValue ValueType = iota + 1

	// TypeDeletion indicates the entry is a tombstone (deletion marker)
	TypeDeletion
)

// entry is one version of a key
type entry struct {
	key       []byte
	value     []byte
	valueType ValueType
	seqNum    uint64
}

func newEntry(key, value []byte, valueType ValueType, seqNum uint64) *entry {
	return &entry{
		key:       key,
		value:     value,
		valueType: valueType,
		seqNum:    seqNum,
	}
}

// size returns the approximate size of the entry in memory
func (e *entry) size() int {
	return len(e.key) + len(e.value) + 16
}

// compareWithEntry orders by key ascending, then by sequence number
// descending so the newest version of a key comes first.
func (e *entry) compareWithEntry(other *entry) int {
	if cmp := bytes.Compare(e.key, other.key); cmp != 0 {
		return cmp
	}
	switch {
	case e.seqNum > other.seqNum:
		return -1
	case e.seqNum < other.seqNum:
		return 1
	}
	return 0
}

type node struct {
	entry  *entry
	height int32
	next   [MaxHeight]unsafe.Pointer
}

func newNode(e *entry, height int) *node {
	return &node{
		entry:  e,
		height: int32(height),
	}
}

func (n *node) getNext(level int) *node {
	return (*node)(atomic.LoadPointer(&n.next[level]))
}

func (n *node) setNext(level int, next *node) {
	atomic.StorePointer(&n.next[level], unsafe.Pointer(next))
}

// SkipList is a skip list with lock-free reads. Writers must be serialized
// by the caller; readers may run concurrently with a single writer.
type SkipList struct {
	head      *node
	maxHeight int32
	rnd       *rand.Rand
	rndMtx    sync.Mutex
	size      int64
	count     int64
}

// NewSkipList creates a new skip list
func NewSkipList() *SkipList {
	return &SkipList{
		head:      newNode(nil, MaxHeight),
		maxHeight: 1,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *SkipList) randomHeight() int {
	s.rndMtx.Lock()
	defer s.rndMtx.Unlock()

	height := 1
	for height < MaxHeight && s.rnd.Intn(BranchingFactor) == 0 {
		height++
	}
	return height
}

func (s *SkipList) getCurrentHeight() int {
	return int(atomic.LoadInt32(&s.maxHeight))
}

// Insert adds a new entry to the skip list
func (s *SkipList) Insert(e *entry) {
	height := s.randomHeight()
	prev := [MaxHeight]*node{}
	n := newNode(e, height)

	currHeight := s.getCurrentHeight()
	if height > currHeight {
		// Levels above the old height start at head
		for level := currHeight; level < height; level++ {
			prev[level] = s.head
		}
		atomic.StoreInt32(&s.maxHeight, int32(height))
	}

	current := s.head
	for level := currHeight - 1; level >= 0; level-- {
		for next := current.getNext(level); next != nil; next = current.getNext(level) {
			if next.entry.compareWithEntry(e) >= 0 {
				break
			}
			current = next
		}
		prev[level] = current
	}

	// Link bottom-up so that readers never see a node before its lower levels
	for level := 0; level < height; level++ {
		n.setNext(level, prev[level].getNext(level))
		prev[level].setNext(level, n)
	}

	atomic.AddInt64(&s.size, int64(e.size()))
	atomic.AddInt64(&s.count, 1)
}

// seekGE returns the first node whose key is >= key, or nil
func (s *SkipList) seekGE(key []byte) *node {
	current := s.head
	for level := s.getCurrentHeight() - 1; level >= 0; level-- {
		for next := current.getNext(level); next != nil; next = current.getNext(level) {
			if bytes.Compare(next.entry.key, key) >= 0 {
				break
			}
			current = next
		}
	}
	return current.getNext(0)
}

// Find returns the newest entry for key, or nil
func (s *SkipList) Find(key []byte) *entry {
	n := s.seekGE(key)
	if n == nil || !bytes.Equal(n.entry.key, key) {
		return nil
	}
	// Versions of a key are ordered newest first
	return n.entry
}

// ApproximateSize returns the approximate size of the skip list in bytes
func (s *SkipList) ApproximateSize() int64 {
	return atomic.LoadInt64(&s.size)
}

// Len returns the number of entries, counting every version of a key
func (s *SkipList) Len() int64 {
	return atomic.LoadInt64(&s.count)
}

// Iterator provides sequential access to every version in the skip list
type Iterator struct {
	list    *SkipList
	current *node
}

// NewIterator creates an Iterator positioned before the first entry
func (s *SkipList) NewIterator() *Iterator {
	return &Iterator{
		list:    s,
		current: s.head,
	}
}

// Valid returns true if the iterator is positioned at an entry
func (it *Iterator) Valid() bool {
	return it.current != nil && it.current != it.list.head
}

// Next advances the iterator to the next entry
func (it *Iterator) Next() {
	if it.current == nil {
		return
	}
	it.current = it.current.getNext(0)
}

// SeekToFirst positions the iterator at the first entry
func (it *Iterator) SeekToFirst() {
	it.current = it.list.head.getNext(0)
}

// Seek positions the iterator at the newest version of the first key >= target
func (it *Iterator) Seek(key []byte) {
	it.current = it.list.seekGE(key)
}

// Key returns the key of the current entry
func (it *Iterator) Key() []byte {
	if !it.Valid() {
		return nil
	}
	return it.current.entry.key
}

// Value returns the value of the current entry; nil for tombstones
func (it *Iterator) Value() []byte {
	if !it.Valid() || it.current.entry.valueType == TypeDeletion {
		return nil
	}
	return it.current.entry.value
}

// ValueType returns the type of the current entry
func (it *Iterator) ValueType() ValueType {
	if !it.Valid() {
		return 0
	}
	return it.current.entry.valueType
}

// IsTombstone returns true if the current entry is a deletion marker
func (it *Iterator) IsTombstone() bool {
	return it.Valid() && it.current.entry.valueType == TypeDeletion
}

// SequenceNumber returns the sequence number of the current entry
func (it *Iterator) SequenceNumber() uint64 {
	if !it.Valid() {
		return 0
	}
	return it.current.entry.seqNum
}
