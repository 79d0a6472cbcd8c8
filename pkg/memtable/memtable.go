package memtable

import (
	"sync"
	"sync/atomic"
	"time"
)

// MemTable is an in-memory table that stores key-value pairs
// It is implemented using a skip list for efficient inserts and lookups
type MemTable struct {
	skipList     *SkipList
	nextSeqNum   uint64
	creationTime time.Time
	immutable    atomic.Bool
	mu           sync.RWMutex
}

// NewMemTable creates a new memory table
func NewMemTable() *MemTable {
	return &MemTable{
		skipList:     NewSkipList(),
		creationTime: time.Now(),
	}
}

// Put adds a key-value pair to the MemTable. Writes to an immutable
// MemTable are ignored.
func (m *MemTable) Put(key, value []byte, seqNum uint64) {
	m.insert(newEntry(copyBytes(key), copyBytes(value), TypeValue, seqNum))
}

// Delete marks a key as deleted in the MemTable
func (m *MemTable) Delete(key []byte, seqNum uint64) {
	m.insert(newEntry(copyBytes(key), nil, TypeDeletion, seqNum))
}

func (m *MemTable) insert(e *entry) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.IsImmutable() {
		return
	}

	m.skipList.Insert(e)

	if e.seqNum >= m.nextSeqNum {
		m.nextSeqNum = e.seqNum + 1
	}
}

// Get retrieves the value associated with the given key
// Returns (nil, true) if the key exists but has been deleted
// Returns (nil, false) if the key does not exist
// Returns (value, true) if the key exists and has a value
func (m *MemTable) Get(key []byte) ([]byte, bool) {
	if !m.IsImmutable() {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}

	e := m.skipList.Find(key)
	if e == nil {
		return nil, false
	}
	if e.valueType == TypeDeletion {
		return nil, true
	}
	return e.value, true
}

// Contains checks if the key exists in the MemTable, including as a tombstone
func (m *MemTable) Contains(key []byte) bool {
	if !m.IsImmutable() {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}
	return m.skipList.Find(key) != nil
}

// ApproximateSize returns the approximate size of the MemTable in bytes
func (m *MemTable) ApproximateSize() int64 {
	return m.skipList.ApproximateSize()
}

// Len returns the number of stored versions
func (m *MemTable) Len() int64 {
	return m.skipList.Len()
}

// SetImmutable marks the MemTable as immutable
// After this is called, no more modifications are allowed
func (m *MemTable) SetImmutable() {
	m.immutable.Store(true)
}

// IsImmutable returns whether the MemTable is immutable
func (m *MemTable) IsImmutable() bool {
	return m.immutable.Load()
}

// Age returns the age of the MemTable in seconds
func (m *MemTable) Age() float64 {
	return time.Since(m.creationTime).Seconds()
}

// NewIterator returns a raw iterator over every version in the MemTable
func (m *MemTable) NewIterator() *Iterator {
	return m.skipList.NewIterator()
}

// GetNextSequenceNumber returns the next sequence number to use
func (m *MemTable) GetNextSequenceNumber() uint64 {
	if !m.IsImmutable() {
		m.mu.RLock()
		defer m.mu.RUnlock()
	}
	return m.nextSeqNum
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}
