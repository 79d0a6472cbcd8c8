package memtable

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/KevoDB/kmerge/pkg/config"
)

// MemTablePool manages a pool of MemTables
// It maintains one active MemTable and a set of immutable MemTables
type MemTablePool struct {
	cfg          *config.Config
	active       *MemTable
	immutables   []*MemTable // oldest first
	maxAge       time.Duration
	maxSize      int64
	flushPending atomic.Bool
	mu           sync.RWMutex
}

// NewMemTablePool creates a new MemTable pool
func NewMemTablePool(cfg *config.Config) *MemTablePool {
	return &MemTablePool{
		cfg:        cfg,
		active:     NewMemTable(),
		immutables: make([]*MemTable, 0, cfg.MaxMemTables),
		maxAge:     time.Duration(cfg.MaxMemTableAge) * time.Second,
		maxSize:    cfg.MemTableSize,
	}
}

// Put adds a key-value pair to the active MemTable
func (p *MemTablePool) Put(key, value []byte, seqNum uint64) {
	p.mu.RLock()
	p.active.Put(key, value, seqNum)
	p.mu.RUnlock()

	p.checkFlushConditions()
}

// Delete marks a key as deleted in the active MemTable
func (p *MemTablePool) Delete(key []byte, seqNum uint64) {
	p.mu.RLock()
	p.active.Delete(key, seqNum)
	p.mu.RUnlock()

	p.checkFlushConditions()
}

// Get retrieves the value for a key, consulting the newest MemTable first
func (p *MemTablePool) Get(key []byte) ([]byte, bool) {
	for _, mt := range p.GetMemTables() {
		if value, found := mt.Get(key); found {
			return value, true
		}
	}
	return nil, false
}

// ImmutableCount returns the number of immutable MemTables
func (p *MemTablePool) ImmutableCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.immutables)
}

func (p *MemTablePool) checkFlushConditions() {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.flushPending.Load() {
		return
	}

	if p.active.ApproximateSize() >= p.maxSize ||
		(p.maxAge > 0 && p.active.Age() > p.maxAge.Seconds()) {
		p.flushPending.Store(true)
	}
}

// SwitchToNewMemTable makes the active MemTable immutable and creates a new active one
// Returns the MemTable that was frozen
func (p *MemTablePool) SwitchToNewMemTable() *MemTable {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.flushPending.Store(false)

	oldActive := p.active
	oldActive.SetImmutable()

	p.active = NewMemTable()
	p.immutables = append(p.immutables, oldActive)

	return oldActive
}

// GetImmutablesForFlush returns the immutable MemTables, oldest first. They
// stay in the pool, and keep shadowing older data, until RemoveFlushed is
// called with them.
func (p *MemTablePool) GetImmutablesForFlush() []*MemTable {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*MemTable, len(p.immutables))
	copy(result, p.immutables)
	return result
}

// RemoveFlushed drops the given immutable MemTables from the pool once their
// contents are durable elsewhere. Tables not in the pool are ignored.
func (p *MemTablePool) RemoveFlushed(tables []*MemTable) {
	p.mu.Lock()
	defer p.mu.Unlock()

	flushed := make(map[*MemTable]struct{}, len(tables))
	for _, mt := range tables {
		flushed[mt] = struct{}{}
	}

	kept := make([]*MemTable, 0, p.cfg.MaxMemTables)
	for _, mt := range p.immutables {
		if _, ok := flushed[mt]; !ok {
			kept = append(kept, mt)
		}
	}
	p.immutables = kept
}

// IsFlushNeeded returns true if a flush is needed
func (p *MemTablePool) IsFlushNeeded() bool {
	return p.flushPending.Load()
}

// GetNextSequenceNumber returns the next sequence number to use
func (p *MemTablePool) GetNextSequenceNumber() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.active.GetNextSequenceNumber()
}

// GetMemTables returns all MemTables newest first: the active table
// followed by the immutables in reverse order of freezing. This is the
// source order a merge expects.
func (p *MemTablePool) GetMemTables() []*MemTable {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]*MemTable, 0, len(p.immutables)+1)
	result = append(result, p.active)
	for i := len(p.immutables) - 1; i >= 0; i-- {
		result = append(result, p.immutables[i])
	}
	return result
}

// TotalSize returns the total approximate size of all memtables in the pool
func (p *MemTablePool) TotalSize() int64 {
	var total int64
	for _, mt := range p.GetMemTables() {
		total += mt.ApproximateSize()
	}
	return total
}
