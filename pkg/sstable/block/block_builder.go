package block

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Builder constructs a sorted, serialized block. Entries are prefix
// compressed against the previous key, with a full key stored every
// restart interval.
//
// Entry layout:
//
//	shared(2) | unshared(2) | flags(1) | valueLen(4) | key suffix | value
//
// Block layout:
//
//	entries | restart offsets (4 each) | restart count(4) | xxhash64(8)
type Builder struct {
	buf             bytes.Buffer
	restartPoints   []uint32
	restartInterval int
	sinceRestart    int
	entries         int
	firstKey        []byte
	lastKey         []byte
}

// NewBuilder creates a new block builder with the default restart interval
func NewBuilder() *Builder {
	return NewBuilderWithRestartInterval(RestartInterval)
}

// NewBuilderWithRestartInterval creates a block builder that stores a full
// key every interval entries
func NewBuilderWithRestartInterval(interval int) *Builder {
	if interval <= 0 {
		interval = RestartInterval
	}
	return &Builder{restartInterval: interval}
}

// Add adds a key-value pair to the block
// Keys must be added in strictly increasing order
func (b *Builder) Add(key, value []byte) error {
	return b.add(key, value, false)
}

// AddTombstone adds a deletion marker for key
func (b *Builder) AddTombstone(key []byte) error {
	return b.add(key, nil, true)
}

func (b *Builder) add(key, value []byte, tombstone bool) error {
	if b.entries > 0 && bytes.Compare(key, b.lastKey) <= 0 {
		return fmt.Errorf("keys must be added in strictly increasing order, got %q after %q",
			key, b.lastKey)
	}
	if len(key) > math.MaxUint16 {
		return fmt.Errorf("key too large: %d bytes", len(key))
	}

	shared := 0
	if b.sinceRestart == 0 || b.sinceRestart >= b.restartInterval {
		b.restartPoints = append(b.restartPoints, uint32(b.buf.Len()))
		b.sinceRestart = 0
	} else {
		shared = sharedPrefixLen(b.lastKey, key)
	}

	var flags byte
	if tombstone {
		flags |= flagTombstone
		value = nil
	}

	var header [entryHeaderSize]byte
	binary.LittleEndian.PutUint16(header[0:2], uint16(shared))
	binary.LittleEndian.PutUint16(header[2:4], uint16(len(key)-shared))
	header[4] = flags
	binary.LittleEndian.PutUint32(header[5:9], uint32(len(value)))

	b.buf.Write(header[:])
	b.buf.Write(key[shared:])
	b.buf.Write(value)

	if b.entries == 0 {
		b.firstKey = append([]byte(nil), key...)
	}
	b.lastKey = append(b.lastKey[:0], key...)
	b.sinceRestart++
	b.entries++

	return nil
}

// Reset clears the builder state
func (b *Builder) Reset() {
	b.buf.Reset()
	b.restartPoints = b.restartPoints[:0]
	b.sinceRestart = 0
	b.entries = 0
	b.firstKey = nil
	b.lastKey = nil
}

// EstimatedSize returns the size of the block when serialized
func (b *Builder) EstimatedSize() uint32 {
	if b.entries == 0 {
		return 0
	}
	return uint32(b.buf.Len()+len(b.restartPoints)*4) + BlockFooterSize
}

// Entries returns the number of entries in the block
func (b *Builder) Entries() int {
	return b.entries
}

// FirstKey returns the first key added since the last reset
func (b *Builder) FirstKey() []byte {
	return b.firstKey
}

// LastKey returns the last key added since the last reset
func (b *Builder) LastKey() []byte {
	return b.lastKey
}

// Finish serializes the block to a writer and returns its checksum
func (b *Builder) Finish(w io.Writer) (uint64, error) {
	if b.entries == 0 {
		return 0, fmt.Errorf("cannot finish empty block")
	}

	out := make([]byte, 0, b.EstimatedSize())
	out = append(out, b.buf.Bytes()...)
	for _, point := range b.restartPoints {
		out = binary.LittleEndian.AppendUint32(out, point)
	}
	out = binary.LittleEndian.AppendUint32(out, uint32(len(b.restartPoints)))

	checksum := xxhash.Sum64(out)
	out = binary.LittleEndian.AppendUint64(out, checksum)

	n, err := w.Write(out)
	if err != nil {
		return 0, fmt.Errorf("failed to write block: %w", err)
	}
	if n != len(out) {
		return 0, fmt.Errorf("wrote incomplete block: %d of %d bytes", n, len(out))
	}

	return checksum, nil
}

func sharedPrefixLen(a, b []byte) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] && n < math.MaxUint16 {
		n++
	}
	return n
}
