package block

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Reader provides methods to read data from a serialized block
type Reader struct {
	data          []byte
	restartPoints []uint32
	dataEnd       uint32
	checksum      uint64
}

// NewReader verifies the block checksum and parses its restart points
func NewReader(data []byte) (*Reader, error) {
	if len(data) < BlockFooterSize {
		return nil, fmt.Errorf("%w: block data too small: %d bytes", ErrMalformed, len(data))
	}

	footerOffset := len(data) - BlockFooterSize
	numRestarts := binary.LittleEndian.Uint32(data[footerOffset : footerOffset+4])
	checksum := binary.LittleEndian.Uint64(data[footerOffset+4:])

	// The checksum covers everything except the checksum itself
	if computed := xxhash.Sum64(data[:len(data)-8]); computed != checksum {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrChecksumMismatch, checksum, computed)
	}

	restartOffset := footerOffset - int(numRestarts)*4
	if numRestarts == 0 || restartOffset < 0 {
		return nil, fmt.Errorf("%w: invalid restart point count %d", ErrMalformed, numRestarts)
	}

	restartPoints := make([]uint32, numRestarts)
	for i := range restartPoints {
		restartPoints[i] = binary.LittleEndian.Uint32(data[restartOffset+i*4:])
		if restartPoints[i] >= uint32(restartOffset) {
			return nil, fmt.Errorf("%w: restart point %d out of range", ErrMalformed, i)
		}
	}

	return &Reader{
		data:          data,
		restartPoints: restartPoints,
		dataEnd:       uint32(restartOffset),
		checksum:      checksum,
	}, nil
}

// Size returns the serialized size of the block
func (r *Reader) Size() int {
	return len(r.data)
}

// Iterator returns an unpositioned iterator for the block
func (r *Reader) Iterator() *Iterator {
	return &Iterator{reader: r}
}
