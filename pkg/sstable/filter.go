package sstable

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/cespare/xxhash/v2"
)

// filterBuilder collects key hashes while a table is written. The filter is
// sized once the final key count is known.
type filterBuilder struct {
	fpRate float64
	hashes []uint64
}

func newFilterBuilder(fpRate float64) *filterBuilder {
	return &filterBuilder{fpRate: fpRate}
}

func (fb *filterBuilder) add(key []byte) {
	fb.hashes = append(fb.hashes, xxhash.Sum64(key))
}

// finish serializes the filter followed by an xxhash64 of the filter bytes
func (fb *filterBuilder) finish() ([]byte, error) {
	n := uint(len(fb.hashes))
	if n == 0 {
		n = 1
	}
	filter := bloom.NewWithEstimates(n, fb.fpRate)

	var scratch [8]byte
	for _, h := range fb.hashes {
		binary.LittleEndian.PutUint64(scratch[:], h)
		filter.Add(scratch[:])
	}

	var buf bytes.Buffer
	if _, err := filter.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to serialize bloom filter: %w", err)
	}

	checksum := xxhash.Sum64(buf.Bytes())
	return binary.LittleEndian.AppendUint64(buf.Bytes(), checksum), nil
}

// decodeFilter verifies and parses a filter block
func decodeFilter(data []byte) (*bloom.BloomFilter, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("%w: filter block too small: %d bytes", ErrCorruption, len(data))
	}

	payload := data[:len(data)-8]
	if expected := binary.LittleEndian.Uint64(data[len(data)-8:]); xxhash.Sum64(payload) != expected {
		return nil, fmt.Errorf("%w: filter block checksum mismatch", ErrCorruption)
	}

	filter := &bloom.BloomFilter{}
	if _, err := filter.ReadFrom(bytes.NewReader(payload)); err != nil {
		return nil, fmt.Errorf("%w: filter block: %v", ErrCorruption, err)
	}
	return filter, nil
}

func filterContains(filter *bloom.BloomFilter, key []byte) bool {
	var scratch [8]byte
	binary.LittleEndian.PutUint64(scratch[:], xxhash.Sum64(key))
	return filter.Test(scratch[:])
}
