package footer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cespare/xxhash/v2"
)

const (
	// FooterSize is the fixed size of the footer in bytes
	FooterSize = 56
	// FooterMagic is a magic number to verify we're reading a valid footer
	FooterMagic = uint64(0xFACEFEEDFACEFEED)
	// CurrentVersion is the current file format version
	CurrentVersion = uint32(2)

	checksumOffset = FooterSize - 8
)

// ErrInvalidFooter indicates a footer failed its magic or checksum check
var ErrInvalidFooter = errors.New("invalid sstable footer")

// Footer contains metadata for an SSTable file
type Footer struct {
	// Magic number for integrity checking
	Magic uint64
	// Version of the file format
	Version uint32
	// Timestamp of when the file was created
	Timestamp int64
	// Offset where the index block starts
	IndexOffset uint64
	// Size of the index block in bytes
	IndexSize uint32
	// Total number of entries, tombstones included
	NumEntries uint32
	// Offset where the bloom filter block starts
	BloomFilterOffset uint64
	// Size of the bloom filter block in bytes, 0 when the table has none
	BloomFilterSize uint32
	// Checksum of all footer fields excluding the checksum itself
	Checksum uint64
}

// NewFooter creates a new footer with the given parameters
func NewFooter(indexOffset uint64, indexSize uint32, numEntries uint32,
	bloomFilterOffset uint64, bloomFilterSize uint32) *Footer {

	return &Footer{
		Magic:             FooterMagic,
		Version:           CurrentVersion,
		Timestamp:         time.Now().UnixNano(),
		IndexOffset:       indexOffset,
		IndexSize:         indexSize,
		NumEntries:        numEntries,
		BloomFilterOffset: bloomFilterOffset,
		BloomFilterSize:   bloomFilterSize,
	}
}

// HasBloomFilter reports whether the table carries a filter block
func (f *Footer) HasBloomFilter() bool {
	return f.BloomFilterSize > 0
}

// Encode serializes the footer to a byte slice
func (f *Footer) Encode() []byte {
	result := make([]byte, FooterSize)

	binary.LittleEndian.PutUint64(result[0:8], f.Magic)
	binary.LittleEndian.PutUint32(result[8:12], f.Version)
	binary.LittleEndian.PutUint64(result[12:20], uint64(f.Timestamp))
	binary.LittleEndian.PutUint64(result[20:28], f.IndexOffset)
	binary.LittleEndian.PutUint32(result[28:32], f.IndexSize)
	binary.LittleEndian.PutUint32(result[32:36], f.NumEntries)
	binary.LittleEndian.PutUint64(result[36:44], f.BloomFilterOffset)
	binary.LittleEndian.PutUint32(result[44:48], f.BloomFilterSize)

	f.Checksum = xxhash.Sum64(result[:checksumOffset])
	binary.LittleEndian.PutUint64(result[checksumOffset:], f.Checksum)

	return result
}

// WriteTo writes the footer to an io.Writer
func (f *Footer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(f.Encode())
	return int64(n), err
}

// Decode parses a footer from a byte slice
func Decode(data []byte) (*Footer, error) {
	if len(data) < FooterSize {
		return nil, fmt.Errorf("%w: footer data too small: %d bytes, expected %d",
			ErrInvalidFooter, len(data), FooterSize)
	}

	footer := &Footer{
		Magic:             binary.LittleEndian.Uint64(data[0:8]),
		Version:           binary.LittleEndian.Uint32(data[8:12]),
		Timestamp:         int64(binary.LittleEndian.Uint64(data[12:20])),
		IndexOffset:       binary.LittleEndian.Uint64(data[20:28]),
		IndexSize:         binary.LittleEndian.Uint32(data[28:32]),
		NumEntries:        binary.LittleEndian.Uint32(data[32:36]),
		BloomFilterOffset: binary.LittleEndian.Uint64(data[36:44]),
		BloomFilterSize:   binary.LittleEndian.Uint32(data[44:48]),
		Checksum:          binary.LittleEndian.Uint64(data[checksumOffset:]),
	}

	if footer.Magic != FooterMagic {
		return nil, fmt.Errorf("%w: magic %x, expected %x",
			ErrInvalidFooter, footer.Magic, FooterMagic)
	}

	if expected := xxhash.Sum64(data[:checksumOffset]); footer.Checksum != expected {
		return nil, fmt.Errorf("%w: checksum mismatch: file has %d, calculated %d",
			ErrInvalidFooter, footer.Checksum, expected)
	}

	return footer, nil
}
