package block

import "errors"

// Entry represents a key-value pair within the block
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

const (
	// BlockSize is the target size for each block
	BlockSize = 16 * 1024 // 16KB
	// RestartInterval defines how often we store a full key
	RestartInterval = 16
	// BlockFooterSize is the size of the footer (restart point count + checksum)
	BlockFooterSize = 4 + 8
	// entryHeaderSize is shared(2) + unshared(2) + flags(1) + value length(4)
	entryHeaderSize = 2 + 2 + 1 + 4
)

const (
	flagTombstone byte = 1 << 0
)

var (
	// ErrChecksumMismatch indicates the stored checksum does not match the block contents
	ErrChecksumMismatch = errors.New("block checksum mismatch")
	// ErrMalformed indicates an entry could not be decoded
	ErrMalformed = errors.New("malformed block")
	// ErrUnknownCompression indicates an unrecognised codec byte
	ErrUnknownCompression = errors.New("unknown block compression")
)
