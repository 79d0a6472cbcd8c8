package block

import (
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression identifies the codec of a stored data block
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionSnappy
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression converts a codec name into a Compression
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownCompression, name)
	}
}

// EncodeAll and DecodeAll are safe for concurrent use, so one encoder and
// one decoder serve every table.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil)
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil)
	})
)

// Compress encodes a serialized block for storage as payload || codec
func Compress(raw []byte, codec Compression) ([]byte, error) {
	var payload []byte
	switch codec {
	case CompressionNone:
		payload = make([]byte, len(raw), len(raw)+1)
		copy(payload, raw)
	case CompressionSnappy:
		payload = snappy.Encode(nil, raw)
	case CompressionZstd:
		enc, err := zstdEncoder()
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		payload = enc.EncodeAll(raw, nil)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownCompression, codec)
	}
	return append(payload, byte(codec)), nil
}

// Decompress reverses Compress
func Decompress(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: empty stored block", ErrMalformed)
	}

	codec := Compression(stored[len(stored)-1])
	payload := stored[:len(stored)-1]

	switch codec {
	case CompressionNone:
		return payload, nil
	case CompressionSnappy:
		raw, err := snappy.Decode(nil, payload)
		if err != nil {
			return nil, fmt.Errorf("%w: snappy: %v", ErrMalformed, err)
		}
		return raw, nil
	case CompressionZstd:
		dec, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		raw, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrMalformed, err)
		}
		return raw, nil
	default:
		return nil, fmt.Errorf("%w: codec byte %d", ErrUnknownCompression, uint8(codec))
	}
}
