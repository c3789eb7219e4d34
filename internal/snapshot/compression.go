package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the block codec of a snapshot body.
type Compression uint8

const (
	// CompressionNone stores blocks as is.
	CompressionNone Compression = 0
	// CompressionLZ4 uses LZ4 block compression (fast).
	CompressionLZ4 Compression = 1
	// CompressionZSTD uses ZSTD (better ratio).
	CompressionZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression maps "none", "lz4" or "zstd" to a Compression.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("%w: unknown compression %q", ErrInvalidOption, s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// Block format: [raw uint32][stored uint32][data]. stored == 0 means the
// data follows uncompressed.
const blockHeaderSize = 8

// defaultBlockSize bounds the memory needed to decode one block.
const defaultBlockSize = 256 * 1024

// MaxBlockSize is the largest uncompressed block Save writes and Load
// accepts.
const MaxBlockSize = 16 << 20

// minRatio is the compressed/raw ratio above which a block is stored raw.
const minRatio = 0.9

func compressBlock(dst, data []byte, c Compression) ([]byte, error) {
	var packed []byte
	switch c {
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		packed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		packed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	}

	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(data)))
	if len(packed) == 0 || float64(len(packed)) > float64(len(data))*minRatio {
		dst = append(dst, hdr[:]...)
		return append(dst, data...), nil
	}
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(packed)))
	dst = append(dst, hdr[:]...)
	return append(dst, packed...), nil
}

// decompressBlocks decodes every block in data and appends the result to dst.
func decompressBlocks(dst, data []byte, c Compression) ([]byte, error) {
	for len(data) > 0 {
		if len(data) < blockHeaderSize {
			return nil, fmt.Errorf("%w: truncated block header", ErrCorrupt)
		}
		raw := int(binary.LittleEndian.Uint32(data[0:]))
		stored := int(binary.LittleEndian.Uint32(data[4:]))
		data = data[blockHeaderSize:]
		if raw > MaxBlockSize {
			return nil, fmt.Errorf("%w: block of %d bytes exceeds %d", ErrCorrupt, raw, MaxBlockSize)
		}

		if stored == 0 {
			if len(data) < raw {
				return nil, fmt.Errorf("%w: block extends beyond data", ErrCorrupt)
			}
			dst = append(dst, data[:raw]...)
			data = data[raw:]
			continue
		}
		if len(data) < stored {
			return nil, fmt.Errorf("%w: compressed block extends beyond data", ErrCorrupt)
		}

		out, err := decodeBlock(data[:stored], raw, c)
		if err != nil {
			return nil, fmt.Errorf("%w: %s block: %w", ErrCorrupt, c, err)
		}
		dst = append(dst, out...)
		data = data[stored:]
	}
	return dst, nil
}

func decodeBlock(packed []byte, raw int, c Compression) ([]byte, error) {
	out := make([]byte, raw)
	switch c {
	case CompressionLZ4:
		n, err := lz4.UncompressBlock(packed, out)
		if err != nil {
			return nil, err
		}
		if n != raw {
			return nil, errors.New("decompressed size mismatch")
		}
		return out, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		decoded, err := dec.DecodeAll(packed, out[:0])
		if err != nil {
			return nil, err
		}
		if len(decoded) != raw {
			return nil, errors.New("decompressed size mismatch")
		}
		return decoded, nil
	default:
		return nil, errors.New("compressed block in uncompressed snapshot")
	}
}

// blockWriter splits a stream into compressed blocks.
type blockWriter struct {
	w         io.Writer
	c         Compression
	blockSize int
	buf       bytes.Buffer
	scratch   []byte
	written   int64
}

func newBlockWriter(w io.Writer, c Compression, blockSize int) *blockWriter {
	if blockSize <= 0 {
		blockSize = defaultBlockSize
	}
	blockSize = min(blockSize, MaxBlockSize)
	return &blockWriter{w: w, c: c, blockSize: blockSize}
}

func (b *blockWriter) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		space := b.blockSize - b.buf.Len()
		if space == 0 {
			if err := b.flush(); err != nil {
				return total, err
			}
			space = b.blockSize
		}
		n := min(len(p), space)
		b.buf.Write(p[:n])
		total += n
		p = p[n:]
	}
	return total, nil
}

func (b *blockWriter) flush() error {
	if b.buf.Len() == 0 {
		return nil
	}
	var err error
	b.scratch, err = compressBlock(b.scratch[:0], b.buf.Bytes(), b.c)
	if err != nil {
		return err
	}
	n, err := b.w.Write(b.scratch)
	b.written += int64(n)
	if err != nil {
		return err
	}
	b.buf.Reset()
	return nil
}
