package journal

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the per-frame payload compression of a FileLog.
// It is recorded in the file header; an existing file keeps its own setting.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionZstd
	CompressionLZ4
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZstd:
		return "zstd"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// ParseCompression parses "none", "zstd" or "lz4".
func ParseCompression(s string) (Compression, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return CompressionNone, nil
	case "zstd":
		return CompressionZstd, nil
	case "lz4":
		return CompressionLZ4, nil
	default:
		return 0, fmt.Errorf("journal: unknown compression %q", s)
	}
}

// Compressed payloads carry a one-byte envelope so that incompressible
// payloads can be stored as-is:
//
//	0x00 | raw bytes
//	0x01 | uvarint raw length | compressed bytes
const (
	envelopeRaw        = 0x00
	envelopeCompressed = 0x01
)

type codec interface {
	encode(dst, src []byte) []byte
	decode(src []byte) ([]byte, error)
}

func newCodec(c Compression) (codec, error) {
	switch c {
	case CompressionNone:
		return nil, nil
	case CompressionZstd:
		return sharedZstd()
	case CompressionLZ4:
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("%w: compression %d", ErrInvalidHeader, c)
	}
}

var (
	zstdOnce  sync.Once
	zstdInst  *zstdCodec
	zstdError error
)

// EncodeAll/DecodeAll are safe for concurrent use, so one pair serves every log.
func sharedZstd() (*zstdCodec, error) {
	zstdOnce.Do(func() {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			zstdError = err
			return
		}
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
		if err != nil {
			zstdError = err
			return
		}
		zstdInst = &zstdCodec{enc: enc, dec: dec}
	})
	return zstdInst, zstdError
}

type zstdCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func (z *zstdCodec) encode(dst, src []byte) []byte {
	start := len(dst)
	dst = append(dst, envelopeCompressed)
	dst = binary.AppendUvarint(dst, uint64(len(src)))
	dst = z.enc.EncodeAll(src, dst)
	if len(dst)-start >= len(src)+1 {
		dst = append(dst[:start], envelopeRaw)
		dst = append(dst, src...)
	}
	return dst
}

func (z *zstdCodec) decode(src []byte) ([]byte, error) {
	raw, n, body, err := openEnvelope(src)
	if err != nil || body == nil {
		return raw, err
	}
	out, err := z.dec.DecodeAll(body, make([]byte, 0, n))
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
	}
	if uint64(len(out)) != n {
		return nil, fmt.Errorf("%w: zstd length %d != %d", ErrCorrupt, len(out), n)
	}
	return out, nil
}

type lz4Codec struct{}

func (lz4Codec) encode(dst, src []byte) []byte {
	start := len(dst)
	dst = append(dst, envelopeCompressed)
	dst = binary.AppendUvarint(dst, uint64(len(src)))
	hdr := len(dst)

	bound := lz4.CompressBlockBound(len(src))
	dst = append(dst, make([]byte, bound)...)
	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst[hdr:])
	if err != nil || n == 0 || n >= len(src) {
		dst = append(dst[:start], envelopeRaw)
		return append(dst, src...)
	}
	return dst[:hdr+n]
}

func (lz4Codec) decode(src []byte) ([]byte, error) {
	raw, n, body, err := openEnvelope(src)
	if err != nil || body == nil {
		return raw, err
	}
	out := make([]byte, n)
	m, err := lz4.UncompressBlock(body, out)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
	}
	if uint64(m) != n {
		return nil, fmt.Errorf("%w: lz4 length %d != %d", ErrCorrupt, m, n)
	}
	return out, nil
}

// openEnvelope returns either the raw payload, or the expected decoded size
// and the compressed body.
func openEnvelope(src []byte) (raw []byte, size uint64, body []byte, err error) {
	if len(src) == 0 {
		return nil, 0, nil, fmt.Errorf("%w: empty envelope", ErrCorrupt)
	}
	switch src[0] {
	case envelopeRaw:
		return src[1:], 0, nil, nil
	case envelopeCompressed:
		n, k := binary.Uvarint(src[1:])
		if k <= 0 || n > MaxPayloadSize {
			return nil, 0, nil, fmt.Errorf("%w: bad envelope length", ErrCorrupt)
		}
		return nil, n, src[1+k:], nil
	default:
		return nil, 0, nil, fmt.Errorf("%w: envelope type %#x", ErrCorrupt, src[0])
	}
}
