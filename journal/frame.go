package journal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/hupe1980/lexstore/internal/hash"
)

const (
	fileMagic       = "LXJOURNL"
	fileVersion     = 1
	fileHeaderSize  = 8 + 4 + 16 + 8 + 1 + 3 + 4
	frameHeaderSize = 4 + 4 + 8 + 8
)

var (
	// errTornFrame marks a frame that ends before its declared length.
	errTornFrame = errors.New("journal: torn frame")
	// errChecksum marks a complete frame whose checksum does not match. Only
	// the final frame of a file may fail this way without being corruption.
	errChecksum = errors.New("journal: frame checksum mismatch")
)

// Header describes a journal file.
type Header struct {
	Version     uint32
	LogID       uuid.UUID
	BaseLSN     uint64
	Compression Compression
}

func (h Header) encode() []byte {
	buf := make([]byte, fileHeaderSize)
	copy(buf[0:8], fileMagic)
	binary.LittleEndian.PutUint32(buf[8:12], h.Version)
	copy(buf[12:28], h.LogID[:])
	binary.LittleEndian.PutUint64(buf[28:36], h.BaseLSN)
	buf[36] = byte(h.Compression)
	binary.LittleEndian.PutUint32(buf[40:44], hash.CRC32C(buf[:40]))
	return buf
}

func decodeHeader(buf []byte) (Header, error) {
	if len(buf) < fileHeaderSize {
		return Header{}, fmt.Errorf("%w: short header (%d < %d)", ErrInvalidHeader, len(buf), fileHeaderSize)
	}
	if string(buf[0:8]) != fileMagic {
		return Header{}, fmt.Errorf("%w: invalid magic %q", ErrInvalidHeader, buf[0:8])
	}
	if sum := binary.LittleEndian.Uint32(buf[40:44]); sum != hash.CRC32C(buf[:40]) {
		return Header{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidHeader)
	}
	h := Header{
		Version:     binary.LittleEndian.Uint32(buf[8:12]),
		BaseLSN:     binary.LittleEndian.Uint64(buf[28:36]),
		Compression: Compression(buf[36]),
	}
	copy(h.LogID[:], buf[12:28])
	if h.Version != fileVersion {
		return Header{}, fmt.Errorf("%w: version %d (expected %d)", ErrIncompatibleVersion, h.Version, fileVersion)
	}
	return h, nil
}

// appendFrame encodes one frame onto dst. body is the already-compressed payload.
func appendFrame(dst []byte, lsn uint64, ts int64, body []byte) []byte {
	start := len(dst)
	dst = append(dst, make([]byte, frameHeaderSize)...)
	hdr := dst[start : start+frameHeaderSize]
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(body)))
	binary.LittleEndian.PutUint64(hdr[8:16], lsn)
	binary.LittleEndian.PutUint64(hdr[16:24], uint64(ts))
	dst = append(dst, body...)

	crc := hash.UpdateCRC32C(0, dst[start+4:start+frameHeaderSize])
	crc = hash.UpdateCRC32C(crc, body)
	binary.LittleEndian.PutUint32(dst[start:start+4], crc)
	return dst
}

// frameReader decodes consecutive frames from a buffered stream.
type frameReader struct {
	r      *bufio.Reader
	hdr    [frameHeaderSize]byte
	offset int64 // offset of the next frame, relative to the first frame
	end    int64 // declared end of the frame that failed its checksum
}

// next returns the next frame. It returns io.EOF at a clean frame boundary
// errTornFrame when the frame is incomplete and errChecksum when it is
// complete but damaged.
func (fr *frameReader) next() (lsn uint64, ts int64, body []byte, err error) {
	n, err := io.ReadFull(fr.r, fr.hdr[:])
	if err != nil {
		if err == io.EOF && n == 0 {
			return 0, 0, nil, io.EOF
		}
		return 0, 0, nil, errTornFrame
	}

	length := binary.LittleEndian.Uint32(fr.hdr[4:8])
	fr.end = fr.offset + int64(frameHeaderSize) + int64(length)
	if length > MaxPayloadSize+16 {
		return 0, 0, nil, errChecksum
	}
	body = make([]byte, length)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		return 0, 0, nil, errTornFrame
	}

	crc := hash.UpdateCRC32C(0, fr.hdr[4:])
	crc = hash.UpdateCRC32C(crc, body)
	if crc != binary.LittleEndian.Uint32(fr.hdr[0:4]) {
		return 0, 0, nil, errChecksum
	}

	fr.offset += int64(frameHeaderSize) + int64(length)
	lsn = binary.LittleEndian.Uint64(fr.hdr[8:16])
	ts = int64(binary.LittleEndian.Uint64(fr.hdr[16:24]))
	return lsn, ts, body, nil
}
