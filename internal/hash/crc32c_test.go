package hash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC32C(t *testing.T) {
	// RFC 3720 B.4 test vector.
	assert.Equal(t, uint32(0x8a9136aa), CRC32C(make([]byte, 32)))

	data := []byte("123456789")
	assert.Equal(t, uint32(0xe3069283), CRC32C(data))
	assert.Equal(t, CRC32C(data), UpdateCRC32C(UpdateCRC32C(0, data[:4]), data[4:]))

	h := NewCRC32C()
	_, _ = h.Write(data)
	assert.Equal(t, CRC32C(data), h.Sum32())
}
