package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_IntegerRoundTrip(t *testing.T) {
	b := NewBuffer()

	require.NoError(t, b.WriteU8(0xAB))
	require.NoError(t, b.WriteU16(0x1234))
	require.NoError(t, b.WriteU32(0xDEADBEEF))
	require.Equal(t, 7, b.Position())

	require.NoError(t, b.Seek(0))

	u8, err := b.ReadU8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAB), u8)
	assert.Equal(t, 1, b.Position())

	u16, err := b.ReadU16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u16)
	assert.Equal(t, 3, b.Position())

	u32, err := b.ReadU32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)
	assert.Equal(t, 7, b.Position())
}

func TestBuffer_BoundsAreEnforced(t *testing.T) {
	b := NewBuffer()
	require.NoError(t, b.Seek(510))
	require.NoError(t, b.WriteU16(1)) // lands exactly on the boundary
	assert.Equal(t, 512, b.Position())
	assert.ErrorIs(t, b.WriteU8(1), ErrBufferBounds)

	require.ErrorIs(t, b.Seek(513), ErrBufferBounds) // invalid: past 512
	assert.ErrorIs(t, b.Seek(513), ErrBufferBounds)
}

func TestBuffer_SliceAllowsReadEndingExactlyAtBoundary(t *testing.T) {
	b := NewBuffer()
	// The Rust original rejects start+len >= 512; Slice checks '>' instead,
	// so a slice ending exactly at the buffer boundary is readable.
	_, err := b.Slice(500, 12)
	assert.NoError(t, err)
	_, err = b.Slice(501, 12)
	assert.ErrorIs(t, err, ErrBufferBounds)
}

func TestBuffer_NameRoundTrip(t *testing.T) {
	b := NewBuffer()
	require.NoError(t, b.WriteName("WWW.Example.COM"))

	require.NoError(t, b.Seek(0))
	name, err := b.ReadName()
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", name)
}

func TestBuffer_NameEncodeRejectsOversizeLabel(t *testing.T) {
	b := NewBuffer()
	label := make([]byte, 64)
	for i := range label {
		label[i] = 'a'
	}
	err := b.WriteName(string(label) + ".com")
	assert.ErrorIs(t, err, ErrLabelTooLong)
}

// TestBuffer_PointerDecode reproduces spec.md S4: the 19-octet fixture with
// "www.example.com" at offset 0, followed at offset 17 by a pointer to
// offset 4 ("example.com").
func TestBuffer_PointerDecode(t *testing.T) {
	b := NewBuffer()
	raw := []byte{
		0x03, 'w', 'w', 'w',
		0x07, 'e', 'x', 'a', 'm', 'p', 'l', 'e',
		0x03, 'c', 'o', 'm',
		0x00,
		0xC0, 0x04,
	}
	copy(b.Bytes(), raw)

	require.NoError(t, b.Seek(0))
	first, err := b.ReadName()
	require.NoError(t, err)
	assert.Equal(t, "www.example.com", first)
	assert.Equal(t, 17, b.Position())

	require.NoError(t, b.Seek(17))
	second, err := b.ReadName()
	require.NoError(t, err)
	assert.Equal(t, "example.com", second)
	assert.Equal(t, 19, b.Position()) // advanced exactly past the 2-byte pointer
}

func TestBuffer_PointerLoopIsRejected(t *testing.T) {
	b := NewBuffer()
	// Pointer at offset 0 that targets itself.
	b.buf[0] = 0xC0
	b.buf[1] = 0x00

	require.NoError(t, b.Seek(0))
	_, err := b.ReadName()
	assert.ErrorIs(t, err, ErrCompressionLoop)
}

func TestBuffer_PointerTwoStepLoopIsRejected(t *testing.T) {
	b := NewBuffer()
	// offset 0 points to offset 2, offset 2 points back to offset 0.
	b.buf[0] = 0xC0
	b.buf[1] = 0x02
	b.buf[2] = 0xC0
	b.buf[3] = 0x00

	require.NoError(t, b.Seek(0))
	_, err := b.ReadName()
	assert.ErrorIs(t, err, ErrCompressionLoop)
}

func TestBuffer_PointerOutOfRangeIsRejected(t *testing.T) {
	b := NewBuffer()
	b.buf[0] = 0xFF
	b.buf[1] = 0xFF

	require.NoError(t, b.Seek(0))
	_, err := b.ReadName()
	assert.Error(t, err)
}
