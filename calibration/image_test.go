package calibration

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789ABCDEF")

func testDIDs() map[uint16][]byte {
	return map[uint16][]byte{
		0x0102: []byte("v1.2"),
		0x0103: {0x01},
		0xF190: []byte("VIN0001"),
	}
}

func TestImage_HexRoundTrip(t *testing.T) {
	img, err := FromDataIdentifiers(testDIDs())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, img.WriteHex(&buf))
	assert.True(t, strings.HasSuffix(strings.TrimSpace(buf.String()), ":00000001FF"))

	loaded, err := Load(&buf)
	require.NoError(t, err)
	assert.Equal(t, testDIDs(), loaded.DataIdentifiers())
}

func TestImage_AdjacentDIDsStaySeparate(t *testing.T) {
	dids := map[uint16][]byte{
		0x0001: bytes.Repeat([]byte{0xAA}, MaxValueLength),
		0x0002: {0xBB},
	}
	img, err := FromDataIdentifiers(dids)
	require.NoError(t, err)
	assert.Equal(t, dids, img.DataIdentifiers())
}

func TestFromDataIdentifiers_Errors(t *testing.T) {
	_, err := FromDataIdentifiers(map[uint16][]byte{0x0102: nil})
	assert.ErrorIs(t, err, ErrEmptyValue)

	_, err = FromDataIdentifiers(map[uint16][]byte{0x0102: make([]byte, MaxValueLength+1)})
	assert.ErrorIs(t, err, ErrLayout)
}

func TestLoad_RejectsUnalignedSegment(t *testing.T) {
	// 2 bytes at 0x0010
	const hex = ":020010001122BB\n:00000001FF\n"
	_, err := Load(strings.NewReader(hex))
	assert.ErrorIs(t, err, ErrLayout)
}

func TestLoad_RejectsGarbage(t *testing.T) {
	_, err := Load(strings.NewReader("not a hex file\n"))
	assert.Error(t, err)
}

func TestImage_SignVerify(t *testing.T) {
	img, err := FromDataIdentifiers(testDIDs())
	require.NoError(t, err)

	tag, err := img.Sign(testKey)
	require.NoError(t, err)
	assert.Len(t, tag, 16)
	assert.NoError(t, img.Verify(testKey, tag))

	// 同一数据重新构造得到相同标签
	again, err := FromDataIdentifiers(testDIDs())
	require.NoError(t, err)
	tag2, err := again.Sign(testKey)
	require.NoError(t, err)
	assert.Equal(t, tag, tag2)

	tampered := testDIDs()
	tampered[0x0102] = []byte("v1.3")
	other, err := FromDataIdentifiers(tampered)
	require.NoError(t, err)
	assert.ErrorIs(t, other.Verify(testKey, tag), ErrTagMismatch)

	assert.ErrorIs(t, img.Verify([]byte("FEDCBA9876543210"), tag), ErrTagMismatch)
}

func TestImage_SignBadKey(t *testing.T) {
	img, err := FromDataIdentifiers(testDIDs())
	require.NoError(t, err)
	_, err = img.Sign([]byte("short"))
	assert.Error(t, err)
}
