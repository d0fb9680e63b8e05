package frame

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip_PeerFrame(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	f := New(PeerCodeWidth)
	payload := []byte("hello soulseek")

	encoded := f.Encode(1, payload)

	code, decoded, err := f.Decode(bytes.NewReader(encoded))
	require.NoError(err)
	assert.Equal(uint32(1), code)
	assert.Equal(payload, decoded)
}

func TestRoundTrip_ServerFrame(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	f := New(ServerCodeWidth)
	payload := []byte{1, 2, 3, 4, 5}

	encoded := f.Encode(18, payload)

	code, decoded, err := f.Decode(bytes.NewReader(encoded))
	require.NoError(err)
	assert.Equal(uint32(18), code)
	assert.Equal(payload, decoded)
}

func TestRoundTrip_EmptyPayload(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	f := New(ServerCodeWidth)
	encoded := f.Encode(71, nil)

	code, decoded, err := f.Decode(bytes.NewReader(encoded))
	require.NoError(err)
	assert.Equal(uint32(71), code)
	assert.Empty(decoded)
}

func TestDecode_ShortStreamFailsUnderlyingRead(t *testing.T) {
	require := require.New(t)

	f := New(PeerCodeWidth)
	encoded := f.Encode(1, []byte("truncate me"))

	_, _, err := f.Decode(bytes.NewReader(encoded[:4]))
	require.Error(err)
}

func TestDecode_MalformedLengthShorterThanCode(t *testing.T) {
	require := require.New(t)

	f := New(ServerCodeWidth)
	var buf bytes.Buffer
	buf.Write([]byte{2, 0, 0, 0}) // length 2, shorter than the 4-byte code field
	buf.Write([]byte{0, 0, 0, 0})

	_, _, err := f.Decode(&buf)
	require.Error(err)

	var malformed *MalformedError
	require.ErrorAs(err, &malformed)
}
