package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeerInit_RoundTrip(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	want := PeerInitPayload{Username: "alice", Type: ConnectionTypePeer, Token: 42}
	got, err := DecodePeerInit(EncodePeerInit(want))
	require.NoError(err)
	assert.Equal(want, got)
}

func TestPierceFirewall_RoundTrip(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	got, err := DecodePierceFirewall(EncodePierceFirewall(7))
	require.NoError(err)
	assert.Equal(uint32(7), got)
}

func TestConnectToPeer_EncodeOutboundShape(t *testing.T) {
	require := require.New(t)

	encoded := EncodeConnectToPeer(99, "bob", ConnectionTypePeer)
	require.NotEmpty(encoded)
}

func TestConnectToPeer_DecodeRelayedShape(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	payload := NewWriter().
		String("bob").
		String("P").
		IP([4]byte{10, 0, 0, 5}).
		Uint32(2234).
		Uint32(123).
		Bytes()

	got, err := DecodeConnectToPeer(payload)
	require.NoError(err)
	assert.Equal("bob", got.Username)
	assert.Equal(ConnectionTypePeer, got.Type)
	assert.Equal([4]byte{10, 0, 0, 5}, got.IP)
	assert.Equal(uint16(2234), got.Port)
	assert.Equal(uint32(123), got.Token)
}

func TestPeerTransferResponse_RoundTrip_Allowed(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	want := PeerTransferResponsePayload{Token: 5, Allowed: true, Size: 1024}
	got, err := DecodePeerTransferResponse(EncodePeerTransferResponse(want))
	require.NoError(err)
	assert.Equal(want, got)
}

func TestPeerTransferResponse_RoundTrip_NotAllowed(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	want := PeerTransferResponsePayload{Token: 5, Allowed: false, Message: "Queued"}
	got, err := DecodePeerTransferResponse(EncodePeerTransferResponse(want))
	require.NoError(err)
	assert.Equal(want, got)
}

func TestReader_ShortPayloadFails(t *testing.T) {
	require := require.New(t)

	r := NewReader([]byte{1, 2})
	_, err := r.Uint32()
	require.Error(err)

	var short *ErrShortPayload
	require.ErrorAs(err, &short)
}

func TestStatusPayload_Encode(t *testing.T) {
	assert := assert.New(t)

	s := StatusPayload{
		HaveNoParents:  true,
		ParentsIP:      [4]byte{1, 2, 3, 4},
		BranchLevel:    3,
		BranchRoot:     "root",
		ChildDepth:     1,
		AcceptChildren: true,
	}

	encoded := s.Encode()
	assert.NotEmpty(encoded)

	r := NewReader(encoded)
	haveNoParents, err := r.Bool()
	assert.NoError(err)
	assert.True(haveNoParents)
}
