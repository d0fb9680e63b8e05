// Package protocol defines the Soulseek wire constants and primitive
// payload readers/writers shared by the framer, connections, and
// handshake code. It does not know how to encode or decode full message
// bodies beyond the handshake frames the core engine itself sends and
// receives; higher-level message codecs are an external collaborator.
package protocol

// ConnectionType is the ASCII tag exchanged during a peer handshake to
// identify what a newly opened socket will be used for.
type ConnectionType string

const (
	// ConnectionTypePeer is used for peer message connections.
	ConnectionTypePeer ConnectionType = "P"
	// ConnectionTypeTransfer is used for file transfer connections.
	ConnectionTypeTransfer ConnectionType = "F"
	// ConnectionTypeDistributed is used for distributed network connections.
	ConnectionTypeDistributed ConnectionType = "D"
)

// Server and distributed message codes (u32 on the wire).
const (
	ServerLogin                uint32 = 1
	ServerGetPeerAddress       uint32 = 3
	ServerConnectToPeer        uint32 = 18
	ServerHaveNoParents        uint32 = 71
	ServerParentsIP            uint32 = 73
	ServerChildDepth           uint32 = 81
	ServerAcceptChildren       uint32 = 100
	ServerBranchLevel          uint32 = 126
	ServerBranchRoot           uint32 = 127
)

// Peer message codes (u8 on the wire).
const (
	PeerInit               uint8 = 1
	PeerPierceFirewall     uint8 = 0
	PeerTransferRequest    uint8 = 40
	PeerTransferResponse   uint8 = 41
)

// Distributed message codes (u8 on the wire).
const (
	DistributedBranchLevel uint8 = 4
	DistributedBranchRoot  uint8 = 5
	DistributedChildDepth  uint8 = 7
	DistributedSearchRequest uint8 = 3
)

// TransferMarker is the 8 zero bytes the downloader writes on a transfer
// connection once both sides have exchanged tokens, before the uploader
// begins streaming the payload. Its purpose on the wire is undocumented;
// the value must be preserved bit-exact for compatibility with deployed
// peers.
var TransferMarker = [8]byte{}
