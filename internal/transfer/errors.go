package transfer

import "errors"

var (
	// ErrTransferAllowedUnreachable is returned when a peer responds to
	// our PeerTransferRequest with allowed=true. Downloads only ever
	// queue; an immediate-allow response from the peer's side of a
	// download request is a protocol state this engine cannot service.
	ErrTransferAllowedUnreachable = errors.New("transfer: peer allowed an unreachable download path")

	errNilPeerManager = errors.New("transfer: nil PeerManager")
	errNilDataSink    = errors.New("transfer: nil data sink")
)
