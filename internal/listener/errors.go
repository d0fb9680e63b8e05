package listener

import "errors"

var (
	errNilPeerAcceptor        = errors.New("listener: nil PeerAcceptor")
	errNilDistributedAcceptor = errors.New("listener: nil DistributedAcceptor")
)
