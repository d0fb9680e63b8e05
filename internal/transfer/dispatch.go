package transfer

import (
	"context"

	msgevent "github.com/jpdillingham/soulseek-go/internal/msgconn/event"
	"github.com/jpdillingham/soulseek-go/internal/protocol"
)

// directionDownload is the PeerTransferRequest direction value a
// downloader sends when requesting a file from a peer.
const directionDownload uint32 = 0

type transferCallback struct {
	remoteToken uint32
	size        uint64
}

// peerMessageListener decodes the two handshake frames this download
// cares about off the shared peer message connection, routing each to
// its own buffered channel filtered by this download's token/filename.
// Every other code on the connection (other downloads sharing the same
// reused connection, unrelated peer traffic) is ignored.
func peerMessageListener(d *Download, respCh chan<- protocol.PeerTransferResponsePayload, callbackCh chan<- transferCallback) msgevent.MessageReadListenerFunc {
	return func(e msgevent.MessageRead) {
		switch uint8(e.Code) {
		case protocol.PeerTransferResponse:
			p, err := protocol.DecodePeerTransferResponse(e.Payload)
			if err != nil || p.Token != d.localToken {
				return
			}
			select {
			case respCh <- p:
			default:
			}

		case protocol.PeerTransferRequest:
			p, err := protocol.DecodePeerTransferRequest(e.Payload)
			if err != nil || p.Filename != d.filename {
				return
			}
			select {
			case callbackCh <- transferCallback{remoteToken: p.Token, size: p.Size}:
			default:
			}
		}
	}
}

func waitForResponse(ctx context.Context, ch <-chan protocol.PeerTransferResponsePayload) (protocol.PeerTransferResponsePayload, error) {
	select {
	case p := <-ch:
		return p, nil
	case <-ctx.Done():
		return protocol.PeerTransferResponsePayload{}, ctx.Err()
	}
}

func waitForCallback(ctx context.Context, ch <-chan transferCallback) (transferCallback, error) {
	select {
	case cb := <-ch:
		return cb, nil
	case <-ctx.Done():
		return transferCallback{}, ctx.Err()
	}
}
