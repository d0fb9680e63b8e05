package protocol

// This file encodes/decodes the handshake frames named in the external
// interface (§6): PeerInit, PierceFirewall, PeerTransferRequest,
// PeerTransferResponse, ConnectToPeer, and the distributed status
// fields. General message payloads beyond these handshake frames are an
// external collaborator's concern.

// LoginPayload carries the fields of the server Login request sent once
// at connect time; the reply is a LoginResponse.
type LoginPayload struct {
	Username string
	Password string
	Version  uint32
}

// EncodeLogin encodes the client's login request.
func EncodeLogin(p LoginPayload) []byte {
	return NewWriter().String(p.Username).String(p.Password).Uint32(p.Version).Bytes()
}

// LoginResponse carries the server's reply to a login request.
type LoginResponse struct {
	Success bool
	Message string
}

// DecodeLoginResponse decodes the server's login reply.
func DecodeLoginResponse(payload []byte) (LoginResponse, error) {
	r := NewReader(payload)
	var resp LoginResponse
	var err error
	if resp.Success, err = r.Bool(); err != nil {
		return resp, err
	}
	if resp.Message, err = r.String(); err != nil {
		return resp, err
	}
	return resp, nil
}

// EncodeGetPeerAddress encodes a request for username's current address.
func EncodeGetPeerAddress(username string) []byte {
	return NewWriter().String(username).Bytes()
}

// GetPeerAddressResponse carries the server's reply to a GetPeerAddress
// request.
type GetPeerAddressResponse struct {
	Username string
	IP       [4]byte
	Port     uint16
}

// DecodeGetPeerAddressResponse decodes the server's reply naming
// username's address.
func DecodeGetPeerAddressResponse(payload []byte) (GetPeerAddressResponse, error) {
	r := NewReader(payload)
	var resp GetPeerAddressResponse
	var err error
	if resp.Username, err = r.String(); err != nil {
		return resp, err
	}
	if resp.IP, err = r.IP(); err != nil {
		return resp, err
	}
	var port uint32
	if port, err = r.Uint32(); err != nil {
		return resp, err
	}
	resp.Port = uint16(port)
	return resp, nil
}

// PeerInitPayload carries the fields of a PeerInit handshake frame.
type PeerInitPayload struct {
	Username string
	Type     ConnectionType
	Token    uint32
}

// EncodePeerInit encodes a PeerInit frame payload.
func EncodePeerInit(p PeerInitPayload) []byte {
	return NewWriter().String(p.Username).String(string(p.Type)).Uint32(p.Token).Bytes()
}

// DecodePeerInit decodes a PeerInit frame payload.
func DecodePeerInit(payload []byte) (PeerInitPayload, error) {
	r := NewReader(payload)
	var p PeerInitPayload
	var err error
	if p.Username, err = r.String(); err != nil {
		return p, err
	}
	var typ string
	if typ, err = r.String(); err != nil {
		return p, err
	}
	p.Type = ConnectionType(typ)
	if p.Token, err = r.Uint32(); err != nil {
		return p, err
	}
	return p, nil
}

// EncodePierceFirewall encodes a PierceFirewall frame payload.
func EncodePierceFirewall(token uint32) []byte {
	return NewWriter().Uint32(token).Bytes()
}

// DecodePierceFirewall decodes a PierceFirewall frame payload.
func DecodePierceFirewall(payload []byte) (uint32, error) {
	return NewReader(payload).Uint32()
}

// ConnectToPeerPayload carries the fields of a ConnectToPeer handshake
// frame, in either direction: sent to the server to request an indirect
// connection, or received from the server relaying a remote peer's
// request.
type ConnectToPeerPayload struct {
	Username string
	Type     ConnectionType
	IP       [4]byte
	Port     uint16
	Token    uint32
}

// EncodeConnectToPeer encodes the payload we send the server to request
// that a remote peer dial us back (the indirect path).
func EncodeConnectToPeer(token uint32, username string, typ ConnectionType) []byte {
	return NewWriter().Uint32(token).String(username).String(string(typ)).Bytes()
}

// DecodeConnectToPeer decodes the payload the server sends us relaying a
// remote peer's request that we dial them (the solicited path).
func DecodeConnectToPeer(payload []byte) (ConnectToPeerPayload, error) {
	r := NewReader(payload)
	var p ConnectToPeerPayload
	var err error
	if p.Username, err = r.String(); err != nil {
		return p, err
	}
	var typ string
	if typ, err = r.String(); err != nil {
		return p, err
	}
	p.Type = ConnectionType(typ)
	if p.IP, err = r.IP(); err != nil {
		return p, err
	}
	var port uint32
	if port, err = r.Uint32(); err != nil {
		return p, err
	}
	p.Port = uint16(port)
	if p.Token, err = r.Uint32(); err != nil {
		return p, err
	}
	return p, nil
}

// PeerTransferRequestPayload carries the fields of a PeerTransferRequest
// handshake frame. Filename is set by whichever side is naming the file
// (the downloader on the outbound request, the peer on the callback);
// Token/Size are set by the peer's callback request.
type PeerTransferRequestPayload struct {
	Direction uint32
	Token     uint32
	Filename  string
	Size      uint64
}

// EncodePeerTransferRequest encodes the downloader's initial request.
func EncodePeerTransferRequest(direction, token uint32, filename string) []byte {
	return NewWriter().Uint32(direction).Uint32(token).String(filename).Bytes()
}

// DecodePeerTransferRequest decodes either direction of the frame:
// direction, token and filename are always read; Size is read only when
// at least 8 bytes follow the filename, as in the peer's callback request.
func DecodePeerTransferRequest(payload []byte) (PeerTransferRequestPayload, error) {
	r := NewReader(payload)
	var p PeerTransferRequestPayload
	var err error
	if p.Direction, err = r.Uint32(); err != nil {
		return p, err
	}
	if p.Token, err = r.Uint32(); err != nil {
		return p, err
	}
	if p.Filename, err = r.String(); err != nil {
		return p, err
	}
	if r.Remaining() >= 8 {
		if p.Size, err = r.Uint64(); err != nil {
			return p, err
		}
	}
	return p, nil
}

// DecodePeerTransferRequestCallback decodes the peer's callback request,
// which carries only a filename; the remote token and size follow as a
// separate trailing encoding used by some clients, so both shapes are
// tolerated.
func DecodePeerTransferRequestCallback(payload []byte) (filename string, remoteToken uint32, size uint64, err error) {
	r := NewReader(payload)
	if filename, err = r.String(); err != nil {
		return "", 0, 0, err
	}
	if r.Remaining() >= 4 {
		if remoteToken, err = r.Uint32(); err != nil {
			return "", 0, 0, err
		}
	}
	if r.Remaining() >= 8 {
		if size, err = r.Uint64(); err != nil {
			return "", 0, 0, err
		}
	}
	return filename, remoteToken, size, nil
}

// PeerTransferResponsePayload carries the fields of a
// PeerTransferResponse handshake frame.
type PeerTransferResponsePayload struct {
	Token   uint32
	Allowed bool
	Size    uint64
	Message string
}

// EncodePeerTransferResponse encodes a transfer response frame.
func EncodePeerTransferResponse(p PeerTransferResponsePayload) []byte {
	w := NewWriter().Uint32(p.Token).Bool(p.Allowed)
	if p.Allowed {
		w.Uint64(p.Size)
	} else {
		w.String(p.Message)
	}
	return w.Bytes()
}

// DecodePeerTransferResponse decodes a transfer response frame.
func DecodePeerTransferResponse(payload []byte) (PeerTransferResponsePayload, error) {
	r := NewReader(payload)
	var p PeerTransferResponsePayload
	var err error
	if p.Token, err = r.Uint32(); err != nil {
		return p, err
	}
	if p.Allowed, err = r.Bool(); err != nil {
		return p, err
	}
	if p.Allowed {
		if p.Size, err = r.Uint64(); err != nil {
			return p, err
		}
	} else if r.Remaining() > 0 {
		if p.Message, err = r.String(); err != nil {
			return p, err
		}
	}
	return p, nil
}

// StatusPayload is the concatenation of distributed status fields sent
// to the server: HaveNoParents || ParentsIP || BranchLevel || BranchRoot
// || ChildDepth || AcceptChildren.
type StatusPayload struct {
	HaveNoParents bool
	ParentsIP     [4]byte
	BranchLevel   uint32
	BranchRoot    string
	ChildDepth    uint32
	AcceptChildren bool
}

// Encode concatenates the status fields in wire order.
func (s StatusPayload) Encode() []byte {
	return NewWriter().
		Bool(s.HaveNoParents).
		IP(s.ParentsIP).
		Uint32(s.BranchLevel).
		String(s.BranchRoot).
		Uint32(s.ChildDepth).
		Bool(s.AcceptChildren).
		Bytes()
}
