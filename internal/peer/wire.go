package peer

import "encoding/binary"

func decodeToken(b []byte) uint32 {
	return binary.LittleEndian.Uint32(b)
}

func encodeToken(token uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, token)
	return b
}
