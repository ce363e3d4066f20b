package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// writeHandshake sends (magic_u32, node_id_u32, identity_string) per
// spec §4.7 — identity is length-prefixed since it's the only
// variable-length field in an otherwise fixed handshake.
func writeHandshake(nc net.Conn, node uint32, identity string) error {
	buf := make([]byte, 0, 8+4+len(identity))
	buf = binary.BigEndian.AppendUint32(buf, magic)
	buf = binary.BigEndian.AppendUint32(buf, node)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(identity)))
	buf = append(buf, identity...)
	_, err := nc.Write(buf)
	return err
}

func readHandshake(nc net.Conn) (peerMagic uint32, peerNode uint32, identity string, err error) {
	var hdr [12]byte
	if _, err = io.ReadFull(nc, hdr[:]); err != nil {
		return 0, 0, "", fmt.Errorf("transport: reading handshake header: %w", err)
	}
	peerMagic = binary.BigEndian.Uint32(hdr[0:4])
	peerNode = binary.BigEndian.Uint32(hdr[4:8])
	n := binary.BigEndian.Uint32(hdr[8:12])
	nameBuf := make([]byte, n)
	if n > 0 {
		if _, err = io.ReadFull(nc, nameBuf); err != nil {
			return 0, 0, "", fmt.Errorf("transport: reading handshake identity: %w", err)
		}
	}
	return peerMagic, peerNode, string(nameBuf), nil
}
