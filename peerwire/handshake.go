package peerwire

import (
	"fmt"
	"io"
)

const (
	protocolID   = "BitTorrent protocol"
	handshakeLen = 1 + len(protocolID) + 8 + 20 + 20
)

// Handshake is the fixed 68-byte preamble exchanged in both directions
// before any framed message, per spec.md §4.3.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// NewHandshake builds an outgoing handshake for infoHash/peerID.
func NewHandshake(infoHash, peerID [20]byte) *Handshake {
	return &Handshake{InfoHash: infoHash, PeerID: peerID}
}

// Serialize renders the handshake to its 68-byte wire form:
// pstrlen(1) | pstr(19) | reserved(8, zero) | info_hash(20) | peer_id(20).
func (h *Handshake) Serialize() []byte {
	buf := make([]byte, handshakeLen)
	buf[0] = byte(len(protocolID))
	pos := 1
	pos += copy(buf[pos:], protocolID)
	pos += copy(buf[pos:], make([]byte, 8)) // reserved, always zero: no extensions in scope
	pos += copy(buf[pos:], h.InfoHash[:])
	copy(buf[pos:], h.PeerID[:])
	return buf
}

// ReadHandshake parses an incoming handshake from r. It does not
// validate InfoHash against any expectation — callers must compare it
// themselves and drop the connection on mismatch, per spec.md §4.3.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	buf := make([]byte, handshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("peerwire: reading handshake: %w", err)
	}
	pstrLen := int(buf[0])
	if pstrLen != len(protocolID) {
		return nil, fmt.Errorf("peerwire: %w: pstrlen %d", ErrHandshakeMismatch, pstrLen)
	}
	if string(buf[1:1+pstrLen]) != protocolID {
		return nil, fmt.Errorf("peerwire: %w: unexpected pstr", ErrHandshakeMismatch)
	}
	var h Handshake
	copy(h.InfoHash[:], buf[1+pstrLen+8:1+pstrLen+8+20])
	copy(h.PeerID[:], buf[1+pstrLen+8+20:])
	return &h, nil
}
