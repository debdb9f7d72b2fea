package peerwire

import "errors"

// Session error kinds, exactly the table in spec.md §4.3. These are
// sentinel errors so callers can classify a failure with errors.Is for
// the peer_failed{addr, kind} log event in spec.md §7.
var (
	ErrHandshakeMismatch    = errors.New("handshake mismatch")
	ErrBadFrameLength       = errors.New("frame length exceeds maximum")
	ErrBitfieldSizeMismatch = errors.New("bitfield size mismatch")
	ErrBitfieldSpareBits    = errors.New("bitfield spare bits set")
	ErrUnexpectedMessageID  = errors.New("unexpected message id")
	ErrUnsolicitedPiece     = errors.New("unsolicited piece")
	ErrConnectTimeout       = errors.New("connect timeout")
	ErrReadTimeout          = errors.New("read timeout")
	ErrPeerClosed           = errors.New("peer closed connection")
)

// MaxFrameLength is the largest permitted message length prefix:
// enough for a 16 KiB block plus header overhead, per spec.md §4.3.
const MaxFrameLength = 1<<17 + 9
