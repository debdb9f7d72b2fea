// Package session implements one peer connection's state machine:
// handshake, choke/interest flags, block request pipelining, and piece
// reassembly, per spec.md §4.3.
package session

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"github.com/niyazisuleymanov/leech/peerwire"
)

const (
	blockSize          = 16 * 1024
	pipelineDepth      = 5
	connectTimeout     = 10 * time.Second
	handshakeTimeout   = 10 * time.Second
	keepAliveInterval  = 120 * time.Second
	inboundSilenceDead = 150 * time.Second
)

// Assignment describes the piece a coordinator has handed to a
// session to download.
type Assignment struct {
	Index  int
	Length int
}

// Session is per-connection state: exactly the fields spec.md §3
// enumerates for PeerSession.
type Session struct {
	ID   int
	Addr string

	conn net.Conn

	amChoking      bool
	amInterested   bool
	peerChoking    bool
	peerInterested bool

	peerBitfield peerwire.Bitfield
	pieceCount   int

	outstanding map[requestKey]struct{}
	partial     map[int][]byte
	requested   map[int]int // piece index -> bytes requested so far
	downloaded  map[int]int // piece index -> bytes received so far

	lastSent time.Time

	haveQueue chan int
}

type requestKey struct {
	index, begin, length int
}

// Dial connects to addr, performs the handshake, and receives the
// peer's initial bitfield. It returns a *Session ready to be driven by
// Serve.
func Dial(ctx context.Context, addr string, infoHash, peerID [20]byte, pieceCount int) (*Session, error) {
	dialer := net.Dialer{Timeout: connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("session: %w: %v", peerwire.ErrConnectTimeout, err)
	}

	if err := performHandshake(conn, infoHash, peerID); err != nil {
		conn.Close()
		return nil, err
	}

	bf, err := receiveInitialBitfield(conn, pieceCount)
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &Session{
		Addr:         addr,
		conn:         conn,
		amChoking:    true,
		peerChoking:  true,
		peerBitfield: bf,
		pieceCount:   pieceCount,
		outstanding:  make(map[requestKey]struct{}),
		partial:      make(map[int][]byte),
		requested:    make(map[int]int),
		downloaded:   make(map[int]int),
		lastSent:     time.Now(),
		haveQueue:    make(chan int, 64),
	}, nil
}

// SendHaveAsync enqueues a have(index) message to be flushed on the
// session's own goroutine (its Serve loop), preserving spec.md §5's
// rule that a single session's outbound messages stay ordered and are
// only ever written by that session's own task. It never blocks the
// caller (typically the coordinator broadcasting a completed piece to
// every other session) — a full queue drops the have, which merely
// costs the peer a slightly stale bitfield rather than correctness.
func (s *Session) SendHaveAsync(index int) {
	select {
	case s.haveQueue <- index:
	default:
	}
}

func performHandshake(conn net.Conn, infoHash, peerID [20]byte) error {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	out := peerwire.NewHandshake(infoHash, peerID)
	if _, err := conn.Write(out.Serialize()); err != nil {
		return fmt.Errorf("session: sending handshake: %w", err)
	}

	in, err := peerwire.ReadHandshake(conn)
	if err != nil {
		return fmt.Errorf("session: %w: %v", peerwire.ErrHandshakeMismatch, err)
	}
	if !bytes.Equal(in.InfoHash[:], infoHash[:]) {
		return fmt.Errorf("session: %w: expected %x got %x", peerwire.ErrHandshakeMismatch, infoHash, in.InfoHash)
	}
	return nil
}

// receiveInitialBitfield reads the first post-handshake message. Per
// spec.md §4.3, a bitfield is only valid as that first message; a peer
// that has nothing yet may instead send nothing before its first
// `have`, so an empty (all-zero) bitfield is synthesized in that case
// by treating a first keep-alive, `have`, choke or unchoke as "no
// bitfield sent" and replaying it as though it were a `have`/choke/
// unchoke, per the common real-world tracker/peer behavior. Any other
// first message is an ErrUnexpectedMessageID error.
func receiveInitialBitfield(conn net.Conn, pieceCount int) (peerwire.Bitfield, error) {
	conn.SetDeadline(time.Now().Add(handshakeTimeout))
	defer conn.SetDeadline(time.Time{})

	msg, err := peerwire.ReadMessage(conn)
	if err != nil {
		return nil, fmt.Errorf("session: reading initial message: %w", err)
	}
	bf := peerwire.NewBitfield(pieceCount)
	if msg == nil {
		return bf, nil // keep-alive with no bitfield: peer has nothing yet
	}
	switch msg.ID {
	case peerwire.BitfieldID:
		got := peerwire.Bitfield(msg.Payload)
		if err := got.Validate(pieceCount); err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}
		return got, nil
	case peerwire.Have:
		index, err := peerwire.ReadHaveMessage(msg)
		if err != nil {
			return nil, err
		}
		bf.SetPiece(index)
		return bf, nil
	case peerwire.Choke, peerwire.Unchoke:
		return bf, nil
	default:
		return nil, fmt.Errorf("session: %w: expected bitfield, got %s", peerwire.ErrUnexpectedMessageID, msg.ID)
	}
}

// Close tears down the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

// HasPiece reports whether the peer's last-known bitfield claims index.
func (s *Session) HasPiece(index int) bool {
	return s.peerBitfield.HasPiece(index)
}

func (s *Session) send(msg *peerwire.Message) error {
	s.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	if _, err := s.conn.Write(msg.Serialize()); err != nil {
		return err
	}
	s.lastSent = time.Now()
	return nil
}

// SendInterested tells the peer we want to download when unchoked.
func (s *Session) SendInterested() error {
	if s.amInterested {
		return nil
	}
	if err := s.send(&peerwire.Message{ID: peerwire.Interested}); err != nil {
		return err
	}
	s.amInterested = true
	return nil
}

// SendNotInterested tells the peer we have no further use for it right now.
func (s *Session) SendNotInterested() error {
	if !s.amInterested {
		return nil
	}
	if err := s.send(&peerwire.Message{ID: peerwire.NotInterested}); err != nil {
		return err
	}
	s.amInterested = false
	return nil
}

// SendKeepAlive emits a zero-length frame if nothing has been sent
// recently, per spec.md §4.3's 120s rule.
func (s *Session) SendKeepAlive() error {
	if time.Since(s.lastSent) < keepAliveInterval {
		return nil
	}
	return s.send(nil)
}
