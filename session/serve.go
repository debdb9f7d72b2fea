package session

import (
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/niyazisuleymanov/leech/peerwire"
)

// Coordinator is the narrow interface a session needs from the piece
// scheduler, per spec.md §4.4. It is defined here (rather than in the
// coordinator package) so session has no import-cycle dependency on
// coordinator; the coordinator package implements it.
type Coordinator interface {
	// ClaimWork returns a piece this session may download, given a
	// predicate over which indices the session's peer bitfield can
	// satisfy. ok is false when no work is currently assignable.
	ClaimWork(sessionID int, hasPiece func(index int) bool) (assignment Assignment, ok bool)
	// SubmitPiece hands a fully-reassembled, not-yet-verified piece to
	// the coordinator for SHA-1 verification and disk write.
	SubmitPiece(sessionID int, index int, data []byte)
	// ReleasePiece reverts an in-flight piece to Missing, called when
	// a session can no longer make progress on it.
	ReleasePiece(sessionID int, index int)
}

// Serve drives the session's lifecycle after Dial: claim work, request
// blocks up to the pipeline depth, reassemble pieces, hand them to
// coord, and keep looping until the connection dies or stop is closed.
// It always releases any in-flight piece before returning, per
// spec.md §5's cancellation-on-shutdown requirement.
func (s *Session) Serve(coord Coordinator, stop <-chan struct{}) error {
	// Sending unchoke costs nothing for a leecher that never seeds:
	// it simply signals we won't block the peer if it ever asks.
	if err := s.send(&peerwire.Message{ID: peerwire.Unchoke}); err != nil {
		return fmt.Errorf("session: %w", err)
	}

	current := -1
	unchokedSince := time.Time{}

	defer func() {
		if current >= 0 {
			coord.ReleasePiece(s.ID, current)
		}
	}()

	for {
		select {
		case <-stop:
			return nil
		default:
		}

		if err := s.flushHaveQueue(); err != nil {
			return err
		}

		if current < 0 {
			assignment, ok := coord.ClaimWork(s.ID, s.HasPiece)
			if !ok {
				if err := s.SendNotInterested(); err != nil {
					return err
				}
				// No work assignable right now; wait for a have/
				// unchoke to change that rather than busy-looping.
				if err := s.waitForBitfieldChange(stop); err != nil {
					return err
				}
				continue
			}
			if err := s.SendInterested(); err != nil {
				return err
			}
			current = assignment.Index
			s.partial[current] = make([]byte, assignment.Length)
			s.requested[current] = 0
			s.downloaded[current] = 0
		}

		if err := s.SendKeepAlive(); err != nil {
			return err
		}

		if !s.peerChoking && s.amInterested {
			if err := s.fillPipeline(current); err != nil {
				return err
			}
			if unchokedSince.IsZero() {
				unchokedSince = time.Now()
			}
		} else {
			unchokedSince = time.Time{}
		}

		if !unchokedSince.IsZero() && s.downloaded[current] == 0 && time.Since(unchokedSince) > 30*time.Second {
			return fmt.Errorf("session: %w: no piece data 30s after unchoke", peerwire.ErrReadTimeout)
		}

		s.conn.SetReadDeadline(time.Now().Add(inboundSilenceDead))
		msg, err := peerwire.ReadMessage(s.conn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("session: %w", peerwire.ErrPeerClosed)
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return fmt.Errorf("session: %w", peerwire.ErrReadTimeout)
			}
			return err
		}
		if err := s.handleMessage(msg); err != nil {
			return err
		}

		if current >= 0 && s.downloaded[current] >= len(s.partial[current]) {
			data := s.partial[current]
			delete(s.partial, current)
			delete(s.requested, current)
			delete(s.downloaded, current)
			finished := current
			current = -1
			coord.SubmitPiece(s.ID, finished, data)
		}
	}
}

// waitForBitfieldChange blocks for the next inbound message of any
// kind (up to inboundSilenceDead, after which the session fails with
// ErrReadTimeout) so the session doesn't spin when it currently has no
// assignable work, per spec.md §4.3's "may send not interested" idle
// state.
func (s *Session) waitForBitfieldChange(stop <-chan struct{}) error {
	select {
	case <-stop:
		return nil
	default:
	}
	s.conn.SetReadDeadline(time.Now().Add(inboundSilenceDead))
	msg, err := peerwire.ReadMessage(s.conn)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("session: %w", peerwire.ErrPeerClosed)
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("session: %w", peerwire.ErrReadTimeout)
		}
		return err
	}
	return s.handleMessage(msg)
}

// flushHaveQueue drains queued have() notifications enqueued by
// SendHaveAsync, sending each in FIFO order on this session's own
// connection.
func (s *Session) flushHaveQueue() error {
	for {
		select {
		case index := <-s.haveQueue:
			if err := s.send(peerwire.NewHaveMessage(index)); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

func (s *Session) fillPipeline(index int) error {
	total := len(s.partial[index])
	for len(s.outstanding) < pipelineDepth && s.requested[index] < total {
		remaining := total - s.requested[index]
		length := blockSize
		if remaining < length {
			length = remaining
		}
		begin := s.requested[index]
		if err := s.send(peerwire.NewRequestMessage(index, begin, length)); err != nil {
			return err
		}
		s.outstanding[requestKey{index, begin, length}] = struct{}{}
		s.requested[index] += length
	}
	return nil
}

func (s *Session) handleMessage(msg *Message) error {
	if msg == nil {
		return nil // keep-alive
	}
	switch msg.ID {
	case peerwire.Choke:
		s.peerChoking = true
		s.cancelOutstanding()
	case peerwire.Unchoke:
		s.peerChoking = false
	case peerwire.Interested:
		s.peerInterested = true
	case peerwire.NotInterested:
		s.peerInterested = false
	case peerwire.Have:
		index, err := peerwire.ReadHaveMessage(msg)
		if err != nil {
			return err
		}
		s.peerBitfield.SetPiece(index)
	case peerwire.Piece:
		return s.handlePiece(msg)
	case peerwire.Request, peerwire.Cancel, peerwire.Port:
		// Ignored: this leecher never seeds and has no DHT.
	default:
		return fmt.Errorf("session: %w: %d", peerwire.ErrUnexpectedMessageID, msg.ID)
	}
	return nil
}

func (s *Session) handlePiece(msg *Message) error {
	if len(msg.Payload) < 8 {
		return fmt.Errorf("session: piece payload too short")
	}
	index := int(be32(msg.Payload[0:4]))
	begin := int(be32(msg.Payload[4:8]))
	length := len(msg.Payload) - 8

	key := requestKey{index, begin, length}
	if _, ok := s.outstanding[key]; !ok {
		return fmt.Errorf("session: %w: index=%d begin=%d length=%d", peerwire.ErrUnsolicitedPiece, index, begin, length)
	}
	delete(s.outstanding, key)

	buf, ok := s.partial[index]
	if !ok {
		return fmt.Errorf("session: %w: no partial buffer for index %d", peerwire.ErrUnsolicitedPiece, index)
	}
	_, n, err := peerwire.ReadPieceMessage(index, buf, msg)
	if err != nil {
		return err
	}
	s.downloaded[index] += n
	return nil
}

// cancelOutstanding drops all pending requests when the peer chokes
// us: they will not be answered, per spec.md §4.3's choke semantics.
func (s *Session) cancelOutstanding() {
	for k := range s.outstanding {
		delete(s.outstanding, k)
	}
}

type Message = peerwire.Message

func be32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
