package coordinator

import (
	"crypto/sha1"
	"fmt"
	"sync"
	"time"

	"github.com/emirpasic/gods/sets/hashset"

	"github.com/niyazisuleymanov/leech/clientid"
	"github.com/niyazisuleymanov/leech/fswriter"
	"github.com/niyazisuleymanov/leech/session"
	"github.com/niyazisuleymanov/leech/torrentfile"
	"github.com/niyazisuleymanov/leech/tracker"
)

// CorruptionThreshold is the number of hash mismatches a single
// session may cause before the coordinator instructs it to terminate,
// per spec.md §4.4 and §9's Open Question (resolved to 3).
const CorruptionThreshold = 3

// MaxSessions bounds concurrent peer connections, per spec.md §5.
const MaxSessions = 30

// PeerCooldown is how long a failed/disconnected peer address is
// excluded from reconnection attempts, per spec.md §7.
const PeerCooldown = 5 * time.Minute

// Coordinator owns the piece state table, session registry, and
// tracker re-announce timer described in spec.md §4.4. One instance
// drives exactly one torrent's download to completion.
type Coordinator struct {
	tf     *torrentfile.TorrentFile
	writer *fswriter.Writer
	id     *clientid.Identity
	tclt   *tracker.Client

	table *pieceTable

	mu           sync.Mutex
	sessions     map[int]*session.Session
	nextID       int
	corruptCount map[int]int // sessionID -> corrupt piece count

	cooldownSet   *hashset.Set // addrs currently cooling down
	cooldownUntil map[string]time.Time

	sem chan struct{} // MaxSessions semaphore

	events     chan Event
	fatalWrite chan error // fatal fswriter error, surfaced to Run
}

// New builds a Coordinator ready to drive tf's download into writer.
func New(tf *torrentfile.TorrentFile, writer *fswriter.Writer, id *clientid.Identity) *Coordinator {
	return &Coordinator{
		tf:            tf,
		writer:        writer,
		id:            id,
		tclt:          tracker.New(tf),
		table:         newPieceTable(tf.PieceCount()),
		sessions:      make(map[int]*session.Session),
		corruptCount:  make(map[int]int),
		cooldownSet:   hashset.New(),
		cooldownUntil: make(map[string]time.Time),
		sem:           make(chan struct{}, MaxSessions),
		events:        make(chan Event, 256),
		fatalWrite:    make(chan error, 1),
	}
}

// ClaimWork implements session.Coordinator.
func (c *Coordinator) ClaimWork(sessionID int, hasPiece func(index int) bool) (session.Assignment, bool) {
	index, ok := c.table.claim(sessionID, hasPiece)
	if !ok {
		return session.Assignment{}, false
	}
	return session.Assignment{Index: index, Length: c.tf.PieceSize(index)}, true
}

// SubmitPiece implements session.Coordinator: verifies the SHA-1
// digest, writes to disk on match, and re-queues plus penalizes the
// session on mismatch.
func (c *Coordinator) SubmitPiece(sessionID int, index int, data []byte) {
	sum := sha1.Sum(data)
	if sum != c.tf.PieceHashes[index] {
		c.table.revertToMissing(index)
		c.penalize(sessionID)
		c.emit(Event{Kind: EventPieceCorrupt, Index: index, SessionID: sessionID})
		return
	}

	if err := c.writer.WriteAt(c.tf.PieceOffset(index), data); err != nil {
		// File I/O errors are fatal to the whole download per spec.md
		// §7: surface it to Run so it can abort with exit code 4
		// instead of endlessly re-queuing a piece that can never write.
		c.table.revertToMissing(index)
		werr := fmt.Errorf("coordinator: writing piece %d at offset %d: %w", index, c.tf.PieceOffset(index), err)
		select {
		case c.fatalWrite <- werr:
		default:
		}
		c.emit(Event{Kind: EventPieceCorrupt, Index: index, SessionID: sessionID, Kind_: werr.Error()})
		return
	}

	c.table.complete(index)
	c.id.AddDownloaded(int64(len(data)))
	c.broadcastHave(sessionID, index)
	c.emit(Event{Kind: EventPieceComplete, Index: index})
	c.emit(Event{Kind: EventProgress, Have: c.table.countComplete(), Total: c.tf.PieceCount()})
}

// ReleasePiece implements session.Coordinator.
func (c *Coordinator) ReleasePiece(sessionID int, index int) {
	c.table.releaseIfHeldBy(sessionID, index)
}

// penalize increments sessionID's corruption counter and, past
// CorruptionThreshold, terminates it by closing its connection — the
// session's own read loop will then see the closed socket and exit,
// releasing any other in-flight piece.
func (c *Coordinator) penalize(sessionID int) {
	c.mu.Lock()
	c.corruptCount[sessionID]++
	over := c.corruptCount[sessionID] > CorruptionThreshold
	sess := c.sessions[sessionID]
	c.mu.Unlock()
	if over && sess != nil {
		sess.Close()
	}
}

// broadcastHave notifies every other active session that index
// completed. This never precedes the successful write of the piece,
// satisfying spec.md §5's ordering guarantee, because it is only
// called from SubmitPiece after writer.WriteAt returns.
func (c *Coordinator) broadcastHave(fromSessionID, index int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, sess := range c.sessions {
		if id == fromSessionID {
			continue
		}
		sess.SendHaveAsync(index)
	}
}

func (c *Coordinator) register(sess *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess.ID = c.nextID
	c.nextID++
	c.sessions[sess.ID] = sess
}

func (c *Coordinator) unregister(sess *session.Session) {
	c.mu.Lock()
	delete(c.sessions, sess.ID)
	delete(c.corruptCount, sess.ID)
	c.mu.Unlock()
}

func (c *Coordinator) isCoolingDown(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.cooldownSet.Contains(addr) {
		return false
	}
	if time.Now().After(c.cooldownUntil[addr]) {
		c.cooldownSet.Remove(addr)
		delete(c.cooldownUntil, addr)
		return false
	}
	return true
}

func (c *Coordinator) coolDown(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cooldownSet.Add(addr)
	c.cooldownUntil[addr] = time.Now().Add(PeerCooldown)
}

// Done reports whether every piece has been verified and written.
func (c *Coordinator) Done() bool {
	return c.table.allComplete()
}

// Snapshot exposes piece states for tests.
func (c *Coordinator) Snapshot() []PieceState {
	return c.table.snapshot()
}
