// Package coordinator implements the piece-scheduling and download
// coordinator of spec.md §4.4: the global piece state table, work
// assignment, integrity verification, and session supervision.
package coordinator

import "sync"

// PieceState is one of the three states spec.md §3 defines for a piece.
type PieceState int

const (
	Missing PieceState = iota
	InFlight
	Complete
)

type pieceEntry struct {
	state     PieceState
	sessionID int // meaningful only when state == InFlight
}

// pieceTable is the mutex-guarded global piece state, per spec.md §5's
// "mutex around the table" concurrency option. Every mutation goes
// through claim/submit/release so at-most-one-InFlight-per-piece holds
// at every observation point (spec.md §8).
type pieceTable struct {
	mu      sync.Mutex
	entries []pieceEntry
}

func newPieceTable(pieceCount int) *pieceTable {
	return &pieceTable{entries: make([]pieceEntry, pieceCount)}
}

// claim finds the lowest-index Missing piece for which has(index) is
// true, atomically marking it InFlight for sessionID. Lowest-index
// selection satisfies spec.md §4.4's "acceptable" policy; rarity-based
// selection is explicitly optional and not implemented (spec.md §1
// non-goals).
func (t *pieceTable) claim(sessionID int, has func(index int) bool) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		if t.entries[i].state == Missing && has(i) {
			t.entries[i] = pieceEntry{state: InFlight, sessionID: sessionID}
			return i, true
		}
	}
	return 0, false
}

// complete transitions index to Complete unconditionally. Callers must
// already have verified its hash.
func (t *pieceTable) complete(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[index] = pieceEntry{state: Complete}
}

// revertToMissing transitions index back to Missing, regardless of
// which session held it. Used on a hash mismatch and on a failed disk
// write; session death goes through releaseIfHeldBy instead.
func (t *pieceTable) revertToMissing(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.entries[index].state != Complete {
		t.entries[index] = pieceEntry{state: Missing}
	}
}

// releaseIfHeldBy reverts index to Missing only if sessionID currently
// holds it InFlight — guards against a stale release racing a
// newer claim (spec.md §8's at-most-one invariant).
func (t *pieceTable) releaseIfHeldBy(sessionID, index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e := t.entries[index]
	if e.state == InFlight && e.sessionID == sessionID {
		t.entries[index] = pieceEntry{state: Missing}
	}
}

func (t *pieceTable) allComplete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.entries {
		if e.state != Complete {
			return false
		}
	}
	return true
}

func (t *pieceTable) countComplete() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, e := range t.entries {
		if e.state == Complete {
			n++
		}
	}
	return n
}

// snapshot returns a copy of piece states, for tests asserting
// spec.md §8's "exactly one state per piece" invariant.
func (t *pieceTable) snapshot() []PieceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PieceState, len(t.entries))
	for i, e := range t.entries {
		out[i] = e.state
	}
	return out
}
