package coordinator

import (
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/niyazisuleymanov/leech/clientid"
	"github.com/niyazisuleymanov/leech/fswriter"
	"github.com/niyazisuleymanov/leech/torrentfile"
)

func newTestCoordinator(t *testing.T, pieceLength, totalLength int, pieces [][]byte) (*Coordinator, string) {
	t.Helper()
	dir := t.TempDir()

	hashes := make([][20]byte, len(pieces))
	for i, p := range pieces {
		hashes[i] = sha1.Sum(p)
	}

	tf := &torrentfile.TorrentFile{
		Announce:    "http://tracker.example/announce",
		PieceLength: pieceLength,
		TotalLength: totalLength,
		PieceHashes: hashes,
		Name:        "out.bin",
	}

	w, err := fswriter.Open(dir, tf.Name, int64(totalLength))
	if err != nil {
		t.Fatalf("fswriter.Open: %v", err)
	}
	id := clientid.New(6881, int64(totalLength))

	c := New(tf, w, id)
	return c, dir
}

func TestClaimWorkAtMostOneInFlightPerPiece(t *testing.T) {
	c, _ := newTestCoordinator(t, 16, 32, [][]byte{
		[]byte("0123456789ABCDEF"),
		[]byte("FEDCBA9876543210"),
	})

	always := func(int) bool { return true }

	a1, ok := c.ClaimWork(1, always)
	if !ok {
		t.Fatal("expected assignment for session 1")
	}
	a2, ok := c.ClaimWork(2, always)
	if !ok {
		t.Fatal("expected assignment for session 2")
	}
	if a1.Index == a2.Index {
		t.Fatalf("both sessions claimed piece %d", a1.Index)
	}

	// No more work left: every piece is InFlight.
	_, ok = c.ClaimWork(3, always)
	if ok {
		t.Fatal("expected no assignable work, both pieces already in flight")
	}

	states := c.Snapshot()
	for _, s := range states {
		if s != InFlight {
			t.Fatalf("expected all pieces InFlight, got %v", states)
		}
	}
}

func TestSubmitPieceVerifiesAndWritesToDisk(t *testing.T) {
	p0 := []byte("0123456789ABCDEF")
	p1 := []byte("wxyz")
	c, dir := newTestCoordinator(t, 16, 20, [][]byte{p0, p1})

	always := func(int) bool { return true }
	a0, _ := c.ClaimWork(1, always)
	a1, _ := c.ClaimWork(1, always)

	pieces := map[int][]byte{a0.Index: p0, a1.Index: p1}
	// lowest-index-first claiming gives a0=piece 0 and a1=piece 1
	for idx, data := range pieces {
		_ = idx
		c.SubmitPiece(1, idx, data)
	}

	if !c.Done() {
		t.Fatalf("expected download complete, snapshot=%v", c.Snapshot())
	}

	c.writer.Close()
	got, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	want := append(append([]byte{}, p0...), p1...)
	if string(got) != string(want) {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCorruptionRecovery(t *testing.T) {
	good := []byte("0123456789ABCDEF")
	corrupt := make([]byte, len(good))
	copy(corrupt, good)
	corrupt[0] ^= 0x01 // flip a bit

	c, _ := newTestCoordinator(t, 16, 16, [][]byte{good})

	always := func(int) bool { return true }
	a, ok := c.ClaimWork(1, always)
	if !ok {
		t.Fatal("expected assignment")
	}

	c.SubmitPiece(1, a.Index, corrupt)
	if c.Done() {
		t.Fatal("corrupt piece must not complete the download")
	}
	if c.corruptCount[1] != 1 {
		t.Fatalf("corruptCount = %d, want 1", c.corruptCount[1])
	}

	// Piece reverted to Missing: a second session can claim and
	// complete it correctly.
	a2, ok := c.ClaimWork(2, always)
	if !ok {
		t.Fatal("expected the reverted piece to be claimable again")
	}
	if a2.Index != a.Index {
		t.Fatalf("expected same index re-claimed, got %d want %d", a2.Index, a.Index)
	}
	c.SubmitPiece(2, a2.Index, good)
	if !c.Done() {
		t.Fatal("expected download complete after correct resubmission")
	}
}

func TestSubmitPieceSurfacesFatalWriteError(t *testing.T) {
	good := []byte("0123456789ABCDEF")
	c, _ := newTestCoordinator(t, 16, 16, [][]byte{good})

	always := func(int) bool { return true }
	a, ok := c.ClaimWork(1, always)
	if !ok {
		t.Fatal("expected assignment")
	}

	// Close the sink out from under the coordinator so WriteAt fails on
	// every future attempt, simulating a disk gone read-only mid-download.
	c.writer.Close()

	c.SubmitPiece(1, a.Index, good)
	if c.Done() {
		t.Fatal("a piece that failed to write must not count as complete")
	}

	select {
	case err := <-c.fatalWrite:
		if err == nil {
			t.Fatal("expected a non-nil fatal write error")
		}
	default:
		t.Fatal("expected SubmitPiece to surface a fatal write error on c.fatalWrite")
	}
}

func TestReleasePieceOnlyIfHeldBySession(t *testing.T) {
	c, _ := newTestCoordinator(t, 16, 16, [][]byte{[]byte("0123456789ABCDEF")})
	always := func(int) bool { return true }

	a, _ := c.ClaimWork(1, always)
	// Session 2 releasing a piece it doesn't hold must be a no-op.
	c.ReleasePiece(2, a.Index)
	states := c.Snapshot()
	if states[a.Index] != InFlight {
		t.Fatalf("expected piece still InFlight after foreign release, got %v", states[a.Index])
	}

	c.ReleasePiece(1, a.Index)
	states = c.Snapshot()
	if states[a.Index] != Missing {
		t.Fatalf("expected piece Missing after owning session released it, got %v", states[a.Index])
	}
}
