package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/niyazisuleymanov/leech/session"
	"github.com/niyazisuleymanov/leech/tracker"
)

// ErrTrackerUnreachable wraps a failure to complete the initial
// "started" announce, distinguishing a dead/unreachable tracker
// (spec.md §6 exit code 3) from a download that started but later
// aborted (exit code 4).
var ErrTrackerUnreachable = errors.New("coordinator: tracker unreachable")

// Run drives the torrent to completion: announces to the tracker,
// spawns one session per received peer address (bounded by
// MaxSessions), waits for every piece to complete, sends the final
// "completed" announce, and returns. It blocks until Done(), ctx is
// canceled, or a piece write fails; it returns at once if the initial
// "started" announce fails. Events() is closed once Run returns, after every spawned
// session has finished.
func (c *Coordinator) Run(ctx context.Context) error {
	c.emit(Event{Kind: EventStarted})

	stop := make(chan struct{})
	var stopOnce sync.Once
	closeStop := func() { stopOnce.Do(func() { close(stop) }) }

	var wg sync.WaitGroup
	defer func() {
		closeStop()
		wg.Wait()
		close(c.events)
	}()

	tried := make(map[string]bool)
	var triedMu sync.Mutex

	resp, err := c.tclt.Announce(ctx, c.tf, c.id, tracker.EventStarted, c.statsSnapshot())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTrackerUnreachable, err)
	}
	c.emit(Event{Kind: EventPeersReceived, Count: len(resp.Peers)})
	c.spawnPeers(ctx, resp.Peers, tried, &triedMu, stop, &wg)

	interval := tracker.NextInterval(resp.Interval, resp.MinInterval)
	backoff := tracker.NewBackoff()
	announceTicker := time.NewTicker(interval)
	defer announceTicker.Stop()

	doneTicker := time.NewTicker(200 * time.Millisecond)
	defer doneTicker.Stop()

	for !c.Done() {
		select {
		case <-ctx.Done():
			c.announceStopped()
			return ctx.Err()
		case err := <-c.fatalWrite:
			c.announceStopped()
			return err
		case <-announceTicker.C:
			r, err := c.tclt.Announce(ctx, c.tf, c.id, tracker.EventNone, c.statsSnapshot())
			if err != nil {
				announceTicker.Reset(backoff.Next())
				continue
			}
			backoff.Reset()
			c.emit(Event{Kind: EventPeersReceived, Count: len(r.Peers)})
			c.spawnPeers(ctx, r.Peers, tried, &triedMu, stop, &wg)
			announceTicker.Reset(tracker.NextInterval(r.Interval, r.MinInterval))
		case <-doneTicker.C:
			// Sessions notify completion asynchronously via
			// SubmitPiece; the piece table is the single source of
			// truth for Done() (spec.md §5), so this tick just re-
			// checks the loop condition without busy-spinning.
		}
	}

	if _, err := c.tclt.Announce(ctx, c.tf, c.id, tracker.EventCompleted, c.statsSnapshot()); err != nil {
		// Non-fatal: the download itself already succeeded locally.
		c.emit(Event{Kind: EventPeerFailed, Kind_: "tracker completed announce: " + err.Error()})
	}
	c.emit(Event{Kind: EventCompleted})
	return nil
}

// announceStopped sends a best-effort "stopped" announce on shutdown,
// per spec.md §4.2/§7. The originating context is already canceled by
// the time Run's ctx.Done() branch fires, so this uses a fresh context
// bounded by spec.md §5's 5s abandon rule for a pending tracker request
// rather than the caller's (already-dead) one; failure is not reported,
// since the download's own outcome does not depend on it.
func (c *Coordinator) announceStopped() {
	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = c.tclt.Announce(stopCtx, c.tf, c.id, tracker.EventStopped, c.statsSnapshot())
}

func (c *Coordinator) statsSnapshot() tracker.Stats {
	return tracker.Stats{
		Uploaded:   c.id.Uploaded(),
		Downloaded: c.id.Downloaded(),
		Left:       c.id.Left(),
	}
}

func (c *Coordinator) spawnPeers(ctx context.Context, peers []tracker.Peer, tried map[string]bool, triedMu *sync.Mutex, stop chan struct{}, wg *sync.WaitGroup) {
	for _, p := range peers {
		addr := p.String()

		triedMu.Lock()
		already := tried[addr]
		tried[addr] = true
		triedMu.Unlock()
		if already {
			continue
		}
		if c.isCoolingDown(addr) {
			continue
		}

		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			c.runSession(ctx, addr, stop)
		}(addr)
	}
}

func (c *Coordinator) runSession(ctx context.Context, addr string, stop chan struct{}) {
	select {
	case c.sem <- struct{}{}:
	case <-stop:
		return
	}
	defer func() { <-c.sem }()

	sess, err := session.Dial(ctx, addr, c.tf.InfoHash, c.id.PeerID, c.tf.PieceCount())
	if err != nil {
		c.emit(Event{Kind: EventPeerFailed, Addr: addr, Kind_: err.Error()})
		c.coolDown(addr)
		return
	}
	c.register(sess)
	c.emit(Event{Kind: EventPeerConnected, Addr: addr})

	err = sess.Serve(c, stop)
	c.unregister(sess)
	sess.Close()

	if err != nil {
		c.emit(Event{Kind: EventPeerFailed, Addr: addr, Kind_: err.Error()})
		c.coolDown(addr)
	}
}
