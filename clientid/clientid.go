// Package clientid holds the process-wide client identity spec.md §3
// describes: a 20-byte peer_id, the listening port, and the
// uploaded/downloaded/left counters the tracker and coordinator report.
package clientid

import (
	"math/rand"
	"sync/atomic"
)

const (
	// clientPrefix follows the Azureus-style convention: two letters
	// for the client, four digits for the version.
	clientPrefix = "-LE0001-"
	peerIDLen    = 20
)

// Identity is created once at process startup.
type Identity struct {
	PeerID [peerIDLen]byte
	Port   int

	uploaded   int64
	downloaded int64
	left       int64
}

// New builds an Identity for a torrent whose total length is
// totalLength, listening on port.
func New(port int, totalLength int64) *Identity {
	return &Identity{
		PeerID: generatePeerID(),
		Port:   port,
		left:   totalLength,
	}
}

const idSymbols = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generatePeerID() [peerIDLen]byte {
	var id [peerIDLen]byte
	copy(id[:], clientPrefix)
	for i := len(clientPrefix); i < peerIDLen; i++ {
		id[i] = idSymbols[rand.Intn(len(idSymbols))]
	}
	return id
}

func (id *Identity) Uploaded() int64   { return atomic.LoadInt64(&id.uploaded) }
func (id *Identity) Downloaded() int64 { return atomic.LoadInt64(&id.downloaded) }
func (id *Identity) Left() int64       { return atomic.LoadInt64(&id.left) }

// AddDownloaded records n bytes downloaded and decrements Left by the
// same amount, per spec.md §4.4's submit_piece behavior.
func (id *Identity) AddDownloaded(n int64) {
	atomic.AddInt64(&id.downloaded, n)
	atomic.AddInt64(&id.left, -n)
}

// AddUploaded records n bytes uploaded. This leecher never seeds, so
// this only exists to satisfy the tracker contract's uploaded field.
func (id *Identity) AddUploaded(n int64) {
	atomic.AddInt64(&id.uploaded, n)
}
