// Package tracker implements the HTTP tracker announce contract of
// spec.md §4.2: query construction, BEP-12 tier failover, compact and
// dictionary peer-list parsing, and re-announce backoff.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/niyazisuleymanov/leech/bencode"
	"github.com/niyazisuleymanov/leech/clientid"
	"github.com/niyazisuleymanov/leech/torrentfile"
)

// Event is the tracker announce event, per spec.md §4.2.
type Event string

const (
	EventNone      Event = ""
	EventStarted   Event = "started"
	EventStopped   Event = "stopped"
	EventCompleted Event = "completed"
)

// ErrTrackerFailure wraps a "failure reason" reported by the tracker
// itself, distinct from a network-level failure.
type ErrTrackerFailure struct {
	Reason string
}

func (e *ErrTrackerFailure) Error() string {
	return fmt.Sprintf("tracker: failure reason: %s", e.Reason)
}

// Response is a parsed tracker announce response.
type Response struct {
	Interval    int
	MinInterval int
	TrackerID   string
	Peers       []Peer
}

// Peer is a peer address as reported by the tracker.
type Peer struct {
	IP   net.IP
	Port uint16
}

func (p Peer) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// Stats carries the upload/download/left counters the tracker request
// requires, per spec.md §4.2.
type Stats struct {
	Uploaded   int64
	Downloaded int64
	Left       int64
}

// Client announces to a torrent's tracker tiers, tracking the
// tracker-issued id (echoed on subsequent requests once seen) and
// whether the "started" event has already been sent.
type Client struct {
	HTTPClient *http.Client

	tiers     [][]string
	trackerID string
	started   bool
}

// New builds a tracker client for the given torrent's announce tiers.
func New(tf *torrentfile.TorrentFile) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		tiers:      tf.AnnounceTiers(),
	}
}

// Announce performs one announce cycle, trying tiers in order and
// shuffling within each tier, per BEP-12. The first tracker to answer
// successfully is promoted to the front of its tier for next time.
func (c *Client) Announce(ctx context.Context, tf *torrentfile.TorrentFile, id *clientid.Identity, event Event, stats Stats) (*Response, error) {
	if event == EventStarted {
		c.started = true
	}

	var lastErr error
	for tierIdx, tier := range c.tiers {
		order := shuffledIndices(len(tier))
		for _, i := range order {
			announceURL := tier[i]
			resp, err := c.announceOne(ctx, announceURL, tf, id, event, stats)
			if err != nil {
				lastErr = err
				continue
			}
			promote(tier, i)
			c.tiers[tierIdx] = tier
			if resp.TrackerID != "" {
				c.trackerID = resp.TrackerID
			}
			return resp, nil
		}
	}
	if lastErr == nil {
		lastErr = errors.New("tracker: no announce URLs configured")
	}
	return nil, fmt.Errorf("tracker: all tiers failed: %w", lastErr)
}

func (c *Client) announceOne(ctx context.Context, announceURL string, tf *torrentfile.TorrentFile, id *clientid.Identity, event Event, stats Stats) (*Response, error) {
	base, err := url.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: bad announce url %q: %w", announceURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("tracker: unsupported scheme %q (only http/https tracker announce is in scope)", base.Scheme)
	}

	params := url.Values{
		"info_hash":  []string{string(tf.InfoHash[:])},
		"peer_id":    []string{string(id.PeerID[:])},
		"port":       []string{strconv.Itoa(id.Port)},
		"uploaded":   []string{strconv.FormatInt(stats.Uploaded, 10)},
		"downloaded": []string{strconv.FormatInt(stats.Downloaded, 10)},
		"left":       []string{strconv.FormatInt(stats.Left, 10)},
		"compact":    []string{"1"},
	}
	if event != EventNone {
		params.Set("event", string(event))
	}
	if c.trackerID != "" {
		params.Set("trackerid", c.trackerID)
	}
	base.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker: request to %s: %w", announceURL, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("tracker: reading response from %s: %w", announceURL, err)
	}

	return parseResponse(body)
}

// wireResponse mirrors the tracker's bencoded reply shape.
type wireResponse struct {
	FailureReason string `mapstructure:"failure reason"`
	Interval      int    `mapstructure:"interval"`
	MinInterval   int    `mapstructure:"min interval"`
	TrackerID     string `mapstructure:"tracker id"`
	Peers         any    `mapstructure:"peers"`
}

func parseResponse(body []byte) (*Response, error) {
	val, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("tracker: decoding response: %w", err)
	}
	if val.Kind != bencode.KindDict {
		return nil, fmt.Errorf("tracker: response is not a dict")
	}

	plain := toPlainValue(val)
	var wr wireResponse
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &wr, TagName: "mapstructure"})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(plain); err != nil {
		return nil, fmt.Errorf("tracker: decoding response fields: %w", err)
	}

	if wr.FailureReason != "" {
		return nil, &ErrTrackerFailure{Reason: wr.FailureReason}
	}

	peers, err := parsePeers(wr.Peers)
	if err != nil {
		return nil, err
	}

	return &Response{
		Interval:    wr.Interval,
		MinInterval: wr.MinInterval,
		TrackerID:   wr.TrackerID,
		Peers:       peers,
	}, nil
}

// parsePeers accepts either the compact form (a raw byte string
// projected to a Go string by toPlainValue) or the dictionary form (a
// []any of maps with ip/port/peer id).
func parsePeers(raw any) ([]Peer, error) {
	switch v := raw.(type) {
	case string:
		return parseCompactPeers([]byte(v))
	case []any:
		return parseDictPeers(v)
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("tracker: unrecognized peers encoding %T", raw)
	}
}

const compactPeerSize = 6

func parseCompactPeers(buf []byte) ([]Peer, error) {
	if len(buf)%compactPeerSize != 0 {
		return nil, fmt.Errorf("tracker: compact peers length %d is not a multiple of %d", len(buf), compactPeerSize)
	}
	n := len(buf) / compactPeerSize
	peers := make([]Peer, n)
	for i := 0; i < n; i++ {
		offset := i * compactPeerSize
		ip := make(net.IP, 4)
		copy(ip, buf[offset:offset+4])
		port := uint16(buf[offset+4])<<8 | uint16(buf[offset+5])
		peers[i] = Peer{IP: ip, Port: port}
	}
	return peers, nil
}

func parseDictPeers(list []any) ([]Peer, error) {
	peers := make([]Peer, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tracker: dict peer entry is not a map")
		}
		ipStr, _ := m["ip"].(string)
		ip := net.ParseIP(ipStr)
		var port uint16
		switch p := m["port"].(type) {
		case int64:
			port = uint16(p)
		case int:
			port = uint16(p)
		}
		peers = append(peers, Peer{IP: ip, Port: port})
	}
	return peers, nil
}

func toPlainValue(v *bencode.Value) any {
	switch v.Kind {
	case bencode.KindInt:
		return v.Int
	case bencode.KindBytes:
		return string(v.Bytes)
	case bencode.KindList:
		out := make([]any, len(v.List))
		for i, item := range v.List {
			out[i] = toPlainValue(item)
		}
		return out
	case bencode.KindDict:
		out := make(map[string]any)
		for _, k := range v.Dict.Keys() {
			key := k.(string)
			raw, _ := v.Dict.Get(key)
			out[key] = toPlainValue(raw.(*bencode.Value))
		}
		return out
	default:
		return nil
	}
}

func shuffledIndices(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rand.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	return idx
}

// promote moves tier[i] to the front of tier, preserving relative
// order of the rest, mirroring the "swap winner to front" behavior of
// the codebase's original tracker loop.
func promote(tier []string, i int) {
	if i == 0 {
		return
	}
	winner := tier[i]
	copy(tier[1:i+1], tier[0:i])
	tier[0] = winner
}
