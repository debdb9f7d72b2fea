package tracker

import "testing"

func TestParseCompactPeers(t *testing.T) {
	buf := []byte{0x7f, 0x00, 0x00, 0x01, 0x1a, 0xe1, 0xc0, 0xa8, 0x00, 0x01, 0x1a, 0xe1}
	peers, err := parseCompactPeers(buf)
	if err != nil {
		t.Fatalf("parseCompactPeers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("len = %d, want 2", len(peers))
	}
	if peers[0].IP.String() != "127.0.0.1" || peers[0].Port != 6881 {
		t.Fatalf("peers[0] = %+v", peers[0])
	}
	if peers[1].IP.String() != "192.168.0.1" || peers[1].Port != 6881 {
		t.Fatalf("peers[1] = %+v", peers[1])
	}
}

func TestParseCompactPeersEmpty(t *testing.T) {
	peers, err := parseCompactPeers(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(peers) != 0 {
		t.Fatalf("expected 0 peers, got %d", len(peers))
	}
}

func TestParseCompactPeersRejectsBadLength(t *testing.T) {
	_, err := parseCompactPeers([]byte{1, 2, 3, 4, 5})
	if err == nil {
		t.Fatal("expected error for length not a multiple of 6")
	}
}

func TestParseResponseFailureReason(t *testing.T) {
	body := []byte("d14:failure reason12:torrent gonee")
	_, err := parseResponse(body)
	if err == nil {
		t.Fatal("expected failure reason error")
	}
	if _, ok := err.(*ErrTrackerFailure); !ok {
		t.Fatalf("expected *ErrTrackerFailure, got %T: %v", err, err)
	}
}

func TestParseDictPeers(t *testing.T) {
	list := []any{
		map[string]any{"ip": "127.0.0.1", "port": int64(6881)},
		map[string]any{"ip": "10.0.0.2", "port": int64(51413)},
	}
	peers, err := parseDictPeers(list)
	if err != nil {
		t.Fatalf("parseDictPeers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("len = %d, want 2", len(peers))
	}
	if peers[0].IP.String() != "127.0.0.1" || peers[0].Port != 6881 {
		t.Fatalf("peers[0] = %+v", peers[0])
	}
	if peers[1].IP.String() != "10.0.0.2" || peers[1].Port != 51413 {
		t.Fatalf("peers[1] = %+v", peers[1])
	}
}

func TestParseResponseDictPeers(t *testing.T) {
	body := []byte("d8:intervali1800e5:peersld2:ip9:127.0.0.14:porti6881eed2:ip8:10.0.0.24:porti51413eeee")
	resp, err := parseResponse(body)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if resp.Interval != 1800 {
		t.Fatalf("Interval = %d, want 1800", resp.Interval)
	}
	if len(resp.Peers) != 2 {
		t.Fatalf("len(Peers) = %d, want 2", len(resp.Peers))
	}
	if resp.Peers[0].IP.String() != "127.0.0.1" || resp.Peers[0].Port != 6881 {
		t.Fatalf("Peers[0] = %+v", resp.Peers[0])
	}
	if resp.Peers[1].IP.String() != "10.0.0.2" || resp.Peers[1].Port != 51413 {
		t.Fatalf("Peers[1] = %+v", resp.Peers[1])
	}
}

func TestParseResponseCompactPeers(t *testing.T) {
	body := []byte("d8:intervali1800e5:peers12:\x7f\x00\x00\x01\x1a\xe1\xc0\xa8\x00\x01\x1a\xe1e")
	resp, err := parseResponse(body)
	if err != nil {
		t.Fatalf("parseResponse: %v", err)
	}
	if resp.Interval != 1800 {
		t.Fatalf("Interval = %d, want 1800", resp.Interval)
	}
	if len(resp.Peers) != 2 {
		t.Fatalf("len(Peers) = %d, want 2", len(resp.Peers))
	}
}

func TestPromoteMovesWinnerToFront(t *testing.T) {
	tier := []string{"a", "b", "c", "d"}
	promote(tier, 2)
	want := []string{"c", "a", "b", "d"}
	for i := range want {
		if tier[i] != want[i] {
			t.Fatalf("promote result = %v, want %v", tier, want)
		}
	}
}
