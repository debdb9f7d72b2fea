// Package torrentfile provides a typed view over a decoded .torrent
// file: announce URLs, piece geometry, and the per-piece SHA-1 digests
// the coordinator verifies downloaded pieces against.
package torrentfile

import (
	"crypto/sha1"
	"fmt"
	"os"

	"github.com/go-viper/mapstructure/v2"

	"github.com/niyazisuleymanov/leech/bencode"
)

const hashLen = 20

// TorrentFile is the parsed, validated form of a .torrent metadata
// file, per spec.md §3.
type TorrentFile struct {
	Announce     string
	AnnounceList [][]string // BEP-12 tiers, outer slice is tier order
	InfoHash     [hashLen]byte
	PieceLength  int
	TotalLength  int
	PieceHashes  [][hashLen]byte
	Name         string
}

// bencodeInfo and bencodeTorrent mirror the wire dictionary shape so
// mapstructure can decode a bencode.Value's plain-Go projection onto
// them directly, instead of hand-written field-by-field extraction.
type bencodeInfo struct {
	PieceLength int    `mapstructure:"piece length"`
	Pieces      string `mapstructure:"pieces"`
	Length      int    `mapstructure:"length"`
	Name        string `mapstructure:"name"`
}

type bencodeTorrent struct {
	Announce     string     `mapstructure:"announce"`
	AnnounceList [][]string `mapstructure:"announce-list"`
	Info         bencodeInfo `mapstructure:"info"`
}

// Open reads and parses a .torrent file at path.
func Open(path string) (*TorrentFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("torrentfile: read %s: %w", path, err)
	}
	return Parse(raw)
}

// Parse decodes raw .torrent bytes into a TorrentFile. It computes
// InfoHash from the exact byte span of the "info" sub-dictionary as it
// appeared in raw, never from a re-encoding, so info_hash is correct
// even when the source file's dict keys are not in canonical order.
func Parse(raw []byte) (*TorrentFile, error) {
	root, err := bencode.Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("torrentfile: %w", err)
	}
	if root.Kind != bencode.KindDict {
		return nil, fmt.Errorf("torrentfile: top-level value is not a dict")
	}

	infoVal, ok := root.Get("info")
	if !ok {
		return nil, fmt.Errorf("torrentfile: missing info dict")
	}
	infoHash := sha1.Sum(infoVal.Slice(raw))

	plain := toPlainValue(root)
	var bt bencodeTorrent
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  &bt,
		TagName: "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("torrentfile: %w", err)
	}
	if err := dec.Decode(plain); err != nil {
		return nil, fmt.Errorf("torrentfile: decode metadata: %w", err)
	}

	if bt.Info.PieceLength <= 0 {
		return nil, fmt.Errorf("torrentfile: non-positive piece length")
	}
	if bt.Info.Length <= 0 {
		return nil, fmt.Errorf("torrentfile: non-positive total length (multi-file torrents are not supported)")
	}

	pieceHashes, err := splitPieceHashes(bt.Info.Pieces)
	if err != nil {
		return nil, fmt.Errorf("torrentfile: %w", err)
	}
	expectedCount := (bt.Info.Length + bt.Info.PieceLength - 1) / bt.Info.PieceLength
	if len(pieceHashes) != expectedCount {
		return nil, fmt.Errorf("torrentfile: expected %d piece hashes, got %d", expectedCount, len(pieceHashes))
	}

	return &TorrentFile{
		Announce:     bt.Announce,
		AnnounceList: bt.AnnounceList,
		InfoHash:     infoHash,
		PieceLength:  bt.Info.PieceLength,
		TotalLength:  bt.Info.Length,
		PieceHashes:  pieceHashes,
		Name:         bt.Info.Name,
	}, nil
}

func splitPieceHashes(pieces string) ([][hashLen]byte, error) {
	buf := []byte(pieces)
	if len(buf)%hashLen != 0 {
		return nil, fmt.Errorf("pieces string length %d is not a multiple of %d", len(buf), hashLen)
	}
	n := len(buf) / hashLen
	out := make([][hashLen]byte, n)
	for i := 0; i < n; i++ {
		copy(out[i][:], buf[i*hashLen:(i+1)*hashLen])
	}
	return out, nil
}

// PieceCount returns the number of pieces in the torrent.
func (tf *TorrentFile) PieceCount() int {
	return len(tf.PieceHashes)
}

// PieceSize returns the size in bytes of the piece at index, honoring
// the last-piece invariant from spec.md §3: every piece except
// possibly the last has size PieceLength.
func (tf *TorrentFile) PieceSize(index int) int {
	begin := index * tf.PieceLength
	end := begin + tf.PieceLength
	if end > tf.TotalLength {
		end = tf.TotalLength
	}
	return end - begin
}

// PieceOffset returns the byte offset of piece index within the output
// file.
func (tf *TorrentFile) PieceOffset(index int) int64 {
	return int64(index) * int64(tf.PieceLength)
}

// AnnounceTiers returns the BEP-12 announce-list tiers, falling back to
// a single tier containing the primary Announce URL when no
// announce-list was present.
func (tf *TorrentFile) AnnounceTiers() [][]string {
	if len(tf.AnnounceList) == 0 {
		return [][]string{{tf.Announce}}
	}
	return tf.AnnounceList
}

// toPlainValue projects a bencode.Value tree onto plain Go values
// (map[string]any, []any, string, int64) that mapstructure can decode
// from. Byte strings become Go strings: every field consumed here is
// either textual (announce URLs, name) or a fixed-width binary blob
// consumed as a raw string (info hash pieces), matching the convention
// bencode dictionaries use for both.
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
