package refindex

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/zstd"
)

// WriteSnapshot dumps every corpus entry as zstd-compressed JSON lines, a
// format that reloads far faster than replaying PGN ingest.
func WriteSnapshot(path string, entries []Entry) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create snapshot %s: %w", path, err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(zw)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			zw.Close()
			return fmt.Errorf("encode snapshot entry %s: %w", e.Key, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish snapshot: %w", err)
	}
	return f.Sync()
}

// LoadSnapshot streams a snapshot file into the index. Returns the entry
// count.
func LoadSnapshot(path string, ix *Index) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("snapshot %s: %w", path, err)
	}
	defer zr.Close()

	dec := json.NewDecoder(bufio.NewReader(zr))
	n := 0
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return n, fmt.Errorf("decode snapshot entry: %w", err)
		}
		if err := ix.Add(e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Entries reads the whole corpus out for snapshotting.
func (c *Corpus) Entries() ([]Entry, error) {
	rows, err := c.db.Query(
		`SELECT key, fen, move, white, black, result, elo FROM positions ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.FEN, &e.Move, &e.White, &e.Black, &e.Result, &e.Elo); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
