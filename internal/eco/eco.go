// Package eco classifies openings against the Encyclopedia of Chess
// Openings, loaded from the lichess TSV export (eco\tname\tpgn).
package eco

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/freeeve/pgn/v3"

	"github.com/blunderlab/coach/internal/chess"
)

// Opening is one ECO entry.
type Opening struct {
	ECO  string `json:"eco"`
	Name string `json:"name"`
}

// Database maps packed positions to their deepest known opening name.
type Database struct {
	byPosition map[pgn.PackedPosition]Opening
}

// NewDatabase returns an empty database; call Load before using it.
func NewDatabase() *Database {
	return &Database{byPosition: map[pgn.PackedPosition]Opening{}}
}

// Load reads every .tsv file in dir.
func (db *Database) Load(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.tsv"))
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no eco .tsv files in %s", dir)
	}
	for _, file := range files {
		if err := db.loadFile(file); err != nil {
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

func (db *Database) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first {
			first = false
			if strings.HasPrefix(line, "eco\t") {
				continue
			}
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		pos, err := replaySAN(parts[2])
		if err != nil {
			// Lines the move parser cannot handle are skipped rather
			// than failing the whole load.
			continue
		}
		db.byPosition[pos.Pack()] = Opening{ECO: parts[0], Name: parts[1]}
	}
	return scanner.Err()
}

func replaySAN(movetext string) (*pgn.GameState, error) {
	pos := pgn.NewStartingPosition()
	for _, token := range strings.Fields(movetext) {
		if strings.HasSuffix(token, ".") || token == "" {
			continue
		}
		if idx := strings.LastIndexByte(token, '.'); idx >= 0 {
			token = token[idx+1:]
		}
		san := strings.TrimRight(token, "+#")
		if san == "" {
			continue
		}
		mv, err := pgn.ParseSAN(pos, san)
		if err != nil {
			return nil, err
		}
		if err := pgn.ApplyMove(pos, mv); err != nil {
			return nil, err
		}
	}
	return pos, nil
}

// Lookup returns the opening for a packed position.
func (db *Database) Lookup(pos pgn.PackedPosition) (Opening, bool) {
	o, ok := db.byPosition[pos]
	return o, ok
}

// Classify names a game's opening by its deepest position that appears in
// the database.
func (db *Database) Classify(g *chess.Game) (Opening, bool) {
	for i := len(g.Plies) - 1; i >= 0; i-- {
		if o, ok := db.byPosition[g.Plies[i].KeyAfter]; ok {
			return o, true
		}
	}
	return Opening{}, false
}

// Count reports loaded openings.
func (db *Database) Count() int { return len(db.byPosition) }
