package state

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// SymbolProgress tracks how far back one symbol's history has been
// downloaded. Frontier is the oldest timestamp already fetched and
// moves monotonically backward; Horizon is the earliest timestamp the
// provider has any data for. Complete is terminal: once set, the
// symbol is never fetched again.
type SymbolProgress struct {
	Symbol   string   `csv:"symbol"`
	Frontier DateTime `csv:"frontier"`
	Horizon  DateTime `csv:"horizon"`
	Complete bool     `csv:"complete"`
}

// DateTime is a nullable RFC3339 timestamp column. An empty value means
// unknown, and unparsable values are coerced to unknown rather than
// failing the whole checkpoint load.
type DateTime struct {
	time.Time
}

func NewDateTime(t time.Time) DateTime {
	return DateTime{Time: t}
}

// UnmarshalCSV implements the gocsv field unmarshaler.
func (dt *DateTime) UnmarshalCSV(value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		dt.Time = time.Time{}
		return nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		dt.Time = time.Time{}
		return nil
	}
	dt.Time = t
	return nil
}

// MarshalCSV implements the gocsv field marshaler. Timestamps are
// stored in UTC so that checkpoints do not depend on the host zone.
func (dt DateTime) MarshalCSV() (string, error) {
	if dt.IsZero() {
		return "", nil
	}
	return dt.UTC().Format(time.RFC3339), nil
}

// NormalizeSymbol maps raw symbol spellings onto the canonical
// checkpoint key form.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Store persists the per-symbol download checkpoint as a CSV file with
// one row per symbol. It is the sole source of truth for resuming an
// interrupted run.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the checkpoint file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the checkpoint. A missing or empty file is an empty
// checkpoint, not an error. Symbol keys are normalized, de-duplicated
// keeping the first occurrence, and the rows are returned sorted by
// symbol.
func (s *Store) Load() ([]*SymbolProgress, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return []*SymbolProgress{}, nil
		}
		return nil, errors.Wrapf(err, "failed to open the checkpoint file %s", s.path)
	}
	defer f.Close()

	var rows []*SymbolProgress
	if err := gocsv.UnmarshalFile(f, &rows); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return []*SymbolProgress{}, nil
		}
		return nil, errors.Wrapf(err, "failed to parse the checkpoint file %s", s.path)
	}

	return normalize(rows), nil
}

// Save atomically replaces the checkpoint with the given rows by
// writing a temporary file next to it and renaming it over the old
// one, so a crash mid-write never corrupts the previous valid state.
func (s *Store) Save(rows []*SymbolProgress) error {
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create the checkpoint directory %s", dir)
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "failed to create the temporary checkpoint file %s", tmp)
	}

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to write the checkpoint to %s", tmp)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to close the temporary checkpoint file %s", tmp)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to replace the checkpoint file %s", s.path)
	}

	return nil
}

// Merge adds universe symbols missing from the checkpoint with empty
// progress. Checkpoint rows absent from the universe are retained
// unchanged: the checkpoint never forgets a symbol.
func Merge(rows []*SymbolProgress, universe []string) []*SymbolProgress {
	known := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		known[row.Symbol] = struct{}{}
	}

	merged := rows
	for _, symbol := range universe {
		symbol = NormalizeSymbol(symbol)
		if symbol == "" {
			continue
		}
		if _, ok := known[symbol]; ok {
			continue
		}
		known[symbol] = struct{}{}
		merged = append(merged, &SymbolProgress{Symbol: symbol})
	}

	sortBySymbol(merged)
	return merged
}

func normalize(rows []*SymbolProgress) []*SymbolProgress {
	seen := make(map[string]struct{}, len(rows))
	out := make([]*SymbolProgress, 0, len(rows))

	for _, row := range rows {
		symbol := NormalizeSymbol(row.Symbol)
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			// duplicate key, keep the first occurrence
			continue
		}
		seen[symbol] = struct{}{}
		row.Symbol = symbol
		out = append(out, row)
	}

	sortBySymbol(out)
	return out
}

func sortBySymbol(rows []*SymbolProgress) {
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Symbol < rows[j].Symbol
	})
}
