package writer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/alpacahq/barback/api"
	"github.com/alpacahq/barback/utils/log"
)

// BarWriter is an interface to persist chart data for one symbol.
type BarWriter interface {
	Write(symbol string, bars []api.Bar) error
}

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// CSVWriter persists bars to one CSV file per symbol, keyed and sorted
// by (date, time) in the configured timezone. A write merges the new
// bars into the existing series and atomically rewrites the whole
// file, so writing the same bars again leaves the file unchanged.
type CSVWriter struct {
	// Dir is the directory holding the per-symbol CSV files.
	Dir string
	// CSVWriter derives the date and time columns in this timezone,
	// whatever offset the provider returned the timestamps with.
	Timezone *time.Location
}

// barRecord is the on-disk row layout of a bar file.
type barRecord struct {
	Date       string  `csv:"date"`
	Time       string  `csv:"time"`
	Open       float64 `csv:"open"`
	High       float64 `csv:"high"`
	Low        float64 `csv:"low"`
	Close      float64 `csv:"close"`
	Volume     uint64  `csv:"volume"`
	TradeCount uint64  `csv:"trade_count"`
	VWAP       float64 `csv:"vwap"`
}

func (r *barRecord) key() string {
	return r.Date + " " + r.Time
}

func NewCSVWriter(dir string, timezone *time.Location) *CSVWriter {
	return &CSVWriter{Dir: dir, Timezone: timezone}
}

// Write merges bars into the symbol's CSV file. An empty bar slice is
// a no-op.
func (w *CSVWriter) Write(symbol string, bars []api.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	incoming := make([]*barRecord, 0, len(bars))
	for _, bar := range bars {
		ts := bar.Timestamp.In(w.Timezone)
		incoming = append(incoming, &barRecord{
			Date:       ts.Format(dateLayout),
			Time:       ts.Format(timeLayout),
			Open:       bar.Open,
			High:       bar.High,
			Low:        bar.Low,
			Close:      bar.Close,
			Volume:     bar.Volume,
			TradeCount: bar.TradeCount,
			VWAP:       bar.VWAP,
		})
	}

	path := w.path(symbol)
	existing, err := w.readExisting(path)
	if err != nil {
		return err
	}

	merged := mergeRecords(existing, incoming)

	if err := w.replace(path, merged); err != nil {
		return err
	}

	log.Debug("saved %d bars for %s to %s (%d rows total)", len(bars), symbol, path, len(merged))
	return nil
}

func (w *CSVWriter) path(symbol string) string {
	return filepath.Join(w.Dir, fmt.Sprintf("%s.csv", symbol))
}

func (w *CSVWriter) readExisting(path string) ([]*barRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to open the bar file %s", path)
	}
	defer f.Close()

	var records []*barRecord
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		if errors.Is(err, gocsv.ErrEmptyCSVFile) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "failed to parse the bar file %s", path)
	}

	return records, nil
}

// replace atomically rewrites the bar file through a temporary file
// and rename.
func (w *CSVWriter) replace(path string, records []*barRecord) error {
	if err := os.MkdirAll(w.Dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create the data directory %s", w.Dir)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "failed to create the temporary bar file %s", tmp)
	}

	if err := gocsv.MarshalFile(&records, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to write bars to %s", tmp)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to close the temporary bar file %s", tmp)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to replace the bar file %s", path)
	}

	return nil
}

// mergeRecords concatenates existing rows before incoming ones, drops
// duplicate (date, time) keys keeping the first occurrence, and sorts
// by key. The already-persisted row always precedes a refetched copy,
// so it is the one that survives.
func mergeRecords(existing, incoming []*barRecord) []*barRecord {
	combined := make([]*barRecord, 0, len(existing)+len(incoming))
	combined = append(combined, existing...)
	combined = append(combined, incoming...)

	seen := make(map[string]struct{}, len(combined))
	merged := combined[:0]
	for _, record := range combined {
		if _, ok := seen[record.key()]; ok {
			continue
		}
		seen[record.key()] = struct{}{}
		merged = append(merged, record)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].key() < merged[j].key()
	})
	return merged
}
