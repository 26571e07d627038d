package writer_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/barback/api"
	"github.com/alpacahq/barback/writer"
)

var newYork, _ = time.LoadLocation("America/New_York")

func testBar(ts time.Time, open float64, volume uint64) api.Bar {
	return api.Bar{
		Timestamp:  ts,
		Open:       open,
		High:       open + 1,
		Low:        open - 1,
		Close:      open + 0.5,
		Volume:     volume,
		TradeCount: 42,
		VWAP:       open + 0.25,
	}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestCSVWriter_Write_CreatesFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := writer.NewCSVWriter(dir, newYork)

	// 13:30 UTC during EDT is 09:30 in New York, and 00:30 UTC lands on
	// the previous New York day
	bars := []api.Bar{
		testBar(time.Date(2021, 6, 2, 0, 30, 0, 0, time.UTC), 101.5, 1100),
		testBar(time.Date(2021, 6, 1, 13, 30, 0, 0, time.UTC), 100.5, 1000),
	}

	require.NoError(t, w.Write("AAPL", bars))

	want := "date,time,open,high,low,close,volume,trade_count,vwap\n" +
		"2021-06-01,09:30:00,100.5,101.5,99.5,101,1000,42,100.75\n" +
		"2021-06-01,20:30:00,101.5,102.5,100.5,102,1100,42,101.75\n"
	assert.Equal(t, want, readFile(t, filepath.Join(dir, "AAPL.csv")))

	_, err := os.Stat(filepath.Join(dir, "AAPL.csv.tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestCSVWriter_Write_MergeKeepsExistingRows(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := writer.NewCSVWriter(dir, newYork)

	ts := time.Date(2021, 6, 1, 13, 30, 0, 0, time.UTC)
	require.NoError(t, w.Write("AAPL", []api.Bar{testBar(ts, 100.5, 1000)}))

	// refetch the same minute with a different price plus one new minute
	refetched := []api.Bar{
		testBar(ts, 999, 9),
		testBar(ts.Add(time.Minute), 100.75, 1200),
	}
	require.NoError(t, w.Write("AAPL", refetched))

	want := "date,time,open,high,low,close,volume,trade_count,vwap\n" +
		"2021-06-01,09:30:00,100.5,101.5,99.5,101,1000,42,100.75\n" +
		"2021-06-01,09:31:00,100.75,101.75,99.75,101.25,1200,42,101\n"
	assert.Equal(t, want, readFile(t, filepath.Join(dir, "AAPL.csv")))
}

func TestCSVWriter_Write_Idempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := writer.NewCSVWriter(dir, newYork)

	bars := []api.Bar{
		testBar(time.Date(2021, 6, 1, 13, 30, 0, 0, time.UTC), 100.5, 1000),
		testBar(time.Date(2021, 6, 1, 13, 31, 0, 0, time.UTC), 100.6, 1200),
	}

	require.NoError(t, w.Write("AAPL", bars))
	first := readFile(t, filepath.Join(dir, "AAPL.csv"))

	require.NoError(t, w.Write("AAPL", bars))
	second := readFile(t, filepath.Join(dir, "AAPL.csv"))

	assert.Equal(t, first, second)
}

func TestCSVWriter_Write_SortsAcrossWrites(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := writer.NewCSVWriter(dir, newYork)

	later := time.Date(2021, 6, 3, 13, 30, 0, 0, time.UTC)
	earlier := time.Date(2021, 6, 1, 13, 30, 0, 0, time.UTC)

	// the downloader walks backward, so newer chunks land first
	require.NoError(t, w.Write("AAPL", []api.Bar{testBar(later, 102, 1)}))
	require.NoError(t, w.Write("AAPL", []api.Bar{testBar(earlier, 100, 1)}))

	content := readFile(t, filepath.Join(dir, "AAPL.csv"))
	lines := []string{
		"date,time,open,high,low,close,volume,trade_count,vwap",
		"2021-06-01,09:30:00,100,101,99,100.5,1,42,100.25",
		"2021-06-03,09:30:00,102,103,101,102.5,1,42,102.25",
	}
	assert.Equal(t, lines[0]+"\n"+lines[1]+"\n"+lines[2]+"\n", content)
}

func TestCSVWriter_Write_EmptyInputIsNoop(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	w := writer.NewCSVWriter(dir, newYork)

	require.NoError(t, w.Write("AAPL", nil))

	_, err := os.Stat(filepath.Join(dir, "AAPL.csv"))
	assert.True(t, os.IsNotExist(err))
}
