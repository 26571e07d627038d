package feed_test

import (
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alpacahq/barback/api"
	"github.com/alpacahq/barback/feed"
	"github.com/alpacahq/barback/internal"
	"github.com/alpacahq/barback/state"
)

type barsCall struct {
	symbol string
	params api.GetBarsParams
}

// scriptedAPIClient serves canned bar series, filtered by the
// requested window, and records every request it saw.
type scriptedAPIClient struct {
	internal.MockAPIClient

	mu         sync.Mutex
	dailyBars  map[string][]api.Bar
	dailyErrs  map[string]error
	minuteBars map[string][]api.Bar
	minuteErrs map[string]error
	calls      []barsCall
}

func (c *scriptedAPIClient) GetBars(symbol string, params api.GetBarsParams) ([]api.Bar, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, barsCall{symbol: symbol, params: params})

	if params.TimeFrame == api.OneDay {
		if err := c.dailyErrs[symbol]; err != nil {
			return nil, err
		}
		bars := c.dailyBars[symbol]
		if params.TotalLimit > 0 && len(bars) > params.TotalLimit {
			bars = bars[:params.TotalLimit]
		}
		return bars, nil
	}

	if err := c.minuteErrs[symbol]; err != nil {
		return nil, err
	}

	window := []api.Bar{}
	for _, bar := range c.minuteBars[symbol] {
		if !bar.Timestamp.Before(params.Start) && bar.Timestamp.Before(params.End) {
			window = append(window, bar)
		}
	}
	return window, nil
}

func (c *scriptedAPIClient) callCount(symbol string, tf api.TimeFrame) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, call := range c.calls {
		if call.symbol == symbol && call.params.TimeFrame == tf {
			n++
		}
	}
	return n
}

func (c *scriptedAPIClient) windows(symbol string) []api.GetBarsParams {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := []api.GetBarsParams{}
	for _, call := range c.calls {
		if call.symbol == symbol && call.params.TimeFrame == api.OneMin {
			out = append(out, call.params)
		}
	}
	return out
}

func minuteBar(ts time.Time, volume uint64) api.Bar {
	return api.Bar{Timestamp: ts, Volume: volume}
}

// dailySpaced returns count bars spaced one day apart starting at first.
func dailySpaced(first time.Time, count int) []api.Bar {
	bars := make([]api.Bar, 0, count)
	for i := 0; i < count; i++ {
		bars = append(bars, minuteBar(first.Add(time.Duration(i)*24*time.Hour), uint64(i+1)))
	}
	return bars
}

func newYork(t *testing.T) *time.Location {
	t.Helper()

	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	return loc
}

func newBackfill(t *testing.T, symbols []string, client *scriptedAPIClient,
	barWriter *internal.MockBarWriter, store *internal.MockProgressStore, parallelism int,
) *feed.Backfill {
	t.Helper()

	return feed.NewBackfill(
		internal.MockSymbolsManager{Symbols: symbols},
		feed.NewRangeFetcher(client, newYork(t)),
		barWriter,
		store,
		feed.NewRetrier(2, time.Millisecond),
		90,
		parallelism,
	)
}

func TestBackfill_Run_DownloadsToTheHorizon(t *testing.T) {
	t.Parallel()

	// --- given ---
	now := time.Now()
	oldest := now.Add(-100 * 24 * time.Hour)
	client := &scriptedAPIClient{
		dailyBars:  map[string][]api.Bar{"AAPL": {minuteBar(oldest, 1)}},
		minuteBars: map[string][]api.Bar{"AAPL": dailySpaced(now.Add(-99*24*time.Hour), 90)},
	}
	barWriter := &internal.MockBarWriter{}
	store := &internal.MockProgressStore{}
	SUT := newBackfill(t, []string{"AAPL"}, client, barWriter, store, 1)

	// --- when ---
	err := SUT.Run()

	// --- then ---
	require.NoError(t, err)

	row := store.Find("AAPL")
	require.NotNil(t, row)
	assert.True(t, row.Complete)

	ny := newYork(t)
	y, m, d := oldest.In(ny).Date()
	wantHorizon := time.Date(y, m, d, 0, 0, 0, 0, ny)
	assert.True(t, row.Horizon.Equal(wantHorizon))
	// the frontier ends up exactly on the horizon
	assert.True(t, row.Frontier.Equal(wantHorizon))

	assert.Len(t, barWriter.Bars("AAPL"), 90)

	// merge, horizon, two chunks, completion
	assert.Equal(t, 5, store.SaveCount)
}

func TestBackfill_Run_NoBarsMarksComplete(t *testing.T) {
	t.Parallel()

	// --- given ---
	client := &scriptedAPIClient{}
	barWriter := &internal.MockBarWriter{}
	store := &internal.MockProgressStore{}
	SUT := newBackfill(t, []string{"NEWIPO"}, client, barWriter, store, 1)

	// --- when ---
	err := SUT.Run()

	// --- then ---
	require.NoError(t, err)

	row := store.Find("NEWIPO")
	require.NotNil(t, row)
	assert.True(t, row.Complete)
	assert.True(t, row.Frontier.IsZero())
	assert.True(t, row.Horizon.IsZero())

	assert.Empty(t, barWriter.Bars("NEWIPO"))
	// one empty chunk of three sub-windows is enough to conclude
	assert.Equal(t, 3, client.callCount("NEWIPO", api.OneMin))
}

func TestBackfill_Run_ResumesFromTheFrontier(t *testing.T) {
	t.Parallel()

	// --- given ---
	now := time.Now().Truncate(time.Second)
	horizon := now.Add(-80 * 24 * time.Hour)
	frontier := now.Add(-50 * 24 * time.Hour)

	client := &scriptedAPIClient{
		minuteBars: map[string][]api.Bar{"AAPL": dailySpaced(horizon.Add(time.Hour), 20)},
	}
	barWriter := &internal.MockBarWriter{}
	store := &internal.MockProgressStore{
		Rows: []*state.SymbolProgress{{
			Symbol:   "AAPL",
			Frontier: state.NewDateTime(frontier),
			Horizon:  state.NewDateTime(horizon),
		}},
	}
	SUT := newBackfill(t, []string{"AAPL"}, client, barWriter, store, 1)

	// --- when ---
	err := SUT.Run()

	// --- then ---
	require.NoError(t, err)

	// the known horizon is never probed again
	assert.Equal(t, 0, client.callCount("AAPL", api.OneDay))

	// the remaining window [horizon, frontier) is fetched in one go
	windows := client.windows("AAPL")
	require.Len(t, windows, 1)
	assert.True(t, windows[0].Start.Equal(horizon))
	assert.True(t, windows[0].End.Equal(frontier))

	row := store.Find("AAPL")
	require.NotNil(t, row)
	assert.True(t, row.Complete)
	assert.True(t, row.Frontier.Equal(horizon))
	assert.Len(t, barWriter.Bars("AAPL"), 20)
}

func TestBackfill_Run_SkipsSymbolWhenRetriesAreExhausted(t *testing.T) {
	t.Parallel()

	// --- given ---
	now := time.Now()
	oldest := now.Add(-100 * 24 * time.Hour)
	client := &scriptedAPIClient{
		dailyBars: map[string][]api.Bar{
			"DOWN": {minuteBar(oldest, 1)},
			"UP":   {minuteBar(oldest, 1)},
		},
		minuteBars: map[string][]api.Bar{"UP": dailySpaced(now.Add(-99*24*time.Hour), 90)},
		minuteErrs: map[string]error{
			"DOWN": &api.APIError{StatusCode: http.StatusInternalServerError, Message: "server error"},
		},
	}
	barWriter := &internal.MockBarWriter{}
	store := &internal.MockProgressStore{}
	SUT := newBackfill(t, []string{"DOWN", "UP"}, client, barWriter, store, 1)

	// --- when ---
	err := SUT.Run()

	// --- then ---
	// a failing symbol never fails the run
	require.NoError(t, err)

	// two attempts, each failing on the first sub-window
	assert.Equal(t, 2, client.callCount("DOWN", api.OneMin))

	down := store.Find("DOWN")
	require.NotNil(t, down)
	assert.False(t, down.Complete)
	assert.True(t, down.Frontier.IsZero())
	assert.Empty(t, barWriter.Bars("DOWN"))

	up := store.Find("UP")
	require.NotNil(t, up)
	assert.True(t, up.Complete)
	assert.Len(t, barWriter.Bars("UP"), 90)
}

func TestBackfill_Run_FatalErrorSkipsWithoutRetry(t *testing.T) {
	t.Parallel()

	// --- given ---
	now := time.Now()
	client := &scriptedAPIClient{
		dailyBars: map[string][]api.Bar{"BAD": {minuteBar(now.Add(-100*24*time.Hour), 1)}},
		minuteErrs: map[string]error{
			"BAD": &api.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "invalid symbol"},
		},
	}
	barWriter := &internal.MockBarWriter{}
	store := &internal.MockProgressStore{}
	SUT := newBackfill(t, []string{"BAD"}, client, barWriter, store, 1)

	// --- when ---
	err := SUT.Run()

	// --- then ---
	require.NoError(t, err)
	assert.Equal(t, 1, client.callCount("BAD", api.OneMin))

	row := store.Find("BAD")
	require.NotNil(t, row)
	assert.False(t, row.Complete)
}

func TestBackfill_Run_KeepsUnlistedSymbolsInTheCheckpoint(t *testing.T) {
	t.Parallel()

	// --- given ---
	client := &scriptedAPIClient{}
	barWriter := &internal.MockBarWriter{}
	store := &internal.MockProgressStore{
		Rows: []*state.SymbolProgress{{Symbol: "DELISTED", Complete: true}},
	}
	SUT := newBackfill(t, []string{"AAPL"}, client, barWriter, store, 1)

	// --- when ---
	err := SUT.Run()

	// --- then ---
	require.NoError(t, err)

	// the delisted symbol survives the universe merge untouched
	require.Len(t, store.Rows, 2)
	delisted := store.Find("DELISTED")
	require.NotNil(t, delisted)
	assert.True(t, delisted.Complete)
	assert.Equal(t, 0, client.callCount("DELISTED", api.OneMin))

	fresh := store.Find("AAPL")
	require.NotNil(t, fresh)
	assert.True(t, fresh.Complete)
}

func TestBackfill_Run_SweepsWithoutAHorizon(t *testing.T) {
	t.Parallel()

	// --- given ---
	now := time.Now()
	client := &scriptedAPIClient{
		dailyErrs:  map[string]error{"AAPL": errors.New("probe failed")},
		minuteBars: map[string][]api.Bar{"AAPL": dailySpaced(now.Add(-12*24*time.Hour), 10)},
	}
	barWriter := &internal.MockBarWriter{}
	store := &internal.MockProgressStore{}
	SUT := newBackfill(t, []string{"AAPL"}, client, barWriter, store, 1)

	// --- when ---
	err := SUT.Run()

	// --- then ---
	require.NoError(t, err)

	// the sweep walks back chunk by chunk until the provider runs dry
	row := store.Find("AAPL")
	require.NotNil(t, row)
	assert.True(t, row.Complete)
	assert.True(t, row.Horizon.IsZero())
	assert.Len(t, barWriter.Bars("AAPL"), 10)
}

func TestBackfill_Run_WriterFailureAbortsTheRun(t *testing.T) {
	t.Parallel()

	// --- given ---
	now := time.Now()
	client := &scriptedAPIClient{
		dailyBars:  map[string][]api.Bar{"AAPL": {minuteBar(now.Add(-100*24*time.Hour), 1)}},
		minuteBars: map[string][]api.Bar{"AAPL": dailySpaced(now.Add(-99*24*time.Hour), 90)},
	}
	barWriter := &internal.MockBarWriter{Err: errors.New("disk full")}
	store := &internal.MockProgressStore{}
	SUT := newBackfill(t, []string{"AAPL"}, client, barWriter, store, 1)

	// --- when ---
	err := SUT.Run()

	// --- then ---
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// the frontier never moves past data that was not persisted
	row := store.Find("AAPL")
	require.NotNil(t, row)
	assert.False(t, row.Complete)
	assert.True(t, row.Frontier.IsZero())
}

func TestBackfill_Run_CheckpointFailureAbortsTheRun(t *testing.T) {
	t.Parallel()

	// --- given ---
	client := &scriptedAPIClient{}
	barWriter := &internal.MockBarWriter{}

	// --- when / then ---
	saveErr := errors.New("read-only filesystem")
	store := &internal.MockProgressStore{SaveErr: saveErr}
	SUT := newBackfill(t, []string{"AAPL"}, client, barWriter, store, 1)
	assert.Equal(t, saveErr, errors.Cause(SUT.Run()))

	loadErr := errors.New("corrupt checkpoint")
	store = &internal.MockProgressStore{LoadErr: loadErr}
	SUT = newBackfill(t, []string{"AAPL"}, client, barWriter, store, 1)
	assert.Equal(t, loadErr, errors.Cause(SUT.Run()))
}

func TestBackfill_Run_ParallelWorkers(t *testing.T) {
	t.Parallel()

	// --- given ---
	now := time.Now()
	oldest := now.Add(-20 * 24 * time.Hour)
	symbols := []string{"AAPL", "AMZN", "FB", "GE", "MSFT", "TSLA"}

	dailyBars := map[string][]api.Bar{}
	minuteBars := map[string][]api.Bar{}
	for _, symbol := range symbols {
		dailyBars[symbol] = []api.Bar{minuteBar(oldest, 1)}
		minuteBars[symbol] = dailySpaced(oldest.Add(time.Hour), 15)
	}

	client := &scriptedAPIClient{dailyBars: dailyBars, minuteBars: minuteBars}
	barWriter := &internal.MockBarWriter{}
	store := &internal.MockProgressStore{}
	SUT := newBackfill(t, symbols, client, barWriter, store, 4)

	// --- when ---
	err := SUT.Run()

	// --- then ---
	require.NoError(t, err)

	for _, symbol := range symbols {
		row := store.Find(symbol)
		require.NotNil(t, row, symbol)
		assert.True(t, row.Complete, symbol)
		assert.Len(t, barWriter.Bars(symbol), 15, symbol)
	}
}

func TestBackfill_RequestStop_StopsTheSweep(t *testing.T) {
	t.Parallel()

	// --- given ---
	now := time.Now()
	client := &scriptedAPIClient{
		minuteBars: map[string][]api.Bar{"AAPL": dailySpaced(now.Add(-12*24*time.Hour), 10)},
	}
	barWriter := &internal.MockBarWriter{}
	store := &internal.MockProgressStore{}
	SUT := newBackfill(t, []string{"AAPL"}, client, barWriter, store, 1)

	// --- when ---
	SUT.RequestStop()
	err := SUT.Run()

	// --- then ---
	require.NoError(t, err)

	// nothing was fetched, the checkpoint still lists the symbol
	assert.Equal(t, 0, client.callCount("AAPL", api.OneMin))
	row := store.Find("AAPL")
	require.NotNil(t, row)
	assert.False(t, row.Complete)
}
