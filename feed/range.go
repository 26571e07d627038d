package feed

import (
	"sort"
	"time"

	"github.com/alpacahq/barback/api"
	"github.com/alpacahq/barback/utils/log"
)

// maxSubWindowDays caps the span of a single bars request. Wider
// windows are split into consecutive requests of at most this many
// days each.
const maxSubWindowDays = 30

// horizonProbeStart is the start bound used when asking the provider
// for the earliest bar it has for a symbol.
var horizonProbeStart = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// GetBarsAPIClient is the slice of the API client the feed consumes.
type GetBarsAPIClient interface {
	GetBars(symbol string, params api.GetBarsParams) ([]api.Bar, error)
}

// RangeFetcher retrieves the minute bars of one symbol over an
// absolute time window, splitting the window into provider-sized
// sub-windows and reconciling the pages into one ordered series.
type RangeFetcher struct {
	apiClient GetBarsAPIClient
	timezone  *time.Location
}

func NewRangeFetcher(apiClient GetBarsAPIClient, timezone *time.Location) *RangeFetcher {
	return &RangeFetcher{apiClient: apiClient, timezone: timezone}
}

// Fetch returns the minute bars in [start, end), sorted by timestamp
// with duplicate timestamps dropped keeping the first occurrence.
// When a sub-window request fails, Fetch stops and returns what was
// collected so far together with the error; the caller decides
// whether to retry the whole window.
func (f *RangeFetcher) Fetch(symbol string, start, end time.Time) ([]api.Bar, error) {
	var all []api.Bar

	for window := range dateWindows(start, end, maxSubWindowDays) {
		log.Debug("%s: requesting bars from %v to %v", symbol, window.From, window.To)

		bars, err := f.apiClient.GetBars(symbol, api.GetBarsParams{
			TimeFrame:  api.OneMin,
			Adjustment: api.Split,
			Start:      window.From,
			End:        window.To,
			PageLimit:  api.V2MaxLimit,
			Sort:       api.SortAsc,
		})
		if err != nil {
			return sortAndDedupe(all), err
		}

		all = append(all, bars...)
	}

	return sortAndDedupe(all), nil
}

// ResolveHorizon asks the provider for the earliest bar it can ever
// return for the symbol and reports that bar's day (midnight in the
// fetcher's timezone). The zero time means the horizon stays unknown.
func (f *RangeFetcher) ResolveHorizon(symbol string) (time.Time, error) {
	bars, err := f.apiClient.GetBars(symbol, api.GetBarsParams{
		TimeFrame:  api.OneDay,
		Adjustment: api.Raw,
		Start:      horizonProbeStart,
		Sort:       api.SortAsc,
		TotalLimit: 1,
	})
	if err != nil {
		return time.Time{}, err
	}
	if len(bars) == 0 {
		return time.Time{}, nil
	}

	ts := bars[0].Timestamp.In(f.timezone)
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, f.timezone), nil
}

type dateRange struct {
	From, To time.Time
}

// dateWindows returns a channel of consecutive [From, To) windows
// covering [start, end), each spanning at most pageDays days. The
// windows share their boundary instants; the resulting duplicate bars
// are dropped during reconciliation.
func dateWindows(start, end time.Time, pageDays int) <-chan dateRange {
	ch := make(chan dateRange)

	go func() {
		defer close(ch)

		span := time.Duration(pageDays) * 24 * time.Hour
		for i := start; i.Before(end); {
			windowEnd := i.Add(span)
			if windowEnd.After(end) {
				windowEnd = end
			}
			ch <- dateRange{From: i, To: windowEnd}
			i = windowEnd
		}
	}()

	return ch
}

// sortAndDedupe orders bars by timestamp and removes duplicate
// timestamps keeping the first occurrence.
func sortAndDedupe(bars []api.Bar) []api.Bar {
	if len(bars) == 0 {
		return bars
	}

	sort.SliceStable(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})

	out := bars[:1]
	for _, bar := range bars[1:] {
		if bar.Timestamp.Equal(out[len(out)-1].Timestamp) {
			continue
		}
		out = append(out, bar)
	}
	return out
}
