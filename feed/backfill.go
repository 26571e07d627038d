package feed

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/alpacahq/barback/api"
	"github.com/alpacahq/barback/state"
	"github.com/alpacahq/barback/symbols"
	"github.com/alpacahq/barback/utils/log"
	"github.com/alpacahq/barback/worker"
	"github.com/alpacahq/barback/writer"
)

// endBuffer keeps the sweep away from the most recent day, where the
// provider may still be settling bars.
const endBuffer = 24 * time.Hour

// ProgressStore is the slice of the checkpoint store the orchestrator
// consumes.
type ProgressStore interface {
	Load() ([]*state.SymbolProgress, error)
	Save([]*state.SymbolProgress) error
}

// Backfill drives the backward sweep: chunk by chunk, pass by pass,
// until every universe symbol has reached its data horizon or spent
// its retry budget for this run. Progress survives interruption
// because the checkpoint is saved after every chunk.
type Backfill struct {
	symbolManager symbols.Manager
	fetcher       *RangeFetcher
	barWriter     writer.BarWriter
	store         ProgressStore
	retrier       *Retrier
	chunkSpan     time.Duration
	parallelism   int

	// mu serializes progress mutations and checkpoint saves across
	// the worker pool.
	mu       sync.Mutex
	progress []*state.SymbolProgress

	stopped int32
}

// NewBackfill initializes the module that downloads the historical
// minute chart data of every universe symbol, newest chunk first.
func NewBackfill(symbolManager symbols.Manager, fetcher *RangeFetcher, barWriter writer.BarWriter,
	store ProgressStore, retrier *Retrier, chunkDays, parallelism int,
) *Backfill {
	if chunkDays < 1 {
		chunkDays = 1
	}
	if parallelism < 1 {
		parallelism = 1
	}

	return &Backfill{
		symbolManager: symbolManager,
		fetcher:       fetcher,
		barWriter:     barWriter,
		store:         store,
		retrier:       retrier,
		chunkSpan:     time.Duration(chunkDays) * 24 * time.Hour,
		parallelism:   parallelism,
	}
}

// RequestStop asks a running backfill to wind down at the next safe
// point. In-flight chunks finish and checkpoint normally.
func (b *Backfill) RequestStop() {
	if atomic.CompareAndSwapInt32(&b.stopped, 0, 1) {
		log.Warn("stop requested, finishing in-flight chunks")
	}
}

func (b *Backfill) stopRequested() bool {
	return atomic.LoadInt32(&b.stopped) == 1
}

// Run executes one download run: merge the current universe into the
// checkpoint, resolve missing data horizons, then sweep the incomplete
// symbols until none remain. Symbol-level failures skip the symbol for
// this run only; checkpoint write failures abort the whole run.
func (b *Backfill) Run() error {
	return b.run(time.Now().Truncate(time.Second))
}

func (b *Backfill) run(now time.Time) error {
	progress, err := b.store.Load()
	if err != nil {
		return err
	}
	progress = state.Merge(progress, b.symbolManager.GetAllSymbols())

	b.mu.Lock()
	b.progress = progress
	b.mu.Unlock()

	if err := b.store.Save(progress); err != nil {
		return err
	}
	if err := b.resolveHorizons(progress); err != nil {
		return err
	}

	active := incomplete(progress)
	if len(active) == 0 {
		log.Info("nothing to do: all %d symbols are complete", len(progress))
		return nil
	}

	limit := now.Add(-endBuffer)
	log.Info("backfilling %d of %d symbols, sweeping back from %v", len(active), len(progress), limit)

	pool := worker.NewWorkerPool(b.parallelism)
	defer pool.CloseAndWait()

	for pass := 1; len(active) > 0 && !b.stopRequested(); pass++ {
		log.Info("pass %d: %d symbols remaining", pass, len(active))

		results := make([]passResult, len(active))
		var wg sync.WaitGroup
		for i, p := range active {
			i, p := i, p
			wg.Add(1)
			pool.Do(func() {
				defer wg.Done()
				if b.stopRequested() {
					results[i] = passResult{keep: true}
					return
				}
				keep, err := b.processChunk(p, limit)
				results[i] = passResult{keep: keep, err: err}
			})
		}
		wg.Wait()

		next := active[:0]
		for i, res := range results {
			if res.err != nil {
				return res.err
			}
			if res.keep {
				next = append(next, active[i])
			}
		}
		active = next
	}

	if b.stopRequested() {
		log.Warn("stopped with %d symbols incomplete, the next run picks up from the checkpoint", len(active))
		return nil
	}

	log.Info("backfill finished: every symbol is complete")
	return nil
}

type passResult struct {
	keep bool
	err  error
}

// processChunk advances one symbol by at most one chunk. The returned
// keep reports whether the symbol needs further passes; a non-nil
// error aborts the whole run.
func (b *Backfill) processChunk(p *state.SymbolProgress, limit time.Time) (bool, error) {
	end := limit
	if !p.Frontier.IsZero() {
		end = p.Frontier.Time
	}

	start := end.Add(-b.chunkSpan)
	if !p.Horizon.IsZero() && start.Before(p.Horizon.Time) {
		start = p.Horizon.Time
	}

	if !p.Horizon.IsZero() && !start.Before(end) {
		log.Info("%s: reached the provider's data horizon, marking complete", p.Symbol)
		return false, b.commit(func() { p.Complete = true })
	}

	log.Info("%s: fetching bars from %v to %v", p.Symbol, start, end)

	var bars []api.Bar
	fetchErr := b.retrier.Do(func() error {
		var err error
		bars, err = b.fetcher.Fetch(p.Symbol, start, end)
		return err
	})
	if fetchErr != nil {
		// Partial results of a failed window are discarded: the
		// frontier only moves once the whole window is stored.
		var exhausted *ExhaustedError
		if errors.As(fetchErr, &exhausted) {
			log.Warn("%s: out of retries, skipping until the next run: %v", p.Symbol, fetchErr)
		} else {
			log.Error("%s: request rejected, skipping until the next run: %v", p.Symbol, fetchErr)
		}
		return false, nil
	}

	if len(bars) == 0 {
		log.Info("%s: no bars before %v, marking complete", p.Symbol, end)
		return false, b.commit(func() { p.Complete = true })
	}

	if err := b.barWriter.Write(p.Symbol, bars); err != nil {
		return false, errors.Wrapf(err, "failed to persist bars for %s", p.Symbol)
	}

	log.Info("%s: stored %d bars, new frontier %v", p.Symbol, len(bars), start)
	return true, b.commit(func() { p.Frontier = state.NewDateTime(start) })
}

// resolveHorizons fills in the unknown data horizons of incomplete
// symbols. A failed probe leaves the horizon unknown so that the next
// run retries it; the sweep itself proceeds without one.
func (b *Backfill) resolveHorizons(progress []*state.SymbolProgress) error {
	resolved := 0
	for _, p := range progress {
		if b.stopRequested() {
			break
		}
		if p.Complete || !p.Horizon.IsZero() {
			continue
		}

		horizon, err := b.fetcher.ResolveHorizon(p.Symbol)
		if err != nil {
			log.Warn("%s: failed to resolve the data horizon: %v", p.Symbol, err)
			continue
		}
		if horizon.IsZero() {
			log.Warn("%s: the provider reports no daily bars at all", p.Symbol)
			continue
		}

		log.Debug("%s: data horizon %v", p.Symbol, horizon)
		p.Horizon = state.NewDateTime(horizon)
		resolved++
	}

	if resolved == 0 {
		return nil
	}
	log.Info("resolved the data horizon of %d symbols", resolved)
	return b.store.Save(progress)
}

func (b *Backfill) commit(mutate func()) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	mutate()
	return b.store.Save(b.progress)
}

func incomplete(progress []*state.SymbolProgress) []*state.SymbolProgress {
	out := make([]*state.SymbolProgress, 0, len(progress))
	for _, p := range progress {
		if !p.Complete {
			out = append(out, p)
		}
	}
	return out
}
