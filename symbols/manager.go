package symbols

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/gobwas/glob"
	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"

	"github.com/alpacahq/barback/api"
	"github.com/alpacahq/barback/state"
	"github.com/alpacahq/barback/utils/log"
)

// Manager manages the symbol universe to download. Symbols can be
// newly listed or delisted over time, so the universe should be
// refreshed periodically.
type Manager interface {
	GetAllSymbols() []string
}

// APIClient is the slice of the Alpaca client the manager consumes.
type APIClient interface {
	ListAssets(status string) ([]api.Asset, error)
}

// APIManager sources the universe from the assets endpoint, keeping
// active, tradable US equities that pass the configured exchange and
// symbol pattern filters.
type APIManager struct {
	APIClient APIClient
	// Key: exchange (e.g. "NYSE"). Empty means every exchange.
	TargetExchanges map[string]struct{}
	// Patterns are matched against the symbol. Empty means every symbol.
	Patterns []glob.Glob

	symbols []string
	assets  []api.Asset
}

// NewAPIManager initializes the symbol manager with the specified filters.
func NewAPIManager(apiClient APIClient, targetExchanges []string, patterns []glob.Glob) *APIManager {
	exchanges := make(map[string]struct{}, len(targetExchanges))
	for _, exchange := range targetExchanges {
		exchanges[exchange] = struct{}{}
	}

	return &APIManager{
		APIClient:       apiClient,
		TargetExchanges: exchanges,
		Patterns:        patterns,
		symbols:         []string{},
	}
}

// GetAllSymbols returns the symbols of the current universe.
func (m *APIManager) GetAllSymbols() []string {
	return m.symbols
}

// UpdateSymbols refreshes the universe from the assets endpoint.
func (m *APIManager) UpdateSymbols() {
	assets, err := m.APIClient.ListAssets(api.AssetStatusActive)

	// if the assets endpoint returns an error, don't update the universe
	if err != nil {
		log.Error("failed to list assets, keeping the previous %d symbols: %v", len(m.symbols), err)
		return
	}

	// symbols are normalized before filtering so that the patterns and
	// the checkpoint always see the same canonical spelling
	kept := []api.Asset{}
	for _, asset := range assets {
		asset.Symbol = state.NormalizeSymbol(asset.Symbol)
		if m.wants(asset) {
			kept = append(kept, asset)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Symbol < kept[j].Symbol })

	symbols := make([]string, 0, len(kept))
	for _, asset := range kept {
		symbols = append(symbols, asset.Symbol)
	}

	m.symbols, m.assets = symbols, kept
	log.Debug("updated the symbol universe, %d of %d assets kept", len(kept), len(assets))
}

func (m *APIManager) wants(asset api.Asset) bool {
	if asset.Class != api.AssetClassUSEquity || !asset.Tradable {
		return false
	}
	if len(m.TargetExchanges) > 0 {
		if _, found := m.TargetExchanges[asset.Exchange]; !found {
			return false
		}
	}
	if len(m.Patterns) == 0 {
		return true
	}
	for _, pattern := range m.Patterns {
		if pattern.Match(asset.Symbol) {
			return true
		}
	}
	return false
}

// universeRow is one line of the universe snapshot CSV.
type universeRow struct {
	Symbol   string `csv:"symbol"`
	Name     string `csv:"name"`
	Exchange string `csv:"exchange"`
	Class    string `csv:"class"`
}

// WriteSnapshot dumps the current universe to a CSV file, replacing it
// atomically, so that the universe of a run can be inspected later.
func (m *APIManager) WriteSnapshot(path string) error {
	rows := make([]*universeRow, 0, len(m.assets))
	for _, asset := range m.assets {
		rows = append(rows, &universeRow{
			Symbol:   asset.Symbol,
			Name:     asset.Name,
			Exchange: asset.Exchange,
			Class:    asset.Class,
		})
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return errors.Wrapf(err, "failed to create the snapshot directory %s", dir)
		}
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "failed to create the temporary snapshot file %s", tmp)
	}
	if err := gocsv.MarshalFile(&rows, f); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to write the universe snapshot %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to close the temporary snapshot file %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "failed to replace the snapshot file %s", path)
	}

	return nil
}

// StaticManager serves a fixed symbol list taken from the
// configuration, bypassing the assets endpoint entirely.
type StaticManager struct {
	symbols []string
}

// NewStaticManager normalizes and sorts the given symbols, dropping
// blanks and duplicates.
func NewStaticManager(symbols []string) *StaticManager {
	seen := make(map[string]struct{}, len(symbols))
	normalized := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		symbol = state.NormalizeSymbol(symbol)
		if symbol == "" {
			continue
		}
		if _, found := seen[symbol]; found {
			continue
		}
		seen[symbol] = struct{}{}
		normalized = append(normalized, symbol)
	}
	sort.Strings(normalized)

	return &StaticManager{symbols: normalized}
}

// GetAllSymbols returns the configured symbols.
func (m *StaticManager) GetAllSymbols() []string {
	return m.symbols
}
