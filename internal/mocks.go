package internal

import (
	"sync"

	"github.com/alpacahq/barback/api"
	"github.com/alpacahq/barback/state"
)

// MockSymbolsManager is a no-op symbols manager.
type MockSymbolsManager struct {
	Symbols []string
}

// GetAllSymbols returns the static symbols.
func (msm MockSymbolsManager) GetAllSymbols() []string {
	return msm.Symbols
}

// MockAPIClient is a no-op API client.
type MockAPIClient struct{}

// GetBars returns an empty api response.
func (mac *MockAPIClient) GetBars(_ string, _ api.GetBarsParams) ([]api.Bar, error) {
	return []api.Bar{}, nil
}

// ListAssets returns an empty api response.
func (mac *MockAPIClient) ListAssets(_ string) ([]api.Asset, error) {
	return []api.Asset{}, nil
}

// GetAccount returns an empty account.
func (mac *MockAPIClient) GetAccount() (*api.Account, error) {
	return &api.Account{}, nil
}

// MockBarWriter records what was written and does nothing else.
type MockBarWriter struct {
	mu          sync.Mutex
	WrittenBars map[string][]api.Bar
	Err         error
}

// Write stores the bars in the struct, keyed by symbol.
func (m *MockBarWriter) Write(symbol string, bars []api.Bar) error {
	if m.Err != nil {
		return m.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.WrittenBars == nil {
		m.WrittenBars = map[string][]api.Bar{}
	}
	m.WrittenBars[symbol] = append(m.WrittenBars[symbol], bars...)
	return nil
}

// Bars returns the bars written for the symbol so far.
func (m *MockBarWriter) Bars(symbol string) []api.Bar {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.WrittenBars[symbol]
}

// MockProgressStore keeps the checkpoint rows in memory.
type MockProgressStore struct {
	Rows      []*state.SymbolProgress
	SaveCount int
	LoadErr   error
	SaveErr   error
}

// Load returns the in-memory rows.
func (m *MockProgressStore) Load() ([]*state.SymbolProgress, error) {
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.Rows, nil
}

// Save replaces the in-memory rows.
func (m *MockProgressStore) Save(rows []*state.SymbolProgress) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}

	m.Rows = rows
	m.SaveCount++
	return nil
}

// Find returns the row of the symbol, or nil when it is absent.
func (m *MockProgressStore) Find(symbol string) *state.SymbolProgress {
	for _, row := range m.Rows {
		if row.Symbol == symbol {
			return row
		}
	}
	return nil
}
