// Package indexfile loads target allocations and stock lists from data
// files. Indexes come either as CSV (one "ticker,weight" per line, the file
// stem naming the index, with an optional _YYYY_qN suffix dating the
// weights) or as JSON documents with an explicit as_of date.
package indexfile

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/rebalancer/internal/domain"
)

var quarterSuffix = regexp.MustCompile(`_([0-9]{4})_q([1-4])$`)

// parseStem splits an index file stem into its name and the source date
// encoded in the quarter suffix. A stem without a suffix dates the index
// today.
func parseStem(stem string) (string, time.Time) {
	m := quarterSuffix.FindStringSubmatch(stem)
	if m == nil {
		now := time.Now().UTC()
		return stem, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	var year, quarter int
	fmt.Sscanf(m[1], "%d", &year)
	fmt.Sscanf(m[2], "%d", &quarter)
	month := time.Month((quarter-1)*3 + 1)
	return strings.TrimSuffix(stem, m[0]), time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// LoadCSV reads a ticker,weight index file into an ideal portfolio. The
// portfolio is returned as authored; callers normalise when they need
// weights summing to one.
func LoadCSV(path string) (*domain.IdealPortfolio, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open index file: %w", err)
	}
	defer f.Close()

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	_, sourceDate := parseStem(stem)

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 2
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse index file %s: %w", path, err)
	}

	holdings := make([]*domain.IdealPortfolioElement, 0, len(records))
	for _, record := range records {
		ticker := strings.TrimSpace(record[0])
		if ticker == "" {
			continue
		}
		weight, err := decimal.NewFromString(strings.TrimSpace(record[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid weight for %s in %s: %w", ticker, path, err)
		}
		holdings = append(holdings, &domain.IdealPortfolioElement{Ticker: ticker, Weight: weight})
	}
	return &domain.IdealPortfolio{Holdings: holdings, SourceDate: sourceDate}, nil
}

type jsonComponent struct {
	Ticker string          `json:"ticker"`
	Weight decimal.Decimal `json:"weight"`
}

type jsonIndex struct {
	Name       string          `json:"name"`
	AsOf       string          `json:"as_of"`
	Components []jsonComponent `json:"components"`
}

// LoadJSON reads a JSON index document into an ideal portfolio.
func LoadJSON(path string) (*domain.IdealPortfolio, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}
	var doc jsonIndex
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse index file %s: %w", path, err)
	}
	sourceDate, err := time.Parse("2006-01-02", doc.AsOf)
	if err != nil {
		return nil, fmt.Errorf("invalid as_of date in %s: %w", path, err)
	}
	holdings := make([]*domain.IdealPortfolioElement, 0, len(doc.Components))
	for _, c := range doc.Components {
		holdings = append(holdings, &domain.IdealPortfolioElement{Ticker: c.Ticker, Weight: c.Weight})
	}
	return &domain.IdealPortfolio{Holdings: holdings, SourceDate: sourceDate}, nil
}

// LoadStockList reads a plain one-ticker-per-line file.
func LoadStockList(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stock list: %w", err)
	}
	var tickers []string
	for _, line := range strings.Split(string(raw), "\n") {
		ticker := strings.TrimSpace(line)
		if ticker != "" {
			tickers = append(tickers, ticker)
		}
	}
	return tickers, nil
}

// Inventory indexes the data files of a directory by stem and loads them
// lazily, caching the result.
type Inventory struct {
	dir    string
	files  map[string]string
	loaded map[string]*domain.IdealPortfolio
}

// NewInventory scans a directory for .csv and .json index files.
func NewInventory(dir string) (*Inventory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan index dir: %w", err)
	}
	inv := &Inventory{
		dir:    dir,
		files:  make(map[string]string),
		loaded: make(map[string]*domain.IdealPortfolio),
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".csv" && ext != ".json" {
			continue
		}
		stem := strings.TrimSuffix(entry.Name(), ext)
		name, _ := parseStem(stem)
		inv.files[name] = filepath.Join(dir, entry.Name())
	}
	return inv, nil
}

// Keys lists the available index names.
func (inv *Inventory) Keys() []string {
	keys := make([]string, 0, len(inv.files))
	for k := range inv.files {
		keys = append(keys, k)
	}
	return keys
}

// Get loads an index by name, caching the parsed portfolio.
func (inv *Inventory) Get(name string) (*domain.IdealPortfolio, error) {
	if cached, ok := inv.loaded[name]; ok {
		return cached, nil
	}
	path, ok := inv.files[name]
	if !ok {
		return nil, fmt.Errorf("unknown index %q", name)
	}
	var (
		portfolio *domain.IdealPortfolio
		err       error
	)
	if filepath.Ext(path) == ".json" {
		portfolio, err = LoadJSON(path)
	} else {
		portfolio, err = LoadCSV(path)
	}
	if err != nil {
		return nil, err
	}
	inv.loaded[name] = portfolio
	return portfolio, nil
}
