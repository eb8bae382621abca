package market

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CSVProvider serves daily bars from per-symbol CSV files laid out as
// <dir>/<SYMBOL>.csv with a Date,Open,High,Low,Close,Volume header. Files
// are parsed once and cached.
type CSVProvider struct {
	dir string

	mu    sync.Mutex
	cache map[string]Series
}

func NewCSVProvider(dir string) *CSVProvider {
	return &CSVProvider{dir: dir, cache: make(map[string]Series)}
}

func (p *CSVProvider) PriceHistory(_ context.Context, symbol string, start, end time.Time) (Series, error) {
	series, err := p.load(symbol)
	if err != nil {
		return nil, err
	}
	out := make(Series, 0, len(series))
	for _, bar := range series {
		if !start.IsZero() && bar.Date.Before(start) {
			continue
		}
		if !end.IsZero() && bar.Date.After(end) {
			continue
		}
		out = append(out, bar)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no bars for %s in requested range", symbol)
	}
	return out, nil
}

func (p *CSVProvider) LatestBar(_ context.Context, symbol string) (Bar, error) {
	series, err := p.load(symbol)
	if err != nil {
		return Bar{}, err
	}
	return series[len(series)-1], nil
}

func (p *CSVProvider) load(symbol string) (Series, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("symbol is empty")
	}
	p.mu.Lock()
	cached, ok := p.cache[symbol]
	p.mu.Unlock()
	if ok {
		return cached, nil
	}

	path := filepath.Join(p.dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open price file for %s: %w", symbol, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s has no data rows", path)
	}

	series := make(Series, 0, len(records)-1)
	for i, row := range records[1:] {
		bar, err := parseBarRow(row)
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", path, i+2, err)
		}
		series = append(series, bar)
	}
	series, err = series.Normalize()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	p.mu.Lock()
	p.cache[symbol] = series
	p.mu.Unlock()
	return series, nil
}

func parseBarRow(row []string) (Bar, error) {
	if len(row) < 6 {
		return Bar{}, fmt.Errorf("expected 6 columns, got %d", len(row))
	}
	date, err := time.Parse("2006-01-02", strings.TrimSpace(row[0]))
	if err != nil {
		return Bar{}, fmt.Errorf("bad date %q", row[0])
	}
	vals := make([]float64, 5)
	for i := 0; i < 5; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i+1]), 64)
		if err != nil {
			return Bar{}, fmt.Errorf("bad number %q", row[i+1])
		}
		vals[i] = v
	}
	bar := Bar{Date: date, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}
	if !bar.Valid() {
		return Bar{}, fmt.Errorf("invalid OHLCV on %s", date.Format("2006-01-02"))
	}
	return bar, nil
}
