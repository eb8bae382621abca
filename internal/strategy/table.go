package strategy

import (
	"fmt"
	"sort"
	"time"
)

// IndicatorTable holds named numeric columns aligned to a shared date index.
type IndicatorTable struct {
	dates []time.Time
	cols  map[string][]float64
}

func NewIndicatorTable(dates []time.Time) *IndicatorTable {
	idx := make([]time.Time, len(dates))
	copy(idx, dates)
	return &IndicatorTable{dates: idx, cols: make(map[string][]float64)}
}

// Set adds or replaces a column. The column must match the index length.
func (t *IndicatorTable) Set(name string, values []float64) error {
	if len(values) != len(t.dates) {
		return fmt.Errorf("column %s length %d does not match index length %d", name, len(values), len(t.dates))
	}
	col := make([]float64, len(values))
	copy(col, values)
	t.cols[name] = col
	return nil
}

// Column returns the named column, or false when absent.
func (t *IndicatorTable) Column(name string) ([]float64, bool) {
	col, ok := t.cols[name]
	return col, ok
}

// Names returns the column names, sorted.
func (t *IndicatorTable) Names() []string {
	names := make([]string, 0, len(t.cols))
	for name := range t.cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *IndicatorTable) Len() int { return len(t.dates) }

// Dates returns the shared date index.
func (t *IndicatorTable) Dates() []time.Time { return t.dates }

// EventTable maps event names to the dates on which they are flagged.
type EventTable struct {
	events map[string][]time.Time
}

func NewEventTable() *EventTable {
	return &EventTable{events: make(map[string][]time.Time)}
}

// Flag marks an event occurrence on the given date.
func (e *EventTable) Flag(name string, date time.Time) {
	e.events[name] = append(e.events[name], date)
}

// Occurrences returns the flagged dates for an event name.
func (e *EventTable) Occurrences(name string) []time.Time {
	if e == nil {
		return nil
	}
	return e.events[name]
}

// Names returns the known event names, sorted.
func (e *EventTable) Names() []string {
	if e == nil {
		return nil
	}
	names := make([]string, 0, len(e.events))
	for name := range e.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
