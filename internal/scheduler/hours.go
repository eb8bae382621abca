package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TradingWindow is a daily open/close interval on weekdays, evaluated in a
// fixed location.
type TradingWindow struct {
	openMinute  int
	closeMinute int
	loc         *time.Location
}

// NewTradingWindow parses "HH:MM" clock strings. Close must be after open.
func NewTradingWindow(open, close string, loc *time.Location) (TradingWindow, error) {
	if loc == nil {
		loc = time.Local
	}
	om, err := parseClock(open)
	if err != nil {
		return TradingWindow{}, err
	}
	cm, err := parseClock(close)
	if err != nil {
		return TradingWindow{}, err
	}
	if cm <= om {
		return TradingWindow{}, fmt.Errorf("close %q is not after open %q", close, open)
	}
	return TradingWindow{openMinute: om, closeMinute: cm, loc: loc}, nil
}

// KRXWindow is the regular Korea Exchange session, 09:00-15:30 KST.
func KRXWindow() TradingWindow {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		loc = time.FixedZone("KST", 9*60*60)
	}
	w, _ := NewTradingWindow("09:00", "15:30", loc)
	return w
}

// Contains reports whether t falls inside the window on a weekday.
func (w TradingWindow) Contains(t time.Time) bool {
	if w.loc == nil {
		return false
	}
	local := t.In(w.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= w.openMinute && minute <= w.closeMinute
}

// NextOpen returns the next instant the window opens at or after t.
func (w TradingWindow) NextOpen(t time.Time) time.Time {
	local := t.In(w.loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), w.openMinute/60, w.openMinute%60, 0, 0, w.loc)
	if !day.After(local) {
		day = day.AddDate(0, 0, 1)
	}
	for isWeekend(day) {
		day = day.AddDate(0, 0, 1)
	}
	return day
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func parseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("clock %q is not HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("clock %q has a bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock %q has a bad minute", s)
	}
	return h*60 + m, nil
}
