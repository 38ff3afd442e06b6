// This file implements the Strategy Pattern for payout cycle windows.
// Each cycle type (daily, weekly, monthly) maps a wall-clock instant to the
// key of the window it falls in; a child is paid at most once per key.

package services

import (
	"fmt"
	"time"
)

// Cycle names a payout window length.
type Cycle string

const (
	CycleDaily   Cycle = "daily"
	CycleWeekly  Cycle = "weekly"
	CycleMonthly Cycle = "monthly"
)

// CycleWindow is the strategy interface for payout deduplication windows.
type CycleWindow interface {
	// Key identifies the window containing now. Two instants in the same
	// window must produce the same key.
	Key(now time.Time) string
	// Label is the human name used in transaction descriptions.
	Label() string
}

// DailyWindow keys by calendar day.
type DailyWindow struct{}

func (DailyWindow) Key(now time.Time) string {
	return now.Format("2006-01-02")
}

func (DailyWindow) Label() string { return "Daily" }

// WeeklyWindow keys by ISO week, e.g. 2026-W43.
type WeeklyWindow struct{}

func (WeeklyWindow) Key(now time.Time) string {
	year, week := now.ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func (WeeklyWindow) Label() string { return "Weekly" }

// MonthlyWindow keys by calendar month.
type MonthlyWindow struct{}

func (MonthlyWindow) Key(now time.Time) string {
	return now.Format("2006-01")
}

func (MonthlyWindow) Label() string { return "Monthly" }

var cycleWindows = map[Cycle]CycleWindow{
	CycleDaily:   DailyWindow{},
	CycleWeekly:  WeeklyWindow{},
	CycleMonthly: MonthlyWindow{},
}

// GetCycleWindow returns the window strategy for a cycle type.
func GetCycleWindow(cycle Cycle) (CycleWindow, error) {
	w, ok := cycleWindows[cycle]
	if !ok {
		return nil, fmt.Errorf("unknown payout cycle: %s", cycle)
	}
	return w, nil
}
