// Package slots allocates contiguous 15-minute slots on a work team's day
// and manages the resulting booking holds.
package slots

import (
	"fmt"

	"fieldops/dispatch-service/internal/model"
)

const (
	SlotsPerDay = 96
	SlotMinutes = 15
)

// Range is an inclusive slot range [Start, End].
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r Range) Len() int { return r.End - r.Start + 1 }

// Valid reports whether r lies inside one day and is not inverted.
func (r Range) Valid() bool { return r.Start >= 0 && r.End < SlotsPerDay && r.Start <= r.End }

func (r Range) Overlaps(o Range) bool { return model.RangesOverlap(r.Start, r.End, o.Start, o.End) }

func (r Range) String() string { return fmt.Sprintf("[%d,%d]", r.Start, r.End) }

// SlotsForDuration converts minutes to whole slots, rounding up.
func SlotsForDuration(minutes int) int {
	return (minutes + SlotMinutes - 1) / SlotMinutes
}

// Shift is a named slot window.
type Shift struct {
	Name string
	Range
}

// ShiftTable is the ordered list of configured shifts.
type ShiftTable []Shift

// DefaultShifts are the reference morning, afternoon and evening bands.
var DefaultShifts = ShiftTable{
	{Name: "morning", Range: Range{Start: 32, End: 47}},
	{Name: "afternoon", Range: Range{Start: 48, End: 67}},
	{Name: "evening", Range: Range{Start: 68, End: 83}},
}

func (t ShiftTable) Lookup(name string) (Shift, bool) {
	for _, s := range t {
		if s.Name == name {
			return s, true
		}
	}
	return Shift{}, false
}

// Scan is the result of scanning one window for free capacity.
type Scan struct {
	// First is the first free run of the required length, if any.
	First   Range
	Found   bool
	Longest int
}

// ScanWindow looks for need contiguous free slots inside window, given the
// busy ranges of the day.
func ScanWindow(busy []Range, window Range, need int) Scan {
	var taken [SlotsPerDay]bool
	for _, b := range busy {
		for i := max(b.Start, 0); i <= min(b.End, SlotsPerDay-1); i++ {
			taken[i] = true
		}
	}

	var out Scan
	run := 0
	for i := window.Start; i <= window.End; i++ {
		if taken[i] {
			run = 0
			continue
		}
		run++
		out.Longest = max(out.Longest, run)
		if !out.Found && need > 0 && run >= need {
			out.First = Range{Start: i - need + 1, End: i}
			out.Found = true
		}
	}
	return out
}
