package slots

import "testing"

func TestSlotsForDuration(t *testing.T) {
	tests := []struct {
		minutes int
		want    int
	}{
		{1, 1},
		{15, 1},
		{16, 2},
		{60, 4},
		{61, 5},
		{24 * 60, SlotsPerDay},
	}
	for _, tt := range tests {
		if got := SlotsForDuration(tt.minutes); got != tt.want {
			t.Errorf("SlotsForDuration(%d) = %d, want %d", tt.minutes, got, tt.want)
		}
	}
}

func TestScanWindow(t *testing.T) {
	morning := Range{Start: 32, End: 47}
	tests := []struct {
		name      string
		busy      []Range
		need      int
		wantFound bool
		wantFirst Range
		longest   int
	}{
		{"empty shift", nil, 4, true, Range{32, 35}, 16},
		{"first hour taken", []Range{{32, 35}}, 4, true, Range{36, 39}, 12},
		{"gap too small", []Range{{32, 34}, {37, 47}}, 3, false, Range{}, 2},
		{"exact fit at end", []Range{{32, 43}}, 4, true, Range{44, 47}, 4},
		{"busy outside window ignored", []Range{{0, 31}, {48, 95}}, 16, true, Range{32, 47}, 16},
		{"fully booked", []Range{{30, 50}}, 1, false, Range{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ScanWindow(tt.busy, morning, tt.need)
			if got.Found != tt.wantFound {
				t.Fatalf("Found = %v, want %v", got.Found, tt.wantFound)
			}
			if got.Found && got.First != tt.wantFirst {
				t.Errorf("First = %s, want %s", got.First, tt.wantFirst)
			}
			if got.Longest != tt.longest {
				t.Errorf("Longest = %d, want %d", got.Longest, tt.longest)
			}
		})
	}
}

func TestRange(t *testing.T) {
	if !(Range{0, 95}).Valid() {
		t.Error("whole day should be valid")
	}
	for _, r := range []Range{{-1, 3}, {5, 4}, {90, 96}} {
		if r.Valid() {
			t.Errorf("%s should be invalid", r)
		}
	}
	if !(Range{36, 39}).Overlaps(Range{39, 42}) {
		t.Error("ranges sharing slot 39 must overlap")
	}
	if (Range{36, 39}).Overlaps(Range{40, 42}) {
		t.Error("adjacent ranges must not overlap")
	}
	if n := (Range{36, 39}).Len(); n != 4 {
		t.Errorf("Len = %d, want 4", n)
	}
}

func TestShiftLookup(t *testing.T) {
	s, ok := DefaultShifts.Lookup("afternoon")
	if !ok || s.Start != 48 || s.End != 67 {
		t.Errorf("afternoon = %+v, %v", s, ok)
	}
	if _, ok := DefaultShifts.Lookup("night"); ok {
		t.Error("night should not resolve")
	}
}
