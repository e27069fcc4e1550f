package usage

import (
	"testing"
	"time"
)

func TestPeriodFor(t *testing.T) {
	tests := []struct {
		name      string
		in        time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "mid month",
			in:        time.Date(2025, 6, 15, 13, 45, 0, 0, time.UTC),
			wantStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "first instant of month",
			in:        time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "december rolls into new year",
			in:        time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
			wantStart: time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "leap february",
			in:        time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC),
			wantStart: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "non-UTC input normalized",
			in:        time.Date(2025, 7, 1, 0, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
			wantStart: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PeriodFor(tt.in)
			if !p.Start.Equal(tt.wantStart) {
				t.Errorf("Start = %v, want %v", p.Start, tt.wantStart)
			}
			if !p.End.Equal(tt.wantEnd) {
				t.Errorf("End = %v, want %v", p.End, tt.wantEnd)
			}
		})
	}
}

func TestPeriodNextStart(t *testing.T) {
	p := PeriodFor(time.Date(2025, 12, 5, 0, 0, 0, 0, time.UTC))
	want := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if !p.NextStart().Equal(want) {
		t.Fatalf("NextStart = %v, want %v", p.NextStart(), want)
	}
}

func TestPeriodContains(t *testing.T) {
	p := PeriodFor(time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC))

	if !p.Contains(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("period start should be contained")
	}
	if !p.Contains(time.Date(2025, 6, 30, 23, 59, 59, 0, time.UTC)) {
		t.Error("last second of month should be contained")
	}
	if p.Contains(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Error("next period start should not be contained")
	}
	if p.Contains(time.Date(2025, 5, 31, 23, 59, 59, 0, time.UTC)) {
		t.Error("previous month should not be contained")
	}
}
