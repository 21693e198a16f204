package metrics

import (
	"errors"
	"testing"
	"time"

	"trade-metrics-lab/internal/domain"
)

func TestResolvePeriod(t *testing.T) {
	epoch := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	// Wednesday
	now := time.Date(2024, 3, 6, 14, 25, 0, 0, time.UTC)

	tests := []struct {
		pt        domain.PeriodType
		wantStart time.Time
		wantEnd   time.Time
	}{
		{domain.PeriodHourly, time.Date(2024, 3, 6, 13, 0, 0, 0, time.UTC), time.Date(2024, 3, 6, 14, 0, 0, 0, time.UTC)},
		{domain.PeriodDaily, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)},
		{domain.PeriodWeekly, time.Date(2024, 2, 26, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)},
		{domain.PeriodMonthly, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{domain.PeriodAllTime, epoch, now},
	}

	for _, tt := range tests {
		t.Run(string(tt.pt), func(t *testing.T) {
			p, err := ResolvePeriod(tt.pt, now, epoch)
			if err != nil {
				t.Fatalf("ResolvePeriod failed: %v", err)
			}
			if !p.Start.Equal(tt.wantStart) || !p.End.Equal(tt.wantEnd) {
				t.Errorf("got [%s, %s), want [%s, %s)", p.Start, p.End, tt.wantStart, tt.wantEnd)
			}
			if p.Type != tt.pt {
				t.Errorf("expected type %s, got %s", tt.pt, p.Type)
			}
		})
	}
}

func TestResolvePeriod_WeeklyEdges(t *testing.T) {
	epoch := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	monday := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want time.Time // expected week end
	}{
		{"monday midnight closes previous week", monday, monday},
		{"sunday late stays in previous week", time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC), monday},
		{"next monday", monday.AddDate(0, 0, 7).Add(time.Minute), monday.AddDate(0, 0, 7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ResolvePeriod(domain.PeriodWeekly, tt.now, epoch)
			if err != nil {
				t.Fatalf("ResolvePeriod failed: %v", err)
			}
			if !p.End.Equal(tt.want) {
				t.Errorf("expected end %s, got %s", tt.want, p.End)
			}
			if p.End.Sub(p.Start) != 7*24*time.Hour {
				t.Errorf("expected 7-day window, got %s", p.End.Sub(p.Start))
			}
			if p.Start.Weekday() != time.Monday {
				t.Errorf("expected Monday start, got %s", p.Start.Weekday())
			}
		})
	}
}

func TestResolvePeriod_UsesUTC(t *testing.T) {
	epoch := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	// 2024-03-06 01:30 UTC expressed in UTC-5 is still March 5th locally
	local := time.Date(2024, 3, 5, 20, 30, 0, 0, time.FixedZone("EST", -5*3600))

	p, err := ResolvePeriod(domain.PeriodDaily, local, epoch)
	if err != nil {
		t.Fatalf("ResolvePeriod failed: %v", err)
	}
	want := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	if !p.Start.Equal(want) {
		t.Errorf("expected UTC day start %s, got %s", want, p.Start)
	}
	if p.Start.Location() != time.UTC {
		t.Errorf("expected UTC location, got %s", p.Start.Location())
	}
}

func TestResolvePeriod_Errors(t *testing.T) {
	now := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)
	if _, err := ResolvePeriod("fortnightly", now, now); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
	if _, err := ResolvePeriod(domain.PeriodAllTime, now, now.Add(time.Hour)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected ErrValidation for epoch after now, got %v", err)
	}
}
