package metrics

import (
	"fmt"
	"time"

	"trade-metrics-lab/internal/domain"
)

// ResolvePeriod returns the concrete UTC window for a period type at now.
// Hourly, daily, weekly and monthly resolve to the last completed window;
// all-time spans [epoch, now).
func ResolvePeriod(pt domain.PeriodType, now, epoch time.Time) (domain.Period, error) {
	now = now.UTC()
	var start, end time.Time

	switch pt {
	case domain.PeriodHourly:
		end = now.Truncate(time.Hour)
		start = end.Add(-time.Hour)
	case domain.PeriodDaily:
		end = startOfDay(now)
		start = end.AddDate(0, 0, -1)
	case domain.PeriodWeekly:
		// Weekday: Sunday=0; shift so Monday=0.
		offset := (int(now.Weekday()) + 6) % 7
		end = startOfDay(now).AddDate(0, 0, -offset)
		start = end.AddDate(0, 0, -7)
	case domain.PeriodMonthly:
		end = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		start = end.AddDate(0, -1, 0)
	case domain.PeriodAllTime:
		start = epoch.UTC()
		end = now
		if !start.Before(end) {
			return domain.Period{}, domain.NewValidationError("epoch", "must be before now")
		}
	default:
		return domain.Period{}, domain.NewValidationError("period_type", fmt.Sprintf("unknown period type %q", pt))
	}

	return domain.Period{Type: pt, Start: start, End: end}, nil
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
