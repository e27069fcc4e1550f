package usage

import "time"

// Period is a calendar-month billing window in UTC. Start is the first day
// of the month at midnight; End is the last day at midnight. Periods are
// computed from event timestamps, never stored on their own.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// PeriodFor returns the billing period containing t.
func PeriodFor(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return Period{
		Start: start,
		End:   start.AddDate(0, 1, -1),
	}
}

// CurrentPeriod returns the billing period containing now.
func CurrentPeriod() Period {
	return PeriodFor(time.Now())
}

// NextStart returns the exclusive upper bound of the period, i.e. the first
// instant of the following month.
func (p Period) NextStart() time.Time {
	return p.Start.AddDate(0, 1, 0)
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start) && t.Before(p.NextStart())
}
