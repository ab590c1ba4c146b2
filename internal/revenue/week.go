package revenue

import (
	"strings"
	"time"
)

var monthNames = [...]string{
	"january", "february", "march", "april", "may", "june",
	"july", "august", "september", "october", "november", "december",
}

// MonthFromQuestion returns the first English month name found in the
// question, checked January through December. Matching is a plain
// substring test on the lower-cased text.
func MonthFromQuestion(question string) (time.Month, bool) {
	q := strings.ToLower(question)
	for i, name := range monthNames {
		if strings.Contains(q, name) {
			return time.Month(i + 1), true
		}
	}
	return 0, false
}

// WeekRange is an inclusive seven day window.
type WeekRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range, inclusive at both ends.
func (w WeekRange) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

type weekQualifier int

const (
	qualifierNone weekQualifier = iota
	qualifierFirst
	qualifierLast
)

func qualifierFrom(q string) weekQualifier {
	switch {
	case strings.Contains(q, "first week"), strings.Contains(q, "1st week"):
		return qualifierFirst
	case strings.Contains(q, "last week"):
		return qualifierLast
	default:
		return qualifierNone
	}
}

// WeekResolver maps "first week of March" style questions to a date range.
type WeekResolver struct {
	now func() time.Time
}

// WeekResolverOption configures a WeekResolver.
type WeekResolverOption func(*WeekResolver)

// WithClock overrides the clock used when no records pin down a month.
func WithClock(now func() time.Time) WeekResolverOption {
	return func(r *WeekResolver) {
		r.now = now
	}
}

// NewWeekResolver creates a resolver using the wall clock by default.
func NewWeekResolver(opts ...WeekResolverOption) *WeekResolver {
	r := &WeekResolver{now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the week named by the question.
//
// The month comes from the question when the records contain it, in the
// year holding most of that month's records. Otherwise the month of the
// latest record is used, and with no records the current month. Only
// "first week"/"1st week" (days 1-7) and "last week" (final seven days of
// the month) resolve; any other phrasing returns false.
func (r *WeekResolver) Resolve(question string, records []Record) (WeekRange, bool) {
	q := strings.ToLower(question)
	month, hasMonth := MonthFromQuestion(q)
	year, month := r.yearMonth(records, month, hasMonth)

	switch qualifierFrom(q) {
	case qualifierFirst:
		start := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
		return WeekRange{Start: start, End: start.AddDate(0, 0, 6)}, true
	case qualifierLast:
		last := lastDayOfMonth(year, month)
		end := time.Date(year, month, last, 0, 0, 0, 0, time.UTC)
		return WeekRange{Start: end.AddDate(0, 0, -6), End: end}, true
	default:
		return WeekRange{}, false
	}
}

func (r *WeekResolver) yearMonth(records []Record, month time.Month, hasMonth bool) (int, time.Month) {
	if hasMonth {
		counts := make(map[int]int)
		var order []int
		for _, rec := range records {
			if rec.Date.Month() != month {
				continue
			}
			y := rec.Date.Year()
			if _, seen := counts[y]; !seen {
				order = append(order, y)
			}
			counts[y]++
		}
		if len(order) > 0 {
			best := order[0]
			for _, y := range order[1:] {
				if counts[y] > counts[best] {
					best = y
				}
			}
			return best, month
		}
	}

	if len(records) > 0 {
		latest := records[0].Date
		for _, rec := range records[1:] {
			if rec.Date.After(latest) {
				latest = rec.Date
			}
		}
		return latest.Year(), latest.Month()
	}

	now := r.now()
	return now.Year(), now.Month()
}

func lastDayOfMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

var defaultResolver = NewWeekResolver()

// ResolveWeek resolves with the wall clock.
func ResolveWeek(question string, records []Record) (WeekRange, bool) {
	return defaultResolver.Resolve(question, records)
}
