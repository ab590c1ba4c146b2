package revenue

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Summary is the result of Aggregate.
type Summary struct {
	Total   decimal.Decimal
	Average decimal.Decimal
	Days    []Record
}

// Aggregate totals and averages the records dated between start and end,
// inclusive. Both figures are rounded to cents; with no matching records
// both are zero. Days holds the matching records ordered by date.
func Aggregate(records []Record, start, end time.Time) Summary {
	window := WeekRange{Start: start, End: end}
	var days []Record
	total := decimal.Zero
	for _, rec := range records {
		if window.Contains(rec.Date) {
			days = append(days, rec)
			total = total.Add(rec.Amount)
		}
	}
	slices.SortStableFunc(days, func(a, b Record) int {
		return a.Date.Compare(b.Date)
	})

	total = total.Round(2)
	avg := decimal.Zero
	if len(days) > 0 {
		avg = total.Div(decimal.NewFromInt(int64(len(days)))).Round(2)
	}
	return Summary{Total: total, Average: avg, Days: days}
}

// FormatAmount renders d with thousands separators and two decimals,
// e.g. 1234.5 as "1,234.50". The digits come from the decimal itself, so
// no cents are lost on large totals.
func FormatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if rest, ok := strings.CutPrefix(s, "-"); ok {
		sign, s = "-", rest
	}
	whole, cents, _ := strings.Cut(s, ".")

	var b strings.Builder
	b.WriteString(sign)
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(cents)
	return b.String()
}
