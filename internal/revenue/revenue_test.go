package revenue

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func rec(y int, m time.Month, d int, amount string) Record {
	return Record{Date: day(y, m, d), Amount: decimal.RequireFromString(amount)}
}

func TestRegexExtractor_Extract(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []Record
	}{
		{
			name: "dollar amount with thousands separator",
			text: "row: 2024-03-05 | Store 12 | $1,234.56 | ok",
			want: []Record{rec(2024, time.March, 5, "1234.56")},
		},
		{
			name: "amount without dollar sign",
			text: "2024-03-06 total 987.10",
			want: []Record{rec(2024, time.March, 6, "987.10")},
		},
		{
			name: "multiple rows",
			text: "2024-04-01  $1,000.00\n2024-04-02  $2,500.25\n2024-04-03  $12,345,678.90",
			want: []Record{
				rec(2024, time.April, 1, "1000.00"),
				rec(2024, time.April, 2, "2500.25"),
				rec(2024, time.April, 3, "12345678.90"),
			},
		},
		{
			name: "amount exactly 80 characters after date",
			text: "2024-03-05" + strings.Repeat("x", 80) + "$10.00",
			want: []Record{rec(2024, time.March, 5, "10.00")},
		},
		{
			name: "amount 81 characters after date",
			text: "2024-03-05" + strings.Repeat("x", 81) + "$10.00",
			want: nil,
		},
		{
			name: "amount without dollar sign 80 characters after date",
			text: "2024-03-05" + strings.Repeat("x", 80) + "10.00",
			want: []Record{rec(2024, time.March, 5, "10.00")},
		},
		{
			name: "amount too far from date",
			text: "2024-03-05 " + strings.Repeat("x", 90) + " $10.00",
			want: nil,
		},
		{
			name: "amount on the next line is not joined",
			text: "2024-03-05\n$10.00",
			want: nil,
		},
		{
			name: "amount needs two decimals",
			text: "2024-03-05 $10",
			want: nil,
		},
		{
			name: "invalid month is rejected",
			text: "2024-13-01 $100.00",
			want: nil,
		},
		{
			name: "invalid day is rejected",
			text: "2024-02-30 $100.00",
			want: nil,
		},
		{
			name: "leap day is accepted",
			text: "2024-02-29 $100.00",
			want: []Record{rec(2024, time.February, 29, "100.00")},
		},
		{
			name: "invalid date does not swallow the next row",
			text: "2024-13-01 2024-03-05 $1,234.56",
			want: []Record{rec(2024, time.March, 5, "1234.56")},
		},
		{
			name: "years outside 20xx are ignored",
			text: "1999-03-05 $5.00",
			want: nil,
		},
	}

	ex := NewRegexExtractor()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ex.Extract(tt.text)
			require.Len(t, got, len(tt.want))
			for i := range tt.want {
				assert.True(t, tt.want[i].Date.Equal(got[i].Date), "date %d: got %s", i, got[i].Date)
				assert.True(t, tt.want[i].Amount.Equal(got[i].Amount), "amount %d: got %s", i, got[i].Amount)
			}
		})
	}
}

func TestExtractRecords_UsesDefault(t *testing.T) {
	got := ExtractRecords("...2024-03-05 ... $1,234.56 ...")
	require.Len(t, got, 1)
	assert.Equal(t, "2024-03-05", got[0].Date.Format(dateLayout))
	assert.Equal(t, "1234.56", got[0].Amount.StringFixed(2))
}

func TestRegexExtractor_Locate(t *testing.T) {
	text := "é 2024-04-01 $100.00\n2024-13-01 x\n2024-04-01 $100.00"
	got := NewRegexExtractor().Locate(text)
	require.Len(t, got, 2)
	assert.Equal(t, strings.Index(text, "2024-04-01"), got[0].Offset)
	assert.Equal(t, strings.LastIndex(text, "2024-04-01"), got[1].Offset)
	assert.Equal(t, got[0].Record, got[1].Record, "equal rows at different offsets are both reported")
}

func TestMonthFromQuestion(t *testing.T) {
	m, ok := MonthFromQuestion("What were SALES in the first week of April?")
	assert.True(t, ok)
	assert.Equal(t, time.April, m)

	_, ok = MonthFromQuestion("what were sales last week")
	assert.False(t, ok)

	// Earlier months win when several names appear.
	m, ok = MonthFromQuestion("march or february?")
	assert.True(t, ok)
	assert.Equal(t, time.February, m)
}

func marchRecords(year int) []Record {
	var out []Record
	for d := 1; d <= 31; d++ {
		out = append(out, rec(year, time.March, d, "100.00"))
	}
	return out
}

func TestWeekResolver_Resolve(t *testing.T) {
	fixed := func() time.Time { return day(2025, time.June, 15) }
	r := NewWeekResolver(WithClock(fixed))

	tests := []struct {
		name      string
		question  string
		records   []Record
		wantStart time.Time
		wantEnd   time.Time
		wantOK    bool
	}{
		{
			name:      "first week of march",
			question:  "revenue first week of march",
			records:   marchRecords(2024),
			wantStart: day(2024, time.March, 1),
			wantEnd:   day(2024, time.March, 7),
			wantOK:    true,
		},
		{
			name:      "1st week",
			question:  "Revenue for the 1st week of March",
			records:   marchRecords(2024),
			wantStart: day(2024, time.March, 1),
			wantEnd:   day(2024, time.March, 7),
			wantOK:    true,
		},
		{
			name:      "last week of 31 day month",
			question:  "revenue last week of march",
			records:   marchRecords(2024),
			wantStart: day(2024, time.March, 25),
			wantEnd:   day(2024, time.March, 31),
			wantOK:    true,
		},
		{
			name:      "last week of leap february",
			question:  "sales last week of february",
			records:   []Record{rec(2024, time.February, 3, "1.00")},
			wantStart: day(2024, time.February, 23),
			wantEnd:   day(2024, time.February, 29),
			wantOK:    true,
		},
		{
			name:     "year with most records wins",
			question: "sales first week of march",
			records: append(
				[]Record{rec(2023, time.March, 2, "1.00")},
				marchRecords(2024)[:3]...,
			),
			wantStart: day(2024, time.March, 1),
			wantEnd:   day(2024, time.March, 7),
			wantOK:    true,
		},
		{
			name:     "tie goes to first seen year",
			question: "sales first week of march",
			records: []Record{
				rec(2022, time.March, 2, "1.00"),
				rec(2024, time.March, 2, "1.00"),
			},
			wantStart: day(2022, time.March, 1),
			wantEnd:   day(2022, time.March, 7),
			wantOK:    true,
		},
		{
			name:     "month without records falls back to latest record",
			question: "sales first week of april",
			records: []Record{
				rec(2024, time.January, 9, "1.00"),
				rec(2024, time.March, 9, "1.00"),
				rec(2023, time.December, 9, "1.00"),
			},
			wantStart: day(2024, time.March, 1),
			wantEnd:   day(2024, time.March, 7),
			wantOK:    true,
		},
		{
			name:      "no month and no records uses the clock",
			question:  "sales last week",
			wantStart: day(2025, time.June, 24),
			wantEnd:   day(2025, time.June, 30),
			wantOK:    true,
		},
		{
			name:     "unsupported phrasing",
			question: "sales in the week of 2024-03-10",
			records:  marchRecords(2024),
		},
		{
			name:     "no qualifier",
			question: "total revenue for march",
			records:  marchRecords(2024),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := r.Resolve(tt.question, tt.records)
			assert.Equal(t, tt.wantOK, ok)
			if !tt.wantOK {
				return
			}
			assert.True(t, tt.wantStart.Equal(got.Start), "start: got %s", got.Start)
			assert.True(t, tt.wantEnd.Equal(got.End), "end: got %s", got.End)
			assert.Equal(t, 6*24*time.Hour, got.End.Sub(got.Start))
		})
	}
}

func TestAggregate(t *testing.T) {
	d1, d2 := day(2024, time.April, 1), day(2024, time.April, 2)

	t.Run("sum and average", func(t *testing.T) {
		s := Aggregate([]Record{
			{Date: d2, Amount: decimal.RequireFromString("200.0")},
			{Date: d1, Amount: decimal.RequireFromString("100.0")},
		}, d1, d2)
		assert.Equal(t, "300.00", s.Total.StringFixed(2))
		assert.Equal(t, "150.00", s.Average.StringFixed(2))
		require.Len(t, s.Days, 2)
		assert.True(t, s.Days[0].Date.Equal(d1), "days are sorted")
	})

	t.Run("inclusive bounds", func(t *testing.T) {
		records := []Record{
			rec(2024, time.March, 31, "999.00"),
			rec(2024, time.April, 1, "1.00"),
			rec(2024, time.April, 7, "2.00"),
			rec(2024, time.April, 8, "999.00"),
		}
		s := Aggregate(records, d1, day(2024, time.April, 7))
		assert.Equal(t, "3.00", s.Total.StringFixed(2))
		assert.Len(t, s.Days, 2)
	})

	t.Run("average rounds to cents", func(t *testing.T) {
		s := Aggregate([]Record{
			rec(2024, time.April, 1, "100.00"),
			rec(2024, time.April, 2, "100.00"),
			rec(2024, time.April, 3, "100.01"),
		}, d1, day(2024, time.April, 7))
		assert.Equal(t, "300.01", s.Total.StringFixed(2))
		assert.Equal(t, "100.00", s.Average.StringFixed(2))
	})

	t.Run("empty match is zero", func(t *testing.T) {
		s := Aggregate([]Record{rec(2023, time.April, 1, "5.00")}, d1, d2)
		assert.True(t, s.Total.IsZero())
		assert.True(t, s.Average.IsZero())
		assert.Empty(t, s.Days)
	})
}

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "0", want: "0.00"},
		{in: "7.5", want: "7.50"},
		{in: "1234.56", want: "1,234.56"},
		{in: "12345678.9", want: "12,345,678.90"},
		{in: "999.995", want: "1,000.00"},
		{in: "123456.78", want: "123,456.78"},
		{in: "-1234.5", want: "-1,234.50"},
		{in: "12345678901234567.89", want: "12,345,678,901,234,567.89"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatAmount(decimal.RequireFromString(tt.in)))
		})
	}
}

func ExampleAggregate() {
	records := ExtractRecords("2024-04-01 $1,000.00\n2024-04-02 $500.50\n2024-04-09 $7.00")
	week, _ := NewWeekResolver().Resolve("sales first week of april", records)
	s := Aggregate(records, week.Start, week.End)
	fmt.Println(FormatAmount(s.Total), FormatAmount(s.Average))
	// Output: 1,500.50 750.25
}
