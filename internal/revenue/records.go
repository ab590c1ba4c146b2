// Package revenue pulls dated revenue rows out of free text and answers
// weekly total/average questions over them.
//
// Rows usually come from revenue tables exported into documents or read
// back by OCR, so the parser is deliberately loose: a YYYY-MM-DD date
// followed closely by a currency amount.
package revenue

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Record is one dated revenue amount.
type Record struct {
	Date   time.Time
	Amount decimal.Decimal
}

// RecordExtractor finds revenue records in text. Implementations must not
// fail on malformed input; unparseable rows are skipped.
type RecordExtractor interface {
	Extract(text string) []Record
}

// Match is a record and the byte offset of its date in the scanned text.
type Match struct {
	Record
	Offset int
}

// RecordLocator is implemented by extractors that report where each record
// was found.
type RecordLocator interface {
	Locate(text string) []Match
}

// rowPattern matches a date, then up to 80 characters on the same line, then
// an optional "$" and an amount with comma thousands separators and exactly
// two decimals.
var rowPattern = regexp.MustCompile(`(20\d{2}-\d{2}-\d{2}).{0,80}?\$?(\d{1,3}(?:,\d{3})*\.\d{2})`)

// RegexExtractor is the default RecordExtractor.
type RegexExtractor struct {
	re *regexp.Regexp
}

var (
	_ RecordExtractor = (*RegexExtractor)(nil)
	_ RecordLocator   = (*RegexExtractor)(nil)
)

// NewRegexExtractor returns an extractor using the date/amount row pattern.
func NewRegexExtractor() *RegexExtractor {
	return &RegexExtractor{re: rowPattern}
}

// Extract scans text for every date/amount row.
func (e *RegexExtractor) Extract(text string) []Record {
	matches := e.Locate(text)
	out := make([]Record, len(matches))
	for i, m := range matches {
		out[i] = m.Record
	}
	return out
}

// Locate scans text for every date/amount row and reports where each
// starts.
//
// A date that is not on the calendar (2024-13-01, 2024-02-30) rejects the
// match and scanning resumes right after that date, so the amount it would
// have claimed is still available to the next date.
func (e *RegexExtractor) Locate(text string) []Match {
	var out []Match
	pos := 0
	for pos < len(text) {
		loc := e.re.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		date, err := time.Parse(dateLayout, text[pos+loc[2]:pos+loc[3]])
		if err != nil {
			pos += loc[3]
			continue
		}
		raw := strings.ReplaceAll(text[pos+loc[4]:pos+loc[5]], ",", "")
		if amount, err := decimal.NewFromString(raw); err == nil {
			out = append(out, Match{Record: Record{Date: date, Amount: amount}, Offset: pos + loc[2]})
		}
		pos += loc[1]
	}
	return out
}

// ExtractRecords runs the default extractor over text.
func ExtractRecords(text string) []Record {
	return NewRegexExtractor().Extract(text)
}
