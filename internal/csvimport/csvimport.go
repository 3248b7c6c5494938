// Package csvimport turns header-bearing CSV text into item drafts.
package csvimport

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"strconv"
	"strings"

	"github.com/erazemk/shramba/internal/model"
)

// ErrMalformed is returned when the text is not structurally valid CSV.
var ErrMalformed = errors.New("malformed csv")

// Column names recognised in the header, compared case-insensitively.
const (
	ColName           = "name"
	ColCount          = "count"
	ColExpirationDate = "expirationdate"
)

// Row is one data record from the input.
type Row struct {
	Line  int
	Draft model.Draft
	Err   error
}

// RowError describes a rejected data row.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

type headerIndex map[string]int

func makeHeaderIndex(header []string) headerIndex {
	idx := make(headerIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

func (h headerIndex) field(record []string, name string) string {
	i, ok := h[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// Records yields one Row per non-empty data line of text. The first non-empty
// line is the header. A structural CSV error is yielded once and ends the
// sequence. Each call to the returned sequence reads text from the start.
func Records(text string) iter.Seq2[Row, error] {
	return func(yield func(Row, error) bool) {
		r := csv.NewReader(strings.NewReader(text))
		r.FieldsPerRecord = -1
		r.TrimLeadingSpace = true

		var header headerIndex
		for {
			record, err := r.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				yield(Row{}, fmt.Errorf("%w: %w", ErrMalformed, err))
				return
			}
			if isEmptyRow(record) {
				continue
			}
			if header == nil {
				header = makeHeaderIndex(record)
				continue
			}

			line, _ := r.FieldPos(0)
			if !yield(parseRow(line, header, record), nil) {
				return
			}
		}
	}
}

func parseRow(line int, h headerIndex, record []string) Row {
	row := Row{Line: line}
	row.Draft.Name = h.field(record, ColName)

	row.Draft.Count = parseCount(h.field(record, ColCount))

	date, err := model.NormalizeDate(h.field(record, ColExpirationDate))
	if err != nil {
		row.Err = err
		return row
	}
	row.Draft.ExpirationDate = date
	return row
}

func isEmptyRow(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Normalize collects every accepted draft and every rejected row from text.
func Normalize(text string) ([]model.Draft, []RowError, error) {
	var drafts []model.Draft
	var rejected []RowError
	for row, err := range Records(text) {
		if err != nil {
			return nil, nil, err
		}
		if row.Err != nil {
			rejected = append(rejected, RowError{Line: row.Line, Reason: row.Err.Error()})
			continue
		}
		drafts = append(drafts, row.Draft)
	}
	return drafts, rejected, nil
}

// parseCount reads the leading integer of s, so "12 pcs" is 12 and "10.5"
// is 10. Text without a leading integer, or one out of range, counts as 0.
func parseCount(s string) int {
	end := 0
	if end < len(s) && (s[end] == '+' || s[end] == '-') {
		end++
	}
	digits := end
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == digits {
		return 0
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0
	}
	return n
}
