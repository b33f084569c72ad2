package domain

import (
	"fmt"
	"strings"
	"time"
)

// ParseReportRange maps a query value onto a range; anything unknown is daily.
func ParseReportRange(raw string) ReportRange {
	switch ReportRange(strings.ToLower(strings.TrimSpace(raw))) {
	case RangeWeekly:
		return RangeWeekly
	case RangeMonthly:
		return RangeMonthly
	default:
		return RangeDaily
	}
}

// Label returns the bucket a UTC timestamp falls into. Labels of one range
// sort chronologically as plain strings.
func (r ReportRange) Label(t time.Time) string {
	t = t.UTC()
	switch r {
	case RangeWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	case RangeMonthly:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}
