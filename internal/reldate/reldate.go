// Package reldate converts relative posting ages such as "8d ago" into
// absolute calendar dates.
package reldate

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Layout is the bare calendar-date format produced by Format.
const Layout = "2006-01-02"

var relativePattern = regexp.MustCompile(`(?i)^(\d+)\s*([dhmy])\s*ago`)

// Normalize returns the calendar date that text refers to relative to now.
// Text outside the "<n><unit> ago" grammar yields now's date.
func Normalize(text string, now time.Time) time.Time {
	date, _ := Resolve(text, now)
	return date
}

// Resolve is Normalize plus a flag reporting whether text matched the grammar.
// The returned time is always midnight UTC of the resolved calendar day.
func Resolve(text string, now time.Time) (time.Time, bool) {
	match := relativePattern.FindStringSubmatch(strings.TrimSpace(text))
	if match == nil {
		return dateOf(now), false
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return dateOf(now), false
	}

	switch strings.ToLower(match[2]) {
	case "d":
		return dateOf(now.AddDate(0, 0, -n)), true
	case "h":
		return dateOf(now.AddDate(0, 0, -(n / 24)).Add(-time.Duration(n%24) * time.Hour)), true
	case "m":
		return subtractMonths(now, n), true
	case "y":
		return dateOf(now.AddDate(-n, 0, 0)), true
	default:
		return dateOf(now), false
	}
}

// Format renders t as YYYY-MM-DD.
func Format(t time.Time) string {
	return t.Format(Layout)
}

// subtractMonths moves back n calendar months, clamping the day to the last
// valid day of the target month (Mar 31 - 1 month = Feb 28/29).
func subtractMonths(now time.Time, n int) time.Time {
	total := now.Year()*12 + int(now.Month()) - 1 - n
	year := floorDiv(total, 12)
	month := time.Month(total-year*12) + 1
	day := now.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
