package model

import (
	"fmt"
	"time"
)

// KST is the exchange time zone. Korea has no daylight saving, so a fixed
// zone avoids depending on the host's tz database.
var KST = time.FixedZone("KST", 9*60*60)

const (
	dateLayout     = "20060102"
	clockLayout    = "150405"
	dateTimeLayout = "20060102150405"
)

// ParseDate parses a YYYYMMDD business date at midnight KST.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, KST)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t, nil
}

// ParseDateTime parses a YYYYMMDDHHMMSS timestamp in KST.
func ParseDateTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateTimeLayout, s, KST)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse datetime %q: %w", s, err)
	}
	return t, nil
}

// OnDate combines a business date with an HHMMSS time of day.
func OnDate(date time.Time, hhmmss string) (time.Time, error) {
	c, err := time.ParseInLocation(clockLayout, hhmmss, KST)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", hhmmss, err)
	}
	y, m, d := date.In(KST).Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), c.Second(), 0, KST), nil
}

// BusinessDay truncates t to midnight KST.
func BusinessDay(t time.Time) time.Time {
	y, m, d := t.In(KST).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, KST)
}
