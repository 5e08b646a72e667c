package db

import "time"

// DateOnly truncates t to midnight UTC of its calendar day, the value a DATE
// column stores and compares against.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
