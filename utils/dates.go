// utils/dates.go
package utils

import "time"

// AtHour pins t's calendar day to the given local hour.
func AtHour(t time.Time, hour int) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, hour, 0, 0, 0, t.Location())
}
