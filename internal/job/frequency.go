package job

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is a job's cadence token. DueAt is the frequency predicate:
// the rule deciding whether "now" matches the configured cadence.
type Frequency string

// Recognized frequency tokens.
const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly" // Mondays
	Sundays  Frequency = "sundays"
	Saturday Frequency = "saturday"
	Weekday  Frequency = "weekday" // Monday through Friday
)

// ParseFrequency validates a frequency token. Unknown tokens are a load
// error, not a silent default: a typo'd cadence should surface to the
// operator instead of running daily.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case Daily, Weekly, Sundays, Saturday, Weekday:
		return f, nil
	}
	return "", fmt.Errorf("unknown frequency %q", s)
}

// DueAt reports whether a job with this frequency is due at t.
func (f Frequency) DueAt(t time.Time) bool {
	switch f {
	case Daily:
		return true
	case Weekly:
		return t.Weekday() == time.Monday
	case Sundays:
		return t.Weekday() == time.Sunday
	case Saturday:
		return t.Weekday() == time.Saturday
	case Weekday:
		return t.Weekday() >= time.Monday && t.Weekday() <= time.Friday
	}
	return false
}
