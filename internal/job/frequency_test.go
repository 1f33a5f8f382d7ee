package job

import (
	"testing"
	"time"
)

func TestParseFrequency(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct {
		in      string
		want    Frequency
		wantErr bool
	}{
		{"daily", Daily, false},
		{" Weekly ", Weekly, false},
		{"SUNDAYS", Sundays, false},
		{"saturday", Saturday, false},
		{"weekday", Weekday, false},
		{"fortnightly", "", true},
		{"", "", true},
	} {
		got, err := ParseFrequency(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseFrequency(%q) should fail", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseFrequency(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseFrequency(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFrequency_DueAt_FullYear(t *testing.T) {
	t.Parallel()

	// Walk every day of a full year and check each predicate against the
	// calendar directly.
	start := time.Date(2025, time.January, 1, 9, 0, 0, 0, time.UTC)
	for day := range 366 {
		now := start.AddDate(0, 0, day)
		wd := now.Weekday()

		if got := Daily.DueAt(now); !got {
			t.Fatalf("daily must always be due (%s)", now.Format(time.DateOnly))
		}
		if got, want := Weekly.DueAt(now), wd == time.Monday; got != want {
			t.Fatalf("weekly on %s (%s): got %v", now.Format(time.DateOnly), wd, got)
		}
		if got, want := Sundays.DueAt(now), wd == time.Sunday; got != want {
			t.Fatalf("sundays on %s (%s): got %v", now.Format(time.DateOnly), wd, got)
		}
		if got, want := Saturday.DueAt(now), wd == time.Saturday; got != want {
			t.Fatalf("saturday on %s (%s): got %v", now.Format(time.DateOnly), wd, got)
		}
		if got, want := Weekday.DueAt(now), wd >= time.Monday && wd <= time.Friday; got != want {
			t.Fatalf("weekday on %s (%s): got %v", now.Format(time.DateOnly), wd, got)
		}
	}
}
