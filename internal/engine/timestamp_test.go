package engine

import "testing"

func TestParseRecordTime(t *testing.T) {
	cases := []struct {
		in   string
		ok   bool
		hour int
	}{
		{"2026-01-01T23:15:00Z", true, 23},
		{"2026-01-01T23:15:00.123456Z", true, 23},
		{"2026-01-01T23:15:00+02:00", true, 21},
		{"2026-01-01T04:15:00", true, 4},
		{"2026-01-01 05:00:00", true, 5},
		{"2026-01-01", true, 0},
		{"", false, 0},
		{"yesterday", false, 0},
	}
	for _, tc := range cases {
		ts, ok := parseRecordTime(tc.in)
		if ok != tc.ok {
			t.Fatalf("%q: ok=%v, want %v", tc.in, ok, tc.ok)
		}
		if ok && ts.Hour() != tc.hour {
			t.Fatalf("%q: hour=%d, want %d", tc.in, ts.Hour(), tc.hour)
		}
	}
}
