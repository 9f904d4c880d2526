package models

import "testing"

func TestFormatTicket(t *testing.T) {
	cases := []struct {
		prefix string
		n      int
		want   string
	}{
		{"A", 1, "A001"},
		{"B", 42, "B042"},
		{"C", 1000, "C1000"},
		{"CS", 7, "CS007"},
		{"A", 999, "A999"},
	}

	for _, tt := range cases {
		if got := FormatTicket(tt.prefix, tt.n); got != tt.want {
			t.Fatalf("FormatTicket(%q, %d)=%q, want %q", tt.prefix, tt.n, got, tt.want)
		}
	}
}
