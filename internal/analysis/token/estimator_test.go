package token

import (
	"strings"
	"testing"
)

func TestEstimateFixedPoints(t *testing.T) {
	cases := []struct {
		text string
		want int
	}{
		{"", 1},
		{"a", 1},
		{"abcd", 1},
		{"abcdefg", 1},
		{"abcdefgh", 2},
		{strings.Repeat("a", 2000), 500},
	}

	for _, tc := range cases {
		if got := Estimate(tc.text); got != tc.want {
			t.Fatalf("Estimate(%q len=%d) = %d, want %d", tc.text[:min(len(tc.text), 10)], len(tc.text), got, tc.want)
		}
	}
}

func TestEstimateMonotonic(t *testing.T) {
	prev := 0
	for n := 0; n <= 100; n++ {
		got := Estimate(strings.Repeat("x", n))
		if got < prev {
			t.Fatalf("Estimate not monotonic at length %d: %d < %d", n, got, prev)
		}
		prev = got
	}
}
