package types

import "testing"

func TestPointStringRoundTrip(t *testing.T) {
	cases := []struct {
		p    Point
		want string
	}{
		{Point{Lat: 22.3193, Lng: 114.1694}, "22.3193,114.1694"},
		{Point{Lat: -33.5, Lng: 151}, "-33.5,151"},
		{Point{}, "0,0"},
	}
	for _, tc := range cases {
		if got := tc.p.String(); got != tc.want {
			t.Errorf("String(%v) = %q, want %q", tc.p, got, tc.want)
		}
		back, err := ParsePoint(tc.want)
		if err != nil {
			t.Fatalf("ParsePoint(%q): %v", tc.want, err)
		}
		if back != tc.p {
			t.Errorf("ParsePoint(%q) = %v, want %v", tc.want, back, tc.p)
		}
	}
}

func TestParsePointRejectsGarbage(t *testing.T) {
	for _, s := range []string{"", "22.3", "a,b", "1,"} {
		if _, err := ParsePoint(s); err == nil {
			t.Errorf("ParsePoint(%q): expected error", s)
		}
	}
}
