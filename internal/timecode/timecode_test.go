package timecode

import (
	"errors"
	"testing"

	"podnotes/internal/domain"
)

func TestParse(t *testing.T) {
	cases := map[string]int{
		"00:07:10":      430,
		"00:22:52":      1372,
		"01:00:00":      3600,
		"02:03":         123,
		"45":            45,
		" 00:00:01":     1,
		"100:00:00":     360000,
		"0:0:0":         0,
		"1000000:00:00": 3600000000,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if got != want {
			t.Fatalf("parse %q = %d, want %d", in, got, want)
		}
	}
}

func TestParseMalformed(t *testing.T) {
	for _, in := range []string{"", "1:2:3:4", "aa:bb", "00:-1:00", "1::2", "+5",
		"-0", "00:-0:10", "-5",
		"3000000000000000:00:00", "9223372036854775807:00:00", "99999999999999999999",
	} {
		if _, err := Parse(in); !errors.Is(err, domain.ErrMalformedTimecode) {
			t.Fatalf("parse %q: expected malformed timecode, got %v", in, err)
		}
	}
}

func TestFormat(t *testing.T) {
	cases := map[int]string{
		0:      "00:00:00",
		59:     "00:00:59",
		430:    "00:07:10",
		3600:   "01:00:00",
		90061:  "25:01:01",
		360000: "100:00:00",
	}
	for in, want := range cases {
		if got := Format(in); got != want {
			t.Fatalf("format %d = %q, want %q", in, got, want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for n := 0; n < 200000; n += 37 {
		got, err := Parse(Format(n))
		if err != nil {
			t.Fatalf("round trip %d: %v", n, err)
		}
		if got != n {
			t.Fatalf("round trip %d = %d", n, got)
		}
	}
}
