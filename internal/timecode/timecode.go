// Package timecode converts between seconds and colon separated
// HH:MM:SS timestamps.
package timecode

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"podnotes/internal/domain"
)

// Parse reads a timestamp such as "01:02:03", "02:03" or "3". Groups are
// read right to left as seconds, minutes, hours; missing groups are zero.
func Parse(text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: empty", domain.ErrMalformedTimecode)
	}
	parts := strings.Split(text, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("%w: %q has more than three groups", domain.ErrMalformedTimecode, text)
	}
	total := 0
	for _, p := range parts {
		if strings.HasPrefix(p, "+") || strings.HasPrefix(p, "-") {
			return 0, fmt.Errorf("%w: %q", domain.ErrMalformedTimecode, text)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", domain.ErrMalformedTimecode, text)
		}
		if total > (math.MaxInt-n)/60 {
			return 0, fmt.Errorf("%w: %q is out of range", domain.ErrMalformedTimecode, text)
		}
		total = total*60 + n
	}
	return total, nil
}

// Format renders seconds as zero padded HH:MM:SS. Hours are not wrapped
// at 24.
func Format(seconds int) string {
	sign := ""
	if seconds < 0 {
		sign = "-"
		seconds = -seconds
	}
	return fmt.Sprintf("%s%02d:%02d:%02d", sign, seconds/3600, (seconds/60)%60, seconds%60)
}
