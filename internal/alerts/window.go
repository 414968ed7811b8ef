package alerts

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseWindow parses a suppression window in the <decimal><unit> grammar with
// unit in {s, m, h, d}. The empty string means no suppression and parses to 0.
func ParseWindow(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	if len(value) < 2 {
		return 0, fmt.Errorf("invalid window %q", value)
	}

	var unit time.Duration
	switch value[len(value)-1] {
	case 's':
		unit = time.Second
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid window unit in %q", value)
	}

	amount, err := strconv.ParseFloat(value[:len(value)-1], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid window amount in %q: %w", value, err)
	}
	if amount < 0 {
		return 0, fmt.Errorf("negative window %q", value)
	}

	return time.Duration(amount * float64(unit)), nil
}
