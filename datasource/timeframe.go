package datasource

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TimeframeDuration converts a timeframe label such as "5m", "1h", "1d" or "1w" into a duration
func TimeframeDuration(timeframe string) (time.Duration, error) {
	tf := strings.ToLower(strings.TrimSpace(timeframe))
	if len(tf) < 2 {
		return 0, fmt.Errorf("invalid timeframe %q", timeframe)
	}

	n, err := strconv.Atoi(tf[:len(tf)-1])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid timeframe %q", timeframe)
	}

	var unit time.Duration
	switch tf[len(tf)-1] {
	case 'm':
		unit = time.Minute
	case 'h':
		unit = time.Hour
	case 'd':
		unit = 24 * time.Hour
	case 'w':
		unit = 7 * 24 * time.Hour
	default:
		return 0, fmt.Errorf("invalid timeframe unit in %q", timeframe)
	}
	return time.Duration(n) * unit, nil
}
