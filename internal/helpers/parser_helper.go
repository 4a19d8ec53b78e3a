package helpers

import (
	"strconv"
)

func StringToInt(s string) (int, error) {
	return strconv.Atoi(s)
}

func StringToFloat(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}

// ParseLimit clamps a limit query parameter to 1..max, falling back to def
// when missing or malformed.
func ParseLimit(s string, def, max int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
