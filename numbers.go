package stepwise

import (
	"strconv"
	"strings"
)

// ParseNumber coerces s the way argument literals are coerced: float64 when s
// contains a '.', otherwise a base-10 int. Surrounding whitespace is ignored
// and single underscores between digits are separators ("1_000"). ok is false
// when s is not a number; integers that overflow int are not numbers.
func ParseNumber(s string) (any, bool) {
	t, ok := stripDigitSeparators(strings.TrimSpace(s))
	if !ok || t == "" {
		return nil, false
	}
	if strings.Contains(t, ".") {
		// ParseFloat also accepts hex mantissas, which are not numbers here.
		if strings.ContainsAny(t, "xXpP") {
			return nil, false
		}
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return nil, false
		}
		return f, true
	}
	i, err := strconv.Atoi(t)
	if err != nil {
		return nil, false
	}
	return i, true
}

func stripDigitSeparators(s string) (string, bool) {
	if !strings.Contains(s, "_") {
		return s, true
	}
	for i := 0; i < len(s); i++ {
		if s[i] != '_' {
			continue
		}
		if i == 0 || i == len(s)-1 || !isDigit(s[i-1]) || !isDigit(s[i+1]) {
			return "", false
		}
	}
	return strings.ReplaceAll(s, "_", ""), true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
