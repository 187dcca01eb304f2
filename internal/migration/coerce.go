package migration

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

const (
	nullTag      = "!!null"
	strTag       = "!!str"
	timestampTag = "!!timestamp"
)

// yaml11True holds the plain scalars YAML 1.1 reads as true. yaml.v3 follows
// YAML 1.2 and keeps them as strings.
var yaml11True = map[string]bool{
	"y": true, "Y": true,
	"yes": true, "Yes": true, "YES": true,
	"on": true, "On": true, "ON": true,
}

// coerceNode converts a decoded balance node. Timestamps keep their scalar
// text and go through the string rule, so "2001-12-14" is 2001.
func coerceNode(n *yaml.Node) (int64, bool) {
	if n.Kind == yaml.ScalarNode {
		switch n.ShortTag() {
		case timestampTag:
			return parseNumericPrefix(n.Value), true
		case strTag:
			if n.Style == 0 && yaml11True[n.Value] {
				return 1, true
			}
		}
	}

	var v any
	if err := n.Decode(&v); err != nil {
		return 0, false
	}
	return CoerceBalance(v)
}

// CoerceBalance converts a decoded YAML balance into an integer.
//
// Integers pass through; floats truncate toward zero and saturate at the
// int64 range; bools become 1 or 0; strings use their leading decimal prefix
// and become 0 when there is none. Mappings, sequences and timestamps report
// ok=false.
func CoerceBalance(v any) (int64, bool) {
	switch b := v.(type) {
	case string:
		return parseNumericPrefix(b), true
	case uint64:
		if b > math.MaxInt64 {
			return math.MaxInt64, true
		}
		return int64(b), true
	case uint:
		if uint64(b) > math.MaxInt64 {
			return math.MaxInt64, true
		}
		return int64(b), true
	case float64:
		return truncateFloat(b), true
	case float32:
		return truncateFloat(float64(b)), true
	case int, int8, int16, int32, int64, uint8, uint16, uint32, bool:
		n, err := cast.ToInt64E(b)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func truncateFloat(f float64) int64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(math.Trunc(f))
}

// parseNumericPrefix reads [ws][sign]digits[.digits][(e|E)[sign]digits] from
// the start of s and ignores the rest.
func parseNumericPrefix(s string) int64 {
	s = strings.TrimLeft(s, " \t\n\r\v\f")

	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	intStart := i
	i = skipDigits(s, i)
	intDigits := i - intStart
	intEnd := i

	fracDigits := 0
	if i < len(s) && s[i] == '.' {
		j := skipDigits(s, i+1)
		fracDigits = j - (i + 1)
		if intDigits > 0 || fracDigits > 0 {
			i = j
		}
	}
	if intDigits == 0 && fracDigits == 0 {
		return 0
	}

	isFloat := i > intEnd
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		if k := skipDigits(s, j); k > j {
			i = k
			isFloat = true
		}
	}

	prefix := s[:i]
	if !isFloat {
		if n, err := strconv.ParseInt(prefix, 10, 64); err == nil {
			return n
		}
	}
	// Fractions, exponents and integers beyond int64 go through float parsing;
	// range errors come back as ±Inf and saturate.
	f, err := strconv.ParseFloat(prefix, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0
	}
	return truncateFloat(f)
}

func skipDigits(s string, i int) int {
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return i
}
