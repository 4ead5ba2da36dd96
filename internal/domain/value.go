package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrUnparseable reports a raw value that is neither a number nor a
// recognized censor marker followed by a number.
var ErrUnparseable = errors.New("unparseable value")

// Value is a parsed raw value. For censored values Number is the detection
// limit encoded after the marker.
type Value struct {
	Censor  CensorCode
	Number  float64
	Integer bool
}

// ParseValue parses Hilltop value text such as "12", "0.35", "<0.005" or
// ">2420". Non-ASCII bytes are stripped first.
func ParseValue(raw string) (Value, error) {
	s := strings.TrimSpace(StripNonASCII(raw))
	censor := NotCensored
	switch {
	case strings.HasPrefix(s, "<"):
		censor = LessThan
		s = strings.TrimSpace(s[1:])
	case strings.HasPrefix(s, ">"):
		censor = GreaterThan
		s = strings.TrimSpace(s[1:])
	}

	n, integer, err := parseNumber(s)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %q", ErrUnparseable, raw)
	}
	return Value{Censor: censor, Number: n, Integer: integer}, nil
}

// parseNumber tries an integer parse before a float parse so integer-valued
// series stay integer-like for precision rounding.
func parseNumber(s string) (float64, bool, error) {
	if s == "" {
		return 0, false, ErrUnparseable
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return float64(i), true, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false, ErrUnparseable
	}
	return f, false, nil
}

// StripNonASCII drops every byte outside the 7-bit ASCII range.
func StripNonASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			var b strings.Builder
			b.Grow(len(s))
			for j := 0; j < len(s); j++ {
				if s[j] < 0x80 {
					b.WriteByte(s[j])
				}
			}
			return b.String()
		}
	}
	return s
}

// ApplyPrecision rounds a non-censored value to the given number of decimal
// places. Censored values keep their reported limit.
func ApplyPrecision(v Value, precision int) Value {
	if v.Censor != NotCensored || precision < 0 {
		return v
	}
	p := math.Pow(10, float64(precision))
	v.Number = math.Round(v.Number*p) / p
	if precision == 0 {
		v.Integer = true
	}
	return v
}

// FormatNumber renders a value back to text, integer-like when possible.
func FormatNumber(v Value) string {
	var s string
	if v.Integer && v.Number == math.Trunc(v.Number) {
		s = strconv.FormatInt(int64(v.Number), 10)
	} else {
		s = strconv.FormatFloat(v.Number, 'f', -1, 64)
	}
	switch v.Censor {
	case LessThan:
		return "<" + s
	case GreaterThan:
		return ">" + s
	default:
		return s
	}
}
