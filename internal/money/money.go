// Package money implements the gate's deterministic decimal-string to
// integer normalizer. Two independent implementations of this algorithm
// must agree bit-for-bit, so every step is precise about its rounding:
// arbitrary-precision intermediates via math/big, narrowed to a machine
// integer only on output.
package money

import (
	"errors"
	"math/big"
	"regexp"
	"strings"
)

// Mode selects how excess fractional digits are handled.
type Mode string

const (
	ModeStrict   Mode = "strict"
	ModeRound    Mode = "round"
	ModeTruncate Mode = "truncate"
)

var (
	ErrInvalidNumeric     = errors.New("invalid_numeric")
	ErrPrecisionExceeded  = errors.New("precision_exceeded")
	ErrOverflow           = errors.New("overflow")
)

// SafeIntegerMax is the largest integer a float64 (and, by extension, a
// normalized money value) can represent exactly: 2^53 - 1.
const SafeIntegerMax = (int64(1) << 53) - 1

var decimalPattern = regexp.MustCompile(`^[+-]?\d+(\.\d+)?$`)

// Normalize converts a textual decimal into value * 10^precision, returned
// as a machine integer bounded by ±SafeIntegerMax.
func Normalize(input string, precision int, mode Mode) (int64, error) {
	s := strings.TrimSpace(input)
	if !decimalPattern.MatchString(s) {
		return 0, ErrInvalidNumeric
	}

	negative := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		negative = true
		s = s[1:]
	}

	intPart := s
	fracPart := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart = s[:idx]
		fracPart = s[idx+1:]
	}

	if len(fracPart) > precision {
		switch mode {
		case ModeStrict:
			return 0, ErrPrecisionExceeded
		case ModeTruncate:
			fracPart = fracPart[:precision]
		case ModeRound:
			roundDigit := fracPart[precision]
			fracPart = fracPart[:precision]
			if roundDigit >= '5' {
				fracPart, intPart = incrementDecimal(intPart, fracPart)
			}
		default:
			return 0, ErrInvalidNumeric
		}
	} else {
		fracPart = fracPart + strings.Repeat("0", precision-len(fracPart))
	}

	combined := intPart + fracPart
	if combined == "" {
		combined = "0"
	}

	magnitude := new(big.Int)
	if _, ok := magnitude.SetString(combined, 10); !ok {
		return 0, ErrInvalidNumeric
	}

	if negative {
		magnitude.Neg(magnitude)
	}

	max := big.NewInt(SafeIntegerMax)
	min := new(big.Int).Neg(max)
	if magnitude.Cmp(max) > 0 || magnitude.Cmp(min) < 0 {
		return 0, ErrOverflow
	}

	return magnitude.Int64(), nil
}

// incrementDecimal adds 1 to the magnitude represented by intPart.fracPart
// (both non-negative digit strings), half-away-from-zero rounding's carry
// step. Returns the possibly carried fracPart and intPart.
func incrementDecimal(intPart, fracPart string) (string, string) {
	digits := []byte(intPart + fracPart)
	carry := byte(1)
	for i := len(digits) - 1; i >= 0 && carry > 0; i-- {
		d := digits[i] - '0' + carry
		digits[i] = d%10 + '0'
		carry = d / 10
	}
	if carry > 0 {
		digits = append([]byte{'1'}, digits...)
	}
	fracLen := len(fracPart)
	newFrac := string(digits[len(digits)-fracLen:])
	newInt := string(digits[:len(digits)-fracLen])
	if newInt == "" {
		newInt = "0"
	}
	return newFrac, newInt
}
