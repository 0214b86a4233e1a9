package internal

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// NumericCode returns a uniformly random fixed-width numeric code, left
// padded with zeros. Digits must be between 4 and 10.
func NumericCode(digits int) (string, error) {
	if digits < 4 || digits > 10 {
		return "", fmt.Errorf("numeric code width out of range: %d", digits)
	}

	max := big.NewInt(10)
	for i := 1; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n.Int64()), nil
}

// IsNumericString reports whether v consists only of ASCII digits.
func IsNumericString(v string) bool {
	if v == "" {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
