package utils

import (
	"crypto/rand"
	"math/big"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// GenerateUUID generates a UUID v4 string.
func GenerateUUID() string {
	return uuid.New().String()
}

// RandomFrom generates a random string of the given length drawn from
// alphabet.
func RandomFrom(alphabet string, length int) string {
	b := make([]byte, length)
	for i := range b {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		b[i] = alphabet[n.Int64()]
	}
	return string(b)
}

// IsNumeric checks if a string is non-empty and all digits.
func IsNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// DigitsOnly strips every non-digit rune from s.
func DigitsOnly(s string) string {
	var out strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) {
			out.WriteRune(r)
		}
	}
	return out.String()
}
