package model

import (
	"strings"

	"github.com/pkg/errors"
)

// NormalizeMac canonicalizes a MAC address to uppercase, colon-separated
// form, accepting '-', ':' and whitespace separators as well as a bare
// 12-hex-digit form (spec.md §6). NormalizeMac is idempotent:
// NormalizeMac(NormalizeMac(x)) == NormalizeMac(x) for any accepted input.
func NormalizeMac(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '-', ':', ' ', '\t':
			return -1
		default:
			return r
		}
	}, raw)
	cleaned = strings.ToUpper(cleaned)
	if len(cleaned) != 12 {
		return "", errors.Errorf("mac %q: expected 12 hex digits after stripping separators, got %d", raw, len(cleaned))
	}
	for _, r := range cleaned {
		if !isHex(r) {
			return "", errors.Errorf("mac %q: invalid hex digit %q", raw, r)
		}
	}
	var b strings.Builder
	b.Grow(17)
	for i := 0; i < 12; i += 2 {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(cleaned[i : i+2])
	}
	return b.String(), nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F')
}
