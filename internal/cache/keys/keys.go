// Package keys derives cache keys for chunk objects.
package keys

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Chunk builds a deterministic, ASCII-safe cache key for one chunk object of
// one store. The store location is hashed rather than embedded so that keys
// stay short regardless of URL length; the object path is kept readable.
func Chunk(location, object string) string {
	sum := xxhash.Sum64String(strings.TrimSpace(location))
	return fmt.Sprintf("itslive:chunk:%016x:%s", sum, sanitize(object))
}

func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := r
		switch {
		case r == '/' || r == '\\':
			out = ':'
		case isAlphaNum(r) || r == '.' || r == '_' || r == '-':
			// keep
		default:
			out = '-'
		}
		if out == '-' && prev == '-' {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}
