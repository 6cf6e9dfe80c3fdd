package database

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidDisplayName is returned for empty or oversized display names.
var ErrInvalidDisplayName = errors.New("invalid display name")

// NormalizeDisplayName composes the name to NFC, drops control characters and
// collapses runs of whitespace. Returns ErrInvalidDisplayName when nothing is
// left or the name exceeds MaxDisplayNameLength runes.
func NormalizeDisplayName(name string) (string, error) {
	t := transform.Chain(norm.NFC, runes.Remove(runes.In(unicode.Cc)))
	clean, _, err := transform.String(t, strings.Join(strings.Fields(name), " "))
	if err != nil {
		return "", ErrInvalidDisplayName
	}
	clean = strings.Join(strings.Fields(clean), " ")
	if clean == "" || utf8.RuneCountInString(clean) > MaxDisplayNameLength {
		return "", ErrInvalidDisplayName
	}
	return clean, nil
}

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// Slug folds a display name into a lowercase ASCII key ("Jan Novák" -> "jan-novak").
func Slug(name string) string {
	name = strings.ToLower(RemoveDiacritics(name))

	var b strings.Builder
	dash := false
	for _, r := range name {
		if r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
