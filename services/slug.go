package services

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"bib-registry/models"
)

// slugMaxTitleLen begrenzt den Titelanteil des Slugs.
const slugMaxTitleLen = 80

// ł/Ł decomposes into no combining mark, so NFD stripping misses it.
var slugReplacer = strings.NewReplacer("ł", "l", "Ł", "L", "ß", "ss")

var slugStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify wandelt beliebigen Text in eine URL-sichere Kleinbuchstaben-Form um.
func Slugify(s string) string {
	s = slugReplacer.Replace(s)
	if stripped, _, err := transform.String(slugStripper, s); err == nil {
		s = stripped
	}
	s = strings.ToLower(s)

	var b strings.Builder
	lastDash := true // suppress leading dash
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteRune('-')
				lastDash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// RecordSlug bildet den eindeutigen Slug einer Publikationszeile. Der
// (kind, id)-Suffix garantiert Eindeutigkeit und macht den Slug unter
// wiederholtem full refresh byte-identisch reproduzierbar.
func RecordSlug(title string, ref models.RecordRef) string {
	t := Slugify(title)
	if len(t) > slugMaxTitleLen {
		t = strings.TrimRight(t[:slugMaxTitleLen], "-")
	}
	suffix := string(ref.Kind) + "-" + strconv.FormatUint(uint64(ref.ID), 10)
	if t == "" {
		return suffix
	}
	return t + "-" + suffix
}
