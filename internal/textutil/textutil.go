// Package textutil holds the canonical text normalization shared by the
// ingest and validation stages.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// accentStripper decomposes to NFD, drops combining marks, and recomposes.
var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// StripAccents removes diacritical marks: "José" becomes "Jose".
func StripAccents(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeText uppercases, trims and strips accents, the canonical form for
// comparing location and name fields across sources.
func NormalizeText(s string) string {
	return StripAccents(strings.ToUpper(strings.TrimSpace(s)))
}
