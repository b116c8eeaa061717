package naming

import (
	"path"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slugify lowercases s, strips diacritics and collapses every run of
// characters other than letters and digits into a single hyphen.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			hyphen = false
		case r == '_':
			b.WriteRune(r)
			hyphen = false
		default:
			if !hyphen && b.Len() > 0 {
				b.WriteByte('-')
				hyphen = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

// UploadPath returns the storage path for a new upload:
// <kind>/<yyyy>/<mm>/<dd>/<name>.<ext>, all lowercase.
func UploadPath(kind, filename string, now time.Time) string {
	stem, ext := splitName(path.Base(filename))
	name := Slugify(stem)
	if name == "" {
		name = "image"
	}
	kindSlug := Slugify(kind)
	if kindSlug == "" {
		kindSlug = "asset"
	}
	return strings.ToLower(path.Join(kindSlug, now.Format("2006/01/02"), name+"."+ext))
}

// WithSuffix inserts suffix before the extension of p.
func WithSuffix(p, suffix string) string {
	ext := path.Ext(p)
	return strings.TrimSuffix(p, ext) + "_" + suffix + ext
}
