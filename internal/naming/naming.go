// Package naming derives the storage paths of renditions and uploads.
//
// Every function here is pure: the same inputs always produce the same path.
// Derived paths double as cache keys, so they never contain whitespace.
package naming

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/leca/dt-image-renditions/internal/model"
)

// Default namespace roots for derived artifacts.
const (
	DefaultSizedRoot    = "__sized__"
	DefaultFilteredRoot = "__filtered__"
)

// defaultExt is assumed for sources without an extension.
const defaultExt = "jpg"

// hashLen is the number of hex characters kept from the fragment digest.
const hashLen = 16

// qualityExts are the formats whose encoded bytes depend on the quality
// setting; their sized paths change when the setting changes.
var qualityExts = map[string]bool{"jpg": true, "jpeg": true, "webp": true}

// SizedTag matches the tag between stem and extension of a sized rendition
// file name, e.g. "-0123456789abcdef".
var SizedTag = regexp.MustCompile(fmt.Sprintf(`^-[0-9a-f]{%d}$`, hashLen))

// Namer maps (source path, rendition key) to derived storage paths.
type Namer struct {
	SizedRoot    string
	FilteredRoot string
	Quality      int
}

// New returns a Namer with the given roots, falling back to the defaults for
// empty values.
func New(sizedRoot, filteredRoot string, quality int) Namer {
	if sizedRoot == "" {
		sizedRoot = DefaultSizedRoot
	}
	if filteredRoot == "" {
		filteredRoot = DefaultFilteredRoot
	}
	return Namer{SizedRoot: sizedRoot, FilteredRoot: filteredRoot, Quality: quality}
}

// ShortHash returns a bounded, content-derived code for s.
func ShortHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// splitName splits a base name into stem and extension at the last dot.
func splitName(base string) (stem, ext string) {
	i := strings.LastIndexByte(base, '.')
	if i < 0 {
		return base, defaultExt
	}
	return base[:i], base[i+1:]
}

// stripSpaces removes every whitespace rune from p.
func stripSpaces(p string) string {
	return strings.Join(strings.Fields(p), "")
}

// ResizedFilename returns the file name of a sized rendition of baseName.
// An empty ext keeps the source extension.
func (n Namer) ResizedFilename(baseName, ext string, width, height int, label string) string {
	stem, sourceExt := splitName(baseName)
	if ext == "" {
		ext = sourceExt
	}
	fragment := fmt.Sprintf("%s-%dx%d", label, width, height)
	if qualityExts[strings.ToLower(ext)] {
		fragment += "-" + strconv.Itoa(n.Quality)
	}
	return stem + "-" + ShortHash(fragment) + "." + ext
}

// ResizedPath returns the storage path of a sized rendition of sourcePath.
func (n Namer) ResizedPath(sourcePath, ext string, width, height int, label string) string {
	folder, base := path.Split(sourcePath)
	name := n.ResizedFilename(base, ext, width, height, label)
	return stripSpaces(path.Join(n.SizedRoot, folder, name))
}

// FilteredFilename returns the file name of a filtered rendition of baseName.
func FilteredFilename(baseName, ext, label string) string {
	stem, sourceExt := splitName(baseName)
	if ext == "" {
		ext = sourceExt
	}
	return stem + "__" + label + "__." + ext
}

// FilteredPath returns the storage path of a filtered rendition of sourcePath.
func (n Namer) FilteredPath(sourcePath, ext, label string) string {
	folder, base := path.Split(sourcePath)
	return stripSpaces(path.Join(folder, n.FilteredRoot, FilteredFilename(base, ext, label)))
}

// SizedFolder is the folder holding the sized renditions of sourcePath.
func (n Namer) SizedFolder(sourcePath string) string {
	return stripSpaces(path.Join(n.SizedRoot, path.Dir(sourcePath)))
}

// FilteredFolder is the folder holding the filtered renditions of sourcePath.
func (n Namer) FilteredFolder(sourcePath string) string {
	return stripSpaces(path.Join(path.Dir(sourcePath), n.FilteredRoot))
}

// Label returns the file name label of a sized key. Crop labels embed the
// focal point so that moving it yields new paths.
func Label(key model.RenditionKey, focal model.FocalPoint) string {
	if key.Op.IsCrop() {
		return string(key.Op) + "-c" + focalString(focal)
	}
	return string(key.Op)
}

func focalString(p model.FocalPoint) string {
	x := strings.ReplaceAll(strconv.FormatFloat(p.X, 'f', -1, 64), ".", "-")
	y := strings.ReplaceAll(strconv.FormatFloat(p.Y, 'f', -1, 64), ".", "-")
	return x + "__" + y
}

// Extension returns the forced output extension of key, or "" to keep the
// source extension.
func Extension(key model.RenditionKey) string {
	if key.Op.IsWebP() || (key.Op == model.OpFilter && key.Filter == "to_webp") {
		return "webp"
	}
	return ""
}

// Path returns the derived storage path of key for sourcePath.
func (n Namer) Path(sourcePath string, key model.RenditionKey, focal model.FocalPoint) string {
	if key.Op == model.OpFilter {
		return n.FilteredPath(sourcePath, Extension(key), key.Filter)
	}
	return n.ResizedPath(sourcePath, Extension(key), key.Width, key.Height, Label(key, focal))
}

// FilteredTag returns a matcher for the tag of filtered rendition file names
// produced by any of filters.
func FilteredTag(filters []string) *regexp.Regexp {
	quoted := make([]string, len(filters))
	for i, f := range filters {
		quoted[i] = regexp.QuoteMeta(f)
	}
	return regexp.MustCompile(`^__(` + strings.Join(quoted, "|") + `)__$`)
}

// Tag extracts the part of fileName between stem and its extension. ok is
// false when fileName does not start with stem.
func Tag(fileName, stem string) (tag string, ok bool) {
	if !strings.HasPrefix(fileName, stem) {
		return "", false
	}
	rest := fileName[len(stem):]
	if i := strings.LastIndexByte(rest, '.'); i >= 0 {
		rest = rest[:i]
	}
	return rest, true
}

// Stem returns the stem of the base name of sourcePath.
func Stem(sourcePath string) string {
	stem, _ := splitName(path.Base(sourcePath))
	return stripSpaces(stem)
}
