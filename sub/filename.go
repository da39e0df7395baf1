package sub

import (
	"path/filepath"
	"runtime"
	"strings"
)

// sanitizeFilename replaces characters that are illegal in filenames with
// an underscore, character by character. Non-ASCII text passes through
// untouched.
func sanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' ||
			r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case r < 0x20:
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// destFilename derives the filename for one enclosure URL. The base name is
// the URL's final path segment with any query suffix stripped. When the
// title-as-filename policy is on, the entry title plus the URL-derived
// extension is used instead; Windows is excluded from that policy because
// feed titles routinely produce invalid names there, and falls back to the
// URL-derived name.
func destFilename(url, title string, useTitle bool) string {
	base := url
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}

	if useTitle && runtime.GOOS != "windows" {
		return sanitizeFilename(title + filepath.Ext(base))
	}
	return sanitizeFilename(base)
}
