// Package blob stores uploaded file bytes and generates their storage keys.
package blob

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxNameLen bounds the filename portion of a key.
const maxNameLen = 128

// Key returns a fresh storage key for filename.
func Key(filename string) string {
	return KeyAt(time.Now(), filename)
}

// KeyAt returns a storage key of the form "<unix-millis>-<uuid>-<name>".
// The UUID keeps two same-named files written in the same millisecond apart.
func KeyAt(now time.Time, filename string) string {
	return fmt.Sprintf("%d-%s-%s", now.UnixMilli(), uuid.NewString(), SanitizeName(filename))
}

// SanitizeName reduces filename to a single safe path segment.
// Anything outside [A-Za-z0-9._-] becomes '_'.
func SanitizeName(filename string) string {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == ".." {
		name = ""
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	out := strings.TrimLeft(b.String(), ".")
	if out == "" {
		return "file"
	}
	if len(out) > maxNameLen {
		out = out[len(out)-maxNameLen:]
	}
	return out
}
