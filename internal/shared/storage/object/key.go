package object

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// maxNameBytes keeps timestamp plus name within the 255 byte file name limit
// of the local backend.
const maxNameBytes = 240

var errInvalidFileName = errors.New("invalid file name")

// DeriveKey builds the storage key for an upload: the millisecond timestamp
// followed by the sanitized original file name.
func DeriveKey(now time.Time, fileName string) (string, error) {
	sanitized, err := SanitizeFileName(fileName)
	if err != nil {
		return "", fmt.Errorf("sanitize file name: %w", err)
	}
	return fmt.Sprintf("%d-%s", now.UnixMilli(), sanitized), nil
}

// SanitizeFileName flattens an uploaded file name into a single key segment.
// Separators become underscores, control characters are dropped and names
// longer than maxNameBytes are cut before the extension. Names containing ".."
// are rejected outright.
func SanitizeFileName(name string) (string, error) {
	if strings.Contains(name, "..") {
		return "", errInvalidFileName
	}
	s := strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\':
			return '_'
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, strings.TrimSpace(name))
	s = strings.TrimSpace(s)
	if s == "" || s == "." {
		return "", errInvalidFileName
	}
	if len(s) > maxNameBytes {
		ext := path.Ext(s)
		if len(ext) > 16 {
			ext = ""
		}
		stem := s[:maxNameBytes-len(ext)]
		for !utf8.ValidString(stem) {
			stem = stem[:len(stem)-1]
		}
		s = strings.TrimSpace(stem) + ext
	}
	return s, nil
}

// TitleFromKey recovers a display title from a key produced by DeriveKey by
// dropping any directory part and the leading timestamp.
func TitleFromKey(key string) string {
	base := path.Base(strings.TrimSpace(key))
	if base == "." || base == "/" {
		return ""
	}
	if i := strings.IndexByte(base, '-'); i > 0 && isDigits(base[:i]) {
		if rest := strings.TrimSpace(base[i+1:]); rest != "" {
			return rest
		}
	}
	return base
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// EscapeKey escapes each segment of a key for use in a URL path.
func EscapeKey(key string) string {
	parts := strings.Split(strings.TrimLeft(key, "/"), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
