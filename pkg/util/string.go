package util

import (
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Truncate cuts s to at most max runes, never splitting a multi-byte character.
func Truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max])
}

// BuildCaption appends tags after a blank line, the way the platform renders them.
func BuildCaption(caption, tags string) string {
	return strings.TrimSpace(caption + "\n\n" + tags)
}

// NormalizeTags turns "a, #b  c" into "#a #b #c". Empty input stays empty.
func NormalizeTags(tagStr string) string {
	if strings.TrimSpace(tagStr) == "" {
		return ""
	}

	// Remove brackets if present
	tagStr = strings.Trim(tagStr, "[]")

	fields := strings.FieldsFunc(tagStr, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\n' || r == '\t'
	})

	var cleanTags []string
	for _, tag := range fields {
		tag = strings.Trim(tag, "\"'")
		tag = strings.TrimLeft(tag, "#")
		if tag != "" {
			cleanTags = append(cleanTags, "#"+tag)
		}
	}

	return strings.Join(cleanTags, " ")
}

// RuneLen is the length the platform counts against caption limits.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}

// SafeLocator reports whether locator is a relative path that stays under its base:
// no scheme, no absolute or drive path, no backslashes, no ".." escape.
func SafeLocator(locator string) bool {
	if locator == "" || strings.Contains(locator, "://") || strings.ContainsAny(locator, "\\\x00") {
		return false
	}
	if path.IsAbs(locator) || filepath.IsAbs(locator) || filepath.VolumeName(locator) != "" {
		return false
	}
	cleaned := path.Clean(locator)
	return cleaned != "." && cleaned != ".." && !strings.HasPrefix(cleaned, "../")
}
