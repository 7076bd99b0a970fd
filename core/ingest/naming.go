package ingest

import (
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	unsafeKeyChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	slugSeparators = regexp.MustCompile(`[^a-z0-9]+`)
)

const (
	defaultFilename = "unknown"
	defaultFormat   = "mp3"
	unknownArtist   = "Unknown Artist"
	unknownAlbum    = "Unknown Album"
	unknownTitle    = "Unknown Title"
)

// SanitizeFilename 非 [a-zA-Z0-9.-] 字符替换为下划线
func SanitizeFilename(name string) string {
	if name == "" {
		return defaultFilename
	}
	return unsafeKeyChars.ReplaceAllString(name, "_")
}

// StorageKey 形如 music/<uuid>-<sanitized name>，每次调用都不同
func StorageKey(prefix, filename string) string {
	return prefix + uuid.NewString() + "-" + SanitizeFilename(filename)
}

// Slugify 小写，非字母数字连续段替换为 -，去掉首尾 -
func Slugify(s string) string {
	return strings.Trim(slugSeparators.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// TitleFromFilename 去掉最后一个扩展名
func TitleFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if strings.TrimSpace(base) == "" {
		return unknownTitle
	}
	return base
}

// FormatFromFilename 小写扩展名，没有扩展名时按 mp3 处理
func FormatFromFilename(name string) string {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if ext == "" {
		return defaultFormat
	}
	return ext
}
