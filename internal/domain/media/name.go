package media

import (
	"errors"
	"mime"
	"path"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxUploadBytes is the upload size ceiling (100 MiB).
const MaxUploadBytes int64 = 100 << 20

const (
	storageTimeLayout   = "20060102T150405"
	maxDisplayNameBytes = 255
)

var (
	storageNamePattern = regexp.MustCompile(`^[0-9]{8}T[0-9]{6}-[0-9a-f]{12}(\.[a-z0-9]{1,5})?$`)
	extPattern         = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

	ErrInvalidStorageName = errors.New("invalid storage name")

	// ErrFileTooLarge is a validation error raised while streaming an upload.
	ErrFileTooLarge error = &Error{Kind: KindValidation, Message: "file exceeds upload size limit"}
)

var mimeExts = map[string]string{
	"audio/mpeg":   ".mp3",
	"audio/mp3":    ".mp3",
	"audio/wav":    ".wav",
	"audio/x-wav":  ".wav",
	"audio/wave":   ".wav",
	"audio/ogg":    ".ogg",
	"audio/opus":   ".opus",
	"audio/flac":   ".flac",
	"audio/x-flac": ".flac",
	"audio/aac":    ".aac",
	"audio/mp4":    ".m4a",
	"audio/x-m4a":  ".m4a",
	"audio/webm":   ".webm",
	"audio/aiff":   ".aiff",
	"audio/x-aiff": ".aiff",
}

// NormalizeAudioMIME validates a declared content type and returns its bare media type.
func NormalizeAudioMIME(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return "", ValidationError("missing content type")
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return "", ValidationError("invalid content type %q", raw)
	}
	if !strings.HasPrefix(mediaType, "audio/") || mediaType == "audio/" {
		return "", ValidationError("unsupported content type %q: only audio/* is accepted", mediaType)
	}
	return mediaType, nil
}

// StorageExt picks the extension for a stored file. The original extension
// is kept when it is short and alphanumeric; otherwise it is derived from the
// MIME type.
func StorageExt(originalName, mimeType string) string {
	base := strings.ReplaceAll(strings.TrimSpace(originalName), "\\", "/")
	ext := strings.ToLower(path.Ext(path.Base(base)))
	if extPattern.MatchString(ext) {
		return ext
	}
	if derived, ok := mimeExts[strings.ToLower(mimeType)]; ok {
		return derived
	}
	return ".bin"
}

// NewStorageName composes a stored file name from a timestamp, a random
// suffix of 12 lowercase hex characters and an extension.
func NewStorageName(now time.Time, suffix, ext string) (string, error) {
	name := now.UTC().Format(storageTimeLayout) + "-" + strings.ToLower(suffix) + ext
	return ValidateStorageName(name)
}

// ValidateStorageName accepts only names produced by NewStorageName. Any other
// value, including anything with a path separator, is rejected.
func ValidateStorageName(raw string) (string, error) {
	value := strings.TrimSpace(raw)
	if !storageNamePattern.MatchString(value) {
		return "", ErrInvalidStorageName
	}
	return value, nil
}

// DisplayName trims directories from a client supplied file name. It is only
// ever stored as metadata.
func DisplayName(raw string) string {
	value := strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/")
	base := path.Base(value)
	if base == "." || base == "/" {
		return ""
	}
	if len(base) > maxDisplayNameBytes {
		cut := maxDisplayNameBytes
		for cut > 0 && !utf8.RuneStart(base[cut]) {
			cut--
		}
		base = base[:cut]
	}
	return strings.ToValidUTF8(base, "")
}
