package formats

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"mediaconvert/models"
)

var (
	ErrUnsupportedMediaKind = errors.New("unsupported media type")
	ErrInvalidTargetFormat  = errors.New("invalid target format")
)

// Formats the service reads and writes. mpg is accepted as an input only;
// mpeg is recorded as mpg.
var (
	imageFormats = map[string]bool{"jpeg": true, "png": true, "webp": true}
	videoFormats = map[string]bool{"mp4": true, "mov": true, "webm": true}
	legacyInputs = map[string]bool{"mpg": true}

	// Containers that users regularly try and that get a dedicated error.
	legacyRejected = map[string]bool{
		"avi": true, "wmv": true, "flv": true, "mkv": true,
		"m4v": true, "3gp": true, "asf": true,
	}
)

var mimeToFormat = map[string]string{
	"image/jpeg":       "jpeg",
	"image/jpg":        "jpeg",
	"image/pjpeg":      "jpeg",
	"image/png":        "png",
	"image/webp":       "webp",
	"video/mp4":        "mp4",
	"video/quicktime":  "mov",
	"video/webm":       "webm",
	"video/mpeg":       "mpg",
	"video/x-msvideo":  "avi",
	"video/avi":        "avi",
	"video/x-ms-wmv":   "wmv",
	"video/x-flv":      "flv",
	"video/x-matroska": "mkv",
	"video/x-m4v":      "m4v",
	"video/3gpp":       "3gp",
	"video/x-ms-asf":   "asf",
}

var formatToMime = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
	"mp4":  "video/mp4",
	"mov":  "video/quicktime",
	"webm": "video/webm",
	"mpg":  "video/mpeg",
}

// Classification is the detected kind and canonical format of an upload.
type Classification struct {
	Kind   models.MediaKind
	Format string
}

// RequiresNormalization reports whether the input must be transcoded to mp4
// before the primary conversion can run.
func (c Classification) RequiresNormalization() bool {
	return legacyInputs[c.Format]
}

// LegacyVideoError is returned for recognised video containers the service
// refuses, so callers can tell the user which format to convert from instead.
type LegacyVideoError struct {
	Format string
}

func (e *LegacyVideoError) Error() string {
	return fmt.Sprintf("legacy video format '%s' is not supported; please convert to mp4, mov, webm or mpg first", e.Format)
}

func (e *LegacyVideoError) Unwrap() error { return ErrUnsupportedMediaKind }

// MismatchError reports a target format that does not belong to the input's kind.
type MismatchError struct {
	Kind   models.MediaKind
	Target string
}

func (e *MismatchError) Error() string {
	allowed := "jpeg, png, webp"
	if e.Kind == models.KindVideo {
		allowed = "mp4, mov, webm"
	}
	return fmt.Sprintf("cannot convert %s to '%s'; allowed targets: %s", e.Kind, e.Target, allowed)
}

// canonical lowercases a format tag and folds aliases.
func canonical(format string) string {
	f := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(format, ".")))
	switch f {
	case "jpg":
		return "jpeg"
	case "mpeg":
		return "mpg"
	}
	return f
}

// Classify decides the media kind and canonical format from the file name,
// falling back to the MIME type when the extension is missing or unknown.
func Classify(filename, mimeType string) (Classification, error) {
	format := canonical(filepath.Ext(filename))
	if !known(format) {
		format = fromMime(mimeType)
	}

	switch {
	case imageFormats[format]:
		return Classification{Kind: models.KindImage, Format: format}, nil
	case videoFormats[format], legacyInputs[format]:
		return Classification{Kind: models.KindVideo, Format: format}, nil
	case legacyRejected[format]:
		return Classification{}, &LegacyVideoError{Format: format}
	}

	if format == "" {
		return Classification{}, fmt.Errorf("%w: cannot determine format of '%s'", ErrUnsupportedMediaKind, filename)
	}
	return Classification{}, fmt.Errorf("%w: '%s'", ErrUnsupportedMediaKind, format)
}

func known(format string) bool {
	return imageFormats[format] || videoFormats[format] || legacyInputs[format] || legacyRejected[format]
}

func fromMime(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return ""
	}
	return mimeToFormat[mediaType]
}

// ParseTarget validates a requested target format and returns its canonical form.
func ParseTarget(target string) (string, error) {
	f := canonical(target)
	if imageFormats[f] || videoFormats[f] {
		return f, nil
	}
	if f == "" {
		return "", fmt.Errorf("%w: targetFormat is required", ErrInvalidTargetFormat)
	}
	return "", fmt.Errorf("%w: '%s'", ErrInvalidTargetFormat, target)
}

// IsCompatible reports whether kind may be converted to target. Conversions
// never cross kinds, and mpg/mpeg are never targets.
func IsCompatible(kind models.MediaKind, target string) bool {
	target = canonical(target)
	switch kind {
	case models.KindImage:
		return imageFormats[target]
	case models.KindVideo:
		return videoFormats[target]
	}
	return false
}

// KindOf infers the media kind of a stored format tag. Unknown tags map to
// KindOther so retention can still bucket old or odd records.
func KindOf(format string) models.MediaKind {
	f := canonical(format)
	switch {
	case imageFormats[f]:
		return models.KindImage
	case videoFormats[f], legacyInputs[f]:
		return models.KindVideo
	}
	return models.KindOther
}

// MimeType returns the content type for a format, or application/octet-stream.
func MimeType(format string) string {
	if m, ok := formatToMime[canonical(format)]; ok {
		return m
	}
	return "application/octet-stream"
}
