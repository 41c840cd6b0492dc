package transcode

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"unicode/utf8"

	"mediaconvert/logger"
	"mediaconvert/models"
)

var (
	ErrNoEncoder   = errors.New("no encoder available for format")
	ErrToolMissing = errors.New("required command not found in PATH")
)

// ProgressFunc receives engine-reported completion in percent (0-100).
type ProgressFunc func(percent float64)

// Request describes one conversion between two local files.
type Request struct {
	Input        string
	Output       string
	Kind         models.MediaKind
	SourceFormat string
	TargetFormat string
}

// Transcoder converts media files and renders preview thumbnails.
type Transcoder interface {
	Transcode(ctx context.Context, req Request, onProgress ProgressFunc) error
	// Thumbnail writes a small JPEG preview of input to output.
	Thumbnail(ctx context.Context, kind models.MediaKind, input, output string) error
}

// ThumbnailFormat is the format written by Thumbnail.
const ThumbnailFormat = "jpeg"

// Tools names the external binaries the command transcoder runs.
type Tools struct {
	FFmpeg  string
	FFprobe string
	Magick  string
	Cwebp   string
}

// ToolError carries the failing command and the tail of its stderr.
type ToolError struct {
	Tool   string
	Err    error
	Stderr string
}

func (e *ToolError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
	}
	return fmt.Sprintf("%s failed: %v: %s", e.Tool, e.Err, e.Stderr)
}

func (e *ToolError) Unwrap() error { return e.Err }

// EncodeFunc is the signature for image encoders.
type EncodeFunc func(ctx context.Context, in, out string) error

// CommandTranscoder shells out to ffmpeg/ffprobe for video and to
// ImageMagick/cwebp for images.
type CommandTranscoder struct {
	tools    Tools
	encoders map[string]EncodeFunc
	lookPath func(string) (string, error)
}

// NewCommandTranscoder registers every image encoder whose command exists.
func NewCommandTranscoder(tools Tools) *CommandTranscoder {
	t := &CommandTranscoder{
		tools:    tools,
		encoders: map[string]EncodeFunc{},
		lookPath: exec.LookPath,
	}
	t.RegisterDefaults()
	return t
}

// Register adds an encoder if the underlying command exists, logs status.
func (t *CommandTranscoder) Register(format, cmdName string, fn EncodeFunc) {
	if _, err := t.lookPath(cmdName); err != nil {
		logger.Warnf("encoder [%s] skipped: command '%s' not found in PATH", format, cmdName)
		return
	}
	t.encoders[format] = fn
	logger.Debugf("encoder [%s] registered (command: %s)", format, cmdName)
}

// RegisterDefaults registers the built-in image encoders. cwebp is preferred
// for webp; ImageMagick covers it when cwebp is missing.
func (t *CommandTranscoder) RegisterDefaults() {
	t.Register("jpeg", t.tools.Magick, t.encodeJPEG)
	t.Register("png", t.tools.Magick, t.encodePNG)
	t.Register("webp", t.tools.Magick, t.encodeWebPMagick)
	t.Register("webp", t.tools.Cwebp, t.encodeWebP)
}

// Get looks up the image encoder for format.
func (t *CommandTranscoder) Get(format string) (EncodeFunc, bool) {
	fn, ok := t.encoders[format]
	return fn, ok
}

// CheckTools reports which external commands are unavailable.
func (t *CommandTranscoder) CheckTools() []string {
	var missing []string
	for _, name := range []string{t.tools.FFmpeg, t.tools.FFprobe, t.tools.Magick, t.tools.Cwebp} {
		if _, err := t.lookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	return missing
}

func (t *CommandTranscoder) Transcode(ctx context.Context, req Request, onProgress ProgressFunc) error {
	if onProgress == nil {
		onProgress = func(float64) {}
	}
	switch req.Kind {
	case models.KindImage:
		return t.transcodeImage(ctx, req, onProgress)
	case models.KindVideo:
		return t.transcodeVideo(ctx, req, onProgress)
	default:
		return fmt.Errorf("%w: %s", ErrNoEncoder, req.Kind)
	}
}

// run executes a command and wraps failures with the tail of stderr.
func run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr tailBuffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ToolError{Tool: name, Err: err, Stderr: stderr.String()}
	}
	return nil
}

const stderrTail = 512

// tailBuffer keeps the last stderrTail bytes written to it.
type tailBuffer struct {
	buf []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > stderrTail {
		b.buf = b.buf[len(b.buf)-stderrTail:]
		for len(b.buf) > 0 && !utf8.RuneStart(b.buf[0]) {
			b.buf = b.buf[1:]
		}
	}
	return len(p), nil
}

// String drops any bytes that are not valid UTF-8; the tail ends up in
// failure reasons stored as text.
func (b *tailBuffer) String() string {
	return strings.TrimSpace(strings.ToValidUTF8(string(b.buf), ""))
}
