package transcode

import (
	"context"
	"fmt"
	"io"
	"os"

	"mediaconvert/logger"
)

const imageQuality = 85

func (t *CommandTranscoder) transcodeImage(ctx context.Context, req Request, onProgress ProgressFunc) error {
	onProgress(10)

	if req.SourceFormat == req.TargetFormat {
		if err := copyFile(req.Input, req.Output); err != nil {
			return err
		}
		onProgress(100)
		return nil
	}

	encode, ok := t.Get(req.TargetFormat)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoEncoder, req.TargetFormat)
	}
	onProgress(30)
	if err := encode(ctx, req.Input, req.Output); err != nil {
		return err
	}
	onProgress(100)
	return nil
}

func (t *CommandTranscoder) encodeJPEG(ctx context.Context, in, out string) error {
	return t.magickEncode(ctx, in, out, "jpeg")
}

func (t *CommandTranscoder) encodePNG(ctx context.Context, in, out string) error {
	return t.magickEncode(ctx, in, out, "png")
}

func (t *CommandTranscoder) encodeWebPMagick(ctx context.Context, in, out string) error {
	return t.magickEncode(ctx, in, out, "webp")
}

func (t *CommandTranscoder) magickEncode(ctx context.Context, in, out, format string) error {
	return run(ctx, t.tools.Magick, magickArgs(in, out, format)...)
}

func magickArgs(in, out, format string) []string {
	args := []string{in, "-auto-orient", "-strip"}
	if format == "jpeg" {
		// flatten transparency onto white
		args = append(args, "-background", "white", "-flatten")
	}
	return append(args, "-quality", fmt.Sprint(imageQuality), fmt.Sprintf("%s:%s", format, out))
}

func (t *CommandTranscoder) encodeWebP(ctx context.Context, in, out string) error {
	return run(ctx, t.tools.Cwebp, cwebpArgs(in, out)...)
}

func cwebpArgs(in, out string) []string {
	return []string{"-quiet", "-q", fmt.Sprint(imageQuality), "-m", "4", "-metadata", "none", in, "-o", out}
}

// copyFile is used when no re-encoding is needed.
func copyFile(input, output string) error {
	src, err := os.Open(input)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(output)
	if err != nil {
		return err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return err
	}

	logger.Debugf("copied original file from %s to %s", input, output)
	return nil
}
