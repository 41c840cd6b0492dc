package transcode

import (
	"context"
	"fmt"

	"mediaconvert/logger"
	"mediaconvert/models"
)

const thumbnailSize = 320

// Thumbnail renders a preview: a resized copy for images, a frame near the
// start for videos.
func (t *CommandTranscoder) Thumbnail(ctx context.Context, kind models.MediaKind, input, output string) error {
	switch kind {
	case models.KindImage:
		if _, err := t.lookPath(t.tools.Magick); err == nil {
			return run(ctx, t.tools.Magick, imageThumbnailArgs(input, output)...)
		}
		return run(ctx, t.tools.FFmpeg, frameArgs(input, output, "")...)
	case models.KindVideo:
		err := run(ctx, t.tools.FFmpeg, frameArgs(input, output, "1")...)
		if err == nil || ctx.Err() != nil {
			return err
		}
		// clips shorter than a second have no frame at 1s
		logger.Debugf("Frame capture at 1s failed for %s, retrying at 0s: %v", input, err)
		return run(ctx, t.tools.FFmpeg, frameArgs(input, output, "0")...)
	}
	return fmt.Errorf("%w: thumbnail for %s", ErrNoEncoder, kind)
}

func imageThumbnailArgs(in, out string) []string {
	return []string{
		in, "-auto-orient", "-strip",
		"-thumbnail", fmt.Sprintf("%dx%d>", thumbnailSize, thumbnailSize),
		"-background", "white", "-flatten",
		"-quality", "80",
		"jpeg:" + out,
	}
}

func frameArgs(in, out, seek string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	if seek != "" {
		args = append(args, "-ss", seek)
	}
	return append(args,
		"-i", in,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale='min(%d,iw)':-2", thumbnailSize),
		"-q:v", "4",
		"-f", "image2",
		out,
	)
}
