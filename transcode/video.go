package transcode

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"mediaconvert/logger"
)

// videoCodecArgs returns the encoder flags for a target container.
func videoCodecArgs(format string) ([]string, error) {
	switch format {
	case "mp4":
		return []string{
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p",
			"-c:a", "aac", "-b:a", "128k", "-movflags", "+faststart",
		}, nil
	case "mov":
		return []string{
			"-c:v", "libx264", "-preset", "veryfast", "-crf", "23", "-pix_fmt", "yuv420p",
			"-c:a", "aac", "-b:a", "128k",
		}, nil
	case "webm":
		return []string{
			"-c:v", "libvpx-vp9", "-crf", "32", "-b:v", "0", "-deadline", "realtime", "-cpu-used", "8",
			"-c:a", "libopus", "-b:a", "96k",
		}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoEncoder, format)
}

// ffmpegArgs builds the full command line; progress is written as key=value
// lines to stdout.
func ffmpegArgs(in, out, format string) ([]string, error) {
	codec, err := videoCodecArgs(format)
	if err != nil {
		return nil, err
	}
	args := []string{"-hide_banner", "-nostdin", "-y", "-i", in}
	args = append(args, codec...)
	args = append(args, "-progress", "pipe:1", "-nostats", "-f", format, out)
	return args, nil
}

func (t *CommandTranscoder) transcodeVideo(ctx context.Context, req Request, onProgress ProgressFunc) error {
	args, err := ffmpegArgs(req.Input, req.Output, req.TargetFormat)
	if err != nil {
		return err
	}

	durationUs, err := t.probeDuration(ctx, req.Input)
	if err != nil {
		// progress stays at 0 until ffmpeg finishes; the conversion itself can still succeed
		logger.Warnf("Could not probe duration of %s: %v", req.Input, err)
	}

	cmd := exec.CommandContext(ctx, t.tools.FFmpeg, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	var stderr tailBuffer
	cmd.Stderr = &stderr

	logger.Debugf("Running %s %s", t.tools.FFmpeg, strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return &ToolError{Tool: t.tools.FFmpeg, Err: err}
	}

	parseProgress(stdout, durationUs, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ToolError{Tool: t.tools.FFmpeg, Err: err, Stderr: stderr.String()}
	}
	onProgress(100)
	return nil
}

// probeDuration returns the container duration in microseconds.
func (t *CommandTranscoder) probeDuration(ctx context.Context, input string) (int64, error) {
	out, err := exec.CommandContext(ctx, t.tools.FFprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	).Output()
	if err != nil {
		return 0, err
	}
	return parseDuration(string(out))
}

func parseDuration(s string) (int64, error) {
	secs, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", strings.TrimSpace(s), err)
	}
	if secs <= 0 {
		return 0, fmt.Errorf("non-positive duration %v", secs)
	}
	return int64(secs * 1_000_000), nil
}

// parseProgress reads ffmpeg's -progress stream and reports percent of
// totalUs, clamped to [0,100]. It returns at progress=end or EOF. Without a
// known duration nothing is reported.
func parseProgress(r io.Reader, totalUs int64, onProgress ProgressFunc) {
	scanner := bufio.NewScanner(r)
	last := -1.0
	for scanner.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		// out_time_ms is also microseconds in ffmpeg's output
		case "out_time_us", "out_time_ms":
			if totalUs <= 0 {
				continue
			}
			us, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				continue
			}
			pct := float64(us) / float64(totalUs) * 100
			pct = min(max(pct, 0), 100)
			if pct > last {
				last = pct
				onProgress(pct)
			}
		case "progress":
			if value == "end" {
				// drain so ffmpeg never blocks on a full pipe
				io.Copy(io.Discard, r)
				return
			}
		}
	}
}
