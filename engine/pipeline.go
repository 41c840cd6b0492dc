package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"mediaconvert/artifacts"
	"mediaconvert/formats"
	"mediaconvert/logger"
	"mediaconvert/models"
	"mediaconvert/transcode"
)

// Job progress milestones. Engine-reported percent is mapped into
// [transcodeStart, transcodeEnd].
const (
	progressDownloaded = 5
	transcodeStart     = 10
	transcodeEnd       = 90
	progressUploaded   = 95
)

func mapTranscodeProgress(pct float64) float64 {
	pct = min(max(pct, 0), 100)
	return transcodeStart + pct*(transcodeEnd-transcodeStart)/100
}

func (e *Engine) scratchDir(id string) (string, error) {
	dir := filepath.Join(e.opts.ScratchDir, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create scratch dir: %w", err)
	}
	return dir, nil
}

// convert runs the direct path: fetch the stored original, transcode it,
// store the output and a thumbnail.
func (e *Engine) convert(ctx context.Context, job models.ConversionJob, d formats.RoutingDecision, report func(float64)) (models.Completion, error) {
	dir, err := e.scratchDir(job.ID)
	if err != nil {
		return models.Completion{}, failure(ErrEngineFailure, "%v", err)
	}
	defer os.RemoveAll(dir)

	source := d.SourceFormat
	if d.NeedsNormalization() {
		source = d.IntermediateFormat
	}

	input := filepath.Join(dir, "source."+source)
	if err := artifacts.Download(ctx, e.artifacts, job.OriginalArtifactRef, input); err != nil {
		if errors.Is(err, artifacts.ErrNotFound) {
			return models.Completion{}, failure(ErrArtifactNotFound, "%s", job.OriginalArtifactRef)
		}
		return models.Completion{}, asFailure(err)
	}
	report(progressDownloaded)

	output := filepath.Join(dir, "converted."+d.TargetFormat)
	req := transcode.Request{
		Input:        input,
		Output:       output,
		Kind:         d.MediaKind,
		SourceFormat: source,
		TargetFormat: d.TargetFormat,
	}
	onProgress := func(pct float64) { report(mapTranscodeProgress(pct)) }

	report(transcodeStart)
	if d.MediaKind == models.KindImage {
		err = e.settle(ctx, e.opts.ImageTimeout, func(ctx context.Context) error {
			return e.transcoder.Transcode(ctx, req, onProgress)
		})
	} else {
		err = e.transcoder.Transcode(ctx, req, onProgress)
	}
	if err != nil {
		return models.Completion{}, asFailure(err)
	}

	convertedRef, err := artifacts.Upload(ctx, e.artifacts,
		"converted/"+job.ID+"."+d.TargetFormat, output, formats.MimeType(d.TargetFormat))
	if err != nil {
		return models.Completion{}, asFailure(err)
	}
	report(progressUploaded)

	return models.Completion{
		ConvertedArtifactRef: convertedRef,
		ConvertedMimeType:    formats.MimeType(d.TargetFormat),
		ThumbnailArtifactRef: e.thumbnail(ctx, job.ID, d.MediaKind, input, dir),
	}, nil
}

// thumbnail renders and stores a preview. Failures are logged and yield "".
func (e *Engine) thumbnail(ctx context.Context, id string, kind models.MediaKind, input, dir string) string {
	path := filepath.Join(dir, "thumbnail."+transcode.ThumbnailFormat)
	if err := e.transcoder.Thumbnail(ctx, kind, input, path); err != nil {
		logger.Warnf("Job %s: thumbnail generation failed: %v", id, err)
		return ""
	}
	ref, err := artifacts.Upload(ctx, e.artifacts,
		"thumbnails/"+id+"."+transcode.ThumbnailFormat, path, formats.MimeType(transcode.ThumbnailFormat))
	if err != nil {
		logger.Warnf("Job %s: failed to store thumbnail: %v", id, err)
		return ""
	}
	return ref
}

// settle runs fn against a timeout; whichever finishes first wins. A late
// fn keeps running on a cancelled context until it notices.
func (e *Engine) settle(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return contextFailure(ctx)
	}
}

type normalized struct {
	ref          string
	thumbnailRef string
}

func (n normalized) refs() []string {
	var refs []string
	for _, ref := range []string{n.ref, n.thumbnailRef} {
		if ref != "" {
			refs = append(refs, ref)
		}
	}
	return refs
}

// normalize synchronously transcodes a legacy upload to the intermediate
// format and stores it as the job's new original. For NormalizeOnly jobs the
// thumbnail is produced here too, since no background stage follows.
func (e *Engine) normalize(ctx context.Context, id, rawRef string, d formats.RoutingDecision) (normalized, error) {
	ctx, cancel := context.WithTimeout(ctx, e.opts.JobTimeout)
	defer cancel()

	dir, err := e.scratchDir(id + "-normalize")
	if err != nil {
		return normalized{}, failure(ErrEngineFailure, "%v", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "raw."+d.SourceFormat)
	if err := artifacts.Download(ctx, e.artifacts, rawRef, input); err != nil {
		return normalized{}, asFailure(err)
	}

	output := filepath.Join(dir, "normalized."+d.IntermediateFormat)
	started := e.now()
	err = e.transcoder.Transcode(ctx, transcode.Request{
		Input:        input,
		Output:       output,
		Kind:         d.MediaKind,
		SourceFormat: d.SourceFormat,
		TargetFormat: d.IntermediateFormat,
	}, nil)
	if err != nil {
		if ctx.Err() != nil {
			return normalized{}, contextFailure(ctx)
		}
		return normalized{}, asFailure(err)
	}
	logger.Infof("Normalized %s (%s -> %s) in %s", rawRef, d.SourceFormat, d.IntermediateFormat, e.now().Sub(started).Round(time.Millisecond))

	var n normalized
	n.ref, err = artifacts.Upload(ctx, e.artifacts,
		"originals/"+id+"."+d.IntermediateFormat, output, formats.MimeType(d.IntermediateFormat))
	if err != nil {
		return normalized{}, asFailure(err)
	}
	if d.Kind == formats.NormalizeOnly {
		n.thumbnailRef = e.thumbnail(ctx, id, d.MediaKind, output, dir)
	}
	return n, nil
}
