package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/progress"
	"github.com/antigravity-dev/videoloom/internal/registry"
	"github.com/antigravity-dev/videoloom/internal/render"
)

// AudioExtractor pulls the audio track out of a media file into destPath.
// Production wires this to an external ffmpeg-style utility; tests supply
// a stub.
type AudioExtractor interface {
	ExtractAudio(ctx context.Context, sourcePath, destPath string) error
}

const saveCoeff = 0.0 // save is I/O bound, not input-size scaled

// SaveStage is the terminal stage: it moves the original media into the
// archive and writes every derived artifact atomically.
type SaveStage struct {
	Extractor         AudioExtractor
	IncludeTimestamps bool
}

func (s SaveStage) Name() string        { return StageSave }
func (s SaveStage) DependsOn() []string { return []string{StageChunk} }
func (s SaveStage) Optional() bool      { return false }
func (s SaveStage) Status() progress.Status        { return progress.StatusRunning }
func (s SaveStage) ShouldSkip(registry.Context) bool { return false }
func (s SaveStage) ModelName() string   { return "" }
func (s SaveStage) PromptOverrides() map[string]string { return nil }

func (s SaveStage) EstimateTime(inputSize float64) float64 {
	return 5 + saveCoeff*inputSize
}

func (s SaveStage) Execute(ctx context.Context, pctx registry.Context) (any, error) {
	meta := pctx.Metadata
	if meta == nil {
		return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindConfiguration, "metadata missing from context", nil)
	}

	if err := os.MkdirAll(meta.ArchivePath, 0o755); err != nil {
		return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindCache, "create archive directory", err)
	}

	results := model.PipelineResults{
		Version:   1,
		CreatedAt: timeNow(),
		Metadata:  *meta,
	}

	mediaDest := filepath.Join(meta.ArchivePath, meta.OriginalFilename)
	if err := moveFile(pctx.SourcePath, mediaDest); err != nil {
		return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindCache, "move original media into archive", err)
	}

	if s.Extractor != nil {
		audioDest := filepath.Join(meta.ArchivePath, "audio.wav")
		if err := s.Extractor.ExtractAudio(ctx, mediaDest, audioDest); err != nil {
			return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindProvider, "extract audio track", err)
		}
	}

	if raw, ok := rawTranscriptFrom(pctx); ok {
		results.RawTranscript = &raw
		text := raw.FullText
		if s.IncludeTimestamps {
			text = RenderTimestampedView(raw.Segments)
		}
		if err := writeAtomicFile(filepath.Join(meta.ArchivePath, "transcript_raw.txt"), []byte(text)); err != nil {
			return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindCache, "write transcript_raw.txt", err)
		}
	}

	if cleaned, ok := cleanedTranscriptFrom(pctx); ok {
		results.Cleaned = &cleaned
		if err := writeAtomicFile(filepath.Join(meta.ArchivePath, "transcript_cleaned.txt"), []byte(cleaned.Text)); err != nil {
			return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindCache, "write transcript_cleaned.txt", err)
		}
	}

	if slides, ok := slidesResultFrom(pctx); ok {
		results.Slides = &slides
	}

	if chunks, ok := chunksFrom(pctx); ok {
		results.Chunks = &chunks
		payload, err := json.MarshalIndent(chunks, "", "  ")
		if err != nil {
			return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindCache, "marshal transcript_chunks.json", err)
		}
		if err := writeAtomicFile(filepath.Join(meta.ArchivePath, "transcript_chunks.json"), payload); err != nil {
			return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindCache, "write transcript_chunks.json", err)
		}
	}

	switch meta.ContentType {
	case model.ContentLeadership:
		if story, ok := asStoryResult(pctx); ok {
			results.Story = &story
			doc, err := render.Story(story)
			if err != nil {
				return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindSchema, "render story.md", err)
			}
			if err := writeAtomicFile(filepath.Join(meta.ArchivePath, "story.md"), []byte(doc)); err != nil {
				return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindCache, "write story.md", err)
			}
		}
	default:
		if longread, ok := asLongreadResult(pctx); ok {
			results.Longread = &longread
			doc, err := render.Longread(longread)
			if err != nil {
				return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindSchema, "render longread.md", err)
			}
			if err := writeAtomicFile(filepath.Join(meta.ArchivePath, "longread.md"), []byte(doc)); err != nil {
				return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindCache, "write longread.md", err)
			}
		}
		if summary, ok := summaryFrom(pctx); ok {
			results.Summary = &summary
			doc, err := render.Summary(summary)
			if err != nil {
				return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindSchema, "render summary.md", err)
			}
			if err := writeAtomicFile(filepath.Join(meta.ArchivePath, "summary.md"), []byte(doc)); err != nil {
				return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindCache, "write summary.md", err)
			}
		}
	}

	payload, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindCache, "marshal pipeline_results.json", err)
	}
	if err := writeAtomicFile(filepath.Join(meta.ArchivePath, "pipeline_results.json"), payload); err != nil {
		return nil, pipelineerr.NewStageError(StageSave, pipelineerr.KindCache, "write pipeline_results.json", err)
	}

	return results, nil
}

// writeAtomicFile mirrors internal/cache's write-temp-then-rename
// pattern for the archive-tree artifacts Save writes outside the cache.
func writeAtomicFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

// moveFile renames source to dest, falling back to copy-then-remove when
// the two paths live on different filesystems (os.Rename's EXDEV case).
func moveFile(source, dest string) error {
	if err := os.Rename(source, dest); err == nil {
		return nil
	}
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(source)
}

func rawTranscriptFrom(pctx registry.Context) (model.RawTranscript, bool) {
	v, ok := pctx.Result(StageTranscribe)
	if !ok {
		return model.RawTranscript{}, false
	}
	switch t := v.(type) {
	case model.RawTranscript:
		return t, true
	case *model.RawTranscript:
		return *t, true
	}
	return model.RawTranscript{}, false
}

func cleanedTranscriptFrom(pctx registry.Context) (model.CleanedTranscript, bool) {
	v, ok := pctx.Result(StageClean)
	if !ok {
		return model.CleanedTranscript{}, false
	}
	switch c := v.(type) {
	case model.CleanedTranscript:
		return c, true
	case *model.CleanedTranscript:
		return *c, true
	}
	return model.CleanedTranscript{}, false
}

func slidesResultFrom(pctx registry.Context) (model.SlidesExtractionResult, bool) {
	v, ok := pctx.Result(StageSlides)
	if !ok {
		return model.SlidesExtractionResult{}, false
	}
	switch r := v.(type) {
	case model.SlidesExtractionResult:
		return r, true
	case *model.SlidesExtractionResult:
		return *r, true
	}
	return model.SlidesExtractionResult{}, false
}

func chunksFrom(pctx registry.Context) (model.TranscriptChunks, bool) {
	v, ok := pctx.Result(StageChunk)
	if !ok {
		return model.TranscriptChunks{}, false
	}
	switch c := v.(type) {
	case model.TranscriptChunks:
		return c, true
	case *model.TranscriptChunks:
		return *c, true
	}
	return model.TranscriptChunks{}, false
}

func summaryFrom(pctx registry.Context) (model.Summary, bool) {
	v, ok := pctx.Result(StageSummarize)
	if !ok {
		return model.Summary{}, false
	}
	switch sm := v.(type) {
	case model.Summary:
		return sm, true
	case *model.Summary:
		return *sm, true
	}
	return model.Summary{}, false
}

func asStoryResult(pctx registry.Context) (model.Story, bool) {
	v, ok := pctx.Result(StageStory)
	if !ok {
		return model.Story{}, false
	}
	return asStory(v)
}

func asLongreadResult(pctx registry.Context) (model.Longread, bool) {
	v, ok := pctx.Result(StageLongread)
	if !ok {
		return model.Longread{}, false
	}
	return asLongread(v)
}

// timeNow is a package-level seam so tests can override save's
// pipeline_results.json timestamp without depending on wall-clock time.
var timeNow = func() time.Time { return time.Now().UTC() }
