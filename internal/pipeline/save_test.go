package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/registry"
)

type stubAudioExtractor struct {
	called   bool
	destPath string
}

func (s *stubAudioExtractor) ExtractAudio(ctx context.Context, sourcePath, destPath string) error {
	s.called = true
	s.destPath = destPath
	return os.WriteFile(destPath, []byte("fake-audio"), 0o644)
}

func newSaveTestContext(t *testing.T, archivePath string) registry.Context {
	t.Helper()
	source := filepath.Join(t.TempDir(), "source.mp4")
	require.NoError(t, os.WriteFile(source, []byte("fake-media"), 0o644))

	pctx := registry.NewContext(source, nil)
	pctx = pctx.WithMetadata(model.VideoMetadata{
		VideoID:          "video-1",
		OriginalFilename: "source.mp4",
		ArchivePath:      archivePath,
		ContentType:      model.ContentEducational,
	})
	pctx = pctx.With(StageTranscribe, model.RawTranscript{FullText: "raw text"})
	pctx = pctx.With(StageClean, model.CleanedTranscript{Text: "cleaned text"})
	pctx = pctx.With(StageChunk, model.TranscriptChunks{Chunks: []model.Chunk{{ID: "video-1_001", Index: 1, Title: "Intro", Content: "content"}}})
	pctx = pctx.With(StageLongread, model.Longread{Introduction: "intro", Conclusion: "outro"})
	pctx = pctx.With(StageSummarize, model.Summary{Essence: "short essence"})
	return pctx
}

func TestSaveStage_MissingMetadataIsConfigurationError(t *testing.T) {
	s := SaveStage{}
	pctx := registry.NewContext("/inbox/a.mp4", nil)

	_, err := s.Execute(context.Background(), pctx)
	require.Error(t, err)
	var stageErr *pipelineerr.StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, pipelineerr.KindConfiguration, stageErr.Kind)
}

func TestSaveStage_WritesEducationalArtifactsAndMovesMedia(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "archive")
	pctx := newSaveTestContext(t, archive)
	sourcePath := pctx.SourcePath

	defer func() { timeNow = func() time.Time { return time.Now().UTC() } }()
	fixed := time.Date(2026, 2, 14, 12, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return fixed }

	extractor := &stubAudioExtractor{}
	s := SaveStage{Extractor: extractor}

	result, err := s.Execute(context.Background(), pctx)
	require.NoError(t, err)

	results := result.(model.PipelineResults)
	require.Equal(t, 1, results.Version)
	require.Equal(t, fixed, results.CreatedAt)
	require.NotNil(t, results.RawTranscript)
	require.NotNil(t, results.Cleaned)
	require.NotNil(t, results.Chunks)
	require.NotNil(t, results.Longread)
	require.NotNil(t, results.Summary)
	require.Nil(t, results.Story)

	require.True(t, extractor.called)
	_, err = os.Stat(extractor.destPath)
	require.NoError(t, err)

	_, err = os.Stat(sourcePath)
	require.True(t, os.IsNotExist(err), "original media must be moved out of the inbox")

	_, err = os.Stat(filepath.Join(archive, "source.mp4"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(archive, "transcript_raw.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(archive, "transcript_cleaned.txt"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(archive, "transcript_chunks.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(archive, "longread.md"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(archive, "summary.md"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(archive, "story.md"))
	require.True(t, os.IsNotExist(err), "leadership-only artifact must not be written on the educational branch")

	raw, err := os.ReadFile(filepath.Join(archive, "pipeline_results.json"))
	require.NoError(t, err)
	var decoded model.PipelineResults
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "video-1", decoded.Metadata.VideoID)
}

func TestSaveStage_LeadershipBranchWritesStoryNotLongread(t *testing.T) {
	archive := filepath.Join(t.TempDir(), "archive")
	source := filepath.Join(t.TempDir(), "source.mp4")
	require.NoError(t, os.WriteFile(source, []byte("fake-media"), 0o644))

	pctx := registry.NewContext(source, nil)
	pctx = pctx.WithMetadata(model.VideoMetadata{
		VideoID:          "video-2",
		OriginalFilename: "source.mp4",
		ArchivePath:      archive,
		ContentType:      model.ContentLeadership,
	})
	pctx = pctx.With(StageChunk, model.TranscriptChunks{})
	pctx = pctx.With(StageStory, model.Story{Blocks: eightBlocks()})

	s := SaveStage{}
	result, err := s.Execute(context.Background(), pctx)
	require.NoError(t, err)

	results := result.(model.PipelineResults)
	require.NotNil(t, results.Story)
	require.Nil(t, results.Longread)
	require.Nil(t, results.Summary)

	_, err = os.Stat(filepath.Join(archive, "story.md"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(archive, "longread.md"))
	require.True(t, os.IsNotExist(err))
}

func TestMoveFile_MovesContentAndRemovesSource(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "a.txt")
	dest := filepath.Join(dir, "b.txt")
	require.NoError(t, os.WriteFile(source, []byte("payload"), 0o644))

	require.NoError(t, moveFile(source, dest))

	_, err := os.Stat(source)
	require.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestWriteAtomicFile_CreatesParentDirsAndContent(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "nested", "file.txt")

	require.NoError(t, writeAtomicFile(target, []byte("hello")))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
}
