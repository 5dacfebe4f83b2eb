package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/prompts"
	"github.com/antigravity-dev/videoloom/internal/registry"
)

func TestLongreadStage_ShouldSkipForLeadershipContent(t *testing.T) {
	s := LongreadStage{}
	pctx := registry.NewContext("/inbox/a.mp4", nil).WithMetadata(model.VideoMetadata{ContentType: model.ContentLeadership})
	require.True(t, s.ShouldSkip(pctx))
}

func TestLongreadStage_DoesNotSkipForEducationalContent(t *testing.T) {
	s := LongreadStage{}
	pctx := registry.NewContext("/inbox/a.mp4", nil).WithMetadata(model.VideoMetadata{ContentType: model.ContentEducational})
	require.False(t, s.ShouldSkip(pctx))
}

func TestSplitIntoParts_SingleRequestedPartReturnsWholeText(t *testing.T) {
	parts := splitIntoParts("some long transcript text", 1)
	require.Equal(t, []string{"some long transcript text"}, parts)
}

func TestSplitIntoParts_EmptyTextReturnsOneEmptyPart(t *testing.T) {
	parts := splitIntoParts("", 3)
	require.Equal(t, []string{""}, parts)
}

func TestSplitIntoParts_SplitsOnWhitespaceBoundaries(t *testing.T) {
	text := "one two three four five six seven eight nine ten"
	parts := splitIntoParts(text, 2)
	require.Len(t, parts, 2)
	require.Equal(t, text, parts[0]+parts[1])
}

func TestCleanedTextFrom_MissingResultReturnsFalse(t *testing.T) {
	pctx := registry.NewContext("/inbox/a.mp4", nil)
	_, ok := cleanedTextFrom(pctx)
	require.False(t, ok)
}

func TestCleanedTextFrom_ReturnsTextFromValueResult(t *testing.T) {
	pctx := registry.NewContext("/inbox/a.mp4", nil).With(StageClean, model.CleanedTranscript{Text: "cleaned"})
	text, ok := cleanedTextFrom(pctx)
	require.True(t, ok)
	require.Equal(t, "cleaned", text)
}

func TestSlidesTextFrom_MissingResultReturnsFalse(t *testing.T) {
	pctx := registry.NewContext("/inbox/a.mp4", nil)
	_, ok := slidesTextFrom(pctx)
	require.False(t, ok)
}

func TestSlidesTextFrom_ReturnsExtractedText(t *testing.T) {
	pctx := registry.NewContext("/inbox/a.mp4", nil).With(StageSlides, model.SlidesExtractionResult{ExtractedText: "slide text"})
	text, ok := slidesTextFrom(pctx)
	require.True(t, ok)
	require.Equal(t, "slide text", text)
}

func TestBuildMapPrompt_IncludesOutlineAndPosition(t *testing.T) {
	resolved := prompts.Resolved{Instructions: "Write this section.", Template: "Transcript:\n{{.Transcript}}"}
	prompt, err := buildMapPrompt(resolved, "part text", []string{"Intro", "Body"}, 1, 3)
	require.NoError(t, err)
	require.Contains(t, prompt, "Write this section.")
	require.Contains(t, prompt, "- Intro")
	require.Contains(t, prompt, "- Body")
	require.Contains(t, prompt, "Position: 2/3")
	require.Contains(t, prompt, "Transcript:\npart text")
	require.NotContains(t, prompt, "{{.Transcript}}")
}

func TestBuildMapPrompt_OmitsOutlineSectionWhenEmpty(t *testing.T) {
	resolved := prompts.Resolved{Instructions: "Write this section.", Template: "{{.Transcript}}"}
	prompt, err := buildMapPrompt(resolved, "part text", nil, 0, 1)
	require.NoError(t, err)
	require.NotContains(t, prompt, "Outline:")
}
