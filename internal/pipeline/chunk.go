package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/antigravity-dev/videoloom/internal/cost"
	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/progress"
	"github.com/antigravity-dev/videoloom/internal/registry"
	"github.com/antigravity-dev/videoloom/internal/render"
)

const chunkWordLimit = 600

// ChunkStage is deterministic and makes no LLM call. It scans the
// branch-appropriate rendered document (longread for educational, story
// for leadership) for H2 sections and splits over-length sections at
// paragraph boundaries.
type ChunkStage struct{}

func (s ChunkStage) Name() string        { return StageChunk }
func (s ChunkStage) DependsOn() []string { return []string{StageLongread, StageStory, StageSummarize} }
func (s ChunkStage) Optional() bool      { return false }
func (s ChunkStage) Status() progress.Status       { return progress.StatusRunning }
func (s ChunkStage) ShouldSkip(registry.Context) bool { return false }
func (s ChunkStage) ModelName() string   { return "" }
func (s ChunkStage) PromptOverrides() map[string]string { return nil }

func (s ChunkStage) EstimateTime(inputSize float64) float64 {
	return 2
}

func (s ChunkStage) Execute(ctx context.Context, pctx registry.Context) (any, error) {
	doc, language, err := renderChunkSource(pctx)
	if err != nil {
		return nil, err
	}

	body := render.StripFrontmatter(doc)
	sections := render.SplitH2Sections(body)

	videoID := pctx.VideoID()
	var chunks []model.Chunk
	var allContent strings.Builder
	n := 0
	for _, sec := range sections {
		pieces := splitSection(sec)
		for i, piece := range pieces {
			n++
			title := piece.title
			if len(pieces) > 1 {
				title = fmt.Sprintf("%s (%d/%d)", piece.title, i+1, len(pieces))
			}
			content := withPreamble(pctx, title, piece.content)
			chunks = append(chunks, model.Chunk{
				ID:        fmt.Sprintf("%s_%03d", videoID, n),
				Index:     n,
				Title:     title,
				Content:   content,
				WordCount: len(strings.Fields(piece.content)),
			})
			allContent.WriteString(content)
		}
	}

	totalTokens := cost.EstimateTokens(len([]rune(allContent.String())), language)
	return model.TranscriptChunks{Chunks: chunks, TotalTokens: totalTokens}, nil
}

type sectionPiece struct {
	title   string
	content string
}

// splitSection returns one piece for a section under the word limit, or
// several paragraph-boundary pieces for a section over it.
func splitSection(sec render.Section) []sectionPiece {
	if len(strings.Fields(sec.Content)) <= chunkWordLimit {
		return []sectionPiece{{title: sec.Title, content: sec.Content}}
	}

	paragraphs := strings.Split(sec.Content, "\n\n")
	var pieces []sectionPiece
	var current strings.Builder
	currentWords := 0
	for _, para := range paragraphs {
		paraWords := len(strings.Fields(para))
		if currentWords > 0 && currentWords+paraWords > chunkWordLimit {
			pieces = append(pieces, sectionPiece{title: sec.Title, content: strings.TrimSpace(current.String())})
			current.Reset()
			currentWords = 0
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
		currentWords += paraWords
	}
	if current.Len() > 0 {
		pieces = append(pieces, sectionPiece{title: sec.Title, content: strings.TrimSpace(current.String())})
	}
	return pieces
}

// withPreamble prefixes a chunk's content with a contextual metadata block
// (title, speaker, date).
func withPreamble(pctx registry.Context, chunkTitle, content string) string {
	meta := pctx.Metadata
	if meta == nil {
		return content
	}
	preamble := fmt.Sprintf("Title: %s\nSpeaker: %s\nDate: %s\n\n", meta.Title, meta.Speaker, meta.Date)
	return preamble + content
}

// renderChunkSource renders the branch-appropriate document from its
// typed stage result: longread for educational content, story for
// leadership.
func renderChunkSource(pctx registry.Context) (doc string, language string, err error) {
	switch pctx.ContentType() {
	case model.ContentLeadership:
		v, ok := pctx.Result(StageStory)
		if !ok {
			return "", "", pipelineerr.NewStageError(StageChunk, pipelineerr.KindConfiguration, "story result missing from context", nil)
		}
		story, ok := asStory(v)
		if !ok {
			return "", "", pipelineerr.NewStageError(StageChunk, pipelineerr.KindConfiguration, "story result has unexpected type", nil)
		}
		doc, err = render.Story(story)
		if err != nil {
			return "", "", pipelineerr.NewStageError(StageChunk, pipelineerr.KindSchema, "render story markdown", err)
		}
		return doc, "ru", nil
	default:
		v, ok := pctx.Result(StageLongread)
		if !ok {
			return "", "", pipelineerr.NewStageError(StageChunk, pipelineerr.KindConfiguration, "longread result missing from context", nil)
		}
		longread, ok := asLongread(v)
		if !ok {
			return "", "", pipelineerr.NewStageError(StageChunk, pipelineerr.KindConfiguration, "longread result has unexpected type", nil)
		}
		doc, err = render.Longread(longread)
		if err != nil {
			return "", "", pipelineerr.NewStageError(StageChunk, pipelineerr.KindSchema, "render longread markdown", err)
		}
		return doc, "ru", nil
	}
}

func asStory(v any) (model.Story, bool) {
	switch s := v.(type) {
	case model.Story:
		return s, true
	case *model.Story:
		return *s, true
	default:
		return model.Story{}, false
	}
}

func asLongread(v any) (model.Longread, bool) {
	switch l := v.(type) {
	case model.Longread:
		return l, true
	case *model.Longread:
		return *l, true
	default:
		return model.Longread{}, false
	}
}
