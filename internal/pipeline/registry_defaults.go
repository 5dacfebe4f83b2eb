package pipeline

import (
	"github.com/antigravity-dev/videoloom/internal/glossary"
	"github.com/antigravity-dev/videoloom/internal/prompts"
	"github.com/antigravity-dev/videoloom/internal/provider"
	"github.com/antigravity-dev/videoloom/internal/registry"
)

// ModelNames selects, per LLM-calling stage, which configured model name
// the provider router should use. cmd/pipeline builds this from config's
// stage_models table before constructing a Registry; a stage with no
// entry gets an empty name.
type ModelNames struct {
	Clean     string
	Slides    string
	Longread  string
	Summarize string
	Story     string
}

// StageDeps bundles the collaborators every stage constructor below needs.
type StageDeps struct {
	Probe          MediaProbe
	ArchiveRoot    string
	Transcriber    Transcriber
	Glossary       *glossary.Glossary
	Router         *provider.Router
	Prompts        *prompts.Resolver
	Models         ModelNames
	SlideRenderer  PDFRenderer
	SlidesBatchSize int
	AudioExtractor AudioExtractor
	IncludeTimestamps bool

	// PromptVariants carries, per LLM stage name, the non-default prompt
	// variant selected per component (request-level overrides). A stage
	// with no entry resolves every component to its default variant.
	PromptVariants map[string]map[prompts.Component]string
}

// NewDefaultRegistry builds the nine-stage registry in declaration
// order, wired against deps.
func NewDefaultRegistry(deps StageDeps) *registry.Registry {
	return registry.New(
		ParseStage{Probe: deps.Probe, ArchiveRoot: deps.ArchiveRoot},
		TranscribeStage{Client: deps.Transcriber},
		CleanStage{Glossary: deps.Glossary, Router: deps.Router, Prompts: deps.Prompts, Model: deps.Models.Clean, Variants: deps.PromptVariants[StageClean]},
		SlidesStage{Renderer: deps.SlideRenderer, Router: deps.Router, Prompts: deps.Prompts, Model: deps.Models.Slides, BatchSize: deps.SlidesBatchSize, Variants: deps.PromptVariants[StageSlides]},
		LongreadStage{Router: deps.Router, Prompts: deps.Prompts, Model: deps.Models.Longread, Variants: deps.PromptVariants[StageLongread]},
		StoryStage{Router: deps.Router, Prompts: deps.Prompts, Model: deps.Models.Story, Variants: deps.PromptVariants[StageStory]},
		SummarizeStage{Router: deps.Router, Prompts: deps.Prompts, Model: deps.Models.Summarize, Variants: deps.PromptVariants[StageSummarize]},
		ChunkStage{},
		SaveStage{Extractor: deps.AudioExtractor, IncludeTimestamps: deps.IncludeTimestamps},
	)
}
