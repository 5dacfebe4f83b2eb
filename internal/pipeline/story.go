package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/progress"
	"github.com/antigravity-dev/videoloom/internal/prompts"
	"github.com/antigravity-dev/videoloom/internal/provider"
	"github.com/antigravity-dev/videoloom/internal/registry"
)

const (
	storyCoeff     = 0.015 // seconds per input character
	storyBlockCount = 8
)

// StoryStage renders the cleaned transcript into an 8-block narrative
// write-up. Leadership content only.
type StoryStage struct {
	Router   *provider.Router
	Prompts  *prompts.Resolver
	Model    string
	Variants map[prompts.Component]string
}

func (s StoryStage) Name() string        { return StageStory }
func (s StoryStage) DependsOn() []string { return []string{StageClean, StageSlides} }
func (s StoryStage) Optional() bool      { return false }
func (s StoryStage) Status() progress.Status { return progress.StatusRunning }
func (s StoryStage) ModelName() string   { return s.Model }
func (s StoryStage) PromptOverrides() map[string]string { return variantOverrides(s.Variants) }

func (s StoryStage) ShouldSkip(pctx registry.Context) bool {
	return pctx.ContentType() == model.ContentEducational
}

func (s StoryStage) EstimateTime(inputSize float64) float64 {
	return 12 + storyCoeff*inputSize
}

// storySchema is the JSON contract the story prompt's template constrains
// output to: exactly 8 named blocks plus analytic fields.
type storySchema struct {
	Blocks          []model.StoryBlock   `json:"blocks"`
	Names           []string              `json:"names"`
	CurrentStatus   string                `json:"currentStatus"`
	MainInsight     string                `json:"mainInsight"`
	TimeInBusiness  string                `json:"timeInBusiness"`
	TimeToStatus    string                `json:"timeToStatus"`
	Speed           string                `json:"speed"`
	BusinessFormat  string                `json:"businessFormat"`
	IsFamily        bool                  `json:"isFamily"`
	HadStagnation   bool                  `json:"hadStagnation"`
	StagnationYears float64               `json:"stagnationYears"`
	HadRestart      bool                  `json:"hadRestart"`
	KeyPattern      string                `json:"keyPattern"`
	Mentor          string                `json:"mentor"`
	Classification  model.Classification  `json:"classification"`
}

func (s StoryStage) Execute(ctx context.Context, pctx registry.Context) (any, error) {
	cleaned, ok := cleanedTextFrom(pctx)
	if !ok {
		return nil, pipelineerr.NewStageError(StageStory, pipelineerr.KindConfiguration, "clean result missing from context", nil)
	}

	text := cleaned
	if slides, ok := slidesTextFrom(pctx); ok && slides != "" {
		text = text + slidesTextSeparator + slides
	}

	resolved, err := s.Prompts.Resolve(StageStory, []prompts.Component{prompts.ComponentSystem, prompts.ComponentInstructions, prompts.ComponentTemplate}, s.Variants)
	if err != nil {
		return nil, err
	}

	var usage model.TokensUsed
	var parsed storySchema
	err = s.Router.Use(ctx, s.Model, func(client provider.Client) error {
		rendered, renderErr := prompts.Render(resolved.Template, longreadTemplateData{Transcript: text})
		if renderErr != nil {
			return renderErr
		}
		prompt := fmt.Sprintf("%s\n\n%s", resolved.Instructions, rendered)
		raw, callUsage, callErr := client.Generate(ctx, prompt, provider.Options{SystemText: resolved.System})
		if callErr != nil {
			return pipelineerr.NewStageError(StageStory, pipelineerr.KindProvider, "story generation call failed", callErr)
		}
		if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
			return pipelineerr.NewStageError(StageStory, pipelineerr.KindSchema, "story response was not valid JSON", jsonErr)
		}
		usage = callUsage.Tokens
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := validateStoryBlocks(parsed.Blocks); err != nil {
		return nil, err
	}

	return model.Story{
		Blocks:          parsed.Blocks,
		Names:           parsed.Names,
		CurrentStatus:   parsed.CurrentStatus,
		MainInsight:     parsed.MainInsight,
		TimeInBusiness:  parsed.TimeInBusiness,
		TimeToStatus:    parsed.TimeToStatus,
		Speed:           parsed.Speed,
		BusinessFormat:  parsed.BusinessFormat,
		IsFamily:        parsed.IsFamily,
		HadStagnation:   parsed.HadStagnation,
		StagnationYears: parsed.StagnationYears,
		HadRestart:      parsed.HadRestart,
		KeyPattern:      parsed.KeyPattern,
		Mentor:          parsed.Mentor,
		Classification:  parsed.Classification,
		Metrics:         model.Metrics{TokensUsed: usage},
	}, nil
}

// validateStoryBlocks enforces the exactly-8-blocks-numbered-1..8 contract;
// missing, extra, duplicate, or out-of-range blocks are a schema failure,
// the same kind Longread/Summarize raise on a malformed model response.
func validateStoryBlocks(blocks []model.StoryBlock) error {
	if len(blocks) != storyBlockCount {
		return pipelineerr.NewStageError(StageStory, pipelineerr.KindSchema,
			fmt.Sprintf("expected exactly %d story blocks, got %d", storyBlockCount, len(blocks)), nil)
	}
	seen := make(map[int]bool, storyBlockCount)
	for _, b := range blocks {
		if b.Title == "" {
			return pipelineerr.NewStageError(StageStory, pipelineerr.KindSchema, "story block missing a title", nil)
		}
		if b.Index < 1 || b.Index > storyBlockCount {
			return pipelineerr.NewStageError(StageStory, pipelineerr.KindSchema,
				fmt.Sprintf("story block index %d out of range 1..%d", b.Index, storyBlockCount), nil)
		}
		if seen[b.Index] {
			return pipelineerr.NewStageError(StageStory, pipelineerr.KindSchema, "duplicate story block index", nil)
		}
		seen[b.Index] = true
	}
	return nil
}
