package pipeline

import (
	"context"
	"encoding/json"

	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/progress"
	"github.com/antigravity-dev/videoloom/internal/prompts"
	"github.com/antigravity-dev/videoloom/internal/provider"
	"github.com/antigravity-dev/videoloom/internal/registry"
)

const summarizeCoeff = 0.01 // seconds per input character

// SummarizeStage produces a short abstract of the cleaned transcript.
// Educational content only. The dependency on longread is an ordering
// edge (summarize only runs on the branch where longread ran); its
// input is the cleaned transcript, not longread's output.
type SummarizeStage struct {
	Router   *provider.Router
	Prompts  *prompts.Resolver
	Model    string
	Variants map[prompts.Component]string
}

func (s SummarizeStage) Name() string        { return StageSummarize }
func (s SummarizeStage) DependsOn() []string { return []string{StageLongread} }
func (s SummarizeStage) Optional() bool      { return false }
func (s SummarizeStage) Status() progress.Status { return progress.StatusRunning }
func (s SummarizeStage) ModelName() string   { return s.Model }
func (s SummarizeStage) PromptOverrides() map[string]string { return variantOverrides(s.Variants) }

func (s SummarizeStage) ShouldSkip(pctx registry.Context) bool {
	return pctx.ContentType() == model.ContentLeadership
}

func (s SummarizeStage) EstimateTime(inputSize float64) float64 {
	return 10 + summarizeCoeff*inputSize
}

type summarizeSchema struct {
	Essence        string               `json:"essence"`
	KeyConcepts    []string             `json:"keyConcepts"`
	PracticalTools []string             `json:"practicalTools"`
	Quotes         []string             `json:"quotes"`
	Insight        string               `json:"insight"`
	Actions        []string             `json:"actions"`
	Classification model.Classification `json:"classification"`
}

func (s SummarizeStage) Execute(ctx context.Context, pctx registry.Context) (any, error) {
	cleaned, ok := cleanedTextFrom(pctx)
	if !ok {
		return nil, pipelineerr.NewStageError(StageSummarize, pipelineerr.KindConfiguration, "clean result missing from context", nil)
	}

	resolved, err := s.Prompts.Resolve(StageSummarize, []prompts.Component{prompts.ComponentSystem, prompts.ComponentInstructions, prompts.ComponentTemplate}, s.Variants)
	if err != nil {
		return nil, err
	}

	var usage model.TokensUsed
	var parsed summarizeSchema
	err = s.Router.Use(ctx, s.Model, func(client provider.Client) error {
		rendered, renderErr := prompts.Render(resolved.Template, longreadTemplateData{Transcript: cleaned})
		if renderErr != nil {
			return renderErr
		}
		prompt := resolved.Instructions + "\n\n" + rendered
		raw, callUsage, callErr := client.Generate(ctx, prompt, provider.Options{SystemText: resolved.System})
		if callErr != nil {
			return pipelineerr.NewStageError(StageSummarize, pipelineerr.KindProvider, "summarize generation call failed", callErr)
		}
		if jsonErr := json.Unmarshal([]byte(raw), &parsed); jsonErr != nil {
			return pipelineerr.NewStageError(StageSummarize, pipelineerr.KindSchema, "summarize response was not valid JSON", jsonErr)
		}
		usage = callUsage.Tokens
		return nil
	})
	if err != nil {
		return nil, err
	}

	return model.Summary{
		Essence:        parsed.Essence,
		KeyConcepts:    parsed.KeyConcepts,
		PracticalTools: parsed.PracticalTools,
		Quotes:         parsed.Quotes,
		Insight:        parsed.Insight,
		Actions:        parsed.Actions,
		Classification: parsed.Classification,
		Metrics:        model.Metrics{TokensUsed: usage},
	}, nil
}
