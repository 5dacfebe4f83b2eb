package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/semaphore"

	"github.com/antigravity-dev/videoloom/internal/cost"
	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/progress"
	"github.com/antigravity-dev/videoloom/internal/prompts"
	"github.com/antigravity-dev/videoloom/internal/provider"
	"github.com/antigravity-dev/videoloom/internal/registry"
)

const (
	longreadCoeff          = 0.02 // seconds per input character
	longreadDefaultParts   = 2
	longreadMaxParallel    = 2
	slidesTextSeparator    = "\n\n----- SLIDES -----\n\n"
)

// LongreadStage renders the cleaned transcript (plus any slide text) into
// a structured long-read write-up. Educational content only.
type LongreadStage struct {
	Router          *provider.Router
	Prompts         *prompts.Resolver
	Model           string
	PartsPerSection int
	MaxParallel     int
	Variants        map[prompts.Component]string
}

func (s LongreadStage) Name() string        { return StageLongread }
func (s LongreadStage) DependsOn() []string { return []string{StageClean, StageSlides} }
func (s LongreadStage) Optional() bool      { return false }
func (s LongreadStage) Status() progress.Status { return progress.StatusRunning }
func (s LongreadStage) ModelName() string   { return s.Model }
func (s LongreadStage) PromptOverrides() map[string]string { return variantOverrides(s.Variants) }

func (s LongreadStage) ShouldSkip(pctx registry.Context) bool {
	return pctx.ContentType() == model.ContentLeadership
}

func (s LongreadStage) EstimateTime(inputSize float64) float64 {
	return 15 + longreadCoeff*inputSize
}

type longreadOutline struct {
	SectionTitles []string `json:"sectionTitles"`
}

type longreadSectionOutput struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type longreadReduceOutput struct {
	Introduction string                `json:"introduction"`
	Conclusion   string                `json:"conclusion"`
	Classification model.Classification `json:"classification"`
}

func (s LongreadStage) Execute(ctx context.Context, pctx registry.Context) (any, error) {
	cleaned, ok := cleanedTextFrom(pctx)
	if !ok {
		return nil, pipelineerr.NewStageError(StageLongread, pipelineerr.KindConfiguration, "clean result missing from context", nil)
	}

	text := cleaned
	if slides, ok := slidesTextFrom(pctx); ok && slides != "" {
		text = text + slidesTextSeparator + slides
	}

	partsPerSection := s.PartsPerSection
	if partsPerSection <= 0 {
		partsPerSection = longreadDefaultParts
	}
	maxParallel := s.MaxParallel
	if maxParallel <= 0 {
		maxParallel = longreadMaxParallel
	}

	var totalUsage model.TokensUsed
	var sections []model.LongreadSection
	var reduceOut longreadReduceOutput

	err := s.Router.Use(ctx, s.Model, func(client provider.Client) error {
		bounds := provider.DefaultBounds(client.Profile())
		parts := splitIntoParts(text, partsPerSection)

		var outline []string
		if len([]rune(text)) > bounds.LargeTextThreshold {
			extracted, usage, err := s.extractOutline(ctx, client, parts)
			if err != nil {
				return err
			}
			outline = extracted
			totalUsage = cost.Add(totalUsage, usage)
		}

		mapSections, mapUsage, err := s.mapSections(ctx, client, parts, outline, maxParallel)
		if err != nil {
			return err
		}
		sections = mapSections
		totalUsage = cost.Add(totalUsage, mapUsage)

		reduced, reduceUsage, err := s.reduce(ctx, client, sections)
		if err != nil {
			return err
		}
		reduceOut = reduced
		totalUsage = cost.Add(totalUsage, reduceUsage)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return model.Longread{
		Sections:       sections,
		Introduction:   reduceOut.Introduction,
		Conclusion:     reduceOut.Conclusion,
		Classification: reduceOut.Classification,
		Metrics:        model.Metrics{TokensUsed: totalUsage},
	}, nil
}

// longreadTemplateData is the data the longread/story/summarize "template"
// fragments render against. The stages set only Transcript (longread and
// story append any slide text to it), so a {{.Slides}} placeholder
// renders empty.
type longreadTemplateData struct {
	Transcript string
	Slides     string
}

// extractOutline asks the model for section titles covering every part, so
// MAP calls share a consistent table of contents.
func (s LongreadStage) extractOutline(ctx context.Context, client provider.Client, parts []string) ([]string, model.TokensUsed, error) {
	resolved, err := s.Prompts.Resolve(StageLongread, []prompts.Component{prompts.ComponentSystem, prompts.ComponentInstructions}, s.Variants)
	if err != nil {
		return nil, model.TokensUsed{}, err
	}

	prompt := resolved.Instructions +
		"\n\nEmit a JSON object {\"sectionTitles\": [...]} naming one H2 title per part below.\n\n" +
		strings.Join(parts, "\n\n---\n\n")
	text, usage, err := client.Generate(ctx, prompt, provider.Options{SystemText: resolved.System})
	if err != nil {
		return nil, model.TokensUsed{}, pipelineerr.NewStageError(StageLongread, pipelineerr.KindProvider, "outline extraction failed", err)
	}

	var outline longreadOutline
	if err := json.Unmarshal([]byte(text), &outline); err != nil {
		return nil, model.TokensUsed{}, pipelineerr.NewStageError(StageLongread, pipelineerr.KindSchema, "outline response was not valid JSON", err)
	}
	return outline.SectionTitles, usage.Tokens, nil
}

// mapSections runs one generation per part, bounded to maxParallel
// concurrent calls by a weighted semaphore.
func (s LongreadStage) mapSections(ctx context.Context, client provider.Client, parts, outline []string, maxParallel int) ([]model.LongreadSection, model.TokensUsed, error) {
	resolved, err := s.Prompts.Resolve(StageLongread, []prompts.Component{prompts.ComponentSystem, prompts.ComponentInstructions, prompts.ComponentTemplate}, s.Variants)
	if err != nil {
		return nil, model.TokensUsed{}, err
	}

	sem := semaphore.NewWeighted(int64(maxParallel))
	results := make([]model.LongreadSection, len(parts))
	usages := make([]model.TokensUsed, len(parts))
	errs := make([]error, len(parts))

	type done struct{ idx int }
	doneCh := make(chan done, len(parts))

	for i, part := range parts {
		i, part := i, part
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, model.TokensUsed{}, pipelineerr.NewStageError(StageLongread, pipelineerr.KindCancelled, "longread map cancelled", err)
		}
		go func() {
			defer sem.Release(1)
			defer func() { doneCh <- done{idx: i} }()

			prompt, renderErr := buildMapPrompt(resolved, part, outline, i, len(parts))
			if renderErr != nil {
				errs[i] = renderErr
				return
			}
			text, usage, callErr := client.Generate(ctx, prompt, provider.Options{SystemText: resolved.System})
			if callErr != nil {
				errs[i] = pipelineerr.NewStageError(StageLongread, pipelineerr.KindProvider, "longread section generation failed", callErr)
				return
			}
			var out longreadSectionOutput
			if jsonErr := json.Unmarshal([]byte(text), &out); jsonErr != nil {
				errs[i] = pipelineerr.NewStageError(StageLongread, pipelineerr.KindSchema, "longread section response was not valid JSON", jsonErr)
				return
			}
			results[i] = model.LongreadSection{Title: out.Title, Content: out.Content}
			usages[i] = usage.Tokens
		}()
	}

	for range parts {
		<-doneCh
	}

	for _, err := range errs {
		if err != nil {
			return nil, model.TokensUsed{}, err
		}
	}

	var total model.TokensUsed
	for _, u := range usages {
		total = cost.Add(total, u)
	}
	return results, total, nil
}

// buildMapPrompt renders the template fragment against this part's text,
// prefixed by the section-writing instructions, the shared outline (if
// any), and this part's position in the sequence.
func buildMapPrompt(resolved prompts.Resolved, part string, outline []string, index, total int) (string, error) {
	rendered, err := prompts.Render(resolved.Template, longreadTemplateData{Transcript: part})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(resolved.Instructions)
	b.WriteString("\n\n")
	if len(outline) > 0 {
		b.WriteString("Outline:\n")
		for _, title := range outline {
			fmt.Fprintf(&b, "- %s\n", title)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Position: %d/%d\n\n", index+1, total)
	b.WriteString(rendered)
	return b.String(), nil
}

// reduce makes a single call to generate introduction, conclusion, and
// classification from the concatenated MAP output.
func (s LongreadStage) reduce(ctx context.Context, client provider.Client, sections []model.LongreadSection) (longreadReduceOutput, model.TokensUsed, error) {
	resolved, err := s.Prompts.Resolve(StageLongread, []prompts.Component{prompts.ComponentSystem, prompts.ComponentTemplate}, s.Variants)
	if err != nil {
		return longreadReduceOutput{}, model.TokensUsed{}, err
	}

	var concatenated strings.Builder
	for _, sec := range sections {
		fmt.Fprintf(&concatenated, "## %s\n\n%s\n\n", sec.Title, sec.Content)
	}

	rendered, err := prompts.Render(resolved.Template, longreadTemplateData{Transcript: concatenated.String()})
	if err != nil {
		return longreadReduceOutput{}, model.TokensUsed{}, err
	}
	prompt := rendered + "\n\nReturn a JSON object with introduction, conclusion, and classification fields, generated from the sections above."
	text, usage, err := client.Generate(ctx, prompt, provider.Options{SystemText: resolved.System})
	if err != nil {
		return longreadReduceOutput{}, model.TokensUsed{}, pipelineerr.NewStageError(StageLongread, pipelineerr.KindProvider, "longread reduce call failed", err)
	}

	var out longreadReduceOutput
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return longreadReduceOutput{}, model.TokensUsed{}, pipelineerr.NewStageError(StageLongread, pipelineerr.KindSchema, "longread reduce response was not valid JSON", err)
	}
	return out, usage.Tokens, nil
}

// splitIntoParts divides text into n roughly equal parts at whitespace
// boundaries.
func splitIntoParts(text string, n int) []string {
	if n <= 1 {
		return []string{text}
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return []string{""}
	}
	partSize := len(runes) / n
	if partSize == 0 {
		return []string{text}
	}
	var parts []string
	start := 0
	for i := 0; i < n; i++ {
		if start >= len(runes) {
			break
		}
		end := start + partSize
		if i == n-1 || end >= len(runes) {
			parts = append(parts, string(runes[start:]))
			break
		}
		for end < len(runes) && runes[end] != ' ' && runes[end] != '\n' {
			end++
		}
		parts = append(parts, string(runes[start:end]))
		start = end
	}
	return parts
}

func cleanedTextFrom(pctx registry.Context) (string, bool) {
	v, ok := pctx.Result(StageClean)
	if !ok {
		return "", false
	}
	switch c := v.(type) {
	case model.CleanedTranscript:
		return c.Text, true
	case *model.CleanedTranscript:
		return c.Text, true
	}
	return "", false
}

func slidesTextFrom(pctx registry.Context) (string, bool) {
	v, ok := pctx.Result(StageSlides)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case model.SlidesExtractionResult:
		return s.ExtractedText, true
	case *model.SlidesExtractionResult:
		return s.ExtractedText, true
	}
	return "", false
}
