package pipeline

import (
	"context"
	"unicode"

	"github.com/antigravity-dev/videoloom/internal/cost"
	"github.com/antigravity-dev/videoloom/internal/glossary"
	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/progress"
	"github.com/antigravity-dev/videoloom/internal/prompts"
	"github.com/antigravity-dev/videoloom/internal/provider"
	"github.com/antigravity-dev/videoloom/internal/registry"
)

const cleanCoeff = 0.01 // seconds per input character

// CleanStage normalizes a raw transcript in two phases: Phase A glossary
// replacement, Phase B chunked LLM pass when the transcript exceeds the
// model's context profile threshold, with a length/cyrillic-ratio
// validation gate.
type CleanStage struct {
	Glossary *glossary.Glossary
	Router   *provider.Router
	Prompts  *prompts.Resolver
	Model    string
	Variants map[prompts.Component]string
}

func (s CleanStage) Name() string             { return StageClean }
func (s CleanStage) DependsOn() []string      { return []string{StageTranscribe} }
func (s CleanStage) Optional() bool           { return false }
func (s CleanStage) Status() progress.Status  { return progress.StatusRunning }
func (s CleanStage) ShouldSkip(registry.Context) bool { return false }
func (s CleanStage) ModelName() string        { return s.Model }
func (s CleanStage) PromptOverrides() map[string]string { return variantOverrides(s.Variants) }

func (s CleanStage) EstimateTime(inputSize float64) float64 {
	return 5 + cleanCoeff*inputSize
}

func (s CleanStage) Execute(ctx context.Context, pctx registry.Context) (any, error) {
	rawResult, ok := pctx.Result(StageTranscribe)
	if !ok {
		return nil, pipelineerr.NewStageError(StageClean, pipelineerr.KindConfiguration, "transcribe result missing from context", nil)
	}
	raw := mustRawTranscript(rawResult)

	originalLength := len([]rune(raw.FullText))
	if originalLength == 0 {
		return model.CleanedTranscript{Text: "", OriginalLength: 0, CleanedLength: 0, ChangePercent: 0}, nil
	}

	text := raw.FullText
	var corrections []string
	if s.Glossary != nil {
		cleaned, applied := s.Glossary.Apply(text)
		text = cleaned
		for _, c := range applied {
			corrections = append(corrections, c.Variation+"→"+c.Canonical)
		}
	}

	var usage model.TokensUsed
	if s.Router != nil && s.Model != "" {
		llmText, llmUsage, err := s.cleanWithLLM(ctx, text)
		if err != nil {
			return nil, err
		}
		text = llmText
		usage = llmUsage
	}

	cleanedLength := len([]rune(text))
	if err := validateCleanOutput(originalLength, cleanedLength, text); err != nil {
		return nil, err
	}

	changePercent := 0.0
	if originalLength > 0 {
		changePercent = float64(originalLength-cleanedLength) / float64(originalLength) * 100
	}

	return model.CleanedTranscript{
		Text:           text,
		OriginalLength: originalLength,
		CleanedLength:  cleanedLength,
		Corrections:    corrections,
		ChangePercent:  changePercent,
		Metrics:        model.Metrics{TokensUsed: usage},
	}, nil
}

// cleanWithLLM drives Phase B: split into context-profile-sized chunks
// when the text exceeds the profile's threshold, clean each with the
// resolved prompt, and stitch the outputs back together deduplicating
// the prefix/suffix overlap (an unspecified boundary left to the
// implementation's discretion).
func (s CleanStage) cleanWithLLM(ctx context.Context, text string) (string, model.TokensUsed, error) {
	resolved, err := s.Prompts.Resolve(StageClean, []prompts.Component{prompts.ComponentSystem, prompts.ComponentUser}, s.Variants)
	if err != nil {
		return "", model.TokensUsed{}, err
	}

	var totalUsage model.TokensUsed
	var out string
	err = s.Router.Use(ctx, s.Model, func(client provider.Client) error {
		bounds := provider.DefaultBounds(client.Profile())
		if len([]rune(text)) <= bounds.LargeTextThreshold {
			cleaned, usage, callErr := callClean(ctx, client, resolved, text)
			if callErr != nil {
				return callErr
			}
			out = cleaned
			totalUsage = usage
			return nil
		}

		chunks := splitChunks(text, bounds.ChunkChars)
		var pieces []string
		for _, chunk := range chunks {
			cleaned, usage, callErr := callClean(ctx, client, resolved, chunk)
			if callErr != nil {
				return callErr
			}
			pieces = append(pieces, cleaned)
			totalUsage = cost.Add(totalUsage, usage)
		}
		out = stitchOverlap(pieces)
		return nil
	})
	if err != nil {
		return "", model.TokensUsed{}, err
	}
	return out, totalUsage, nil
}

func callClean(ctx context.Context, client provider.Client, resolved prompts.Resolved, chunk string) (string, model.TokensUsed, error) {
	userPrompt, err := prompts.Render(resolved.User, struct{ Text string }{Text: chunk})
	if err != nil {
		return "", model.TokensUsed{}, err
	}
	text, usage, err := client.Chat(ctx, []provider.Message{
		{Role: "user", Content: userPrompt},
	}, provider.Options{SystemText: resolved.System})
	if err != nil {
		return "", model.TokensUsed{}, err
	}
	return text, usage.Tokens, nil
}

// splitChunks breaks text into chunkChars-sized pieces at whitespace
// boundaries, never mid-word.
func splitChunks(text string, chunkChars int) []string {
	if chunkChars <= 0 {
		return []string{text}
	}
	runes := []rune(text)
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkChars
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		boundary := end
		for boundary > start && !unicode.IsSpace(runes[boundary]) {
			boundary--
		}
		if boundary == start {
			boundary = end
		} else {
			boundary++ // the separating whitespace stays with this chunk
		}
		chunks = append(chunks, string(runes[start:boundary]))
		start = boundary
	}
	return chunks
}

// stitchOverlap concatenates chunk outputs, trimming a duplicated
// prefix/suffix between consecutive pieces — one acceptable overlap-dedup
// strategy among several, chosen for its simplicity over the chunk sizes
// this stage produces.
func stitchOverlap(pieces []string) string {
	if len(pieces) == 0 {
		return ""
	}
	result := pieces[0]
	for i := 1; i < len(pieces); i++ {
		result = joinDedupingOverlap(result, pieces[i])
	}
	return result
}

func joinDedupingOverlap(a, b string) string {
	const maxOverlap = 200
	aRunes, bRunes := []rune(a), []rune(b)
	limit := maxOverlap
	if len(aRunes) < limit {
		limit = len(aRunes)
	}
	if len(bRunes) < limit {
		limit = len(bRunes)
	}
	for n := limit; n > 0; n-- {
		if string(aRunes[len(aRunes)-n:]) == string(bRunes[:n]) {
			return a + string(bRunes[n:])
		}
	}
	return a + " " + b
}

func validateCleanOutput(originalLength, cleanedLength int, text string) error {
	if originalLength > 0 {
		if float64(cleanedLength) > float64(originalLength)*1.1 {
			return pipelineerr.NewStageError(StageClean, pipelineerr.KindCleanRegression, "cleaned text expanded beyond allowed slack", nil)
		}
		if float64(cleanedLength) < float64(originalLength)*0.5 {
			return pipelineerr.NewStageError(StageClean, pipelineerr.KindCleanRegression, "cleaned text too short relative to input", nil)
		}
	}
	if cyrillicRatio(text) < 0.5 {
		return pipelineerr.NewStageError(StageClean, pipelineerr.KindCleanRegression, "cleaned text is not majority-cyrillic", nil)
	}
	return nil
}

// cyrillicRatio is the fraction of alphabetic runes that fall in the
// Cyrillic block, counted over letters only so punctuation/whitespace
// don't dilute the signal.
func cyrillicRatio(text string) float64 {
	var letters, cyrillic int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.Is(unicode.Cyrillic, r) {
			cyrillic++
		}
	}
	if letters == 0 {
		return 1 // empty/no-letter text trivially satisfies the gate
	}
	return float64(cyrillic) / float64(letters)
}

func mustRawTranscript(v any) model.RawTranscript {
	switch t := v.(type) {
	case model.RawTranscript:
		return t
	case *model.RawTranscript:
		return *t
	default:
		return model.RawTranscript{}
	}
}
