package pipeline

import (
	"context"
	"strings"

	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/progress"
	"github.com/antigravity-dev/videoloom/internal/prompts"
	"github.com/antigravity-dev/videoloom/internal/provider"
	"github.com/antigravity-dev/videoloom/internal/registry"
)

const (
	slidesDefaultBatchSize = 5
	slidesMaxFiles         = 50
	slidesMaxFileBytes     = 10 * 1024 * 1024
)

// PDFRenderer rasterizes a PDF's pages to PNG images, one page per image.
// Production wires this to an external renderer process; tests supply a
// stub.
type PDFRenderer interface {
	RenderPages(ctx context.Context, pdf []byte) ([][]byte, error)
}

const slidesCoeff = 0.2 // seconds of estimated work per slide image

// SlidesStage renders an attached PDF deck to per-slide images. It has no
// dependency edges of its own but is pulled into Longread/Story's closure
// by their DependsOn; it does nothing (ShouldSkip) unless the job was
// submitted with slide files attached.
type SlidesStage struct {
	Renderer  PDFRenderer
	Router    *provider.Router
	Prompts   *prompts.Resolver
	Model     string
	BatchSize int
	Variants  map[prompts.Component]string
}

func (s SlidesStage) Name() string          { return StageSlides }
func (s SlidesStage) DependsOn() []string   { return nil }
func (s SlidesStage) Optional() bool        { return true }
func (s SlidesStage) Status() progress.Status { return progress.StatusRunning }
func (s SlidesStage) ModelName() string     { return s.Model }
func (s SlidesStage) PromptOverrides() map[string]string { return variantOverrides(s.Variants) }

func (s SlidesStage) ShouldSkip(pctx registry.Context) bool {
	return len(pctx.Slides) == 0
}

func (s SlidesStage) EstimateTime(inputSize float64) float64 {
	return 5 + slidesCoeff*inputSize
}

func (s SlidesStage) Execute(ctx context.Context, pctx registry.Context) (any, error) {
	if len(pctx.Slides) > slidesMaxFiles {
		return nil, pipelineerr.NewStageError(StageSlides, pipelineerr.KindConfiguration,
			"too many slide files attached", nil)
	}
	for _, slide := range pctx.Slides {
		if len(slide.Data) > slidesMaxFileBytes {
			return nil, pipelineerr.NewStageError(StageSlides, pipelineerr.KindConfiguration,
				"slide file exceeds the maximum accepted size", nil)
		}
	}

	var pages []provider.Image
	for _, slide := range pctx.Slides {
		if slide.ContentType == "application/pdf" {
			rendered, err := s.Renderer.RenderPages(ctx, slide.Data)
			if err != nil {
				return nil, pipelineerr.NewStageError(StageSlides, pipelineerr.KindProvider, "render slide pages", err)
			}
			for _, png := range rendered {
				pages = append(pages, provider.Image{MimeType: "image/png", Data: png})
			}
			continue
		}
		// image/* inputs are already one logical slide each; only PDFs
		// need RenderPages to expand into per-page images.
		pages = append(pages, provider.Image{MimeType: slide.ContentType, Data: slide.Data})
	}

	resolved, err := s.Prompts.Resolve(StageSlides, []prompts.Component{prompts.ComponentSystem, prompts.ComponentUser}, s.Variants)
	if err != nil {
		return nil, err
	}

	batchSize := s.BatchSize
	if batchSize <= 0 {
		batchSize = slidesDefaultBatchSize
	}

	var usage model.TokensUsed
	var outputs []string
	err = s.Router.Use(ctx, s.Model, func(client provider.Client) error {
		for start := 0; start < len(pages); start += batchSize {
			end := start + batchSize
			if end > len(pages) {
				end = len(pages)
			}
			images := pages[start:end]

			text, callUsage, callErr := client.VisionGenerate(ctx, resolved.User, images, provider.Options{SystemText: resolved.System})
			if callErr != nil {
				return callErr
			}
			outputs = append(outputs, text)
			usage.Input += callUsage.Tokens.Input
			usage.Output += callUsage.Tokens.Output
		}
		return nil
	})
	if err != nil {
		return nil, pipelineerr.NewStageError(StageSlides, pipelineerr.KindProvider, "vision batch call failed", err)
	}

	extracted := strings.Join(outputs, "\n\n")
	return model.SlidesExtractionResult{
		ExtractedText: extracted,
		SlidesCount:   len(pages),
		CharsCount:    len([]rune(extracted)),
		WordsCount:    len(strings.Fields(extracted)),
		TablesCount:   countTableSeparators(extracted),
		ModelName:     s.Model,
		Metrics:       model.Metrics{TokensUsed: usage},
	}, nil
}

// countTableSeparators counts markdown table separator lines
// ("|---|"-style), used as a proxy for table count.
func countTableSeparators(markdown string) int {
	count := 0
	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if isTableSeparatorLine(trimmed) {
			count++
		}
	}
	return count
}

func isTableSeparatorLine(line string) bool {
	if !strings.HasPrefix(line, "|") {
		return false
	}
	cells := strings.Split(strings.Trim(line, "|"), "|")
	if len(cells) == 0 {
		return false
	}
	for _, cell := range cells {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			return false
		}
		for _, r := range cell {
			if r != '-' && r != ':' {
				return false
			}
		}
	}
	return true
}
