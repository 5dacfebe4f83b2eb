// Package pipeline implements the Orchestrator and the nine stage
// implementations. The execute/cleanup/result-bundle shape of Run
// follows an Execute-loop convention: stage-by-stage, context
// cancellation checked before each stage, per-stage result collected
// into a bundle, one wrapped error halting the whole run, generalized
// from a fixed build sequence to a dependency-ordered stage slice built
// by internal/registry, and a tick-and-dispatch shape for logging a
// run's start/finish around its body.
package pipeline

import (
	"context"
	"log/slog"

	"github.com/antigravity-dev/videoloom/internal/cache"
	"github.com/antigravity-dev/videoloom/internal/clock"
	"github.com/antigravity-dev/videoloom/internal/config"
	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/progress"
	"github.com/antigravity-dev/videoloom/internal/prompts"
	"github.com/antigravity-dev/videoloom/internal/provider"
	"github.com/antigravity-dev/videoloom/internal/registry"
)

// Stage name constants, shared across the orchestrator and the individual
// stage implementation files so the DAG wiring in registry_defaults.go and
// the weight table below never drift from a typo'd literal.
const (
	StageParse      = "parse"
	StageTranscribe = "transcribe"
	StageClean      = "clean"
	StageSlides     = "slides"
	StageLongread   = "longread"
	StageSummarize  = "summarize"
	StageStory      = "story"
	StageChunk      = "chunk"
	StageSave       = "save"
)

// progressWeights is the weight vector: each stage's internal 0-100
// progress scales into its slice of the overall job
// percentage. Educational jobs spend their weight on longread+summarize;
// leadership jobs route the same slice through story instead, so the two
// sets overlap rather than sum.
var progressWeights = map[string]float64{
	StageParse:      2,
	StageTranscribe: 45,
	StageClean:      10,
	StageLongread:   18,
	StageSummarize:  10,
	StageStory:      28,
	StageChunk:      13,
	StageSave:       2,
}

// Deps bundles the collaborators a Run needs: the compiled stage registry,
// the provider router, the prompt resolver, a clock (real in production,
// fake in tests), and a logger. One Deps is shared across many Runs.
type Deps struct {
	Registry *registry.Registry
	Router   *provider.Router
	Prompts  *prompts.Resolver
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Request describes one job: the source file (and optional slides) to run
// through a requested subset of stages, against one archive directory.
type Request struct {
	SourcePath string
	Slides     []model.SlideInput
	ArchiveDir string
	Stages     []string // names passed to Registry.Build; defaults to {"save"} (the full auto pipeline) if empty
	Cfg        *config.Config
	OnProgress progress.Callback
}

// Result is what Run returns: the final context (every executed stage's
// typed output, keyed by stage name) and the cache handle the run wrote
// through.
type Result struct {
	Context registry.Context
	Cache   *cache.Cache
}

// Run builds the requested stage order, executes each stage against an
// accumulating Context, tickers progress through req.OnProgress, writes a
// cache entry after every non-skipped stage, and returns the final
// Context. Any stage failure halts the run immediately: results already
// cached remain valid, but pipeline_results.json (written only by the
// Save stage) is never produced on a failed run.
func Run(ctx context.Context, deps Deps, req Request) (Result, error) {
	stageNames := req.Stages
	if len(stageNames) == 0 {
		stageNames = []string{StageSave}
	}

	stages, err := deps.Registry.Build(stageNames)
	if err != nil {
		return Result{}, pipelineerr.Wrap("", err)
	}

	c := cache.New(req.ArchiveDir)
	pctx := registry.NewContext(req.SourcePath, req.Slides)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "pipeline run starting", "source", req.SourcePath, "stages", stageNames)

	completedWeight := 0.0
	totalWeight := totalWeightFor(stages, pctx)

	for _, stage := range stages {
		select {
		case <-ctx.Done():
			err := pipelineerr.NewStageError(stage.Name(), pipelineerr.KindCancelled, "run cancelled", ctx.Err())
			return Result{Context: pctx, Cache: c}, pipelineerr.Wrap(stage.Name(), err)
		default:
		}

		if stage.ShouldSkip(pctx) {
			logger.InfoContext(ctx, "stage skipped", "stage", stage.Name())
			emit(req.OnProgress, progress.Event{
				Type: "progress", Stage: stage.Name(), Status: progress.StatusSkipped,
				Progress: overallPercent(completedWeight, totalWeight),
			})
			continue
		}

		weight := progressWeights[stage.Name()]
		result, execErr := runStage(ctx, deps, c, stage, pctx, completedWeight, totalWeight, weight, req.OnProgress)
		if execErr != nil {
			logger.ErrorContext(ctx, "stage failed", "stage", stage.Name(), "error", execErr)
			return Result{Context: pctx, Cache: c}, pipelineerr.Wrap(stage.Name(), execErr)
		}

		pctx = pctx.With(stage.Name(), result)
		if stage.Name() == StageParse {
			pctx = attachMetadata(pctx, result)
			// ContentType is only known from here on; recompute the
			// denominator so the opposite branch's skipped weight
			// (story, or longread+summarize) drops out of it.
			totalWeight = totalWeightFor(stages, pctx)
		}
		completedWeight += weight
		logger.InfoContext(ctx, "stage completed", "stage", stage.Name())
	}

	logger.InfoContext(ctx, "pipeline run finished", "source", req.SourcePath)
	return Result{Context: pctx, Cache: c}, nil
}

// attachMetadata pulls parse's VideoMetadata result (returned by value or
// pointer, stages are free to choose) into the context's dedicated
// Metadata slot so VideoID()/ContentType() work for every later stage.
func attachMetadata(pctx registry.Context, result any) registry.Context {
	switch v := result.(type) {
	case model.VideoMetadata:
		return pctx.WithMetadata(v)
	case *model.VideoMetadata:
		return pctx.WithMetadata(*v)
	default:
		return pctx
	}
}

// runStage drives one stage's ticker/execute/cache-write cycle.
func runStage(ctx context.Context, deps Deps, c *cache.Cache, stage registry.Stage, pctx registry.Context, completedWeight, totalWeight, weight float64, cb progress.Callback) (any, error) {
	inputSize := estimateInputSize(stage.Name(), pctx)
	estimate := stage.EstimateTime(inputSize)

	var result any
	tickerCb := func(ev progress.Event) {
		if cb == nil {
			return
		}
		ev.Progress = overallPercent(completedWeight+ev.Progress/100*weight, totalWeight)
		cb(ev)
	}

	err := progress.RunWithTicker(ctx, deps.Clock, stage.Name(), estimate, "", tickerCb, func(ctx context.Context) error {
		r, execErr := stage.Execute(ctx, pctx)
		result = r
		return execErr
	})
	if err != nil {
		return nil, err
	}

	if _, cacheErr := c.Save(stage.Name(), result, stage.ModelName(), stage.PromptOverrides()); cacheErr != nil {
		return nil, cacheErr
	}
	return result, nil
}

// totalWeightFor sums the progress weight of the stages that will actually
// run against pctx, excluding whichever opposite-branch stages ShouldSkip
// reports — so a successful run's completedWeight reaches this total
// exactly, and overallPercent ends at 100%.
func totalWeightFor(stages []registry.Stage, pctx registry.Context) float64 {
	var total float64
	for _, s := range stages {
		if s.ShouldSkip(pctx) {
			continue
		}
		total += progressWeights[s.Name()]
	}
	if total == 0 {
		return 1
	}
	return total
}

func overallPercent(completed, total float64) float64 {
	if total <= 0 {
		return 0
	}
	pct := completed / total * 100
	if pct > 100 {
		return 100
	}
	if pct < 0 {
		return 0
	}
	return pct
}

func emit(cb progress.Callback, ev progress.Event) {
	if cb != nil {
		cb(ev)
	}
}

// variantOverrides converts a stage's non-default prompt variant selections
// into the string-keyed map the cache manifest records; a stage with no
// overrides at all, or whose variants all resolved to "", returns nil.
func variantOverrides(variants map[prompts.Component]string) map[string]string {
	if len(variants) == 0 {
		return nil
	}
	out := make(map[string]string, len(variants))
	for comp, variant := range variants {
		if variant == "" {
			continue
		}
		out[string(comp)] = variant
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// estimateInputSize picks the stage-appropriate size metric the progress
// estimator's coefficients are calibrated against: seconds of audio for
// transcribe, raw-transcript character count for clean, and
// cleaned-transcript character count for the later text stages.
func estimateInputSize(stageName string, pctx registry.Context) float64 {
	switch stageName {
	case StageTranscribe:
		if pctx.Metadata != nil {
			return pctx.Metadata.DurationSeconds
		}
	case StageClean:
		if v, ok := pctx.Result(StageTranscribe); ok {
			return float64(len([]rune(mustRawTranscript(v).FullText)))
		}
	case StageLongread, StageStory, StageSummarize, StageChunk:
		if v, ok := pctx.Result(StageClean); ok {
			switch cleaned := v.(type) {
			case model.CleanedTranscript:
				return float64(len([]rune(cleaned.Text)))
			case *model.CleanedTranscript:
				return float64(len([]rune(cleaned.Text)))
			}
		}
	}
	return 0
}
