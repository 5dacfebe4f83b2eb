package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/antigravity-dev/videoloom/internal/clock"
	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/progress"
	"github.com/antigravity-dev/videoloom/internal/registry"
)

type fakeStage struct {
	name            string
	deps            []string
	skip            bool
	failWith        error
	result          any
	executed        *[]string
	modelName       string
	promptOverrides map[string]string
}

func (s fakeStage) Name() string                          { return s.name }
func (s fakeStage) DependsOn() []string                    { return s.deps }
func (s fakeStage) Optional() bool                         { return false }
func (s fakeStage) Status() progress.Status                { return progress.StatusRunning }
func (s fakeStage) ShouldSkip(registry.Context) bool       { return s.skip }
func (s fakeStage) EstimateTime(inputSize float64) float64 { return 1 }
func (s fakeStage) ModelName() string                      { return s.modelName }
func (s fakeStage) PromptOverrides() map[string]string     { return s.promptOverrides }

func (s fakeStage) Execute(ctx context.Context, pctx registry.Context) (any, error) {
	if s.executed != nil {
		*s.executed = append(*s.executed, s.name)
	}
	if s.failWith != nil {
		return nil, s.failWith
	}
	return s.result, nil
}

func newTestDeps(stages ...registry.Stage) Deps {
	return Deps{
		Registry: registry.New(stages...),
		Clock:    clock.NewFake(time.Unix(0, 0)),
	}
}

func TestRun_ExecutesStagesInDependencyOrderAndWritesCache(t *testing.T) {
	var order []string
	parse := fakeStage{name: StageParse, executed: &order, result: model.VideoMetadata{VideoID: "v1", ContentType: model.ContentEducational}}
	transcribe := fakeStage{name: StageTranscribe, deps: []string{StageParse}, executed: &order, result: model.RawTranscript{FullText: "raw"}}

	deps := newTestDeps(parse, transcribe)

	archive := t.TempDir()
	result, err := Run(context.Background(), deps, Request{
		SourcePath: "/inbox/a.mp4",
		ArchiveDir: archive,
		Stages:     []string{StageTranscribe},
	})
	require.NoError(t, err)
	require.Equal(t, []string{StageParse, StageTranscribe}, order)

	v, ok := result.Context.Result(StageTranscribe)
	require.True(t, ok)
	require.Equal(t, model.RawTranscript{FullText: "raw"}, v)
	require.NotNil(t, result.Context.Metadata)
	require.Equal(t, "v1", result.Context.Metadata.VideoID)

	var cached model.RawTranscript
	found, err := result.Cache.Load(StageTranscribe, 0, &cached)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "raw", cached.FullText)
}

func TestRun_StageFailureHaltsTheRun(t *testing.T) {
	var order []string
	parse := fakeStage{name: StageParse, executed: &order, result: model.VideoMetadata{VideoID: "v1"}}
	clean := fakeStage{name: StageClean, deps: []string{StageParse}, executed: &order, failWith: errors.New("boom")}
	chunk := fakeStage{name: StageChunk, deps: []string{StageClean}, executed: &order}

	deps := newTestDeps(parse, clean, chunk)

	_, err := Run(context.Background(), deps, Request{
		SourcePath: "/inbox/a.mp4",
		ArchiveDir: t.TempDir(),
		Stages:     []string{StageChunk},
	})
	require.Error(t, err)
	var pipeErr *pipelineerr.PipelineError
	require.ErrorAs(t, err, &pipeErr)
	require.Equal(t, []string{StageParse, StageClean}, order, "chunk must not run once clean fails")
}

func TestRun_SkippedStageNeverExecutes(t *testing.T) {
	var order []string
	parse := fakeStage{name: StageParse, executed: &order, result: model.VideoMetadata{VideoID: "v1"}}
	story := fakeStage{name: StageStory, deps: []string{StageParse}, skip: true, executed: &order}

	deps := newTestDeps(parse, story)

	result, err := Run(context.Background(), deps, Request{
		SourcePath: "/inbox/a.mp4",
		ArchiveDir: t.TempDir(),
		Stages:     []string{StageStory},
	})
	require.NoError(t, err)
	require.Equal(t, []string{StageParse}, order, "a skipped stage must never call Execute")
	require.False(t, result.Context.Has(StageStory))
}

func TestRun_CancelledContextHaltsBeforeNextStage(t *testing.T) {
	var order []string
	parse := fakeStage{name: StageParse, executed: &order, result: model.VideoMetadata{VideoID: "v1"}}
	transcribe := fakeStage{name: StageTranscribe, deps: []string{StageParse}, executed: &order}

	deps := newTestDeps(parse, transcribe)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, deps, Request{
		SourcePath: "/inbox/a.mp4",
		ArchiveDir: t.TempDir(),
		Stages:     []string{StageTranscribe},
	})
	require.Error(t, err)
	require.True(t, pipelineerr.IsCancelled(err))
	require.Empty(t, order, "no stage should execute once the context is already cancelled")
}

func TestRun_UnknownStageNameIsConfigurationError(t *testing.T) {
	deps := newTestDeps(fakeStage{name: StageParse})

	_, err := Run(context.Background(), deps, Request{
		SourcePath: "/inbox/a.mp4",
		ArchiveDir: t.TempDir(),
		Stages:     []string{"not-a-real-stage"},
	})
	require.Error(t, err)
}

func TestTotalWeightFor_FallsBackToOneWhenAllWeightsZero(t *testing.T) {
	stages := []registry.Stage{fakeStage{name: "unweighted"}}
	require.Equal(t, 1.0, totalWeightFor(stages, registry.NewContext("/inbox/a.mp4", nil)))
}

func TestTotalWeightFor_ExcludesSkippedStages(t *testing.T) {
	stages := []registry.Stage{
		fakeStage{name: StageLongread},
		fakeStage{name: StageStory, skip: true},
	}
	require.Equal(t, progressWeights[StageLongread], totalWeightFor(stages, registry.NewContext("/inbox/a.mp4", nil)))
}

// TestRun_SuccessfulRunReachesExactlyOneHundredPercent reproduces the real
// weighted branch (educational skips story) end to end: the final progress
// event must land on exactly 100%, not short of it because the skipped
// opposite-branch stage's weight was still counted in the denominator.
func TestRun_SuccessfulRunReachesExactlyOneHundredPercent(t *testing.T) {
	var order []string
	parse := fakeStage{name: StageParse, executed: &order, result: model.VideoMetadata{VideoID: "v1", ContentType: model.ContentEducational}}
	transcribe := fakeStage{name: StageTranscribe, deps: []string{StageParse}, executed: &order}
	clean := fakeStage{name: StageClean, deps: []string{StageTranscribe}, executed: &order}
	longread := fakeStage{name: StageLongread, deps: []string{StageClean}, executed: &order}
	summarize := fakeStage{name: StageSummarize, deps: []string{StageLongread}, executed: &order}
	story := fakeStage{name: StageStory, deps: []string{StageClean}, executed: &order,
		skip: true}
	chunk := fakeStage{name: StageChunk, deps: []string{StageLongread, StageStory, StageSummarize}, executed: &order}
	save := fakeStage{name: StageSave, deps: []string{StageChunk}, executed: &order}

	deps := newTestDeps(parse, transcribe, clean, longread, summarize, story, chunk, save)

	var lastPercent float64
	_, err := Run(context.Background(), deps, Request{
		SourcePath: "/inbox/a.mp4",
		ArchiveDir: t.TempDir(),
		Stages:     []string{StageSave},
		OnProgress: func(ev progress.Event) { lastPercent = ev.Progress },
	})
	require.NoError(t, err)
	require.Equal(t, 100.0, lastPercent)
}

func TestOverallPercent_ClampsToZeroAndHundred(t *testing.T) {
	require.Equal(t, 0.0, overallPercent(-5, 10))
	require.Equal(t, 100.0, overallPercent(50, 10))
	require.Equal(t, 0.0, overallPercent(5, 0))
	require.Equal(t, 50.0, overallPercent(5, 10))
}
