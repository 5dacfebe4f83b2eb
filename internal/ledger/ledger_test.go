package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestStartAndFinishJob(t *testing.T) {
	l := tempLedger(t)

	runID, jobID, err := l.StartJob("2026-02-14_stream-3_vid", "/inbox/video.mp4", "education")
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	jobs, err := l.JobsForVideo("2026-02-14_stream-3_vid")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "running", jobs[0].Status)

	require.NoError(t, l.FinishJob(jobID, "completed", ""))

	jobs, err = l.JobsForVideo("2026-02-14_stream-3_vid")
	require.NoError(t, err)
	require.Equal(t, "completed", jobs[0].Status)
	require.True(t, jobs[0].FinishedAt.Valid)
}

func TestStageRunsAccumulateCost(t *testing.T) {
	l := tempLedger(t)
	_, jobID, err := l.StartJob("vid-1", "/inbox/a.mp4", "leadership")
	require.NoError(t, err)

	cleanRunID, err := l.StartStage(jobID, "clean")
	require.NoError(t, err)
	require.NoError(t, l.FinishStage(cleanRunID, StageResult{
		Status: "completed", DurationS: 1.2, InputTokens: 500, OutputTokens: 400, CostUSD: 0.01, CacheVersion: 1,
	}))

	storyRunID, err := l.StartStage(jobID, "story")
	require.NoError(t, err)
	require.NoError(t, l.FinishStage(storyRunID, StageResult{
		Status: "completed", DurationS: 3.4, InputTokens: 2000, OutputTokens: 900, CostUSD: 0.05, CacheVersion: 1,
	}))

	runs, err := l.StagesForJob(jobID)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "clean", runs[0].Stage)
	require.Equal(t, "story", runs[1].Stage)

	total, err := l.TotalCostForVideo("vid-1")
	require.NoError(t, err)
	require.InDelta(t, 0.06, total, 0.0001)
}

func TestFinishStageRecordsFailure(t *testing.T) {
	l := tempLedger(t)
	_, jobID, err := l.StartJob("vid-2", "/inbox/b.mp4", "education")
	require.NoError(t, err)

	runID, err := l.StartStage(jobID, "transcribe")
	require.NoError(t, err)
	require.NoError(t, l.FinishStage(runID, StageResult{Status: "failed", Error: "transport timeout"}))

	runs, err := l.StagesForJob(jobID)
	require.NoError(t, err)
	require.Equal(t, "failed", runs[0].Status)
	require.Equal(t, "transport timeout", runs[0].Error)
}
