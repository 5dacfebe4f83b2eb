package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/progress"
	"github.com/antigravity-dev/videoloom/internal/registry"
)

// Transcriber uploads a media file to the external transcription service
// and returns its segments. Production wires this to a local Whisper
// HTTP server; tests supply a stub.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (TranscriptionResponse, error)
}

// TranscriptionResponse mirrors the transcription service's response
// contract: `segments[{start,end,text}]`, `language`, `duration`, `model`.
type TranscriptionResponse struct {
	Segments  []model.TranscriptSegment
	Language  string
	Duration  float64
	ModelName string
}

const transcribeCoeff = 0.5 // seconds of estimated work per second of audio

// TranscribeStage sends the source media to the transcription service and
// records the resulting segments. It depends on parse for the source
// path and duration estimate.
type TranscribeStage struct {
	Client Transcriber
}

func (s TranscribeStage) Name() string             { return StageTranscribe }
func (s TranscribeStage) DependsOn() []string       { return []string{StageParse} }
func (s TranscribeStage) Optional() bool            { return false }
func (s TranscribeStage) Status() progress.Status   { return progress.StatusRunning }
func (s TranscribeStage) ShouldSkip(registry.Context) bool { return false }
func (s TranscribeStage) ModelName() string         { return "" }
func (s TranscribeStage) PromptOverrides() map[string]string { return nil }

func (s TranscribeStage) EstimateTime(inputSize float64) float64 {
	return 10 + transcribeCoeff*inputSize
}

func (s TranscribeStage) Execute(ctx context.Context, pctx registry.Context) (any, error) {
	resp, err := s.Client.Transcribe(ctx, pctx.SourcePath)
	if err != nil {
		return nil, wrapTransportErr(StageTranscribe, err)
	}

	fullText := joinSegments(resp.Segments)
	raw := model.RawTranscript{
		Segments:        resp.Segments,
		FullText:        fullText,
		DurationSeconds: resp.Duration,
		Language:        resp.Language,
		ModelName:       resp.ModelName,
	}

	return raw, nil
}

func joinSegments(segments []model.TranscriptSegment) string {
	var out []byte
	for i, seg := range segments {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, seg.Text...)
	}
	return string(out)
}

// RenderTimestampedView builds the backup text-with-timestamps view of a
// transcript. Save calls this directly when include_timestamps is
// enabled; it is not part of RawTranscript's typed result.
func RenderTimestampedView(segments []model.TranscriptSegment) string {
	var out []byte
	for _, seg := range segments {
		out = append(out, []byte(formatTimestampLine(seg))...)
	}
	return string(out)
}

func formatTimestampLine(seg model.TranscriptSegment) string {
	return fmt.Sprintf("%s --> %s\n%s\n\n", formatSeconds(seg.Start), formatSeconds(seg.End), seg.Text)
}

func formatSeconds(s float64) string {
	total := int(s)
	h, rem := total/3600, total%3600
	m, sec := rem/60, rem%60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
}

// wrapTransportErr passes a *StageError through unchanged (the client
// already classified it) and wraps anything else as a transport failure.
func wrapTransportErr(stage string, err error) error {
	if err == nil {
		return nil
	}
	var se *pipelineerr.StageError
	if errors.As(err, &se) {
		return se
	}
	return pipelineerr.NewStageError(stage, pipelineerr.KindTransport, "external service call failed", err)
}
