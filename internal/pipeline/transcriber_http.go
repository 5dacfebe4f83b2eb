package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/provider"
)

// HTTPTranscriber implements Transcriber against a local Whisper HTTP
// service: a multipart file upload, a JSON
// {segments,language,duration,model} response. Request/retry shape mirrors
// the cloud provider client's send loop in internal/provider/cloud.go.
type HTTPTranscriber struct {
	HTTPClient *http.Client
	BaseURL    string
	Retry      provider.RetryPolicy
}

type transcriptionSegmentWire struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

type transcriptionResponseWire struct {
	Segments  []transcriptionSegmentWire `json:"segments"`
	Language  string                     `json:"language"`
	Duration  float64                    `json:"duration"`
	ModelName string                     `json:"model"`
}

func (t HTTPTranscriber) Transcribe(ctx context.Context, path string) (TranscriptionResponse, error) {
	client := t.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	retry := t.Retry
	if retry.MaxRetries == 0 {
		retry = provider.DefaultRetryPolicy()
	}

	var lastErr error
	for attempt := 0; attempt <= retry.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(retry.NextDelay(attempt))
		}

		body, contentType, err := buildUploadBody(path)
		if err != nil {
			return TranscriptionResponse{}, pipelineerr.NewStageError(StageTranscribe, pipelineerr.KindConfiguration, "read media file for upload", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.BaseURL+"/transcribe", body)
		if err != nil {
			return TranscriptionResponse{}, pipelineerr.NewStageError(StageTranscribe, pipelineerr.KindConfiguration, "build transcription request", err)
		}
		req.Header.Set("Content-Type", contentType)

		resp, err := client.Do(req)
		if err != nil {
			lastErr = wrapTransportErr(StageTranscribe, err)
			if attempt == retry.MaxRetries {
				return TranscriptionResponse{}, lastErr
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = pipelineerr.NewStageError(StageTranscribe, pipelineerr.KindTransport, "read transcription response", readErr)
			if attempt == retry.MaxRetries {
				return TranscriptionResponse{}, lastErr
			}
			continue
		}

		if fault := provider.ClassifyStatus(resp.StatusCode); fault != provider.FaultNone {
			callErr := fmt.Errorf("transcription service returned status %d: %s", resp.StatusCode, string(respBody))
			if fault == provider.FaultClient {
				return TranscriptionResponse{}, pipelineerr.NewStageError(StageTranscribe, pipelineerr.KindProvider, "transcription service rejected request", callErr)
			}
			lastErr = pipelineerr.NewStageError(StageTranscribe, pipelineerr.KindTransport, "transcription service error", callErr)
			if attempt == retry.MaxRetries {
				return TranscriptionResponse{}, lastErr
			}
			continue
		}

		var wire transcriptionResponseWire
		if err := json.Unmarshal(respBody, &wire); err != nil {
			return TranscriptionResponse{}, pipelineerr.NewStageError(StageTranscribe, pipelineerr.KindSchema, "decode transcription response", err)
		}

		segments := make([]model.TranscriptSegment, len(wire.Segments))
		for i, s := range wire.Segments {
			segments[i] = model.TranscriptSegment{Start: s.Start, End: s.End, Text: s.Text}
		}
		return TranscriptionResponse{
			Segments:  segments,
			Language:  wire.Language,
			Duration:  wire.Duration,
			ModelName: wire.ModelName,
		}, nil
	}
	return TranscriptionResponse{}, lastErr
}

func buildUploadBody(path string) (io.Reader, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &buf, writer.FormDataContentType(), nil
}
