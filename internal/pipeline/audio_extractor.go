package pipeline

import (
	"context"
	"os/exec"
)

// FFmpegAudioExtractor implements AudioExtractor by shelling out to ffmpeg,
// the same exec.CommandContext pattern RealMediaProbe uses for ffprobe.
type FFmpegAudioExtractor struct {
	BinaryPath string // defaults to "ffmpeg" on PATH
}

func (e FFmpegAudioExtractor) ExtractAudio(ctx context.Context, sourcePath, destPath string) error {
	bin := e.BinaryPath
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, "-y", "-i", sourcePath, "-vn", "-ac", "1", "-ar", "16000", destPath)
	return cmd.Run()
}
