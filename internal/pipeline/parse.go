package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/antigravity-dev/videoloom/internal/model"
	"github.com/antigravity-dev/videoloom/internal/pipelineerr"
	"github.com/antigravity-dev/videoloom/internal/progress"
	"github.com/antigravity-dev/videoloom/internal/registry"
)

// MediaProbe returns a media file's duration in seconds. Production wires
// this to an external ffprobe-style utility; tests supply a stub.
type MediaProbe func(path string) (float64, error)

// filenameRule is one entry of the ordered filename grammar. The first
// pattern to match the source's basename wins.
type filenameRule struct {
	pattern       *regexp.Regexp
	eventCategory model.EventCategory
	contentType   model.ContentType
	build         func(m []string) parsedFilename
}

type parsedFilename struct {
	date      string
	eventType string
	stream    string
	title     string
	speaker   string
	eventName string
}

var filenameRules = []filenameRule{
	// 1. YYYY.MM.DD EVENT.STREAM TITLE (SPEAKER).ext -> regular, educational
	{
		pattern:       regexp.MustCompile(`^(\d{4}\.\d{2}\.\d{2}) ([^.]+)\.(\S+) (.+) \((.+)\)$`),
		eventCategory: model.EventRegular,
		contentType:   model.ContentEducational,
		build: func(m []string) parsedFilename {
			return parsedFilename{date: m[1], eventType: m[2], stream: m[3], title: m[4], speaker: m[5]}
		},
	},
	// 2. YYYY.MM EVENT. # TITLE (SPEAKER).ext -> offsite, leadership
	{
		pattern:       regexp.MustCompile(`^(\d{4}\.\d{2}) ([^.]+)\. # (.+) \((.+)\)$`),
		eventCategory: model.EventOffsite,
		contentType:   model.ContentLeadership,
		build: func(m []string) parsedFilename {
			return parsedFilename{date: m[1], eventName: m[2], title: m[3], speaker: m[4]}
		},
	},
	// 3. YYYY.MM EVENT. TITLE (SPEAKER).ext -> offsite, educational
	{
		pattern:       regexp.MustCompile(`^(\d{4}\.\d{2}) ([^.]+)\. (.+) \((.+)\)$`),
		eventCategory: model.EventOffsite,
		contentType:   model.ContentEducational,
		build: func(m []string) parsedFilename {
			return parsedFilename{date: m[1], eventName: m[2], title: m[3], speaker: m[4]}
		},
	},
	// 4. SURNAME (NAMES).ext, offsite folder -> offsite, leadership
	{
		pattern:       regexp.MustCompile(`^([^(]+) \((.+)\)$`),
		eventCategory: model.EventOffsite,
		contentType:   model.ContentLeadership,
		build: func(m []string) parsedFilename {
			return parsedFilename{title: strings.TrimSpace(m[1]), speaker: strings.TrimSpace(m[2])}
		},
	},
	// 5. SURNAME — TITLE.ext, offsite folder -> offsite, educational
	{
		pattern:       regexp.MustCompile(`^(.+) — (.+)$`),
		eventCategory: model.EventOffsite,
		contentType:   model.ContentEducational,
		build: func(m []string) parsedFilename {
			return parsedFilename{speaker: strings.TrimSpace(m[1]), title: strings.TrimSpace(m[2])}
		},
	},
}

// ParseStage derives VideoMetadata from the job's source filename plus a
// duration probe. It has no dependencies; it is the root of the DAG.
type ParseStage struct {
	Probe      MediaProbe
	ArchiveRoot string
}

func (s ParseStage) Name() string           { return StageParse }
func (s ParseStage) DependsOn() []string    { return nil }
func (s ParseStage) Optional() bool         { return false }
func (s ParseStage) Status() progress.Status { return progress.StatusRunning }
func (s ParseStage) ShouldSkip(registry.Context) bool { return false }
func (s ParseStage) ModelName() string      { return "" }
func (s ParseStage) PromptOverrides() map[string]string { return nil }

func (s ParseStage) EstimateTime(inputSize float64) float64 {
	return 1 // parse is filename/probe work, effectively instant
}

func (s ParseStage) Execute(ctx context.Context, pctx registry.Context) (any, error) {
	base := filepath.Base(pctx.SourcePath)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	parsed, category, contentType, err := matchFilename(stem)
	if err != nil {
		return nil, pipelineerr.NewStageError(StageParse, pipelineerr.KindParseFailure, err.Error(), nil)
	}

	duration := 0.0
	if s.Probe != nil {
		d, probeErr := s.Probe(pctx.SourcePath)
		if probeErr != nil {
			return nil, pipelineerr.NewStageError(StageParse, pipelineerr.KindParseFailure, "probe media duration", probeErr)
		}
		duration = d
	}

	videoID := buildVideoID(parsed, category)
	archivePath := buildArchivePath(s.ArchiveRoot, parsed, category)

	meta := model.VideoMetadata{
		Date:             parsed.date,
		EventType:        parsed.eventType,
		Stream:           parsed.stream,
		Title:            parsed.title,
		Speaker:          parsed.speaker,
		EventName:        parsed.eventName,
		ContentType:      contentType,
		EventCategory:    category,
		OriginalFilename: base,
		VideoID:          videoID,
		SourcePath:       pctx.SourcePath,
		ArchivePath:      archivePath,
		DurationSeconds:  duration,
	}
	return meta, nil
}

func matchFilename(stem string) (parsedFilename, model.EventCategory, model.ContentType, error) {
	for _, rule := range filenameRules {
		m := rule.pattern.FindStringSubmatch(stem)
		if m == nil {
			continue
		}
		return rule.build(m), rule.eventCategory, rule.contentType, nil
	}
	return parsedFilename{}, "", "", fmt.Errorf("filename %q matches no recognized grammar", stem)
}

// buildVideoID computes video_id = date + '_' + type + '-' + stream +
// '_' + slug(title). Offsite filenames (rules 2-5) have no
// stream/eventType, and rules 4-5 no date; an empty segment is left out
// together with its separator.
func buildVideoID(p parsedFilename, category model.EventCategory) string {
	date := strings.ReplaceAll(p.date, ".", "-")
	typeStream := p.eventType
	if p.stream != "" {
		typeStream = typeStream + "-" + p.stream
	}
	parts := []string{}
	if date != "" {
		parts = append(parts, date)
	}
	if typeStream != "" {
		parts = append(parts, typeStream)
	}
	parts = append(parts, slug(p.title))
	return strings.Join(parts, "_")
}

// slug lowercases and replaces runs of whitespace with a single hyphen,
// leaving non-Latin scripts (Cyrillic titles are common inputs) intact.
func slug(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	fields := strings.Fields(lower)
	return strings.Join(fields, "-")
}

// buildArchivePath implements archive directory convention.
func buildArchivePath(root string, p parsedFilename, category model.EventCategory) string {
	year := strings.SplitN(p.date, ".", 2)[0]
	leaf := fmt.Sprintf("%s (%s)", p.title, p.speaker)
	if category == model.EventOffsite {
		name := p.eventName
		if name == "" {
			name = p.title
		}
		return filepath.Join(root, year, "Выездные", name, leaf)
	}
	monthDay := monthDayEventFolder(p.date, p.eventType)
	return filepath.Join(root, year, monthDay, leaf)
}

func monthDayEventFolder(date, eventType string) string {
	segs := strings.Split(date, ".")
	if len(segs) < 3 {
		return eventType
	}
	return fmt.Sprintf("%s.%s %s", segs[1], segs[2], eventType)
}

// RealMediaProbe shells out to ffprobe for a file's duration in seconds.
// Grounded on command.go pattern of building an *exec.Cmd,
// running it with a context, and parsing stdout.
func RealMediaProbe(ctx context.Context, path string) (float64, error) {
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	out, err := runFFProbe(ctx, path)
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe duration output %q: %w", out, err)
	}
	return seconds, nil
}

// runFFProbe is overridable in tests so RealMediaProbe's parsing logic can
// be exercised without an actual ffprobe binary on PATH.
var runFFProbe = func(ctx context.Context, path string) (string, error) {
	out, err := exec.CommandContext(ctx, "ffprobe", "-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path).Output()
	if err != nil {
		return "", fmt.Errorf("run ffprobe: %w", err)
	}
	return string(out), nil
}
