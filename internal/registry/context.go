package registry

import "github.com/antigravity-dev/videoloom/internal/model"

// Context is the immutable, accumulating pipeline context threaded
// through a job's stages: each stage reads prior results from it and
// returns a new Context with its own result attached, never mutating the
// one it received. It follows a DepGraph habit of copying nodes on
// construction rather than aliasing caller state.
//
// A job starts from a source file, not a known video_id/content_type —
// Parse is the stage that derives those. Metadata is nil until Parse has
// run; every stage that depends on parse (directly or transitively) may
// assume it is populated.
type Context struct {
	SourcePath string
	Slides     []model.SlideInput
	Metadata   *model.VideoMetadata

	results map[string]any
}

// NewContext starts a fresh pipeline context for one job: the source media
// path in the inbox, plus any caller-supplied slides.
func NewContext(sourcePath string, slides []model.SlideInput) Context {
	return Context{
		SourcePath: sourcePath,
		Slides:     slides,
		results:    map[string]any{},
	}
}

// VideoID returns the parsed job's video id. Callers must only call this
// after parse has run (i.e. from a stage that depends on it).
func (c Context) VideoID() string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata.VideoID
}

// ContentType returns the parsed job's content type branch. Callers must
// only call this after parse has run.
func (c Context) ContentType() model.ContentType {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata.ContentType
}

// WithMetadata returns a new Context with Parse's result attached as the
// job's metadata, leaving the receiver untouched.
func (c Context) WithMetadata(meta model.VideoMetadata) Context {
	next := c.clone()
	next.Metadata = &meta
	return next
}

// With returns a new Context with stage's result attached, leaving the
// receiver untouched.
func (c Context) With(stage string, result any) Context {
	next := c.clone()
	next.results[stage] = result
	return next
}

// Result returns stage's prior result, if present.
func (c Context) Result(stage string) (any, bool) {
	v, ok := c.results[stage]
	return v, ok
}

// Has reports whether stage has a result attached (false if it was skipped
// or never ran).
func (c Context) Has(stage string) bool {
	_, ok := c.results[stage]
	return ok
}

func (c Context) clone() Context {
	next := make(map[string]any, len(c.results)+1)
	for k, v := range c.results {
		next[k] = v
	}
	return Context{SourcePath: c.SourcePath, Slides: c.Slides, Metadata: c.Metadata, results: next}
}
