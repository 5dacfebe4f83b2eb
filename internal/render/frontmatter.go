// Package render turns stage result objects into the markdown artifacts
// Save writes to disk : YAML frontmatter blocks
// plus body content, and the H2-heading scan Chunk uses to split a
// rendered document back into sections. YAML encoding uses
// gopkg.in/yaml.v3, the same library the rest of the pack reaches for
// wherever a repo needs a human-editable structured document.
package render

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/antigravity-dev/videoloom/internal/model"
)

// Frontmatter is the YAML block written at the top of longread.md,
// story.md, and summary.md.
type Frontmatter struct {
	TopicArea   []string `yaml:"topicArea"`
	Tags        []string `yaml:"tags"`
	AccessLevel string   `yaml:"accessLevel"`
	WordCount   int      `yaml:"wordCount"`
}

// WithFrontmatter renders a "---\n<yaml>\n---\n\n<body>" document.
func WithFrontmatter(fm Frontmatter, body string) (string, error) {
	raw, err := yaml.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("render: marshal frontmatter: %w", err)
	}
	var b strings.Builder
	b.WriteString("---\n")
	b.Write(raw)
	b.WriteString("---\n\n")
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n")
	return b.String(), nil
}

// Longread renders a Longread's sections as "## Title\n\ncontent" blocks
// preceded by introduction and followed by conclusion, wrapped in
// frontmatter.
func Longread(l model.Longread) (string, error) {
	var body strings.Builder
	if l.Introduction != "" {
		body.WriteString(l.Introduction)
		body.WriteString("\n\n")
	}
	for _, s := range l.Sections {
		fmt.Fprintf(&body, "## %s\n\n%s\n\n", s.Title, strings.TrimSpace(s.Content))
	}
	if l.Conclusion != "" {
		body.WriteString(l.Conclusion)
		body.WriteString("\n")
	}
	wordCount := countWords(body.String())
	return WithFrontmatter(Frontmatter{
		TopicArea:   l.Classification.TopicArea,
		Tags:        l.Classification.Tags,
		AccessLevel: string(l.Classification.AccessLevel),
		WordCount:   wordCount,
	}, body.String())
}

// Story renders a Story's 8 blocks as H2 sections, wrapped in frontmatter.
func Story(s model.Story) (string, error) {
	var body strings.Builder
	for _, blk := range s.Blocks {
		fmt.Fprintf(&body, "## %s\n\n%s\n\n", blk.Title, strings.TrimSpace(blk.Content))
	}
	wordCount := countWords(body.String())
	return WithFrontmatter(Frontmatter{
		TopicArea:   s.Classification.TopicArea,
		Tags:        s.Classification.Tags,
		AccessLevel: string(s.Classification.AccessLevel),
		WordCount:   wordCount,
	}, body.String())
}

// Summary renders a Summary with callout-block markdown (GitHub-style
// `> [!NOTE]` blockquotes) for each field, wrapped in frontmatter.
func Summary(s model.Summary) (string, error) {
	var body strings.Builder
	fmt.Fprintf(&body, "> [!NOTE] Essence\n> %s\n\n", s.Essence)
	if len(s.KeyConcepts) > 0 {
		body.WriteString("## Key Concepts\n\n")
		for _, c := range s.KeyConcepts {
			fmt.Fprintf(&body, "- %s\n", c)
		}
		body.WriteString("\n")
	}
	if len(s.PracticalTools) > 0 {
		body.WriteString("## Practical Tools\n\n")
		for _, tool := range s.PracticalTools {
			fmt.Fprintf(&body, "- %s\n", tool)
		}
		body.WriteString("\n")
	}
	if len(s.Quotes) > 0 {
		body.WriteString("## Quotes\n\n")
		for _, q := range s.Quotes {
			fmt.Fprintf(&body, "> %s\n\n", q)
		}
	}
	if s.Insight != "" {
		fmt.Fprintf(&body, "> [!TIP] Insight\n> %s\n\n", s.Insight)
	}
	if len(s.Actions) > 0 {
		body.WriteString("## Actions\n\n")
		for _, a := range s.Actions {
			fmt.Fprintf(&body, "- [ ] %s\n", a)
		}
		body.WriteString("\n")
	}
	wordCount := countWords(body.String())
	return WithFrontmatter(Frontmatter{
		TopicArea:   s.Classification.TopicArea,
		Tags:        s.Classification.Tags,
		AccessLevel: string(s.Classification.AccessLevel),
		WordCount:   wordCount,
	}, body.String())
}

func countWords(text string) int {
	return len(strings.Fields(text))
}
