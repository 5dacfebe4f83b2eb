package render

import "strings"

// Section is one H2-delimited region of a rendered markdown document.
type Section struct {
	Title   string
	Content string
}

// SplitH2Sections scans markdown body line by line; each "## " line starts
// a new section that extends to the next "## " line or end of document.
// Content before the first H2 (e.g. an introduction paragraph, or the
// frontmatter body already stripped by the caller) is discarded by Chunk's
// caller's convention: pass the body with frontmatter removed.
func SplitH2Sections(body string) []Section {
	lines := strings.Split(body, "\n")
	var sections []Section
	var current *Section
	var content []string

	flush := func() {
		if current != nil {
			current.Content = strings.TrimSpace(strings.Join(content, "\n"))
			sections = append(sections, *current)
		}
	}

	for _, line := range lines {
		if title, ok := h2Title(line); ok {
			flush()
			current = &Section{Title: title}
			content = nil
			continue
		}
		if current != nil {
			content = append(content, line)
		}
	}
	flush()
	return sections
}

func h2Title(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "## ") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "## ")), true
}

// StripFrontmatter removes a leading "---\n...\n---\n" YAML block, if
// present, along with the blank lines after it, and returns the remaining
// body.
func StripFrontmatter(doc string) string {
	const delim = "---"
	if !strings.HasPrefix(doc, delim+"\n") {
		return doc
	}
	rest := doc[len(delim)+1:]
	idx := strings.Index(rest, "\n"+delim)
	if idx == -1 {
		return doc
	}
	after := rest[idx+len("\n"+delim):]
	return strings.TrimLeft(after, "\n")
}
