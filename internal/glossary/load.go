package glossary

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadFile reads a JSON array of Entry from path and compiles it. The
// glossary is a read-only, startup-time load — it is not reloaded mid-job.
func LoadFile(path string) (*Glossary, error) {
	if path == "" {
		return Compile(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading glossary file %s: %w", path, err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing glossary file %s: %w", path, err)
	}
	return Compile(entries), nil
}
