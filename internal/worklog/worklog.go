// Package worklog writes a markdown session log of completed outputs.
package worklog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// TemplateName is the session log template inside the templates filesystem.
const TemplateName = "session.md.tmpl"

// Sentinel errors for caller-checkable conditions.
var (
	ErrAlreadyExists = errors.New("worklog: already exists")
	ErrNotFound      = errors.New("worklog: not found")
	ErrInvalidID     = errors.New("worklog: invalid id")
)

// validateID checks that id is safe for use as a file name.
// Rejects empty, path traversal (/ \ . ..), and flag-like IDs (starting with -).
func validateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: cannot be empty", ErrInvalidID)
	}
	if strings.HasPrefix(id, "-") {
		return fmt.Errorf("%w: %q (must not start with -)", ErrInvalidID, id)
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// SessionContext holds the values used to instantiate a session log.
type SessionContext struct {
	ID      string
	Model   string
	Image   string
	Started time.Time
}

// Entry records one completed output.
type Entry struct {
	Field     string
	Text      string
	Timestamp time.Time
}

// Path returns the session log path for id under dir.
func Path(dir, id string) string {
	return filepath.Join(dir, id+".md")
}

// Create instantiates the session log template from templates into
// dir/<id>.md and returns its path.
func Create(templates fs.FS, dir string, sc SessionContext) (string, error) {
	if err := validateID(sc.ID); err != nil {
		return "", err
	}
	tmpl, err := fs.ReadFile(templates, TemplateName)
	if err != nil {
		return "", fmt.Errorf("worklog: reading template: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("worklog: creating %s: %w", dir, err)
	}
	outPath := Path(dir, sc.ID)
	if _, err := os.Stat(outPath); err == nil {
		return "", fmt.Errorf("%w: %s", ErrAlreadyExists, outPath)
	}

	started := sc.Started
	if started.IsZero() {
		started = time.Now()
	}
	replacements := map[string]string{
		"{{SESSION_ID}}": sc.ID,
		"{{TIMESTAMP}}":  started.UTC().Format(time.RFC3339),
		"{{MODEL}}":      orNone(sc.Model),
		"{{IMAGE}}":      orNone(sc.Image),
	}
	content := string(tmpl)
	for placeholder, value := range replacements {
		content = strings.ReplaceAll(content, placeholder, value)
	}

	if err := os.WriteFile(outPath, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("worklog: writing %s: %w", outPath, err)
	}
	return outPath, nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

// AppendEntry appends an output entry to the session log at path.
func AppendEntry(path string, entry Entry) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("worklog: opening %s: %w", path, err)
	}
	defer f.Close()

	ts := entry.Timestamp.UTC().Format("2006-01-02T15:04:05Z")
	text := fmt.Sprintf("\n### %s\n\n- Timestamp: %s\n\n```text\n%s\n```\n",
		entry.Field, ts, strings.TrimRight(entry.Text, "\n"))

	if _, err := f.WriteString(text); err != nil {
		return fmt.Errorf("worklog: writing %s: %w", path, err)
	}
	return nil
}
