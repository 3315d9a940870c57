// Package plotcaption provides embedded runtime resources (prompt templates,
// the session log template) and an overlay filesystem that checks local disk
// first, falling back to embedded.
package plotcaption

import (
	"embed"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

//go:embed prompts/card/*.md prompts/sd/*.md
var rawPrompts embed.FS

//go:embed templates/session.md.tmpl
var rawTemplates embed.FS

// Prompts is the embedded prompts filesystem with the "prompts/" prefix
// stripped. Templates live under one directory per kind ("card", "sd").
var Prompts = mustSub(rawPrompts, "prompts")

// Templates is the embedded templates filesystem with the "templates/" prefix stripped.
var Templates = mustSub(rawTemplates, "templates")

func mustSub(fsys fs.FS, dir string) fs.FS {
	sub, err := fs.Sub(fsys, dir)
	if err != nil {
		panic(err)
	}
	return sub
}

// OverlayFS returns a filesystem that checks localDir on disk first,
// falling back to the embedded filesystem for files not found locally.
// Directory listings merge both sides, local entries winning on name clashes.
func OverlayFS(localDir string, embedded fs.FS) fs.FS {
	return overlayFS{localDir: localDir, embedded: embedded}
}

type overlayFS struct {
	localDir string
	embedded fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	if o.localDir != "" {
		f, err := os.Open(filepath.Join(o.localDir, filepath.FromSlash(name)))
		if err == nil {
			return f, nil
		}
	}
	return o.embedded.Open(name)
}

func (o overlayFS) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}

	merged := make(map[string]fs.DirEntry)
	embedded, embErr := fs.ReadDir(o.embedded, name)
	for _, e := range embedded {
		merged[e.Name()] = e
	}

	var localErr error = fs.ErrNotExist
	if o.localDir != "" {
		var local []os.DirEntry
		local, localErr = os.ReadDir(filepath.Join(o.localDir, filepath.FromSlash(name)))
		for _, e := range local {
			merged[e.Name()] = e
		}
	}

	if embErr != nil && localErr != nil {
		if errors.Is(embErr, fs.ErrNotExist) {
			return nil, localErr
		}
		return nil, embErr
	}

	entries := make([]fs.DirEntry, 0, len(merged))
	for _, e := range merged {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	return entries, nil
}
