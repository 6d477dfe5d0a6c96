// Package fileutil holds small filesystem helpers shared by the pipeline
// stages.
package fileutil

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/humblenginr/sentence_slicer/failure"
)

// WriteAtomic writes through a hidden temp file in the target directory and
// renames it over path, so readers never see a half-written file.
func WriteAtomic(path string, fill func(w *bufio.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return failure.IO("create temp file", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	if err := fill(w); err != nil {
		tmp.Close()
		return failure.IO("write "+filepath.Base(path), err)
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return failure.IO("write "+filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return failure.IO("close "+filepath.Base(path), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return failure.IO("rename "+filepath.Base(path), err)
	}
	return nil
}

// WriteJSON writes v as two-space indented JSON without HTML escaping.
func WriteJSON(path string, v any) error {
	return WriteAtomic(path, func(w *bufio.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		return enc.Encode(v)
	})
}

// Exists reports whether path names an existing regular file.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
