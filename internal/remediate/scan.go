package remediate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultWorkflowDir = ".github/workflows"
	DefaultFileGlob    = "*.y*ml"
)

// Scanner flags workflow files that carry the signature.
type Scanner struct {
	Signature string
	// Exclude skips files whose name contains it.
	Exclude     string
	WorkflowDir string
	FileGlob    string
}

// Scan returns the names of infected workflow files under root, sorted.
// A missing workflow directory yields ErrNoWorkflowDirectory.
func (s Scanner) Scan(root string) (infected []string, scanned int, err error) {
	if s.Signature == "" {
		return nil, 0, fmt.Errorf("%w: empty signature", ErrScan)
	}
	dir := filepath.Join(root, filepath.FromSlash(s.workflowDir()))
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, 0, fmt.Errorf("%w: %s", ErrNoWorkflowDirectory, s.workflowDir())
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrScan, err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, s.fileGlob()))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrScan, err)
	}
	for _, path := range matches {
		fi, err := os.Stat(path)
		if err != nil {
			return nil, scanned, fmt.Errorf("%w: %w", ErrScan, err)
		}
		if !fi.Mode().IsRegular() {
			continue
		}
		name := filepath.Base(path)
		if s.Exclude != "" && strings.Contains(name, s.Exclude) {
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, scanned, fmt.Errorf("%w: read %s: %w", ErrScan, name, err)
		}
		scanned++
		if strings.Contains(strings.ToValidUTF8(string(raw), ""), s.Signature) {
			infected = append(infected, name)
		}
	}
	return infected, scanned, nil
}

// Excise deletes the named workflow files and returns the names removed.
func (s Scanner) Excise(root string, names []string) ([]string, error) {
	dir := filepath.Join(root, filepath.FromSlash(s.workflowDir()))
	removed := make([]string, 0, len(names))
	for _, name := range names {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return removed, fmt.Errorf("%w: remove %s: %w", ErrScan, name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

func (s Scanner) workflowDir() string {
	if s.WorkflowDir == "" {
		return DefaultWorkflowDir
	}
	return s.WorkflowDir
}

func (s Scanner) fileGlob() string {
	if s.FileGlob == "" {
		return DefaultFileGlob
	}
	return s.FileGlob
}

// CommitMessage lists every removed file in the commit body.
func CommitMessage(removed []string) string {
	var b strings.Builder
	b.WriteString("security: remove malicious workflow files\n\nRemoved files:\n")
	for _, name := range removed {
		b.WriteString("- ")
		b.WriteString(name)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
