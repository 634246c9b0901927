// Package timefile persists the time a connector configuration last ran.
package timefile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"build-bridge/src/logger"
)

const (
	// Layout is the format of the single line stored in a time file.
	Layout = "2006-01-02 15:04:05 Z"

	// DefaultAge is how far back an empty or unreadable time file points.
	DefaultAge = 5 * time.Minute
	// FirstRunAge is how far back a run without any time file looks.
	FirstRunAge = 72 * time.Hour
)

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
}

// PathFor returns the time file path of a configuration, e.g. log/jenkins_time.file.
func PathFor(dir, configName string) string {
	name := configName
	for _, ext := range []string{".yml", ".yaml", ".cfg"} {
		name = strings.TrimSuffix(name, ext)
	}
	if name == "" {
		return filepath.Join(dir, "time.file")
	}
	return filepath.Join(dir, name+"_time.file")
}

// File is one time file.
type File struct {
	path string
	log  logger.Logger
	now  func() time.Time
}

// New returns the time file at path.
func New(path string, log logger.Logger) *File {
	return &File{path: path, log: log, now: time.Now}
}

func (f *File) Path() string { return f.path }

// Exists reports whether the time file is present.
func (f *File) Exists() bool {
	info, err := os.Stat(f.path)
	return err == nil && info.Mode().IsRegular()
}

// Read returns the recorded time, truncated to the second. An empty or
// malformed entry yields DefaultAge before now; an unreadable file is
// rewritten with that default.
func (f *File) Read() time.Time {
	def := f.now().Add(-DefaultAge).UTC().Truncate(time.Second)

	data, err := os.ReadFile(f.path)
	if err != nil {
		f.log.Error("Could not read time entry from %s, rewriting time file with default value", f.path)
		if werr := f.Write(def); werr != nil {
			f.log.Error("%v", werr)
		}
		return def
	}

	entry, _, _ := strings.Cut(string(data), "\n")
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return def
	}
	t, err := Parse(entry)
	if err != nil {
		f.log.Error("Invalid format for timefile entry: %s, reverting to default of %s", entry, def.Format(Layout))
		return def
	}
	return t
}

// LastRun returns the reference time for the next run: the recorded value,
// or FirstRunAge before now when no time file exists yet.
func (f *File) LastRun() time.Time {
	if !f.Exists() {
		return f.now().Add(-FirstRunAge).UTC().Truncate(time.Second)
	}
	return f.Read()
}

// Write atomically replaces the file content with t.
func (f *File) Write(t time.Time) error {
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create time file directory: %w", err)
		}
	}
	line := t.UTC().Format(Layout) + "\n"
	if err := atomic.WriteFile(f.path, strings.NewReader(line)); err != nil {
		return fmt.Errorf("failed to write time file %s: %w", f.path, err)
	}
	return nil
}

// Parse reads a time file entry in either the standard or an ISO-8601 form.
func Parse(entry string) (time.Time, error) {
	entry = strings.TrimSpace(entry)
	if t, err := time.Parse(Layout, entry); err == nil {
		return t.UTC(), nil
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, entry); err == nil {
			return t.UTC().Truncate(time.Second), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time file entry %q", entry)
}
