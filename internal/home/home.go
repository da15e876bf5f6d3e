package home

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultDirName is the default name for the inkwell home directory.
	DefaultDirName = ".inkwell"

	// SessionsDirName is the subdirectory for processed session files.
	SessionsDirName = "sessions"

	// ConfigFileName is the default config file name.
	ConfigFileName = "config.yaml"
)

// ErrNoSessions is returned by LatestSession when nothing has been processed yet.
var ErrNoSessions = errors.New("no saved sessions")

// Dir represents the inkwell home directory structure.
type Dir struct {
	path string
}

// New creates a new Dir with the given path.
// If path is empty, uses the default (~/.inkwell).
func New(path string) (*Dir, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		path = filepath.Join(home, DefaultDirName)
	}

	return &Dir{path: path}, nil
}

// Path returns the root path of the home directory.
func (d *Dir) Path() string {
	return d.path
}

// ConfigPath returns the path to the default config file.
func (d *Dir) ConfigPath() string {
	return filepath.Join(d.path, ConfigFileName)
}

// SessionsPath returns the directory holding session files.
func (d *Dir) SessionsPath() string {
	return filepath.Join(d.path, SessionsDirName)
}

// SessionPath returns where a session is stored. ext is "yaml" or "json".
func (d *Dir) SessionPath(source string, created time.Time, ext string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	if base == "" || base == "." {
		base = "session"
	}
	return filepath.Join(d.SessionsPath(), fmt.Sprintf("%s-%s.%s", created.UTC().Format("20060102-150405"), base, ext))
}

// EnsureExists creates the home directory and subdirectories if they don't exist.
func (d *Dir) EnsureExists() error {
	// Create sessions directory (this also creates the parent)
	if err := os.MkdirAll(d.SessionsPath(), 0o755); err != nil {
		return fmt.Errorf("failed to create sessions directory: %w", err)
	}
	return nil
}

// Exists returns true if the home directory exists.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.path)
	return err == nil
}

// ConfigExists returns true if the config file exists in the home directory.
func (d *Dir) ConfigExists() bool {
	_, err := os.Stat(d.ConfigPath())
	return err == nil
}

// Sessions lists session files, newest first.
func (d *Dir) Sessions() ([]string, error) {
	entries, err := os.ReadDir(d.SessionsPath())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	var names []string
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".yaml" && ext != ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	// Names start with a UTC timestamp, so lexical order is creation order.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(d.SessionsPath(), n)
	}
	return paths, nil
}

// LatestSession returns the most recently created session file.
func (d *Dir) LatestSession() (string, error) {
	paths, err := d.Sessions()
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", ErrNoSessions
	}
	return paths[0], nil
}
