package home

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	t.Run("with explicit path", func(t *testing.T) {
		dir, err := New("/tmp/test-inkwell")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dir.Path() != "/tmp/test-inkwell" {
			t.Errorf("expected path /tmp/test-inkwell, got %s", dir.Path())
		}
	})

	t.Run("with empty path uses default", func(t *testing.T) {
		dir, err := New("")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, DefaultDirName)
		if dir.Path() != expected {
			t.Errorf("expected path %s, got %s", expected, dir.Path())
		}
	})
}

func TestDir_Paths(t *testing.T) {
	dir, _ := New("/tmp/test-inkwell")

	t.Run("ConfigPath", func(t *testing.T) {
		expected := "/tmp/test-inkwell/config.yaml"
		if dir.ConfigPath() != expected {
			t.Errorf("expected %s, got %s", expected, dir.ConfigPath())
		}
	})

	t.Run("SessionPath", func(t *testing.T) {
		created := time.Date(2026, 3, 9, 14, 5, 0, 0, time.FixedZone("KST", 9*3600))
		expected := "/tmp/test-inkwell/sessions/20260309-050500-2강 답안.yaml"
		if got := dir.SessionPath("/scans/2강 답안.pdf", created, "yaml"); got != expected {
			t.Errorf("expected %s, got %s", expected, got)
		}
		if got := dir.SessionPath("", created, "json"); filepath.Base(got) != "20260309-050500-session.json" {
			t.Errorf("empty source: %s", got)
		}
	})
}

func TestDir_EnsureExists(t *testing.T) {
	dir, err := New(filepath.Join(t.TempDir(), "inkwell-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dir.Exists() {
		t.Error("directory should not exist yet")
	}
	if err := dir.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists() error = %v", err)
	}
	if !dir.Exists() {
		t.Error("directory should exist")
	}
	if _, err := os.Stat(dir.SessionsPath()); err != nil {
		t.Errorf("sessions directory missing: %v", err)
	}
	if dir.ConfigExists() {
		t.Error("config should not exist")
	}
}

func TestDir_LatestSession(t *testing.T) {
	dir, _ := New(t.TempDir())

	if _, err := dir.LatestSession(); !errors.Is(err, ErrNoSessions) {
		t.Fatalf("expected ErrNoSessions, got %v", err)
	}
	if err := dir.EnsureExists(); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"20260301-090000-a.yaml",
		"20260302-090000-b.json",
		"20260301-120000-c.yaml",
		"notes.txt",
	} {
		if err := os.WriteFile(filepath.Join(dir.SessionsPath(), name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	paths, err := dir.Sessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 3 {
		t.Fatalf("Sessions() = %v", paths)
	}
	latest, err := dir.LatestSession()
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(latest) != "20260302-090000-b.json" {
		t.Errorf("LatestSession() = %s", latest)
	}
}
