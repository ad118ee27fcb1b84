package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestWithin(t *testing.T) {
	project := t.TempDir()
	data := t.TempDir()
	if err := os.MkdirAll(filepath.Join(project, "survey"), 0700); err != nil {
		t.Fatal(err)
	}
	only := []string{project}

	tests := []struct {
		path    string
		allowed []string
		errPart string // "" when the path is accepted
	}{
		{"survey", only, ""},
		{filepath.Join(project, "survey", "Y.csv"), only, ""},
		{project, only, ""},
		{filepath.Join(data, "pilot"), []string{project, data}, ""},
		{"../../etc", only, "outside allowed"},
		{filepath.Join(project, "..", "etc", "passwd"), only, "outside allowed"},
		{filepath.Join(data, "pilot"), only, "outside allowed"},
		{project + "-sibling", only, "outside allowed"},
		{"surv\x00ey", only, "null byte"},
		{"", only, "empty"},
		{"survey", nil, "no allowed directories"},
	}
	for _, tt := range tests {
		got, err := Within(tt.path, project, tt.allowed)
		if tt.errPart != "" {
			if err == nil || !strings.Contains(err.Error(), tt.errPart) {
				t.Errorf("Within(%q) error = %v, want %q", tt.path, err, tt.errPart)
			}
			continue
		}
		if err != nil {
			t.Errorf("Within(%q) error = %v", tt.path, err)
			continue
		}
		if !filepath.IsAbs(got) {
			t.Errorf("Within(%q) = %q, want an absolute path", tt.path, got)
		}
	}
}

func TestWithin_Symlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlink test not supported on Windows")
	}

	allowedDir := t.TempDir()
	outsideDir := t.TempDir()

	escape := filepath.Join(allowedDir, "escape")
	if err := os.Symlink(outsideDir, escape); err != nil {
		t.Fatalf("failed to create symlink: %v", err)
	}
	if _, err := Within(filepath.Join(escape, "X.csv"), allowedDir, []string{allowedDir}); !errors.Is(err, ErrOutsideAllowed) {
		t.Errorf("Within() error = %v, want ErrOutsideAllowed", err)
	}

	target := filepath.Join(allowedDir, "real")
	if err := os.MkdirAll(target, 0700); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(allowedDir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}
	got, err := Within(link, allowedDir, []string{allowedDir})
	if err != nil {
		t.Fatalf("Within() rejected a symlink staying inside: %v", err)
	}
	if filepath.Base(got) != "real" {
		t.Errorf("Within() = %q, want the symlink target", got)
	}
}

func TestRedactPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"simple", "/home/user/.dcesim/config.yaml", ".../.dcesim/config.yaml"},
		{"deep", "/a/b/c/d/e.txt", ".../d/e.txt"},
		{"root file", "/file.txt", "file.txt"},
		{"relative", "dir/file.txt", ".../dir/file.txt"},
		{"just filename", "file.txt", "file.txt"},
		{"trailing slash cleaned", "/home/user/.dcesim/", ".../user/.dcesim"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RedactPath(tt.input); got != tt.want {
				t.Errorf("RedactPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestDataDirs(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)
	root := t.TempDir()

	dirs, err := DataDirs(root)
	if err != nil {
		t.Fatalf("DataDirs() error = %v", err)
	}
	want := []string{root, filepath.Join(home, ".dcesim", "data")}
	if len(dirs) != len(want) || dirs[0] != want[0] || dirs[1] != want[1] {
		t.Errorf("DataDirs() = %v, want %v", dirs, want)
	}
}
