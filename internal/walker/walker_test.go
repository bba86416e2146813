package walker

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// testdataDir returns the absolute path to the testdata/sample_system directory.
func testdataDir(t *testing.T) string {
	t.Helper()
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("unable to determine test file location")
	}
	root := filepath.Join(filepath.Dir(filename), "..", "..", "testdata", "sample_system")
	abs, err := filepath.Abs(root)
	if err != nil {
		t.Fatalf("resolve testdata path: %v", err)
	}
	if _, err := os.Stat(abs); os.IsNotExist(err) {
		t.Fatalf("testdata dir does not exist: %s", abs)
	}
	return abs
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestServices(t *testing.T) {
	services, err := Services(testdataDir(t))
	if err != nil {
		t.Fatalf("Services() error: %v", err)
	}
	want := []string{"orchestrator", "pricing_service", "risk_service"}
	if len(services) != len(want) {
		t.Fatalf("Services() = %v, want %v", services, want)
	}
	for i := range want {
		if services[i] != want[i] {
			t.Errorf("services[%d] = %q, want %q", i, services[i], want[i])
		}
	}
}

func TestWalk_SourceFilesPerService(t *testing.T) {
	files, err := Walk(WalkerConfig{
		RootDir:   testdataDir(t),
		SourceDir: "src",
		Include:   []string{"**/*.py"},
	})
	if err != nil {
		t.Fatalf("Walk() error: %v", err)
	}

	expected := map[string]string{
		"orchestrator/src/main.py":     "orchestrator",
		"pricing_service/src/app.py":   "pricing_service",
		"pricing_service/src/broken.py": "pricing_service",
		"risk_service/src/app.py":      "risk_service",
	}
	if len(files) != len(expected) {
		t.Fatalf("Walk() returned %d files, want %d: %+v", len(files), len(expected), files)
	}
	for _, f := range files {
		svc, ok := expected[f.RelPath]
		if !ok {
			t.Errorf("unexpected file %q", f.RelPath)
			continue
		}
		if f.Service != svc {
			t.Errorf("%s: service = %q, want %q", f.RelPath, f.Service, svc)
		}
		if f.ContentHash == "" || f.Size == 0 || !filepath.IsAbs(f.Path) {
			t.Errorf("%s: incomplete FileInfo %+v", f.RelPath, f)
		}
	}
	for i := 1; i < len(files); i++ {
		if files[i-1].RelPath > files[i].RelPath {
			t.Errorf("results not sorted: %q before %q", files[i-1].RelPath, files[i].RelPath)
		}
	}
}

func TestWalk_ExcludeAndGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "svc", "src", "keep.py"), "def a():\n    pass\n")
	writeFile(t, filepath.Join(root, "svc", "src", "test_skip.py"), "def t():\n    pass\n")
	writeFile(t, filepath.Join(root, "svc", "src", "generated", "gen.py"), "x = 1\n")
	writeFile(t, filepath.Join(root, "svc", "src", "__pycache__", "c.py"), "x = 1\n")
	writeFile(t, filepath.Join(root, "svc", "src", "notes.txt"), "hello\n")
	writeFile(t, filepath.Join(root, ".gitignore"), "generated/\n")

	files, err := Walk(WalkerConfig{
		RootDir:   root,
		SourceDir: "src",
		Include:   []string{"**/*.py"},
		Exclude:   []string{"**/test_*.py"},
	})
	if err != nil {
		t.Fatalf("Walk() error: %v", err)
	}
	if len(files) != 1 || files[0].RelPath != "svc/src/keep.py" {
		t.Errorf("Walk() = %+v, want only svc/src/keep.py", files)
	}
}

func TestWalk_SkipsBinaryAndLarge(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "svc", "src", "bin.py"), "abc\x00def")
	writeFile(t, filepath.Join(root, "svc", "src", "big.py"), string(make([]byte, 64)))
	writeFile(t, filepath.Join(root, "svc", "src", "ok.py"), "x = 1\n")

	files, err := Walk(WalkerConfig{RootDir: root, SourceDir: "src", MaxFileSize: 32})
	if err != nil {
		t.Fatalf("Walk() error: %v", err)
	}
	if len(files) != 1 || files[0].RelPath != "svc/src/ok.py" {
		t.Errorf("Walk() = %+v, want only ok.py", files)
	}
}

func TestWalk_MissingSourceDir(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "svc", "README.md"), "x")

	files, err := Walk(WalkerConfig{RootDir: root, SourceDir: "src"})
	if err != nil {
		t.Fatalf("Walk() error: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("expected no files, got %+v", files)
	}
}

func TestLogFiles(t *testing.T) {
	files, err := LogFiles(LogConfig{
		RootDir:       testdataDir(t),
		LogsDir:       "logs",
		ExcludedFiles: []string{"orchestrator.log"},
	})
	if err != nil {
		t.Fatalf("LogFiles() error: %v", err)
	}
	want := []string{
		"orchestrator/logs/trace_abc123.log",
		"pricing_service/logs/trace_def456.log",
		"risk_service/logs/trace_abc123.log",
	}
	if len(files) != len(want) {
		t.Fatalf("LogFiles() returned %d files, want %d: %+v", len(files), len(want), files)
	}
	for i, f := range files {
		if f.RelPath != want[i] {
			t.Errorf("files[%d] = %q, want %q", i, f.RelPath, want[i])
		}
	}
}

func TestMatchesIncludeExclude(t *testing.T) {
	tests := []struct {
		path     string
		patterns []string
		want     bool
	}{
		{"app.py", []string{"**/*.py"}, true},
		{"pkg/app.py", []string{"**/*.py"}, true},
		{"pkg/app.go", []string{"**/*.py"}, false},
		{"tests/test_app.py", []string{"**/tests/**"}, true},
		{"pkg/test_app.py", []string{"test_*.py"}, true},
	}
	for _, tt := range tests {
		if got := matchesAny(tt.path, tt.patterns); got != tt.want {
			t.Errorf("matchesAny(%q, %v) = %v, want %v", tt.path, tt.patterns, got, tt.want)
		}
	}
	if !MatchesInclude("anything", nil) {
		t.Error("empty include should match everything")
	}
	if MatchesExclude("anything", nil) {
		t.Error("empty exclude should match nothing")
	}
}
