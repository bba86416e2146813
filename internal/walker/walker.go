// Package walker discovers services, their source files and their trace log
// files under a multi-service root laid out as <root>/<service>/src and
// <root>/<service>/logs.
package walker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// DefaultMaxFileSize is the maximum file size to process (1 MB).
const DefaultMaxFileSize int64 = 1 << 20

// FileInfo holds metadata about a single file discovered during traversal.
type FileInfo struct {
	Path        string // Absolute path on disk.
	RelPath     string // Path relative to the root directory, slash separated.
	Service     string // Top-level directory the file belongs to.
	Size        int64  // File size in bytes.
	ContentHash string // SHA-256 hex digest of the file content.
}

// WalkerConfig controls the behaviour of the Walk function.
type WalkerConfig struct {
	RootDir     string   // Root directory holding one directory per service.
	SourceDir   string   // Per-service source subdirectory ("" = the service dir itself).
	Include     []string // Glob patterns relative to SourceDir; only matching files are included.
	Exclude     []string // Glob patterns; matching files are excluded.
	MaxFileSize int64    // Files larger than this are skipped (0 = use default).
}

// LogConfig controls the behaviour of the LogFiles function.
type LogConfig struct {
	RootDir       string   // Root directory holding one directory per service.
	LogsDir       string   // Per-service logs subdirectory.
	ExcludedFiles []string // Base names that are not per-trace logs.
}

// Services returns the sorted names of the service directories under root.
// Hidden and default-excluded directories are ignored.
func Services(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("walker: reading root: %w", err)
	}
	var services []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || shouldExcludeDir(e.Name()) {
			continue
		}
		services = append(services, e.Name())
	}
	sort.Strings(services)
	return services, nil
}

// Walk returns metadata for every source file of every service that passes
// filtering. It skips binary files, respects include/exclude patterns, and
// honours a .gitignore at the root. Results are sorted by RelPath.
func Walk(config WalkerConfig) ([]FileInfo, error) {
	root, err := filepath.Abs(config.RootDir)
	if err != nil {
		return nil, fmt.Errorf("walker: resolve root: %w", err)
	}

	maxSize := config.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}

	gi := loadGitignore(root)

	services, err := Services(root)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	for _, service := range services {
		srcRoot := filepath.Join(root, service, config.SourceDir)
		if info, err := os.Stat(srcRoot); err != nil || !info.IsDir() {
			continue
		}

		err := filepath.WalkDir(srcRoot, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return nil
			}

			name := d.Name()
			if d.IsDir() {
				if path != srcRoot && shouldExcludeDir(name) {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}

			relPath, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			relPath = filepath.ToSlash(relPath)
			if gi != nil && gi.MatchesPath(relPath) {
				return nil
			}

			srcRel, err := filepath.Rel(srcRoot, path)
			if err != nil {
				return nil
			}
			if !MatchesInclude(srcRel, config.Include) {
				return nil
			}
			if MatchesExclude(srcRel, config.Exclude) {
				return nil
			}

			info, err := d.Info()
			if err != nil || info.Size() > maxSize {
				return nil
			}
			if isBinary(path) {
				return nil
			}

			hash, err := hashFile(path)
			if err != nil {
				return nil
			}

			files = append(files, FileInfo{
				Path:        path,
				RelPath:     relPath,
				Service:     service,
				Size:        info.Size(),
				ContentHash: hash,
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walker: traversal of %s: %w", service, err)
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// LogFiles returns every *.log file directly under each service's logs
// directory, minus the configured non-trace files. Results are sorted by RelPath.
func LogFiles(config LogConfig) ([]FileInfo, error) {
	root, err := filepath.Abs(config.RootDir)
	if err != nil {
		return nil, fmt.Errorf("walker: resolve root: %w", err)
	}

	excluded := make(map[string]bool, len(config.ExcludedFiles))
	for _, name := range config.ExcludedFiles {
		excluded[name] = true
	}

	services, err := Services(root)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	for _, service := range services {
		logsRoot := filepath.Join(root, service, config.LogsDir)
		entries, err := os.ReadDir(logsRoot)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() || !e.Type().IsRegular() || filepath.Ext(e.Name()) != ".log" || excluded[e.Name()] {
				continue
			}
			path := filepath.Join(logsRoot, e.Name())
			relPath, _ := filepath.Rel(root, path)
			info, err := e.Info()
			if err != nil {
				continue
			}
			files = append(files, FileInfo{
				Path:    path,
				RelPath: filepath.ToSlash(relPath),
				Service: service,
				Size:    info.Size(),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	return files, nil
}

// isBinary reads the first 512 bytes of a file and checks for NUL bytes.
func isBinary(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return true
	}
	defer f.Close()

	buf := make([]byte, 512)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return true
	}

	for i := 0; i < n; i++ {
		if buf[i] == 0 {
			return true
		}
	}
	return false
}

// hashFile computes the SHA-256 digest of the given file.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func loadGitignore(root string) *ignore.GitIgnore {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	return gi
}
