package ingestion

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rohankatakam/codegraph/internal/errors"
)

// defaultExcludeDirs are never descended into: VCS metadata, dependency
// caches and build artifacts
var defaultExcludeDirs = []string{
	".git",
	".hg",
	".svn",
	"node_modules",
	"vendor",
	"venv",
	".venv",
	"env",
	"__pycache__",
	".next",
	".nuxt",
	"dist",
	"build",
	"out",
	"target",
	".cache",
	".parcel-cache",
	"coverage",
	".nyc_output",
	".pytest_cache",
	".mypy_cache",
	".tox",
	"__mocks__",
	".idea",
	".vscode",
}

// WalkOptions controls which files WalkSourceFiles yields
type WalkOptions struct {
	// Accept reports whether some plugin can parse the file
	Accept func(path string) bool
	// ExcludeDirs extends the default exclusion list
	ExcludeDirs []string
	// MaxFileSize skips larger files; 0 disables the check
	MaxFileSize int64
}

// WalkStats counts what the walker skipped
type WalkStats struct {
	Skipped          int
	SkippedGenerated int
	SkippedFixture   int
	SkippedTooLarge  int
}

// WalkSourceFiles walks the project and yields parseable source files.
// The error channel receives at most one error and is closed with the file channel.
func WalkSourceFiles(ctx context.Context, root string, opts WalkOptions, stats *WalkStats) (<-chan string, <-chan error) {
	files := make(chan string, 100)
	errc := make(chan error, 1)

	exclude := make(map[string]bool, len(defaultExcludeDirs)+len(opts.ExcludeDirs))
	for _, d := range defaultExcludeDirs {
		exclude[d] = true
	}
	for _, d := range opts.ExcludeDirs {
		exclude[d] = true
	}

	go func() {
		defer close(files)
		defer close(errc)

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && exclude[d.Name()] {
					return filepath.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if opts.Accept != nil && !opts.Accept(path) {
				return nil
			}

			slashed := filepath.ToSlash(path)
			switch {
			case isGeneratedFile(slashed):
				stats.skip(&stats.SkippedGenerated)
				return nil
			case isTestFixture(slashed):
				stats.skip(&stats.SkippedFixture)
				return nil
			}
			if opts.MaxFileSize > 0 {
				if info, err := d.Info(); err == nil && info.Size() > opts.MaxFileSize {
					stats.skip(&stats.SkippedTooLarge)
					return nil
				}
			}

			select {
			case files <- path:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			if ctx.Err() == nil {
				err = errors.FileSystemErrorf(err, "walk %s", root)
			}
			errc <- err
		}
	}()

	return files, errc
}

func (s *WalkStats) skip(counter *int) {
	if s == nil {
		return
	}
	*counter++
	s.Skipped++
}

// isGeneratedFile returns true if file is likely generated
func isGeneratedFile(path string) bool {
	generatedSuffixes := []string{
		".min.js",
		".bundle.js",
		".generated.ts",
		".generated.js",
		".pb.js",
		".pb.ts",
		".d.ts",
		"_pb.js",
		"_pb.ts",
		"_pb2.py",
	}

	for _, suffix := range generatedSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

// isTestFixture returns true if file is a test fixture or mock
func isTestFixture(path string) bool {
	fixtureDirs := []string{
		"/__tests__/fixtures/",
		"/test/fixtures/",
		"/tests/fixtures/",
		"/spec/fixtures/",
	}

	for _, dir := range fixtureDirs {
		if strings.Contains(path, dir) {
			return true
		}
	}
	return false
}

// isDir reports whether root exists and is a directory
func isDir(root string) bool {
	info, err := os.Stat(root)
	return err == nil && info.IsDir()
}
