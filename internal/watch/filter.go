package watch

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/openmined/dupwatch/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is read from the watch root when present.
const IgnoreFileName = ".dupwatchignore"

var defaultIgnoreLines = []string{
	// OS-specific
	".DS_Store",
	"Thumbs.db",
	"desktop.ini",
	"Icon",
	// VCS
	".git/",
	// own files
	IgnoreFileName,
	"*.dupwatch.lock",
}

// Filter decides which paths under root are watched. Ignore rules use
// gitignore syntax; include patterns are doublestar globs matched against
// the slash-separated relative path. An empty include list admits all.
type Filter struct {
	root    string
	ignore  *gitignore.GitIgnore
	include []string
}

func NewFilter(root string, ignoreLines, include []string) (*Filter, error) {
	for _, pattern := range include {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid include pattern %q", pattern)
		}
	}

	lines := append([]string{}, defaultIgnoreLines...)
	lines = append(lines, ignoreLines...)
	lines = append(lines, readIgnoreFile(filepath.Join(root, IgnoreFileName))...)

	return &Filter{
		root:    filepath.Clean(root),
		ignore:  gitignore.CompileIgnoreLines(lines...),
		include: include,
	}, nil
}

// Match reports whether path should be watched.
func (f *Filter) Match(path string) bool {
	if f == nil {
		return true
	}

	rel, err := filepath.Rel(f.root, path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	rel = filepath.ToSlash(rel)

	if f.ignore.MatchesPath(rel) {
		return false
	}
	if len(f.include) == 0 {
		return true
	}

	// a temp download is judged by the name it will be renamed to
	if ext := utils.Ext(rel); IsTempExtension(ext) {
		rel = rel[:len(rel)-len(ext)]
	}
	base := rel[strings.LastIndex(rel, "/")+1:]
	for _, pattern := range f.include {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, base); ok {
			return true
		}
	}
	return false
}

func readIgnoreFile(path string) []string {
	if !utils.FileExists(path) {
		return nil
	}

	file, err := os.Open(path)
	if err != nil {
		slog.Warn("ignore file open", "path", path, "error", err)
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Warn("ignore file read", "path", path, "error", err)
	}
	slog.Info("ignore file loaded", "path", path, "rules", len(lines))
	return lines
}
