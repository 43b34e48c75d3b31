package watch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilter_Defaults(t *testing.T) {
	root := t.TempDir()
	f, err := NewFilter(root, nil, nil)
	require.NoError(t, err)

	assert.True(t, f.Match(filepath.Join(root, "report.pdf")))
	assert.True(t, f.Match(filepath.Join(root, "sub", "movie.mp4.crdownload")))
	assert.False(t, f.Match(filepath.Join(root, ".DS_Store")))
	assert.False(t, f.Match(filepath.Join(root, ".git", "HEAD")))
	assert.False(t, f.Match(root), "root itself")
	assert.False(t, f.Match(filepath.Join(filepath.Dir(root), "elsewhere.pdf")), "outside root")
}

func TestFilter_IgnoreLines(t *testing.T) {
	root := t.TempDir()
	f, err := NewFilter(root, []string{"*.log", "private/"}, nil)
	require.NoError(t, err)

	assert.False(t, f.Match(filepath.Join(root, "debug.log")))
	assert.False(t, f.Match(filepath.Join(root, "private", "tax.pdf")))
	assert.True(t, f.Match(filepath.Join(root, "public", "tax.pdf")))
}

func TestFilter_IgnoreFile(t *testing.T) {
	root := t.TempDir()
	rules := []byte("# installers\n*.msi\n\n")
	require.NoError(t, os.WriteFile(filepath.Join(root, IgnoreFileName), rules, 0o644))

	f, err := NewFilter(root, nil, nil)
	require.NoError(t, err)
	assert.False(t, f.Match(filepath.Join(root, "setup.msi")))
	assert.False(t, f.Match(filepath.Join(root, IgnoreFileName)))
	assert.True(t, f.Match(filepath.Join(root, "setup.exe")))
}

func TestFilter_Include(t *testing.T) {
	root := t.TempDir()
	f, err := NewFilter(root, nil, []string{"*.pdf", "videos/**/*.mp4"})
	require.NoError(t, err)

	assert.True(t, f.Match(filepath.Join(root, "a.pdf")))
	assert.True(t, f.Match(filepath.Join(root, "deep", "b.pdf")), "base name match")
	assert.True(t, f.Match(filepath.Join(root, "videos", "2024", "c.mp4")))
	assert.False(t, f.Match(filepath.Join(root, "c.mp4")))
	assert.False(t, f.Match(filepath.Join(root, "notes.txt")))
	assert.True(t, f.Match(filepath.Join(root, "a.pdf.crdownload")), "temp name judged by final name")
	assert.False(t, f.Match(filepath.Join(root, "notes.txt.part")))
}

func TestFilter_InvalidInclude(t *testing.T) {
	_, err := NewFilter(t.TempDir(), nil, []string{"[unclosed"})
	assert.Error(t, err)
}

func TestFilter_NilMatchesAll(t *testing.T) {
	var f *Filter
	assert.True(t, f.Match("/anything"))
}
