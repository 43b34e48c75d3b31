package catalog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCatalog(t *testing.T) *SqliteCatalog {
	t.Helper()
	c := NewSqliteCatalog(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, c.Open(context.Background()))
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSqliteCatalog_InsertAndFind(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	rec := NewRecord("abc123", "/downloads/Report.PDF", 2048)
	require.NoError(t, c.Insert(ctx, rec))
	assert.NotZero(t, rec.ID)

	got, err := c.FindByDigest(ctx, "abc123")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Report.PDF", got.FileName)
	assert.Equal(t, "/downloads/Report.PDF", got.FilePath)
	assert.Equal(t, int64(2048), got.FileSize)
	assert.Equal(t, ".pdf", got.FileType)
	assert.WithinDuration(t, rec.CreatedAt, got.CreatedAt, time.Second)
}

func TestSqliteCatalog_FindMissingReturnsNil(t *testing.T) {
	c := openTestCatalog(t)

	got, err := c.FindByDigest(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSqliteCatalog_InsertDuplicateDigest(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	require.NoError(t, c.Insert(ctx, NewRecord("same", "/downloads/a.zip", 10)))
	err := c.Insert(ctx, NewRecord("same", "/downloads/a (1).zip", 10))
	assert.ErrorIs(t, err, ErrDuplicateDigest)

	n, err := c.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := c.FindByDigest(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, "/downloads/a.zip", got.FilePath)
}

func TestSqliteCatalog_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	base := time.Date(2025, 3, 9, 12, 0, 0, 0, time.UTC)
	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		rec := NewRecord(name+"-digest", "/d/"+name, int64(i+1))
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, c.Insert(ctx, rec))
	}

	all, err := c.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c.txt", all[0].FileName)
	assert.Equal(t, "a.txt", all[2].FileName)

	two, err := c.List(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestSqliteCatalog_Delete(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	require.NoError(t, c.Insert(ctx, NewRecord("d1", "/d/x.bin", 1)))
	require.NoError(t, c.Delete(ctx, "d1"))

	got, err := c.FindByDigest(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSqliteCatalog_FileTypeTruncated(t *testing.T) {
	ctx := context.Background()
	c := openTestCatalog(t)

	rec := NewRecord("long", "/d/file.averyveryverylongextension", 1)
	assert.Len(t, rec.FileType, maxFileTypeLen)
	require.NoError(t, c.Insert(ctx, rec))
}

func TestSqliteCatalog_NotOpen(t *testing.T) {
	c := NewSqliteCatalog(":memory:")

	_, err := c.FindByDigest(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNotOpen)
	assert.ErrorIs(t, c.Insert(context.Background(), NewRecord("x", "/x", 1)), ErrNotOpen)
	assert.ErrorIs(t, c.Close(), ErrNotOpen)
}

func TestSqliteCatalog_ReopenKeepsRecordsAndSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	c := NewSqliteCatalog(path)
	require.NoError(t, c.Open(ctx))
	require.NoError(t, c.Insert(ctx, NewRecord("keep", "/d/keep.iso", 99)))
	require.NoError(t, c.Close())

	c = NewSqliteCatalog(path)
	require.NoError(t, c.Open(ctx))
	defer c.Close()

	var version int
	require.NoError(t, c.db.Get(&version, "PRAGMA user_version"))
	assert.Equal(t, SchemaVersion, version)

	got, err := c.FindByDigest(ctx, "keep")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(99), got.FileSize)
}
