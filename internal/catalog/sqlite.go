package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/dupwatch/internal/db"
)

// dbRecord mirrors Record with the timestamp stored as TEXT.
type dbRecord struct {
	ID        int64  `db:"id"`
	Digest    string `db:"checksum"`
	FileName  string `db:"file_name"`
	FilePath  string `db:"file_path"`
	FileSize  int64  `db:"file_size"`
	FileType  string `db:"file_type"`
	CreatedAt string `db:"date_created"`
}

func (r *dbRecord) toRecord() (*Record, error) {
	created, err := time.Parse(time.RFC3339Nano, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse date_created for %s: %w", r.Digest, err)
	}
	return &Record{
		ID:        r.ID,
		Digest:    r.Digest,
		FileName:  r.FileName,
		FilePath:  r.FilePath,
		FileSize:  r.FileSize,
		FileType:  r.FileType,
		CreatedAt: created,
	}, nil
}

const selectColumns = "id, checksum, file_name, file_path, file_size, file_type, date_created"

// SqliteCatalog is the Catalog backed by an SQLite file.
type SqliteCatalog struct {
	db     *sqlx.DB
	dbPath string
}

var _ Catalog = (*SqliteCatalog)(nil)

// NewSqliteCatalog prepares a catalog at dbPath; call Open before use.
// ":memory:" gives a throwaway catalog.
func NewSqliteCatalog(dbPath string) *SqliteCatalog {
	return &SqliteCatalog{dbPath: dbPath}
}

// Open connects and runs pending migrations.
func (c *SqliteCatalog) Open(ctx context.Context) error {
	if c.db != nil {
		return fmt.Errorf("catalog already open")
	}

	conn, err := db.NewSqliteDB(db.WithPath(c.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open catalog %s: %w", c.dbPath, err)
	}

	if err := migrate(ctx, conn); err != nil {
		conn.Close()
		return fmt.Errorf("migrate catalog: %w", err)
	}

	c.db = conn
	slog.Info("catalog open", "path", c.dbPath, "schema", SchemaVersion)
	return nil
}

func (c *SqliteCatalog) Close() error {
	if c.db == nil {
		return ErrNotOpen
	}
	err := c.db.Close()
	c.db = nil
	return err
}

func (c *SqliteCatalog) FindByDigest(ctx context.Context, digest string) (*Record, error) {
	if c.db == nil {
		return nil, ErrNotOpen
	}

	var row dbRecord
	err := c.db.GetContext(ctx, &row, "SELECT "+selectColumns+" FROM file_record WHERE checksum = ?", digest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find digest %s: %w", digest, err)
	}
	return row.toRecord()
}

// Insert stores rec and sets rec.ID. The digest is the uniqueness key.
func (c *SqliteCatalog) Insert(ctx context.Context, rec *Record) error {
	if c.db == nil {
		return ErrNotOpen
	}
	if rec == nil {
		return fmt.Errorf("cannot insert nil record")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if len(rec.FileType) > maxFileTypeLen {
		rec.FileType = rec.FileType[:maxFileTypeLen]
	}

	row := dbRecord{
		Digest:    rec.Digest,
		FileName:  rec.FileName,
		FilePath:  rec.FilePath,
		FileSize:  rec.FileSize,
		FileType:  rec.FileType,
		CreatedAt: rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}

	query := `INSERT INTO file_record (checksum, file_name, file_path, file_size, file_type, date_created)
	          VALUES (:checksum, :file_name, :file_path, :file_size, :file_type, :date_created)
	          ON CONFLICT(checksum) DO NOTHING`
	res, err := c.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.FilePath, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert %s: %w", rec.FilePath, err)
	}
	if affected == 0 {
		return ErrDuplicateDigest
	}

	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	slog.Debug("catalog insert", "path", rec.FilePath, "digest", rec.Digest)
	return nil
}

// List returns the most recently catalogued records first.
func (c *SqliteCatalog) List(ctx context.Context, limit int) ([]*Record, error) {
	if c.db == nil {
		return nil, ErrNotOpen
	}
	if limit <= 0 {
		limit = -1 // sqlite: no limit
	}

	var rows []dbRecord
	err := c.db.SelectContext(ctx, &rows, "SELECT "+selectColumns+" FROM file_record ORDER BY date_created DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	records := make([]*Record, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			slog.Warn("catalog skipping corrupt row", "id", rows[i].ID, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (c *SqliteCatalog) Count(ctx context.Context) (int, error) {
	if c.db == nil {
		return 0, ErrNotOpen
	}
	var n int
	if err := c.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM file_record"); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Delete removes the record with digest, if any.
func (c *SqliteCatalog) Delete(ctx context.Context, digest string) error {
	if c.db == nil {
		return ErrNotOpen
	}
	if _, err := c.db.ExecContext(ctx, "DELETE FROM file_record WHERE checksum = ?", digest); err != nil {
		return fmt.Errorf("delete %s: %w", digest, err)
	}
	return nil
}
