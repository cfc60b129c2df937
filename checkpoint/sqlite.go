package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/arloliu/mqread/types"

	_ "modernc.org/sqlite"
)

const progressSchema = `
CREATE TABLE IF NOT EXISTS reader_progress (
	reader TEXT PRIMARY KEY,
	progress_json TEXT NOT NULL,
	updated_at_utc_ns INTEGER NOT NULL
);
`

// SQLite stores reader progress in a local SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

var _ types.ProgressStore = (*SQLite)(nil)

// OpenSQLite opens the database at path, creating it and its table when missing.
//
// Example:
//
//	store, err := checkpoint.OpenSQLite(ctx, filepath.Join(dataDir, "progress.db"))
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir progress dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if _, err := db.ExecContext(ctx, progressSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create progress schema: %w", err)
	}

	return &SQLite{db: db, now: time.Now}, nil
}

// Name returns the store label used in metrics.
func (s *SQLite) Name() string {
	return "sqlite"
}

// Save stores the progress of reader, replacing any previous value.
func (s *SQLite) Save(ctx context.Context, reader string, progress *types.ReaderProgress) error {
	if reader == "" {
		return types.NewError(types.CodeInvalidParameters, "empty reader name")
	}
	if progress == nil {
		return types.NewError(types.CodeInvalidParameters, "nil progress for reader %q", reader)
	}
	data, err := progress.Marshal()
	if err != nil {
		return fmt.Errorf("encode progress of %q: %w", reader, err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO reader_progress(reader, progress_json, updated_at_utc_ns) VALUES(?, ?, ?)
ON CONFLICT(reader) DO UPDATE SET progress_json=excluded.progress_json, updated_at_utc_ns=excluded.updated_at_utc_ns`,
		reader, string(data), s.now().UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("save progress of %q: %w", reader, err)
	}

	return nil
}

// Load returns the stored progress of reader or ErrNoKeysFound.
func (s *SQLite) Load(ctx context.Context, reader string) (*types.ReaderProgress, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT progress_json FROM reader_progress WHERE reader=?`, reader).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", reader, types.ErrNoKeysFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load progress of %q: %w", reader, err)
	}

	return types.UnmarshalReaderProgress([]byte(data))
}

// UpdatedAt returns when the progress of reader was last saved.
func (s *SQLite) UpdatedAt(ctx context.Context, reader string) (time.Time, error) {
	var ns int64
	err := s.db.QueryRowContext(ctx,
		`SELECT updated_at_utc_ns FROM reader_progress WHERE reader=?`, reader).Scan(&ns)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, fmt.Errorf("%s: %w", reader, types.ErrNoKeysFound)
	}
	if err != nil {
		return time.Time{}, err
	}

	return time.Unix(0, ns).UTC(), nil
}

// Delete removes the stored progress of reader.
func (s *SQLite) Delete(ctx context.Context, reader string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reader_progress WHERE reader=?`, reader); err != nil {
		return fmt.Errorf("delete progress of %q: %w", reader, err)
	}

	return nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
