package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/earthcopilot/mapview/internal/model"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = eris.New("store: not found")

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id           TEXT PRIMARY KEY,
	session_id   TEXT NOT NULL DEFAULT '',
	module       TEXT NOT NULL,
	lat          REAL NOT NULL,
	lng          REAL NOT NULL,
	prompt       TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'running',
	result       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_analyses_session ON analyses(session_id);
CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) BeginAnalysis(ctx context.Context, rec model.AnalysisRecord) error {
	if rec.Status == "" {
		rec.Status = model.AnalysisStatusRunning
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, session_id, module, lat, lng, prompt, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, string(rec.Module), rec.Lat, rec.Lng, rec.Prompt, string(rec.Status), rec.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert analysis %s", rec.ID)
}

func (s *SQLiteStore) FinishAnalysis(ctx context.Context, id string, status model.AnalysisStatus, result, errMsg string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET status = ?, result = ?, error = ?, completed_at = ? WHERE id = ?`,
		string(status), result, errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish analysis %s", id)
	}
	return checkRowsAffected(res, "analysis", id)
}

const analysisColumns = `id, session_id, module, lat, lng, prompt, status, result, error, created_at, completed_at`

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*model.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+analysisColumns+` FROM analyses WHERE id = ?`, id)
	rec, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "analysis %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get analysis %s", id)
	}
	return rec, nil
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.AnalysisRecord, error) {
	query := `SELECT ` + analysisColumns + ` FROM analyses`
	var where []string
	var args []any

	if filter.SessionID != "" {
		where = append(where, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.Module != "" {
		where = append(where, "module = ?")
		args = append(args, string(filter.Module))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analyses")
	}
	defer rows.Close()

	var out []model.AnalysisRecord
	for rows.Next() {
		rec, err := scanAnalysis(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate analyses")
}

func (s *SQLiteStore) PruneAnalyses(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analyses WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune analyses")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prune rows affected")
	}
	return int(n), nil
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAnalysis(row scannable) (*model.AnalysisRecord, error) {
	var (
		rec       model.AnalysisRecord
		module    string
		status    string
		completed sql.NullTime
	)
	err := row.Scan(&rec.ID, &rec.SessionID, &module, &rec.Lat, &rec.Lng, &rec.Prompt,
		&status, &rec.Result, &rec.Error, &rec.CreatedAt, &completed)
	if err != nil {
		return nil, err
	}
	rec.Module = model.Module(module)
	rec.Status = model.AnalysisStatus(status)
	if completed.Valid {
		t := completed.Time
		rec.CompletedAt = &t
	}
	return &rec, nil
}
