// Package sqlite stores annotation records in a single SQLite file. Used
// for local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
	domain "github.com/bryanwahyu/annoscope/internal/domain/records"
)

const schema = `
CREATE TABLE IF NOT EXISTS annotation_records (
  id          TEXT    PRIMARY KEY,
  study_key   INTEGER NOT NULL,
  series_key  INTEGER NOT NULL,
  image_key   INTEGER NOT NULL,
  frame_no    INTEGER NOT NULL DEFAULT -1,
  annotations TEXT    NOT NULL,
  objects     INTEGER NOT NULL DEFAULT 0,
  created_at  TEXT    NOT NULL,
  saved_at    INTEGER NOT NULL,
  archive_url TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_annotation_records_image
  ON annotation_records (study_key, series_key, image_key, saved_at);`

// Open opens (or creates) the database at path. ":memory:" is allowed and
// pins the pool to one connection so every query sees the same database.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

type RecordRepository struct{ db *sql.DB }

func NewRecordRepository(db *sql.DB) *RecordRepository { return &RecordRepository{db: db} }

// EnsureSchema creates the annotation_records table when missing.
func (r *RecordRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Save stores saved_at as unix nanoseconds so ordering stays numeric.
func (r *RecordRepository) Save(ctx context.Context, rec *domain.Record) error {
	const q = `
INSERT INTO annotation_records
(id, study_key, series_key, image_key, frame_no, annotations, objects, created_at, saved_at, archive_url)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (id) DO UPDATE SET
 annotations = excluded.annotations,
 objects = excluded.objects,
 saved_at = excluded.saved_at,
 archive_url = excluded.archive_url;`

	saved := rec.SavedAt
	if saved.IsZero() {
		saved = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, q,
		string(rec.ID), rec.StudyKey, rec.SeriesKey, rec.ImageKey, rec.FrameNo,
		rec.Annotations, rec.Objects, rec.CreatedAt, saved.UnixNano(), rec.ArchiveURL,
	)
	return err
}

func (r *RecordRepository) Latest(ctx context.Context, keys imageid.Keys, limit int) ([]*domain.Record, error) {
	const q = `
SELECT id, study_key, series_key, image_key, frame_no, annotations, objects, created_at, saved_at, archive_url
FROM annotation_records
WHERE study_key=? AND series_key=? AND image_key=?
ORDER BY saved_at DESC, id DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, keys.StudyKey, keys.SeriesKey, keys.ImageKey, domain.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		var rec domain.Record
		var id string
		var savedNs int64
		if err := rows.Scan(
			&id, &rec.StudyKey, &rec.SeriesKey, &rec.ImageKey, &rec.FrameNo,
			&rec.Annotations, &rec.Objects, &rec.CreatedAt, &savedNs, &rec.ArchiveURL,
		); err != nil {
			return nil, err
		}
		rec.ID = domain.RecordID(id)
		rec.SavedAt = time.Unix(0, savedNs).UTC()
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *RecordRepository) CountByStudy(ctx context.Context, studyKey int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM annotation_records WHERE study_key=?`, studyKey).Scan(&n)
	return n, err
}
