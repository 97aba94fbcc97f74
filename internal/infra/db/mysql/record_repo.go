package mysql

import (
	"context"
	"database/sql"
	"time"

	"github.com/bryanwahyu/annoscope/internal/domain/imageid"
	domain "github.com/bryanwahyu/annoscope/internal/domain/records"
)

const schema = `
CREATE TABLE IF NOT EXISTS annotation_records (
  id          VARCHAR(64)  NOT NULL PRIMARY KEY,
  study_key   BIGINT       NOT NULL,
  series_key  BIGINT       NOT NULL,
  image_key   BIGINT       NOT NULL,
  frame_no    INT          NOT NULL DEFAULT -1,
  annotations LONGTEXT     NOT NULL,
  objects     INT          NOT NULL DEFAULT 0,
  created_at  VARCHAR(32)  NOT NULL,
  saved_at    DATETIME(6)  NOT NULL,
  archive_url VARCHAR(512) NOT NULL DEFAULT '',
  INDEX idx_annotation_records_image (study_key, series_key, image_key, saved_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`

type RecordRepository struct {
	db *sql.DB
}

func NewRecordRepository(db *sql.DB) *RecordRepository {
	return &RecordRepository{db: db}
}

// EnsureSchema creates the annotation_records table when missing.
func (r *RecordRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Save insert/update annotation record
func (r *RecordRepository) Save(ctx context.Context, rec *domain.Record) error {
	const q = `
INSERT INTO annotation_records
(id, study_key, series_key, image_key, frame_no, annotations, objects, created_at, saved_at, archive_url)
VALUES (?,?,?,?,?,?,?,?,?,?)
ON DUPLICATE KEY UPDATE
 annotations=VALUES(annotations), objects=VALUES(objects),
 saved_at=VALUES(saved_at), archive_url=VALUES(archive_url);
`
	saved := rec.SavedAt
	if saved.IsZero() {
		saved = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, q,
		rec.ID, rec.StudyKey, rec.SeriesKey, rec.ImageKey, rec.FrameNo,
		rec.Annotations, rec.Objects, stringOrDash(rec.CreatedAt), saved, rec.ArchiveURL,
	)
	return err
}

// Latest records per image, newest first
func (r *RecordRepository) Latest(ctx context.Context, keys imageid.Keys, limit int) ([]*domain.Record, error) {
	const q = `
SELECT id, study_key, series_key, image_key, frame_no, annotations, objects, created_at, saved_at, archive_url
FROM annotation_records
WHERE study_key=? AND series_key=? AND image_key=?
ORDER BY saved_at DESC, id DESC
LIMIT ?;
`
	rows, err := r.db.QueryContext(ctx, q, keys.StudyKey, keys.SeriesKey, keys.ImageKey, domain.ClampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Record
	for rows.Next() {
		var rec domain.Record
		if err := rows.Scan(
			&rec.ID, &rec.StudyKey, &rec.SeriesKey, &rec.ImageKey, &rec.FrameNo,
			&rec.Annotations, &rec.Objects, &rec.CreatedAt, &rec.SavedAt, &rec.ArchiveURL,
		); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// CountByStudy jumlah record untuk satu study
func (r *RecordRepository) CountByStudy(ctx context.Context, studyKey int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM annotation_records WHERE study_key=?`, studyKey).Scan(&n)
	return n, err
}
