package clips

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Repository interface {
	CreateClip(ctx context.Context, clip *Clip) error
	GetClip(ctx context.Context, id string) (*Clip, error)
	GetClipByPath(ctx context.Context, path string) (*Clip, error)
	ListClips(ctx context.Context) ([]*Clip, error)
	DeleteClip(ctx context.Context, id string) error
	UpdateClipStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateClipMedia(ctx context.Context, id string, duration float64, hasAudio bool, spritePath string) error
	UpdateClipTrim(ctx context.Context, id string, trimIn, trimOut float64) error
	AppendOrder(ctx context.Context, clipID string) error
	ReplaceOrder(ctx context.Context, clipIDs []string) error
	CountClipsByStatus(ctx context.Context) (map[string]int, error)

	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
	UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateJobProgress(ctx context.Context, id string, progress float64) error

	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const clipColumns = `id, path, filename, duration, has_audio, trim_in, trim_out, status, sprite_path, error, created_at, updated_at`

func (r *SQLiteRepository) CreateClip(ctx context.Context, c *Clip) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO clips (`+clipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Path, c.Filename, c.Duration, boolToInt(c.HasAudio), c.TrimIn, c.TrimOut, c.Status,
		nullString(c.SpritePath), nullString(c.Error),
		c.CreatedAt.Format(time.RFC3339), c.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetClip(ctx context.Context, id string) (*Clip, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+clipColumns+` FROM clips WHERE id = ?
	`, id)
	return scanClip(row)
}

func (r *SQLiteRepository) GetClipByPath(ctx context.Context, path string) (*Clip, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+clipColumns+` FROM clips WHERE path = ?
	`, path)
	return scanClip(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClip(row rowScanner) (*Clip, error) {
	var c Clip
	var hasAudio int
	var spritePath, errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&c.ID, &c.Path, &c.Filename, &c.Duration, &hasAudio, &c.TrimIn, &c.TrimOut,
		&c.Status, &spritePath, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.HasAudio = hasAudio == 1
	c.SpritePath = spritePath.String
	c.Error = errMsg.String
	c.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	c.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &c, nil
}

// ListClips returns clips in timeline order.
func (r *SQLiteRepository) ListClips(ctx context.Context) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.path, c.filename, c.duration, c.has_audio, c.trim_in, c.trim_out, c.status, c.sprite_path, c.error, c.created_at, c.updated_at
		FROM clips c
		JOIN clip_order o ON o.clip_id = c.id
		ORDER BY o.position
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) DeleteClip(ctx context.Context, id string) error {
	// clip_order row goes with it via ON DELETE CASCADE
	_, err := r.db.ExecContext(ctx, "DELETE FROM clips WHERE id = ?", id)
	return err
}

func (r *SQLiteRepository) UpdateClipStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clips SET status = ?, error = ?, updated_at = datetime('now') WHERE id = ?
	`, status, nullString(errorMsg), id)
	return err
}

// UpdateClipMedia records probe and sprite results. Trim bounds reset to
// the full clip when they were never set.
func (r *SQLiteRepository) UpdateClipMedia(ctx context.Context, id string, duration float64, hasAudio bool, spritePath string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clips SET duration = ?, has_audio = ?, sprite_path = ?,
			trim_out = CASE WHEN trim_out <= trim_in THEN ? ELSE trim_out END,
			updated_at = datetime('now')
		WHERE id = ?
	`, duration, boolToInt(hasAudio), nullString(spritePath), duration, id)
	return err
}

func (r *SQLiteRepository) UpdateClipTrim(ctx context.Context, id string, trimIn, trimOut float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE clips SET trim_in = ?, trim_out = ?, updated_at = datetime('now') WHERE id = ?
	`, trimIn, trimOut, id)
	return err
}

func (r *SQLiteRepository) AppendOrder(ctx context.Context, clipID string) error {
	_, err := r.db.ExecContext(ctx, "INSERT INTO clip_order (clip_id) VALUES (?)", clipID)
	return err
}

// ReplaceOrder swaps the whole ordering in one transaction so readers
// never observe a partial permutation.
func (r *SQLiteRepository) ReplaceOrder(ctx context.Context, clipIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM clip_order"); err != nil {
		return err
	}
	for _, id := range clipIDs {
		if _, err := tx.ExecContext(ctx, "INSERT INTO clip_order (clip_id) VALUES (?)", id); err != nil {
			return fmt.Errorf("order entry %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (r *SQLiteRepository) CountClipsByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM clips GROUP BY status")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, status, output_path, export_job_id, progress, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, j.Type, j.Status, nullString(j.OutputPath), nullString(j.ExportJobID),
		j.Progress, nullString(j.Error),
		j.CreatedAt.Format(time.RFC3339), j.UpdatedAt.Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, type, status, output_path, export_job_id, progress, error, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)
	return scanJob(row)
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var outputPath, exportJobID, errMsg sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &j.Type, &j.Status, &outputPath, &exportJobID, &j.Progress, &errMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	j.OutputPath = outputPath.String
	j.ExportJobID = exportJobID.String
	j.Error = errMsg.String
	j.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	j.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &j, nil
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, status, output_path, export_job_id, progress, error, created_at, updated_at
		FROM jobs ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (r *SQLiteRepository) UpdateJobStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, updated_at = datetime('now') WHERE id = ?
	`, status, nullString(errorMsg), id)
	return err
}

func (r *SQLiteRepository) UpdateJobProgress(ctx context.Context, id string, progress float64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?, updated_at = datetime('now') WHERE id = ?
	`, progress, id)
	return err
}

func (r *SQLiteRepository) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetConfig(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
