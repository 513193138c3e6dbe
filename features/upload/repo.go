package upload

import (
	"context"
	"database/sql"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Save(ctx context.Context, up *Upload) error {
	query := `INSERT INTO uploads (id, filename, stored_path, company_id, company_name, fiscal_year, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`
	return r.db.QueryRowContext(ctx, query,
		up.ID, up.Filename, up.StoredPath, up.CompanyID, up.CompanyName, up.FiscalYear, up.Status,
	).Scan(&up.CreatedAt, &up.UpdatedAt)
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (*Upload, error) {
	up := &Upload{}
	query := `SELECT id, filename, stored_path, company_id, company_name, fiscal_year,
		status, chunks_created, chunks_stored, COALESCE(error_message, ''), created_at, updated_at
		FROM uploads WHERE id = $1`
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&up.ID, &up.Filename, &up.StoredPath, &up.CompanyID, &up.CompanyName, &up.FiscalYear,
		&up.Status, &up.ChunksCreated, &up.ChunksStored, &up.ErrorMessage, &up.CreatedAt, &up.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return up, nil
}

func (r *PostgresRepo) List(ctx context.Context) ([]Upload, error) {
	query := `SELECT id, filename, company_id, company_name, fiscal_year,
		status, chunks_created, chunks_stored, COALESCE(error_message, ''), created_at, updated_at
		FROM uploads ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var uploads []Upload
	for rows.Next() {
		var up Upload
		if err := rows.Scan(
			&up.ID, &up.Filename, &up.CompanyID, &up.CompanyName, &up.FiscalYear,
			&up.Status, &up.ChunksCreated, &up.ChunksStored, &up.ErrorMessage, &up.CreatedAt, &up.UpdatedAt,
		); err != nil {
			return nil, err
		}
		uploads = append(uploads, up)
	}
	return uploads, rows.Err()
}

func (r *PostgresRepo) MarkProcessing(ctx context.Context, id string) error {
	// Terminal rows are left alone so a late processing signal cannot
	// resurrect a finished upload.
	query := `UPDATE uploads SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status NOT IN ($3, $4)`
	_, err := r.db.ExecContext(ctx, query, StatusProcessing, id, StatusCompleted, StatusFailed)
	return err
}

func (r *PostgresRepo) MarkCompleted(ctx context.Context, id string, chunksCreated, chunksStored int) error {
	query := `UPDATE uploads SET status = $1, chunks_created = $2, chunks_stored = $3, updated_at = NOW()
		WHERE id = $4 AND status <> $5`
	_, err := r.db.ExecContext(ctx, query, StatusCompleted, chunksCreated, chunksStored, id, StatusFailed)
	return err
}

func (r *PostgresRepo) MarkFailed(ctx context.Context, id, errorMessage string) error {
	query := `UPDATE uploads SET status = $1, error_message = $2, updated_at = NOW() WHERE id = $3`
	_, err := r.db.ExecContext(ctx, query, StatusFailed, errorMessage, id)
	return err
}

func (r *PostgresRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM uploads GROUP BY status`
	rows, err := r.db.QueryContext(ctx, query)
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
