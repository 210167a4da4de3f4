package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"storefront/worker/internal/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobTerminal = errors.New("job already in terminal state")
)

type JobRepository struct {
	db DB
}

func NewJobRepository(db DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, job models.Job) error {
	const query = `
		INSERT INTO enhancement_jobs (
			id, status, image_url, media_file_id, store_id, product_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, NOW(), NOW()
		)
	`
	status := job.Status
	if status == "" {
		status = models.JobStatusPending
	}
	_, err := r.db.Exec(ctx, query,
		job.ID,
		status,
		job.ImageURL,
		job.MediaFileID,
		job.StoreID,
		job.ProductID,
	)
	return err
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (models.Job, error) {
	const query = `
		SELECT id, status, image_url, media_file_id, store_id, product_id,
		       enhanced_image_url, enhanced_public_id, error, created_at, updated_at
		FROM enhancement_jobs WHERE id = $1
	`

	row := r.db.QueryRow(ctx, query, id)
	var job models.Job
	if err := row.Scan(
		&job.ID,
		&job.Status,
		&job.ImageURL,
		&job.MediaFileID,
		&job.StoreID,
		&job.ProductID,
		&job.EnhancedImageURL,
		&job.EnhancedPublicID,
		&job.Error,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, ErrJobNotFound
		}
		return models.Job{}, err
	}
	return job, nil
}

// MarkProcessing moves a non-terminal job to PROCESSING.
func (r *JobRepository) MarkProcessing(ctx context.Context, id string) error {
	const query = `
		UPDATE enhancement_jobs
		SET status = 'PROCESSING',
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`
	return r.transition(ctx, query, id)
}

func (r *JobRepository) MarkCompleted(ctx context.Context, id, enhancedURL, enhancedPublicID string) error {
	const query = `
		UPDATE enhancement_jobs
		SET status = 'COMPLETED',
		    enhanced_image_url = $2,
		    enhanced_public_id = $3,
		    error = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'PROCESSING'
	`
	return r.transition(ctx, query, id, enhancedURL, enhancedPublicID)
}

func (r *JobRepository) MarkFailed(ctx context.Context, id, message string) error {
	const query = `
		UPDATE enhancement_jobs
		SET status = 'FAILED',
		    error = $2,
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`
	return r.transition(ctx, query, id, message)
}

// FailStalled fails every job that has sat in PROCESSING since before the cutoff
// and returns the affected ids.
func (r *JobRepository) FailStalled(ctx context.Context, before time.Time, message string) ([]string, error) {
	const query = `
		UPDATE enhancement_jobs
		SET status = 'FAILED',
		    error = $2,
		    updated_at = NOW()
		WHERE status = 'PROCESSING' AND updated_at < $1
		RETURNING id
	`
	return r.failMany(ctx, query, before, message)
}

// FailPending fails jobs created before the cutoff that no worker ever picked
// up, such as when the trigger was never published or was dropped after too
// many deliveries.
func (r *JobRepository) FailPending(ctx context.Context, before time.Time, message string) ([]string, error) {
	const query = `
		UPDATE enhancement_jobs
		SET status = 'FAILED',
		    error = $2,
		    updated_at = NOW()
		WHERE status = 'PENDING' AND created_at < $1
		RETURNING id
	`
	return r.failMany(ctx, query, before, message)
}

func (r *JobRepository) failMany(ctx context.Context, query string, before time.Time, message string) ([]string, error) {
	rows, err := r.db.Query(ctx, query, before, message)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// transition runs a guarded status update. When the guard filters the row out,
// the job is reloaded to tell a missing job from a terminal one.
func (r *JobRepository) transition(ctx context.Context, query string, args ...any) error {
	cmd, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() > 0 {
		return nil
	}

	id, _ := args[0].(string)
	job, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() {
		return ErrJobTerminal
	}
	return errors.New("job status changed concurrently: " + string(job.Status))
}
