package tasks

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"storefront/worker/internal/enhance"
	"storefront/worker/internal/metrics"
	"storefront/worker/internal/models"
	"storefront/worker/internal/repository"
	"storefront/worker/internal/transfer"
)

var ErrInvalidInput = errors.New("invalid job input")

const (
	enhancedSuffix      = "_enhanced"
	defaultFolderPrefix = "products"

	stepDownload = "download"
	stepEnhance  = "enhance"
	stepUpload   = "upload"
	stepPatch    = "patch"
)

type JobStore interface {
	GetByID(ctx context.Context, id string) (models.Job, error)
	MarkProcessing(ctx context.Context, id string) error
	MarkCompleted(ctx context.Context, id, enhancedURL, enhancedPublicID string) error
	MarkFailed(ctx context.Context, id, message string) error
}

type ProductCatalog interface {
	AppendMedia(ctx context.Context, storeID, productID string, entry models.MediaEntry) (int64, error)
}

type ObjectTransfer interface {
	DownloadAsEncodedBytes(ctx context.Context, url string) (string, error)
	UploadEncodedImage(ctx context.Context, encoded, folder, fileName, mimeType string) (transfer.UploadResult, error)
}

type ImageEnhancer interface {
	Enhance(ctx context.Context, encoded string) (enhance.Result, error)
}

type WorkerOptions struct {
	FolderPrefix string
	Now          func() time.Time
}

// EnhancementWorker drives one job record from creation to a terminal state.
type EnhancementWorker struct {
	jobs     JobStore
	products ProductCatalog
	transfer ObjectTransfer
	enhancer ImageEnhancer
	metrics  *metrics.Metrics
	logger   zerolog.Logger

	folderPrefix string
	now          func() time.Time
}

func NewEnhancementWorker(jobs JobStore, products ProductCatalog, objects ObjectTransfer, enhancer ImageEnhancer, m *metrics.Metrics, logger zerolog.Logger, opts WorkerOptions) *EnhancementWorker {
	prefix := strings.Trim(opts.FolderPrefix, "/")
	if prefix == "" {
		prefix = defaultFolderPrefix
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &EnhancementWorker{
		jobs:         jobs,
		products:     products,
		transfer:     objects,
		enhancer:     enhancer,
		metrics:      m,
		logger:       logger,
		folderPrefix: prefix,
		now:          now,
	}
}

// Process runs the job to a terminal state. It never returns an error: a
// failure is recorded on the job itself, because handing it back to the
// trigger would redeliver a job whose side effects may already have happened.
func (w *EnhancementWorker) Process(ctx context.Context, jobID string) {
	logger := w.logger.With().Str("job_id", jobID).Logger()
	// terminal writes must land even when the worker is shutting down
	writeCtx := context.WithoutCancel(ctx)

	job, err := w.jobs.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			logger.Warn().Msg("job record not found, skipping")
			w.metrics.JobFinished(metrics.OutcomeSkipped)
			return
		}
		w.fail(writeCtx, logger, jobID, fmt.Errorf("load job: %w", err))
		return
	}

	if job.Status.IsTerminal() {
		logger.Info().Str("status", string(job.Status)).Msg("skipping terminal job")
		w.metrics.JobFinished(metrics.OutcomeSkipped)
		return
	}

	if err := w.jobs.MarkProcessing(ctx, jobID); err != nil {
		if errors.Is(err, repository.ErrJobTerminal) {
			logger.Info().Msg("job reached terminal state concurrently, skipping")
			w.metrics.JobFinished(metrics.OutcomeSkipped)
			return
		}
		w.fail(writeCtx, logger, jobID, fmt.Errorf("mark processing: %w", err))
		return
	}
	logger.Info().
		Str("store_id", job.StoreID).
		Str("product_id", job.ProductID).
		Msg("job processing")

	upload, err := w.run(ctx, logger, job)
	if err != nil {
		w.fail(writeCtx, logger, jobID, err)
		return
	}

	if err := w.jobs.MarkCompleted(writeCtx, jobID, upload.URL, upload.ID); err != nil {
		if errors.Is(err, repository.ErrJobTerminal) {
			logger.Warn().Msg("job was finalised elsewhere before completion was recorded")
			w.metrics.JobFinished(metrics.OutcomeSkipped)
			return
		}
		w.fail(writeCtx, logger, jobID, fmt.Errorf("record completion: %w", err))
		return
	}

	w.metrics.JobFinished(metrics.OutcomeCompleted)
	logger.Info().
		Str("enhanced_url", upload.URL).
		Str("enhanced_public_id", upload.ID).
		Msg("job completed")
}

// run executes steps 2-6. A panic in any step is reported as an error.
func (w *EnhancementWorker) run(ctx context.Context, logger zerolog.Logger, job models.Job) (result transfer.UploadResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during enhancement: %v", r)
		}
	}()

	if err := validate(job); err != nil {
		return transfer.UploadResult{}, err
	}

	started := time.Now()
	source, err := w.transfer.DownloadAsEncodedBytes(ctx, job.ImageURL)
	w.metrics.ObserveStep(stepDownload, started)
	if err != nil {
		return transfer.UploadResult{}, err
	}

	started = time.Now()
	enhanced, err := w.enhancer.Enhance(ctx, source)
	w.metrics.ObserveStep(stepEnhance, started)
	if err != nil {
		return transfer.UploadResult{}, err
	}
	logger.Debug().Str("mime_type", enhanced.MIMEType).Dur("elapsed", time.Since(started)).Msg("enhancement returned")

	folder := path.Join(w.folderPrefix, job.StoreID)
	fileName := transfer.ExtractFileName(job.ImageURL) + enhancedSuffix

	started = time.Now()
	upload, err := w.transfer.UploadEncodedImage(ctx, enhanced.Data, folder, fileName, enhanced.MIMEType)
	w.metrics.ObserveStep(stepUpload, started)
	if err != nil {
		return transfer.UploadResult{}, err
	}

	entry := models.NewEnhancedMediaEntry(job.MediaFileID, upload.URL, upload.ID, w.now())
	started = time.Now()
	revision, err := w.products.AppendMedia(ctx, job.StoreID, job.ProductID, entry)
	w.metrics.ObserveStep(stepPatch, started)
	if err != nil {
		return transfer.UploadResult{}, fmt.Errorf("patch product %s: %w", job.ProductID, err)
	}
	logger.Debug().Str("media_id", entry.ID).Int64("revision", revision).Msg("product media appended")

	return upload, nil
}

func (w *EnhancementWorker) fail(ctx context.Context, logger zerolog.Logger, jobID string, cause error) {
	w.metrics.JobFinished(metrics.OutcomeFailed)
	logger.Error().Err(cause).Msg("job failed")

	if err := w.jobs.MarkFailed(ctx, jobID, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("recording job failure failed")
	}
}

func validate(job models.Job) error {
	var missing []string
	if strings.TrimSpace(job.ImageURL) == "" {
		missing = append(missing, "imageUrl")
	}
	if strings.TrimSpace(job.MediaFileID) == "" {
		missing = append(missing, "mediaFileId")
	}
	if strings.TrimSpace(job.StoreID) == "" {
		missing = append(missing, "storeId")
	}
	if strings.TrimSpace(job.ProductID) == "" {
		missing = append(missing, "productId")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s", ErrInvalidInput, strings.Join(missing, ", "))
	}
	return nil
}
