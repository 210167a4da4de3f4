package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"storefront/worker/internal/cache"
	"storefront/worker/internal/ids"
	"storefront/worker/internal/models"
	"storefront/worker/internal/queue"
	"storefront/worker/internal/repository"
)

type jobCreator interface {
	Create(ctx context.Context, job models.Job) error
}

type triggerPublisher interface {
	PublishJobCreated(ctx context.Context, jobID string) (string, error)
}

type submitRequest struct {
	StoreID     string
	ProductID   string
	MediaFileID string
	ImageURL    string
}

func (r submitRequest) validate() error {
	var errs []error
	if r.StoreID == "" {
		errs = append(errs, errors.New("--store is required"))
	}
	if r.ProductID == "" {
		errs = append(errs, errors.New("--product is required"))
	}
	if r.MediaFileID == "" {
		errs = append(errs, errors.New("--media is required"))
	}
	if r.ImageURL == "" {
		errs = append(errs, errors.New("--image-url is required"))
	}
	return errors.Join(errs...)
}

// submitJob inserts a PENDING job and emits its creation trigger. The record
// is written first so a consumer never sees a trigger for a missing job.
func submitJob(ctx context.Context, store jobCreator, publisher triggerPublisher, req submitRequest) (string, error) {
	if err := req.validate(); err != nil {
		return "", err
	}

	job := models.Job{
		ID:          ids.New(),
		Status:      models.JobStatusPending,
		ImageURL:    req.ImageURL,
		MediaFileID: req.MediaFileID,
		StoreID:     req.StoreID,
		ProductID:   req.ProductID,
	}
	if err := store.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	if _, err := publisher.PublishJobCreated(ctx, job.ID); err != nil {
		return job.ID, fmt.Errorf("job %s created but trigger failed: %w", job.ID, err)
	}
	return job.ID, nil
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Create an enhancement job and trigger the worker",
	Long: `Create a PENDING enhancement job for one product image and publish its
creation trigger on the worker stream.

Example:
  jobctl submit --store s1 --product p1 --media m1 --image-url https://cdn/x/photo.jpg`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		req := submitRequest{}
		req.StoreID, _ = flags.GetString("store")
		req.ProductID, _ = flags.GetString("product")
		req.MediaFileID, _ = flags.GetString("media")
		req.ImageURL, _ = flags.GetString("image-url")
		if err := req.validate(); err != nil {
			return err
		}

		ctx := cmd.Context()
		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer redisClient.Close()

		jobID, err := submitJob(ctx, repository.NewJobRepository(pool), queue.NewPublisher(redisClient, cfg.Redis.Stream), req)
		if err != nil {
			return err
		}
		cmd.Printf("job submitted: %s\n", jobID)
		return nil
	},
}

func init() {
	flags := submitCmd.Flags()
	flags.String("store", "", "Store id (required)")
	flags.String("product", "", "Product id (required)")
	flags.String("media", "", "Source media entry id on the product (required)")
	flags.String("image-url", "", "Source image URL (required)")

	rootCmd.AddCommand(submitCmd)
}
