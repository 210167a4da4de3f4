package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"storefront/worker/internal/models"
	"storefront/worker/internal/repository"
)

var statusCmd = &cobra.Command{
	Use:   "status [job_id]",
	Short: "Show the state of an enhancement job",
	Long:  `Print the current status of a job (PENDING, PROCESSING, COMPLETED, FAILED) with its result location or failure message.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pool, err := openPool(ctx)
		if err != nil {
			return err
		}
		defer pool.Close()

		job, err := repository.NewJobRepository(pool).GetByID(ctx, args[0])
		if err != nil {
			return err
		}
		printJob(cmd.OutOrStdout(), job)
		return nil
	},
}

func printJob(w io.Writer, job models.Job) {
	fmt.Fprintf(w, "Job:       %s\n", job.ID)
	fmt.Fprintf(w, "Status:    %s\n", job.Status)
	fmt.Fprintf(w, "Store:     %s\n", job.StoreID)
	fmt.Fprintf(w, "Product:   %s\n", job.ProductID)
	fmt.Fprintf(w, "Media:     %s\n", job.MediaFileID)
	fmt.Fprintf(w, "Source:    %s\n", job.ImageURL)
	if job.EnhancedImageURL != nil {
		fmt.Fprintf(w, "Enhanced:  %s\n", *job.EnhancedImageURL)
	}
	if job.EnhancedPublicID != nil {
		fmt.Fprintf(w, "Public ID: %s\n", *job.EnhancedPublicID)
	}
	if job.Error != nil {
		fmt.Fprintf(w, "Error:     %s\n", *job.Error)
	}
	if !job.UpdatedAt.IsZero() {
		fmt.Fprintf(w, "Updated:   %s\n", job.UpdatedAt.Format(time.RFC3339))
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
