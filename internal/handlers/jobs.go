package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"storefront/worker/internal/models"
	"storefront/worker/internal/repository"
)

type jobResponse struct {
	ID               string    `json:"id"`
	Status           string    `json:"status"`
	ImageURL         string    `json:"imageUrl"`
	MediaFileID      string    `json:"mediaFileId"`
	StoreID          string    `json:"storeId"`
	ProductID        string    `json:"productId"`
	EnhancedImageURL *string   `json:"enhancedImageUrl,omitempty"`
	EnhancedPublicID *string   `json:"enhancedPublicId,omitempty"`
	Error            *string   `json:"error,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

func newJobResponse(job models.Job) jobResponse {
	return jobResponse{
		ID:               job.ID,
		Status:           string(job.Status),
		ImageURL:         job.ImageURL,
		MediaFileID:      job.MediaFileID,
		StoreID:          job.StoreID,
		ProductID:        job.ProductID,
		EnhancedImageURL: job.EnhancedImageURL,
		EnhancedPublicID: job.EnhancedPublicID,
		Error:            job.Error,
		CreatedAt:        job.CreatedAt,
		UpdatedAt:        job.UpdatedAt,
	}
}

func (h HandlerSet) GetJob(c *gin.Context) {
	job, err := h.jobs.GetByID(c.Request.Context(), c.Param("jobId"))
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job_not_found"})
			return
		}
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("load job failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		return
	}

	c.JSON(http.StatusOK, newJobResponse(job))
}
