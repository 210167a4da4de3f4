package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"storefront/worker/internal/models"
	"storefront/worker/internal/repository"
)

func (h HandlerSet) ListProductMedia(c *gin.Context) {
	media, err := h.products.GetMedia(c.Request.Context(), c.Param("storeId"), c.Param("productId"))
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "product_not_found"})
			return
		}
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Msg("load product media failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_server_error"})
		return
	}
	if media == nil {
		media = []models.MediaEntry{}
	}

	c.JSON(http.StatusOK, gin.H{
		"items": media,
	})
}
