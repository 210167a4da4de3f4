package handlers

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"storefront/worker/internal/models"
)

type JobReader interface {
	GetByID(ctx context.Context, id string) (models.Job, error)
}

type MediaReader interface {
	GetMedia(ctx context.Context, storeID, productID string) ([]models.MediaEntry, error)
}

type dbPinger interface {
	Ping(ctx context.Context) error
}

type cachePinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// HandlerSet serves the read-only status API over job and product records.
type HandlerSet struct {
	log         zerolog.Logger
	environment string
	jobs        JobReader
	products    MediaReader
	db          dbPinger
	cache       cachePinger
}

func NewHandlerSet(log zerolog.Logger, environment string, jobs JobReader, products MediaReader, db dbPinger, cache cachePinger) HandlerSet {
	return HandlerSet{
		log:         log,
		environment: environment,
		jobs:        jobs,
		products:    products,
		db:          db,
		cache:       cache,
	}
}

func (h HandlerSet) Register(router *gin.RouterGroup) {
	router.GET("/healthz", h.Health)

	v1 := router.Group("/v1")
	v1.GET("/jobs/:jobId", h.GetJob)
	v1.GET("/stores/:storeId/products/:productId/media", h.ListProductMedia)
}
