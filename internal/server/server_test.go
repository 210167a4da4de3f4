package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"storefront/worker/internal/config"
	"storefront/worker/internal/handlers"
	"storefront/worker/internal/metrics"
	"storefront/worker/internal/models"
	"storefront/worker/internal/repository"
)

type noJobs struct{}

func (noJobs) GetByID(context.Context, string) (models.Job, error) {
	return models.Job{}, repository.ErrJobNotFound
}

type noMedia struct{}

func (noMedia) GetMedia(context.Context, string, string) ([]models.MediaEntry, error) {
	return nil, repository.ErrProductNotFound
}

type okDB struct{}

func (okDB) Ping(context.Context) error { return nil }

type okCache struct{}

func (okCache) Ping(ctx context.Context) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("PONG")
	return cmd
}

func newTestServer(t *testing.T) *HTTPServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	reg := prometheus.NewRegistry()
	metrics.New(reg).JobFinished(metrics.OutcomeCompleted)

	cfg := &config.Config{Environment: "test", HTTP: config.HTTPConfig{Host: "127.0.0.1", Port: 0}}
	set := handlers.NewHandlerSet(zerolog.Nop(), cfg.Environment, noJobs{}, noMedia{}, okDB{}, okCache{})
	return NewHTTPServer(cfg, zerolog.Nop(), set, reg)
}

func TestServerRoutes(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		path     string
		wantCode int
		contains string
	}{
		{path: "/api/healthz", wantCode: http.StatusOK, contains: `"status":"ok"`},
		{path: "/api/v1/jobs/unknown", wantCode: http.StatusNotFound, contains: "job_not_found"},
		{path: "/metrics", wantCode: http.StatusOK, contains: `storefront_enhancement_jobs_total{outcome="completed"} 1`},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.contains)
			assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
		})
	}
}

func TestShutdownBeforeStart(t *testing.T) {
	srv := newTestServer(t)
	assert.NoError(t, srv.Shutdown(context.Background()))
}
