package tasks

import (
	"context"
	"sync"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingRunner struct {
	mu  sync.Mutex
	ids []string
}

func (r *recordingRunner) Process(_ context.Context, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, jobID)
}

func TestProcessorHandle(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]interface{}
		wantIDs []string
		wantErr bool
	}{
		{
			name:    "enhance task",
			values:  map[string]interface{}{"type": "enhance", "jobId": "job-1"},
			wantIDs: []string{"job-1"},
		},
		{
			name:   "enhance task without job id",
			values: map[string]interface{}{"type": "enhance"},
		},
		{
			name:   "unknown type",
			values: map[string]interface{}{"type": "resize", "jobId": "job-1"},
		},
		{
			name:    "malformed payload",
			values:  map[string]interface{}{"type": 42},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &recordingRunner{}
			processor := NewProcessor(zerolog.Nop(), runner)

			err := processor.Handle(context.Background(), redis.XMessage{ID: "1-0", Values: tt.values})
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantIDs, runner.ids)
		})
	}
}
