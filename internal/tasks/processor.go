package tasks

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const TaskTypeEnhance = "enhance"

// JobRunner processes one job to completion and reports nothing back.
type JobRunner interface {
	Process(ctx context.Context, jobID string)
}

type Processor struct {
	logger   zerolog.Logger
	enhancer JobRunner
}

type TaskPayload struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
}

func NewProcessor(logger zerolog.Logger, enhancer JobRunner) *Processor {
	return &Processor{
		logger:   logger,
		enhancer: enhancer,
	}
}

// Handle dispatches one trigger message. Only undecodable messages produce an
// error; every decodable message is acknowledged whatever the job outcome.
func (p *Processor) Handle(ctx context.Context, msg redis.XMessage) error {
	var payload TaskPayload
	if err := decodePayload(msg.Values, &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}

	switch payload.Type {
	case TaskTypeEnhance:
		if payload.JobID == "" {
			p.logger.Warn().Str("message_id", msg.ID).Msg("enhance task without job id")
			return nil
		}
		p.enhancer.Process(ctx, payload.JobID)
		return nil
	default:
		p.logger.Warn().Str("type", payload.Type).Str("message_id", msg.ID).Msg("unknown task type")
		return nil
	}
}

func decodePayload(values map[string]interface{}, out *TaskPayload) error {
	bytes, err := json.Marshal(values)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, out)
}
