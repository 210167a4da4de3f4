package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"storefront/worker/internal/config"
)

const (
	readRetryDelay       = 2 * time.Second
	defaultClaimInterval = 30 * time.Second
)

type MessageHandler interface {
	Handle(ctx context.Context, msg redis.XMessage) error
}

type streamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	XPendingExt(ctx context.Context, a *redis.XPendingExtArgs) *redis.XPendingExtCmd
	XClaim(ctx context.Context, a *redis.XClaimArgs) *redis.XMessageSliceCmd
}

// Consumer reads job triggers from a stream consumer group. A message is
// acknowledged only after its handler returns, so a crashed worker leaves it
// pending for another consumer to claim.
type Consumer struct {
	client        streamClient
	stream        string
	group         string
	consumer      string
	claimInterval time.Duration
	minIdle       time.Duration
	readCount     int64
	block         time.Duration
	maxDeliveries int64
	drainTimeout  time.Duration
	logger        zerolog.Logger
	handler       MessageHandler

	slots chan struct{}
	wg    sync.WaitGroup
}

func NewConsumer(client streamClient, rc config.RedisConfig, qc config.QueueConfig, logger zerolog.Logger, handler MessageHandler) *Consumer {
	concurrency := qc.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	readCount := qc.ReadCount
	if readCount <= 0 {
		readCount = 10
	}
	claimInterval := qc.ClaimInterval
	if claimInterval <= 0 {
		claimInterval = defaultClaimInterval
	}
	return &Consumer{
		client:        client,
		stream:        rc.Stream,
		group:         rc.Group,
		consumer:      rc.Consumer,
		claimInterval: claimInterval,
		minIdle:       qc.MinIdle,
		readCount:     readCount,
		block:         qc.Block,
		maxDeliveries: qc.MaxDeliveries,
		drainTimeout:  qc.DrainTimeout,
		logger:        logger.With().Str("stream", rc.Stream).Str("consumer", rc.Consumer).Logger(),
		handler:       handler,
		slots:         make(chan struct{}, concurrency),
	}
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// Start blocks until ctx is cancelled. In-flight handlers keep running after
// cancellation until the drain timeout expires.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	ticker := time.NewTicker(c.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.drain(cancelWork)
			return ctx.Err()
		default:
			if err := c.read(ctx, workCtx); err != nil {
				c.logger.Error().Err(err).Msg("stream read error")
				select {
				case <-ctx.Done():
				case <-time.After(readRetryDelay):
				}
			}
		}

		select {
		case <-ctx.Done():
			c.drain(cancelWork)
			return ctx.Err()
		case <-ticker.C:
			if err := c.claimStalled(ctx, workCtx); err != nil {
				c.logger.Error().Err(err).Msg("claim stalled messages failed")
			}
		default:
		}
	}
}

func (c *Consumer) drain(cancelWork context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(c.drainTimeout):
		c.logger.Warn().Dur("timeout", c.drainTimeout).Msg("drain timeout reached, cancelling in-flight jobs")
		cancelWork()
		<-done
	}
}

func (c *Consumer) read(ctx, workCtx context.Context) error {
	result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    c.readCount,
		Block:    c.block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil
		}
		return err
	}

	for _, stream := range result {
		for _, msg := range stream.Messages {
			if !c.dispatch(ctx, workCtx, msg) {
				return nil
			}
		}
	}
	return nil
}

func (c *Consumer) claimStalled(ctx, workCtx context.Context) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Start:  "-",
		End:    "+",
		Count:  c.readCount,
	}).Result()
	if err != nil {
		return err
	}

	for _, entry := range pending {
		if entry.Idle < c.minIdle {
			continue
		}
		if c.maxDeliveries > 0 && entry.RetryCount >= c.maxDeliveries {
			c.logger.Error().
				Str("message_id", entry.ID).
				Int64("deliveries", entry.RetryCount).
				Msg("dropping message after repeated delivery")
			c.ack(workCtx, entry.ID)
			continue
		}

		msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.minIdle,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil {
			c.logger.Error().Err(err).Str("message_id", entry.ID).Msg("claim error")
			continue
		}
		for _, msg := range msgs {
			c.logger.Info().Str("message_id", msg.ID).Str("previous_consumer", entry.Consumer).Msg("claimed stalled message")
			if !c.dispatch(ctx, workCtx, msg) {
				return nil
			}
		}
	}
	return nil
}

// dispatch waits for a free slot and handles msg in the background. It
// reports false when ctx ended first, leaving msg pending.
func (c *Consumer) dispatch(ctx, workCtx context.Context, msg redis.XMessage) bool {
	select {
	case c.slots <- struct{}{}:
	case <-ctx.Done():
		return false
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() { <-c.slots }()

		if err := c.handler.Handle(workCtx, msg); err != nil {
			c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("handle message failed")
			return
		}
		c.ack(workCtx, msg.ID)
	}()
	return true
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.logger.Error().Err(err).Str("message_id", id).Msg("ack failed")
	}
}

// Wait blocks until all in-flight handlers return.
func (c *Consumer) Wait() {
	c.wg.Wait()
}
