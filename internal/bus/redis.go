package bus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"edgelink/internal/common/errors"
	"edgelink/internal/common/logging"
	"edgelink/internal/events"
)

// RedisConfig holds the Redis Streams bus configuration.
type RedisConfig struct {
	Address      string
	Password     string
	DB           int
	PoolSize     int
	StreamPrefix string
	ConsumerName string
	StreamMaxLen int64
}

// Validate checks required fields and applies defaults.
func (c *RedisConfig) Validate() error {
	if c.Address == "" {
		return errors.ConfigError("redis address is required")
	}
	if c.StreamPrefix == "" {
		c.StreamPrefix = "edgelink:events"
	}
	if c.ConsumerName == "" {
		c.ConsumerName = "consumer-1"
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 10
	}
	return nil
}

// RedisBus is a Redis Streams implementation of Bus. Each event kind maps
// to one stream; consumer groups track their own read position, so events
// published while a consumer is down are delivered on restart.
type RedisBus struct {
	client *redis.Client
	config *RedisConfig
	logger logging.Logger

	// redeliveryDelay paces retries of unacked entries; shortened in tests.
	redeliveryDelay time.Duration
}

func NewRedisBus(config *RedisConfig, logger logging.Logger) (*RedisBus, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, errors.ConnectionError("failed to connect to Redis", err)
	}

	return &RedisBus{
		client:          client,
		config:          config,
		logger:          logger,
		redeliveryDelay: time.Second,
	}, nil
}

func (b *RedisBus) streamName(kind string) string {
	return fmt.Sprintf("%s:%s", b.config.StreamPrefix, kind)
}

func (b *RedisBus) Publish(ctx context.Context, event *events.Event) error {
	body, err := event.Encode()
	if err != nil {
		return errors.InternalError("failed to encode event", err)
	}

	args := &redis.XAddArgs{
		Stream: b.streamName(string(event.Kind)),
		ID:     "*",
		Values: map[string]interface{}{
			"body":     string(body),
			"event_id": event.ID,
		},
	}
	if b.config.StreamMaxLen > 0 {
		args.MaxLen = b.config.StreamMaxLen
		args.Approx = true
	}

	if err := b.client.XAdd(ctx, args).Err(); err != nil {
		return errors.InternalError("failed to publish event to stream", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context, group string, kinds []string, handler Handler) error {
	streams := make([]string, 0, len(kinds))
	for _, kind := range kinds {
		stream := b.streamName(kind)
		err := b.client.XGroupCreateMkStream(ctx, stream, group, "0").Err()
		if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
			return errors.InternalError("failed to create consumer group", err)
		}
		streams = append(streams, stream)
	}

	go b.consume(ctx, group, streams, handler)
	return nil
}

func (b *RedisBus) consume(ctx context.Context, group string, streams []string, handler Handler) {
	// Reading with id "0" returns this consumer's pending entries, so a
	// restart first replays everything delivered but never acknowledged.
	// Once the pending list is drained the cursor switches to ">" for new
	// entries; a handler failure flips it back so the unacked entry is
	// retried instead of sitting in the pending list forever.
	cursor := "0"

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("stream subscription stopped",
				logging.Field{Key: "group", Value: group},
			)
			return
		default:
		}

		// XREADGROUP wants stream names followed by one id per stream.
		readArgs := make([]string, 0, len(streams)*2)
		readArgs = append(readArgs, streams...)
		for range streams {
			readArgs = append(readArgs, cursor)
		}

		results, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    group,
			Consumer: b.config.ConsumerName,
			Streams:  readArgs,
			Count:    16,
			Block:    100 * time.Millisecond,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			b.logger.Error("stream read failed", err,
				logging.Field{Key: "group", Value: group},
			)
			time.Sleep(time.Second)
			continue
		}

		delivered := 0
		failed := false
		for _, stream := range results {
			for _, msg := range stream.Messages {
				delivered++
				if err := b.handleMessage(ctx, group, stream.Stream, msg, handler); err != nil {
					failed = true
				}
			}
		}

		switch {
		case failed:
			cursor = "0"
			time.Sleep(b.redeliveryDelay)
		case cursor == "0" && delivered == 0:
			cursor = ">"
		}
	}
}

// handleMessage returns a non-nil error only when the handler failed and
// the entry was left unacked, so the consumer loop knows to go back for it.
func (b *RedisBus) handleMessage(ctx context.Context, group, stream string, msg redis.XMessage, handler Handler) error {
	raw, ok := msg.Values["body"].(string)
	if !ok {
		// Malformed entry, ack so it does not wedge the group.
		b.logger.Warn("stream entry missing body, discarding",
			logging.Field{Key: "stream", Value: stream},
			logging.Field{Key: "entry_id", Value: msg.ID},
		)
		b.client.XAck(ctx, stream, group, msg.ID)
		return nil
	}

	event, err := events.Decode([]byte(raw))
	if err != nil {
		b.logger.Warn("undecodable stream entry, discarding",
			logging.Field{Key: "stream", Value: stream},
			logging.Field{Key: "entry_id", Value: msg.ID},
			logging.Field{Key: "error", Value: err.Error()},
		)
		b.client.XAck(ctx, stream, group, msg.ID)
		return nil
	}

	if err := handler(ctx, event); err != nil {
		// Not acked: the entry stays pending and the consumer loop reads
		// it again from the pending list.
		b.logger.Warn("event handler failed",
			logging.Field{Key: "group", Value: group},
			logging.Field{Key: "event_id", Value: event.ID},
			logging.Field{Key: "error", Value: err.Error()},
		)
		return err
	}

	if err := b.client.XAck(ctx, stream, group, msg.ID).Err(); err != nil {
		b.logger.Error("failed to acknowledge stream entry", err,
			logging.Field{Key: "stream", Value: stream},
			logging.Field{Key: "entry_id", Value: msg.ID},
		)
	}
	return nil
}

func (b *RedisBus) Health() error {
	return b.client.Ping(context.Background()).Err()
}

func (b *RedisBus) Close() error {
	return b.client.Close()
}
