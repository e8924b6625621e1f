package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dyike/AurumGo/internal/models"
)

const (
	DefaultRedisPrefix  = "aurum:latest:"
	DefaultRedisChannel = "aurum:analysis"
)

// RedisMirror copies every saved snapshot to "<prefix><tool>" and publishes
// it on a channel for live dashboards.
type RedisMirror struct {
	cli     *redis.Client
	prefix  string
	channel string
	ttl     time.Duration
}

// NewRedisMirror connects using a redis:// URL.
func NewRedisMirror(url string) (*RedisMirror, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisMirrorFromClient(redis.NewClient(opts)), nil
}

func NewRedisMirrorFromClient(cli *redis.Client) *RedisMirror {
	return &RedisMirror{
		cli:     cli,
		prefix:  DefaultRedisPrefix,
		channel: DefaultRedisChannel,
	}
}

func (m *RedisMirror) Name() string { return "redis" }

func (m *RedisMirror) Record(ctx context.Context, tool string, _ *models.AnalysisRecord, _ string, data []byte) error {
	pipe := m.cli.TxPipeline()
	pipe.Set(ctx, m.prefix+tool, data, m.ttl)
	pipe.Publish(ctx, m.channel, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror %s: %w", tool, err)
	}
	return nil
}

// Latest returns the mirrored JSON for tool, or ErrNotFound.
func (m *RedisMirror) Latest(ctx context.Context, tool string) ([]byte, error) {
	b, err := m.cli.Get(ctx, m.prefix+tool).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%s: %w", tool, ErrNotFound)
		}
		return nil, err
	}
	return b, nil
}

func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.cli.Ping(ctx).Err()
}

func (m *RedisMirror) Close() error {
	return m.cli.Close()
}
