package resultstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"labinsight/internal/domain"
)

const redisKeyPrefix = "labinsight:report:"

// Redis shares handed-off reports across service replicas.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(ctx context.Context, url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

func (r *Redis) Put(ctx context.Context, id string, report domain.FullReport) error {
	data, err := encode(report)
	if err != nil {
		return err
	}
	stored, err := r.client.SetNX(ctx, redisKeyPrefix+id, data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to store report: %w", err)
	}
	if !stored {
		return ErrDuplicateID
	}
	return nil
}

func (r *Redis) Take(ctx context.Context, id, filename string) (domain.FullReport, error) {
	data, err := r.client.GetDel(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.FullReport{}, &domain.DataIntegrityError{ReportID: id, Reason: domain.MsgReportMissing}
	}
	if err != nil {
		return domain.FullReport{}, fmt.Errorf("failed to load report: %w", err)
	}
	return decode(id, filename, data)
}

func (r *Redis) Close() error {
	return r.client.Close()
}
