package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/goodsflow/internal/jobs"
)

// PrefixInvalidator is implemented by *cache.JSONCache.
type PrefixInvalidator interface {
	InvalidatePrefix(ctx context.Context, prefix string) (int, error)
}

// CacheInvalidateJob retries cache invalidations that failed after commit.
type CacheInvalidateJob struct {
	Cache   PrefixInvalidator
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCacheInvalidateJob constructs the job handler.
func NewCacheInvalidateJob(c PrefixInvalidator, logger *slog.Logger, metrics *jobmetrics.Metrics) *CacheInvalidateJob {
	return &CacheInvalidateJob{Cache: c, Logger: logger, Metrics: metrics}
}

// Handle drops every key under the payload prefix. Errors are returned so
// asynq retries with backoff.
func (j *CacheInvalidateJob) Handle(ctx context.Context, task *asynq.Task) (err error) {
	if j == nil || j.Cache == nil {
		return errors.New("cache invalidate: dependencies not configured")
	}
	var payload CacheInvalidatePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil || payload.Prefix == "" {
		return asynq.SkipRetry
	}

	done := j.Metrics.Start(TaskCacheInvalidate)
	defer func() { err = done(err) }()

	n, err := j.Cache.InvalidatePrefix(ctx, payload.Prefix)
	if err != nil {
		j.log().Warn("retry cache invalidation", slog.String("prefix", payload.Prefix), slog.Any("error", err))
		return err
	}
	j.log().Info("cache invalidated", slog.String("prefix", payload.Prefix), slog.Int("keys", n))
	return nil
}

func (j *CacheInvalidateJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
