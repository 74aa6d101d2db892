package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
)

// Purger deletes expired refresh tokens. *auth.PGStore satisfies it.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// PurgeRefreshTokensJob removes refresh-token rows that can no longer be
// redeemed.
type PurgeRefreshTokensJob struct {
	Store   Purger
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPurgeRefreshTokensJob initialises the purge handler.
func NewPurgeRefreshTokensJob(store Purger, logger *slog.Logger, metrics *jobmetrics.Metrics) *PurgeRefreshTokensJob {
	return &PurgeRefreshTokensJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes one purge run.
func (j *PurgeRefreshTokensJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Store == nil {
		return errors.New("purge refresh tokens: handler not configured")
	}
	var payload PurgePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.Metrics.Track(TaskPurgeRefreshTokens)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	cutoff := j.now().Add(-time.Duration(payload.GraceSeconds) * time.Second)
	n, err := j.Store.PurgeExpired(ctx, cutoff)
	if err != nil {
		j.logger().Error("purge refresh tokens failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddPurged(n)
	j.logger().Info("purged refresh tokens",
		slog.String("job", TaskPurgeRefreshTokens),
		slog.Int64("rows", n),
		slog.Time("cutoff", cutoff),
	)
	return nil
}

func (j *PurgeRefreshTokensJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *PurgeRefreshTokensJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
