package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/leaflabhq/leaflab-backend/pkg/logger"
)

const (
	defaultOutboxRetentionDays = 14
	defaultOutboxMaxAttempts   = 10
)

type outboxRetentionStore interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time, maxAttempts int) (int64, error)
}

// OutboxRetentionJobParams configures the outbox cleanup job.
type OutboxRetentionJobParams struct {
	Logger        *logger.Logger
	Store         outboxRetentionStore
	RetentionDays int
	MaxAttempts   int
}

// NewOutboxRetentionJob builds the job that prunes published and exhausted
// outbox rows so the publisher's poll query stays on a small table.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Store == nil {
		return nil, fmt.Errorf("outbox store required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = defaultOutboxRetentionDays
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultOutboxMaxAttempts
	}
	return &outboxRetentionJob{
		logg:        params.Logger,
		store:       params.Store,
		retention:   retention,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg        *logger.Logger
	store       outboxRetentionStore
	retention   int
	maxAttempts int
	now         func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	deleted, err := j.store.DeleteFinishedBefore(ctx, cutoff, j.maxAttempts)
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"max_attempts":   j.maxAttempts,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "outbox retention cleanup complete")
	return nil
}
