package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"membership_checkout/internal/models"
)

// BuildScheduledTask is a helper to build ScheduledTask records generically
func BuildScheduledTask(taskName string, args interface{}, due time.Time, recurringInterval *string, taskType models.ScheduledTaskType, maxAttempt int) (*models.ScheduledTask, error) {
	argsBytes, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal args: %w", err)
	}

	var mapArgs map[string]interface{}
	if err := json.Unmarshal(argsBytes, &mapArgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into map: %w", err)
	}

	return &models.ScheduledTask{
		TaskName:          taskName,
		Arguments:         mapArgs,
		Due:               due,
		RecurringInterval: recurringInterval,
		Status:            models.ScheduledTaskStatusActive,
		TaskType:          taskType,
		MaxAttempt:        maxAttempt,
	}, nil
}

// Enqueue inserts task. A task whose DedupKey already exists is skipped;
// created reports whether a row was written.
func Enqueue(ctx context.Context, db *gorm.DB, task *models.ScheduledTask) (created bool, err error) {
	q := db.WithContext(ctx)
	if task.DedupKey != nil {
		q = q.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "dedup_key"}},
			DoNothing: true,
		})
	}
	res := q.Create(task)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// EnsureRecurring enqueues a recurring task once, keyed by its name.
func EnsureRecurring(ctx context.Context, db *gorm.DB, taskName, rule string, args interface{}, now time.Time) (bool, error) {
	task, err := BuildScheduledTask(taskName, args, now, &rule, models.ScheduledTaskTypeRecurring, 1)
	if err != nil {
		return false, err
	}
	key := "recurring:" + taskName
	task.DedupKey = &key
	return Enqueue(ctx, db, task)
}

// intArg reads a numeric argument decoded from JSON.
func intArg(args map[string]interface{}, key string, fallback int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return fallback
}

func durationArg(args map[string]interface{}, key string, fallback time.Duration) time.Duration {
	if s, ok := args[key].(string); ok && s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			return d
		}
	}
	return fallback
}
