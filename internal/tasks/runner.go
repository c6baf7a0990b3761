package tasks

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"membership_checkout/internal/models"
)

// Runner executes due scheduled tasks.
type Runner struct {
	db       *gorm.DB
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
	batch    int
}

func NewRunner(db *gorm.DB, registry *Registry, logger *zap.Logger) *Runner {
	return &Runner{db: db, registry: registry, logger: logger, now: time.Now, batch: 100}
}

// ProcessDue runs every active task whose due time has passed.
func (r *Runner) ProcessDue(ctx context.Context) (int, error) {
	var pending []models.ScheduledTask
	err := r.db.WithContext(ctx).
		Where("status = ? AND due <= ?", models.ScheduledTaskStatusActive, r.now()).
		Order("due ASC").
		Limit(r.batch).
		Find(&pending).Error
	if err != nil {
		return 0, err
	}

	if len(pending) == 0 {
		r.logger.Debug("No pending tasks found")
		return 0, nil
	}
	r.logger.Info("Found pending tasks", zap.Int("count", len(pending)))

	processed := 0
	for _, task := range pending {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		r.Execute(ctx, task)
		processed++
	}
	return processed, nil
}

// Execute runs task up to MaxAttempt times, records each attempt,
// and moves the task to its next state.
func (r *Runner) Execute(ctx context.Context, task models.ScheduledTask) {
	log := r.logger.With(zap.String("task", task.TaskName), zap.Uint("task_id", task.ID))

	handler, found := r.registry.Get(task.TaskName)
	if !found {
		log.Error("Task handler not found, marking as failure")
		now := r.now()
		r.db.WithContext(ctx).Model(&task).Updates(map[string]interface{}{
			"status":   models.ScheduledTaskStatusFailure,
			"last_run": &now,
		})
		r.recordHistory(ctx, log, models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           now,
			Status:          "handler_not_found",
			AttemptNumber:   1,
			Arguments:       task.Arguments,
			Result:          map[string]interface{}{"error": "Handler not found"},
		})
		return
	}

	attempts := task.MaxAttempt
	if attempts < 1 {
		attempts = 1
	}

	var (
		startTime time.Time
		err       error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		startTime = r.now()
		var result map[string]interface{}
		result, err = handler(ctx, task)
		runtime := r.now().Sub(startTime)

		status := "success"
		if err != nil {
			status = "failure"
			if result == nil {
				result = map[string]interface{}{}
			}
			result["error"] = err.Error()
			log.Warn("Task attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		} else {
			log.Info("Task completed", zap.Int("attempt", attempt), zap.Duration("runtime", runtime))
		}

		r.recordHistory(ctx, log, models.ScheduledTaskHistory{
			ScheduledTaskID: task.ID,
			TaskName:        task.TaskName,
			RunAt:           startTime,
			Runtime:         int(runtime.Milliseconds()),
			Status:          status,
			AttemptNumber:   attempt,
			Arguments:       task.Arguments,
			Result:          result,
		})

		if err == nil || ctx.Err() != nil {
			break
		}
	}

	status, due := nextTaskState(task, err == nil, r.now())
	updates := map[string]interface{}{
		"last_run": &startTime,
		"status":   status,
		"due":      due,
	}
	if err := r.db.WithContext(ctx).Model(&task).Updates(updates).Error; err != nil {
		log.Error("Failed to update task state", zap.Error(err))
	}
}

func (r *Runner) recordHistory(ctx context.Context, log *zap.Logger, history models.ScheduledTaskHistory) {
	if err := r.db.WithContext(ctx).Create(&history).Error; err != nil {
		log.Error("Failed to record task history", zap.Error(err))
	}
}

// nextTaskState decides the status and due time after a run.
// Recurring tasks advance to their next occurrence even after a failed run;
// a recurring task with no future occurrence is finished.
func nextTaskState(task models.ScheduledTask, succeeded bool, now time.Time) (models.ScheduledTaskStatus, time.Time) {
	if task.TaskType == models.ScheduledTaskTypeRecurring {
		next := task.NextDue(now)
		if next.After(task.Due) && next.After(now) {
			return models.ScheduledTaskStatusActive, next
		}
		if !succeeded {
			return models.ScheduledTaskStatusFailure, task.Due
		}
		return models.ScheduledTaskStatusDone, task.Due
	}

	if succeeded {
		return models.ScheduledTaskStatusDone, task.Due
	}
	return models.ScheduledTaskStatusFailure, task.Due
}
