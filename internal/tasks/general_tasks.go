package tasks

import (
	"context"

	"go.uber.org/zap"

	"membership_checkout/internal/models"
)

// LogInfoTaskDef writes its message argument to the log. Useful for checking the worker.
type LogInfoTaskDef struct {
	logger *zap.Logger
}

// TaskID returns the unique identifier for this task
func (t *LogInfoTaskDef) TaskID() string {
	return "log_info"
}

// HandleExecution handles logging information
func (t *LogInfoTaskDef) HandleExecution(ctx context.Context, task models.ScheduledTask) (map[string]interface{}, error) {
	message, ok := task.Arguments["message"].(string)
	if !ok {
		message = "No message provided"
	}
	t.logger.Info("log_info task", zap.String("message", message), zap.Uint("task_id", task.ID))

	return map[string]interface{}{
		"status":            "success",
		"message":           message,
		"max_attempts_info": task.MaxAttempt,
	}, nil
}
