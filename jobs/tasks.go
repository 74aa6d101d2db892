package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskPurgeRefreshTokens deletes expired refresh-token rows.
	TaskPurgeRefreshTokens = "auth:refresh_tokens:purge"
)

// PurgePayload configures a purge run. GraceSeconds keeps rows that expired
// less than that many seconds ago.
type PurgePayload struct {
	GraceSeconds int64 `json:"grace_seconds,omitempty"`
}

// NewPurgeRefreshTokensTask constructs an Asynq task.
func NewPurgeRefreshTokensTask(payload PurgePayload) (*asynq.Task, error) {
	if payload.GraceSeconds < 0 {
		return nil, fmt.Errorf("jobs: negative grace %d", payload.GraceSeconds)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPurgeRefreshTokens, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
