package models

import "github.com/scrollpace/scrollpace/internal/task"

// ProgressUpdate is the payload broadcast over the WebSocket feed after
// every batch and on task completion.
type ProgressUpdate struct {
	TaskID  int64       `json:"task_id"`
	Action  string      `json:"action"`
	State   string      `json:"state"` // "running", "completed", "failed", "canceled"
	Message string      `json:"message"`
	Status  task.Status `json:"status"`
	Done    bool        `json:"done"`
}
