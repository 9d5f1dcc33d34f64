package models

// TaskStatus is the lifecycle stage of a remote copy task.
type TaskStatus string

const (
	TaskQueued    TaskStatus = "queued"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// CopyTask is a copy operation tracked by the remote backend. IDs are
// always assigned remotely.
type CopyTask struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Status   TaskStatus `json:"status"`
	Progress float64    `json:"progress"`
	Error    string     `json:"error,omitempty"`
}

// Done reports whether the task has reached a terminal status.
func (t CopyTask) Done() bool {
	return t.Status == TaskSucceeded || t.Status == TaskFailed
}
