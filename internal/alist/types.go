package alist

import (
	"time"

	"github.com/alexjbarnes/alist-sync/internal/models"
)

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the data payload of a successful login.
type LoginResponse struct {
	Token string `json:"token"`
}

// MeResponse is the data payload of GET /api/me.
type MeResponse struct {
	ID       int    `json:"id"`
	Username string `json:"username"`
	BasePath string `json:"base_path"`
}

// ListRequest is the body of POST /api/fs/list.
type ListRequest struct {
	Path     string `json:"path"`
	Password string `json:"password"`
	Page     int    `json:"page"`
	PerPage  int    `json:"per_page"`
	Refresh  bool   `json:"refresh"`
}

// ListObject is one entry in a directory listing.
type ListObject struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"is_dir"`
	Modified time.Time `json:"modified"`
}

// ListResponse is the data payload of a directory listing. Content is
// null for empty directories.
type ListResponse struct {
	Content []ListObject `json:"content"`
	Total   int          `json:"total"`
}

// CopyRequest is the body of POST /api/fs/copy.
type CopyRequest struct {
	SrcDir string   `json:"src_dir"`
	DstDir string   `json:"dst_dir"`
	Names  []string `json:"names"`
}

// CopyResponse is the data payload of a copy request. Tasks is empty when
// the backend completed the copy synchronously.
type CopyResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

// RenameRequest is the body of POST /api/fs/rename.
type RenameRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// TaskInfo is a task as reported by the admin task endpoints.
type TaskInfo struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	State    int     `json:"state"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Error    string  `json:"error"`
}

// Task states used by the AList task manager.
const (
	statePending      = 0
	stateRunning      = 1
	stateSucceeded    = 2
	stateCanceling    = 3
	stateCanceled     = 4
	stateErrored      = 5
	stateFailing      = 6
	stateFailed       = 7
	stateWaitingRetry = 8
	stateBeforeRetry  = 9
)

// CopyTask converts the wire representation into the shared model.
func (t TaskInfo) CopyTask() models.CopyTask {
	return models.CopyTask{
		ID:       t.ID,
		Name:     t.Name,
		Status:   taskStatus(t.State),
		Progress: t.Progress,
		Error:    t.Error,
	}
}

func taskStatus(state int) models.TaskStatus {
	switch state {
	case stateRunning, stateCanceling, stateFailing:
		return models.TaskRunning
	case stateSucceeded:
		return models.TaskSucceeded
	case stateCanceled, stateErrored, stateFailed:
		return models.TaskFailed
	default:
		// pending, waiting for retry, about to retry
		return models.TaskQueued
	}
}

func (r ListResponse) listing(path string, fetchedAt time.Time) *models.Listing {
	l := &models.Listing{
		Path:      path,
		Entries:   make([]models.Entry, 0, len(r.Content)),
		FetchedAt: fetchedAt,
	}

	for _, obj := range r.Content {
		l.Entries = append(l.Entries, models.Entry{
			Name:     obj.Name,
			IsDir:    obj.IsDir,
			Size:     obj.Size,
			Modified: obj.Modified,
		})
	}

	return l
}
