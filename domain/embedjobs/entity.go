package embedjobs

import "time"

// Status is the embed-job lifecycle state
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// EmbedJob is one durable unit of embedding work, keyed by
// (entity_uid, model, version). The entity_uid is the entity name; version
// is the entity version the job was scheduled for.
type EmbedJob struct {
	ID        string `json:"id"`
	EntityUID string `json:"entityUid"`
	Model     string `json:"model"`
	Version   string `json:"version"`

	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	CreatedAt   time.Time  `json:"createdAt"`
	ProcessedAt *time.Time `json:"processedAt,omitempty"`

	Attempts    int `json:"attempts"`
	MaxAttempts int `json:"maxAttempts"`

	LockOwner string     `json:"lockOwner,omitempty"`
	LockUntil *time.Time `json:"lockUntil,omitempty"`

	Error         string `json:"error,omitempty"`
	ErrorCategory string `json:"errorCategory,omitempty"`
	ErrorStack    string `json:"errorStack,omitempty"`
	Permanent     bool   `json:"permanent,omitempty"`
}

// QueueStats is a per-status row count snapshot
type QueueStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// Total returns the total number of rows in the queue
func (s QueueStats) Total() int64 {
	return s.Pending + s.Processing + s.Completed + s.Failed
}
