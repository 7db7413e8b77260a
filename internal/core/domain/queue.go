package domain

import "time"

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

const (
	DefaultQueuePriority    = 10
	DefaultQueueMaxAttempts = 3
)

func (s QueueStatus) Valid() bool {
	switch s {
	case QueueStatusPending, QueueStatusProcessing, QueueStatusCompleted, QueueStatusFailed:
		return true
	default:
		return false
	}
}

// Active statuses own the (instance, remote document) pair.
func (s QueueStatus) Active() bool {
	return s == QueueStatusPending || s == QueueStatusProcessing
}

type QueueItem struct {
	ID               string      `json:"id"`
	InstanceID       string      `json:"instanceId"`
	RemoteDocumentID int         `json:"remoteDocumentId"`
	LocalDocumentID  *string     `json:"localDocumentId"`
	AIBotID          string      `json:"aiBotId"`
	Priority         int         `json:"priority"`
	ScheduledFor     time.Time   `json:"scheduledFor"`
	Status           QueueStatus `json:"status"`
	Attempts         int         `json:"attempts"`
	MaxAttempts      int         `json:"maxAttempts"`
	LastError        *string     `json:"lastError"`
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
	StartedAt        *time.Time  `json:"startedAt"`
	CompletedAt      *time.Time  `json:"completedAt"`
}

// Exhausted reports whether a failed attempt should be terminal.
func (q QueueItem) Exhausted() bool {
	return q.Attempts >= q.MaxAttempts
}

type QueueStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

func (s *QueueStats) Add(status QueueStatus, n int) {
	switch status {
	case QueueStatusPending:
		s.Pending += n
	case QueueStatusProcessing:
		s.Processing += n
	case QueueStatusCompleted:
		s.Completed += n
	case QueueStatusFailed:
		s.Failed += n
	}
}

type QueueFilter struct {
	InstanceID string
	Status     QueueStatus
	Page       int
	Limit      int
}

func (f QueueFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.Limit
}

type QueuePage struct {
	Items []QueueItem
	Stats QueueStats
	Total int
	Page  int
	Limit int
}

func (p QueuePage) TotalPages() int {
	if p.Limit <= 0 || p.Total == 0 {
		return 0
	}
	return (p.Total + p.Limit - 1) / p.Limit
}

type EnqueueRequest struct {
	InstanceID       string
	RemoteDocumentID int
	AIBotID          string
	Priority         *int
	LocalDocumentID  *string
}
