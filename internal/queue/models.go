package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a work item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusClaimed,
	StatusCompleted,
	StatusFailed,
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	for _, status := range allStatuses {
		if status == normalized {
			return normalized, true
		}
	}
	return "", false
}

// IsTerminal reports whether the status can no longer change within a run.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Item is one unit of work.
type Item struct {
	ID          int       `json:"id"`
	Payload     string    `json:"payload"`
	Status      Status    `json:"status"`
	WorkerID    string    `json:"worker_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ClaimedAt   time.Time `json:"claimed_at,omitzero"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Progress is a point-in-time tally of item statuses. It is not
// transactionally consistent with any single claim or completion.
type Progress struct {
	Pending   int `json:"pending"`
	Claimed   int `json:"claimed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Done counts items in a terminal state.
func (p Progress) Done() int {
	return p.Completed + p.Failed
}

// Remaining counts items that are not terminal yet.
func (p Progress) Remaining() int {
	return p.Pending + p.Claimed
}

// SuccessRate returns completed items as a whole percentage of the total.
func (p Progress) SuccessRate() int {
	if p.Total <= 0 {
		return 0
	}
	return p.Completed * 100 / p.Total
}

func (p *Progress) add(status Status) bool {
	switch status {
	case StatusPending:
		p.Pending++
	case StatusClaimed:
		p.Claimed++
	case StatusCompleted:
		p.Completed++
	case StatusFailed:
		p.Failed++
	default:
		return false
	}
	p.Total++
	return true
}
