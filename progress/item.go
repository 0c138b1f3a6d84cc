// Package progress tracks hierarchical work items (workflow, step, subtask,
// operation) with weighted rollup, completion-time estimation, periodic
// checkpointing, and broadcast of updates to registered sessions.
package progress

import (
	"time"
)

// Status of a progress item.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusPaused     Status = "paused"
	StatusSkipped    Status = "skipped"
	// StatusWaiting marks an item blocked on a dependency.
	StatusWaiting Status = "waiting"
)

// ItemType is an item's level in the hierarchy.
type ItemType string

const (
	ItemWorkflow  ItemType = "workflow"
	ItemStep      ItemType = "step"
	ItemSubtask   ItemType = "subtask"
	ItemOperation ItemType = "operation"
)

// Event classifies a broadcast update.
type Event string

const (
	EventCreated   Event = "created"
	EventStarted   Event = "started"
	EventUpdated   Event = "updated"
	EventCompleted Event = "completed"
	EventFailed    Event = "failed"
	EventPaused    Event = "paused"
	EventResumed   Event = "resumed"
	EventSkipped   Event = "skipped"
	EventEstimated Event = "estimated"
)

// Item is one node in the progress tree. Items reference their parent and
// children by id; the tree lives in an arena keyed by id, never by pointer
// ownership.
type Item struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Type        ItemType `json:"type"`
	ParentID    string   `json:"parent_id,omitempty"`
	Description string   `json:"description,omitempty"`

	// Weight is the item's share of its parent's progress; TotalWork is the
	// item's own work budget.
	Weight    float64 `json:"weight"`
	TotalWork float64 `json:"total_work"`

	WorkCompleted   float64 `json:"work_completed"`
	PercentComplete float64 `json:"percent_complete"`
	Status          Status  `json:"status"`
	ErrorMessage    string  `json:"error_message,omitempty"`

	CreatedAt      time.Time     `json:"created_at"`
	StartedAt      *time.Time    `json:"started_at,omitempty"`
	UpdatedAt      *time.Time    `json:"updated_at,omitempty"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
	PausedAt       *time.Time    `json:"paused_at,omitempty"`
	PausedDuration time.Duration `json:"paused_duration"`

	ChildIDs map[string]struct{} `json:"child_ids"`

	EstimatedDuration       *time.Duration `json:"estimated_duration,omitempty"`
	EstimatedCompletionTime *time.Time     `json:"estimated_completion_time,omitempty"`
}

func newItem(id, name string, typ ItemType, parentID string, weight, totalWork float64, now time.Time) *Item {
	if weight < 0 {
		weight = 0
	}
	if totalWork <= 0 {
		totalWork = 100
	}
	return &Item{
		ID:        id,
		Name:      name,
		Type:      typ,
		ParentID:  parentID,
		Weight:    weight,
		TotalWork: totalWork,
		Status:    StatusNotStarted,
		CreatedAt: now,
		ChildIDs:  make(map[string]struct{}),
	}
}

func (it *Item) start(now time.Time) {
	if it.Status == StatusInProgress {
		// Idempotent: starting an in-progress item is a no-op.
		return
	}
	it.Status = StatusInProgress
	if it.StartedAt == nil {
		t := now
		it.StartedAt = &t
	}
	it.touch(now)
}

// update sets work_completed and keeps percent_complete consistent. Work is
// clamped to [0, TotalWork]; reaching the budget completes the item.
func (it *Item) update(workCompleted float64, now time.Time) {
	if workCompleted < 0 {
		workCompleted = 0
	}
	if workCompleted > it.TotalWork {
		workCompleted = it.TotalWork
	}
	it.WorkCompleted = workCompleted
	if it.TotalWork > 0 {
		it.PercentComplete = workCompleted / it.TotalWork * 100
	}
	it.touch(now)
	if it.PercentComplete >= 100 && it.Status != StatusCompleted {
		it.complete(now)
	}
}

func (it *Item) complete(now time.Time) {
	it.Status = StatusCompleted
	it.WorkCompleted = it.TotalWork
	it.PercentComplete = 100
	t := now
	it.CompletedAt = &t
	it.touch(now)
}

func (it *Item) fail(msg string, now time.Time) {
	it.Status = StatusFailed
	it.ErrorMessage = msg
	t := now
	it.CompletedAt = &t
	it.touch(now)
}

func (it *Item) pause(now time.Time) {
	if it.Status == StatusPaused {
		return
	}
	it.Status = StatusPaused
	t := now
	it.PausedAt = &t
	it.touch(now)
}

func (it *Item) resume(now time.Time) {
	if it.PausedAt != nil {
		it.PausedDuration += now.Sub(*it.PausedAt)
		it.PausedAt = nil
	}
	it.Status = StatusInProgress
	it.touch(now)
}

func (it *Item) skip(now time.Time) {
	it.Status = StatusSkipped
	it.touch(now)
}

func (it *Item) touch(now time.Time) {
	t := now
	it.UpdatedAt = &t
}

func (it *Item) addChild(id string)    { it.ChildIDs[id] = struct{}{} }
func (it *Item) removeChild(id string) { delete(it.ChildIDs, id) }

// ActiveDuration is the item's wall-clock run time excluding paused spans.
func (it *Item) ActiveDuration(now time.Time) time.Duration {
	if it.StartedAt == nil {
		return 0
	}
	end := now
	if it.CompletedAt != nil {
		end = *it.CompletedAt
	}
	d := end.Sub(*it.StartedAt) - it.PausedDuration
	if it.PausedAt != nil {
		d -= end.Sub(*it.PausedAt)
	}
	if d < 0 {
		d = 0
	}
	return d
}

// setEstimatedDuration records an estimate and derives the projected
// completion time from the item's start (or creation).
func (it *Item) setEstimatedDuration(d time.Duration, now time.Time) {
	it.EstimatedDuration = &d
	base := it.CreatedAt
	if it.StartedAt != nil {
		base = *it.StartedAt
	}
	eta := base.Add(d + it.PausedDuration)
	if eta.Before(now) {
		eta = now.Add(d)
	}
	it.EstimatedCompletionTime = &eta
}
