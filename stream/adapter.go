package stream

import (
	"sync"

	"github.com/wrenchchatrepo/wrenchai-sub000/progress"
)

// ProgressAdapter mirrors a stream's lifecycle into the progress tracker as
// an operation (or subtask) under a parent item: started on first use,
// completed on success, failed on error or cancellation.
type ProgressAdapter struct {
	tracker  *progress.Tracker
	parentID string
	name     string
	itemType progress.ItemType
	weight   float64

	mu     sync.Mutex
	itemID string
}

// NewProgressAdapter builds an adapter creating an operation under
// parentID. Use progress.ItemSubtask for coarser streams.
func NewProgressAdapter(tracker *progress.Tracker, parentID, name string, itemType progress.ItemType, weight float64) *ProgressAdapter {
	if itemType == "" {
		itemType = progress.ItemOperation
	}
	if weight <= 0 {
		weight = 1
	}
	return &ProgressAdapter{
		tracker:  tracker,
		parentID: parentID,
		name:     name,
		itemType: itemType,
		weight:   weight,
	}
}

// Start lazily creates and starts the progress item. It is safe to call
// repeatedly.
func (a *ProgressAdapter) Start() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.itemID != "" {
		return a.itemID
	}
	switch a.itemType {
	case progress.ItemSubtask:
		a.itemID = a.tracker.CreateSubtask(a.parentID, a.name, "streaming operation", a.weight, 100, "")
	default:
		a.itemID = a.tracker.CreateOperation(a.parentID, a.name, "streaming operation", a.weight, 100, "")
	}
	a.tracker.StartItem(a.itemID)
	return a.itemID
}

// Update sets the stream's progress percentage.
func (a *ProgressAdapter) Update(percent float64) {
	a.tracker.UpdateProgress(a.Start(), percent)
}

// Increment adds to the stream's progress percentage.
func (a *ProgressAdapter) Increment(delta float64) {
	a.tracker.IncrementProgress(a.Start(), delta)
}

// Complete marks the stream's item complete.
func (a *ProgressAdapter) Complete() {
	a.tracker.CompleteItem(a.Start(), false)
}

// Fail marks the stream's item failed.
func (a *ProgressAdapter) Fail(message string) {
	a.tracker.FailItem(a.Start(), message, false)
}
