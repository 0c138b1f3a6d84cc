package progress

import (
	"context"
	"time"
)

// Update is the message pushed to a session when one of its workflow's
// items changes.
type Update struct {
	Type                string   `json:"type"`
	ClientID            string   `json:"client_id"`
	Event               Event    `json:"event"`
	ItemID              string   `json:"item_id"`
	ItemType            ItemType `json:"item_type"`
	Name                string   `json:"name"`
	Status              Status   `json:"status"`
	Progress            float64  `json:"progress"`
	WorkflowID          string   `json:"workflow_id"`
	Timestamp           string   `json:"timestamp"`
	EstimatedCompletion string   `json:"estimated_completion,omitempty"`
}

// Broadcaster delivers updates to client sessions. Implementations must
// tolerate unknown sessions (return an error; the loop logs and skips).
type Broadcaster interface {
	Send(ctx context.Context, sessionID string, update Update) error
}

// BroadcastFunc adapts a function to the Broadcaster interface.
type BroadcastFunc func(ctx context.Context, sessionID string, update Update) error

// Send implements Broadcaster.
func (f BroadcastFunc) Send(ctx context.Context, sessionID string, update Update) error {
	return f(ctx, sessionID, update)
}

// broadcastLoop drains the dirty set every broadcast interval and emits
// exactly one update per dirty item to each session registered against the
// item's workflow.
func (t *Tracker) broadcastLoop() {
	defer t.done.Done()
	ticker := time.NewTicker(t.broadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.shutdown:
			return
		case <-ticker.C:
			t.broadcastPending()
		}
	}
}

// broadcastPending swaps out the dirty set under the lock, resolves the
// recipients, then delivers outside the lock.
func (t *Tracker) broadcastPending() {
	t.mu.Lock()
	if len(t.dirty) == 0 {
		t.mu.Unlock()
		return
	}
	pending := t.dirty
	t.dirty = make(map[string]struct{})

	type delivery struct {
		sessionID string
		update    Update
	}
	var deliveries []delivery
	now := t.now()
	for itemID := range pending {
		item, ok := t.tree.get(itemID)
		if !ok {
			continue
		}
		workflowID := t.tree.rootWorkflow(itemID)
		update := Update{
			Type:       "progress_update",
			Event:      eventFor(item),
			ItemID:     item.ID,
			ItemType:   item.Type,
			Name:       item.Name,
			Status:     item.Status,
			Progress:   item.PercentComplete,
			WorkflowID: workflowID,
			Timestamp:  now.UTC().Format(time.RFC3339Nano),
		}
		if item.EstimatedCompletionTime != nil {
			update.EstimatedCompletion = item.EstimatedCompletionTime.UTC().Format(time.RFC3339Nano)
		}
		for sessionID, wf := range t.sessions {
			if wf != workflowID {
				continue
			}
			update.ClientID = sessionID
			deliveries = append(deliveries, delivery{sessionID: sessionID, update: update})
		}
	}
	broadcaster := t.broadcaster
	t.mu.Unlock()

	if broadcaster == nil {
		return
	}
	ctx := context.Background()
	for _, d := range deliveries {
		if err := broadcaster.Send(ctx, d.sessionID, d.update); err != nil {
			t.logger.Warn("progress broadcast failed",
				"session_id", d.sessionID, "item_id", d.update.ItemID, "error", err)
		}
	}
}

// Flush synchronously drains and delivers pending updates. Intended for
// tests and shutdown paths that cannot wait out the broadcast interval.
func (t *Tracker) Flush() {
	t.broadcastPending()
}

func eventFor(item *Item) Event {
	switch item.Status {
	case StatusCompleted:
		return EventCompleted
	case StatusFailed:
		return EventFailed
	case StatusPaused:
		return EventPaused
	case StatusSkipped:
		return EventSkipped
	case StatusInProgress:
		if item.StartedAt == nil {
			return EventStarted
		}
		return EventUpdated
	default:
		return EventUpdated
	}
}
