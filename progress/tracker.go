package progress

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// Default intervals for the background loops.
const (
	DefaultCheckpointInterval = 30 * time.Second
	DefaultBroadcastInterval  = 2 * time.Second
)

// Tracker is the hierarchical progress tracker. One mutex guards the item
// arena, the estimator, the session registry, and the dirty set; the
// broadcast loop takes it briefly to swap the dirty set out and releases it
// between messages.
type Tracker struct {
	mu        sync.Mutex
	tree      *tree
	estimator *Estimator

	// sessions maps session id to the workflow the session watches.
	sessions map[string]string
	// dirty holds item ids with pending updates, deduplicated per
	// broadcast interval.
	dirty map[string]struct{}

	broadcaster Broadcaster

	dir                string
	checkpointInterval time.Duration
	broadcastInterval  time.Duration

	running  bool
	shutdown chan struct{}
	done     sync.WaitGroup

	now    func() time.Time
	logger hclog.Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithPersistenceDir sets the directory for progress checkpoints. Empty
// disables the checkpoint loop.
func WithPersistenceDir(dir string) TrackerOption {
	return func(t *Tracker) { t.dir = dir }
}

// WithCheckpointInterval overrides the checkpoint loop interval.
func WithCheckpointInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.checkpointInterval = d }
}

// WithBroadcastInterval overrides the broadcast loop interval.
func WithBroadcastInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) { t.broadcastInterval = d }
}

// WithBroadcaster sets the sink update messages are delivered to.
func WithBroadcaster(b Broadcaster) TrackerOption {
	return func(t *Tracker) { t.broadcaster = b }
}

// WithLogger sets the tracker's logger.
func WithLogger(l hclog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = l }
}

// WithHistoryWindow sets the estimator's sample window.
func WithHistoryWindow(n int) TrackerOption {
	return func(t *Tracker) { t.estimator = NewEstimator(n) }
}

// WithClock overrides the tracker's time source, for tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a Tracker. Call Start to launch the broadcast and
// checkpoint loops, and Stop to shut them down.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		tree:               newTree(),
		estimator:          NewEstimator(DefaultHistoryWindow),
		sessions:           make(map[string]string),
		dirty:              make(map[string]struct{}),
		checkpointInterval: DefaultCheckpointInterval,
		broadcastInterval:  DefaultBroadcastInterval,
		now:                time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = hclog.New(&hclog.LoggerOptions{Name: "progress"})
	}
	return t
}

// Start launches the background broadcast and checkpoint loops. Starting a
// running tracker is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.shutdown = make(chan struct{})
	t.mu.Unlock()

	t.done.Add(1)
	go t.broadcastLoop()
	if t.dir != "" {
		t.done.Add(1)
		go t.checkpointLoop()
	}
	t.logger.Info("progress tracker started")
}

// Stop signals the background loops, joins them, and writes a final
// checkpoint.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.shutdown)
	t.mu.Unlock()

	t.done.Wait()
	if t.dir != "" {
		if err := t.SaveCheckpoint(); err != nil {
			t.logger.Error("final progress checkpoint failed", "error", err)
		}
	}
	t.logger.Info("progress tracker stopped")
}

// SetBroadcaster installs (or replaces) the update sink. Useful when the
// broadcaster needs the tracker to exist first, as the WebSocket hub does.
func (t *Tracker) SetBroadcaster(b Broadcaster) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broadcaster = b
}

// RegisterSession ties a client session to a workflow; broadcast updates
// for items under that workflow are addressed to the session.
func (t *Tracker) RegisterSession(sessionID, workflowID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sessions[sessionID] = workflowID
}

// UnregisterSession removes a client session.
func (t *Tracker) UnregisterSession(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// CreateWorkflow creates a root workflow item and returns its id. An empty
// workflowID generates one.
func (t *Tracker) CreateWorkflow(name, description string, totalWork float64, workflowID string) string {
	if workflowID == "" {
		workflowID = "workflow_" + uuid.NewString()
	}
	return t.createItem(workflowID, name, description, ItemWorkflow, "", 1, totalWork)
}

// CreateStep creates a step under a workflow.
func (t *Tracker) CreateStep(workflowID, name, description string, weight, totalWork float64, stepID string) string {
	if stepID == "" {
		stepID = "step_" + uuid.NewString()
	}
	return t.createItem(stepID, name, description, ItemStep, workflowID, weight, totalWork)
}

// CreateSubtask creates a subtask under a step (or any parent).
func (t *Tracker) CreateSubtask(parentID, name, description string, weight, totalWork float64, subtaskID string) string {
	if subtaskID == "" {
		subtaskID = "subtask_" + uuid.NewString()
	}
	return t.createItem(subtaskID, name, description, ItemSubtask, parentID, weight, totalWork)
}

// CreateOperation creates a leaf operation under any parent.
func (t *Tracker) CreateOperation(parentID, name, description string, weight, totalWork float64, operationID string) string {
	if operationID == "" {
		operationID = "operation_" + uuid.NewString()
	}
	return t.createItem(operationID, name, description, ItemOperation, parentID, weight, totalWork)
}

func (t *Tracker) createItem(id, name, description string, typ ItemType, parentID string, weight, totalWork float64) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	item := newItem(id, name, typ, parentID, weight, totalWork, now)
	item.Description = description
	t.tree.add(item)
	if d, ok := t.estimator.InitialEstimate(typ, item.TotalWork); ok {
		item.setEstimatedDuration(d, now)
	}
	t.estimator.Start(id, typ, item.TotalWork)
	t.markDirty(id)
	return id
}

// StartItem transitions an item to in_progress. Starting an in-progress
// item is idempotent.
func (t *Tracker) StartItem(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.tree.get(id)
	if !ok {
		return false
	}
	item.start(t.now())
	t.markDirty(id)
	return true
}

// UpdateProgress sets an item's percent complete (clamped to [0, 100]),
// refreshes its ETA, and rolls ancestors up. Reaching 100 completes the
// item.
func (t *Tracker) UpdateProgress(id string, percent float64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.tree.get(id)
	if !ok {
		return false
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	now := t.now()
	wasCompleted := item.Status == StatusCompleted
	item.update(percent/100*item.TotalWork, now)
	if d, ok := t.estimator.Update(id, item.PercentComplete); ok {
		item.setEstimatedDuration(d, now)
	}
	if item.Status == StatusCompleted && !wasCompleted {
		t.estimator.Complete(id)
	}
	t.tree.rollup(item.ParentID, now)
	t.markDirty(id)
	if item.ParentID != "" {
		t.markDirty(item.ParentID)
	}
	return true
}

// IncrementProgress adds delta percent to an item's current percent.
func (t *Tracker) IncrementProgress(id string, delta float64) bool {
	t.mu.Lock()
	current, ok := t.tree.get(id)
	if !ok {
		t.mu.Unlock()
		return false
	}
	percent := current.PercentComplete + delta
	t.mu.Unlock()
	return t.UpdateProgress(id, percent)
}

// CompleteItem snaps an item to 100%. Cascade applies to the status
// marking of descendants only.
func (t *Tracker) CompleteItem(id string, cascade bool) bool {
	return t.mark(id, StatusCompleted, cascade)
}

// FailItem marks an item failed with an optional message, cascading to
// descendants when requested.
func (t *Tracker) FailItem(id, errorMessage string, cascade bool) bool {
	t.mu.Lock()
	if item, ok := t.tree.get(id); ok {
		item.ErrorMessage = errorMessage
	}
	t.mu.Unlock()
	return t.mark(id, StatusFailed, cascade)
}

// PauseItem pauses an item; paused spans accumulate into PausedDuration.
func (t *Tracker) PauseItem(id string, cascade bool) bool {
	return t.mark(id, StatusPaused, cascade)
}

// ResumeItem resumes a paused item.
func (t *Tracker) ResumeItem(id string, cascade bool) bool {
	return t.mark(id, StatusInProgress, cascade)
}

// SkipItem marks an item skipped.
func (t *Tracker) SkipItem(id string, cascade bool) bool {
	return t.mark(id, StatusSkipped, cascade)
}

func (t *Tracker) mark(id string, status Status, cascade bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var wasCompleted bool
	if item, ok := t.tree.get(id); ok {
		wasCompleted = item.Status == StatusCompleted
	}
	if !t.tree.markStatus(id, status, cascade, now) {
		return false
	}
	if status == StatusCompleted && !wasCompleted {
		t.estimator.Complete(id)
	}
	t.markDirty(id)
	return true
}

// RemoveItem deletes an item, and its descendants too when cascade is set.
func (t *Tracker) RemoveItem(id string, cascade bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.remove(id, cascade)
}

// Item returns a copy of the identified item.
func (t *Tracker) Item(id string) (Item, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	item, ok := t.tree.get(id)
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Tree renders the subtree rooted at id, or every root when id is empty.
func (t *Tracker) Tree(id string) []Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id == "" {
		return t.tree.renderRoots()
	}
	if node, ok := t.tree.render(id); ok {
		return []Node{node}
	}
	return nil
}

// Overall summarizes the whole tracker.
func (t *Tracker) Overall() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tree.summary()
}

// markDirty queues an item for the next broadcast. Callers hold the mutex.
func (t *Tracker) markDirty(id string) {
	t.dirty[id] = struct{}{}
}

// Track is a convenience guard for scoped progress: it creates and starts
// an operation under parentID, hands the caller an update function, and
// completes or fails the item depending on the returned error.
func (t *Tracker) Track(parentID, name string, fn func(update func(percent float64)) error) error {
	id := t.CreateOperation(parentID, name, "", 1, 100, "")
	t.StartItem(id)
	err := fn(func(percent float64) { t.UpdateProgress(id, percent) })
	if err != nil {
		t.FailItem(id, err.Error(), false)
		return fmt.Errorf("%s: %w", name, err)
	}
	t.CompleteItem(id, false)
	return nil
}
