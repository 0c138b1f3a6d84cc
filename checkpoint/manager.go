package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/wrenchchatrepo/wrenchai-sub000/state"
)

// ErrNotFound is returned when a checkpoint id is unknown both in memory
// and on disk.
var ErrNotFound = errors.New("checkpoint not found")

// LoadError wraps a corrupt or unreadable checkpoint file. Load paths
// surface it instead of crashing so callers can fall back to an earlier
// checkpoint.
type LoadError struct {
	ID    string
	Path  string
	Cause error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load checkpoint %s from %s: %v", e.ID, e.Path, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

// Manager creates, restores, and indexes checkpoints of a state store.
//
// The in-memory index is guarded by one lock; disk I/O runs outside it.
// Each checkpoint is persisted as <dir>/<id>.json. Disk errors on create
// are returned to the caller; on delete they are logged and returned.
type Manager struct {
	store *state.Store

	mu          sync.Mutex
	checkpoints map[string]*Checkpoint
	lastAuto    map[string]time.Time

	dir          string
	autoInterval time.Duration
	now          func() time.Time
	logger       hclog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithDir sets the persistence directory. An empty dir disables disk
// persistence.
func WithDir(dir string) Option {
	return func(m *Manager) { m.dir = dir }
}

// WithAutoInterval sets the minimum spacing between automatic checkpoints
// per workflow. Zero disables auto checkpoints.
func WithAutoInterval(d time.Duration) Option {
	return func(m *Manager) { m.autoInterval = d }
}

// WithLogger sets the manager's logger.
func WithLogger(l hclog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// DefaultAutoInterval is the default spacing for automatic checkpoints.
const DefaultAutoInterval = 5 * time.Minute

// NewManager creates a Manager over the given state store.
func NewManager(store *state.Store, opts ...Option) *Manager {
	m := &Manager{
		store:        store,
		checkpoints:  make(map[string]*Checkpoint),
		lastAuto:     make(map[string]time.Time),
		autoInterval: DefaultAutoInterval,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = hclog.New(&hclog.LoggerOptions{Name: "checkpoint"})
	}
	return m
}

// Create snapshots the state store and registers (and persists) a new
// checkpoint. Disk errors are returned; the in-memory copy is kept either
// way so rollback within the process still works.
func (m *Manager) Create(workflowID, stepID string, kind Kind, metadata map[string]any) (*Checkpoint, error) {
	now := m.now()
	cp := &Checkpoint{
		ID:         fmt.Sprintf("%s_%s_%s", workflowID, stepID, uuid.NewString()),
		WorkflowID: workflowID,
		StepID:     stepID,
		Kind:       kind,
		Timestamp:  now,
		State:      m.store.ExportValues(),
		Metadata:   metadata,
	}
	if cp.Metadata == nil {
		cp.Metadata = map[string]any{}
	}

	m.mu.Lock()
	m.checkpoints[cp.ID] = cp
	if kind == KindAuto {
		m.lastAuto[workflowID] = now
	}
	m.mu.Unlock()

	if err := m.persist(cp); err != nil {
		return cp, err
	}
	return cp, nil
}

// Restore loads the identified checkpoint and writes its snapshot back into
// the state store. Each variable present in the snapshot has its value
// replaced; variables missing from the live store are created with workflow
// scope. Variables absent from the snapshot are left untouched.
func (m *Manager) Restore(id string) error {
	cp, err := m.Get(id)
	if err != nil {
		return err
	}
	for name, value := range cp.State {
		if err := m.store.SetValue(name, value, state.SystemRequestor); err != nil {
			var nf *state.NotFoundError
			if errors.As(err, &nf) {
				if _, cerr := m.store.Create(state.Spec{Name: name, Value: value, Scope: state.ScopeWorkflow}); cerr != nil {
					m.logger.Warn("restore could not recreate variable", "variable", name, "error", cerr)
				}
				continue
			}
			m.logger.Warn("restore could not set variable", "variable", name, "error", err)
		}
	}
	m.logger.Info("restored checkpoint", "checkpoint_id", id, "workflow_id", cp.WorkflowID, "step_id", cp.StepID)
	return nil
}

// Get returns a checkpoint by id, falling back to disk when the in-memory
// index does not have it.
func (m *Manager) Get(id string) (*Checkpoint, error) {
	m.mu.Lock()
	cp, ok := m.checkpoints[id]
	m.mu.Unlock()
	if ok {
		return cp, nil
	}
	return m.loadFromDisk(id)
}

// Latest returns the most recent checkpoint for a workflow, optionally
// filtered by kind (empty matches all) and excluding checkpoints taken at
// beforeStep. It returns ErrNotFound when nothing matches.
func (m *Manager) Latest(workflowID string, kind Kind, beforeStep string) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Checkpoint
	for _, cp := range m.checkpoints {
		if cp.WorkflowID != workflowID {
			continue
		}
		if kind != "" && cp.Kind != kind {
			continue
		}
		if beforeStep != "" && cp.StepID == beforeStep {
			continue
		}
		if best == nil || cp.Timestamp.After(best.Timestamp) {
			best = cp
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}

// CheckAuto creates an automatic checkpoint when the configured interval
// has elapsed since the last one for this workflow. It returns the created
// checkpoint, or nil when no checkpoint was due.
func (m *Manager) CheckAuto(workflowID, stepID string) (*Checkpoint, error) {
	if m.autoInterval <= 0 {
		return nil, nil
	}
	m.mu.Lock()
	last, ok := m.lastAuto[workflowID]
	due := !ok || m.now().Sub(last) >= m.autoInterval
	m.mu.Unlock()
	if !due {
		return nil, nil
	}
	return m.Create(workflowID, stepID, KindAuto, map[string]any{"reason": "auto_interval"})
}

// Delete removes a checkpoint from memory and disk.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	delete(m.checkpoints, id)
	m.mu.Unlock()
	if m.dir == "" {
		return nil
	}
	path := filepath.Join(m.dir, id+".json")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		m.logger.Error("delete checkpoint file", "path", path, "error", err)
		return err
	}
	return nil
}

// List returns the checkpoints for a workflow ordered oldest first. An
// empty workflowID matches everything.
func (m *Manager) List(workflowID string) []*Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Checkpoint
	for _, cp := range m.checkpoints {
		if workflowID == "" || cp.WorkflowID == workflowID {
			out = append(out, cp)
		}
	}
	sortByTimestamp(out)
	return out
}

func sortByTimestamp(cps []*Checkpoint) {
	for i := 1; i < len(cps); i++ {
		for j := i; j > 0 && cps[j].Timestamp.Before(cps[j-1].Timestamp); j-- {
			cps[j], cps[j-1] = cps[j-1], cps[j]
		}
	}
}

func (m *Manager) persist(cp *Checkpoint) error {
	if m.dir == "" {
		return nil
	}
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", cp.ID, err)
	}
	path := filepath.Join(m.dir, cp.ID+".json")
	tmp, err := os.CreateTemp(m.dir, ".cp*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (m *Manager) loadFromDisk(id string) (*Checkpoint, error) {
	if m.dir == "" {
		return nil, ErrNotFound
	}
	path := filepath.Join(m.dir, id+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, &LoadError{ID: id, Path: path, Cause: err}
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, &LoadError{ID: id, Path: path, Cause: err}
	}
	m.mu.Lock()
	m.checkpoints[cp.ID] = &cp
	m.mu.Unlock()
	return &cp, nil
}
