package progress

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// checkpointVersion tags the progress checkpoint file format.
const checkpointVersion = "1.0"

type checkpointFile struct {
	Version   string          `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	State     checkpointState `json:"state"`
	Estimator estimatorState  `json:"estimator"`
}

type checkpointState struct {
	Items   map[string]*Item `json:"items"`
	RootIDs []string         `json:"root_ids"`
}

// checkpointLoop serializes the tracker on the configured interval until
// shutdown.
func (t *Tracker) checkpointLoop() {
	defer t.done.Done()
	ticker := time.NewTicker(t.checkpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.shutdown:
			return
		case <-ticker.C:
			if err := t.SaveCheckpoint(); err != nil {
				t.logger.Error("progress checkpoint failed", "error", err)
			}
		}
	}
}

// SaveCheckpoint writes the whole tracker (items, roots, estimator state)
// to a timestamped file in the persistence directory.
func (t *Tracker) SaveCheckpoint() error {
	if t.dir == "" {
		return nil
	}
	t.mu.Lock()
	file := checkpointFile{
		Version:   checkpointVersion,
		Timestamp: t.now().UTC(),
		State: checkpointState{
			Items:   make(map[string]*Item, len(t.tree.items)),
			RootIDs: make([]string, 0, len(t.tree.roots)),
		},
		Estimator: t.estimator.snapshot(),
	}
	for id, item := range t.tree.items {
		cp := *item
		cp.ChildIDs = make(map[string]struct{}, len(item.ChildIDs))
		for child := range item.ChildIDs {
			cp.ChildIDs[child] = struct{}{}
		}
		file.State.Items[id] = &cp
	}
	for id := range t.tree.roots {
		file.State.RootIDs = append(file.State.RootIDs, id)
	}
	t.mu.Unlock()

	if err := os.MkdirAll(t.dir, 0o755); err != nil {
		return fmt.Errorf("create progress dir: %w", err)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress checkpoint: %w", err)
	}
	name := fmt.Sprintf("progress_checkpoint_%d.json", file.Timestamp.UnixNano())
	path := filepath.Join(t.dir, name)
	tmp, err := os.CreateTemp(t.dir, ".progress*.tmp")
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

// LoadCheckpoint restores the tracker from the most recent checkpoint file
// in the persistence directory. Corrupt files are logged and skipped in
// favor of the next most recent one.
func (t *Tracker) LoadCheckpoint() error {
	if t.dir == "" {
		return fmt.Errorf("no persistence directory configured")
	}
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return fmt.Errorf("read progress dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), "progress_checkpoint_") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("no progress checkpoints in %s", t.dir)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		path := filepath.Join(t.dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			t.logger.Warn("unreadable progress checkpoint", "path", path, "error", err)
			continue
		}
		var file checkpointFile
		if err := json.Unmarshal(data, &file); err != nil {
			t.logger.Warn("corrupt progress checkpoint skipped", "path", path, "error", err)
			continue
		}
		t.mu.Lock()
		t.tree = newTree()
		for id, item := range file.State.Items {
			if item.ChildIDs == nil {
				item.ChildIDs = make(map[string]struct{})
			}
			t.tree.items[id] = item
		}
		for _, id := range file.State.RootIDs {
			t.tree.roots[id] = struct{}{}
		}
		t.estimator.restore(file.Estimator)
		t.mu.Unlock()
		t.logger.Info("progress checkpoint restored", "path", path)
		return nil
	}
	return fmt.Errorf("all progress checkpoints in %s were unreadable", t.dir)
}
