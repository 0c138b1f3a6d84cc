package progress

import (
	"time"
)

// tree is the arena of progress items plus the set of root ids. It is not
// safe for concurrent use on its own; the Tracker's mutex guards it.
type tree struct {
	items map[string]*Item
	roots map[string]struct{}
}

func newTree() *tree {
	return &tree{
		items: make(map[string]*Item),
		roots: make(map[string]struct{}),
	}
}

func (t *tree) add(item *Item) {
	t.items[item.ID] = item
	if item.ParentID != "" {
		if parent, ok := t.items[item.ParentID]; ok {
			parent.addChild(item.ID)
			return
		}
	}
	t.roots[item.ID] = struct{}{}
}

func (t *tree) get(id string) (*Item, bool) {
	it, ok := t.items[id]
	return it, ok
}

func (t *tree) children(id string) []*Item {
	parent, ok := t.items[id]
	if !ok {
		return nil
	}
	out := make([]*Item, 0, len(parent.ChildIDs))
	for childID := range parent.ChildIDs {
		if child, ok := t.items[childID]; ok {
			out = append(out, child)
		}
	}
	return out
}

// rollup recomputes each ancestor's percent as the weight-normalized
// average of its children, walking ids up to the root.
func (t *tree) rollup(parentID string, now time.Time) {
	for parentID != "" {
		parent, ok := t.items[parentID]
		if !ok {
			return
		}
		children := t.children(parentID)
		if len(children) == 0 {
			return
		}
		var totalWeight, weighted float64
		for _, child := range children {
			totalWeight += child.Weight
			weighted += child.PercentComplete / 100 * child.Weight
		}
		if totalWeight > 0 {
			parent.update(parent.TotalWork*(weighted/totalWeight), now)
		}
		parentID = parent.ParentID
	}
}

// markStatus applies a status transition to an item, optionally cascading
// to its descendants, then rolls ancestors up.
func (t *tree) markStatus(id string, status Status, cascade bool, now time.Time) bool {
	item, ok := t.items[id]
	if !ok {
		return false
	}
	switch status {
	case StatusInProgress:
		if item.StartedAt == nil {
			item.start(now)
		} else {
			item.resume(now)
		}
	case StatusCompleted:
		item.complete(now)
	case StatusFailed:
		item.fail(item.ErrorMessage, now)
	case StatusPaused:
		item.pause(now)
	case StatusSkipped:
		item.skip(now)
	default:
		item.Status = status
		item.touch(now)
	}
	if cascade {
		for childID := range item.ChildIDs {
			t.markStatus(childID, status, true, now)
		}
	}
	t.rollup(item.ParentID, now)
	return true
}

// remove deletes an item (and, when cascade is set, its descendants).
func (t *tree) remove(id string, cascade bool) bool {
	item, ok := t.items[id]
	if !ok {
		return false
	}
	if item.ParentID != "" {
		if parent, ok := t.items[item.ParentID]; ok {
			parent.removeChild(id)
		}
	} else {
		delete(t.roots, id)
	}
	if cascade {
		for childID := range item.ChildIDs {
			t.remove(childID, true)
		}
	}
	delete(t.items, id)
	return true
}

// rootWorkflow walks up from id and returns the id of the outermost
// workflow ancestor (or id itself when no ancestor is a workflow).
func (t *tree) rootWorkflow(id string) string {
	workflowID := id
	current, ok := t.items[id]
	if !ok {
		return id
	}
	for current.ParentID != "" {
		parent, ok := t.items[current.ParentID]
		if !ok {
			break
		}
		if parent.Type == ItemWorkflow {
			workflowID = parent.ID
		}
		current = parent
	}
	return workflowID
}

// Summary is an aggregate view over the whole tree.
type Summary struct {
	OverallProgress     float64    `json:"overall_progress"`
	TotalItems          int        `json:"total_items"`
	RootItems           int        `json:"root_items"`
	ActiveItems         int        `json:"active_items"`
	CompletedItems      int        `json:"completed_items"`
	FailedItems         int        `json:"failed_items"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

func (t *tree) summary() Summary {
	s := Summary{TotalItems: len(t.items), RootItems: len(t.roots)}
	var totalWeight, weighted float64
	var latestETA *time.Time
	for rootID := range t.roots {
		root, ok := t.items[rootID]
		if !ok {
			continue
		}
		totalWeight += root.Weight
		weighted += root.PercentComplete / 100 * root.Weight
		if root.Status == StatusInProgress && root.EstimatedCompletionTime != nil {
			if latestETA == nil || root.EstimatedCompletionTime.After(*latestETA) {
				latestETA = root.EstimatedCompletionTime
			}
		}
	}
	if totalWeight > 0 {
		s.OverallProgress = weighted / totalWeight * 100
	}
	for _, item := range t.items {
		switch item.Status {
		case StatusInProgress:
			s.ActiveItems++
		case StatusCompleted:
			s.CompletedItems++
		case StatusFailed:
			s.FailedItems++
		}
	}
	s.EstimatedCompletion = latestETA
	return s
}

// Node is one entry of a rendered item tree.
type Node struct {
	Item     Item   `json:"item"`
	Children []Node `json:"children"`
}

func (t *tree) render(id string) (Node, bool) {
	item, ok := t.items[id]
	if !ok {
		return Node{}, false
	}
	node := Node{Item: *item}
	for childID := range item.ChildIDs {
		if child, ok := t.render(childID); ok {
			node.Children = append(node.Children, child)
		}
	}
	return node, true
}

func (t *tree) renderRoots() []Node {
	var out []Node
	for rootID := range t.roots {
		if node, ok := t.render(rootID); ok {
			out = append(out, node)
		}
	}
	return out
}
