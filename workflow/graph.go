// Package workflow executes directed graphs of work units under the
// runtime's recovery, retry, progress, and logging subsystems.
package workflow

import (
	"context"
	"fmt"

	"github.com/wrenchchatrepo/wrenchai-sub000/state"
)

// RunContext is handed to every node: the workflow-scoped state store and
// the outputs of previously executed nodes, keyed by node id.
type RunContext struct {
	WorkflowID string
	State      *state.Store
	Outputs    map[string]any
	// Params carries per-run parameters (from the execution request).
	Params map[string]any
}

// NodeFunc is a node body: it receives the run context and produces this
// node's output.
type NodeFunc func(ctx context.Context, rc *RunContext) (any, error)

// Node is one executable unit in the graph.
type Node struct {
	// ID uniquely names the node within the graph.
	ID string
	// Run executes the node.
	Run NodeFunc
	// Fallback produces the conservative default output substituted when
	// recovery decides to skip this node, keeping downstream nodes
	// executable. Nil means the skip output is nil.
	Fallback func() any
}

// Predicate guards an edge using the source node's output.
type Predicate func(output any) bool

// Edge connects two nodes, optionally guarded by a predicate over the
// source node's output. A nil When is unconditional.
type Edge struct {
	From string
	To   string
	When Predicate
}

// Graph is a directed graph of nodes. Build one with NewGraph, AddNode,
// and AddEdge, then hand it to an Engine.
type Graph struct {
	nodes map[string]*Node
	edges map[string][]Edge
	entry string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[string][]Edge),
	}
}

// AddNode registers a node. The first node added becomes the entry unless
// SetEntry overrides it.
func (g *Graph) AddNode(node *Node) error {
	if node.ID == "" {
		return fmt.Errorf("node has no id")
	}
	if _, ok := g.nodes[node.ID]; ok {
		return fmt.Errorf("node %q already registered", node.ID)
	}
	g.nodes[node.ID] = node
	if g.entry == "" {
		g.entry = node.ID
	}
	return nil
}

// AddEdge connects from -> to with an optional predicate.
func (g *Graph) AddEdge(from, to string, when Predicate) error {
	if _, ok := g.nodes[from]; !ok {
		return fmt.Errorf("edge source %q not registered", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return fmt.Errorf("edge target %q not registered", to)
	}
	g.edges[from] = append(g.edges[from], Edge{From: from, To: to, When: when})
	return nil
}

// SetEntry overrides the entry node.
func (g *Graph) SetEntry(id string) error {
	if _, ok := g.nodes[id]; !ok {
		return fmt.Errorf("entry node %q not registered", id)
	}
	g.entry = id
	return nil
}

// successors returns the targets of edges from the node whose predicates
// accept output, preserving insertion order.
func (g *Graph) successors(id string, output any) []string {
	var out []string
	for _, edge := range g.edges[id] {
		if edge.When == nil || edge.When(output) {
			out = append(out, edge.To)
		}
	}
	return out
}

// Mermaid renders the graph as a Mermaid flowchart, for diagnostics.
func (g *Graph) Mermaid() string {
	out := "graph TD\n"
	for from, edges := range g.edges {
		for _, edge := range edges {
			label := ""
			if edge.When != nil {
				label = "|guarded|"
			}
			out += fmt.Sprintf("    %s -->%s %s\n", from, label, edge.To)
		}
	}
	return out
}
