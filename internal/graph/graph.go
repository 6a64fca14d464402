// Package graph implements the Workflow Graph: a mutable DAG of nodes
// whose edges mean "predecessor must COMPLETE before successor becomes
// READY", per spec.md §4.5. Acyclicity is enforced on every edge
// insertion and node state transitions are monotonic except through
// INPUT_REQUIRED.
package graph

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Node states. These are the graph's own names and differ from the
// lower-case task states used on the wire (internal/a2a/types); the Runner
// sets them from the event types it receives rather than by translating
// state strings.
const (
	StatePending        = "PENDING"
	StateReady          = "READY"
	StateRunning        = "RUNNING"
	StateInputRequired  = "INPUT_REQUIRED"
	StateCompleted      = "COMPLETED"
	StateFailed         = "FAILED"
	StateCancelled      = "CANCELLED"
)

// validTransitions enumerates the monotonic state machine, per spec.md
// §4.5's invariant: "state transitions monotonic except through
// INPUT_REQUIRED" — a node may cycle between RUNNING and INPUT_REQUIRED
// indefinitely, but can never move backward to PENDING/READY/RUNNING from
// a terminal state.
var validTransitions = map[string][]string{
	StatePending:       {StateReady, StateCancelled},
	StateReady:         {StateRunning, StateCancelled},
	StateRunning:       {StateInputRequired, StateCompleted, StateFailed, StateCancelled},
	StateInputRequired: {StateRunning, StateCancelled},
	StateCompleted:     {},
	StateFailed:        {},
	StateCancelled:     {},
}

// Node is one unit of work in the graph.
type Node struct {
	ID       string
	Label    string
	Metadata map[string]any

	mu           sync.RWMutex
	state        string
	predecessors map[string]struct{}
	successors   map[string]struct{}
	result       any
	err          error
}

// State returns the node's current state.
func (n *Node) State() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.state
}

// Result returns the node's recorded result and error, if terminal.
func (n *Node) Result() (any, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.result, n.err
}

// SetResult records a node's outcome. Callers transition state separately
// via Graph.Transition.
func (n *Node) SetResult(result any, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.result = result
	n.err = err
}

// Predecessors returns a snapshot of predecessor node IDs.
func (n *Node) Predecessors() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.predecessors))
	for id := range n.predecessors {
		out = append(out, id)
	}
	return out
}

// Successors returns a snapshot of successor node IDs.
func (n *Node) Successors() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]string, 0, len(n.successors))
	for id := range n.successors {
		out = append(out, id)
	}
	return out
}

// Graph is a mutable DAG owned by exactly one session for its lifetime,
// per spec.md §3's ownership rule.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

// New constructs an empty Graph.
func New() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// AddNode inserts a new node in PENDING state and returns its generated ID.
func (g *Graph) AddNode(label string, metadata map[string]any) string {
	id := uuid.NewString()
	n := &Node{
		ID:           id,
		Label:        label,
		Metadata:     metadata,
		state:        StatePending,
		predecessors: make(map[string]struct{}),
		successors:   make(map[string]struct{}),
	}

	g.mu.Lock()
	g.nodes[id] = n
	g.mu.Unlock()
	return id
}

// AddEdge records that predID must COMPLETE before succID becomes READY.
// It rejects the insertion if it would introduce a cycle, detected by DFS
// from succID looking for predID, per spec.md §4.5.
func (g *Graph) AddEdge(predID, succID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	pred, ok := g.nodes[predID]
	if !ok {
		return fmt.Errorf("graph: unknown predecessor node %q", predID)
	}
	succ, ok := g.nodes[succID]
	if !ok {
		return fmt.Errorf("graph: unknown successor node %q", succID)
	}
	if predID == succID {
		return fmt.Errorf("graph: self-edge on node %q would introduce a cycle", predID)
	}
	if g.reachableLocked(succID, predID) {
		return fmt.Errorf("graph: edge %s -> %s would introduce a cycle", predID, succID)
	}

	pred.mu.Lock()
	pred.successors[succID] = struct{}{}
	pred.mu.Unlock()

	succ.mu.Lock()
	succ.predecessors[predID] = struct{}{}
	succ.mu.Unlock()
	return nil
}

// reachableLocked reports whether target is reachable from start by
// following successor edges (a DFS); AddEdge uses it to reject pred->succ
// when succ already reaches pred. Caller must hold g.mu.
func (g *Graph) reachableLocked(start, target string) bool {
	visited := make(map[string]struct{})
	var dfs func(id string) bool
	dfs = func(id string) bool {
		if id == target {
			return true
		}
		if _, seen := visited[id]; seen {
			return false
		}
		visited[id] = struct{}{}
		n, ok := g.nodes[id]
		if !ok {
			return false
		}
		n.mu.RLock()
		succs := make([]string, 0, len(n.successors))
		for s := range n.successors {
			succs = append(succs, s)
		}
		n.mu.RUnlock()
		for _, s := range succs {
			if dfs(s) {
				return true
			}
		}
		return false
	}
	return dfs(start)
}

// RemoveNode deletes a node and any edges referencing it, so no dangling
// edge survives, per spec.md §4.5's invariant.
func (g *Graph) RemoveNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.nodes[id]
	if !ok {
		return
	}
	n.mu.RLock()
	preds := make([]string, 0, len(n.predecessors))
	for p := range n.predecessors {
		preds = append(preds, p)
	}
	succs := make([]string, 0, len(n.successors))
	for s := range n.successors {
		succs = append(succs, s)
	}
	n.mu.RUnlock()

	for _, p := range preds {
		if pn, ok := g.nodes[p]; ok {
			pn.mu.Lock()
			delete(pn.successors, id)
			pn.mu.Unlock()
		}
	}
	for _, s := range succs {
		if sn, ok := g.nodes[s]; ok {
			sn.mu.Lock()
			delete(sn.predecessors, id)
			sn.mu.Unlock()
		}
	}
	delete(g.nodes, id)
}

// Node returns the node with the given ID, if present.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Transition validates and applies a state change, enforcing the
// monotonic state machine of spec.md §4.5.
func (g *Graph) Transition(id string, newState string) error {
	g.mu.RLock()
	n, ok := g.nodes[id]
	g.mu.RUnlock()
	if !ok {
		return fmt.Errorf("graph: unknown node %q", id)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	allowed := validTransitions[n.state]
	permitted := false
	for _, s := range allowed {
		if s == newState {
			permitted = true
			break
		}
	}
	if !permitted {
		return fmt.Errorf("graph: invalid transition %s -> %s for node %q", n.state, newState, id)
	}
	n.state = newState
	return nil
}

// allPredecessorsCompleted reports whether every predecessor of id is in
// COMPLETED state. Caller must not hold g.mu.
func (g *Graph) allPredecessorsCompleted(n *Node) bool {
	for _, predID := range n.Predecessors() {
		pred, ok := g.Node(predID)
		if !ok || pred.State() != StateCompleted {
			return false
		}
	}
	return true
}

// GetReadyNodes returns nodes in PENDING or READY state whose predecessors
// have all COMPLETED, per spec.md §4.5.
func (g *Graph) GetReadyNodes() []*Node {
	g.mu.RLock()
	candidates := make([]*Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		st := n.State()
		if st == StatePending || st == StateReady {
			candidates = append(candidates, n)
		}
	}
	g.mu.RUnlock()

	ready := make([]*Node, 0, len(candidates))
	for _, n := range candidates {
		if g.allPredecessorsCompleted(n) {
			ready = append(ready, n)
		}
	}
	return ready
}

// GetExecutionPlan computes BFS execution levels: nodes at distance k from
// the sources (nodes with no predecessors) that have no outstanding
// dependency once level k-1 completes, per spec.md §4.5.
func (g *Graph) GetExecutionPlan() [][]string {
	g.mu.RLock()
	remaining := make(map[string]*Node, len(g.nodes))
	for id, n := range g.nodes {
		remaining[id] = n
	}
	g.mu.RUnlock()

	var levels [][]string
	satisfied := make(map[string]struct{})

	for len(remaining) > 0 {
		level := make([]string, 0)
		for id, n := range remaining {
			ready := true
			for _, predID := range n.Predecessors() {
				if _, ok := satisfied[predID]; !ok {
					if _, stillRemaining := remaining[predID]; stillRemaining {
						ready = false
						break
					}
				}
			}
			if ready {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			// Remaining nodes form a cycle (should be unreachable given
			// AddEdge's cycle rejection) or reference a removed node;
			// stop rather than loop forever.
			break
		}
		for _, id := range level {
			satisfied[id] = struct{}{}
			delete(remaining, id)
		}
		levels = append(levels, level)
	}
	return levels
}

// Snapshot is a serializable summary of graph state, per spec.md §4.5's
// snapshot() operation.
type Snapshot struct {
	TotalNodes int            `json:"total_nodes"`
	ByState    map[string]int `json:"by_state"`
}

// Snapshot returns a point-in-time summary of node counts by state.
func (g *Graph) Snapshot() Snapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()

	byState := make(map[string]int)
	for _, n := range g.nodes {
		byState[n.State()]++
	}
	return Snapshot{TotalNodes: len(g.nodes), ByState: byState}
}
