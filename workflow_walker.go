package main

import (
	"fmt"

	"Scout/pkg/types"
)

// ========================================
// GraphWalker - next-node selection
// ========================================
// Given the node/edge graph, the walker computes the next node to visit.
// Linear nodes follow their single outgoing edge; condition nodes pick the
// true/false handle from the evaluated predicate; loop nodes own their
// iteration counters and alternate between the loop and end handles.

// GraphWalker walks a validated workflow graph.
type GraphWalker struct {
	nodes map[string]Node
	// outgoing edges per source node, keyed by source handle
	// ("" for the unlabeled edge of linear nodes).
	out     map[string]map[string]Edge
	startID string

	// Per-loop-node iteration counters, scoped to the current run. Kept
	// out of the general-purpose variables map so user variables cannot
	// collide with them.
	loopIters map[string]int

	expr *ExprEvaluator
}

// WalkStep is the walker's decision for one advance.
type WalkStep struct {
	NextNodeID string                 // empty means the run is complete
	Vars       map[string]interface{} // variable bindings to apply (foreach item)
}

// NewGraphWalker validates the graph and builds the edge index. Validation
// errors mean the run must never leave Idle.
func NewGraphWalker(nodes []Node, edges []Edge, expr *ExprEvaluator) (*GraphWalker, error) {
	if errs := ValidateGraph(nodes, edges); len(errs) > 0 {
		return nil, errs[0]
	}

	w := &GraphWalker{
		nodes:     make(map[string]Node, len(nodes)),
		out:       make(map[string]map[string]Edge),
		loopIters: make(map[string]int),
		expr:      expr,
	}
	for _, n := range nodes {
		w.nodes[n.ID] = n
		if n.Type == NodeStart {
			w.startID = n.ID
		}
	}
	for _, e := range edges {
		handles := w.out[e.Source]
		if handles == nil {
			handles = make(map[string]Edge)
			w.out[e.Source] = handles
		}
		handles[e.SourceHandle] = e
	}
	return w, nil
}

// Start returns the graph entry node.
func (w *GraphWalker) Start() Node {
	return w.nodes[w.startID]
}

// Node looks up a node by id.
func (w *GraphWalker) Node(id string) (Node, bool) {
	n, ok := w.nodes[id]
	return n, ok
}

// ResetCounters clears all loop iteration state.
func (w *GraphWalker) ResetCounters() {
	w.loopIters = make(map[string]int)
}

// LoopIteration returns the current iteration count of a loop node.
func (w *GraphWalker) LoopIteration(nodeID string) int {
	return w.loopIters[nodeID]
}

// Next computes the node to visit after current. For condition nodes branch
// carries the evaluated predicate; vars is a read-only view of the run
// variables used by loop predicates.
func (w *GraphWalker) Next(current Node, branch *bool, vars map[string]interface{}) (WalkStep, error) {
	switch current.Type {
	case NodeCondition:
		if branch == nil {
			return WalkStep{}, fmt.Errorf("condition node %s advanced without a branch result", current.ID)
		}
		handle := HandleFalse
		if *branch {
			handle = HandleTrue
		}
		// A missing edge for the resolved branch is a dead end, not an
		// error: the run completes at this node.
		if e, ok := w.out[current.ID][handle]; ok {
			return WalkStep{NextNodeID: e.Target}, nil
		}
		return WalkStep{}, nil

	case NodeLoop:
		return w.advanceLoop(current, vars)

	default:
		if e, ok := w.out[current.ID][""]; ok {
			return WalkStep{NextNodeID: e.Target}, nil
		}
		return WalkStep{}, nil
	}
}

// advanceLoop decides between the loop and end handles of a loop node.
// maxIterations is a hard ceiling that forces the end branch even when the
// primary condition would continue.
func (w *GraphWalker) advanceLoop(node Node, vars map[string]interface{}) (WalkStep, error) {
	cfg := node.Config.Loop
	iter := w.loopIters[node.ID]

	ceiling := cfg.MaxIterations
	if ceiling <= 0 {
		ceiling = types.DefaultMaxIterations
	}

	followLoop := false
	var binding map[string]interface{}

	if iter < ceiling {
		switch cfg.Type {
		case "count":
			followLoop = iter < cfg.Count
		case "condition":
			ok, err := w.expr.EvalBool(cfg.Condition, vars)
			if err != nil {
				return WalkStep{}, &DeviceError{NodeID: node.ID, Op: "loop condition", Err: err}
			}
			followLoop = ok
		case "foreach":
			items := foreachItems(vars[cfg.ForEach])
			if iter < len(items) {
				followLoop = true
				binding = map[string]interface{}{
					"item":  items[iter],
					"index": iter,
				}
			}
		}
	}

	if followLoop {
		w.loopIters[node.ID] = iter + 1
		if e, ok := w.out[node.ID][HandleLoop]; ok {
			return WalkStep{NextNodeID: e.Target, Vars: binding}, nil
		}
		// Loop handle not wired: fall through to the end branch.
	}

	// Loop exhausted. Reset the counter so a later re-entry (nested walks)
	// starts fresh.
	w.loopIters[node.ID] = 0
	if e, ok := w.out[node.ID][HandleEnd]; ok {
		return WalkStep{NextNodeID: e.Target}, nil
	}
	return WalkStep{}, nil
}

// foreachItems coerces a variable value into an iterable slice.
func foreachItems(v interface{}) []interface{} {
	switch items := v.(type) {
	case []interface{}:
		return items
	case []string:
		out := make([]interface{}, len(items))
		for i, s := range items {
			out[i] = s
		}
		return out
	case nil:
		return nil
	default:
		return []interface{}{v}
	}
}

// ========================================
// Static graph validation
// ========================================

// ValidateGraph checks the structural invariants of a workflow graph:
// exactly one start node, no dangling edges, handle labels matching the
// source node's kind, at most one edge per handle, and no cycles outside
// loop nodes.
func ValidateGraph(nodes []Node, edges []Edge) []error {
	var errs []error

	byID := make(map[string]Node, len(nodes))
	startCount := 0
	for _, n := range nodes {
		if n.ID == "" {
			errs = append(errs, ValidationError{Message: "node with empty id"})
			continue
		}
		if _, dup := byID[n.ID]; dup {
			errs = append(errs, ValidationError{NodeID: n.ID, Message: "duplicate node id"})
			continue
		}
		byID[n.ID] = n
		if n.Type == NodeStart {
			startCount++
		}
	}
	if startCount == 0 {
		errs = append(errs, ValidationError{Message: "workflow must have a start node"})
	}
	if startCount > 1 {
		errs = append(errs, ValidationError{Message: "workflow can only have one start node"})
	}

	// Edge checks: dangling references, handle labels, handle uniqueness.
	seenHandles := make(map[string]map[string]bool)
	for _, e := range edges {
		src, srcOK := byID[e.Source]
		if !srcOK {
			errs = append(errs, ValidationError{EdgeID: e.ID, Field: "source", Message: fmt.Sprintf("edge references unknown source node %q", e.Source)})
			continue
		}
		if _, ok := byID[e.Target]; !ok {
			errs = append(errs, ValidationError{EdgeID: e.ID, Field: "target", Message: fmt.Sprintf("edge references unknown target node %q", e.Target)})
			continue
		}

		switch src.Type {
		case NodeCondition:
			if e.SourceHandle != HandleTrue && e.SourceHandle != HandleFalse {
				errs = append(errs, ValidationError{EdgeID: e.ID, Field: "sourceHandle", Message: fmt.Sprintf("condition node edge requires a true/false handle, got %q", e.SourceHandle)})
				continue
			}
		case NodeLoop:
			if e.SourceHandle != HandleLoop && e.SourceHandle != HandleEnd {
				errs = append(errs, ValidationError{EdgeID: e.ID, Field: "sourceHandle", Message: fmt.Sprintf("loop node edge requires a loop/end handle, got %q", e.SourceHandle)})
				continue
			}
		default:
			if e.SourceHandle != "" {
				errs = append(errs, ValidationError{EdgeID: e.ID, Field: "sourceHandle", Message: fmt.Sprintf("node %s does not branch, unexpected handle %q", src.ID, e.SourceHandle)})
				continue
			}
		}

		handles := seenHandles[e.Source]
		if handles == nil {
			handles = make(map[string]bool)
			seenHandles[e.Source] = handles
		}
		if handles[e.SourceHandle] {
			errs = append(errs, ValidationError{EdgeID: e.ID, Field: "sourceHandle", Message: fmt.Sprintf("node %s has multiple outgoing edges for handle %q", e.Source, e.SourceHandle)})
			continue
		}
		handles[e.SourceHandle] = true
	}

	if len(errs) > 0 {
		return errs
	}

	// Cycle safety: a cycle is legal only when it passes through a loop
	// node. Drop loop nodes from the adjacency and any remaining cycle is
	// a configuration error.
	adj := make(map[string][]string)
	for _, e := range edges {
		if byID[e.Source].Type == NodeLoop || byID[e.Target].Type == NodeLoop {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int, len(byID))
	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = inStack
		for _, next := range adj[id] {
			switch state[next] {
			case inStack:
				return false
			case unvisited:
				if !visit(next) {
					return false
				}
			}
		}
		state[id] = done
		return true
	}
	for id, n := range byID {
		if n.Type == NodeLoop || state[id] != unvisited {
			continue
		}
		if !visit(id) {
			errs = append(errs, ValidationError{NodeID: id, Message: "graph contains a cycle outside loop nodes"})
			break
		}
	}

	return errs
}
