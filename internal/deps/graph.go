// Package deps evaluates the dependency graph of a single project. A Graph is
// built from a fresh read of storage for every decision and is never cached.
package deps

import (
	"sort"

	"taskmesh/internal/domain"
)

// Gate selects which side of the dependent task an edge constrains.
type Gate int

const (
	// GateStart applies to finish_to_start and start_to_start edges.
	GateStart Gate = iota
	// GateFinish applies to finish_to_finish and start_to_finish edges.
	GateFinish
)

// Node is the part of a task the resolver reasons about.
type Node struct {
	ID      string
	Status  string
	Started bool
}

// NodeFromTask projects a task onto a graph node.
func NodeFromTask(t domain.Task) Node {
	started := t.StartedAt != nil
	switch t.Status {
	case domain.TaskInProgress, domain.TaskReview, domain.TaskCompleted:
		started = true
	}
	return Node{ID: t.ID, Status: t.Status, Started: started}
}

type Graph struct {
	nodes map[string]Node
	// preds[t] holds the edges where t is the dependent task.
	preds map[string][]domain.Dependency
	// succs[p] holds the edges where p is the predecessor.
	succs map[string][]domain.Dependency
}

// New builds a graph over nodes and edges. Edges whose endpoints are unknown
// are kept; their missing predecessor is treated as unsatisfied.
func New(nodes []Node, edges []domain.Dependency) *Graph {
	g := &Graph{
		nodes: make(map[string]Node, len(nodes)),
		preds: map[string][]domain.Dependency{},
		succs: map[string][]domain.Dependency{},
	}
	for _, n := range nodes {
		g.nodes[n.ID] = n
	}
	for _, e := range edges {
		g.preds[e.TaskID] = append(g.preds[e.TaskID], e)
		g.succs[e.DependsOnTaskID] = append(g.succs[e.DependsOnTaskID], e)
	}
	for _, m := range []map[string][]domain.Dependency{g.preds, g.succs} {
		for k := range m {
			sortEdges(m[k])
		}
	}
	return g
}

func sortEdges(edges []domain.Dependency) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].TaskID != edges[j].TaskID {
			return edges[i].TaskID < edges[j].TaskID
		}
		return edges[i].DependsOnTaskID < edges[j].DependsOnTaskID
	})
}

// EdgeCount returns the number of edges in the graph.
func (g *Graph) EdgeCount() int {
	n := 0
	for _, e := range g.preds {
		n += len(e)
	}
	return n
}

// CyclePath reports whether making taskID depend on dependsOnTaskID would close
// a cycle. When it would, the returned path runs from taskID along existing
// edges to dependsOnTaskID and back to taskID.
func (g *Graph) CyclePath(taskID, dependsOnTaskID string) ([]string, bool) {
	if taskID == dependsOnTaskID {
		return []string{taskID, taskID}, true
	}
	// The new edge orders dependsOnTaskID before taskID. A cycle exists iff
	// taskID already precedes dependsOnTaskID, i.e. it reaches it through
	// successor edges.
	visited := map[string]bool{}
	parent := map[string]string{}
	var dfs func(u string) bool
	dfs = func(u string) bool {
		visited[u] = true
		for _, e := range g.succs[u] {
			v := e.TaskID
			if visited[v] {
				continue
			}
			parent[v] = u
			if v == dependsOnTaskID || dfs(v) {
				return true
			}
		}
		return false
	}
	if !dfs(taskID) {
		return nil, false
	}
	var rev []string
	for cur := dependsOnTaskID; cur != taskID; cur = parent[cur] {
		rev = append(rev, cur)
	}
	path := []string{taskID}
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, rev[i])
	}
	return append(path, taskID), true
}

// GateOf returns which side of the dependent task an edge kind constrains.
func GateOf(kind string) Gate {
	switch kind {
	case domain.FinishToFinish, domain.StartToFinish:
		return GateFinish
	}
	return GateStart
}

// Satisfied evaluates a single edge kind against its predecessor. A cancelled
// predecessor no longer constrains anything.
func Satisfied(kind string, pred Node) bool {
	if pred.Status == domain.TaskCancelled {
		return true
	}
	switch kind {
	case domain.StartToStart, domain.StartToFinish:
		return pred.Started
	default:
		return pred.Status == domain.TaskCompleted
	}
}

// Unsatisfied returns the edges of taskID under gate whose predecessor does
// not yet allow the dependent to proceed.
func (g *Graph) Unsatisfied(taskID string, gate Gate) []domain.Dependency {
	var out []domain.Dependency
	for _, e := range g.preds[taskID] {
		if GateOf(e.Kind) != gate {
			continue
		}
		pred, ok := g.nodes[e.DependsOnTaskID]
		if !ok || !Satisfied(e.Kind, pred) {
			out = append(out, e)
		}
	}
	return out
}

// Unblocked reports whether taskID may pass gate.
func (g *Graph) Unblocked(taskID string, gate Gate) bool {
	return len(g.Unsatisfied(taskID, gate)) == 0
}

// Successors returns the ids of tasks that directly depend on taskID.
func (g *Graph) Successors(taskID string) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range g.succs[taskID] {
		if !seen[e.TaskID] {
			seen[e.TaskID] = true
			out = append(out, e.TaskID)
		}
	}
	return out
}

// GateForBlockedFrom maps the status a dependency-blocked task left to the
// gate that blocked it.
func GateForBlockedFrom(status string) Gate {
	if status == domain.TaskReview {
		return GateFinish
	}
	return GateStart
}
