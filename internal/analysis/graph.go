package analysis

import (
	"context"

	"github.com/rohankatakam/codegraph/internal/graph"
	"github.com/rohankatakam/codegraph/internal/models"
)

// edge is one adjacency entry; to indexes codeGraph.nodes
type edge struct {
	to        int
	rel       models.RelationshipType
	heuristic bool
}

// codeGraph is an arena of entities with integer-indexed adjacency lists.
// Both directions are kept so fan-in and inbound checks are O(degree).
type codeGraph struct {
	nodes []models.CodeEntity
	index map[string]int
	out   [][]edge
	in    [][]edge
}

// newCodeGraph loads a snapshot, keeping only edges whose type is in types.
// An empty types slice keeps every edge. Edge endpoints missing from the
// entity list become placeholder nodes.
func newCodeGraph(ctx context.Context, snap *graph.Snapshot, types []models.RelationshipType) (*codeGraph, error) {
	g := &codeGraph{index: make(map[string]int, len(snap.Entities))}
	for _, e := range snap.Entities {
		g.add(e)
	}

	keep := make(map[models.RelationshipType]bool, len(types))
	for _, t := range types {
		keep[t] = true
	}

	for i, r := range snap.Relationships {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if len(keep) > 0 && !keep[r.RelationshipType] {
			continue
		}
		src := g.node(r.SourceQualifiedName)
		dst := g.node(r.TargetQualifiedName)
		h := r.IsHeuristic()
		g.out[src] = append(g.out[src], edge{to: dst, rel: r.RelationshipType, heuristic: h})
		g.in[dst] = append(g.in[dst], edge{to: src, rel: r.RelationshipType, heuristic: h})
	}
	return g, nil
}

func (g *codeGraph) add(e models.CodeEntity) int {
	if i, ok := g.index[e.QualifiedName]; ok {
		return i
	}
	i := len(g.nodes)
	g.nodes = append(g.nodes, e)
	g.index[e.QualifiedName] = i
	g.out = append(g.out, nil)
	g.in = append(g.in, nil)
	return i
}

func (g *codeGraph) node(qn string) int {
	if i, ok := g.index[qn]; ok {
		return i
	}
	return g.add(models.CodeEntity{QualifiedName: qn, Name: qn, EntityType: models.EntityUnknown})
}

func (g *codeGraph) degree(v int) int {
	return len(g.in[v]) + len(g.out[v])
}

// stronglyConnected returns the components of size > 1 using an iterative
// Tarjan. Self-loops alone never form a component.
func (g *codeGraph) stronglyConnected(ctx context.Context) ([][]int, error) {
	const unvisited = -1

	n := len(g.nodes)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = unvisited
	}

	type frame struct{ v, next int }
	var (
		counter    int
		stack      []int
		callStack  []frame
		components [][]int
	)

	for root := 0; root < n; root++ {
		if index[root] != unvisited {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		index[root], low[root] = counter, counter
		counter++
		stack = append(stack, root)
		onStack[root] = true
		callStack = append(callStack, frame{v: root})

		for len(callStack) > 0 {
			top := &callStack[len(callStack)-1]
			v := top.v

			if top.next < len(g.out[v]) {
				w := g.out[v][top.next].to
				top.next++
				switch {
				case index[w] == unvisited:
					index[w], low[w] = counter, counter
					counter++
					stack = append(stack, w)
					onStack[w] = true
					callStack = append(callStack, frame{v: w})
				case onStack[w]:
					low[v] = min(low[v], index[w])
				}
				continue
			}

			// v is finished
			callStack = callStack[:len(callStack)-1]
			if len(callStack) > 0 {
				parent := callStack[len(callStack)-1].v
				low[parent] = min(low[parent], low[v])
			}
			if low[v] != index[v] {
				continue
			}

			var comp []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			if len(comp) > 1 {
				components = append(components, comp)
			}
		}
	}
	return components, nil
}

// shortestCycle finds a shortest closed path through start that stays inside
// members, by BFS. The returned path starts and ends with start.
func (g *codeGraph) shortestCycle(start int, members map[int]bool) []int {
	prev := map[int]int{start: -1}
	queue := []int{start}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, e := range g.out[v] {
			if !members[e.to] {
				continue
			}
			if e.to == start {
				path := []int{start}
				for u := v; u != -1; u = prev[u] {
					path = append(path, u)
				}
				// reverse into forward order
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			if _, seen := prev[e.to]; !seen {
				prev[e.to] = v
				queue = append(queue, e.to)
			}
		}
	}
	return nil
}
