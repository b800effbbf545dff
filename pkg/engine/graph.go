package engine

import "fmt"

// DoneNode is the default terminal pseudo-node name. A transition
// targeting it completes the run.
const DoneNode = "_done"

// Graph is a fixed set of named nodes plus a typed routing table.
// Nodes and edges are immutable after construction; all conditional
// behavior lives in compiled edge expressions evaluated against the
// environment projected from run state.
type Graph[S, D any] struct {
	name      string
	nodes     []*Node[S, D]
	nodeIndex map[string]*Node[S, D]
	edgeIndex map[string][]*edge // from-node -> edges in definition order
	env       EnvFunc[S]
	done      string
}

// GraphOption configures a Graph during construction.
type GraphOption[S, D any] func(*Graph[S, D])

// WithDoneNode overrides the terminal pseudo-node name.
func WithDoneNode[S, D any](name string) GraphOption[S, D] {
	return func(g *Graph[S, D]) {
		g.done = name
	}
}

// NewGraph validates and compiles the topology: node names must be
// unique and non-empty, every node needs at least one step, and every
// edge must reference known endpoints and carry a compilable condition.
func NewGraph[S, D any](name string, nodes []*Node[S, D], edges []EdgeDef, env EnvFunc[S], opts ...GraphOption[S, D]) (*Graph[S, D], error) {
	g := &Graph[S, D]{
		name:      name,
		nodes:     nodes,
		nodeIndex: make(map[string]*Node[S, D], len(nodes)),
		edgeIndex: make(map[string][]*edge),
		env:       env,
		done:      DoneNode,
	}
	for _, opt := range opts {
		opt(g)
	}
	if env == nil {
		g.env = func(S) map[string]any { return map[string]any{} }
	}

	for _, n := range nodes {
		if n.Name == "" {
			return nil, fmt.Errorf("%w: node with empty name", ErrNodeNotFound)
		}
		if len(n.Steps) == 0 {
			return nil, fmt.Errorf("engine: node %q has no steps", n.Name)
		}
		if _, dup := g.nodeIndex[n.Name]; dup {
			return nil, fmt.Errorf("engine: duplicate node %q", n.Name)
		}
		g.nodeIndex[n.Name] = n
	}

	for _, def := range edges {
		if _, ok := g.nodeIndex[def.From]; !ok {
			return nil, fmt.Errorf("%w: edge %s references source %q", ErrNodeNotFound, def.ID, def.From)
		}
		if def.To != g.done {
			if _, ok := g.nodeIndex[def.To]; !ok {
				return nil, fmt.Errorf("%w: edge %s references target %q", ErrNodeNotFound, def.ID, def.To)
			}
		}
		compiled, err := compileEdge(def)
		if err != nil {
			return nil, err
		}
		g.edgeIndex[def.From] = append(g.edgeIndex[def.From], compiled)
	}

	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}

	return g, nil
}

// checkAcyclic verifies that every cycle in the topology passes through
// an edge declared Loop. Undeclared cycles are almost always a wiring
// mistake that would otherwise surface as ErrMaxVisits at run time.
func (g *Graph[S, D]) checkAcyclic() error {
	const (
		unvisited = 0
		inStack   = 1
		finished  = 2
	)
	color := make(map[string]int, len(g.nodes))

	var visit func(name string) error
	visit = func(name string) error {
		color[name] = inStack
		for _, e := range g.edgeIndex[name] {
			if e.def.Loop || e.def.To == g.done {
				continue
			}
			switch color[e.def.To] {
			case inStack:
				return fmt.Errorf("%w: edge %s closes an undeclared cycle to %q", ErrBadEdge, e.def.ID, e.def.To)
			case unvisited:
				if err := visit(e.def.To); err != nil {
					return err
				}
			}
		}
		color[name] = finished
		return nil
	}

	for _, n := range g.nodes {
		if color[n.Name] == unvisited {
			if err := visit(n.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (g *Graph[S, D]) Name() string { return g.name }

// NodeByName looks up a node.
func (g *Graph[S, D]) NodeByName(name string) (*Node[S, D], bool) {
	n, ok := g.nodeIndex[name]
	return n, ok
}

// EdgeIDsFrom returns the routing table row for a node, in definition order.
func (g *Graph[S, D]) EdgeIDsFrom(name string) []string {
	rows := g.edgeIndex[name]
	ids := make([]string, len(rows))
	for i, e := range rows {
		ids[i] = e.def.ID
	}
	return ids
}

// route evaluates edges from the node in definition order against the
// projected environment and returns the first match.
func (g *Graph[S, D]) route(node string, state S, obs Observer) (*edge, error) {
	env := g.env(state)
	for _, e := range g.edgeIndex[node] {
		emit(obs, Event{Type: EventEdgeEvaluate, Node: node, Edge: e.def.ID})
		matched, err := e.evaluate(env)
		if err != nil {
			return nil, err
		}
		if matched {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: node %q", ErrNoRoute, node)
}
