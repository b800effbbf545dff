package engine

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// EdgeDef declares a transition in the routing table. When is an
// expr-lang boolean expression evaluated against the environment
// projected from run state; an empty When always matches. Edges from a
// node are evaluated in definition order and the first match wins, so
// an unconditional edge acts as the fallthrough when listed last.
type EdgeDef struct {
	ID   string
	From string
	To   string
	When string
	// Loop declares that this edge intentionally closes a cycle.
	// Graph construction rejects cycles formed by undeclared edges.
	Loop bool
}

// edge is a compiled EdgeDef. Compilation happens once at graph build;
// evaluation is a pure function of the projected environment.
type edge struct {
	def  EdgeDef
	prog *vm.Program
}

// EnvFunc projects run state into the expression environment. It must
// be side-effect free and deterministic: the same state must produce
// an equivalent environment, or replays stop being reproducible.
type EnvFunc[S any] func(S) map[string]any

func compileEdge(def EdgeDef) (*edge, error) {
	e := &edge{def: def}
	if def.When == "" {
		return e, nil
	}
	// AsBool rejects conditions whose type is known at compile time;
	// expressions over environment variables are typed only at
	// evaluation, where evaluate enforces the boolean contract.
	prog, err := expr.Compile(def.When, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("%w: edge %s: compile %q: %v", ErrBadEdge, def.ID, def.When, err)
	}
	e.prog = prog
	return e, nil
}

// evaluate reports whether the edge fires under the given environment.
func (e *edge) evaluate(env map[string]any) (bool, error) {
	if e.prog == nil {
		return true, nil
	}
	out, err := expr.Run(e.prog, env)
	if err != nil {
		return false, fmt.Errorf("%w: edge %s: eval: %v", ErrBadEdge, e.def.ID, err)
	}
	matched, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("%w: edge %s: condition is not boolean", ErrBadEdge, e.def.ID)
	}
	return matched, nil
}
