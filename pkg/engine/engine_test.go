package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func newState() *tState {
	return &tState{Flags: make(map[string]bool)}
}

func buildEngine(t *testing.T, nodes []*Node[*tState, tDelta], edges []EdgeDef, opts ...Option[*tState, tDelta]) *Engine[*tState, tDelta] {
	t.Helper()
	g, err := NewGraph("test", nodes, edges, tEnv)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return New(g, tMerge, tClone, opts...)
}

func TestRun_ConditionalRouting(t *testing.T) {
	nodes := []*Node[*tState, tDelta]{
		NewNode("start", mark("start", map[string]bool{"go_left": true})),
		NewNode("left", mark("left", nil)),
		NewNode("right", mark("right", nil)),
	}
	edges := []EdgeDef{
		{ID: "e-left", From: "start", To: "left", When: "flags.go_left == true"},
		{ID: "e-right", From: "start", To: "right"},
		{ID: "e-done-l", From: "left", To: DoneNode},
		{ID: "e-done-r", From: "right", To: DoneNode},
	}

	state, err := buildEngine(t, nodes, edges).Run(context.Background(), newState(), "start")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"start", "left"}
	if diff := cmp.Diff(want, state.Seen); diff != "" {
		t.Errorf("visit order mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_FirstMatchWins(t *testing.T) {
	nodes := []*Node[*tState, tDelta]{
		NewNode("start", mark("start", map[string]bool{"a": true, "b": true})),
		NewNode("a", mark("a", nil)),
		NewNode("b", mark("b", nil)),
	}
	edges := []EdgeDef{
		{ID: "e-a", From: "start", To: "a", When: "flags.a == true"},
		{ID: "e-b", From: "start", To: "b", When: "flags.b == true"},
		{ID: "done-a", From: "a", To: DoneNode},
		{ID: "done-b", From: "b", To: DoneNode},
	}

	state, err := buildEngine(t, nodes, edges).Run(context.Background(), newState(), "start")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if state.Seen[len(state.Seen)-1] != "a" {
		t.Errorf("expected first matching edge to win, visited %v", state.Seen)
	}
}

func TestRun_ParallelFanOutMergesAll(t *testing.T) {
	nodes := []*Node[*tState, tDelta]{
		NewNode("fan", mark("m1", nil), mark("m2", nil), mark("m3", nil)),
	}
	edges := []EdgeDef{{ID: "done", From: "fan", To: DoneNode}}

	state, err := buildEngine(t, nodes, edges, WithWorkers[*tState, tDelta](2)).Run(context.Background(), newState(), "fan")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	got := append([]string(nil), state.Seen...)
	sort.Strings(got)
	want := []string{"m1", "m2", "m3"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("merged members mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_SiblingsSeeOnlyPredecessorState(t *testing.T) {
	var mu sync.Mutex
	var observed [][]string

	spy := func(name string) Step[*tState, tDelta] {
		return StepFunc[*tState, tDelta]{ID: name, Fn: func(_ context.Context, snap *tState) (tDelta, error) {
			mu.Lock()
			observed = append(observed, append([]string(nil), snap.Seen...))
			mu.Unlock()
			return tDelta{Seen: []string{name}}, nil
		}}
	}

	nodes := []*Node[*tState, tDelta]{
		NewNode("seed", mark("seed", nil)),
		NewNode("fan", spy("s1"), spy("s2"), spy("s3")),
	}
	edges := []EdgeDef{
		{ID: "e1", From: "seed", To: "fan"},
		{ID: "e2", From: "fan", To: DoneNode},
	}

	if _, err := buildEngine(t, nodes, edges).Run(context.Background(), newState(), "seed"); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Every sibling sees exactly the pre-barrier state, regardless of
	// what the others merged while it ran.
	for i, snap := range observed {
		if diff := cmp.Diff([]string{"seed"}, snap); diff != "" {
			t.Errorf("sibling %d snapshot mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestRun_CapturedFailureProceedsToBarrier(t *testing.T) {
	boom := StepFunc[*tState, tDelta]{ID: "boom", Fn: func(context.Context, *tState) (tDelta, error) {
		return tDelta{}, errors.New("collector exploded")
	}}

	nodes := []*Node[*tState, tDelta]{
		NewNode("fan", mark("ok", nil), boom).WithCapture(func(step string, err error) tDelta {
			return tDelta{
				Seen:  []string{"captured:" + step},
				Flags: map[string]bool{"has_node_errors": true},
			}
		}),
		NewNode("after", mark("after", nil)),
	}
	edges := []EdgeDef{
		{ID: "e1", From: "fan", To: "after"},
		{ID: "e2", From: "after", To: DoneNode},
	}

	state, err := buildEngine(t, nodes, edges).Run(context.Background(), newState(), "fan")
	if err != nil {
		t.Fatalf("captured failure must not abort the run: %v", err)
	}
	if !state.Flags["has_node_errors"] {
		t.Error("expected has_node_errors flag from capture")
	}
	got := append([]string(nil), state.Seen...)
	sort.Strings(got)
	want := []string{"after", "captured:boom", "ok"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("state after captured failure (-want +got):\n%s", diff)
	}
}

func TestRun_UncapturedFailureIsFatal(t *testing.T) {
	boom := StepFunc[*tState, tDelta]{ID: "boom", Fn: func(context.Context, *tState) (tDelta, error) {
		return tDelta{}, errors.New("programming error")
	}}
	nodes := []*Node[*tState, tDelta]{NewNode("only", boom)}
	edges := []EdgeDef{{ID: "e1", From: "only", To: DoneNode}}

	_, err := buildEngine(t, nodes, edges).Run(context.Background(), newState(), "only")
	if !errors.Is(err, ErrStepFailed) {
		t.Fatalf("expected ErrStepFailed, got %v", err)
	}
}

func TestRun_TimeoutIsCapturedPerBranch(t *testing.T) {
	slow := StepFunc[*tState, tDelta]{ID: "slow", Fn: func(ctx context.Context, _ *tState) (tDelta, error) {
		select {
		case <-ctx.Done():
			return tDelta{}, ctx.Err()
		case <-time.After(5 * time.Second):
			return tDelta{Seen: []string{"slow"}}, nil
		}
	}}

	nodes := []*Node[*tState, tDelta]{
		NewNode("fan", mark("fast", nil), slow).
			WithTimeout(20 * time.Millisecond).
			WithCapture(func(step string, err error) tDelta {
				return tDelta{Seen: []string{"captured:" + step}}
			}),
	}
	edges := []EdgeDef{{ID: "e1", From: "fan", To: DoneNode}}

	start := time.Now()
	state, err := buildEngine(t, nodes, edges).Run(context.Background(), newState(), "fan")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("barrier waited for the straggler past its timeout")
	}
	got := append([]string(nil), state.Seen...)
	sort.Strings(got)
	want := []string{"captured:slow", "fast"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("timeout capture mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_MaxVisitsBreaksLoops(t *testing.T) {
	nodes := []*Node[*tState, tDelta]{
		NewNode("a", mark("a", nil)),
		NewNode("b", mark("b", nil)),
	}
	edges := []EdgeDef{
		{ID: "ab", From: "a", To: "b"},
		{ID: "ba", From: "b", To: "a", Loop: true},
	}

	_, err := buildEngine(t, nodes, edges, WithMaxVisits[*tState, tDelta](7)).Run(context.Background(), newState(), "a")
	if !errors.Is(err, ErrMaxVisits) {
		t.Fatalf("expected ErrMaxVisits, got %v", err)
	}
}

func TestRun_NoMatchingEdge(t *testing.T) {
	nodes := []*Node[*tState, tDelta]{
		NewNode("start", mark("start", nil)),
		NewNode("never", mark("never", nil)),
	}
	edges := []EdgeDef{
		{ID: "e1", From: "start", To: "never", When: "flags.impossible == true"},
	}

	_, err := buildEngine(t, nodes, edges).Run(context.Background(), newState(), "start")
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute, got %v", err)
	}
}

func TestRun_TerminalNodeWithoutEdges(t *testing.T) {
	nodes := []*Node[*tState, tDelta]{NewNode("end", mark("end", nil))}

	state, err := buildEngine(t, nodes, nil).Run(context.Background(), newState(), "end")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(state.Seen) != 1 || state.Seen[0] != "end" {
		t.Errorf("expected single terminal visit, got %v", state.Seen)
	}
}

func TestRun_UnknownStartNode(t *testing.T) {
	nodes := []*Node[*tState, tDelta]{NewNode("a", mark("a", nil))}

	_, err := buildEngine(t, nodes, nil).Run(context.Background(), newState(), "ghost")
	if !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestRun_ObserverSeesLifecycle(t *testing.T) {
	var mu sync.Mutex
	var events []EventType
	obs := ObserverFunc(func(e Event) {
		mu.Lock()
		events = append(events, e.Type)
		mu.Unlock()
	})

	nodes := []*Node[*tState, tDelta]{NewNode("start", mark("start", nil))}
	edges := []EdgeDef{{ID: "e1", From: "start", To: DoneNode}}

	if _, err := buildEngine(t, nodes, edges, WithObserver[*tState, tDelta](obs)).Run(context.Background(), newState(), "start"); err != nil {
		t.Fatalf("run: %v", err)
	}

	want := []EventType{EventNodeEnter, EventStepDone, EventNodeExit, EventEdgeEvaluate, EventTransition, EventRunComplete}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_ReturnsPartialStateOnFailure(t *testing.T) {
	boom := StepFunc[*tState, tDelta]{ID: "boom", Fn: func(context.Context, *tState) (tDelta, error) {
		return tDelta{}, fmt.Errorf("late failure")
	}}
	nodes := []*Node[*tState, tDelta]{
		NewNode("first", mark("first", nil)),
		NewNode("second", boom),
	}
	edges := []EdgeDef{
		{ID: "e1", From: "first", To: "second"},
		{ID: "e2", From: "second", To: DoneNode},
	}

	state, err := buildEngine(t, nodes, edges).Run(context.Background(), newState(), "first")
	if err == nil {
		t.Fatal("expected failure")
	}
	if len(state.Seen) != 1 || state.Seen[0] != "first" {
		t.Errorf("expected partial state from completed nodes, got %v", state.Seen)
	}
}
