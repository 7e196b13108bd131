package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loomflow/loomflow/flow"
)

// routingExecutor dispatches per node ID, so one registry entry can drive
// many nodes of the same kind with different behavior.
type routingExecutor struct {
	mu    sync.Mutex
	fns   map[string]func(ctx context.Context, req Request) (any, error)
	calls []string
}

var _ Executor = (*routingExecutor)(nil)

func newRoutingExecutor() *routingExecutor {
	return &routingExecutor{fns: make(map[string]func(ctx context.Context, req Request) (any, error))}
}

func (x *routingExecutor) on(nodeID string, fn func(ctx context.Context, req Request) (any, error)) {
	x.fns[nodeID] = fn
}

func (x *routingExecutor) returns(nodeID string, value any) {
	x.on(nodeID, func(context.Context, Request) (any, error) { return value, nil })
}

func (x *routingExecutor) fails(nodeID string, err error) {
	x.on(nodeID, func(context.Context, Request) (any, error) { return nil, err })
}

func (x *routingExecutor) Execute(ctx context.Context, req Request) (any, error) {
	x.mu.Lock()
	x.calls = append(x.calls, req.Node.ID)
	fn := x.fns[req.Node.ID]
	x.mu.Unlock()
	if fn == nil {
		return nil, fmt.Errorf("no behavior for node %q", req.Node.ID)
	}
	return fn(ctx, req)
}

func (x *routingExecutor) callOrder() []string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]string(nil), x.calls...)
}

func taskNode(id string) flow.Node {
	return flow.Node{ID: id, Kind: flow.KindLLM}
}

func simpleEdge(source, target string) flow.Edge {
	return flow.Edge{ID: source + "->" + target, Source: source, Target: target}
}

func newTestEngine(exec *routingExecutor, opts ...Option) *Engine {
	registry := Registry{
		flow.KindLLM:         exec,
		flow.KindConditional: exec,
		flow.KindInput:       exec,
		flow.KindOutput:      exec,
	}
	return New(registry, opts...)
}

func TestRunLinearChainOrdersDependencies(t *testing.T) {
	exec := newRoutingExecutor()
	exec.returns("a", "first")
	exec.on("b", func(_ context.Context, req Request) (any, error) {
		return fmt.Sprintf("%v+second", req.FirstInput()), nil
	})
	exec.on("c", func(_ context.Context, req Request) (any, error) {
		return fmt.Sprintf("%v+third", req.FirstInput()), nil
	})

	eng := newTestEngine(exec)
	results, err := eng.Run(context.Background(),
		[]flow.Node{taskNode("a"), taskNode("b"), taskNode("c")},
		[]flow.Edge{simpleEdge("a", "b"), simpleEdge("b", "c")},
		[]string{"a"})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	if results["c"] != "first+second+third" {
		t.Errorf("expected chained result, got %v", results["c"])
	}
	order := exec.callOrder()
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("expected strict dependency order [a b c], got %v", order)
	}
}

func TestRunParallelBranchesBothComplete(t *testing.T) {
	exec := newRoutingExecutor()
	exec.returns("root", "seed")
	exec.returns("left", "L")
	exec.returns("right", "R")

	eng := newTestEngine(exec)
	results, err := eng.Run(context.Background(),
		[]flow.Node{taskNode("root"), taskNode("left"), taskNode("right")},
		[]flow.Edge{simpleEdge("root", "left"), simpleEdge("root", "right")},
		[]string{"root"})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if results["left"] != "L" || results["right"] != "R" {
		t.Errorf("expected both branches to complete, got %v", results)
	}
}

func TestRunConditionalPrunesUntakenBranch(t *testing.T) {
	exec := newRoutingExecutor()
	exec.returns("start", 10)
	exec.on("check", func(_ context.Context, req Request) (any, error) {
		return ConditionalResult{OutputHandle: flow.HandleTrue, Value: req.FirstInput()}, nil
	})
	exec.returns("whenTrue", "taken")
	exec.returns("whenFalse", "never")
	exec.on("afterFalse", func(context.Context, Request) (any, error) {
		t.Error("node behind the untaken branch must not execute")
		return nil, nil
	})

	nodes := []flow.Node{
		taskNode("start"),
		{ID: "check", Kind: flow.KindConditional},
		taskNode("whenTrue"),
		taskNode("whenFalse"),
		taskNode("afterFalse"),
	}
	edges := []flow.Edge{
		simpleEdge("start", "check"),
		{ID: "t", Source: "check", SourceHandle: flow.HandleTrue, Target: "whenTrue"},
		{ID: "f", Source: "check", SourceHandle: flow.HandleFalse, Target: "whenFalse"},
		simpleEdge("whenFalse", "afterFalse"),
	}

	eng := newTestEngine(exec)
	results, err := eng.Run(context.Background(), nodes, edges, []string{"start"})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	if results["whenTrue"] != "taken" {
		t.Errorf("expected taken branch to complete, got %v", results["whenTrue"])
	}
	store := eng.Store()
	if status := store.Get("whenFalse").Status; status != StatusSkipped {
		t.Errorf("expected untaken branch skipped, got %q", status)
	}
	if status := store.Get("afterFalse").Status; status != StatusSkipped {
		t.Errorf("expected downstream of untaken branch skipped, got %q", status)
	}
	if handle := store.Get("check").ActiveOutputHandle; handle != flow.HandleTrue {
		t.Errorf("expected recorded handle %q, got %q", flow.HandleTrue, handle)
	}
}

func TestRunFailureOnlyBlocksDependents(t *testing.T) {
	exec := newRoutingExecutor()
	exec.returns("root", "ok")
	exec.fails("broken", errors.New("executor exploded"))
	exec.returns("dependent", "never")
	exec.returns("independent", "fine")

	nodes := []flow.Node{taskNode("root"), taskNode("broken"), taskNode("dependent"), taskNode("independent")}
	edges := []flow.Edge{
		simpleEdge("root", "broken"),
		simpleEdge("root", "independent"),
		simpleEdge("broken", "dependent"),
	}

	eng := newTestEngine(exec)
	results, err := eng.Run(context.Background(), nodes, edges, []string{"root"})
	if err != nil {
		t.Fatalf("node failure must not fail the run, got %v", err)
	}

	store := eng.Store()
	if status := store.Get("broken").Status; status != StatusError {
		t.Errorf("expected broken to end in error, got %q", status)
	}
	if msg := store.Get("broken").Error; msg != "executor exploded" {
		t.Errorf("expected error message recorded, got %q", msg)
	}
	if status := store.Get("dependent").Status; status != StatusSkipped {
		t.Errorf("expected dependent skipped, got %q", status)
	}
	if results["independent"] != "fine" {
		t.Errorf("expected independent branch to complete, got %v", results["independent"])
	}
}

func TestRunDeadlockOnCycle(t *testing.T) {
	exec := newRoutingExecutor()
	exec.returns("start", "ok")

	// b and c depend on each other; neither can ever become ready.
	nodes := []flow.Node{taskNode("start"), taskNode("b"), taskNode("c")}
	edges := []flow.Edge{
		simpleEdge("start", "b"),
		simpleEdge("b", "c"),
		simpleEdge("c", "b"),
	}

	eng := newTestEngine(exec)
	_, err := eng.Run(context.Background(), nodes, edges, []string{"start"})

	var deadlock *DeadlockError
	if !errors.As(err, &deadlock) {
		t.Fatalf("expected DeadlockError, got %v", err)
	}
	if len(deadlock.NodeIDs) != 2 || deadlock.NodeIDs[0] != "b" || deadlock.NodeIDs[1] != "c" {
		t.Errorf("expected stuck nodes [b c], got %v", deadlock.NodeIDs)
	}
}

func TestRunStartSeedBypassesOwnDependencies(t *testing.T) {
	exec := newRoutingExecutor()
	exec.fails("upstream", errors.New("always down"))
	exec.returns("entry", "ran anyway")

	eng := newTestEngine(exec)
	results, err := eng.Run(context.Background(),
		[]flow.Node{taskNode("upstream"), taskNode("entry")},
		[]flow.Edge{simpleEdge("upstream", "entry")},
		[]string{"entry"})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if results["entry"] != "ran anyway" {
		t.Errorf("expected seeded node to run despite failed dependency, got %v", results)
	}
}

func TestRunMergerConcatFollowsArrivalOrder(t *testing.T) {
	exec := newRoutingExecutor()
	exec.returns("first", "A")
	exec.on("second", func(_ context.Context, req Request) (any, error) {
		return "B", nil
	})

	// first -> second and both feed the merger, so first always settles
	// before second and the accumulated order is deterministic.
	nodes := []flow.Node{
		taskNode("first"),
		taskNode("second"),
		{ID: "merge", Kind: flow.KindMerger, Config: map[string]any{"mode": "concat"}},
	}
	edges := []flow.Edge{
		simpleEdge("first", "second"),
		simpleEdge("first", "merge"),
		simpleEdge("second", "merge"),
	}

	eng := newTestEngine(exec)
	results, err := eng.Run(context.Background(), nodes, edges, []string{"first"})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	merged, ok := results["merge"].([]any)
	if !ok {
		t.Fatalf("expected concat result to be a list, got %T", results["merge"])
	}
	if len(merged) != 2 || merged[0] != "A" || merged[1] != "B" {
		t.Errorf("expected arrival-ordered [A B], got %v", merged)
	}
}

func TestRunMergerFedByIndependentRoots(t *testing.T) {
	exec := newRoutingExecutor()
	exec.returns("p", "fromP")
	exec.returns("q", "fromQ")

	nodes := []flow.Node{
		taskNode("p"),
		taskNode("q"),
		{ID: "merge", Kind: flow.KindMerger, Config: map[string]any{"mode": "concat"}},
	}
	edges := []flow.Edge{simpleEdge("p", "merge"), simpleEdge("q", "merge")}

	eng := newTestEngine(exec)
	results, err := eng.Run(context.Background(), nodes, edges, []string{"p", "q"})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	merged, ok := results["merge"].([]any)
	if !ok || len(merged) != 2 {
		t.Fatalf("expected both root outputs accumulated, got %v", results["merge"])
	}
	members := map[any]bool{merged[0]: true, merged[1]: true}
	if !members["fromP"] || !members["fromQ"] {
		t.Errorf("expected set {fromP fromQ} regardless of order, got %v", merged)
	}
}

func TestRunMissingExecutorFailsNode(t *testing.T) {
	eng := New(Registry{})
	_, err := eng.Run(context.Background(),
		[]flow.Node{{ID: "orphan", Kind: flow.KindAPI}},
		nil, []string{"orphan"})
	if err != nil {
		t.Fatalf("missing executor must not fail the run, got %v", err)
	}

	state := eng.Store().Get("orphan")
	if state.Status != StatusError {
		t.Fatalf("expected error status, got %q", state.Status)
	}
}

func TestRunMaxParallelLimitsConcurrency(t *testing.T) {
	var active, peak int32
	exec := newRoutingExecutor()
	slow := func(context.Context, Request) (any, error) {
		current := atomic.AddInt32(&active, 1)
		for {
			observed := atomic.LoadInt32(&peak)
			if current <= observed || atomic.CompareAndSwapInt32(&peak, observed, current) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return "done", nil
	}
	exec.on("a", slow)
	exec.on("b", slow)
	exec.on("c", slow)

	eng := newTestEngine(exec, WithMaxParallel(1))
	_, err := eng.Run(context.Background(),
		[]flow.Node{taskNode("a"), taskNode("b"), taskNode("c")},
		nil, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if observed := atomic.LoadInt32(&peak); observed > 1 {
		t.Errorf("expected at most 1 concurrent executor, observed %d", observed)
	}
}

func TestRunHooksFireInLifecycleOrder(t *testing.T) {
	exec := newRoutingExecutor()
	exec.returns("ok", "value")
	exec.fails("bad", errors.New("nope"))

	var mu sync.Mutex
	events := make([]string, 0)
	record := func(event string) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}

	hooks := Hooks{
		OnNodeStart:    func(nodeID string, _ ExecutionContext) { record("start:" + nodeID) },
		OnNodeComplete: func(nodeID string, _ any, _ ExecutionContext) { record("complete:" + nodeID) },
		OnNodeError:    func(nodeID string, _ error, _ ExecutionContext) { record("error:" + nodeID) },
	}

	eng := newTestEngine(exec, WithHooks(hooks))
	_, err := eng.Run(context.Background(),
		[]flow.Node{taskNode("ok"), taskNode("bad")},
		nil, []string{"ok", "bad"})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	seen := make(map[string]bool, len(events))
	for _, event := range events {
		seen[event] = true
	}
	for _, want := range []string{"start:ok", "complete:ok", "start:bad", "error:bad"} {
		if !seen[want] {
			t.Errorf("expected hook event %q, got %v", want, events)
		}
	}
	if seen["complete:bad"] || seen["error:ok"] {
		t.Errorf("unexpected hook events: %v", events)
	}
}

func TestRunContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := newRoutingExecutor()
	exec.returns("a", "never")

	eng := newTestEngine(exec)
	_, err := eng.Run(ctx, []flow.Node{taskNode("a")}, nil, []string{"a"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunResetsStateBetweenRuns(t *testing.T) {
	exec := newRoutingExecutor()
	exec.fails("a", errors.New("first run fails"))

	eng := newTestEngine(exec)
	nodes := []flow.Node{taskNode("a")}
	if _, err := eng.Run(context.Background(), nodes, nil, []string{"a"}); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if status := eng.Store().Get("a").Status; status != StatusError {
		t.Fatalf("expected first run to record error, got %q", status)
	}

	exec.returns("a", "second run works")
	results, err := eng.Run(context.Background(), nodes, nil, []string{"a"})
	if err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
	if results["a"] != "second run works" {
		t.Errorf("expected fresh result on re-run, got %v", results["a"])
	}
	state := eng.Store().Get("a")
	if state.Status != StatusSuccess || state.Error != "" {
		t.Errorf("expected prior error cleared, got %+v", state)
	}
}
