package runtime

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/stewardlabs/steward/internal/core"
	"github.com/stewardlabs/steward/internal/logging"
)

// EngineKind selects the node-execution strategy.
type EngineKind string

const (
	EngineSequential EngineKind = "sequential"
	EngineGraph      EngineKind = "graph"
)

// engineEnvVar overrides the configured engine without a flag.
const engineEnvVar = "STEWARD_ENGINE"

// Engine drives a runtime's nodes to completion. Every engine must honor
// the same node contract: identical snapshot sequences and terminal
// state for the same inputs.
type Engine interface {
	Name() string
	Execute(ctx context.Context, r *Runtime) error
}

// ResolveEngineKind picks the engine from override, environment, then
// config, first non-empty wins. Unknown names fail rather than silently
// running the default.
func ResolveEngineKind(override, configured string) (EngineKind, error) {
	for _, candidate := range []string{override, os.Getenv(engineEnvVar), configured} {
		candidate = strings.ToLower(strings.TrimSpace(candidate))
		switch candidate {
		case "":
			continue
		case string(EngineSequential):
			return EngineSequential, nil
		case string(EngineGraph):
			return EngineGraph, nil
		default:
			return "", core.ErrValidation("UNKNOWN_ENGINE",
				fmt.Sprintf("unknown engine %q (sequential, graph)", candidate))
		}
	}
	return EngineSequential, nil
}

// SelectEngine builds the requested engine, falling back to sequential
// when the graph engine is unavailable in this build. The second return
// reports whether a fallback occurred; callers record it on the run.
func SelectEngine(kind EngineKind, caps core.Capabilities, logger *logging.Logger) (Engine, bool) {
	if kind == EngineGraph {
		if caps.GraphEngine {
			g, err := newGraphEngine()
			if err == nil {
				return g, false
			}
			logger.Warn("graph engine construction failed, using sequential", "error", err)
			return sequentialEngine{}, true
		}
		logger.Warn("graph engine unavailable in this build, using sequential")
		return sequentialEngine{}, true
	}
	return sequentialEngine{}, false
}

// sequentialEngine runs nodes one at a time in status order. This is the
// default engine.
type sequentialEngine struct{}

func (sequentialEngine) Name() string { return string(EngineSequential) }

func (sequentialEngine) Execute(ctx context.Context, r *Runtime) error {
	return r.Run(ctx)
}

// graphEngine executes the same nodes from an explicit dependency graph,
// topologically ordered at construction. The pipeline graph is a chain,
// so the order matches the sequential engine and both produce identical
// snapshot sequences; the value is the validated structure, which rejects
// cycles and dangling phases at startup rather than at runtime.
type graphEngine struct {
	order []string
}

// phaseDeps declares the phase graph. A phase runs only after all its
// dependencies.
var phaseDeps = map[string][]string{
	"extract": {},
	"plan":    {"extract"},
	"execute": {"plan"},
	"accept":  {"execute"},
}

func newGraphEngine() (*graphEngine, error) {
	order, err := topoSort(phaseDeps)
	if err != nil {
		return nil, err
	}
	return &graphEngine{order: order}, nil
}

func (e *graphEngine) Name() string { return string(EngineGraph) }

func (e *graphEngine) Execute(ctx context.Context, r *Runtime) error {
	for _, phase := range e.order {
		if err := e.runPhase(ctx, r, phase); err != nil {
			return err
		}
	}
	return r.finish(ctx)
}

// runPhase drives the runtime while its next node belongs to the phase.
// Phases already persisted as complete are skipped, which is what makes
// recovery under this engine equivalent to the sequential one.
func (e *graphEngine) runPhase(ctx context.Context, r *Runtime, phase string) error {
	for {
		node := r.nextNode()
		if node == "" || phaseOf(node) != phase {
			return nil
		}
		if err := r.checkInterrupt(ctx, node); err != nil {
			return err
		}
		if err := r.runNode(ctx, node); err != nil {
			return err
		}
		r.recordHeartbeat(ctx)
	}
}

// phaseOf maps a node to its graph phase. Dispatch, verify, and the
// EXECUTE-side transition all belong to the execute phase; the ACCEPT
// transition closes the accept phase.
func phaseOf(node string) string {
	switch node {
	case "extract":
		return "extract"
	case "plan":
		return "plan"
	case "dispatch", "verify":
		return "execute"
	default:
		return "accept"
	}
}

// topoSort orders phases by dependency depth with name as tie-break,
// rejecting unknown references and cycles.
func topoSort(deps map[string][]string) ([]string, error) {
	indeg := make(map[string]int, len(deps))
	for name := range deps {
		indeg[name] = 0
	}
	for name, parents := range deps {
		for _, p := range parents {
			if _, ok := deps[p]; !ok {
				return nil, fmt.Errorf("phase %s depends on unknown phase %s", name, p)
			}
			indeg[name]++
		}
	}

	var ready []string
	for name, d := range indeg {
		if d == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for name, parents := range deps {
			for _, p := range parents {
				if p == next {
					indeg[name]--
					if indeg[name] == 0 {
						ready = append(ready, name)
					}
				}
			}
		}
		sort.Strings(ready)
	}
	if len(order) != len(deps) {
		return nil, fmt.Errorf("phase graph contains a cycle")
	}
	return order, nil
}
