package compiler

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dominikbraun/graph"

	"github.com/roach88/protoflow/internal/ir"
)

// MissingRequirement is a requires entry naming a protocol outside the set.
type MissingRequirement struct {
	Protocol string `json:"protocol"`
	Requires string `json:"requires"`
}

func (m MissingRequirement) String() string {
	return fmt.Sprintf("%s requires unknown protocol %s", m.Protocol, m.Requires)
}

// RequiresCycle is a set of protocols that require each other.
type RequiresCycle struct {
	Path    []string `json:"path"`    // ["A", "B", "A"]
	Message string   `json:"message"` // Human-readable description
}

// RequiresReport is the result of AnalyzeRequires.
type RequiresReport struct {
	// Order lists every protocol with its requirements first. Empty when
	// there are cycles.
	Order   []string             `json:"order"`
	Missing []MissingRequirement `json:"missing"`
	Cycles  []RequiresCycle      `json:"cycles"`
}

// OK reports whether the set has no missing requirements and no cycles.
func (r *RequiresReport) OK() bool {
	return len(r.Missing) == 0 && len(r.Cycles) == 0
}

// BuildRequiresGraph builds the directed requires graph of specs. Edges run
// from a requirement to the protocol that requires it, so a topological
// order attaches requirements first. Vertices carry the spec.
//
// Requirements outside the set are returned instead of added as vertices.
// Self-requirements are not added as edges.
func BuildRequiresGraph(specs []ir.ProtocolSpec) (graph.Graph[string, ir.ProtocolSpec], []MissingRequirement, error) {
	g := graph.New(specHash, graph.Directed())

	known := make(map[string]bool, len(specs))
	for _, spec := range specs {
		if err := g.AddVertex(spec); err != nil {
			if errors.Is(err, graph.ErrVertexAlreadyExists) {
				return nil, nil, fmt.Errorf("protocol %q declared twice", spec.Name)
			}
			return nil, nil, fmt.Errorf("add protocol %q: %w", spec.Name, err)
		}
		known[spec.Name] = true
	}

	var missing []MissingRequirement
	for _, spec := range specs {
		for _, req := range spec.Requires {
			if !known[req] {
				missing = append(missing, MissingRequirement{Protocol: spec.Name, Requires: req})
				continue
			}
			if req == spec.Name {
				continue
			}
			err := g.AddEdge(req, spec.Name)
			if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return nil, nil, fmt.Errorf("add edge %s -> %s: %w", req, spec.Name, err)
			}
		}
	}
	return g, missing, nil
}

func specHash(s ir.ProtocolSpec) string { return s.Name }

// AnalyzeRequires checks the requires graph of specs.
//
// The algorithm:
//  1. Build the graph (BuildRequiresGraph), collecting missing requirements
//  2. Find strongly connected components; every component with more than one
//     protocol, and every self-requirement, is a cycle
//  3. Without cycles, compute a stable topological order (ties by name)
func AnalyzeRequires(specs []ir.ProtocolSpec) (*RequiresReport, error) {
	g, missing, err := BuildRequiresGraph(specs)
	if err != nil {
		return nil, err
	}
	report := &RequiresReport{
		Order:   []string{},
		Missing: missing,
		Cycles:  []RequiresCycle{},
	}
	if report.Missing == nil {
		report.Missing = []MissingRequirement{}
	}

	sccs, err := graph.StronglyConnectedComponents(g)
	if err != nil {
		return nil, fmt.Errorf("strongly connected components: %w", err)
	}
	for _, scc := range sccs {
		if len(scc) < 2 {
			continue
		}
		report.Cycles = append(report.Cycles, sccToCycle(scc, g))
	}
	for _, spec := range specs {
		if slices.Contains(spec.Requires, spec.Name) {
			report.Cycles = append(report.Cycles, RequiresCycle{
				Path:    []string{spec.Name, spec.Name},
				Message: fmt.Sprintf("Protocol requires itself: %s -> %s", spec.Name, spec.Name),
			})
		}
	}
	slices.SortFunc(report.Cycles, func(a, b RequiresCycle) int {
		return strings.Compare(a.Path[0], b.Path[0])
	})
	if len(report.Cycles) > 0 {
		return report, nil
	}

	order, err := graph.StableTopologicalSort(g, func(a, b string) bool { return a < b })
	if err != nil {
		return nil, fmt.Errorf("topological sort: %w", err)
	}
	report.Order = order
	return report, nil
}

// sccToCycle walks the component from its smallest name, following edges
// inside the component, until it returns to the start.
func sccToCycle(scc []string, g graph.Graph[string, ir.ProtocolSpec]) RequiresCycle {
	members := make(map[string]bool, len(scc))
	for _, n := range scc {
		members[n] = true
	}
	start := slices.Min(scc)

	adjacency, err := g.AdjacencyMap()
	if err != nil {
		return RequiresCycle{Path: append(slices.Sorted(slices.Values(scc)), start)}
	}

	path := []string{start}
	visited := map[string]bool{start: true}
	current := start
	for {
		next := ""
		targets := make([]string, 0, len(adjacency[current]))
		for target := range adjacency[current] {
			targets = append(targets, target)
		}
		slices.Sort(targets)
		for _, target := range targets {
			if !members[target] {
				continue
			}
			if target == start && len(path) > 1 {
				next = target
				break
			}
			if !visited[target] && next == "" {
				next = target
			}
		}
		if next == "" {
			break
		}
		path = append(path, next)
		if next == start {
			break
		}
		visited[next] = true
		current = next
	}
	if path[len(path)-1] != start {
		path = append(path, start)
	}
	return RequiresCycle{
		Path:    path,
		Message: fmt.Sprintf("Requires cycle detected: %s", strings.Join(path, " -> ")),
	}
}
