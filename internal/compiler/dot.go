package compiler

import (
	"fmt"
	"io"

	"github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	"gopkg.in/go-playground/colors.v1" //nolint

	"github.com/roach88/protoflow/internal/ir"
	"github.com/roach88/protoflow/internal/protocol"
)

// modePalette colours protocol nodes by their dominant dispatch mode.
var modePalette = map[protocol.Mode][3]uint8{
	protocol.ModeSingle:    {120, 170, 230},
	protocol.ModeAll:       {240, 200, 90},
	protocol.ModeFlow:      {130, 200, 140},
	protocol.ModeAsyncFlow: {70, 150, 90},
	protocol.ModeCached:    {200, 150, 220},
	protocol.ModeAsync:     {150, 90, 190},
}

// valuesOnly is the colour of protocols that declare no methods.
var valuesOnly = [3]uint8{210, 210, 210}

// DominantMode returns the most common method mode of spec, ties broken by
// protocol.Modes order. ok is false when spec has no valid method.
func DominantMode(spec ir.ProtocolSpec) (mode protocol.Mode, ok bool) {
	counts := make(map[protocol.Mode]int)
	for _, m := range spec.Methods {
		if parsed, err := protocol.ParseMode(m.Mode); err == nil {
			counts[parsed]++
		}
	}
	best := 0
	for _, m := range protocol.Modes {
		if counts[m] > best {
			mode, best = m, counts[m]
		}
	}
	return mode, best > 0
}

// ModeColor returns the fill colour used for mode, as "#rrggbb".
func ModeColor(mode protocol.Mode) (string, error) {
	rgb, ok := modePalette[mode]
	if !ok {
		rgb = valuesOnly
	}
	c, err := colors.RGB(rgb[0], rgb[1], rgb[2])
	if err != nil {
		return "", fmt.Errorf("colour for %s: %w", mode, err)
	}
	return c.ToHEX().String(), nil
}

// WriteRequiresDOT renders the requires graph of specs in DOT. Nodes are
// filled by dominant dispatch mode; missing requirements are drawn as dashed
// nodes.
func WriteRequiresDOT(specs []ir.ProtocolSpec, w io.Writer) error {
	src, missing, err := BuildRequiresGraph(specs)
	if err != nil {
		return err
	}

	g := graph.New(graph.StringHash, graph.Directed())
	for _, spec := range specs {
		mode, _ := DominantMode(spec)
		fill, err := ModeColor(mode)
		if err != nil {
			return err
		}
		label := spec.Name
		if mode != "" {
			label = fmt.Sprintf("%s\\n%s", spec.Name, mode)
		}
		err = g.AddVertex(spec.Name,
			graph.VertexAttribute("style", "filled"),
			graph.VertexAttribute("fillcolor", fill),
			graph.VertexAttribute("label", label),
		)
		if err != nil {
			return fmt.Errorf("add vertex %s: %w", spec.Name, err)
		}
	}
	for _, m := range missing {
		err := g.AddVertex(m.Requires,
			graph.VertexAttribute("style", "dashed"),
			graph.VertexAttribute("label", m.Requires+"\\n(missing)"),
		)
		if err != nil && err != graph.ErrVertexAlreadyExists {
			return fmt.Errorf("add vertex %s: %w", m.Requires, err)
		}
		if err := g.AddEdge(m.Requires, m.Protocol, graph.EdgeAttribute("style", "dashed")); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", m.Requires, m.Protocol, err)
		}
	}

	edges, err := src.Edges()
	if err != nil {
		return fmt.Errorf("list edges: %w", err)
	}
	for _, e := range edges {
		if err := g.AddEdge(e.Source, e.Target); err != nil {
			return fmt.Errorf("add edge %s -> %s: %w", e.Source, e.Target, err)
		}
	}

	return draw.DOT(g, w, draw.GraphAttribute("rankdir", "LR"))
}
