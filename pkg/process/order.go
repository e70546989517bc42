package process

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openfroyo/procsim/pkg/faults"
)

// OrderMode selects how Run orders units within a pass.
type OrderMode int

const (
	// OrderRegistration evaluates units in the order they were registered.
	// Graphs where a unit reads a stream produced later in the order, other
	// than a recycle tear, are rejected.
	OrderRegistration OrderMode = iota
	// OrderTopological sorts units by their stream connections, treating
	// recycle outlets as back edges.
	OrderTopological
)

// String returns the mode name.
func (m OrderMode) String() string {
	if m == OrderTopological {
		return "topological"
	}
	return "registration"
}

// ParseOrderMode maps a configuration name to an OrderMode.
func ParseOrderMode(name string) (OrderMode, error) {
	switch strings.ToLower(name) {
	case "", "registration":
		return OrderRegistration, nil
	case "topological", "topo":
		return OrderTopological, nil
	}
	return OrderRegistration, faults.NewConfigurationError(fmt.Sprintf("unknown ordering %q", name), nil).
		WithCode(faults.ErrCodeInvalidParameter)
}

// Edge is a stream connection between two registered units.
type Edge struct {
	From   string
	To     string
	Stream string
	// Tear marks an edge leaving a recycle; it closes a loop and is
	// exempt from ordering.
	Tear bool
}

// graphBuilder derives the unit graph from stream connections, validates it
// and computes evaluation orders.
type graphBuilder struct {
	units    map[string]Unit
	position map[string]int
	names    []string

	// adjacency maps a producer to its consumers, tear edges excluded
	adjacency map[string][]string
	reverse   map[string][]string
	inDegree  map[string]int
	edges     []Edge
	levels    [][]string
}

func newGraphBuilder(units []Unit) *graphBuilder {
	b := &graphBuilder{
		units:     make(map[string]Unit, len(units)),
		position:  make(map[string]int, len(units)),
		names:     make([]string, 0, len(units)),
		adjacency: make(map[string][]string),
		reverse:   make(map[string][]string),
		inDegree:  make(map[string]int),
	}
	for i, u := range units {
		b.units[u.Name()] = u
		b.position[u.Name()] = i
		b.names = append(b.names, u.Name())
		b.inDegree[u.Name()] = 0
	}
	return b
}

// producerOf returns the registered unit that produces s, or "" when s is
// external to the process.
func (b *graphBuilder) producerOf(s *Stream) string {
	if s.Owner() != "" {
		if _, ok := b.units[s.Owner()]; ok {
			return s.Owner()
		}
		return ""
	}
	if u, ok := b.units[s.Name()]; ok && u == Unit(s) {
		return s.Name()
	}
	return ""
}

// initialize builds edges from every unit's inlets.
func (b *graphBuilder) initialize() error {
	for _, name := range b.names {
		c, ok := b.units[name].(Connected)
		if !ok {
			continue
		}
		for _, in := range c.Inlets() {
			if in == nil {
				return missingInlet(name)
			}
			from := b.producerOf(in)
			if from == "" {
				if in.Fluid() == nil {
					return faults.NewConfigurationError(
						fmt.Sprintf("inlet %s is not produced by any unit of this process", in.Name()), nil,
					).WithCode(faults.ErrCodeMissingInlet).WithUnit(name)
				}
				continue
			}
			if from == name {
				continue
			}
			edge := Edge{From: from, To: name, Stream: in.Name(), Tear: TypeOf(b.units[from]) == TypeRecycle}
			b.edges = append(b.edges, edge)
			if edge.Tear {
				continue
			}
			b.adjacency[from] = append(b.adjacency[from], name)
			b.reverse[name] = append(b.reverse[name], from)
			b.inDegree[name]++
		}
	}
	return nil
}

// checkRegistrationOrder rejects non-tear edges that point backwards.
func (b *graphBuilder) checkRegistrationOrder() error {
	for _, e := range b.edges {
		if e.Tear {
			continue
		}
		if b.position[e.From] > b.position[e.To] {
			return faults.NewConfigurationError(
				fmt.Sprintf("%s reads %s, which is produced later by %s", e.To, e.Stream, e.From), nil,
			).WithCode(faults.ErrCodeOrdering).WithUnit(e.To)
		}
	}
	return nil
}

// detectCycles uses depth-first search over non-tear edges.
func (b *graphBuilder) detectCycles() error {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	for _, name := range b.names {
		if visited[name] {
			continue
		}
		if cycle := b.detectCyclesUtil(name, visited, recStack, nil); cycle != nil {
			return faults.NewConfigurationError(
				fmt.Sprintf("loop without a recycle: %s", formatCycle(cycle)), nil,
			).WithCode(faults.ErrCodeCycle).WithDetail("cycle", cycle)
		}
	}
	return nil
}

func (b *graphBuilder) detectCyclesUtil(name string, visited, recStack map[string]bool, path []string) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, next := range b.adjacency[name] {
		if !visited[next] {
			if cycle := b.detectCyclesUtil(next, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[next] {
			for i, id := range path {
				if id == next {
					return append(append([]string(nil), path[i:]...), next)
				}
			}
		}
	}

	recStack[name] = false
	return nil
}

// computeLevels assigns topological levels with Kahn's algorithm. Units
// within a level keep registration order.
func (b *graphBuilder) computeLevels() error {
	inDegree := make(map[string]int, len(b.inDegree))
	for id, d := range b.inDegree {
		inDegree[id] = d
	}

	var current []string
	for _, name := range b.names {
		if inDegree[name] == 0 {
			current = append(current, name)
		}
	}

	processed := 0
	b.levels = nil
	for len(current) > 0 {
		b.sortByPosition(current)
		b.levels = append(b.levels, current)
		processed += len(current)

		var next []string
		for _, name := range current {
			for _, dep := range b.adjacency[name] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}

	if processed != len(b.units) {
		return faults.NewConfigurationError("units left unordered; the graph has a loop without a recycle", nil).
			WithCode(faults.ErrCodeCycle)
	}
	return nil
}

func (b *graphBuilder) sortByPosition(names []string) {
	sort.Slice(names, func(i, j int) bool { return b.position[names[i]] < b.position[names[j]] })
}

// order validates the graph for mode and returns the evaluation order.
func (b *graphBuilder) order(mode OrderMode) ([]Unit, error) {
	if err := b.initialize(); err != nil {
		return nil, err
	}
	if mode == OrderRegistration {
		if err := b.checkRegistrationOrder(); err != nil {
			return nil, err
		}
		out := make([]Unit, len(b.names))
		for i, name := range b.names {
			out[i] = b.units[name]
		}
		return out, nil
	}

	if err := b.detectCycles(); err != nil {
		return nil, err
	}
	if err := b.computeLevels(); err != nil {
		return nil, err
	}
	out := make([]Unit, 0, len(b.names))
	for _, level := range b.levels {
		for _, name := range level {
			out = append(out, b.units[name])
		}
	}
	return out, nil
}

// toDOT renders the unit graph for Graphviz. Units are grouped by
// topological level when levels were computed.
func (b *graphBuilder) toDOT(title string) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("digraph %q {\n", title))
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	writeNode := func(indent, name string) {
		kind := TypeOf(b.units[name])
		sb.WriteString(fmt.Sprintf("%s\"%s\" [label=\"%s\\n%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
			indent, name, name, kind, unitColor(kind)))
	}

	if len(b.levels) > 0 {
		for level, names := range b.levels {
			sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
			sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
			sb.WriteString("    style=dashed;\n")
			for _, name := range names {
				writeNode("    ", name)
			}
			sb.WriteString("  }\n\n")
		}
	} else {
		for _, name := range b.names {
			writeNode("  ", name)
		}
		sb.WriteString("\n")
	}

	for _, e := range b.edges {
		style := "style=solid, color=black"
		if e.Tear {
			style = "style=dashed, color=blue, constraint=false"
		}
		sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [label=\"%s\", %s];\n", e.From, e.To, e.Stream, style))
	}

	sb.WriteString("}\n")
	return sb.String()
}

func formatCycle(cycle []string) string {
	return strings.Join(cycle, " -> ")
}

func unitColor(t UnitType) string {
	switch t {
	case TypeStream:
		return "white"
	case TypeSeparator, TypeThreePhaseSeparator:
		return "lightblue"
	case TypeCompressor, TypeExpander, TypePump:
		return "lightgreen"
	case TypeHeater, TypeCooler:
		return "lightsalmon"
	case TypeRecycle:
		return "khaki"
	case TypeTransmitter:
		return "lightgray"
	default:
		return "whitesmoke"
	}
}
