// Package docviz renders a document's change history as a graphviz DAG, one
// node per change with its dependency edges. It exists for operational
// debugging: when two clients disagree about a page's state, the history
// graph shows where their edits forked and merged.
package docviz

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
)

// RenderHistory writes an SVG of the document's change graph to w. Each node
// is labelled with the change's actor and sequence number plus the value at
// path as of that change; pass an empty path to label with the whole root
// map.
func RenderHistory(doc *automerge.Doc, path []string, w io.Writer) error {
	g := graphviz.New()
	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to create graph: %w", err)
	}

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to list changes: %w", err)
	}

	lookup := make([]any, 0, len(path))
	for _, p := range path {
		lookup = append(lookup, p)
	}

	nodes := make(map[string]*cgraph.Node, len(changes))
	edges := 0
	for _, change := range changes {
		at, err := doc.Fork(change.Hash())
		if err != nil {
			return fmt.Errorf("failed to fork at %s: %w", change.Hash(), err)
		}
		var raw any
		if value, err := at.Path(lookup...).Get(); err == nil {
			raw = value.Interface()
		}
		encoded, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("failed to encode value at %s: %w", change.Hash(), err)
		}

		n, err := graph.CreateNode(change.Hash().String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(fmt.Sprintf("%s %s@%d %s", change.Hash().String()[:8], change.ActorID(), change.ActorSeq(), encoded))
		nodes[n.Name()] = n

		for _, dep := range change.Dependencies() {
			edges++
			if _, err := graph.CreateEdge(strconv.Itoa(edges), nodes[dep.String()], n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	if err := g.Render(graph, graphviz.SVG, w); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}
