// Package drawer renders a queue's step topology as a graphviz DOT
// document, optionally annotated with one sample's outcomes from an
// execution report: per-step status, duration and a heat color scaled
// between the fastest and slowest executed step.
package drawer

import (
	"fmt"
	"io"
	"os"
	"text/template"
	"time"

	"github.com/dominikbraun/graph"
	"github.com/pkg/errors"
	colors "gopkg.in/go-playground/colors.v1"

	"github.com/askiada/go-stepcache/pkg/pipeline"
	"github.com/askiada/go-stepcache/pkg/pipeline/model"
)

// Drawer holds the step graph of one queue.
type Drawer struct {
	graph graph.Graph[string, string]
	queue *model.Queue
}

// New builds the drawer for a queue: one vertex per step, one edge per
// producer reference, plus a dashed ordering edge between consecutive
// steps that are not already linked by a reference.
func New(q *model.Queue) (*Drawer, error) {
	if q == nil {
		return nil, errors.New("queue must be set")
	}

	d := &Drawer{
		graph: graph.New(graph.StringHash, graph.Directed()),
		queue: q,
	}

	for _, def := range q.Steps {
		if err := d.graph.AddVertex(def.Name); err != nil {
			return nil, errors.Wrapf(err, "unable to add step %s", def.Name)
		}
	}

	for i, def := range q.Steps {
		refs := def.References()
		for _, ref := range refs {
			if err := d.graph.AddEdge(ref, def.Name); err != nil {
				return nil, errors.Wrapf(err, "unable to link %s to %s", ref, def.Name)
			}
		}

		if i == 0 {
			continue
		}

		prev := q.Steps[i-1].Name
		if !contains(refs, prev) {
			err := d.graph.AddEdge(prev, def.Name, graph.EdgeAttribute("style", "dashed"))
			if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
				return nil, errors.Wrapf(err, "unable to order %s after %s", def.Name, prev)
			}
		}
	}

	return d, nil
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}

	return false
}

const maxRGB = 240

// Annotate decorates every step vertex with one sample's outcome from the
// report: a label carrying status and duration, and a fill color. Executed
// steps get a blue-to-red heat color scaled across their durations; failed
// steps are red, skipped steps gray.
func (d *Drawer) Annotate(report *pipeline.Report, sample string) error {
	var minDur, maxDur time.Duration
	first := true
	for _, def := range d.queue.Steps {
		outcome, ok := report.Outcome(d.queue.Name, def.Name, sample)
		if !ok || outcome.Status != pipeline.StatusSucceededNew {
			continue
		}
		if first || outcome.Duration < minDur {
			minDur = outcome.Duration
		}
		if first || outcome.Duration > maxDur {
			maxDur = outcome.Duration
		}
		first = false
	}

	for _, def := range d.queue.Steps {
		outcome, ok := report.Outcome(d.queue.Name, def.Name, sample)
		if !ok {
			continue
		}

		_, properties, err := d.graph.VertexWithProperties(def.Name)
		if err != nil {
			return errors.Wrapf(err, "unable to get vertex %s", def.Name)
		}

		fill, err := fillColor(outcome, minDur, maxDur)
		if err != nil {
			return err
		}

		properties.Attributes["xlabel"] = fmt.Sprintf("%s %s", outcome.Status, outcome.Duration.Round(time.Millisecond))
		properties.Attributes["style"] = "filled"
		properties.Attributes["fillcolor"] = fill
	}

	return nil
}

func fillColor(outcome pipeline.Outcome, minDur, maxDur time.Duration) (string, error) {
	switch outcome.Status {
	case pipeline.StatusFailed:
		return "#d62728", nil
	case pipeline.StatusNotReached:
		return "#cccccc", nil
	case pipeline.StatusReused:
		return "#b0c4de", nil
	case pipeline.StatusSucceededNew:
	}

	fraction := 0.0
	if maxDur > minDur {
		fraction = float64(outcome.Duration-minDur) / float64(maxDur-minDur)
	}

	red := uint8(maxRGB * fraction)
	blue := uint8(-maxRGB*fraction + maxRGB)

	heat, err := colors.RGB(red, 0, blue)
	if err != nil {
		return "", errors.Wrap(err, "unable to build heat colour")
	}

	return heat.ToHEX().String(), nil
}

const dotTemplate = `strict digraph {
	{{range $s := .Nodes}}
	"{{.Name}}" [ {{range $k, $v := .HTMLAttributes}}{{$k}}={{$v}}, {{end}}{{range $k, $v := .Attributes}}{{$k}}="{{$v}}", {{end}}weight={{.Weight}} ];
	{{end}}
	{{range $e := .Edges}}
	"{{.Source}}" -> "{{.Target}}" [ {{range $k, $v := .Attributes}}{{$k}}="{{$v}}", {{end}}weight={{.Weight}} ];
	{{end}}
}
`

type node struct {
	Name           string
	Weight         int
	Attributes     map[string]string
	HTMLAttributes map[string]string
}

type edge struct {
	Source     string
	Target     string
	Weight     int
	Attributes map[string]string
}

type document struct {
	Nodes []node
	Edges []edge
}

// Draw writes the DOT document.
func (d *Drawer) Draw(w io.Writer) error {
	doc := document{}

	// Walk the declared step order so the output is deterministic.
	for _, def := range d.queue.Steps {
		_, properties, err := d.graph.VertexWithProperties(def.Name)
		if err != nil {
			return errors.Wrapf(err, "unable to get vertex %s", def.Name)
		}

		htmlAttributes := make(map[string]string)
		if xlabel, ok := properties.Attributes["xlabel"]; ok {
			htmlAttributes["label"] = fmt.Sprintf(`<%s <BR /> <FONT POINT-SIZE="12">%s</FONT>>`, def.Name, xlabel)
			delete(properties.Attributes, "xlabel")
		}

		doc.Nodes = append(doc.Nodes, node{
			Name:           def.Name,
			Weight:         properties.Weight,
			Attributes:     properties.Attributes,
			HTMLAttributes: htmlAttributes,
		})
	}

	adjacencyMap, err := d.graph.AdjacencyMap()
	if err != nil {
		return errors.Wrap(err, "unable to get adjacency map")
	}

	for _, def := range d.queue.Steps {
		for _, target := range d.queue.Steps {
			e, ok := adjacencyMap[def.Name][target.Name]
			if !ok {
				continue
			}
			doc.Edges = append(doc.Edges, edge{
				Source:     def.Name,
				Target:     target.Name,
				Weight:     e.Properties.Weight,
				Attributes: e.Properties.Attributes,
			})
		}
	}

	tpl, err := template.New("dot").Parse(dotTemplate)
	if err != nil {
		return errors.Wrap(err, "unable to parse dot template")
	}

	return tpl.Execute(w, doc)
}

// DrawFile writes the DOT document to a file.
func (d *Drawer) DrawFile(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "unable to create file %s", path)
	}
	defer file.Close()

	return d.Draw(file)
}
