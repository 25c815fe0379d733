package partition

import (
	"encoding/json"

	"gopkg.in/yaml.v3"
)

// NodeView is one partition in the exported model.
type NodeView struct {
	ID       int    `json:"id" yaml:"id"`
	Label    string `json:"label" yaml:"label"`
	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Members  int    `json:"members" yaml:"members"`
	Initial  bool   `json:"initial,omitempty" yaml:"initial,omitempty"`
	Terminal bool   `json:"terminal,omitempty" yaml:"terminal,omitempty"`
}

// EdgeView is one weighted existential transition in the exported model.
// Probability is Count divided by the source partition's member count.
type EdgeView struct {
	Source      int      `json:"source" yaml:"source"`
	Target      int      `json:"target" yaml:"target"`
	Relations   []string `json:"relations" yaml:"relations"`
	Count       int      `json:"count" yaml:"count"`
	Probability float64  `json:"probability" yaml:"probability"`
}

// Model is the exported partition graph.
type Model struct {
	Nodes []NodeView `json:"nodes" yaml:"nodes"`
	Edges []EdgeView `json:"edges" yaml:"edges"`
}

// Export returns the graph's nodes and weighted edges in id order.
func (g *Graph) Export() *Model {
	m := &Model{}
	for _, id := range g.ids {
		p := g.parts[id]
		m.Nodes = append(m.Nodes, NodeView{
			ID:       id,
			Label:    p.label.Label,
			Host:     p.label.Host,
			Members:  len(p.members),
			Initial:  p.label.IsInitial(),
			Terminal: p.label.IsTerminal(),
		})
		for _, e := range g.Edges(id) {
			m.Edges = append(m.Edges, EdgeView{
				Source:      id,
				Target:      e.Target,
				Relations:   e.Relations.Names(),
				Count:       e.Count,
				Probability: float64(e.Count) / float64(len(p.members)),
			})
		}
	}
	return m
}

// JSON renders the model as indented JSON.
func (m *Model) JSON() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// YAML renders the model as YAML.
func (m *Model) YAML() ([]byte, error) {
	return yaml.Marshal(m)
}

// Node returns the node view with the given id.
func (m *Model) Node(id int) (NodeView, bool) {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return NodeView{}, false
}
