// Package flow defines decision flow graphs: their nodes and edges, the
// navigator that walks them and the validation pass that checks them.
package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Metadata contains descriptive information about a flow
type Metadata struct {
	Author       string    `json:"author,omitempty" yaml:"author,omitempty"`
	Created      time.Time `json:"created,omitempty" yaml:"created,omitempty"`
	LastModified time.Time `json:"last_modified,omitempty" yaml:"last_modified,omitempty"`
	Tags         []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Flow is a directed graph of questions, branches and effects bound to one
// or more subject groups. A flow is never mutated while it is executing.
type Flow struct {
	ID                 string
	Name               string
	Version            string
	Description        string
	BoundSubjectGroups []string
	Metadata           Metadata
	Nodes              []Node
	Edges              []*Edge
}

// New creates an empty flow with the given name and description
func New(name, description string) (*Flow, error) {
	if name == "" {
		return nil, errors.New("flow name cannot be empty")
	}

	now := time.Now().UTC()
	return &Flow{
		ID:          NewFlowID(),
		Name:        name,
		Version:     "1",
		Description: description,
		Metadata: Metadata{
			Created:      now,
			LastModified: now,
		},
		Nodes: make([]Node, 0),
		Edges: make([]*Edge, 0),
	}, nil
}

// AddNode adds a node to the flow. Nodes are not validated here; call
// Validate once the flow is assembled.
func (f *Flow) AddNode(node Node) error {
	if node == nil {
		return errors.New("cannot add nil node")
	}

	f.Nodes = append(f.Nodes, node)
	f.Metadata.LastModified = time.Now().UTC()
	return nil
}

// RemoveNode removes a node and every edge touching it
func (f *Flow) RemoveNode(nodeID string) error {
	found := false
	nodes := make([]Node, 0, len(f.Nodes))
	for _, node := range f.Nodes {
		if node.GetID() == nodeID {
			found = true
			continue
		}
		nodes = append(nodes, node)
	}
	if !found {
		return fmt.Errorf("node not found: %s", nodeID)
	}
	f.Nodes = nodes

	edges := make([]*Edge, 0, len(f.Edges))
	for _, edge := range f.Edges {
		if edge.SourceNodeID != nodeID && edge.TargetNodeID != nodeID {
			edges = append(edges, edge)
		}
	}
	f.Edges = edges

	f.Metadata.LastModified = time.Now().UTC()
	return nil
}

// AddEdge appends an edge, assigning an ID when it has none. Edge order is
// significant: the navigator always takes the first matching edge.
func (f *Flow) AddEdge(edge *Edge) error {
	if edge == nil {
		return errors.New("cannot add nil edge")
	}

	for _, existing := range f.Edges {
		if existing.SourceNodeID == edge.SourceNodeID &&
			existing.TargetNodeID == edge.TargetNodeID &&
			existing.Label == edge.Label {
			return fmt.Errorf("duplicate edge from %s to %s (label %q)", edge.SourceNodeID, edge.TargetNodeID, edge.Label)
		}
	}

	if edge.ID == "" {
		edge.ID = NewEdgeID()
	}

	f.Edges = append(f.Edges, edge)
	f.Metadata.LastModified = time.Now().UTC()
	return nil
}

// Connect is shorthand for AddEdge with a fresh edge.
func (f *Flow) Connect(from, to, label string) error {
	return f.AddEdge(&Edge{SourceNodeID: from, TargetNodeID: to, Label: label})
}

// Node returns the node with the given ID.
func (f *Flow) Node(nodeID string) (Node, bool) {
	for _, node := range f.Nodes {
		if node.GetID() == nodeID {
			return node, true
		}
	}
	return nil, false
}

// Start returns the first start node of the flow.
func (f *Flow) Start() (*StartNode, bool) {
	for _, node := range f.Nodes {
		if s, ok := node.(*StartNode); ok {
			return s, true
		}
	}
	return nil, false
}

// StartID returns the ID of the start node, or "" when there is none.
func (f *Flow) StartID() string {
	if s, ok := f.Start(); ok {
		return s.ID
	}
	return ""
}

// Outgoing returns the edges leaving nodeID in declaration order.
func (f *Flow) Outgoing(nodeID string) []*Edge {
	var out []*Edge
	for _, edge := range f.Edges {
		if edge.SourceNodeID == nodeID {
			out = append(out, edge)
		}
	}
	return out
}

// flowDocument is the JSON/YAML shape of a flow.
type flowDocument struct {
	ID                 string         `json:"id" yaml:"id"`
	Name               string         `json:"name" yaml:"name"`
	Version            string         `json:"version" yaml:"version"`
	Description        string         `json:"description,omitempty" yaml:"description,omitempty"`
	BoundSubjectGroups []string       `json:"bound_subject_groups" yaml:"bound_subject_groups"`
	Metadata           *Metadata      `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	Nodes              []nodeDocument `json:"nodes" yaml:"nodes"`
	Edges              []*Edge        `json:"edges" yaml:"edges"`
}

func (f *Flow) document() flowDocument {
	doc := flowDocument{
		ID:                 f.ID,
		Name:               f.Name,
		Version:            f.Version,
		Description:        f.Description,
		BoundSubjectGroups: f.BoundSubjectGroups,
		Nodes:              make([]nodeDocument, 0, len(f.Nodes)),
		Edges:              f.Edges,
	}
	if doc.BoundSubjectGroups == nil {
		doc.BoundSubjectGroups = []string{}
	}
	if doc.Edges == nil {
		doc.Edges = []*Edge{}
	}
	if !f.Metadata.Created.IsZero() || f.Metadata.Author != "" || len(f.Metadata.Tags) > 0 {
		md := f.Metadata
		doc.Metadata = &md
	}
	for _, node := range f.Nodes {
		doc.Nodes = append(doc.Nodes, documentOf(node))
	}
	return doc
}

func (doc flowDocument) toFlow() (*Flow, error) {
	f := &Flow{
		ID:                 doc.ID,
		Name:               doc.Name,
		Version:            doc.Version,
		Description:        doc.Description,
		BoundSubjectGroups: doc.BoundSubjectGroups,
		Nodes:              make([]Node, 0, len(doc.Nodes)),
		Edges:              make([]*Edge, 0, len(doc.Edges)),
	}
	if doc.Metadata != nil {
		f.Metadata = *doc.Metadata
	}
	for _, nd := range doc.Nodes {
		node, err := nd.toNode()
		if err != nil {
			return nil, err
		}
		f.Nodes = append(f.Nodes, node)
	}
	for i, edge := range doc.Edges {
		if edge == nil {
			return nil, fmt.Errorf("edge %d: empty edge", i)
		}
		if edge.ID == "" {
			edge.ID = fmt.Sprintf("%s->%s#%d", edge.SourceNodeID, edge.TargetNodeID, i)
		}
		f.Edges = append(f.Edges, edge)
	}
	return f, nil
}

// MarshalJSON implements custom JSON marshaling for Flow
func (f *Flow) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.document())
}

// UnmarshalJSON implements custom JSON unmarshaling for Flow
func (f *Flow) UnmarshalJSON(data []byte) error {
	var doc flowDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	decoded, err := doc.toFlow()
	if err != nil {
		return err
	}
	*f = *decoded
	return nil
}
