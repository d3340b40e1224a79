package collab

import (
	"encoding/json"

	"golang.org/x/exp/slices"
)

type Status string

const (
	StatusNone      Status = "none"
	StatusDone      Status = "done"
	StatusProgress  Status = "progress"
	StatusTodo      Status = "todo"
	StatusCancelled Status = "cancelled"
)

func (self Status) Valid() bool {
	switch self {
	case StatusNone, StatusDone, StatusProgress, StatusTodo, StatusCancelled:
		return true
	default:
		return false
	}
}

type Node struct {
	Id          Id      `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Status      Status  `json:"status"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
}

// an unordered pair of node indices
type Edge [2]int

func (self Edge) Same(b Edge) bool {
	return (self[0] == b[0] && self[1] == b[1]) || (self[0] == b[1] && self[1] == b[0])
}

func (self Edge) Has(index int) bool {
	return self[0] == index || self[1] == index
}

// the full exportable state of the task graph.
// This is exchanged whole on create, join and resync.
type GraphSnapshot struct {
	Nodes       []Node  `json:"nodes"`
	Connections []Edge  `json:"connections"`
	Scale       float64 `json:"scale"`
	OffsetX     float64 `json:"offset_x"`
	OffsetY     float64 `json:"offset_y"`
}

func NewGraphSnapshot() *GraphSnapshot {
	return &GraphSnapshot{
		Nodes:       []Node{},
		Connections: []Edge{},
		Scale:       1.0,
	}
}

// nil and empty (`null`, `{}`) project data decode to an empty snapshot
func ParseGraphSnapshot(projectData []byte) (*GraphSnapshot, error) {
	snapshot := NewGraphSnapshot()
	if len(projectData) == 0 || string(projectData) == "null" {
		return snapshot, nil
	}
	if err := json.Unmarshal(projectData, snapshot); err != nil {
		return nil, err
	}
	return snapshot, nil
}

// nodes and edges are values, so a shallow slice clone is a deep copy
func (self *GraphSnapshot) Clone() *GraphSnapshot {
	return &GraphSnapshot{
		Nodes:       slices.Clone(self.Nodes),
		Connections: slices.Clone(self.Connections),
		Scale:       self.Scale,
		OffsetX:     self.OffsetX,
		OffsetY:     self.OffsetY,
	}
}

func (self *GraphSnapshot) Json() (json.RawMessage, error) {
	return json.Marshal(self)
}

// the local graph the sync engine mutates.
// Implementations are owned by the ui goroutine and are never called from the network side.
// Indices are positional into the current node ordering.
type GraphModel interface {
	Snapshot() *GraphSnapshot
	Load(snapshot *GraphSnapshot)
	NodeCount() int
	Node(index int) Node
	// -1 if not found
	IndexOf(id Id) int
	// returns the index of the new node
	AddNode(node Node) int
	RemoveNode(index int)
	SetNode(index int, node Node)
	// false if the edge already existed
	Connect(a int, b int) bool
	// false if the edge did not exist
	Disconnect(a int, b int) bool
}

// in-memory `GraphModel`. Not safe for concurrent use.
type Graph struct {
	snapshot *GraphSnapshot
}

func NewGraph() *Graph {
	return &Graph{
		snapshot: NewGraphSnapshot(),
	}
}

func NewGraphWithSnapshot(snapshot *GraphSnapshot) *Graph {
	return &Graph{
		snapshot: snapshot.Clone(),
	}
}

func (self *Graph) Snapshot() *GraphSnapshot {
	return self.snapshot.Clone()
}

// replaces the entire graph verbatim
func (self *Graph) Load(snapshot *GraphSnapshot) {
	self.snapshot = snapshot.Clone()
}

func (self *Graph) NodeCount() int {
	return len(self.snapshot.Nodes)
}

func (self *Graph) Node(index int) Node {
	return self.snapshot.Nodes[index]
}

func (self *Graph) IndexOf(id Id) int {
	if id.IsZero() {
		return -1
	}
	return slices.IndexFunc(self.snapshot.Nodes, func(node Node) bool {
		return node.Id == id
	})
}

func (self *Graph) AddNode(node Node) int {
	self.snapshot.Nodes = append(self.snapshot.Nodes, node)
	return len(self.snapshot.Nodes) - 1
}

// removes the node and its edges, and shifts the edge indices above it down by one
func (self *Graph) RemoveNode(index int) {
	self.snapshot.Nodes = slices.Delete(self.snapshot.Nodes, index, index+1)

	connections := make([]Edge, 0, len(self.snapshot.Connections))
	for _, edge := range self.snapshot.Connections {
		if edge.Has(index) {
			continue
		}
		for i, end := range edge {
			if index < end {
				edge[i] = end - 1
			}
		}
		connections = append(connections, edge)
	}
	self.snapshot.Connections = connections
}

func (self *Graph) SetNode(index int, node Node) {
	self.snapshot.Nodes[index] = node
}

func (self *Graph) Connect(a int, b int) bool {
	edge := Edge{a, b}
	if slices.ContainsFunc(self.snapshot.Connections, edge.Same) {
		return false
	}
	self.snapshot.Connections = append(self.snapshot.Connections, edge)
	return true
}

func (self *Graph) Disconnect(a int, b int) bool {
	edge := Edge{a, b}
	i := slices.IndexFunc(self.snapshot.Connections, edge.Same)
	if i < 0 {
		return false
	}
	self.snapshot.Connections = slices.Delete(self.snapshot.Connections, i, i+1)
	return true
}
