package collab

import (
	"encoding/json"
	"fmt"
)

type ActionKind string

const (
	ActionCreateTask      ActionKind = "create_task"
	ActionDeleteTask      ActionKind = "delete_task"
	ActionUpdateTask      ActionKind = "update_task"
	ActionConnectTasks    ActionKind = "connect_tasks"
	ActionDisconnectTasks ActionKind = "disconnect_tasks"
	ActionFullSync        ActionKind = "full_sync"
)

const DefaultTaskTitle = "Task"
const DefaultTaskPosition = 100.0

// one incremental graph mutation.
// `Apply` returns false when the action was dropped, e.g. its target is out of range.
// Dropped actions leave the graph unchanged.
type TaskAction interface {
	Kind() ActionKind
	Apply(graph GraphModel) bool
}

// actions that can fill in stable ids from the local graph before they are applied
// and broadcast. After a delete the id can no longer be looked up, so this runs first.
type graphBinder interface {
	bind(graph GraphModel)
}

// a node reference. The stable id wins when set; the positional index is the fallback for
// peers that do not assign ids.
type NodeRef struct {
	Id    Id
	Index int
}

func IndexRef(index int) NodeRef {
	return NodeRef{Index: index}
}

func IdRef(id Id) NodeRef {
	return NodeRef{Id: id, Index: -1}
}

// -1 when the reference does not resolve
func (self NodeRef) Resolve(graph GraphModel) int {
	if !self.Id.IsZero() {
		return graph.IndexOf(self.Id)
	}
	if 0 <= self.Index && self.Index < graph.NodeCount() {
		return self.Index
	}
	return -1
}

func (self *NodeRef) bind(graph GraphModel) {
	index := self.Resolve(graph)
	if index < 0 {
		return
	}
	self.Index = index
	if self.Id.IsZero() {
		self.Id = graph.Node(index).Id
	}
}

type CreateTask struct {
	Id          Id
	Title       string
	Description string
	Status      Status
	X           float64
	Y           float64
}

func NewCreateTask(title string, x float64, y float64) *CreateTask {
	return &CreateTask{
		Id:     NewId(),
		Title:  title,
		Status: StatusNone,
		X:      x,
		Y:      y,
	}
}

func (self *CreateTask) Kind() ActionKind {
	return ActionCreateTask
}

// always appends. Creates are never deduplicated.
func (self *CreateTask) Apply(graph GraphModel) bool {
	status := self.Status
	if !status.Valid() {
		status = StatusNone
	}
	graph.AddNode(Node{
		Id:          self.Id,
		Title:       self.Title,
		Description: self.Description,
		Status:      status,
		X:           self.X,
		Y:           self.Y,
	})
	return true
}

func (self *CreateTask) bind(graph GraphModel) {
	if self.Id.IsZero() {
		self.Id = NewId()
	}
}

type DeleteTask struct {
	Target NodeRef
}

func (self *DeleteTask) Kind() ActionKind {
	return ActionDeleteTask
}

func (self *DeleteTask) Apply(graph GraphModel) bool {
	index := self.Target.Resolve(graph)
	if index < 0 {
		return false
	}
	graph.RemoveNode(index)
	return true
}

func (self *DeleteTask) bind(graph GraphModel) {
	self.Target.bind(graph)
}

// nil fields are left unchanged. The position is only applied when both `X` and `Y` are set.
type UpdateTask struct {
	Target      NodeRef
	Title       *string
	Description *string
	Status      *Status
	X           *float64
	Y           *float64
}

func (self *UpdateTask) Kind() ActionKind {
	return ActionUpdateTask
}

func (self *UpdateTask) Apply(graph GraphModel) bool {
	index := self.Target.Resolve(graph)
	if index < 0 {
		return false
	}
	node := graph.Node(index)
	if self.Title != nil {
		node.Title = *self.Title
	}
	if self.Description != nil {
		node.Description = *self.Description
	}
	if self.Status != nil && self.Status.Valid() {
		node.Status = *self.Status
	}
	if self.X != nil && self.Y != nil {
		node.X = *self.X
		node.Y = *self.Y
	}
	graph.SetNode(index, node)
	return true
}

func (self *UpdateTask) bind(graph GraphModel) {
	self.Target.bind(graph)
}

type ConnectTasks struct {
	From NodeRef
	To   NodeRef
}

func (self *ConnectTasks) Kind() ActionKind {
	return ActionConnectTasks
}

func (self *ConnectTasks) Apply(graph GraphModel) bool {
	from := self.From.Resolve(graph)
	to := self.To.Resolve(graph)
	if from < 0 || to < 0 || from == to {
		return false
	}
	return graph.Connect(from, to)
}

func (self *ConnectTasks) bind(graph GraphModel) {
	self.From.bind(graph)
	self.To.bind(graph)
}

type DisconnectTasks struct {
	From NodeRef
	To   NodeRef
}

func (self *DisconnectTasks) Kind() ActionKind {
	return ActionDisconnectTasks
}

func (self *DisconnectTasks) Apply(graph GraphModel) bool {
	from := self.From.Resolve(graph)
	to := self.To.Resolve(graph)
	if from < 0 || to < 0 {
		return false
	}
	return graph.Disconnect(from, to)
}

func (self *DisconnectTasks) bind(graph GraphModel) {
	self.From.bind(graph)
	self.To.bind(graph)
}

// unconditionally replaces the entire local graph. This is the recovery path from any divergence.
type FullSync struct {
	Snapshot *GraphSnapshot
}

func (self *FullSync) Kind() ActionKind {
	return ActionFullSync
}

func (self *FullSync) Apply(graph GraphModel) bool {
	if self.Snapshot == nil {
		return false
	}
	graph.Load(self.Snapshot)
	return true
}

// wire payloads

type createTaskPayload struct {
	Id          Id       `json:"id"`
	Title       *string  `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Status      Status   `json:"status,omitempty"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
}

type deleteTaskPayload struct {
	Id    Id   `json:"id"`
	Index *int `json:"index,omitempty"`
}

type updateTaskPayload struct {
	Id          Id       `json:"id"`
	Index       *int     `json:"index,omitempty"`
	Title       *string  `json:"title,omitempty"`
	Description *string  `json:"description,omitempty"`
	Status      *Status  `json:"status,omitempty"`
	X           *float64 `json:"x,omitempty"`
	Y           *float64 `json:"y,omitempty"`
}

type edgePayload struct {
	FromId Id   `json:"from_id"`
	ToId   Id   `json:"to_id"`
	From   *int `json:"from,omitempty"`
	To     *int `json:"to,omitempty"`
}

type fullSyncPayload struct {
	ProjectData json.RawMessage `json:"projectData"`
}

func EncodeTaskAction(action TaskAction) (json.RawMessage, error) {
	var payload any
	switch v := action.(type) {
	case *CreateTask:
		payload = &createTaskPayload{
			Id:          v.Id,
			Title:       &v.Title,
			Description: v.Description,
			Status:      v.Status,
			X:           &v.X,
			Y:           &v.Y,
		}
	case *DeleteTask:
		payload = &deleteTaskPayload{
			Id:    v.Target.Id,
			Index: &v.Target.Index,
		}
	case *UpdateTask:
		payload = &updateTaskPayload{
			Id:          v.Target.Id,
			Index:       &v.Target.Index,
			Title:       v.Title,
			Description: v.Description,
			Status:      v.Status,
			X:           v.X,
			Y:           v.Y,
		}
	case *ConnectTasks:
		payload = &edgePayload{
			FromId: v.From.Id,
			ToId:   v.To.Id,
			From:   &v.From.Index,
			To:     &v.To.Index,
		}
	case *DisconnectTasks:
		payload = &edgePayload{
			FromId: v.From.Id,
			ToId:   v.To.Id,
			From:   &v.From.Index,
			To:     &v.To.Index,
		}
	case *FullSync:
		if v.Snapshot == nil {
			return nil, fmt.Errorf("full_sync without a snapshot")
		}
		projectData, err := v.Snapshot.Json()
		if err != nil {
			return nil, err
		}
		payload = &fullSyncPayload{
			ProjectData: projectData,
		}
	default:
		return nil, fmt.Errorf("unknown task action %T", action)
	}
	return json.Marshal(payload)
}

// missing fields take the defaults of the desktop client: title "Task", position (100, 100),
// index -1 (which never resolves)
func DecodeTaskAction(kind string, payload json.RawMessage) (TaskAction, error) {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	switch ActionKind(kind) {
	case ActionCreateTask:
		var p createTaskPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		action := &CreateTask{
			Id:          p.Id,
			Title:       DefaultTaskTitle,
			Description: p.Description,
			Status:      p.Status,
			X:           DefaultTaskPosition,
			Y:           DefaultTaskPosition,
		}
		if p.Title != nil {
			action.Title = *p.Title
		}
		if p.X != nil {
			action.X = *p.X
		}
		if p.Y != nil {
			action.Y = *p.Y
		}
		return action, nil
	case ActionDeleteTask:
		var p deleteTaskPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return &DeleteTask{
			Target: decodeRef(p.Id, p.Index),
		}, nil
	case ActionUpdateTask:
		var p updateTaskPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return &UpdateTask{
			Target:      decodeRef(p.Id, p.Index),
			Title:       p.Title,
			Description: p.Description,
			Status:      p.Status,
			X:           p.X,
			Y:           p.Y,
		}, nil
	case ActionConnectTasks:
		var p edgePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return &ConnectTasks{
			From: decodeRef(p.FromId, p.From),
			To:   decodeRef(p.ToId, p.To),
		}, nil
	case ActionDisconnectTasks:
		var p edgePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		return &DisconnectTasks{
			From: decodeRef(p.FromId, p.From),
			To:   decodeRef(p.ToId, p.To),
		}, nil
	case ActionFullSync:
		var p fullSyncPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, err
		}
		if len(p.ProjectData) == 0 || string(p.ProjectData) == "null" {
			return nil, fmt.Errorf("full_sync without project data")
		}
		snapshot, err := ParseGraphSnapshot(p.ProjectData)
		if err != nil {
			return nil, err
		}
		return &FullSync{
			Snapshot: snapshot,
		}, nil
	default:
		return nil, fmt.Errorf("unknown task action %s", kind)
	}
}

func decodeRef(id Id, index *int) NodeRef {
	ref := NodeRef{
		Id:    id,
		Index: -1,
	}
	if index != nil {
		ref.Index = *index
	}
	return ref
}
