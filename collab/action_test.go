package collab

import (
	"encoding/json"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestCreateTaskAppends(t *testing.T) {
	graph := NewGraphWithSnapshot(testSnapshot("A"))

	action, err := DecodeTaskAction("create_task", json.RawMessage(`{"title":"X","x":10,"y":20}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, action.Apply(graph), true)
	assert.Equal(t, graph.NodeCount(), 2)
	assert.Equal(t, graph.Node(1).Title, "X")
	assert.Equal(t, graph.Node(1).X, 10.0)
	assert.Equal(t, graph.Node(1).Y, 20.0)
	assert.Equal(t, graph.Node(1).Status, StatusNone)

	// creates are never deduplicated
	assert.Equal(t, action.Apply(graph), true)
	assert.Equal(t, graph.NodeCount(), 3)
}

func TestCreateTaskDefaults(t *testing.T) {
	graph := NewGraph()

	action, err := DecodeTaskAction("create_task", nil)
	assert.Equal(t, err, nil)
	action.Apply(graph)
	node := graph.Node(0)
	assert.Equal(t, node.Title, DefaultTaskTitle)
	assert.Equal(t, node.X, DefaultTaskPosition)
	assert.Equal(t, node.Y, DefaultTaskPosition)

	// an unknown status falls back to none
	action, err = DecodeTaskAction("create_task", json.RawMessage(`{"status":"blocked"}`))
	assert.Equal(t, err, nil)
	action.Apply(graph)
	assert.Equal(t, graph.Node(1).Status, StatusNone)
}

func TestDeleteTaskOutOfRange(t *testing.T) {
	snapshot := testSnapshot("A", "B")
	graph := NewGraphWithSnapshot(snapshot)

	for _, payload := range []string{`{"index":2}`, `{"index":99}`, `{"index":-1}`, `{}`} {
		action, err := DecodeTaskAction("delete_task", json.RawMessage(payload))
		assert.Equal(t, err, nil)
		assert.Equal(t, action.Apply(graph), false)
		assert.Equal(t, graph.Snapshot(), snapshot)
	}
}

func TestDeleteTaskById(t *testing.T) {
	snapshot := testSnapshot("A", "B", "C")
	graph := NewGraphWithSnapshot(snapshot)

	// the id wins over a stale index
	action := &DeleteTask{Target: NodeRef{Id: snapshot.Nodes[2].Id, Index: 0}}
	assert.Equal(t, action.Apply(graph), true)
	assert.Equal(t, graph.NodeCount(), 2)
	assert.Equal(t, graph.Node(0).Title, "A")
	assert.Equal(t, graph.Node(1).Title, "B")

	// an unknown id is dropped even if the index resolves
	action = &DeleteTask{Target: NodeRef{Id: NewId(), Index: 0}}
	assert.Equal(t, action.Apply(graph), false)
	assert.Equal(t, graph.NodeCount(), 2)
}

func TestUpdateTask(t *testing.T) {
	graph := NewGraphWithSnapshot(testSnapshot("A"))

	action, err := DecodeTaskAction("update_task", json.RawMessage(`{"index":0,"title":"T","status":"done","description":"d"}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, action.Apply(graph), true)
	node := graph.Node(0)
	assert.Equal(t, node.Title, "T")
	assert.Equal(t, node.Description, "d")
	assert.Equal(t, node.Status, StatusDone)

	// the position needs both coordinates
	action, err = DecodeTaskAction("update_task", json.RawMessage(`{"index":0,"x":55}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, action.Apply(graph), true)
	assert.Equal(t, graph.Node(0).X, 0.0)

	action, err = DecodeTaskAction("update_task", json.RawMessage(`{"index":0,"x":55,"y":66}`))
	assert.Equal(t, err, nil)
	action.Apply(graph)
	assert.Equal(t, graph.Node(0).X, 55.0)
	assert.Equal(t, graph.Node(0).Y, 66.0)

	// an invalid status is ignored, other fields still apply
	action, err = DecodeTaskAction("update_task", json.RawMessage(`{"index":0,"status":"blocked","title":"U"}`))
	assert.Equal(t, err, nil)
	action.Apply(graph)
	assert.Equal(t, graph.Node(0).Status, StatusDone)
	assert.Equal(t, graph.Node(0).Title, "U")

	action, err = DecodeTaskAction("update_task", json.RawMessage(`{"index":3,"title":"V"}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, action.Apply(graph), false)
}

func TestConnectTasks(t *testing.T) {
	graph := NewGraphWithSnapshot(testSnapshot("A", "B"))

	action, err := DecodeTaskAction("connect_tasks", json.RawMessage(`{"from":0,"to":1}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, action.Apply(graph), true)
	assert.Equal(t, action.Apply(graph), false)

	action, err = DecodeTaskAction("connect_tasks", json.RawMessage(`{"from":1,"to":1}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, action.Apply(graph), false)

	action, err = DecodeTaskAction("connect_tasks", json.RawMessage(`{"from":0,"to":5}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, action.Apply(graph), false)

	action, err = DecodeTaskAction("disconnect_tasks", json.RawMessage(`{"from":1,"to":0}`))
	assert.Equal(t, err, nil)
	assert.Equal(t, action.Apply(graph), true)
	assert.Equal(t, len(graph.Snapshot().Connections), 0)
}

func TestFullSyncReplaces(t *testing.T) {
	target := testSnapshot("S1", "S2")
	target.Connections = []Edge{{0, 1}}
	target.Scale = 0.5
	projectData, err := target.Json()
	assert.Equal(t, err, nil)
	payload, err := json.Marshal(map[string]json.RawMessage{"projectData": projectData})
	assert.Equal(t, err, nil)

	for _, prior := range []*GraphSnapshot{
		NewGraphSnapshot(),
		testSnapshot("A"),
		testSnapshot("A", "B", "C", "D"),
	} {
		graph := NewGraphWithSnapshot(prior)
		action, err := DecodeTaskAction("full_sync", payload)
		assert.Equal(t, err, nil)
		assert.Equal(t, action.Apply(graph), true)
		assert.Equal(t, graph.Snapshot(), target)
	}

	_, err = DecodeTaskAction("full_sync", json.RawMessage(`{}`))
	assert.NotEqual(t, err, nil)
}

func TestDecodeUnknownAction(t *testing.T) {
	_, err := DecodeTaskAction("rename_project", json.RawMessage(`{}`))
	assert.NotEqual(t, err, nil)

	_, err = DecodeTaskAction("create_task", json.RawMessage(`[1]`))
	assert.NotEqual(t, err, nil)
}

func TestEncodeDecodeCarriesIds(t *testing.T) {
	snapshot := testSnapshot("A", "B")
	graph := NewGraphWithSnapshot(snapshot)

	connect := &ConnectTasks{From: IndexRef(0), To: IndexRef(1)}
	connect.bind(graph)
	assert.Equal(t, connect.From.Id, snapshot.Nodes[0].Id)
	assert.Equal(t, connect.To.Id, snapshot.Nodes[1].Id)

	payload, err := EncodeTaskAction(connect)
	assert.Equal(t, err, nil)
	decoded, err := DecodeTaskAction(string(ActionConnectTasks), payload)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded, connect)

	title := "T"
	update := &UpdateTask{Target: IndexRef(1), Title: &title}
	update.bind(graph)
	payload, err = EncodeTaskAction(update)
	assert.Equal(t, err, nil)
	decoded, err = DecodeTaskAction(string(ActionUpdateTask), payload)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded.(*UpdateTask).Target, NodeRef{Id: snapshot.Nodes[1].Id, Index: 1})
	assert.Equal(t, *decoded.(*UpdateTask).Title, "T")

	create := NewCreateTask("C", 1, 2)
	payload, err = EncodeTaskAction(create)
	assert.Equal(t, err, nil)
	decoded, err = DecodeTaskAction(string(ActionCreateTask), payload)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded, create)
}

// a peer that deleted a node earlier still resolves later actions by id
func TestIdsSurviveIndexShift(t *testing.T) {
	snapshot := testSnapshot("A", "B", "C")
	local := NewGraphWithSnapshot(snapshot)
	remote := NewGraphWithSnapshot(snapshot)

	localDelete := &DeleteTask{Target: IndexRef(0)}
	localDelete.bind(local)
	localDelete.Apply(local)

	title := "C2"
	remoteUpdate := &UpdateTask{Target: IndexRef(2), Title: &title}
	remoteUpdate.bind(remote)

	// the remote index 2 no longer exists locally, the id still resolves
	assert.Equal(t, remoteUpdate.Apply(local), true)
	assert.Equal(t, local.Node(1).Title, "C2")
}
