package collab

import (
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/bringyour/collab/protocol"
)

func TestSyncEngineTag(t *testing.T) {
	clientId := NewId()
	engine := NewSyncEngine(clientId)

	a, err := engine.Encode(NewCreateTask("A", 1, 2))
	assert.Equal(t, err, nil)
	b, err := engine.Encode(NewCreateTask("B", 1, 2))
	assert.Equal(t, err, nil)

	assert.Equal(t, a.Action, "create_task")
	assert.Equal(t, a.Origin, clientId.String())
	assert.Equal(t, a.Seq, uint64(1))
	assert.Equal(t, b.Seq, uint64(2))

	// sequence numbers are per client, not per room
	engine.Reset("")
	c, err := engine.Encode(NewCreateTask("C", 1, 2))
	assert.Equal(t, err, nil)
	assert.Equal(t, c.Seq, uint64(3))
}

func TestSyncEngineDropsEcho(t *testing.T) {
	engine := NewSyncEngine(NewId())
	engine.Reset("self")

	message, err := engine.Encode(NewCreateTask("A", 1, 2))
	assert.Equal(t, err, nil)
	_, ok := engine.Accept(message)
	assert.Equal(t, ok, false)

	// untagged, but the relay reports it came from this client
	_, ok = engine.Accept(&protocol.TaskAction{
		Action: "create_task",
		From:   "self",
	})
	assert.Equal(t, ok, false)
}

func TestSyncEngineDropsDuplicates(t *testing.T) {
	peer := NewSyncEngine(NewId())
	engine := NewSyncEngine(NewId())

	first, _ := peer.Encode(NewCreateTask("A", 1, 2))
	second, _ := peer.Encode(NewCreateTask("B", 1, 2))

	action, ok := engine.Accept(first)
	assert.Equal(t, ok, true)
	assert.Equal(t, action.Kind(), ActionCreateTask)

	_, ok = engine.Accept(first)
	assert.Equal(t, ok, false)

	_, ok = engine.Accept(second)
	assert.Equal(t, ok, true)

	// a late redelivery of an older action
	_, ok = engine.Accept(first)
	assert.Equal(t, ok, false)

	// entering a new room clears the history
	engine.Reset("")
	_, ok = engine.Accept(first)
	assert.Equal(t, ok, true)
}

func TestSyncEngineAcceptsUntagged(t *testing.T) {
	engine := NewSyncEngine(NewId())

	message := &protocol.TaskAction{
		Action:  "create_task",
		Payload: []byte(`{"title":"X"}`),
		From:    "peer",
	}
	for range 3 {
		_, ok := engine.Accept(message)
		assert.Equal(t, ok, true)
	}
}

func TestSyncEngineDropsUndecodable(t *testing.T) {
	engine := NewSyncEngine(NewId())
	peer := NewSyncEngine(NewId())

	message := peer.Tag(ActionKind("rename_project"), []byte(`{}`))
	_, ok := engine.Accept(message)
	assert.Equal(t, ok, false)

	// an undecodable action does not advance the sequence
	message.Action = "create_task"
	_, ok = engine.Accept(message)
	assert.Equal(t, ok, true)
}
