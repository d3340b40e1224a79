package relay

import (
	"encoding/json"
	"flag"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"
	"github.com/google/uuid"

	"github.com/bringyour/collab/protocol"
)

func init() {
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "INFO")
	flag.Set("v", "0")
}

func TestRoomCodes(t *testing.T) {
	rooms := NewRooms()

	codes := map[string]bool{}
	for range 512 {
		_, code := rooms.Create(uuid.NewString(), "Host", "", nil)
		assert.Equal(t, len(code), CodeLength)
		for _, c := range code {
			assert.Equal(t, strings.ContainsRune(CodeAlphabet, c), true)
		}
		assert.Equal(t, codes[code], false)
		codes[code] = true
	}
	assert.Equal(t, rooms.Len(), 512)
}

func TestRoomJoinCaseInsensitive(t *testing.T) {
	rooms := NewRooms()
	projectData := json.RawMessage(`{"nodes":[]}`)
	roomId, code := rooms.Create("h", "Alpha", "", projectData)

	view, ok := rooms.Join(strings.ToLower(code), "b", "Bob")
	assert.Equal(t, ok, true)
	assert.Equal(t, view.Id, roomId)
	assert.Equal(t, view.HostId, "h")
	assert.Equal(t, string(view.ProjectData), string(projectData))
	// join order
	assert.Equal(t, view.Members, []protocol.Member{{Id: "h", Name: "Alpha"}, {Id: "b", Name: "Bob"}})

	_, ok = rooms.Join("ZZZZZZ", "c", "Cat")
	assert.Equal(t, ok, false)
}

func TestRoomLeave(t *testing.T) {
	rooms := NewRooms()
	roomId, code := rooms.Create("h", "Alpha", "", nil)
	rooms.Join(code, "b", "Bob")

	assert.Equal(t, rooms.Leave(roomId, "b"), true)
	assert.Equal(t, rooms.Leave(roomId, "b"), false)
	assert.Equal(t, rooms.Members(roomId), []protocol.Member{{Id: "h", Name: "Alpha"}})

	// the room outlives its members
	assert.Equal(t, rooms.Leave(roomId, "h"), true)
	assert.Equal(t, len(rooms.Members(roomId)), 0)
	_, ok := rooms.GetByCode(code)
	assert.Equal(t, ok, true)

	assert.Equal(t, rooms.Leave("missing", "h"), false)
	assert.Equal(t, len(rooms.Members("missing")), 0)
}

func TestRoomCloseHostOnly(t *testing.T) {
	rooms := NewRooms()
	roomId, code := rooms.Create("h", "Alpha", "", nil)
	rooms.Join(code, "b", "Bob")

	_, ok := rooms.Close(roomId, "b")
	assert.Equal(t, ok, false)
	assert.Equal(t, rooms.IsHost(roomId, "b"), false)
	assert.Equal(t, rooms.IsHost(roomId, "h"), true)

	members, ok := rooms.Close(roomId, "h")
	assert.Equal(t, ok, true)
	assert.Equal(t, len(members), 2)
	assert.Equal(t, rooms.Len(), 0)

	_, ok = rooms.Get(roomId)
	assert.Equal(t, ok, false)
	_, ok = rooms.Join(code, "c", "Cat")
	assert.Equal(t, ok, false)
}

func TestRoomRejoinHost(t *testing.T) {
	rooms := NewRooms()
	roomId, code := rooms.Create("h1", "Alpha", "client-a", nil)
	rooms.Join(code, "b", "Bob")
	rooms.Leave(roomId, "h1")

	// a new connection of another client
	_, isHost, ok := rooms.Rejoin(code, "c", "Cat", "client-c")
	assert.Equal(t, ok, true)
	assert.Equal(t, isHost, false)

	// a new connection of the creating client
	view, isHost, ok := rooms.Rejoin(code, "h2", "Alpha", "client-a")
	assert.Equal(t, ok, true)
	assert.Equal(t, isHost, true)
	assert.Equal(t, view.HostId, "h2")
	assert.Equal(t, rooms.IsHost(roomId, "h2"), true)

	_, _, ok = rooms.Rejoin("ZZZZZZ", "d", "Dan", "client-a")
	assert.Equal(t, ok, false)
}

func TestRoomUpdateProjectData(t *testing.T) {
	rooms := NewRooms()
	roomId, _ := rooms.Create("h", "Alpha", "", json.RawMessage(`{"nodes":[]}`))

	assert.Equal(t, rooms.UpdateProjectData(roomId, json.RawMessage(`{"nodes":[{"title":"A"}]}`)), true)
	view, _ := rooms.Get(roomId)
	assert.Equal(t, string(view.ProjectData), `{"nodes":[{"title":"A"}]}`)

	assert.Equal(t, rooms.UpdateProjectData("missing", nil), false)
}
