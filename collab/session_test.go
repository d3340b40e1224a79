package collab

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestSessionLifecycle(t *testing.T) {
	session := NewSession()
	assert.Equal(t, session.State(), StateDisconnected)

	// a room needs a connection
	assert.NotEqual(t, session.enterRoom(RoomSession{RoomId: "r1"}, nil), nil)

	assert.Equal(t, session.connecting(), nil)
	assert.NotEqual(t, session.connecting(), nil)
	session.connected()
	assert.Equal(t, session.State(), StateConnected)

	err := session.enterRoom(RoomSession{RoomId: "r1", Role: RoleHost}, []Participant{{Id: "h", DisplayName: "Host"}})
	assert.Equal(t, err, nil)
	assert.Equal(t, session.State(), StateInRoom)
	assert.Equal(t, session.IsHost(), true)
	assert.Equal(t, len(session.Roster()), 1)

	// never two rooms
	assert.NotEqual(t, session.enterRoom(RoomSession{RoomId: "r2"}, nil), nil)
	assert.Equal(t, session.Room().RoomId, "r1")

	assert.Equal(t, session.leaveRoom(), true)
	assert.Equal(t, session.State(), StateConnected)
	assert.Equal(t, session.Room(), RoomSession{})
	assert.Equal(t, len(session.Roster()), 0)

	// leave twice is a no-op
	assert.Equal(t, session.leaveRoom(), false)

	assert.Equal(t, session.enterRoom(RoomSession{RoomId: "r2", Role: RoleGuest}, nil), nil)
	assert.Equal(t, session.IsHost(), false)
	session.disconnected()
	assert.Equal(t, session.State(), StateDisconnected)
	assert.Equal(t, session.Room().InRoom(), false)
}

func TestSessionRoster(t *testing.T) {
	session := NewSession()
	session.connecting()
	session.connected()
	session.enterRoom(RoomSession{RoomId: "r1", Role: RoleGuest}, nil)

	session.addMember(Participant{Id: "b", DisplayName: "Bob"})
	session.addMember(Participant{Id: "a", DisplayName: "Ann"})
	assert.Equal(t, session.Roster(), []Participant{{Id: "a", DisplayName: "Ann"}, {Id: "b", DisplayName: "Bob"}})

	session.removeMember("a")
	assert.Equal(t, session.Roster(), []Participant{{Id: "b", DisplayName: "Bob"}})

	session.setMembers([]Participant{{Id: "c", DisplayName: "Cat"}})
	assert.Equal(t, session.Roster(), []Participant{{Id: "c", DisplayName: "Cat"}})
}

func TestStateString(t *testing.T) {
	assert.Equal(t, StateDisconnected.String(), "disconnected")
	assert.Equal(t, StateInRoom.String(), "in_room")
	assert.Equal(t, RoleHost.String(), "host")
	assert.Equal(t, RoleNone.String(), "none")
}
