package collab

import (
	"fmt"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	// connected, no room
	StateConnected
	StateInRoom
)

func (self State) String() string {
	switch self {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateInRoom:
		return "in_room"
	default:
		return fmt.Sprintf("state(%d)", int(self))
	}
}

type Role int

const (
	RoleNone Role = iota
	RoleHost
	RoleGuest
)

func (self Role) String() string {
	switch self {
	case RoleHost:
		return "host"
	case RoleGuest:
		return "guest"
	default:
		return "none"
	}
}

type Participant struct {
	Id          string
	DisplayName string
}

// room membership of this client. The zero value is "no room".
type RoomSession struct {
	RoomId string
	// host only, human shareable
	InviteCode      string
	Role            Role
	ParticipantName string
	// relay assigned id of this client, if reported
	SelfId string
}

func (self RoomSession) InRoom() bool {
	return self.RoomId != ""
}

func (self RoomSession) IsHost() bool {
	return self.InRoom() && self.Role == RoleHost
}

// room lifecycle state machine:
//     Disconnected -> Connecting -> Connected -> InRoom(Host|Guest) -> Connected
//     any -> Disconnected on transport disconnect
// The roster is only changed from relay pushes.
// Owned by the dispatcher worker goroutine.
type Session struct {
	state  State
	room   RoomSession
	roster map[string]Participant
}

func NewSession() *Session {
	return &Session{
		state:  StateDisconnected,
		roster: map[string]Participant{},
	}
}

func (self *Session) State() State {
	return self.state
}

func (self *Session) Room() RoomSession {
	return self.room
}

func (self *Session) InRoom() bool {
	return self.state == StateInRoom
}

func (self *Session) IsHost() bool {
	return self.InRoom() && self.room.Role == RoleHost
}

// ordered by participant id
func (self *Session) Roster() []Participant {
	participants := maps.Values(self.roster)
	slices.SortFunc(participants, func(a Participant, b Participant) int {
		return strings.Compare(a.Id, b.Id)
	})
	return participants
}

func (self *Session) connecting() error {
	if self.state != StateDisconnected {
		return fmt.Errorf("cannot connect from %s", self.state)
	}
	self.state = StateConnecting
	return nil
}

func (self *Session) connected() {
	if self.state == StateConnecting {
		self.state = StateConnected
	}
}

func (self *Session) enterRoom(room RoomSession, members []Participant) error {
	if self.state != StateConnected {
		return fmt.Errorf("cannot enter a room from %s", self.state)
	}
	self.state = StateInRoom
	self.room = room
	self.roster = map[string]Participant{}
	for _, member := range members {
		self.roster[member.Id] = member
	}
	return nil
}

// returns false if not in a room
func (self *Session) leaveRoom() bool {
	if self.state != StateInRoom {
		return false
	}
	self.state = StateConnected
	self.clearRoom()
	return true
}

// valid from any state
func (self *Session) disconnected() {
	self.state = StateDisconnected
	self.clearRoom()
}

func (self *Session) clearRoom() {
	self.room = RoomSession{}
	self.roster = map[string]Participant{}
}

func (self *Session) setMembers(members []Participant) {
	self.roster = map[string]Participant{}
	for _, member := range members {
		self.roster[member.Id] = member
	}
}

func (self *Session) addMember(member Participant) {
	self.roster[member.Id] = member
}

func (self *Session) removeMember(participantId string) {
	delete(self.roster, participantId)
}
