package relay

import (
	"encoding/json"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bringyour/collab/protocol"
)

// invite codes avoid the ambiguous characters 0 O 1 I
const CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
const CodeLength = 6

type room struct {
	id     string
	code   string
	hostId string
	// the stable client id of the host, used to restore the host on rejoin
	hostClientId string
	// member id -> member, in join order
	members     map[string]protocol.Member
	memberOrder []string
	projectData json.RawMessage
	createTime  time.Time
}

func (self *room) addMember(member protocol.Member) {
	if _, ok := self.members[member.Id]; !ok {
		self.memberOrder = append(self.memberOrder, member.Id)
	}
	self.members[member.Id] = member
}

func (self *room) removeMember(memberId string) bool {
	if _, ok := self.members[memberId]; !ok {
		return false
	}
	delete(self.members, memberId)
	for i, id := range self.memberOrder {
		if id == memberId {
			self.memberOrder = append(self.memberOrder[:i:i], self.memberOrder[i+1:]...)
			break
		}
	}
	return true
}

func (self *room) memberList() []protocol.Member {
	members := make([]protocol.Member, 0, len(self.memberOrder))
	for _, id := range self.memberOrder {
		members = append(members, self.members[id])
	}
	return members
}

func (self *room) view() *RoomView {
	return &RoomView{
		Id:          self.id,
		Code:        self.code,
		HostId:      self.hostId,
		ProjectData: self.projectData,
		Members:     self.memberList(),
		CreateTime:  self.createTime,
	}
}

// a copy of the room state at one point in time
type RoomView struct {
	Id          string
	Code        string
	HostId      string
	ProjectData json.RawMessage
	Members     []protocol.Member
	CreateTime  time.Time
}

// in-memory room registry. Rooms live until the host closes them.
// Safe for concurrent use.
type Rooms struct {
	mutex sync.Mutex
	// room id -> room
	rooms map[string]*room
	// code -> room id
	codes map[string]string
}

func NewRooms() *Rooms {
	return &Rooms{
		rooms: map[string]*room{},
		codes: map[string]string{},
	}
}

func generateCode() string {
	var b strings.Builder
	for range CodeLength {
		b.WriteByte(CodeAlphabet[rand.IntN(len(CodeAlphabet))])
	}
	return b.String()
}

// the code is unique among live rooms
func (self *Rooms) Create(hostId string, hostName string, hostClientId string, projectData json.RawMessage) (roomId string, code string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	roomId = uuid.NewString()
	code = generateCode()
	for {
		if _, ok := self.codes[code]; !ok {
			break
		}
		code = generateCode()
	}

	r := &room{
		id:           roomId,
		code:         code,
		hostId:       hostId,
		hostClientId: hostClientId,
		members:      map[string]protocol.Member{},
		projectData:  projectData,
		createTime:   time.Now(),
	}
	r.addMember(protocol.Member{Id: hostId, Name: hostName})

	self.rooms[roomId] = r
	self.codes[code] = roomId
	return
}

func (self *Rooms) roomByCode(code string) (*room, bool) {
	roomId, ok := self.codes[strings.ToUpper(code)]
	if !ok {
		return nil, false
	}
	r, ok := self.rooms[roomId]
	return r, ok
}

// the code is matched case insensitively
func (self *Rooms) Join(code string, memberId string, name string) (*RoomView, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	r, ok := self.roomByCode(code)
	if !ok {
		return nil, false
	}
	r.addMember(protocol.Member{Id: memberId, Name: name})
	return r.view(), true
}

// like `Join`. If `clientId` matches the client that created the room,
// the member becomes the host again.
func (self *Rooms) Rejoin(code string, memberId string, name string, clientId string) (view *RoomView, isHost bool, ok bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	r, ok := self.roomByCode(code)
	if !ok {
		return nil, false, false
	}
	r.addMember(protocol.Member{Id: memberId, Name: name})
	if clientId != "" && clientId == r.hostClientId {
		r.hostId = memberId
	}
	return r.view(), r.hostId == memberId, true
}

// returns false if the room or member does not exist
func (self *Rooms) Leave(roomId string, memberId string) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	r, ok := self.rooms[roomId]
	if !ok {
		return false
	}
	return r.removeMember(memberId)
}

// removes the room. Only the host can close a room.
// Returns the members at the time of close.
func (self *Rooms) Close(roomId string, memberId string) ([]protocol.Member, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	r, ok := self.rooms[roomId]
	if !ok || r.hostId != memberId {
		return nil, false
	}
	delete(self.rooms, roomId)
	delete(self.codes, r.code)
	return r.memberList(), true
}

func (self *Rooms) IsHost(roomId string, memberId string) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	r, ok := self.rooms[roomId]
	return ok && r.hostId == memberId
}

func (self *Rooms) UpdateProjectData(roomId string, projectData json.RawMessage) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	r, ok := self.rooms[roomId]
	if !ok {
		return false
	}
	r.projectData = projectData
	return true
}

// empty if the room does not exist
func (self *Rooms) Members(roomId string) []protocol.Member {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	r, ok := self.rooms[roomId]
	if !ok {
		return []protocol.Member{}
	}
	return r.memberList()
}

func (self *Rooms) Get(roomId string) (*RoomView, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	r, ok := self.rooms[roomId]
	if !ok {
		return nil, false
	}
	return r.view(), true
}

func (self *Rooms) GetByCode(code string) (*RoomView, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	r, ok := self.roomByCode(code)
	if !ok {
		return nil, false
	}
	return r.view(), true
}

func (self *Rooms) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.rooms)
}
