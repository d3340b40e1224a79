package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/golang/glog"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bringyour/collab/protocol"
)

// Reference relay. Routes frames between the members of a room:
// - `create_room`, `join_room`, `rejoin_room` and `close_room` are answered with an ack
// - membership changes are pushed to the whole room, including the sender, before the ack
// - `task_action`, `cursor_move` and `sync_project` fan out to the other members only
// - a dropped connection leaves its room
// The relay does not interpret project data or task actions.

const (
	messageRoomNotFound       = "Room not found"
	messageRoomNotFoundClosed = "Room not found or closed"
	messageNotInRoom          = "Not in a room"
	messageOnlyHost           = "Only host can close room"
	messageRoomClosedByHost   = "Room was closed by host"
	messageJoined             = "Joined successfully"
)

type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *Settings
	rooms    *Rooms
	upgrader websocket.Upgrader

	// serializes room membership changes. Their acks and pushes are queued under the lock,
	// so every client sees membership changes in one order. Taken before `stateLock`.
	roomLock sync.Mutex

	stateLock sync.Mutex
	// member id -> conn
	conns map[string]*conn
	// member id -> room id
	memberRooms map[string]string
}

func NewServerWithDefaults(ctx context.Context) *Server {
	return NewServer(ctx, DefaultSettings())
}

func NewServer(ctx context.Context, settings *Settings) *Server {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Server{
		ctx:      cancelCtx,
		cancel:   cancel,
		settings: settings,
		rooms:    NewRooms(),
		upgrader: websocket.Upgrader{
			HandshakeTimeout: settings.HandshakeTimeout,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		conns:       map[string]*conn{},
		memberRooms: map[string]string{},
	}
}

func (self *Server) Rooms() *Rooms {
	return self.rooms
}

// `GET /ws` websocket, `GET /status` json status
func (self *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/ws", self.handleWebsocket).Methods(http.MethodGet)
	router.HandleFunc("/status", self.handleStatus).Methods(http.MethodGet)
	return router
}

// closes all connections
func (self *Server) Close() {
	self.cancel()

	self.stateLock.Lock()
	conns := make([]*conn, 0, len(self.conns))
	for _, c := range self.conns {
		conns = append(conns, c)
	}
	self.stateLock.Unlock()

	for _, c := range conns {
		c.close()
	}
}

func (self *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader already wrote the error response
		glog.V(1).Infof("[r]upgrade = %s\n", err)
		return
	}

	c := newConn(self.ctx, self, uuid.NewString(), ws)
	self.stateLock.Lock()
	self.conns[c.id] = c
	self.stateLock.Unlock()

	glog.V(1).Infof("[r]connected %s %s\n", c.id, r.RemoteAddr)

	go c.write()
	c.read()
}

func (self *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type StatusResult struct {
		Version     string `json:"version,omitempty"`
		Status      string `json:"status"`
		Rooms       int    `json:"rooms"`
		Connections int    `json:"connections"`
	}

	self.stateLock.Lock()
	connections := len(self.conns)
	self.stateLock.Unlock()

	result := &StatusResult{
		Version:     self.settings.Version,
		Status:      "ok",
		Rooms:       self.rooms.Len(),
		Connections: connections,
	}

	responseJson, err := json.Marshal(result)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(responseJson)
}

// a dropped connection acts as leave
func (self *Server) disconnected(c *conn) {
	self.stateLock.Lock()
	delete(self.conns, c.id)
	self.stateLock.Unlock()

	self.roomLock.Lock()
	self.leave(c)
	self.roomLock.Unlock()
	glog.V(1).Infof("[r]disconnected %s\n", c.id)
}

func (self *Server) roomOf(memberId string) (string, bool) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	roomId, ok := self.memberRooms[memberId]
	return roomId, ok
}

func (self *Server) setRoom(memberId string, roomId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.memberRooms[memberId] = roomId
}

func (self *Server) clearRoom(memberId string) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	delete(self.memberRooms, memberId)
}

// pushes to the connected members of the room, except `exceptId`
func (self *Server) broadcast(roomId string, exceptId string, event string, data any) {
	message, err := protocol.NewEventFrame(event, data)
	if err != nil {
		glog.Infof("[r]encode %s = %s\n", event, err)
		return
	}
	self.broadcastTo(self.rooms.Members(roomId), exceptId, message)
}

func (self *Server) broadcastTo(members []protocol.Member, exceptId string, message []byte) {
	self.stateLock.Lock()
	conns := make([]*conn, 0, len(members))
	for _, member := range members {
		if member.Id == exceptId {
			continue
		}
		if c, ok := self.conns[member.Id]; ok {
			conns = append(conns, c)
		}
	}
	self.stateLock.Unlock()

	for _, c := range conns {
		c.sendFrame(message)
	}
}

// removes the member from its current room and notifies the remaining members.
// The caller holds `roomLock`.
func (self *Server) leave(c *conn) bool {
	roomId, ok := self.roomOf(c.id)
	if !ok {
		return false
	}
	self.clearRoom(c.id)
	if !self.rooms.Leave(roomId, c.id) {
		return false
	}
	self.broadcast(roomId, "", protocol.EventMembersUpdated, &protocol.MembersUpdated{
		Members: self.rooms.Members(roomId),
	})
	self.broadcast(roomId, "", protocol.EventUserLeft, &protocol.UserLeft{
		Id: c.id,
	})
	return true
}

func (self *Server) announceJoin(roomId string, member protocol.Member) {
	self.broadcast(roomId, "", protocol.EventMembersUpdated, &protocol.MembersUpdated{
		Members: self.rooms.Members(roomId),
	})
	self.broadcast(roomId, "", protocol.EventUserJoined, &protocol.UserJoined{
		Id:   member.Id,
		Name: member.Name,
	})
}

type resultMessage struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

func (self *Server) reply(c *conn, frame *protocol.Frame, result any) {
	if frame.Type != protocol.FrameTypeCall {
		return
	}
	c.ack(frame.Id, result)
}

func decodeData(frame *protocol.Frame, data any) error {
	if len(frame.Data) == 0 {
		return nil
	}
	return json.Unmarshal(frame.Data, data)
}

func (self *Server) handleFrame(c *conn, frame *protocol.Frame) {
	glog.V(2).Infof("[r]%s %s<-%s\n", frame.Type, frame.Event, c.id)

	switch frame.Event {
	case protocol.EventCreateRoom,
		protocol.EventJoinRoom,
		protocol.EventRejoinRoom,
		protocol.EventLeaveRoom,
		protocol.EventCloseRoom:
		self.roomLock.Lock()
		defer self.roomLock.Unlock()
	}

	switch frame.Event {
	case protocol.EventCreateRoom:
		var args protocol.CreateRoomArgs
		if err := decodeData(frame, &args); err != nil {
			self.reply(c, frame, &resultMessage{Message: err.Error()})
			return
		}
		// a client is in at most one room
		self.leave(c)
		roomId, code := self.rooms.Create(c.id, args.Name, args.ClientId, args.ProjectData)
		self.setRoom(c.id, roomId)
		glog.V(1).Infof("[r]create room %s code=%s host=%s\n", roomId, code, c.id)
		self.reply(c, frame, &protocol.CreateRoomResult{
			Success: true,
			RoomId:  roomId,
			Code:    code,
			SelfId:  c.id,
		})

	case protocol.EventJoinRoom, protocol.EventRejoinRoom:
		var args protocol.JoinRoomArgs
		if err := decodeData(frame, &args); err != nil {
			self.reply(c, frame, &resultMessage{Message: err.Error()})
			return
		}
		self.leave(c)

		var view *RoomView
		var isHost bool
		var ok bool
		message := messageRoomNotFound
		if frame.Event == protocol.EventRejoinRoom {
			view, isHost, ok = self.rooms.Rejoin(args.Code, c.id, args.Name, args.ClientId)
			message = messageRoomNotFoundClosed
		} else {
			view, ok = self.rooms.Join(args.Code, c.id, args.Name)
		}
		if !ok {
			self.reply(c, frame, &protocol.JoinRoomResult{Message: message})
			return
		}
		self.setRoom(c.id, view.Id)
		glog.V(1).Infof("[r]%s %s<-%s host=%t\n", frame.Event, view.Id, c.id, isHost)

		self.announceJoin(view.Id, protocol.Member{Id: c.id, Name: args.Name})
		self.reply(c, frame, &protocol.JoinRoomResult{
			Success:     true,
			RoomId:      view.Id,
			ProjectData: view.ProjectData,
			Members:     self.rooms.Members(view.Id),
			SelfId:      c.id,
			IsHost:      isHost,
			Message:     messageJoined,
		})

	case protocol.EventLeaveRoom:
		ok := self.leave(c)
		self.reply(c, frame, &resultMessage{Success: ok})

	case protocol.EventCloseRoom:
		roomId, ok := self.roomOf(c.id)
		if !ok {
			self.reply(c, frame, &protocol.CloseRoomResult{Message: messageNotInRoom})
			return
		}
		if !self.rooms.IsHost(roomId, c.id) {
			self.reply(c, frame, &protocol.CloseRoomResult{Message: messageOnlyHost})
			return
		}
		self.broadcast(roomId, "", protocol.EventRoomClosed, &protocol.RoomClosed{
			Message: messageRoomClosedByHost,
		})
		if members, closed := self.rooms.Close(roomId, c.id); closed {
			for _, member := range members {
				self.clearRoom(member.Id)
			}
		}
		glog.V(1).Infof("[r]close room %s\n", roomId)
		self.reply(c, frame, &protocol.CloseRoomResult{Success: true})

	case protocol.EventSyncProject:
		roomId, ok := self.roomOf(c.id)
		if !ok {
			self.reply(c, frame, &resultMessage{})
			return
		}
		var message protocol.SyncProject
		if err := decodeData(frame, &message); err != nil {
			self.reply(c, frame, &resultMessage{Message: err.Error()})
			return
		}
		self.rooms.UpdateProjectData(roomId, message.ProjectData)
		self.broadcast(roomId, c.id, protocol.EventProjectUpdated, &protocol.ProjectUpdated{
			ProjectData: message.ProjectData,
		})
		self.reply(c, frame, &resultMessage{Success: true})

	case protocol.EventTaskAction:
		roomId, ok := self.roomOf(c.id)
		if !ok {
			self.reply(c, frame, &resultMessage{})
			return
		}
		var message protocol.TaskAction
		if err := decodeData(frame, &message); err != nil {
			self.reply(c, frame, &resultMessage{Message: err.Error()})
			return
		}
		message.From = c.id
		self.broadcast(roomId, c.id, protocol.EventTaskAction, &message)
		self.reply(c, frame, &resultMessage{Success: true})

	case protocol.EventCursorMove:
		roomId, ok := self.roomOf(c.id)
		if !ok {
			return
		}
		var message protocol.CursorMove
		if err := decodeData(frame, &message); err != nil {
			return
		}
		self.broadcast(roomId, c.id, protocol.EventCursorUpdate, &protocol.CursorUpdate{
			Id:   c.id,
			X:    message.X,
			Y:    message.Y,
			Name: message.Name,
		})

	default:
		glog.Infof("[r]unknown event %s<-%s\n", frame.Event, c.id)
		self.reply(c, frame, &resultMessage{Message: "Unknown event"})
	}
}
