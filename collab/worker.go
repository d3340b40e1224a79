package collab

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/golang/glog"

	"github.com/bringyour/collab/protocol"
)

// dispatcher worker. Everything in this file runs on the worker goroutine,
// except `forwardPush` and `forwardDisconnect` which run on the channel goroutines.

const (
	defaultCreateFailedMessage = "Failed to create room"
	defaultJoinFailedMessage   = "Failed to join room"
	defaultCloseFailedMessage  = "Failed to close room"
	defaultRoomClosedMessage   = "Room closed"
)

func (self *Dispatcher) run() {
	defer close(self.done)

	var resync <-chan time.Time
	if 0 < self.settings.ResyncInterval {
		ticker := time.NewTicker(self.settings.ResyncInterval)
		defer ticker.Stop()
		resync = ticker.C
	}

	for !self.stopped {
		select {
		case <-self.ctx.Done():
			return
		case command := <-self.commands:
			command()
		case result := <-self.results:
			result()
		case push := <-self.pushes:
			self.handlePush(push.event, push.data)
		case err := <-self.disconnects:
			self.handleDisconnect(err)
		case <-resync:
			if self.session.IsHost() {
				self.sendEvent(&resyncDueEvent{})
			}
		}
	}
}

// channel reader goroutine
func (self *Dispatcher) forwardPush(event string, data json.RawMessage) {
	select {
	case self.pushes <- &pushMessage{event: event, data: data}:
	case <-self.ctx.Done():
	case <-time.After(self.settings.EventTimeout):
		glog.Infof("[w]drop push %s\n", event)
	}
}

func (self *Dispatcher) forwardDisconnect(err error) {
	select {
	case self.disconnects <- err:
	default:
		// a notice is already queued
	}
}

// runs `handle` on the worker with the call result. Results from an earlier epoch are dropped.
func (self *Dispatcher) call(event string, payload any, handle func(data json.RawMessage, err error)) {
	epoch := self.epoch
	timeout := self.settings.CallTimeout
	go func() {
		data, err := self.channel.Call(event, payload, timeout)
		self.postResult(func() {
			if epoch != self.epoch {
				glog.V(2).Infof("[w]drop stale %s result\n", event)
				return
			}
			handle(data, err)
		})
	}()
}

func (self *Dispatcher) postResult(result func()) {
	select {
	case self.results <- result:
	case <-self.ctx.Done():
	}
}

// runs `then` once connected. A failed connect drops `then`.
func (self *Dispatcher) connect(then func()) {
	switch self.session.State() {
	case StateConnecting:
		if then != nil {
			self.afterConnect = append(self.afterConnect, then)
		}
		return
	case StateConnected, StateInRoom:
		if then != nil {
			then()
		}
		return
	}

	self.session.connecting()
	if then != nil {
		self.afterConnect = append(self.afterConnect, then)
	}
	self.sendEvent(nil)

	epoch := self.epoch
	endpoint := self.settings.Endpoint
	glog.V(1).Infof("[w]connecting %s\n", endpoint)
	go func() {
		err := self.channel.Connect(endpoint)
		self.postResult(func() {
			self.connectResult(epoch, err)
		})
	}()
}

func (self *Dispatcher) connectResult(epoch uint64, err error) {
	if epoch != self.epoch || self.session.State() != StateConnecting {
		// disconnected while connecting
		if err == nil && self.session.State() == StateDisconnected {
			self.channel.Disconnect()
		}
		return
	}

	afterConnect := self.afterConnect
	self.afterConnect = nil

	if err != nil {
		self.session.disconnected()
		self.failPending(err)
		self.sendEvent(&ErrorEvent{Op: "connect", Err: err})
		return
	}

	self.session.connected()
	glog.V(1).Infof("[w]connected\n")
	self.sendEvent(&ConnectedEvent{})
	for _, then := range afterConnect {
		then()
	}
}

// fails the pending room call, if any, after the connection was lost
func (self *Dispatcher) failPending(err error) {
	switch self.pendingRoom {
	case roomCallCreate:
		self.sendEvent(&ErrorEvent{Op: protocol.EventCreateRoom, Err: err})
	case roomCallJoin, roomCallRejoin:
		self.sendEvent(&JoinFailedEvent{Message: defaultJoinFailedMessage, Err: err})
	}
	self.pendingRoom = roomCallNone
	self.closePending = false
	self.afterConnect = nil
}

// checks that a room call can start. Sends an error event if not.
func (self *Dispatcher) canStartRoomCall(op string) bool {
	if self.session.InRoom() {
		self.sendEvent(&ErrorEvent{Op: op, Err: ErrInRoom})
		return false
	}
	if self.pendingRoom != roomCallNone {
		self.sendEvent(&ErrorEvent{Op: op, Err: ErrPending})
		return false
	}
	return true
}

func (self *Dispatcher) createRoom(name string, projectData json.RawMessage) {
	if !self.canStartRoomCall(protocol.EventCreateRoom) {
		return
	}
	self.pendingRoom = roomCallCreate
	args := &protocol.CreateRoomArgs{
		Name:        name,
		ProjectData: projectData,
		ClientId:    self.clientId.String(),
	}
	self.connect(func() {
		self.call(protocol.EventCreateRoom, args, func(data json.RawMessage, err error) {
			self.roomCreated(name, data, err)
		})
	})
}

func (self *Dispatcher) roomCreated(name string, data json.RawMessage, err error) {
	self.pendingRoom = roomCallNone
	if err != nil {
		self.sendEvent(&ErrorEvent{Op: protocol.EventCreateRoom, Err: err})
		return
	}

	var result protocol.CreateRoomResult
	if err := json.Unmarshal(data, &result); err != nil {
		self.sendEvent(&ErrorEvent{
			Op:  protocol.EventCreateRoom,
			Err: &ProtocolError{Event: protocol.EventCreateRoom, Err: err},
		})
		return
	}
	if !result.Success || result.RoomId == "" {
		self.sendEvent(&ErrorEvent{
			Op:  protocol.EventCreateRoom,
			Err: resultError(protocol.EventCreateRoom, result.Message, defaultCreateFailedMessage),
		})
		return
	}

	room := RoomSession{
		RoomId:          result.RoomId,
		InviteCode:      result.Code,
		Role:            RoleHost,
		ParticipantName: name,
		SelfId:          result.SelfId,
	}
	var members []Participant
	if result.SelfId != "" {
		members = append(members, Participant{Id: result.SelfId, DisplayName: name})
	}
	if err := self.session.enterRoom(room, members); err != nil {
		self.sendEvent(&ErrorEvent{Op: protocol.EventCreateRoom, Err: err})
		return
	}
	self.engine.Reset(result.SelfId)

	glog.V(1).Infof("[w]created room %s code=%s\n", result.RoomId, result.Code)
	self.sendEvent(&RoomCreatedEvent{
		RoomId: result.RoomId,
		Code:   result.Code,
	})
}

func (self *Dispatcher) joinRoom(code string, name string, rejoin bool) {
	event := protocol.EventJoinRoom
	kind := roomCallJoin
	if rejoin {
		event = protocol.EventRejoinRoom
		kind = roomCallRejoin
	}
	if !self.canStartRoomCall(event) {
		return
	}
	self.pendingRoom = kind
	args := &protocol.JoinRoomArgs{
		Code:     code,
		Name:     name,
		ClientId: self.clientId.String(),
	}
	self.connect(func() {
		self.call(event, args, func(data json.RawMessage, err error) {
			self.roomJoined(event, code, name, rejoin, data, err)
		})
	})
}

func (self *Dispatcher) roomJoined(event string, code string, name string, rejoin bool, data json.RawMessage, err error) {
	self.pendingRoom = roomCallNone
	if err != nil {
		self.sendEvent(&JoinFailedEvent{Message: defaultJoinFailedMessage, Err: err})
		return
	}

	var result protocol.JoinRoomResult
	if err := json.Unmarshal(data, &result); err != nil {
		self.sendEvent(&JoinFailedEvent{
			Message: defaultJoinFailedMessage,
			Err:     &ProtocolError{Event: event, Err: err},
		})
		return
	}
	if !result.Success || result.RoomId == "" {
		message := result.Message
		if message == "" {
			message = defaultJoinFailedMessage
		}
		self.sendEvent(&JoinFailedEvent{
			Message: message,
			Err:     resultError(event, result.Message, defaultJoinFailedMessage),
		})
		return
	}

	var snapshot *GraphSnapshot
	if hasProjectData(result.ProjectData) {
		snapshot, err = ParseGraphSnapshot(result.ProjectData)
		if err != nil {
			// keep the local graph
			glog.Infof("[w]%s bad project data = %s\n", event, err)
			snapshot = nil
		}
	}

	role := RoleGuest
	inviteCode := ""
	if rejoin && result.IsHost {
		role = RoleHost
		inviteCode = code
	}
	room := RoomSession{
		RoomId:          result.RoomId,
		InviteCode:      inviteCode,
		Role:            role,
		ParticipantName: name,
		SelfId:          result.SelfId,
	}
	members := participants(result.Members)
	if err := self.session.enterRoom(room, members); err != nil {
		self.sendEvent(&JoinFailedEvent{Message: defaultJoinFailedMessage, Err: err})
		return
	}
	self.engine.Reset(result.SelfId)

	glog.V(1).Infof("[w]joined room %s as %s\n", result.RoomId, role)
	self.sendEvent(&RoomJoinedEvent{
		RoomId:   result.RoomId,
		Role:     role,
		Snapshot: snapshot,
		Members:  self.session.Roster(),
		Rejoined: rejoin,
	})
}

func (self *Dispatcher) leaveRoom() {
	if !self.session.leaveRoom() {
		glog.V(2).Infof("[w]leave ignored, not in a room\n")
		return
	}
	self.engine.Reset("")
	if err := self.channel.Emit(protocol.EventLeaveRoom, nil); err != nil {
		glog.Infof("[w]leave error = %s\n", err)
	}
	glog.V(1).Infof("[w]left room\n")
	self.sendEvent(&RoomLeftEvent{})
}

func (self *Dispatcher) closeRoom() {
	if !self.session.IsHost() {
		glog.V(2).Infof("[w]close ignored, not host\n")
		return
	}
	if self.closePending {
		self.sendEvent(&ErrorEvent{Op: protocol.EventCloseRoom, Err: ErrPending})
		return
	}
	self.closePending = true
	roomId := self.session.Room().RoomId
	self.call(protocol.EventCloseRoom, nil, func(data json.RawMessage, err error) {
		self.roomClosedResult(roomId, data, err)
	})
}

func (self *Dispatcher) roomClosedResult(roomId string, data json.RawMessage, err error) {
	self.closePending = false
	if err != nil {
		self.sendEvent(&ErrorEvent{Op: protocol.EventCloseRoom, Err: err})
		return
	}

	var result protocol.CloseRoomResult
	if err := json.Unmarshal(data, &result); err != nil {
		self.sendEvent(&ErrorEvent{
			Op:  protocol.EventCloseRoom,
			Err: &ProtocolError{Event: protocol.EventCloseRoom, Err: err},
		})
		return
	}
	if !result.Success {
		self.sendEvent(&ErrorEvent{
			Op:  protocol.EventCloseRoom,
			Err: resultError(protocol.EventCloseRoom, result.Message, defaultCloseFailedMessage),
		})
		return
	}

	// the relay pushes `room_closed` to the host too. Whichever arrives first closes the room.
	if self.session.Room().RoomId != roomId || !self.session.leaveRoom() {
		return
	}
	self.engine.Reset("")
	glog.V(1).Infof("[w]closed room %s\n", roomId)
	self.sendEvent(&RoomClosedEvent{
		Message: defaultRoomClosedMessage,
		Local:   true,
	})
}

func (self *Dispatcher) syncProject(projectData json.RawMessage) {
	if !self.session.InRoom() {
		glog.V(2).Infof("[w]drop sync, not in a room\n")
		return
	}
	if err := self.channel.Emit(protocol.EventSyncProject, &protocol.SyncProject{
		ProjectData: projectData,
	}); err != nil {
		glog.Infof("[w]sync error = %s\n", err)
	}
}

// best effort. Errors are logged and never surfaced, so an edit never fails on a disconnect.
func (self *Dispatcher) sendTaskAction(kind ActionKind, payload json.RawMessage) {
	if !self.session.InRoom() {
		glog.V(2).Infof("[w]drop %s, not in a room\n", kind)
		return
	}
	message := self.engine.Tag(kind, payload)
	if err := self.channel.Emit(protocol.EventTaskAction, message); err != nil {
		glog.Infof("[w]%s error = %s\n", kind, err)
	}
}

func (self *Dispatcher) sendCursor(x float64, y float64, name string) {
	if !self.session.InRoom() {
		return
	}
	if err := self.channel.Emit(protocol.EventCursorMove, &protocol.CursorMove{
		X:    x,
		Y:    y,
		Name: name,
	}); err != nil {
		glog.V(2).Infof("[w]cursor error = %s\n", err)
	}
}

func (self *Dispatcher) disconnect() {
	if self.session.State() == StateDisconnected {
		return
	}
	if self.session.InRoom() {
		if err := self.channel.Emit(protocol.EventLeaveRoom, nil); err != nil {
			glog.Infof("[w]leave error = %s\n", err)
		}
	}
	self.session.disconnected()
	self.epoch += 1
	self.pendingRoom = roomCallNone
	self.closePending = false
	self.afterConnect = nil
	self.engine.Reset("")
	// bounded by the channel write timeout. Queued frames are flushed first.
	self.channel.Disconnect()
	glog.V(1).Infof("[w]disconnected\n")
	self.sendEvent(&DisconnectedEvent{})
}

func (self *Dispatcher) shutdown() {
	self.shuttingDown = true
	self.disconnect()
	self.stopped = true
}

func (self *Dispatcher) handleDisconnect(err error) {
	switch self.session.State() {
	case StateDisconnected, StateConnecting:
		glog.V(2).Infof("[w]stale disconnect\n")
		return
	}
	if self.channel.IsConnected() {
		// the notice is for an earlier connection
		glog.V(2).Infof("[w]stale disconnect\n")
		return
	}

	self.session.disconnected()
	self.epoch += 1
	if err == nil {
		err = ErrNotConnected
	}
	self.failPending(&ConnectionError{Endpoint: self.settings.Endpoint, Err: err})
	self.engine.Reset("")
	glog.Infof("[w]connection lost = %s\n", err)
	self.sendEvent(&DisconnectedEvent{Err: err})
}

// pushes are only meaningful inside a room. Pushes that arrive before the join
// response (the relay announces the joining client to the room first) are dropped.
func (self *Dispatcher) handlePush(event string, data json.RawMessage) {
	if !self.session.InRoom() {
		glog.V(2).Infof("[w]drop push %s, not in a room\n", event)
		return
	}
	glog.V(2).Infof("[w]push %s\n", event)

	switch event {
	case protocol.EventMembersUpdated:
		var message protocol.MembersUpdated
		if !self.decodePush(event, data, &message) {
			return
		}
		self.session.setMembers(participants(message.Members))
		self.sendEvent(&MembersUpdatedEvent{
			Members: self.session.Roster(),
		})
	case protocol.EventUserJoined:
		var message protocol.UserJoined
		if !self.decodePush(event, data, &message) {
			return
		}
		participant := Participant{Id: message.Id, DisplayName: message.Name}
		self.session.addMember(participant)
		self.sendEvent(&UserJoinedEvent{
			Participant: participant,
		})
	case protocol.EventUserLeft:
		var message protocol.UserLeft
		if !self.decodePush(event, data, &message) {
			return
		}
		self.session.removeMember(message.Id)
		self.sendEvent(&UserLeftEvent{
			ParticipantId: message.Id,
		})
	case protocol.EventProjectUpdated:
		var message protocol.ProjectUpdated
		if !self.decodePush(event, data, &message) {
			return
		}
		if !hasProjectData(message.ProjectData) {
			self.pushError(event, errors.New("missing project data"))
			return
		}
		snapshot, err := ParseGraphSnapshot(message.ProjectData)
		if err != nil {
			self.pushError(event, err)
			return
		}
		self.sendEvent(&ProjectUpdatedEvent{
			Snapshot: snapshot,
		})
	case protocol.EventTaskAction:
		var message protocol.TaskAction
		if !self.decodePush(event, data, &message) {
			return
		}
		action, ok := self.engine.Accept(&message)
		if !ok {
			return
		}
		self.sendEvent(&TaskActionEvent{
			Action: action,
			From:   message.From,
		})
	case protocol.EventCursorUpdate:
		var message protocol.CursorUpdate
		if !self.decodePush(event, data, &message) {
			return
		}
		if message.Id == "" || message.Id == self.session.Room().SelfId {
			return
		}
		self.sendEvent(&CursorUpdatedEvent{
			Cursor: RemoteCursor{
				ParticipantId: message.Id,
				X:             message.X,
				Y:             message.Y,
				DisplayName:   message.Name,
			},
		})
	case protocol.EventRoomClosed:
		var message protocol.RoomClosed
		if len(data) != 0 {
			// the message is optional
			json.Unmarshal(data, &message)
		}
		if message.Message == "" {
			message.Message = defaultRoomClosedMessage
		}
		wasHost := self.session.IsHost()
		self.session.leaveRoom()
		self.engine.Reset("")
		glog.V(1).Infof("[w]room closed = %s\n", message.Message)
		self.sendEvent(&RoomClosedEvent{
			Message: message.Message,
			Local:   wasHost,
		})
	default:
		glog.V(2).Infof("[w]unhandled push %s\n", event)
	}
}

func (self *Dispatcher) decodePush(event string, data json.RawMessage, message any) bool {
	if err := json.Unmarshal(data, message); err != nil {
		self.pushError(event, err)
		return false
	}
	return true
}

func (self *Dispatcher) pushError(event string, err error) {
	glog.Infof("[w]bad push %s = %s\n", event, err)
	self.sendEvent(&ErrorEvent{
		Op:  event,
		Err: &ProtocolError{Event: event, Err: err},
	})
}

// queues an event with the current session state for the ui goroutine.
// A nil event only updates the ui side mirrors.
func (self *Dispatcher) sendEvent(event Event) {
	envelope := &dispatchEnvelope{
		event:  event,
		state:  self.session.State(),
		room:   self.session.Room(),
		roster: self.session.Roster(),
	}

	if self.shuttingDown {
		select {
		case self.events <- envelope:
		default:
		}
		return
	}

	select {
	case self.events <- envelope:
	case <-self.ctx.Done():
	case <-time.After(self.settings.EventTimeout):
		name := "state"
		if event != nil {
			name = EventName(event)
		}
		glog.Infof("[w]drop event %s\n", name)
	}
}

func resultError(event string, message string, defaultMessage string) error {
	if message == "" {
		return &ProtocolError{Event: event, Err: errors.New(defaultMessage)}
	}
	return &ApplicationError{Event: event, Message: message}
}

func hasProjectData(projectData json.RawMessage) bool {
	return len(projectData) != 0 && string(projectData) != "null"
}

func participants(members []protocol.Member) []Participant {
	participants := make([]Participant, 0, len(members))
	for _, member := range members {
		participants = append(participants, Participant{
			Id:          member.Id,
			DisplayName: member.Name,
		})
	}
	return participants
}
