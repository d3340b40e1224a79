package protocol

import (
	"encoding/json"
)

// Relay wire protocol shared by the collab client and the reference relay.
//
// Every websocket text message is one `Frame`:
//     {"type":"call","id":n,"event":e,"data":{...}}   client -> relay, expects an ack
//     {"type":"ack","id":n,"data":{...}}              relay -> client, answers call n
//     {"type":"event","event":e,"data":{...}}         either direction, no ack
// All payloads are UTF-8 json objects.

const (
	FrameTypeCall  = "call"
	FrameTypeAck   = "ack"
	FrameTypeEvent = "event"
)

// client -> relay
const (
	EventCreateRoom  = "create_room"
	EventJoinRoom    = "join_room"
	EventRejoinRoom  = "rejoin_room"
	EventLeaveRoom   = "leave_room"
	EventCloseRoom   = "close_room"
	EventSyncProject = "sync_project"
	EventTaskAction  = "task_action"
	EventCursorMove  = "cursor_move"
)

// relay -> client
const (
	EventMembersUpdated = "members_updated"
	EventUserJoined     = "user_joined"
	EventUserLeft       = "user_left"
	EventProjectUpdated = "project_updated"
	// EventTaskAction is also pushed, with `from` set
	EventCursorUpdate = "cursor_update"
	EventRoomClosed   = "room_closed"
)

type Frame struct {
	Type  string          `json:"type"`
	Id    uint64          `json:"id,omitempty"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewCallFrame(id uint64, event string, data any) ([]byte, error) {
	return encodeFrame(FrameTypeCall, id, event, data)
}

func NewAckFrame(id uint64, data any) ([]byte, error) {
	return encodeFrame(FrameTypeAck, id, "", data)
}

func NewEventFrame(event string, data any) ([]byte, error) {
	return encodeFrame(FrameTypeEvent, 0, event, data)
}

func encodeFrame(frameType string, id uint64, event string, data any) ([]byte, error) {
	frame := &Frame{
		Type:  frameType,
		Id:    id,
		Event: event,
	}
	if data != nil {
		dataJson, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		frame.Data = dataJson
	}
	return json.Marshal(frame)
}

func DecodeFrame(message []byte) (*Frame, error) {
	frame := &Frame{}
	if err := json.Unmarshal(message, frame); err != nil {
		return nil, err
	}
	return frame, nil
}

// `Member` is the wire form of a participant
type Member struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

// `ClientId` is the stable client id. The relay uses it to restore the host role on `rejoin_room`.
type CreateRoomArgs struct {
	Name        string          `json:"name"`
	ProjectData json.RawMessage `json:"projectData,omitempty"`
	ClientId    string          `json:"clientId,omitempty"`
}

type CreateRoomResult struct {
	Success bool   `json:"success"`
	RoomId  string `json:"roomId,omitempty"`
	Code    string `json:"code,omitempty"`
	SelfId  string `json:"selfId,omitempty"`
	Message string `json:"message,omitempty"`
}

// also used for `rejoin_room`
type JoinRoomArgs struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	ClientId string `json:"clientId,omitempty"`
}

// also used for `rejoin_room`, which sets `IsHost`
type JoinRoomResult struct {
	Success     bool            `json:"success"`
	RoomId      string          `json:"roomId,omitempty"`
	ProjectData json.RawMessage `json:"projectData,omitempty"`
	Members     []Member        `json:"members,omitempty"`
	SelfId      string          `json:"selfId,omitempty"`
	IsHost      bool            `json:"isHost,omitempty"`
	Message     string          `json:"message,omitempty"`
}

type CloseRoomResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type SyncProject struct {
	ProjectData json.RawMessage `json:"projectData"`
}

type ProjectUpdated struct {
	ProjectData json.RawMessage `json:"projectData"`
}

// `Origin` and `Seq` tag actions so a receiver can drop self echoes and redelivered duplicates.
// `From` is set by the relay on push.
type TaskAction struct {
	Action  string          `json:"action"`
	Payload json.RawMessage `json:"payload,omitempty"`
	From    string          `json:"from,omitempty"`
	Origin  string          `json:"origin,omitempty"`
	Seq     uint64          `json:"seq,omitempty"`
}

type CursorMove struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Name string  `json:"name"`
}

type CursorUpdate struct {
	Id   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Name string  `json:"name"`
}

type MembersUpdated struct {
	Members []Member `json:"members"`
}

type UserJoined struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

type UserLeft struct {
	Id string `json:"id"`
}

type RoomClosed struct {
	Message string `json:"message"`
}
