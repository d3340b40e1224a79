package protocol

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestFrames(t *testing.T) {
	message, err := NewCallFrame(7, EventJoinRoom, &JoinRoomArgs{Code: "AB12CD", Name: "Bob"})
	assert.Equal(t, err, nil)
	assert.Equal(t, string(message), `{"type":"call","id":7,"event":"join_room","data":{"code":"AB12CD","name":"Bob"}}`)

	frame, err := DecodeFrame(message)
	assert.Equal(t, err, nil)
	assert.Equal(t, frame.Type, FrameTypeCall)
	assert.Equal(t, frame.Id, uint64(7))
	assert.Equal(t, frame.Event, EventJoinRoom)

	// no data field without data
	message, err = NewEventFrame(EventLeaveRoom, nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, string(message), `{"type":"event","event":"leave_room"}`)

	message, err = NewAckFrame(7, &CloseRoomResult{Success: true})
	assert.Equal(t, err, nil)
	assert.Equal(t, string(message), `{"type":"ack","id":7,"data":{"success":true}}`)

	_, err = DecodeFrame([]byte("not json"))
	assert.NotEqual(t, err, nil)
}
