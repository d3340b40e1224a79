package collab

import (
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestPresenceTracker(t *testing.T) {
	presence := NewPresenceTracker()

	presence.UpdateCursor("bob", 100, 200, "Bob")
	cursor, ok := presence.Cursor("bob")
	assert.Equal(t, ok, true)
	assert.Equal(t, cursor, RemoteCursor{ParticipantId: "bob", X: 100, Y: 200, DisplayName: "Bob"})

	// last received wins
	presence.UpdateCursor("bob", 5, 6, "Bob")
	cursor, _ = presence.Cursor("bob")
	assert.Equal(t, cursor.X, 5.0)
	assert.Equal(t, presence.Len(), 1)

	presence.UpdateCursor("ann", 1, 1, "Ann")
	cursors := presence.Cursors()
	assert.Equal(t, len(cursors), 2)
	assert.Equal(t, cursors[0].ParticipantId, "ann")
	assert.Equal(t, cursors[1].ParticipantId, "bob")

	presence.RemoveCursor("bob")
	_, ok = presence.Cursor("bob")
	assert.Equal(t, ok, false)

	presence.Clear()
	assert.Equal(t, presence.Len(), 0)
}

func TestPresenceRetain(t *testing.T) {
	presence := NewPresenceTracker()
	presence.UpdateCursor("a", 0, 0, "A")
	presence.UpdateCursor("b", 0, 0, "B")
	presence.UpdateCursor("c", 0, 0, "C")

	presence.Retain([]string{"a", "c", "d"})
	assert.Equal(t, presence.Len(), 2)
	_, ok := presence.Cursor("b")
	assert.Equal(t, ok, false)
}

func TestCursorThrottle(t *testing.T) {
	throttle := NewCursorThrottle(20)

	now := time.Now()
	assert.Equal(t, throttle.AllowAt(now), true)
	// within the same 50ms window
	assert.Equal(t, throttle.AllowAt(now.Add(10*time.Millisecond)), false)
	assert.Equal(t, throttle.AllowAt(now.Add(60*time.Millisecond)), true)

	unthrottled := NewCursorThrottle(0)
	for range 100 {
		assert.Equal(t, unthrottled.AllowAt(now), true)
	}
}
