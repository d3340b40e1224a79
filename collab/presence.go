package collab

import (
	"strings"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/time/rate"
)

const DefaultCursorRate = 20.0

type RemoteCursor struct {
	ParticipantId string
	X             float64
	Y             float64
	DisplayName   string
}

// remote cursor positions by participant id. Last received wins.
// Owned by the ui goroutine.
type PresenceTracker struct {
	cursors map[string]RemoteCursor
}

func NewPresenceTracker() *PresenceTracker {
	return &PresenceTracker{
		cursors: map[string]RemoteCursor{},
	}
}

func (self *PresenceTracker) UpdateCursor(participantId string, x float64, y float64, displayName string) {
	self.cursors[participantId] = RemoteCursor{
		ParticipantId: participantId,
		X:             x,
		Y:             y,
		DisplayName:   displayName,
	}
}

func (self *PresenceTracker) RemoveCursor(participantId string) {
	delete(self.cursors, participantId)
}

// evicts cursors of participants that are no longer in the roster
func (self *PresenceTracker) Retain(participantIds []string) {
	keep := map[string]bool{}
	for _, participantId := range participantIds {
		keep[participantId] = true
	}
	maps.DeleteFunc(self.cursors, func(participantId string, cursor RemoteCursor) bool {
		return !keep[participantId]
	})
}

func (self *PresenceTracker) Clear() {
	maps.Clear(self.cursors)
}

func (self *PresenceTracker) Cursor(participantId string) (RemoteCursor, bool) {
	cursor, ok := self.cursors[participantId]
	return cursor, ok
}

func (self *PresenceTracker) Len() int {
	return len(self.cursors)
}

// ordered by participant id
func (self *PresenceTracker) Cursors() []RemoteCursor {
	cursors := maps.Values(self.cursors)
	slices.SortFunc(cursors, func(a RemoteCursor, b RemoteCursor) int {
		return strings.Compare(a.ParticipantId, b.ParticipantId)
	})
	return cursors
}

// sender side rate limit for local pointer moves.
// Excess moves are dropped, not delayed, since only the latest position matters.
type CursorThrottle struct {
	limiter *rate.Limiter
}

// `perSecond <= 0` disables throttling
func NewCursorThrottle(perSecond float64) *CursorThrottle {
	limit := rate.Inf
	if 0 < perSecond {
		limit = rate.Limit(perSecond)
	}
	return &CursorThrottle{
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (self *CursorThrottle) Allow() bool {
	return self.AllowAt(time.Now())
}

func (self *CursorThrottle) AllowAt(now time.Time) bool {
	return self.limiter.AllowN(now, 1)
}
