package collab

// events delivered to dispatcher listeners on the ui goroutine, from `Dispatcher.Drain`

type Event interface {
	eventName() string
}

type ConnectedEvent struct {
}

type DisconnectedEvent struct {
	// nil when the disconnect was requested locally
	Err error
}

type RoomCreatedEvent struct {
	RoomId string
	Code   string
}

type RoomJoinedEvent struct {
	RoomId string
	Role   Role
	// nil if the relay sent no usable project data. The local graph is then left unchanged.
	Snapshot *GraphSnapshot
	Members  []Participant
	Rejoined bool
}

type JoinFailedEvent struct {
	Message string
	Err     error
}

type RoomLeftEvent struct {
}

// the room was closed, by this client as host or by the relay
type RoomClosedEvent struct {
	Message string
	// true when this client closed the room as host
	Local bool
}

type MembersUpdatedEvent struct {
	Members []Participant
}

type UserJoinedEvent struct {
	Participant Participant
}

type UserLeftEvent struct {
	ParticipantId string
}

type ProjectUpdatedEvent struct {
	Snapshot *GraphSnapshot
}

type TaskActionEvent struct {
	Action TaskAction
	From   string
	// false if the action was dropped because its target did not resolve.
	// Set after the action is applied in `Drain`.
	Applied bool
}

type CursorUpdatedEvent struct {
	Cursor RemoteCursor
}

// a network or protocol error surfaced as a notification
type ErrorEvent struct {
	Op  string
	Err error
}

// internal, not delivered to listeners. The worker asks the ui goroutine for a snapshot to push.
type resyncDueEvent struct {
}

func (self *ConnectedEvent) eventName() string      { return "connected" }
func (self *DisconnectedEvent) eventName() string   { return "disconnected" }
func (self *RoomCreatedEvent) eventName() string    { return "room_created" }
func (self *RoomJoinedEvent) eventName() string     { return "room_joined" }
func (self *JoinFailedEvent) eventName() string     { return "join_failed" }
func (self *RoomLeftEvent) eventName() string       { return "room_left" }
func (self *RoomClosedEvent) eventName() string     { return "room_closed" }
func (self *MembersUpdatedEvent) eventName() string { return "members_updated" }
func (self *UserJoinedEvent) eventName() string     { return "user_joined" }
func (self *UserLeftEvent) eventName() string       { return "user_left" }
func (self *ProjectUpdatedEvent) eventName() string { return "project_updated" }
func (self *TaskActionEvent) eventName() string     { return "task_action" }
func (self *CursorUpdatedEvent) eventName() string  { return "cursor_updated" }
func (self *ErrorEvent) eventName() string          { return "error" }
func (self *resyncDueEvent) eventName() string      { return "resync_due" }

func EventName(event Event) string {
	return event.eventName()
}
