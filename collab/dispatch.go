package collab

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/bringyour/collab/protocol"
)

// the dispatcher is the facade the ui works with.
//
// Threading:
// - the ui goroutine owns the graph. It calls the dispatcher operations and calls `Drain` once per tick.
// - one worker goroutine owns the channel, the session state machine and the sync engine.
//   Operations post commands to the worker and never block on the network.
// - blocking calls run on per call goroutines and post their results back to the worker
// - the worker posts events to a bounded queue. `Drain` applies them to the graph and
//   the ui side mirrors, then notifies listeners.

const DefaultRelayUrl = "ws://127.0.0.1:3005/ws"

type DispatcherSettings struct {
	Endpoint       string
	CallTimeout    time.Duration
	ResyncInterval time.Duration
	// local cursor moves per second. `<= 0` disables the throttle.
	CursorRate        float64
	EventBufferSize   int
	CommandBufferSize int
	// how long the worker waits on a full event queue before dropping the event
	EventTimeout    time.Duration
	ShutdownTimeout time.Duration

	TransportSettings *RelayTransportSettings
}

func DefaultDispatcherSettings() *DispatcherSettings {
	return &DispatcherSettings{
		Endpoint:          DefaultRelayUrl,
		CallTimeout:       8 * time.Second,
		ResyncInterval:    30 * time.Second,
		CursorRate:        DefaultCursorRate,
		EventBufferSize:   256,
		CommandBufferSize: 64,
		EventTimeout:      1 * time.Second,
		ShutdownTimeout:   2 * time.Second,
		TransportSettings: DefaultRelayTransportSettings(),
	}
}

type EventFunction func(event Event)

// each envelope carries the worker session state at the time of the event,
// so a dropped envelope is corrected by the next one
type dispatchEnvelope struct {
	// nil for a state only update
	event  Event
	state  State
	room   RoomSession
	roster []Participant
}

type pushMessage struct {
	event string
	data  json.RawMessage
}

type roomCall int

const (
	roomCallNone roomCall = iota
	roomCallCreate
	roomCallJoin
	roomCallRejoin
)

type Dispatcher struct {
	ctx    context.Context
	cancel context.CancelFunc

	graph    GraphModel
	channel  Channel
	settings *DispatcherSettings
	clientId Id

	commands    chan func()
	results     chan func()
	pushes      chan *pushMessage
	disconnects chan error
	events      chan *dispatchEnvelope
	done        chan struct{}
	closeOnce   sync.Once

	// worker state
	session      *Session
	engine       *SyncEngine
	pendingRoom  roomCall
	closePending bool
	afterConnect []func()
	// incremented on each disconnect. Results of calls started in an earlier epoch are dropped.
	epoch        uint64
	shuttingDown bool
	stopped      bool

	// ui state
	listeners callbackList[EventFunction]
	presence  *PresenceTracker
	throttle  *CursorThrottle
	state     State
	room      RoomSession
	roster    []Participant
}

func NewDispatcherWithDefaults(ctx context.Context, graph GraphModel, endpoint string) *Dispatcher {
	settings := DefaultDispatcherSettings()
	settings.Endpoint = endpoint
	channel := NewRelayTransport(ctx, settings.TransportSettings)
	return NewDispatcher(ctx, graph, channel, settings)
}

// the dispatcher takes ownership of `channel` and closes it on `Close`.
// Cancelling `ctx` closes the dispatcher the same way as `Close`, so the room is left
// before the worker stops.
func NewDispatcher(ctx context.Context, graph GraphModel, channel Channel, settings *DispatcherSettings) *Dispatcher {
	// the worker outlives `ctx` until its shutdown command has run
	cancelCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	clientId := NewId()

	dispatcher := &Dispatcher{
		ctx:         cancelCtx,
		cancel:      cancel,
		graph:       graph,
		channel:     channel,
		settings:    settings,
		clientId:    clientId,
		commands:    make(chan func(), settings.CommandBufferSize),
		results:     make(chan func(), settings.CommandBufferSize),
		pushes:      make(chan *pushMessage, settings.CommandBufferSize),
		disconnects: make(chan error, 4),
		events:      make(chan *dispatchEnvelope, settings.EventBufferSize),
		done:        make(chan struct{}),
		session:     NewSession(),
		engine:      NewSyncEngine(clientId),
		presence:    NewPresenceTracker(),
		throttle:    NewCursorThrottle(settings.CursorRate),
		state:       StateDisconnected,
	}

	for _, event := range []string{
		protocol.EventMembersUpdated,
		protocol.EventUserJoined,
		protocol.EventUserLeft,
		protocol.EventProjectUpdated,
		protocol.EventTaskAction,
		protocol.EventCursorUpdate,
		protocol.EventRoomClosed,
	} {
		event := event
		channel.On(event, func(data json.RawMessage) {
			dispatcher.forwardPush(event, data)
		})
	}
	channel.OnDisconnect(dispatcher.forwardDisconnect)

	go dispatcher.run()
	go func() {
		select {
		case <-ctx.Done():
			dispatcher.Close()
		case <-dispatcher.done:
		}
	}()

	return dispatcher
}

// the origin id stamped on outbound actions
func (self *Dispatcher) ClientId() Id {
	return self.clientId
}

// the listener is called from `Drain` on the ui goroutine. Returns a function that removes it.
func (self *Dispatcher) AddListener(listener EventFunction) func() {
	return self.listeners.add(listener)
}

func (self *Dispatcher) Connect() error {
	return self.post(func() {
		self.connect(nil)
	})
}

// connects first if needed. A nil `snapshot` shares the current graph.
func (self *Dispatcher) CreateRoom(name string, snapshot *GraphSnapshot) error {
	if snapshot == nil {
		snapshot = self.graph.Snapshot()
	}
	projectData, err := snapshot.Json()
	if err != nil {
		return err
	}
	return self.post(func() {
		self.createRoom(name, projectData)
	})
}

// connects first if needed. The room snapshot replaces the local graph on success.
func (self *Dispatcher) JoinRoom(code string, name string) error {
	return self.post(func() {
		self.joinRoom(code, name, false)
	})
}

// joins a room this client was in before. The relay restores the host role if this
// client created the room.
func (self *Dispatcher) RejoinRoom(code string, name string) error {
	return self.post(func() {
		self.joinRoom(code, name, true)
	})
}

// a no-op when not in a room
func (self *Dispatcher) LeaveRoom() error {
	return self.post(self.leaveRoom)
}

// a no-op unless in a room as host
func (self *Dispatcher) CloseRoom() error {
	return self.post(self.closeRoom)
}

// pushes a full snapshot to the room. A nil `snapshot` shares the current graph.
func (self *Dispatcher) SyncProject(snapshot *GraphSnapshot) error {
	if snapshot == nil {
		snapshot = self.graph.Snapshot()
	}
	projectData, err := snapshot.Json()
	if err != nil {
		return err
	}
	return self.post(func() {
		self.syncProject(projectData)
	})
}

// broadcasts an action that was already applied to the local graph.
// The action is dropped when not in a room. A host follows a delete with a full sync,
// since peers without stable ids resolve the following indices differently.
func (self *Dispatcher) SendTaskAction(action TaskAction) error {
	payload, err := EncodeTaskAction(action)
	if err != nil {
		return err
	}
	kind := action.Kind()
	if err := self.post(func() {
		self.sendTaskAction(kind, payload)
	}); err != nil {
		return err
	}
	if kind == ActionDeleteTask && self.room.IsHost() {
		return self.SendTaskAction(&FullSync{
			Snapshot: self.graph.Snapshot(),
		})
	}
	return nil
}

// binds stable ids, applies the action to the local graph and broadcasts it.
// Returns false if the action did not apply, in which case nothing is sent.
func (self *Dispatcher) Perform(action TaskAction) bool {
	if binder, ok := action.(graphBinder); ok {
		binder.bind(self.graph)
	}
	if !action.Apply(self.graph) {
		glog.V(2).Infof("[d]%s did not apply\n", action.Kind())
		return false
	}
	if err := self.SendTaskAction(action); err != nil {
		glog.Infof("[d]send %s error = %s\n", action.Kind(), err)
	}
	return true
}

// returns false if the move was throttled or not sent
func (self *Dispatcher) SendCursor(x float64, y float64) bool {
	if !self.room.InRoom() {
		return false
	}
	if !self.throttle.Allow() {
		return false
	}
	name := self.room.ParticipantName
	err := self.post(func() {
		self.sendCursor(x, y, name)
	})
	return err == nil
}

// leaves the current room, if any, and closes the connection. The dispatcher can connect again.
func (self *Dispatcher) Disconnect() error {
	return self.post(self.disconnect)
}

// disconnects and stops the worker. Waits up to the shutdown timeout for the worker
// to finish before cancelling it.
func (self *Dispatcher) Close() {
	self.closeOnce.Do(func() {
		if err := self.post(self.shutdown); err == nil {
			select {
			case <-self.done:
			case <-time.After(self.settings.ShutdownTimeout):
				glog.Infof("[d]shutdown timeout\n")
			}
		}
		self.cancel()
		self.channel.Close()
	})
}

func (self *Dispatcher) post(command func()) error {
	select {
	case <-self.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case self.commands <- command:
		return nil
	default:
		glog.Infof("[d]drop command, queue full\n")
		return ErrQueueFull
	}
}

// applies pending worker events to the graph and mirrors, and notifies listeners.
// Call once per ui tick from the ui goroutine. Returns the number of events drained.
func (self *Dispatcher) Drain() int {
	// bounded by what is queued now, so a busy worker cannot stall the tick
	n := len(self.events)
	for i := 0; i < n; i += 1 {
		select {
		case envelope := <-self.events:
			self.deliver(envelope)
		default:
			return i
		}
	}
	return n
}

func (self *Dispatcher) deliver(envelope *dispatchEnvelope) {
	self.state = envelope.state
	self.room = envelope.room
	self.roster = envelope.roster

	if envelope.event == nil {
		return
	}

	switch v := envelope.event.(type) {
	case *resyncDueEvent:
		if self.room.IsHost() {
			self.SyncProject(nil)
		}
		return
	case *RoomCreatedEvent:
		self.presence.Clear()
	case *RoomJoinedEvent:
		self.presence.Clear()
		if v.Snapshot != nil {
			self.graph.Load(v.Snapshot)
		}
	case *RoomLeftEvent, *RoomClosedEvent, *DisconnectedEvent:
		self.presence.Clear()
	case *ProjectUpdatedEvent:
		self.graph.Load(v.Snapshot)
	case *TaskActionEvent:
		v.Applied = v.Action.Apply(self.graph)
		if !v.Applied {
			glog.V(2).Infof("[d]drop %s from %s, target did not resolve\n", v.Action.Kind(), v.From)
		}
	case *CursorUpdatedEvent:
		self.presence.UpdateCursor(v.Cursor.ParticipantId, v.Cursor.X, v.Cursor.Y, v.Cursor.DisplayName)
	case *UserLeftEvent:
		self.presence.RemoveCursor(v.ParticipantId)
	case *MembersUpdatedEvent:
		participantIds := make([]string, 0, len(v.Members))
		for _, member := range v.Members {
			participantIds = append(participantIds, member.Id)
		}
		self.presence.Retain(participantIds)
	case *UserJoinedEvent:
		// bring the new guest up to date
		if self.room.IsHost() {
			self.SendTaskAction(&FullSync{
				Snapshot: self.graph.Snapshot(),
			})
		}
	}

	for _, listener := range self.listeners.get() {
		func() {
			defer recoverCallback(EventName(envelope.event))
			listener(envelope.event)
		}()
	}
}

// ui side queries. These read mirrors that are updated in `Drain`.

func (self *Dispatcher) State() State {
	return self.state
}

func (self *Dispatcher) Session() RoomSession {
	return self.room
}

func (self *Dispatcher) Roster() []Participant {
	return self.roster
}

func (self *Dispatcher) Cursors() []RemoteCursor {
	return self.presence.Cursors()
}

func (self *Dispatcher) Cursor(participantId string) (RemoteCursor, bool) {
	return self.presence.Cursor(participantId)
}
