package collab

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/bringyour/collab/protocol"
)

// the relay transport is one persistent websocket to a single relay endpoint.
// It supports
// - `Call`, a request with a response or a timeout
// - `Emit`, fire and forget
// - push events from the relay, delivered to handlers registered with `On`
// Handlers run on the transport reader goroutine.
// There is no automatic reconnect. A dropped connection fails pending calls and is reported
// once to the disconnect handlers. The caller decides whether to `Connect` again.

type RelayTransportSettings struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadTimeout      time.Duration
	PingTimeout      time.Duration
	SendBufferSize   int
}

func DefaultRelayTransportSettings() *RelayTransportSettings {
	return &RelayTransportSettings{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      15 * time.Second,
		PingTimeout:      5 * time.Second,
		SendBufferSize:   64,
	}
}

type PushFunction func(data json.RawMessage)

// `err` is nil when the connection was closed locally
type DisconnectFunction func(err error)

// the transport contract the dispatcher depends on
type Channel interface {
	Connect(endpoint string) error
	IsConnected() bool
	Call(event string, payload any, timeout time.Duration) (json.RawMessage, error)
	Emit(event string, payload any) error
	On(event string, handler PushFunction) func()
	OnDisconnect(handler DisconnectFunction) func()
	// closes the current connection. The channel can connect again.
	Disconnect()
	// closes the channel permanently
	Close()
}

type RelayTransport struct {
	ctx    context.Context
	cancel context.CancelFunc

	settings *RelayTransportSettings

	nextCallId atomic.Uint64

	handlersLock        sync.Mutex
	handlers            map[string]*callbackList[PushFunction]
	disconnectCallbacks callbackList[DisconnectFunction]

	stateLock sync.Mutex
	conn      *relayConn
}

func NewRelayTransportWithDefaults(ctx context.Context) *RelayTransport {
	return NewRelayTransport(ctx, DefaultRelayTransportSettings())
}

func NewRelayTransport(ctx context.Context, settings *RelayTransportSettings) *RelayTransport {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &RelayTransport{
		ctx:      cancelCtx,
		cancel:   cancel,
		settings: settings,
		handlers: map[string]*callbackList[PushFunction]{},
	}
}

// a no-op when already connected
func (self *RelayTransport) Connect(endpoint string) error {
	select {
	case <-self.ctx.Done():
		return &ConnectionError{Endpoint: endpoint, Err: ErrClosed}
	default:
	}
	if self.IsConnected() {
		return nil
	}

	dialCtx, dialCancel := context.WithTimeout(self.ctx, self.settings.ConnectTimeout)
	defer dialCancel()

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: self.settings.HandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		glog.Infof("[t]connect %s error = %s\n", endpoint, err)
		return &ConnectionError{Endpoint: endpoint, Err: err}
	}

	conn := newRelayConn(self.ctx, self, endpoint, ws)

	self.stateLock.Lock()
	if self.conn != nil {
		// lost a race with a concurrent connect
		self.stateLock.Unlock()
		ws.Close()
		return nil
	}
	self.conn = conn
	self.stateLock.Unlock()

	go conn.write()
	go conn.read()

	glog.V(1).Infof("[t]connected %s\n", endpoint)
	return nil
}

func (self *RelayTransport) IsConnected() bool {
	return self.currentConn() != nil
}

func (self *RelayTransport) currentConn() *relayConn {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.conn
}

func (self *RelayTransport) removeConn(conn *relayConn) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.conn == conn {
		self.conn = nil
	}
}

func (self *RelayTransport) Call(event string, payload any, timeout time.Duration) (json.RawMessage, error) {
	conn := self.currentConn()
	if conn == nil {
		return nil, &ConnectionError{Err: ErrNotConnected}
	}
	return conn.call(self.nextCallId.Add(1), event, payload, timeout)
}

// best effort. The frame is dropped if the send queue stays full for the write timeout.
func (self *RelayTransport) Emit(event string, payload any) error {
	conn := self.currentConn()
	if conn == nil {
		return &ConnectionError{Err: ErrNotConnected}
	}
	return conn.emit(event, payload)
}

func (self *RelayTransport) On(event string, handler PushFunction) func() {
	self.handlersLock.Lock()
	handlers, ok := self.handlers[event]
	if !ok {
		handlers = &callbackList[PushFunction]{}
		self.handlers[event] = handlers
	}
	self.handlersLock.Unlock()
	return handlers.add(handler)
}

func (self *RelayTransport) OnDisconnect(handler DisconnectFunction) func() {
	return self.disconnectCallbacks.add(handler)
}

func (self *RelayTransport) push(event string, data json.RawMessage) {
	self.handlersLock.Lock()
	handlers := self.handlers[event]
	self.handlersLock.Unlock()

	if handlers == nil {
		glog.V(2).Infof("[tr]unhandled %s\n", event)
		return
	}
	for _, handler := range handlers.get() {
		func() {
			defer recoverCallback(event)
			handler(data)
		}()
	}
}

func (self *RelayTransport) disconnected(err error) {
	for _, handler := range self.disconnectCallbacks.get() {
		func() {
			defer recoverCallback("disconnect")
			handler(err)
		}()
	}
}

// frames already queued, e.g. a final `leave_room`, are written before the close
func (self *RelayTransport) Disconnect() {
	if conn := self.currentConn(); conn != nil {
		conn.shutdown()
	}
}

func (self *RelayTransport) Close() {
	self.Disconnect()
	self.cancel()
}

// one websocket connection. A `relayConn` is never reused after it closes.
type relayConn struct {
	ctx    context.Context
	cancel context.CancelFunc

	transport *RelayTransport
	endpoint  string
	ws        *websocket.Conn

	send chan []byte

	pendingLock sync.Mutex
	pending     map[uint64]chan json.RawMessage

	closeOnce sync.Once
	// set before `cancel`, read only after `ctx.Done()`
	err error
}

func newRelayConn(ctx context.Context, transport *RelayTransport, endpoint string, ws *websocket.Conn) *relayConn {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &relayConn{
		ctx:       cancelCtx,
		cancel:    cancel,
		transport: transport,
		endpoint:  endpoint,
		ws:        ws,
		send:      make(chan []byte, transport.settings.SendBufferSize),
		pending:   map[uint64]chan json.RawMessage{},
	}
}

func (self *relayConn) close(err error) {
	self.closeOnce.Do(func() {
		self.err = err
		self.cancel()
		self.ws.Close()
		self.transport.removeConn(self)
		if err != nil {
			glog.Infof("[t]disconnect %s = %s\n", self.endpoint, err)
		} else {
			glog.V(1).Infof("[t]disconnect %s\n", self.endpoint)
		}
		self.transport.disconnected(err)
	})
}

func (self *relayConn) closedError() error {
	err := self.err
	if err == nil {
		err = ErrNotConnected
	}
	return &ConnectionError{Endpoint: self.endpoint, Err: err}
}

// queues a close marker behind the pending frames and waits (bounded) for the writer to reach it
func (self *relayConn) shutdown() {
	writeTimeout := self.transport.settings.WriteTimeout
	select {
	case self.send <- nil:
	case <-self.ctx.Done():
		return
	case <-time.After(writeTimeout):
	}
	select {
	case <-self.ctx.Done():
	case <-time.After(writeTimeout):
	}
	self.close(nil)
}

func (self *relayConn) call(id uint64, event string, payload any, timeout time.Duration) (json.RawMessage, error) {
	message, err := protocol.NewCallFrame(id, event, payload)
	if err != nil {
		return nil, &ProtocolError{Event: event, Err: err}
	}

	response := make(chan json.RawMessage, 1)
	self.pendingLock.Lock()
	self.pending[id] = response
	self.pendingLock.Unlock()
	defer func() {
		self.pendingLock.Lock()
		delete(self.pending, id)
		self.pendingLock.Unlock()
	}()

	// the timeout bounds both queueing and the response
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case self.send <- message:
		glog.V(2).Infof("[ts]call %s %d\n", event, id)
	case <-self.ctx.Done():
		return nil, self.closedError()
	case <-timer.C:
		glog.Infof("[ts]call %s %d timeout (send)\n", event, id)
		return nil, &TimeoutError{Event: event, Timeout: timeout}
	}

	select {
	case data := <-response:
		return data, nil
	case <-self.ctx.Done():
		return nil, self.closedError()
	case <-timer.C:
		glog.Infof("[tr]call %s %d timeout\n", event, id)
		return nil, &TimeoutError{Event: event, Timeout: timeout}
	}
}

func (self *relayConn) emit(event string, payload any) error {
	message, err := protocol.NewEventFrame(event, payload)
	if err != nil {
		return &ProtocolError{Event: event, Err: err}
	}
	select {
	case self.send <- message:
		glog.V(2).Infof("[ts]emit %s\n", event)
		return nil
	case <-self.ctx.Done():
		return self.closedError()
	case <-time.After(self.transport.settings.WriteTimeout):
		glog.Infof("[ts]drop %s\n", event)
		return &TimeoutError{Event: event, Timeout: self.transport.settings.WriteTimeout}
	}
}

func (self *relayConn) resolve(id uint64, data json.RawMessage) {
	self.pendingLock.Lock()
	response, ok := self.pending[id]
	self.pendingLock.Unlock()

	if !ok {
		// the call already timed out
		glog.V(2).Infof("[tr]late ack %d\n", id)
		return
	}
	select {
	case response <- data:
	default:
	}
}

func (self *relayConn) write() {
	ticker := time.NewTicker(self.transport.settings.PingTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			self.close(nil)
			return
		case message := <-self.send:
			if message == nil {
				// close marker
				self.ws.WriteControl(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(self.transport.settings.WriteTimeout),
				)
				self.close(nil)
				return
			}
			self.ws.SetWriteDeadline(time.Now().Add(self.transport.settings.WriteTimeout))
			if err := self.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				// note that for websocket a deadline timeout cannot be recovered
				self.close(err)
				return
			}
		case <-ticker.C:
			if err := self.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(self.transport.settings.WriteTimeout)); err != nil {
				self.close(err)
				return
			}
		}
	}
}

func (self *relayConn) read() {
	readTimeout := self.transport.settings.ReadTimeout
	self.ws.SetReadDeadline(time.Now().Add(readTimeout))
	self.ws.SetPongHandler(func(string) error {
		self.ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			self.close(err)
			return
		}
		self.ws.SetReadDeadline(time.Now().Add(readTimeout))

		if messageType != websocket.TextMessage {
			glog.V(2).Infof("[tr]other=%d %s<-\n", messageType, self.endpoint)
			continue
		}

		frame, err := protocol.DecodeFrame(message)
		if err != nil {
			glog.Infof("[tr]bad frame %s<- = %s\n", self.endpoint, err)
			continue
		}
		switch frame.Type {
		case protocol.FrameTypeAck:
			self.resolve(frame.Id, frame.Data)
		case protocol.FrameTypeEvent:
			glog.V(2).Infof("[tr]%s %s<-\n", frame.Event, self.endpoint)
			self.transport.push(frame.Event, frame.Data)
		default:
			glog.V(2).Infof("[tr]unexpected frame type %s\n", frame.Type)
		}
	}
}
