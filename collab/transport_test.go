package collab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"github.com/bringyour/collab/protocol"
	"github.com/bringyour/collab/relay"
)

func testRelay(t *testing.T, ctx context.Context) (*relay.Server, string) {
	server := relay.NewServerWithDefaults(ctx)
	httpServer := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		server.Close()
		httpServer.Close()
	})
	return server, websocketUrl(httpServer)
}

func websocketUrl(httpServer *httptest.Server) string {
	return "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
}

// a websocket server that records frames and never answers
func testSilentServer(t *testing.T) (string, chan *protocol.Frame) {
	frames := make(chan *protocol.Frame, 64)
	upgrader := websocket.Upgrader{}
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			_, message, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if frame, err := protocol.DecodeFrame(message); err == nil {
				frames <- frame
			}
		}
	}))
	t.Cleanup(httpServer.Close)
	return websocketUrl(httpServer), frames
}

func TestTransportCall(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, endpoint := testRelay(t, ctx)

	transport := NewRelayTransportWithDefaults(ctx)
	defer transport.Close()

	err := transport.Connect(endpoint)
	assert.Equal(t, err, nil)
	assert.Equal(t, transport.IsConnected(), true)
	// connect is a no-op when connected
	assert.Equal(t, transport.Connect(endpoint), nil)

	data, err := transport.Call(protocol.EventCreateRoom, &protocol.CreateRoomArgs{Name: "Alpha"}, 2*time.Second)
	assert.Equal(t, err, nil)
	var result protocol.CreateRoomResult
	assert.Equal(t, json.Unmarshal(data, &result), nil)
	assert.Equal(t, result.Success, true)
	assert.Equal(t, len(result.Code), relay.CodeLength)
	assert.NotEqual(t, result.RoomId, "")
	assert.NotEqual(t, result.SelfId, "")
}

func TestTransportConnectError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpServer := httptest.NewServer(http.NotFoundHandler())
	endpoint := websocketUrl(httpServer)
	httpServer.Close()

	transport := NewRelayTransportWithDefaults(ctx)
	defer transport.Close()

	err := transport.Connect(endpoint)
	var connectionError *ConnectionError
	assert.Equal(t, errors.As(err, &connectionError), true)
	assert.Equal(t, connectionError.Endpoint, endpoint)
	assert.Equal(t, transport.IsConnected(), false)

	_, err = transport.Call(protocol.EventCreateRoom, nil, time.Second)
	assert.Equal(t, errors.As(err, &connectionError), true)
	assert.Equal(t, errors.Is(err, ErrNotConnected), true)

	err = transport.Emit(protocol.EventLeaveRoom, nil)
	assert.Equal(t, errors.Is(err, ErrNotConnected), true)
}

func TestTransportCallTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	endpoint, _ := testSilentServer(t)

	transport := NewRelayTransportWithDefaults(ctx)
	defer transport.Close()
	assert.Equal(t, transport.Connect(endpoint), nil)

	start := time.Now()
	_, err := transport.Call(protocol.EventJoinRoom, &protocol.JoinRoomArgs{Code: "AB12CD"}, 100*time.Millisecond)
	var timeoutError *TimeoutError
	assert.Equal(t, errors.As(err, &timeoutError), true)
	assert.Equal(t, timeoutError.Event, protocol.EventJoinRoom)
	assert.Equal(t, time.Since(start) < 2*time.Second, true)
}

func TestTransportDisconnectFlushes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	endpoint, frames := testSilentServer(t)

	transport := NewRelayTransportWithDefaults(ctx)
	defer transport.Close()
	assert.Equal(t, transport.Connect(endpoint), nil)

	var disconnects []error
	var disconnectsLock sync.Mutex
	transport.OnDisconnect(func(err error) {
		disconnectsLock.Lock()
		defer disconnectsLock.Unlock()
		disconnects = append(disconnects, err)
	})

	assert.Equal(t, transport.Emit(protocol.EventLeaveRoom, nil), nil)
	transport.Disconnect()
	assert.Equal(t, transport.IsConnected(), false)

	select {
	case frame := <-frames:
		assert.Equal(t, frame.Type, protocol.FrameTypeEvent)
		assert.Equal(t, frame.Event, protocol.EventLeaveRoom)
	case <-time.After(2 * time.Second):
		t.Fatal("queued frame was not written before close")
	}

	disconnectsLock.Lock()
	defer disconnectsLock.Unlock()
	// a local close reports a nil error, once
	assert.Equal(t, disconnects, []error{nil})
}

func TestTransportPush(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, endpoint := testRelay(t, ctx)

	a := NewRelayTransportWithDefaults(ctx)
	defer a.Close()
	b := NewRelayTransportWithDefaults(ctx)
	defer b.Close()

	pushes := make(chan *protocol.TaskAction, 8)
	b.On(protocol.EventTaskAction, func(data json.RawMessage) {
		var message protocol.TaskAction
		if err := json.Unmarshal(data, &message); err == nil {
			pushes <- &message
		}
	})
	// a panicking handler does not stop delivery to the others
	b.On(protocol.EventTaskAction, func(data json.RawMessage) {
		panic("handler")
	})
	userLeft := make(chan string, 8)
	a.On(protocol.EventUserLeft, func(data json.RawMessage) {
		var message protocol.UserLeft
		if err := json.Unmarshal(data, &message); err == nil {
			userLeft <- message.Id
		}
	})

	assert.Equal(t, a.Connect(endpoint), nil)
	assert.Equal(t, b.Connect(endpoint), nil)

	data, err := a.Call(protocol.EventCreateRoom, &protocol.CreateRoomArgs{Name: "A"}, 2*time.Second)
	assert.Equal(t, err, nil)
	var created protocol.CreateRoomResult
	json.Unmarshal(data, &created)

	data, err = b.Call(protocol.EventJoinRoom, &protocol.JoinRoomArgs{Code: created.Code, Name: "B"}, 2*time.Second)
	assert.Equal(t, err, nil)
	var joined protocol.JoinRoomResult
	json.Unmarshal(data, &joined)
	assert.Equal(t, joined.Success, true)
	assert.Equal(t, len(joined.Members), 2)

	err = a.Emit(protocol.EventTaskAction, &protocol.TaskAction{
		Action:  string(ActionCreateTask),
		Payload: json.RawMessage(`{"title":"T1"}`),
		Origin:  "origin",
		Seq:     7,
	})
	assert.Equal(t, err, nil)

	select {
	case message := <-pushes:
		assert.Equal(t, message.Action, string(ActionCreateTask))
		assert.Equal(t, message.From, created.SelfId)
		assert.Equal(t, message.Origin, "origin")
		assert.Equal(t, message.Seq, uint64(7))
	case <-time.After(2 * time.Second):
		t.Fatal("no task action push")
	}

	b.Disconnect()
	select {
	case id := <-userLeft:
		assert.Equal(t, id, joined.SelfId)
	case <-time.After(2 * time.Second):
		t.Fatal("no user left push")
	}
}

func TestTransportRelayDrop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server, endpoint := testRelay(t, ctx)

	transport := NewRelayTransportWithDefaults(ctx)
	defer transport.Close()

	disconnects := make(chan error, 4)
	transport.OnDisconnect(func(err error) {
		disconnects <- err
	})
	assert.Equal(t, transport.Connect(endpoint), nil)

	server.Close()

	select {
	case err := <-disconnects:
		assert.NotEqual(t, err, nil)
	case <-time.After(2 * time.Second):
		t.Fatal("no disconnect")
	}
	assert.Equal(t, transport.IsConnected(), false)

	_, err := transport.Call(protocol.EventCreateRoom, nil, time.Second)
	assert.Equal(t, errors.Is(err, ErrNotConnected), true)
}
