package relay

import (
	"context"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/bringyour/collab/protocol"
)

// one client connection. The member id is assigned per connection.
type conn struct {
	ctx    context.Context
	cancel context.CancelFunc

	server *Server
	id     string
	ws     *websocket.Conn

	send chan []byte

	closeOnce sync.Once
}

func newConn(ctx context.Context, server *Server, id string, ws *websocket.Conn) *conn {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &conn{
		ctx:    cancelCtx,
		cancel: cancel,
		server: server,
		id:     id,
		ws:     ws,
		send:   make(chan []byte, server.settings.SendBufferSize),
	}
}

func (self *conn) close() {
	self.closeOnce.Do(func() {
		self.cancel()
		self.ws.Close()
		self.server.disconnected(self)
	})
}

// drops the frame if the client does not keep up
func (self *conn) sendFrame(message []byte) {
	select {
	case self.send <- message:
	case <-self.ctx.Done():
	case <-time.After(self.server.settings.WriteTimeout):
		glog.Infof("[r]drop ->%s\n", self.id)
	}
}

func (self *conn) ack(id uint64, data any) {
	message, err := protocol.NewAckFrame(id, data)
	if err != nil {
		glog.Infof("[r]encode ack = %s\n", err)
		return
	}
	self.sendFrame(message)
}

func (self *conn) write() {
	defer self.close()

	ticker := time.NewTicker(self.server.settings.PingTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case message := <-self.send:
			self.ws.SetWriteDeadline(time.Now().Add(self.server.settings.WriteTimeout))
			if err := self.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				glog.V(1).Infof("[r]write %s = %s\n", self.id, err)
				return
			}
		case <-ticker.C:
			if err := self.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(self.server.settings.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func (self *conn) read() {
	defer self.close()

	readTimeout := self.server.settings.ReadTimeout
	self.ws.SetReadDeadline(time.Now().Add(readTimeout))
	self.ws.SetPongHandler(func(string) error {
		self.ws.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	for {
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				glog.Infof("[r]read %s = %s\n", self.id, err)
			}
			return
		}
		self.ws.SetReadDeadline(time.Now().Add(readTimeout))

		if messageType != websocket.TextMessage {
			continue
		}
		frame, err := protocol.DecodeFrame(message)
		if err != nil {
			glog.Infof("[r]bad frame %s = %s\n", self.id, err)
			continue
		}
		self.server.handleFrame(self, frame)
	}
}
