package collab

import (
	"errors"
	"fmt"
	"time"
)

// error type checking:
//   sentinel errors are checked with errors.Is(err, ErrX)
//   typed errors are checked with errors.As(err, &connectionError)

var (
	ErrNotConnected = errors.New("not connected")
	ErrInRoom       = errors.New("already in a room")
	ErrPending      = errors.New("operation already pending")
	ErrClosed       = errors.New("dispatcher closed")
	ErrQueueFull    = errors.New("command queue full")
)

// the relay endpoint is unreachable or the connection dropped
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (self *ConnectionError) Error() string {
	if self.Endpoint == "" {
		return fmt.Sprintf("connection error: %s", self.Err)
	}
	return fmt.Sprintf("connection to %s failed: %s", self.Endpoint, self.Err)
}

func (self *ConnectionError) Unwrap() error {
	return self.Err
}

// a call did not get a response before its deadline
type TimeoutError struct {
	Event   string
	Timeout time.Duration
}

func (self *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", self.Event, self.Timeout)
}

// a response that could not be decoded, or an unsuccessful response without a reason
type ProtocolError struct {
	Event string
	Err   error
}

func (self *ProtocolError) Error() string {
	return fmt.Sprintf("%s protocol error: %s", self.Event, self.Err)
}

func (self *ProtocolError) Unwrap() error {
	return self.Err
}

// the relay rejected the request with a message, e.g. an unknown invite code
type ApplicationError struct {
	Event   string
	Message string
}

func (self *ApplicationError) Error() string {
	return fmt.Sprintf("%s: %s", self.Event, self.Message)
}
