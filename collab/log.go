package collab

import (
	"runtime/debug"

	"github.com/golang/glog"
)

// Logging convention in the `collab` package:
// Info:
//     abnormal events only. Silent on normal operation, except one time setup.
//     this includes:
//     - call timeouts, failed calls, dropped connections
//     - dropped frames and dropped events (backpressure)
// Error:
//     recovered panics from listener and handler callbacks
// V(1):
//     room lifecycle transitions
// V(2):
//     per message trace. Tags:
//     - [t] transport connect/close, [ts] send, [tr] receive
//     - [w] worker
//     - [d] dispatch (ui side)

// recovers a panic raised by a callback so one bad listener cannot take down
// the goroutine that delivers to all listeners
func recoverCallback(tag string) {
	if r := recover(); r != nil {
		glog.Errorf("%s callback panic = %v\n%s", tag, r, debug.Stack())
	}
}
