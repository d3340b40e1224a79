package collab

import (
	"encoding/json"

	"github.com/golang/glog"

	"github.com/bringyour/collab/protocol"
)

// Convergence policy:
// - outbound actions are emitted only while in a room, best effort, never buffered or retried
// - inbound actions are applied positionally or by stable id, and dropped when the target
//   does not resolve. This is not conflict free. Divergence is corrected by the next full sync.
// - full sync, project updates and the join snapshot replace the whole local graph
//   (last writer wins at graph granularity)
// - self authored echoes and redelivered duplicates are dropped using the
//   per client (origin, seq) tag

// encodes outbound actions and filters inbound actions.
// Owned by the dispatcher worker goroutine. Applying actions happens on the ui goroutine
// with `TaskAction.Apply`, which needs no engine state.
type SyncEngine struct {
	clientId Id
	// last sequence number assigned to an outbound action
	seq uint64
	// the relay assigned id of this client in the current room, if the relay reported it
	selfId string
	// origin -> highest sequence number applied
	lastSeqs map[string]uint64
}

func NewSyncEngine(clientId Id) *SyncEngine {
	return &SyncEngine{
		clientId: clientId,
		lastSeqs: map[string]uint64{},
	}
}

func (self *SyncEngine) ClientId() Id {
	return self.clientId
}

// clears per room state. Called when entering or leaving a room.
func (self *SyncEngine) Reset(selfId string) {
	self.selfId = selfId
	self.lastSeqs = map[string]uint64{}
}

// encodes and tags an outbound action with this client's origin and the next sequence number
func (self *SyncEngine) Encode(action TaskAction) (*protocol.TaskAction, error) {
	payload, err := EncodeTaskAction(action)
	if err != nil {
		return nil, err
	}
	return self.Tag(action.Kind(), payload), nil
}

// tags an already encoded payload. Payloads are encoded on the ui goroutine,
// so the worker never reads an action the ui may still mutate.
func (self *SyncEngine) Tag(kind ActionKind, payload json.RawMessage) *protocol.TaskAction {
	self.seq += 1
	return &protocol.TaskAction{
		Action:  string(kind),
		Payload: payload,
		Origin:  self.clientId.String(),
		Seq:     self.seq,
	}
}

// decodes an inbound action. Returns false if the action must not be applied:
// it is a self echo, a duplicate delivery, or it does not decode.
func (self *SyncEngine) Accept(message *protocol.TaskAction) (TaskAction, bool) {
	if message.Origin != "" && message.Origin == self.clientId.String() {
		glog.V(2).Infof("[w]drop echo %s seq=%d\n", message.Action, message.Seq)
		return nil, false
	}
	if message.From != "" && message.From == self.selfId {
		glog.V(2).Infof("[w]drop echo from self %s\n", message.Action)
		return nil, false
	}
	if message.Origin != "" && 0 < message.Seq {
		if lastSeq, ok := self.lastSeqs[message.Origin]; ok && message.Seq <= lastSeq {
			glog.V(2).Infof("[w]drop duplicate %s origin=%s seq=%d\n", message.Action, message.Origin, message.Seq)
			return nil, false
		}
	}

	action, err := DecodeTaskAction(message.Action, message.Payload)
	if err != nil {
		glog.V(1).Infof("[w]drop undecodable %s = %s\n", message.Action, err)
		return nil, false
	}

	if message.Origin != "" && 0 < message.Seq {
		self.lastSeqs[message.Origin] = message.Seq
	}
	return action, true
}
