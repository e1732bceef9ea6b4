package preview

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/slices"
)

// commandDispatcher turns the untyped fire-and-forget channel into a
// request/response surface. Every outbound command is wrapped as
// {id, name, ...params} with a fresh correlation id; every inbound payload
// is classified as a correlated reply, a recognized event, or noise.
//
// Replies may arrive in any order relative to issuance. The pending table
// is the only coupling between a command and its reply.
type commandDispatcher struct {
	ctx    context.Context
	cancel context.CancelFunc

	channel    MessageChannel
	generateId IdGenerator

	pending *pendingCallTable

	eventCallbacks map[EventName]*callbackList[EventCallback]

	stateLock sync.Mutex
	state     *ElementState
}

func newCommandDispatcher(ctx context.Context, channel MessageChannel, generateId IdGenerator) *commandDispatcher {
	cancelCtx, cancel := context.WithCancel(ctx)

	if generateId == nil {
		generateId = NewId
	}

	eventCallbacks := map[EventName]*callbackList[EventCallback]{}
	for _, name := range eventNames {
		eventCallbacks[name] = newCallbackList[EventCallback]()
	}

	dispatcher := &commandDispatcher{
		ctx:            cancelCtx,
		cancel:         cancel,
		channel:        channel,
		generateId:     generateId,
		pending:        newPendingCallTable(),
		eventCallbacks: eventCallbacks,
	}
	channel.SetReceiveCallback(dispatcher.receive)
	go dispatcher.watchChannel()
	return dispatcher
}

// watchChannel force fails every outstanding call when the channel dies so
// that no caller hangs past disposal.
func (self *commandDispatcher) watchChannel() {
	select {
	case <-self.ctx.Done():
	case <-self.channel.Done():
	}
	self.pending.fail(ErrChannelClosed)
}

// Call issues one command round trip. The reply fields minus the
// correlation id are the success value. Failures are wrapped with the
// command name so the caller can tell command errors from channel errors
// without seeing raw transport detail.
func (self *commandDispatcher) Call(ctx context.Context, name string, params map[string]any) (map[string]any, error) {
	id := self.generateId()

	payload := map[string]any{
		"id":   id,
		"name": name,
	}
	for param, value := range params {
		payload[param] = value
	}

	result := self.pending.register(id)
	self.channel.Send(payload)
	glog.V(2).Infof("[pd]%s(%s)->\n", name, id)

	select {
	case <-ctx.Done():
		self.pending.remove(id)
		return nil, fmt.Errorf("%s error: %s", name, ctx.Err())
	case r := <-result:
		if r.err != nil {
			return nil, fmt.Errorf("%s error: %s", name, r.err)
		}
		return r.fields, nil
	}
}

func (self *commandDispatcher) receive(payload map[string]any) {
	if id, ok := payload["id"].(string); ok {
		self.receiveReply(id, payload)
		return
	}
	if message, ok := payload["message"].(string); ok {
		self.receiveEvent(EventName(message), payload)
		return
	}
	// neither reply nor event, drop
	glog.V(2).Infof("[pd]drop<-\n")
}

func (self *commandDispatcher) receiveReply(id string, payload map[string]any) {
	if errMessage, ok := payload["error"].(string); ok {
		if !self.pending.reject(id, fmt.Errorf("%s", errMessage)) {
			glog.V(2).Infof("[pd]drop reply(%s)<-\n", id)
		}
		return
	}

	fields := map[string]any{}
	for field, value := range payload {
		if field == "id" {
			continue
		}
		fields[field] = value
	}
	if !self.pending.resolve(id, fields) {
		// duplicate or unknown correlation, tolerated
		glog.V(2).Infof("[pd]drop reply(%s)<-\n", id)
	}
}

func (self *commandDispatcher) receiveEvent(name EventName, payload map[string]any) {
	if !slices.Contains(eventNames, name) {
		glog.V(2).Infof("[pd]drop event(%s)<-\n", name)
		return
	}

	fields := map[string]any{}
	for field, value := range payload {
		if field == "message" {
			continue
		}
		fields[field] = value
	}

	// state-change replaces the cached tree before any observer runs.
	// this is the only event with a side effect beyond notification.
	if name == EventStateChange {
		if stateMap, ok := fields["state"].(map[string]any); ok {
			state, err := ElementStateFromMap(stateMap)
			if err == nil {
				self.setState(state)
			} else {
				glog.Infof("[pd]state decode error = %s\n", err)
			}
		}
	}

	event := &Event{
		Name:   name,
		Fields: fields,
	}
	for _, eventCallback := range self.eventCallbacks[name].get() {
		callback := eventCallback
		safeInvoke(func() {
			callback(event)
		})
	}
}

// AddEventCallback registers an observer for one event name.
// Returns a remove function.
func (self *commandDispatcher) AddEventCallback(name EventName, eventCallback EventCallback) func() {
	callbacks, ok := self.eventCallbacks[name]
	if !ok {
		return func() {}
	}
	return callbacks.add(eventCallback)
}

// State returns the current authoritative state tree, or nil before the
// first load. The returned tree must be treated as read only.
func (self *commandDispatcher) State() *ElementState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

// setState replaces the cached tree wholesale. The reference swap is the
// atomic unit; nodes are never edited in place.
func (self *commandDispatcher) setState(state *ElementState) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.state = state
}

func (self *commandDispatcher) Close() {
	self.cancel()
	self.channel.Close()
	self.pending.fail(ErrChannelClosed)
}
