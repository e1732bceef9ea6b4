package preview

import (
	"errors"
	"sync"
)

// ErrChannelClosed terminates every call outstanding when the channel dies.
var ErrChannelClosed = errors.New("channel closed")

type callResult struct {
	fields map[string]any
	err    error
}

// pendingCallTable maps an outstanding correlation id to the caller waiting
// on it. Each entry completes at most once: the entry is removed from the
// map under the lock before its channel is signaled, so a duplicate or
// spurious reply finds nothing and is a no-op.
type pendingCallTable struct {
	mutex  sync.Mutex
	calls  map[string]chan *callResult
	failed error
}

func newPendingCallTable() *pendingCallTable {
	return &pendingCallTable{
		calls: map[string]chan *callResult{},
	}
}

// register returns a channel that receives exactly one result.
// After `fail` the table is terminal and registration completes
// immediately with the failure error.
func (self *pendingCallTable) register(id string) chan *callResult {
	result := make(chan *callResult, 1)

	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.failed != nil {
		result <- &callResult{err: self.failed}
		return result
	}
	self.calls[id] = result
	return result
}

func (self *pendingCallTable) resolve(id string, fields map[string]any) bool {
	return self.complete(id, &callResult{fields: fields})
}

func (self *pendingCallTable) reject(id string, err error) bool {
	return self.complete(id, &callResult{err: err})
}

func (self *pendingCallTable) complete(id string, result *callResult) bool {
	self.mutex.Lock()
	call, ok := self.calls[id]
	if ok {
		delete(self.calls, id)
	}
	self.mutex.Unlock()

	if !ok {
		// unknown or already completed id, ignore
		return false
	}
	call <- result
	return true
}

// remove drops an entry without completing it.
// Used when a send could not be issued for a registered id.
func (self *pendingCallTable) remove(id string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	delete(self.calls, id)
}

// fail rejects every outstanding call and marks the table terminal
// so that no later caller can hang.
func (self *pendingCallTable) fail(err error) {
	self.mutex.Lock()
	if self.failed != nil {
		self.mutex.Unlock()
		return
	}
	self.failed = err
	calls := self.calls
	self.calls = map[string]chan *callResult{}
	self.mutex.Unlock()

	for _, call := range calls {
		call <- &callResult{err: err}
	}
}

func (self *pendingCallTable) size() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return len(self.calls)
}
