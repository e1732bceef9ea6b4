package preview

import (
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// note all callbacks are wrapped to check for nil and recover from errors

// makes a copy of the list on update so that notification never holds the lock
type callbackList[T any] struct {
	mutex       sync.Mutex
	nextHandle  int
	handles     []int
	callbacks   map[int]T
}

func newCallbackList[T any]() *callbackList[T] {
	return &callbackList[T]{
		callbacks: map[int]T{},
	}
}

func (self *callbackList[T]) get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbacks := make([]T, 0, len(self.handles))
	for _, handle := range self.handles {
		callbacks = append(callbacks, self.callbacks[handle])
	}
	return callbacks
}

// returns a remove function
func (self *callbackList[T]) add(callback T) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	handle := self.nextHandle
	self.nextHandle += 1

	nextHandles := slices.Clone(self.handles)
	nextHandles = append(nextHandles, handle)
	self.handles = nextHandles
	self.callbacks[handle] = callback

	return func() {
		self.remove(handle)
	}
}

func (self *callbackList[T]) remove(handle int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := slices.Index(self.handles, handle)
	if i < 0 {
		// not present
		return
	}
	nextHandles := slices.Clone(self.handles)
	nextHandles = slices.Delete(nextHandles, i, i+1)
	self.handles = nextHandles
	delete(self.callbacks, handle)
}

func (self *callbackList[T]) clear() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.handles = nil
	maps.Clear(self.callbacks)
}

// invoke a callback and suppress panics out of caller code
func safeInvoke(callback func()) {
	if callback == nil {
		return
	}
	defer func() {
		recover()
	}()
	callback()
}
