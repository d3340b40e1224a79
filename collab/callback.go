package collab

import (
	"sync"
)

// makes a copy of the list on update so that `get` can be iterated without the lock
type callbackList[T any] struct {
	mutex     sync.Mutex
	nextId    int
	ids       []int
	callbacks []T
}

// returns a function that removes the callback
func (self *callbackList[T]) add(callback T) func() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	id := self.nextId
	self.nextId += 1

	nextIds := make([]int, 0, len(self.ids)+1)
	nextIds = append(nextIds, self.ids...)
	nextIds = append(nextIds, id)
	nextCallbacks := make([]T, 0, len(self.callbacks)+1)
	nextCallbacks = append(nextCallbacks, self.callbacks...)
	nextCallbacks = append(nextCallbacks, callback)
	self.ids = nextIds
	self.callbacks = nextCallbacks

	return func() {
		self.remove(id)
	}
}

func (self *callbackList[T]) remove(id int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for i, callbackId := range self.ids {
		if callbackId == id {
			nextIds := make([]int, 0, len(self.ids)-1)
			nextIds = append(nextIds, self.ids[:i]...)
			nextIds = append(nextIds, self.ids[i+1:]...)
			nextCallbacks := make([]T, 0, len(self.callbacks)-1)
			nextCallbacks = append(nextCallbacks, self.callbacks[:i]...)
			nextCallbacks = append(nextCallbacks, self.callbacks[i+1:]...)
			self.ids = nextIds
			self.callbacks = nextCallbacks
			return
		}
	}
}

func (self *callbackList[T]) get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.callbacks
}
