package coedit

import (
	"sync"
	"time"
)

// Reconnect spaces out reconnect attempts so that a failing dial does
// not spin. The timeout counts from creation, not from After().
type Reconnect struct {
	timeout time.Duration
	start   time.Time
}

func NewReconnect(timeout time.Duration) *Reconnect {
	return &Reconnect{
		timeout: timeout,
		start:   time.Now(),
	}
}

func (self *Reconnect) After() <-chan time.Time {
	remaining := self.timeout - time.Since(self.start)
	return time.After(remaining)
}

// Monitor notifies any number of waiters that state changed.
// Waiters grab NotifyChannel and select on it. NotifyAll closes the
// current channel and swaps in a new one.
type Monitor struct {
	mutex  sync.Mutex
	update chan struct{}
}

func NewMonitor() *Monitor {
	return &Monitor{
		update: make(chan struct{}),
	}
}

func (self *Monitor) NotifyChannel() <-chan struct{} {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	return self.update
}

func (self *Monitor) NotifyAll() {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	close(self.update)
	self.update = make(chan struct{})
}

// CallbackList makes a copy of the list on update, so that dispatch
// never holds the mutex while calling back.
type CallbackList[T any] struct {
	mutex     sync.Mutex
	nextId    int
	ids       []int
	callbacks []T
}

func (self *CallbackList[T]) get() []T {
	self.mutex.Lock()
	defer self.mutex.Unlock()
	out := make([]T, len(self.callbacks))
	copy(out, self.callbacks)
	return out
}

func (self *CallbackList[T]) add(callback T) int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	callbackId := self.nextId
	self.nextId += 1
	self.ids = append(self.ids, callbackId)
	self.callbacks = append(self.callbacks, callback)
	return callbackId
}

func (self *CallbackList[T]) remove(callbackId int) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for i, id := range self.ids {
		if id == callbackId {
			self.ids = append(self.ids[:i], self.ids[i+1:]...)
			self.callbacks = append(self.callbacks[:i], self.callbacks[i+1:]...)
			return
		}
	}
}
