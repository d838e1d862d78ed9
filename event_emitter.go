package wsession

import (
	"sync"
)

type callback[T any] func(T)

// eventEmitter maps events (of type K) to sets of listeners receiving values of type V.
// Listeners are identified by a subscription id, not by position, and a key whose set
// becomes empty is removed from the map.
type eventEmitter[K comparable, V any] struct {
	listeners map[K]map[uint64]callback[V]
	nextID    uint64
	lock      sync.RWMutex

	// onPanic is called with the recovered value when a listener panics. Remaining
	// listeners still run.
	onPanic func(event K, recovered any)
}

func newEventEmitter[K comparable, V any](onPanic func(K, any)) *eventEmitter[K, V] {
	return &eventEmitter[K, V]{
		listeners: make(map[K]map[uint64]callback[V]),
		onPanic:   onPanic,
	}
}

// On registers listener for event and returns a function removing it. Calling the returned
// function more than once has no effect.
func (e *eventEmitter[K, V]) On(event K, listener callback[V]) func() {
	e.lock.Lock()
	e.nextID++
	id := e.nextID
	set, ok := e.listeners[event]
	if !ok {
		set = make(map[uint64]callback[V])
		e.listeners[event] = set
	}
	set[id] = listener
	e.lock.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { e.off(event, id) })
	}
}

func (e *eventEmitter[K, V]) off(event K, id uint64) {
	e.lock.Lock()
	defer e.lock.Unlock()

	set, ok := e.listeners[event]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(e.listeners, event)
	}
}

// snapshot copies the listeners currently registered for event.
func (e *eventEmitter[K, V]) snapshot(event K) []callback[V] {
	e.lock.RLock()
	defer e.lock.RUnlock()

	set := e.listeners[event]
	if len(set) == 0 {
		return nil
	}
	out := make([]callback[V], 0, len(set))
	for _, l := range set {
		out = append(out, l)
	}
	return out
}

// Emit synchronously invokes the listeners registered for event when Emit was called. The lock
// is not held while listeners run, so they may subscribe or unsubscribe freely.
func (e *eventEmitter[K, V]) Emit(event K, data V) int {
	listeners := e.snapshot(event)
	for _, listener := range listeners {
		e.invoke(event, listener, data)
	}
	return len(listeners)
}

func (e *eventEmitter[K, V]) invoke(event K, listener callback[V], data V) {
	defer func() {
		if r := recover(); r != nil && e.onPanic != nil {
			e.onPanic(event, r)
		}
	}()
	listener(data)
}

// Len returns the number of events with at least one listener.
func (e *eventEmitter[K, V]) Len() int {
	e.lock.RLock()
	defer e.lock.RUnlock()

	return len(e.listeners)
}

// Close removes all listeners.
func (e *eventEmitter[K, V]) Close() {
	e.lock.Lock()
	defer e.lock.Unlock()

	e.listeners = make(map[K]map[uint64]callback[V])
}
