package wsession

import (
	"fmt"
)

// Handler receives a dispatched frame. Handlers registered under Wildcard see every frame and can
// inspect its Type.
type Handler func(Frame)

// Subscriber is the subscription half of the Client contract.
type Subscriber interface {
	Subscribe(eventType string, h Handler) (unsubscribe func())
}

// Dispatcher routes inbound frames to the handlers registered for their type, then to the
// wildcard handlers. Handler order within a type is unspecified.
type Dispatcher struct {
	emitter *eventEmitter[string, Frame]
	logger  Logger
	metrics *Metrics
}

func NewDispatcher(logger Logger, metrics *Metrics) *Dispatcher {
	d := &Dispatcher{
		logger:  logger.WithField("component", "dispatcher"),
		metrics: metrics,
	}
	d.emitter = newEventEmitter[string, Frame](d.recovered)
	return d
}

// Subscribe registers h for eventType. The returned function unsubscribes and is idempotent.
func (d *Dispatcher) Subscribe(eventType string, h Handler) func() {
	if h == nil {
		return func() {}
	}
	return d.emitter.On(eventType, callback[Frame](h))
}

// Dispatch delivers f to exact-type handlers and then to wildcard handlers, both as registered
// when Dispatch was called. It returns how many handlers were invoked. A panicking handler is
// logged and does not affect the others.
func (d *Dispatcher) Dispatch(f Frame) int {
	exact := d.emitter.snapshot(f.Type)
	var wildcard []callback[Frame]
	if f.Type != Wildcard {
		wildcard = d.emitter.snapshot(Wildcard)
	}

	for _, h := range exact {
		d.emitter.invoke(f.Type, h, f)
	}
	for _, h := range wildcard {
		d.emitter.invoke(Wildcard, h, f)
	}
	return len(exact) + len(wildcard)
}

// Close removes every handler.
func (d *Dispatcher) Close() {
	d.emitter.Close()
}

func (d *Dispatcher) recovered(eventType string, r any) {
	d.metrics.handlerPanicked()
	d.logger.Errorf("handler for %q panicked: %s", eventType, fmt.Sprint(r))
}

// SubscribeJSON subscribes to eventType decoding each payload into T. Frames whose payload does
// not decode into T are logged and skipped when s is a *Manager or *Dispatcher.
func SubscribeJSON[T any](s Subscriber, eventType string, fn func(T)) func() {
	var log Logger = NopLogger()
	switch v := s.(type) {
	case *Dispatcher:
		log = v.logger
	case *Manager:
		log = v.dispatcher.logger
	}

	return s.Subscribe(eventType, func(f Frame) {
		var payload T
		if err := f.Decode(&payload); err != nil {
			log.Warnf("cannot decode %q payload: %s", f.Type, err)
			return
		}
		fn(payload)
	})
}
