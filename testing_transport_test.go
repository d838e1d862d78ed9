package wsession

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
)

// fakeTransport is an in-memory Transport. Tests push inbound frames and inspect writes.
type fakeTransport struct {
	recv chan<- Message

	openErr  error
	openGate chan struct{}

	mu       sync.Mutex
	writes   []Message
	writeErr error
	opened   bool

	closeC    CloseChan
	closeOnce sync.Once
	closeErr  error
}

func (f *fakeTransport) Open(ctx context.Context) error {
	if f.openGate != nil {
		select {
		case <-f.openGate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.openErr != nil {
		return f.openErr
	}

	f.mu.Lock()
	f.opened = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Write(m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	select {
	case <-f.closeC:
		return errors.Wrap(ErrConnectionClosed, "write on closed connection")
	default:
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, m)
	return nil
}

func (f *fakeTransport) Close() {
	f.closeWith(ErrTerminated)
}

func (f *fakeTransport) CloseErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closeErr
}

func (f *fakeTransport) CloseChan() CloseChan {
	return f.closeC
}

func (f *fakeTransport) closeWith(reason error) {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closeErr = reason
		f.mu.Unlock()
		close(f.closeC)
	})
}

// drop simulates the network going away.
func (f *fakeTransport) drop() {
	f.closeWith(errors.Wrap(ErrConnectionClosed, "connection reset by peer"))
}

func (f *fakeTransport) push(raw string) {
	f.recv <- NewDataMessage([]byte(raw))
}

func (f *fakeTransport) pushFrame(eventType string, payload any) {
	bts, err := json.Marshal(map[string]any{"type": eventType, "payload": payload})
	if err != nil {
		panic(err)
	}
	f.recv <- NewDataMessage(bts)
}

func (f *fakeTransport) failWrites(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) isOpened() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.opened
}

// frames decodes every data message written so far.
func (f *fakeTransport) frames() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Frame
	for _, m := range f.writes {
		if !m.Type.IsData() {
			continue
		}
		fr, err := DecodeFrame(m.Data)
		if err != nil {
			panic(err)
		}
		out = append(out, fr)
	}
	return out
}

func (f *fakeTransport) framesOfType(eventType string) []Frame {
	var out []Frame
	for _, fr := range f.frames() {
		if fr.Type == eventType {
			out = append(out, fr)
		}
	}
	return out
}

func (f *fakeTransport) controlWrites() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []Message
	for _, m := range f.writes {
		if m.Type.IsControl() {
			out = append(out, m)
		}
	}
	return out
}

// fakeNetwork is a TransportFactory handing out fakeTransports. Dial outcomes are scripted with
// failNext and gateNext.
type fakeNetwork struct {
	mu         sync.Mutex
	transports []*fakeTransport
	openErrs   []error
	gates      []chan struct{}
}

func (n *fakeNetwork) factory() TransportFactory {
	return func(_ context.Context, recv chan<- Message) Transport {
		n.mu.Lock()
		defer n.mu.Unlock()

		t := &fakeTransport{recv: recv, closeC: make(CloseChan)}
		if len(n.openErrs) > 0 {
			t.openErr = n.openErrs[0]
			n.openErrs = n.openErrs[1:]
		}
		if len(n.gates) > 0 {
			t.openGate = n.gates[0]
			n.gates = n.gates[1:]
		}
		n.transports = append(n.transports, t)
		return t
	}
}

// failNext makes the next len(errs) dials fail with errs, in order.
func (n *fakeNetwork) failNext(errs ...error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.openErrs = append(n.openErrs, errs...)
}

// gateNext blocks the next dial until the returned channel is closed.
func (n *fakeNetwork) gateNext() chan struct{} {
	n.mu.Lock()
	defer n.mu.Unlock()

	gate := make(chan struct{})
	n.gates = append(n.gates, gate)
	return gate
}

func (n *fakeNetwork) dials() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.transports)
}

func (n *fakeNetwork) last() *fakeTransport {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.transports) == 0 {
		return nil
	}
	return n.transports[len(n.transports)-1]
}
