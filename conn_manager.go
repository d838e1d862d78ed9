package wsession

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

const recvBufferSize = 64

// Option customizes a Manager at construction.
type Option func(*Manager)

func WithLogger(logger Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithTransportFactory replaces the default WebSocket transport.
func WithTransportFactory(factory TransportFactory) Option {
	return func(m *Manager) {
		m.factory = factory
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithBackoff replaces the exponential backoff derived from Options.
func WithBackoff(calculator BackoffCalculator) Option {
	return func(m *Manager) {
		if calculator != nil {
			m.backoff = calculator
		}
	}
}

// WithPassiveKeepAlive sets how WebSocket control frames from the server are answered. The
// default replies to pings with pongs.
func WithPassiveKeepAlive(handler PassiveKeepAliveHandler) Option {
	return func(m *Manager) {
		if handler != nil {
			m.keepAlive = handler
		}
	}
}

// Manager keeps one logical session with the server alive across physical disconnects. It owns
// the transport, drives the connection state machine, replays queued sends after reconnecting
// and dispatches inbound frames to subscribers. It is safe for concurrent use.
type Manager struct {
	opts      Options
	logger    Logger
	metrics   *Metrics
	backoff   BackoffCalculator
	factory   TransportFactory
	keepAlive PassiveKeepAliveHandler

	queue      *messageQueue
	dispatcher *Dispatcher
	heartbeat  *heartbeat
	watchers   *eventEmitter[struct{}, StatusChange]

	mu sync.Mutex
	// generation changes whenever a transport, dial or retry timer is superseded, so late
	// callbacks from them can tell they are stale.
	generation  uint64
	record      ConnectionRecord
	transport   Transport
	retryTimer  *time.Timer
	cancelDial  context.CancelFunc
	sessionCtx  context.Context
	sessionStop chan struct{}
	// closing and pending are flushed by unlock, outside mu.
	closing []Transport
	pending []StatusChange

	notifyMu sync.Mutex
}

// New validates opts and builds a disconnected Manager.
func New(opts Options, fns ...Option) (*Manager, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		opts:      opts,
		logger:    NopLogger(),
		backoff:   opts.backoff().Calculator(),
		keepAlive: KeepAliveHandlerReplyPingWithPong,
		record:    ConnectionRecord{Status: StateDisconnected},
	}

	for _, fn := range fns {
		fn(m)
	}

	m.logger = m.logger.WithField("type", "conn_manager")
	m.queue = newMessageQueue(m.logger, opts.MaxQueueSize, m.metrics)
	m.dispatcher = NewDispatcher(m.logger, m.metrics)
	m.heartbeat = newHeartbeat(m.logger, opts.HeartbeatInterval, m.metrics)
	m.watchers = newEventEmitter[struct{}, StatusChange](func(_ struct{}, r any) {
		m.logger.Errorf("status watcher panicked: %v", r)
	})
	m.metrics.setState(StateDisconnected)

	if m.factory == nil {
		factory, err := defaultTransportFactory(m.logger, opts)
		if err != nil {
			return nil, err
		}
		m.factory = factory
	}

	return m, nil
}

func defaultTransportFactory(logger Logger, opts Options) (TransportFactory, error) {
	getter, err := StaticOpenConnectionParams(opts.URL, opts.Header)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidOptions, err.Error())
	}

	handshakeTimeout := opts.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = DefaultHandshakeTimeout
	}

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}

	return NewWebsocketFactory(
		logger,
		dialer,
		NewOpenConnectionParamsRepo(logger, getter),
		ErrorAdapters{},
		opts.WriteTimeout,
	), nil
}

// Connect starts the session. ctx bounds its lifetime: once done, the manager disconnects.
// Connect is a no-op while connecting, connected or reconnecting.
func (m *Manager) Connect(ctx context.Context) {
	m.mu.Lock()
	defer m.unlock()

	if m.record.Status.active() {
		m.logger.Debugf("connect ignored, already %s", m.record.Status)
		return
	}

	m.bindSessionLocked(ctx)
	m.record.ReconnectAttempts = 0
	m.record.Error = ""
	m.openLocked()
}

// Disconnect closes the session cleanly. No reconnect follows and pending retries are cancelled.
// Queued messages are kept for the next session.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	defer m.unlock()

	m.disconnectLocked()
}

// Reconnect forces a fresh connection cycle from any state, bypassing any remaining backoff and
// resetting the attempt counter. The session stays bound to the context given to Connect unless
// that context is already done.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	defer m.unlock()

	m.logger.Infoln("reconnect requested")

	m.stopRetryLocked()
	m.cancelDialLocked()
	m.dropTransportLocked()

	// a clean close or Disconnect stops the context watcher but keeps the context from Connect
	if m.sessionStop == nil {
		ctx := m.sessionCtx
		if ctx == nil || ctx.Err() != nil {
			ctx = context.Background()
		}
		m.bindSessionLocked(ctx)
	}

	m.record.ReconnectAttempts = 0
	m.record.Error = ""
	m.openLocked()
}

// Send writes a frame of eventType immediately when connected. Otherwise the frame is queued for
// replay on the next successful open, in call order. The returned error only reports that the
// message was dropped (ErrQueueFull, ErrQueueDisabled) or could not be encoded; transport
// failures are handled internally.
func (m *Manager) Send(eventType string, payload any) error {
	f, err := NewFrame(eventType, payload)
	if err != nil {
		m.logger.Errorf("cannot send %q: %s", eventType, err)
		return err
	}

	m.mu.Lock()
	defer m.unlock()

	var retries uint
	if m.connectedLocked() {
		if err := m.writeFrameLocked(f); err == nil {
			return nil
		}
		retries = 1
	}

	if !m.opts.EnableMessageQueue {
		m.logger.Warnf("not connected and queue disabled, dropping %q message", eventType)
		return ErrQueueDisabled
	}

	qm := newQueuedMessage(f, time.Now())
	qm.Retries = retries
	if !m.queue.Enqueue(qm) {
		return ErrQueueFull
	}

	m.logger.Debugf("queued %q message %s (%d queued)", eventType, qm.ID, m.queue.Size())
	return nil
}

// ClearQueue drops every message waiting for replay.
func (m *Manager) ClearQueue() {
	m.queue.Clear()
}

// Close disconnects and releases the manager: queued messages are dropped and every subscriber
// and watcher is removed. The manager can be connected again afterwards.
func (m *Manager) Close() {
	m.Disconnect()

	m.queue.Clear()
	m.dispatcher.Close()
	m.watchers.Close()
}

// Subscribe registers h for frames of eventType, or every frame with Wildcard.
func (m *Manager) Subscribe(eventType string, h Handler) func() {
	return m.dispatcher.Subscribe(eventType, h)
}

// Watch registers fn to be called, in order, with every status transition. fn may call back
// into the manager.
func (m *Manager) Watch(fn func(StatusChange)) func() {
	if fn == nil {
		return func() {}
	}
	return m.watchers.On(struct{}{}, fn)
}

// Status returns a snapshot of the connection record.
func (m *Manager) Status() ConnectionRecord {
	m.mu.Lock()
	r := m.record
	m.mu.Unlock()

	r.QueuedMessages = m.queue.Size()
	return r
}

// ConnectionID is the server-assigned identifier of the live session, empty when not connected.
func (m *Manager) ConnectionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.record.ConnectionID
}

func (m *Manager) QueuedMessageCount() int {
	return m.queue.Size()
}

// bindSessionLocked ties the session lifetime to ctx.
func (m *Manager) bindSessionLocked(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	m.stopSessionLocked()
	m.sessionCtx = ctx

	if ctx.Done() == nil {
		return
	}

	stop := make(chan struct{})
	m.sessionStop = stop

	go func() {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			defer m.unlock()
			if m.sessionStop != stop {
				return
			}
			m.logger.Infof("session context done: %s", ctx.Err())
			m.disconnectLocked()
		case <-stop:
		}
	}()
}

func (m *Manager) stopSessionLocked() {
	if m.sessionStop != nil {
		close(m.sessionStop)
		m.sessionStop = nil
	}
}

func (m *Manager) disconnectLocked() {
	m.stopSessionLocked()
	m.stopRetryLocked()
	m.cancelDialLocked()
	m.dropTransportLocked()

	m.record.Error = ""
	m.setStatusLocked(StateDisconnected)
}

// openLocked starts dialing a new transport.
func (m *Manager) openLocked() {
	m.generation++
	gen := m.generation

	m.stopRetryLocked()
	m.cancelDialLocked()
	m.setStatusLocked(StateConnecting)

	parent := m.sessionCtx
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancelDial = cancel

	recv := make(chan Message, recvBufferSize)
	t := m.factory(ctx, recv)

	go m.open(ctx, gen, t, recv)
}

func (m *Manager) open(ctx context.Context, gen uint64, t Transport, recv chan Message) {
	err := t.Open(ctx)

	m.mu.Lock()
	defer m.unlock()

	if gen != m.generation {
		m.logger.Debugln("discarding superseded connection attempt")
		m.closing = append(m.closing, t)
		return
	}

	if err != nil {
		m.cancelDialLocked()
		m.closing = append(m.closing, t)

		var unrecoverable *ErrUnrecoverableConnection
		if errors.As(err, &unrecoverable) {
			m.logger.Errorf("cannot connect, giving up: %s", err)
			m.record.Error = err.Error()
			m.setStatusLocked(StateError)
			return
		}

		m.logger.Warnf("cannot connect: %s", err)
		m.scheduleRetryLocked(err)
		return
	}

	m.transport = t
	m.record.ReconnectAttempts = 0
	m.record.LastConnectedAt = timePtr(time.Now())
	m.record.Error = ""
	m.setStatusLocked(StateConnected)

	go m.pump(gen, t, recv)

	m.heartbeat.Start(m.connected, m.probe)
	m.flushLocked()
}

// pump feeds inbound messages of one transport to the manager until it closes.
func (m *Manager) pump(gen uint64, t Transport, recv <-chan Message) {
	closeC := t.CloseChan()

	for {
		select {
		case msg := <-recv:
			m.handleMessage(gen, t, msg)
		case <-closeC:
			m.drain(gen, t, recv)
			m.handleClose(gen, t)
			return
		}
	}
}

// drain handles messages received before the transport reported its close.
func (m *Manager) drain(gen uint64, t Transport, recv <-chan Message) {
	for {
		select {
		case msg := <-recv:
			m.handleMessage(gen, t, msg)
		default:
			return
		}
	}
}

func (m *Manager) handleClose(gen uint64, t Transport) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.generation || m.transport != t {
		return
	}

	reason := t.CloseErr()
	m.dropTransportLocked()

	if isCleanClose(reason) {
		m.logger.Infof("connection closed cleanly: %v", reason)
		m.stopSessionLocked()
		m.cancelDialLocked()
		m.setStatusLocked(StateDisconnected)
		return
	}

	m.logger.Warnf("connection lost: %s", reason)
	m.scheduleRetryLocked(reason)
}

func (m *Manager) handleMessage(gen uint64, t Transport, msg Message) {
	if !m.isCurrent(gen) {
		return
	}

	if msg.Type.IsControl() {
		if msg.Type == CloseMessage {
			m.logger.Infof("server sent close %d: %s", msg.Code, msg.Data)
			return
		}
		if err := m.keepAlive(t, msg); err != nil {
			m.mu.Lock()
			defer m.unlock()
			if m.transport == t {
				m.connectionLostLocked(err)
			}
		}
		return
	}

	f, err := DecodeFrame(msg.Data)
	if err != nil {
		m.metrics.decodeError()
		m.logger.Warnf("discarding malformed frame: %s", err)
		return
	}

	switch f.Type {
	case FramePong:
		m.metrics.frameReceived("pong")
		m.mu.Lock()
		if m.transport == t {
			m.record.LastHeartbeatAckAt = timePtr(time.Now())
		}
		m.mu.Unlock()
		return
	case FramePing:
		m.metrics.frameReceived("ping")
		m.mu.Lock()
		defer m.unlock()
		if m.transport == t {
			_ = m.writeFrameLocked(Frame{Type: FramePong, Payload: emptyPayload})
		}
		return
	case FrameConnected:
		m.metrics.frameReceived("connected")
		var p connectedPayload
		if err := f.Decode(&p); err != nil || p.ConnectionID == "" {
			m.logger.Warnf("connected frame without connection id: %s", f.Payload)
		} else {
			m.mu.Lock()
			if m.transport == t {
				m.record.ConnectionID = p.ConnectionID
			}
			m.mu.Unlock()
			m.logger.Infof("session established with connection id %s", p.ConnectionID)
		}
	default:
		m.metrics.frameReceived("event")
	}

	m.dispatcher.Dispatch(f)
}

// probe is the heartbeat's liveness write.
func (m *Manager) probe() error {
	m.mu.Lock()
	defer m.unlock()

	if !m.connectedLocked() {
		return ErrNotConnected
	}
	return m.writeFrameLocked(Frame{Type: FramePing, Payload: emptyPayload})
}

func (m *Manager) connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.connectedLocked()
}

func (m *Manager) connectedLocked() bool {
	return m.transport != nil && m.record.Status == StateConnected
}

func (m *Manager) isCurrent(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return gen == m.generation
}

// flushLocked replays queued messages in enqueue order. On the first failed write, that message
// and the ones after it go back to the head of the queue.
func (m *Manager) flushLocked() {
	msgs := m.queue.DrainAll()
	if len(msgs) == 0 {
		return
	}

	m.logger.Infof("flushing %d queued messages", len(msgs))

	for i, qm := range msgs {
		data, err := qm.frame().Encode()
		if err != nil {
			m.logger.Errorf("dropping queued %q message %s: %s", qm.Type, qm.ID, err)
			continue
		}
		if err := m.writeLocked(data); err != nil {
			msgs[i].Retries++
			m.queue.requeue(msgs[i:])
			return
		}
	}
}

func (m *Manager) writeFrameLocked(f Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	return m.writeLocked(data)
}

// writeLocked writes data on the open transport. A failed write is treated as an abnormal close.
func (m *Manager) writeLocked(data []byte) error {
	if !m.connectedLocked() {
		return ErrNotConnected
	}

	if err := m.transport.Write(NewDataMessage(data)); err != nil {
		m.logger.Warnf("write failed, assuming connection is dead: %s", err)
		m.connectionLostLocked(err)
		return err
	}

	m.metrics.frameSent()
	return nil
}

func (m *Manager) connectionLostLocked(cause error) {
	m.dropTransportLocked()
	m.scheduleRetryLocked(cause)
}

// dropTransportLocked detaches the current transport, if any, and schedules it for closing.
func (m *Manager) dropTransportLocked() {
	m.generation++
	m.heartbeat.Stop()

	if m.transport == nil {
		return
	}

	m.closing = append(m.closing, m.transport)
	m.transport = nil
	m.record.ConnectionID = ""
	m.record.LastDisconnectedAt = timePtr(time.Now())
}

// scheduleRetryLocked arms the backoff timer, or enters the error state once attempts are
// exhausted. A MaxReconnectAttempts of zero retries forever.
func (m *Manager) scheduleRetryLocked(cause error) {
	limit := m.opts.MaxReconnectAttempts
	if limit > 0 && m.record.ReconnectAttempts >= limit {
		err := errors.Wrapf(ErrReconnectAttemptsExhausted, "after %d attempts, last error: %v", limit, cause)
		m.logger.Errorln(err)
		m.cancelDialLocked()
		m.record.Error = err.Error()
		m.setStatusLocked(StateError)
		return
	}

	delay := m.backoff(int(m.record.ReconnectAttempts))
	m.record.ReconnectAttempts++
	if cause != nil {
		m.record.Error = cause.Error()
	}
	m.setStatusLocked(StateReconnecting)
	m.metrics.reconnectScheduled()

	m.logger.Infof("retrying to connect after %s (attempt %d) due to %v", delay, m.record.ReconnectAttempts, cause)

	gen := m.generation
	m.stopRetryLocked()
	m.retryTimer = time.AfterFunc(delay, func() {
		m.retry(gen)
	})
}

func (m *Manager) retry(gen uint64) {
	m.mu.Lock()
	defer m.unlock()

	if gen != m.generation || m.record.Status != StateReconnecting {
		return
	}

	m.retryTimer = nil
	m.openLocked()
}

func (m *Manager) stopRetryLocked() {
	if m.retryTimer != nil {
		m.retryTimer.Stop()
		m.retryTimer = nil
	}
}

func (m *Manager) cancelDialLocked() {
	if m.cancelDial != nil {
		m.cancelDial()
		m.cancelDial = nil
	}
}

func (m *Manager) setStatusLocked(s ConnectionState) {
	from := m.record.Status
	if from == s {
		return
	}

	m.record.Status = s
	m.metrics.setState(s)
	m.logger.Debugf("status %s -> %s", from, s)

	rec := m.record
	rec.QueuedMessages = m.queue.Size()
	m.pending = append(m.pending, StatusChange{From: from, To: s, Record: rec})
}

// unlock releases mu, then closes detached transports and notifies watchers without holding it.
func (m *Manager) unlock() {
	closing := m.closing
	m.closing = nil
	m.mu.Unlock()

	for _, t := range closing {
		t.Close()
	}

	m.notify()
}

// notify delivers pending status changes in order. A watcher calling back into the manager
// finds notifyMu taken and leaves its changes to the goroutine already delivering.
func (m *Manager) notify() {
	for {
		if !m.notifyMu.TryLock() {
			return
		}

		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		m.mu.Unlock()

		for _, change := range batch {
			m.watchers.Emit(struct{}{}, change)
		}

		m.notifyMu.Unlock()

		m.mu.Lock()
		more := len(m.pending) > 0
		m.mu.Unlock()

		if !more {
			return
		}
	}
}
