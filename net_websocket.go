package wsession

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

const DefaultWriteTimeout = time.Second

type (
	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	// WsConnection is a Transport over a single WebSocket connection. Inbound frames are read on
	// a dedicated goroutine and pushed to the receive channel; writes are synchronous.
	WsConnection struct {
		errAdapters              ErrorAdapters
		openConnectionParamsRepo OpenConnectionParamsRepo
		logger                   Logger
		dialer                   *websocket.Dialer
		writeTimeout             time.Duration

		conn    *websocket.Conn
		writeMu sync.Mutex

		closeChan       CloseChan
		closeOnce       sync.Once
		closeReason     error
		closeReasonOnce sync.Once
		closeReasonMu   sync.RWMutex

		recv chan<- Message
	}
)

func NewWebsocketConnection(
	dialer *websocket.Dialer,
	openParamsRepo OpenConnectionParamsRepo,
	logger Logger,
	recvChan chan<- Message,
	errorHandlers ErrorAdapters,
	writeTimeout time.Duration,
) *WsConnection {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &WsConnection{
		errAdapters:              errorHandlers,
		dialer:                   dialer,
		openConnectionParamsRepo: openParamsRepo,
		recv:                     recvChan,
		writeTimeout:             writeTimeout,
		closeChan:                make(CloseChan),
		logger:                   logger.WithField("net", "ws_connection"),
	}
}

func NewWebsocketFactory(
	logger Logger,
	dialer *websocket.Dialer,
	openConnectionParamsRepo OpenConnectionParamsRepo,
	errorHandlers ErrorAdapters,
	writeTimeout time.Duration,
) TransportFactory {
	return func(ctx context.Context, recvChan chan<- Message) Transport {
		return NewWebsocketConnection(
			dialer,
			openConnectionParamsRepo,
			logger,
			recvChan,
			errorHandlers,
			writeTimeout,
		)
	}
}

// Open dials the server. It returns once the handshake completed or failed.
func (w *WsConnection) Open(ctx context.Context) error {
	p, err := w.openConnectionParamsRepo.Get(ctx)
	if err != nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	conn, resp, err := w.dialer.DialContext(ctx, p.URL.String(), p.Header)
	if err = w.handleDialError(conn, resp, err, p); err != nil {
		w.logger.Errorf("connection err to %s: %s", p.URL.String(), err)
		return err
	}

	w.logger.Debugf("success opening connection to %s", p.URL.String())

	w.conn = conn

	// Control frames are surfaced as messages so keep-alive policy lives with the manager.
	conn.SetPingHandler(func(appData string) error {
		w.logger.Debugln("<= [PING]")
		w.deliver(NewPingMessage([]byte(appData)))
		return nil
	})

	conn.SetPongHandler(func(appData string) error {
		w.logger.Debugln("<= [PONG]")
		w.deliver(NewPongMessage([]byte(appData)))
		return nil
	})

	conn.SetCloseHandler(func(code int, text string) error {
		w.logger.Debugf("<= [CLOSE] %d %s", code, text)
		w.deliver(NewCloseMessage(code, []byte(text)))

		w.writeMu.Lock()
		defer w.writeMu.Unlock()
		msg := websocket.FormatCloseMessage(code, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.writeTimeout))
		return nil
	})

	go w.read()

	return nil
}

// Write sends m over the wire, bounded by the write timeout. A failed write closes the
// connection.
func (w *WsConnection) Write(m Message) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	if w.conn == nil || w.isClosed() {
		return errors.Wrap(ErrConnectionClosed, "write on closed connection")
	}

	deadline := time.Now().Add(w.writeTimeout)
	_ = w.conn.SetWriteDeadline(deadline)

	var err error

	switch m.Type {
	case PingMessage:
		w.logger.Debugln("=> [PING]")
		err = w.conn.WriteControl(websocket.PingMessage, m.Data, deadline)
	case PongMessage:
		w.logger.Debugln("=> [PONG]")
		err = w.conn.WriteControl(websocket.PongMessage, m.Data, deadline)
	case CloseMessage:
		w.logger.Debugln("=> [CLOSE]")
		err = w.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(m.Code, string(m.Data)), deadline)
	case BinaryMessage:
		w.logger.Debugf("=> [BIN] %d bytes", len(m.Data))
		err = w.conn.WriteMessage(websocket.BinaryMessage, m.Data)
	default:
		w.logger.Debugf("=> [DATA] %s", m.Data)
		err = w.conn.WriteMessage(websocket.TextMessage, m.Data)
	}

	if err != nil {
		reason := errors.Wrap(ErrConnectionClosed, "error occurred on websocket write: "+err.Error())
		w.setCloseReason(reason)
		w.safeClose()
		return reason
	}

	return nil
}

// Close terminates the WebSocket connection with a normal closure.
func (w *WsConnection) Close() {
	w.setCloseReason(ErrTerminated)

	if w.conn != nil && !w.isClosed() {
		w.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = w.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(w.writeTimeout))
		w.writeMu.Unlock()
	}

	w.safeClose()
}

func (w *WsConnection) CloseChan() CloseChan {
	return w.closeChan
}

func (w *WsConnection) CloseErr() error {
	w.closeReasonMu.RLock()
	defer w.closeReasonMu.RUnlock()

	return w.closeReason
}

func (w *WsConnection) read() {
	defer w.safeClose()

	for {
		messageType, bts, err := w.conn.ReadMessage()
		if err != nil {
			w.setCloseReason(w.readErrReason(err))
			return
		}
		// message types from ReadMessage are either binary or text
		switch messageType {
		case websocket.BinaryMessage:
			w.logger.Debugln("<= [BIN]")
			w.deliver(NewBinaryMessage(bts))
		default:
			w.logger.Debugf("<= [DATA] %s", string(bts))
			w.deliver(NewDataMessage(bts))
		}
	}
}

func (w *WsConnection) readErrReason(err error) error {
	if w.isClosed() {
		return ErrTerminated
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		w.logger.Infoln("connection closed by server")
		return ErrClosedByServer
	}

	w.logger.Errorf("error occurred on websocket read: %s", err)
	return errors.Wrap(ErrConnectionClosed, "error occurred on websocket read: "+err.Error())
}

// deliver hands m to the receiver unless the connection is already closed.
func (w *WsConnection) deliver(m Message) {
	select {
	case w.recv <- m:
	case <-w.closeChan:
	}
}

func (w *WsConnection) isClosed() bool {
	select {
	case <-w.closeChan:
		return true
	default:
		return false
	}
}

func (w *WsConnection) safeClose() {
	w.closeOnce.Do(w.close)
}

func (w *WsConnection) close() {
	close(w.closeChan)
	if w.conn != nil {
		_ = w.conn.Close()
	}
}

func (w *WsConnection) setCloseReason(err error) {
	w.closeReasonOnce.Do(func() {
		w.closeReasonMu.Lock()
		w.closeReason = err
		w.closeReasonMu.Unlock()
	})
}

func (w *WsConnection) handleDialError(
	conn *websocket.Conn,
	resp *http.Response,
	err error,
	p OpenConnectionParams,
) error {
	if w.errAdapters.OnDial != nil {
		return w.errAdapters.OnDial(conn, resp, err)
	}

	if err == nil {
		return nil
	}

	// 1. Check HTTP errors first
	var msg string

	if resp != nil {
		if resp.Body != nil {
			bts, readErr := io.ReadAll(resp.Body)
			if readErr == nil {
				msg = string(bts)
			}
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return errors.Wrap(ErrRateLimit, msg)
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			// Rejected handshakes (auth, not found) do not heal by retrying.
			return WrapErrorUnrecoverableConnection(
				errors.Wrapf(ErrCannotConnect, "handshake rejected with %d: %s", resp.StatusCode, msg),
				p.URL,
			)
		}
	}

	// 2. Network errors
	return errors.Wrap(ErrCannotConnect, err.Error())
}
