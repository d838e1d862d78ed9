package wsession

// PassiveKeepAliveHandler reacts to control messages received from the server, typically by
// answering pings. It runs before the message is otherwise handled.
type PassiveKeepAliveHandler func(t Transport, m Message) error

// KeepAliveHandlerReplyPingWithPong answers WebSocket ping control frames with a pong carrying
// the same application data.
func KeepAliveHandlerReplyPingWithPong(t Transport, m Message) error {
	if m.Type == PingMessage {
		return t.Write(NewPongMessage(m.Data))
	}
	return nil
}

// NoopKeepAliveHandler ignores control frames.
func NoopKeepAliveHandler(Transport, Message) error {
	return nil
}
