package wsession

import "fmt"

// MessageType mirrors the WebSocket opcode of a raw transport message.
type MessageType byte

const (
	DataMessage   MessageType = 1
	BinaryMessage MessageType = 2
	CloseMessage  MessageType = 8
	PingMessage   MessageType = 9
	PongMessage   MessageType = 10
)

// IsData reports whether the message carries an application frame, either text or binary.
func (t MessageType) IsData() bool {
	return t == DataMessage || t == BinaryMessage
}

func (t MessageType) IsControl() bool {
	return t == PingMessage || t == PongMessage || t == CloseMessage
}

func (t MessageType) String() string {
	switch t {
	case DataMessage:
		return "DATA"
	case BinaryMessage:
		return "BIN"
	case CloseMessage:
		return "CLOSE"
	case PingMessage:
		return "PING"
	case PongMessage:
		return "PONG"
	default:
		return fmt.Sprintf("OP(%d)", byte(t))
	}
}

// Message is one raw unit exchanged with a Transport, before envelope decoding.
// Code is only meaningful for CloseMessage.
type Message struct {
	Type MessageType
	Data []byte
	Code int
}

func (m Message) String() string {
	if m.Type == CloseMessage {
		return fmt.Sprintf("Message{type=%s,code=%d,data=%s}", m.Type, m.Code, m.Data)
	}
	return fmt.Sprintf("Message{type=%s,data=%s}", m.Type, m.Data)
}

func NewDataMessage(data []byte) Message {
	return Message{Type: DataMessage, Data: data}
}

func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}

func NewPingMessage(data []byte) Message {
	return Message{Type: PingMessage, Data: data}
}

func NewPongMessage(data []byte) Message {
	return Message{Type: PongMessage, Data: data}
}

func NewCloseMessage(code int, data []byte) Message {
	return Message{Type: CloseMessage, Data: data, Code: code}
}
