package wsmsg

import (
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// ClientFrame is a message as exchanged with a gorilla/websocket connection.
type ClientFrame struct {
	Type      int    // websocket.TextMessage .. websocket.PongMessage
	Data      []byte // unused for websocket.CloseMessage
	CloseCode int    // websocket.CloseNoStatusReceived when absent
	CloseText string
}

func FromClientFrame(f ClientFrame) (Message, error) {
	switch f.Type {
	case websocket.TextMessage:
		return Message{Kind: Text, Payload: f.Data}, nil
	case websocket.BinaryMessage:
		return Message{Kind: Binary, Payload: f.Data}, nil
	case websocket.PingMessage:
		return Message{Kind: Ping, Payload: f.Data}, nil
	case websocket.PongMessage:
		return Message{Kind: Pong, Payload: f.Data}, nil
	case websocket.CloseMessage:
		if f.CloseCode == 0 || f.CloseCode == websocket.CloseNoStatusReceived {
			return Message{Kind: Close}, nil
		}
		return Message{Kind: Close, Close: &CloseFrame{Code: uint16(f.CloseCode), Reason: f.CloseText}}, nil
	default:
		return Message{}, errors.Wrapf(ErrUnsupportedMessage, "client frame type %d", f.Type)
	}
}

func ToClientFrame(m Message) (ClientFrame, error) {
	switch m.Kind {
	case Text:
		return ClientFrame{Type: websocket.TextMessage, Data: m.Payload}, nil
	case Binary:
		return ClientFrame{Type: websocket.BinaryMessage, Data: m.Payload}, nil
	case Ping:
		return ClientFrame{Type: websocket.PingMessage, Data: m.Payload}, nil
	case Pong:
		return ClientFrame{Type: websocket.PongMessage, Data: m.Payload}, nil
	case Close:
		if m.Close == nil {
			return ClientFrame{Type: websocket.CloseMessage, CloseCode: websocket.CloseNoStatusReceived}, nil
		}
		return ClientFrame{Type: websocket.CloseMessage, CloseCode: int(m.Close.Code), CloseText: m.Close.Reason}, nil
	default:
		return ClientFrame{}, errors.Wrapf(ErrUnsupportedMessage, "message %s", m.Kind)
	}
}
