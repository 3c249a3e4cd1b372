package wsmsg

import (
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pkg/errors"
)

// FromUpstreamFrame converts a message read with gobwas/ws. Continuation frames
// are never reassembled here and yield ErrUnsupportedMessage.
func FromUpstreamFrame(f wsutil.Message) (Message, error) {
	switch f.OpCode {
	case ws.OpText:
		return Message{Kind: Text, Payload: f.Payload}, nil
	case ws.OpBinary:
		return Message{Kind: Binary, Payload: f.Payload}, nil
	case ws.OpPing:
		return Message{Kind: Ping, Payload: f.Payload}, nil
	case ws.OpPong:
		return Message{Kind: Pong, Payload: f.Payload}, nil
	case ws.OpClose:
		if len(f.Payload) < 2 {
			return Message{Kind: Close}, nil
		}
		code, reason := ws.ParseCloseFrameData(f.Payload)
		return Message{Kind: Close, Close: &CloseFrame{Code: uint16(code), Reason: reason}}, nil
	case ws.OpContinuation:
		return Message{}, errors.Wrap(ErrUnsupportedMessage, "raw continuation frame")
	default:
		return Message{}, errors.Wrapf(ErrUnsupportedMessage, "upstream opcode %#x", byte(f.OpCode))
	}
}

func ToUpstreamFrame(m Message) (wsutil.Message, error) {
	switch m.Kind {
	case Text:
		return wsutil.Message{OpCode: ws.OpText, Payload: m.Payload}, nil
	case Binary:
		return wsutil.Message{OpCode: ws.OpBinary, Payload: m.Payload}, nil
	case Ping:
		return wsutil.Message{OpCode: ws.OpPing, Payload: m.Payload}, nil
	case Pong:
		return wsutil.Message{OpCode: ws.OpPong, Payload: m.Payload}, nil
	case Close:
		if m.Close == nil {
			return wsutil.Message{OpCode: ws.OpClose}, nil
		}
		return wsutil.Message{OpCode: ws.OpClose, Payload: ws.NewCloseFrameBody(ws.StatusCode(m.Close.Code), m.Close.Reason)}, nil
	default:
		return wsutil.Message{}, errors.Wrapf(ErrUnsupportedMessage, "message %s", m.Kind)
	}
}
