// Package wsmsg defines the transport-neutral websocket message relayed by the
// bridge and the explicit mappings to and from each transport's representation.
package wsmsg

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnsupportedMessage is returned for frames that have no Message equivalent,
// such as raw continuation frames. Callers must treat it as fatal to the session.
var ErrUnsupportedMessage = errors.New("wsmsg: unsupported message variant")

type Kind uint8

const (
	Text Kind = iota + 1
	Binary
	Ping
	Pong
	Close
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Binary:
		return "binary"
	case Ping:
		return "ping"
	case Pong:
		return "pong"
	case Close:
		return "close"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// CloseFrame is the status carried by a close message.
type CloseFrame struct {
	Code   uint16
	Reason string
}

// Message is one complete websocket message.
type Message struct {
	Kind    Kind
	Payload []byte      // text, binary, ping and pong
	Close   *CloseFrame // close only; nil when the peer sent no status
}

func NewText(s string) Message { return Message{Kind: Text, Payload: []byte(s)} }
func NewBinary(b []byte) Message { return Message{Kind: Binary, Payload: b} }
func NewPing(b []byte) Message { return Message{Kind: Ping, Payload: b} }
func NewPong(b []byte) Message { return Message{Kind: Pong, Payload: b} }
func NewClose(f *CloseFrame) Message { return Message{Kind: Close, Close: f} }

func (m Message) String() string {
	if m.Kind == Close {
		if m.Close == nil {
			return "close()"
		}
		return fmt.Sprintf("close(%d, %q)", m.Close.Code, m.Close.Reason)
	}
	return fmt.Sprintf("%s(%d bytes)", m.Kind, len(m.Payload))
}
