package bridge

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws/wsutil"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/fabian4/devproxy/internal/wsmsg"
)

// Stream is one side of a bridge session. Receive returns io.EOF once the
// peer has gone away. Receive and Send are each called from a single goroutine.
type Stream interface {
	Receive() (wsmsg.Message, error)
	Send(wsmsg.Message) error
	Close() error
}

// ClientStream adapts an accepted gorilla/websocket connection.
type ClientStream struct {
	conn      *websocket.Conn
	writeWait time.Duration
	frames    chan clientRead
	done      chan struct{}
	closeOnce sync.Once
}

type clientRead struct {
	frame wsmsg.ClientFrame
	err   error
}

var _ Stream = (*ClientStream)(nil)

// NewClientStream takes over the control handlers of conn so that ping, pong
// and close frames are relayed instead of answered locally. Reading starts
// immediately.
func NewClientStream(conn *websocket.Conn, writeWait time.Duration) *ClientStream {
	s := &ClientStream{
		conn:      conn,
		writeWait: writeWait,
		frames:    make(chan clientRead, 16),
		done:      make(chan struct{}),
	}
	// handlers run on the read loop, so control frames keep their place
	// between data messages
	conn.SetPingHandler(func(data string) error {
		s.push(clientRead{frame: wsmsg.ClientFrame{Type: websocket.PingMessage, Data: []byte(data)}})
		return nil
	})
	conn.SetPongHandler(func(data string) error {
		s.push(clientRead{frame: wsmsg.ClientFrame{Type: websocket.PongMessage, Data: []byte(data)}})
		return nil
	})
	conn.SetCloseHandler(func(code int, text string) error {
		s.push(clientRead{frame: wsmsg.ClientFrame{Type: websocket.CloseMessage, CloseCode: code, CloseText: text}})
		return nil
	})
	go s.readLoop()
	return s
}

func (s *ClientStream) push(r clientRead) bool {
	select {
	case s.frames <- r:
		return true
	case <-s.done:
		return false
	}
}

func (s *ClientStream) readLoop() {
	defer close(s.frames)
	for {
		typ, data, err := s.conn.ReadMessage()
		if err != nil {
			s.push(clientRead{err: clientReadError(err)})
			return
		}
		if !s.push(clientRead{frame: wsmsg.ClientFrame{Type: typ, Data: data}}) {
			return
		}
	}
}

func (s *ClientStream) Receive() (wsmsg.Message, error) {
	r, ok := <-s.frames
	if !ok {
		return wsmsg.Message{}, io.EOF
	}
	if r.err != nil {
		return wsmsg.Message{}, r.err
	}
	return wsmsg.FromClientFrame(r.frame)
}

func (s *ClientStream) Send(m wsmsg.Message) error {
	f, err := wsmsg.ToClientFrame(m)
	if err != nil {
		return err
	}
	switch f.Type {
	case websocket.TextMessage, websocket.BinaryMessage:
		return s.conn.WriteMessage(f.Type, f.Data)
	case websocket.CloseMessage:
		return s.conn.WriteControl(f.Type, websocket.FormatCloseMessage(f.CloseCode, f.CloseText), time.Now().Add(s.writeWait))
	default:
		return s.conn.WriteControl(f.Type, f.Data, time.Now().Add(s.writeWait))
	}
}

func (s *ClientStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return s.conn.Close()
}

func clientReadError(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		// includes 1006 for a dropped TCP connection
		return io.EOF
	}
	return errors.Wrap(err, "read client")
}

// UpstreamStream adapts a connection dialed with gobwas/ws.
type UpstreamStream struct {
	conn    net.Conn
	r       io.Reader
	pending []wsutil.Message
	err     error
}

var _ Stream = (*UpstreamStream)(nil)

// NewUpstreamStream wraps the results of ws.Dialer.Dial. br may be nil.
func NewUpstreamStream(conn net.Conn, br *bufio.Reader) *UpstreamStream {
	s := &UpstreamStream{conn: conn, r: conn}
	if br != nil {
		s.r = br
	}
	return s
}

func (s *UpstreamStream) Receive() (wsmsg.Message, error) {
	for len(s.pending) == 0 {
		if s.err != nil {
			return wsmsg.Message{}, s.err
		}
		msgs, err := wsutil.ReadServerMessage(s.r, nil)
		s.pending = append(s.pending, msgs...)
		if err != nil {
			s.err = upstreamReadError(err)
		}
	}
	f := s.pending[0]
	s.pending = s.pending[1:]
	return wsmsg.FromUpstreamFrame(f)
}

func (s *UpstreamStream) Send(m wsmsg.Message) error {
	f, err := wsmsg.ToUpstreamFrame(m)
	if err != nil {
		return err
	}
	return wsutil.WriteClientMessage(s.conn, f.OpCode, f.Payload)
}

func (s *UpstreamStream) Close() error { return s.conn.Close() }

func upstreamReadError(err error) error {
	if errors.Is(err, io.EOF) {
		return io.EOF
	}
	return errors.Wrap(err, "read upstream")
}
